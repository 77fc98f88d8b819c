package series

import (
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/semibank/smartfarm/errors"
	"github.com/semibank/smartfarm/pkg/timestamp"
)

// DefaultMaxPoints bounds each series' retained history.
const DefaultMaxPoints = 1000

// MutateFunc is called after every successful store mutation. The engine
// wires its debounced snapshot scheduler through it.
type MutateFunc func()

// HistoryStore holds a bounded, append-only point buffer per series.
// Oldest points are evicted first once a series exceeds the retention
// bound, so after every Append each series holds at most maxPoints of the
// most recently accepted samples in arrival order.
type HistoryStore struct {
	mu        sync.RWMutex
	histories map[string][]DataPoint
	maxPoints int
	onMutate  MutateFunc

	// nowFn is swappable for deterministic tests.
	nowFn func() int64
}

// Option configures a HistoryStore.
type Option func(*HistoryStore)

// WithMaxPoints overrides the per-series retention bound.
func WithMaxPoints(n int) Option {
	return func(s *HistoryStore) {
		if n > 0 {
			s.maxPoints = n
		}
	}
}

// WithMutateFunc registers a callback invoked after every mutation.
func WithMutateFunc(fn MutateFunc) Option {
	return func(s *HistoryStore) {
		s.onMutate = fn
	}
}

// withNowFunc overrides the clock. Test hook.
func withNowFunc(fn func() int64) Option {
	return func(s *HistoryStore) {
		s.nowFn = fn
	}
}

// NewHistoryStore creates an empty history store.
func NewHistoryStore(opts ...Option) *HistoryStore {
	s := &HistoryStore{
		histories: make(map[string][]DataPoint),
		maxPoints: DefaultMaxPoints,
		nowFn:     timestamp.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxPoints returns the per-series retention bound.
func (s *HistoryStore) MaxPoints() int {
	return s.maxPoints
}

// Append validates and stores a new sample stamped with the current time.
// Non-finite values are rejected with no state change. Title and unit are
// display metadata carried into snapshots.
func (s *HistoryStore) Append(seriesID string, value float64, status Status, title, unit string) error {
	if seriesID == "" {
		return errors.WrapInvalid(errors.ErrUnknownSeries, "HistoryStore", "Append", "empty series id")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return errors.WrapInvalid(errors.ErrNonFiniteValue, "HistoryStore", "Append", "validate value")
	}

	point := DataPoint{
		Timestamp: s.nowFn(),
		Value:     value,
		Status:    status,
		SeriesID:  seriesID,
		Title:     title,
		Unit:      unit,
	}

	s.mu.Lock()
	history := append(s.histories[seriesID], point)
	// FIFO eviction keeps the bound invariant: len <= maxPoints always
	// holds after Append returns.
	if overflow := len(history) - s.maxPoints; overflow > 0 {
		history = history[overflow:]
	}
	s.histories[seriesID] = history
	s.mu.Unlock()

	s.notifyMutate()
	return nil
}

// QuerySeries returns a copy of the series' points, restricted to the
// trailing window if windowMs > 0. The read never mutates stored state.
// Points arrive in append order; the result is re-sorted only if a stored
// timestamp is out of order (defensive, out-of-order arrival is possible
// with broker redelivery).
func (s *HistoryStore) QuerySeries(seriesID string, windowMs int64) []DataPoint {
	s.mu.RLock()
	history := s.histories[seriesID]
	result := filterWindow(history, windowMs, s.nowFn())
	s.mu.RUnlock()

	sortIfNeeded(result)
	return result
}

// QueryAll applies the same windowing across every tracked series.
// Series whose window is empty are still present with an empty slice.
func (s *HistoryStore) QueryAll(windowMs int64) map[string][]DataPoint {
	s.mu.RLock()
	now := s.nowFn()
	result := make(map[string][]DataPoint, len(s.histories))
	for id, history := range s.histories {
		result[id] = filterWindow(history, windowMs, now)
	}
	s.mu.RUnlock()

	for _, points := range result {
		sortIfNeeded(points)
	}
	return result
}

// SeriesIDs returns the ids of all series with history, sorted for
// stable iteration.
func (s *HistoryStore) SeriesIDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.histories))
	for id := range s.histories {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of retained points for a series.
func (s *HistoryStore) Len(seriesID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.histories[seriesID])
}

// ClearSeries removes all points for one series. Irreversible.
func (s *HistoryStore) ClearSeries(seriesID string) {
	s.mu.Lock()
	delete(s.histories, seriesID)
	s.mu.Unlock()

	s.notifyMutate()
}

// ClearAll removes all points for every series. Irreversible.
func (s *HistoryStore) ClearAll() {
	s.mu.Lock()
	s.histories = make(map[string][]DataPoint)
	s.mu.Unlock()

	s.notifyMutate()
}

// Snapshot serializes the complete history mapping as a JSON blob.
// The layout round-trips through Restore without loss of numeric
// precision or timestamp value.
func (s *HistoryStore) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, err := json.Marshal(s.histories)
	if err != nil {
		return nil, errors.Wrap(err, "HistoryStore", "Snapshot", "marshal histories")
	}
	return blob, nil
}

// Restore replaces the store's contents from a snapshot blob. A corrupt
// blob leaves the store untouched and returns an invalid-classified error;
// callers treat that as empty history, never as a crash.
func (s *HistoryStore) Restore(blob []byte) error {
	if len(blob) == 0 {
		return nil
	}

	var histories map[string][]DataPoint
	if err := json.Unmarshal(blob, &histories); err != nil {
		return errors.WrapInvalid(errors.ErrSnapshotCorrupt, "HistoryStore", "Restore", "unmarshal snapshot")
	}

	// Normalize what we loaded: unknown statuses default to normal and
	// oversized series are trimmed to the current bound.
	for id, history := range histories {
		for i := range history {
			history[i].Status = ParseStatus(string(history[i].Status))
			if history[i].SeriesID == "" {
				history[i].SeriesID = id
			}
		}
		if overflow := len(history) - s.maxPoints; overflow > 0 {
			histories[id] = history[overflow:]
		}
	}

	s.mu.Lock()
	s.histories = histories
	s.mu.Unlock()
	return nil
}

func (s *HistoryStore) notifyMutate() {
	if s.onMutate != nil {
		s.onMutate()
	}
}

// filterWindow copies points with timestamp >= now - windowMs.
// windowMs <= 0 means no window: copy everything.
func filterWindow(history []DataPoint, windowMs, now int64) []DataPoint {
	if windowMs <= 0 {
		out := make([]DataPoint, len(history))
		copy(out, history)
		return out
	}

	cutoff := timestamp.Sub(now, time.Duration(windowMs)*time.Millisecond)
	out := make([]DataPoint, 0, len(history))
	for _, p := range history {
		if p.Timestamp >= cutoff {
			out = append(out, p)
		}
	}
	return out
}

// sortIfNeeded re-sorts by timestamp only when a point is out of order.
func sortIfNeeded(points []DataPoint) {
	for i := 1; i < len(points); i++ {
		if points[i].Timestamp < points[i-1].Timestamp {
			sort.SliceStable(points, func(a, b int) bool {
				return points[a].Timestamp < points[b].Timestamp
			})
			return
		}
	}
}
