// Package engine implements the aggregation core: it drains raw broker
// messages from a buffer, maintains the topic tree and the bounded
// per-series history, applies plausibility and threshold classification,
// and persists debounced history snapshots.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/semibank/smartfarm/component"
	"github.com/semibank/smartfarm/config"
	"github.com/semibank/smartfarm/errors"
	"github.com/semibank/smartfarm/metric"
	"github.com/semibank/smartfarm/pkg/buffer"
	"github.com/semibank/smartfarm/pkg/timestamp"
	"github.com/semibank/smartfarm/plausibility"
	"github.com/semibank/smartfarm/series"
	"github.com/semibank/smartfarm/storage"
	"github.com/semibank/smartfarm/topic"
)

// Message is one raw broker message handed to the engine by an input.
type Message struct {
	Topic     string
	Payload   []byte
	Timestamp int64 // Unix milliseconds at receipt
}

// Deps carries the engine's dependencies. Everything is injected; the
// engine holds no package-level state.
type Deps struct {
	Config    *config.Config
	Buffer    buffer.Buffer[Message]
	Store     storage.SnapshotStore
	Validator *plausibility.Validator
	Metrics   *metric.Metrics
	Logger    *slog.Logger
}

// Engine is the aggregation core. It is a LifecycleComponent: construct
// with NewEngine, then Initialize, Start, and finally Stop.
type Engine struct {
	name      string
	buffer    buffer.Buffer[Message]
	store     storage.SnapshotStore
	validator *plausibility.Validator
	metrics   *metric.Metrics
	logger    *component.Logger

	tree     *topic.Tree
	history  *series.HistoryStore
	registry map[string]config.SeriesDef // topic -> series binding

	defaultWindow time.Duration
	snapshotKey   string
	debounce      time.Duration
	maxDelay      time.Duration

	dirtyCh chan struct{}

	subMu       sync.RWMutex
	subscribers map[string]chan SampleEvent

	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startedAt atomic.Int64 // Unix ms, 0 until Start
	mu        sync.Mutex
	wg        sync.WaitGroup

	messagesProcessed atomic.Int64
	samplesAccepted   atomic.Int64
	samplesDropped    atomic.Int64
	errorCount        atomic.Int64
	lastActivity      atomic.Value // time.Time
}

var _ component.LifecycleComponent = (*Engine)(nil)

// NewEngine wires the engine from its dependencies.
func NewEngine(deps Deps) *Engine {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Defaults()
	}

	store := deps.Store
	if store == nil {
		store = storage.NewNoop()
	}
	validator := deps.Validator
	if validator == nil {
		validator = plausibility.NewValidator(nil)
	}

	e := &Engine{
		name:          "engine",
		buffer:        deps.Buffer,
		store:         store,
		validator:     validator,
		metrics:       deps.Metrics,
		logger:        component.NewLogger("engine", deps.Logger),
		tree:          topic.NewTree(),
		registry:      cfg.SeriesByTopic(),
		defaultWindow: cfg.History.DefaultWindow,
		snapshotKey:   cfg.Snapshot.Key,
		debounce:      cfg.Snapshot.Debounce,
		maxDelay:      cfg.Snapshot.MaxDelay,
		dirtyCh:       make(chan struct{}, 1),
		subscribers:   make(map[string]chan SampleEvent),
	}
	if e.snapshotKey == "" {
		e.snapshotKey = "history"
	}

	e.history = series.NewHistoryStore(
		series.WithMaxPoints(cfg.History.MaxPoints),
		series.WithMutateFunc(e.markDirty),
	)
	return e
}

// Meta returns component information.
func (e *Engine) Meta() component.Metadata {
	return component.Metadata{
		Name:        e.name,
		Type:        "engine",
		Description: "Aggregates broker telemetry into a topic tree and bounded series history",
		Version:     "1.0.0",
	}
}

// Health returns the current health status.
func (e *Engine) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    e.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(e.errorCount.Load()),
		Uptime:     timestamp.Since(e.startedAt.Load()),
	}
}

// DataFlow returns throughput metrics.
func (e *Engine) DataFlow() component.FlowMetrics {
	processed := e.messagesProcessed.Load()
	lastActivity, _ := e.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if uptime := timestamp.Between(e.startedAt.Load(), timestamp.Now()).Seconds(); uptime > 0 {
		perSecond = float64(processed) / uptime
	}
	if processed > 0 {
		errorRate = float64(e.errorCount.Load()) / float64(processed)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates dependencies and restores the last snapshot.
// Restoration is fail-soft: a missing or corrupt snapshot logs a warning
// and the engine starts with empty history.
func (e *Engine) Initialize() error {
	if e.buffer == nil {
		return errors.WrapInvalid(fmt.Errorf("nil message buffer"),
			"engine", "Initialize", "dependency validation")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	blob, err := e.store.Load(ctx, e.snapshotKey)
	switch {
	case err == nil:
		if err := e.history.Restore(blob); err != nil {
			e.logger.Warn("snapshot unusable, starting with empty history", "error", err)
		} else {
			e.logger.Info("history restored from snapshot",
				"series", len(e.history.SeriesIDs()),
				"through", timestamp.Format(e.latestPoint()))
		}
	case stderrors.Is(err, errors.ErrKeyNotFound):
		e.logger.Info("no snapshot found, starting with empty history")
	default:
		e.logger.Warn("snapshot load failed, starting with empty history", "error", err)
	}

	return nil
}

// Start launches the drain and snapshot loops. Idempotent.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		return nil
	}

	e.shutdown = make(chan struct{})
	e.done = make(chan struct{})
	e.running.Store(true)
	e.startedAt.Store(timestamp.Now())

	e.wg.Add(2)
	go e.drainLoop(ctx)
	go e.snapshotLoop(ctx)

	go func() {
		e.wg.Wait()
		close(e.done)
	}()

	e.logger.Info("started",
		"series_bindings", len(e.registry),
		"max_points", e.history.MaxPoints(),
		"snapshot_debounce", e.debounce)
	return nil
}

// Stop signals the loops, waits up to timeout, and flushes a final
// snapshot so nothing accepted before shutdown is lost.
func (e *Engine) Stop(timeout time.Duration) error {
	if !e.running.Load() {
		return nil
	}
	e.running.Store(false)

	e.mu.Lock()
	if e.shutdown != nil {
		select {
		case <-e.shutdown:
		default:
			close(e.shutdown)
		}
	}
	done := e.done
	e.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"engine", "Stop", "graceful shutdown")
	}

	e.closeSubscribers()
	e.flushSnapshot(context.Background())
	return nil
}

// latestPoint returns the newest stored timestamp across all series,
// 0 when no history exists.
func (e *Engine) latestPoint() int64 {
	var latest int64
	for _, points := range e.history.QueryAll(0) {
		for _, p := range points {
			if p.Timestamp > latest {
				latest = p.Timestamp
			}
		}
	}
	return latest
}

func (e *Engine) recordError(errorType string) {
	e.errorCount.Add(1)
	if e.metrics != nil {
		e.metrics.RecordError(e.name, errorType)
	}
}
