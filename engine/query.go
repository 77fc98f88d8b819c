package engine

import (
	"time"

	"github.com/semibank/smartfarm/resample"
	"github.com/semibank/smartfarm/series"
	"github.com/semibank/smartfarm/topic"
)

// windowMs converts a query window to milliseconds, substituting the
// configured default for zero and treating negative as "everything".
func (e *Engine) windowMs(window time.Duration) int64 {
	if window == 0 {
		window = e.defaultWindow
	}
	if window < 0 {
		return 0
	}
	return window.Milliseconds()
}

// Tree returns a deep copy of the full topic tree.
func (e *Engine) Tree() *topic.Node {
	return e.tree.Root()
}

// QueryTopic returns the subtree at the exact path, or false if absent.
func (e *Engine) QueryTopic(path string) (*topic.Node, bool) {
	return e.tree.Query(path)
}

// TopicCount returns the number of tree nodes, excluding the root.
func (e *Engine) TopicCount() int {
	return e.tree.Len()
}

// SeriesIDs lists every series with retained history, sorted.
func (e *Engine) SeriesIDs() []string {
	return e.history.SeriesIDs()
}

// History returns the series' points inside the trailing window. A zero
// window uses the configured default; a negative window returns all
// retained points.
func (e *Engine) History(seriesID string, window time.Duration) []series.DataPoint {
	return e.history.QuerySeries(seriesID, e.windowMs(window))
}

// AllHistory returns every series' windowed points keyed by series ID.
func (e *Engine) AllHistory(window time.Duration) map[string][]series.DataPoint {
	return e.history.QueryAll(e.windowMs(window))
}

// Statistics reduces the series' windowed points to summary values.
// Empty windows produce the all-zero Stats.
func (e *Engine) Statistics(seriesID string, window time.Duration) series.Stats {
	return series.ComputeStats(e.History(seriesID, window))
}

// StatusDistribution counts windowed points by classification across all
// series.
func (e *Engine) StatusDistribution(window time.Duration) map[series.Status]int {
	return series.StatusDistribution(e.AllHistory(window))
}

// Resample merges the selected series (all of them when ids is empty)
// into complete rows using the requested strategy. param is the sample
// window for the moving average and the bucket width in minutes for the
// interval strategies.
func (e *Engine) Resample(method resample.Method, ids []string, window time.Duration, param int) ([]resample.Row, error) {
	var histories map[string][]series.DataPoint
	if len(ids) == 0 {
		histories = e.AllHistory(window)
	} else {
		histories = make(map[string][]series.DataPoint, len(ids))
		for _, id := range ids {
			histories[id] = e.History(id, window)
		}
	}
	return resample.Apply(method, histories, param)
}

// ClearSeries drops one series' history. The tree is untouched; the
// topic itself is still known, just has no samples.
func (e *Engine) ClearSeries(seriesID string) {
	e.history.ClearSeries(seriesID)
}

// ClearAll drops every series' history. The topic tree is untouched so
// the browsable namespace survives a history reset.
func (e *Engine) ClearAll() {
	e.history.ClearAll()
}

// ClearTree resets the topic tree to an empty root. Histories are kept;
// the tree repopulates as new messages arrive.
func (e *Engine) ClearTree() {
	e.tree.Clear()
	if e.metrics != nil {
		e.metrics.RecordTreeNodes(0)
	}
}
