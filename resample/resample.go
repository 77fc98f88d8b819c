// Package resample aligns and aggregates multiple series histories into a
// merged, timestamp-keyed matrix for charting. Three interchangeable
// strategies are provided: moving average, fixed-interval bucket average,
// and median bucketing.
//
// All strategies only emit rows where every selected series contributes a
// value in the row's aggregation window. Partial rows are dropped rather
// than null-filled, so a chart never renders a misleading partial average.
package resample

import (
	"fmt"
	"sort"

	"github.com/semibank/smartfarm/errors"
	"github.com/semibank/smartfarm/series"
)

// Method selects a resampling strategy.
type Method string

const (
	// MethodMovingAverage smooths each series over a sample-count window.
	MethodMovingAverage Method = "moving_average"
	// MethodInterval averages each series inside fixed minute-wide buckets.
	MethodInterval Method = "interval"
	// MethodMedian takes the per-bucket median instead of the mean.
	MethodMedian Method = "median"
)

// ParseMethod maps a request string to a Method.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodMovingAverage, MethodInterval, MethodMedian:
		return Method(s), nil
	default:
		return "", errors.WrapInvalid(
			fmt.Errorf("unknown resample method: %q", s),
			"resample", "ParseMethod", "parse method")
	}
}

// Row is one output row of the merged matrix: a timestamp plus one value
// per selected series. Rows are always complete; a series is never absent
// from an emitted row.
type Row struct {
	Timestamp int64              `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

// Apply runs the selected strategy. param is the window size in samples
// for the moving average and the bucket width in minutes for the interval
// and median strategies.
func Apply(method Method, histories map[string][]series.DataPoint, param int) ([]Row, error) {
	switch method {
	case MethodMovingAverage:
		return MovingAverage(histories, param), nil
	case MethodInterval:
		return IntervalAverage(histories, param), nil
	case MethodMedian:
		return MedianBuckets(histories, param), nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown resample method: %q", method),
			"resample", "Apply", "select strategy")
	}
}

// matrix is the internal merged view: the sorted union of timestamps
// across all selected series, plus a per-series timestamp-to-value lookup.
type matrix struct {
	seriesIDs  []string
	timestamps []int64
	values     map[string]map[int64]float64
}

func merge(histories map[string][]series.DataPoint) matrix {
	m := matrix{
		seriesIDs: make([]string, 0, len(histories)),
		values:    make(map[string]map[int64]float64, len(histories)),
	}

	seen := make(map[int64]struct{})
	for id, points := range histories {
		m.seriesIDs = append(m.seriesIDs, id)
		vals := make(map[int64]float64, len(points))
		for _, p := range points {
			vals[p.Timestamp] = p.Value
			if _, ok := seen[p.Timestamp]; !ok {
				seen[p.Timestamp] = struct{}{}
				m.timestamps = append(m.timestamps, p.Timestamp)
			}
		}
		m.values[id] = vals
	}

	sort.Strings(m.seriesIDs)
	sort.Slice(m.timestamps, func(a, b int) bool { return m.timestamps[a] < m.timestamps[b] })
	return m
}

// completeRows emits one row per merged timestamp, dropping rows where
// any series has no sample at exactly that timestamp.
func (m matrix) completeRows() []Row {
	rows := make([]Row, 0, len(m.timestamps))
	for _, ts := range m.timestamps {
		values := make(map[string]float64, len(m.seriesIDs))
		complete := true
		for _, id := range m.seriesIDs {
			v, ok := m.values[id][ts]
			if !ok {
				complete = false
				break
			}
			values[id] = v
		}
		if complete {
			rows = append(rows, Row{Timestamp: ts, Values: values})
		}
	}
	return rows
}

// MovingAverage smooths each series over a window of `window` samples
// centered ⌊window/2⌋ rows back from the current row. A row survives only
// if every series has at least one contributing sample in its window;
// requiring just one sample (rather than full coverage) keeps early and
// late edges of a series from being starved, at the cost of less
// smoothing there. window <= 1 is the identity transform.
func MovingAverage(histories map[string][]series.DataPoint, window int) []Row {
	if len(histories) == 0 {
		return []Row{}
	}

	m := merge(histories)
	if window <= 1 {
		return m.completeRows()
	}

	rows := make([]Row, 0, len(m.timestamps))
	for i := range m.timestamps {
		lo := i - window/2
		hi := lo + window
		if lo < 0 {
			lo = 0
		}
		if hi > len(m.timestamps) {
			hi = len(m.timestamps)
		}

		values := make(map[string]float64, len(m.seriesIDs))
		complete := true
		for _, id := range m.seriesIDs {
			var sum float64
			count := 0
			for j := lo; j < hi; j++ {
				if v, ok := m.values[id][m.timestamps[j]]; ok {
					sum += v
					count++
				}
			}
			if count == 0 {
				complete = false
				break
			}
			values[id] = sum / float64(count)
		}
		if complete {
			rows = append(rows, Row{Timestamp: m.timestamps[i], Values: values})
		}
	}
	return rows
}

// IntervalAverage groups raw samples into intervalMinutes-wide buckets
// aligned to the epoch and emits each series' arithmetic mean per bucket.
// Buckets missing any selected series are dropped. Output is sorted by
// timestamp ascending. intervalMinutes <= 1 is the identity transform.
func IntervalAverage(histories map[string][]series.DataPoint, intervalMinutes int) []Row {
	return bucketed(histories, intervalMinutes, mean)
}

// MedianBuckets groups identically to IntervalAverage but emits each
// series' statistical median per bucket. Even-count buckets average the
// two central values after an ascending sort.
func MedianBuckets(histories map[string][]series.DataPoint, intervalMinutes int) []Row {
	return bucketed(histories, intervalMinutes, median)
}

func bucketed(histories map[string][]series.DataPoint, intervalMinutes int, reduce func([]float64) float64) []Row {
	if len(histories) == 0 {
		return []Row{}
	}
	if intervalMinutes <= 1 {
		return merge(histories).completeRows()
	}

	intervalMs := int64(intervalMinutes) * 60000

	// bucket floor -> seriesID -> samples
	buckets := make(map[int64]map[string][]float64)
	for id, points := range histories {
		for _, p := range points {
			floor := p.Timestamp / intervalMs * intervalMs
			if buckets[floor] == nil {
				buckets[floor] = make(map[string][]float64)
			}
			buckets[floor][id] = append(buckets[floor][id], p.Value)
		}
	}

	rows := make([]Row, 0, len(buckets))
	for floor, bySeries := range buckets {
		if len(bySeries) < len(histories) {
			continue // bucket missing at least one series
		}
		values := make(map[string]float64, len(bySeries))
		for id, samples := range bySeries {
			values[id] = reduce(samples)
		}
		rows = append(rows, Row{Timestamp: floor, Values: values})
	}

	// Grouping through a map loses order; re-sort ascending.
	sort.Slice(rows, func(a, b int) bool { return rows[a].Timestamp < rows[b].Timestamp })
	return rows
}

func mean(samples []float64) float64 {
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}

func median(samples []float64) float64 {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
