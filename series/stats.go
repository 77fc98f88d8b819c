package series

// Stats reduces a windowed slice of one series to summary values.
// The zero value is the correct answer for "no data yet".
type Stats struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
	Latest  float64 `json:"latest"`
	Count   int     `json:"count"`
}

// ComputeStats reduces points to {min, max, average, latest, count}.
// An empty slice returns all-zero defaults rather than an error: an empty
// window is a very common steady state, not a failure.
func ComputeStats(points []DataPoint) Stats {
	if len(points) == 0 {
		return Stats{}
	}

	stats := Stats{
		Min:   points[0].Value,
		Max:   points[0].Value,
		Count: len(points),
	}

	var sum float64
	var latestTS int64
	for _, p := range points {
		if p.Value < stats.Min {
			stats.Min = p.Value
		}
		if p.Value > stats.Max {
			stats.Max = p.Value
		}
		sum += p.Value
		if p.Timestamp >= latestTS {
			latestTS = p.Timestamp
			stats.Latest = p.Value
		}
	}
	stats.Average = sum / float64(len(points))

	return stats
}

// StatusDistribution counts points by classification across all series,
// dropping zero-count categories for compact display.
func StatusDistribution(histories map[string][]DataPoint) map[Status]int {
	counts := make(map[Status]int)
	for _, points := range histories {
		for _, p := range points {
			counts[p.Status]++
		}
	}
	return counts
}
