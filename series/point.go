// Package series maintains bounded, per-series time-ordered history for
// tracked sensor streams and computes rolling statistics over it.
package series

// Status classifies a sample relative to its series' alert bands.
// The classification is assigned by the caller at insertion time and is
// never recomputed by the store.
type Status string

const (
	// StatusLow marks a sample below the series' low band.
	StatusLow Status = "low"
	// StatusNormal marks a sample inside the nominal band.
	StatusNormal Status = "normal"
	// StatusWarning marks a sample in the warning band.
	StatusWarning Status = "warning"
	// StatusDanger marks a sample in the danger band.
	StatusDanger Status = "danger"
)

// Statuses lists all classifications in severity order.
var Statuses = []Status{StatusLow, StatusNormal, StatusWarning, StatusDanger}

// ParseStatus maps a stored status string to a Status, defaulting to
// StatusNormal for unknown values (tolerates snapshots written by older
// versions).
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusLow, StatusWarning, StatusDanger:
		return Status(s)
	default:
		return StatusNormal
	}
}

// DataPoint is one accepted sample in a tracked series. Timestamps are
// Unix milliseconds. Title and Unit ride along so snapshots are
// self-describing; they are display metadata, not part of identity.
type DataPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
	Status    Status  `json:"status"`
	SeriesID  string  `json:"cardId"`
	Title     string  `json:"cardTitle,omitempty"`
	Unit      string  `json:"unit,omitempty"`
}
