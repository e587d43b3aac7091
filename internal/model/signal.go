package model

import "time"

// IcpCategory buckets an ICP score.
type IcpCategory string

// ICP categories.
const (
	IcpHigh   IcpCategory = "high"
	IcpMedium IcpCategory = "medium"
	IcpLow    IcpCategory = "low"
)

// ICP category thresholds (closed-open intervals).
const (
	IcpHighThreshold   = 70
	IcpMediumThreshold = 40
)

// CategorizeIcp maps a score to its category: high >= 70, medium 40-69, low < 40.
func CategorizeIcp(score int) IcpCategory {
	switch {
	case score >= IcpHighThreshold:
		return IcpHigh
	case score >= IcpMediumThreshold:
		return IcpMedium
	default:
		return IcpLow
	}
}

// Signal is one fired ICP signal.
type Signal struct {
	Name           string `json:"name"`
	Weight         int    `json:"weight"`
	Recommendation string `json:"recommendation"`
}

// IcpSignalResult is the outcome of scoring one raw record. Results are
// append-only: recomputation writes a new row.
type IcpSignalResult struct {
	ID          int64       `json:"id,omitempty" db:"id"`
	RawRecordID int64       `json:"raw_record_id" db:"raw_record_id"`
	BatchID     string      `json:"batch_id" db:"batch_id"`
	Signals     []Signal    `json:"signals" db:"signals"`
	Score       int         `json:"score" db:"score"`
	Category    IcpCategory `json:"category" db:"category"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}

// Fired reports whether the named signal fired.
func (r *IcpSignalResult) Fired(name string) bool {
	for _, s := range r.Signals {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Recommendations returns the recommendation text of every fired signal.
func (r *IcpSignalResult) Recommendations() []string {
	out := make([]string, 0, len(r.Signals))
	for _, s := range r.Signals {
		out = append(out, s.Recommendation)
	}
	return out
}
