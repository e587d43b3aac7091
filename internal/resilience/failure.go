package resilience

import "time"

// Error type labels.
const (
	ErrorTypeTransient = "transient"
	ErrorTypePermanent = "permanent"
)

// UnitError records one failed unit of work (a record, a lead, an import
// chunk) so batch reports can surface per-unit failures.
type UnitError struct {
	Stage     string    `json:"stage"`
	Unit      string    `json:"unit"`
	Error     string    `json:"error"`
	ErrorType string    `json:"error_type"`
	Attempts  int       `json:"attempts,omitempty"`
	FailedAt  time.Time `json:"failed_at"`
}

// NewUnitError builds a UnitError, classifying err.
func NewUnitError(stage, unit string, err error) UnitError {
	return UnitError{
		Stage:     stage,
		Unit:      unit,
		Error:     err.Error(),
		ErrorType: ClassifyError(err),
		FailedAt:  time.Now().UTC(),
	}
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}
