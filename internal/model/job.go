package model

import (
	"encoding/json"
	"time"
)

// JobState is the state of a pipeline job.
type JobState string

// Pipeline job states, in the order a successful job passes through them.
const (
	JobCreated    JobState = "created"
	JobScraping   JobState = "scraping"
	JobDetecting  JobState = "detecting"
	JobEnriching  JobState = "enriching"
	JobPublishing JobState = "publishing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

var jobOrder = map[JobState]int{
	JobCreated:    0,
	JobScraping:   1,
	JobDetecting:  2,
	JobEnriching:  3,
	JobPublishing: 4,
	JobCompleted:  5,
}

// Terminal reports whether s is completed or failed.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether a job may move from s to next. Jobs move one
// stage forward at a time, and any non-terminal state may fail.
func (s JobState) CanTransition(next JobState) bool {
	if s.Terminal() {
		return false
	}
	if next == JobFailed {
		return true
	}
	from, ok := jobOrder[s]
	to, ok2 := jobOrder[next]
	return ok && ok2 && to == from+1
}

// StageStatus is the outcome of one pipeline stage.
type StageStatus string

// Stage outcomes.
const (
	StageComplete StageStatus = "complete"
	StageFailed   StageStatus = "failed"
	StageSkipped  StageStatus = "skipped"
)

// StageResult holds the outcome of one pipeline stage.
type StageResult struct {
	Name       string         `json:"name"`
	Status     StageStatus    `json:"status"`
	DurationMs int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// PipelineJob is one discovery-to-publish run for a query and location.
type PipelineJob struct {
	ID          string          `json:"id" db:"id"`
	Query       string          `json:"query" db:"query"`
	Location    string          `json:"location" db:"location"`
	Sources     []string        `json:"sources" db:"sources"`
	State       JobState        `json:"state" db:"state"`
	FailedStage string          `json:"failed_stage,omitempty" db:"failed_stage"`
	Error       string          `json:"error,omitempty" db:"error"`
	Report      json.RawMessage `json:"report,omitempty" db:"report"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}
