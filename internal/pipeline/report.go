package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/progeodata/leadflow/internal/model"
	"github.com/progeodata/leadflow/internal/resilience"
)

// Report summarizes one pipeline job.
type Report struct {
	JobID        string                 `json:"job_id"`
	Query        string                 `json:"query"`
	Location     string                 `json:"location"`
	Sources      []string               `json:"sources"`
	State        model.JobState         `json:"state"`
	FailedStage  string                 `json:"failed_stage,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Scraped      int                    `json:"scraped"`
	Stored       int                    `json:"stored"`
	Detected     int                    `json:"detected"`
	DetectedHigh int                    `json:"detected_high"`
	Qualified    int                    `json:"qualified"`
	Enriched     int                    `json:"enriched"`
	Published    int                    `json:"published"`
	Stages       []model.StageResult    `json:"stages"`
	SourceErrors map[string]string      `json:"source_errors,omitempty"`
	Errors       []resilience.UnitError `json:"errors,omitempty"`
	DurationMs   int64                  `json:"duration_ms"`
}

func (r *Report) addSourceError(source string, err error) {
	if r.SourceErrors == nil {
		r.SourceErrors = make(map[string]string)
	}
	r.SourceErrors[source] = err.Error()
}

// DailyReport combines the reports of a daily batch.
type DailyReport struct {
	Jobs         []Report `json:"jobs"`
	Completed    int      `json:"completed"`
	Failed       int      `json:"failed"`
	Scraped      int      `json:"scraped"`
	DetectedHigh int      `json:"detected_high"`
	Enriched     int      `json:"enriched"`
	Published    int      `json:"published"`
	DurationMs   int64    `json:"duration_ms"`
}

func (d *DailyReport) add(r *Report) {
	d.Jobs = append(d.Jobs, *r)
	if r.State == model.JobCompleted {
		d.Completed++
	} else {
		d.Failed++
	}
	d.Scraped += r.Scraped
	d.DetectedHigh += r.DetectedHigh
	d.Enriched += r.Enriched
	d.Published += r.Published
}

// FormatReport renders a job report as Markdown.
func FormatReport(r *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Pipeline Job: %s in %s\n", r.Query, r.Location)
	fmt.Fprintf(&b, "Job ID: %s\n", r.JobID)
	fmt.Fprintf(&b, "Sources: %s\n", strings.Join(r.Sources, ", "))
	fmt.Fprintf(&b, "State: %s\n\n", r.State)

	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Scraped: %d (%d stored)\n", r.Scraped, r.Stored)
	fmt.Fprintf(&b, "- Detected: %d (%d high, %d qualified)\n", r.Detected, r.DetectedHigh, r.Qualified)
	fmt.Fprintf(&b, "- Enriched: %d\n", r.Enriched)
	fmt.Fprintf(&b, "- Published: %d\n", r.Published)
	fmt.Fprintf(&b, "- Duration: %dms\n\n", r.DurationMs)

	b.WriteString("## Stages\n")
	for _, s := range r.Stages {
		fmt.Fprintf(&b, "- %s: %s (%dms)\n", s.Name, s.Status, s.DurationMs)
		if s.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", s.Error)
		}
	}

	if len(r.SourceErrors) > 0 || len(r.Errors) > 0 {
		b.WriteString("\n## Errors\n")
		srcs := make([]string, 0, len(r.SourceErrors))
		for src := range r.SourceErrors {
			srcs = append(srcs, src)
		}
		sort.Strings(srcs)
		for _, src := range srcs {
			fmt.Fprintf(&b, "- source %s: %s\n", src, r.SourceErrors[src])
		}
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "- %s %s (%s): %s\n", e.Stage, e.Unit, e.ErrorType, e.Error)
		}
	}
	return b.String()
}

// DecodeReport returns the report stored with a job. Jobs that have not
// finished carry no report yet; for those the report holds the job fields only.
func DecodeReport(job *model.PipelineJob) (*Report, error) {
	r := &Report{}
	if len(job.Report) > 0 {
		if err := json.Unmarshal(job.Report, r); err != nil {
			return nil, eris.Wrapf(err, "pipeline: decode report of job %s", job.ID)
		}
	}
	r.JobID = job.ID
	r.Query = job.Query
	r.Location = job.Location
	r.Sources = job.Sources
	r.State = job.State
	r.FailedStage = job.FailedStage
	r.Error = job.Error
	return r, nil
}
