// Package pipeline runs discovery, detection, enrichment and publishing in
// sequence for a search, and tracks each run as a pipeline job.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/progeodata/leadflow/internal/discovery"
	"github.com/progeodata/leadflow/internal/enrich"
	"github.com/progeodata/leadflow/internal/icp"
	"github.com/progeodata/leadflow/internal/metrics"
	"github.com/progeodata/leadflow/internal/model"
	"github.com/progeodata/leadflow/internal/publish"
	"github.com/progeodata/leadflow/internal/resilience"
)

// ErrAllSourcesFailed is returned when every requested discovery source fails.
var ErrAllSourcesFailed = eris.New("pipeline: all sources failed")

// RecordWriter stores raw records.
type RecordWriter interface {
	InsertRecords(ctx context.Context, records []model.RawBusinessRecord) ([]int64, error)
}

// Detector scores a record set as one detection batch.
type Detector interface {
	DetectRecords(ctx context.Context, batchID string, records []model.RawBusinessRecord) (*icp.BatchReport, error)
}

// Enricher enriches qualified records.
type Enricher interface {
	MinIcpScore() int
	EnrichCandidates(ctx context.Context, minICP int, cands []enrich.Candidate) (*enrich.BatchReport, error)
}

// Publisher publishes enriched leads.
type Publisher interface {
	PublishLeads(ctx context.Context, minGrade model.Grade, leads []model.EnrichedLead) (*publish.BatchReport, error)
}

// Search is one query/location pair.
type Search struct {
	Query    string `json:"query" yaml:"query"`
	Location string `json:"location" yaml:"location"`
}

// Deps are the orchestrator's collaborators. Sources are keyed by the name
// callers select them with.
type Deps struct {
	Sources   map[string]discovery.Source
	Records   RecordWriter
	Detector  Detector
	Enricher  Enricher
	Publisher Publisher
	Jobs      JobStore
}

// Config tunes the orchestrator.
type Config struct {
	// DefaultSources are used when a run names no sources.
	DefaultSources []string
	MinGrade       model.Grade
	Retry          resilience.RetryConfig
}

// Orchestrator runs pipeline jobs one at a time.
type Orchestrator struct {
	sources   map[string]discovery.Source
	records   RecordWriter
	detector  Detector
	enricher  Enricher
	publisher Publisher
	jobs      JobStore

	defaultSources []string
	minGrade       model.Grade
	retry          resilience.RetryConfig
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.MinGrade == "" {
		cfg.MinGrade = publish.DefaultMinGrade
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if len(cfg.DefaultSources) == 0 {
		for name := range deps.Sources {
			cfg.DefaultSources = append(cfg.DefaultSources, name)
		}
		sort.Strings(cfg.DefaultSources)
	}
	return &Orchestrator{
		sources:        deps.Sources,
		records:        deps.Records,
		detector:       deps.Detector,
		enricher:       deps.Enricher,
		publisher:      deps.Publisher,
		jobs:           deps.Jobs,
		defaultSources: cfg.DefaultSources,
		minGrade:       cfg.MinGrade,
		retry:          cfg.Retry,
	}
}

// stageError marks the stage a job failed in.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// RunPipeline discovers businesses for query and location, then detects,
// enriches and publishes the discovered record set. A stage failure fails the
// job; whatever earlier stages committed is kept. The report is returned
// together with the failure.
func (o *Orchestrator) RunPipeline(ctx context.Context, query, location string, sources []string) (*Report, error) {
	if len(sources) == 0 {
		sources = o.defaultSources
	}
	start := time.Now()
	job := &model.PipelineJob{
		ID:       uuid.New().String(),
		Query:    query,
		Location: location,
		Sources:  sources,
		State:    model.JobCreated,
	}
	if err := o.jobs.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "pipeline: create job")
	}

	log := zap.L().With(zap.String("job_id", job.ID), zap.String("query", query), zap.String("location", location))
	log.Info("pipeline: starting job", zap.Strings("sources", sources))

	report := &Report{
		JobID:    job.ID,
		Query:    query,
		Location: location,
		Sources:  sources,
		State:    model.JobCreated,
	}

	err := o.run(ctx, log, job, report)
	report.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		report.State = model.JobFailed
		report.Error = err.Error()
		var se *stageError
		if errors.As(err, &se) {
			report.FailedStage = se.stage
		}
		log.Error("pipeline: job failed", zap.String("stage", report.FailedStage), zap.Error(err))
	} else {
		report.State = model.JobCompleted
		log.Info("pipeline: job complete",
			zap.Int("scraped", report.Scraped),
			zap.Int("high", report.DetectedHigh),
			zap.Int("enriched", report.Enriched),
			zap.Int("published", report.Published),
			zap.Int64("duration_ms", report.DurationMs),
		)
	}

	metrics.PipelineJobsTotal.WithLabelValues(string(report.State)).Inc()
	metrics.PipelineJobDuration.Observe(time.Since(start).Seconds())

	// A cancelled run still gets its final state recorded.
	finishCtx := context.WithoutCancel(ctx)
	body, mErr := json.Marshal(report)
	if mErr != nil {
		log.Warn("pipeline: failed to encode report", zap.Error(mErr))
	}
	if fErr := o.jobs.FinishJob(finishCtx, job.ID, report.State, report.FailedStage, report.Error, body); fErr != nil {
		log.Warn("pipeline: failed to record job result", zap.Error(fErr))
	}

	if err != nil {
		return report, eris.Wrapf(err, "pipeline: job %s", job.ID)
	}
	return report, nil
}

func (o *Orchestrator) run(ctx context.Context, log *zap.Logger, job *model.PipelineJob, report *Report) error {
	// setState advances the persisted job state. A failed write is logged
	// and the run goes on; FinishJob records the outcome either way.
	setState := func(state model.JobState) {
		if !report.State.CanTransition(state) {
			log.Warn("pipeline: invalid state transition", zap.String("from", string(report.State)), zap.String("to", string(state)))
		}
		report.State = state
		if err := o.jobs.UpdateState(ctx, job.ID, state); err != nil {
			log.Warn("pipeline: failed to update job state", zap.String("state", string(state)), zap.Error(err))
		}
	}

	// trackStage runs fn as one stage and appends its result to the report.
	trackStage := func(state model.JobState, fn func() (map[string]any, error)) error {
		setState(state)
		name := string(state)
		stageStart := time.Now()
		meta, err := fn()
		sr := model.StageResult{
			Name:       name,
			Status:     model.StageComplete,
			DurationMs: time.Since(stageStart).Milliseconds(),
			Metadata:   meta,
		}
		if err != nil {
			sr.Status = model.StageFailed
			sr.Error = err.Error()
			log.Error("pipeline: stage failed", zap.String("stage", name), zap.Int64("duration_ms", sr.DurationMs), zap.Error(err))
		} else {
			log.Info("pipeline: stage complete", zap.String("stage", name), zap.Int64("duration_ms", sr.DurationMs))
		}
		report.Stages = append(report.Stages, sr)
		if err != nil {
			return &stageError{stage: name, err: err}
		}
		return nil
	}

	// Scraping
	var records []model.RawBusinessRecord
	if err := trackStage(model.JobScraping, func() (map[string]any, error) {
		recs, err := o.scrape(ctx, log, job, report)
		if err != nil {
			return nil, err
		}
		records = recs
		return map[string]any{"records": len(recs), "source_errors": len(report.SourceErrors)}, nil
	}); err != nil {
		return err
	}

	// Detecting
	var detected *icp.BatchReport
	if err := trackStage(model.JobDetecting, func() (map[string]any, error) {
		rep, err := o.detector.DetectRecords(ctx, job.ID, records)
		if rep != nil {
			detected = rep
			report.Detected = rep.Processed
			report.DetectedHigh = rep.High
			report.Qualified = rep.Qualified()
			report.Errors = append(report.Errors, rep.Errors...)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"high": rep.High, "medium": rep.Medium, "low": rep.Low}, nil
	}); err != nil {
		return err
	}

	// Enriching
	var leads []model.EnrichedLead
	if err := trackStage(model.JobEnriching, func() (map[string]any, error) {
		minICP := o.enricher.MinIcpScore()
		var cands []enrich.Candidate
		var results []model.IcpSignalResult
		if detected != nil {
			results = detected.Results
		}
		for _, r := range results {
			if r.Score >= minICP {
				cands = append(cands, enrich.Candidate{RawRecordID: r.RawRecordID, IcpScore: r.Score})
			}
		}
		rep, err := o.enricher.EnrichCandidates(ctx, minICP, cands)
		if rep != nil {
			leads = rep.Leads
			report.Enriched = rep.Enriched
			report.Errors = append(report.Errors, rep.Errors...)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"candidates": len(cands), "skipped": rep.Skipped}, nil
	}); err != nil {
		return err
	}

	// Publishing
	return trackStage(model.JobPublishing, func() (map[string]any, error) {
		rep, err := o.publisher.PublishLeads(ctx, o.minGrade, leads)
		if rep != nil {
			report.Published = rep.Published
			report.Errors = append(report.Errors, rep.Errors...)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"candidates": rep.Candidates, "skipped": rep.Skipped}, nil
	})
}

// scrape queries each source in order and stores what they return. A failing
// source is recorded and skipped; the stage fails only when every source
// fails or the records cannot be stored.
func (o *Orchestrator) scrape(ctx context.Context, log *zap.Logger, job *model.PipelineJob, report *Report) ([]model.RawBusinessRecord, error) {
	var found []model.RawBusinessRecord
	failed := 0
	for _, name := range job.Sources {
		src, ok := o.sources[name]
		if !ok {
			report.addSourceError(name, eris.Errorf("pipeline: unknown source %q", name))
			failed++
			continue
		}
		recs, err := src.Search(ctx, job.Query, job.Location)
		if err != nil {
			log.Warn("pipeline: source failed", zap.String("source", name), zap.Error(err))
			report.addSourceError(name, err)
			failed++
			continue
		}
		found = append(found, recs...)
	}
	if len(job.Sources) > 0 && failed == len(job.Sources) {
		return nil, eris.Wrapf(ErrAllSourcesFailed, "pipeline: %s", strings.Join(job.Sources, ", "))
	}
	report.Scraped = len(found)
	if len(found) == 0 {
		return nil, nil
	}

	ids, err := resilience.DoVal(ctx, o.retry, func(ctx context.Context) ([]int64, error) {
		return o.records.InsertRecords(ctx, found)
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: store raw records")
	}
	if len(ids) != len(found) {
		return nil, eris.Errorf("pipeline: stored %d records, got %d ids", len(found), len(ids))
	}

	// Two sources can return the same stored record; keep the first.
	seen := make(map[int64]struct{}, len(ids))
	out := make([]model.RawBusinessRecord, 0, len(found))
	for i := range found {
		if _, dup := seen[ids[i]]; dup {
			continue
		}
		seen[ids[i]] = struct{}{}
		found[i].ID = ids[i]
		out = append(out, found[i])
	}
	report.Stored = len(out)
	return out, nil
}

// RunDailyBatch runs one job per search, strictly one after another. A failed
// job is recorded and the batch moves on; only cancellation stops it early.
func (o *Orchestrator) RunDailyBatch(ctx context.Context, searches []Search) (*DailyReport, error) {
	start := time.Now()
	daily := &DailyReport{}
	for _, s := range searches {
		if err := ctx.Err(); err != nil {
			daily.DurationMs = time.Since(start).Milliseconds()
			return daily, eris.Wrap(err, "pipeline: daily batch")
		}
		rep, err := o.RunPipeline(ctx, s.Query, s.Location, nil)
		if rep == nil {
			// The job could not even be created.
			rep = &Report{Query: s.Query, Location: s.Location, State: model.JobFailed}
			if err != nil {
				rep.Error = err.Error()
			}
		}
		daily.add(rep)
	}
	daily.DurationMs = time.Since(start).Milliseconds()
	zap.L().Info("pipeline: daily batch complete",
		zap.Int("jobs", len(daily.Jobs)),
		zap.Int("completed", daily.Completed),
		zap.Int("failed", daily.Failed),
		zap.Int("published", daily.Published),
	)
	return daily, nil
}
