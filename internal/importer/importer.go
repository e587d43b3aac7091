// Package importer loads bulk record sets into Postgres in sequential,
// checkpointed chunks. Each chunk is one transaction; a resumed job starts
// after the last chunk its checkpoint records as committed.
package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/progeodata/leadflow/internal/db"
	"github.com/progeodata/leadflow/internal/metrics"
	"github.com/progeodata/leadflow/internal/resilience"
)

const (
	// StageName labels import failures in reports.
	StageName = "import"

	DefaultChunkSize  = 10000
	DefaultMaxRetries = 3
)

// ErrInvalidRecords is returned when records fail validation and the
// import was not asked to skip them.
var ErrInvalidRecords = eris.New("importer: invalid records")

// Beginner opens transactions. db.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Config holds importer defaults.
type Config struct {
	ChunkSize int
	// Retry governs chunk retries. MaxAttempts counts the first try.
	Retry resilience.RetryConfig
}

// RetryConfig returns the chunk retry policy for maxRetries retries after
// the first attempt, backing off exponentially from initial.
func RetryConfig(maxRetries int, initial time.Duration) resilience.RetryConfig {
	if maxRetries < 0 {
		maxRetries = 0
	}
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = maxRetries + 1
	if initial > 0 {
		cfg.InitialBackoff = initial
	}
	return cfg
}

// Options controls one ImportBatch call.
type Options struct {
	// JobID names the job for checkpointing. Empty generates a new id, so
	// the job cannot be resumed by another call.
	JobID  string
	Target Target
	// DryRun validates and plans chunks without touching the database.
	DryRun bool
	// SkipInvalid imports the valid records and reports the rest instead of
	// refusing the whole set.
	SkipInvalid bool
}

// Result summarizes one ImportBatch call.
type Result struct {
	JobID        string `json:"job_id"`
	Table        string `json:"table"`
	Status       Status `json:"status"`
	DryRun       bool   `json:"dry_run,omitempty"`
	Tier         Tier   `json:"tier"`
	TotalRecords int    `json:"total_records"`
	ValidRecords int    `json:"valid_records"`
	ChunkSize    int    `json:"chunk_size"`
	Chunks       int    `json:"chunks"`

	// ResumedFrom is the first chunk this call processed.
	ResumedFrom     int `json:"resumed_from"`
	ChunksCommitted int `json:"chunks_committed"`
	// Imported is cumulative across resumes.
	Imported    int64 `json:"imported"`
	WouldImport int   `json:"would_import,omitempty"`
	Retries     int   `json:"retries"`

	Plan       []ChunkPlan            `json:"plan,omitempty"`
	Invalid    []ValidationFailure    `json:"invalid,omitempty"`
	Errors     []resilience.UnitError `json:"errors,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
}

// Importer writes record sets chunk by chunk.
type Importer struct {
	pool        Beginner
	checkpoints CheckpointStore
	cfg         Config
}

// New creates an Importer. A zero Config gets DefaultChunkSize and
// DefaultMaxRetries.
func New(pool Beginner, checkpoints CheckpointStore, cfg Config) *Importer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = RetryConfig(DefaultMaxRetries, 0)
	}
	return &Importer{pool: pool, checkpoints: checkpoints, cfg: cfg}
}

// Checkpoints returns the importer's checkpoint store.
func (im *Importer) Checkpoints() CheckpointStore {
	return im.checkpoints
}

// ImportBatch imports records into opts.Target in chunks of chunkSize (the
// configured default when <= 0). Chunks run strictly in order. A chunk that
// fails transiently is retried with backoff; a permanent failure, or a
// transient one that outlasts the retries, fails the job and leaves every
// earlier chunk committed.
func (im *Importer) ImportBatch(ctx context.Context, records []Record, chunkSize int, opts Options) (*Result, error) {
	start := time.Now()
	if chunkSize <= 0 {
		chunkSize = im.cfg.ChunkSize
	}
	if err := opts.Target.Validate(); err != nil {
		return nil, err
	}
	jobID := opts.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}
	log := zap.L().With(zap.String("phase", "import"), zap.String("job_id", jobID), zap.String("table", opts.Target.Table))

	res := &Result{
		JobID:        jobID,
		Table:        opts.Target.Table,
		Status:       StatusPending,
		DryRun:       opts.DryRun,
		Tier:         ClassifySize(len(records)),
		TotalRecords: len(records),
		ChunkSize:    chunkSize,
	}
	defer func() { res.DurationMs = time.Since(start).Milliseconds() }()

	validIdx, invalid := opts.Target.check(records)
	res.Invalid = invalid
	res.ValidRecords = len(validIdx)
	if len(invalid) > 0 {
		log.Warn("importer: records failed validation", zap.Int("invalid", len(invalid)))
		if !opts.SkipInvalid && !opts.DryRun {
			res.Status = StatusFailed
			return res, eris.Wrapf(ErrInvalidRecords, "importer: %d of %d records failed validation", len(invalid), len(records))
		}
	}
	rows := opts.Target.rows(records, validIdx)
	plan := PlanChunks(len(rows), chunkSize)
	res.Chunks = len(plan)

	cp, err := im.checkpoints.Load(ctx, jobID)
	switch {
	case errors.Is(err, ErrNoCheckpoint):
		cp = NewCheckpoint(jobID, opts.Target.Table, len(records), chunkSize)
	case err != nil:
		return res, eris.Wrapf(err, "importer: load checkpoint %s", jobID)
	default:
		if err := cp.matches(len(records), chunkSize); err != nil {
			res.Status = StatusFailed
			return res, err
		}
		if cp.NextChunk() > len(plan) {
			res.Status = StatusFailed
			return res, eris.Wrapf(ErrCheckpointMismatch, "importer: job %s committed chunk %d of %d", jobID, cp.LastCommittedChunk, len(plan))
		}
		log.Info("importer: resuming job",
			zap.Int("last_committed_chunk", cp.LastCommittedChunk),
			zap.Int64("imported", cp.Imported),
			zap.String("status", string(cp.Status)),
		)
	}
	res.ResumedFrom = cp.NextChunk()
	res.Imported = cp.Imported
	pending := plan[res.ResumedFrom:]

	if opts.DryRun {
		res.Plan = plan
		for _, c := range pending {
			res.WouldImport += c.Rows
		}
		log.Info("importer: dry run",
			zap.Int("chunks", len(plan)),
			zap.Int("pending_chunks", len(pending)),
			zap.Int("would_import", res.WouldImport),
		)
		return res, nil
	}

	if cp.Status == StatusCompleted {
		res.Status = StatusCompleted
		log.Info("importer: job already completed", zap.Int64("imported", cp.Imported))
		return res, nil
	}

	cp.Status = StatusRunning
	cp.Error = ""
	cp.UpdatedAt = time.Now().UTC()
	if err := im.checkpoints.Save(ctx, cp); err != nil {
		res.Status = StatusFailed
		return res, eris.Wrapf(err, "importer: start job %s", jobID)
	}
	res.Status = StatusRunning

	for _, c := range pending {
		next, attempts, err := im.runChunk(ctx, log, opts.Target, c, rows[c.Start:c.End], cp)
		res.Retries += attempts - 1
		if err != nil {
			return im.fail(ctx, log, res, cp, c, attempts, err)
		}
		cp = next
		res.ChunksCommitted++
		res.Imported = cp.Imported
		metrics.ImportChunksTotal.WithLabelValues("committed").Inc()
		metrics.ImportRowsTotal.Add(float64(c.Rows))
		log.Debug("importer: chunk committed",
			zap.Int("chunk", c.Index),
			zap.Int("rows", c.Rows),
			zap.Int("attempts", attempts),
		)
	}

	cp.Status = StatusCompleted
	cp.UpdatedAt = time.Now().UTC()
	if err := im.checkpoints.Save(ctx, cp); err != nil {
		return res, eris.Wrapf(err, "importer: complete job %s", jobID)
	}
	res.Status = StatusCompleted
	log.Info("importer: job complete",
		zap.Int("chunks_committed", res.ChunksCommitted),
		zap.Int64("imported", res.Imported),
		zap.Int("retries", res.Retries),
	)
	return res, nil
}

// runChunk writes one chunk with retries and returns the checkpoint that
// records it as committed.
func (im *Importer) runChunk(ctx context.Context, log *zap.Logger, t Target, c ChunkPlan, rows [][]any, cp *Checkpoint) (*Checkpoint, int, error) {
	retry := im.cfg.Retry
	retry.OnRetry = func(attempt int, err error) {
		metrics.ImportChunkRetries.Inc()
		log.Warn("importer: retrying chunk", zap.Int("chunk", c.Index), zap.Int("attempt", attempt), zap.Error(err))
	}

	attempts := 0
	next, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*Checkpoint, error) {
		attempts++
		return im.writeChunk(ctx, t, c, rows, cp, attempts-1)
	})
	if err != nil {
		return nil, attempts, err
	}

	if _, inTx := im.checkpoints.(TxCheckpointStore); !inTx {
		if err := im.saveCommitted(ctx, log, t, c, next); err != nil {
			return nil, attempts, err
		}
	}
	return next, attempts, nil
}

// saveCommitted records the checkpoint of a chunk that is already committed.
// Only a TxCheckpointStore makes the two atomic; with any other store a
// checkpoint lost here means a resume inserts the chunk again.
func (im *Importer) saveCommitted(ctx context.Context, log *zap.Logger, t Target, c ChunkPlan, next *Checkpoint) error {
	retry := im.cfg.Retry
	retry.ShouldRetry = func(error) bool { return true }
	retry.OnRetry = func(attempt int, err error) {
		log.Warn("importer: retrying checkpoint save", zap.Int("chunk", c.Index), zap.Int("attempt", attempt), zap.Error(err))
	}
	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		return im.checkpoints.Save(ctx, next)
	})
	if err == nil {
		return nil
	}
	log.Error("importer: chunk committed but checkpoint not saved, resume will insert it again",
		zap.Int("chunk", c.Index),
		zap.Bool("idempotent", len(t.ConflictKeys) > 0),
		zap.Error(err),
	)
	return resilience.NewPermanentError(eris.Wrapf(err, "importer: checkpoint chunk %d", c.Index))
}

// writeChunk inserts one chunk in its own transaction. With a
// TxCheckpointStore the checkpoint is written in the same transaction.
func (im *Importer) writeChunk(ctx context.Context, t Target, c ChunkPlan, rows [][]any, cp *Checkpoint, retries int) (*Checkpoint, error) {
	tx, err := im.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: begin chunk %d", c.Index)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := db.InsertRows(ctx, tx, t.insertConfig(), rows)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: insert chunk %d", c.Index)
	}

	next := cp.advance(c.Index, n, retries)
	if ts, ok := im.checkpoints.(TxCheckpointStore); ok {
		if err := ts.SaveTx(ctx, tx, next); err != nil {
			return nil, eris.Wrapf(err, "importer: checkpoint chunk %d", c.Index)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrapf(err, "importer: commit chunk %d", c.Index)
	}
	return next, nil
}

func (im *Importer) fail(ctx context.Context, log *zap.Logger, res *Result, cp *Checkpoint, c ChunkPlan, attempts int, err error) (*Result, error) {
	ue := resilience.NewUnitError(StageName, fmt.Sprintf("chunk %d", c.Index), err)
	ue.Attempts = attempts
	res.Errors = append(res.Errors, ue)
	res.Status = StatusFailed
	metrics.ImportChunksTotal.WithLabelValues("failed").Inc()
	metrics.UnitErrorsTotal.WithLabelValues(StageName, ue.ErrorType).Inc()

	failed := cp.clone()
	failed.Status = StatusFailed
	failed.Error = err.Error()
	failed.setRetries(c.Index, attempts-1)
	failed.UpdatedAt = time.Now().UTC()
	if serr := im.checkpoints.Save(context.WithoutCancel(ctx), failed); serr != nil {
		log.Error("importer: record failed status", zap.Error(serr))
	}

	log.Error("importer: chunk failed, halting job",
		zap.Int("chunk", c.Index),
		zap.Int("attempts", attempts),
		zap.String("error_type", ue.ErrorType),
		zap.Int("last_committed_chunk", cp.LastCommittedChunk),
		zap.Error(err),
	)
	return res, eris.Wrapf(err, "importer: chunk %d failed after %d attempt(s)", c.Index, attempts)
}

// Status returns the stored checkpoint of a job.
func (im *Importer) Status(ctx context.Context, jobID string) (*Checkpoint, error) {
	cp, err := im.checkpoints.Load(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: status of job %s", jobID)
	}
	return cp, nil
}
