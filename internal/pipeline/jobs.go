package pipeline

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/progeodata/leadflow/internal/db"
	"github.com/progeodata/leadflow/internal/model"
)

// ErrJobNotFound is returned when a pipeline job does not exist.
var ErrJobNotFound = eris.New("pipeline: job not found")

// JobStore persists pipeline jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.PipelineJob) error
	UpdateState(ctx context.Context, id string, state model.JobState) error
	// FinishJob records a job's terminal state and final report.
	FinishJob(ctx context.Context, id string, state model.JobState, failedStage, errMsg string, report []byte) error
	GetJob(ctx context.Context, id string) (*model.PipelineJob, error)
	// ListJobs returns the most recent jobs first.
	ListJobs(ctx context.Context, limit int) ([]model.PipelineJob, error)
}

// PostgresJobStore implements JobStore using pgx.
type PostgresJobStore struct {
	pool db.Pool
}

// NewPostgresJobStore creates a new PostgresJobStore.
func NewPostgresJobStore(pool db.Pool) *PostgresJobStore {
	return &PostgresJobStore{pool: pool}
}

func (s *PostgresJobStore) CreateJob(ctx context.Context, job *model.PipelineJob) error {
	sources := job.Sources
	if sources == nil {
		sources = []string{}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO pipeline_jobs (id, query, location, sources, state)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		job.ID, job.Query, job.Location, sources, string(job.State),
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return eris.Wrapf(err, "pipeline: create job %s", job.ID)
	}
	return nil
}

// UpdateState never moves a job out of a terminal state.
func (s *PostgresJobStore) UpdateState(ctx context.Context, id string, state model.JobState) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pipeline_jobs SET state = $2, updated_at = now()
		WHERE id = $1 AND state NOT IN ('completed', 'failed')`,
		id, string(state))
	if err != nil {
		return eris.Wrapf(err, "pipeline: update job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrJobNotFound, "pipeline: update job %s", id)
	}
	return nil
}

func (s *PostgresJobStore) FinishJob(ctx context.Context, id string, state model.JobState, failedStage, errMsg string, report []byte) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pipeline_jobs
		SET state = $2, failed_stage = NULLIF($3, ''), error = NULLIF($4, ''), report = $5, updated_at = now()
		WHERE id = $1`,
		id, string(state), failedStage, errMsg, report)
	if err != nil {
		return eris.Wrapf(err, "pipeline: finish job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrJobNotFound, "pipeline: finish job %s", id)
	}
	return nil
}

const jobColumns = `id, query, location, sources, state, COALESCE(failed_stage, ''), COALESCE(error, ''), report, created_at, updated_at`

func scanJob(row pgx.Row) (*model.PipelineJob, error) {
	var (
		job    model.PipelineJob
		state  string
		report []byte
	)
	if err := row.Scan(&job.ID, &job.Query, &job.Location, &job.Sources, &state,
		&job.FailedStage, &job.Error, &report, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.State = model.JobState(state)
	if len(report) > 0 {
		job.Report = report
	}
	return &job, nil
}

func (s *PostgresJobStore) GetJob(ctx context.Context, id string) (*model.PipelineJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM pipeline_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrJobNotFound, "pipeline: get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: get job %s", id)
	}
	return job, nil
}

func (s *PostgresJobStore) ListJobs(ctx context.Context, limit int) ([]model.PipelineJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM pipeline_jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list jobs")
	}
	defer rows.Close()

	var out []model.PipelineJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: scan job")
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}
