package icp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/progeodata/leadflow/internal/db"
	"github.com/progeodata/leadflow/internal/model"
)

// ErrNotScored is returned when a record has no ICP result yet.
var ErrNotScored = eris.New("icp: record not scored")

// ResultStore persists detection results.
type ResultStore interface {
	// SaveResult appends a result row and fills in its ID and CreatedAt.
	// Saving the same (record, batch) pair twice is a no-op.
	SaveResult(ctx context.Context, res *model.IcpSignalResult) error
	// LatestResult returns the newest result for a raw record.
	LatestResult(ctx context.Context, rawRecordID int64) (*model.IcpSignalResult, error)
}

// PostgresStore implements ResultStore using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// SaveResult inserts one result row. Results are never updated.
func (s *PostgresStore) SaveResult(ctx context.Context, res *model.IcpSignalResult) error {
	signals, err := json.Marshal(res.Signals)
	if err != nil {
		return eris.Wrap(err, "icp: marshal signals")
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO icp_signal_results (raw_record_id, batch_id, signals, score, category)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (raw_record_id, batch_id) DO NOTHING
		RETURNING id, created_at`,
		res.RawRecordID, res.BatchID, signals, res.Score, string(res.Category),
	).Scan(&res.ID, &res.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "icp: save result for record %d", res.RawRecordID)
	}
	return nil
}

// LatestResult returns the most recent result for a record.
func (s *PostgresStore) LatestResult(ctx context.Context, rawRecordID int64) (*model.IcpSignalResult, error) {
	var (
		res      model.IcpSignalResult
		signals  []byte
		category string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, raw_record_id, batch_id, signals, score, category, created_at
		FROM icp_signal_results
		WHERE raw_record_id = $1
		ORDER BY id DESC
		LIMIT 1`, rawRecordID,
	).Scan(&res.ID, &res.RawRecordID, &res.BatchID, &signals, &res.Score, &category, &res.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotScored, "icp: latest result for record %d", rawRecordID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "icp: latest result for record %d", rawRecordID)
	}
	res.Category = model.IcpCategory(category)
	if len(signals) > 0 {
		if err := json.Unmarshal(signals, &res.Signals); err != nil {
			return nil, eris.Wrap(err, "icp: decode signals")
		}
	}
	return &res, nil
}
