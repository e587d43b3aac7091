package importer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/progeodata/leadflow/internal/db"
)

// PostgresCheckpointStore keeps checkpoints in the import_checkpoints table.
// It implements TxCheckpointStore.
type PostgresCheckpointStore struct {
	pool db.Pool
}

// NewPostgresCheckpointStore creates a new PostgresCheckpointStore.
func NewPostgresCheckpointStore(pool db.Pool) *PostgresCheckpointStore {
	return &PostgresCheckpointStore{pool: pool}
}

func (s *PostgresCheckpointStore) Load(ctx context.Context, jobID string) (*Checkpoint, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT checkpoint FROM import_checkpoints WHERE job_id = $1`, jobID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, eris.Wrapf(err, "importer: load checkpoint %s", jobID)
	}
	return decodeCheckpoint(data)
}

func (s *PostgresCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	return s.SaveTx(ctx, s.pool, cp)
}

const upsertCheckpoint = `
	INSERT INTO import_checkpoints (job_id, checkpoint, last_committed_chunk, imported, status, updated_at)
	VALUES ($1, $2, $3, $4, $5, now())
	ON CONFLICT (job_id) DO UPDATE SET
		checkpoint = EXCLUDED.checkpoint,
		last_committed_chunk = EXCLUDED.last_committed_chunk,
		imported = EXCLUDED.imported,
		status = EXCLUDED.status,
		updated_at = now()`

func (s *PostgresCheckpointStore) SaveTx(ctx context.Context, ex db.Execer, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return eris.Wrap(err, "importer: encode checkpoint")
	}
	if _, err := ex.Exec(ctx, upsertCheckpoint, cp.JobID, data, cp.LastCommittedChunk, cp.Imported, string(cp.Status)); err != nil {
		return eris.Wrapf(err, "importer: save checkpoint %s", cp.JobID)
	}
	return nil
}
