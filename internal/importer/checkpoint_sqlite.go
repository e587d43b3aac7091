package importer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteCheckpointStore keeps checkpoints in a local SQLite file, for imports
// run without a shared store.
type SQLiteCheckpointStore struct {
	db *sql.DB
}

const sqliteCheckpointSchema = `
CREATE TABLE IF NOT EXISTS import_checkpoints (
	job_id     TEXT PRIMARY KEY,
	checkpoint TEXT NOT NULL,
	status     TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);`

// OpenSQLiteCheckpointStore opens dsn in WAL mode and creates the table.
func OpenSQLiteCheckpointStore(ctx context.Context, dsn string) (*SQLiteCheckpointStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "importer: open sqlite")
	}
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
		sqliteCheckpointSchema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "importer: sqlite exec %q", stmt)
		}
	}
	return &SQLiteCheckpointStore{db: db}, nil
}

func (s *SQLiteCheckpointStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteCheckpointStore) Load(ctx context.Context, jobID string) (*Checkpoint, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT checkpoint FROM import_checkpoints WHERE job_id = ?`, jobID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, eris.Wrapf(err, "importer: load checkpoint %s", jobID)
	}
	return decodeCheckpoint([]byte(data))
}

func (s *SQLiteCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return eris.Wrap(err, "importer: encode checkpoint")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO import_checkpoints (job_id, checkpoint, status, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(job_id) DO UPDATE SET
			checkpoint = excluded.checkpoint,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		cp.JobID, string(data), string(cp.Status))
	if err != nil {
		return eris.Wrapf(err, "importer: save checkpoint %s", cp.JobID)
	}
	return nil
}
