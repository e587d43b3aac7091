package discovery

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/progeodata/leadflow/internal/db"
	"github.com/progeodata/leadflow/internal/model"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InsertRecords inserts records with ON CONFLICT DO NOTHING inside one
// transaction, then resolves the id of every input record.
func (s *PostgresStore) InsertRecords(ctx context.Context, records []model.RawBusinessRecord) ([]int64, error) {
	if len(records) == 0 {
		return nil, nil
	}

	rows := make([][]any, len(records))
	sources := make([]string, len(records))
	externalIDs := make([]string, len(records))
	for i := range records {
		row, err := RecordRow(&records[i])
		if err != nil {
			return nil, err
		}
		rows[i] = row
		sources[i] = records[i].Source
		externalIDs[i] = records[i].ExternalID
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: begin insert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := db.InsertRows(ctx, tx, InsertConfig(), rows); err != nil {
		return nil, eris.Wrap(err, "discovery: insert records")
	}

	idRows, err := tx.Query(ctx, `
		SELECT r.id
		FROM unnest($1::text[], $2::text[]) WITH ORDINALITY AS k(source, external_id, ord)
		JOIN raw_business_records r ON r.source = k.source AND r.external_id = k.external_id
		ORDER BY k.ord`, sources, externalIDs)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: resolve record ids")
	}
	var ids []int64
	for idRows.Next() {
		var id int64
		if err := idRows.Scan(&id); err != nil {
			idRows.Close()
			return nil, eris.Wrap(err, "discovery: scan record id")
		}
		ids = append(ids, id)
	}
	idRows.Close()
	if err := idRows.Err(); err != nil {
		return nil, eris.Wrap(err, "discovery: resolve record ids")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "discovery: commit insert")
	}
	return ids, nil
}

// GetRecord returns one raw record by id.
func (s *PostgresStore) GetRecord(ctx context.Context, id int64) (*model.RawBusinessRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM raw_business_records WHERE id = $1`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: get record %d", id)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "discovery: get record %d", id)
	}
	return &recs[0], nil
}

// ListUnscored returns records with no ICP signal result, oldest first.
func (s *PostgresStore) ListUnscored(ctx context.Context, limit int) ([]model.RawBusinessRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM raw_business_records r
		WHERE NOT EXISTS (SELECT 1 FROM icp_signal_results s WHERE s.raw_record_id = r.id)
		ORDER BY r.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: list unscored")
	}
	defer rows.Close()
	return scanRecords(rows)
}

// IsNotFound reports whether err wraps ErrNotFound or pgx.ErrNoRows.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}
