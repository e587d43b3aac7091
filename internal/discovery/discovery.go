// Package discovery finds businesses through external sources and keeps the
// immutable raw record store the rest of the pipeline reads from.
package discovery

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/progeodata/leadflow/internal/model"
)

// ErrNotFound is returned when a requested raw record does not exist.
var ErrNotFound = eris.New("discovery: record not found")

// Source searches an external business directory.
type Source interface {
	Name() string
	Search(ctx context.Context, query, location string) ([]model.RawBusinessRecord, error)
}

// Store persists raw business records. Records are insert-only.
type Store interface {
	// InsertRecords stores new records, skipping any whose (source,
	// external id) already exists, and returns the ids of every input record
	// in input order, whether newly inserted or pre-existing.
	InsertRecords(ctx context.Context, records []model.RawBusinessRecord) ([]int64, error)
	GetRecord(ctx context.Context, id int64) (*model.RawBusinessRecord, error)
	// ListUnscored returns records that have no ICP result yet, oldest first.
	ListUnscored(ctx context.Context, limit int) ([]model.RawBusinessRecord, error)
}
