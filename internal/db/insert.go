package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// MaxBindParams is the Postgres limit on bind parameters per statement.
const MaxBindParams = 65535

// InsertConfig defines the target of a multi-row insert.
type InsertConfig struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // columns, in row order
	ConflictKeys []string // if set, rows conflicting on these columns are skipped

	// Wrap maps a column to a format string applied to its placeholder,
	// e.g. "location": "ST_GeomFromEWKB(%s)".
	Wrap map[string]string
}

// Validate checks that the config can produce a statement.
func (c InsertConfig) Validate() error {
	if c.Table == "" {
		return eris.New("db: insert: no table specified")
	}
	if len(c.Columns) == 0 {
		return eris.New("db: insert: no columns specified")
	}
	return nil
}

// RowsPerStatement returns how many rows fit in one statement under the
// bind parameter limit.
func (c InsertConfig) RowsPerStatement() int {
	if len(c.Columns) == 0 {
		return 0
	}
	return MaxBindParams / len(c.Columns)
}

// InsertRows writes rows with multi-row INSERT statements on ex, which is
// normally an open transaction. Rows are split across statements only when a
// single statement would exceed the bind parameter limit; callers that need
// atomicity pass a transaction. Returns the number of rows inserted.
func InsertRows(ctx context.Context, ex Execer, cfg InsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	per := cfg.RowsPerStatement()
	var total int64
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}

		sql, args, err := BuildInsert(cfg, rows[start:end])
		if err != nil {
			return total, err
		}
		tag, err := ex.Exec(ctx, sql, args...)
		if err != nil {
			return total, eris.Wrapf(err, "db: insert into %s", cfg.Table)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// BuildInsert renders one INSERT ... VALUES (...), (...) statement and its
// flattened arguments.
func BuildInsert(cfg InsertConfig, rows [][]any) (string, []any, error) {
	if err := cfg.Validate(); err != nil {
		return "", nil, err
	}
	width := len(cfg.Columns)

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", sanitizeTable(cfg.Table), quoteAndJoin(cfg.Columns))

	args := make([]any, 0, len(rows)*width)
	for i, row := range rows {
		if len(row) != width {
			return "", nil, eris.Errorf("db: insert: row %d has %d values, want %d", i, len(row), width)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			ph := fmt.Sprintf("$%d", len(args)+j+1)
			if w, ok := cfg.Wrap[cfg.Columns[j]]; ok {
				ph = fmt.Sprintf(w, ph)
			}
			b.WriteString(ph)
		}
		b.WriteByte(')')
		args = append(args, row...)
	}

	if len(cfg.ConflictKeys) > 0 {
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", quoteAndJoin(cfg.ConflictKeys))
	}
	return b.String(), args, nil
}

// sanitizeTable handles schema-qualified table names like "public.raw_business_records".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
