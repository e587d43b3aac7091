package importer

import (
	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/progeodata/leadflow/internal/db"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Record is one input row keyed by field name.
type Record map[string]any

// Target describes where and how records are written.
type Target struct {
	Table        string   `json:"table"`
	Columns      []string `json:"columns"`
	ConflictKeys []string `json:"conflict_keys,omitempty"`

	// Mapping renames input fields to columns. Fields not listed map to the
	// column of the same name.
	Mapping map[string]string `json:"mapping,omitempty"`

	// Rules holds a validator tag per column, e.g. "required,max=255".
	Rules map[string]string `json:"rules,omitempty"`

	// Defaults holds the value bound for a column when the record has no
	// value for it. Columns without a default are bound as NULL.
	Defaults map[string]any `json:"defaults,omitempty"`
}

// ValidationFailure is one record that failed a column rule.
type ValidationFailure struct {
	Index  int    `json:"index"`
	Column string `json:"column"`
	Rule   string `json:"rule"`
	Error  string `json:"error"`
}

// RawRecordsTarget imports business records straight into the raw record
// table. Existing (source, external_id) pairs are left untouched.
func RawRecordsTarget() Target {
	return Target{
		Table: "raw_business_records",
		Columns: []string{
			"source", "external_id", "name", "street", "city", "state",
			"postal_code", "address", "phone", "website", "description",
		},
		ConflictKeys: []string{"source", "external_id"},
		Rules: map[string]string{
			"source":      "required",
			"external_id": "required",
			"name":        "required,max=300",
			"website":     "omitempty,url",
		},
		Defaults: map[string]any{
			"street":      "",
			"city":        "",
			"state":       "",
			"postal_code": "",
			"address":     "",
			"phone":       "",
			"description": "",
		},
	}
}

// Validate checks that the target can produce an insert.
func (t Target) Validate() error {
	if err := t.insertConfig().Validate(); err != nil {
		return eris.Wrap(err, "importer: target")
	}
	known := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		known[c] = true
	}
	for col := range t.Rules {
		if !known[col] {
			return eris.Errorf("importer: rule for unknown column %q", col)
		}
	}
	for col := range t.Defaults {
		if !known[col] {
			return eris.Errorf("importer: default for unknown column %q", col)
		}
	}
	return nil
}

func (t Target) insertConfig() db.InsertConfig {
	return db.InsertConfig{Table: t.Table, Columns: t.Columns, ConflictKeys: t.ConflictKeys}
}

// fields returns, per column, the input field feeding it.
func (t Target) fields() []string {
	byColumn := make(map[string]string, len(t.Mapping))
	for field, col := range t.Mapping {
		byColumn[col] = field
	}
	out := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		if f, ok := byColumn[col]; ok {
			out[i] = f
		} else {
			out[i] = col
		}
	}
	return out
}

// check validates every record and returns the indexes of the valid ones.
func (t Target) check(records []Record) ([]int, []ValidationFailure) {
	fields := t.fields()
	cols := make([]int, 0, len(t.Rules))
	for i, col := range t.Columns {
		if _, ok := t.Rules[col]; ok {
			cols = append(cols, i)
		}
	}

	valid := make([]int, 0, len(records))
	var failures []ValidationFailure
	for idx, rec := range records {
		ok := true
		for _, i := range cols {
			col := t.Columns[i]
			rule := t.Rules[col]
			if err := validate.Var(rec[fields[i]], rule); err != nil {
				failures = append(failures, ValidationFailure{Index: idx, Column: col, Rule: rule, Error: err.Error()})
				ok = false
			}
		}
		if ok {
			valid = append(valid, idx)
		}
	}
	return valid, failures
}

// rows renders the selected records in column order. Missing or null
// fields take the column default, or NULL when there is none.
func (t Target) rows(records []Record, idx []int) [][]any {
	fields := t.fields()
	out := make([][]any, len(idx))
	for n, i := range idx {
		row := make([]any, len(fields))
		for j, f := range fields {
			v := records[i][f]
			if v == nil {
				v = t.Defaults[t.Columns[j]]
			}
			row[j] = v
		}
		out[n] = row
	}
	return out
}
