package discovery

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/progeodata/leadflow/internal/model"
)

// StaticSource replays records from a JSON fixture file. It serves offline
// runs and tests.
type StaticSource struct {
	records []model.RawBusinessRecord
}

// NewStaticSource creates a source over an in-memory record list.
func NewStaticSource(records []model.RawBusinessRecord) *StaticSource {
	return &StaticSource{records: records}
}

// LoadStaticSource reads a JSON array of records from path.
func LoadStaticSource(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fixture: read %s", path)
	}
	var recs []model.RawBusinessRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, eris.Wrapf(err, "fixture: parse %s", path)
	}
	return NewStaticSource(recs), nil
}

// Name implements Source.
func (s *StaticSource) Name() string { return model.SourceFixture }

// Search returns fixture records whose name, description or categories
// contain query and whose address contains location. Blank filters match
// everything.
func (s *StaticSource) Search(ctx context.Context, query, location string) ([]model.RawBusinessRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	loc := strings.ToLower(strings.TrimSpace(location))

	var out []model.RawBusinessRecord
	for _, r := range s.records {
		if q != "" && !matchesQuery(&r, q) {
			continue
		}
		if loc != "" && !strings.Contains(strings.ToLower(r.FullAddress()+" "+r.City+" "+r.State), loc) {
			continue
		}
		if r.Source == "" {
			r.Source = model.SourceFixture
		}
		out = append(out, r)
	}
	return out, nil
}

func matchesQuery(r *model.RawBusinessRecord, q string) bool {
	if strings.Contains(strings.ToLower(r.Name), q) || strings.Contains(strings.ToLower(r.Description), q) {
		return true
	}
	for _, c := range r.Categories {
		if strings.Contains(strings.ToLower(c), q) {
			return true
		}
	}
	return false
}
