package discovery

import (
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/progeodata/leadflow/internal/db"
	"github.com/progeodata/leadflow/internal/model"
)

// Table is the raw record table name.
const Table = "raw_business_records"

// RecordColumns are the insertable raw record columns, in row order.
var RecordColumns = []string{
	"source", "external_id", "name",
	"street", "city", "state", "postal_code", "address",
	"phone", "website", "description", "facebook", "instagram",
	"location", "categories", "hours", "rating", "review_count",
	"verified", "payload",
}

// InsertConfig returns the multi-row insert config for raw records.
// Conflicting (source, external_id) rows are skipped so stored records are
// never modified.
func InsertConfig() db.InsertConfig {
	return db.InsertConfig{
		Table:        Table,
		Columns:      RecordColumns,
		ConflictKeys: []string{"source", "external_id"},
		Wrap:         map[string]string{"location": "ST_GeomFromEWKB(%s)"},
	}
}

// RecordRow flattens a record into RecordColumns order.
func RecordRow(r *model.RawBusinessRecord) ([]any, error) {
	loc, err := EncodeLocation(r.Location)
	if err != nil {
		return nil, err
	}
	categories := r.Categories
	if categories == nil {
		categories = []string{}
	}
	var payload []byte
	if len(r.Payload) > 0 {
		payload = r.Payload
	}
	return []any{
		r.Source, r.ExternalID, r.Name,
		r.Street, r.City, r.State, r.PostalCode, r.Address,
		r.Phone, r.Website, r.Description, r.Facebook, r.Instagram,
		loc, categories, r.Hours, r.Rating, r.ReviewCount,
		r.Verified, payload,
	}, nil
}

// EncodeLocation renders a coordinate as an SRID 4326 EWKB point, or nil.
func EncodeLocation(p *model.GeoPoint) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	pt := geom.NewPointFlat(geom.XY, []float64{p.Lng, p.Lat}).SetSRID(4326)
	data, err := ewkb.Marshal(pt, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: encode location")
	}
	return data, nil
}

// DecodeLocation parses an EWKB point back into a coordinate.
func DecodeLocation(data []byte) (*model.GeoPoint, error) {
	if len(data) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: decode location")
	}
	pt, ok := g.(*geom.Point)
	if !ok {
		return nil, eris.Errorf("discovery: location is %T, want point", g)
	}
	return &model.GeoPoint{Lat: pt.Y(), Lng: pt.X()}, nil
}

const selectColumns = `id, source, external_id, name,
	street, city, state, postal_code, address,
	phone, website, description, facebook, instagram,
	ST_AsEWKB(location), categories, hours, rating, review_count,
	verified, payload, created_at`

func scanRecords(rows pgx.Rows) ([]model.RawBusinessRecord, error) {
	var out []model.RawBusinessRecord
	for rows.Next() {
		var (
			r       model.RawBusinessRecord
			loc     []byte
			payload []byte
		)
		if err := rows.Scan(
			&r.ID, &r.Source, &r.ExternalID, &r.Name,
			&r.Street, &r.City, &r.State, &r.PostalCode, &r.Address,
			&r.Phone, &r.Website, &r.Description, &r.Facebook, &r.Instagram,
			&loc, &r.Categories, &r.Hours, &r.Rating, &r.ReviewCount,
			&r.Verified, &payload, &r.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "discovery: scan record")
		}
		p, err := DecodeLocation(loc)
		if err != nil {
			return nil, err
		}
		r.Location = p
		if len(payload) > 0 {
			r.Payload = json.RawMessage(payload)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
