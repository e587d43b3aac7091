package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Discovery source identifiers.
const (
	SourceGooglePlaces = "google_places"
	SourceFixture      = "fixture"
	SourceImport       = "import"
)

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RawBusinessRecord is a business as returned by an external discovery source.
// Records are immutable once stored; corrections live in the enrichment layer.
type RawBusinessRecord struct {
	ID          int64           `json:"id,omitempty" db:"id"`
	Source      string          `json:"source" db:"source" validate:"required"`
	ExternalID  string          `json:"external_id" db:"external_id" validate:"required"`
	Name        string          `json:"name" db:"name" validate:"required"`
	Street      string          `json:"street,omitempty" db:"street"`
	City        string          `json:"city,omitempty" db:"city"`
	State       string          `json:"state,omitempty" db:"state"`
	PostalCode  string          `json:"postal_code,omitempty" db:"postal_code"`
	Address     string          `json:"address,omitempty" db:"address"`
	Phone       string          `json:"phone,omitempty" db:"phone"`
	Website     *string         `json:"website,omitempty" db:"website" validate:"omitempty,url"`
	Description string          `json:"description,omitempty" db:"description"`
	Facebook    string          `json:"facebook,omitempty" db:"facebook"`
	Instagram   string          `json:"instagram,omitempty" db:"instagram"`
	Location    *GeoPoint       `json:"location,omitempty" db:"location"`
	Categories  []string        `json:"categories,omitempty" db:"categories"`
	Hours       []string        `json:"hours,omitempty" db:"hours"`
	Rating      *float64        `json:"rating,omitempty" db:"rating" validate:"omitempty,gte=0,lte=5"`
	ReviewCount *int            `json:"review_count,omitempty" db:"review_count" validate:"omitempty,gte=0"`
	Verified    bool            `json:"verified" db:"verified"`
	Payload     json.RawMessage `json:"payload,omitempty" db:"payload"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// HasWebsite reports whether the record carries a non-blank website.
func (r *RawBusinessRecord) HasWebsite() bool {
	return r.Website != nil && strings.TrimSpace(*r.Website) != ""
}

// HasSocial reports whether the record has a Facebook or Instagram handle.
func (r *RawBusinessRecord) HasSocial() bool {
	return strings.TrimSpace(r.Facebook) != "" || strings.TrimSpace(r.Instagram) != ""
}

// FullAddress returns the formatted address, assembling it from parts when the
// source did not supply one.
func (r *RawBusinessRecord) FullAddress() string {
	if strings.TrimSpace(r.Address) != "" {
		return strings.TrimSpace(r.Address)
	}
	var parts []string
	for _, p := range []string{r.Street, r.City, strings.TrimSpace(r.State + " " + r.PostalCode)} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// PrimaryCategory returns the first category tag, or "" when untagged.
func (r *RawBusinessRecord) PrimaryCategory() string {
	for _, c := range r.Categories {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}
