package model

import (
	"encoding/json"
	"time"
)

// PublishableProfile is the public directory entry generated from a lead.
// Claimed only ever moves false -> true, through the claim workflow.
type PublishableProfile struct {
	ID              int64           `json:"id,omitempty" db:"id"`
	EnrichedLeadID  int64           `json:"enriched_lead_id" db:"enriched_lead_id"`
	Slug            string          `json:"slug" db:"slug"`
	Title           string          `json:"title" db:"seo_title"`
	MetaDescription string          `json:"meta_description" db:"seo_description"`
	Keywords        []string        `json:"keywords" db:"keywords"`
	Content         string          `json:"content" db:"content"`
	StructuredData  json.RawMessage `json:"structured_data" db:"structured_data"`
	Claimed         bool            `json:"claimed" db:"claimed"`
	Views           int64           `json:"views" db:"views"`
	Clicks          int64           `json:"clicks" db:"clicks"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}
