package enrich

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/progeodata/leadflow/internal/db"
	"github.com/progeodata/leadflow/internal/model"
)

// Sentinel errors.
var (
	ErrAlreadyEnriched = eris.New("enrich: record already enriched")
	ErrLeadNotFound    = eris.New("enrich: lead not found")
)

// Candidate is a raw record eligible for enrichment with its latest ICP score.
type Candidate struct {
	RawRecordID int64 `json:"raw_record_id"`
	IcpScore    int   `json:"icp_score"`
}

// Store persists enriched leads.
type Store interface {
	// ListCandidates returns records whose latest ICP score is at least
	// minICP and that have no lead yet, best score first.
	ListCandidates(ctx context.Context, minICP, limit int) ([]Candidate, error)
	// SaveLead inserts a lead and fills in its ID and CreatedAt. It returns
	// ErrAlreadyEnriched if the record already has a lead.
	SaveLead(ctx context.Context, lead *model.EnrichedLead) error
	GetLead(ctx context.Context, id int64) (*model.EnrichedLead, error)
}

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ListCandidates selects on each record's most recent ICP result only.
func (s *PostgresStore) ListCandidates(ctx context.Context, minICP, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT l.raw_record_id, l.score
		FROM (
			SELECT DISTINCT ON (raw_record_id) raw_record_id, score
			FROM icp_signal_results
			ORDER BY raw_record_id, id DESC
		) l
		WHERE l.score >= $1
		  AND NOT EXISTS (SELECT 1 FROM enriched_leads e WHERE e.raw_record_id = l.raw_record_id)
		ORDER BY l.score DESC, l.raw_record_id
		LIMIT $2`, minICP, limit)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: list candidates")
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.RawRecordID, &c.IcpScore); err != nil {
			return nil, eris.Wrap(err, "enrich: scan candidate")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveLead inserts lead. Leads are immutable, so a second lead for the same
// record is rejected rather than merged.
func (s *PostgresStore) SaveLead(ctx context.Context, lead *model.EnrichedLead) error {
	breakdown, err := json.Marshal(lead.Breakdown)
	if err != nil {
		return eris.Wrap(err, "enrich: marshal breakdown")
	}
	var provenance *string
	if lead.EmailProvenance != "" {
		p := string(lead.EmailProvenance)
		provenance = &p
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO enriched_leads (
			raw_record_id, icp_score, phone_e164, email, email_provenance,
			normalized_address, followers, engagement_rate, breakdown,
			score, grade, conversion_probability
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (raw_record_id) DO NOTHING
		RETURNING id, created_at`,
		lead.RawRecordID, lead.IcpScore, lead.Phone, lead.Email, provenance,
		lead.Address, lead.Followers, lead.EngagementRate, breakdown,
		lead.Score, string(lead.Grade), lead.ConversionProbability,
	).Scan(&lead.ID, &lead.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrAlreadyEnriched, "enrich: save lead for record %d", lead.RawRecordID)
	}
	if err != nil {
		return eris.Wrapf(err, "enrich: save lead for record %d", lead.RawRecordID)
	}
	return nil
}

// GetLead returns one lead by id.
func (s *PostgresStore) GetLead(ctx context.Context, id int64) (*model.EnrichedLead, error) {
	var (
		lead       model.EnrichedLead
		provenance *string
		breakdown  []byte
		grade      string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, raw_record_id, icp_score, phone_e164, email, email_provenance,
			normalized_address, followers, engagement_rate, breakdown,
			score, grade, conversion_probability, created_at
		FROM enriched_leads
		WHERE id = $1`, id,
	).Scan(
		&lead.ID, &lead.RawRecordID, &lead.IcpScore, &lead.Phone, &lead.Email, &provenance,
		&lead.Address, &lead.Followers, &lead.EngagementRate, &breakdown,
		&lead.Score, &grade, &lead.ConversionProbability, &lead.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrLeadNotFound, "enrich: get lead %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: get lead %d", id)
	}
	if provenance != nil {
		lead.EmailProvenance = model.EmailProvenance(*provenance)
	}
	lead.Grade = model.Grade(grade)
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &lead.Breakdown); err != nil {
			return nil, eris.Wrap(err, "enrich: decode breakdown")
		}
	}
	return &lead, nil
}
