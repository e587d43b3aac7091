package publish

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/progeodata/leadflow/internal/db"
	"github.com/progeodata/leadflow/internal/model"
)

// Sentinel errors.
var (
	ErrAlreadyPublished = eris.New("publish: lead already has a profile")
	ErrSlugTaken        = eris.New("publish: slug taken")
	ErrProfileNotFound  = eris.New("publish: profile not found")
)

// Event is a tracked profile interaction.
type Event string

// Tracked events.
const (
	EventView  Event = "view"
	EventClick Event = "click"
)

// Store persists profiles.
type Store interface {
	// ListPublishable returns ids of leads with one of grades and no
	// profile, best score first.
	ListPublishable(ctx context.Context, grades []model.Grade, limit int) ([]int64, error)
	// SlugsLike returns existing slugs equal to base or starting with base-.
	SlugsLike(ctx context.Context, base string) ([]string, error)
	// SaveProfile inserts a profile and fills in its ID and CreatedAt. It
	// returns ErrAlreadyPublished or ErrSlugTaken on conflicts.
	SaveProfile(ctx context.Context, p *model.PublishableProfile) error
	GetProfile(ctx context.Context, slug string) (*model.PublishableProfile, error)
	// ClaimProfile marks a profile claimed. Claiming is one-way and claiming
	// twice is a no-op.
	ClaimProfile(ctx context.Context, slug string) (*model.PublishableProfile, error)
	Track(ctx context.Context, slug string, ev Event) error
}

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) ListPublishable(ctx context.Context, grades []model.Grade, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	gs := make([]string, len(grades))
	for i, g := range grades {
		gs[i] = string(g)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT e.id
		FROM enriched_leads e
		WHERE e.grade = ANY($1)
		  AND NOT EXISTS (SELECT 1 FROM publishable_profiles p WHERE p.enriched_lead_id = e.id)
		ORDER BY e.score DESC, e.id
		LIMIT $2`, gs, limit)
	if err != nil {
		return nil, eris.Wrap(err, "publish: list publishable leads")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "publish: scan lead id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SlugsLike relies on slugs containing only [a-z0-9-], so base needs no
// LIKE escaping.
func (s *PostgresStore) SlugsLike(ctx context.Context, base string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT slug FROM publishable_profiles WHERE slug = $1 OR slug LIKE $2`,
		base, base+"-%")
	if err != nil {
		return nil, eris.Wrapf(err, "publish: slugs like %s", base)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, eris.Wrap(err, "publish: scan slug")
		}
		out = append(out, slug)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveProfile(ctx context.Context, p *model.PublishableProfile) error {
	keywords := p.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO publishable_profiles (
			enriched_lead_id, slug, seo_title, seo_description, keywords,
			content, structured_data, claimed, views, clicks
		) VALUES ($1, $2, $3, $4, $5, $6, $7, false, 0, 0)
		ON CONFLICT (enriched_lead_id) DO NOTHING
		RETURNING id, created_at`,
		p.EnrichedLeadID, p.Slug, p.Title, p.MetaDescription, keywords,
		p.Content, []byte(p.StructuredData),
	).Scan(&p.ID, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrAlreadyPublished, "publish: save profile for lead %d", p.EnrichedLeadID)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return eris.Wrapf(ErrSlugTaken, "publish: save profile %s", p.Slug)
	}
	if err != nil {
		return eris.Wrapf(err, "publish: save profile for lead %d", p.EnrichedLeadID)
	}
	return nil
}

const profileColumns = `id, enriched_lead_id, slug, seo_title, seo_description, keywords,
	content, structured_data, claimed, views, clicks, created_at`

func scanProfile(row pgx.Row) (*model.PublishableProfile, error) {
	var (
		p    model.PublishableProfile
		data []byte
	)
	if err := row.Scan(&p.ID, &p.EnrichedLeadID, &p.Slug, &p.Title, &p.MetaDescription, &p.Keywords,
		&p.Content, &data, &p.Claimed, &p.Views, &p.Clicks, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.StructuredData = data
	return &p, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, slug string) (*model.PublishableProfile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM publishable_profiles WHERE slug = $1`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrProfileNotFound, "publish: get profile %s", slug)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "publish: get profile %s", slug)
	}
	return p, nil
}

func (s *PostgresStore) ClaimProfile(ctx context.Context, slug string) (*model.PublishableProfile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`UPDATE publishable_profiles SET claimed = true WHERE slug = $1 RETURNING `+profileColumns, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrProfileNotFound, "publish: claim profile %s", slug)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "publish: claim profile %s", slug)
	}
	return p, nil
}

func (s *PostgresStore) Track(ctx context.Context, slug string, ev Event) error {
	var sql string
	switch ev {
	case EventView:
		sql = `UPDATE publishable_profiles SET views = views + 1 WHERE slug = $1`
	case EventClick:
		sql = `UPDATE publishable_profiles SET clicks = clicks + 1 WHERE slug = $1`
	default:
		return eris.Errorf("publish: unknown event %q", ev)
	}
	tag, err := s.pool.Exec(ctx, sql, slug)
	if err != nil {
		return eris.Wrapf(err, "publish: track %s on %s", ev, slug)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrProfileNotFound, "publish: track %s on %s", ev, slug)
	}
	return nil
}
