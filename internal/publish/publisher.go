// Package publish turns A and B grade leads into public directory profiles
// with unique slugs, SEO metadata, templated body content and LocalBusiness
// structured data.
package publish

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/progeodata/leadflow/internal/metrics"
	"github.com/progeodata/leadflow/internal/model"
	"github.com/progeodata/leadflow/internal/resilience"
)

// StageName labels publishing failures in reports.
const StageName = "publish"

// DefaultMinGrade is the lowest grade published unless configured otherwise.
const DefaultMinGrade = model.GradeB

// maxSlugAttempts bounds how often a slug is re-picked after losing an
// insert race.
const maxSlugAttempts = 5

// ErrBelowGrade is returned when a lead's grade is too low to publish.
var ErrBelowGrade = eris.New("publish: lead grade below minimum")

// LeadGetter loads enriched leads.
type LeadGetter interface {
	GetLead(ctx context.Context, id int64) (*model.EnrichedLead, error)
}

// RecordGetter loads raw records.
type RecordGetter interface {
	GetRecord(ctx context.Context, id int64) (*model.RawBusinessRecord, error)
}

// Config tunes the publisher.
type Config struct {
	MinGrade  model.Grade
	Brand     string
	Language  string
	BaseURL   string
	Templates *Templates
	Retry     resilience.RetryConfig
}

// Publisher generates and stores profiles.
type Publisher struct {
	leads     LeadGetter
	records   RecordGetter
	store     Store
	templates *Templates
	minGrade  model.Grade
	brand     string
	lang      string
	baseURL   string
	retry     resilience.RetryConfig
}

// NewPublisher creates a Publisher.
func NewPublisher(leads LeadGetter, records RecordGetter, store Store, cfg Config) *Publisher {
	if cfg.MinGrade == "" {
		cfg.MinGrade = DefaultMinGrade
	}
	if cfg.Templates == nil {
		cfg.Templates = DefaultTemplates()
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	return &Publisher{
		leads:     leads,
		records:   records,
		store:     store,
		templates: cfg.Templates,
		minGrade:  cfg.MinGrade,
		brand:     cfg.Brand,
		lang:      cfg.Language,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		retry:     cfg.Retry,
	}
}

// MinGrade returns the publisher's default grade gate.
func (p *Publisher) MinGrade() model.Grade {
	return p.minGrade
}

// Store returns the profile store.
func (p *Publisher) Store() Store {
	return p.store
}

// BatchReport summarizes one publishing batch.
type BatchReport struct {
	Candidates int                    `json:"candidates"`
	Published  int                    `json:"published"`
	Skipped    int                    `json:"skipped"`
	DurationMs int64                  `json:"duration_ms"`
	Errors     []resilience.UnitError `json:"errors,omitempty"`

	Profiles []model.PublishableProfile `json:"-"`
}

// GenerateProfile publishes one lead if it meets the publisher's grade gate.
func (p *Publisher) GenerateProfile(ctx context.Context, leadID int64) (*model.PublishableProfile, error) {
	lead, err := p.leads.GetLead(ctx, leadID)
	if err != nil {
		return nil, eris.Wrapf(err, "publish: lead %d", leadID)
	}
	prof, err := p.publish(ctx, lead, p.minGrade)
	if err != nil {
		return nil, err
	}
	metrics.ProfilesPublishedTotal.Inc()
	return prof, nil
}

// GenerateBatch publishes up to limit unpublished leads graded minGrade or
// better. An empty minGrade uses the publisher default.
func (p *Publisher) GenerateBatch(ctx context.Context, minGrade model.Grade, limit int) (*BatchReport, error) {
	if minGrade == "" {
		minGrade = p.minGrade
	}
	ids, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) ([]int64, error) {
		return p.store.ListPublishable(ctx, model.GradesAtLeast(minGrade), limit)
	})
	if err != nil {
		return nil, eris.Wrap(err, "publish: list publishable leads")
	}

	report := p.newRun(len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report.finish(), eris.Wrap(err, "publish: batch")
		}
		lead, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) (*model.EnrichedLead, error) {
			return p.leads.GetLead(ctx, id)
		})
		if err != nil {
			if report.unitFailed(id, err) {
				return report.finish(), eris.Wrapf(err, "publish: load lead %d", id)
			}
			continue
		}
		if err := report.publishOne(ctx, p, lead, minGrade); err != nil {
			return report.finish(), err
		}
	}
	return report.finish(), nil
}

// PublishLeads publishes the given leads in order, skipping those below
// minGrade and those that already have a profile.
func (p *Publisher) PublishLeads(ctx context.Context, minGrade model.Grade, leads []model.EnrichedLead) (*BatchReport, error) {
	if minGrade == "" {
		minGrade = p.minGrade
	}
	report := p.newRun(len(leads))
	for i := range leads {
		if err := ctx.Err(); err != nil {
			return report.finish(), eris.Wrap(err, "publish: batch")
		}
		if err := report.publishOne(ctx, p, &leads[i], minGrade); err != nil {
			return report.finish(), err
		}
	}
	return report.finish(), nil
}

type run struct {
	*BatchReport
	log   *zap.Logger
	start time.Time
}

func (p *Publisher) newRun(candidates int) *run {
	return &run{
		BatchReport: &BatchReport{Candidates: candidates},
		log:         zap.L().With(zap.String("phase", StageName)),
		start:       time.Now(),
	}
}

// unitFailed records err for the lead and reports whether the batch must
// stop.
func (r *run) unitFailed(leadID int64, err error) bool {
	ue := resilience.NewUnitError(StageName, strconv.FormatInt(leadID, 10), err)
	r.Errors = append(r.Errors, ue)
	metrics.UnitErrorsTotal.WithLabelValues(StageName, ue.ErrorType).Inc()
	if ue.ErrorType == resilience.ErrorTypeTransient {
		r.log.Error("publish: store unavailable, aborting batch", zap.Int64("lead_id", leadID), zap.Error(err))
		return true
	}
	r.log.Warn("publish: lead failed", zap.Int64("lead_id", leadID), zap.Error(err))
	return false
}

// publishOne returns an error only when the batch must stop.
func (r *run) publishOne(ctx context.Context, p *Publisher, lead *model.EnrichedLead, minGrade model.Grade) error {
	prof, err := p.publish(ctx, lead, minGrade)
	switch {
	case errors.Is(err, ErrBelowGrade), errors.Is(err, ErrAlreadyPublished):
		r.Skipped++
		return nil
	case err != nil:
		if r.unitFailed(lead.ID, err) {
			return eris.Wrapf(err, "publish: lead %d", lead.ID)
		}
		return nil
	}
	r.Published++
	r.Profiles = append(r.Profiles, *prof)
	metrics.ProfilesPublishedTotal.Inc()
	return nil
}

func (r *run) finish() *BatchReport {
	r.DurationMs = time.Since(r.start).Milliseconds()
	r.log.Info("publish: batch complete",
		zap.Int("candidates", r.Candidates),
		zap.Int("published", r.Published),
		zap.Int("skipped", r.Skipped),
		zap.Int("errors", len(r.Errors)),
	)
	return r.BatchReport
}

// publish builds and stores the profile for lead.
func (p *Publisher) publish(ctx context.Context, lead *model.EnrichedLead, minGrade model.Grade) (*model.PublishableProfile, error) {
	if !lead.Grade.AtLeast(minGrade) {
		return nil, eris.Wrapf(ErrBelowGrade, "publish: lead %d is grade %s, need %s", lead.ID, lead.Grade, minGrade)
	}
	rec, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) (*model.RawBusinessRecord, error) {
		return p.records.GetRecord(ctx, lead.RawRecordID)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "publish: load record %d", lead.RawRecordID)
	}

	prof, err := p.Build(rec, lead)
	if err != nil {
		return nil, err
	}

	base := prof.Slug
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		taken, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) ([]string, error) {
			return p.store.SlugsLike(ctx, base)
		})
		if err != nil {
			return nil, err
		}
		prof.Slug = nextSlug(base, taken)
		if err := p.setPageURL(prof, rec, lead); err != nil {
			return nil, err
		}

		err = resilience.Do(ctx, p.retry, func(ctx context.Context) error {
			return p.store.SaveProfile(ctx, prof)
		})
		if errors.Is(err, ErrSlugTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return prof, nil
	}
	return nil, eris.Wrapf(ErrSlugTaken, "publish: no free slug for %s after %d attempts", base, maxSlugAttempts)
}

// Build renders a profile for rec and lead without storing it. The slug is
// the base slug; collisions are resolved when the profile is saved.
func (p *Publisher) Build(rec *model.RawBusinessRecord, lead *model.EnrichedLead) (*model.PublishableProfile, error) {
	key := CategoryKey(rec.Categories)
	label := CategoryLabel(rec.Categories)

	data := ContentData{
		Name:     strings.TrimSpace(rec.Name),
		Category: strings.ToLower(label),
		Locality: locality(rec),
		Address:  lead.Address,
		Hours:    rec.Hours,
		Brand:    p.brand,
	}
	if data.Locality == "" {
		data.Locality = "your area"
	}
	if lead.Phone != nil {
		data.Phone = *lead.Phone
	}
	if lead.Email != nil {
		data.Email = *lead.Email
	}
	if rec.HasWebsite() {
		data.Website = strings.TrimSpace(*rec.Website)
	}
	if rating, ok := ratingText(rec); ok {
		data.Rating = rating
		data.ReviewCount = *rec.ReviewCount
	}

	content, err := p.templates.Render(key, data)
	if err != nil {
		return nil, err
	}

	prof := &model.PublishableProfile{
		EnrichedLeadID:  lead.ID,
		Slug:            BaseSlug(rec),
		Title:           SEOTitle(rec, label, p.brand, p.lang),
		MetaDescription: MetaDescription(rec, strings.ToLower(label), p.brand, p.lang),
		Keywords:        Keywords(rec, label),
		Content:         content,
	}
	if err := p.setPageURL(prof, rec, lead); err != nil {
		return nil, err
	}
	return prof, nil
}

// setPageURL renders the structured data, which embeds the profile URL and
// so depends on the final slug.
func (p *Publisher) setPageURL(prof *model.PublishableProfile, rec *model.RawBusinessRecord, lead *model.EnrichedLead) error {
	pageURL := ""
	if p.baseURL != "" {
		pageURL = p.baseURL + "/" + prof.Slug
	}
	data, err := StructuredData(rec, lead, CategoryKey(rec.Categories), prof.MetaDescription, pageURL)
	if err != nil {
		return err
	}
	prof.StructuredData = data
	return nil
}
