// Package enrich turns qualified raw records into scored, graded leads:
// phone normalization, an email discovery cascade, address cleanup, social
// proof and the composite lead score.
package enrich

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/progeodata/leadflow/internal/metrics"
	"github.com/progeodata/leadflow/internal/model"
	"github.com/progeodata/leadflow/internal/resilience"
	"github.com/progeodata/leadflow/pkg/facebook"
	"github.com/progeodata/leadflow/pkg/hunter"
)

// StageName labels enrichment failures in reports.
const StageName = "enrich"

// DefaultMinIcpScore is the lowest latest ICP score that qualifies a record.
const DefaultMinIcpScore = 40

// ErrBelowThreshold is returned when a record's ICP score is too low to enrich.
var ErrBelowThreshold = eris.New("enrich: icp score below threshold")

// RecordGetter loads raw records.
type RecordGetter interface {
	GetRecord(ctx context.Context, id int64) (*model.RawBusinessRecord, error)
}

// ScoreSource returns a record's latest ICP result.
type ScoreSource interface {
	LatestResult(ctx context.Context, rawRecordID int64) (*model.IcpSignalResult, error)
}

// Deps are the engine's collaborators. Fetcher, Facebook and Hunter are
// optional; a nil collaborator skips its step.
type Deps struct {
	Records  RecordGetter
	Scores   ScoreSource
	Store    Store
	Fetcher  PageFetcher
	Facebook facebook.Client
	Hunter   hunter.Client
	Throttle Throttle
}

// Config tunes the engine.
type Config struct {
	MinIcpScore int
	Region      string
	CallTimeout time.Duration
	Retry       resilience.RetryConfig
	Breaker     resilience.BreakerConfig
}

// Engine enriches records one at a time.
type Engine struct {
	records  RecordGetter
	scores   ScoreSource
	store    Store
	fetcher  PageFetcher
	facebook facebook.Client
	throttle Throttle
	breakers *resilience.Breakers

	emails      []EmailStrategy
	minICP      int
	region      string
	callTimeout time.Duration
	retry       resilience.RetryConfig
}

// NewEngine creates an enrichment engine. The email cascade is payload,
// website, email finder, then an info@ guess.
func NewEngine(deps Deps, cfg Config) *Engine {
	if cfg.MinIcpScore <= 0 {
		cfg.MinIcpScore = DefaultMinIcpScore
	}
	if cfg.Region == "" {
		cfg.Region = "US"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if deps.Throttle == nil {
		deps.Throttle = NoThrottle{}
	}

	e := &Engine{
		records:     deps.Records,
		scores:      deps.Scores,
		store:       deps.Store,
		fetcher:     deps.Fetcher,
		facebook:    deps.Facebook,
		throttle:    deps.Throttle,
		breakers:    resilience.NewBreakers(cfg.Breaker),
		minICP:      cfg.MinIcpScore,
		region:      cfg.Region,
		callTimeout: cfg.CallTimeout,
		retry:       cfg.Retry,
	}

	e.emails = append(e.emails, PayloadEmailStrategy())
	if deps.Fetcher != nil {
		e.emails = append(e.emails, WebsiteEmailStrategy(func(ctx context.Context, url string) ([]byte, error) {
			return external(ctx, e, "website", func(ctx context.Context) ([]byte, error) {
				return e.fetcher.Fetch(ctx, url)
			})
		}))
	}
	if deps.Hunter != nil {
		e.emails = append(e.emails, HunterEmailStrategy(deps.Hunter,
			func(ctx context.Context, fn func(ctx context.Context) (*hunter.DomainSearchResult, error)) (*hunter.DomainSearchResult, error) {
				return external(ctx, e, "hunter", fn)
			}))
	}
	e.emails = append(e.emails, GuessEmailStrategy())
	return e
}

// MinIcpScore returns the engine's default ICP threshold.
func (e *Engine) MinIcpScore() int {
	return e.minICP
}

// EmailStrategies returns the names of the email cascade, in order.
func (e *Engine) EmailStrategies() []string {
	out := make([]string, len(e.emails))
	for i, s := range e.emails {
		out[i] = s.Name
	}
	return out
}

// BreakerStates reports the circuit state of each external service.
func (e *Engine) BreakerStates() map[string]resilience.BreakerState {
	return e.breakers.States()
}

// external runs fn through the throttle, a per-call timeout, the service's
// circuit breaker and the retry policy.
func external[T any](ctx context.Context, e *Engine, service string, fn func(ctx context.Context) (T, error)) (T, error) {
	cb := e.breakers.For(service)
	cfg := e.retry
	cfg.OnRetry = resilience.RetryLogger(service, StageName)
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (T, error) {
		if err := e.throttle.Wait(ctx); err != nil {
			var zero T
			return zero, err
		}
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
		return resilience.Call(callCtx, cb, fn)
	})
}

// BatchReport summarizes one enrichment batch.
type BatchReport struct {
	Candidates int                    `json:"candidates"`
	Enriched   int                    `json:"enriched"`
	Skipped    int                    `json:"skipped"`
	Grades     map[model.Grade]int    `json:"grades"`
	DurationMs int64                  `json:"duration_ms"`
	Errors     []resilience.UnitError `json:"errors,omitempty"`

	Leads []model.EnrichedLead `json:"-"`
}

// EnrichLead enriches one record, provided its latest ICP score meets the
// engine threshold.
func (e *Engine) EnrichLead(ctx context.Context, rawRecordID int64) (*model.EnrichedLead, error) {
	res, err := e.scores.LatestResult(ctx, rawRecordID)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: lead %d", rawRecordID)
	}
	if res.Score < e.minICP {
		return nil, eris.Wrapf(ErrBelowThreshold, "enrich: record %d scored %d, need %d", rawRecordID, res.Score, e.minICP)
	}
	rec, err := e.records.GetRecord(ctx, rawRecordID)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: lead %d", rawRecordID)
	}

	lead := e.Enrich(ctx, rec, res.Score)
	if err := resilience.Do(ctx, e.retry, func(ctx context.Context) error {
		return e.store.SaveLead(ctx, lead)
	}); err != nil {
		return nil, err
	}
	metrics.LeadsEnrichedTotal.WithLabelValues(string(lead.Grade)).Inc()
	return lead, nil
}

// EnrichBatch enriches up to limit eligible records whose latest ICP score is
// at least minICP.
func (e *Engine) EnrichBatch(ctx context.Context, minICP, limit int) (*BatchReport, error) {
	if minICP <= 0 {
		minICP = e.minICP
	}
	cands, err := e.store.ListCandidates(ctx, minICP, limit)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: list candidates")
	}
	return e.EnrichCandidates(ctx, minICP, cands)
}

// EnrichCandidates enriches the given candidates in order. Candidates below
// minICP are skipped, as are records that already have a lead. Step failures
// only degrade the lead; a store that stays unavailable after retries aborts
// the batch, keeping the leads already written.
func (e *Engine) EnrichCandidates(ctx context.Context, minICP int, cands []Candidate) (*BatchReport, error) {
	log := zap.L().With(zap.String("phase", StageName))
	start := time.Now()
	report := &BatchReport{Candidates: len(cands), Grades: make(map[model.Grade]int)}
	defer func() { report.DurationMs = time.Since(start).Milliseconds() }()

	// unitFailed records err for the candidate and reports whether the batch
	// must stop.
	unitFailed := func(c Candidate, err error) bool {
		ue := resilience.NewUnitError(StageName, strconv.FormatInt(c.RawRecordID, 10), err)
		report.Errors = append(report.Errors, ue)
		metrics.UnitErrorsTotal.WithLabelValues(StageName, ue.ErrorType).Inc()
		if ue.ErrorType == resilience.ErrorTypeTransient {
			log.Error("enrich: store unavailable, aborting batch", zap.Int64("record_id", c.RawRecordID), zap.Error(err))
			return true
		}
		log.Warn("enrich: record failed", zap.Int64("record_id", c.RawRecordID), zap.Error(err))
		return false
	}

	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return report, eris.Wrap(err, "enrich: batch")
		}
		if c.IcpScore < minICP {
			report.Skipped++
			continue
		}

		rec, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*model.RawBusinessRecord, error) {
			return e.records.GetRecord(ctx, c.RawRecordID)
		})
		if err != nil {
			if unitFailed(c, err) {
				return report, eris.Wrapf(err, "enrich: load record %d", c.RawRecordID)
			}
			continue
		}

		lead := e.Enrich(ctx, rec, c.IcpScore)
		err = resilience.Do(ctx, e.retry, func(ctx context.Context) error {
			return e.store.SaveLead(ctx, lead)
		})
		if errors.Is(err, ErrAlreadyEnriched) {
			report.Skipped++
			continue
		}
		if err != nil {
			if unitFailed(c, err) {
				return report, eris.Wrapf(err, "enrich: save lead for record %d", c.RawRecordID)
			}
			continue
		}

		report.Enriched++
		report.Grades[lead.Grade]++
		report.Leads = append(report.Leads, *lead)
		metrics.LeadsEnrichedTotal.WithLabelValues(string(lead.Grade)).Inc()
	}

	log.Info("enrich: batch complete",
		zap.Int("candidates", report.Candidates),
		zap.Int("enriched", report.Enriched),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}

// Enrich builds a lead from rec without persisting it. Every step degrades to
// no data on failure, so Enrich never fails.
func (e *Engine) Enrich(ctx context.Context, rec *model.RawBusinessRecord, icpScore int) *model.EnrichedLead {
	log := zap.L().With(zap.String("phase", StageName), zap.Int64("record_id", rec.ID))

	lead := &model.EnrichedLead{
		RawRecordID: rec.ID,
		IcpScore:    icpScore,
		Phone:       NormalizePhone(rec.Phone, e.region),
		Address:     NormalizeAddress(rec.FullAddress()),
	}

	if email, prov := e.discoverEmail(ctx, rec); email != "" {
		lead.Email = &email
		lead.EmailProvenance = prov
	}

	if e.facebook != nil && rec.Facebook != "" {
		stats, err := external(ctx, e, "facebook", func(ctx context.Context) (*SocialStats, error) {
			return facebookStats(ctx, e.facebook, rec)
		})
		if err != nil {
			log.Warn("enrich: social lookup failed", zap.String("facebook", rec.Facebook), zap.Error(err))
			metrics.EnrichStepFailures.WithLabelValues("social").Inc()
		} else if stats != nil {
			followers, rate := stats.Followers, stats.EngagementRate
			lead.Followers = &followers
			lead.EngagementRate = &rate
		}
	}

	lead.Breakdown, lead.Score = Score(ScoreInput{
		HasPhone:        lead.Phone != nil,
		HasEmail:        lead.Email != nil,
		AddressComplete: addressComplete(rec),
		Followers:       lead.Followers,
		Verified:        rec.Verified,
		HasHours:        len(rec.Hours) > 0,
		IcpScore:        icpScore,
	})
	lead.Grade = model.GradeFor(lead.Score)
	lead.ConversionProbability = ConversionProbability(lead.Score)
	return lead
}

// discoverEmail runs the cascade and stops at the first valid address.
func (e *Engine) discoverEmail(ctx context.Context, rec *model.RawBusinessRecord) (string, model.EmailProvenance) {
	for _, s := range e.emails {
		if ctx.Err() != nil {
			return "", ""
		}
		email, err := s.Find(ctx, rec)
		if err != nil {
			zap.L().Warn("enrich: email strategy failed",
				zap.String("strategy", s.Name), zap.Int64("record_id", rec.ID), zap.Error(err))
			metrics.EnrichStepFailures.WithLabelValues("email_" + s.Name).Inc()
			continue
		}
		if email = CleanEmail(email); email != "" {
			return email, s.Provenance
		}
	}
	return "", ""
}
