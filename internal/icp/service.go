package icp

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/progeodata/leadflow/internal/metrics"
	"github.com/progeodata/leadflow/internal/model"
	"github.com/progeodata/leadflow/internal/resilience"
)

// StageName labels detection failures in reports.
const StageName = "detect"

// RecordLister lists raw records that have no ICP result.
type RecordLister interface {
	ListUnscored(ctx context.Context, limit int) ([]model.RawBusinessRecord, error)
}

// BatchReport summarizes one detection batch.
type BatchReport struct {
	BatchID    string                 `json:"batch_id"`
	Processed  int                    `json:"processed"`
	High       int                    `json:"high"`
	Medium     int                    `json:"medium"`
	Low        int                    `json:"low"`
	DurationMs int64                  `json:"duration_ms"`
	Errors     []resilience.UnitError `json:"errors,omitempty"`

	// Results holds the stored results, in input order.
	Results []model.IcpSignalResult `json:"-"`
}

// Qualified returns the number of high and medium results.
func (r *BatchReport) Qualified() int {
	return r.High + r.Medium
}

func (r *BatchReport) count(c model.IcpCategory) {
	switch c {
	case model.IcpHigh:
		r.High++
	case model.IcpMedium:
		r.Medium++
	default:
		r.Low++
	}
}

// Service runs the detector over batches of records and stores the results.
type Service struct {
	detector *Detector
	records  RecordLister
	results  ResultStore
	retry    resilience.RetryConfig
}

// Option configures a Service.
type Option func(*Service)

// WithRetry sets the retry policy for result writes.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(s *Service) { s.retry = cfg }
}

// NewService creates a detection service.
func NewService(detector *Detector, records RecordLister, results ResultStore, opts ...Option) *Service {
	s := &Service{
		detector: detector,
		records:  records,
		results:  results,
		retry:    resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Detector returns the service's detector.
func (s *Service) Detector() *Detector {
	return s.detector
}

// DetectBatch scores up to limit unscored records as a single detection
// batch with a fresh batch id.
func (s *Service) DetectBatch(ctx context.Context, limit int) (*BatchReport, error) {
	recs, err := s.records.ListUnscored(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "icp: list unscored records")
	}
	return s.DetectRecords(ctx, uuid.New().String(), recs)
}

// DetectRecords scores records under batchID. Each result is written on its
// own, so results written before a failure are kept. A record whose write
// fails permanently is reported and skipped; a write that still fails
// transiently after retries means the store is unavailable and aborts the
// batch.
func (s *Service) DetectRecords(ctx context.Context, batchID string, records []model.RawBusinessRecord) (*BatchReport, error) {
	log := zap.L().With(zap.String("phase", "icp"), zap.String("batch_id", batchID))
	start := time.Now()
	report := &BatchReport{BatchID: batchID}
	defer func() { report.DurationMs = time.Since(start).Milliseconds() }()

	for i := range records {
		if err := ctx.Err(); err != nil {
			return report, eris.Wrap(err, "icp: detect batch")
		}
		rec := &records[i]
		res := s.detector.Detect(rec)
		res.BatchID = batchID

		err := resilience.Do(ctx, s.retry, func(ctx context.Context) error {
			return s.results.SaveResult(ctx, &res)
		})
		if err != nil {
			ue := resilience.NewUnitError(StageName, strconv.FormatInt(rec.ID, 10), err)
			metrics.UnitErrorsTotal.WithLabelValues(StageName, ue.ErrorType).Inc()
			if ue.ErrorType == resilience.ErrorTypeTransient {
				report.Errors = append(report.Errors, ue)
				log.Error("icp: result store unavailable, aborting batch",
					zap.Int64("record_id", rec.ID), zap.Error(err))
				return report, eris.Wrapf(err, "icp: save result for record %d", rec.ID)
			}
			log.Warn("icp: result rejected", zap.Int64("record_id", rec.ID), zap.Error(err))
			report.Errors = append(report.Errors, ue)
			continue
		}

		report.Processed++
		report.count(res.Category)
		report.Results = append(report.Results, res)
		metrics.IcpResultsTotal.WithLabelValues(string(res.Category)).Inc()
	}

	log.Info("icp: batch complete",
		zap.Int("processed", report.Processed),
		zap.Int("high", report.High),
		zap.Int("medium", report.Medium),
		zap.Int("low", report.Low),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}
