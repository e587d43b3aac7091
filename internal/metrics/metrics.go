// Package metrics provides Prometheus metrics for the lead pipeline and importer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IcpResultsTotal tracks detection results by category
	IcpResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "icp",
			Name:      "results_total",
			Help:      "Total number of ICP signal results by category",
		},
		[]string{"category"},
	)

	// LeadsEnrichedTotal tracks enriched leads by grade
	LeadsEnrichedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "enrich",
			Name:      "leads_total",
			Help:      "Total number of enriched leads by grade",
		},
		[]string{"grade"},
	)

	// EnrichStepFailures tracks enrichment steps that degraded to no data
	EnrichStepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "enrich",
			Name:      "step_failures_total",
			Help:      "Total number of degraded enrichment steps by step",
		},
		[]string{"step"},
	)

	// ProfilesPublishedTotal tracks generated directory profiles
	ProfilesPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "publish",
			Name:      "profiles_total",
			Help:      "Total number of published profiles",
		},
	)

	// PipelineJobsTotal tracks pipeline jobs by terminal state
	PipelineJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "pipeline",
			Name:      "jobs_total",
			Help:      "Total number of pipeline jobs by final state",
		},
		[]string{"state"},
	)

	// PipelineJobDuration tracks pipeline job duration in seconds
	PipelineJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "leadflow",
			Subsystem: "pipeline",
			Name:      "job_duration_seconds",
			Help:      "Duration of pipeline jobs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// ImportChunksTotal tracks import chunks by outcome
	ImportChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "import",
			Name:      "chunks_total",
			Help:      "Total number of import chunks by outcome",
		},
		[]string{"outcome"},
	)

	// ImportChunkRetries tracks chunk transaction retries
	ImportChunkRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "import",
			Name:      "chunk_retries_total",
			Help:      "Total number of import chunk retries",
		},
	)

	// ImportRowsTotal tracks rows committed by the importer
	ImportRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Total number of rows committed by the importer",
		},
	)

	// UnitErrorsTotal tracks per-unit failures by stage and error type
	UnitErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "pipeline",
			Name:      "unit_errors_total",
			Help:      "Total number of per-unit failures by stage and error type",
		},
		[]string{"stage", "error_type"},
	)

	// BreakerState tracks the circuit state of each outbound service
	// (0 closed, 1 open, 2 half-open)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "leadflow",
			Subsystem: "enrich",
			Name:      "breaker_state",
			Help:      "Circuit state of each outbound service",
		},
		[]string{"service"},
	)
)
