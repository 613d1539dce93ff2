package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filmradar_ingest_runs_total",
			Help: "Ingestion runs by terminal status",
		},
		[]string{"status"},
	)

	IngestRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filmradar_ingest_run_duration_seconds",
			Help:    "Wall time of one ingestion run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// SourceRequests counts outbound calls. outcome is "ok", "error" or "rejected"
	// (circuit open / rate limiter cancelled).
	SourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filmradar_source_requests_total",
			Help: "Outbound requests to external collaborators",
		},
		[]string{"source", "outcome"},
	)

	MatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filmradar_match_outcomes_total",
			Help: "Entity match attempts by outcome (accepted, rejected, empty)",
		},
		[]string{"outcome"},
	)

	LookupCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filmradar_lookup_cache_total",
			Help: "Metadata lookup cache hits and misses",
		},
		[]string{"result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "filmradar_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
