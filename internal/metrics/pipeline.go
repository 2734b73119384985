// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics defines the Prometheus instruments for the mediasearch
// pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestEventsTotal counts object store notifications by type and outcome.
	IngestEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediasearch_ingest_events_total",
		Help: "Object store events processed by event type and result",
	}, []string{"event", "result"})

	// JobsProcessedTotal counts orchestrator job completions by result.
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediasearch_jobs_processed_total",
		Help: "Transcription jobs processed by terminal result",
	}, []string{"result"})

	// JobDuration tracks wall-clock time per job through all five phases.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediasearch_job_duration_seconds",
		Help:    "End-to-end job processing duration",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"engine"})

	// RetriesScheduledTotal counts delayed re-enqueues by error kind.
	RetriesScheduledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediasearch_retries_scheduled_total",
		Help: "Retry jobs scheduled by error kind",
	}, []string{"kind"})

	// DLQTotal counts jobs parked in the dead-letter queue by error kind.
	DLQTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediasearch_dlq_total",
		Help: "Jobs routed to the dead-letter queue by error kind",
	}, []string{"kind"})

	// PublishTotal counts version cutovers by result.
	PublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediasearch_publish_total",
		Help: "Version publish operations by result",
	}, []string{"result"})

	// SearchDuration tracks query latency per search mode.
	SearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediasearch_search_duration_seconds",
		Help:    "Search query latency by mode",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"type"})

	// SegmentsWrittenTotal counts transcript segments written at STAGING.
	SegmentsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediasearch_segments_written_total",
		Help: "Transcript segments written by chunking strategy",
	}, []string{"strategy"})

	// circuitBreakerState exposes breaker state as a 0/1 gauge per state.
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediasearch_circuit_breaker_state",
		Help: "Circuit breaker state (1 for the active state)",
	}, []string{"name", "state"})

	// circuitBreakerTrips counts breaker open transitions.
	circuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediasearch_circuit_breaker_trips_total",
		Help: "Circuit breaker trips by reason",
	}, []string{"name", "reason"})
)

// ObserveJobDuration records a completed job's wall-clock duration.
func ObserveJobDuration(engine string, d time.Duration) {
	JobDuration.WithLabelValues(engine).Observe(d.Seconds())
}

// ObserveSearchDuration records a search query's latency.
func ObserveSearchDuration(mode string, d time.Duration) {
	SearchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// SetCircuitBreakerState flips the state gauge for the named breaker.
func SetCircuitBreakerState(name, state string) {
	for _, s := range []string{"closed", "open", "half-open"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		circuitBreakerState.WithLabelValues(name, s).Set(v)
	}
}

// RecordCircuitBreakerTrip counts a breaker trip.
func RecordCircuitBreakerTrip(name, reason string) {
	circuitBreakerTrips.WithLabelValues(name, reason).Inc()
}
