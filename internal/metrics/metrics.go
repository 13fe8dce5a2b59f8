// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stepsTotal          *prometheus.CounterVec
	rowsIngestedTotal   *prometheus.CounterVec
	apiRequestsTotal    *prometheus.CounterVec
	blobBytesTotal      *prometheus.CounterVec
	stepDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
// Observe helpers are no-ops until Init runs, so library code may record
// unconditionally.
func Init() {
	once.Do(func() {
		stepsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epc_steps_total",
				Help: "Total ingestion steps processed, labeled by kind, step and status.",
			},
			[]string{"kind", "step", "status"},
		)

		rowsIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epc_rows_ingested_total",
				Help: "Total normalized rows landed, labeled by kind and step.",
			},
			[]string{"kind", "step"},
		)

		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epc_api_requests_total",
				Help: "Total EPC API requests, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		blobBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epc_blob_bytes_total",
				Help: "Total compressed bytes written to object storage, labeled by kind.",
			},
			[]string{"kind"},
		)

		stepDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "epc_step_duration_seconds",
				Help:    "Histogram of step wall time, labeled by step.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"step"},
		)
	})
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveStep records one completed (kind, step) unit with its final status.
func ObserveStep(kind, step, status string, seconds float64) {
	if stepsTotal == nil {
		return
	}
	stepsTotal.WithLabelValues(kind, step, status).Inc()
	stepDurationSeconds.WithLabelValues(step).Observe(seconds)
}

// ObserveRows adds landed row counts.
func ObserveRows(kind, step string, rows int) {
	if rowsIngestedTotal == nil || rows <= 0 {
		return
	}
	rowsIngestedTotal.WithLabelValues(kind, step).Add(float64(rows))
}

// ObserveAPIRequest counts one EPC API request by outcome
// (ok, retry, error, unauthorized, exhausted).
func ObserveAPIRequest(outcome string) {
	if apiRequestsTotal == nil {
		return
	}
	apiRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBlobBytes adds compressed bytes written for a kind.
func ObserveBlobBytes(kind string, n int) {
	if blobBytesTotal == nil || n <= 0 {
		return
	}
	blobBytesTotal.WithLabelValues(kind).Add(float64(n))
}
