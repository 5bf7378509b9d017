// Package metrics exposes Prometheus collectors for the orchestration service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchDecisionsTotal        *prometheus.CounterVec
	externalFetchesTotal       *prometheus.CounterVec
	enrichmentTasksTotal       *prometheus.CounterVec
	enrichmentEntitiesTotal    *prometheus.CounterVec
	enrichmentQueueDepth       prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "civiclens_fetch_decisions_total",
				Help: "Fetch policy decisions, labeled by response source.",
			},
			[]string{"source"},
		)

		externalFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "civiclens_external_fetches_total",
				Help: "External source calls, labeled by entity type, field and outcome.",
			},
			[]string{"entity_type", "field", "outcome"},
		)

		enrichmentTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "civiclens_enrichment_tasks_total",
				Help: "Background enrichment tasks processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		enrichmentEntitiesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "civiclens_enrichment_entities_total",
				Help: "Per-entity enrichment fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		enrichmentQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "civiclens_enrichment_queue_depth",
				Help: "Number of enrichment tasks waiting in the queue.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetchDecision increments the decision counter for a response source.
func ObserveFetchDecision(source string) {
	if fetchDecisionsTotal != nil {
		fetchDecisionsTotal.WithLabelValues(source).Inc()
	}
}

// ObserveExternalFetch records one external source call.
func ObserveExternalFetch(entityType, field, outcome string) {
	if externalFetchesTotal != nil {
		externalFetchesTotal.WithLabelValues(entityType, field, outcome).Inc()
	}
}

// ObserveEnrichmentTask records one processed background task.
func ObserveEnrichmentTask(outcome string) {
	if enrichmentTasksTotal != nil {
		enrichmentTasksTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveEnrichmentEntity records one per-entity enrichment fetch.
func ObserveEnrichmentEntity(outcome string) {
	if enrichmentEntitiesTotal != nil {
		enrichmentEntitiesTotal.WithLabelValues(outcome).Inc()
	}
}

// SetQueueDepth publishes the current queue length.
func SetQueueDepth(depth int) {
	if enrichmentQueueDepth != nil {
		enrichmentQueueDepth.Set(float64(depth))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
