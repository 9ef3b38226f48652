// Package metrics exposes Prometheus collectors for the harvester.
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
	registryRequestsTotal      *prometheus.CounterVec
	registryRequestDuration    *prometheus.HistogramVec
	registryRetriesTotal       *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	artifactBytesTotal         prometheus.Counter
	harvestJobsTotal           *prometheus.CounterVec
	harvestActiveWorkers       prometheus.Gauge
	storeBucketSavesTotal      *prometheus.CounterVec
	storeBucketBytes           *prometheus.GaugeVec
	dedupReferencesTotal       prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times; every Observe function
// calls it first.
func Init() {
	once.Do(func() {
		registryRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_registry_requests_total",
				Help: "Total number of registry requests, labeled by endpoint and status.",
			},
			[]string{"endpoint", "status"},
		)

		registryRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_registry_request_duration_seconds",
				Help:    "Histogram of registry request latencies, labeled by endpoint.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"endpoint"},
		)

		registryRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_registry_retries_total",
				Help: "Total number of retried registry requests, labeled by endpoint.",
			},
			[]string{"endpoint"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_rate_limit_delay_seconds",
				Help:    "Time spent waiting for the per-host rate limiter, labeled by host.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"host"},
		)

		artifactBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_artifact_bytes_total",
				Help: "Total number of artifact bytes downloaded.",
			},
		)

		harvestJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_jobs_total",
				Help: "Total number of jobs processed, labeled by kind and state.",
			},
			[]string{"kind", "state"},
		)

		harvestActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		storeBucketSavesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_store_bucket_saves_total",
				Help: "Total number of bucket files written, labeled by store.",
			},
			[]string{"store"},
		)

		storeBucketBytes = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvest_store_bucket_bytes",
				Help: "Size of the last written bucket file, labeled by store and bucket.",
			},
			[]string{"store", "bucket"},
		)

		dedupReferencesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_dedup_references_total",
				Help: "Total number of canonical references produced by compression.",
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

// ObserveRegistryRequest records one registry round trip.
func ObserveRegistryRequest(endpoint, status string, duration time.Duration) {
	Init()
	registryRequestsTotal.WithLabelValues(endpoint, status).Inc()
	registryRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveRetry counts a retried registry request.
func ObserveRetry(endpoint string) {
	Init()
	registryRetriesTotal.WithLabelValues(endpoint).Inc()
}

// ObserveRateLimitDelay records time a request waited for its host's limiter.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveArtifactBytes adds downloaded artifact bytes.
func ObserveArtifactBytes(n int64) {
	Init()
	if n > 0 {
		artifactBytesTotal.Add(float64(n))
	}
}

// ObserveJob increments the job counter for a terminal state.
func ObserveJob(kind, state string) {
	Init()
	harvestJobsTotal.WithLabelValues(kind, state).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	harvestActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	harvestActiveWorkers.Dec()
}

// ObserveBucketSaved records a written bucket file.
func ObserveBucketSaved(store, bucket string, size int64) {
	Init()
	storeBucketSavesTotal.WithLabelValues(store).Inc()
	storeBucketBytes.WithLabelValues(store, bucket).Set(float64(size))
}

// ObserveDedupReferences adds references produced by a compression pass.
func ObserveDedupReferences(n int) {
	Init()
	if n > 0 {
		dedupReferencesTotal.Add(float64(n))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
