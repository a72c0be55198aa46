package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "assetvault"

// Pipeline outcomes recorded by RecordPipelineOutcome.
const (
	OutcomeSuccess  = "success"
	OutcomeRetry    = "retry"
	OutcomeFailed   = "failed"
	OutcomeDropped  = "dropped"
	OutcomeReleased = "released"
)

// Metrics exports search and embedding pipeline metrics in Prometheus format.
// The Record methods are no-ops on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	searchLatency  *prometheus.HistogramVec
	searchRequests *prometheus.CounterVec
	searchResults  *prometheus.HistogramVec

	pipelineOutcomes *prometheus.CounterVec
	pipelineLatency  prometheus.Histogram
	captionFailures  prometheus.Counter
	enqueued         *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
}

// MetricsConfig configures the exporter.
type MetricsConfig struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultMetricsConfig returns the default exporter configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewMetrics creates the collectors and registers them.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultMetricsConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{registry: registry}

	// Search metrics
	m.searchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "search",
			Name:      "latency_seconds",
			Help:      "Search request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"mode"},
	)
	m.searchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of search requests",
		},
		[]string{"mode", "status"},
	)
	m.searchResults = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "search",
			Name:      "results",
			Help:      "Number of results returned per search",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
		},
		[]string{"mode"},
	)

	// Embedding pipeline metrics
	m.pipelineOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "embedding",
			Name:      "messages_total",
			Help:      "Embedding queue messages by outcome",
		},
		[]string{"outcome"},
	)
	m.pipelineLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "embedding",
			Name:      "generate_seconds",
			Help:      "Time spent generating one asset embedding",
			Buckets:   cfg.LatencyBuckets,
		},
	)
	m.captionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "embedding",
			Name:      "caption_failures_total",
			Help:      "Captioning failures that were skipped",
		},
	)
	m.enqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "embedding",
			Name:      "enqueued_total",
			Help:      "Embedding requests sent to the queue",
		},
		[]string{"status"},
	)

	// Cache metrics
	m.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)
	m.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	registry.MustRegister(
		m.searchLatency,
		m.searchRequests,
		m.searchResults,
		m.pipelineOutcomes,
		m.pipelineLatency,
		m.captionFailures,
		m.enqueued,
		m.cacheHits,
		m.cacheMisses,
	)
	return m
}

// RecordSearch records one search request.
func (m *Metrics) RecordSearch(mode string, latency time.Duration, results int, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.searchRequests.WithLabelValues(mode, status).Inc()
	m.searchLatency.WithLabelValues(mode).Observe(latency.Seconds())
	if err == nil {
		m.searchResults.WithLabelValues(mode).Observe(float64(results))
	}
}

// RecordPipelineOutcome records how a queue message was settled.
func (m *Metrics) RecordPipelineOutcome(outcome string) {
	if m == nil {
		return
	}
	m.pipelineOutcomes.WithLabelValues(outcome).Inc()
}

// RecordGenerate records the duration of one embedding generation.
func (m *Metrics) RecordGenerate(latency time.Duration) {
	if m == nil {
		return
	}
	m.pipelineLatency.Observe(latency.Seconds())
}

func (m *Metrics) RecordCaptionFailure() {
	if m == nil {
		return
	}
	m.captionFailures.Inc()
}

// RecordEnqueue records an enqueue attempt.
func (m *Metrics) RecordEnqueue(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.enqueued.WithLabelValues(status).Inc()
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit(cacheType string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(cacheType).Inc()
}

func (m *Metrics) RecordCacheMiss(cacheType string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(cacheType).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
