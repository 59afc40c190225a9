// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// Collector
// =============================================================================

// Collector records pipeline metrics.
type Collector struct {
	// Source fan-out
	sourceDuration *prometheus.HistogramVec
	sourceDocs     *prometheus.CounterVec
	sourceErrors   *prometheus.CounterVec

	// Orchestrator
	stepDuration   *prometheus.HistogramVec
	llmCalls       *prometheus.CounterVec
	llmDuration    *prometheus.HistogramVec
	results        *prometheus.CounterVec
	confidence     prometheus.Histogram
	requestLatency prometheus.Histogram

	// Cache
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Database
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector registers the pipeline metrics with reg. A nil reg uses the
// default Prometheus registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.sourceDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_duration_seconds",
			Help:      "Retrieval source latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"source"},
	)

	c.sourceDocs = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_documents_total",
			Help:      "Documents returned by each retrieval source",
		},
		[]string{"source"},
	)

	c.sourceErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_errors_total",
			Help:      "Failed or timed-out retrieval source calls",
		},
		[]string{"source"},
	)

	c.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Orchestrator step latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	c.llmCalls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Text generation calls by purpose and status",
		},
		[]string{"purpose", "status"},
	)

	c.llmDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "Text generation latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"purpose"},
	)

	c.results = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_total",
			Help:      "Answers by support level and web-search recommendation",
		},
		[]string{"support_level", "needs_web_search"},
	)

	c.confidence = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_confidence",
			Help:      "Confidence of returned answers",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)

	c.requestLatency = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end query latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache"},
	)

	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// Source fan-out
// =============================================================================

// ObserveSource records one source call of the context assembler.
func (c *Collector) ObserveSource(source string, d time.Duration, docs int, err error) {
	c.sourceDuration.WithLabelValues(source).Observe(d.Seconds())
	if err != nil {
		c.sourceErrors.WithLabelValues(source).Inc()
		return
	}
	c.sourceDocs.WithLabelValues(source).Add(float64(docs))
}

// ObserveCache records a cache lookup.
func (c *Collector) ObserveCache(cache string, hit bool) {
	if hit {
		c.cacheHits.WithLabelValues(cache).Inc()
		return
	}
	c.cacheMisses.WithLabelValues(cache).Inc()
}

// =============================================================================
// Orchestrator
// =============================================================================

// ObserveStep records the latency of one orchestrator step.
func (c *Collector) ObserveStep(step string, d time.Duration) {
	c.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// ObserveLLMCall records one generation call.
func (c *Collector) ObserveLLMCall(purpose string, d time.Duration, err error) {
	c.llmCalls.WithLabelValues(purpose, status(err)).Inc()
	c.llmDuration.WithLabelValues(purpose).Observe(d.Seconds())
}

// ObserveResult records the final outcome of one query.
func (c *Collector) ObserveResult(level string, confidence float64, needsWebSearch bool, d time.Duration) {
	web := "false"
	if needsWebSearch {
		web = "true"
	}
	c.results.WithLabelValues(level, web).Inc()
	c.confidence.Observe(confidence)
	c.requestLatency.Observe(d.Seconds())
}

// =============================================================================
// Database
// =============================================================================

// RecordDBConnections records connection pool gauges.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
