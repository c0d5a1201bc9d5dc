// Package metrics provides Prometheus metrics export for the personalization pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exports pipeline metrics in Prometheus format.
// All Record methods are safe to call on a nil exporter.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Run metrics
	runs       *prometheus.CounterVec
	runLatency *prometheus.HistogramVec
	runsActive prometheus.Gauge

	// Node metrics
	nodeLatency  *prometheus.HistogramVec
	nodeTimeouts *prometheus.CounterVec
	reviewLoop   *prometheus.CounterVec

	// Tool call metrics
	toolCalls   *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec

	// Gate and cache metrics
	gateOutcomes *prometheus.CounterVec
	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec

	// Prewarm metrics
	prewarm *prometheus.CounterVec

	// LLM metrics
	llmTokensUsed *prometheus.CounterVec
	llmLatency    *prometheus.HistogramVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 180},
	}
}

const (
	namespace = "productsense"
	subsystem = "ai"
)

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{
		registry: registry,

		runs:       counterVec("runs_total", "Total number of personalization runs", "mode", "outcome"),
		runLatency: histogramVec("run_latency_seconds", "Personalization run latency in seconds", cfg.LatencyBuckets, "mode"),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs_active",
			Help:      "Number of personalization runs in flight",
		}),

		nodeLatency:  histogramVec("node_latency_seconds", "Task node latency in seconds", cfg.LatencyBuckets, "agent"),
		nodeTimeouts: counterVec("node_timeouts_total", "Total number of task nodes that hit their deadline", "agent"),
		reviewLoop:   counterVec("review_loop_total", "Reviews and evaluation loop transitions", "outcome"),

		toolCalls:   counterVec("tool_calls_total", "Total number of agent tool calls", "tool_name", "status"),
		toolLatency: histogramVec("tool_latency_seconds", "Agent tool call latency in seconds", cfg.LatencyBuckets, "tool_name"),

		gateOutcomes: counterVec("gate_outcomes_total", "Persistence gate outcomes", "outcome"),
		cacheHits:    counterVec("cache_hits_total", "Total number of cache hits", "cache_type"),
		cacheMisses:  counterVec("cache_misses_total", "Total number of cache misses", "cache_type"),

		prewarm: counterVec("prewarm_total", "Background prewarm dispatch decisions", "status"),

		llmTokensUsed: counterVec("llm_tokens_total", "Total LLM tokens consumed", "model", "token_type"),
		llmLatency:    histogramVec("llm_latency_seconds", "LLM request latency in seconds", cfg.LatencyBuckets, "model"),
	}

	registry.MustRegister(
		e.runs,
		e.runLatency,
		e.runsActive,
		e.nodeLatency,
		e.nodeTimeouts,
		e.reviewLoop,
		e.toolCalls,
		e.toolLatency,
		e.gateOutcomes,
		e.cacheHits,
		e.cacheMisses,
		e.prewarm,
		e.llmTokensUsed,
		e.llmLatency,
	)

	return e
}

// RunStarted increments the in-flight gauge. Pair with RecordRun.
func (e *PrometheusExporter) RunStarted() {
	if e == nil {
		return
	}
	e.runsActive.Inc()
}

// RecordRun records a finished run. Outcome is "done", "failed" or "timeout".
func (e *PrometheusExporter) RecordRun(mode, outcome string, latency time.Duration) {
	if e == nil {
		return
	}
	e.runsActive.Dec()
	e.runs.WithLabelValues(mode, outcome).Inc()
	e.runLatency.WithLabelValues(mode).Observe(latency.Seconds())
}

// RecordNode records a task node execution.
func (e *PrometheusExporter) RecordNode(agent string, latency time.Duration, timedOut bool) {
	if e == nil {
		return
	}
	e.nodeLatency.WithLabelValues(agent).Observe(latency.Seconds())
	if timedOut {
		e.nodeTimeouts.WithLabelValues(agent).Inc()
	}
}

// RecordReviewLoop records a reviews/evaluation transition:
// "accepted", "retried", "exhausted" or "evaluator_timeout".
func (e *PrometheusExporter) RecordReviewLoop(outcome string) {
	if e == nil {
		return
	}
	e.reviewLoop.WithLabelValues(outcome).Inc()
}

// RecordToolCall records a tool call metric.
func (e *PrometheusExporter) RecordToolCall(toolName string, latency time.Duration, success bool) {
	if e == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	e.toolCalls.WithLabelValues(toolName, status).Inc()
	e.toolLatency.WithLabelValues(toolName).Observe(latency.Seconds())
}

// RecordGate records how the persistence gate served a request.
func (e *PrometheusExporter) RecordGate(outcome string) {
	if e == nil {
		return
	}
	e.gateOutcomes.WithLabelValues(outcome).Inc()
}

// RecordCacheHit records a cache hit.
func (e *PrometheusExporter) RecordCacheHit(cacheType string) {
	if e == nil {
		return
	}
	e.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (e *PrometheusExporter) RecordCacheMiss(cacheType string) {
	if e == nil {
		return
	}
	e.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordPrewarm records a prewarm dispatch decision.
func (e *PrometheusExporter) RecordPrewarm(status string) {
	if e == nil {
		return
	}
	e.prewarm.WithLabelValues(status).Inc()
}

// RecordLLMCall records token usage and latency of one LLM call.
func (e *PrometheusExporter) RecordLLMCall(model string, promptTokens, completionTokens int, latency time.Duration) {
	if e == nil {
		return
	}
	e.llmTokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	e.llmTokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
	e.llmLatency.WithLabelValues(model).Observe(latency.Seconds())
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ServeHTTP implements http.Handler for the metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.Handler().ServeHTTP(w, r)
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}
