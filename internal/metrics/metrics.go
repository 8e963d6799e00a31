// Package metrics exposes Prometheus counters/histograms for the proxy
// and routing engine, replacing the teacher's internal/server.handleMetrics
// (a handler that only ever echoed a canned placeholder string) with real
// instrumentation (SPEC_FULL §2 domain stack).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the proxy registers. Handlers should
// hold a *Metrics rather than package-level globals so multiple Engine
// instances (e.g. in tests) don't collide on Prometheus's default
// registry.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RoutingAttempts  *prometheus.HistogramVec
	FallbacksTotal   *prometheus.CounterVec
	TokensTotal      *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	ChainExecutions  *prometheus.CounterVec
	StreamingActive  prometheus.Gauge
}

// New builds and registers every collector against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intellirouter",
			Name:      "requests_total",
			Help:      "Total chat completion requests handled, by model and outcome.",
		}, []string{"model_id", "outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "intellirouter",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency, by model.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model_id"}),
		RoutingAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "intellirouter",
			Name:      "routing_attempts",
			Help:      "Number of candidates tried before a routing decision succeeded.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}, []string{"strategy"}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intellirouter",
			Name:      "fallbacks_total",
			Help:      "Total requests that were served by a fallback model.",
		}, []string{"strategy"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intellirouter",
			Name:      "tokens_total",
			Help:      "Total tokens consumed, by model and direction.",
		}, []string{"model_id", "direction"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intellirouter",
			Name:      "errors_total",
			Help:      "Total errors returned to clients, by canonical kind.",
		}, []string{"kind"}),
		ChainExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intellirouter",
			Name:      "chain_executions_total",
			Help:      "Total chain executions, by chain id and outcome.",
		}, []string{"chain_id", "outcome"}),
		StreamingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "intellirouter",
			Name:      "streaming_connections_active",
			Help:      "Number of currently open SSE streaming connections.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RoutingAttempts,
		m.FallbacksTotal,
		m.TokensTotal,
		m.ErrorsTotal,
		m.ChainExecutions,
		m.StreamingActive,
	)
	return m
}

// ObserveRequest records one terminal request outcome.
func (m *Metrics) ObserveRequest(modelID, outcome string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(modelID, outcome).Inc()
	m.RequestDuration.WithLabelValues(modelID).Observe(d.Seconds())
}

// ObserveTokens records prompt/completion token counts for one request.
func (m *Metrics) ObserveTokens(modelID string, prompt, completion int) {
	m.TokensTotal.WithLabelValues(modelID, "prompt").Add(float64(prompt))
	m.TokensTotal.WithLabelValues(modelID, "completion").Add(float64(completion))
}

// ObserveError increments the error counter for a canonical error kind.
func (m *Metrics) ObserveError(kind string) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveRouting records the shape of one routing decision.
func (m *Metrics) ObserveRouting(strategy string, attempts uint, fallback bool) {
	m.RoutingAttempts.WithLabelValues(strategy).Observe(float64(attempts))
	if fallback {
		m.FallbacksTotal.WithLabelValues(strategy).Inc()
	}
}

// ObserveChainExecution records one chain execution outcome.
func (m *Metrics) ObserveChainExecution(chainID, outcome string) {
	m.ChainExecutions.WithLabelValues(chainID, outcome).Inc()
}
