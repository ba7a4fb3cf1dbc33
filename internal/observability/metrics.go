// Package observability exposes the gateway's Prometheus metrics: relay
// request outcomes, token throughput, cache effectiveness, provider health,
// and the in-flight request gauge, served on a gin route.
package observability

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config controls whether and where metrics are served.
type Config struct {
	Enabled   bool
	Path      string
	Namespace string
}

// DefaultConfig serves metrics at /metrics under the axiomrelay namespace.
func DefaultConfig() Config {
	return Config{Enabled: true, Path: "/metrics", Namespace: "axiomrelay"}
}

// Metrics is the gateway's single Prometheus collector. All methods are
// nil-receiver safe so callers built without metrics don't need guards.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokens          *prometheus.CounterVec
	activeRequests  prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	providerHealth  *prometheus.GaugeVec
	providerErrors  *prometheus.CounterVec
	accountStates   *prometheus.CounterVec

	path string
}

// NewMetrics builds the collector, or returns nil when disabled.
func NewMetrics(cfg Config) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "axiomrelay"
	}
	ns := cfg.Namespace
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{registry: reg, path: cfg.Path}

	m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "relay_requests_total",
		Help: "Relayed requests by platform, model, and outcome.",
	}, []string{"platform", "model", "status"})

	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Name: "relay_request_duration_seconds",
		Help:    "Wall time from account selection to final byte, per platform.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"platform"})

	m.tokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "relay_tokens_total",
		Help: "Tokens metered from upstream usage reports, by model and class.",
	}, []string{"model", "class"})

	m.activeRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "relay_active_requests",
		Help: "Requests currently being dispatched or streamed.",
	})

	m.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "response_cache_hits_total",
		Help: "Non-streaming requests answered from the response cache.",
	})
	m.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "response_cache_misses_total",
		Help: "Non-streaming cache lookups that went upstream.",
	})

	m.providerHealth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Name: "provider_healthy",
		Help: "1 when the last dispatch to the platform succeeded, 0 otherwise.",
	}, []string{"platform"})

	m.providerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "provider_errors_total",
		Help: "Failed dispatches by platform (transport errors and 5xx).",
	}, []string{"platform"})

	m.accountStates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "account_state_transitions_total",
		Help: "Account state-machine transitions by platform and new status.",
	}, []string{"platform", "status"})

	reg.MustRegister(m.requests, m.requestDuration, m.tokens, m.activeRequests,
		m.cacheHits, m.cacheMisses, m.providerHealth, m.providerErrors, m.accountStates)
	return m
}

// RecordRequest counts one completed relay and observes its duration.
func (m *Metrics) RecordRequest(platform, model, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(platform, model, status).Inc()
	m.requestDuration.WithLabelValues(platform).Observe(seconds)
}

// RecordTokens meters tokens of one class (prompt/completion/thinking/
// cache_read/cache_create) against a model.
func (m *Metrics) RecordTokens(model, class string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.tokens.WithLabelValues(model, class).Add(float64(n))
}

func (m *Metrics) RecordCacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) RecordCacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) IncActive() {
	if m != nil {
		m.activeRequests.Inc()
	}
}

func (m *Metrics) DecActive() {
	if m != nil {
		m.activeRequests.Dec()
	}
}

// SetProviderHealth flips the per-platform health gauge.
func (m *Metrics) SetProviderHealth(platform string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.providerHealth.WithLabelValues(platform).Set(v)
}

func (m *Metrics) RecordProviderError(platform string) {
	if m != nil {
		m.providerErrors.WithLabelValues(platform).Inc()
	}
}

// RecordAccountTransition counts an account entering a new status.
func (m *Metrics) RecordAccountTransition(platform, status string) {
	if m != nil {
		m.accountStates.WithLabelValues(platform, status).Inc()
	}
}

// Register mounts the scrape endpoint on the engine. A nil receiver
// registers nothing.
func (m *Metrics) Register(engine *gin.Engine) {
	if m == nil {
		return
	}
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	engine.GET(m.path, gin.WrapH(h))
}
