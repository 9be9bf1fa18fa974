// Package metrics exposes edge metrics in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "edge"

// Collector owns a private registry so tests and reloads never collide on
// the global one.
type Collector struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestsTotal    *prometheus.CounterVec
	requestDurations *prometheus.HistogramVec
	decisionsTotal   *prometheus.CounterVec
	backendCalls     *prometheus.CounterVec
	backendDurations *prometheus.HistogramVec
	featureBlocks    *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	notModified      *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	backendHealth    *prometheus.GaugeVec
	reloads          *prometheus.CounterVec
}

// NewCollector creates a collector with Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_total",
			Help: "Requests by kind, brand, page and envelope code.",
		}, []string{"kind", "brand", "page", "code"}),
		requestDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "request_duration_seconds",
			Help:    "End to end request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "page"}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "backend_decisions_total",
			Help: "Backend selections by backend and provenance.",
		}, []string{"backend", "provenance", "environment"}),
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "backend_calls_total",
			Help: "Backend invocations by backend, action and outcome code.",
		}, []string{"backend", "action", "code"}),
		backendDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "backend_call_duration_seconds",
			Help:    "Backend invocation latency.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"backend", "action"}),
		featureBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "feature_blocked_total",
			Help: "Requests stopped by a kill switch.",
		}, []string{"brand", "feature"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_total",
			Help: "Requests rejected by the per-brand rate limit.",
		}, []string{"brand"}),
		notModified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "not_modified_total",
			Help: "Conditional requests answered without a value.",
		}, []string{"action"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_hits_total",
			Help: "Backend payload cache hits.",
		}, []string{"backend"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_misses_total",
			Help: "Backend payload cache misses.",
		}, []string{"backend"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_breaker_state",
			Help: "Backend circuit state: 0 closed, 1 open, 2 half-open.",
		}, []string{"backend"}),
		backendHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "backend_healthy",
			Help: "Last probe result per backend: 1 healthy, 0 unhealthy.",
		}, []string{"backend"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "config_reloads_total",
			Help: "Configuration reloads by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.requestsTotal, c.requestDurations, c.decisionsTotal,
		c.backendCalls, c.backendDurations, c.featureBlocks,
		c.rateLimited, c.notModified, c.cacheHits, c.cacheMisses,
		c.breakerState, c.backendHealth, c.reloads,
	)
	c.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return c.handler
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordRequest records a completed edge request.
func (c *Collector) RecordRequest(kind, brand, page, code string, d time.Duration) {
	if code == "" {
		code = "OK"
	}
	c.requestsTotal.WithLabelValues(kind, brand, page, code).Inc()
	c.requestDurations.WithLabelValues(kind, page).Observe(d.Seconds())
}

// RecordDecision counts a backend selection.
func (c *Collector) RecordDecision(backend, provenance, environment string) {
	c.decisionsTotal.WithLabelValues(backend, provenance, environment).Inc()
}

// RecordBackendCall records one backend invocation.
func (c *Collector) RecordBackendCall(backend, action, code string, d time.Duration) {
	if code == "" {
		code = "OK"
	}
	c.backendCalls.WithLabelValues(backend, action, code).Inc()
	c.backendDurations.WithLabelValues(backend, action).Observe(d.Seconds())
}

// RecordFeatureBlock counts a kill switch rejection.
func (c *Collector) RecordFeatureBlock(brand, feature string) {
	c.featureBlocks.WithLabelValues(brand, feature).Inc()
}

// RecordRateLimited counts a rate limit rejection.
func (c *Collector) RecordRateLimited(brand string) {
	c.rateLimited.WithLabelValues(brand).Inc()
}

// RecordNotModified counts a conditional short-circuit.
func (c *Collector) RecordNotModified(action string) {
	c.notModified.WithLabelValues(action).Inc()
}

// RecordCacheHit records a cache hit.
func (c *Collector) RecordCacheHit(backend string) {
	c.cacheHits.WithLabelValues(backend).Inc()
}

// RecordCacheMiss records a cache miss.
func (c *Collector) RecordCacheMiss(backend string) {
	c.cacheMisses.WithLabelValues(backend).Inc()
}

// SetCircuitBreakerState sets the breaker gauge from a state name.
func (c *Collector) SetCircuitBreakerState(backend, state string) {
	v := 0.0
	switch state {
	case "open":
		v = 1
	case "half-open":
		v = 2
	}
	c.breakerState.WithLabelValues(backend).Set(v)
}

// SetBackendHealth sets the health status of a backend.
func (c *Collector) SetBackendHealth(backend string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	c.backendHealth.WithLabelValues(backend).Set(v)
}

// RecordReload counts a configuration reload.
func (c *Collector) RecordReload(ok bool) {
	c.reloads.WithLabelValues(strconv.FormatBool(ok)).Inc()
}
