package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lookup outcomes recorded by the permission resolver.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheBypass = "bypass"
)

// Metrics holds the service collectors on a dedicated registry.
type Metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	errors        *prometheus.CounterVec
	gateDecisions *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	storeFailures *prometheus.CounterVec
}

// NewMetrics initializes and registers collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Error responses by domain code.",
		}, []string{"method", "path", "code"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "access_gate_decisions_total",
			Help: "Access gate outcomes by gate.",
		}, []string{"gate", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "permission_cache_lookups_total",
			Help: "Permission cache lookups by result.",
		}, []string{"result"}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credential_store_failures_total",
			Help: "Credential store failures by operation.",
		}, []string{"operation"}),
	}
	m.registry.MustRegister(
		m.requests, m.latency, m.errors, m.gateDecisions, m.cacheLookups, m.storeFailures,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(method, path, code).Inc()
}

// RecordGateDecision counts an access gate outcome ("allow" or an error code).
func (m *Metrics) RecordGateDecision(gate, outcome string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(gate, outcome).Inc()
}

// RecordCacheLookup counts a permission cache lookup.
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordStoreFailure counts a credential store failure.
func (m *Metrics) RecordStoreFailure(operation string) {
	if m == nil {
		return
	}
	m.storeFailures.WithLabelValues(operation).Inc()
}
