// Package metrics defines the engine's Prometheus collectors and the HTTP
// middleware that records request duration against them, mirroring the
// teacher's gateway metrics/middleware split.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the engine's Prometheus collector set. All fields are exported
// so callers outside this package (the Driver, ToolExecutor, admin server)
// can record directly without a layer of wrapper methods per metric.
type Metrics struct {
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec

	QueryLatency        *prometheus.HistogramVec
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
	ToolExecutions      *prometheus.CounterVec
	CircuitBreakerState prometheus.Gauge
}

// New registers and returns a fresh Metrics against reg. Pass
// prometheus.NewRegistry() in tests for isolation; pass the default
// registry (or nil) in production to publish under /metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "factengine_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factengine_http_requests_total",
			Help: "Total HTTP requests served.",
		}, []string{"method", "path", "status"}),
		QueryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "factengine_query_duration_seconds",
			Help:    "Driver.ProcessQuery duration in seconds, labeled by cache outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"cache_outcome"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "factengine_cache_hits_total",
			Help: "Total cache hits served without an LLM call.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "factengine_cache_misses_total",
			Help: "Total cache misses requiring an LLM call.",
		}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factengine_tool_executions_total",
			Help: "Total tool executions, labeled by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		CircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "factengine_cache_circuit_breaker_state",
			Help: "Current cache circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.HTTPRequestDuration,
		m.HTTPRequestsTotal,
		m.QueryLatency,
		m.CacheHits,
		m.CacheMisses,
		m.ToolExecutions,
		m.CircuitBreakerState,
	)
	return m
}

// HTTPMiddleware records request duration and count for every request that
// passes through it, labeled by method, route pattern, and status code.
func (m *Metrics) HTTPMiddleware(routePattern string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			status := strconv.Itoa(sw.status)
			m.HTTPRequestDuration.WithLabelValues(r.Method, routePattern, status).Observe(time.Since(start).Seconds())
			m.HTTPRequestsTotal.WithLabelValues(r.Method, routePattern, status).Inc()
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// RecordCacheOutcome records a cache hit or miss and the total turn latency.
func (m *Metrics) RecordCacheOutcome(hit bool, d time.Duration) {
	outcome := "miss"
	if hit {
		m.CacheHits.Inc()
		outcome = "hit"
	} else {
		m.CacheMisses.Inc()
	}
	m.QueryLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordToolExecution records one tool execution outcome.
func (m *Metrics) RecordToolExecution(toolName string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.ToolExecutions.WithLabelValues(toolName, outcome).Inc()
}

// SetCircuitBreakerState publishes the cache circuit breaker's current
// state as a gauge value (0=closed, 1=half-open, 2=open).
func (m *Metrics) SetCircuitBreakerState(value float64) {
	m.CircuitBreakerState.Set(value)
}
