// Package metrics exposes modhost counters in the Prometheus text format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tansive/modhost/internal/common/httpx"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	activations    *prometheus.CounterVec
	pipelineSteps  *prometheus.CounterVec
	routerAttempts *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhost_http_requests_total",
				Help: "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "modhost_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		activations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhost_activation_operations_total",
				Help: "Activation controller operations by outcome",
			},
			[]string{"operation", "result"},
		),
		pipelineSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhost_pipeline_steps_total",
				Help: "Pipeline steps executed by module kind and status",
			},
			[]string{"kind", "status"},
		),
		routerAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhost_router_attempts_total",
				Help: "Query router tier attempts by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhost_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.activations,
		m.pipelineSteps,
		m.routerAttempts,
		m.rateLimited,
	)
	return m
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ActivationResult(operation, result string) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) PipelineStep(kind, status string) {
	if m == nil {
		return
	}
	m.pipelineSteps.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RouterAttempt(source, outcome string) {
	if m == nil {
		return
	}
	m.routerAttempts.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) RateLimited(route string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(route).Inc()
}

// Middleware counts requests by their chi route pattern so path parameters do
// not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := httpx.NewResponseWriter(w)
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rw.Status())).Inc()
		m.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
