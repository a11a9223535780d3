// Package metrics holds the prometheus collectors shared by the surface
// builder, the market-data providers and the REST server.
//
// Every Record/Observe method is safe on a nil *Metrics so callers can leave
// metrics unconfigured in tests and one-off CLI runs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ivsurface"

// Solver outcome labels.
const (
	OutcomeConverged     = "converged"
	OutcomeNoConvergence = "no_convergence"
)

// Metrics is a registry plus the collectors this module reports to.
type Metrics struct {
	registry *prometheus.Registry

	SolverOutcomes   *prometheus.CounterVec   // solves by outcome
	BuildDuration    prometheus.Histogram     // seconds per surface build
	SurfacePoints    *prometheus.GaugeVec     // converged points of the last surface, by symbol
	ProviderRequests *prometheus.CounterVec   // upstream market-data calls (provider, status)
	HTTPRequests     *prometheus.CounterVec   // REST requests (method, path, status)
	HTTPDuration     *prometheus.HistogramVec // REST latency (method, path)
}

// New creates a registry with the Go runtime and process collectors and
// registers the module's collectors on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the collectors on reg. Tests pass a bare
// registry to keep output small.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{registry: reg}

	m.SolverOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "solver_outcomes_total",
		Help:      "Implied volatility solves by outcome",
	}, []string{"outcome"})

	m.BuildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "build_duration_seconds",
		Help:      "Time spent solving a whole surface",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	m.SurfacePoints = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "surface_points",
		Help:      "Converged points in the most recent surface",
	}, []string{"symbol"})

	m.ProviderRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_requests_total",
		Help:      "Upstream market data requests",
	}, []string{"provider", "status"})

	m.HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	m.HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	reg.MustRegister(m.SolverOutcomes, m.BuildDuration, m.SurfacePoints,
		m.ProviderRequests, m.HTTPRequests, m.HTTPDuration)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSolve counts one solver outcome.
func (m *Metrics) RecordSolve(converged bool) {
	if m == nil {
		return
	}
	outcome := OutcomeConverged
	if !converged {
		outcome = OutcomeNoConvergence
	}
	m.SolverOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveBuild records the duration of one surface build.
func (m *Metrics) ObserveBuild(d time.Duration) {
	if m == nil {
		return
	}
	m.BuildDuration.Observe(d.Seconds())
}

// SetSurfacePoints records the size of the latest surface for symbol.
func (m *Metrics) SetSurfacePoints(symbol string, n int) {
	if m == nil {
		return
	}
	m.SurfacePoints.WithLabelValues(symbol).Set(float64(n))
}

// RecordProviderRequest counts one upstream call. status is an HTTP status
// code, or 0 for transport errors.
func (m *Metrics) RecordProviderRequest(provider string, status int) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.ProviderRequests.WithLabelValues(provider, label).Inc()
}

// ObserveHTTP records one served REST request.
func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
