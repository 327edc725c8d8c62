// Package metrics exposes Prometheus collectors for Warden Core.
//
// Collectors live on a Metrics value registered against an injected
// registry, so tests and multiple servers never share global state.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "warden"

// Metrics holds every collector Warden reports.
type Metrics struct {
	registry *prometheus.Registry

	buildInfo *prometheus.GaugeVec

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	authEvents    *prometheus.CounterVec
	logins        *prometheus.CounterVec
	lockouts      *prometheus.CounterVec
	rateLimited   *prometheus.CounterVec
	eventsDropped prometheus.Counter
	wsClients     prometheus.Gauge
}

// New creates the collectors and registers them, plus the Go and process
// collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Warden Core build information.",
		}, []string{"version"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_events_total",
			Help:      "Security events by kind.",
		}, []string{"kind"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Authentication attempts by outcome and failure reason.",
		}, []string{"outcome", "reason"}),
		lockouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_lockouts_total",
			Help:      "Accounts locked, by source (policy or admin).",
		}, []string{"source"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"scope"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_events_dropped_total",
			Help:      "Security events dropped because the delivery queue was full.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected security event stream clients.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.buildInfo,
		m.httpInFlight,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.authEvents,
		m.logins,
		m.lockouts,
		m.rateLimited,
		m.eventsDropped,
		m.wsClients,
	)

	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetBuildInfo publishes warden_build_info{version} 1.
func (m *Metrics) SetBuildInfo(version string) {
	m.buildInfo.WithLabelValues(version).Set(1)
}

// SecurityEvent counts one event of kind.
func (m *Metrics) SecurityEvent(kind string) {
	m.authEvents.WithLabelValues(kind).Inc()
}

// Login counts an authentication attempt. reason is empty on success.
func (m *Metrics) Login(success bool, reason string) {
	outcome := "failure"
	if success {
		outcome = "success"
		reason = ""
	}
	m.logins.WithLabelValues(outcome, reason).Inc()
}

// Lockout counts an account lock. source is "policy" or "admin".
func (m *Metrics) Lockout(source string) {
	m.lockouts.WithLabelValues(source).Inc()
}

// RateLimited counts a rejected request.
func (m *Metrics) RateLimited(scope string) {
	m.rateLimited.WithLabelValues(scope).Inc()
}

// EventDropped counts a security event lost to a full queue.
func (m *Metrics) EventDropped() {
	m.eventsDropped.Inc()
}

// WSClients sets the number of connected stream clients.
func (m *Metrics) WSClients(n int) {
	m.wsClients.Set(float64(n))
}

// Instrument records request count, latency and in-flight gauge. The route
// label is chi's matched pattern so IDs in paths do not explode cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		route := routePattern(r)
		m.httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer for WebSocket upgrades.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
