// Package metrics exposes Prometheus collectors for task proxies and the
// HTTP surface.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gosuda/taskbridge/internal/channel"
	"github.com/gosuda/taskbridge/internal/platform"
	"github.com/gosuda/taskbridge/internal/taskproxy"
)

const namespace = "taskbridge"

// Metrics holds the collectors. Each instance owns its registry.
type Metrics struct {
	registry *prometheus.Registry

	TaskCalls        *prometheus.CounterVec
	TaskCallDuration *prometheus.HistogramVec
	Handshakes       *prometheus.CounterVec
	HandshakeTime    prometheus.Histogram
	PlatformCalls    *prometheus.CounterVec
	ProxiesActive    prometheus.Gauge
	FramesAttached   prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

var _ taskproxy.Observer = (*Metrics)(nil)

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TaskCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "task",
				Name:      "calls_total",
				Help:      "Outbound task.* calls by method and outcome.",
			},
			[]string{"method", "status"},
		),
		TaskCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "task",
				Name:      "call_duration_seconds",
				Help:      "Outbound task.* call latency in seconds.",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method"},
		),
		Handshakes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "handshakes_total",
				Help:      "Finished task handshakes by outcome.",
			},
			[]string{"status"},
		),
		HandshakeTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "handshake_duration_seconds",
				Help:      "Time from proxy creation to ready or timeout.",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 4, 8, 16},
			},
		),
		PlatformCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "platform",
				Name:      "calls_total",
				Help:      "Inbound platform.* calls by method and outcome.",
			},
			[]string{"method", "status"},
		),
		ProxiesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "active",
				Help:      "Number of task proxies in the registry.",
			},
		),
		FramesAttached: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "frame",
				Name:      "attached",
				Help:      "Number of frames attached to the host.",
			},
		),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CallFinished(method string, err error, elapsed time.Duration) {
	m.TaskCalls.WithLabelValues(method, callStatus(err)).Inc()
	m.TaskCallDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) HandshakeFinished(err error, elapsed time.Duration) {
	status := "ready"
	if err != nil {
		status = "timeout"
	}
	m.Handshakes.WithLabelValues(status).Inc()
	m.HandshakeTime.Observe(elapsed.Seconds())
}

func (m *Metrics) InboundHandled(method string, err error) {
	status := "ok"
	switch {
	case errors.Is(err, platform.ErrNotImplemented):
		status = "not_defined"
	case err != nil:
		status = "error"
	}
	m.PlatformCalls.WithLabelValues(method, status).Inc()
}

func (m *Metrics) ProxiesChanged(n int) {
	m.ProxiesActive.Set(float64(n))
}

func callStatus(err error) string {
	var callErr *channel.CallError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, channel.ErrTimeout):
		return "timeout"
	case errors.As(err, &callErr):
		return "remote_error"
	default:
		return "error"
	}
}

// Middleware records request counts and latency labelled by chi route
// pattern, so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
