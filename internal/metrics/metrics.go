// Package metrics exposes Prometheus collectors for ingestion and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chronodle/chronodle/internal/events"
)

// Metrics owns a private registry so tests and multiple servers do not collide.
type Metrics struct {
	registry *prometheus.Registry

	ingestions       *prometheus.CounterVec
	ingestedEvents   prometheus.Counter
	lockContended    prometheus.Counter
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingestions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "chronodle_ingestions_total", Help: "Feed ingestions by outcome"},
			[]string{"outcome"},
		),
		ingestedEvents: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "chronodle_ingested_events_total", Help: "Rows inserted by ingestion"},
		),
		lockContended: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "chronodle_fetch_lock_contended_total", Help: "Fetch lock attempts lost to another caller"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests"},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "endpoint"},
		),
		requestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "http_requests_in_flight", Help: "Current in-flight requests"},
		),
	}
	m.registry.MustRegister(
		m.ingestions, m.ingestedEvents, m.lockContended,
		m.requestsTotal, m.requestDuration, m.requestsInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// LockContended implements events.Observer.
func (m *Metrics) LockContended(events.Date) {
	m.lockContended.Inc()
}

// IngestionFinished implements events.Observer.
func (m *Metrics) IngestionFinished(_ events.Date, inserted int, err error) {
	if err != nil {
		m.ingestions.WithLabelValues("failure").Inc()
		return
	}
	m.ingestions.WithLabelValues("success").Inc()
	m.ingestedEvents.Add(float64(inserted))
}

// Middleware records request counts and latency keyed by the chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.requestsInFlight.Inc()
		defer m.requestsInFlight.Dec()

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		m.requestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rw.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
