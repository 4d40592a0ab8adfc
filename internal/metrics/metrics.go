// Package metrics exposes ledger and HTTP counters to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sellerledger/backend/internal/events"
)

type Metrics struct {
	registry *prometheus.Registry

	ledgerEvents *prometheus.CounterVec
	ledgerAmount *prometheus.CounterVec
	autoApproved prometheus.Counter
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

// New registers every collector on a fresh registry so tests and multiple
// servers in one process do not collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ledgerEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_events_total",
			Help: "Committed ledger state changes by kind.",
		}, []string{"kind"}),
		ledgerAmount: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_event_amount_total",
			Help: "Sum of net amounts carried by ledger events, by kind.",
		}, []string{"kind"}),
		autoApproved: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_auto_approved_total",
			Help: "Commissions approved by the auto-approval job.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "path", "status"}),
		httpInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventHandler counts every published ledger event.
func (m *Metrics) EventHandler() events.Handler {
	return func(_ context.Context, ev events.Event) {
		m.ledgerEvents.WithLabelValues(ev.Kind).Inc()
		if amount, _ := ev.Amount.Float64(); amount > 0 {
			m.ledgerAmount.WithLabelValues(ev.Kind).Add(amount)
		}
	}
}

func (m *Metrics) AutoApproved(n int) {
	if n > 0 {
		m.autoApproved.Add(float64(n))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware records request counts and latency. The route label is the
// matched ServeMux pattern so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(rec.status)
		m.httpRequests.WithLabelValues(r.Method, path, status).Inc()
		m.httpDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}
