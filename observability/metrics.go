// Package observability holds the Prometheus registry for the HTTP layer and
// the arrears batch.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Accrual run outcomes used as the "status" label.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusFailure = "failure"
)

// Metrics collects the application's Prometheus metrics on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	accrualRuns      *prometheus.CounterVec
	accrualDuration  prometheus.Histogram
	accrualProcessed prometheus.Counter
	accrualPenalties prometheus.Counter
}

// NewMetrics initializes the registry and every collector.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billing_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_accrual_runs_total",
		Help: "Arrears batch executions by outcome.",
	}, []string{"status"})
	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "billing_accrual_run_duration_seconds",
		Help:    "Duration of arrears batch executions.",
		Buckets: prometheus.DefBuckets,
	})
	processed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_accrual_payments_processed_total",
		Help: "Overdue payments updated by the arrears batch.",
	})
	penalties := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_accrual_penalties_applied_total",
		Help: "One-time penalties applied by the arrears batch.",
	})

	registry.MustRegister(requests, duration, runs, runDuration, processed, penalties)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		accrualRuns:      runs,
		accrualDuration:  runDuration,
		accrualProcessed: processed,
		accrualPenalties: penalties,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveAccrualRun records one arrears batch execution.
func (m *Metrics) ObserveAccrualRun(status string, processed, penalties int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.accrualRuns.WithLabelValues(status).Inc()
	m.accrualDuration.Observe(elapsed.Seconds())
	if processed > 0 {
		m.accrualProcessed.Add(float64(processed))
	}
	if penalties > 0 {
		m.accrualPenalties.Add(float64(penalties))
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

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
