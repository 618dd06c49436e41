package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/api/clients/{id}")

	req := httptest.NewRequest(http.MethodGet, "/api/clients/abc", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `billing_http_requests_total{code="418",route="/api/clients/{id}"} 1`)
	assert.Contains(t, body, `billing_http_request_duration_seconds_bucket{route="/api/clients/{id}"`)
}

func TestObserveAccrualRun(t *testing.T) {
	metrics := NewMetrics()

	metrics.ObserveAccrualRun(StatusSuccess, 3, 2, 20*time.Millisecond)
	metrics.ObserveAccrualRun(StatusSkipped, 0, 0, time.Millisecond)

	body := scrape(t, metrics)
	assert.Contains(t, body, `billing_accrual_runs_total{status="success"} 1`)
	assert.Contains(t, body, `billing_accrual_runs_total{status="skipped"} 1`)
	assert.Contains(t, body, "billing_accrual_payments_processed_total 3")
	assert.Contains(t, body, "billing_accrual_penalties_applied_total 2")
	assert.Contains(t, body, "billing_accrual_run_duration_seconds_count 2")
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, metrics.Middleware(next))
	metrics.ObserveAccrualRun(StatusFailure, 0, 0, time.Second)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
