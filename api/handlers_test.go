/*
handlers_test.go - HTTP round trips through the router

Tests for:
- Client and contract creation, schedule listing
- Payment recording and editing
- Error mapping (400 / 404)
- Reports (JSON and XLSX)
- Arrears batch admin endpoints
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/installment-engine/arrears"
	"github.com/warp/installment-engine/billing"
	"github.com/warp/installment-engine/billing/store"
	"github.com/warp/installment-engine/generic"
	"github.com/warp/installment-engine/report"
)

type testServer struct {
	router http.Handler
	store  *store.Memory
}

func newTestServer(t *testing.T, today string) *testServer {
	t.Helper()
	mem := store.NewMemory()
	svc := billing.NewService(mem, billing.WithClock(func() generic.TimePoint {
		return generic.MustDate(today)
	}))
	reports := report.NewService(mem, nil, nil)
	job := arrears.NewJob(mem)
	h := NewHandler(mem, svc, reports, job, nil, nil)
	return &testServer{router: NewRouter(h, RouterOptions{}), store: mem}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) createClient(t *testing.T) ClientDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/clients", map[string]any{
		"name":                  "acme industries",
		"registry":              "12.345.678/0001-90",
		"penalty_rate":          "0.02",
		"monthly_interest_rate": "0.10",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[ClientDTO](t, rec)
}

func (s *testServer) createContract(t *testing.T, clientID string) ContractDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/contracts", map[string]any{
		"client_id":       clientID,
		"contractor_name": "jane doe",
		"value":           "10000",
		"duration_months": 10,
		"first_due_date":  "2024-01-10",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[ContractDTO](t, rec)
}

func TestCreateContract_ReturnsSchedule(t *testing.T) {
	// GIVEN: A registered client
	srv := newTestServer(t, "2024-01-01")
	client := srv.createClient(t)
	assert.Equal(t, "Acme Industries", client.Name)

	// WHEN: Opening a contract
	contract := srv.createContract(t, client.ID)

	// THEN: The response carries the ten generated payments
	require.Len(t, contract.Payments, 10)
	assert.Equal(t, "1000.00", contract.Payments[0].Amount)
	assert.Equal(t, "2024-01-10", contract.Payments[0].DueDate)
	assert.Equal(t, "OPEN", contract.Payments[0].Status)
	assert.Equal(t, "2024-10-10", contract.Payments[9].DueDate)

	rec := srv.do(t, http.MethodGet, "/api/contracts/"+contract.ID+"/payments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]PaymentDTO](t, rec), 10)

	rec = srv.do(t, http.MethodGet, "/api/clients/"+client.ID+"/contracts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ContractDTO](t, rec), 1)
}

func TestCreateContract_Errors(t *testing.T) {
	srv := newTestServer(t, "2024-01-01")
	client := srv.createClient(t)

	// Zero duration
	rec := srv.do(t, http.MethodPost, "/api/contracts", map[string]any{
		"client_id":       client.ID,
		"contractor_name": "Jane",
		"value":           "100",
		"duration_months": 0,
		"first_due_date":  "2024-01-10",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "invalid contract parameters")

	// Malformed date
	rec = srv.do(t, http.MethodPost, "/api/contracts", map[string]any{
		"client_id":       client.ID,
		"contractor_name": "Jane",
		"value":           "100",
		"duration_months": 1,
		"first_due_date":  "10/01/2024",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown client
	rec = srv.do(t, http.MethodPost, "/api/contracts", map[string]any{
		"client_id":       "missing",
		"contractor_name": "Jane",
		"value":           "100",
		"duration_months": 1,
		"first_due_date":  "2024-01-10",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateClient_Validation(t *testing.T) {
	srv := newTestServer(t, "2024-01-01")

	rec := srv.do(t, http.MethodPost, "/api/clients", map[string]any{"registry": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/clients", map[string]any{
		"name":         "Acme",
		"registry":     "1",
		"penalty_rate": "2",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "invalid rate")

	rec = srv.do(t, http.MethodGet, "/api/clients/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordAndUpdatePayment(t *testing.T) {
	srv := newTestServer(t, "2024-01-15")
	client := srv.createClient(t)
	contract := srv.createContract(t, client.ID)
	first := contract.Payments[0]
	second := contract.Payments[1]
	assert.Equal(t, "OVERDUE", first.Status)

	// Pay the overdue one (defaults to today)
	rec := srv.do(t, http.MethodPost, "/api/payments/"+first.ID+"/pay", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decode[PaymentDTO](t, rec)
	assert.Equal(t, "PAID_LATE", paid.Status)
	assert.Equal(t, "2024-01-15", paid.PaymentDate)

	// Pay the next one early with an explicit date
	rec = srv.do(t, http.MethodPost, "/api/payments/"+second.ID+"/pay", map[string]any{"payment_date": "2024-01-14"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PAID", decode[PaymentDTO](t, rec).Status)

	// Clear it and add a note
	rec = srv.do(t, http.MethodPut, "/api/payments/"+second.ID, map[string]any{
		"clear_payment_date": true,
		"note":               "bounced",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[PaymentDTO](t, rec)
	assert.Equal(t, "OPEN", updated.Status)
	assert.Empty(t, updated.PaymentDate)
	assert.Equal(t, "bounced", updated.Note)

	rec = srv.do(t, http.MethodPost, "/api/payments/missing/pay", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReports(t *testing.T) {
	srv := newTestServer(t, "2024-03-15")
	client := srv.createClient(t)
	contract := srv.createContract(t, client.ID)

	rec := srv.do(t, http.MethodPost, "/api/payments/"+contract.Payments[0].ID+"/pay", map[string]any{"payment_date": "2024-01-05"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Jan paid early, Feb and Mar 10 overdue, the rest open
	body := map[string]any{"start": "2024-01-01", "end": "2024-12-31", "client_id": client.ID}
	rec = srv.do(t, http.MethodPost, "/api/reports", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	r := decode[report.Report](t, rec)
	assert.Equal(t, "Acme Industries", r.ClientLabel)
	assert.Equal(t, 10, r.Total)
	assert.Equal(t, 1, r.Paid)
	assert.Equal(t, 2, r.Overdue)
	assert.Equal(t, 7, r.Open)
	assert.InDelta(t, 10.0, r.EarlyPaymentPct, 1e-9)

	rec = srv.do(t, http.MethodPost, "/api/reports/export", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, report.XLSXContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "report_2024-01-01_2024-12-31.xlsx")
	assert.NotZero(t, rec.Body.Len())

	rec = srv.do(t, http.MethodPost, "/api/reports", map[string]any{"start": "2024-12-31", "end": "2024-01-01"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminAccrual(t *testing.T) {
	srv := newTestServer(t, "2024-01-15")
	client := srv.createClient(t)
	contract := srv.createContract(t, client.ID)

	rec := srv.do(t, http.MethodPost, "/api/admin/accrual", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[AccrualResultDTO](t, rec)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.PenaltiesApplied)

	// 1000 + 20 + 1000*5/30*0.10
	rec = srv.do(t, http.MethodGet, "/api/payments/"+contract.Payments[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1036.67", decode[PaymentDTO](t, rec).Amount)

	rec = srv.do(t, http.MethodPost, "/api/admin/accrual", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[AccrualResultDTO](t, rec).Skipped)

	rec = srv.do(t, http.MethodGet, "/api/admin/accrual", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[AccrualStatusDTO](t, rec)
	assert.Equal(t, "IDLE", status.State)
	assert.Equal(t, "2024-01-15", status.LastRun)
	require.NotNil(t, status.LastResult)
	assert.True(t, status.LastResult.Skipped)
}

func TestDeleteClient_CascadesOverHTTP(t *testing.T) {
	srv := newTestServer(t, "2024-01-01")
	client := srv.createClient(t)
	contract := srv.createContract(t, client.ID)

	rec := srv.do(t, http.MethodDelete, "/api/clients/"+client.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/contracts/"+contract.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/payments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]PaymentDTO](t, rec))
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, "2024-01-01")
	rec := srv.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
