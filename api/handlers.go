/*
handlers.go - HTTP API handlers for the installment billing engine

PURPOSE:
  Exposes clients, contracts, payments, reports and the arrears batch via
  a REST API. Handles HTTP request/response, JSON serialization, and
  delegates to billing.Service, report.Service and arrears.Job.

ENDPOINTS:
  Clients:
    GET    /api/clients                 List clients
    POST   /api/clients                 Register client
    GET    /api/clients/{id}            Client details
    PUT    /api/clients/{id}            Replace client fields
    DELETE /api/clients/{id}            Delete client (cascades)
    GET    /api/clients/{id}/contracts  Client's contracts
    GET    /api/clients/{id}/payments   Client's payments

  Contracts:
    GET    /api/contracts               List contracts
    POST   /api/contracts               Open contract + generate schedule
    GET    /api/contracts/{id}          Contract details
    PUT    /api/contracts/{id}          Edit descriptive fields
    DELETE /api/contracts/{id}          Delete contract (cascades)
    GET    /api/contracts/{id}/payments Contract schedule

  Payments:
    GET    /api/payments                List payments
    GET    /api/payments/{id}           Payment details
    PUT    /api/payments/{id}           Edit due date / payment date / note
    POST   /api/payments/{id}/pay       Record payment

  Reports:
    POST   /api/reports                 Delinquency report (JSON)
    POST   /api/reports/export          Same report as XLSX

  Admin:
    GET    /api/admin/accrual           Batch state, gate and last result
    POST   /api/admin/accrual           Trigger the batch now

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid contract parameters, invalid period/rate
  - 404: Client, contract or payment not found
  - 409: Concurrent modification (stale payment version)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/installment-engine/arrears"
	"github.com/warp/installment-engine/billing"
	"github.com/warp/installment-engine/generic"
	"github.com/warp/installment-engine/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     billing.Store
	Billing   *billing.Service
	Reports   *report.Service
	Job       *arrears.Job
	Scheduler *arrears.Scheduler // optional, for next-run reporting
	Logger    *slog.Logger

	validate *validator.Validate
}

// NewHandler creates a handler. Scheduler may be nil.
func NewHandler(store billing.Store, svc *billing.Service, reports *report.Service, job *arrears.Job, scheduler *arrears.Scheduler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:     store,
		Billing:   svc,
		Reports:   reports,
		Job:       job,
		Scheduler: scheduler,
		Logger:    logger.With("component", "api"),
		validate:  validator.New(),
	}
}

// =============================================================================
// CLIENT ENDPOINTS
// =============================================================================

func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Billing.ListClients(r.Context())
	if err != nil {
		h.writeServiceError(w, "failed to list clients", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTOs(clients))
}

func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeClient(w, r)
	if !ok {
		return
	}
	client, err := h.Billing.RegisterClient(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, "failed to create client", err)
		return
	}
	writeJSON(w, http.StatusCreated, toClientDTO(*client))
}

func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	client, err := h.Billing.GetClient(r.Context(), billing.ClientID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, "failed to get client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*client))
}

func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeClient(w, r)
	if !ok {
		return
	}
	client, err := h.Billing.UpdateClient(r.Context(), billing.ClientID(chi.URLParam(r, "id")), in)
	if err != nil {
		h.writeServiceError(w, "failed to update client", err)
		return
	}
	h.invalidateReports(r.Context())
	writeJSON(w, http.StatusOK, toClientDTO(*client))
}

func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	if err := h.Billing.DeleteClient(r.Context(), billing.ClientID(chi.URLParam(r, "id"))); err != nil {
		h.writeServiceError(w, "failed to delete client", err)
		return
	}
	h.invalidateReports(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListClientContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := h.Billing.ListContractsByClient(r.Context(), billing.ClientID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, "failed to list contracts", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTOs(contracts))
}

func (h *Handler) ListClientPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Billing.ListPaymentsByClient(r.Context(), billing.ClientID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, "failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

func (h *Handler) decodeClient(w http.ResponseWriter, r *http.Request) (billing.ClientInput, bool) {
	var req ClientRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid client", err)
		return billing.ClientInput{}, false
	}
	in := billing.ClientInput{
		Name:                req.Name,
		Address:             req.Address,
		Phone:               req.Phone,
		Registry:            req.Registry,
		Bank:                req.Bank,
		PenaltyRate:         req.PenaltyRate,
		MonthlyInterestRate: req.MonthlyInterestRate,
	}
	if req.ContractDueDay != "" {
		day, _ := generic.ParseDate(req.ContractDueDay)
		in.ContractDueDay = &day
	}
	return in, true
}

// =============================================================================
// CONTRACT ENDPOINTS
// =============================================================================

func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := h.Billing.ListContracts(r.Context())
	if err != nil {
		h.writeServiceError(w, "failed to list contracts", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTOs(contracts))
}

func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req CreateContractRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid contract", err)
		return
	}

	// Formats were checked by the validator.
	firstDue, _ := generic.ParseDate(req.FirstDueDate)
	var start generic.TimePoint
	if req.StartDate != "" {
		start, _ = generic.ParseDate(req.StartDate)
	}

	contract, payments, err := h.Billing.RegisterContract(r.Context(), billing.ContractInput{
		ClientID:           billing.ClientID(req.ClientID),
		ContractorName:     req.ContractorName,
		ContractorDocument: req.ContractorDocument,
		Value:              req.Value,
		DurationMonths:     req.DurationMonths,
		StartDate:          start,
		FirstDueDate:       firstDue,
	})
	if err != nil {
		h.writeServiceError(w, "failed to create contract", err)
		return
	}
	h.invalidateReports(r.Context())

	dto := toContractDTO(*contract)
	dto.Payments = toPaymentDTOs(payments)
	writeJSON(w, http.StatusCreated, dto)
}

func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	contract, err := h.Billing.GetContract(r.Context(), billing.ContractID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, "failed to get contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(*contract))
}

func (h *Handler) UpdateContract(w http.ResponseWriter, r *http.Request) {
	var req UpdateContractRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid contract", err)
		return
	}
	details := billing.ContractDetails{
		ContractorName:     req.ContractorName,
		ContractorDocument: req.ContractorDocument,
	}
	if req.StartDate != "" {
		details.StartDate, _ = generic.ParseDate(req.StartDate)
	}

	contract, err := h.Billing.UpdateContract(r.Context(), billing.ContractID(chi.URLParam(r, "id")), details)
	if err != nil {
		h.writeServiceError(w, "failed to update contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(*contract))
}

func (h *Handler) DeleteContract(w http.ResponseWriter, r *http.Request) {
	if err := h.Billing.DeleteContract(r.Context(), billing.ContractID(chi.URLParam(r, "id"))); err != nil {
		h.writeServiceError(w, "failed to delete contract", err)
		return
	}
	h.invalidateReports(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListContractPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Billing.ListPaymentsByContract(r.Context(), billing.ContractID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, "failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Billing.ListPayments(r.Context())
	if err != nil {
		h.writeServiceError(w, "failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.Billing.GetPayment(r.Context(), billing.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, "failed to get payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*payment))
}

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payment", err)
			return
		}
	}

	date := h.Billing.Today()
	if req.PaymentDate != "" {
		date, _ = generic.ParseDate(req.PaymentDate)
	}

	payment, err := h.Billing.RecordPayment(r.Context(), billing.PaymentID(chi.URLParam(r, "id")), date)
	if err != nil {
		h.writeServiceError(w, "failed to record payment", err)
		return
	}
	h.invalidateReports(r.Context())
	writeJSON(w, http.StatusOK, toPaymentDTO(*payment))
}

func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	var req UpdatePaymentRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payment", err)
		return
	}

	update := billing.PaymentUpdate{
		ClearPaymentDate: req.ClearPaymentDate,
		Note:             req.Note,
	}
	if req.DueDate != nil {
		due, err := generic.ParseDate(*req.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid due date", err)
			return
		}
		update.DueDate = &due
	}
	if req.PaymentDate != nil && *req.PaymentDate != "" {
		paid, err := generic.ParseDate(*req.PaymentDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid payment date", err)
			return
		}
		update.PaymentDate = &paid
	}

	payment, err := h.Billing.UpdatePayment(r.Context(), billing.PaymentID(chi.URLParam(r, "id")), update)
	if err != nil {
		h.writeServiceError(w, "failed to update payment", err)
		return
	}
	h.invalidateReports(r.Context())
	writeJSON(w, http.StatusOK, toPaymentDTO(*payment))
}

// =============================================================================
// REPORT ENDPOINTS
// =============================================================================

func (h *Handler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeReport(w, r)
	if !ok {
		return
	}
	rep, err := h.Reports.Generate(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "failed to generate report", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) ExportReport(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeReport(w, r)
	if !ok {
		return
	}
	rep, payments, err := h.Reports.Payments(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "failed to generate report", err)
		return
	}

	filename := fmt.Sprintf("report_%s_%s.xlsx", req.Start, req.End)
	w.Header().Set("Content-Type", report.XLSXContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	if err := report.WriteXLSX(w, rep, payments); err != nil {
		// Headers are gone; all we can do is log.
		h.Logger.Error("xlsx export failed", "error", err)
	}
}

func (h *Handler) decodeReport(w http.ResponseWriter, r *http.Request) (report.Request, bool) {
	var req ReportRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid report request", err)
		return report.Request{}, false
	}
	start, _ := generic.ParseDate(req.Start)
	end, _ := generic.ParseDate(req.End)

	out := report.Request{Start: start, End: end}
	if req.ClientID != nil {
		id := billing.ClientID(*req.ClientID)
		out.ClientID = &id
	}
	return out, true
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// TriggerAccrual runs the arrears batch for today.
func (h *Handler) TriggerAccrual(w http.ResponseWriter, r *http.Request) {
	result, err := h.Job.RunDailyAccrual(r.Context(), h.Billing.Today())
	if err != nil {
		h.writeServiceError(w, "accrual run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccrualResultDTO(result))
}

// AccrualStatus reports the batch state, the gate and the last result.
func (h *Handler) AccrualStatus(w http.ResponseWriter, r *http.Request) {
	gate, err := h.Store.GetAccrualGate(r.Context())
	if err != nil {
		h.writeServiceError(w, "failed to read accrual gate", err)
		return
	}

	status := AccrualStatusDTO{
		State:   string(h.Job.State()),
		LastRun: dateString(gate.LastRun),
	}
	if h.Scheduler != nil {
		if next := h.Scheduler.NextRun(); !next.IsZero() {
			status.NextRun = next.Format(time.RFC3339)
		}
	}
	if last, ok := h.Job.LastResult(); ok {
		dto := toAccrualResultDTO(last)
		status.LastResult = &dto
	}
	writeJSON(w, http.StatusOK, status)
}

// Health reports liveness, pinging the database when the store supports it.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and runs struct validation.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &generic.ValidationError{Field: "body", Reason: err.Error()}
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &generic.ValidationError{Field: fe.Field(), Reason: "failed " + fe.Tag() + " check"}
		}
		return err
	}
	return nil
}

func (h *Handler) invalidateReports(ctx context.Context) {
	if h.Reports == nil {
		return
	}
	if err := h.Reports.Invalidate(ctx); err != nil {
		h.Logger.Warn("report cache invalidation failed", "error", err)
	}
}

// writeServiceError maps domain errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, generic.ErrConcurrentModification):
		writeError(w, http.StatusConflict, message, err)
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Logger.Error(message, "error", err)
		writeError(w, http.StatusInternalServerError, message, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
