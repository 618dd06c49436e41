/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

FORMATS:
  - Dates are "YYYY-MM-DD" strings
  - Money is a decimal string with two places ("1036.67")
  - Rates are fractions (0.02 = 2%), accepted as JSON numbers or strings

VALIDATION:
  Request types carry `validate` tags checked by go-playground/validator
  before the handler calls the service. Domain rules (positive value,
  duration >= 1, rate range) are enforced by the billing package.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/installment-engine/arrears"
	"github.com/warp/installment-engine/billing"
	"github.com/warp/installment-engine/generic"
)

// =============================================================================
// CLIENTS
// =============================================================================

// ClientRequest creates or replaces a client.
type ClientRequest struct {
	Name                string           `json:"name" validate:"required,max=200"`
	Address             string           `json:"address" validate:"max=300"`
	Phone               string           `json:"phone" validate:"max=40"`
	Registry            string           `json:"registry" validate:"required,max=40"`
	Bank                string           `json:"bank" validate:"max=120"`
	ContractDueDay      string           `json:"contract_due_day" validate:"omitempty,datetime=2006-01-02"`
	PenaltyRate         *decimal.Decimal `json:"penalty_rate"`
	MonthlyInterestRate *decimal.Decimal `json:"monthly_interest_rate"`
}

// ClientDTO represents a client in API responses.
type ClientDTO struct {
	ID                  string           `json:"id"`
	Name                string           `json:"name"`
	Address             string           `json:"address"`
	Phone               string           `json:"phone"`
	Registry            string           `json:"registry"`
	Bank                string           `json:"bank"`
	ContractDueDay      string           `json:"contract_due_day,omitempty"`
	PenaltyRate         *decimal.Decimal `json:"penalty_rate"`
	MonthlyInterestRate *decimal.Decimal `json:"monthly_interest_rate"`
	CreatedAt           string           `json:"created_at,omitempty"`
}

// =============================================================================
// CONTRACTS
// =============================================================================

// CreateContractRequest opens a contract and generates its schedule.
type CreateContractRequest struct {
	ClientID           string          `json:"client_id" validate:"required"`
	ContractorName     string          `json:"contractor_name" validate:"required,max=200"`
	ContractorDocument string          `json:"contractor_document" validate:"max=40"`
	Value              decimal.Decimal `json:"value"`
	DurationMonths     int             `json:"duration_months"`
	StartDate          string          `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	FirstDueDate       string          `json:"first_due_date" validate:"required,datetime=2006-01-02"`
}

// UpdateContractRequest edits descriptive contract fields. Empty fields are
// left unchanged.
type UpdateContractRequest struct {
	ContractorName     string `json:"contractor_name" validate:"max=200"`
	ContractorDocument string `json:"contractor_document" validate:"max=40"`
	StartDate          string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
}

// ContractDTO represents a contract in API responses.
type ContractDTO struct {
	ID                 string       `json:"id"`
	ClientID           string       `json:"client_id"`
	ContractorName     string       `json:"contractor_name"`
	ContractorDocument string       `json:"contractor_document"`
	Value              string       `json:"value"`
	DurationMonths     int          `json:"duration_months"`
	StartDate          string       `json:"start_date"`
	FirstDueDate       string       `json:"first_due_date"`
	CreatedAt          string       `json:"created_at,omitempty"`
	Payments           []PaymentDTO `json:"payments,omitempty"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentDTO represents a payment in API responses.
type PaymentDTO struct {
	ID              string `json:"id"`
	ContractID      string `json:"contract_id"`
	Number          int    `json:"number"`
	DueDate         string `json:"due_date"`
	PaymentDate     string `json:"payment_date,omitempty"`
	Amount          string `json:"amount"`
	OriginalAmount  string `json:"original_amount"`
	UpdatedAmount   string `json:"updated_amount"`
	PenaltyApplied  bool   `json:"penalty_applied"`
	PenaltyAmount   string `json:"penalty_amount"`
	LastAccrualDate string `json:"last_accrual_date,omitempty"`
	Status          string `json:"status"`
	Note            string `json:"note,omitempty"`
	Version         int    `json:"version"`
}

// RecordPaymentRequest marks a payment as paid. An empty date means today.
type RecordPaymentRequest struct {
	PaymentDate string `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
}

// UpdatePaymentRequest edits a payment. Absent fields are left unchanged;
// clear_payment_date removes a recorded payment.
type UpdatePaymentRequest struct {
	DueDate          *string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	PaymentDate      *string `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
	ClearPaymentDate bool    `json:"clear_payment_date"`
	Note             *string `json:"note" validate:"omitempty,max=500"`
}

// =============================================================================
// REPORTS
// =============================================================================

// ReportRequest selects the payments a report covers.
type ReportRequest struct {
	Start    string  `json:"start" validate:"required,datetime=2006-01-02"`
	End      string  `json:"end" validate:"required,datetime=2006-01-02"`
	ClientID *string `json:"client_id" validate:"omitempty,min=1"`
}

// =============================================================================
// ADMIN
// =============================================================================

// AccrualResultDTO reports one arrears batch run.
type AccrualResultDTO struct {
	Date             string `json:"date"`
	Skipped          bool   `json:"skipped"`
	Processed        int    `json:"processed"`
	PenaltiesApplied int    `json:"penalties_applied"`
	AccruedDelta     string `json:"accrued_delta"`
	DurationMS       int64  `json:"duration_ms"`
}

// AccrualStatusDTO is the arrears batch status.
type AccrualStatusDTO struct {
	State      string            `json:"state"`
	LastRun    string            `json:"last_run,omitempty"`
	NextRun    string            `json:"next_run,omitempty"`
	LastResult *AccrualResultDTO `json:"last_result,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toClientDTO(c billing.Client) ClientDTO {
	dto := ClientDTO{
		ID:                  string(c.ID),
		Name:                c.Name,
		Address:             c.Address,
		Phone:               c.Phone,
		Registry:            c.Registry,
		Bank:                c.Bank,
		ContractDueDay:      dateString(c.ContractDueDay),
		PenaltyRate:         c.PenaltyRate,
		MonthlyInterestRate: c.MonthlyInterestRate,
	}
	if !c.CreatedAt.IsZero() {
		dto.CreatedAt = c.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toClientDTOs(cs []billing.Client) []ClientDTO {
	out := make([]ClientDTO, 0, len(cs))
	for _, c := range cs {
		out = append(out, toClientDTO(c))
	}
	return out
}

func toContractDTO(c billing.Contract) ContractDTO {
	dto := ContractDTO{
		ID:                 string(c.ID),
		ClientID:           string(c.ClientID),
		ContractorName:     c.ContractorName,
		ContractorDocument: c.ContractorDocument,
		Value:              money(c.Value),
		DurationMonths:     c.DurationMonths,
		StartDate:          c.StartDate.String(),
		FirstDueDate:       c.FirstDueDate.String(),
	}
	if !c.CreatedAt.IsZero() {
		dto.CreatedAt = c.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toContractDTOs(cs []billing.Contract) []ContractDTO {
	out := make([]ContractDTO, 0, len(cs))
	for _, c := range cs {
		out = append(out, toContractDTO(c))
	}
	return out
}

func toPaymentDTO(p billing.Payment) PaymentDTO {
	return PaymentDTO{
		ID:              string(p.ID),
		ContractID:      string(p.ContractID),
		Number:          p.Number,
		DueDate:         p.DueDate.String(),
		PaymentDate:     dateString(p.PaymentDate),
		Amount:          money(p.Amount),
		OriginalAmount:  money(p.OriginalAmount),
		UpdatedAmount:   money(p.UpdatedAmount),
		PenaltyApplied:  p.PenaltyApplied,
		PenaltyAmount:   money(p.PenaltyAmount),
		LastAccrualDate: dateString(p.LastAccrualDate),
		Status:          string(p.Status),
		Note:            p.Note,
		Version:         p.Version,
	}
}

func toPaymentDTOs(ps []billing.Payment) []PaymentDTO {
	out := make([]PaymentDTO, 0, len(ps))
	for _, p := range ps {
		out = append(out, toPaymentDTO(p))
	}
	return out
}

func toAccrualResultDTO(r arrears.Result) AccrualResultDTO {
	return AccrualResultDTO{
		Date:             r.Date.String(),
		Skipped:          r.Skipped,
		Processed:        r.Processed,
		PenaltiesApplied: r.PenaltiesApplied,
		AccruedDelta:     money(r.AccruedDelta),
		DurationMS:       r.Duration.Milliseconds(),
	}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(generic.CentPlaces)
}

func dateString(tp *generic.TimePoint) string {
	if tp == nil {
		return ""
	}
	return tp.String()
}
