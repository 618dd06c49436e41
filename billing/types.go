/*
Package billing holds the installment billing domain: clients, contracts,
their payment schedules, the payment state machine and the arrears accrual
calculator.

PURPOSE:
  A contract of value V over N months becomes N dated payments. Each
  payment moves through OPEN / OVERDUE / PAID / PAID_LATE purely as a
  function of its due date, its payment date and "today". Overdue payments
  grow by a one-time penalty plus simple daily interest.

KEY CONCEPTS IN THIS FILE (types.go):
  - Client: owns contracts, carries the two optional accrual rates
  - Contract: value, duration, start date; owns exactly N payments
  - Payment: the mutable entity (status, amounts, penalty flag, version)
  - AccrualGate: last date the arrears batch completed

OWNERSHIP:
  Client -> Contract -> Payment is ownership by id. A Payment knows its
  ContractID and a Contract knows its ClientID; rates are looked up through
  the Store, never through embedded pointers.

MUTATION RULES:
  Payment fields change only through GenerateSchedule, RecordPayment,
  Accrue and Service.UpdatePayment, and reach storage through one
  Store.SavePayment(s) call.

SEE ALSO:
  - schedule.go: Schedule generator
  - status.go: State machine and RecordPayment
  - accrual.go: Penalty and interest calculator
  - store.go: Repository interfaces
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/installment-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClientID string
type ContractID string
type PaymentID string

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusOverdue  Status = "OVERDUE"
	StatusPaid     Status = "PAID"
	StatusPaidLate Status = "PAID_LATE"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusOverdue, StatusPaid, StatusPaidLate:
		return true
	}
	return false
}

// IsPaid is true for PAID and PAID_LATE.
func (s Status) IsPaid() bool { return s == StatusPaid || s == StatusPaidLate }

// =============================================================================
// CLIENT
// =============================================================================

// Client is a billed party. Rates are fractions (0.02 = 2%) and optional.
type Client struct {
	ID       ClientID
	Name     string
	Address  string
	Phone    string
	Registry string // CPF or CNPJ
	Bank     string

	// ContractDueDay is the client's preferred due day, informational only.
	ContractDueDay *generic.TimePoint

	PenaltyRate         *decimal.Decimal // one-time, applied on first overdue run
	MonthlyInterestRate *decimal.Decimal // simple interest per 30-day month

	CreatedAt time.Time
}

// Rates extracts the accrual parameters.
func (c Client) Rates() Rates {
	return Rates{Penalty: c.PenaltyRate, MonthlyInterest: c.MonthlyInterestRate}
}

// Rates are the accrual parameters of one client.
type Rates struct {
	Penalty         *decimal.Decimal
	MonthlyInterest *decimal.Decimal
}

// IsZero is true when neither rate is configured.
func (r Rates) IsZero() bool { return r.Penalty == nil && r.MonthlyInterest == nil }

// =============================================================================
// CONTRACT
// =============================================================================

type Contract struct {
	ID                 ContractID
	ClientID           ClientID // immutable once created
	ContractorName     string
	ContractorDocument string
	Value              decimal.Decimal
	DurationMonths     int
	StartDate          generic.TimePoint
	FirstDueDate       generic.TimePoint
	CreatedAt          time.Time
}

// =============================================================================
// PAYMENT
// =============================================================================

type Payment struct {
	ID         PaymentID
	ContractID ContractID
	Number     int // 1-based, unique within the contract

	DueDate     generic.TimePoint
	PaymentDate *generic.TimePoint // nil until paid

	// Amount is the working amount shown to users; accrual mirrors
	// UpdatedAmount into it.
	Amount decimal.Decimal
	// OriginalAmount is the first computed amount. Frozen.
	OriginalAmount decimal.Decimal
	// UpdatedAmount starts at OriginalAmount and only grows through Accrue.
	UpdatedAmount decimal.Decimal

	PenaltyApplied  bool
	PenaltyAmount   decimal.Decimal // frozen at first application
	LastAccrualDate *generic.TimePoint

	Status Status
	Note   string

	// Version is bumped by every successful save (optimistic locking).
	Version int
}

// IsPaid is true once a payment date is recorded.
func (p Payment) IsPaid() bool { return p.PaymentDate != nil && !p.PaymentDate.IsZero() }

// =============================================================================
// ACCRUAL GATE
// =============================================================================

// AccrualGateID is the fixed key of the gate row.
const AccrualGateID = "payment-status-update"

// AccrualGate records the last date the arrears batch completed.
type AccrualGate struct {
	ID      string
	LastRun *generic.TimePoint // nil before the first run
}

// RanOn reports whether the batch already completed on day.
func (g AccrualGate) RanOn(day generic.TimePoint) bool {
	return g.LastRun != nil && g.LastRun.Equal(day)
}

// Advance returns the gate recorded for day.
func (g AccrualGate) Advance(day generic.TimePoint) AccrualGate {
	return AccrualGate{ID: AccrualGateID, LastRun: day.Ptr()}
}
