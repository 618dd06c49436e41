/*
service.go - Client, contract and payment operations

PURPOSE:
  The write path for everything except the arrears batch. Handlers call the
  Service; the Service validates input, runs the pure domain functions
  (GenerateSchedule, RecordPayment, Reschedule) and persists the result in
  one Store call.

VALIDATION:
  - Clients need a name and a registry document. Rates, when present, must
    be fractions in [0, 1] (generic.ErrInvalidRate).
  - Contracts need an existing client, a positive value, a duration of at
    least one month and a first due date.
  - Contract value and duration are fixed at creation. UpdateContract only
    changes descriptive fields, so a contract always owns exactly
    DurationMonths payments.

NAMES:
  Client and contractor names are stored title-cased.

SEE ALSO:
  - schedule.go: GenerateSchedule
  - status.go: RecordPayment, Reschedule
  - arrears/job.go: The batch writer
*/
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/warp/installment-engine/generic"
)

// Service coordinates billing operations against a TxStore.
type Service struct {
	store  TxStore
	clock  func() generic.TimePoint
	logger *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the source of "today" (tests).
func WithClock(clock func() generic.TimePoint) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

func NewService(store TxStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		clock:  generic.Today,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "billing")
	return s
}

// Today returns the service's notion of the current day.
func (s *Service) Today() generic.TimePoint { return s.clock() }

// =============================================================================
// CLIENTS
// =============================================================================

// ClientInput carries the editable client fields.
type ClientInput struct {
	Name                string
	Address             string
	Phone               string
	Registry            string
	Bank                string
	ContractDueDay      *generic.TimePoint
	PenaltyRate         *decimal.Decimal
	MonthlyInterestRate *decimal.Decimal
}

func (in ClientInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &generic.ValidationError{Field: "name", Reason: "is required"}
	}
	if strings.TrimSpace(in.Registry) == "" {
		return &generic.ValidationError{Field: "registry", Reason: "is required"}
	}
	if !generic.ValidRate(in.PenaltyRate) {
		return fmt.Errorf("penalty rate %s: %w", in.PenaltyRate, generic.ErrInvalidRate)
	}
	if !generic.ValidRate(in.MonthlyInterestRate) {
		return fmt.Errorf("monthly interest rate %s: %w", in.MonthlyInterestRate, generic.ErrInvalidRate)
	}
	return nil
}

func (in ClientInput) apply(c *Client) {
	c.Name = titleCase(in.Name)
	c.Address = strings.TrimSpace(in.Address)
	c.Phone = strings.TrimSpace(in.Phone)
	c.Registry = strings.TrimSpace(in.Registry)
	c.Bank = strings.TrimSpace(in.Bank)
	c.ContractDueDay = in.ContractDueDay
	c.PenaltyRate = in.PenaltyRate
	c.MonthlyInterestRate = in.MonthlyInterestRate
}

func (s *Service) RegisterClient(ctx context.Context, in ClientInput) (*Client, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c := Client{
		ID:        ClientID(uuid.NewString()),
		CreatedAt: time.Now().UTC(),
	}
	in.apply(&c)

	if err := s.store.SaveClient(ctx, c); err != nil {
		return nil, fmt.Errorf("save client: %w", err)
	}
	s.logger.Info("client registered", "client_id", c.ID)
	return &c, nil
}

func (s *Service) UpdateClient(ctx context.Context, id ClientID, in ClientInput) (*Client, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c, err := s.store.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	in.apply(c)

	if err := s.store.SaveClient(ctx, *c); err != nil {
		return nil, fmt.Errorf("save client: %w", err)
	}
	return c, nil
}

func (s *Service) GetClient(ctx context.Context, id ClientID) (*Client, error) {
	return s.store.GetClient(ctx, id)
}

func (s *Service) ListClients(ctx context.Context) ([]Client, error) {
	return s.store.ListClients(ctx)
}

// DeleteClient removes the client with all its contracts and payments.
func (s *Service) DeleteClient(ctx context.Context, id ClientID) error {
	if err := s.store.DeleteClient(ctx, id); err != nil {
		return err
	}
	s.logger.Info("client deleted", "client_id", id)
	return nil
}

// =============================================================================
// CONTRACTS
// =============================================================================

// ContractInput carries the fields needed to open a contract.
type ContractInput struct {
	ClientID           ClientID
	ContractorName     string
	ContractorDocument string
	Value              decimal.Decimal
	DurationMonths     int
	StartDate          generic.TimePoint
	FirstDueDate       generic.TimePoint
}

// ContractDetails is the descriptive part of a contract that may change
// after creation.
type ContractDetails struct {
	ContractorName     string
	ContractorDocument string
	StartDate          generic.TimePoint
}

// RegisterContract creates a contract and its full payment schedule in one
// write. Nothing is stored if the schedule cannot be generated.
func (s *Service) RegisterContract(ctx context.Context, in ContractInput) (*Contract, []Payment, error) {
	c := Contract{
		ID:                 ContractID(uuid.NewString()),
		ClientID:           in.ClientID,
		ContractorName:     titleCase(in.ContractorName),
		ContractorDocument: strings.TrimSpace(in.ContractorDocument),
		Value:              in.Value,
		DurationMonths:     in.DurationMonths,
		StartDate:          in.StartDate,
		FirstDueDate:       in.FirstDueDate,
		CreatedAt:          time.Now().UTC(),
	}
	if c.StartDate.IsZero() {
		c.StartDate = in.FirstDueDate
	}

	schedule, err := GenerateSchedule(c, in.FirstDueDate, s.clock())
	if err != nil {
		return nil, nil, err
	}

	err = s.store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.GetClient(ctx, in.ClientID); err != nil {
			return err
		}
		return tx.SaveContract(ctx, c, schedule)
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("contract registered",
		"contract_id", c.ID,
		"client_id", c.ClientID,
		"payments", len(schedule),
	)
	return &c, schedule, nil
}

// UpdateContract changes descriptive fields only. Value and duration are
// fixed once the schedule exists.
func (s *Service) UpdateContract(ctx context.Context, id ContractID, d ContractDetails) (*Contract, error) {
	c, err := s.store.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.ContractorName != "" {
		c.ContractorName = titleCase(d.ContractorName)
	}
	if d.ContractorDocument != "" {
		c.ContractorDocument = strings.TrimSpace(d.ContractorDocument)
	}
	if !d.StartDate.IsZero() {
		c.StartDate = d.StartDate
	}
	if err := s.store.UpdateContract(ctx, *c); err != nil {
		return nil, fmt.Errorf("update contract: %w", err)
	}
	return c, nil
}

func (s *Service) GetContract(ctx context.Context, id ContractID) (*Contract, error) {
	return s.store.GetContract(ctx, id)
}

func (s *Service) ListContracts(ctx context.Context) ([]Contract, error) {
	return s.store.ListContracts(ctx)
}

func (s *Service) ListContractsByClient(ctx context.Context, clientID ClientID) ([]Contract, error) {
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	return s.store.ListContractsByClient(ctx, clientID)
}

// DeleteContract removes the contract and its payments.
func (s *Service) DeleteContract(ctx context.Context, id ContractID) error {
	if err := s.store.DeleteContract(ctx, id); err != nil {
		return err
	}
	s.logger.Info("contract deleted", "contract_id", id)
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentUpdate carries the editable payment fields. Nil fields are left
// untouched; ClearPaymentDate removes a recorded payment.
type PaymentUpdate struct {
	DueDate          *generic.TimePoint
	PaymentDate      *generic.TimePoint
	ClearPaymentDate bool
	Note             *string
}

func (s *Service) GetPayment(ctx context.Context, id PaymentID) (*Payment, error) {
	return s.store.GetPayment(ctx, id)
}

func (s *Service) ListPayments(ctx context.Context) ([]Payment, error) {
	return s.store.ListPayments(ctx)
}

func (s *Service) ListPaymentsByContract(ctx context.Context, contractID ContractID) ([]Payment, error) {
	if _, err := s.store.GetContract(ctx, contractID); err != nil {
		return nil, err
	}
	return s.store.ListPaymentsByContract(ctx, contractID)
}

func (s *Service) ListPaymentsByClient(ctx context.Context, clientID ClientID) ([]Payment, error) {
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	return s.store.ListPaymentsByClient(ctx, clientID)
}

// RecordPayment marks a payment as paid on date. The status becomes PAID or
// PAID_LATE; amounts accrued so far stay as they are.
func (s *Service) RecordPayment(ctx context.Context, id PaymentID, date generic.TimePoint) (*Payment, error) {
	if date.IsZero() {
		return nil, &generic.ValidationError{Field: "payment_date", Reason: "is required"}
	}
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := RecordPayment(*p, date, s.clock())
	if err := s.store.SavePayment(ctx, &updated); err != nil {
		return nil, err
	}

	s.logger.Info("payment recorded",
		"payment_id", updated.ID,
		"payment_date", date,
		"status", updated.Status,
	)
	return &updated, nil
}

// UpdatePayment applies an edit and re-derives the status. A provided due
// date is always reassigned, whatever the current status.
func (s *Service) UpdatePayment(ctx context.Context, id PaymentID, u PaymentUpdate) (*Payment, error) {
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	today := s.clock()
	updated := *p

	if u.DueDate != nil {
		if u.DueDate.IsZero() {
			return nil, &generic.ValidationError{Field: "due_date", Reason: "must be a valid date"}
		}
		updated = Reschedule(updated, *u.DueDate, today)
	}
	switch {
	case u.ClearPaymentDate:
		updated = ClearPayment(updated, today)
	case u.PaymentDate != nil:
		updated = RecordPayment(updated, *u.PaymentDate, today)
	}
	if u.Note != nil {
		updated.Note = strings.TrimSpace(*u.Note)
	}

	if err := s.store.SavePayment(ctx, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// titleCase normalizes whitespace and capitalizes each word. A Caser keeps
// state, so each call builds its own.
func titleCase(s string) string {
	return cases.Title(language.Und).String(strings.Join(strings.Fields(s), " "))
}
