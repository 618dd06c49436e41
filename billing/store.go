/*
store.go - Persistence interface for clients, contracts, payments and the gate

PURPOSE:
  Defines the interface between the billing domain and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:   CRUD plus the three payment predicates the engine needs
  TxStore: Store plus WithTx for atomic multi-table writes

ATOMIC WRITES:
  SaveContract writes the contract and its whole schedule at once.
  WithTx wraps the arrears batch so the gate and the payment updates commit
  together or not at all.

OPTIMISTIC LOCKING:
  SavePayment/SavePayments only succeed when Payment.Version matches the
  stored version, and bump Version on the caller's value. A stale write
  returns generic.ErrConcurrentModification, so the batch job can never
  overwrite a payment that was just marked paid.

CASCADES:
  DeleteClient removes the client's contracts and payments.
  DeleteContract removes its payments.

NOT FOUND:
  Get* methods return generic.ErrClientNotFound / ErrContractNotFound /
  ErrPaymentNotFound (all wrap generic.ErrNotFound).

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - billing/store/memory.go: In-memory for testing

SEE ALSO:
  - service.go: Higher-level operations using Store
  - arrears/job.go: Batch job using TxStore
*/
package billing

import (
	"context"

	"github.com/warp/installment-engine/generic"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// Clients
	SaveClient(ctx context.Context, c Client) error
	GetClient(ctx context.Context, id ClientID) (*Client, error)
	ListClients(ctx context.Context) ([]Client, error)
	DeleteClient(ctx context.Context, id ClientID) error

	// Contracts. SaveContract inserts the contract with its schedule;
	// UpdateContract only touches descriptive fields.
	SaveContract(ctx context.Context, c Contract, schedule []Payment) error
	UpdateContract(ctx context.Context, c Contract) error
	GetContract(ctx context.Context, id ContractID) (*Contract, error)
	ListContracts(ctx context.Context) ([]Contract, error)
	ListContractsByClient(ctx context.Context, clientID ClientID) ([]Contract, error)
	DeleteContract(ctx context.Context, id ContractID) error

	// Payments, ordered by due date then installment number.
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	ListPayments(ctx context.Context) ([]Payment, error)
	ListPaymentsByContract(ctx context.Context, contractID ContractID) ([]Payment, error)
	ListPaymentsByClient(ctx context.Context, clientID ClientID) ([]Payment, error)
	SavePayment(ctx context.Context, p *Payment) error
	SavePayments(ctx context.Context, ps []Payment) error

	// FindOverdueUnpaid returns payments due strictly before today with no
	// payment date.
	FindOverdueUnpaid(ctx context.Context, today generic.TimePoint) ([]Payment, error)
	// FindByDueDateRange returns payments due within [start, end].
	FindByDueDateRange(ctx context.Context, start, end generic.TimePoint) ([]Payment, error)
	// FindByClientAndDueDateRange narrows FindByDueDateRange to one client.
	FindByClientAndDueDateRange(ctx context.Context, clientID ClientID, start, end generic.TimePoint) ([]Payment, error)

	// Gate. GetAccrualGate returns an empty gate (LastRun nil) before the
	// first run.
	GetAccrualGate(ctx context.Context) (AccrualGate, error)
	SaveAccrualGate(ctx context.Context, g AccrualGate) error
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
