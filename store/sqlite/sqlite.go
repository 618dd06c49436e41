/*
Package sqlite provides a SQLite-backed implementation of billing.TxStore.

PURPOSE:
  Persists clients, contracts, payments and the accrual gate. In production
  the same patterns apply to PostgreSQL with minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  billing.Store:   CRUD and the payment predicates
  billing.TxStore: Store plus WithTx

KEY TABLES:
  clients:      Billed parties with their optional accrual rates
  contracts:    One row per contract, FK to clients (cascade)
  payments:     The schedule rows, FK to contracts (cascade), versioned
  accrual_gate: Single row "payment-status-update" with the last run date

OPTIMISTIC LOCKING:
  Every payment update is
    UPDATE payments SET ..., version = version + 1 WHERE id = ? AND version = ?
  Zero affected rows means the row is gone (ErrPaymentNotFound) or was
  changed since it was read (ErrConcurrentModification).

INDEXES:
  - idx_payments_due_unpaid: FindOverdueUnpaid (batch hot path)
  - idx_payments_due_date: report range queries
  - idx_payments_contract: schedule listing
  - idx_contracts_client: client-scoped reports and cascades

STORAGE FORMATS:
  Dates are TEXT "YYYY-MM-DD" so range predicates compare lexicographically.
  Money and rates are TEXT decimals to avoid float drift.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so a
  ":memory:" database is shared by every call and writers never interleave
  with an open WithTx.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/installment-engine/billing"
	"github.com/warp/installment-engine/generic"
)

// Store implements billing.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection (health checks).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT,
		phone TEXT,
		registry TEXT NOT NULL,
		bank TEXT,
		contract_due_day TEXT,
		penalty_rate TEXT,
		monthly_interest_rate TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_clients_name
		ON clients(name);

	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
		contractor_name TEXT,
		contractor_document TEXT,
		value TEXT NOT NULL,
		duration_months INTEGER NOT NULL CHECK (duration_months >= 1),
		start_date TEXT NOT NULL,
		first_due_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_client
		ON contracts(client_id);

	-- Payments (one row per installment, optimistic version column)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		number INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		payment_date TEXT,
		amount TEXT NOT NULL,
		original_amount TEXT NOT NULL,
		updated_amount TEXT NOT NULL,
		penalty_applied BOOLEAN NOT NULL DEFAULT FALSE,
		penalty_amount TEXT NOT NULL DEFAULT '0',
		last_accrual_date TEXT,
		status TEXT NOT NULL,
		note TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		UNIQUE(contract_id, number)
	);

	CREATE INDEX IF NOT EXISTS idx_payments_contract
		ON payments(contract_id, number);
	CREATE INDEX IF NOT EXISTS idx_payments_due_date
		ON payments(due_date);

	-- Batch hot path: unpaid rows past due
	CREATE INDEX IF NOT EXISTS idx_payments_due_unpaid
		ON payments(due_date) WHERE payment_date IS NULL;

	-- Accrual gate (single row)
	CREATE TABLE IF NOT EXISTS accrual_gate (
		id TEXT PRIMARY KEY,
		last_run_date TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is the part of *sql.DB and *sql.Tx the queries need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs every billing.Store operation against one querier. Store
// locks and passes s.db; WithTx passes the open *sql.Tx.
type queries struct {
	q querier
}

// =============================================================================
// CLIENTS
// =============================================================================

const clientColumns = `id, name, address, phone, registry, bank, contract_due_day,
	penalty_rate, monthly_interest_rate, created_at`

// SaveClient inserts or updates a client.
func (s *Store) SaveClient(ctx context.Context, c billing.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.SaveClient(ctx, c)
}

func (qs queries) SaveClient(ctx context.Context, c billing.Client) error {
	query := `
		INSERT INTO clients (` + clientColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			phone = excluded.phone,
			registry = excluded.registry,
			bank = excluded.bank,
			contract_due_day = excluded.contract_due_day,
			penalty_rate = excluded.penalty_rate,
			monthly_interest_rate = excluded.monthly_interest_rate
	`
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := qs.q.ExecContext(ctx, query,
		c.ID, c.Name, c.Address, c.Phone, c.Registry, c.Bank,
		nullDate(c.ContractDueDay),
		nullDecimal(c.PenaltyRate),
		nullDecimal(c.MonthlyInterestRate),
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, id billing.ClientID) (*billing.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetClient(ctx, id)
}

func (qs queries) GetClient(ctx context.Context, id billing.ClientID) (*billing.Client, error) {
	row := qs.q.QueryRowContext(ctx, "SELECT "+clientColumns+" FROM clients WHERE id = ?", id)
	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListClients returns all clients ordered by name.
func (s *Store) ListClients(ctx context.Context) ([]billing.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListClients(ctx)
}

func (qs queries) ListClients(ctx context.Context) ([]billing.Client, error) {
	rows, err := qs.q.QueryContext(ctx, "SELECT "+clientColumns+" FROM clients ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	clients := []billing.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// DeleteClient removes a client; contracts and payments cascade.
func (s *Store) DeleteClient(ctx context.Context, id billing.ClientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.DeleteClient(ctx, id)
}

func (qs queries) DeleteClient(ctx context.Context, id billing.ClientID) error {
	res, err := qs.q.ExecContext(ctx, "DELETE FROM clients WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	return requireAffected(res, generic.ErrClientNotFound)
}

// =============================================================================
// CONTRACTS
// =============================================================================

const contractColumns = `id, client_id, contractor_name, contractor_document, value,
	duration_months, start_date, first_due_date, created_at`

// SaveContract inserts a contract and its schedule atomically.
func (s *Store) SaveContract(ctx context.Context, c billing.Contract, schedule []billing.Payment) error {
	return s.WithTx(ctx, func(tx billing.Store) error {
		return tx.SaveContract(ctx, c, schedule)
	})
}

func (qs queries) SaveContract(ctx context.Context, c billing.Contract, schedule []billing.Payment) error {
	query := `INSERT INTO contracts (` + contractColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := qs.q.ExecContext(ctx, query,
		c.ID, c.ClientID, c.ContractorName, c.ContractorDocument,
		c.Value.String(), c.DurationMonths,
		c.StartDate.String(), c.FirstDueDate.String(),
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return generic.ErrClientNotFound
		}
		return fmt.Errorf("failed to save contract: %w", err)
	}

	for i := range schedule {
		schedule[i].ContractID = c.ID
		schedule[i].Version = 1
		if err := qs.insertPayment(ctx, schedule[i]); err != nil {
			return err
		}
	}
	return nil
}

func (qs queries) insertPayment(ctx context.Context, p billing.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := qs.q.ExecContext(ctx, query,
		p.ID, p.ContractID, p.Number,
		p.DueDate.String(), nullDate(p.PaymentDate),
		p.Amount.String(), p.OriginalAmount.String(), p.UpdatedAmount.String(),
		p.PenaltyApplied, p.PenaltyAmount.String(),
		nullDate(p.LastAccrualDate),
		string(p.Status), p.Note, p.Version,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("duplicate installment %d: %w", p.Number, err)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// UpdateContract updates the descriptive fields of a contract.
func (s *Store) UpdateContract(ctx context.Context, c billing.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.UpdateContract(ctx, c)
}

func (qs queries) UpdateContract(ctx context.Context, c billing.Contract) error {
	res, err := qs.q.ExecContext(ctx, `
		UPDATE contracts
		SET contractor_name = ?, contractor_document = ?, start_date = ?
		WHERE id = ?
	`, c.ContractorName, c.ContractorDocument, c.StartDate.String(), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update contract: %w", err)
	}
	return requireAffected(res, generic.ErrContractNotFound)
}

// GetContract retrieves a contract by ID.
func (s *Store) GetContract(ctx context.Context, id billing.ContractID) (*billing.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetContract(ctx, id)
}

func (qs queries) GetContract(ctx context.Context, id billing.ContractID) (*billing.Contract, error) {
	row := qs.q.QueryRowContext(ctx, "SELECT "+contractColumns+" FROM contracts WHERE id = ?", id)
	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrContractNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContracts returns all contracts ordered by start date.
func (s *Store) ListContracts(ctx context.Context) ([]billing.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListContracts(ctx)
}

func (qs queries) ListContracts(ctx context.Context) ([]billing.Contract, error) {
	return qs.queryContracts(ctx, "SELECT "+contractColumns+" FROM contracts ORDER BY start_date, id")
}

// ListContractsByClient returns one client's contracts.
func (s *Store) ListContractsByClient(ctx context.Context, clientID billing.ClientID) ([]billing.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListContractsByClient(ctx, clientID)
}

func (qs queries) ListContractsByClient(ctx context.Context, clientID billing.ClientID) ([]billing.Contract, error) {
	return qs.queryContracts(ctx,
		"SELECT "+contractColumns+" FROM contracts WHERE client_id = ? ORDER BY start_date, id",
		clientID,
	)
}

func (qs queries) queryContracts(ctx context.Context, query string, args ...any) ([]billing.Contract, error) {
	rows, err := qs.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()

	contracts := []billing.Contract{}
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

// DeleteContract removes a contract; its payments cascade.
func (s *Store) DeleteContract(ctx context.Context, id billing.ContractID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.DeleteContract(ctx, id)
}

func (qs queries) DeleteContract(ctx context.Context, id billing.ContractID) error {
	res, err := qs.q.ExecContext(ctx, "DELETE FROM contracts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete contract: %w", err)
	}
	return requireAffected(res, generic.ErrContractNotFound)
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, contract_id, number, due_date, payment_date, amount,
	original_amount, updated_amount, penalty_applied, penalty_amount,
	last_accrual_date, status, note, version`

// paymentSelect is paymentColumns qualified for joins with contracts.
const paymentSelect = `SELECT p.id, p.contract_id, p.number, p.due_date, p.payment_date, p.amount,
	p.original_amount, p.updated_amount, p.penalty_applied, p.penalty_amount,
	p.last_accrual_date, p.status, p.note, p.version
	FROM payments p`

const paymentOrder = ` ORDER BY p.due_date, p.contract_id, p.number`

// GetPayment retrieves a payment by ID.
func (s *Store) GetPayment(ctx context.Context, id billing.PaymentID) (*billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetPayment(ctx, id)
}

func (qs queries) GetPayment(ctx context.Context, id billing.PaymentID) (*billing.Payment, error) {
	row := qs.q.QueryRowContext(ctx, paymentSelect+" WHERE p.id = ?", id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPayments returns every payment.
func (s *Store) ListPayments(ctx context.Context) ([]billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListPayments(ctx)
}

func (qs queries) ListPayments(ctx context.Context) ([]billing.Payment, error) {
	return qs.queryPayments(ctx, paymentSelect+paymentOrder)
}

// ListPaymentsByContract returns one contract's schedule.
func (s *Store) ListPaymentsByContract(ctx context.Context, contractID billing.ContractID) ([]billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListPaymentsByContract(ctx, contractID)
}

func (qs queries) ListPaymentsByContract(ctx context.Context, contractID billing.ContractID) ([]billing.Payment, error) {
	return qs.queryPayments(ctx, paymentSelect+" WHERE p.contract_id = ?"+paymentOrder, contractID)
}

// ListPaymentsByClient returns the payments of all of a client's contracts.
func (s *Store) ListPaymentsByClient(ctx context.Context, clientID billing.ClientID) ([]billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListPaymentsByClient(ctx, clientID)
}

func (qs queries) ListPaymentsByClient(ctx context.Context, clientID billing.ClientID) ([]billing.Payment, error) {
	return qs.queryPayments(ctx,
		paymentSelect+" JOIN contracts c ON c.id = p.contract_id WHERE c.client_id = ?"+paymentOrder,
		clientID,
	)
}

// SavePayment updates a payment if its version still matches.
func (s *Store) SavePayment(ctx context.Context, p *billing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.SavePayment(ctx, p)
}

func (qs queries) SavePayment(ctx context.Context, p *billing.Payment) error {
	res, err := qs.q.ExecContext(ctx, `
		UPDATE payments SET
			due_date = ?,
			payment_date = ?,
			amount = ?,
			updated_amount = ?,
			penalty_applied = ?,
			penalty_amount = ?,
			last_accrual_date = ?,
			status = ?,
			note = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`,
		p.DueDate.String(), nullDate(p.PaymentDate),
		p.Amount.String(), p.UpdatedAmount.String(),
		p.PenaltyApplied, p.PenaltyAmount.String(),
		nullDate(p.LastAccrualDate),
		string(p.Status), p.Note,
		p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := qs.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM payments WHERE id = ?", p.ID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists == 0 {
			return generic.ErrPaymentNotFound
		}
		return &generic.VersionConflictError{PaymentID: string(p.ID), Expected: p.Version}
	}

	p.Version++
	return nil
}

// SavePayments updates several payments atomically.
func (s *Store) SavePayments(ctx context.Context, ps []billing.Payment) error {
	return s.WithTx(ctx, func(tx billing.Store) error {
		return tx.SavePayments(ctx, ps)
	})
}

func (qs queries) SavePayments(ctx context.Context, ps []billing.Payment) error {
	for i := range ps {
		if err := qs.SavePayment(ctx, &ps[i]); err != nil {
			return err
		}
	}
	return nil
}

// FindOverdueUnpaid returns unpaid payments due strictly before today.
func (s *Store) FindOverdueUnpaid(ctx context.Context, today generic.TimePoint) ([]billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.FindOverdueUnpaid(ctx, today)
}

func (qs queries) FindOverdueUnpaid(ctx context.Context, today generic.TimePoint) ([]billing.Payment, error) {
	return qs.queryPayments(ctx,
		paymentSelect+" WHERE p.payment_date IS NULL AND p.due_date < ?"+paymentOrder,
		today.String(),
	)
}

// FindByDueDateRange returns payments due within [start, end].
func (s *Store) FindByDueDateRange(ctx context.Context, start, end generic.TimePoint) ([]billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.FindByDueDateRange(ctx, start, end)
}

func (qs queries) FindByDueDateRange(ctx context.Context, start, end generic.TimePoint) ([]billing.Payment, error) {
	return qs.queryPayments(ctx,
		paymentSelect+" WHERE p.due_date >= ? AND p.due_date <= ?"+paymentOrder,
		start.String(), end.String(),
	)
}

// FindByClientAndDueDateRange returns one client's payments due within [start, end].
func (s *Store) FindByClientAndDueDateRange(ctx context.Context, clientID billing.ClientID, start, end generic.TimePoint) ([]billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.FindByClientAndDueDateRange(ctx, clientID, start, end)
}

func (qs queries) FindByClientAndDueDateRange(ctx context.Context, clientID billing.ClientID, start, end generic.TimePoint) ([]billing.Payment, error) {
	return qs.queryPayments(ctx,
		paymentSelect+` JOIN contracts c ON c.id = p.contract_id
		WHERE c.client_id = ? AND p.due_date >= ? AND p.due_date <= ?`+paymentOrder,
		clientID, start.String(), end.String(),
	)
}

func (qs queries) queryPayments(ctx context.Context, query string, args ...any) ([]billing.Payment, error) {
	rows, err := qs.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	payments := []billing.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// ACCRUAL GATE
// =============================================================================

// GetAccrualGate returns the gate row, or an empty gate before the first run.
func (s *Store) GetAccrualGate(ctx context.Context) (billing.AccrualGate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetAccrualGate(ctx)
}

func (qs queries) GetAccrualGate(ctx context.Context) (billing.AccrualGate, error) {
	gate := billing.AccrualGate{ID: billing.AccrualGateID}

	var lastRun sql.NullString
	err := qs.q.QueryRowContext(ctx,
		"SELECT last_run_date FROM accrual_gate WHERE id = ?",
		billing.AccrualGateID,
	).Scan(&lastRun)
	if errors.Is(err, sql.ErrNoRows) {
		return gate, nil
	}
	if err != nil {
		return gate, fmt.Errorf("failed to read accrual gate: %w", err)
	}

	gate.LastRun, err = parseNullDate(lastRun)
	return gate, err
}

// SaveAccrualGate upserts the gate row.
func (s *Store) SaveAccrualGate(ctx context.Context, g billing.AccrualGate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.SaveAccrualGate(ctx, g)
}

func (qs queries) SaveAccrualGate(ctx context.Context, g billing.AccrualGate) error {
	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO accrual_gate (id, last_run_date) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET last_run_date = excluded.last_run_date
	`, billing.AccrualGateID, nullDate(g.LastRun))
	if err != nil {
		return fmt.Errorf("failed to save accrual gate: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The Store
// passed to fn runs on the transaction only and must not escape fn.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

var (
	_ billing.TxStore = (*Store)(nil)
	_ billing.Store   = queries{}
)

// =============================================================================
// SCANNING
// =============================================================================

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanClient(row scanner) (billing.Client, error) {
	var (
		c                                 billing.Client
		address, phone, bank              sql.NullString
		dueDay, penaltyRate, interestRate sql.NullString
		createdAt                         string
	)

	err := row.Scan(&c.ID, &c.Name, &address, &phone, &c.Registry, &bank,
		&dueDay, &penaltyRate, &interestRate, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan client: %w", err)
	}

	c.Address = address.String
	c.Phone = phone.String
	c.Bank = bank.String
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	if c.ContractDueDay, err = parseNullDate(dueDay); err != nil {
		return c, err
	}
	if c.PenaltyRate, err = parseNullDecimal(penaltyRate); err != nil {
		return c, err
	}
	if c.MonthlyInterestRate, err = parseNullDecimal(interestRate); err != nil {
		return c, err
	}
	return c, nil
}

func scanContract(row scanner) (billing.Contract, error) {
	var (
		c                   billing.Contract
		name, document      sql.NullString
		value               string
		startDate, firstDue string
		createdAt           string
	)

	err := row.Scan(&c.ID, &c.ClientID, &name, &document, &value,
		&c.DurationMonths, &startDate, &firstDue, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan contract: %w", err)
	}

	c.ContractorName = name.String
	c.ContractorDocument = document.String
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	if c.Value, err = decimal.NewFromString(value); err != nil {
		return c, fmt.Errorf("contract %s value: %w", c.ID, err)
	}
	if c.StartDate, err = generic.ParseDate(startDate); err != nil {
		return c, err
	}
	if c.FirstDueDate, err = generic.ParseDate(firstDue); err != nil {
		return c, err
	}
	return c, nil
}

func scanPayment(row scanner) (billing.Payment, error) {
	var (
		p                              billing.Payment
		dueDate                        string
		paymentDate, lastAccrual, note sql.NullString
		amount, original, updated      string
		penaltyAmount                  string
		status                         string
	)

	err := row.Scan(&p.ID, &p.ContractID, &p.Number, &dueDate, &paymentDate,
		&amount, &original, &updated, &p.PenaltyApplied, &penaltyAmount,
		&lastAccrual, &status, &note, &p.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}

	p.Status = billing.Status(status)
	p.Note = note.String

	if p.DueDate, err = generic.ParseDate(dueDate); err != nil {
		return p, err
	}
	if p.PaymentDate, err = parseNullDate(paymentDate); err != nil {
		return p, err
	}
	if p.LastAccrualDate, err = parseNullDate(lastAccrual); err != nil {
		return p, err
	}

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&p.Amount, amount},
		{&p.OriginalAmount, original},
		{&p.UpdatedAmount, updated},
		{&p.PenaltyAmount, penaltyAmount},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return p, fmt.Errorf("payment %s amount: %w", p.ID, err)
		}
	}
	return p, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullDate(tp *generic.TimePoint) sql.NullString {
	if tp == nil || tp.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.String(), Valid: true}
}

func parseNullDate(s sql.NullString) (*generic.TimePoint, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	tp, err := generic.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
