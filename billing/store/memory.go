// Package store provides in-memory billing.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/installment-engine/billing"
	"github.com/warp/installment-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	clients   map[billing.ClientID]billing.Client
	contracts map[billing.ContractID]billing.Contract
	payments  map[billing.PaymentID]billing.Payment
	gate      billing.AccrualGate
}

func NewMemory() *Memory {
	return &Memory{
		clients:   make(map[billing.ClientID]billing.Client),
		contracts: make(map[billing.ContractID]billing.Contract),
		payments:  make(map[billing.PaymentID]billing.Payment),
		gate:      billing.AccrualGate{ID: billing.AccrualGateID},
	}
}

// view runs the store operations against the maps without taking the lock.
// Memory's exported methods lock and delegate to it; WithTx hands it out
// while already holding the lock.
type view struct {
	m *Memory
}

// =============================================================================
// CLIENTS
// =============================================================================

func (m *Memory) SaveClient(ctx context.Context, c billing.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.SaveClient(ctx, c)
}

func (v view) SaveClient(_ context.Context, c billing.Client) error {
	v.m.clients[c.ID] = c
	return nil
}

func (m *Memory) GetClient(ctx context.Context, id billing.ClientID) (*billing.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.GetClient(ctx, id)
}

func (v view) GetClient(_ context.Context, id billing.ClientID) (*billing.Client, error) {
	c, ok := v.m.clients[id]
	if !ok {
		return nil, generic.ErrClientNotFound
	}
	return &c, nil
}

func (m *Memory) ListClients(ctx context.Context) ([]billing.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.ListClients(ctx)
}

func (v view) ListClients(_ context.Context) ([]billing.Client, error) {
	result := make([]billing.Client, 0, len(v.m.clients))
	for _, c := range v.m.clients {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Memory) DeleteClient(ctx context.Context, id billing.ClientID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.DeleteClient(ctx, id)
}

func (v view) DeleteClient(ctx context.Context, id billing.ClientID) error {
	if _, ok := v.m.clients[id]; !ok {
		return generic.ErrClientNotFound
	}
	for cid, c := range v.m.contracts {
		if c.ClientID == id {
			_ = v.DeleteContract(ctx, cid)
		}
	}
	delete(v.m.clients, id)
	return nil
}

// =============================================================================
// CONTRACTS
// =============================================================================

func (m *Memory) SaveContract(ctx context.Context, c billing.Contract, schedule []billing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.SaveContract(ctx, c, schedule)
}

func (v view) SaveContract(_ context.Context, c billing.Contract, schedule []billing.Payment) error {
	if _, ok := v.m.clients[c.ClientID]; !ok {
		return generic.ErrClientNotFound
	}
	v.m.contracts[c.ID] = c
	for i := range schedule {
		schedule[i].ContractID = c.ID
		schedule[i].Version = 1
		v.m.payments[schedule[i].ID] = schedule[i]
	}
	return nil
}

func (m *Memory) UpdateContract(ctx context.Context, c billing.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.UpdateContract(ctx, c)
}

func (v view) UpdateContract(_ context.Context, c billing.Contract) error {
	existing, ok := v.m.contracts[c.ID]
	if !ok {
		return generic.ErrContractNotFound
	}
	existing.ContractorName = c.ContractorName
	existing.ContractorDocument = c.ContractorDocument
	existing.StartDate = c.StartDate
	v.m.contracts[c.ID] = existing
	return nil
}

func (m *Memory) GetContract(ctx context.Context, id billing.ContractID) (*billing.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.GetContract(ctx, id)
}

func (v view) GetContract(_ context.Context, id billing.ContractID) (*billing.Contract, error) {
	c, ok := v.m.contracts[id]
	if !ok {
		return nil, generic.ErrContractNotFound
	}
	return &c, nil
}

func (m *Memory) ListContracts(ctx context.Context) ([]billing.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.ListContracts(ctx)
}

func (v view) ListContracts(_ context.Context) ([]billing.Contract, error) {
	return v.contractsWhere(func(billing.Contract) bool { return true }), nil
}

func (m *Memory) ListContractsByClient(ctx context.Context, clientID billing.ClientID) ([]billing.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.ListContractsByClient(ctx, clientID)
}

func (v view) ListContractsByClient(_ context.Context, clientID billing.ClientID) ([]billing.Contract, error) {
	return v.contractsWhere(func(c billing.Contract) bool { return c.ClientID == clientID }), nil
}

func (v view) contractsWhere(keep func(billing.Contract) bool) []billing.Contract {
	result := []billing.Contract{}
	for _, c := range v.m.contracts {
		if keep(c) {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartDate.Equal(result[j].StartDate) {
			return result[i].StartDate.Before(result[j].StartDate)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (m *Memory) DeleteContract(ctx context.Context, id billing.ContractID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.DeleteContract(ctx, id)
}

func (v view) DeleteContract(_ context.Context, id billing.ContractID) error {
	if _, ok := v.m.contracts[id]; !ok {
		return generic.ErrContractNotFound
	}
	for pid, p := range v.m.payments {
		if p.ContractID == id {
			delete(v.m.payments, pid)
		}
	}
	delete(v.m.contracts, id)
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Memory) GetPayment(ctx context.Context, id billing.PaymentID) (*billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.GetPayment(ctx, id)
}

func (v view) GetPayment(_ context.Context, id billing.PaymentID) (*billing.Payment, error) {
	p, ok := v.m.payments[id]
	if !ok {
		return nil, generic.ErrPaymentNotFound
	}
	return &p, nil
}

func (m *Memory) ListPayments(ctx context.Context) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.ListPayments(ctx)
}

func (v view) ListPayments(_ context.Context) ([]billing.Payment, error) {
	return v.paymentsWhere(func(billing.Payment) bool { return true }), nil
}

func (m *Memory) ListPaymentsByContract(ctx context.Context, contractID billing.ContractID) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.ListPaymentsByContract(ctx, contractID)
}

func (v view) ListPaymentsByContract(_ context.Context, contractID billing.ContractID) ([]billing.Payment, error) {
	return v.paymentsWhere(func(p billing.Payment) bool { return p.ContractID == contractID }), nil
}

func (m *Memory) ListPaymentsByClient(ctx context.Context, clientID billing.ClientID) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.ListPaymentsByClient(ctx, clientID)
}

func (v view) ListPaymentsByClient(_ context.Context, clientID billing.ClientID) ([]billing.Payment, error) {
	return v.paymentsWhere(func(p billing.Payment) bool {
		return v.m.contracts[p.ContractID].ClientID == clientID
	}), nil
}

func (m *Memory) SavePayment(ctx context.Context, p *billing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.SavePayment(ctx, p)
}

func (v view) SavePayment(_ context.Context, p *billing.Payment) error {
	stored, ok := v.m.payments[p.ID]
	if !ok {
		return generic.ErrPaymentNotFound
	}
	if stored.Version != p.Version {
		return &generic.VersionConflictError{PaymentID: string(p.ID), Expected: p.Version}
	}
	p.Version++
	v.m.payments[p.ID] = *p
	return nil
}

func (m *Memory) SavePayments(ctx context.Context, ps []billing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all versions first (atomic check). A repeated id would be stale
	// by the time its second copy is written.
	seen := make(map[billing.PaymentID]bool, len(ps))
	for _, p := range ps {
		stored, ok := m.payments[p.ID]
		if !ok {
			return generic.ErrPaymentNotFound
		}
		if stored.Version != p.Version || seen[p.ID] {
			return &generic.VersionConflictError{PaymentID: string(p.ID), Expected: p.Version}
		}
		seen[p.ID] = true
	}
	return view{m}.SavePayments(ctx, ps)
}

func (v view) SavePayments(ctx context.Context, ps []billing.Payment) error {
	for i := range ps {
		if err := v.SavePayment(ctx, &ps[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) FindOverdueUnpaid(ctx context.Context, today generic.TimePoint) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.FindOverdueUnpaid(ctx, today)
}

func (v view) FindOverdueUnpaid(_ context.Context, today generic.TimePoint) ([]billing.Payment, error) {
	return v.paymentsWhere(func(p billing.Payment) bool {
		return !p.IsPaid() && p.DueDate.Before(today)
	}), nil
}

func (m *Memory) FindByDueDateRange(ctx context.Context, start, end generic.TimePoint) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.FindByDueDateRange(ctx, start, end)
}

func (v view) FindByDueDateRange(_ context.Context, start, end generic.TimePoint) ([]billing.Payment, error) {
	period := generic.Period{Start: start, End: end}
	return v.paymentsWhere(func(p billing.Payment) bool { return period.Contains(p.DueDate) }), nil
}

func (m *Memory) FindByClientAndDueDateRange(ctx context.Context, clientID billing.ClientID, start, end generic.TimePoint) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.FindByClientAndDueDateRange(ctx, clientID, start, end)
}

func (v view) FindByClientAndDueDateRange(_ context.Context, clientID billing.ClientID, start, end generic.TimePoint) ([]billing.Payment, error) {
	period := generic.Period{Start: start, End: end}
	return v.paymentsWhere(func(p billing.Payment) bool {
		return v.m.contracts[p.ContractID].ClientID == clientID && period.Contains(p.DueDate)
	}), nil
}

func (v view) paymentsWhere(keep func(billing.Payment) bool) []billing.Payment {
	result := []billing.Payment{}
	for _, p := range v.m.payments {
		if keep(p) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if a.ContractID != b.ContractID {
			return a.ContractID < b.ContractID
		}
		return a.Number < b.Number
	})
	return result
}

// =============================================================================
// GATE
// =============================================================================

func (m *Memory) GetAccrualGate(ctx context.Context) (billing.AccrualGate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.GetAccrualGate(ctx)
}

func (v view) GetAccrualGate(_ context.Context) (billing.AccrualGate, error) {
	return v.m.gate, nil
}

func (m *Memory) SaveAccrualGate(ctx context.Context, g billing.AccrualGate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.SaveAccrualGate(ctx, g)
}

func (v view) SaveAccrualGate(_ context.Context, g billing.AccrualGate) error {
	g.ID = billing.AccrualGateID
	v.m.gate = g
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()

	if err := fn(view{m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	clients   map[billing.ClientID]billing.Client
	contracts map[billing.ContractID]billing.Contract
	payments  map[billing.PaymentID]billing.Payment
	gate      billing.AccrualGate
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		clients:   make(map[billing.ClientID]billing.Client, len(m.clients)),
		contracts: make(map[billing.ContractID]billing.Contract, len(m.contracts)),
		payments:  make(map[billing.PaymentID]billing.Payment, len(m.payments)),
		gate:      m.gate,
	}
	for k, v := range m.clients {
		s.clients[k] = v
	}
	for k, v := range m.contracts {
		s.contracts[k] = v
	}
	for k, v := range m.payments {
		s.payments[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.clients = s.clients
	m.contracts = s.contracts
	m.payments = s.payments
	m.gate = s.gate
}

var (
	_ billing.TxStore = (*Memory)(nil)
	_ billing.Store   = view{}
)
