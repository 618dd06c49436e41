package arrears

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/installment-engine/billing"
	"github.com/warp/installment-engine/billing/store"
	"github.com/warp/installment-engine/generic"
)

// seedOverdue stores one client (2% penalty, 10% monthly interest) with a
// 3 x 1000.00 contract due 2024-01-01, 02-01 and 03-01.
func seedOverdue(t *testing.T, m *store.Memory) []billing.Payment {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.SaveClient(ctx, billing.Client{
		ID:                  "cl1",
		Name:                "Acme",
		PenaltyRate:         generic.DecimalPtr(decimal.RequireFromString("0.02")),
		MonthlyInterestRate: generic.DecimalPtr(decimal.RequireFromString("0.10")),
	}))
	contract := billing.Contract{ID: "c1", ClientID: "cl1", Value: decimal.NewFromInt(3000), DurationMonths: 3}
	schedule, err := billing.GenerateSchedule(contract, generic.MustDate("2024-01-01"), generic.MustDate("2023-12-01"))
	require.NoError(t, err)
	require.NoError(t, m.SaveContract(ctx, contract, schedule))
	return schedule
}

type recorded struct {
	status    string
	processed int
	penalties int
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []recorded
}

func (r *fakeRecorder) ObserveAccrualRun(status string, processed, penalties int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, recorded{status, processed, penalties})
}

func TestRunDailyAccrual_AccruesOverduePayments(t *testing.T) {
	// GIVEN: One payment 5 days overdue, two not yet due
	m := store.NewMemory()
	schedule := seedOverdue(t, m)
	rec := &fakeRecorder{}
	var notified atomic.Int32
	job := NewJob(m, WithRecorder(rec), WithListener(func(context.Context, Result) {
		notified.Add(1)
	}))
	ctx := context.Background()

	// WHEN: The batch runs on 2024-01-06
	result, err := job.RunDailyAccrual(ctx, generic.MustDate("2024-01-06"))
	require.NoError(t, err)

	// THEN: The overdue payment carries penalty + 5 days interest
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.PenaltiesApplied)
	assert.Equal(t, "36.67", result.AccruedDelta.StringFixed(2))

	p, err := m.GetPayment(ctx, schedule[0].ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusOverdue, p.Status)
	assert.Equal(t, "1036.67", p.UpdatedAmount.StringFixed(2))
	assert.Equal(t, "1036.67", p.Amount.StringFixed(2))
	assert.Equal(t, 2, p.Version)

	untouched, err := m.GetPayment(ctx, schedule[1].ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusOpen, untouched.Status)
	assert.Equal(t, "1000.00", untouched.Amount.StringFixed(2))

	// AND: The gate is advanced, metrics and listeners were told
	gate, err := m.GetAccrualGate(ctx)
	require.NoError(t, err)
	assert.True(t, gate.RanOn(generic.MustDate("2024-01-06")))
	assert.Equal(t, []recorded{{"success", 1, 1}}, rec.runs)
	assert.Equal(t, int32(1), notified.Load())

	last, ok := job.LastResult()
	require.True(t, ok)
	assert.Equal(t, result.Processed, last.Processed)
	assert.Equal(t, StateIdle, job.State())
}

func TestRunDailyAccrual_SecondRunSameDaySkips(t *testing.T) {
	m := store.NewMemory()
	schedule := seedOverdue(t, m)
	rec := &fakeRecorder{}
	job := NewJob(m, WithRecorder(rec))
	ctx := context.Background()
	today := generic.MustDate("2024-01-06")

	_, err := job.RunDailyAccrual(ctx, today)
	require.NoError(t, err)
	before, _ := m.GetPayment(ctx, schedule[0].ID)

	again, err := job.RunDailyAccrual(ctx, today)
	require.NoError(t, err)

	assert.True(t, again.Skipped)
	assert.Zero(t, again.Processed)
	after, _ := m.GetPayment(ctx, schedule[0].ID)
	assert.Equal(t, before, after)
	assert.Equal(t, "skipped", rec.runs[1].status)
}

func TestRunDailyAccrual_NextDayGrowsInterestOnly(t *testing.T) {
	m := store.NewMemory()
	schedule := seedOverdue(t, m)
	job := NewJob(m)
	ctx := context.Background()

	_, err := job.RunDailyAccrual(ctx, generic.MustDate("2024-01-06"))
	require.NoError(t, err)

	// 30 days late: 1000 + 20 + 100
	result, err := job.RunDailyAccrual(ctx, generic.MustDate("2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, 0, result.PenaltiesApplied)
	assert.Equal(t, "83.33", result.AccruedDelta.StringFixed(2))

	p, _ := m.GetPayment(ctx, schedule[0].ID)
	assert.Equal(t, "1120.00", p.UpdatedAmount.StringFixed(2))
	assert.Equal(t, "20.00", p.PenaltyAmount.StringFixed(2))
}

func TestRunDailyAccrual_NoRatesStillMarksOverdue(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.SaveClient(ctx, billing.Client{ID: "cl1", Name: "No Rates"}))
	contract := billing.Contract{ID: "c1", ClientID: "cl1", Value: decimal.NewFromInt(500), DurationMonths: 1}
	schedule, err := billing.GenerateSchedule(contract, generic.MustDate("2024-01-01"), generic.MustDate("2023-12-01"))
	require.NoError(t, err)
	require.NoError(t, m.SaveContract(ctx, contract, schedule))

	result, err := NewJob(m).RunDailyAccrual(ctx, generic.MustDate("2024-01-06"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	p, _ := m.GetPayment(ctx, schedule[0].ID)
	assert.Equal(t, billing.StatusOverdue, p.Status)
	assert.Equal(t, "500.00", p.Amount.StringFixed(2))
	assert.False(t, p.PenaltyApplied)
}

// failingGate fails SaveAccrualGate inside the transaction, after the
// payments were written.
type failingGate struct {
	*store.Memory
}

type failingGateTx struct {
	billing.Store
}

var errGate = errors.New("gate write failed")

func (f failingGate) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	return f.Memory.WithTx(ctx, func(tx billing.Store) error {
		return fn(failingGateTx{tx})
	})
}

func (failingGateTx) SaveAccrualGate(context.Context, billing.AccrualGate) error {
	return errGate
}

func TestRunDailyAccrual_FailureRollsBackEverything(t *testing.T) {
	// GIVEN: A store whose gate write fails
	m := store.NewMemory()
	schedule := seedOverdue(t, m)
	rec := &fakeRecorder{}
	var notified atomic.Int32
	job := NewJob(failingGate{m}, WithRecorder(rec), WithListener(func(context.Context, Result) {
		notified.Add(1)
	}))
	ctx := context.Background()

	// WHEN: The batch runs
	_, err := job.RunDailyAccrual(ctx, generic.MustDate("2024-01-06"))

	// THEN: The error surfaces and nothing was persisted
	assert.ErrorIs(t, err, errGate)

	p, _ := m.GetPayment(ctx, schedule[0].ID)
	assert.Equal(t, "1000.00", p.Amount.StringFixed(2))
	assert.False(t, p.PenaltyApplied)
	assert.Equal(t, 1, p.Version)

	gate, _ := m.GetAccrualGate(ctx)
	assert.Nil(t, gate.LastRun)
	assert.Equal(t, "failure", rec.runs[0].status)
	assert.Zero(t, notified.Load())

	// AND: A healthy retry the same day goes through
	result, err := NewJob(m).RunDailyAccrual(ctx, generic.MustDate("2024-01-06"))
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.Processed)
}

// blockingStore holds the first transaction open until release is closed.
type blockingStore struct {
	*store.Memory
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingStore) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	if b.calls.Add(1) == 1 {
		close(b.entered)
		<-b.release
	}
	return b.Memory.WithTx(ctx, fn)
}

func TestRunDailyAccrual_ConcurrentCallsShareOneRun(t *testing.T) {
	m := store.NewMemory()
	seedOverdue(t, m)
	bs := &blockingStore{Memory: m, entered: make(chan struct{}), release: make(chan struct{})}
	job := NewJob(bs)
	today := generic.MustDate("2024-01-06")

	var wg sync.WaitGroup
	results := make([]Result, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = job.RunDailyAccrual(context.Background(), today)
	}()
	<-bs.entered
	assert.Equal(t, StateRunning, job.State())

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = job.RunDailyAccrual(context.Background(), today)
	}()
	time.Sleep(50 * time.Millisecond)
	close(bs.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), bs.calls.Load())
	assert.Equal(t, results[0].Processed, results[1].Processed)
	assert.False(t, results[1].Skipped)
}

func TestRunDailyAccrual_CallerCancelDoesNotAbortRun(t *testing.T) {
	m := store.NewMemory()
	seedOverdue(t, m)
	bs := &blockingStore{Memory: m, entered: make(chan struct{}), release: make(chan struct{})}
	job := NewJob(bs)
	today := generic.MustDate("2024-01-06")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := job.RunDailyAccrual(ctx, today)
		done <- err
	}()
	<-bs.entered
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(bs.release)
	require.Eventually(t, func() bool {
		gate, _ := m.GetAccrualGate(context.Background())
		return gate.RanOn(today)
	}, time.Second, 10*time.Millisecond)
}

// stuckStore never finishes a transaction on its own.
type stuckStore struct {
	*store.Memory
}

func (stuckStore) WithTx(ctx context.Context, _ func(billing.Store) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunDailyAccrual_TimeoutEndsStuckRun(t *testing.T) {
	// GIVEN: A store that hangs and a short run timeout
	m := store.NewMemory()
	seedOverdue(t, m)
	rec := &fakeRecorder{}
	job := NewJob(stuckStore{m}, WithTimeout(20*time.Millisecond), WithRecorder(rec))

	// WHEN: The batch runs with a caller context that never ends
	_, err := job.RunDailyAccrual(context.Background(), generic.MustDate("2024-01-06"))

	// THEN: The run gives up as a failure and the job is idle again
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateIdle, job.State())
	require.Len(t, rec.runs, 1)
	assert.Equal(t, "failure", rec.runs[0].status)

	gate, _ := m.GetAccrualGate(context.Background())
	assert.Nil(t, gate.LastRun)
}
