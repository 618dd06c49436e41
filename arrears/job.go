/*
Package arrears runs the daily accrual batch over overdue payments.

PURPOSE:
  Once per calendar day, every payment that is past due and unpaid is
  forced to OVERDUE and run through billing.Accrue with its client's rates.

THE RUN (one store transaction):
  1. Read the accrual gate. Already ran today -> Result{Skipped: true}.
  2. FindOverdueUnpaid(today).
  3. For each payment: status OVERDUE, rates via contract -> client
     (looked up once per contract per run), Accrue.
  4. SavePayments (version-checked per row).
  5. Advance the gate to today.
  Any error rolls the whole transaction back: no payment and no gate change
  is visible, and the next trigger retries.

TRIGGERS:
  Scheduler (cron + run on start) and the admin endpoint both call
  RunDailyAccrual. Concurrent calls for the same day share one execution.

SEE ALSO:
  - billing/accrual.go: The calculator
  - scheduler.go: Cron trigger
*/
package arrears

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/warp/installment-engine/billing"
	"github.com/warp/installment-engine/generic"
	"github.com/warp/installment-engine/observability"
)

// =============================================================================
// STATE & RESULT
// =============================================================================

// State is the process-local status of the job.
type State string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
)

// Result summarizes one RunDailyAccrual call.
type Result struct {
	Date generic.TimePoint
	// Skipped is true when the gate showed the batch already ran on Date.
	Skipped          bool
	Processed        int
	PenaltiesApplied int
	// AccruedDelta is the total growth of UpdatedAmount across the batch.
	AccruedDelta decimal.Decimal
	Duration     time.Duration
}

// Recorder receives run outcomes (observability.Metrics implements it).
type Recorder interface {
	ObserveAccrualRun(status string, processed, penalties int, elapsed time.Duration)
}

// =============================================================================
// JOB
// =============================================================================

// Job executes the arrears batch against a TxStore.
type Job struct {
	store    billing.TxStore
	timeout  time.Duration
	logger   *slog.Logger
	recorder Recorder
	onChange []func(context.Context, Result)

	group   singleflight.Group
	running atomic.Bool

	mu   sync.Mutex
	last *Result
}

// DefaultTimeout bounds one batch run, store calls included.
const DefaultTimeout = 5 * time.Minute

// Option configures a Job.
type Option func(*Job)

func WithLogger(logger *slog.Logger) Option {
	return func(j *Job) { j.logger = logger }
}

// WithTimeout bounds each run. Non-positive values keep DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(j *Job) {
		if d > 0 {
			j.timeout = d
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(j *Job) { j.recorder = r }
}

// WithListener registers fn to run after every run that changed data
// (not skipped, no error). Used to invalidate cached reports.
func WithListener(fn func(context.Context, Result)) Option {
	return func(j *Job) { j.onChange = append(j.onChange, fn) }
}

func NewJob(store billing.TxStore, opts ...Option) *Job {
	j := &Job{store: store, timeout: DefaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.With("component", "arrears")
	return j
}

// State reports whether a run is in flight.
func (j *Job) State() State {
	if j.running.Load() {
		return StateRunning
	}
	return StateIdle
}

// LastResult returns the most recent completed run, if any.
func (j *Job) LastResult() (Result, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.last == nil {
		return Result{}, false
	}
	return *j.last, true
}

// RunDailyAccrual executes the batch for today. Calls that overlap an
// in-flight run for the same day wait for it and get its result. A caller
// whose ctx ends stops waiting, but the shared run keeps going until it
// finishes or the job timeout expires.
func (j *Job) RunDailyAccrual(ctx context.Context, today generic.TimePoint) (Result, error) {
	ch := j.group.DoChan(today.String(), func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.timeout)
		defer cancel()
		return j.run(runCtx, today)
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		result, _ := res.Val.(Result)
		return result, res.Err
	}
}

func (j *Job) run(ctx context.Context, today generic.TimePoint) (Result, error) {
	j.running.Store(true)
	defer j.running.Store(false)

	start := time.Now()
	result := Result{Date: today, AccruedDelta: decimal.Zero}

	err := j.store.WithTx(ctx, func(tx billing.Store) error {
		gate, err := tx.GetAccrualGate(ctx)
		if err != nil {
			return fmt.Errorf("read accrual gate: %w", err)
		}
		if gate.RanOn(today) {
			result.Skipped = true
			return nil
		}

		overdue, err := tx.FindOverdueUnpaid(ctx, today)
		if err != nil {
			return fmt.Errorf("find overdue payments: %w", err)
		}

		rates := newRateCache(tx)
		for i := range overdue {
			before := overdue[i]
			r, err := rates.forContract(ctx, before.ContractID)
			if err != nil {
				return fmt.Errorf("rates for payment %s: %w", before.ID, err)
			}

			p := before
			p.Status = billing.StatusOverdue
			p = billing.Accrue(p, r, today)

			if p.PenaltyApplied && !before.PenaltyApplied {
				result.PenaltiesApplied++
			}
			result.AccruedDelta = result.AccruedDelta.Add(p.UpdatedAmount.Sub(before.UpdatedAmount))
			overdue[i] = p
		}

		if err := tx.SavePayments(ctx, overdue); err != nil {
			return fmt.Errorf("save payments: %w", err)
		}
		result.Processed = len(overdue)

		return tx.SaveAccrualGate(ctx, gate.Advance(today))
	})
	result.Duration = time.Since(start)

	if err != nil {
		j.observe(observability.StatusFailure, Result{Duration: result.Duration})
		j.logger.Error("accrual run failed", "date", today, "error", err)
		return Result{Date: today}, err
	}

	if result.Skipped {
		j.observe(observability.StatusSkipped, result)
		j.logger.Info("accrual already ran today", "date", today)
	} else {
		j.observe(observability.StatusSuccess, result)
		j.logger.Info("accrual run completed",
			"date", today,
			"processed", result.Processed,
			"penalties_applied", result.PenaltiesApplied,
			"accrued_delta", result.AccruedDelta.StringFixed(generic.CentPlaces),
			"duration", result.Duration,
		)
	}

	j.mu.Lock()
	j.last = &result
	j.mu.Unlock()

	if !result.Skipped {
		for _, fn := range j.onChange {
			fn(ctx, result)
		}
	}
	return result, nil
}

func (j *Job) observe(outcome string, r Result) {
	if j.recorder == nil {
		return
	}
	j.recorder.ObserveAccrualRun(outcome, r.Processed, r.PenaltiesApplied, r.Duration)
}

// =============================================================================
// RATE LOOKUP
// =============================================================================

// rateCache resolves payment -> contract -> client rates once per contract.
type rateCache struct {
	tx         billing.Store
	byContract map[billing.ContractID]billing.Rates
	byClient   map[billing.ClientID]billing.Rates
}

func newRateCache(tx billing.Store) *rateCache {
	return &rateCache{
		tx:         tx,
		byContract: make(map[billing.ContractID]billing.Rates),
		byClient:   make(map[billing.ClientID]billing.Rates),
	}
}

func (c *rateCache) forContract(ctx context.Context, id billing.ContractID) (billing.Rates, error) {
	if r, ok := c.byContract[id]; ok {
		return r, nil
	}

	contract, err := c.tx.GetContract(ctx, id)
	if err != nil {
		return billing.Rates{}, err
	}

	r, ok := c.byClient[contract.ClientID]
	if !ok {
		client, err := c.tx.GetClient(ctx, contract.ClientID)
		if err != nil {
			return billing.Rates{}, err
		}
		r = client.Rates()
		c.byClient[contract.ClientID] = r
	}

	c.byContract[id] = r
	return r, nil
}
