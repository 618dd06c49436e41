/*
scheduler.go - Cron trigger for the arrears batch

PURPOSE:
  Calls Job.RunDailyAccrual on a cron schedule, and once right away on
  Start so a process that was down at the scheduled time catches up.

DESIGN:
  - robfig/cron drives the schedule (default "0 1 * * *", 01:00 daily)
  - The gate makes extra triggers on the same day harmless
  - Stop waits for an in-flight run to finish

CONFIGURATION:
  - Spec: Cron expression, 5 fields (ACCRUAL_CRON)
  - Enabled: Whether the scheduler is active (ACCRUAL_ENABLED)

USAGE:
  scheduler := NewScheduler(job)
  if err := scheduler.Start(); err != nil { ... }
  // ... later
  scheduler.Stop()

SEE ALSO:
  - job.go: The batch itself
  - api/handlers.go: POST /api/admin/accrual (manual trigger)
*/
package arrears

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/warp/installment-engine/generic"
)

// DefaultSpec runs the batch daily at 01:00.
const DefaultSpec = "0 1 * * *"

// Scheduler handles the automated daily accrual.
type Scheduler struct {
	Job     *Job
	Spec    string
	Enabled bool
	Clock   func() generic.TimePoint
	Logger  *slog.Logger

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates an enabled scheduler with the default spec.
func NewScheduler(job *Job) *Scheduler {
	return &Scheduler{
		Job:     job,
		Spec:    DefaultSpec,
		Enabled: true,
		Clock:   generic.Today,
		Logger:  slog.Default(),
	}
}

// Start registers the cron entry and triggers one immediate run.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := s.logger()
	if !s.Enabled {
		logger.Info("scheduler disabled, not starting")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.Spec, s.tick); err != nil {
		return fmt.Errorf("invalid accrual schedule %q: %w", s.Spec, err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = c
	c.Start()

	// Run immediately on start
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tick()
	}()

	logger.Info("scheduler started", "spec", s.Spec, "next_run", s.nextRunLocked())
	return nil
}

// Stop halts the schedule and waits for any in-flight run.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.cancel()
	s.cron = nil
	s.logger().Info("scheduler stopped")
}

// RunNow triggers an immediate run (admin/tests).
func (s *Scheduler) RunNow(ctx context.Context) (Result, error) {
	return s.Job.RunDailyAccrual(ctx, s.Clock())
}

// NextRun returns when the next scheduled run will occur, or the zero time
// when the scheduler is not running.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRunLocked()
}

func (s *Scheduler) nextRunLocked() time.Time {
	if s.cron == nil {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) tick() {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.Job.RunDailyAccrual(ctx, s.Clock()); err != nil {
		s.logger().Error("scheduled accrual failed", "error", err, "retryable", generic.IsRetryable(err))
	}
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default().With("component", "scheduler")
	}
	return s.Logger.With("component", "scheduler")
}
