// Package scheduler composes the scheduled-job core: stores, durable queue,
// worker pool, and poller behind one explicit handle. The handle is
// constructed once at startup and passed by reference; there is no
// package-level state.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/cronwell/internal/cronexpr"
	"github.com/t77yq/cronwell/internal/model"
	"github.com/t77yq/cronwell/internal/poller"
	"github.com/t77yq/cronwell/internal/queue"
	"github.com/t77yq/cronwell/internal/store"
	"github.com/t77yq/cronwell/internal/worker"
)

// Scheduler is the handle the rest of the platform talks to. The CRUD
// layer calls the schedule helpers and EnqueueNow; monitoring consumes
// QueueStats and the execution history readers.
type Scheduler struct {
	logger     *zap.Logger
	jobs       store.JobStore
	executions store.ExecutionStore
	queue      *queue.Queue
	pool       *worker.Pool
	poller     *poller.Poller
}

// New composes a scheduler from its already-constructed parts.
func New(jobs store.JobStore, executions store.ExecutionStore, q *queue.Queue, pool *worker.Pool, p *poller.Poller, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger:     logger.Named("scheduler"),
		jobs:       jobs,
		executions: executions,
		queue:      q,
		pool:       pool,
		poller:     p,
	}
}

// Start brings up the worker pool and the poller.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.pool.Start(ctx); err != nil {
		return err
	}
	s.poller.Start(ctx)
	s.logger.Info("Scheduler started")
	return nil
}

// Stop shuts down deterministically: the poller first so nothing new is
// enqueued, then the workers drain their in-flight attempts.
func (s *Scheduler) Stop() {
	s.poller.Stop()
	s.pool.Stop()
	s.logger.Info("Scheduler stopped")
}

// ValidateSchedule reports whether expr is a valid 5-field cron expression.
func (s *Scheduler) ValidateSchedule(expr string) error {
	return cronexpr.Validate(expr)
}

// DescribeSchedule returns a human-readable label for expr.
func (s *Scheduler) DescribeSchedule(expr string) string {
	return cronexpr.Describe(expr)
}

// ComputeNextRun returns the next occurrence of expr in tz after now. The
// CRUD layer uses it to initialize next_run_at on create and update.
func (s *Scheduler) ComputeNextRun(expr, tz string) (time.Time, error) {
	return cronexpr.NextInLocation(expr, tz, time.Now())
}

// EnqueueNow triggers a manual run of a job. It uses the same enqueue path,
// concurrency ceiling, and timeout as scheduled runs; there is no
// privileged fast path. Disabled and unknown jobs are rejected
// synchronously and never enqueued.
func (s *Scheduler) EnqueueNow(ctx context.Context, jobID string) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return ErrJobNotFound
		}
		return err
	}
	if !job.Enabled {
		return ErrJobDisabled
	}

	inv := model.NewManualInvocation(job)
	if err := s.queue.Enqueue(ctx, inv); err != nil {
		return err
	}

	s.logger.Info("Manual run enqueued",
		zap.String("job_id", job.ID),
		zap.String("invocation_key", inv.InvocationKey))
	return nil
}

// QueueStats exposes queue depth counters for health reporting.
func (s *Scheduler) QueueStats(ctx context.Context) (*queue.Stats, error) {
	return s.queue.Stats(ctx)
}

// ExecutionHistory lists a job's execution records, most recent first.
func (s *Scheduler) ExecutionHistory(ctx context.Context, jobID string, offset, limit int) ([]*model.ExecutionRecord, error) {
	return s.executions.ListByJob(ctx, jobID, offset, limit)
}

// SuccessRate summarizes a job's terminal outcomes.
func (s *Scheduler) SuccessRate(ctx context.Context, jobID string) (*model.SuccessRate, error) {
	return s.executions.SuccessRate(ctx, jobID)
}
