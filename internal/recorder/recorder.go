// Package recorder produces the execution audit trail: one record per
// attempt, opened at dispatch and finalized exactly once. Terminal outcomes
// additionally roll the job definition's last-run fields forward through a
// single update path.
package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/cronwell/internal/model"
	"github.com/t77yq/cronwell/internal/store"
)

// snippetCap bounds stored response bodies and error messages so runaway
// tenant responses cannot bloat the audit table.
const snippetCap = 4096

// Result carries the attempt outcome into finalization.
type Result struct {
	Success      bool
	Snippet      string
	ErrorMessage string
}

// Recorder writes execution records and rolls job state on terminal
// outcomes.
type Recorder struct {
	logger     *zap.Logger
	executions store.ExecutionStore
	jobs       store.JobStore
	now        func() time.Time
}

// New creates a recorder.
func New(executions store.ExecutionStore, jobs store.JobStore, logger *zap.Logger) *Recorder {
	return &Recorder{
		logger:     logger.Named("recorder"),
		executions: executions,
		jobs:       jobs,
		now:        time.Now,
	}
}

// Begin opens the audit record for one attempt with status running.
func (r *Recorder) Begin(ctx context.Context, jobID string, attempt int) (*model.ExecutionRecord, error) {
	rec := &model.ExecutionRecord{
		ID:           uuid.NewString(),
		JobID:        jobID,
		Status:       model.ExecutionStatusRunning,
		StartedAt:    r.now().UTC(),
		RetryAttempt: attempt,
	}
	if err := r.executions.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to open execution record: %w", err)
	}
	return rec, nil
}

// Finish finalizes the attempt's record. When terminal is true (final
// success, or final failure after attempts are exhausted) the job's
// last_run_at/last_status are rolled forward as well; intermediate retry
// failures leave the job untouched.
func (r *Recorder) Finish(ctx context.Context, rec *model.ExecutionRecord, res Result, terminal bool) error {
	finished := r.now().UTC()
	duration := finished.Sub(rec.StartedAt).Milliseconds()

	rec.Status = model.ExecutionStatusFailed
	if res.Success {
		rec.Status = model.ExecutionStatusSuccess
	}
	rec.FinishedAt = &finished
	rec.DurationMs = &duration
	rec.ResponseSnippet = truncate(res.Snippet)
	rec.ErrorMessage = truncate(res.ErrorMessage)

	if err := r.executions.Finalize(ctx, rec); err != nil {
		return fmt.Errorf("failed to finalize execution record: %w", err)
	}

	r.logger.Info("Execution finished",
		zap.String("execution_id", rec.ID),
		zap.String("job_id", rec.JobID),
		zap.String("status", string(rec.Status)),
		zap.Int("attempt", rec.RetryAttempt),
		zap.Int64("duration_ms", duration))

	if !terminal {
		return nil
	}

	jobStatus := model.JobStatusFailed
	if res.Success {
		jobStatus = model.JobStatusSuccess
	}
	if err := r.jobs.FinalizeRun(ctx, rec.JobID, rec.StartedAt, jobStatus); err != nil {
		return fmt.Errorf("failed to roll job state: %w", err)
	}
	return nil
}

func truncate(s string) string {
	if len(s) <= snippetCap {
		return s
	}
	return s[:snippetCap]
}
