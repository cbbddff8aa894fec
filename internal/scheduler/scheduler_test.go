package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/cronwell/internal/model"
	"github.com/t77yq/cronwell/internal/queue"
	"github.com/t77yq/cronwell/internal/store"
	"github.com/t77yq/cronwell/internal/testutil"
)

func newTestScheduler(t *testing.T) (*Scheduler, store.JobStore) {
	t.Helper()

	js, cleanup := testutil.StartJetStream(t)
	t.Cleanup(cleanup)

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zaptest.NewLogger(t)
	jobs := store.NewSQLiteJobStore(logger, db)
	executions := store.NewSQLiteExecutionStore(logger, db)

	q, err := queue.New(js, queue.DefaultBackoff, logger)
	require.NoError(t, err)

	// Pool and poller are exercised in their own packages; the handle's
	// synchronous operations do not touch them.
	return New(jobs, executions, q, nil, nil, logger), jobs
}

func seedJob(t *testing.T, jobs store.JobStore, id string, enabled bool) {
	t.Helper()
	require.NoError(t, jobs.Create(context.Background(), &model.JobDefinition{
		ID:             id,
		ProjectID:      "proj-1",
		Name:           "job-" + id,
		Schedule:       "*/5 * * * *",
		InvocationPath: "/cron/run",
		Timezone:       "UTC",
		TimeoutSeconds: 30,
		MaxRetries:     1,
		Enabled:        enabled,
	}))
}

func TestEnqueueNowUnknownJob(t *testing.T) {
	s, _ := newTestScheduler(t)
	err := s.EnqueueNow(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestEnqueueNowDisabledJob(t *testing.T) {
	s, jobs := newTestScheduler(t)
	seedJob(t, jobs, "paused", false)
	err := s.EnqueueNow(context.Background(), "paused")
	assert.ErrorIs(t, err, ErrJobDisabled)
}

// Manual runs share the scheduled enqueue path but carry unique keys, so
// pressing "run now" twice runs the job twice.
func TestEnqueueNowNeverDeduplicated(t *testing.T) {
	s, jobs := newTestScheduler(t)
	seedJob(t, jobs, "manual", true)
	ctx := context.Background()

	require.NoError(t, s.EnqueueNow(ctx, "manual"))
	require.NoError(t, s.EnqueueNow(ctx, "manual"))

	stats, err := s.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Waiting)
}

func TestValidateSchedule(t *testing.T) {
	s, _ := newTestScheduler(t)
	assert.NoError(t, s.ValidateSchedule("*/5 * * * *"))
	assert.Error(t, s.ValidateSchedule("61 * * * *"))
	assert.Error(t, s.ValidateSchedule("* * * *"))
}

func TestDescribeSchedule(t *testing.T) {
	s, _ := newTestScheduler(t)
	assert.Equal(t, "Every minute", s.DescribeSchedule("* * * * *"))
}

func TestComputeNextRun(t *testing.T) {
	s, _ := newTestScheduler(t)

	next, err := s.ComputeNextRun("*/5 * * * *", "UTC")
	require.NoError(t, err)
	assert.True(t, next.After(time.Now()))
	assert.Zero(t, next.Minute()%5)

	_, err = s.ComputeNextRun("*/5 * * * *", "Not/AZone")
	assert.Error(t, err)
}
