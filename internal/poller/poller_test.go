package poller

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/cronwell/internal/model"
	"github.com/t77yq/cronwell/internal/store"
)

// captureQueue records enqueued invocations and can be told to reject
// specific jobs.
type captureQueue struct {
	mu       sync.Mutex
	invs     []*model.Invocation
	failJobs map[string]bool
}

func (q *captureQueue) Enqueue(_ context.Context, inv *model.Invocation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failJobs[inv.JobID] {
		return errors.New("queue unavailable")
	}
	q.invs = append(q.invs, inv)
	return nil
}

func (q *captureQueue) captured() []*model.Invocation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*model.Invocation(nil), q.invs...)
}

func newTestJobs(t *testing.T) store.JobStore {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewSQLiteJobStore(zaptest.NewLogger(t), db)
}

func seedJob(t *testing.T, jobs store.JobStore, id, schedule string, enabled bool, nextRunAt time.Time) *model.JobDefinition {
	t.Helper()
	job := &model.JobDefinition{
		ID:             id,
		ProjectID:      "proj-1",
		Name:           "job-" + id,
		Schedule:       schedule,
		InvocationPath: "/cron/run",
		Timezone:       "UTC",
		TimeoutSeconds: 30,
		MaxRetries:     2,
		Enabled:        enabled,
	}
	require.NoError(t, jobs.Create(context.Background(), job))
	require.NoError(t, jobs.SetNextRun(context.Background(), id, nextRunAt))
	job.NextRunAt = &nextRunAt
	return job
}

func TestTickEnqueuesDueJobs(t *testing.T) {
	jobs := newTestJobs(t)
	q := &captureQueue{}
	p := New(jobs, q, time.Minute, zaptest.NewLogger(t))

	now := time.Date(2025, 3, 10, 12, 5, 0, 0, time.UTC)
	seedJob(t, jobs, "due", "*/5 * * * *", true, now.Add(-time.Minute))
	seedJob(t, jobs, "future", "*/5 * * * *", true, now.Add(10*time.Minute))

	p.Tick(context.Background(), now)

	invs := q.captured()
	require.Len(t, invs, 1)
	assert.Equal(t, "due", invs[0].JobID)
	assert.Equal(t, "/cron/run", invs[0].InvocationPath)
	assert.Equal(t, 3, invs[0].AttemptsAllowed)
}

func TestTickSkipsDisabledJobs(t *testing.T) {
	jobs := newTestJobs(t)
	q := &captureQueue{}
	p := New(jobs, q, time.Minute, zaptest.NewLogger(t))

	now := time.Date(2025, 3, 10, 12, 5, 0, 0, time.UTC)
	seedJob(t, jobs, "paused", "* * * * *", false, now.Add(-time.Minute))

	p.Tick(context.Background(), now)
	assert.Empty(t, q.captured())
}

// The watermark moves forward in the same tick that enqueues, so the next
// tick sees nothing due even though the invocation has not executed yet.
func TestTickAdvancesWatermarkBeforeExecution(t *testing.T) {
	jobs := newTestJobs(t)
	q := &captureQueue{}
	p := New(jobs, q, time.Minute, zaptest.NewLogger(t))

	now := time.Date(2025, 3, 10, 12, 5, 0, 0, time.UTC)
	seedJob(t, jobs, "hourly", "0 * * * *", true, now.Add(-5*time.Minute))

	p.Tick(context.Background(), now)
	require.Len(t, q.captured(), 1)

	job, err := jobs.Get(context.Background(), "hourly")
	require.NoError(t, err)
	require.NotNil(t, job.NextRunAt)
	assert.Equal(t, time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC), job.NextRunAt.UTC())

	// Immediately polling again finds nothing due.
	p.Tick(context.Background(), now)
	assert.Len(t, q.captured(), 1)
}

// The invocation key is derived from the occurrence the job was due for, not
// from the wall clock, so overlapping pollers firing the same occurrence
// produce identical keys.
func TestTickKeyDerivedFromOccurrence(t *testing.T) {
	occurrence := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	jobsA := newTestJobs(t)
	qA := &captureQueue{}
	seedJob(t, jobsA, "shared", "0 * * * *", true, occurrence)
	New(jobsA, qA, time.Minute, zaptest.NewLogger(t)).
		Tick(context.Background(), occurrence.Add(3*time.Second))

	jobsB := newTestJobs(t)
	qB := &captureQueue{}
	seedJob(t, jobsB, "shared", "0 * * * *", true, occurrence)
	New(jobsB, qB, time.Minute, zaptest.NewLogger(t)).
		Tick(context.Background(), occurrence.Add(41*time.Second))

	require.Len(t, qA.captured(), 1)
	require.Len(t, qB.captured(), 1)
	assert.Equal(t, qA.captured()[0].InvocationKey, qB.captured()[0].InvocationKey)
}

// One job's enqueue failure neither stalls the tick nor advances that job's
// watermark, so the occurrence is retried on the next tick.
func TestTickIsolatesPerJobFailures(t *testing.T) {
	jobs := newTestJobs(t)
	q := &captureQueue{failJobs: map[string]bool{"broken": true}}
	p := New(jobs, q, time.Minute, zaptest.NewLogger(t))

	now := time.Date(2025, 3, 10, 12, 5, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	seedJob(t, jobs, "broken", "* * * * *", true, due)
	seedJob(t, jobs, "fine", "* * * * *", true, due)

	p.Tick(context.Background(), now)

	invs := q.captured()
	require.Len(t, invs, 1)
	assert.Equal(t, "fine", invs[0].JobID)

	broken, err := jobs.Get(context.Background(), "broken")
	require.NoError(t, err)
	require.NotNil(t, broken.NextRunAt)
	assert.True(t, broken.NextRunAt.Equal(due), "failed job's watermark must not advance")

	// Once the queue recovers, the next tick fires the held-back occurrence
	// under the same key.
	q.mu.Lock()
	q.failJobs = nil
	q.mu.Unlock()

	p.Tick(context.Background(), now.Add(time.Minute))
	invs = q.captured()
	require.Len(t, invs, 2)
	assert.Equal(t, "broken", invs[1].JobID)
	assert.Equal(t, model.DedupKey("broken", due), invs[1].InvocationKey)
}

func TestStartStopDeterministic(t *testing.T) {
	jobs := newTestJobs(t)
	p := New(jobs, &captureQueue{}, 10*time.Millisecond, zaptest.NewLogger(t))

	p.Start(context.Background())
	time.Sleep(35 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
