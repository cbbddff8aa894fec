package queue

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/cronwell/internal/model"
	"github.com/t77yq/cronwell/internal/testutil"
)

func testInvocation(key string) *model.Invocation {
	return &model.Invocation{
		InvocationKey:   key,
		JobID:           "job-1",
		ProjectID:       "proj-1",
		InvocationPath:  "/cron/run",
		TimeoutSeconds:  5,
		AttemptsAllowed: 3,
	}
}

func TestQueueSetupCreatesStreams(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	_, err := New(js, DefaultBackoff, zaptest.NewLogger(t))
	require.NoError(t, err)

	for _, name := range []string{"INVOCATIONS", "DEADLETTER"} {
		info, err := js.StreamInfo(name)
		require.NoError(t, err)
		assert.Equal(t, name, info.Config.Name)
	}

	// Re-creating against existing streams is a no-op.
	_, err = New(js, DefaultBackoff, zaptest.NewLogger(t))
	require.NoError(t, err)
}

func TestEnqueueDeduplicatesSameOccurrence(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	q, err := New(js, DefaultBackoff, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	inv := testInvocation("job-1.1700000000")

	// Two pollers firing the same due occurrence enqueue the same key.
	require.NoError(t, q.Enqueue(ctx, inv))
	require.NoError(t, q.Enqueue(ctx, inv))

	assert.Equal(t, uint64(1), testutil.StreamMessageCount(t, js, "INVOCATIONS"))
}

func TestEnqueueDistinctOccurrences(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	q, err := New(js, DefaultBackoff, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testInvocation("job-1.1700000000")))
	require.NoError(t, q.Enqueue(ctx, testInvocation("job-1.1700000060")))
	require.NoError(t, q.Enqueue(ctx, testInvocation("job-2.1700000000")))

	assert.Equal(t, uint64(3), testutil.StreamMessageCount(t, js, "INVOCATIONS"))
}

func TestEnqueueFailsLoudlyWhenQueueUnavailable(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)

	q, err := New(js, DefaultBackoff, zaptest.NewLogger(t))
	require.NoError(t, err)

	// Take the backing server down: the publish must surface an error, not
	// silently drop the invocation.
	cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, q.Enqueue(ctx, testInvocation("job-1.1700000000")))
}

func TestStatsReflectsWaitingMessages(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	q, err := New(js, DefaultBackoff, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testInvocation("job-1.1")))
	require.NoError(t, q.Enqueue(ctx, testInvocation("job-1.2")))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Waiting)
	assert.Zero(t, stats.InFlight)
	assert.Zero(t, stats.Completed)
	assert.Zero(t, stats.Failed)
}

func TestCompleteAndFailSettleCounters(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	q, err := New(js, DefaultBackoff, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testInvocation("job-1.1")))
	require.NoError(t, q.Enqueue(ctx, testInvocation("job-1.2")))

	sub, err := q.PullSubscribe()
	require.NoError(t, err)

	msgs, err := sub.Fetch(2, nats.MaxWait(5*time.Second))
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	q.Complete(msgs[0])
	q.Fail(msgs[1], testInvocation("job-1.2"), "attempts exhausted")

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)

	// The exhausted invocation landed in the dead letter stream.
	assert.Equal(t, uint64(1), testutil.StreamMessageCount(t, js, "DEADLETTER"))
}
