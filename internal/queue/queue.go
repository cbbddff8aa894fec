// Package queue provides the durable invocation queue on NATS JetStream.
// Delivery is at-least-once; the stream's duplicate window collapses
// re-enqueues of the same occurrence, and redelivery with exponential
// backoff implements the retry policy. The queue owns retry accounting:
// workers only report outcomes.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/cronwell/internal/model"
)

const (
	invocationStreamName = "INVOCATIONS"
	invocationSubject    = "invocation.dispatch"

	deadLetterStreamName = "DEADLETTER"
	deadLetterSubject    = "invocation.deadletter"

	workerConsumerName = "invocation-workers"

	// dedupWindow must comfortably exceed the poll interval so overlapping
	// poller instances cannot double-enqueue one occurrence.
	dedupWindow = 10 * time.Minute

	// ackWait must exceed the largest allowed invocation timeout plus
	// persistence overhead, or JetStream would redeliver mid-attempt.
	ackWait = time.Duration(model.MaxTimeoutSeconds)*time.Second + 2*time.Minute

	// maxDeliverCeiling is a consumer-level backstop; the real per-job
	// attempt budget is enforced by the worker from AttemptsAllowed.
	maxDeliverCeiling = model.MaxRetries + 1
)

// DeadLetter is the terminal-failed envelope published after an invocation
// exhausts its attempts.
type DeadLetter struct {
	Invocation *model.Invocation `json:"invocation"`
	Reason     string            `json:"reason"`
	FailedAt   time.Time         `json:"failed_at"`
}

// Stats reports queue depths for health and monitoring.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	InFlight  int64 `json:"in_flight"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Queue is the durable invocation queue.
type Queue struct {
	logger  *zap.Logger
	js      nats.JetStreamContext
	backoff Backoff

	completed atomic.Int64
	failed    atomic.Int64
	delayed   atomic.Int64
}

// New creates the queue and ensures its streams exist.
func New(js nats.JetStreamContext, backoff Backoff, logger *zap.Logger) (*Queue, error) {
	q := &Queue{
		logger:  logger.Named("queue"),
		js:      js,
		backoff: backoff,
	}
	if err := q.setupStreams(); err != nil {
		return nil, fmt.Errorf("failed to setup streams: %w", err)
	}
	return q, nil
}

func (q *Queue) setupStreams() error {
	streams := []*nats.StreamConfig{
		{
			Name:       invocationStreamName,
			Subjects:   []string{invocationSubject},
			Retention:  nats.WorkQueuePolicy,
			Storage:    nats.FileStorage,
			Duplicates: dedupWindow,
			MaxMsgs:    -1,
		},
		{
			Name:     deadLetterStreamName,
			Subjects: []string{deadLetterSubject},
			Storage:  nats.FileStorage,
			MaxAge:   7 * 24 * time.Hour,
		},
	}

	for _, cfg := range streams {
		_, err := q.js.StreamInfo(cfg.Name)
		if err == nil {
			continue
		}
		if err != nats.ErrStreamNotFound {
			return fmt.Errorf("failed to get stream info for %s: %w", cfg.Name, err)
		}
		if _, err := q.js.AddStream(cfg); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
		q.logger.Info("Created stream", zap.String("name", cfg.Name))
	}
	return nil
}

// Enqueue durably persists an invocation before returning. The invocation
// key doubles as the JetStream message id, so a duplicate within the window
// is dropped by the server and reported here as a no-op. A publish that is
// not acknowledged returns an error; invocations are never silently lost.
func (q *Queue) Enqueue(ctx context.Context, inv *model.Invocation) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to marshal invocation: %w", err)
	}

	ack, err := q.js.Publish(invocationSubject, data,
		nats.MsgId(inv.InvocationKey),
		nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to enqueue invocation %s: %w", inv.InvocationKey, err)
	}

	if ack.Duplicate {
		q.logger.Debug("Duplicate invocation suppressed",
			zap.String("invocation_key", inv.InvocationKey))
		return nil
	}

	q.logger.Info("Invocation enqueued",
		zap.String("invocation_key", inv.InvocationKey),
		zap.String("job_id", inv.JobID))
	return nil
}

// PullSubscribe binds the shared durable worker consumer. Every pool
// instance drains the same consumer, so each attempt is delivered to
// exactly one worker.
func (q *Queue) PullSubscribe() (*nats.Subscription, error) {
	sub, err := q.js.PullSubscribe(invocationSubject, workerConsumerName,
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(ackWait),
		nats.MaxDeliver(maxDeliverCeiling),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker consumer: %w", err)
	}
	return sub, nil
}

// Complete acknowledges a successfully executed attempt.
func (q *Queue) Complete(msg *nats.Msg) {
	q.noteDelivered(msg)
	q.completed.Add(1)
	if err := msg.Ack(); err != nil {
		q.logger.Error("Failed to ack invocation", zap.Error(err))
	}
}

// RetryLater schedules redelivery of a failed attempt with exponential
// backoff. attempt is 0-based.
func (q *Queue) RetryLater(msg *nats.Msg, attempt int) {
	q.noteDelivered(msg)
	delay := q.backoff.Delay(attempt)
	q.delayed.Add(1)
	if err := msg.NakWithDelay(delay); err != nil {
		q.logger.Error("Failed to nak invocation", zap.Error(err))
		return
	}
	q.logger.Info("Invocation scheduled for retry",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))
}

// Fail terminates delivery after attempts are exhausted (or a non-retryable
// failure) and records the invocation in the dead letter stream.
func (q *Queue) Fail(msg *nats.Msg, inv *model.Invocation, reason string) {
	q.noteDelivered(msg)
	q.failed.Add(1)

	dl := DeadLetter{Invocation: inv, Reason: reason, FailedAt: time.Now().UTC()}
	data, err := json.Marshal(dl)
	if err != nil {
		q.logger.Error("Failed to marshal dead letter", zap.Error(err))
	} else if _, err := q.js.Publish(deadLetterSubject, data); err != nil {
		q.logger.Error("Failed to publish to dead letter stream", zap.Error(err))
	}

	if err := msg.Term(); err != nil {
		q.logger.Error("Failed to terminate invocation", zap.Error(err))
		return
	}

	key := "unknown"
	if inv != nil {
		key = inv.InvocationKey
	}
	q.logger.Warn("Invocation moved to dead letter stream",
		zap.String("invocation_key", key),
		zap.String("reason", reason))
}

// noteDelivered settles the delayed gauge when a redelivered message
// arrives back at a worker.
func (q *Queue) noteDelivered(msg *nats.Msg) {
	meta, err := msg.Metadata()
	if err != nil {
		return
	}
	if meta.NumDelivered > 1 {
		q.delayed.Add(-1)
	}
}

// Stats reports current queue depths. Waiting and in-flight come from the
// worker consumer when it exists; completed, failed, and delayed are
// process-local tallies.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Delayed:   q.delayed.Load(),
	}

	ci, err := q.js.ConsumerInfo(invocationStreamName, workerConsumerName, nats.Context(ctx))
	if err == nil {
		stats.Waiting = int64(ci.NumPending)
		stats.InFlight = int64(ci.NumAckPending)
		return stats, nil
	}
	if err != nats.ErrConsumerNotFound {
		return nil, fmt.Errorf("failed to get consumer info: %w", err)
	}

	// No worker consumer yet: fall back to the stream depth.
	si, err := q.js.StreamInfo(invocationStreamName, nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}
	stats.Waiting = int64(si.State.Msgs)
	return stats, nil
}
