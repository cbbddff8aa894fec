// Package worker drains the durable invocation queue with bounded
// concurrency and dispatches HTTP calls to tenant endpoints. Retry
// accounting stays in the queue layer; workers only report each attempt's
// outcome.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/t77yq/cronwell/internal/health"
	"github.com/t77yq/cronwell/internal/model"
	"github.com/t77yq/cronwell/internal/queue"
	"github.com/t77yq/cronwell/internal/recorder"
)

// fetchWait bounds each poll of the pull consumer so workers notice
// shutdown promptly.
const fetchWait = 2 * time.Second

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	// Workers is the fixed concurrency ceiling.
	Workers int

	// RatePerMinute caps dispatches across the whole pool, independent of
	// Workers, to protect downstream tenant endpoints.
	RatePerMinute int
}

// Pool executes invocations with fixed concurrency and a global rate
// ceiling.
type Pool struct {
	logger     *zap.Logger
	queue      *queue.Queue
	dispatcher *Dispatcher
	recorder   *recorder.Recorder
	cfg        PoolConfig
	limiter    *rate.Limiter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a worker pool.
func NewPool(cfg PoolConfig, q *queue.Queue, d *Dispatcher, rec *recorder.Recorder, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 120
	}
	return &Pool{
		logger:     logger.Named("worker-pool"),
		queue:      q,
		dispatcher: d,
		recorder:   rec,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.Workers),
	}
}

// Start binds the shared consumer and launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) error {
	sub, err := p.queue.PullSubscribe()
	if err != nil {
		return err
	}

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, sub, i)
	}

	p.logger.Info("Worker pool started",
		zap.Int("workers", p.cfg.Workers),
		zap.Int("rate_per_minute", p.cfg.RatePerMinute))
	return nil
}

// Stop cancels the workers and waits for in-flight attempts to settle.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *Pool) run(ctx context.Context, sub *nats.Subscription, id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.Canceled) {
				continue
			}
			logger.Error("Failed to fetch invocation", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			if err := p.limiter.Wait(ctx); err != nil {
				// Shutting down: leave the message unacked for redelivery.
				return
			}
			p.process(ctx, msg, logger)
		}
	}
}

// process runs one delivery attempt end to end: open the audit record,
// dispatch, finalize, and hand the outcome to the queue for its retry
// decision.
func (p *Pool) process(ctx context.Context, msg *nats.Msg, logger *zap.Logger) {
	var inv model.Invocation
	if err := json.Unmarshal(msg.Data, &inv); err != nil {
		logger.Error("Failed to unmarshal invocation", zap.Error(err))
		p.queue.Fail(msg, nil, "malformed invocation: "+err.Error())
		return
	}

	attempt := 0
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered) - 1
	}

	rec, err := p.recorder.Begin(ctx, inv.JobID, attempt)
	if err != nil {
		// Infrastructure error: no audit row could be opened, so do not
		// consume the attempt with a dispatch we cannot record.
		logger.Error("Failed to open execution record",
			zap.String("job_id", inv.JobID),
			zap.Error(err))
		p.queue.RetryLater(msg, attempt)
		return
	}

	started := time.Now()
	health.QueueInFlight.Inc()
	outcome := p.dispatcher.Dispatch(ctx, &inv, rec.ID)
	health.QueueInFlight.Dec()
	health.DispatchDuration.Observe(time.Since(started).Seconds())

	success := outcome.Disposition == DispositionSuccess
	exhausted := attempt+1 >= inv.AttemptsAllowed
	terminal := success || exhausted || outcome.Disposition == DispositionFail

	if err := p.recorder.Finish(ctx, rec, recorder.Result{
		Success:      success,
		Snippet:      outcome.Snippet,
		ErrorMessage: outcome.ErrorMessage,
	}, terminal); err != nil {
		logger.Error("Failed to finalize execution record",
			zap.String("execution_id", rec.ID),
			zap.Error(err))
	}

	switch {
	case success:
		health.DispatchAttempts.WithLabelValues("success").Inc()
		p.queue.Complete(msg)
	case terminal:
		health.DispatchAttempts.WithLabelValues("failed").Inc()
		p.queue.Fail(msg, &inv, outcome.ErrorMessage)
	default:
		health.DispatchAttempts.WithLabelValues("retry").Inc()
		p.queue.RetryLater(msg, attempt)
	}
}
