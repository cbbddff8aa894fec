// Package poller periodically scans for due jobs and pushes them onto the
// durable queue. The scheduling watermark advances as part of the same
// tick, before the invocation runs, so a slow execution can never cause its
// job to be re-enqueued by the next tick.
package poller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/cronwell/internal/cronexpr"
	"github.com/t77yq/cronwell/internal/model"
	"github.com/t77yq/cronwell/internal/store"
)

// Enqueuer is the slice of the durable queue the poller needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, inv *model.Invocation) error
}

// Poller scans for due jobs on a fixed interval.
type Poller struct {
	logger   *zap.Logger
	jobs     store.JobStore
	queue    Enqueuer
	interval time.Duration
	now      func() time.Time
	stop     chan struct{}
	done     chan struct{}
}

// New creates a poller. interval defaults to one minute.
func New(jobs store.JobStore, queue Enqueuer, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		logger:   logger.Named("poller"),
		jobs:     jobs,
		queue:    queue,
		interval: interval,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop. Shutdown is deterministic: Stop closes the
// stop channel and waits for the loop to exit.
func (p *Poller) Start(ctx context.Context) {
	go p.loop(ctx)
	p.logger.Info("Poller started", zap.Duration("interval", p.interval))
}

// Stop terminates the tick loop and waits for it to exit.
func (p *Poller) Stop() {
	close(p.stop)
	<-p.done
	p.logger.Info("Poller stopped")
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.Tick(ctx, p.now())
		}
	}
}

// Tick runs one poll pass as of now: every enabled job whose next run has
// passed is enqueued once and its watermark advanced. Failures are isolated
// per job; one job's infrastructure blip never stalls the rest of the tick.
// Exposed so tests can drive polls with a fixed clock instead of sleeping.
func (p *Poller) Tick(ctx context.Context, now time.Time) {
	due, err := p.jobs.ListDue(ctx, now)
	if err != nil {
		p.logger.Error("Failed to list due jobs", zap.Error(err))
		return
	}

	for _, job := range due {
		if !job.Enabled {
			continue
		}
		if err := p.fire(ctx, job, now); err != nil {
			p.logger.Error("Failed to process due job",
				zap.String("job_id", job.ID),
				zap.String("name", job.Name),
				zap.Error(err))
		}
	}
}

// fire enqueues one due occurrence and advances the job's watermark. The
// dedup key is derived from the occurrence the job was due for, so
// overlapping poller instances produce identical keys and the queue's
// duplicate window collapses them.
func (p *Poller) fire(ctx context.Context, job *model.JobDefinition, now time.Time) error {
	occurrence := now
	if job.NextRunAt != nil {
		occurrence = *job.NextRunAt
	}

	inv := model.NewInvocation(job, occurrence)
	if err := p.queue.Enqueue(ctx, inv); err != nil {
		return err
	}

	next, err := cronexpr.NextInLocation(job.Schedule, job.Timezone, now)
	if err != nil {
		return err
	}
	if err := p.jobs.SetNextRun(ctx, job.ID, next); err != nil {
		return err
	}

	p.logger.Info("Job enqueued",
		zap.String("job_id", job.ID),
		zap.String("name", job.Name),
		zap.Time("occurrence", occurrence),
		zap.Time("next_run", next))
	return nil
}
