// Package health samples queue depths and process resources into Prometheus
// gauges for the monitoring layer. It only reads; nothing here influences
// scheduling.
package health

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/t77yq/cronwell/internal/queue"
)

// Collector periodically refreshes the exported gauges.
type Collector struct {
	logger   *zap.Logger
	queue    *queue.Queue
	interval time.Duration
	proc     *process.Process
	stop     chan struct{}
	done     chan struct{}
}

// NewCollector creates a collector sampling at the given interval.
func NewCollector(q *queue.Queue, interval time.Duration, logger *zap.Logger) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil
	}
	return &Collector{
		logger:   logger.Named("health"),
		queue:    q,
		interval: interval,
		proc:     proc,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sampling loop.
func (c *Collector) Start(ctx context.Context) {
	go c.loop(ctx)
	c.logger.Info("Health collector started", zap.Duration("interval", c.interval))
}

// Stop terminates the sampling loop and waits for it to exit.
func (c *Collector) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Collector) loop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.sample(ctx)
		}
	}
}

func (c *Collector) sample(ctx context.Context) {
	stats, err := c.queue.Stats(ctx)
	if err != nil {
		c.logger.Warn("Failed to read queue stats", zap.Error(err))
	} else {
		// QueueInFlight is maintained live by the worker pool.
		QueueWaiting.Set(float64(stats.Waiting))
		QueueDelayed.Set(float64(stats.Delayed))
		QueueCompleted.Set(float64(stats.Completed))
		QueueFailed.Set(float64(stats.Failed))
	}

	if c.proc == nil {
		return
	}
	if cpu, err := c.proc.CPUPercent(); err == nil {
		ProcessCPUPercent.Set(cpu)
	}
	if mem, err := c.proc.MemoryInfo(); err == nil && mem != nil {
		ProcessMemoryBytes.Set(float64(mem.RSS))
	}
}
