package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueWaiting is the number of invocations waiting for a worker.
	QueueWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cronwell_queue_waiting",
		Help: "Invocations waiting for delivery to a worker.",
	})

	// QueueInFlight is the number of invocations currently being executed.
	QueueInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cronwell_queue_in_flight",
		Help: "Invocations delivered and awaiting acknowledgement.",
	})

	// QueueDelayed is the number of invocations waiting out a retry backoff.
	QueueDelayed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cronwell_queue_delayed",
		Help: "Invocations scheduled for redelivery after a failed attempt.",
	})

	// QueueCompleted counts invocations that reached terminal success.
	QueueCompleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cronwell_queue_completed_total",
		Help: "Invocations completed successfully.",
	})

	// QueueFailed counts invocations that exhausted their attempts.
	QueueFailed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cronwell_queue_failed_total",
		Help: "Invocations moved to the dead letter stream.",
	})

	// DispatchDuration observes wall-clock time of individual attempts.
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cronwell_dispatch_duration_seconds",
		Help:    "Duration of individual dispatch attempts.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// DispatchAttempts counts attempts by outcome.
	DispatchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cronwell_dispatch_attempts_total",
		Help: "Dispatch attempts by outcome.",
	}, []string{"outcome"})

	// ProcessCPUPercent is the scheduler process CPU usage.
	ProcessCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cronwell_process_cpu_percent",
		Help: "CPU usage of the scheduler process.",
	})

	// ProcessMemoryBytes is the scheduler process resident memory.
	ProcessMemoryBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cronwell_process_memory_bytes",
		Help: "Resident memory of the scheduler process.",
	})
)
