package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of notification delivery attempts by method and status",
		},
		[]string{"method", "status"},
	)

	QueueItemsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_queue_enqueued_total",
			Help: "Total number of items written to the durable queue",
		},
	)

	QueueDrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "notification_queue_drain_duration_seconds",
			Help: "Duration of queue drain batches in seconds",
		},
	)

	QueueItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_queue_processed_total",
			Help: "Total number of queue items finalized by outcome",
		},
		[]string{"outcome"},
	)

	QueueRetriesArmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_queue_retries_armed_total",
			Help: "Total number of failed items re-armed by the retry sweeper",
		},
	)

	SchedulerJobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Total number of scheduled job runs by job and result",
		},
		[]string{"job", "result"},
	)

	CircuitBlocked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transport_circuit_blocked",
			Help: "1 when the primary transport circuit is blocked, 0 otherwise",
		},
	)
)
