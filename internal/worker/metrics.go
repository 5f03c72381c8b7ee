package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the worker's instrumentation surface. One instance is shared by
// the scheduler, outbox drain, and heartbeat loops.
type Metrics struct {
	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
	JobsOverdue prometheus.Gauge

	OutboxDelivered prometheus.Counter
	OutboxFailed    prometheus.Counter
	OutboxDead      prometheus.Counter
	OutboxPending   prometheus.Gauge

	HeartbeatAt prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "erp",
			Subsystem: "worker",
			Name:      "job_runs_total",
			Help:      "Background job runs by job name and outcome.",
		}, []string{"job", "status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "erp",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Background job wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"job"}),
		JobsOverdue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "erp",
			Subsystem: "worker",
			Name:      "jobs_overdue",
			Help:      "Enabled schedules more than five minutes past due.",
		}),
		OutboxDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "erp",
			Subsystem: "outbox",
			Name:      "delivered_total",
			Help:      "Events delivered to the publisher.",
		}),
		OutboxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "erp",
			Subsystem: "outbox",
			Name:      "failed_total",
			Help:      "Delivery attempts that failed.",
		}),
		OutboxDead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "erp",
			Subsystem: "outbox",
			Name:      "dead_total",
			Help:      "Events moved to dead after exhausting attempts.",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "erp",
			Subsystem: "outbox",
			Name:      "pending",
			Help:      "Events waiting for delivery.",
		}),
		HeartbeatAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "erp",
			Subsystem: "worker",
			Name:      "heartbeat_timestamp_seconds",
			Help:      "Unix time of the last heartbeat write.",
		}),
	}
	reg.MustRegister(
		m.JobRuns, m.JobDuration, m.JobsOverdue,
		m.OutboxDelivered, m.OutboxFailed, m.OutboxDead, m.OutboxPending,
		m.HeartbeatAt,
	)
	return m
}
