package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for task dispatch.
var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_tasks_total",
		Help: "Task executions by outcome",
	}, []string{"outcome"})

	taskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_task_duration_seconds",
		Help:    "Task execution duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	queueUnresolved = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_queue_unresolved",
		Help: "Current number of unresolved tasks",
	})

	queueInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_queue_in_flight",
		Help: "Current number of executing tasks",
	})
)

// Task outcome labels.
const (
	outcomeResolved  = "resolved"
	outcomePartial   = "partial"
	outcomeRetried   = "retried"
	outcomeArchived  = "archived"
	outcomeErrored   = "errored"
	outcomeRateLimit = "rate_limit"
	outcomeAborted   = "aborted"
	outcomeCancelled = "cancelled"
)
