// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts HTTP requests by path, method and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// TasksSubmittedTotal counts messages published by the task router.
	TasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_submitted_total",
			Help: "Total number of tasks submitted to the broker.",
		},
		[]string{"task_name", "queue", "status"}, // status: ok/broker_unavailable
	)

	// TaskExecutionsTotal counts tasks completed by workers.
	TaskExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_executions_total",
			Help: "Total number of task executions completed by workers.",
		},
		[]string{"task_name", "status"}, // SUCCESS/FAILURE
	)

	// TaskExecutionDuration observes how long handlers run.
	TaskExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "task_execution_duration_seconds",
			Help:    "Duration of task executions in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"task_name"},
	)

	// StatusLookupsTotal counts resolved task states.
	StatusLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_status_lookups_total",
			Help: "Total number of task status lookups by resolved state.",
		},
		[]string{"status"},
	)

	// ProviderRequestsTotal counts calls to generation providers.
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Total number of requests sent to generation providers.",
		},
		[]string{"provider", "operation", "status"},
	)

	// WorkerBusySlots tracks slots currently running a task, per queue.
	WorkerBusySlots = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_busy_slots",
			Help: "Number of worker slots currently executing a task.",
		},
		[]string{"queue"},
	)

	// IsLeader marks whether this node currently submits periodic tasks.
	IsLeader = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "is_leader",
			Help: "Is this node currently the leader. 1 if leader, 0 otherwise.",
		},
		[]string{"node_id"},
	)
)
