package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики движка загрузок. Регистрируются в default registry,
// отдаются через promhttp на /metrics.
var (
	// TasksSubmitted — принятые в очередь задачи.
	TasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "downpour_tasks_submitted_total",
		Help: "Total number of tasks accepted into the queue.",
	})

	// TasksCompleted — успешно завершённые задачи.
	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "downpour_tasks_completed_total",
		Help: "Total number of tasks completed successfully.",
	})

	// TasksFailed — задачи, провалившиеся окончательно.
	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "downpour_tasks_failed_total",
		Help: "Total number of tasks that failed permanently.",
	})

	// TasksRetried — повторные постановки задач в очередь.
	TasksRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "downpour_tasks_retried_total",
		Help: "Total number of task requeues after a transient failure.",
	})

	// QueueDepth — текущая глубина канала доставки.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "downpour_queue_depth",
		Help: "Number of tasks buffered in the delivery channel.",
	})

	// ActiveWorkers — воркеры, выполняющие задачу прямо сейчас.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "downpour_active_workers",
		Help: "Number of workers currently executing a task.",
	})

	// TaskDuration — длительность выполнения задачи от старта до результата.
	TaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "downpour_task_duration_seconds",
		Help:    "Task execution duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// LimiterWaits — блокировки на лимитере.
	LimiterWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "downpour_limiter_waits_total",
		Help: "Total number of times a worker blocked on the rate limiter.",
	})
)
