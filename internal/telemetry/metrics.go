package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики системы. Регистрируются в default registry,
// экспортируются через promhttp на /metrics каждого сервиса.
var (
	// RunsCreated — счётчик созданных запусков по типу (manual/scheduled).
	RunsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "konveyer",
		Name:      "runs_created_total",
		Help:      "Total number of dag runs created.",
	}, []string{"run_type"})

	// RunsFinished — счётчик завершённых запусков по итоговому состоянию.
	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "konveyer",
		Name:      "runs_finished_total",
		Help:      "Total number of dag runs finished, by terminal state.",
	}, []string{"state"})

	// TITransitions — счётчик переходов состояний экземпляров задач.
	TITransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "konveyer",
		Name:      "task_instance_transitions_total",
		Help:      "Total number of task instance state transitions.",
	}, []string{"state"})

	// TIDuration — гистограмма длительности выполнения экземпляров.
	TIDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "konveyer",
		Name:      "task_instance_duration_seconds",
		Help:      "Task instance execution duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"task_type", "state"})

	// DispatcherSkips — счётчик отказов диспетчера по причине.
	DispatcherSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "konveyer",
		Name:      "dispatcher_skips_total",
		Help:      "Task instances skipped by the dispatcher, by reason.",
	}, []string{"reason"})

	// OccupiedSlots — gauge занятых слотов по пулам.
	OccupiedSlots = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "konveyer",
		Name:      "pool_occupied_slots",
		Help:      "Currently occupied slots per pool.",
	}, []string{"pool"})

	// SchedulerTicks — счётчик тиков планировщика.
	SchedulerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "konveyer",
		Name:      "scheduler_ticks_total",
		Help:      "Total number of scheduler ticks.",
	})
)
