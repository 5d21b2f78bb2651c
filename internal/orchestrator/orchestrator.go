package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Konveyer/internal/domain"
	"github.com/shaiso/Konveyer/internal/mq"
	"github.com/shaiso/Konveyer/internal/repo"
	"github.com/shaiso/Konveyer/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 100
)

// runKey — ключ активного run.
type runKey struct {
	dagID string
	runID string
}

// Orchestrator управляет выполнением dag runs.
//
// Orchestrator — центральный компонент системы, который:
//   - Получает новые runs из очереди RabbitMQ (event-driven)
//   - Периодически проверяет QUEUED runs в БД (polling fallback)
//   - Строит граф задач для каждого run
//   - Вычисляет trigger rules и переводит готовые задачи в SCHEDULED
//   - Разворачивает mapped-задачи после завершения их upstream
//   - Возвращает UP_FOR_RETRY instances в SCHEDULED после backoff
//   - Финализирует runs (SUCCESS/FAILED)
type Orchestrator struct {
	// Repositories
	dagRepo *repo.DagRepo
	runRepo *repo.DagRunRepo
	tiRepo  *repo.TaskInstanceRepo

	// MQ
	publisher *mq.Publisher
	conn      *mq.Connection

	// Active runs — runs в процессе выполнения
	activeRuns map[runKey]*RunState
	mu         sync.RWMutex

	// Consumers
	runConsumer *mq.Consumer
	tiConsumer  *mq.Consumer

	// Configuration
	pollInterval time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Repositories
	DagRepo *repo.DagRepo
	RunRepo *repo.DagRunRepo
	TIRepo  *repo.TaskInstanceRepo

	// MQ
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество runs за один poll (default: 100)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		dagRepo:      cfg.DagRepo,
		runRepo:      cfg.RunRepo,
		tiRepo:       cfg.TIRepo,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		activeRuns:   make(map[runKey]*RunState),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Start запускает Orchestrator.
//
// Запускает:
//   - Consumer для runs.queued
//   - Consumer для tis.completed
//   - Polling горутину для fallback и retry-задач
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"batch_size", o.batchSize,
	)

	// run.queued без requeue: QUEUED run переоткроет polling fallback,
	// горячий цикл redelivery на проблемном run не нужен.
	// ti.completed с requeue: потерянное завершение остановило бы
	// прогресс активного run.
	o.runConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue: string(mq.QueueRunsQueued),
		Routes: map[mq.MessageType]mq.Route{
			mq.MessageTypeRunQueued: {
				Decode: mq.DecodeAs[mq.RunQueuedPayload](),
				Handle: o.handleRunQueued,
			},
		},
		Prefetch: 10,
	})

	o.tiConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue: string(mq.QueueTIsCompleted),
		Routes: map[mq.MessageType]mq.Route{
			mq.MessageTypeTICompleted: {
				Decode:  mq.DecodeAs[mq.TICompletedPayload](),
				Handle:  o.handleTICompleted,
				Requeue: true,
			},
		},
		Prefetch: 10,
	})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.runConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("run consumer error", "error", err)
		}
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.tiConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("ti consumer error", "error", err)
		}
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	if o.runConsumer != nil {
		o.runConsumer.Stop()
	}
	if o.tiConsumer != nil {
		o.tiConsumer.Stop()
	}

	o.wg.Wait()

	o.logger.Info("orchestrator stopped",
		"active_runs", len(o.activeRuns),
	)
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// pollLoop — цикл polling для fallback и retry.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем runs,
	// созданные пока оркестратор был выключен)
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling: QUEUED runs и созревшие retry.
func (o *Orchestrator) poll(ctx context.Context) {
	o.pollQueuedRuns(ctx)
	o.pollRetries(ctx)
}

// pollQueuedRuns подхватывает QUEUED runs, пропущенные consumer'ом.
func (o *Orchestrator) pollQueuedRuns(ctx context.Context) {
	runs, err := o.runRepo.ListByState(ctx, domain.DagRunStateQueued, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list queued runs", "error", err)
		return
	}

	if len(runs) == 0 {
		return
	}

	o.logger.Debug("poll found queued runs", "count", len(runs))

	for i := range runs {
		run := &runs[i]

		if o.isRunActive(run.DagID, run.RunID) {
			continue
		}

		if err := o.processRun(ctx, run.DagID, run.RunID); err != nil {
			o.logger.Error("failed to process run from poll",
				"dag_id", run.DagID,
				"run_id", run.RunID,
				"error", err,
			)
		}
	}
}

// pollRetries возвращает созревшие UP_FOR_RETRY instances в SCHEDULED.
// RenderedConfig уже зафиксирован при первом планировании,
// повторный рендеринг не нужен.
func (o *Orchestrator) pollRetries(ctx context.Context) {
	tis, err := o.tiRepo.ListRetryDue(ctx, time.Now(), o.batchSize)
	if err != nil {
		o.logger.Error("failed to list retry-due instances", "error", err)
		return
	}

	for i := range tis {
		ti := &tis[i]

		err := o.tiRepo.UpdateState(ctx, ti.DagID, ti.RunID, ti.TaskID, ti.MapIndex,
			domain.TIStateUpForRetry, domain.TIStateScheduled)
		if err != nil {
			o.logger.Error("failed to reschedule retry",
				"dag_id", ti.DagID,
				"run_id", ti.RunID,
				"task_id", ti.TaskID,
				"map_index", ti.MapIndex,
				"error", err,
			)
			continue
		}
		telemetry.TITransitions.WithLabelValues(string(domain.TIStateScheduled)).Inc()

		if state := o.getActiveRun(ti.DagID, ti.RunID); state != nil {
			state.SetInstanceState(ti.TaskID, ti.MapIndex, domain.TIStateScheduled)
		}

		o.logger.Info("retry rescheduled",
			"dag_id", ti.DagID,
			"run_id", ti.RunID,
			"task_id", ti.TaskID,
			"map_index", ti.MapIndex,
			"try_number", ti.TryNumber,
		)
	}
}

// isRunActive проверяет, находится ли run в обработке.
func (o *Orchestrator) isRunActive(dagID, runID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, exists := o.activeRuns[runKey{dagID, runID}]
	return exists
}

// getActiveRun возвращает активный RunState.
func (o *Orchestrator) getActiveRun(dagID, runID string) *RunState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeRuns[runKey{dagID, runID}]
}

// addActiveRun добавляет run в активные.
func (o *Orchestrator) addActiveRun(state *RunState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := runKey{state.DagID(), state.RunID()}
	if _, exists := o.activeRuns[key]; exists {
		return ErrRunAlreadyActive
	}

	o.activeRuns[key] = state
	return nil
}

// removeActiveRun удаляет run из активных.
func (o *Orchestrator) removeActiveRun(dagID, runID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeRuns, runKey{dagID, runID})
}

// ActiveRunsCount возвращает количество активных runs.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeRuns)
}

// GetActiveRunStats возвращает статистику по активному run.
func (o *Orchestrator) GetActiveRunStats(dagID, runID string) (RunStats, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	state, exists := o.activeRuns[runKey{dagID, runID}]
	if !exists {
		return RunStats{}, false
	}

	return state.Stats(), true
}
