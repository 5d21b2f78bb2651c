package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shaiso/Konveyer/internal/domain"
	"github.com/shaiso/Konveyer/internal/logstore"
	"github.com/shaiso/Konveyer/internal/mq"
	"github.com/shaiso/Konveyer/internal/repo"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
	defaultPrefetch     = 5
)

// Worker выполняет отдельные task instances.
//
// Worker — stateless компонент системы, который:
//   - Получает instances из очереди RabbitMQ (event-driven)
//   - Периодически проверяет QUEUED instances в БД (polling fallback)
//   - Выполняет одну попытку (http, delay, transform)
//   - Пишет лог попытки в logstore
//   - Отправляет результат обратно в очередь tis.completed
//
// Решение о retry принимает оркестратор — worker выполняет ровно
// одну попытку на сообщение и помечает провал как retryable или нет.
//
// Workers масштабируются горизонтально — несколько экземпляров
// могут потреблять из одной очереди.
type Worker struct {
	// Repositories
	tiRepo  *repo.TaskInstanceRepo
	runRepo *repo.DagRunRepo
	dagRepo *repo.DagRepo

	// MQ
	publisher *mq.Publisher
	conn      *mq.Connection

	// Executor registry
	registry *Registry

	// Logs
	logs *logstore.Store

	// Consumer
	consumer *mq.Consumer

	// Configuration
	pollInterval time.Duration
	batchSize    int
	hostname     string

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// Repositories
	TIRepo  *repo.TaskInstanceRepo
	RunRepo *repo.DagRunRepo
	DagRepo *repo.DagRepo

	// MQ
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Logs — хранилище логов попыток.
	Logs *logstore.Store

	// Executor registry (опционально; если nil — используется NewRegistry())
	Registry *Registry

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество instances за один poll (default: 50)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
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

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &Worker{
		tiRepo:       cfg.TIRepo,
		runRepo:      cfg.RunRepo,
		dagRepo:      cfg.DagRepo,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		registry:     registry,
		logs:         cfg.Logs,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		hostname:     hostname,
		logger:       logger,
	}
}

// Start запускает Worker.
//
// Запускает:
//   - Consumer для tis.queued
//   - Polling горутину для fallback
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"hostname", w.hostname,
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
	)

	// ti.queued с requeue: ошибка здесь инфраструктурная (БД, сеть),
	// попытку заберёт другой worker. Провал самой задачи возвращается
	// через ti.completed, а не через nack.
	w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue: string(mq.QueueTIsQueued),
		Routes: map[mq.MessageType]mq.Route{
			mq.MessageTypeTIQueued: {
				Decode:  mq.DecodeAs[mq.TIQueuedPayload](),
				Handle:  w.handleTIQueued,
				Requeue: true,
			},
		},
		Prefetch: defaultPrefetch,
	})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("ti consumer error", "error", err)
		}
	}()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	if w.consumer != nil {
		w.consumer.Stop()
	}

	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// pollLoop — цикл polling для fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем instances,
	// отданные пока worker был выключен)
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (w *Worker) poll(ctx context.Context) {
	tis, err := w.listQueued(ctx)
	if err != nil {
		w.logger.Error("failed to list queued instances", "error", err)
		return
	}

	if len(tis) == 0 {
		return
	}

	w.logger.Debug("poll found queued instances", "count", len(tis))

	for i := range tis {
		ti := &tis[i]

		err := w.processInstance(ctx, ti.DagID, ti.RunID, ti.TaskID, ti.MapIndex)
		if err != nil && !errors.Is(err, ErrInstanceNotQueued) {
			w.logger.Error("failed to process instance from poll",
				"dag_id", ti.DagID,
				"run_id", ti.RunID,
				"task_id", ti.TaskID,
				"map_index", ti.MapIndex,
				"error", err,
			)
		}
	}
}

// listQueued возвращает QUEUED instances для polling fallback.
func (w *Worker) listQueued(ctx context.Context) ([]domain.TaskInstance, error) {
	return w.tiRepo.ListByState(ctx, domain.TIStateQueued, w.batchSize)
}
