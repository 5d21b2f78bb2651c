package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/shaiso/Konveyer/internal/domain"
	"github.com/shaiso/Konveyer/internal/mq"
	"github.com/shaiso/Konveyer/internal/repo"
	"github.com/shaiso/Konveyer/internal/telemetry"
)

// DefaultParallelism — глобальный лимит одновременно занятых слотов.
const DefaultParallelism = 32

// Dispatcher — критическая секция планировщика: выбирает SCHEDULED
// экземпляры задач и отдаёт их worker'ам с учётом лимитов.
//
// Лимиты, проверяемые перед отправкой:
//   - глобальный parallelism
//   - свободные слоты пула задачи
//   - max_active_tasks dag
type Dispatcher struct {
	tiRepo    *repo.TaskInstanceRepo
	dagRepo   *repo.DagRepo
	poolRepo  *repo.PoolRepo
	publisher *mq.Publisher
	logger    *slog.Logger
	clock     clock.Clock

	parallelism int
	batchSize   int
}

// DispatcherConfig — конфигурация Dispatcher.
type DispatcherConfig struct {
	TIRepo    *repo.TaskInstanceRepo
	DagRepo   *repo.DagRepo
	PoolRepo  *repo.PoolRepo
	Publisher *mq.Publisher
	Logger    *slog.Logger
	Clock     clock.Clock

	Parallelism int // default: DefaultParallelism
	BatchSize   int // кандидатов за один проход (default: 200)
}

// NewDispatcher создаёт новый Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Dispatcher{
		tiRepo:      cfg.TIRepo,
		dagRepo:     cfg.DagRepo,
		poolRepo:    cfg.PoolRepo,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger,
		clock:       clk,
		parallelism: parallelism,
		batchSize:   batchSize,
	}
}

// slotState — снимок занятости на начало прохода. Обновляется
// локально по мере отправки, чтобы один проход не превысил лимиты.
type slotState struct {
	poolSlots    map[string]int // размер пулов
	poolOccupied map[string]int
	dagOccupied  map[string]int
	dagLimits    map[string]int // max_active_tasks по dag (0 — без лимита)
	total        int
}

// Dispatch выполняет один проход диспетчера.
// Возвращает количество отправленных экземпляров.
func (d *Dispatcher) Dispatch(ctx context.Context) (int, error) {
	candidates, err := d.tiRepo.ListScheduled(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list scheduled: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	slots, err := d.loadSlotState(ctx, candidates)
	if err != nil {
		return 0, err
	}

	var dispatched int
	for i := range candidates {
		ti := &candidates[i]

		if reason := d.admit(slots, ti); reason != "" {
			telemetry.DispatcherSkips.WithLabelValues(reason).Inc()
			continue
		}

		if err := d.send(ctx, ti); err != nil {
			d.logger.Error("failed to dispatch task instance",
				"dag_id", ti.DagID,
				"run_id", ti.RunID,
				"task_id", ti.TaskID,
				"map_index", ti.MapIndex,
				"error", err,
			)
			continue
		}

		slots.poolOccupied[ti.Pool]++
		slots.dagOccupied[ti.DagID]++
		slots.total++
		dispatched++
	}

	for pool, occupied := range slots.poolOccupied {
		telemetry.OccupiedSlots.WithLabelValues(pool).Set(float64(occupied))
	}

	if dispatched > 0 {
		d.logger.Info("dispatched task instances",
			"candidates", len(candidates),
			"dispatched", dispatched,
		)
	}

	return dispatched, nil
}

// admit проверяет лимиты для кандидата.
// Возвращает причину отказа или пустую строку.
func (d *Dispatcher) admit(slots *slotState, ti *domain.TaskInstance) string {
	if slots.total >= d.parallelism {
		return "parallelism"
	}

	poolSize, ok := slots.poolSlots[ti.Pool]
	if !ok {
		// Пул удалён после планирования задачи — не блокируем навсегда
		poolSize = domain.DefaultPoolSlots
		slots.poolSlots[ti.Pool] = poolSize
	}
	if slots.poolOccupied[ti.Pool] >= poolSize {
		return "pool"
	}

	if limit := slots.dagLimits[ti.DagID]; limit > 0 && slots.dagOccupied[ti.DagID] >= limit {
		return "max_active_tasks"
	}

	return ""
}

// send переводит экземпляр SCHEDULED -> QUEUED и публикует ti.queued.
func (d *Dispatcher) send(ctx context.Context, ti *domain.TaskInstance) error {
	err := d.tiRepo.UpdateState(ctx, ti.DagID, ti.RunID, ti.TaskID, ti.MapIndex,
		domain.TIStateScheduled, domain.TIStateQueued)
	if err != nil {
		return fmt.Errorf("mark queued: %w", err)
	}
	telemetry.TITransitions.WithLabelValues(string(domain.TIStateQueued)).Inc()

	payload := mq.TIQueuedPayload{
		DagID:    ti.DagID,
		RunID:    ti.RunID,
		TaskID:   ti.TaskID,
		MapIndex: ti.MapIndex,
	}
	if err := d.publisher.PublishTIQueued(ctx, payload); err != nil {
		// Сообщение потерялось, но состояние уже QUEUED.
		// Worker не получит задачу — оставляем на откуп ручному
		// restart; состояние видно в API.
		return fmt.Errorf("publish ti.queued: %w", err)
	}

	return nil
}

// loadSlotState собирает снимок занятости слотов.
func (d *Dispatcher) loadSlotState(ctx context.Context, candidates []domain.TaskInstance) (*slotState, error) {
	pools, err := d.poolRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}

	poolSlots := make(map[string]int, len(pools))
	for _, p := range pools {
		poolSlots[p.Name] = p.Slots
	}

	poolOccupied, err := d.tiRepo.OccupiedPoolSlots(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool occupancy: %w", err)
	}

	dagOccupied, err := d.tiRepo.OccupiedByDag(ctx)
	if err != nil {
		return nil, fmt.Errorf("dag occupancy: %w", err)
	}

	total, err := d.tiRepo.CountOccupied(ctx)
	if err != nil {
		return nil, fmt.Errorf("total occupancy: %w", err)
	}

	// Лимиты max_active_tasks загружаем только для dags кандидатов
	dagLimits := make(map[string]int)
	for i := range candidates {
		dagID := candidates[i].DagID
		if _, ok := dagLimits[dagID]; ok {
			continue
		}
		dag, err := d.dagRepo.GetByID(ctx, dagID)
		if err != nil {
			return nil, fmt.Errorf("get dag %s: %w", dagID, err)
		}
		dagLimits[dagID] = dag.MaxActiveTasks
	}

	return &slotState{
		poolSlots:    poolSlots,
		poolOccupied: poolOccupied,
		dagOccupied:  dagOccupied,
		dagLimits:    dagLimits,
		total:        total,
	}, nil
}

// Run запускает цикл диспетчеризации до отмены контекста.
// При насыщении (ничего не отправлено) интервал между проходами
// растёт экспоненциально и сбрасывается при первом прогрессе.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // без ограничения
	bo.Reset()

	wait := interval
	for {
		timer := d.clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		dispatched, err := d.Dispatch(ctx)
		if err != nil {
			d.logger.Error("dispatch pass failed", "error", err)
		}

		if dispatched > 0 || err != nil {
			bo.Reset()
			wait = interval
		} else {
			wait = bo.NextBackOff()
		}
	}
}
