package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shaiso/Konveyer/internal/domain"
	"github.com/shaiso/Konveyer/internal/mq"
	"github.com/shaiso/Konveyer/internal/repo"
	"github.com/shaiso/Konveyer/internal/telemetry"
)

// Scheduler создаёт scheduled dag runs по расписанию.
type Scheduler struct {
	dagRepo   *repo.DagRepo
	runRepo   *repo.DagRunRepo
	publisher *mq.Publisher
	logger    *slog.Logger
	clock     clock.Clock
	batchSize int
}

// Config — конфигурация Scheduler.
type Config struct {
	DagRepo   *repo.DagRepo
	RunRepo   *repo.DagRunRepo
	Publisher *mq.Publisher
	Logger    *slog.Logger
	Clock     clock.Clock // nil — системные часы
	BatchSize int         // количество dags за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Scheduler{
		dagRepo:   cfg.DagRepo,
		runRepo:   cfg.RunRepo,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		clock:     clk,
		batchSize: batchSize,
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due dags (is_active, не paused, next_due_at <= now)
// 2. Для каждого dag создаёт scheduled run с идемпотентным run_id
// 3. Продвигает next_due_at
// 4. Публикует run.queued в RabbitMQ
//
// Ошибки одного dag не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.clock.Now()
	telemetry.SchedulerTicks.Inc()

	dags, err := s.dagRepo.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due dags: %w", err)
	}

	if len(dags) == 0 {
		return nil
	}

	s.logger.Debug("found due dags", "count", len(dags))

	var processed, created int
	for i := range dags {
		dag := &dags[i]

		runCreated, err := s.processDag(ctx, dag, now)
		if err != nil {
			s.logger.Error("failed to process dag",
				"dag_id", dag.DagID,
				"error", err,
			)
			continue
		}

		processed++
		if runCreated {
			created++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(dags),
		"processed", processed,
		"runs_created", created,
	)

	return nil
}

// processDag обрабатывает один due dag.
// Возвращает true, если run был создан (не был дубликатом).
func (s *Scheduler) processDag(ctx context.Context, dag *domain.Dag, now time.Time) (bool, error) {
	// 1. Проверяем, что у dag есть хотя бы одна версия
	version, err := s.dagRepo.GetLatestVersion(ctx, dag.DagID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Warn("dag has no versions, skipping", "dag_id", dag.DagID)
			return false, nil
		}
		return false, fmt.Errorf("get latest dag version: %w", err)
	}

	// 2. Проверяем max_active_runs. Если лимит достигнут, dag
	// остаётся due и будет подхвачен следующим тиком.
	if dag.MaxActiveRuns > 0 {
		active, err := s.runRepo.CountActive(ctx, dag.DagID)
		if err != nil {
			return false, fmt.Errorf("count active runs: %w", err)
		}
		if active >= dag.MaxActiveRuns {
			s.logger.Debug("max_active_runs reached, deferring",
				"dag_id", dag.DagID,
				"active", active,
				"limit", dag.MaxActiveRuns,
			)
			return false, nil
		}
	}

	dueAt := *dag.NextDueAt

	// 3. Вычисляем интервал данных. Logical date — начало интервала.
	interval, err := DataInterval(dag, dueAt)
	if err != nil {
		return false, fmt.Errorf("compute data interval: %w", err)
	}

	// 4. Создаём run. run_id детерминирован от logical date —
	// повторная вставка невозможна (идемпотентность на уровне БД).
	run := &domain.DagRun{
		DagID:             dag.DagID,
		RunID:             domain.ScheduledRunID(interval.Start),
		Version:           version.Version,
		State:             domain.DagRunStateQueued,
		RunType:           domain.RunTypeScheduled,
		LogicalDate:       interval.Start,
		DataIntervalStart: interval.Start,
		DataIntervalEnd:   interval.End,
		CreatedAt:         now,
	}

	runCreated := true
	if err := s.runRepo.Create(ctx, run); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			s.logger.Debug("run already exists (idempotency)",
				"dag_id", dag.DagID,
				"run_id", run.RunID,
			)
			runCreated = false
		} else {
			return false, fmt.Errorf("create run: %w", err)
		}
	}

	if runCreated {
		telemetry.RunsCreated.WithLabelValues(string(domain.RunTypeScheduled)).Inc()
		s.logger.Info("created scheduled run",
			"dag_id", dag.DagID,
			"run_id", run.RunID,
			"version", version.Version,
			"logical_date", run.LogicalDate,
		)
	}

	// 5. Продвигаем next_due_at
	nextDue, err := NextDue(dag, dueAt)
	if err != nil {
		s.logger.Error("failed to calculate next due, leaving next_due_at",
			"dag_id", dag.DagID,
			"error", err,
		)
		return runCreated, nil
	}
	dag.NextDueAt = &nextDue
	if err := s.dagRepo.Update(ctx, dag); err != nil {
		return runCreated, fmt.Errorf("update dag: %w", err)
	}

	// 6. Публикуем событие (не фатально: orchestrator подберёт
	// run через polling, если сообщение потерялось)
	if s.publisher != nil && runCreated {
		if err := s.publisher.PublishRunQueued(ctx, run.DagID, run.RunID); err != nil {
			s.logger.Warn("failed to publish run.queued",
				"dag_id", run.DagID,
				"run_id", run.RunID,
				"error", err,
			)
		}
	}

	return runCreated, nil
}
