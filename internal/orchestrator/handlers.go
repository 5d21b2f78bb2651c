package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/Konveyer/internal/domain"
	"github.com/shaiso/Konveyer/internal/engine"
	"github.com/shaiso/Konveyer/internal/mq"
	"github.com/shaiso/Konveyer/internal/repo"
	"github.com/shaiso/Konveyer/internal/telemetry"
)

// handleRunQueued обрабатывает событие о новом queued run.
func (o *Orchestrator) handleRunQueued(ctx context.Context, delivery *mq.Delivery) error {
	payload := delivery.Payload.(mq.RunQueuedPayload)

	o.logger.Debug("received run.queued event",
		"dag_id", payload.DagID,
		"run_id", payload.RunID,
	)

	if o.isRunActive(payload.DagID, payload.RunID) {
		o.logger.Debug("run already active, skipping",
			"dag_id", payload.DagID,
			"run_id", payload.RunID,
		)
		return nil
	}

	if err := o.processRun(ctx, payload.DagID, payload.RunID); err != nil {
		if errors.Is(err, ErrRunNotQueued) || errors.Is(err, ErrRunAlreadyActive) {
			o.logger.Debug("run not processed",
				"dag_id", payload.DagID,
				"run_id", payload.RunID,
				"reason", err,
			)
			return nil
		}
		o.logger.Error("failed to process run",
			"dag_id", payload.DagID,
			"run_id", payload.RunID,
			"error", err,
		)
		return err
	}

	return nil
}

// handleTICompleted обрабатывает событие о завершённом task instance.
func (o *Orchestrator) handleTICompleted(ctx context.Context, delivery *mq.Delivery) error {
	payload := delivery.Payload.(mq.TICompletedPayload)

	o.logger.Debug("received ti.completed event",
		"dag_id", payload.DagID,
		"run_id", payload.RunID,
		"task_id", payload.TaskID,
		"map_index", payload.MapIndex,
		"state", payload.State,
	)

	if err := o.processTICompleted(ctx, payload); err != nil {
		o.logger.Error("failed to process ti completion",
			"dag_id", payload.DagID,
			"run_id", payload.RunID,
			"task_id", payload.TaskID,
			"error", err,
		)
		return err
	}

	return nil
}

// processRun обрабатывает новый run.
func (o *Orchestrator) processRun(ctx context.Context, dagID, runID string) error {
	// 1. Загружаем run из БД
	run, err := o.runRepo.Get(ctx, dagID, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrRunNotFound, dagID, runID)
		}
		return fmt.Errorf("get run: %w", err)
	}

	// 2. Проверяем статус
	if run.State != domain.DagRunStateQueued {
		return ErrRunNotQueued
	}

	// 3. Загружаем версию dag
	version, err := o.dagRepo.GetVersion(ctx, run.DagID, run.Version)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return o.failRun(ctx, run, fmt.Sprintf("dag version not found: %s v%d", run.DagID, run.Version))
		}
		return fmt.Errorf("get dag version: %w", err)
	}

	// 4. Создаём и инициализируем RunState
	state := NewRunState(run, version)
	if err := state.Initialize(); err != nil {
		return o.failRun(ctx, run, fmt.Sprintf("initialization failed: %v", err))
	}

	// 5. Создаём placeholder instances (NONE) для всех задач.
	// Mapped-задачи тоже получают placeholder с map_index -1 —
	// он будет переписан при развёртывании.
	if err := o.createPlaceholders(ctx, state); err != nil {
		return fmt.Errorf("create placeholders: %w", err)
	}

	// 6. Добавляем в активные runs
	if err := o.addActiveRun(state); err != nil {
		return err
	}

	// 7. Переводим run в RUNNING
	run.MarkRunning()
	if err := o.runRepo.Update(ctx, run); err != nil {
		o.removeActiveRun(dagID, runID)
		return fmt.Errorf("update run to running: %w", err)
	}

	o.logger.Info("run started",
		"dag_id", dagID,
		"run_id", runID,
		"version", run.Version,
		"tasks", state.Graph.Size(),
	)

	// 8. Планируем задачи без зависимостей
	o.advance(ctx, state)

	return nil
}

// createPlaceholders создаёт NONE instances для всех задач run одной
// транзакцией. Повторный вызов (после рестарта) безопасен: дубликаты
// игнорируются.
func (o *Orchestrator) createPlaceholders(ctx context.Context, state *RunState) error {
	spec := &state.Version.Spec
	now := time.Now()

	tis := make([]*domain.TaskInstance, 0, len(state.Graph.Order))
	for _, node := range state.Graph.Order {
		tis = append(tis, &domain.TaskInstance{
			DagID:          state.DagID(),
			RunID:          state.RunID(),
			TaskID:         node.ID,
			MapIndex:       domain.MapIndexNone,
			MaxTries:       spec.MaxTriesFor(node.ID),
			State:          domain.TIStateNone,
			Pool:           spec.PoolFor(node.ID),
			PriorityWeight: node.Task.PriorityWeight,
			CreatedAt:      now,
		})
	}

	return o.tiRepo.CreateBatch(ctx, tis)
}

// processTICompleted обрабатывает завершение task instance.
func (o *Orchestrator) processTICompleted(ctx context.Context, payload mq.TICompletedPayload) error {
	// 1. Получаем активный RunState (или восстанавливаем после рестарта)
	state := o.getActiveRun(payload.DagID, payload.RunID)
	if state == nil {
		var err error
		state, err = o.restoreRunState(ctx, payload.DagID, payload.RunID)
		if err != nil {
			return fmt.Errorf("restore run state: %w", err)
		}
		if state == nil {
			// Run уже завершён или не существует
			o.logger.Debug("run not active and cannot restore",
				"dag_id", payload.DagID,
				"run_id", payload.RunID,
			)
			return nil
		}
	}

	// 2. Загружаем instance из БД (актуальные outputs и try_number)
	ti, err := o.tiRepo.Get(ctx, payload.DagID, payload.RunID, payload.TaskID, payload.MapIndex)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s[%d]", ErrInstanceNotFound, payload.TaskID, payload.MapIndex)
		}
		return fmt.Errorf("get task instance: %w", err)
	}

	// 3. Обновляем состояние
	switch payload.State {
	case domain.TIStateSuccess:
		state.RecordResult(ti.TaskID, ti.MapIndex, domain.TIStateSuccess, ti.Outputs)
		o.logger.Debug("task instance succeeded",
			"dag_id", payload.DagID,
			"run_id", payload.RunID,
			"task_id", ti.TaskID,
			"map_index", ti.MapIndex,
		)

	case domain.TIStateFailed:
		if payload.Retryable && ti.CanRetry() {
			return o.scheduleRetry(ctx, state, ti)
		}
		state.RecordResult(ti.TaskID, ti.MapIndex, domain.TIStateFailed, nil)
		o.logger.Warn("task instance failed",
			"dag_id", payload.DagID,
			"run_id", payload.RunID,
			"task_id", ti.TaskID,
			"map_index", ti.MapIndex,
			"try_number", ti.TryNumber,
			"error", payload.Error,
		)

	default:
		return fmt.Errorf("unexpected completion state %s for %s[%d]",
			payload.State, ti.TaskID, ti.MapIndex)
	}

	// 4. Планируем следующие задачи и проверяем завершение
	o.advance(ctx, state)

	return nil
}

// scheduleRetry переводит упавший instance в UP_FOR_RETRY.
// Обратно в SCHEDULED его вернёт poll loop, когда наступит NextRetryAt.
func (o *Orchestrator) scheduleRetry(ctx context.Context, state *RunState, ti *domain.TaskInstance) error {
	policy := state.Version.Spec.RetryPolicyFor(ti.TaskID)
	delay := retryDelay(policy, ti.TryNumber)

	ti.MarkUpForRetry(ti.Error, time.Now().Add(delay))
	if err := o.tiRepo.Update(ctx, ti); err != nil {
		return fmt.Errorf("mark up for retry: %w", err)
	}
	telemetry.TITransitions.WithLabelValues(string(domain.TIStateUpForRetry)).Inc()

	state.SetInstanceState(ti.TaskID, ti.MapIndex, domain.TIStateUpForRetry)

	o.logger.Info("task instance scheduled for retry",
		"dag_id", ti.DagID,
		"run_id", ti.RunID,
		"task_id", ti.TaskID,
		"map_index", ti.MapIndex,
		"try_number", ti.TryNumber,
		"max_tries", ti.MaxTries,
		"delay", delay,
	)

	return nil
}

// retryDelay вычисляет задержку перед следующей попыткой.
func retryDelay(policy *domain.RetryPolicy, tryNumber int) time.Duration {
	const defaultDelay = 30 * time.Second

	if policy == nil || policy.InitialDelayMs <= 0 {
		return defaultDelay
	}

	delay := time.Duration(policy.InitialDelayMs) * time.Millisecond
	if policy.Backoff == "exponential" {
		for i := 1; i < tryNumber; i++ {
			delay *= 2
			if policy.MaxDelayMs > 0 && delay >= time.Duration(policy.MaxDelayMs)*time.Millisecond {
				return time.Duration(policy.MaxDelayMs) * time.Millisecond
			}
		}
	}
	if policy.MaxDelayMs > 0 && delay > time.Duration(policy.MaxDelayMs)*time.Millisecond {
		delay = time.Duration(policy.MaxDelayMs) * time.Millisecond
	}
	return delay
}

// advance продвигает run: применяет решения trigger rules, пока есть
// прогресс (skip может каскадно открывать downstream решения),
// затем проверяет завершение run.
func (o *Orchestrator) advance(ctx context.Context, state *RunState) {
	for {
		decisions := state.PendingDecisions()
		if len(decisions) == 0 {
			break
		}

		progressed := false
		for _, d := range decisions {
			if err := o.applyDecision(ctx, state, d); err != nil {
				o.logger.Error("failed to apply decision",
					"dag_id", state.DagID(),
					"run_id", state.RunID(),
					"task_id", d.Node.ID,
					"decision", d.Decision.String(),
					"error", err,
				)
				continue
			}
			progressed = true
		}

		if !progressed {
			break
		}
	}

	o.maybeComplete(ctx, state)
}

// applyDecision применяет решение trigger rule к задаче.
func (o *Orchestrator) applyDecision(ctx context.Context, state *RunState, d TaskDecision) error {
	switch d.Decision {
	case engine.DecisionReady:
		if d.Node.IsMapped() {
			return o.expandTask(ctx, state, d.Node)
		}
		return o.scheduleTask(ctx, state, d.Node)

	case engine.DecisionSkip:
		return o.resolveWithoutRun(ctx, state, d.Node, domain.TIStateSkipped)

	case engine.DecisionUpstreamFailed:
		return o.resolveWithoutRun(ctx, state, d.Node, domain.TIStateUpstreamFailed)

	default:
		return nil
	}
}

// scheduleTask рендерит конфигурацию задачи и переводит её placeholder
// в SCHEDULED. Снапшот rendered config фиксируется здесь и больше
// не перерендеривается (в том числе при retry).
func (o *Orchestrator) scheduleTask(ctx context.Context, state *RunState, node *engine.Node) error {
	rendered, err := engine.RenderConfig(node.Task.Config, state.Context)
	if err != nil {
		// Ошибка рендеринга — провал задачи без попыток выполнения
		o.logger.Warn("config rendering failed",
			"dag_id", state.DagID(),
			"run_id", state.RunID(),
			"task_id", node.ID,
			"error", err,
		)
		return o.failInstance(ctx, state, node.ID, domain.MapIndexNone, fmt.Sprintf("render config: %v", err))
	}

	ti, err := o.tiRepo.Get(ctx, state.DagID(), state.RunID(), node.ID, domain.MapIndexNone)
	if err != nil {
		return fmt.Errorf("get placeholder: %w", err)
	}

	ti.MarkScheduled(rendered)
	if err := o.tiRepo.Update(ctx, ti); err != nil {
		return fmt.Errorf("mark scheduled: %w", err)
	}
	telemetry.TITransitions.WithLabelValues(string(domain.TIStateScheduled)).Inc()

	state.SetInstanceState(node.ID, domain.MapIndexNone, domain.TIStateScheduled)
	state.MarkDecided(node.ID)

	o.logger.Debug("task scheduled",
		"dag_id", state.DagID(),
		"run_id", state.RunID(),
		"task_id", node.ID,
	)

	return nil
}

// expandTask разворачивает mapped-задачу в группу instances.
//
// expand_over рендерится в список из N элементов:
//   - N = 0  — placeholder переводится в SKIPPED
//   - N > 0  — placeholder переписывается в map_index 0, создаются
//     instances 1..N-1; каждый рендерится со своим .Item / .MapIndex
//
// Повторный вызов идемпотентен: уже запланированные индексы не
// трогаются, отсутствующие создаются. Stale instances с map_index >= N
// (рестарт с изменённой длиной списка) переводятся в REMOVED.
func (o *Orchestrator) expandTask(ctx context.Context, state *RunState, node *engine.Node) error {
	items, err := engine.RenderExpandList(node.Task.ExpandOver, state.Context)
	if err != nil {
		o.logger.Warn("expand_over rendering failed",
			"dag_id", state.DagID(),
			"run_id", state.RunID(),
			"task_id", node.ID,
			"error", err,
		)
		return o.failInstance(ctx, state, node.ID, domain.MapIndexNone, fmt.Sprintf("render expand_over: %v", err))
	}

	n := len(items)
	if n == 0 {
		o.logger.Info("empty expansion, skipping task",
			"dag_id", state.DagID(),
			"run_id", state.RunID(),
			"task_id", node.ID,
		)
		return o.resolveWithoutRun(ctx, state, node, domain.TIStateSkipped)
	}

	existing, err := o.tiRepo.ListByTask(ctx, state.DagID(), state.RunID(), node.ID)
	if err != nil {
		return fmt.Errorf("list existing instances: %w", err)
	}
	existingIdx := make(map[int]bool, len(existing))
	hasPlaceholder := false
	for i := range existing {
		if existing[i].MapIndex == domain.MapIndexNone {
			hasPlaceholder = true
		} else {
			existingIdx[existing[i].MapIndex] = true
		}
	}

	// Placeholder становится нулевым элементом группы
	if hasPlaceholder && !existingIdx[0] {
		if err := o.tiRepo.RewriteMapIndex(ctx, state.DagID(), state.RunID(), node.ID,
			domain.MapIndexNone, 0); err != nil {
			return fmt.Errorf("rewrite placeholder: %w", err)
		}
		existingIdx[0] = true
	}

	spec := &state.Version.Spec
	now := time.Now()

	for i := 0; i < n; i++ {
		var pending *domain.TaskInstance
		if existingIdx[i] {
			ti, err := o.tiRepo.Get(ctx, state.DagID(), state.RunID(), node.ID, i)
			if err != nil {
				return fmt.Errorf("get instance [%d]: %w", i, err)
			}
			// Дозаполнение после рестарта: instance, уже прошедший
			// планирование, не сбрасываем
			if ti.State != domain.TIStateNone {
				continue
			}
			pending = ti
		}

		rendered, err := engine.RenderConfig(node.Task.Config, state.Context.ForMapIndex(i, items[i]))
		if err != nil {
			return o.failInstance(ctx, state, node.ID, 0,
				fmt.Sprintf("render config [%d]: %v", i, err))
		}

		if pending != nil {
			pending.MarkScheduled(rendered)
			if err := o.tiRepo.Update(ctx, pending); err != nil {
				return fmt.Errorf("mark scheduled [%d]: %w", i, err)
			}
		} else {
			ti := &domain.TaskInstance{
				DagID:          state.DagID(),
				RunID:          state.RunID(),
				TaskID:         node.ID,
				MapIndex:       i,
				MaxTries:       spec.MaxTriesFor(node.ID),
				State:          domain.TIStateScheduled,
				Pool:           spec.PoolFor(node.ID),
				PriorityWeight: node.Task.PriorityWeight,
				RenderedConfig: rendered,
				CreatedAt:      now,
			}
			if err := o.tiRepo.Create(ctx, ti); err != nil && !errors.Is(err, repo.ErrAlreadyExists) {
				return fmt.Errorf("create instance [%d]: %w", i, err)
			}
		}
		telemetry.TITransitions.WithLabelValues(string(domain.TIStateScheduled)).Inc()
	}

	// Stale instances за пределами новой длины
	for idx := range existingIdx {
		if idx < n {
			continue
		}
		ti, err := o.tiRepo.Get(ctx, state.DagID(), state.RunID(), node.ID, idx)
		if err != nil {
			o.logger.Warn("failed to load stale instance",
				"task_id", node.ID,
				"map_index", idx,
				"error", err,
			)
			continue
		}
		if ti.State == domain.TIStateRemoved {
			continue
		}
		ti.MarkRemoved()
		if err := o.tiRepo.Update(ctx, ti); err != nil {
			o.logger.Warn("failed to mark stale instance removed",
				"task_id", node.ID,
				"map_index", idx,
				"error", err,
			)
		}
	}

	state.MarkExpanded(node.ID, n, domain.TIStateScheduled)

	o.logger.Info("task expanded",
		"dag_id", state.DagID(),
		"run_id", state.RunID(),
		"task_id", node.ID,
		"instances", n,
	)

	return nil
}

// resolveWithoutRun завершает задачу без выполнения
// (SKIPPED или UPSTREAM_FAILED).
func (o *Orchestrator) resolveWithoutRun(ctx context.Context, state *RunState, node *engine.Node, st domain.TIState) error {
	ti, err := o.tiRepo.Get(ctx, state.DagID(), state.RunID(), node.ID, domain.MapIndexNone)
	if err != nil {
		return fmt.Errorf("get placeholder: %w", err)
	}

	// Решения по NONE placeholder принимает только оркестратор,
	// гонок за это состояние нет
	if ti.State == domain.TIStateNone {
		switch st {
		case domain.TIStateUpstreamFailed:
			ti.MarkUpstreamFailed()
		default:
			ti.MarkSkipped()
		}
		if err := o.tiRepo.Update(ctx, ti); err != nil {
			return fmt.Errorf("resolve %s: %w", st, err)
		}
	}
	telemetry.TITransitions.WithLabelValues(string(st)).Inc()

	state.RecordResult(node.ID, domain.MapIndexNone, st, nil)
	state.MarkDecided(node.ID)

	o.logger.Debug("task resolved without run",
		"dag_id", state.DagID(),
		"run_id", state.RunID(),
		"task_id", node.ID,
		"state", st,
	)

	return nil
}

// failInstance переводит instance в FAILED (ошибка до выполнения:
// рендеринг конфигурации или expansion).
func (o *Orchestrator) failInstance(ctx context.Context, state *RunState, taskID string, mapIndex int, errMsg string) error {
	ti, err := o.tiRepo.Get(ctx, state.DagID(), state.RunID(), taskID, mapIndex)
	if err != nil {
		return fmt.Errorf("get instance: %w", err)
	}

	ti.MarkFailed(errMsg)
	if err := o.tiRepo.Update(ctx, ti); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	telemetry.TITransitions.WithLabelValues(string(domain.TIStateFailed)).Inc()

	state.RecordResult(taskID, mapIndex, domain.TIStateFailed, nil)
	state.MarkDecided(taskID)

	return nil
}

// maybeComplete финализирует run, если все задачи завершены.
// Упавшая задача не прерывает run немедленно: downstream задачи
// с правилами all_failed/all_done ещё могут выполниться.
func (o *Orchestrator) maybeComplete(ctx context.Context, state *RunState) {
	if !state.IsComplete() {
		return
	}

	run := state.Run

	if failed := state.FailedTasks(); len(failed) > 0 {
		run.MarkFailed(fmt.Sprintf("tasks failed: %v", failed))
		o.logger.Warn("run failed",
			"dag_id", run.DagID,
			"run_id", run.RunID,
			"failed_tasks", failed,
			"duration", run.Duration(),
		)
	} else {
		run.MarkSuccess()
		o.logger.Info("run succeeded",
			"dag_id", run.DagID,
			"run_id", run.RunID,
			"duration", run.Duration(),
		)
	}

	if err := o.runRepo.Update(ctx, run); err != nil {
		o.logger.Error("failed to finalize run",
			"dag_id", run.DagID,
			"run_id", run.RunID,
			"error", err,
		)
		return
	}
	telemetry.RunsFinished.WithLabelValues(string(run.State)).Inc()

	o.removeActiveRun(run.DagID, run.RunID)
}

// failRun переводит run в FAILED до начала выполнения задач.
func (o *Orchestrator) failRun(ctx context.Context, run *domain.DagRun, errMsg string) error {
	run.MarkFailed(errMsg)

	if err := o.runRepo.Update(ctx, run); err != nil {
		return fmt.Errorf("update run to failed: %w", err)
	}
	telemetry.RunsFinished.WithLabelValues(string(run.State)).Inc()

	o.logger.Warn("run failed early",
		"dag_id", run.DagID,
		"run_id", run.RunID,
		"error", errMsg,
	)

	return fmt.Errorf("run failed: %s", errMsg)
}

// restoreRunState восстанавливает RunState из БД.
// Используется когда ti.completed приходит для run, которого нет
// в памяти (после рестарта оркестратора).
func (o *Orchestrator) restoreRunState(ctx context.Context, dagID, runID string) (*RunState, error) {
	run, err := o.runRepo.Get(ctx, dagID, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}

	if run.IsFinished() {
		return nil, nil
	}

	version, err := o.dagRepo.GetVersion(ctx, run.DagID, run.Version)
	if err != nil {
		return nil, fmt.Errorf("get dag version: %w", err)
	}

	state := NewRunState(run, version)
	if err := state.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize state: %w", err)
	}

	tis, err := o.tiRepo.ListByRun(ctx, dagID, runID)
	if err != nil {
		return nil, fmt.Errorf("list task instances: %w", err)
	}
	state.RestoreFromInstances(tis)

	if err := o.addActiveRun(state); err != nil {
		if errors.Is(err, ErrRunAlreadyActive) {
			return o.getActiveRun(dagID, runID), nil
		}
		return nil, err
	}

	// Рестарт мог прервать развёртывание между вставками соседних
	// instances — без дозаполнения свёртка по частичной группе
	// выглядела бы как завершение всей группы
	o.repairExpansions(ctx, state)

	o.logger.Info("run state restored",
		"dag_id", dagID,
		"run_id", runID,
		"stats", state.Stats(),
	)

	return state, nil
}

// repairExpansions повторно разворачивает mapped-задачи
// восстановленного run. expand_over рендерится из восстановленного
// контекста в тот же список, недостающие индексы создаются.
func (o *Orchestrator) repairExpansions(ctx context.Context, state *RunState) {
	for _, node := range state.Graph.Order {
		if !node.IsMapped() || !state.IsExpanded(node.ID) {
			continue
		}

		if err := o.expandTask(ctx, state, node); err != nil {
			o.logger.Error("failed to repair expansion",
				"dag_id", state.DagID(),
				"run_id", state.RunID(),
				"task_id", node.ID,
				"error", err,
			)
		}
	}
}
