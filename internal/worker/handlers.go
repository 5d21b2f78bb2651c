package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shaiso/Konveyer/internal/domain"
	"github.com/shaiso/Konveyer/internal/engine"
	"github.com/shaiso/Konveyer/internal/logstore"
	"github.com/shaiso/Konveyer/internal/mq"
	"github.com/shaiso/Konveyer/internal/repo"
	"github.com/shaiso/Konveyer/internal/telemetry"
)

// defaultExecutionTimeout — таймаут попытки, если timeout_sec не задан.
const defaultExecutionTimeout = 5 * time.Minute

// handleTIQueued обрабатывает событие из очереди tis.queued.
func (w *Worker) handleTIQueued(ctx context.Context, delivery *mq.Delivery) error {
	payload := delivery.Payload.(mq.TIQueuedPayload)

	w.logger.Debug("received ti.queued event",
		"dag_id", payload.DagID,
		"run_id", payload.RunID,
		"task_id", payload.TaskID,
		"map_index", payload.MapIndex,
	)

	err := w.processInstance(ctx, payload.DagID, payload.RunID, payload.TaskID, payload.MapIndex)
	if err != nil {
		// Ожидаемые ситуации — ack (instance подобрал другой worker)
		if errors.Is(err, ErrInstanceNotFound) || errors.Is(err, ErrInstanceNotQueued) {
			w.logger.Debug("instance not processed",
				"task_id", payload.TaskID,
				"map_index", payload.MapIndex,
				"reason", err,
			)
			return nil
		}
		w.logger.Error("failed to process instance",
			"dag_id", payload.DagID,
			"run_id", payload.RunID,
			"task_id", payload.TaskID,
			"map_index", payload.MapIndex,
			"error", err,
		)
		return err
	}

	return nil
}

// processInstance выполняет одну попытку task instance.
func (w *Worker) processInstance(ctx context.Context, dagID, runID, taskID string, mapIndex int) error {
	// 1. Загружаем instance из БД
	ti, err := w.tiRepo.Get(ctx, dagID, runID, taskID, mapIndex)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s[%d]", ErrInstanceNotFound, taskID, mapIndex)
		}
		return fmt.Errorf("get task instance: %w", err)
	}

	// 2. Проверяем статус. QUEUED -> RUNNING атомарно: из двух
	// workers, получивших одно сообщение, попытку выполнит один.
	if ti.State != domain.TIStateQueued {
		return ErrInstanceNotQueued
	}

	ti.MarkRunning(w.hostname)
	err = w.tiRepo.UpdateState(ctx, dagID, runID, taskID, mapIndex,
		domain.TIStateQueued, domain.TIStateRunning)
	if err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			return ErrInstanceNotQueued
		}
		return fmt.Errorf("mark running: %w", err)
	}
	// Фиксируем try_number, hostname, started_at
	if err := w.tiRepo.Update(ctx, ti); err != nil {
		return fmt.Errorf("update running instance: %w", err)
	}
	telemetry.TITransitions.WithLabelValues(string(domain.TIStateRunning)).Inc()

	w.logger.Info("task instance started",
		"dag_id", dagID,
		"run_id", runID,
		"task_id", taskID,
		"map_index", mapIndex,
		"try_number", ti.TryNumber,
	)

	// 3. Загружаем определение задачи (тип, таймаут, retry policy)
	taskDef, spec, err := w.getTaskDef(ctx, ti)
	if err != nil {
		return w.finishFailed(ctx, ti, nil, fmt.Sprintf("load task definition: %v", err), false)
	}

	// 4. Выполняем попытку с логом
	started := time.Now()
	result, execErr := w.executeAttempt(ctx, ti, taskDef, spec.TimeoutSecFor(taskID))
	elapsed := time.Since(started)

	state := domain.TIStateSuccess
	if execErr != nil || (result != nil && result.Error != "") {
		state = domain.TIStateFailed
	}
	telemetry.TIDuration.WithLabelValues(taskDef.Type, string(state)).Observe(elapsed.Seconds())

	// 5. Обрабатываем результат
	if state == domain.TIStateSuccess {
		var outputs map[string]any
		if result != nil {
			outputs = result.Outputs
		}

		// outputs-маппинг задачи сужает сырые результаты исполнителя
		// до полей, объявленных для downstream задач
		if len(taskDef.Outputs) > 0 {
			outputs, err = engine.RenderOutputMapping(taskDef.Outputs, outputs)
			if err != nil {
				return w.finishFailed(ctx, ti, result, fmt.Sprintf("render outputs: %v", err), false)
			}
		}

		ti.MarkSuccess(outputs)
		if err := w.tiRepo.Update(ctx, ti); err != nil {
			return fmt.Errorf("update instance to success: %w", err)
		}
		telemetry.TITransitions.WithLabelValues(string(domain.TIStateSuccess)).Inc()

		w.logger.Info("task instance succeeded",
			"dag_id", dagID,
			"run_id", runID,
			"task_id", taskID,
			"map_index", mapIndex,
			"try_number", ti.TryNumber,
			"duration", elapsed,
		)

		return w.publishCompletion(ctx, ti, "", false)
	}

	errMsg := ""
	if execErr != nil {
		errMsg = execErr.Error()
	} else {
		errMsg = result.Error
	}

	retryable := isRetryable(result, execErr, spec.RetryPolicyFor(taskID))

	return w.finishFailed(ctx, ti, result, errMsg, retryable)
}

// finishFailed помечает попытку как FAILED и публикует результат.
// Retryable-провалы оркестратор переведёт в UP_FOR_RETRY.
func (w *Worker) finishFailed(ctx context.Context, ti *domain.TaskInstance, result *ExecutionResult, errMsg string, retryable bool) error {
	ti.MarkFailed(errMsg)
	if result != nil && result.Outputs != nil {
		// Outputs провала сохраняются: status_code нужен для диагностики
		ti.Outputs = result.Outputs
	}
	if err := w.tiRepo.Update(ctx, ti); err != nil {
		return fmt.Errorf("update instance to failed: %w", err)
	}
	telemetry.TITransitions.WithLabelValues(string(domain.TIStateFailed)).Inc()

	w.logger.Warn("task instance failed",
		"dag_id", ti.DagID,
		"run_id", ti.RunID,
		"task_id", ti.TaskID,
		"map_index", ti.MapIndex,
		"try_number", ti.TryNumber,
		"retryable", retryable,
		"error", errMsg,
	)

	return w.publishCompletion(ctx, ti, errMsg, retryable)
}

// executeAttempt выполняет одну попытку и пишет лог в logstore.
func (w *Worker) executeAttempt(ctx context.Context, ti *domain.TaskInstance, taskDef *domain.TaskDef, timeoutSec int) (*ExecutionResult, error) {
	executor, err := w.registry.Get(taskDef.Type)
	if err != nil {
		return nil, err
	}

	logw := w.openAttemptLog(ti)
	defer logw.Close()

	fmt.Fprintf(logw, "--- try %d on %s ---\n", ti.TryNumber, w.hostname)

	timeout := defaultExecutionTimeout
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, execErr := executor.Execute(ctx, ti, logw)

	switch {
	case execErr != nil:
		fmt.Fprintf(logw, "attempt failed: %v\n", execErr)
	case result != nil && result.Error != "":
		fmt.Fprintf(logw, "attempt failed: %s\n", result.Error)
	default:
		fmt.Fprintln(logw, "attempt succeeded")
	}

	if errors.Is(execErr, context.DeadlineExceeded) {
		execErr = fmt.Errorf("%w after %s", ErrExecutionTimeout, timeout)
	}

	return result, execErr
}

// openAttemptLog открывает лог текущей попытки.
// При недоступности logstore выполнение продолжается без лога.
func (w *Worker) openAttemptLog(ti *domain.TaskInstance) io.WriteCloser {
	if w.logs == nil {
		return nopWriteCloser{}
	}

	logw, err := w.logs.Open(logstore.Ref{
		DagID:     ti.DagID,
		RunID:     ti.RunID,
		TaskID:    ti.TaskID,
		MapIndex:  ti.MapIndex,
		TryNumber: ti.TryNumber,
	})
	if err != nil {
		w.logger.Warn("failed to open attempt log",
			"task_id", ti.TaskID,
			"map_index", ti.MapIndex,
			"try_number", ti.TryNumber,
			"error", err,
		)
		return nopWriteCloser{}
	}
	return logw
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

// publishCompletion публикует событие ti.completed.
func (w *Worker) publishCompletion(ctx context.Context, ti *domain.TaskInstance, errMsg string, retryable bool) error {
	if w.publisher == nil {
		w.logger.Warn("publisher not available, skipping ti.completed publish",
			"task_id", ti.TaskID,
		)
		return nil
	}

	payload := mq.TICompletedPayload{
		DagID:     ti.DagID,
		RunID:     ti.RunID,
		TaskID:    ti.TaskID,
		MapIndex:  ti.MapIndex,
		TryNumber: ti.TryNumber,
		State:     ti.State,
		Error:     errMsg,
		Retryable: retryable,
	}

	if err := w.publisher.PublishTICompleted(ctx, payload); err != nil {
		// Не возвращаем ошибку — instance обновлён в БД,
		// оркестратор увидит его при восстановлении состояния
		w.logger.Warn("failed to publish ti.completed",
			"task_id", ti.TaskID,
			"map_index", ti.MapIndex,
			"error", err,
		)
	}

	return nil
}

// isRetryable определяет, допускает ли провал повторную попытку.
func isRetryable(result *ExecutionResult, execErr error, policy *domain.RetryPolicy) bool {
	// Инфраструктурная ошибка (сеть, таймаут) — всегда retryable
	if execErr != nil {
		return true
	}

	if policy == nil {
		return false
	}

	// Для HTTP с on_status: retry только для перечисленных кодов
	if result != nil && result.Outputs != nil && len(policy.OnStatus) > 0 {
		if code, ok := statusCodeOf(result.Outputs); ok {
			for _, c := range policy.OnStatus {
				if code == c {
					return true
				}
			}
		}
		return false
	}

	// Логическая ошибка без on_status — retryable
	return true
}

// statusCodeOf извлекает status_code из outputs.
// JSON round trip превращает числа в float64.
func statusCodeOf(outputs map[string]any) (int, bool) {
	switch v := outputs["status_code"].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// getTaskDef загружает определение задачи из версии dag.
func (w *Worker) getTaskDef(ctx context.Context, ti *domain.TaskInstance) (*domain.TaskDef, *domain.DagSpec, error) {
	run, err := w.runRepo.Get(ctx, ti.DagID, ti.RunID)
	if err != nil {
		return nil, nil, fmt.Errorf("get run: %w", err)
	}

	version, err := w.dagRepo.GetVersion(ctx, ti.DagID, run.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("get dag version: %w", err)
	}

	taskDef := version.Spec.FindTask(ti.TaskID)
	if taskDef == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrTaskDefNotFound, ti.TaskID)
	}

	return taskDef, &version.Spec, nil
}
