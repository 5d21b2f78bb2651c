package domain

import "time"

// MapIndexNone — map_index для не-mapped instance.
const MapIndexNone = -1

// TaskInstance — одно выполнение одной задачи внутри dag run.
//
// Идентифицируется кортежем (dag_id, task_id, run_id, map_index).
// map_index = -1 обозначает обычный instance; map_index >= 0 — один элемент
// mapped-задачи, развёрнутой в N параллельных instances.
//
// TryNumber монотонно растёт: первая попытка выполняется с try_number = 1.
type TaskInstance struct {
	// DagID — ссылка на dag.
	DagID string `json:"dag_id"`

	// RunID — ссылка на родительский dag run.
	RunID string `json:"run_id"`

	// TaskID — идентификатор задачи из DagSpec.
	TaskID string `json:"task_id"`

	// MapIndex — индекс внутри mapped-группы, -1 для обычных instances.
	// Внутри группы из N значения плотные: 0..N-1.
	MapIndex int `json:"map_index"`

	// TryNumber — номер текущей/последней попытки. 0 — ещё не запускался.
	// Увеличивается при каждом переходе в RUNNING.
	TryNumber int `json:"try_number"`

	// MaxTries — максимум попыток (из retry policy, минимум 1).
	MaxTries int `json:"max_tries"`

	// State — текущий статус instance.
	State TIState `json:"state"`

	// Pool — имя пула, слот которого занимает instance.
	Pool string `json:"pool"`

	// PriorityWeight — приоритет при диспетчеризации.
	PriorityWeight int `json:"priority_weight"`

	// RenderedConfig — снапшот конфигурации задачи после рендеринга
	// шаблонов. Фиксируется при переходе в SCHEDULED.
	RenderedConfig map[string]any `json:"rendered_config,omitempty"`

	// Outputs — результаты выполнения. Заполняются воркером при SUCCESS.
	Outputs map[string]any `json:"outputs,omitempty"`

	// Hostname — имя хоста воркера, выполнившего последнюю попытку.
	Hostname string `json:"hostname,omitempty"`

	// NextRetryAt — время, после которого UP_FOR_RETRY instance можно
	// вернуть в SCHEDULED.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// StartedAt — время начала последней попытки.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения последней попытки.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки последней попытки.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания instance.
	CreatedAt time.Time `json:"created_at"`
}

// IsMapped возвращает true для instance внутри mapped-группы.
func (t *TaskInstance) IsMapped() bool {
	return t.MapIndex >= 0
}

// IsFinished возвращает true, если instance в терминальном статусе.
func (t *TaskInstance) IsFinished() bool {
	return t.State.IsTerminal()
}

// Duration возвращает продолжительность последней попытки.
func (t *TaskInstance) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}

// MarkScheduled переводит instance в SCHEDULED с зафиксированным
// снапшотом rendered config.
func (t *TaskInstance) MarkScheduled(rendered map[string]any) {
	t.State = TIStateScheduled
	t.RenderedConfig = rendered
	t.NextRetryAt = nil
}

// MarkQueued переводит instance в QUEUED (слот выделен dispatcher'ом).
func (t *TaskInstance) MarkQueued() {
	t.State = TIStateQueued
}

// MarkRunning переводит instance в RUNNING и увеличивает try_number.
func (t *TaskInstance) MarkRunning(hostname string) {
	now := time.Now()
	t.State = TIStateRunning
	t.TryNumber++
	t.Hostname = hostname
	t.StartedAt = &now
	t.FinishedAt = nil
	t.Error = ""
}

// MarkSuccess переводит instance в SUCCESS с результатами.
func (t *TaskInstance) MarkSuccess(outputs map[string]any) {
	now := time.Now()
	t.State = TIStateSuccess
	t.FinishedAt = &now
	t.Outputs = outputs
}

// MarkFailed переводит instance в FAILED с ошибкой.
func (t *TaskInstance) MarkFailed(err string) {
	now := time.Now()
	t.State = TIStateFailed
	t.FinishedAt = &now
	t.Error = err
}

// MarkUpForRetry переводит упавший instance в UP_FOR_RETRY.
// nextRetry — время, раньше которого повторная попытка не начнётся.
func (t *TaskInstance) MarkUpForRetry(err string, nextRetry time.Time) {
	now := time.Now()
	t.State = TIStateUpForRetry
	t.FinishedAt = &now
	t.Error = err
	t.NextRetryAt = &nextRetry
}

// MarkSkipped переводит instance в SKIPPED.
func (t *TaskInstance) MarkSkipped() {
	now := time.Now()
	t.State = TIStateSkipped
	t.FinishedAt = &now
}

// MarkUpstreamFailed переводит instance в UPSTREAM_FAILED.
func (t *TaskInstance) MarkUpstreamFailed() {
	now := time.Now()
	t.State = TIStateUpstreamFailed
	t.FinishedAt = &now
}

// MarkRemoved помечает instance как выбывший из mapped-группы
// (длина expand-списка уменьшилась при повторном развёртывании).
func (t *TaskInstance) MarkRemoved() {
	t.State = TIStateRemoved
}

// CanRetry проверяет, остались ли попытки.
func (t *TaskInstance) CanRetry() bool {
	return t.TryNumber < t.MaxTries
}
