package domain

import "time"

// Dag — определение рабочего процесса (directed acyclic graph задач).
//
// Dag — это "шаблон" выполнения: описание задач, их зависимостей и расписания.
// Один dag может иметь множество версий (DagVersion).
// Каждый запуск (DagRun) выполняет конкретную версию.
type Dag struct {
	// DagID — уникальный строковый идентификатор dag (например, "daily-report").
	DagID string `json:"dag_id"`

	// Description — описание назначения dag.
	Description string `json:"description,omitempty"`

	// IsPaused — флаг паузы. Для paused dags scheduler не создаёт runs.
	IsPaused bool `json:"is_paused"`

	// IsActive — флаг активности. Неактивные dags скрыты и не планируются.
	IsActive bool `json:"is_active"`

	// CronExpr — cron-выражение расписания.
	// Если задан CronExpr, IntervalSec игнорируется.
	CronExpr string `json:"cron_expr,omitempty"`

	// IntervalSec — интервал в секундах между запусками.
	// Используется если CronExpr не задан. 0 — dag запускается только вручную.
	IntervalSec int `json:"interval_sec,omitempty"`

	// Timezone — часовой пояс для вычисления расписания. По умолчанию UTC.
	Timezone string `json:"timezone,omitempty"`

	// MaxActiveRuns — максимум одновременно активных runs этого dag.
	MaxActiveRuns int `json:"max_active_runs,omitempty"`

	// MaxActiveTasks — максимум одновременно выполняющихся task instances
	// этого dag (суммарно по всем его runs).
	MaxActiveTasks int `json:"max_active_tasks,omitempty"`

	// NextDueAt — время следующего запуска по расписанию.
	// Scheduler создаёт run, когда now >= NextDueAt.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	// CreatedAt — время регистрации dag.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSchedule возвращает true, если dag запускается по расписанию.
func (d *Dag) HasSchedule() bool {
	return d.CronExpr != "" || d.IntervalSec > 0
}

// IsDue проверяет, пора ли создавать очередной scheduled run.
func (d *Dag) IsDue(now time.Time) bool {
	if d.IsPaused || !d.IsActive || d.NextDueAt == nil {
		return false
	}
	return !now.Before(*d.NextDueAt)
}

// DagVersion — версия dag с конкретной спецификацией.
type DagVersion struct {
	// DagID — ссылка на родительский dag.
	DagID string `json:"dag_id"`

	// Version — номер версии (1, 2, 3, ...). Автоинкремент при создании.
	Version int `json:"version"`

	// Spec — спецификация задач в формате JSON.
	Spec DagSpec `json:"spec"`

	// CreatedAt — время создания версии.
	CreatedAt time.Time `json:"created_at"`
}

// DagSpec — спецификация dag (содержимое JSONB поля spec).
type DagSpec struct {
	// Version — версия формата спецификации.
	Version string `json:"version,omitempty"`

	// Description — описание dag.
	Description string `json:"description,omitempty"`

	// Inputs — входные параметры dag (conf запуска).
	Inputs map[string]InputDef `json:"inputs,omitempty"`

	// Defaults — настройки по умолчанию для всех задач.
	Defaults *TaskDefaults `json:"defaults,omitempty"`

	// Tasks — список задач.
	Tasks []TaskDef `json:"tasks"`
}

// InputDef — определение входного параметра.
type InputDef struct {
	// Type — тип параметра: "string", "number", "boolean", "object", "array".
	Type string `json:"type"`

	// Required — обязательный ли параметр.
	Required bool `json:"required,omitempty"`

	// Default — значение по умолчанию.
	Default any `json:"default,omitempty"`

	// Description — описание параметра.
	Description string `json:"description,omitempty"`
}

// TaskDefaults — настройки по умолчанию для задач dag.
type TaskDefaults struct {
	// Retry — политика повторных попыток.
	Retry *RetryPolicy `json:"retry,omitempty"`

	// TimeoutSec — таймаут выполнения одной попытки в секундах.
	TimeoutSec int `json:"timeout_sec,omitempty"`

	// Pool — пул по умолчанию.
	Pool string `json:"pool,omitempty"`
}

// TaskDef — определение задачи в dag.
type TaskDef struct {
	// TaskID — уникальный идентификатор задачи в рамках dag.
	// Используется в depends_on и для ссылок на результаты.
	TaskID string `json:"task_id"`

	// Name — человекочитаемое имя задачи.
	Name string `json:"name,omitempty"`

	// Type — тип задачи: "http", "delay", "transform".
	Type string `json:"type"`

	// DependsOn — список task_id, от которых зависит эта задача.
	DependsOn []string `json:"depends_on,omitempty"`

	// TriggerRule — правило готовности относительно upstream states.
	// Пустое значение — all_success.
	TriggerRule TriggerRule `json:"trigger_rule,omitempty"`

	// Config — конфигурация задачи (зависит от типа).
	// Значения рендерятся как Go templates перед выполнением.
	Config map[string]any `json:"config,omitempty"`

	// ExpandOver — template-выражение, возвращающее список.
	// Если задано, задача mapped: на каждый элемент списка создаётся
	// отдельный instance со своим map_index.
	ExpandOver string `json:"expand_over,omitempty"`

	// Outputs — маппинг результатов задачи для downstream задач.
	Outputs map[string]string `json:"outputs,omitempty"`

	// Retry — политика retry для этой задачи. Переопределяет defaults.retry.
	Retry *RetryPolicy `json:"retry,omitempty"`

	// TimeoutSec — таймаут одной попытки. Переопределяет defaults.timeout_sec.
	TimeoutSec int `json:"timeout_sec,omitempty"`

	// Pool — имя пула, слоты которого занимает задача.
	// Пустое значение — default_pool.
	Pool string `json:"pool,omitempty"`

	// PriorityWeight — приоритет при диспетчеризации (больше — раньше).
	PriorityWeight int `json:"priority_weight,omitempty"`

	// ExtraLinks — именованные внешние ссылки, рендерятся лениво по запросу.
	ExtraLinks []ExtraLinkDef `json:"extra_links,omitempty"`
}

// IsMapped возвращает true, если задача разворачивается в несколько instances.
func (t *TaskDef) IsMapped() bool {
	return t.ExpandOver != ""
}

// EffectiveTriggerRule возвращает trigger rule с учётом default.
func (t *TaskDef) EffectiveTriggerRule() TriggerRule {
	if t.TriggerRule == "" {
		return DefaultTriggerRule
	}
	return t.TriggerRule
}

// ExtraLinkDef — определение внешней ссылки task.
type ExtraLinkDef struct {
	// Name — имя ссылки (например, "Monitoring", "External Logs").
	Name string `json:"name"`

	// URLTemplate — Go template для URL.
	// Доступны {{ .DagID }}, {{ .RunID }}, {{ .TaskID }}, {{ .MapIndex }},
	// {{ .TryNumber }} и outputs завершённых задач.
	URLTemplate string `json:"url_template"`
}

// RetryPolicy — политика повторных попыток.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Backoff — стратегия задержки: "fixed", "exponential".
	Backoff string `json:"backoff,omitempty"`

	// InitialDelayMs — начальная задержка в миллисекундах.
	InitialDelayMs int `json:"initial_delay_ms,omitempty"`

	// MaxDelayMs — максимальная задержка в миллисекундах.
	MaxDelayMs int `json:"max_delay_ms,omitempty"`

	// OnStatus — HTTP статусы, при которых делать retry (для http задач).
	OnStatus []int `json:"on_status,omitempty"`
}

// FindTask ищет TaskDef по task_id.
func (s *DagSpec) FindTask(taskID string) *TaskDef {
	for i := range s.Tasks {
		if s.Tasks[i].TaskID == taskID {
			return &s.Tasks[i]
		}
	}
	return nil
}

// RetryPolicyFor возвращает действующую политику retry для задачи.
func (s *DagSpec) RetryPolicyFor(taskID string) *RetryPolicy {
	if task := s.FindTask(taskID); task != nil && task.Retry != nil {
		return task.Retry
	}
	if s.Defaults != nil && s.Defaults.Retry != nil {
		return s.Defaults.Retry
	}
	return nil
}

// MaxTriesFor возвращает максимум попыток для задачи (минимум 1).
func (s *DagSpec) MaxTriesFor(taskID string) int {
	if p := s.RetryPolicyFor(taskID); p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 1
}

// TimeoutSecFor возвращает действующий таймаут попытки для задачи.
// 0 означает, что таймаут не задан ни у задачи, ни в defaults.
func (s *DagSpec) TimeoutSecFor(taskID string) int {
	if task := s.FindTask(taskID); task != nil && task.TimeoutSec > 0 {
		return task.TimeoutSec
	}
	if s.Defaults != nil && s.Defaults.TimeoutSec > 0 {
		return s.Defaults.TimeoutSec
	}
	return 0
}

// PoolFor возвращает действующий пул для задачи.
func (s *DagSpec) PoolFor(taskID string) string {
	if task := s.FindTask(taskID); task != nil && task.Pool != "" {
		return task.Pool
	}
	if s.Defaults != nil && s.Defaults.Pool != "" {
		return s.Defaults.Pool
	}
	return DefaultPoolName
}
