package engine

import "errors"

// Ошибки валидации DagSpec.
var (
	// ErrEmptyTasks — dag не содержит задач.
	ErrEmptyTasks = errors.New("dag spec has no tasks")

	// ErrEmptyTaskID — задача не имеет task_id.
	ErrEmptyTaskID = errors.New("task has empty task_id")

	// ErrDuplicateTaskID — несколько задач с одинаковым task_id.
	ErrDuplicateTaskID = errors.New("duplicate task_id")

	// ErrUnknownTaskType — неизвестный тип задачи.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrUnknownTriggerRule — неизвестное trigger rule.
	ErrUnknownTriggerRule = errors.New("unknown trigger rule")

	// ErrMissingDependency — задача зависит от несуществующей задачи.
	ErrMissingDependency = errors.New("task depends on unknown task")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrSelfDependency — задача зависит от самой себя.
	ErrSelfDependency = errors.New("task depends on itself")

	// ErrDuplicateLinkName — несколько extra links с одинаковым именем.
	ErrDuplicateLinkName = errors.New("duplicate extra link name")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")

	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrNotAList — expand_over вычислился не в список.
	ErrNotAList = errors.New("expand_over did not produce a list")

	// ErrLinkNotFound — extra link с таким именем не определён.
	ErrLinkNotFound = errors.New("extra link not defined")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	TaskID  string // task_id задачи, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.TaskID != "" {
		return "task " + e.TaskID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(taskID, field, message string, err error) *ValidationError {
	return &ValidationError{
		TaskID:  taskID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
