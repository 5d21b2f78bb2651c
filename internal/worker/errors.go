package worker

import "errors"

// Ошибки воркера.
var (
	// ErrInstanceNotFound — task instance не найден в БД.
	ErrInstanceNotFound = errors.New("task instance not found")

	// ErrInstanceNotQueued — instance не в статусе QUEUED.
	ErrInstanceNotQueued = errors.New("task instance is not in QUEUED state")

	// ErrUnknownTaskType — нет executor'а для данного типа задачи.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrExecutionTimeout — выполнение превысило таймаут.
	ErrExecutionTimeout = errors.New("execution timeout")

	// ErrTaskDefNotFound — определение задачи не найдено в версии dag.
	ErrTaskDefNotFound = errors.New("task definition not found")

	// ErrHTTPRequest — HTTP-запрос завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")
)
