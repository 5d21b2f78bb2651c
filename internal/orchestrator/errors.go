package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunNotFound — dag run не найден в БД.
	ErrRunNotFound = errors.New("dag run not found")

	// ErrDagNotFound — dag не найден.
	ErrDagNotFound = errors.New("dag not found")

	// ErrVersionNotFound — версия dag не найдена.
	ErrVersionNotFound = errors.New("dag version not found")

	// ErrInvalidDagSpec — DagSpec не прошёл валидацию.
	ErrInvalidDagSpec = errors.New("invalid dag spec")

	// ErrRunAlreadyActive — run уже обрабатывается.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrRunNotQueued — run не в статусе QUEUED.
	ErrRunNotQueued = errors.New("run is not in QUEUED state")

	// ErrTaskNotFound — задача не найдена в графе.
	ErrTaskNotFound = errors.New("task not found in graph")

	// ErrInstanceNotFound — task instance не найден.
	ErrInstanceNotFound = errors.New("task instance not found")
)
