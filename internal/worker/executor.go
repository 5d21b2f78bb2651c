package worker

import (
	"context"
	"fmt"
	"io"

	"github.com/shaiso/Konveyer/internal/domain"
)

// Executor — интерфейс для выполнения конкретного типа задачи.
//
// Реализации: HTTPExecutor, DelayExecutor, TransformExecutor.
//
// ti.RenderedConfig содержит снапшот конфигурации после подстановки
// шаблонов. logw — лог текущей попытки; executors пишут туда ход
// выполнения. ctx несёт таймаут из TaskDef.TimeoutSec.
type Executor interface {
	Execute(ctx context.Context, ti *domain.TaskInstance, logw io.Writer) (*ExecutionResult, error)
}

// ExecutionResult — результат выполнения попытки.
type ExecutionResult struct {
	// Outputs — выходные данные выполнения.
	Outputs map[string]any

	// Error — сообщение об ошибке (логическая ошибка выполнения).
	// Инфраструктурные ошибки возвращаются через error в Execute().
	Error string
}

// Registry — реестр executor'ов по типу задачи.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry создаёт реестр с зарегистрированными executor'ами
// по умолчанию: http, delay, transform.
func NewRegistry() *Registry {
	r := &Registry{executors: make(map[string]Executor)}
	r.Register("http", &HTTPExecutor{})
	r.Register("delay", &DelayExecutor{})
	r.Register("transform", &TransformExecutor{})
	return r
}

// Register добавляет executor для типа задачи.
func (r *Registry) Register(taskType string, executor Executor) {
	r.executors[taskType] = executor
}

// Get возвращает executor для типа задачи.
func (r *Registry) Get(taskType string) (Executor, error) {
	executor, ok := r.executors[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskType, taskType)
	}
	return executor, nil
}
