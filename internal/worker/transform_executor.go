package worker

import (
	"context"
	"io"

	"github.com/shaiso/Konveyer/internal/domain"
)

// TransformExecutor — executor для задачи типа "transform".
//
// Оркестратор уже отрендерил config через engine.RenderConfig()
// при переводе instance в SCHEDULED, поэтому RenderedConfig содержит
// готовые значения после подстановки шаблонов.
//
// Transform возвращает rendered config как outputs — это
// "pass-through с template expansion" для трансформации данных
// между задачами.
type TransformExecutor struct{}

// Execute возвращает rendered config как outputs.
func (e *TransformExecutor) Execute(_ context.Context, ti *domain.TaskInstance, _ io.Writer) (*ExecutionResult, error) {
	outputs := ti.RenderedConfig
	if outputs == nil {
		outputs = make(map[string]any)
	}

	return &ExecutionResult{
		Outputs: outputs,
	}, nil
}
