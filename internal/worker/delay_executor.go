package worker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/shaiso/Konveyer/internal/domain"
)

// DelayExecutor — executor для задачи типа "delay".
//
// Ожидает указанное количество секунд. Поддерживает отмену через context.
//
// Config:
//   - duration_sec (number): длительность задержки в секундах (default: 1)
type DelayExecutor struct{}

// Execute выполняет задержку.
func (e *DelayExecutor) Execute(ctx context.Context, ti *domain.TaskInstance, logw io.Writer) (*ExecutionResult, error) {
	durationSec := 1.0
	if val, ok := ti.RenderedConfig["duration_sec"]; ok {
		switch v := val.(type) {
		case float64:
			durationSec = v
		case int:
			durationSec = float64(v)
		}
	}

	if durationSec <= 0 {
		durationSec = 1
	}

	duration := time.Duration(durationSec * float64(time.Second))
	fmt.Fprintf(logw, "delaying for %s\n", duration)

	select {
	case <-time.After(duration):
		return &ExecutionResult{
			Outputs: map[string]any{"delayed_sec": durationSec},
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
