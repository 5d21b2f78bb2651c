package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Context — контекст для рендеринга шаблонов.
//
// Используется в Go templates для доступа к данным run:
//   - {{ .Conf.param_name }}
//   - {{ .Tasks.task_id.Outputs.field }}
//   - {{ .DagID }}, {{ .RunID }}, {{ .LogicalDate }}
//   - {{ .MapIndex }}, {{ .Item }} — внутри mapped instance
type Context struct {
	// DagID — идентификатор dag.
	DagID string `json:"dag_id"`

	// RunID — идентификатор run.
	RunID string `json:"run_id"`

	// LogicalDate — логическая дата run в формате RFC3339.
	LogicalDate string `json:"logical_date"`

	// DataIntervalStart — начало интервала данных в формате RFC3339.
	DataIntervalStart string `json:"data_interval_start"`

	// DataIntervalEnd — конец интервала данных в формате RFC3339.
	DataIntervalEnd string `json:"data_interval_end"`

	// Conf — входные параметры run.
	Conf map[string]any `json:"conf"`

	// Tasks — результаты завершённых task instances.
	Tasks map[string]*TaskContext `json:"tasks"`

	// MapIndex — индекс текущего mapped instance (-1 вне mapped-группы).
	MapIndex int `json:"map_index"`

	// Item — элемент expand-списка для текущего mapped instance.
	Item any `json:"item,omitempty"`
}

// TaskContext — результат выполнения задачи для использования в шаблонах.
type TaskContext struct {
	// Outputs — выходные данные задачи.
	// Для mapped-группы — объединённый список outputs по map_index.
	Outputs map[string]any `json:"outputs"`

	// State — терминальный статус задачи.
	State string `json:"state"`
}

// NewContext создаёт контекст run.
func NewContext(dagID, runID string, logicalDate, intervalStart, intervalEnd time.Time, conf map[string]any) *Context {
	if conf == nil {
		conf = make(map[string]any)
	}
	return &Context{
		DagID:             dagID,
		RunID:             runID,
		LogicalDate:       logicalDate.UTC().Format(time.RFC3339),
		DataIntervalStart: intervalStart.UTC().Format(time.RFC3339),
		DataIntervalEnd:   intervalEnd.UTC().Format(time.RFC3339),
		Conf:              conf,
		Tasks:             make(map[string]*TaskContext),
		MapIndex:          -1,
	}
}

// AddTaskResult добавляет результат завершённой задачи в контекст.
func (c *Context) AddTaskResult(taskID string, outputs map[string]any, state string) {
	if outputs == nil {
		outputs = make(map[string]any)
	}
	c.Tasks[taskID] = &TaskContext{
		Outputs: outputs,
		State:   state,
	}
}

// ForMapIndex возвращает копию контекста для одного mapped instance.
// Item — элемент expand-списка с этим индексом.
func (c *Context) ForMapIndex(index int, item any) *Context {
	clone := *c
	clone.MapIndex = index
	clone.Item = item
	return &clone
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — возвращает значение по умолчанию, если второй аргумент пустой
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	// fromJSON — парсит JSON строку
	"fromJSON": func(s string) any {
		var result any
		if err := json.Unmarshal([]byte(s), &result); err != nil {
			return nil
		}
		return result
	},

	// join — объединяет слайс строк
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},

	// split — разбивает строку на слайс
	"split": func(sep, s string) []string {
		return strings.Split(s, sep)
	},

	"contains":  strings.Contains,
	"hasPrefix": strings.HasPrefix,
	"hasSuffix": strings.HasSuffix,
	"lower":     strings.ToLower,
	"upper":     strings.ToUpper,
	"trim":      strings.TrimSpace,
	"replace":   strings.ReplaceAll,
}

// Render рендерит строковый шаблон с контекстом.
//
// Шаблон может содержать Go template выражения:
//
//	{{ .Conf.param }}
//	{{ .Tasks.fetch.Outputs.data }}
//	{{ .DagID }}/{{ .RunID }}
func Render(tmpl string, ctx *Context) (string, error) {
	return renderWith(tmpl, ctx)
}

// renderWith рендерит шаблон с произвольными данными.
// Используется также для LinkContext, расширяющего Context.
func renderWith(tmpl string, data any) (string, error) {
	// Строки без шаблонных выражений возвращаются как есть
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// RenderValue рендерит произвольное значение.
// Рекурсивно обрабатывает map и slice.
func RenderValue(value any, ctx *Context) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch v := value.(type) {
	case string:
		return Render(v, ctx)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	case map[string]string:
		result := make(map[string]string, len(v))
		for key, val := range v {
			rendered, err := Render(val, ctx)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	case []string:
		result := make([]string, len(v))
		for i, val := range v {
			rendered, err := Render(val, ctx)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	default:
		// Остальные типы (int, float, bool) возвращаются как есть
		return value, nil
	}
}

// RenderConfig рендерит конфигурацию задачи.
// Снапшот результата сохраняется в TaskInstance.RenderedConfig.
func RenderConfig(config map[string]any, ctx *Context) (map[string]any, error) {
	if config == nil {
		return make(map[string]any), nil
	}

	rendered, err := RenderValue(config, ctx)
	if err != nil {
		return nil, err
	}

	result, ok := rendered.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected map, got %T", ErrTemplateRender, rendered)
	}

	return result, nil
}

// RenderOutputMapping применяет outputs-маппинг задачи к сырым
// результатам исполнителя. Каждое значение маппинга — шаблон над
// raw outputs ({{ .status_code }}, {{ json .body }}). Пустой маппинг
// возвращает raw как есть.
func RenderOutputMapping(mapping map[string]string, raw map[string]any) (map[string]any, error) {
	if len(mapping) == 0 {
		return raw, nil
	}

	if raw == nil {
		raw = make(map[string]any)
	}

	result := make(map[string]any, len(mapping))
	for name, tmpl := range mapping {
		rendered, err := renderWith(tmpl, raw)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
		result[name] = rendered
	}
	return result, nil
}

// RenderExpandList вычисляет expand_over выражение в список элементов.
//
// Выражение должно вернуть JSON-массив либо непосредственно ссылаться на
// значение-список ({{ json .Conf.items }}, {{ json .Tasks.fetch.Outputs.rows }}).
// Пустая строка результата трактуется как пустой список.
func RenderExpandList(expr string, ctx *Context) ([]any, error) {
	rendered, err := Render(expr, ctx)
	if err != nil {
		return nil, err
	}

	rendered = strings.TrimSpace(rendered)
	if rendered == "" || rendered == "null" {
		return []any{}, nil
	}

	var items []any
	if err := json.Unmarshal([]byte(rendered), &items); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotAList, truncateForError(rendered))
	}
	return items, nil
}

// truncateForError обрезает значение для включения в текст ошибки.
func truncateForError(s string) string {
	const maxLen = 120
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
