package dagfile

import (
	"fmt"
	"os"
	"time"

	"github.com/shaiso/Konveyer/internal/domain"
	"github.com/shaiso/Konveyer/internal/engine"
	"gopkg.in/yaml.v3"
)

// File — YAML-описание dag, как его пишет пользователь.
// Формат отделён от domain-типов: доменные структуры сериализуются
// в JSONB и не обязаны совпадать с файловым форматом.
type File struct {
	DagID       string `yaml:"dag_id"`
	Description string `yaml:"description"`

	Schedule *Schedule `yaml:"schedule"`

	IsPaused       bool `yaml:"is_paused"`
	MaxActiveRuns  int  `yaml:"max_active_runs"`
	MaxActiveTasks int  `yaml:"max_active_tasks"`

	Inputs   map[string]Input `yaml:"inputs"`
	Defaults *Defaults        `yaml:"defaults"`
	Tasks    []Task           `yaml:"tasks"`
}

// Schedule — секция расписания.
type Schedule struct {
	Cron        string `yaml:"cron"`
	IntervalSec int    `yaml:"interval_sec"`
	Timezone    string `yaml:"timezone"`
}

// Input — входной параметр dag.
type Input struct {
	Type        string `yaml:"type"`
	Required    bool   `yaml:"required"`
	Default     any    `yaml:"default"`
	Description string `yaml:"description"`
}

// Defaults — значения по умолчанию для задач.
type Defaults struct {
	Retry      *Retry `yaml:"retry"`
	TimeoutSec int    `yaml:"timeout_sec"`
	Pool       string `yaml:"pool"`
}

// Task — описание задачи.
type Task struct {
	TaskID      string `yaml:"task_id"`
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`

	DependsOn   []string `yaml:"depends_on"`
	TriggerRule string   `yaml:"trigger_rule"`

	Config     map[string]any    `yaml:"config"`
	ExpandOver string            `yaml:"expand_over"`
	Outputs    map[string]string `yaml:"outputs"`

	Retry          *Retry `yaml:"retry"`
	TimeoutSec     int    `yaml:"timeout_sec"`
	Pool           string `yaml:"pool"`
	PriorityWeight int    `yaml:"priority_weight"`

	ExtraLinks []ExtraLink `yaml:"extra_links"`
}

// ExtraLink — внешняя ссылка задачи.
type ExtraLink struct {
	Name        string `yaml:"name"`
	URLTemplate string `yaml:"url_template"`
}

// Retry — политика повторных попыток.
type Retry struct {
	MaxAttempts    int    `yaml:"max_attempts"`
	Backoff        string `yaml:"backoff"`
	InitialDelayMs int    `yaml:"initial_delay_ms"`
	MaxDelayMs     int    `yaml:"max_delay_ms"`
	OnStatus       []int  `yaml:"on_status"`
}

// Load читает и парсит YAML-файл dag.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dag file: %w", err)
	}
	return Parse(data)
}

// Parse парсит YAML-описание dag.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse dag file: %w", err)
	}
	if f.DagID == "" {
		return nil, fmt.Errorf("dag file: dag_id is required")
	}
	return &f, nil
}

// ToDomain конвертирует файл в доменные Dag и DagSpec.
// Спецификация проходит полную валидацию engine.
func (f *File) ToDomain() (*domain.Dag, *domain.DagSpec, error) {
	spec := &domain.DagSpec{
		Description: f.Description,
		Tasks:       make([]domain.TaskDef, 0, len(f.Tasks)),
	}

	if len(f.Inputs) > 0 {
		spec.Inputs = make(map[string]domain.InputDef, len(f.Inputs))
		for name, in := range f.Inputs {
			spec.Inputs[name] = domain.InputDef{
				Type:        in.Type,
				Required:    in.Required,
				Default:     in.Default,
				Description: in.Description,
			}
		}
	}

	if f.Defaults != nil {
		spec.Defaults = &domain.TaskDefaults{
			Retry:      convertRetry(f.Defaults.Retry),
			TimeoutSec: f.Defaults.TimeoutSec,
			Pool:       f.Defaults.Pool,
		}
	}

	for _, t := range f.Tasks {
		task := domain.TaskDef{
			TaskID:         t.TaskID,
			Name:           t.Name,
			Type:           t.Type,
			DependsOn:      t.DependsOn,
			TriggerRule:    domain.TriggerRule(t.TriggerRule),
			Config:         t.Config,
			ExpandOver:     t.ExpandOver,
			Outputs:        t.Outputs,
			Retry:          convertRetry(t.Retry),
			TimeoutSec:     t.TimeoutSec,
			Pool:           t.Pool,
			PriorityWeight: t.PriorityWeight,
		}
		for _, l := range t.ExtraLinks {
			task.ExtraLinks = append(task.ExtraLinks, domain.ExtraLinkDef{
				Name:        l.Name,
				URLTemplate: l.URLTemplate,
			})
		}
		spec.Tasks = append(spec.Tasks, task)
	}

	if err := engine.Validate(spec); err != nil {
		return nil, nil, fmt.Errorf("validate dag %s: %w", f.DagID, err)
	}

	now := time.Now()
	dag := &domain.Dag{
		DagID:          f.DagID,
		Description:    f.Description,
		IsPaused:       f.IsPaused,
		IsActive:       true,
		Timezone:       "UTC",
		MaxActiveRuns:  f.MaxActiveRuns,
		MaxActiveTasks: f.MaxActiveTasks,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if f.Schedule != nil {
		dag.CronExpr = f.Schedule.Cron
		dag.IntervalSec = f.Schedule.IntervalSec
		if f.Schedule.Timezone != "" {
			dag.Timezone = f.Schedule.Timezone
		}
	}

	return dag, spec, nil
}

func convertRetry(r *Retry) *domain.RetryPolicy {
	if r == nil {
		return nil
	}
	return &domain.RetryPolicy{
		MaxAttempts:    r.MaxAttempts,
		Backoff:        r.Backoff,
		InitialDelayMs: r.InitialDelayMs,
		MaxDelayMs:     r.MaxDelayMs,
		OnStatus:       r.OnStatus,
	}
}
