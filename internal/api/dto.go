package api

import (
	"time"

	"github.com/shaiso/Konveyer/internal/domain"
)

// Dag DTOs

// CreateDagRequest — запрос на регистрацию dag со спецификацией первой версии.
type CreateDagRequest struct {
	DagID          string         `json:"dag_id"`
	Description    string         `json:"description,omitempty"`
	CronExpr       string         `json:"cron_expr,omitempty"`
	IntervalSec    int            `json:"interval_sec,omitempty"`
	Timezone       string         `json:"timezone,omitempty"`
	MaxActiveRuns  int            `json:"max_active_runs,omitempty"`
	MaxActiveTasks int            `json:"max_active_tasks,omitempty"`
	IsPaused       bool           `json:"is_paused,omitempty"`
	Spec           domain.DagSpec `json:"spec"`
}

// UpdateDagRequest — запрос на частичное обновление dag.
type UpdateDagRequest struct {
	Description    *string `json:"description,omitempty"`
	IsPaused       *bool   `json:"is_paused,omitempty"`
	CronExpr       *string `json:"cron_expr,omitempty"`
	IntervalSec    *int    `json:"interval_sec,omitempty"`
	Timezone       *string `json:"timezone,omitempty"`
	MaxActiveRuns  *int    `json:"max_active_runs,omitempty"`
	MaxActiveTasks *int    `json:"max_active_tasks,omitempty"`
}

// DagResponse — ответ с dag.
type DagResponse struct {
	DagID          string     `json:"dag_id"`
	Description    string     `json:"description,omitempty"`
	IsPaused       bool       `json:"is_paused"`
	IsActive       bool       `json:"is_active"`
	CronExpr       string     `json:"cron_expr,omitempty"`
	IntervalSec    int        `json:"interval_sec,omitempty"`
	Timezone       string     `json:"timezone,omitempty"`
	MaxActiveRuns  int        `json:"max_active_runs,omitempty"`
	MaxActiveTasks int        `json:"max_active_tasks,omitempty"`
	NextDueAt      *time.Time `json:"next_due_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// DagFromDomain конвертирует domain.Dag в DagResponse.
func DagFromDomain(d domain.Dag) DagResponse {
	return DagResponse{
		DagID:          d.DagID,
		Description:    d.Description,
		IsPaused:       d.IsPaused,
		IsActive:       d.IsActive,
		CronExpr:       d.CronExpr,
		IntervalSec:    d.IntervalSec,
		Timezone:       d.Timezone,
		MaxActiveRuns:  d.MaxActiveRuns,
		MaxActiveTasks: d.MaxActiveTasks,
		NextDueAt:      d.NextDueAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

// DagVersion DTOs

// CreateDagVersionRequest — запрос на создание версии dag.
type CreateDagVersionRequest struct {
	Spec domain.DagSpec `json:"spec"`
}

// DagVersionResponse — ответ с версией dag.
type DagVersionResponse struct {
	DagID     string         `json:"dag_id"`
	Version   int            `json:"version"`
	Spec      domain.DagSpec `json:"spec"`
	CreatedAt time.Time      `json:"created_at"`
}

// DagVersionFromDomain конвертирует domain.DagVersion в DagVersionResponse.
func DagVersionFromDomain(v domain.DagVersion) DagVersionResponse {
	return DagVersionResponse{
		DagID:     v.DagID,
		Version:   v.Version,
		Spec:      v.Spec,
		CreatedAt: v.CreatedAt,
	}
}

// DagRun DTOs

// TriggerRunRequest — запрос на ручной запуск dag.
type TriggerRunRequest struct {
	// RunID — пользовательский идентификатор запуска. Пустое значение —
	// генерируется "manual__{uuid}".
	RunID string `json:"run_id,omitempty"`

	// LogicalDate — логическая дата. Пустое значение — текущее время.
	LogicalDate *time.Time `json:"logical_date,omitempty"`

	// Conf — входные параметры, соответствующие spec.inputs.
	Conf map[string]any `json:"conf,omitempty"`
}

// DagRunResponse — ответ с dag run.
type DagRunResponse struct {
	DagID             string         `json:"dag_id"`
	RunID             string         `json:"run_id"`
	Version           int            `json:"version"`
	State             string         `json:"state"`
	RunType           string         `json:"run_type"`
	LogicalDate       time.Time      `json:"logical_date"`
	DataIntervalStart time.Time      `json:"data_interval_start"`
	DataIntervalEnd   time.Time      `json:"data_interval_end"`
	Conf              map[string]any `json:"conf,omitempty"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	FinishedAt        *time.Time     `json:"finished_at,omitempty"`
	Error             string         `json:"error,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// RunFromDomain конвертирует domain.DagRun в DagRunResponse.
func RunFromDomain(r domain.DagRun) DagRunResponse {
	return DagRunResponse{
		DagID:             r.DagID,
		RunID:             r.RunID,
		Version:           r.Version,
		State:             string(r.State),
		RunType:           string(r.RunType),
		LogicalDate:       r.LogicalDate,
		DataIntervalStart: r.DataIntervalStart,
		DataIntervalEnd:   r.DataIntervalEnd,
		Conf:              r.Conf,
		StartedAt:         r.StartedAt,
		FinishedAt:        r.FinishedAt,
		Error:             r.Error,
		CreatedAt:         r.CreatedAt,
	}
}

// TaskInstance DTOs

// TaskInstanceResponse — ответ с task instance.
type TaskInstanceResponse struct {
	DagID          string         `json:"dag_id"`
	RunID          string         `json:"run_id"`
	TaskID         string         `json:"task_id"`
	MapIndex       int            `json:"map_index"`
	TryNumber      int            `json:"try_number"`
	MaxTries       int            `json:"max_tries"`
	State          string         `json:"state"`
	Pool           string         `json:"pool"`
	PriorityWeight int            `json:"priority_weight"`
	Outputs        map[string]any `json:"outputs,omitempty"`
	Hostname       string         `json:"hostname,omitempty"`
	NextRetryAt    *time.Time     `json:"next_retry_at,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// TIFromDomain конвертирует domain.TaskInstance в TaskInstanceResponse.
func TIFromDomain(t domain.TaskInstance) TaskInstanceResponse {
	return TaskInstanceResponse{
		DagID:          t.DagID,
		RunID:          t.RunID,
		TaskID:         t.TaskID,
		MapIndex:       t.MapIndex,
		TryNumber:      t.TryNumber,
		MaxTries:       t.MaxTries,
		State:          string(t.State),
		Pool:           t.Pool,
		PriorityWeight: t.PriorityWeight,
		Outputs:        t.Outputs,
		Hostname:       t.Hostname,
		NextRetryAt:    t.NextRetryAt,
		StartedAt:      t.StartedAt,
		FinishedAt:     t.FinishedAt,
		Error:          t.Error,
		CreatedAt:      t.CreatedAt,
	}
}

// LogContentResponse — ответ с логом попытки.
type LogContentResponse struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
	TryNumber int    `json:"try_number"`
}

// ExtraLinkResponse — ответ с отрендеренной внешней ссылкой.
type ExtraLinkResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Pool DTOs

// CreatePoolRequest — запрос на создание пула.
type CreatePoolRequest struct {
	Name        string `json:"name"`
	Slots       int    `json:"slots"`
	Description string `json:"description,omitempty"`
}

// UpdatePoolRequest — запрос на обновление пула.
type UpdatePoolRequest struct {
	Slots       *int    `json:"slots,omitempty"`
	Description *string `json:"description,omitempty"`
}

// PoolResponse — ответ с пулом и текущей занятостью слотов.
type PoolResponse struct {
	Name          string    `json:"name"`
	Slots         int       `json:"slots"`
	OccupiedSlots int       `json:"occupied_slots"`
	OpenSlots     int       `json:"open_slots"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PoolFromDomain конвертирует domain.Pool в PoolResponse.
func PoolFromDomain(p domain.Pool, occupied int) PoolResponse {
	return PoolResponse{
		Name:          p.Name,
		Slots:         p.Slots,
		OccupiedSlots: occupied,
		OpenSlots:     p.OpenSlots(occupied),
		Description:   p.Description,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}
