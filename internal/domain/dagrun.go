package domain

import (
	"fmt"
	"time"
)

// RunType — способ создания dag run.
type RunType string

const (
	// RunTypeManual — run создан пользователем через API/CLI.
	RunTypeManual RunType = "manual"

	// RunTypeScheduled — run создан scheduler'ом по расписанию.
	RunTypeScheduled RunType = "scheduled"
)

// DagRun — экземпляр выполнения dag для конкретного интервала.
//
// DagRun создаётся когда:
// - Scheduler создаёт run по расписанию
// - Пользователь запускает dag вручную (через API/CLI)
//
// Идентифицируется парой (dag_id, run_id). Каждый run выполняет конкретную
// версию dag и владеет своим набором task instances.
type DagRun struct {
	// DagID — ссылка на dag.
	DagID string `json:"dag_id"`

	// RunID — идентификатор run, уникальный в рамках dag.
	// Для scheduled runs: "scheduled__{logical_date}" (ключ идемпотентности).
	// Для manual runs: "manual__{uuid}".
	RunID string `json:"run_id"`

	// Version — версия dag, которая выполняется.
	Version int `json:"version"`

	// State — текущий статус выполнения.
	State DagRunState `json:"state"`

	// RunType — способ создания: manual или scheduled.
	RunType RunType `json:"run_type"`

	// LogicalDate — логическая дата run (execution_date).
	// Для scheduled runs совпадает с началом data interval.
	LogicalDate time.Time `json:"logical_date"`

	// DataIntervalStart — начало интервала данных, который покрывает run.
	DataIntervalStart time.Time `json:"data_interval_start"`

	// DataIntervalEnd — конец интервала данных.
	DataIntervalEnd time.Time `json:"data_interval_end"`

	// Conf — входные параметры, переданные при запуске.
	// Соответствуют DagSpec.Inputs.
	Conf map[string]any `json:"conf,omitempty"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения (успешного или с ошибкой).
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки, если run завершился с FAILED.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// ScheduledRunID формирует идемпотентный run_id для scheduled run.
func ScheduledRunID(logicalDate time.Time) string {
	return "scheduled__" + logicalDate.UTC().Format(time.RFC3339)
}

// ManualRunID формирует run_id для ручного запуска.
func ManualRunID(suffix string) string {
	return fmt.Sprintf("manual__%s", suffix)
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *DagRun) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён.
func (r *DagRun) IsFinished() bool {
	return r.State.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *DagRun) MarkRunning() {
	now := time.Now()
	r.State = DagRunStateRunning
	r.StartedAt = &now
}

// MarkSuccess переводит run в статус SUCCESS.
func (r *DagRun) MarkSuccess() {
	now := time.Now()
	r.State = DagRunStateSuccess
	r.FinishedAt = &now
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *DagRun) MarkFailed(err string) {
	now := time.Now()
	r.State = DagRunStateFailed
	r.FinishedAt = &now
	r.Error = err
}
