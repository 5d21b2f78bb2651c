package domain

import (
	"testing"
	"time"
)

func TestTaskInstance_Lifecycle(t *testing.T) {
	ti := &TaskInstance{
		DagID:    "etl",
		RunID:    "manual__abc",
		TaskID:   "fetch",
		MapIndex: MapIndexNone,
		MaxTries: 3,
		State:    TIStateNone,
	}

	if ti.IsMapped() {
		t.Error("instance with map_index -1 should not be mapped")
	}

	ti.MarkScheduled(map[string]any{"url": "https://example.com"})
	if ti.State != TIStateScheduled {
		t.Errorf("expected SCHEDULED, got %s", ti.State)
	}
	if ti.RenderedConfig["url"] != "https://example.com" {
		t.Error("rendered config not captured")
	}

	ti.MarkQueued()
	if ti.State != TIStateQueued {
		t.Errorf("expected QUEUED, got %s", ti.State)
	}

	ti.MarkRunning("worker-1")
	if ti.State != TIStateRunning {
		t.Errorf("expected RUNNING, got %s", ti.State)
	}
	// Первая попытка выполняется с try_number = 1
	if ti.TryNumber != 1 {
		t.Errorf("expected try_number 1, got %d", ti.TryNumber)
	}
	if ti.Hostname != "worker-1" {
		t.Errorf("expected hostname worker-1, got %s", ti.Hostname)
	}
	if ti.StartedAt == nil {
		t.Error("started_at should be set")
	}

	ti.MarkSuccess(map[string]any{"status_code": 200})
	if ti.State != TIStateSuccess {
		t.Errorf("expected SUCCESS, got %s", ti.State)
	}
	if ti.FinishedAt == nil {
		t.Error("finished_at should be set")
	}
	if ti.Outputs["status_code"] != 200 {
		t.Error("outputs not captured")
	}
	if !ti.IsFinished() {
		t.Error("instance should be finished")
	}
}

func TestTaskInstance_RetryFlow(t *testing.T) {
	ti := &TaskInstance{MaxTries: 2, State: TIStateQueued}

	ti.MarkRunning("worker-1")
	if !ti.CanRetry() {
		t.Error("first attempt of two should allow retry")
	}

	nextRetry := time.Now().Add(30 * time.Second)
	ti.MarkUpForRetry("connection refused", nextRetry)
	if ti.State != TIStateUpForRetry {
		t.Errorf("expected UP_FOR_RETRY, got %s", ti.State)
	}
	if ti.NextRetryAt == nil || !ti.NextRetryAt.Equal(nextRetry) {
		t.Error("next_retry_at not set")
	}
	if ti.Error != "connection refused" {
		t.Errorf("unexpected error text: %q", ti.Error)
	}

	// Повторный заход: SCHEDULED сбрасывает next_retry_at
	ti.MarkScheduled(ti.RenderedConfig)
	if ti.NextRetryAt != nil {
		t.Error("next_retry_at should be cleared on reschedule")
	}

	ti.MarkQueued()
	ti.MarkRunning("worker-2")
	if ti.TryNumber != 2 {
		t.Errorf("expected try_number 2, got %d", ti.TryNumber)
	}
	// Повторный RUNNING сбрасывает результат прошлой попытки
	if ti.Error != "" || ti.FinishedAt != nil {
		t.Error("previous attempt result should be reset")
	}
	if ti.CanRetry() {
		t.Error("attempts exhausted, can_retry should be false")
	}

	ti.MarkFailed("connection refused")
	if ti.State != TIStateFailed {
		t.Errorf("expected FAILED, got %s", ti.State)
	}
}

func TestTaskInstance_Duration(t *testing.T) {
	ti := &TaskInstance{}
	if ti.Duration() != 0 {
		t.Error("expected zero duration before start")
	}

	start := time.Now()
	finish := start.Add(42 * time.Second)
	ti.StartedAt = &start
	ti.FinishedAt = &finish
	if ti.Duration() != 42*time.Second {
		t.Errorf("expected 42s, got %s", ti.Duration())
	}
}

func TestScheduledRunID(t *testing.T) {
	logical := time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC)
	got := ScheduledRunID(logical)
	want := "scheduled__2026-03-01T06:30:00Z"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	// Не-UTC даты нормализуются
	msk := time.FixedZone("MSK", 3*3600)
	got = ScheduledRunID(time.Date(2026, 3, 1, 9, 30, 0, 0, msk))
	if got != want {
		t.Errorf("expected normalized %q, got %q", want, got)
	}
}

func TestManualRunID(t *testing.T) {
	if got := ManualRunID("abc-123"); got != "manual__abc-123" {
		t.Errorf("unexpected run_id: %q", got)
	}
}

func TestDagSpec_EffectivePolicies(t *testing.T) {
	spec := &DagSpec{
		Defaults: &TaskDefaults{
			Retry:      &RetryPolicy{MaxAttempts: 3},
			TimeoutSec: 60,
			Pool:       "etl_pool",
		},
		Tasks: []TaskDef{
			{TaskID: "a", Type: "http"},
			{TaskID: "b", Type: "http",
				Retry:      &RetryPolicy{MaxAttempts: 5},
				TimeoutSec: 10,
				Pool:       "api_pool"},
		},
	}

	// Задача наследует defaults
	if spec.MaxTriesFor("a") != 3 {
		t.Errorf("expected 3 tries for a, got %d", spec.MaxTriesFor("a"))
	}
	if spec.TimeoutSecFor("a") != 60 {
		t.Errorf("expected timeout 60 for a, got %d", spec.TimeoutSecFor("a"))
	}
	if spec.PoolFor("a") != "etl_pool" {
		t.Errorf("expected etl_pool for a, got %s", spec.PoolFor("a"))
	}

	// Собственные настройки задачи переопределяют defaults
	if spec.MaxTriesFor("b") != 5 {
		t.Errorf("expected 5 tries for b, got %d", spec.MaxTriesFor("b"))
	}
	if spec.TimeoutSecFor("b") != 10 {
		t.Errorf("expected timeout 10 for b, got %d", spec.TimeoutSecFor("b"))
	}
	if spec.PoolFor("b") != "api_pool" {
		t.Errorf("expected api_pool for b, got %s", spec.PoolFor("b"))
	}

	// Без defaults действуют системные значения
	bare := &DagSpec{Tasks: []TaskDef{{TaskID: "x", Type: "http"}}}
	if bare.MaxTriesFor("x") != 1 {
		t.Errorf("expected 1 try, got %d", bare.MaxTriesFor("x"))
	}
	if bare.TimeoutSecFor("x") != 0 {
		t.Errorf("expected no timeout, got %d", bare.TimeoutSecFor("x"))
	}
	if bare.PoolFor("x") != DefaultPoolName {
		t.Errorf("expected %s, got %s", DefaultPoolName, bare.PoolFor("x"))
	}
}

func TestTaskInstance_ResolvedWithoutRun(t *testing.T) {
	ti := &TaskInstance{TaskID: "notify", MapIndex: MapIndexNone, State: TIStateNone}
	ti.MarkSkipped()
	if ti.State != TIStateSkipped {
		t.Errorf("expected SKIPPED, got %s", ti.State)
	}
	if ti.FinishedAt == nil {
		t.Error("skipped instance should carry finished_at")
	}

	ti = &TaskInstance{TaskID: "load", MapIndex: MapIndexNone, State: TIStateNone}
	ti.MarkUpstreamFailed()
	if ti.State != TIStateUpstreamFailed {
		t.Errorf("expected UPSTREAM_FAILED, got %s", ti.State)
	}
	if ti.FinishedAt == nil {
		t.Error("upstream-failed instance should carry finished_at")
	}
}

func TestTaskInstance_MarkRemoved(t *testing.T) {
	ti := &TaskInstance{TaskID: "fan", MapIndex: 3, State: TIStateScheduled}
	ti.MarkRemoved()
	if ti.State != TIStateRemoved {
		t.Errorf("expected REMOVED, got %s", ti.State)
	}
}
