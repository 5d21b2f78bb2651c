package scheduler

import (
	"testing"
	"time"

	"github.com/shaiso/Konveyer/internal/domain"
)

func TestNextDue_Cron(t *testing.T) {
	dag := &domain.Dag{DagID: "daily", CronExpr: "0 6 * * *"}
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	next, err := NextDue(dag, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %s, got %s", want, next)
	}
}

func TestNextDue_CronTimezone(t *testing.T) {
	dag := &domain.Dag{DagID: "daily", CronExpr: "0 6 * * *", Timezone: "Europe/Moscow"}
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	next, err := NextDue(dag, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 06:00 MSK следующего дня = 03:00 UTC
	want := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %s, got %s", want, next)
	}
}

func TestNextDue_Interval(t *testing.T) {
	dag := &domain.Dag{DagID: "poller", IntervalSec: 300}
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	next, err := NextDue(dag, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := from.Add(5 * time.Minute)
	if !next.Equal(want) {
		t.Errorf("expected %s, got %s", want, next)
	}
}

func TestNextDue_NoSchedule(t *testing.T) {
	dag := &domain.Dag{DagID: "manual-only"}
	if _, err := NextDue(dag, time.Now()); err == nil {
		t.Fatal("expected error for dag without schedule")
	}
}

func TestNextDue_InvalidTimezoneFallsBackToUTC(t *testing.T) {
	dag := &domain.Dag{DagID: "daily", CronExpr: "0 6 * * *", Timezone: "Mars/Olympus"}
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	next, err := NextDue(dag, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected UTC fallback %s, got %s", want, next)
	}
}

func TestDataInterval_Cron(t *testing.T) {
	dag := &domain.Dag{DagID: "daily", CronExpr: "0 6 * * *"}
	dueAt := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

	interval, err := DataInterval(dag, dueAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Интервал покрывает период от предыдущего срабатывания до текущего
	wantStart := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	if !interval.Start.Equal(wantStart) {
		t.Errorf("expected start %s, got %s", wantStart, interval.Start)
	}
	if !interval.End.Equal(dueAt) {
		t.Errorf("expected end %s, got %s", dueAt, interval.End)
	}
}

func TestDataInterval_CronMonthly(t *testing.T) {
	// Ежемесячное расписание требует широкого окна поиска назад
	dag := &domain.Dag{DagID: "monthly", CronExpr: "0 0 1 * *"}
	dueAt := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	interval, err := DataInterval(dag, dueAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !interval.Start.Equal(wantStart) {
		t.Errorf("expected start %s, got %s", wantStart, interval.Start)
	}
}

func TestDataInterval_Interval(t *testing.T) {
	dag := &domain.Dag{DagID: "poller", IntervalSec: 900}
	dueAt := time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC)

	interval, err := DataInterval(dag, dueAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !interval.Start.Equal(dueAt.Add(-15 * time.Minute)) {
		t.Errorf("expected start 15m before due, got %s", interval.Start)
	}
	if !interval.End.Equal(dueAt) {
		t.Errorf("expected end %s, got %s", dueAt, interval.End)
	}
}

func TestValidateCronExpr(t *testing.T) {
	valid := []string{"0 6 * * *", "*/5 * * * *", "30 2 * * 1", "0 0 1 * *"}
	for _, expr := range valid {
		if err := ValidateCronExpr(expr); err != nil {
			t.Errorf("%q should be valid: %v", expr, err)
		}
	}

	invalid := []string{"", "not a cron", "99 * * * *", "* * * *"}
	for _, expr := range invalid {
		if err := ValidateCronExpr(expr); err == nil {
			t.Errorf("%q should be invalid", expr)
		}
	}
}

func TestDagIsDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	dag := &domain.Dag{DagID: "d", IsActive: true, NextDueAt: &past}
	if !dag.IsDue(now) {
		t.Error("dag with next_due_at in the past should be due")
	}

	dag.NextDueAt = &future
	if dag.IsDue(now) {
		t.Error("dag with next_due_at in the future should not be due")
	}

	dag.NextDueAt = &past
	dag.IsPaused = true
	if dag.IsDue(now) {
		t.Error("paused dag should not be due")
	}

	dag.IsPaused = false
	dag.IsActive = false
	if dag.IsDue(now) {
		t.Error("inactive dag should not be due")
	}

	dag.IsActive = true
	dag.NextDueAt = nil
	if dag.IsDue(now) {
		t.Error("dag without next_due_at should not be due")
	}
}
