package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/shaiso/Konveyer/internal/domain"
	"github.com/shaiso/Konveyer/internal/engine"
)

func testRun() *domain.DagRun {
	logical := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return &domain.DagRun{
		DagID:             "etl",
		RunID:             "scheduled__2026-03-01T00:00:00Z",
		Version:           1,
		State:             domain.DagRunStateQueued,
		RunType:           domain.RunTypeScheduled,
		LogicalDate:       logical,
		DataIntervalStart: logical.Add(-24 * time.Hour),
		DataIntervalEnd:   logical,
	}
}

func testVersion(tasks ...domain.TaskDef) *domain.DagVersion {
	return &domain.DagVersion{
		DagID:   "etl",
		Version: 1,
		Spec:    domain.DagSpec{Tasks: tasks},
	}
}

func chainState(t *testing.T) *RunState {
	t.Helper()
	state := NewRunState(testRun(), testVersion(
		domain.TaskDef{TaskID: "extract", Type: "http"},
		domain.TaskDef{TaskID: "load", Type: "transform", DependsOn: []string{"extract"}},
	))
	if err := state.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return state
}

func TestRunState_Initialize(t *testing.T) {
	state := chainState(t)

	if state.Graph.Size() != 2 {
		t.Errorf("expected 2 nodes, got %d", state.Graph.Size())
	}
	if state.Context == nil {
		t.Fatal("context should be built")
	}
	if state.Context.DagID != "etl" {
		t.Errorf("unexpected context dag_id: %s", state.Context.DagID)
	}

	// Все задачи стартуют с placeholder NONE
	if got := state.AggregatedState("extract"); got != domain.TIStateNone {
		t.Errorf("expected NONE, got %s", got)
	}
}

func TestRunState_Initialize_InvalidSpec(t *testing.T) {
	state := NewRunState(testRun(), testVersion())
	err := state.Initialize()
	if !errors.Is(err, ErrInvalidDagSpec) {
		t.Fatalf("expected ErrInvalidDagSpec, got %v", err)
	}
}

func TestRunState_PendingDecisions_Chain(t *testing.T) {
	state := chainState(t)

	// Сначала готов только корень: downstream ждёт upstream
	decisions := state.PendingDecisions()
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	if decisions[0].Node.ID != "extract" || decisions[0].Decision != engine.DecisionReady {
		t.Errorf("unexpected decision: %s %s", decisions[0].Node.ID, decisions[0].Decision)
	}

	state.MarkDecided("extract")
	state.SetInstanceState("extract", domain.MapIndexNone, domain.TIStateRunning)

	if len(state.PendingDecisions()) != 0 {
		t.Error("no decisions expected while extract is running")
	}

	state.RecordResult("extract", domain.MapIndexNone, domain.TIStateSuccess,
		map[string]any{"rows": 10})

	decisions = state.PendingDecisions()
	if len(decisions) != 1 || decisions[0].Node.ID != "load" {
		t.Fatalf("expected load decision, got %v", decisions)
	}
	if decisions[0].Decision != engine.DecisionReady {
		t.Errorf("expected ready, got %s", decisions[0].Decision)
	}
}

func TestRunState_PendingDecisions_UpstreamFailure(t *testing.T) {
	state := chainState(t)

	state.MarkDecided("extract")
	state.RecordResult("extract", domain.MapIndexNone, domain.TIStateFailed, nil)

	decisions := state.PendingDecisions()
	if len(decisions) != 1 || decisions[0].Decision != engine.DecisionUpstreamFailed {
		t.Fatalf("expected upstream_failed decision, got %v", decisions)
	}
}

func TestRunState_RecordResult_ContextOutputs(t *testing.T) {
	state := chainState(t)

	state.RecordResult("extract", domain.MapIndexNone, domain.TIStateSuccess,
		map[string]any{"rows": 10})

	tc := state.Context.Tasks["extract"]
	if tc == nil {
		t.Fatal("extract result should be in context")
	}
	if tc.Outputs["rows"] != 10 {
		t.Errorf("unexpected outputs: %v", tc.Outputs)
	}
	if tc.State != string(domain.TIStateSuccess) {
		t.Errorf("unexpected state: %s", tc.State)
	}
}

func TestRunState_MappedGroup(t *testing.T) {
	state := NewRunState(testRun(), testVersion(
		domain.TaskDef{TaskID: "fetch", Type: "http"},
		domain.TaskDef{TaskID: "process", Type: "transform",
			DependsOn: []string{"fetch"}, ExpandOver: "{{ json .Tasks.fetch.Outputs.items }}"},
	))
	if err := state.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	state.MarkDecided("fetch")
	state.RecordResult("fetch", domain.MapIndexNone, domain.TIStateSuccess,
		map[string]any{"items": []any{"a", "b", "c"}})

	state.MarkExpanded("process", 3, domain.TIStateNone)
	if !state.IsExpanded("process") {
		t.Fatal("process should be expanded")
	}
	if state.GroupSize("process") != 3 {
		t.Errorf("expected group size 3, got %d", state.GroupSize("process"))
	}

	// Частично завершённая группа агрегируется как RUNNING
	state.RecordResult("process", 0, domain.TIStateSuccess, map[string]any{"out": "a"})
	if got := state.AggregatedState("process"); got != domain.TIStateRunning {
		t.Errorf("expected RUNNING, got %s", got)
	}
	if state.IsComplete() {
		t.Error("run should not be complete yet")
	}

	state.RecordResult("process", 1, domain.TIStateSuccess, map[string]any{"out": "b"})
	state.RecordResult("process", 2, domain.TIStateSuccess, map[string]any{"out": "c"})

	if got := state.AggregatedState("process"); got != domain.TIStateSuccess {
		t.Errorf("expected SUCCESS, got %s", got)
	}
	if !state.IsComplete() {
		t.Error("run should be complete")
	}

	// Группа публикует outputs списком по map_index
	tc := state.Context.Tasks["process"]
	if tc == nil {
		t.Fatal("group result should be in context")
	}
	items, ok := tc.Outputs["items"].([]any)
	if !ok || len(items) != 3 {
		t.Fatalf("expected 3 items, got %v", tc.Outputs["items"])
	}
	first := items[0].(map[string]any)
	if first["out"] != "a" {
		t.Errorf("unexpected first item: %v", first)
	}
}

func TestRunState_MappedGroupFailure(t *testing.T) {
	state := NewRunState(testRun(), testVersion(
		domain.TaskDef{TaskID: "fan", Type: "http", ExpandOver: "{{ json .Conf.items }}"},
	))
	if err := state.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	state.MarkExpanded("fan", 2, domain.TIStateNone)
	state.RecordResult("fan", 0, domain.TIStateSuccess, nil)
	state.RecordResult("fan", 1, domain.TIStateFailed, nil)

	// Один упавший instance роняет всю группу
	if got := state.AggregatedState("fan"); got != domain.TIStateFailed {
		t.Errorf("expected FAILED, got %s", got)
	}
	if !state.HasFailed() {
		t.Error("run should have failures")
	}
	failed := state.FailedTasks()
	if len(failed) != 1 || failed[0] != "fan" {
		t.Errorf("unexpected failed tasks: %v", failed)
	}
}

func TestRunState_Stats(t *testing.T) {
	state := chainState(t)

	state.RecordResult("extract", domain.MapIndexNone, domain.TIStateSuccess, nil)
	state.SetInstanceState("load", domain.MapIndexNone, domain.TIStateRunning)

	stats := state.Stats()
	if stats.TotalInstances != 2 {
		t.Errorf("expected 2 instances, got %d", stats.TotalInstances)
	}
	if stats.Succeeded != 1 {
		t.Errorf("expected 1 succeeded, got %d", stats.Succeeded)
	}
	if stats.Running != 1 {
		t.Errorf("expected 1 running, got %d", stats.Running)
	}
}

func TestRunState_RestoreFromInstances(t *testing.T) {
	state := NewRunState(testRun(), testVersion(
		domain.TaskDef{TaskID: "extract", Type: "http"},
		domain.TaskDef{TaskID: "fan", Type: "transform",
			DependsOn: []string{"extract"}, ExpandOver: "{{ json .Tasks.extract.Outputs.items }}"},
		domain.TaskDef{TaskID: "report", Type: "http", DependsOn: []string{"fan"}},
	))
	if err := state.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	state.RestoreFromInstances([]domain.TaskInstance{
		{TaskID: "extract", MapIndex: domain.MapIndexNone, State: domain.TIStateSuccess,
			Outputs: map[string]any{"items": []any{"a", "b"}}},
		{TaskID: "fan", MapIndex: 0, State: domain.TIStateSuccess,
			Outputs: map[string]any{"out": "a"}},
		{TaskID: "fan", MapIndex: 1, State: domain.TIStateRunning},
		{TaskID: "report", MapIndex: domain.MapIndexNone, State: domain.TIStateNone},
	})

	if got := state.AggregatedState("extract"); got != domain.TIStateSuccess {
		t.Errorf("expected SUCCESS, got %s", got)
	}
	if !state.IsExpanded("fan") {
		t.Error("fan expansion should be restored")
	}
	if got := state.AggregatedState("fan"); got != domain.TIStateRunning {
		t.Errorf("expected RUNNING, got %s", got)
	}

	// Контекст восстановлен для завершённых задач
	if state.Context.Tasks["extract"] == nil {
		t.Error("extract outputs should be back in context")
	}
	if state.Context.Tasks["fan"] != nil {
		t.Error("unfinished group should not be in context")
	}

	// report ещё не решён и ждёт fan
	if len(state.PendingDecisions()) != 0 {
		t.Error("no decisions expected while fan is running")
	}
}

func TestRunState_MarkExpanded_RefillAfterRestore(t *testing.T) {
	state := NewRunState(testRun(), testVersion(
		domain.TaskDef{TaskID: "extract", Type: "http"},
		domain.TaskDef{TaskID: "fan", Type: "transform",
			DependsOn: []string{"extract"}, ExpandOver: "{{ json .Tasks.extract.Outputs.items }}"},
	))
	if err := state.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// Рестарт между вставками группы: из трёх элементов списка
	// в БД успели попасть только два
	state.RestoreFromInstances([]domain.TaskInstance{
		{TaskID: "extract", MapIndex: domain.MapIndexNone, State: domain.TIStateSuccess,
			Outputs: map[string]any{"items": []any{"a", "b", "c"}}},
		{TaskID: "fan", MapIndex: 0, State: domain.TIStateSuccess,
			Outputs: map[string]any{"out": "a"}},
		{TaskID: "fan", MapIndex: 1, State: domain.TIStateSuccess,
			Outputs: map[string]any{"out": "b"}},
	})

	// Повторное развёртывание дозаполняет группу до полной длины,
	// не сбрасывая выполненные элементы
	state.MarkExpanded("fan", 3, domain.TIStateScheduled)

	if got := state.GroupSize("fan"); got != 3 {
		t.Fatalf("expected group size 3, got %d", got)
	}
	if got := state.AggregatedState("fan"); got != domain.TIStateRunning {
		t.Errorf("expected RUNNING until the group is full, got %s", got)
	}
	if state.IsComplete() {
		t.Error("run should not be complete with a missing group element")
	}

	state.RecordResult("fan", 2, domain.TIStateSuccess, map[string]any{"out": "c"})

	if got := state.AggregatedState("fan"); got != domain.TIStateSuccess {
		t.Errorf("expected SUCCESS, got %s", got)
	}
	tc := state.Context.Tasks["fan"]
	if tc == nil {
		t.Fatal("group result should be in context")
	}
	items, ok := tc.Outputs["items"].([]any)
	if !ok || len(items) != 3 {
		t.Fatalf("expected 3 items, got %v", tc.Outputs["items"])
	}
	if first := items[0].(map[string]any); first["out"] != "a" {
		t.Errorf("restored outputs should survive refill: %v", items[0])
	}
}

func TestRunState_MarkExpanded_DropsStaleIndexes(t *testing.T) {
	state := NewRunState(testRun(), testVersion(
		domain.TaskDef{TaskID: "fan", Type: "http", ExpandOver: "{{ json .Conf.items }}"},
	))
	if err := state.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	state.RestoreFromInstances([]domain.TaskInstance{
		{TaskID: "fan", MapIndex: 0, State: domain.TIStateSuccess},
		{TaskID: "fan", MapIndex: 1, State: domain.TIStateSuccess},
		{TaskID: "fan", MapIndex: 2, State: domain.TIStateScheduled},
	})

	// Список стал короче: индекс за его пределами выбывает из свёртки
	state.MarkExpanded("fan", 2, domain.TIStateScheduled)

	if got := state.GroupSize("fan"); got != 2 {
		t.Fatalf("expected group size 2, got %d", got)
	}
	if got := state.AggregatedState("fan"); got != domain.TIStateSuccess {
		t.Errorf("expected SUCCESS over the shortened group, got %s", got)
	}
}
