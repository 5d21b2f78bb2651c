package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Konveyer/internal/domain"
)

func TestValidate_OK(t *testing.T) {
	spec := &domain.DagSpec{
		Tasks: []domain.TaskDef{
			{TaskID: "fetch", Type: "http"},
			{TaskID: "wait", Type: "delay", DependsOn: []string{"fetch"}},
			{TaskID: "report", Type: "transform", DependsOn: []string{"wait"},
				TriggerRule: domain.TriggerRuleAllDone,
				ExtraLinks: []domain.ExtraLinkDef{
					{Name: "dashboard", URLTemplate: "https://grafana.local/d/{{ .DagID }}"},
				}},
		},
	}

	if err := Validate(spec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_EmptyTasks(t *testing.T) {
	if err := Validate(&domain.DagSpec{}); !errors.Is(err, ErrEmptyTasks) {
		t.Errorf("expected ErrEmptyTasks, got %v", err)
	}
	if err := Validate(nil); !errors.Is(err, ErrEmptyTasks) {
		t.Errorf("nil spec: expected ErrEmptyTasks, got %v", err)
	}
}

func TestValidate_EmptyTaskID(t *testing.T) {
	spec := &domain.DagSpec{Tasks: []domain.TaskDef{{Type: "http"}}}
	if err := Validate(spec); !errors.Is(err, ErrEmptyTaskID) {
		t.Errorf("expected ErrEmptyTaskID, got %v", err)
	}
}

func TestValidate_DuplicateTaskID(t *testing.T) {
	spec := &domain.DagSpec{
		Tasks: []domain.TaskDef{
			{TaskID: "a", Type: "http"},
			{TaskID: "a", Type: "delay"},
		},
	}
	if err := Validate(spec); !errors.Is(err, ErrDuplicateTaskID) {
		t.Errorf("expected ErrDuplicateTaskID, got %v", err)
	}
}

func TestValidate_UnknownType(t *testing.T) {
	spec := &domain.DagSpec{Tasks: []domain.TaskDef{{TaskID: "a", Type: "spark"}}}
	if err := Validate(spec); !errors.Is(err, ErrUnknownTaskType) {
		t.Errorf("expected ErrUnknownTaskType, got %v", err)
	}

	spec = &domain.DagSpec{Tasks: []domain.TaskDef{{TaskID: "a"}}}
	if err := Validate(spec); !errors.Is(err, ErrUnknownTaskType) {
		t.Errorf("empty type: expected ErrUnknownTaskType, got %v", err)
	}
}

func TestValidate_UnknownTriggerRule(t *testing.T) {
	spec := &domain.DagSpec{
		Tasks: []domain.TaskDef{
			{TaskID: "a", Type: "http", TriggerRule: "whenever"},
		},
	}
	if err := Validate(spec); !errors.Is(err, ErrUnknownTriggerRule) {
		t.Errorf("expected ErrUnknownTriggerRule, got %v", err)
	}
}

func TestValidate_SelfDependency(t *testing.T) {
	spec := &domain.DagSpec{
		Tasks: []domain.TaskDef{
			{TaskID: "a", Type: "http", DependsOn: []string{"a"}},
		},
	}
	if err := Validate(spec); !errors.Is(err, ErrSelfDependency) {
		t.Errorf("expected ErrSelfDependency, got %v", err)
	}
}

func TestValidate_MissingDependency(t *testing.T) {
	spec := &domain.DagSpec{
		Tasks: []domain.TaskDef{
			{TaskID: "a", Type: "http", DependsOn: []string{"nope"}},
		},
	}
	err := Validate(spec)
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatal("expected ValidationError")
	}
	if verr.TaskID != "a" || verr.Field != "depends_on" {
		t.Errorf("unexpected validation error details: %+v", verr)
	}
}

func TestValidate_DuplicateLinkName(t *testing.T) {
	spec := &domain.DagSpec{
		Tasks: []domain.TaskDef{
			{TaskID: "a", Type: "http", ExtraLinks: []domain.ExtraLinkDef{
				{Name: "logs", URLTemplate: "https://x/1"},
				{Name: "logs", URLTemplate: "https://x/2"},
			}},
		},
	}
	if err := Validate(spec); !errors.Is(err, ErrDuplicateLinkName) {
		t.Errorf("expected ErrDuplicateLinkName, got %v", err)
	}
}

func TestIsValidTaskType(t *testing.T) {
	for _, typ := range []string{"http", "delay", "transform"} {
		if !IsValidTaskType(typ) {
			t.Errorf("%s should be valid", typ)
		}
	}
	if IsValidTaskType("bash") {
		t.Error("bash should not be valid")
	}
}
