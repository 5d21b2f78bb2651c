package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Konveyer/internal/domain"
)

func linkTask() *domain.TaskDef {
	return &domain.TaskDef{
		TaskID: "fetch",
		Type:   "http",
		ExtraLinks: []domain.ExtraLinkDef{
			{Name: "dashboard", URLTemplate: "https://grafana.local/d/{{ .DagID }}?run={{ .RunID }}"},
			{Name: "logs", URLTemplate: "https://kibana.local/{{ .TaskID }}/{{ .TryNumber }}"},
			{Name: "broken", URLTemplate: "/relative/{{ .DagID }}"},
		},
	}
}

func TestResolveExtraLink(t *testing.T) {
	ctx := &LinkContext{Context: testContext(), TaskID: "fetch", TryNumber: 2}

	got, err := ResolveExtraLink(linkTask(), "dashboard", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "https://grafana.local/d/etl_daily?run=scheduled__2026-03-01T00:00:00Z"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestResolveExtraLink_InstanceFields(t *testing.T) {
	ctx := &LinkContext{Context: testContext(), TaskID: "fetch", TryNumber: 2}

	got, err := ResolveExtraLink(linkTask(), "logs", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://kibana.local/fetch/2" {
		t.Errorf("unexpected url: %q", got)
	}
}

func TestResolveExtraLink_NotFound(t *testing.T) {
	ctx := &LinkContext{Context: testContext(), TaskID: "fetch", TryNumber: 1}

	_, err := ResolveExtraLink(linkTask(), "metrics", ctx)
	if !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
}

func TestResolveExtraLink_RelativeURL(t *testing.T) {
	ctx := &LinkContext{Context: testContext(), TaskID: "fetch", TryNumber: 1}

	_, err := ResolveExtraLink(linkTask(), "broken", ctx)
	if !errors.Is(err, ErrTemplateRender) {
		t.Fatalf("expected ErrTemplateRender for relative url, got %v", err)
	}
}

func TestLinkNames(t *testing.T) {
	names := LinkNames(linkTask())
	if len(names) != 3 {
		t.Fatalf("expected 3 names, got %d", len(names))
	}
	if names[0] != "dashboard" || names[1] != "logs" || names[2] != "broken" {
		t.Errorf("unexpected names: %v", names)
	}

	if got := LinkNames(&domain.TaskDef{TaskID: "x"}); len(got) != 0 {
		t.Errorf("expected empty names, got %v", got)
	}
}
