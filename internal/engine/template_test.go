package engine

import (
	"errors"
	"testing"
	"time"
)

func testContext() *Context {
	logical := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ctx := NewContext("etl_daily", "scheduled__2026-03-01T00:00:00Z",
		logical, logical.Add(-24*time.Hour), logical,
		map[string]any{"region": "eu", "batch_size": 100})
	ctx.AddTaskResult("fetch", map[string]any{
		"status_code": 200,
		"rows":        []any{"a", "b", "c"},
	}, "SUCCESS")
	return ctx
}

func TestRender_PlainString(t *testing.T) {
	got, err := Render("no templates here", testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "no templates here" {
		t.Errorf("expected passthrough, got %q", got)
	}
}

func TestRender_ConfReference(t *testing.T) {
	got, err := Render("region={{ .Conf.region }}", testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "region=eu" {
		t.Errorf("expected region=eu, got %q", got)
	}
}

func TestRender_TaskOutputs(t *testing.T) {
	got, err := Render("{{ .Tasks.fetch.Outputs.status_code }}", testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "200" {
		t.Errorf("expected 200, got %q", got)
	}
}

func TestRender_RunIdentity(t *testing.T) {
	got, err := Render("{{ .DagID }}/{{ .RunID }}/{{ .LogicalDate }}", testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "etl_daily/scheduled__2026-03-01T00:00:00Z/2026-03-01T00:00:00Z"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestRender_Funcs(t *testing.T) {
	cases := []struct {
		tmpl string
		want string
	}{
		{`{{ upper .Conf.region }}`, "EU"},
		{`{{ default "us" .Conf.missing }}`, "us"},
		{`{{ default "us" .Conf.region }}`, "eu"},
		{`{{ json .Conf.batch_size }}`, "100"},
		{`{{ join "," (split " " "a b c") }}`, "a,b,c"},
		{`{{ if contains .Conf.region "e" }}yes{{ end }}`, "yes"},
		{`{{ trim "  x  " }}`, "x"},
	}

	ctx := testContext()
	for _, tc := range cases {
		got, err := Render(tc.tmpl, ctx)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.tmpl, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.tmpl, tc.want, got)
		}
	}
}

func TestRender_ParseError(t *testing.T) {
	_, err := Render("{{ .Conf.region", testContext())
	if !errors.Is(err, ErrTemplateParse) {
		t.Fatalf("expected ErrTemplateParse, got %v", err)
	}
}

func TestRenderConfig_Nested(t *testing.T) {
	config := map[string]any{
		"url": "https://api.example.com/{{ .Conf.region }}/items",
		"headers": map[string]any{
			"X-Run-ID": "{{ .RunID }}",
		},
		"retries": 3,
		"tags":    []any{"{{ .DagID }}", "static"},
	}

	rendered, err := RenderConfig(config, testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rendered["url"] != "https://api.example.com/eu/items" {
		t.Errorf("unexpected url: %v", rendered["url"])
	}

	headers := rendered["headers"].(map[string]any)
	if headers["X-Run-ID"] != "scheduled__2026-03-01T00:00:00Z" {
		t.Errorf("unexpected header: %v", headers["X-Run-ID"])
	}

	// Нестроковые значения проходят без изменений
	if rendered["retries"] != 3 {
		t.Errorf("expected retries untouched, got %v", rendered["retries"])
	}

	tags := rendered["tags"].([]any)
	if tags[0] != "etl_daily" || tags[1] != "static" {
		t.Errorf("unexpected tags: %v", tags)
	}
}

func TestRenderConfig_Nil(t *testing.T) {
	rendered, err := RenderConfig(nil, testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rendered == nil || len(rendered) != 0 {
		t.Errorf("expected empty map, got %v", rendered)
	}
}

func TestRenderExpandList_FromOutputs(t *testing.T) {
	items, err := RenderExpandList("{{ json .Tasks.fetch.Outputs.rows }}", testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0] != "a" || items[2] != "c" {
		t.Errorf("unexpected items: %v", items)
	}
}

func TestRenderExpandList_Empty(t *testing.T) {
	items, err := RenderExpandList("", testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected empty list, got %v", items)
	}

	items, err = RenderExpandList("{{ json .Conf.missing }}", testContext())
	if err != nil {
		t.Fatalf("unexpected error for null: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected empty list for null, got %v", items)
	}
}

func TestRenderExpandList_NotAList(t *testing.T) {
	_, err := RenderExpandList("{{ json .Conf.region }}", testContext())
	if !errors.Is(err, ErrNotAList) {
		t.Fatalf("expected ErrNotAList, got %v", err)
	}
}

func TestForMapIndex(t *testing.T) {
	ctx := testContext()
	mapped := ctx.ForMapIndex(2, "c")

	if mapped.MapIndex != 2 {
		t.Errorf("expected map index 2, got %d", mapped.MapIndex)
	}
	if mapped.Item != "c" {
		t.Errorf("expected item c, got %v", mapped.Item)
	}
	// Исходный контекст не затронут
	if ctx.MapIndex != -1 {
		t.Errorf("base context mutated: map index %d", ctx.MapIndex)
	}

	got, err := Render("{{ .MapIndex }}:{{ .Item }}", mapped)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "2:c" {
		t.Errorf("expected 2:c, got %q", got)
	}
}

func TestRenderOutputMapping(t *testing.T) {
	raw := map[string]any{
		"status_code": 200,
		"body":        map[string]any{"rows": 10},
		"headers":     map[string]any{"X-Trace": "abc"},
	}

	mapped, err := RenderOutputMapping(map[string]string{
		"code": "{{ .status_code }}",
		"rows": "{{ .body.rows }}",
	}, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mapped["code"] != "200" || mapped["rows"] != "10" {
		t.Errorf("unexpected mapping: %v", mapped)
	}
	// Поля вне маппинга отбрасываются
	if _, ok := mapped["headers"]; ok {
		t.Error("unmapped fields should be dropped")
	}
}

func TestRenderOutputMapping_Empty(t *testing.T) {
	raw := map[string]any{"status_code": 200}

	mapped, err := RenderOutputMapping(nil, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mapped["status_code"] != 200 {
		t.Errorf("empty mapping should pass raw outputs through: %v", mapped)
	}
}

func TestRenderOutputMapping_ParseError(t *testing.T) {
	_, err := RenderOutputMapping(map[string]string{
		"bad": "{{ .status_code",
	}, map[string]any{"status_code": 200})
	if !errors.Is(err, ErrTemplateParse) {
		t.Fatalf("expected ErrTemplateParse, got %v", err)
	}
}
