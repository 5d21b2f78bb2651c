package dagfile

import (
	"strings"
	"testing"

	"github.com/shaiso/Konveyer/internal/domain"
)

const sampleYAML = `
dag_id: etl_daily
description: Daily ETL pipeline

schedule:
  cron: "0 6 * * *"
  timezone: Europe/Moscow

max_active_runs: 1

inputs:
  region:
    type: string
    required: true
  batch_size:
    type: number
    default: 100

defaults:
  retry:
    max_attempts: 3
    backoff: exponential
    initial_delay_ms: 1000
    on_status: [502, 503]
  timeout_sec: 120
  pool: etl_pool

tasks:
  - task_id: extract
    type: http
    config:
      url: "https://api.example.com/{{ .Conf.region }}/data"
    extra_links:
      - name: API Docs
        url_template: "https://api.example.com/docs"

  - task_id: process
    type: transform
    depends_on: [extract]
    expand_over: "{{ json .Tasks.extract.Outputs.body }}"
    config:
      item: "{{ json .Item }}"

  - task_id: report
    type: http
    depends_on: [process]
    trigger_rule: all_done
    timeout_sec: 30
    config:
      method: POST
      url: "https://hooks.example.com/report"
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if f.DagID != "etl_daily" {
		t.Errorf("unexpected dag_id: %s", f.DagID)
	}
	if f.Schedule == nil || f.Schedule.Cron != "0 6 * * *" {
		t.Error("schedule cron not parsed")
	}
	if len(f.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(f.Tasks))
	}
	if f.Tasks[1].ExpandOver == "" {
		t.Error("expand_over not parsed")
	}
	if f.Defaults == nil || f.Defaults.Retry.MaxAttempts != 3 {
		t.Error("defaults retry not parsed")
	}
	if len(f.Defaults.Retry.OnStatus) != 2 {
		t.Errorf("unexpected on_status: %v", f.Defaults.Retry.OnStatus)
	}
}

func TestParse_MissingDagID(t *testing.T) {
	_, err := Parse([]byte("description: no id\ntasks: []\n"))
	if err == nil || !strings.Contains(err.Error(), "dag_id is required") {
		t.Fatalf("expected dag_id error, got %v", err)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("dag_id: [broken"))
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestToDomain(t *testing.T) {
	f, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	dag, spec, err := f.ToDomain()
	if err != nil {
		t.Fatalf("to domain: %v", err)
	}

	if dag.DagID != "etl_daily" {
		t.Errorf("unexpected dag_id: %s", dag.DagID)
	}
	if dag.CronExpr != "0 6 * * *" {
		t.Errorf("unexpected cron: %s", dag.CronExpr)
	}
	if dag.Timezone != "Europe/Moscow" {
		t.Errorf("unexpected timezone: %s", dag.Timezone)
	}
	if !dag.IsActive {
		t.Error("new dag should be active")
	}
	if dag.MaxActiveRuns != 1 {
		t.Errorf("unexpected max_active_runs: %d", dag.MaxActiveRuns)
	}

	if len(spec.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(spec.Tasks))
	}
	if !spec.Inputs["region"].Required {
		t.Error("region input should be required")
	}
	if spec.Inputs["batch_size"].Default != 100 {
		t.Errorf("unexpected default: %v", spec.Inputs["batch_size"].Default)
	}
	if spec.MaxTriesFor("extract") != 3 {
		t.Errorf("expected inherited retry, got %d tries", spec.MaxTriesFor("extract"))
	}
	if spec.PoolFor("extract") != "etl_pool" {
		t.Errorf("expected inherited pool, got %s", spec.PoolFor("extract"))
	}
	if spec.TimeoutSecFor("report") != 30 {
		t.Errorf("task timeout should override default, got %d", spec.TimeoutSecFor("report"))
	}

	report := spec.FindTask("report")
	if report.TriggerRule != domain.TriggerRuleAllDone {
		t.Errorf("unexpected trigger rule: %s", report.TriggerRule)
	}

	extract := spec.FindTask("extract")
	if len(extract.ExtraLinks) != 1 || extract.ExtraLinks[0].Name != "API Docs" {
		t.Errorf("extra links not converted: %v", extract.ExtraLinks)
	}
}

func TestToDomain_DefaultTimezone(t *testing.T) {
	f, err := Parse([]byte("dag_id: x\ntasks:\n  - task_id: a\n    type: http\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	dag, _, err := f.ToDomain()
	if err != nil {
		t.Fatalf("to domain: %v", err)
	}
	if dag.Timezone != "UTC" {
		t.Errorf("expected UTC default, got %s", dag.Timezone)
	}
	if dag.HasSchedule() {
		t.Error("dag without schedule section should be manual-only")
	}
}

func TestToDomain_InvalidSpec(t *testing.T) {
	f, err := Parse([]byte("dag_id: x\ntasks:\n  - task_id: a\n    type: http\n    depends_on: [ghost]\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if _, _, err := f.ToDomain(); err == nil {
		t.Fatal("expected validation error for unknown dependency")
	}
}
