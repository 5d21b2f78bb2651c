package engine

import (
	"testing"

	"github.com/shaiso/Konveyer/internal/domain"
)

func stats(success, failed, skipped, total int) UpstreamStats {
	return UpstreamStats{Total: total, Success: success, Failed: failed, Skipped: skipped}
}

func TestEvaluateTriggerRule_AllSuccess(t *testing.T) {
	cases := []struct {
		name  string
		stats UpstreamStats
		want  Decision
	}{
		{"all done success", stats(2, 0, 0, 2), DecisionReady},
		{"one failed", stats(1, 1, 0, 2), DecisionUpstreamFailed},
		{"one skipped", stats(1, 0, 1, 2), DecisionSkip},
		{"still running", stats(1, 0, 0, 2), DecisionWait},
		{"no upstream", stats(0, 0, 0, 0), DecisionReady},
	}

	for _, tc := range cases {
		got := EvaluateTriggerRule(domain.TriggerRuleAllSuccess, tc.stats)
		if got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestEvaluateTriggerRule_AllFailed(t *testing.T) {
	cases := []struct {
		name  string
		stats UpstreamStats
		want  Decision
	}{
		{"all failed", stats(0, 2, 0, 2), DecisionReady},
		{"one succeeded", stats(1, 1, 0, 2), DecisionSkip},
		{"one skipped", stats(0, 1, 1, 2), DecisionSkip},
		{"still running", stats(0, 1, 0, 2), DecisionWait},
		{"no upstream", stats(0, 0, 0, 0), DecisionReady},
	}

	for _, tc := range cases {
		got := EvaluateTriggerRule(domain.TriggerRuleAllFailed, tc.stats)
		if got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestEvaluateTriggerRule_AllDone(t *testing.T) {
	if got := EvaluateTriggerRule(domain.TriggerRuleAllDone, stats(1, 1, 1, 3)); got != DecisionReady {
		t.Errorf("all terminal: expected ready, got %s", got)
	}
	if got := EvaluateTriggerRule(domain.TriggerRuleAllDone, stats(1, 0, 0, 2)); got != DecisionWait {
		t.Errorf("still running: expected wait, got %s", got)
	}
	if got := EvaluateTriggerRule(domain.TriggerRuleAllDone, stats(0, 0, 0, 0)); got != DecisionReady {
		t.Errorf("no upstream: expected ready, got %s", got)
	}
}

func TestEvaluateTriggerRule_OneSuccess(t *testing.T) {
	// Один успех достаточен, даже если остальные ещё бегут
	if got := EvaluateTriggerRule(domain.TriggerRuleOneSuccess, stats(1, 0, 0, 3)); got != DecisionReady {
		t.Errorf("early success: expected ready, got %s", got)
	}
	// Все завершились без единого успеха
	if got := EvaluateTriggerRule(domain.TriggerRuleOneSuccess, stats(0, 2, 1, 3)); got != DecisionSkip {
		t.Errorf("no success at completion: expected skip, got %s", got)
	}
	if got := EvaluateTriggerRule(domain.TriggerRuleOneSuccess, stats(0, 1, 0, 3)); got != DecisionWait {
		t.Errorf("pending: expected wait, got %s", got)
	}
	if got := EvaluateTriggerRule(domain.TriggerRuleOneSuccess, stats(0, 0, 0, 0)); got != DecisionSkip {
		t.Errorf("no upstream: expected skip, got %s", got)
	}
}

func TestEvaluateTriggerRule_OneFailed(t *testing.T) {
	if got := EvaluateTriggerRule(domain.TriggerRuleOneFailed, stats(0, 1, 0, 3)); got != DecisionReady {
		t.Errorf("early failure: expected ready, got %s", got)
	}
	if got := EvaluateTriggerRule(domain.TriggerRuleOneFailed, stats(2, 0, 1, 3)); got != DecisionSkip {
		t.Errorf("no failure at completion: expected skip, got %s", got)
	}
	if got := EvaluateTriggerRule(domain.TriggerRuleOneFailed, stats(1, 0, 0, 3)); got != DecisionWait {
		t.Errorf("pending: expected wait, got %s", got)
	}
}

func TestEvaluateTriggerRule_NoneFailed(t *testing.T) {
	if got := EvaluateTriggerRule(domain.TriggerRuleNoneFailed, stats(1, 0, 1, 2)); got != DecisionReady {
		t.Errorf("success plus skipped: expected ready, got %s", got)
	}
	if got := EvaluateTriggerRule(domain.TriggerRuleNoneFailed, stats(0, 1, 0, 2)); got != DecisionUpstreamFailed {
		t.Errorf("failure present: expected upstream_failed, got %s", got)
	}
	if got := EvaluateTriggerRule(domain.TriggerRuleNoneFailed, stats(1, 0, 0, 2)); got != DecisionWait {
		t.Errorf("pending: expected wait, got %s", got)
	}
}

func TestEvaluateTriggerRule_Always(t *testing.T) {
	// always не ждёт никого
	if got := EvaluateTriggerRule(domain.TriggerRuleAlways, stats(0, 0, 0, 5)); got != DecisionReady {
		t.Errorf("expected ready, got %s", got)
	}
}

func TestEvaluateTriggerRule_DefaultRule(t *testing.T) {
	// Пустое правило трактуется как all_success
	if got := EvaluateTriggerRule("", stats(1, 1, 0, 2)); got != DecisionUpstreamFailed {
		t.Errorf("expected upstream_failed, got %s", got)
	}
}

func TestCollectUpstreamStats(t *testing.T) {
	states := []domain.TIState{
		domain.TIStateSuccess,
		domain.TIStateFailed,
		domain.TIStateSkipped,
		domain.TIStateRunning,
		domain.TIStateUpstreamFailed,
		domain.TIStateRemoved,
	}

	s := CollectUpstreamStats(states)

	// REMOVED не участвует в подсчёте
	if s.Total != 5 {
		t.Errorf("expected total 5, got %d", s.Total)
	}
	if s.Success != 1 {
		t.Errorf("expected 1 success, got %d", s.Success)
	}
	// UPSTREAM_FAILED учитывается как отказ
	if s.Failed != 2 {
		t.Errorf("expected 2 failed, got %d", s.Failed)
	}
	if s.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", s.Skipped)
	}
	if s.Done() != 4 {
		t.Errorf("expected 4 done, got %d", s.Done())
	}
	if s.AllDone() {
		t.Error("stats should not be all done while one upstream is running")
	}
}
