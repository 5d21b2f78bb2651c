package domain

import "testing"

func TestTIState_IsTerminal(t *testing.T) {
	terminal := []TIState{
		TIStateSuccess, TIStateFailed, TIStateSkipped,
		TIStateUpstreamFailed, TIStateRemoved,
	}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	nonTerminal := []TIState{
		TIStateNone, TIStateScheduled, TIStateQueued,
		TIStateRunning, TIStateUpForRetry,
	}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestTIState_IsFailure(t *testing.T) {
	if !TIStateFailed.IsFailure() || !TIStateUpstreamFailed.IsFailure() {
		t.Error("FAILED and UPSTREAM_FAILED should count as failures")
	}
	if TIStateSkipped.IsFailure() || TIStateUpForRetry.IsFailure() {
		t.Error("SKIPPED and UP_FOR_RETRY should not count as failures")
	}
}

func TestTIState_OccupiesSlot(t *testing.T) {
	if !TIStateQueued.OccupiesSlot() || !TIStateRunning.OccupiesSlot() {
		t.Error("QUEUED and RUNNING should occupy pool slots")
	}
	if TIStateScheduled.OccupiesSlot() || TIStateUpForRetry.OccupiesSlot() {
		t.Error("SCHEDULED and UP_FOR_RETRY should not occupy pool slots")
	}
}

func TestDagRunState_IsTerminal(t *testing.T) {
	if !DagRunStateSuccess.IsTerminal() || !DagRunStateFailed.IsTerminal() {
		t.Error("SUCCESS and FAILED should be terminal")
	}
	if DagRunStateQueued.IsTerminal() || DagRunStateRunning.IsTerminal() {
		t.Error("QUEUED and RUNNING should not be terminal")
	}
}

func TestTriggerRule_IsValid(t *testing.T) {
	valid := []TriggerRule{
		TriggerRuleAllSuccess, TriggerRuleAllFailed, TriggerRuleAllDone,
		TriggerRuleOneSuccess, TriggerRuleOneFailed, TriggerRuleNoneFailed,
		TriggerRuleAlways,
	}
	for _, r := range valid {
		if !r.IsValid() {
			t.Errorf("%s should be valid", r)
		}
	}

	if TriggerRule("").IsValid() {
		t.Error("empty rule should not be valid")
	}
	if TriggerRule("sometimes").IsValid() {
		t.Error("unknown rule should not be valid")
	}
}

func TestReduceGroupState(t *testing.T) {
	cases := []struct {
		name   string
		states []TIState
		want   TIState
	}{
		{"all success", []TIState{TIStateSuccess, TIStateSuccess}, TIStateSuccess},
		{"one running", []TIState{TIStateSuccess, TIStateRunning}, TIStateRunning},
		{"one queued", []TIState{TIStateSuccess, TIStateQueued}, TIStateRunning},
		{"failed wins over success", []TIState{TIStateSuccess, TIStateFailed}, TIStateFailed},
		{"failed wins over upstream_failed", []TIState{TIStateUpstreamFailed, TIStateFailed}, TIStateFailed},
		{"upstream_failed wins over success", []TIState{TIStateSuccess, TIStateUpstreamFailed}, TIStateUpstreamFailed},
		{"success wins over skipped", []TIState{TIStateSkipped, TIStateSuccess}, TIStateSuccess},
		{"all skipped", []TIState{TIStateSkipped, TIStateSkipped}, TIStateSkipped},
		{"removed ignored", []TIState{TIStateRemoved, TIStateSuccess}, TIStateSuccess},
		{"only removed", []TIState{TIStateRemoved}, TIStateSkipped},
		{"empty group", nil, TIStateSkipped},
		{"up_for_retry keeps group running", []TIState{TIStateSuccess, TIStateUpForRetry}, TIStateRunning},
	}

	for _, tc := range cases {
		if got := ReduceGroupState(tc.states); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}
