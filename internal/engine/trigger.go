package engine

import (
	"github.com/shaiso/Konveyer/internal/domain"
)

// Decision — решение о готовности задачи относительно её upstream states.
type Decision int

const (
	// DecisionWait — не все upstream завершены, решение ещё не принято.
	DecisionWait Decision = iota

	// DecisionReady — задачу можно планировать.
	DecisionReady

	// DecisionSkip — условие правила невыполнимо, задача пропускается.
	DecisionSkip

	// DecisionUpstreamFailed — upstream упал, задача не будет выполнена.
	DecisionUpstreamFailed
)

// String возвращает строковое представление Decision.
func (d Decision) String() string {
	switch d {
	case DecisionWait:
		return "wait"
	case DecisionReady:
		return "ready"
	case DecisionSkip:
		return "skip"
	case DecisionUpstreamFailed:
		return "upstream_failed"
	default:
		return "unknown"
	}
}

// UpstreamStats — сводка по терминальным статусам upstream instances.
type UpstreamStats struct {
	// Total — общее количество upstream instances (без REMOVED).
	Total int

	// Success — количество SUCCESS.
	Success int

	// Failed — количество FAILED + UPSTREAM_FAILED.
	Failed int

	// Skipped — количество SKIPPED.
	Skipped int
}

// Done возвращает количество завершённых upstream.
func (s UpstreamStats) Done() int {
	return s.Success + s.Failed + s.Skipped
}

// AllDone возвращает true, если все upstream в терминальном статусе.
func (s UpstreamStats) AllDone() bool {
	return s.Done() >= s.Total
}

// CollectUpstreamStats сворачивает список upstream статусов в сводку.
// REMOVED instances не учитываются.
func CollectUpstreamStats(states []domain.TIState) UpstreamStats {
	var stats UpstreamStats
	for _, st := range states {
		if st == domain.TIStateRemoved {
			continue
		}
		stats.Total++
		switch {
		case st == domain.TIStateSuccess:
			stats.Success++
		case st.IsFailure():
			stats.Failed++
		case st == domain.TIStateSkipped:
			stats.Skipped++
		}
	}
	return stats
}

// EvaluateTriggerRule вычисляет готовность задачи по правилу и сводке upstream.
//
// Семантика правил:
//   - all_success: все SUCCESS → ready; любой failed → upstream_failed;
//     любой skipped → skip; иначе wait.
//   - all_failed: все failed → ready; любой success или skipped → skip;
//     иначе wait.
//   - all_done: все завершены → ready; иначе wait.
//   - one_success: первый success → ready; все завершены без success → skip.
//   - one_failed: первый failed → ready; все завершены без failed → skip.
//   - none_failed: все завершены и нет failed → ready (skipped допускается);
//     любой failed → upstream_failed.
//   - always: ready сразу.
//
// Задача без upstream готова при all_* правилах (пустое множество
// удовлетворяет условию), а при one_success/one_failed пропускается.
func EvaluateTriggerRule(rule domain.TriggerRule, stats UpstreamStats) Decision {
	if rule == "" {
		rule = domain.DefaultTriggerRule
	}

	switch rule {
	case domain.TriggerRuleAlways:
		return DecisionReady

	case domain.TriggerRuleAllSuccess:
		if stats.Failed > 0 {
			return DecisionUpstreamFailed
		}
		if stats.Skipped > 0 {
			return DecisionSkip
		}
		if stats.Success >= stats.Total {
			return DecisionReady
		}
		return DecisionWait

	case domain.TriggerRuleAllFailed:
		if stats.Success > 0 || stats.Skipped > 0 {
			return DecisionSkip
		}
		if stats.Failed >= stats.Total {
			return DecisionReady
		}
		return DecisionWait

	case domain.TriggerRuleAllDone:
		if stats.AllDone() {
			return DecisionReady
		}
		return DecisionWait

	case domain.TriggerRuleOneSuccess:
		if stats.Success > 0 {
			return DecisionReady
		}
		if stats.AllDone() {
			return DecisionSkip
		}
		return DecisionWait

	case domain.TriggerRuleOneFailed:
		if stats.Failed > 0 {
			return DecisionReady
		}
		if stats.AllDone() {
			return DecisionSkip
		}
		return DecisionWait

	case domain.TriggerRuleNoneFailed:
		if stats.Failed > 0 {
			return DecisionUpstreamFailed
		}
		if stats.AllDone() {
			return DecisionReady
		}
		return DecisionWait

	default:
		// Неизвестное правило отсекается валидацией; здесь консервативно ждём.
		return DecisionWait
	}
}
