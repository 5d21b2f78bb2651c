package domain

// DagRunState — статус выполнения dag run.
//
// Жизненный цикл:
//
//	QUEUED → RUNNING → SUCCESS
//	                 ↘ FAILED
type DagRunState string

const (
	// DagRunStateQueued — run создан, но оркестратор его ещё не подхватил.
	DagRunStateQueued DagRunState = "QUEUED"

	// DagRunStateRunning — run в процессе выполнения.
	DagRunStateRunning DagRunState = "RUNNING"

	// DagRunStateSuccess — все task instances завершились без ошибок.
	DagRunStateSuccess DagRunState = "SUCCESS"

	// DagRunStateFailed — хотя бы один task instance завершился с FAILED.
	DagRunStateFailed DagRunState = "FAILED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s DagRunState) IsTerminal() bool {
	switch s {
	case DagRunStateSuccess, DagRunStateFailed:
		return true
	default:
		return false
	}
}

// TIState — статус выполнения task instance.
//
// Жизненный цикл:
//
//	NONE → SCHEDULED → QUEUED → RUNNING → SUCCESS
//	                                    ↘ FAILED
//	                                    ↘ UP_FOR_RETRY → SCHEDULED (после backoff)
//	NONE → SKIPPED           (trigger rule или пустая expansion)
//	NONE → UPSTREAM_FAILED   (зависимость упала)
//	NONE → REMOVED           (mapped группа сжалась при повторной expansion)
type TIState string

const (
	// TIStateNone — instance создан, зависимости ещё не удовлетворены.
	TIStateNone TIState = "NONE"

	// TIStateScheduled — зависимости удовлетворены, instance ждёт свободный слот.
	TIStateScheduled TIState = "SCHEDULED"

	// TIStateQueued — dispatcher выделил слот, instance в очереди воркеров.
	TIStateQueued TIState = "QUEUED"

	// TIStateRunning — instance выполняется воркером.
	TIStateRunning TIState = "RUNNING"

	// TIStateSuccess — попытка завершилась успешно.
	TIStateSuccess TIState = "SUCCESS"

	// TIStateFailed — попытка упала и retry исчерпаны.
	TIStateFailed TIState = "FAILED"

	// TIStateUpForRetry — попытка упала, будет повторена после задержки.
	TIStateUpForRetry TIState = "UP_FOR_RETRY"

	// TIStateSkipped — instance пропущен (trigger rule, пустая expansion).
	TIStateSkipped TIState = "SKIPPED"

	// TIStateUpstreamFailed — instance не будет выполнен из-за упавшей зависимости.
	TIStateUpstreamFailed TIState = "UPSTREAM_FAILED"

	// TIStateRemoved — mapped instance за пределами текущей длины expansion.
	TIStateRemoved TIState = "REMOVED"
)

// IsTerminal возвращает true, если статус финальный.
// UP_FOR_RETRY не финальный — instance вернётся в SCHEDULED.
func (s TIState) IsTerminal() bool {
	switch s {
	case TIStateSuccess, TIStateFailed, TIStateSkipped, TIStateUpstreamFailed, TIStateRemoved:
		return true
	default:
		return false
	}
}

// IsFailure возвращает true для статусов, которые считаются провалом
// при вычислении trigger rules и финализации run.
func (s TIState) IsFailure() bool {
	return s == TIStateFailed || s == TIStateUpstreamFailed
}

// OccupiesSlot возвращает true, если instance в этом статусе занимает
// слот пула и учитывается в лимитах параллелизма.
func (s TIState) OccupiesSlot() bool {
	return s == TIStateQueued || s == TIStateRunning
}

// TriggerRule — правило готовности task относительно состояний upstream instances.
type TriggerRule string

const (
	// TriggerRuleAllSuccess — все upstream завершились SUCCESS (default).
	TriggerRuleAllSuccess TriggerRule = "all_success"

	// TriggerRuleAllFailed — все upstream завершились FAILED/UPSTREAM_FAILED.
	TriggerRuleAllFailed TriggerRule = "all_failed"

	// TriggerRuleAllDone — все upstream в терминальном статусе, любой исход.
	TriggerRuleAllDone TriggerRule = "all_done"

	// TriggerRuleOneSuccess — хотя бы один upstream завершился SUCCESS.
	TriggerRuleOneSuccess TriggerRule = "one_success"

	// TriggerRuleOneFailed — хотя бы один upstream упал.
	TriggerRuleOneFailed TriggerRule = "one_failed"

	// TriggerRuleNoneFailed — все upstream завершились и ни один не упал
	// (SKIPPED допускается).
	TriggerRuleNoneFailed TriggerRule = "none_failed"

	// TriggerRuleAlways — task готов сразу, upstream не учитываются.
	TriggerRuleAlways TriggerRule = "always"
)

// DefaultTriggerRule — правило по умолчанию, если не задано в TaskDef.
const DefaultTriggerRule = TriggerRuleAllSuccess

// IsValid проверяет, что правило известно.
func (r TriggerRule) IsValid() bool {
	switch r {
	case TriggerRuleAllSuccess, TriggerRuleAllFailed, TriggerRuleAllDone,
		TriggerRuleOneSuccess, TriggerRuleOneFailed, TriggerRuleNoneFailed,
		TriggerRuleAlways:
		return true
	default:
		return false
	}
}

// ReduceGroupState сворачивает статусы mapped-группы в один агрегатный статус.
//
// REMOVED instances игнорируются. Пока хотя бы один instance не завершён,
// группа считается RUNNING. Пустая группа — SKIPPED.
func ReduceGroupState(states []TIState) TIState {
	var hasFailed, hasUpstreamFailed, hasSuccess, hasSkipped bool

	for _, s := range states {
		if s == TIStateRemoved {
			continue
		}
		if !s.IsTerminal() {
			return TIStateRunning
		}
		switch s {
		case TIStateFailed:
			hasFailed = true
		case TIStateUpstreamFailed:
			hasUpstreamFailed = true
		case TIStateSuccess:
			hasSuccess = true
		case TIStateSkipped:
			hasSkipped = true
		}
	}

	switch {
	case hasFailed:
		return TIStateFailed
	case hasUpstreamFailed:
		return TIStateUpstreamFailed
	case hasSuccess:
		return TIStateSuccess
	case hasSkipped:
		return TIStateSkipped
	default:
		return TIStateSkipped
	}
}
