// Package scheduler отвечает за время: когда создавать scheduled
// runs и когда отдавать готовые задачи worker'ам.
//
// Структура:
//   - scheduler.go  — тик планировщика: due dags -> scheduled runs
//   - cron.go       — расписания (cron/interval), интервалы данных
//   - dispatcher.go — критическая секция: SCHEDULED -> QUEUED с лимитами
//
// Планировщик идемпотентен: run_id scheduled-запуска детерминирован
// от logical date, повторный тик не создаст дубликат.
package scheduler
