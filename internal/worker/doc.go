// Package worker выполняет попытки task instances.
//
// Структура:
//   - worker.go            — жизненный цикл: consumer tis.queued + polling fallback
//   - handlers.go          — одна попытка: RUNNING -> SUCCESS/FAILED, публикация ti.completed
//   - executor.go          — интерфейс Executor и реестр по типу задачи
//   - http_executor.go     — задачи типа "http"
//   - delay_executor.go    — задачи типа "delay"
//   - transform_executor.go — задачи типа "transform"
//
// Worker выполняет ровно одну попытку на событие: решение о повторной
// попытке принимает оркестратор по флагу Retryable в ti.completed.
// Лог каждой попытки пишется в logstore отдельным файлом.
package worker
