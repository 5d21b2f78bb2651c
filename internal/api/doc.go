// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go      — Handler с DI (репозитории, publisher, logstore, logger)
//   - routes.go       — регистрация маршрутов
//   - middleware.go   — middleware (logging, recovery)
//   - response.go     — унифицированные JSON-ответы и обработка ошибок
//   - dto.go          — Data Transfer Objects (request/response)
//   - dag_handler.go  — обработчики для /dags и /dags/{id}/versions
//   - run_handler.go  — обработчики для /dags/{id}/runs
//   - ti_handler.go   — обработчики для task instances (логи, links, rendered)
//   - pool_handler.go — обработчики для /pools
//
// API предоставляет REST endpoints для управления dags, runs,
// task instances и pools.
package api
