// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений: маршруты по типу сообщения
//     с decode payload до обработчика и политикой requeue на маршрут
//
// Типы сообщений:
//   - run.queued    — новый запуск dag ожидает обработки
//   - ti.queued     — экземпляр задачи отдан на выполнение
//   - ti.completed  — экземпляр задачи завершён
//
// Exchanges:
//   - konveyer.runs — события запусков
//   - konveyer.tis  — события экземпляров задач
//   - konveyer.dlq  — dead letter queue
package mq
