// Package orchestrator управляет выполнением dag runs.
//
// Orchestrator отвечает за:
//   - Получение новых runs из очереди RabbitMQ
//   - Построение графа задач из версии dag
//   - Вычисление trigger rules и перевод готовых задач в SCHEDULED
//   - Развёртывание mapped-задач в группы instances
//   - Отслеживание завершения instances и retry после backoff
//   - Финализацию run (SUCCESS/FAILED)
//
// Orchestrator — это "мозг" системы, который координирует выполнение.
package orchestrator
