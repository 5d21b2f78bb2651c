// Package logstore хранит логи попыток выполнения экземпляров задач.
//
// Каждая попытка пишется в отдельный файл:
//
//	{base}/{dag_id}/{run_id}/{task_id}/{map_index}/{try}.log
//
// Worker дописывает строки во время выполнения, API отдаёт
// содержимое (полное или хвост) через endpoint логов.
package logstore
