// Package cli реализует инструмент командной строки Konveyer.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Konveyer API.
// Работает через HTTP; единственный внутренний пакет, который она
// использует, — dagfile, чтобы `dag apply` мог разобрать YAML локально
// и отправить спецификацию в API как JSON.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Konveyer API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	dags, err := client.ListDags(cli.ListDagsOpts{})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: konveyer dag list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - dag:  list, show, apply, pause, unpause, versions
//   - run:  list, trigger, show, cancel, instances
//   - ti:   show, logs, rendered, links
//   - pool: list, create, show, set, delete
//
// Каждая группа создаётся через фабричную функцию (NewDagCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
