// Package dagfile парсит YAML-описания dags.
//
// Файловый формат независим от доменных структур: он конвертируется
// в domain.Dag и domain.DagSpec с полной валидацией спецификации.
// Используется командой `konveyer dag apply -f file.yaml`.
package dagfile
