// Package engine содержит чистую логику вычислений над DagSpec:
//
//   - graph.go — построение графа задач, топологическая сортировка,
//     обнаружение циклов
//   - trigger.go — вычисление готовности задач по trigger rules
//   - validate.go — структурная валидация DagSpec
//   - template.go — рендеринг конфигураций и expand-списков (Go templates)
//   - links.go — ленивое разрешение extra links
//
// Пакет не зависит от БД и очередей — только от domain.
// Используется оркестратором и API.
package engine
