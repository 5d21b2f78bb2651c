package orchestrator

import (
	"fmt"
	"sync"

	"github.com/shaiso/Konveyer/internal/domain"
	"github.com/shaiso/Konveyer/internal/engine"
)

// RunState — состояние выполнения одного dag run в памяти.
//
// RunState создаётся когда Orchestrator начинает обработку run
// и удаляется когда run завершается (SUCCESS/FAILED).
//
// Содержит:
//   - Кэш данных из БД (DagRun, DagVersion)
//   - Построенный граф зависимостей
//   - Контекст для шаблонов (с outputs завершённых задач)
//   - Статусы всех task instances (taskID → mapIndex → state)
type RunState struct {
	// Run — данные run из БД.
	Run *domain.DagRun

	// Version — версия dag с DagSpec.
	Version *domain.DagVersion

	// Graph — граф зависимостей задач.
	Graph *engine.Graph

	// Context — контекст для рендеринга шаблонов.
	Context *engine.Context

	// states — статусы instances (taskID → mapIndex → state).
	// До решения по задаче под mapIndex -1 лежит placeholder NONE.
	states map[string]map[int]domain.TIState

	// outputs — результаты instances (taskID → mapIndex → outputs).
	outputs map[string]map[int]map[string]any

	// decided — задачи, по которым принято решение
	// (SCHEDULED / SKIPPED / UPSTREAM_FAILED / expansion).
	decided map[string]bool

	// expanded — mapped-задачи, уже развёрнутые в группу.
	expanded map[string]bool

	mu sync.RWMutex
}

// TaskDecision — решение по одной задаче при обходе графа.
type TaskDecision struct {
	Node     *engine.Node
	Decision engine.Decision
}

// NewRunState создаёт новый RunState.
func NewRunState(run *domain.DagRun, version *domain.DagVersion) *RunState {
	return &RunState{
		Run:      run,
		Version:  version,
		states:   make(map[string]map[int]domain.TIState),
		outputs:  make(map[string]map[int]map[string]any),
		decided:  make(map[string]bool),
		expanded: make(map[string]bool),
	}
}

// Initialize валидирует DagSpec, строит граф и создаёт контекст.
// Все задачи получают placeholder instance в статусе NONE.
func (s *RunState) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec := &s.Version.Spec

	if err := engine.Validate(spec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDagSpec, err)
	}

	graph, err := engine.BuildGraph(spec)
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}
	s.Graph = graph

	s.Context = engine.NewContext(
		s.Run.DagID,
		s.Run.RunID,
		s.Run.LogicalDate,
		s.Run.DataIntervalStart,
		s.Run.DataIntervalEnd,
		s.Run.Conf,
	)

	for id := range graph.Nodes {
		s.states[id] = map[int]domain.TIState{domain.MapIndexNone: domain.TIStateNone}
	}

	return nil
}

// PendingDecisions обходит граф в топологическом порядке и возвращает
// решения по задачам, которые ещё не решены.
func (s *RunState) PendingDecisions() []TaskDecision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var decisions []TaskDecision
	for _, node := range s.Graph.Order {
		if s.decided[node.ID] {
			continue
		}

		upstream := make([]domain.TIState, 0, len(node.Upstream))
		for _, up := range node.Upstream {
			upstream = append(upstream, s.aggregatedStateLocked(up.ID))
		}

		stats := engine.CollectUpstreamStats(upstream)
		decision := engine.EvaluateTriggerRule(node.Task.EffectiveTriggerRule(), stats)
		if decision == engine.DecisionWait {
			continue
		}

		decisions = append(decisions, TaskDecision{Node: node, Decision: decision})
	}
	return decisions
}

// aggregatedStateLocked сворачивает статусы instances задачи.
// Для обычной задачи это статус единственного instance, для mapped
// группы — свёртка ReduceGroupState. Вызывается под мьютексом.
func (s *RunState) aggregatedStateLocked(taskID string) domain.TIState {
	instances := s.states[taskID]
	if len(instances) == 0 {
		return domain.TIStateNone
	}

	if st, ok := instances[domain.MapIndexNone]; ok && len(instances) == 1 {
		return st
	}

	group := make([]domain.TIState, 0, len(instances))
	for idx, st := range instances {
		if idx == domain.MapIndexNone {
			continue
		}
		group = append(group, st)
	}
	return domain.ReduceGroupState(group)
}

// AggregatedState — потокобезопасная версия aggregatedStateLocked.
func (s *RunState) AggregatedState(taskID string) domain.TIState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aggregatedStateLocked(taskID)
}

// MarkDecided фиксирует, что по задаче принято решение.
func (s *RunState) MarkDecided(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decided[taskID] = true
}

// MarkExpanded фиксирует развёртывание mapped-задачи в группу из n
// instances. Placeholder заменяется индексами 0..n-1. Уже известные
// статусы индексов сохраняются: повторное развёртывание после рестарта
// дозаполняет группу, не сбрасывая выполненные элементы. Индексы за
// пределами n удаляются вместе со своими outputs.
func (s *RunState) MarkExpanded(taskID string, n int, state domain.TIState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.decided[taskID] = true
	s.expanded[taskID] = true

	instances := s.states[taskID]
	if instances == nil {
		instances = make(map[int]domain.TIState, n)
		s.states[taskID] = instances
	}
	delete(instances, domain.MapIndexNone)

	for i := 0; i < n; i++ {
		if _, ok := instances[i]; !ok {
			instances[i] = state
		}
	}
	for idx := range instances {
		if idx >= n {
			delete(instances, idx)
			delete(s.outputs[taskID], idx)
		}
	}
}

// IsExpanded проверяет, развёрнута ли mapped-задача.
func (s *RunState) IsExpanded(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expanded[taskID]
}

// SetInstanceState выставляет статус одного instance.
func (s *RunState) SetInstanceState(taskID string, mapIndex int, state domain.TIState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setInstanceStateLocked(taskID, mapIndex, state)
}

func (s *RunState) setInstanceStateLocked(taskID string, mapIndex int, state domain.TIState) {
	instances, ok := s.states[taskID]
	if !ok {
		instances = make(map[int]domain.TIState)
		s.states[taskID] = instances
	}
	instances[mapIndex] = state
}

// RecordResult фиксирует терминальный статус instance с результатами.
// Когда вся задача (или вся mapped-группа) завершена, её свёрнутый
// результат добавляется в контекст шаблонов downstream задач.
func (s *RunState) RecordResult(taskID string, mapIndex int, state domain.TIState, outputs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setInstanceStateLocked(taskID, mapIndex, state)

	if outputs != nil {
		if s.outputs[taskID] == nil {
			s.outputs[taskID] = make(map[int]map[string]any)
		}
		s.outputs[taskID][mapIndex] = outputs
	}

	agg := s.aggregatedStateLocked(taskID)
	if agg.IsTerminal() {
		s.Context.AddTaskResult(taskID, s.collectOutputsLocked(taskID), string(agg))
	}
}

// collectOutputsLocked собирает результаты задачи для контекста.
// Обычная задача отдаёт outputs как есть, mapped-группа — список
// outputs по возрастанию map_index под ключом "items".
func (s *RunState) collectOutputsLocked(taskID string) map[string]any {
	if !s.expanded[taskID] {
		return s.outputs[taskID][domain.MapIndexNone]
	}

	n := len(s.states[taskID])
	items := make([]any, 0, n)
	for i := 0; i < n; i++ {
		if out, ok := s.outputs[taskID][i]; ok {
			items = append(items, out)
		} else {
			items = append(items, nil)
		}
	}
	return map[string]any{"items": items}
}

// GroupSize возвращает размер mapped-группы задачи.
func (s *RunState) GroupSize(taskID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.expanded[taskID] {
		return 0
	}
	return len(s.states[taskID])
}

// IsComplete проверяет, все ли задачи в терминальном статусе.
func (s *RunState) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id := range s.Graph.Nodes {
		if !s.aggregatedStateLocked(id).IsTerminal() {
			return false
		}
	}
	return true
}

// FailedTasks возвращает задачи со свёрнутым статусом FAILED.
// UPSTREAM_FAILED не включается: причина провала — сама упавшая задача.
func (s *RunState) FailedTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var failed []string
	for _, node := range s.Graph.Order {
		if s.aggregatedStateLocked(node.ID) == domain.TIStateFailed {
			failed = append(failed, node.ID)
		}
	}
	return failed
}

// HasFailed проверяет, есть ли упавшие задачи.
func (s *RunState) HasFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id := range s.Graph.Nodes {
		if s.aggregatedStateLocked(id) == domain.TIStateFailed {
			return true
		}
	}
	return false
}

// DagID возвращает dag_id run.
func (s *RunState) DagID() string {
	return s.Run.DagID
}

// RunID возвращает run_id.
func (s *RunState) RunID() string {
	return s.Run.RunID
}

// Stats возвращает статистику выполнения.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats RunStats
	for _, instances := range s.states {
		for _, st := range instances {
			stats.TotalInstances++
			switch {
			case st == domain.TIStateSuccess:
				stats.Succeeded++
			case st.IsFailure():
				stats.Failed++
			case st == domain.TIStateSkipped:
				stats.Skipped++
			case st == domain.TIStateRunning || st == domain.TIStateQueued:
				stats.Running++
			}
		}
	}
	return stats
}

// RunStats — статистика выполнения run.
type RunStats struct {
	TotalInstances int
	Succeeded      int
	Failed         int
	Skipped        int
	Running        int
}

// RestoreFromInstances восстанавливает состояние из списка instances
// (после рестарта оркестратора).
func (s *RunState) RestoreFromInstances(tis []domain.TaskInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Первый проход: статусы и факт expansion
	for i := range tis {
		ti := &tis[i]
		if ti.MapIndex >= 0 {
			s.expanded[ti.TaskID] = true
			delete(s.states[ti.TaskID], domain.MapIndexNone)
		}
		s.setInstanceStateLocked(ti.TaskID, ti.MapIndex, ti.State)
		if ti.State != domain.TIStateNone {
			s.decided[ti.TaskID] = true
		}
		if ti.Outputs != nil {
			if s.outputs[ti.TaskID] == nil {
				s.outputs[ti.TaskID] = make(map[int]map[string]any)
			}
			s.outputs[ti.TaskID][ti.MapIndex] = ti.Outputs
		}
	}

	// Второй проход: контекст для завершённых задач
	for id := range s.Graph.Nodes {
		agg := s.aggregatedStateLocked(id)
		if agg.IsTerminal() {
			s.Context.AddTaskResult(id, s.collectOutputsLocked(id), string(agg))
		}
	}
}
