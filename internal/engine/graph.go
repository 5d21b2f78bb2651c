package engine

import (
	"github.com/shaiso/Konveyer/internal/domain"
)

// Node — узел графа задач.
type Node struct {
	// Task — определение задачи из DagSpec.
	Task *domain.TaskDef

	// ID — идентификатор узла (совпадает с Task.TaskID).
	ID string

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// Upstream — узлы, от которых зависит этот узел.
	Upstream []*Node

	// Downstream — узлы, которые зависят от этого узла.
	Downstream []*Node
}

// IsMapped возвращает true для узла mapped-задачи.
func (n *Node) IsMapped() bool {
	return n.Task != nil && n.Task.IsMapped()
}

// Graph — направленный ациклический граф задач dag.
type Graph struct {
	// Nodes — все узлы графа (taskID → Node).
	Nodes map[string]*Node

	// Roots — узлы без зависимостей (точки входа).
	Roots []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node
}

// BuildGraph строит граф из DagSpec.
//
// Проверяет ссылочную целостность depends_on и отсутствие циклов;
// структурная валидация полей выполняется отдельно через Validate.
func BuildGraph(spec *domain.DagSpec) (*Graph, error) {
	g := &Graph{
		Nodes: make(map[string]*Node, len(spec.Tasks)),
		Roots: make([]*Node, 0),
	}

	// Первый проход: создаём все узлы
	for i := range spec.Tasks {
		task := &spec.Tasks[i]
		g.Nodes[task.TaskID] = &Node{
			Task:       task,
			ID:         task.TaskID,
			Upstream:   make([]*Node, 0),
			Downstream: make([]*Node, 0),
		}
	}

	// Второй проход: связываем узлы по зависимостям
	for i := range spec.Tasks {
		task := &spec.Tasks[i]
		node := g.Nodes[task.TaskID]

		for _, depID := range task.DependsOn {
			depNode, exists := g.Nodes[depID]
			if !exists {
				return nil, NewValidationError(task.TaskID, "depends_on",
					"depends on unknown task: "+depID, ErrMissingDependency)
			}
			g.addEdge(depNode, node)
		}
	}

	g.findRoots()

	// Проверяем на циклы и строим топологический порядок
	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.Order = order

	return g, nil
}

// addEdge добавляет ребро между узлами.
// Дубликаты игнорируются, чтобы не удваивать InDegree.
func (g *Graph) addEdge(from, to *Node) {
	for _, up := range to.Upstream {
		if up.ID == from.ID {
			return
		}
	}
	from.Downstream = append(from.Downstream, to)
	to.Upstream = append(to.Upstream, from)
	to.InDegree++
}

// findRoots находит узлы без входящих рёбер.
func (g *Graph) findRoots() {
	g.Roots = make([]*Node, 0)
	for _, node := range g.Nodes {
		if node.InDegree == 0 {
			g.Roots = append(g.Roots, node)
		}
	}
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func (g *Graph) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	for id, node := range g.Nodes {
		inDegree[id] = node.InDegree
	}

	queue := make([]*Node, len(g.Roots))
	copy(queue, g.Roots)

	order := make([]*Node, 0, len(g.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, down := range node.Downstream {
			inDegree[down.ID]--
			if inDegree[down.ID] == 0 {
				queue = append(queue, down)
			}
		}
	}

	// Если не все узлы обработаны — есть цикл
	if len(order) != len(g.Nodes) {
		return nil, ErrCyclicDependency
	}

	return order, nil
}

// GetNode возвращает узел по task_id.
func (g *Graph) GetNode(id string) *Node {
	return g.Nodes[id]
}

// Size возвращает количество узлов.
func (g *Graph) Size() int {
	return len(g.Nodes)
}
