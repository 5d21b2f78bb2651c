package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Konveyer/internal/domain"
)

func TestBuildGraph_SimpleChain(t *testing.T) {
	spec := &domain.DagSpec{
		Tasks: []domain.TaskDef{
			{TaskID: "a", Type: "http"},
			{TaskID: "b", Type: "delay", DependsOn: []string{"a"}},
			{TaskID: "c", Type: "transform", DependsOn: []string{"b"}},
		},
	}

	g, err := BuildGraph(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Size() != 3 {
		t.Errorf("expected 3 nodes, got %d", g.Size())
	}

	if len(g.Roots) != 1 {
		t.Fatalf("expected 1 root node, got %d", len(g.Roots))
	}
	if g.Roots[0].ID != "a" {
		t.Errorf("expected root a, got %s", g.Roots[0].ID)
	}

	nodeB := g.GetNode("b")
	if len(nodeB.Upstream) != 1 || nodeB.Upstream[0].ID != "a" {
		t.Error("node b should depend on a")
	}

	nodeC := g.GetNode("c")
	if len(nodeC.Upstream) != 1 || nodeC.Upstream[0].ID != "b" {
		t.Error("node c should depend on b")
	}
}

func TestBuildGraph_Diamond(t *testing.T) {
	// a → b → d
	// a → c → d
	spec := &domain.DagSpec{
		Tasks: []domain.TaskDef{
			{TaskID: "a", Type: "http"},
			{TaskID: "b", Type: "http", DependsOn: []string{"a"}},
			{TaskID: "c", Type: "http", DependsOn: []string{"a"}},
			{TaskID: "d", Type: "http", DependsOn: []string{"b", "c"}},
		},
	}

	g, err := BuildGraph(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Size() != 4 {
		t.Errorf("expected 4 nodes, got %d", g.Size())
	}

	nodeD := g.GetNode("d")
	if len(nodeD.Upstream) != 2 {
		t.Errorf("node d should have 2 dependencies, got %d", len(nodeD.Upstream))
	}

	if g.GetNode("a").InDegree != 0 {
		t.Error("a should have inDegree 0")
	}
	if g.GetNode("b").InDegree != 1 {
		t.Error("b should have inDegree 1")
	}
	if g.GetNode("d").InDegree != 2 {
		t.Error("d should have inDegree 2")
	}
}

func TestBuildGraph_TopologicalOrder(t *testing.T) {
	spec := &domain.DagSpec{
		Tasks: []domain.TaskDef{
			{TaskID: "d", Type: "http", DependsOn: []string{"b", "c"}},
			{TaskID: "b", Type: "http", DependsOn: []string{"a"}},
			{TaskID: "c", Type: "http", DependsOn: []string{"a"}},
			{TaskID: "a", Type: "http"},
		},
	}

	g, err := BuildGraph(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pos := make(map[string]int, len(g.Order))
	for i, node := range g.Order {
		pos[node.ID] = i
	}

	// Каждый узел должен идти после всех своих upstream
	for _, node := range g.Order {
		for _, up := range node.Upstream {
			if pos[up.ID] > pos[node.ID] {
				t.Errorf("node %s ordered before its upstream %s", node.ID, up.ID)
			}
		}
	}
}

func TestBuildGraph_Cycle(t *testing.T) {
	spec := &domain.DagSpec{
		Tasks: []domain.TaskDef{
			{TaskID: "a", Type: "http", DependsOn: []string{"c"}},
			{TaskID: "b", Type: "http", DependsOn: []string{"a"}},
			{TaskID: "c", Type: "http", DependsOn: []string{"b"}},
		},
	}

	_, err := BuildGraph(spec)
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestBuildGraph_SelfLoop(t *testing.T) {
	spec := &domain.DagSpec{
		Tasks: []domain.TaskDef{
			{TaskID: "a", Type: "http", DependsOn: []string{"a"}},
		},
	}

	_, err := BuildGraph(spec)
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestBuildGraph_UnknownDependency(t *testing.T) {
	spec := &domain.DagSpec{
		Tasks: []domain.TaskDef{
			{TaskID: "a", Type: "http", DependsOn: []string{"ghost"}},
		},
	}

	_, err := BuildGraph(spec)
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
}

func TestBuildGraph_DuplicateEdge(t *testing.T) {
	spec := &domain.DagSpec{
		Tasks: []domain.TaskDef{
			{TaskID: "a", Type: "http"},
			{TaskID: "b", Type: "http", DependsOn: []string{"a", "a"}},
		},
	}

	g, err := BuildGraph(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Дубликат в depends_on не должен удваивать ребро
	if g.GetNode("b").InDegree != 1 {
		t.Errorf("expected inDegree 1, got %d", g.GetNode("b").InDegree)
	}
}

func TestBuildGraph_MappedNode(t *testing.T) {
	spec := &domain.DagSpec{
		Tasks: []domain.TaskDef{
			{TaskID: "fetch", Type: "http"},
			{TaskID: "process", Type: "transform", DependsOn: []string{"fetch"},
				ExpandOver: "{{ json .Tasks.fetch.Outputs.items }}"},
		},
	}

	g, err := BuildGraph(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.GetNode("fetch").IsMapped() {
		t.Error("fetch should not be mapped")
	}
	if !g.GetNode("process").IsMapped() {
		t.Error("process should be mapped")
	}
}
