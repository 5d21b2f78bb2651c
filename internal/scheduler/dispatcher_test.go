package scheduler

import (
	"testing"

	"github.com/shaiso/Konveyer/internal/domain"
)

func testSlots() *slotState {
	return &slotState{
		poolSlots:    map[string]int{"default_pool": 4, "api_pool": 1},
		poolOccupied: map[string]int{},
		dagOccupied:  map[string]int{},
		dagLimits:    map[string]int{"etl": 2},
		total:        0,
	}
}

func testInstance(dagID, pool string) *domain.TaskInstance {
	return &domain.TaskInstance{
		DagID:    dagID,
		RunID:    "r1",
		TaskID:   "t1",
		MapIndex: domain.MapIndexNone,
		State:    domain.TIStateScheduled,
		Pool:     pool,
	}
}

func TestDispatcherAdmit_OK(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Parallelism: 8})

	if reason := d.admit(testSlots(), testInstance("etl", "default_pool")); reason != "" {
		t.Errorf("expected admission, got rejection: %s", reason)
	}
}

func TestDispatcherAdmit_Parallelism(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Parallelism: 2})
	slots := testSlots()
	slots.total = 2

	if reason := d.admit(slots, testInstance("etl", "default_pool")); reason != "parallelism" {
		t.Errorf("expected parallelism rejection, got %q", reason)
	}
}

func TestDispatcherAdmit_PoolExhausted(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Parallelism: 8})
	slots := testSlots()
	slots.poolOccupied["api_pool"] = 1

	if reason := d.admit(slots, testInstance("etl", "api_pool")); reason != "pool" {
		t.Errorf("expected pool rejection, got %q", reason)
	}
}

func TestDispatcherAdmit_MaxActiveTasks(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Parallelism: 8})
	slots := testSlots()
	slots.dagOccupied["etl"] = 2

	if reason := d.admit(slots, testInstance("etl", "default_pool")); reason != "max_active_tasks" {
		t.Errorf("expected max_active_tasks rejection, got %q", reason)
	}

	// dag без лимита (0) не ограничивается
	slots.dagOccupied["adhoc"] = 100
	if reason := d.admit(slots, testInstance("adhoc", "default_pool")); reason != "" {
		t.Errorf("dag without limit should be admitted, got %q", reason)
	}
}

func TestDispatcherAdmit_DeletedPool(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Parallelism: 8})
	slots := testSlots()

	// Пул удалён после планирования: задача не должна застрять навсегда
	ti := testInstance("etl", "ghost_pool")
	if reason := d.admit(slots, ti); reason != "" {
		t.Errorf("expected fallback admission, got %q", reason)
	}
	if slots.poolSlots["ghost_pool"] != domain.DefaultPoolSlots {
		t.Errorf("expected default pool size fallback, got %d", slots.poolSlots["ghost_pool"])
	}
}

func TestNewDispatcher_Defaults(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{})
	if d.parallelism != DefaultParallelism {
		t.Errorf("expected default parallelism %d, got %d", DefaultParallelism, d.parallelism)
	}
	if d.batchSize != 200 {
		t.Errorf("expected default batch size 200, got %d", d.batchSize)
	}
	if d.clock == nil {
		t.Error("expected real clock by default")
	}
}
