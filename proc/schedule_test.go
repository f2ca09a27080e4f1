package proc

import (
	"testing"

	"github.com/Aglay/yatos/defs"
)

// freshTask allocates a task outside the shared task table's normal
// fork path, for scheduler-only tests that don't need a real address
// space.
func freshTask(t *testing.T) *Task_t {
	tsk, err := New(nil)
	if err != 0 {
		t.Fatalf("New: %v", err)
	}
	return tsk
}

func TestScheduleRoundRobinFairness(t *testing.T) {
	runList.Init()
	timeUpList.Init()
	current = nil

	a := freshTask(t)
	b := freshTask(t)
	AddNew(a)
	AddNew(b)

	first, ok := Schedule()
	if !ok || first != a {
		t.Fatalf("expected a first, got %v ok=%v", first, ok)
	}
	second, ok := Schedule()
	if !ok || second != b {
		t.Fatalf("expected b second, got %v ok=%v", second, ok)
	}
	// both lists drained: nothing left runnable until one is readied again
	if _, ok := Schedule(); ok {
		t.Fatalf("expected no runnable task once both lists drain")
	}
}

func TestTickExhaustsQuantum(t *testing.T) {
	runList.Init()
	timeUpList.Init()
	current = nil

	a := freshTask(t)
	AddNew(a)
	Schedule()
	a.RemainClick = 1
	a.NeedSched = false

	Tick()
	if !a.NeedSched {
		t.Fatalf("expected NeedSched set once quantum hits zero")
	}
	if a.RemainClick != defs.MAX_TASK_RUN_CLICK {
		t.Fatalf("expected quantum refilled, got %v", a.RemainClick)
	}
}

func TestTickChargesAccounting(t *testing.T) {
	runList.Init()
	timeUpList.Init()
	current = nil

	a := freshTask(t)
	AddNew(a)
	Schedule()
	before := a.Accnt.Userns
	Tick()
	after := a.Accnt.Userns
	if after <= before {
		t.Fatalf("expected Userns to advance: before=%v after=%v", before, after)
	}
}

// TestRoundRobinMultiRoundCycle drives two tasks through a full
// exhaustion-and-swap cycle, not just two sequential Schedule() calls:
// both tasks burn their quantum via Tick(), landing on timeUpList, and
// checkRunListReload's pointer-swap must bring them back in the same
// order for round two.
func TestRoundRobinMultiRoundCycle(t *testing.T) {
	runList.Init()
	timeUpList.Init()
	current = nil

	a := freshTask(t)
	b := freshTask(t)
	AddNew(a)
	AddNew(b)

	first, ok := Schedule()
	if !ok || first != a {
		t.Fatalf("round 1: expected a first, got %v ok=%v", first, ok)
	}

	a.RemainClick = 1
	Tick()
	if !a.NeedSched {
		t.Fatalf("expected a's quantum exhaustion to request a reschedule")
	}
	CheckSchedule()
	if current != b {
		t.Fatalf("round 1: expected b second, got %v", current)
	}

	b.RemainClick = 1
	Tick()
	if !b.NeedSched {
		t.Fatalf("expected b's quantum exhaustion to request a reschedule")
	}
	CheckSchedule()
	if current != a {
		t.Fatalf("round 2: expected the list swap to bring a back around first, got %v", current)
	}
	if a.RemainClick != defs.MAX_TASK_RUN_CLICK {
		t.Fatalf("expected a's quantum refilled for round 2, got %v", a.RemainClick)
	}

	second, ok := Schedule()
	if !ok || second != b {
		t.Fatalf("round 2: expected b to follow a again, got %v ok=%v", second, ok)
	}
}

func TestBlockRemovesFromReadyList(t *testing.T) {
	runList.Init()
	timeUpList.Init()
	current = nil

	a := freshTask(t)
	AddNew(a)
	Block(a)
	if a.State != defs.Blocked {
		t.Fatalf("expected Blocked, got %v", a.State)
	}
	if _, ok := Schedule(); ok {
		t.Fatalf("expected no runnable task after Block")
	}
}
