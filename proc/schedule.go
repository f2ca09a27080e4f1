package proc

import (
	"container/list"
	"time"

	"github.com/Aglay/yatos/defs"
)

// / tickDuration is the nanosecond span a single timer tick represents,
// / used only to charge accnt.Accnt_t.Userns or Sysns — there is no real timer
// / hardware to read an actual elapsed duration from.
const tickDuration = int(time.Millisecond) * 10

// / runList holds tasks still owed time in the current scheduling
// / round; timeUpList holds tasks that have exhausted their quantum
// / and are waiting for the next round. Swapping the two when runList
// / drains is task_schedule_init's "ready_listA/ready_listB" trick
// / (schedule.c), done here by pointer-swapping rather than copying.
var runList = list.New()
var timeUpList = list.New()
var current *Task_t

// / checkRunListReload swaps runList and timeUpList when runList has
// / drained, giving every time-up'd task another quantum.
func checkRunListReload() {
	if runList.Len() == 0 {
		runList, timeUpList = timeUpList, runList
	}
}

// / AddNew pushes a freshly created task onto the run list and makes
// / it current if this is the very first task in the system. Mirrors
// / task_add_new_task.
func AddNew(t *Task_t) {
	tok := Irq_disable()
	defer Irq_restore(tok)
	t.State = defs.Running
	t.runEntry = runList.PushBack(t)
	if current == nil {
		current = t
	}
}

// / Block removes t from whichever ready list it is on (if Running)
// / and marks it Blocked. Mirrors task_block.
func Block(t *Task_t) {
	tok := Irq_disable()
	defer Irq_restore(tok)
	if t.State == defs.Running && t.runEntry != nil {
		removeFromReadyList(t)
	}
	t.State = defs.Blocked
}

// / Ready marks t Running and places it back on a ready list: the run
// / list if it still has quantum left, otherwise the time-up list with
// / a freshly refilled quantum. Mirrors task_ready_to_run.
func Ready(t *Task_t) {
	tok := Irq_disable()
	defer Irq_restore(tok)
	if t.State == defs.Running {
		return
	}
	t.State = defs.Running
	if t.RemainClick > 0 {
		t.runEntry = runList.PushBack(t)
	} else {
		t.RemainClick = defs.MAX_TASK_RUN_CLICK
		t.runEntry = timeUpList.PushBack(t)
	}
	t.NeedSched = true
}

// / ToZombie removes t from its ready list (if Running) and marks it
// / Zombie. Mirrors task_tobe_zombie.
func ToZombie(t *Task_t) {
	tok := Irq_disable()
	defer Irq_restore(tok)
	if t.State == defs.Running && t.runEntry != nil {
		removeFromReadyList(t)
	}
	t.State = defs.Zombie
}

func removeFromReadyList(t *Task_t) {
	if t.runEntry == nil {
		return
	}
	// the element may live on either list depending on which quantum
	// round it was queued in; list.Remove is a no-op-safe operation
	// only on the list that actually owns the element, so try both.
	if elemIn(runList, t.runEntry) {
		runList.Remove(t.runEntry)
	} else if elemIn(timeUpList, t.runEntry) {
		timeUpList.Remove(t.runEntry)
	}
	t.runEntry = nil
}

func elemIn(l *list.List, e *list.Element) bool {
	for c := l.Front(); c != nil; c = c.Next() {
		if c == e {
			return true
		}
	}
	return false
}

// / Current returns the task the scheduler most recently selected.
func Current() *Task_t {
	return current
}

// / Schedule picks the next task to run — the head of runList,
// / reloading from timeUpList first if runList is empty — and makes it
// / current. If both lists are empty there is nothing runnable; callers
// / on a real machine would halt and wait for an IRQ, which this model
// / represents by simply leaving current unchanged and returning false.
// / Mirrors task_schedule, minus the architecture-specific switch: this
// / model tracks "current" as bookkeeping rather than performing a real
// / machine context switch.
func Schedule() (*Task_t, bool) {
	tok := Irq_disable()
	defer Irq_restore(tok)
	checkRunListReload()
	if runList.Len() == 0 {
		return current, false
	}
	front := runList.Front()
	next := front.Value.(*Task_t)
	runList.Remove(front)
	next.runEntry = nil
	current = next
	return next, true
}

// / CheckSchedule is invoked on every user-space return: if the current
// / task's NeedSched flag is set, clear it and call Schedule. Mirrors
// / task_check_schedule.
func CheckSchedule() {
	if current == nil || !current.NeedSched {
		return
	}
	current.NeedSched = false
	Schedule()
}

// / Tick is the timer IRQ handler (do_schedule_count): it decrements
// / the current task's remaining quantum, and once it hits zero moves
// / the task to the time-up list, refills its quantum, and raises
// / NeedSched so the next user-space return reschedules.
func Tick() {
	tok := Irq_disable()
	defer Irq_restore(tok)
	t := current
	if t == nil || t.NeedSched || t.State != defs.Running {
		return
	}
	if t.InSyscall {
		t.Accnt.Systadd(tickDuration)
	} else {
		t.Accnt.Utadd(tickDuration)
	}
	t.RemainClick--
	if t.RemainClick == 0 {
		if t.runEntry != nil {
			removeFromReadyList(t)
		}
		t.runEntry = timeUpList.PushBack(t)
		t.RemainClick = defs.MAX_TASK_RUN_CLICK
		t.NeedSched = true
	}
}
