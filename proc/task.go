package proc

import (
	"container/list"
	"sync"

	"github.com/Aglay/yatos/accnt"
	"github.com/Aglay/yatos/defs"
	"github.com/Aglay/yatos/fd"
	"github.com/Aglay/yatos/hashtable"
	"github.com/Aglay/yatos/limits"
	"github.com/Aglay/yatos/vm"
)

// / Task_t is the in-memory process object (spec.md §3/§4.D): an
// / address space, a descriptor table, scheduling bookkeeping, and
// / parent/child links. Grounded on include/yatos/task.h's struct task,
// / with the slab-allocated kernel stack and exec_bin dropped in favor
// / of Go's own goroutine stacks and a plain Execarg_t record.
type Task_t struct {
	sync.Mutex

	Pid   defs.Pid_t
	State defs.Run_state_t

	// scheduling
	RemainClick int
	NeedSched   bool
	InSyscall   bool // Tick charges ticks here to Accnt.Sysns instead of Userns
	runEntry    *list.Element // this task's node on whichever ready list it's on

	// address space and accounting
	Vm     *vm.Vm_t
	Accnt  accnt.Accnt_t
	Fds    [defs.MAX_OPEN_FD]*fd.Fd_t
	Cloexec [defs.MAX_OPEN_FD]bool
	Cwd    *fd.Cwd_t

	// family
	Parent   *Task_t // weak: lookup-only, not an owning reference (spec.md §9)
	Children *list.List
	childEntry *list.Element // this task's node on its parent's Children list

	// exit
	ExitStatus int

	// exec result: the trap-frame resume point the scheduler jumps to
	// the first time this task is selected. Modeled as a callback
	// rather than a pushed assembly frame, since there is no real
	// trap-return stub to resume into.
	Entry func()
}

var taskTableLock sync.Mutex
var taskTable = hashtable.MkHash(defs.MAX_PID_NUM)
var pidBitmap [defs.MAX_PID_NUM]bool
var initTask *Task_t

// / allocPid reserves a PID from the dense bitmap, returning NoPid
// / (-defs.ENOPID) once the set is exhausted.
func allocPid() (defs.Pid_t, defs.Err_t) {
	taskTableLock.Lock()
	defer taskTableLock.Unlock()
	for i := range pidBitmap {
		if !pidBitmap[i] {
			pidBitmap[i] = true
			return defs.Pid_t(i), 0
		}
	}
	return 0, -defs.ENOPID
}

func freePid(pid defs.Pid_t) {
	taskTableLock.Lock()
	pidBitmap[pid] = false
	taskTableLock.Unlock()
}

// / New allocates a task: reserves a PID, builds an empty descriptor
// / table, and starts it Blocked. The caller transitions it to Running
// / (via Ready) once it is fully set up. Mirrors task_init's shape in
// / arch/x86/drivers/task.c without the slab cache.
func New(parent *Task_t) (*Task_t, defs.Err_t) {
	if !limits.Syslimit.Sysprocs.Take() {
		return nil, -defs.EAGAIN
	}
	pid, err := allocPid()
	if err != 0 {
		limits.Syslimit.Sysprocs.Give()
		return nil, err
	}
	t := &Task_t{
		Pid:         pid,
		State:       defs.Blocked,
		RemainClick: defs.MAX_TASK_RUN_CLICK,
		Parent:      parent,
		Children:    list.New(),
	}
	taskTableLock.Lock()
	taskTable.Set(int(pid), t)
	taskTableLock.Unlock()
	if parent != nil {
		parent.Lock()
		t.childEntry = parent.Children.PushBack(t)
		parent.Unlock()
	}
	if initTask == nil {
		initTask = t
	}
	return t, 0
}

// / Find looks a task up by PID, as task_find_by_pid does via a linear
// / scan of the task list; here the dense table makes it O(1).
func Find(pid defs.Pid_t) (*Task_t, bool) {
	v, ok := taskTable.Get(int(pid))
	if !ok {
		return nil, false
	}
	return v.(*Task_t), true
}

// / deleteTask removes a task from the task hash and gives back its
// / Sysprocs slot. Reap calls it for a zombie child, and Fork calls it
// / for a child whose address-space clone failed; in both cases the
// / task is on no ready list.
func deleteTask(t *Task_t) {
	tok := Irq_disable()
	taskTable.Del(int(t.Pid))
	Irq_restore(tok)
	limits.Syslimit.Sysprocs.Give()
}

// / Reap is the parent-side consumer of a zombie child: it frees the
// / child's PID, removes it from the task hash and the parent's child
// / list, and folds the child's accounted CPU time into the parent's
// / own — the wait4/rusage convention that a reaped child's usage
// / becomes part of its parent's — returning the exit status the child
// / recorded.
func (parent *Task_t) Reap(child *Task_t) (int, defs.Err_t) {
	child.Lock()
	if child.State != defs.Zombie {
		child.Unlock()
		return 0, -defs.ECHILD
	}
	status := child.ExitStatus
	child.Unlock()

	parent.Accnt.Add(&child.Accnt)

	parent.Lock()
	if child.childEntry != nil {
		parent.Children.Remove(child.childEntry)
		child.childEntry = nil
	}
	parent.Unlock()

	deleteTask(child)
	freePid(child.Pid)
	return status, 0
}
