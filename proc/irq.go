// Package proc implements the task object and the round-robin
// scheduler (spec.md §4.D, §4.E): task lifecycle, the ready lists, and
// the copy_from_user/copy_to_user wrappers syscalls use to touch user
// memory. Grounded on kernel/task/schedule.c and kernel/task/task_vmm.c
// (original_source/), reworked onto vm.Vm_t's address-space descriptor
// and fd.Fd_t's descriptor table rather than the C sources' slab-backed
// structs.
package proc

import "sync"

// / Irqmask_t is a scoped "interrupts masked" token (spec.md §9): on a
// / single-CPU kernel, any critical section touching the ready lists,
// / task hash, or a task's run-state field is protected by masking the
// / timer IRQ rather than a generic lock, with guaranteed restore on
// / every exit path. There is no real hardware IRQ line to mask here,
// / so the mask is modeled as a single global mutex the timer tick
// / handler also takes before touching scheduler state.
type Irqmask_t struct {
	saved bool
}

var irqlock sync.Mutex
var irqdisabled bool

// / Irq_disable acquires the IRQ-masked critical section and returns a
// / token that must be passed to Irq_restore to leave it. Nested calls
// / (from a handler that is itself running with IRQs already masked)
// / are not supported, matching arch_irq_save/arch_irq_disable's single
// / level of nesting in the original source.
func Irq_disable() Irqmask_t {
	irqlock.Lock()
	tok := Irqmask_t{saved: irqdisabled}
	irqdisabled = true
	return tok
}

// / Irq_restore releases the critical section token acquired by
// / Irq_disable, restoring the previous mask state.
func Irq_restore(tok Irqmask_t) {
	irqdisabled = tok.saved
	irqlock.Unlock()
}
