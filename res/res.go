// Package res tracks per-task consumption of resource-bounded loops
// named by the bounds package. A task that keeps looping on user
// memory without making progress (a misbehaving or malicious process
// feeding a huge iovec) eventually gets its loop aborted rather than
// pinning a CPU forever. Grounded on the teacher's res.Resadd_noblock
// call sites in vm/as.go and vm/userbuf.go; no implementation of this
// package was retrieved, so the policy below is the simplest one that
// satisfies those call sites: one global step budget, refilled on each
// syscall entry.
package res

import (
	"sync/atomic"

	"github.com/Aglay/yatos/bounds"
)

/// DefaultBudget is the number of loop iterations a single syscall may
/// spend inside any one bounded loop before Resadd_noblock starts
/// refusing further steps.
const DefaultBudget = 1 << 20

/// Ledger_t accounts for one task's consumption of bounded loops. The
/// zero value is usable with the default budget.
type Ledger_t struct {
	budget int64
}

/// Reset refills the ledger, typically once per syscall entry.
func (l *Ledger_t) Reset() {
	atomic.StoreInt64(&l.budget, DefaultBudget)
}

/// Charge charges one step of loop b against the ledger. It returns
/// false once the budget is exhausted, telling the caller to stop
/// looping and return an error rather than block indefinitely.
func (l *Ledger_t) Charge(b bounds.Bound_t) bool {
	return atomic.AddInt64(&l.budget, -1) >= 0
}

/// global is the budget backing the package-level Resadd_noblock, used
/// by call sites (vm's user-copy loops) that run before a task has a
/// chance to plumb its own ledger through every helper. Syscall entry
/// resets it, same as a per-task ledger would.
var global Ledger_t

func init() {
	global.Reset()
}

/// Reset refills the global ledger. Called once per syscall entry.
func Reset() {
	global.Reset()
}

/// Resadd_noblock charges one step of loop b against the global
/// ledger. It returns false once the budget is exhausted.
func Resadd_noblock(b bounds.Bound_t) bool {
	return global.Charge(b)
}
