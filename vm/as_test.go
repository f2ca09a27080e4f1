package vm

import (
	"testing"

	"github.com/Aglay/yatos/defs"
	"github.com/Aglay/yatos/mem"
	"github.com/Aglay/yatos/util"
)

// ensureMemInit guards against double-initializing the shared Physmem
// arena across test functions within this package.
func ensureMemInit() {
	if !mem.Physmem.Dmapinit {
		mem.Phys_init()
	}
}

func freshVm(t *testing.T) *Vm_t {
	ensureMemInit()
	pg, p_pmap, ok := mem.Physmem.Pmap_new()
	if !ok {
		t.Fatal("Pmap_new failed")
	}
	return &Vm_t{Pmap: pg, P_pmap: p_pmap}
}

func TestNotPresentFaultZeroFills(t *testing.T) {
	as := freshVm(t)
	va := int(USERMIN)
	if err := as.Vmadd_anon(va, mem.PGSIZE, PTE_W); err != 0 {
		t.Fatalf("Vmadd_anon: %v", err)
	}
	got, err := as.Userreadn(va, 4)
	if err != 0 || got != 0 {
		t.Fatalf("expected zero-filled read, got %#x err=%v", got, err)
	}
}

func TestNotPresentFaultPopulates(t *testing.T) {
	as := freshVm(t)
	va := int(USERMIN)
	const want = 0x11223344
	fill := func(_ uintptr, dst *mem.Pg_t) defs.Err_t {
		util.Writen(mem.Pg2bytes(dst)[:], 4, 0, want)
		return 0
	}
	if err := as.Vmadd_populated(va, mem.PGSIZE, PTE_W, fill); err != 0 {
		t.Fatalf("Vmadd_populated: %v", err)
	}
	got, err := as.Userreadn(va, 4)
	if err != 0 || got != want {
		t.Fatalf("expected populated content %#x, got %#x err=%v", want, got, err)
	}
}

func TestNotPresentFaultPopulateErrorPropagates(t *testing.T) {
	as := freshVm(t)
	va := int(USERMIN)
	fill := func(_ uintptr, dst *mem.Pg_t) defs.Err_t {
		return -defs.EIO
	}
	if err := as.Vmadd_populated(va, mem.PGSIZE, PTE_W, fill); err != 0 {
		t.Fatalf("Vmadd_populated: %v", err)
	}
	if _, err := as.Userreadn(va, 4); err != -defs.EIO {
		t.Fatalf("expected populate's error to propagate out of the fault, got %v", err)
	}
}

func TestGuardAreaAlwaysFaults(t *testing.T) {
	as := freshVm(t)
	va := int(USERMIN)
	vmi := as._mkvmi(va, mem.PGSIZE, 0, nil)
	if err := as.Vmregion.insert(vmi); err != 0 {
		t.Fatalf("insert: %v", err)
	}
	if _, err := as.Userreadn(va, 4); err != -defs.EFAULT {
		t.Fatalf("expected EFAULT touching a guard area, got %v", err)
	}
}

// TestCowDuplicateOnSharedWrite exercises Sys_pgfault's duplicate path
// directly: two address spaces mapping the same physical page
// copy-on-write, as CloneVm would set up, with the page shared
// (refcount 2) so neither side may simply claim it outright. Writing
// through either mapping must duplicate the page rather than panic in
// Page_insert ("pte not empty") — the regression this guards is
// Sys_pgfault forgetting to tell Page_insert the pte it is replacing is
// not the empty, not-yet-mapped case.
func TestCowDuplicateOnSharedWrite(t *testing.T) {
	as1 := freshVm(t)
	va := int(USERMIN)
	if err := as1.Vmadd_anon(va, mem.PGSIZE, PTE_W); err != 0 {
		t.Fatalf("Vmadd_anon: %v", err)
	}
	if err := as1.Userwriten(va, 4, 0xaabbccdd); err != 0 {
		t.Fatalf("initial write: %v", err)
	}

	pte1 := mem.Pmap_lookup(as1.Pmap, va)
	if pte1 == nil || *pte1&PTE_P == 0 {
		t.Fatal("expected mapping present after write fault")
	}
	phys := *pte1 & PTE_ADDR

	// Hand-build the second, shared mapping the way CloneVm does: strip
	// W/WASCOW, add COW, and install into a second address space with
	// the same vmi range so Lookup/Ptefor find it.
	perms := (*pte1 &^ (PTE_W | PTE_WASCOW)) | PTE_COW
	*pte1 = perms

	as2 := freshVm(t)
	vmi2 := as2._mkvmi(va, mem.PGSIZE, PTE_W, nil)
	if err := as2.Vmregion.insert(vmi2); err != 0 {
		t.Fatalf("insert: %v", err)
	}
	as2.Lock_pmap()
	as2.Page_insert(va, phys, perms, true, nil)
	as2.Unlock_pmap()

	if got := mem.Physmem.Refcnt(phys); got != 2 {
		t.Fatalf("expected shared page refcount 2, got %v", got)
	}

	if err := as2.Userwriten(va, 4, 0x55667788); err != 0 {
		t.Fatalf("shared write should duplicate, not panic: %v", err)
	}

	got2, err := as2.Userreadn(va, 4)
	if err != 0 || got2 != 0x55667788 {
		t.Fatalf("as2 read back %#x err=%v", got2, err)
	}
	got1, err := as1.Userreadn(va, 4)
	if err != 0 || got1 != 0xaabbccdd {
		t.Fatalf("as1's copy mutated by as2's write: got %#x err=%v", got1, err)
	}
	if got := mem.Physmem.Refcnt(phys); got != 1 {
		t.Fatalf("expected the shared page to drop to sole ownership after duplicate, got %v", got)
	}
}
