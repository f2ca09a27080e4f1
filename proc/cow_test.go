package proc

import (
	"testing"

	"github.com/Aglay/yatos/mem"
	"github.com/Aglay/yatos/vm"
)

// ensureMemInit guards against double-initializing the shared Physmem
// arena across test functions within this package.
func ensureMemInit() {
	if !mem.Physmem.Dmapinit {
		mem.Phys_init()
	}
}

func freshVm(t *testing.T) *vm.Vm_t {
	ensureMemInit()
	pg, p_pmap, ok := mem.Physmem.Pmap_new()
	if !ok {
		t.Fatal("Pmap_new failed")
	}
	return &vm.Vm_t{Pmap: pg, P_pmap: p_pmap}
}

// TestCowForkAndWrite exercises the actual fork path (CloneVm) rather
// than hand-built page tables: parent writes a page, forks, and the
// child's subsequent write to the same address must duplicate the
// shared page instead of panicking in Page_insert ("pte not empty").
func TestCowForkAndWrite(t *testing.T) {
	parent := freshVm(t)
	va := int(vm.USERMIN)
	if err := parent.Vmadd_anon(va, mem.PGSIZE, mem.PTE_W); err != 0 {
		t.Fatalf("Vmadd_anon: %v", err)
	}
	if err := parent.Userwriten(va, 4, 0x11223344); err != 0 {
		t.Fatalf("parent write: %v", err)
	}

	child, err := CloneVm(parent)
	if err != 0 {
		t.Fatalf("CloneVm: %v", err)
	}

	ppte := mem.Pmap_lookup(parent.Pmap, va)
	if ppte == nil || *ppte&vm.PTE_COW == 0 {
		t.Fatalf("expected CloneVm to mark the shared page copy-on-write")
	}
	phys := *ppte & vm.PTE_ADDR
	if got := mem.Physmem.Refcnt(phys); got != 2 {
		t.Fatalf("expected shared page refcount 2 after clone, got %v", got)
	}

	if err := child.Userwriten(va, 4, 0x55667788); err != 0 {
		t.Fatalf("child write after fork: %v", err)
	}

	gotChild, err := child.Userreadn(va, 4)
	if err != 0 || gotChild != 0x55667788 {
		t.Fatalf("child read back %#x, err %v", gotChild, err)
	}
	gotParent, err := parent.Userreadn(va, 4)
	if err != 0 || gotParent != 0x11223344 {
		t.Fatalf("parent's page mutated by child's write: got %#x, err %v", gotParent, err)
	}
	if got := mem.Physmem.Refcnt(phys); got != 1 {
		t.Fatalf("expected the shared page to drop to sole parent reference, got %v", got)
	}

	cpte := mem.Pmap_lookup(child.Pmap, va)
	if cpte == nil || *cpte&vm.PTE_COW != 0 {
		t.Fatalf("expected child's duplicated page to no longer be copy-on-write")
	}
}

// TestCowClaimsPageWhenSoleReference exercises Sys_pgfault's other
// branch: once the child drops its reference to the shared page, the
// parent is its sole owner and a write claims the page outright
// (WASCOW) instead of allocating a duplicate.
func TestCowClaimsPageWhenSoleReference(t *testing.T) {
	parent := freshVm(t)
	va := int(vm.USERMIN)
	if err := parent.Vmadd_anon(va, mem.PGSIZE, mem.PTE_W); err != 0 {
		t.Fatalf("Vmadd_anon: %v", err)
	}
	if err := parent.Userwriten(va, 4, 0xaabbccdd); err != 0 {
		t.Fatalf("parent write: %v", err)
	}

	child, err := CloneVm(parent)
	if err != 0 {
		t.Fatalf("CloneVm: %v", err)
	}

	pte := mem.Pmap_lookup(parent.Pmap, va)
	phys := *pte & vm.PTE_ADDR

	child.Lock_pmap()
	child.Page_remove(va)
	child.Unlock_pmap()

	if got := mem.Physmem.Refcnt(phys); got != 1 {
		t.Fatalf("expected sole reference after child drops its mapping, got %v", got)
	}

	if err := parent.Userwriten(va, 4, 0x11223344); err != 0 {
		t.Fatalf("parent write after reclaim: %v", err)
	}

	pte2 := mem.Pmap_lookup(parent.Pmap, va)
	if *pte2&vm.PTE_ADDR != phys {
		t.Fatalf("expected claim-outright to reuse the same physical page")
	}
	if *pte2&vm.PTE_WASCOW == 0 {
		t.Fatalf("expected the claimed page marked WASCOW")
	}
}
