package vm

import (
	"testing"

	"github.com/Aglay/yatos/defs"
	"github.com/Aglay/yatos/mem"
)

func TestInsertRejectsOverlap(t *testing.T) {
	as := freshVm(t)
	base := 0x10000

	if err := as.Vmadd_anon(base, 2*mem.PGSIZE, PTE_W); err != 0 {
		t.Fatalf("Vmadd_anon: %v", err)
	}
	if err := as.Vmadd_anon(base+mem.PGSIZE, mem.PGSIZE, PTE_W); err != -defs.EOVERLAP {
		t.Fatalf("expected EOVERLAP overlapping an existing area's tail, got %v", err)
	}
	if err := as.Vmadd_anon(base-mem.PGSIZE, 2*mem.PGSIZE, PTE_W); err != -defs.EOVERLAP {
		t.Fatalf("expected EOVERLAP overlapping an existing area's head, got %v", err)
	}
	if err := as.Vmadd_anon(base+2*mem.PGSIZE, mem.PGSIZE, PTE_W); err != 0 {
		t.Fatalf("expected a non-overlapping area right after to insert cleanly, got %v", err)
	}
	if err := as.Vmadd_anon(base-mem.PGSIZE, mem.PGSIZE, PTE_W); err != 0 {
		t.Fatalf("expected a non-overlapping area right before to insert cleanly, got %v", err)
	}
	if len(as.Vmregion.Areas()) != 3 {
		t.Fatalf("expected 3 surviving areas, got %v", len(as.Vmregion.Areas()))
	}
}

func TestInsertExactDuplicateOverlaps(t *testing.T) {
	as := freshVm(t)
	base := 0x20000
	if err := as.Vmadd_anon(base, mem.PGSIZE, PTE_W); err != 0 {
		t.Fatalf("Vmadd_anon: %v", err)
	}
	if err := as.Vmadd_anon(base, mem.PGSIZE, PTE_W); err != -defs.EOVERLAP {
		t.Fatalf("expected EOVERLAP re-inserting the same range, got %v", err)
	}
}
