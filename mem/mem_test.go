package mem

import "testing"

// ensureInit guards against double-initializing the shared Physmem
// arena across test functions within this package.
func ensureInit() {
	if !Physmem.Dmapinit {
		Phys_init()
	}
}

func TestRefupRefdown(t *testing.T) {
	ensureInit()
	_, p_pg, ok := Physmem.Refpg_new()
	if !ok {
		t.Fatal("Refpg_new failed")
	}
	if Physmem.Refcnt(p_pg) != 0 {
		t.Fatalf("fresh page should start at refcount 0, got %v", Physmem.Refcnt(p_pg))
	}
	Physmem.Refup(p_pg)
	Physmem.Refup(p_pg)
	if Physmem.Refcnt(p_pg) != 2 {
		t.Fatalf("expected refcount 2, got %v", Physmem.Refcnt(p_pg))
	}
	if freed := Physmem.Refdown(p_pg); freed {
		t.Fatal("page should not be freed with one reference remaining")
	}
	if !Physmem.Refdown(p_pg) {
		t.Fatal("page should be freed once refcount reaches zero")
	}
}

func TestRefdownUnreferencedPanics(t *testing.T) {
	ensureInit()
	_, p_pg, ok := Physmem.Refpg_new()
	if !ok {
		t.Fatal("Refpg_new failed")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic refdowning an unreferenced page")
		}
	}()
	Physmem.Refdown(p_pg)
}

func TestPmapWalkAllocatesThenLookupFinds(t *testing.T) {
	ensureInit()
	pd, _, ok := Physmem.Pmap_new()
	if !ok {
		t.Fatal("Pmap_new failed")
	}
	va := 0x0040_1000
	if pte := Pmap_lookup(pd, va); pte != nil {
		t.Fatal("expected no mapping before Pmap_walk")
	}
	pte, ok := Pmap_walk(pd, va, PTE_P|PTE_W)
	if !ok {
		t.Fatal("Pmap_walk failed to allocate a page table")
	}
	_, frame, ok := Physmem.Refpg_new()
	if !ok {
		t.Fatal("Refpg_new failed")
	}
	*pte = MakeEntry(frame, PTE_P|PTE_W|PTE_U)
	Physmem.Refup(frame)

	found := Pmap_lookup(pd, va)
	if found == nil {
		t.Fatal("expected Pmap_lookup to find the mapping Pmap_walk installed")
	}
	gotframe, writable, ok := DecodeEntry(*found)
	if !ok || gotframe != frame || !writable {
		t.Fatalf("decoded entry mismatch: frame=%v writable=%v ok=%v", gotframe, writable, ok)
	}
}

func TestClearWritablePreservesOtherBits(t *testing.T) {
	e := MakeEntry(PHY_MM_START, PTE_P|PTE_W|PTE_COW)
	e = ClearWritable(e)
	if e&PTE_W != 0 {
		t.Fatal("expected writable bit cleared")
	}
	if e&PTE_COW == 0 {
		t.Fatal("expected COW bookkeeping bit preserved")
	}
	if e&PTE_P == 0 {
		t.Fatal("expected present bit preserved")
	}
}
