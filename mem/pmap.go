package mem

// Two-level x86-32 page-table walk: a page directory of 1024 entries,
// each pointing to a page table of 1024 entries, each mapping one 4 KiB
// page. This replaces the teacher's four-level recursively-mapped
// amd64 walk (vm/as.go's pmap_walk) with the simpler two-level shape
// spec.md's x86-32 target calls for; the walk-and-allocate-on-demand
// structure is otherwise the same.

func pdx(va int) int { return (va >> 22) & 0x3ff }
func ptx(va int) int { return (va >> 12) & 0x3ff }

/// Pmap_lookup returns the page-table entry mapping va in pd, or nil if
/// no page table is present for that range.
func Pmap_lookup(pd *Pmap_t, va int) *Pa_t {
	pde := pd[pdx(va)]
	frame, _, ok := DecodeEntry(pde)
	if !ok {
		return nil
	}
	pt := Physmem.Dmap(frame)
	ptm := pg2pmap(pt)
	return &ptm[ptx(va)]
}

/// Pmap_walk returns the page-table entry mapping va in pd, allocating
/// a new page table (with the given permissions) if one is not already
/// present for va's directory slot.
func Pmap_walk(pd *Pmap_t, va int, perms Pa_t) (*Pa_t, bool) {
	slot := pdx(va)
	pde := pd[slot]
	frame, _, ok := DecodeEntry(pde)
	if !ok {
		_, newframe, allocated := Physmem.Pmap_new()
		if !allocated {
			return nil, false
		}
		pd[slot] = MakeEntry(newframe, perms)
		frame = newframe
	}
	pt := Physmem.Dmap(frame)
	ptm := pg2pmap(pt)
	return &ptm[ptx(va)], true
}
