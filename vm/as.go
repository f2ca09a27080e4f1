package vm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aglay/yatos/bounds"
	"github.com/Aglay/yatos/defs"
	"github.com/Aglay/yatos/mem"
	"github.com/Aglay/yatos/res"
	"github.com/Aglay/yatos/ustr"
	"github.com/Aglay/yatos/util"
)

/// Vm_t represents a process address space. The mutex protects
/// modifications to Vmregion, Pmap, and P_pmap. This kernel runs on a
/// single CPU (spec.md §1 non-goal: SMP), so there is no TLB shootdown
/// path to plumb through address-space mutation the way the teacher's
/// multi-core Vm_t does.
type Vm_t struct {
	sync.Mutex

	Vmregion Vmregion_t

	Pmap   *mem.Pmap_t
	P_pmap mem.Pa_t

	pgfltaken bool
}

/// Lock_pmap acquires the address space mutex and marks that a page
/// fault is being handled.
func (as *Vm_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

/// Unlock_pmap releases the address space mutex after page table
/// manipulation is complete.
func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

/// Lockassert_pmap panics if the address space mutex is not held.
func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

/// Userdmap8_inner returns a slice mapping of the user address at va.
/// When k2u is true the memory will be prepared for a kernel write.
/// It returns the mapped slice or an error code.
func (as *Vm_t) Userdmap8_inner(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()

	voff := va & int(PGOFFSET)
	uva := uintptr(va)
	vmi, ok := as.Vmregion.Lookup(uva)
	if !ok {
		return nil, -defs.EFAULT
	}
	pte, ok := vmi.Ptefor(as.Pmap, uva)
	if !ok {
		return nil, -defs.ENOMEM
	}
	ecode := uintptr(PTE_U)
	needfault := true
	isp := *pte&PTE_P != 0
	if k2u {
		ecode |= uintptr(PTE_W)
		iscow := *pte&PTE_COW != 0
		if isp && !iscow {
			needfault = false
		}
	} else if isp {
		needfault = false
	}

	if needfault {
		if err := Sys_pgfault(as, vmi, uva, ecode); err != 0 {
			return nil, err
		}
	}

	pg := mem.Physmem.Dmap(*pte & PTE_ADDR)
	bpg := mem.Pg2bytes(pg)
	return bpg[voff:], 0
}

// _userdmap8 and Userdmap8r must only be used if concurrent
// modification of the address space is impossible.
func (as *Vm_t) _userdmap8(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lock_pmap()
	ret, err := as.Userdmap8_inner(va, k2u)
	as.Unlock_pmap()
	return ret, err
}

/// Userdmap8r maps the user address for reading and returns the
/// resulting slice or an error.
func (as *Vm_t) Userdmap8r(va int) ([]uint8, defs.Err_t) {
	return as._userdmap8(va, false)
}

func (as *Vm_t) usermapped(va, n int) bool {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	_, ok := as.Vmregion.Lookup(uintptr(va))
	return ok
}

/// Userreadn reads n bytes from the user address va and returns the
/// value and any error encountered.
func (as *Vm_t) Userreadn(va, n int) (int, defs.Err_t) {
	as.Lock_pmap()
	a, b := as.userreadn_inner(va, n)
	as.Unlock_pmap()
	return a, b
}

func (as *Vm_t) userreadn_inner(va, n int) (int, defs.Err_t) {
	as.Lockassert_pmap()
	if n > 8 {
		panic("large n")
	}
	var ret int
	var src []uint8
	var err defs.Err_t
	for i := 0; i < n; i += len(src) {
		src, err = as.Userdmap8_inner(va+i, false)
		if err != 0 {
			return 0, err
		}
		l := n - i
		if len(src) < l {
			l = len(src)
		}
		v := util.Readn(src, l, 0)
		ret |= v << (8 * uint(i))
	}
	return ret, 0
}

/// Userwriten writes n bytes of val to the user address va. It
/// returns an error code if the copy fails.
func (as *Vm_t) Userwriten(va, n, val int) defs.Err_t {
	if n > 8 {
		panic("large n")
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	var dst []uint8
	for i := 0; i < n; i += len(dst) {
		v := val >> (8 * uint(i))
		t, err := as.Userdmap8_inner(va+i, true)
		dst = t
		if err != 0 {
			return err
		}
		util.Writen(dst, n-i, 0, v)
	}
	return 0
}

/// Userstr copies a NUL terminated string from user space up to
/// lenmax bytes. It returns the copied string and an error code.
func (as *Vm_t) Userstr(uva int, lenmax int) (ustr.Ustr, defs.Err_t) {
	if lenmax < 0 {
		return nil, 0
	}
	as.Lock_pmap()
	i := 0
	s := ustr.MkUstr()
	for {
		str, err := as.Userdmap8_inner(uva+i, false)
		if err != 0 {
			as.Unlock_pmap()
			return s, err
		}
		for j, c := range str {
			if c == 0 {
				s = append(s, str[:j]...)
				as.Unlock_pmap()
				return s, 0
			}
		}
		s = append(s, str...)
		i += len(str)
		if len(s) >= lenmax {
			as.Unlock_pmap()
			return nil, -defs.ENAMETOOLONG
		}
	}
}

/// Usertimespec reads a timeval structure from user memory at va and
/// returns both the duration and time value.
func (as *Vm_t) Usertimespec(va int) (time.Duration, time.Time, defs.Err_t) {
	var zt time.Time
	secs, err := as.Userreadn(va, 8)
	if err != 0 {
		return 0, zt, err
	}
	nsecs, err := as.Userreadn(va+8, 8)
	if err != 0 {
		return 0, zt, err
	}
	if secs < 0 || nsecs < 0 {
		return 0, zt, -defs.EINVAL
	}
	tot := time.Duration(secs)*time.Second + time.Duration(nsecs)*time.Nanosecond
	t := time.Unix(int64(secs), int64(nsecs))
	return tot, t, 0
}

/// K2user copies src into the user virtual address space starting at
/// uva. The copy may be partial if the region is not fully mapped.
func (as *Vm_t) K2user(src []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.K2user_inner(src, uva)
	as.Unlock_pmap()
	return ret
}

func (as *Vm_t) K2user_inner(src []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	l := len(src)
	for cnt != l {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_AS_T_K2USER_INNER)) {
			return -defs.ENOHEAP
		}
		dst, err := as.Userdmap8_inner(uva+cnt, true)
		if err != 0 {
			return err
		}
		ub := len(src)
		if ub > len(dst) {
			ub = len(dst)
		}
		copy(dst, src)
		src = src[ub:]
		cnt += ub
	}
	return 0
}

/// User2k copies len(dst) bytes from the user virtual address uva into
/// dst. It returns an error code if the read fails.
func (as *Vm_t) User2k(dst []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.User2k_inner(dst, uva)
	as.Unlock_pmap()
	return ret
}

func (as *Vm_t) User2k_inner(dst []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	for len(dst) != 0 {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_AS_T_USER2K_INNER)) {
			return -defs.ENOHEAP
		}
		src, err := as.Userdmap8_inner(uva+cnt, false)
		if err != 0 {
			return err
		}
		did := copy(dst, src)
		dst = dst[did:]
		cnt += did
	}
	return 0
}

/// Unusedva_inner finds len free bytes of virtual address space at or
/// above startva.
func (as *Vm_t) Unusedva_inner(startva, length int) int {
	as.Lockassert_pmap()
	if length < 0 {
		panic("weird len")
	}
	startva = util.Rounddown(startva, mem.PGSIZE)
	if uintptr(startva) < USERMIN {
		startva = int(USERMIN)
	}
	_ret, _l := as.Vmregion.empty(uintptr(startva), uintptr(length))
	ret := int(_ret)
	l := int(_l)
	if startva > ret && startva < ret+l {
		ret = startva
	}
	return ret
}

/// Sys_pgfault resolves a page fault for the address space as at the
/// given fault address with the provided error code: a not-present
/// fault maps a page (the shared zero page on a read with no Populate
/// hook, otherwise a fresh page), a present-but-protection
/// fault on a copy-on-write mapping either claims the page outright
/// (refcount == 1) or duplicates it. Ported from the teacher's
/// Sys_pgfault with the VFILE/VSANON/TLB-shootdown branches removed —
/// this kernel has no file-backed mmap and no second CPU to shoot down.
func Sys_pgfault(as *Vm_t, vmi *Vminfo_t, faultaddr, ecode uintptr) defs.Err_t {
	isguard := vmi.Perms == 0
	iswrite := ecode&uintptr(PTE_W) != 0
	writeok := vmi.Perms&uint(PTE_W) != 0
	if isguard || (iswrite && !writeok) {
		return -defs.EFAULT
	}
	if ecode&uintptr(PTE_U) == 0 {
		panic("kernel page fault")
	}

	pte, ok := vmi.Ptefor(as.Pmap, faultaddr)
	if !ok {
		return -defs.ENOMEM
	}
	if (iswrite && *pte&PTE_WASCOW != 0) || (!iswrite && *pte&PTE_P != 0) {
		return 0
	}

	var p_pg mem.Pa_t
	perms := mem.Pa_t(PTE_U | PTE_P)
	// isempty tracks whether pte is still the zero entry Page_insert
	// expects (the not-present path) or already holds the COW mapping
	// being duplicated — the teacher's Sys_pgfault threads this same
	// flag through to avoid Page_insert's "pte not empty" panic on the
	// duplicate path.
	isempty := true

	if iswrite {
		if *pte&PTE_W != 0 {
			panic("bad state")
		}
		var pgsrc *mem.Pg_t
		cow := *pte&PTE_COW != 0
		if cow {
			phys := *pte & PTE_ADDR
			ref, _ := mem.Physmem.Refaddr(phys)
			if atomic.LoadInt32(ref) == 1 && phys != mem.P_zeropg {
				tmp := *pte &^ PTE_COW
				tmp |= PTE_W | PTE_WASCOW
				*pte = tmp
				return 0
			}
			isempty = false
			pgsrc = mem.Physmem.Dmap(phys)
		} else {
			if *pte != 0 {
				panic("no")
			}
			pgsrc = mem.Zeropg
			if vmi.Populate != nil {
				fresh, _, ok := mem.Physmem.Refpg_new_nozero()
				if !ok {
					return -defs.ENOMEM
				}
				if err := vmi.Populate(faultaddr, fresh); err != 0 {
					return err
				}
				pgsrc = fresh
			}
		}
		var pg *mem.Pg_t
		var ok bool
		pg, p_pg, ok = mem.Physmem.Refpg_new_nozero()
		if !ok {
			return -defs.ENOMEM
		}
		*pg = *pgsrc
		perms |= PTE_WASCOW | PTE_W
	} else {
		if *pte != 0 {
			panic("must be 0")
		}
		if vmi.Populate != nil {
			fresh, freshpa, ok := mem.Physmem.Refpg_new_nozero()
			if !ok {
				return -defs.ENOMEM
			}
			if err := vmi.Populate(faultaddr, fresh); err != 0 {
				mem.Physmem.Refup(freshpa)
				mem.Physmem.Refdown(freshpa)
				return err
			}
			p_pg = freshpa
		} else {
			p_pg = mem.P_zeropg
		}
		if vmi.Perms&uint(PTE_W) != 0 {
			perms |= PTE_COW
		}
	}
	if perms&PTE_W != 0 {
		perms |= PTE_D
	}
	perms |= PTE_A

	_, ok = as.Page_insert(int(faultaddr), p_pg, perms, isempty, pte)
	if !ok {
		mem.Physmem.Refdown(p_pg)
		return -defs.ENOMEM
	}
	return 0
}

/// Page_insert maps the physical page p_pg at va with perms. The
/// function returns whether an existing mapping was replaced and
/// whether the insertion succeeded. p_pg's ref count is increased by
/// one for the new mapping, even when the insertion fails; the caller
/// drops that reference with Physmem.Refdown() on failure.
func (as *Vm_t) Page_insert(va int, p_pg mem.Pa_t, perms mem.Pa_t,
	vempty bool, pte *mem.Pa_t) (bool, bool) {
	as.Lockassert_pmap()
	mem.Physmem.Refup(p_pg)
	if pte == nil {
		var ok bool
		pte, ok = mem.Pmap_walk(as.Pmap, va, PTE_U|PTE_W)
		if !ok {
			return false, false
		}
	}
	replaced := false
	var p_old mem.Pa_t
	if *pte&PTE_P != 0 {
		if vempty {
			panic("pte not empty")
		}
		if *pte&PTE_U == 0 {
			panic("replacing kernel page")
		}
		replaced = true
		p_old = *pte & PTE_ADDR
	}
	*pte = p_pg | perms | PTE_P
	if replaced {
		mem.Physmem.Refdown(p_old)
	}
	return replaced, true
}

/// Page_remove unmaps the page at va from this address space and
/// returns true if a mapping was removed.
func (as *Vm_t) Page_remove(va int) bool {
	as.Lockassert_pmap()
	pte := mem.Pmap_lookup(as.Pmap, va)
	if pte == nil || *pte&PTE_P == 0 {
		return false
	}
	if *pte&PTE_U == 0 {
		panic("removing kernel page")
	}
	p_old := *pte & PTE_ADDR
	mem.Physmem.Refdown(p_old)
	*pte = 0
	return true
}

/// Pgfault handles a page fault at fa with error code ecode. It
/// returns an error describing the outcome.
func (as *Vm_t) Pgfault(fa, ecode uintptr) defs.Err_t {
	as.Lock_pmap()
	vmi, ok := as.Vmregion.Lookup(fa)
	if !ok {
		as.Unlock_pmap()
		return -defs.EFAULT
	}
	ret := Sys_pgfault(as, vmi, fa, ecode)
	as.Unlock_pmap()
	return ret
}

/// Uvmfree releases all user mappings and page tables associated with
/// this address space.
func (as *Vm_t) Uvmfree() {
	for _, a := range as.Vmregion.areas {
		for i := uintptr(0); i < a.Pglen; i++ {
			va := int((a.Pgn + i) << PGSHIFT)
			as.Page_remove(va)
		}
	}
	for i := range as.Pmap {
		if frame, _, ok := mem.DecodeEntry(as.Pmap[i]); ok {
			mem.Physmem.Dec_pmap(frame)
			as.Pmap[i] = 0
		}
	}
	// Dec_pmap may free the pmap itself, so it must come after the
	// page removal loop above has walked it.
	mem.Physmem.Dec_pmap(as.P_pmap)
	as.Vmregion.Clear()
}

/// Vmadd_anon creates a private anonymous mapping at the given virtual
/// address range with the supplied permissions. Fails with EOVERLAP if
/// the range intersects an existing mapping in this address space.
func (as *Vm_t) Vmadd_anon(start, len int, perms mem.Pa_t) defs.Err_t {
	vmi := as._mkvmi(start, len, perms, nil)
	return as.Vmregion.insert(vmi)
}

/// Vmadd_populated behaves like Vmadd_anon but fills each page on
/// first fault using fn instead of zero-filling — used by exec to
/// demand-load a binary's loadable sections.
func (as *Vm_t) Vmadd_populated(start, len int, perms mem.Pa_t, fn PopulateFunc) defs.Err_t {
	vmi := as._mkvmi(start, len, perms, fn)
	return as.Vmregion.insert(vmi)
}

func (as *Vm_t) _mkvmi(start, len int, perms mem.Pa_t, fn PopulateFunc) *Vminfo_t {
	if len <= 0 {
		panic("bad vmi len")
	}
	if mem.Pa_t(start|len)&PGOFFSET != 0 {
		panic("start and len must be aligned")
	}
	ret := &Vminfo_t{}
	ret.Mtype = VANON
	ret.Pgn = uintptr(start) >> PGSHIFT
	ret.Pglen = uintptr(util.Roundup(len, mem.PGSIZE)) >> PGSHIFT
	ret.Perms = uint(perms)
	ret.Populate = fn
	return ret
}

/// Mkuserbuf allocates and initializes a Userbuf_t referencing user
/// memory starting at userva.
func (as *Vm_t) Mkuserbuf(userva, len int) *Userbuf_t {
	ret := &Userbuf_t{}
	ret.ub_init(as, userva, len)
	return ret
}
