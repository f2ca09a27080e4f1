// Package mem implements the kernel's physical page accounting and the
// x86-32 two-level page-table primitives the vm package builds address
// spaces out of. The physical page allocator itself — carving real
// frames out of the machine's memory map at boot — is an external
// collaborator (spec.md §1); this package manages a fixed-size arena
// standing in for that collaborator's output, the way the teacher's own
// host-side tooling stands in for a real disk.
package mem

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/Aglay/yatos/util"
)

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

/// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

/// PTE_P marks a page table entry present.
const PTE_P Pa_t = 1 << 0

/// PTE_W marks an entry writable.
const PTE_W Pa_t = 1 << 1

/// PTE_U marks an entry user-accessible.
const PTE_U Pa_t = 1 << 2

/// PTE_A is the hardware-set accessed bit.
const PTE_A Pa_t = 1 << 5

/// PTE_D is the hardware-set dirty bit.
const PTE_D Pa_t = 1 << 6

/// PTE_COW marks a page mapped read-only for copy-on-write. x86 has no
/// native COW bit; this uses one of the entry's software-available
/// bits, the same trick the teacher uses on its 64-bit entries.
const PTE_COW Pa_t = 1 << 9

/// PTE_WASCOW marks an entry that a write fault made writable: either a
/// copy-on-write page claimed without a copy because it was mapped
/// exactly once, or a page freshly copied or zero-filled for the write.
/// A later write fault on an entry carrying it is treated as resolved.
const PTE_WASCOW Pa_t = 1 << 10

/// PTE_ADDR extracts the physical frame address bits of an entry.
const PTE_ADDR Pa_t = PGMASK

/// Pa_t represents a 32-bit physical address or page-table entry word.
type Pa_t uint32

/// Bytepg_t is a byte-addressed page.
type Bytepg_t [PGSIZE]uint8

/// Pg_t is a page addressed as 32-bit words, the natural unit for page
/// directories and page tables on x86-32.
type Pg_t [PGSIZE / 4]uint32

/// Pmap_t is a page-directory or page-table page: 1024 32-bit entries.
type Pmap_t [1024]Pa_t

/// Unpin_i allows unpinning of physical pages backing shared file
/// mappings when an address space tears down.
type Unpin_i interface {
	Unpin(Pa_t)
}

/// Page_i abstracts physical page allocation for callers (such as the
/// block cache) that only need to allocate and account for pages, not
/// manipulate address spaces.
type Page_i interface {
	Refpg_new() (*Pg_t, Pa_t, bool)
	Refpg_new_nozero() (*Pg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Pg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

/// Pg2bytes reinterprets a word page as a byte page.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

/// Bytepg2pg reinterprets a byte page as a word page.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

func pg2pmap(pg *Pg_t) *Pmap_t {
	return (*Pmap_t)(unsafe.Pointer(pg))
}

func _pg2pgn(p_pg Pa_t) uint32 {
	return uint32(p_pg) >> PGSHIFT
}

/// Physpg_t is the per-frame accounting record (spec.md §3, "Physical
/// page record"). Refcnt doubles as the copy-on-write sharing count: it
/// counts the mappings of the page, so a write fault on a copy-on-write
/// mapping duplicates the page while the count is above 1 and claims it
/// in place when the count is exactly 1.
type Physpg_t struct {
	Refcnt int32
	nexti  uint32 // index into Pgs of next page on the free list
}

/// Physmem_t manages the kernel's simulated physical frame arena.
type Physmem_t struct {
	sync.Mutex
	arena   []byte
	Pgs     []Physpg_t
	startn  uint32
	freei   uint32
	freelen int32
	pmaps   uint32
	pmaplen int32

	Dmapinit bool
}

const freeEnd = ^uint32(0)

/// Refaddr returns the refcount pointer for the given physical page.
func (phys *Physmem_t) Refaddr(p_pg Pa_t) (*int32, uint32) {
	idx := _pg2pgn(p_pg) - phys.startn
	return &phys.Pgs[idx].Refcnt, idx
}

/// Refcnt returns the current reference count of a page.
func (phys *Physmem_t) Refcnt(p_pg Pa_t) int {
	ref, _ := phys.Refaddr(p_pg)
	return int(atomic.LoadInt32(ref))
}

/// Refup increments the reference count of a page.
func (phys *Physmem_t) Refup(p_pg Pa_t) {
	ref, _ := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, 1)
	if c <= 0 {
		panic("refup of free page")
	}
}

func (phys *Physmem_t) _refdec(p_pg Pa_t) (bool, uint32) {
	ref, idx := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, -1)
	if c < 0 {
		panic("refdown of unreferenced page")
	}
	return c == 0, idx
}

/// Refdown decrements the reference count of a page. It returns true
/// when the page was freed (refcount reached zero).
func (phys *Physmem_t) Refdown(p_pg Pa_t) bool {
	return phys._phys_put(p_pg, false)
}

/// Zeropg is a global zero-filled page used to back not-yet-touched
/// anonymous mappings (spec.md §3, Virtual area "Zero-fill").
var Zeropg *Pg_t

/// P_zeropg is the physical address of Zeropg.
var P_zeropg Pa_t

func (phys *Physmem_t) _refpg_new() (*Pg_t, Pa_t, bool) {
	return phys._phys_new(&phys.freei, &phys.freelen)
}

/// Refpg_new allocates a zeroed page. Its refcount starts at zero; the
/// caller is expected to Refup it once inserted into a mapping.
func (phys *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	if !phys.Dmapinit {
		panic("mem: arena not initialized")
	}
	pg, p_pg, ok := phys._refpg_new()
	if !ok {
		return nil, 0, false
	}
	*pg = *Zeropg
	return pg, p_pg, true
}

/// Refpg_new_nozero allocates an uninitialized page.
func (phys *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	return phys._refpg_new()
}

/// Pmap_new allocates a new, zeroed page directory or page table. The
/// page comes back holding one reference, which Dec_pmap drops.
func (phys *Physmem_t) Pmap_new() (*Pmap_t, Pa_t, bool) {
	a, b, ok := phys._phys_new(&phys.pmaps, &phys.pmaplen)
	if ok {
		*a = *Zeropg
	} else {
		a, b, ok = phys.Refpg_new()
	}
	if ok {
		phys.Refup(b)
	}
	return pg2pmap(a), b, ok
}

func (phys *Physmem_t) _phys_new(fl *uint32, cnt *int32) (*Pg_t, Pa_t, bool) {
	if !phys.Dmapinit {
		panic("mem: arena not initialized")
	}
	phys.Lock()
	defer phys.Unlock()

	ff := *fl
	if ff == freeEnd {
		return nil, 0, false
	}
	p_pg := Pa_t(ff+phys.startn) << PGSHIFT
	*fl = phys.Pgs[ff].nexti
	if phys.Pgs[ff].Refcnt < 0 {
		panic("negative ref count")
	}
	*cnt--
	if *cnt < 0 {
		panic("free count underflow")
	}
	return phys.Dmap(p_pg), p_pg, true
}

func (phys *Physmem_t) _phys_insert(fl *uint32, idx uint32, cnt *int32) {
	phys.Pgs[idx].nexti = *fl
	*fl = idx
	*cnt++
}

func (phys *Physmem_t) _phys_put(p_pg Pa_t, ispmap bool) bool {
	add, idx := phys._refdec(p_pg)
	if !add {
		return false
	}
	phys.Lock()
	defer phys.Unlock()
	fl, cnt := &phys.freei, &phys.freelen
	if ispmap {
		fl, cnt = &phys.pmaps, &phys.pmaplen
	}
	phys._phys_insert(fl, idx, cnt)
	return true
}

/// Dec_pmap decreases the reference count of a page-table page and
/// frees it once unused.
func (phys *Physmem_t) Dec_pmap(p_pmap Pa_t) {
	phys._phys_put(p_pmap, true)
}

/// Dmap returns a pointer to the page-sized slab backing physical
/// address p. This is the kernel's only means of touching "physical"
/// memory; there is no real direct-map window, just the arena slice.
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	off := int(util.Rounddown(int(p), PGSIZE)) - int(PHY_MM_START)
	if off < 0 || off+PGSIZE > len(phys.arena) {
		panic("mem: physical address out of range")
	}
	return (*Pg_t)(unsafe.Pointer(&phys.arena[off]))
}

/// Dmap8 returns a byte slice view of physical address p.
func (phys *Physmem_t) Dmap8(p Pa_t) []uint8 {
	pg := phys.Dmap(p)
	off := p & PGOFFSET
	bpg := Pg2bytes(pg)
	return bpg[off:]
}

/// Pgcount reports the number of free data pages and page-table pages.
func (phys *Physmem_t) Pgcount() (int, int) {
	phys.Lock()
	defer phys.Unlock()
	return int(phys.freelen), int(phys.pmaplen)
}

/// Physmem is the global physical memory allocator instance.
var Physmem = &Physmem_t{}

/// PHY_MM_START is the base of the simulated physical frame arena.
const PHY_MM_START Pa_t = 0x0010_0000

/// PHY_MM_SIZE is the size of the simulated physical frame arena.
const PHY_MM_SIZE = 64 << 20

/// Phys_init initializes the global physical memory allocator with a
/// fresh arena. It is analogous to the teacher's Phys_init, but reserves
/// a fixed simulated region instead of walking a machine memory map.
func Phys_init() *Physmem_t {
	phys := Physmem
	npgs := PHY_MM_SIZE / PGSIZE
	phys.arena = make([]byte, PHY_MM_SIZE)
	phys.Pgs = make([]Physpg_t, npgs)
	phys.startn = uint32(PHY_MM_START) >> PGSHIFT
	phys.freei = 0
	phys.pmaps = freeEnd
	phys.freelen = int32(npgs)
	for i := range phys.Pgs {
		if i == npgs-1 {
			phys.Pgs[i].nexti = freeEnd
		} else {
			phys.Pgs[i].nexti = uint32(i + 1)
		}
	}
	phys.Dmapinit = true

	Zeropg, P_zeropg, _ = phys._refpg_new()
	for i := range Zeropg {
		Zeropg[i] = 0
	}
	phys.Refup(P_zeropg)
	fmt.Printf("mem: reserved %v pages (%vMB)\n", npgs, PHY_MM_SIZE>>20)
	return phys
}
