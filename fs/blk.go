package fs

import "sync"
import "fmt"
import "container/list"

import "github.com/Aglay/yatos/mem"

/// BSIZE is the size of a disk block in bytes; ext2.go's on-disk
/// layout (bitmaps, inode table, directory entries) is all sized
/// relative to it.
const BSIZE = 4096

// / Blockmem_i abstracts page allocation for block buffers.
type Blockmem_i interface {
	Alloc() (mem.Pa_t, *mem.Bytepg_t, bool)
	Free(mem.Pa_t)
	Refup(mem.Pa_t)
}

// / Bdev_block_t is one cached disk block: a block number, its backing
// / page, and the disk/allocator it was fetched through. ext2.go's
// / cache keeps every block it has ever touched in a plain hashtable
// / for the process lifetime (spec.md §9's "global mutable state... is
// / modeled as a single process-wide kernel object... torn down
// / never"), so unlike the teacher's own block cache this type carries
// / no eviction bookkeeping, release-callback, or journal commit/revoke
// / record types — nothing here ever needs to give a block's memory
// / back early or roll a log forward.
type Bdev_block_t struct {
	sync.Mutex
	Block int
	Pa    mem.Pa_t
	Data  *mem.Bytepg_t
	Name  string
	Mem   Blockmem_i
	Disk  Disk_i
}

// / Bdevcmd_t enumerates disk request types.
type Bdevcmd_t uint

const (
	BDEV_WRITE Bdevcmd_t = 1 /// write a block
	BDEV_READ            = 2 /// read a block
)

// / BlkList_t wraps a list.List of block pointers — the same
// / container/list usage the teacher reaches for whenever a collection
// / needs stable per-element identity without per-link heap churn
// / (mirrored by proc's own ready lists).
type BlkList_t struct {
	l *list.List
	e *list.Element // iterator
}

// / MkBlkList creates an empty block list.
func MkBlkList() *BlkList_t {
	bl := &BlkList_t{}
	bl.l = list.New()
	return bl
}

// / Len returns the number of blocks in the list.
func (bl *BlkList_t) Len() int {
	return bl.l.Len()
}

// / PushBack appends a block to the list.
func (bl *BlkList_t) PushBack(b *Bdev_block_t) {
	bl.l.PushBack(b)
}

// / FrontBlock resets the iterator and returns the first block.
func (bl *BlkList_t) FrontBlock() *Bdev_block_t {
	if bl.l.Front() == nil {
		return nil
	}
	bl.e = bl.l.Front()
	return bl.e.Value.(*Bdev_block_t)
}

// / NextBlock advances the iterator and returns the next block.
func (bl *BlkList_t) NextBlock() *Bdev_block_t {
	if bl.e == nil {
		return nil
	}
	bl.e = bl.e.Next()
	if bl.e == nil {
		return nil
	}
	return bl.e.Value.(*Bdev_block_t)
}

// / Apply calls f for each block in the list — every request this
// / kernel issues carries exactly one block, but the disk side still
// / walks a list the way a real controller batching several blocks
// / into one request would.
func (bl *BlkList_t) Apply(f func(*Bdev_block_t)) {
	for b := bl.FrontBlock(); b != nil; b = bl.NextBlock() {
		f(b)
	}
}

// / Bdev_req_t describes a block device request.
type Bdev_req_t struct {
	Cmd   Bdevcmd_t
	Blks  *BlkList_t
	AckCh chan bool
}

// / MkRequest allocates a new block request structure.
func MkRequest(blks *BlkList_t, cmd Bdevcmd_t) *Bdev_req_t {
	return &Bdev_req_t{Blks: blks, AckCh: make(chan bool), Cmd: cmd}
}

// / Disk_i is the block-device collaborator spec.md §1 treats as
// / external: Start issues a request and reports whether it completed
// / asynchronously (true means the caller must wait on AckCh).
type Disk_i interface {
	Start(*Bdev_req_t) bool
	Stats() string
}

// / Write synchronously writes the block to disk.
func (b *Bdev_block_t) Write() {
	if bdev_debug {
		fmt.Printf("bdev_write %v %v\n", b.Block, b.Name)
	}
	l := MkBlkList()
	l.PushBack(b)
	req := MkRequest(l, BDEV_WRITE)
	if b.Disk.Start(req) {
		<-req.AckCh
	}
}

// / Read reads the block from disk synchronously.
func (b *Bdev_block_t) Read() {
	l := MkBlkList()
	l.PushBack(b)
	req := MkRequest(l, BDEV_READ)
	if b.Disk.Start(req) {
		<-req.AckCh
	}
	if bdev_debug {
		fmt.Printf("bdev_read %v %v %#x %#x\n", b.Block, b.Name, b.Data[0], b.Data[1])
	}
}

// / New_page allocates backing memory for the block.
func (blk *Bdev_block_t) New_page() {
	pa, d, ok := blk.Mem.Alloc()
	if !ok {
		panic("oom during bdev.new_page")
	}
	blk.Pa = pa
	blk.Data = d
}

// / MkBlock_newpage allocates a block and backing page.
func MkBlock_newpage(block int, s string, mem Blockmem_i, d Disk_i) *Bdev_block_t {
	b := MkBlock(block, s, mem, d)
	b.New_page()
	return b
}

// / MkBlock constructs a block without allocating memory.
func MkBlock(block int, s string, m Blockmem_i, d Disk_i) *Bdev_block_t {
	return &Bdev_block_t{Block: block, Name: s, Mem: m, Disk: d}
}
