package main

import (
	"fmt"
	"sync"

	"github.com/Aglay/yatos/fs"
	"github.com/Aglay/yatos/mem"
)

// memdisk is the block device collaborator fs.Ext2Fs_t expects (spec.md
// §1 treats a real storage controller as an external collaborator): a
// fixed-size array of BSIZE blocks held in host memory. Requests
// complete synchronously inside Start, the way a RAM-backed disk
// naturally would, so callers never need to wait on the request's
// AckCh.
type memdisk struct {
	mu     sync.Mutex
	blocks [][]byte
}

func newMemdisk(nblocks int) *memdisk {
	d := &memdisk{blocks: make([][]byte, nblocks)}
	for i := range d.blocks {
		d.blocks[i] = make([]byte, fs.BSIZE)
	}
	return d
}

func (d *memdisk) Start(req *fs.Bdev_req_t) bool {
	d.mu.Lock()
	req.Blks.Apply(func(b *fs.Bdev_block_t) {
		if b.Block < 0 || b.Block >= len(d.blocks) {
			panic("memdisk: block out of range")
		}
		switch req.Cmd {
		case fs.BDEV_READ:
			copy(b.Data[:], d.blocks[b.Block])
		case fs.BDEV_WRITE:
			copy(d.blocks[b.Block], b.Data[:])
		}
	})
	d.mu.Unlock()
	return false
}

func (d *memdisk) Stats() string {
	return fmt.Sprintf("memdisk: %d blocks", len(d.blocks))
}

// blockmem adapts the physical page allocator to fs.Blockmem_i, the
// seam the block cache uses to back each cached block with a page
// (spec.md's physical page record, reused rather than re-specified for
// disk buffers).
type blockmem struct{}

func (blockmem) Alloc() (mem.Pa_t, *mem.Bytepg_t, bool) {
	pg, pa, ok := mem.Physmem.Refpg_new_nozero()
	if !ok {
		return 0, nil, false
	}
	mem.Physmem.Refup(pa)
	return pa, mem.Pg2bytes(pg), true
}

func (blockmem) Free(pa mem.Pa_t) {
	mem.Physmem.Refdown(pa)
}

func (blockmem) Refup(pa mem.Pa_t) {
	mem.Physmem.Refup(pa)
}
