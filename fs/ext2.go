package fs

import (
	"sync"

	"github.com/Aglay/yatos/defs"
	"github.com/Aglay/yatos/hashtable"
	"github.com/Aglay/yatos/util"
)

// Ext2Fs_t is the on-disk collaborator behind Ext2_i: a minimal
// ext2-like layout of a superblock, an inode bitmap, a block bitmap, a
// flat inode table, and data blocks addressed the same way
// kernel/fs/fs.c's ext2 driver addresses them (10 direct block
// pointers plus one singly-indirect block per inode). Block I/O goes
// through blk.go's Bdev_block_t/Disk_i so this layer, like the
// teacher's, never touches the disk directly.
type Ext2Fs_t struct {
	sync.Mutex
	disk Disk_i
	bmem Blockmem_i

	sb      *Superblock_t
	sbBlock *Bdev_block_t

	cache *hashtable.Hashtable_t // block num (int) -> *Bdev_block_t

	imapStart  int
	bmapStart  int
	itblStart  int
	dataStart  int
	ninodes    int
	rootInode  int
}

const inodeDiskSize = 64 // bytes per on-disk inode record
const inodesPerBlock = BSIZE / inodeDiskSize
const direntSize = 64 // bytes per on-disk directory entry
const direntsPerBlock = BSIZE / direntSize
const maxNameLen = direntSize - 5 // inum(4) + namelen(1)
const indirectPerBlock = BSIZE / 4

/// MkExt2 formats a fresh in-memory filesystem image of the given
/// total block count and returns the collaborator ready for MkFs.
/// Mirrors the layout kernel/fs/fs.c's ext2_init/ext2_init_root expect:
/// superblock, inode bitmap, inode table, block bitmap, data region.
func MkExt2(disk Disk_i, bmem Blockmem_i, totalBlocks int, ninodes int) *Ext2Fs_t {
	e := &Ext2Fs_t{
		disk:  disk,
		bmem:  bmem,
		cache: hashtable.MkHash(256),
	}

	imaplen := util.Roundup(ninodes, BSIZE*8) / (BSIZE * 8)
	if imaplen == 0 {
		imaplen = 1
	}
	itbllen := util.Roundup(ninodes, inodesPerBlock) / inodesPerBlock

	e.imapStart = 1
	e.itblStart = e.imapStart + imaplen
	remaining := totalBlocks - e.itblStart - itbllen - 1 /* reserve at least one bitmap block upfront */
	bmaplen := util.Roundup(remaining, BSIZE*8) / (BSIZE * 8)
	if bmaplen == 0 {
		bmaplen = 1
	}
	e.bmapStart = e.itblStart + itbllen
	e.dataStart = e.bmapStart + bmaplen
	e.ninodes = ninodes

	e.sbBlock = MkBlock_newpage(0, "superblock", bmem, disk)
	e.sb = &Superblock_t{Data: e.sbBlock.Data}
	e.sb.SetImapstart(e.imapStart)
	e.sb.SetImaplen(imaplen)
	e.sb.SetBmapstart(e.bmapStart)
	e.sb.SetBmaplen(bmaplen)
	e.sb.SetItablelen(itbllen)
	e.sb.SetLastblock(totalBlocks - 1)
	e.sbBlock.Write()

	for i := e.imapStart; i < e.dataStart; i++ {
		b := e.getBlock(i)
		zero(b.Data[:])
		b.Write()
	}

	e.rootInode = e.allocInode()
	root := &Inode_t{Num: e.rootInode, Mode: S_IFDIR, LinksCount: 1}
	e.writeInodeMeta(root)
	e.addDirentToInode(root, ".", e.rootInode)
	e.addDirentToInode(root, "..", e.rootInode)

	return e
}


func zero(b []uint8) {
	for i := range b {
		b[i] = 0
	}
}

func (e *Ext2Fs_t) getBlock(num int) *Bdev_block_t {
	if v, ok := e.cache.Get(num); ok {
		return v.(*Bdev_block_t)
	}
	b := MkBlock_newpage(num, "", e.bmem, e.disk)
	b.Read()
	e.cache.Set(num, b)
	return b
}

// bitmap helpers operate directly on a cached block's byte data.

func (e *Ext2Fs_t) bitmapAlloc(startBlock int) int {
	blk := startBlock
	bitInBlock := 0
	for {
		b := e.getBlock(blk)
		for byteIdx := 0; byteIdx < BSIZE; byteIdx++ {
			if b.Data[byteIdx] == 0xff {
				continue
			}
			for bit := 0; bit < 8; bit++ {
				mask := uint8(1 << bit)
				if b.Data[byteIdx]&mask == 0 {
					b.Data[byteIdx] |= mask
					b.Write()
					return bitInBlock + byteIdx*8 + bit
				}
			}
		}
		blk++
		bitInBlock += BSIZE * 8
		if blk >= e.dataStart {
			return -1
		}
	}
}

func (e *Ext2Fs_t) bitmapFree(startBlock, n int) {
	blk := startBlock + n/(BSIZE*8)
	off := n % (BSIZE * 8)
	b := e.getBlock(blk)
	b.Data[off/8] &^= 1 << uint(off%8)
	b.Write()
}

func (e *Ext2Fs_t) allocInode() int {
	e.Lock()
	defer e.Unlock()
	n := e.bitmapAlloc(e.imapStart)
	if n < 0 {
		return -1
	}
	return n + 1 // inode numbers start at 1
}

func (e *Ext2Fs_t) allocBlock() int {
	e.Lock()
	defer e.Unlock()
	n := e.bitmapAlloc(e.bmapStart)
	if n < 0 {
		return -1
	}
	return e.dataStart + n
}

func (e *Ext2Fs_t) freeBlock(num int) {
	e.Lock()
	defer e.Unlock()
	e.bitmapFree(e.bmapStart, num-e.dataStart)
}

// writeInodeMeta persists ino's fixed-size fields into its inode-table
// slot. Layout: mode(4) size(4) linkscount(4) direct[10](40)
// indirect(4) = 56 bytes, padded to inodeDiskSize.
func (e *Ext2Fs_t) writeInodeMeta(ino *Inode_t) {
	blk, off := e.inodeLoc(ino.Num)
	b := e.getBlock(blk)
	d := b.Data[off : off+inodeDiskSize]
	wr32(d, 0, uint32(ino.Mode))
	wr32(d, 4, uint32(ino.Size))
	wr32(d, 8, uint32(ino.LinksCount))
	for i, v := range ino.Direct {
		wr32(d, 12+4*i, uint32(v))
	}
	wr32(d, 52, uint32(ino.Indirect))
	b.Write()
}

func (e *Ext2Fs_t) inodeLoc(num int) (block int, off int) {
	idx := num - 1
	block = e.itblStart + idx/inodesPerBlock
	off = (idx % inodesPerBlock) * inodeDiskSize
	return
}

func wr32(b []uint8, off int, v uint32) {
	b[off] = uint8(v)
	b[off+1] = uint8(v >> 8)
	b[off+2] = uint8(v >> 16)
	b[off+3] = uint8(v >> 24)
}

func rd32(b []uint8, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

// Ext2_i implementation.

func (e *Ext2Fs_t) InitRoot() *Inode_t {
	ino, _ := e.FillInode(e.rootInode)
	return ino
}

func (e *Ext2Fs_t) FillInode(num int) (*Inode_t, defs.Err_t) {
	blk, off := e.inodeLoc(num)
	b := e.getBlock(blk)
	d := b.Data[off : off+inodeDiskSize]
	ino := &Inode_t{Num: num}
	ino.Mode = int(rd32(d, 0))
	ino.Size = int(rd32(d, 4))
	ino.LinksCount = int(rd32(d, 8))
	for i := range ino.Direct {
		ino.Direct[i] = int(rd32(d, 12+4*i))
	}
	ino.Indirect = int(rd32(d, 52))
	return ino, 0
}

func (e *Ext2Fs_t) blockFor(ino *Inode_t, blockoff int, alloc bool) int {
	if blockoff < len(ino.Direct) {
		if ino.Direct[blockoff] == 0 && alloc {
			ino.Direct[blockoff] = e.allocBlock()
			e.writeInodeMeta(ino)
		}
		return ino.Direct[blockoff]
	}
	iidx := blockoff - len(ino.Direct)
	if iidx >= indirectPerBlock {
		return 0 // beyond what this layout supports; callers truncate accordingly
	}
	if ino.Indirect == 0 {
		if !alloc {
			return 0
		}
		ino.Indirect = e.allocBlock()
		ib := e.getBlock(ino.Indirect)
		zero(ib.Data[:])
		ib.Write()
		e.writeInodeMeta(ino)
	}
	ib := e.getBlock(ino.Indirect)
	num := int(rd32(ib.Data[:], iidx*4))
	if num == 0 && alloc {
		num = e.allocBlock()
		wr32(ib.Data[:], iidx*4, uint32(num))
		ib.Write()
	}
	return num
}

func (e *Ext2Fs_t) FillBuffer(ino *Inode_t, blockoff int) ([]uint8, defs.Err_t) {
	num := e.blockFor(ino, blockoff, true)
	if num == 0 {
		return nil, -defs.ENOMEM
	}
	b := e.getBlock(num)
	return b.Data[:], 0
}

func (e *Ext2Fs_t) SyncData(ino *Inode_t) defs.Err_t {
	for i := range ino.buffers {
		buf := ino.buffers[i]
		num := e.blockFor(ino, buf.BlockOff, false)
		if num == 0 {
			continue
		}
		b := e.getBlock(num)
		copy(b.Data[:], buf.Data)
		b.Write()
	}
	return 0
}

func (e *Ext2Fs_t) Truncate(ino *Inode_t, newlen int) defs.Err_t {
	oldblocks := util.Roundup(ino.Size, BSIZE) / BSIZE
	newblocks := util.Roundup(newlen, BSIZE) / BSIZE
	for i := newblocks; i < oldblocks; i++ {
		num := e.blockFor(ino, i, false)
		if num != 0 {
			e.freeBlock(num)
			if i < len(ino.Direct) {
				ino.Direct[i] = 0
			}
		}
	}
	ino.Size = newlen
	e.writeInodeMeta(ino)
	return 0
}

func (e *Ext2Fs_t) FreeInode(num int) defs.Err_t {
	e.Lock()
	e.bitmapFree(e.imapStart, num-1)
	e.Unlock()
	return 0
}

func (e *Ext2Fs_t) ReleaseInode(ino *Inode_t) {
}

func (e *Ext2Fs_t) findDirentBlock(parent *Inode_t, name string) (blockoff, slot, inum int) {
	nblocks := util.Roundup(parent.Size, BSIZE) / BSIZE
	for bo := 0; bo < nblocks; bo++ {
		num := e.blockFor(parent, bo, false)
		if num == 0 {
			continue
		}
		b := e.getBlock(num)
		for s := 0; s < direntsPerBlock; s++ {
			off := s * direntSize
			in := int(rd32(b.Data[:], off))
			if in == 0 {
				continue
			}
			nl := int(b.Data[off+4])
			nm := string(b.Data[off+5 : off+5+nl])
			if nm == name {
				return bo, s, in
			}
		}
	}
	return -1, -1, 0
}

func (e *Ext2Fs_t) FindFile(name string, parent *Inode_t) (int, defs.Err_t) {
	_, _, inum := e.findDirentBlock(parent, name)
	if inum == 0 {
		return 0, -defs.ENOENT
	}
	return inum, 0
}

// addDirentToInode writes a (name, inum) record into parent's
// directory data, appending a fresh block when every existing block is
// full. Mirrors ext2_create_file's directory-entry insertion.
func (e *Ext2Fs_t) addDirentToInode(parent *Inode_t, name string, inum int) defs.Err_t {
	if len(name) > maxNameLen {
		return -defs.ENAMETOOLONG
	}
	nblocks := util.Roundup(parent.Size, BSIZE) / BSIZE
	for bo := 0; bo < nblocks; bo++ {
		num := e.blockFor(parent, bo, false)
		if num == 0 {
			continue
		}
		b := e.getBlock(num)
		for s := 0; s < direntsPerBlock; s++ {
			off := s * direntSize
			if rd32(b.Data[:], off) == 0 {
				wr32(b.Data[:], off, uint32(inum))
				b.Data[off+4] = uint8(len(name))
				copy(b.Data[off+5:off+5+len(name)], name)
				b.Write()
				return 0
			}
		}
	}
	// no free slot: grow by one block
	num := e.blockFor(parent, nblocks, true)
	if num == 0 {
		return -defs.ENOMEM
	}
	b := e.getBlock(num)
	zero(b.Data[:])
	wr32(b.Data[:], 0, uint32(inum))
	b.Data[4] = uint8(len(name))
	copy(b.Data[5:5+len(name)], name)
	b.Write()
	parent.Size = (nblocks + 1) * BSIZE
	e.writeInodeMeta(parent)
	return 0
}

func (e *Ext2Fs_t) CreateFile(name string, parent *Inode_t, mode int) (int, defs.Err_t) {
	num := e.allocInode()
	if num < 0 {
		return 0, -defs.ENOMEM
	}
	ino := &Inode_t{Num: num, Mode: mode, LinksCount: 1}
	e.writeInodeMeta(ino)
	if err := e.addDirentToInode(parent, name, num); err != 0 {
		return 0, err
	}
	return num, 0
}

func (e *Ext2Fs_t) Readdir(ino *Inode_t, off int) (string, int, int, defs.Err_t) {
	nblocks := util.Roundup(ino.Size, BSIZE) / BSIZE
	pos := off
	for pos < nblocks*direntsPerBlock {
		bo := pos / direntsPerBlock
		s := pos % direntsPerBlock
		num := e.blockFor(ino, bo, false)
		if num == 0 {
			pos++
			continue
		}
		b := e.getBlock(num)
		recoff := s * direntSize
		inum := int(rd32(b.Data[:], recoff))
		pos++
		if inum == 0 {
			continue
		}
		nl := int(b.Data[recoff+4])
		name := string(b.Data[recoff+5 : recoff+5+nl])
		return name, inum, pos, 0
	}
	return "", 0, pos, 0
}

func (e *Ext2Fs_t) resolveDir(path string) (*Inode_t, string, defs.Err_t) {
	comps := splitPathStr(path)
	if len(comps) == 0 {
		return nil, "", -defs.EINVAL
	}
	cur, _ := e.FillInode(e.rootInode)
	for _, c := range comps[:len(comps)-1] {
		num, err := e.FindFile(c, cur)
		if err != 0 {
			return nil, "", err
		}
		cur, err = e.FillInode(num)
		if err != 0 {
			return nil, "", err
		}
	}
	return cur, comps[len(comps)-1], 0
}

func splitPathStr(p string) []string {
	var ret []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				ret = append(ret, p[start:i])
			}
			start = i + 1
		}
	}
	return ret
}

func (e *Ext2Fs_t) Mkdir(path string, mode int) defs.Err_t {
	parent, name, err := e.resolveDir(path)
	if err != 0 {
		return err
	}
	if _, e2 := e.FindFile(name, parent); e2 == 0 {
		return -defs.EEXIST
	}
	num, e2 := e.CreateFile(name, parent, mode|S_IFDIR)
	if e2 != 0 {
		return e2
	}
	child, _ := e.FillInode(num)
	child.LinksCount = 1
	e.writeInodeMeta(child)
	e.addDirentToInode(child, ".", num)
	e.addDirentToInode(child, "..", parent.Num)
	return 0
}

// Unlink removes path's directory entry, leaving the target inode's
// link count and data untouched — fs.go's unlink wrapper owns
// decrementing the link count and decides whether to truncate and free
// the inode now or defer to its eventual last close, since only it
// knows whether the inode is open elsewhere. Returns the unlinked
// inode's number so the caller can drive that decision without a
// second directory lookup.
func (e *Ext2Fs_t) Unlink(path string, wantdir bool) (int, defs.Err_t) {
	parent, name, err := e.resolveDir(path)
	if err != 0 {
		return 0, err
	}
	bo, s, inum := e.findDirentBlock(parent, name)
	if inum == 0 {
		return 0, -defs.ENOENT
	}
	child, _ := e.FillInode(inum)
	if wantdir != isdir(child.Mode) {
		if wantdir {
			return 0, -defs.ENOTDIR
		}
		return 0, -defs.EISDIR
	}
	num := e.blockFor(parent, bo, false)
	b := e.getBlock(num)
	off := s * direntSize
	zero(b.Data[off : off+direntSize])
	b.Write()
	return inum, 0
}

func (e *Ext2Fs_t) Link(oldpath, newpath string) defs.Err_t {
	oparent, oname, err := e.resolveDir(oldpath)
	if err != 0 {
		return err
	}
	num, err := e.FindFile(oname, oparent)
	if err != 0 {
		return err
	}
	nparent, nname, err := e.resolveDir(newpath)
	if err != 0 {
		return err
	}
	if err := e.addDirentToInode(nparent, nname, num); err != 0 {
		return err
	}
	child, _ := e.FillInode(num)
	child.LinksCount++
	e.writeInodeMeta(child)
	return 0
}

func (e *Ext2Fs_t) SyncSystem() defs.Err_t {
	e.sbBlock.Write()
	for _, p := range e.cache.Elems() {
		b := p.Value.(*Bdev_block_t)
		b.Write()
	}
	return 0
}
