package fs

import "github.com/Aglay/yatos/mem"

// Superblock_t is the on-disk superblock of this kernel's minimal
// ext2-like layout (ext2.go's MkExt2): no journal and no orphan-inode
// list, since there is no crash-recovery story to support (spec.md
// explicitly leaves the ext2 on-disk format as an external
// collaborator) — just the five region descriptors MkExt2 needs to
// lay out and relocate the inode bitmap, block bitmap, and inode
// table on a freshly formatted image. Adapted from the teacher's own
// Superblock_t, which additionally carried a log length and an orphan
// map (`Loglen`/`Iorphanblock`/`Iorphanlen`) for its journaling
// filesystem; those fields have no referent here and are dropped
// rather than kept unused.
type Superblock_t struct {
	Data *mem.Bytepg_t
}

// / Imapstart returns the starting block of the inode bitmap.
func (sb *Superblock_t) Imapstart() int {
	return fieldr(sb.Data, 0)
}

// / Imaplen returns the length of the inode bitmap, in blocks.
func (sb *Superblock_t) Imaplen() int {
	return fieldr(sb.Data, 1)
}

// / Bmapstart returns the starting block of the free-block bitmap.
func (sb *Superblock_t) Bmapstart() int {
	return fieldr(sb.Data, 2)
}

// / Bmaplen returns the length of the free-block bitmap, in blocks.
func (sb *Superblock_t) Bmaplen() int {
	return fieldr(sb.Data, 3)
}

// / Itablelen reports the number of blocks containing inode records.
func (sb *Superblock_t) Itablelen() int {
	return fieldr(sb.Data, 4)
}

// / Lastblock returns the address of the last block on the device.
func (sb *Superblock_t) Lastblock() int {
	return fieldr(sb.Data, 5)
}

// writing

// / SetImapstart records the starting block of the inode bitmap.
func (sb *Superblock_t) SetImapstart(n int) {
	fieldw(sb.Data, 0, n)
}

// / SetImaplen writes the length of the inode bitmap.
func (sb *Superblock_t) SetImaplen(n int) {
	fieldw(sb.Data, 1, n)
}

// / SetBmapstart stores the start block of the free-block bitmap.
func (sb *Superblock_t) SetBmapstart(n int) {
	fieldw(sb.Data, 2, n)
}

// / SetBmaplen writes the free-block bitmap length.
func (sb *Superblock_t) SetBmaplen(n int) {
	fieldw(sb.Data, 3, n)
}

// / SetItablelen writes the number of inode-table blocks.
func (sb *Superblock_t) SetItablelen(n int) {
	fieldw(sb.Data, 4, n)
}

// / SetLastblock stores the address of the last block on the disk.
func (sb *Superblock_t) SetLastblock(n int) {
	fieldw(sb.Data, 5, n)
}
