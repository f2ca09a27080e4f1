package fs

import (
	"sync"

	"github.com/Aglay/yatos/defs"
	"github.com/Aglay/yatos/fdops"
	"github.com/Aglay/yatos/hashtable"
	"github.com/Aglay/yatos/mem"
	"github.com/Aglay/yatos/stat"
	"github.com/Aglay/yatos/ustr"
	"github.com/Aglay/yatos/util"
)

// bdev_debug gates the verbose block tracing in blk.go.
var bdev_debug = false

// fieldr/fieldw read and write the 4-byte fields super.go's Superblock_t
// accessors index into.
func fieldr(block *mem.Bytepg_t, field int) int {
	return util.Readn(block[:], 4, field*4)
}

func fieldw(block *mem.Bytepg_t, field int, value int) {
	util.Writen(block[:], 4, field*4, value)
}

const (
	S_IFDIR = 0x4000
	S_IFREG = 0x8000
	S_IFIFO = 0x1000 /// pipe pseudo-file, never backed by an on-disk inode
	S_IFCHR = 0x2000 /// tty pseudo-file, never backed by an on-disk inode
)

func isdir(mode int) bool { return mode&S_IFDIR != 0 }

/// Objref_t is a mutex-guarded reference count. Inode_t keeps its own
/// count field instead, and blk.go's cached blocks carry no count.
type Objref_t struct {
	sync.Mutex
	count int
}

func (o *Objref_t) up() {
	o.Lock()
	o.count++
	o.Unlock()
}

// down returns true when the count reached zero.
func (o *Objref_t) down() bool {
	o.Lock()
	defer o.Unlock()
	o.count--
	if o.count < 0 {
		panic("fs: refcount underflow")
	}
	return o.count == 0
}

/// Databuf_t is one FS_DATA_BUFFER_SIZE-sized window of an inode's
/// content, lazily filled from the backing store and written back on
/// sync. Grounded on kernel/fs/fs.c's fs_data_buffer / fs_inode_get_buffer.
type Databuf_t struct {
	BlockOff int
	Data     []uint8
	Dirty    bool
}

const DBUFSZ = BSIZE

/// Inode_t is the in-memory representation of an on-disk file or
/// directory. Most inodes live only in the inode cache (Count == 0);
/// an inode gains a positive count for the duration it backs an open
/// File_t.
type Inode_t struct {
	sync.Mutex
	Num        int
	Mode       int
	Size       int
	LinksCount int
	Direct     [10]int
	Indirect   int

	recent  *Databuf_t
	buffers []*Databuf_t // sorted by BlockOff, fallback to linear scan

	count  int
	parent *Inode_t
	fs     *Fs_t
}

/// File_t is an open file description: an inode plus a cursor and the
/// flags it was opened with. File_t implements fdops.Fdops_i so fd.Fd_t
/// can dispatch through it uniformly with pipes and ttys.
type File_t struct {
	sync.Mutex
	inode *Inode_t
	off   int
	flag  int
}

/// Ext2_i is the on-disk filesystem collaborator: everything that
/// actually knows the disk layout (inode table, block bitmap,
/// directory entries) lives behind this interface so fs.go's generic
/// file/inode/VFS logic stays independent of the on-disk format, the
/// way the teacher's fs package treats blk.go/super.go as a seam to a
/// format-specific driver.
type Ext2_i interface {
	InitRoot() *Inode_t
	FillInode(num int) (*Inode_t, defs.Err_t)
	FillBuffer(ino *Inode_t, blockoff int) ([]uint8, defs.Err_t)
	SyncData(ino *Inode_t) defs.Err_t
	Truncate(ino *Inode_t, newlen int) defs.Err_t
	FreeInode(num int) defs.Err_t
	ReleaseInode(ino *Inode_t)

	FindFile(name string, parent *Inode_t) (int, defs.Err_t)
	CreateFile(name string, parent *Inode_t, mode int) (int, defs.Err_t)
	Readdir(ino *Inode_t, off int) (name string, num int, nextoff int, err defs.Err_t)
	Mkdir(path string, mode int) defs.Err_t
	Unlink(path string, wantdir bool) (int, defs.Err_t)
	Link(oldpath, newpath string) defs.Err_t
	SyncSystem() defs.Err_t
}

/// Fs_t is the virtual filesystem: the inode cache, the root inode,
/// and the on-disk collaborator. Grounded on kernel/fs/fs.c's
/// file_cache/inode_cache/inode_list globals, here a single struct
/// instance instead of package-level state.
type Fs_t struct {
	ext2   Ext2_i
	inodes *hashtable.Hashtable_t // int inum -> *Inode_t
	root   *Inode_t
}

/// MkFs wires a filesystem instance to its on-disk collaborator and
/// loads the root inode.
func MkFs(ext2 Ext2_i) *Fs_t {
	fs := &Fs_t{
		ext2:   ext2,
		inodes: hashtable.MkHash(256),
	}
	fs.root = ext2.InitRoot()
	fs.root.fs = fs
	fs.inodes.Set(fs.root.Num, fs.root)
	return fs
}

func (fs *Fs_t) searchInode(num int) *Inode_t {
	if v, ok := fs.inodes.Get(num); ok {
		return v.(*Inode_t)
	}
	return nil
}

func (fs *Fs_t) addInode(ino *Inode_t) {
	ino.fs = fs
	fs.inodes.Set(ino.Num, ino)
}

func (fs *Fs_t) getInode(num int) (*Inode_t, defs.Err_t) {
	if ino := fs.searchInode(num); ino != nil {
		return ino, 0
	}
	ino, err := fs.ext2.FillInode(num)
	if err != 0 {
		return nil, err
	}
	ino.count = 0
	fs.addInode(ino)
	return ino, 0
}

/// getBuffer returns the data buffer covering blockoff, filling it from
/// the backing store on first touch. Mirrors fs_inode_get_buffer's
/// "recent" fast path plus a fallback scan over buffers sorted by
/// offset.
func (ino *Inode_t) getBuffer(blockoff int) (*Databuf_t, defs.Err_t) {
	if ino.recent != nil && ino.recent.BlockOff == blockoff {
		return ino.recent, 0
	}
	i := 0
	for ; i < len(ino.buffers); i++ {
		b := ino.buffers[i]
		if b.BlockOff == blockoff {
			ino.recent = b
			return b, 0
		}
		if b.BlockOff > blockoff {
			break
		}
	}
	data, err := ino.fs.ext2.FillBuffer(ino, blockoff)
	if err != 0 {
		return nil, err
	}
	nb := &Databuf_t{BlockOff: blockoff, Data: data}
	ino.buffers = append(ino.buffers, nil)
	copy(ino.buffers[i+1:], ino.buffers[i:])
	ino.buffers[i] = nb
	ino.recent = nb
	return nb, 0
}

func (ino *Inode_t) syncBuffers() {
	for _, b := range ino.buffers {
		if b.Dirty {
			b.Dirty = false
		}
	}
	ino.fs.ext2.SyncData(ino)
}

/// genericRead copies up to len(dst) bytes starting at off from the
/// inode's data buffers. Ported from fs_gener_read.
func (ino *Inode_t) genericRead(dst fdops.Userio_i, off int) (int, defs.Err_t) {
	ino.Lock()
	defer ino.Unlock()
	if off >= ino.Size {
		return 0, 0
	}
	count := util.Min(dst.Remain(), ino.Size-off)
	read := 0
	for count > 0 {
		blockoff := off / DBUFSZ
		bufoff := off % DBUFSZ
		buf, err := ino.getBuffer(blockoff)
		if err != 0 {
			return read, err
		}
		n := util.Min(DBUFSZ-bufoff, count)
		wrote, err := dst.Uiowrite(buf.Data[bufoff : bufoff+n])
		if err != 0 {
			return read, err
		}
		off += wrote
		count -= wrote
		read += wrote
		if wrote != n {
			break
		}
	}
	return read, 0
}

/// genericWrite copies from src into the inode's data buffers starting
/// at off, growing the inode as necessary. Ported from fs_gener_write.
func (ino *Inode_t) genericWrite(src fdops.Userio_i, off int) (int, defs.Err_t) {
	ino.Lock()
	defer ino.Unlock()
	count := src.Remain()
	if off+count > ino.Size {
		if err := ino.fs.ext2.Truncate(ino, off+count); err != 0 {
			return 0, err
		}
		ino.Size = off + count
	}
	written := 0
	for count > 0 {
		blockoff := off / DBUFSZ
		bufoff := off % DBUFSZ
		buf, err := ino.getBuffer(blockoff)
		if err != 0 {
			return written, err
		}
		n := util.Min(DBUFSZ-bufoff, count)
		read, err := src.Uioread(buf.Data[bufoff : bufoff+n])
		if err != 0 {
			return written, err
		}
		buf.Dirty = true
		off += read
		count -= read
		written += read
		if read != n {
			break
		}
	}
	return written, 0
}

func (ino *Inode_t) sync() {
	if ino.LinksCount > 0 {
		ino.syncBuffers()
	} else {
		ino.fs.ext2.Truncate(ino, 0)
		ino.fs.ext2.FreeInode(ino.Num)
	}
}

func (ino *Inode_t) release() {
	ino.fs.ext2.ReleaseInode(ino)
}

/// putInode drops a reference; once an inode's count reaches zero it
/// stays cached (keyed by inum) but syncs and may be reclaimed.
func (fs *Fs_t) putInode(ino *Inode_t) {
	ino.Lock()
	ino.count--
	if ino.count < 0 {
		panic("fs: inode refcount underflow")
	}
	c := ino.count
	ino.Unlock()
	if c == 0 {
		ino.sync()
	}
}

/// Open resolves path, optionally creating the final component. Leading
/// spaces and tabs are skipped; an absolute path is resolved from the
/// filesystem root and a relative one from cwd. Empty and "." components
/// are skipped, and ".." is looked up like any other name. Ported from
/// kernel/fs/fs.c's fs_open.
func (fs *Fs_t) Open(path ustr.Ustr, cwd *Inode_t, flag int, mode int) (*File_t, defs.Err_t) {
	for len(path) > 0 && (path[0] == ' ' || path[0] == '\t') {
		path = path[1:]
	}
	cur := fs.root
	if !path.IsAbsolute() {
		cur = cwd
	}
	var parent *Inode_t
	newfile := false

	comps := splitPath(path)
	for i, name := range comps {
		if !isdir(cur.Mode) {
			return nil, -defs.ENOTDIR
		}
		parent = cur
		num, err := fs.ext2.FindFile(name, cur)
		last := i == len(comps)-1
		if err != 0 {
			if !last {
				return nil, -defs.ENOENT
			}
			if flag&defs.O_CREAT == 0 {
				return nil, -defs.ENOENT
			}
			num, err = fs.ext2.CreateFile(name, cur, mode)
			if err != 0 {
				return nil, err
			}
			newfile = true
		}
		next, err := fs.getInode(num)
		if err != 0 {
			return nil, err
		}
		next.parent = parent
		cur = next
	}

	if flag&defs.O_CREAT != 0 && flag&defs.O_EXCL != 0 && !newfile {
		return nil, -defs.EEXIST
	}
	if flag&defs.O_TRUNC != 0 {
		if err := fs.ext2.Truncate(cur, 0); err != 0 {
			return nil, err
		}
		cur.Size = 0
	}

	cur.Lock()
	cur.count++
	cur.Unlock()

	return &File_t{inode: cur, flag: flag}, 0
}

func splitPath(p ustr.Ustr) []string {
	var ret []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				c := string(p[start:i])
				if c != "." {
					ret = append(ret, c)
				}
			}
			start = i + 1
		}
	}
	return ret
}

// Fdops_i implementation. Every open File_t is a generic file: its
// behavior depends only on its inode's mode (regular vs directory),
// mirroring kernel/fs/fs.c's single gerner_inode_oper table.

/// Inode exposes the inode backing this open file, for callers (a
/// task's current-directory resolution) that need it as the starting
/// point of a subsequent path walk.
func (f *File_t) Inode() *Inode_t {
	return f.inode
}

func (f *File_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	f.Lock()
	off := f.off
	f.Unlock()
	n, err := f.inode.genericRead(dst, off)
	if err == 0 {
		f.Lock()
		f.off += n
		f.Unlock()
	}
	return n, err
}

func (f *File_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	f.Lock()
	if f.flag&defs.O_APPEND != 0 {
		f.off = f.inode.Size
	}
	off := f.off
	f.Unlock()
	n, err := f.inode.genericWrite(src, off)
	if err == 0 {
		f.Lock()
		f.off += n
		f.Unlock()
	}
	return n, err
}

func (f *File_t) Lseek(off, whence int) (int, defs.Err_t) {
	f.Lock()
	defer f.Unlock()
	switch whence {
	case defs.SEEK_SET:
		f.off = off
	case defs.SEEK_CUR:
		f.off += off
		if f.off < 0 {
			f.off = 0
		}
	case defs.SEEK_END:
		f.off = f.inode.Size + off
	default:
		return 0, -defs.EINVAL
	}
	return f.off, 0
}

func (f *File_t) Sync() defs.Err_t {
	f.inode.sync()
	return 0
}

func (f *File_t) Close() defs.Err_t {
	f.inode.fs.putInode(f.inode)
	return 0
}

func (f *File_t) Reopen() defs.Err_t {
	f.inode.Lock()
	f.inode.count++
	f.inode.Unlock()
	return 0
}

func (f *File_t) Fstat(st *stat.Stat_t) defs.Err_t {
	ino := f.inode
	st.Wino(uint(ino.Num))
	st.Wmode(uint(ino.Mode))
	st.Wsize(uint(ino.Size))
	return 0
}

func (f *File_t) Truncate(newlen uint) defs.Err_t {
	if err := f.inode.fs.ext2.Truncate(f.inode, int(newlen)); err != 0 {
		return err
	}
	f.inode.Size = int(newlen)
	return 0
}

func (f *File_t) Readdir(dst fdops.Userio_i) (int, defs.Err_t) {
	if !isdir(f.inode.Mode) {
		return 0, -defs.EINVAL
	}
	f.Lock()
	off := f.off
	f.Unlock()
	name, _, nextoff, err := f.inode.fs.ext2.Readdir(f.inode, off)
	if err != 0 {
		return 0, err
	}
	if name == "" {
		return 0, 0
	}
	n, werr := dst.Uiowrite(ustr.Ustr(name))
	if werr != 0 {
		return 0, werr
	}
	f.Lock()
	f.off = nextoff
	f.Unlock()
	return n, 0
}

func (f *File_t) Mkdir(name string, mode int) defs.Err_t {
	return -defs.EINVAL
}

func (f *File_t) Unlink(name string, wantdir bool) defs.Err_t {
	return -defs.EINVAL
}

func (f *File_t) Link(oldp, newp string) defs.Err_t {
	return -defs.EINVAL
}

func (f *File_t) Ioctl(cmd, arg int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}

/// Mkdir, Unlink, Rmdir, and Link are filesystem-wide operations (they
/// take paths, not descriptors), so they hang off Fs_t rather than
/// File_t — matching sys_call_mkdir/unlink/rmdir/link in
/// kernel/fs/fs.c, which call straight into the ext2 collaborator.
func (fs *Fs_t) Mkdir(path ustr.Ustr, mode int) defs.Err_t {
	return fs.ext2.Mkdir(path.String(), mode)
}

func (fs *Fs_t) Unlink(path ustr.Ustr) defs.Err_t {
	return fs.unlink(path.String(), false)
}

func (fs *Fs_t) Rmdir(path ustr.Ustr) defs.Err_t {
	return fs.unlink(path.String(), true)
}

// unlink removes path's directory entry and drops the target inode's
// link count. The inode is truncated and freed right away only if
// nothing currently has it open; otherwise that happens later, when the
// last open File_t closes and putInode's refcount-driven sync reaches
// the ino.LinksCount == 0 branch.
func (fs *Fs_t) unlink(path string, wantdir bool) defs.Err_t {
	inum, err := fs.ext2.Unlink(path, wantdir)
	if err != 0 {
		return err
	}
	ino, err := fs.getInode(inum)
	if err != 0 {
		return err
	}
	ino.Lock()
	ino.LinksCount--
	open := ino.count > 0
	ino.Unlock()
	if !open {
		ino.sync()
		fs.inodes.Del(inum)
	}
	return 0
}

func (fs *Fs_t) Link(oldpath, newpath ustr.Ustr) defs.Err_t {
	return fs.ext2.Link(oldpath.String(), newpath.String())
}

/// Fssync walks every cached inode and syncs it, then asks the
/// collaborator to flush its own metadata (bitmaps, superblock).
/// Ported from sys_call_fssync.
func (fs *Fs_t) Fssync() defs.Err_t {
	for _, p := range fs.inodes.Elems() {
		p.Value.(*Inode_t).sync()
	}
	return fs.ext2.SyncSystem()
}
