package fs

import (
	"strings"
	"sync"
	"testing"

	"github.com/Aglay/yatos/defs"
	"github.com/Aglay/yatos/ustr"
	"github.com/Aglay/yatos/vm"
)

// fakeMeta is one fake on-disk inode record.
type fakeMeta struct {
	mode  int
	size  int
	links int
}

// fakeExt2_t is a minimal in-memory stand-in for Ext2_i: a flat,
// single-directory namespace with a map of data blocks per inode, enough to
// drive Fs_t's generic path-resolution and open/unlink logic without a
// real disk image.
type fakeExt2_t struct {
	sync.Mutex
	nextInum int
	meta     map[int]*fakeMeta
	names    map[string]int
	blocks   map[int]map[int][]uint8
	freed    map[int]bool
}

func newFakeExt2() *fakeExt2_t {
	return &fakeExt2_t{
		nextInum: 1,
		meta:     map[int]*fakeMeta{1: {mode: S_IFDIR, links: 1}},
		names:    make(map[string]int),
		blocks:   make(map[int]map[int][]uint8),
		freed:    make(map[int]bool),
	}
}

func (fx *fakeExt2_t) InitRoot() *Inode_t {
	return &Inode_t{Num: 1, Mode: S_IFDIR, LinksCount: 1}
}

func (fx *fakeExt2_t) FillInode(num int) (*Inode_t, defs.Err_t) {
	fx.Lock()
	defer fx.Unlock()
	m, ok := fx.meta[num]
	if !ok {
		return nil, -defs.ENOENT
	}
	return &Inode_t{Num: num, Mode: m.mode, Size: m.size, LinksCount: m.links}, 0
}

func (fx *fakeExt2_t) FillBuffer(ino *Inode_t, blockoff int) ([]uint8, defs.Err_t) {
	fx.Lock()
	defer fx.Unlock()
	byblk, ok := fx.blocks[ino.Num]
	if !ok {
		byblk = make(map[int][]uint8)
		fx.blocks[ino.Num] = byblk
	}
	buf, ok := byblk[blockoff]
	if !ok {
		buf = make([]uint8, DBUFSZ)
		byblk[blockoff] = buf
	}
	return buf, 0
}

func (fx *fakeExt2_t) SyncData(ino *Inode_t) defs.Err_t { return 0 }

func (fx *fakeExt2_t) Truncate(ino *Inode_t, newlen int) defs.Err_t {
	fx.Lock()
	defer fx.Unlock()
	if m, ok := fx.meta[ino.Num]; ok {
		m.size = newlen
	}
	ino.Size = newlen
	return 0
}

func (fx *fakeExt2_t) FreeInode(num int) defs.Err_t {
	fx.Lock()
	defer fx.Unlock()
	fx.freed[num] = true
	delete(fx.meta, num)
	return 0
}

func (fx *fakeExt2_t) ReleaseInode(ino *Inode_t) {}

func (fx *fakeExt2_t) FindFile(name string, parent *Inode_t) (int, defs.Err_t) {
	fx.Lock()
	defer fx.Unlock()
	if parent.Num != 1 {
		return 0, -defs.ENOTDIR
	}
	num, ok := fx.names[name]
	if !ok {
		return 0, -defs.ENOENT
	}
	return num, 0
}

func (fx *fakeExt2_t) CreateFile(name string, parent *Inode_t, mode int) (int, defs.Err_t) {
	fx.Lock()
	defer fx.Unlock()
	fx.nextInum++
	num := fx.nextInum
	fx.meta[num] = &fakeMeta{mode: mode, links: 1}
	fx.names[name] = num
	return num, 0
}

func (fx *fakeExt2_t) Readdir(ino *Inode_t, off int) (string, int, int, defs.Err_t) {
	return "", 0, 0, 0
}

func (fx *fakeExt2_t) Mkdir(path string, mode int) defs.Err_t { return -defs.EINVAL }

func (fx *fakeExt2_t) Unlink(path string, wantdir bool) (int, defs.Err_t) {
	fx.Lock()
	defer fx.Unlock()
	name := strings.TrimPrefix(path, "/")
	num, ok := fx.names[name]
	if !ok {
		return 0, -defs.ENOENT
	}
	delete(fx.names, name)
	return num, 0
}

func (fx *fakeExt2_t) Link(oldpath, newpath string) defs.Err_t { return -defs.EINVAL }

func (fx *fakeExt2_t) SyncSystem() defs.Err_t { return 0 }

// TestOpenCreateThenResolve covers path resolution with O_CREAT: a
// first Open with O_CREAT makes the file, a second plain Open finds
// the same inode, and a lookup of a name that was never created fails
// with ENOENT.
func TestOpenCreateThenResolve(t *testing.T) {
	fs := MkFs(newFakeExt2())

	f1, err := fs.Open(ustr.Ustr("/greeting.txt"), fs.root, defs.O_RDWR|defs.O_CREAT, S_IFREG)
	if err != 0 {
		t.Fatalf("create Open: %v", err)
	}
	firstNum := f1.inode.Num
	if err := f1.Close(); err != 0 {
		t.Fatalf("Close: %v", err)
	}

	f2, err := fs.Open(ustr.Ustr("/greeting.txt"), fs.root, defs.O_RDWR, 0)
	if err != 0 {
		t.Fatalf("resolve Open: %v", err)
	}
	if f2.inode.Num != firstNum {
		t.Fatalf("expected the second Open to resolve to the same inode, got %v want %v", f2.inode.Num, firstNum)
	}
	if err := f2.Close(); err != 0 {
		t.Fatalf("Close: %v", err)
	}

	if _, err := fs.Open(ustr.Ustr("/nope.txt"), fs.root, defs.O_RDWR, 0); err != -defs.ENOENT {
		t.Fatalf("expected ENOENT resolving a name that was never created, got %v", err)
	}
}

// TestOpenMissingParentAndExclCreate covers the rest of path resolution
// with O_CREAT: creating a file under an absent intermediate directory
// fails with ENOENT rather than silently creating the intermediate, and
// O_CREAT|O_EXCL on a path that already exists fails with EEXIST
// instead of truncating or reopening it.
func TestOpenMissingParentAndExclCreate(t *testing.T) {
	fs := MkFs(newFakeExt2())

	if _, err := fs.Open(ustr.Ustr("/a/b"), fs.root, defs.O_RDWR|defs.O_CREAT, S_IFREG); err != -defs.ENOENT {
		t.Fatalf("expected ENOENT creating under an absent parent directory, got %v", err)
	}

	f, err := fs.Open(ustr.Ustr("/x"), fs.root, defs.O_RDWR|defs.O_CREAT|defs.O_EXCL, S_IFREG)
	if err != 0 {
		t.Fatalf("first exclusive create: %v", err)
	}
	if err := f.Close(); err != 0 {
		t.Fatalf("Close: %v", err)
	}

	if _, err := fs.Open(ustr.Ustr("/x"), fs.root, defs.O_RDWR|defs.O_CREAT|defs.O_EXCL, S_IFREG); err != -defs.EEXIST {
		t.Fatalf("expected EEXIST recreating an existing path with O_EXCL, got %v", err)
	}
}

// TestUnlinkWhileOpenDefersFree covers the unlink lifecycle: unlinking
// a file that's still open must leave its data intact for the holder,
// and only free the inode once the last File_t closes; a subsequent
// Open of the same path must then see ENOENT.
func TestUnlinkWhileOpenDefersFree(t *testing.T) {
	fx := newFakeExt2()
	fs := MkFs(fx)

	f, err := fs.Open(ustr.Ustr("/scratch.txt"), fs.root, defs.O_RDWR|defs.O_CREAT, S_IFREG)
	if err != 0 {
		t.Fatalf("create Open: %v", err)
	}
	inum := f.inode.Num

	var wbuf vm.Fakeubuf_t
	wbuf.Fake_init([]uint8("hello"))
	if n, err := f.Write(&wbuf); err != 0 || n != 5 {
		t.Fatalf("Write: n=%v err=%v", n, err)
	}

	if err := fs.Unlink(ustr.Ustr("/scratch.txt")); err != 0 {
		t.Fatalf("Unlink: %v", err)
	}
	if fx.freed[inum] {
		t.Fatalf("expected the inode to survive unlink while still open")
	}

	var wbuf2 vm.Fakeubuf_t
	wbuf2.Fake_init([]uint8(" world"))
	if n, err := f.Write(&wbuf2); err != 0 || n != 6 {
		t.Fatalf("write after unlink while still open: n=%v err=%v", n, err)
	}

	if err := f.Close(); err != 0 {
		t.Fatalf("Close: %v", err)
	}
	if !fx.freed[inum] {
		t.Fatalf("expected closing the last reference to a fully-unlinked file to free its inode")
	}

	if _, err := fs.Open(ustr.Ustr("/scratch.txt"), fs.root, defs.O_RDWR, 0); err != -defs.ENOENT {
		t.Fatalf("expected ENOENT reopening an unlinked, now-closed path, got %v", err)
	}
}
