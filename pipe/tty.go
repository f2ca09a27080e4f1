package pipe

import (
	"fmt"
	"sync"

	"github.com/Aglay/yatos/circbuf"
	"github.com/Aglay/yatos/defs"
	"github.com/Aglay/yatos/fdops"
	"github.com/Aglay/yatos/fs"
	"github.com/Aglay/yatos/mem"
	"github.com/Aglay/yatos/stat"
	"github.com/Aglay/yatos/util"
	"github.com/Aglay/yatos/vm"
)

// Tty_t is the terminal pseudo-file variant. There is no real console
// driver in this kernel (spec.md §1 lists "the terminal driver" as an
// external collaborator out of scope), so writes go straight to the
// host's standard output via fmt.Print — the same bare fmt.Printf the
// teacher's own mem/vm packages use for their diagnostic output — and
// reads drain an input ring buffer that a (not-yet-built) keyboard IRQ
// handler would feed; with nothing feeding it, reads simply report no
// data available rather than blocking forever.
type Tty_t struct {
	sync.Mutex
	in   circbuf.Circbuf_t
	refs int
}

func MkTty() *Tty_t {
	t := &Tty_t{refs: 1}
	t.in.Cb_init(mem.PGSIZE, mem.Physmem)
	return t
}

func (t *Tty_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	if err := t.in.Cb_ensure(); err != 0 {
		return 0, err
	}
	if t.in.Empty() {
		return 0, -defs.EAGAIN
	}
	return t.in.Copyout(dst)
}

// writeChunk bounds how much of a single write this kernel ever stages
// in one host allocation; console writes loop over it rather than
// sizing a buffer straight off the caller's (untrusted) length.
const writeChunk = mem.PGSIZE

func (t *Tty_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	var buf [writeChunk]uint8
	wrote := 0
	for src.Remain() > 0 {
		n, err := src.Uioread(buf[:util.Min(writeChunk, src.Remain())])
		if err != 0 {
			return wrote, err
		}
		if n == 0 {
			break
		}
		fmt.Print(string(buf[:n]))
		wrote += n
	}
	return wrote, 0
}

// Feed is the hook a keyboard IRQ handler would call to push bytes into
// the tty's input queue; exercised by tests in place of real hardware.
func (t *Tty_t) Feed(b []uint8) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	if err := t.in.Cb_ensure(); err != 0 {
		return err
	}
	var fb vm.Fakeubuf_t
	fb.Fake_init(b)
	_, err := t.in.Copyin(&fb)
	return err
}

func (t *Tty_t) Close() defs.Err_t {
	t.Lock()
	t.refs--
	done := t.refs == 0
	t.Unlock()
	if done {
		t.Lock()
		t.in.Cb_release()
		t.Unlock()
	}
	return 0
}

func (t *Tty_t) Reopen() defs.Err_t {
	t.Lock()
	t.refs++
	t.Unlock()
	return 0
}

func (t *Tty_t) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(uint(fs.S_IFCHR))
	st.Wrdev(defs.Mkdev(defs.D_CONSOLE, 0))
	return 0
}

func (t *Tty_t) Lseek(off, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }
func (t *Tty_t) Sync() defs.Err_t                         { return 0 }
func (t *Tty_t) Truncate(newlen uint) defs.Err_t          { return -defs.EINVAL }
func (t *Tty_t) Readdir(fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (t *Tty_t) Mkdir(name string, mode int) defs.Err_t   { return -defs.EINVAL }
func (t *Tty_t) Unlink(name string, wantdir bool) defs.Err_t { return -defs.EINVAL }
func (t *Tty_t) Link(oldp, newp string) defs.Err_t        { return -defs.EINVAL }
func (t *Tty_t) Ioctl(cmd, arg int) (int, defs.Err_t)     { return 0, -defs.EINVAL }
