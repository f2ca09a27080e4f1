package pipe

import (
	"testing"

	"github.com/Aglay/yatos/defs"
	"github.com/Aglay/yatos/mem"
	"github.com/Aglay/yatos/vm"
)

func ensureMemInit() {
	if !mem.Physmem.Dmapinit {
		mem.Phys_init()
	}
}

func init() {
	ensureMemInit()
}

func mkbuf(s string) *vm.Fakeubuf_t {
	b := make([]uint8, len(s))
	copy(b, s)
	var fb vm.Fakeubuf_t
	fb.Fake_init(b)
	return &fb
}

// recvbuf pairs a Fakeubuf_t with the backing slice it was built from,
// since Fake_init's slice header advances as bytes are consumed and no
// longer points at the start of what was written.
type recvbuf struct {
	*vm.Fakeubuf_t
	backing []uint8
}

func mkrecv(n int) *recvbuf {
	b := make([]uint8, n)
	var fb vm.Fakeubuf_t
	fb.Fake_init(b)
	return &recvbuf{Fakeubuf_t: &fb, backing: b}
}

func (r *recvbuf) Buf() []uint8 { return r.backing }

func TestPipeRoundTrip(t *testing.T) {
	rd, wr, err := MkPipe()
	if err != 0 {
		t.Fatalf("MkPipe: %v", err)
	}
	src := mkbuf("hello")
	n, err := wr.Write(src)
	if err != 0 || n != 5 {
		t.Fatalf("Write: n=%v err=%v", n, err)
	}
	dst := mkrecv(5)
	n, err = rd.Read(dst)
	if err != 0 || n != 5 {
		t.Fatalf("Read: n=%v err=%v", n, err)
	}
	if string(dst.Buf()) != "hello" {
		t.Fatalf("got %q", dst.Buf())
	}
}

func TestPipeWriteWrongEnd(t *testing.T) {
	rd, _, _ := MkPipe()
	if _, err := rd.Write(mkbuf("x")); err != -defs.EINVAL {
		t.Fatalf("expected EINVAL writing to read end, got %v", err)
	}
}

func TestPipeReadEmptyWithWriterOpen(t *testing.T) {
	rd, _, _ := MkPipe()
	n, err := rd.Read(mkrecv(1))
	if n != 0 || err != -defs.EAGAIN {
		t.Fatalf("expected EAGAIN on empty read, got n=%v err=%v", n, err)
	}
}

func TestPipeWriteNoReaders(t *testing.T) {
	rd, wr, _ := MkPipe()
	rd.Close()
	if _, err := wr.Write(mkbuf("x")); err != -defs.EPIPE {
		t.Fatalf("expected EPIPE, got %v", err)
	}
}

func TestPipeReadEOFAfterWriterClosed(t *testing.T) {
	rd, wr, _ := MkPipe()
	wr.Close()
	n, err := rd.Read(mkrecv(1))
	if n != 0 || err != 0 {
		t.Fatalf("expected EOF (0, 0), got n=%v err=%v", n, err)
	}
}

func TestPipeLseekNotSeekable(t *testing.T) {
	rd, wr, _ := MkPipe()
	defer rd.Close()
	defer wr.Close()
	if _, err := rd.Lseek(0, 0); err != -defs.ESPIPE {
		t.Fatalf("expected ESPIPE, got %v", err)
	}
}

func TestPipeReopenKeepsPairAlive(t *testing.T) {
	rd, wr, _ := MkPipe()
	wr.Reopen()
	wr.Close()
	// one write-end reference remains; reads should still see EAGAIN, not EOF
	n, err := rd.Read(mkrecv(1))
	if n != 0 || err != -defs.EAGAIN {
		t.Fatalf("expected EAGAIN (writer still open via Reopen), got n=%v err=%v", n, err)
	}
	wr.Close()
	rd.Close()
}

func TestTtyFeedAndRead(t *testing.T) {
	tty := MkTty()
	defer tty.Close()
	if err := tty.Feed([]uint8("hi")); err != 0 {
		t.Fatalf("Feed: %v", err)
	}
	dst := mkrecv(2)
	n, err := tty.Read(dst)
	if err != 0 || n != 2 || string(dst.Buf()) != "hi" {
		t.Fatalf("Read: n=%v err=%v buf=%q", n, err, dst.Buf())
	}
}

func TestTtyReadEmpty(t *testing.T) {
	tty := MkTty()
	defer tty.Close()
	n, err := tty.Read(mkrecv(1))
	if n != 0 || err != -defs.EAGAIN {
		t.Fatalf("expected EAGAIN, got n=%v err=%v", n, err)
	}
}

func TestTtyIoctlUnsupported(t *testing.T) {
	tty := MkTty()
	defer tty.Close()
	if _, err := tty.Ioctl(0, 0); err != -defs.EINVAL {
		t.Fatalf("expected EINVAL, got %v", err)
	}
}

func TestPipeIoctlFionread(t *testing.T) {
	rd, wr, _ := MkPipe()
	defer rd.Close()
	defer wr.Close()
	wr.Write(mkbuf("abc"))
	n, err := rd.Ioctl(FIONREAD, 0)
	if err != 0 || n != 3 {
		t.Fatalf("FIONREAD: n=%v err=%v", n, err)
	}
}
