// Package fdops defines the capability-set interface every open file
// description implements: a regular file, a directory, a pipe, or a
// tty all satisfy Fdops_i, and fd.Fd_t dispatches through it rather
// than switching on a kind tag. Grounded on the teacher's own
// fd.Fd_t.Fops field and its Reopen/Close call sites in fd/fd.go; the
// rest of the method set is inferred from the syscalls that must reach
// a descriptor (READ, WRITE, SEEK, SYNC, CLOSE, IOCTL, READDIR,
// FTRUNCATE, FSTAT) plus fd.Fd_t's own duplication need (Reopen).
package fdops

import (
	"github.com/Aglay/yatos/defs"
	"github.com/Aglay/yatos/stat"
)

/// Userio_i abstracts a user- or kernel-backed buffer that read/write
/// implementations copy into or out of, so fs code never has to know
/// whether it is serving a syscall or an in-kernel caller (mkfs-style
/// tooling, a pipe's other end).
type Userio_i interface {
	Uiowrite(src []uint8) (int, defs.Err_t)
	Uioread(dst []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

/// Fdops_i is the operation set every open file description exposes.
/// Implementations that do not support an operation (a pipe's Readdir,
/// a directory's Write) return -defs.EINVAL.
type Fdops_i interface {
	Close() defs.Err_t
	Fstat(*stat.Stat_t) defs.Err_t
	Lseek(off, whence int) (int, defs.Err_t)
	Read(Userio_i) (int, defs.Err_t)
	Reopen() defs.Err_t
	Write(Userio_i) (int, defs.Err_t)

	Truncate(newlen uint) defs.Err_t

	Readdir(Userio_i) (int, defs.Err_t)
	Mkdir(name string, mode int) defs.Err_t
	Unlink(name string, wantdir bool) defs.Err_t
	Link(oldp, newp string) defs.Err_t

	Ioctl(cmd, arg int) (int, defs.Err_t)
	Sync() defs.Err_t
}
