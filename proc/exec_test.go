package proc

import (
	"testing"

	"github.com/Aglay/yatos/defs"
	"github.com/Aglay/yatos/fd"
	"github.com/Aglay/yatos/fdops"
	"github.com/Aglay/yatos/stat"
)

// nopFd is a minimal fdops.Fdops_i that does nothing; standing in for a
// real open file when a test only cares about descriptor bookkeeping,
// not I/O.
type nopFd struct{}

func (nopFd) Close() defs.Err_t                           { return 0 }
func (nopFd) Fstat(*stat.Stat_t) defs.Err_t                { return 0 }
func (nopFd) Lseek(off, whence int) (int, defs.Err_t)      { return 0, 0 }
func (nopFd) Read(fdops.Userio_i) (int, defs.Err_t)        { return 0, 0 }
func (nopFd) Reopen() defs.Err_t                           { return 0 }
func (nopFd) Write(fdops.Userio_i) (int, defs.Err_t)       { return 0, 0 }
func (nopFd) Truncate(newlen uint) defs.Err_t              { return 0 }
func (nopFd) Readdir(fdops.Userio_i) (int, defs.Err_t)     { return 0, 0 }
func (nopFd) Mkdir(name string, mode int) defs.Err_t       { return -defs.EINVAL }
func (nopFd) Unlink(name string, wantdir bool) defs.Err_t  { return -defs.EINVAL }
func (nopFd) Link(oldp, newp string) defs.Err_t            { return -defs.EINVAL }
func (nopFd) Ioctl(cmd, arg int) (int, defs.Err_t)         { return 0, -defs.EINVAL }
func (nopFd) Sync() defs.Err_t                             { return 0 }

// TestExecClosesCloexecDescriptors covers exec's close-on-exec sweep:
// a descriptor opened with the flag set must be gone after exec, while
// one opened without it survives untouched.
func TestExecClosesCloexecDescriptors(t *testing.T) {
	ensureMemInit()
	tsk := freshTask(t)
	tsk.Fds[3] = &fd.Fd_t{Fops: nopFd{}}
	tsk.Cloexec[3] = true
	tsk.Fds[4] = &fd.Fd_t{Fops: nopFd{}}

	if err := tsk.Exec(Execarg_t{}); err != 0 {
		t.Fatalf("Exec: %v", err)
	}
	if tsk.Fds[3] != nil {
		t.Fatalf("expected the close-on-exec descriptor closed")
	}
	if tsk.Cloexec[3] {
		t.Fatalf("expected the close-on-exec flag cleared alongside the descriptor")
	}
	if tsk.Fds[4] == nil {
		t.Fatalf("expected the non-close-on-exec descriptor to survive exec")
	}
}
