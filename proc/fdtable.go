package proc

import (
	"github.com/Aglay/yatos/defs"
	"github.com/Aglay/yatos/fd"
	"github.com/Aglay/yatos/fdops"
)

// / AllocFd installs ops as a new open descriptor in t's table under
// / the lowest free slot and returns its number, or -defs.EMFILE if the
// / table (spec.md's MAX_OPEN_FD) is full.
func (t *Task_t) AllocFd(ops fdops.Fdops_i, perms int, cloexec bool) (int, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	for i := range t.Fds {
		if t.Fds[i] == nil {
			t.Fds[i] = &fd.Fd_t{Fops: ops, Perms: perms}
			t.Cloexec[i] = cloexec
			return i, 0
		}
	}
	return 0, -defs.EMFILE
}

// / GetFd returns the open descriptor at slot n, or -defs.EBADF if n is
// / out of range or unopened.
func (t *Task_t) GetFd(n int) (*fd.Fd_t, defs.Err_t) {
	if n < 0 || n >= len(t.Fds) {
		return nil, -defs.EBADF
	}
	t.Lock()
	f := t.Fds[n]
	t.Unlock()
	if f == nil {
		return nil, -defs.EBADF
	}
	return f, 0
}

// / CloseFd closes and frees the descriptor at slot n. A second close
// / of the same slot returns -defs.EINVAL (spec.md §8 testable
// / property), matching the original's "already closed" check rather
// / than -defs.EBADF, since the slot itself was valid.
func (t *Task_t) CloseFd(n int) defs.Err_t {
	if n < 0 || n >= len(t.Fds) {
		return -defs.EINVAL
	}
	t.Lock()
	f := t.Fds[n]
	if f == nil {
		t.Unlock()
		return -defs.EINVAL
	}
	t.Fds[n] = nil
	t.Cloexec[n] = false
	t.Unlock()
	return f.Fops.Close()
}

// / DupFd duplicates the descriptor at oldn into slot newn (closing
// / whatever was there first), setting its close-on-exec bit per
// / cloexec. Used by both FCNTL's F_DUPFD and DUP3.
func (t *Task_t) DupFd(oldn, newn int, cloexec bool) defs.Err_t {
	old, err := t.GetFd(oldn)
	if err != 0 {
		return err
	}
	if newn < 0 || newn >= len(t.Fds) {
		return -defs.EINVAL
	}
	ndup, err := fd.Copyfd(old)
	if err != 0 {
		return err
	}
	t.Lock()
	if t.Fds[newn] != nil {
		prev := t.Fds[newn]
		t.Unlock()
		prev.Fops.Close()
		t.Lock()
	}
	t.Fds[newn] = ndup
	t.Cloexec[newn] = cloexec
	t.Unlock()
	return 0
}

// / LowestFreeFd finds the smallest free slot at or above start, used
// / by F_DUPFD (which must return the lowest available descriptor).
func (t *Task_t) LowestFreeFd(start int) int {
	t.Lock()
	defer t.Unlock()
	for i := start; i < len(t.Fds); i++ {
		if t.Fds[i] == nil {
			return i
		}
	}
	return -1
}
