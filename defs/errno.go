package defs

import "fmt"

/// Err_t is a kernel error code. Handlers return -Err_t to user space in
/// a syscall's result slot (syscall.TrapFrame_t.Ret, via Rc); zero means
/// success. Internally, functions that cannot fail at the syscall
/// boundary (e.g. the page fault resolver) still use Err_t values to
/// classify outcomes such as SegmentError, which never escapes to user
/// space as a return value.
type Err_t int

const (
	EINVAL       Err_t = 1  /// invalid argument
	ENOENT       Err_t = 2  /// no such file or directory
	ENOTDIR      Err_t = 3  /// not a directory
	EEXIST       Err_t = 4  /// file exists
	ENOMEM       Err_t = 5  /// out of memory
	ENOHEAP      Err_t = 6  /// kernel heap exhausted mid-copy
	EMFILE       Err_t = 7  /// no free file descriptor
	ESRCH        Err_t = 8  /// no such pid
	EFAULT       Err_t = 9  /// bad user pointer
	EIO          Err_t = 10 /// storage collaborator I/O error
	ENAMETOOLONG Err_t = 11 /// path or string exceeds MAX_PATH_LEN
	ENOTEMPTY    Err_t = 12 /// directory not empty
	EISDIR       Err_t = 13 /// is a directory
	EBADF        Err_t = 14 /// bad file descriptor
	ECHILD       Err_t = 15 /// no children to reap
	EOVERLAP     Err_t = 16 /// new virtual area overlaps an existing one
	ESEGV        Err_t = 17 /// fatal fault; the task is killed, not returned to user space
	ENOPID       Err_t = 18 /// dense PID set exhausted
	EAGAIN       Err_t = 19 /// would block (pipe/tty has no data or no room right now)
	EPIPE        Err_t = 20 /// write to a pipe with no readers left
	ESPIPE       Err_t = 21 /// seek on a non-seekable descriptor (pipe, tty)
)

var errnames = map[Err_t]string{
	EINVAL:       "EINVAL",
	ENOENT:       "ENOENT",
	ENOTDIR:      "ENOTDIR",
	EEXIST:       "EEXIST",
	ENOMEM:       "ENOMEM",
	ENOHEAP:      "ENOHEAP",
	EMFILE:       "EMFILE",
	ESRCH:        "ESRCH",
	EFAULT:       "EFAULT",
	EIO:          "EIO",
	ENAMETOOLONG: "ENAMETOOLONG",
	ENOTEMPTY:    "ENOTEMPTY",
	EISDIR:       "EISDIR",
	EBADF:        "EBADF",
	ECHILD:       "ECHILD",
	EOVERLAP:     "EOVERLAP",
	ESEGV:        "ESEGV",
	ENOPID:       "ENOPID",
	EAGAIN:       "EAGAIN",
	EPIPE:        "EPIPE",
	ESPIPE:       "ESPIPE",
}

/// String renders the error code the way the kernel log does: the
/// symbolic name if known, else the bare number.
func (e Err_t) String() string {
	if n, ok := errnames[e]; ok {
		return n
	}
	return fmt.Sprintf("errno(%d)", int(e))
}

/// Rc returns the syscall return value for this error: -errno, or 0 if
/// e is already 0 (success).
func (e Err_t) Rc() int32 {
	if e == 0 {
		return 0
	}
	return -int32(e)
}
