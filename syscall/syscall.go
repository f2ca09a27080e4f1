// Package syscall implements the dense syscall table (spec.md §4.G):
// a single dispatcher indexed by syscall number, trap frames with
// named argument/return accessors, and one handler per syscall in §6.
// Grounded on kernel/fs/fs.c's sys_call_* family for the filesystem
// calls and kernel/task/schedule.c/task.h for FORK/EXIT, reworked onto
// proc.Task_t and fs.Fs_t rather than global C statics.
package syscall

import (
	"github.com/Aglay/yatos/defs"
	"github.com/Aglay/yatos/fs"
	"github.com/Aglay/yatos/pipe"
	"github.com/Aglay/yatos/proc"
	"github.com/Aglay/yatos/res"
	"github.com/Aglay/yatos/stat"
	"github.com/Aglay/yatos/util"
)

// / TrapFrame_t is the opaque saved-register block a trap entry stub
// / would push; this model keeps only what handlers touch — the
// / syscall number, the three argument slots, and the accumulator the
// / return value is written into (spec.md §6).
type TrapFrame_t struct {
	Num  int
	Arg1 int
	Arg2 int
	Arg3 int
	Ret  int
}

// / Syscall numbers, one per spec.md §6 entry.
const (
	SYS_OPEN = iota
	SYS_READ
	SYS_WRITE
	SYS_SEEK
	SYS_SYNC
	SYS_CLOSE
	SYS_IOCTL
	SYS_READDIR
	SYS_MKDIR
	SYS_UNLINK
	SYS_RMDIR
	SYS_LINK
	SYS_FTRUNCATE
	SYS_FSSYNC
	SYS_FSTAT
	SYS_FCNTL
	SYS_DUP3
	SYS_FORK
	SYS_EXIT
	SYS_PIPE2
	nsyscalls
)

// / Handler_f is the shape every dense-table entry has: read arguments
// / from tf, act, and write the result back into tf.Ret (sysExit leaves
// / tf.Ret untouched).
type Handler_f func(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t)

var table [nsyscalls]Handler_f

func init() {
	table[SYS_OPEN] = sysOpen
	table[SYS_READ] = sysRead
	table[SYS_WRITE] = sysWrite
	table[SYS_SEEK] = sysSeek
	table[SYS_SYNC] = sysSync
	table[SYS_CLOSE] = sysClose
	table[SYS_IOCTL] = sysIoctl
	table[SYS_READDIR] = sysReaddir
	table[SYS_MKDIR] = sysMkdir
	table[SYS_UNLINK] = sysUnlink
	table[SYS_RMDIR] = sysRmdir
	table[SYS_LINK] = sysLink
	table[SYS_FTRUNCATE] = sysFtruncate
	table[SYS_FSSYNC] = sysFssync
	table[SYS_FSTAT] = sysFstat
	table[SYS_FCNTL] = sysFcntl
	table[SYS_DUP3] = sysDup3
	table[SYS_FORK] = sysFork
	table[SYS_EXIT] = sysExit
	table[SYS_PIPE2] = sysPipe2
}

// / Dispatch is the single place that validates the syscall number
// / (spec.md §4.G); handlers validate their own arguments, including
// / pointer validity through the task's user-copy helpers.
func Dispatch(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	if tf.Num < 0 || tf.Num >= int(nsyscalls) || table[tf.Num] == nil {
		tf.Ret = int(-defs.EINVAL)
		return
	}
	res.Reset()
	t.InSyscall = true
	table[tf.Num](t, root, tf)
	t.InSyscall = false
	proc.CheckSchedule()
}

func rc(err defs.Err_t) int { return int(err.Rc()) }

func sysOpen(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	path, err := t.CopyStrFromUser(tf.Arg1)
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	flag, mode := tf.Arg2, tf.Arg3
	f, err := root.Open(path, t.Cwd.Fd.Fops.(*fs.File_t).Inode(), flag, mode)
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	cloexec := flag&defs.O_CLOEXEC != 0
	fdn, err := t.AllocFd(f, permsFor(flag), cloexec)
	if err != 0 {
		f.Close()
		tf.Ret = rc(err)
		return
	}
	tf.Ret = fdn
}

func permsFor(flag int) int {
	switch flag & 0x3 {
	case defs.O_RDONLY:
		return 0x1
	case defs.O_WRONLY:
		return 0x2
	default:
		return 0x1 | 0x2
	}
}

func sysRead(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	f, err := t.GetFd(tf.Arg1)
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	n, err := f.Fops.Read(t.Mkuserio(tf.Arg2, tf.Arg3))
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	tf.Ret = n
}

func sysWrite(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	f, err := t.GetFd(tf.Arg1)
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	n, err := f.Fops.Write(t.Mkuserio(tf.Arg2, tf.Arg3))
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	tf.Ret = n
}

func sysSeek(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	f, err := t.GetFd(tf.Arg1)
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	off, err := f.Fops.Lseek(tf.Arg2, tf.Arg3)
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	tf.Ret = off
}

func sysSync(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	f, err := t.GetFd(tf.Arg1)
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	tf.Ret = rc(f.Fops.Sync())
}

func sysClose(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	tf.Ret = rc(t.CloseFd(tf.Arg1))
}

func sysIoctl(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	f, err := t.GetFd(tf.Arg1)
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	n, err := f.Fops.Ioctl(tf.Arg2, tf.Arg3)
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	tf.Ret = n
}

func sysReaddir(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	f, err := t.GetFd(tf.Arg1)
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	_, err = f.Fops.Readdir(t.Mkuserio(tf.Arg2, defs.MAX_PATH_LEN))
	tf.Ret = rc(err)
}

func sysMkdir(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	path, err := t.CopyStrFromUser(tf.Arg1)
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	tf.Ret = rc(root.Mkdir(path, tf.Arg2))
}

func sysUnlink(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	path, err := t.CopyStrFromUser(tf.Arg1)
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	tf.Ret = rc(root.Unlink(path))
}

func sysRmdir(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	path, err := t.CopyStrFromUser(tf.Arg1)
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	tf.Ret = rc(root.Rmdir(path))
}

func sysLink(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	oldp, err := t.CopyStrFromUser(tf.Arg1)
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	newp, err := t.CopyStrFromUser(tf.Arg2)
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	tf.Ret = rc(root.Link(oldp, newp))
}

func sysFtruncate(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	f, err := t.GetFd(tf.Arg1)
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	tf.Ret = rc(f.Fops.Truncate(uint(tf.Arg2)))
}

func sysFssync(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	tf.Ret = rc(root.Fssync())
}

func sysFstat(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	f, err := t.GetFd(tf.Arg1)
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	var st stat.Stat_t
	if err := f.Fops.Fstat(&st); err != 0 {
		tf.Ret = rc(err)
		return
	}
	tf.Ret = rc(t.CopyToUser(st.Bytes(), tf.Arg2))
}

func sysFcntl(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	_, err := t.GetFd(tf.Arg1)
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	switch tf.Arg2 {
	case defs.F_GETFD:
		tf.Ret = 0
	case defs.F_SETFD:
		tf.Ret = 0
	case defs.F_GETFL:
		tf.Ret = 0
	case defs.F_SETFL:
		// the original falls through to F_DUPFD here; spec.md §9
		// treats that as a bug and has F_SETFL simply succeed.
		tf.Ret = 0
	case defs.F_DUPFD:
		newn := t.LowestFreeFd(tf.Arg3)
		if newn < 0 {
			tf.Ret = rc(-defs.EMFILE)
			return
		}
		if err := t.DupFd(tf.Arg1, newn, false); err != 0 {
			tf.Ret = rc(err)
			return
		}
		tf.Ret = newn
	default:
		tf.Ret = rc(-defs.EINVAL)
	}
}

func sysDup3(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	cloexec := tf.Arg3 != 0
	tf.Ret = rc(t.DupFd(tf.Arg1, tf.Arg2, cloexec))
}

func sysFork(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	child, err := t.Fork()
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	tf.Ret = int(child.Pid)
}

func sysExit(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	t.Exit(tf.Arg1)
}

// sysPipe2 creates an anonymous pipe and writes its two descriptor
// numbers, read end first, into the two-int array at Arg1 — the same
// argument shape Linux's pipe2(2) uses, adapted to this kernel's dense
// syscall table rather than a new dedicated trap number family.
func sysPipe2(t *proc.Task_t, root *fs.Fs_t, tf *TrapFrame_t) {
	rd, wr, err := pipe.MkPipe()
	if err != 0 {
		tf.Ret = rc(err)
		return
	}
	cloexec := tf.Arg2&defs.O_CLOEXEC != 0
	rdn, err := t.AllocFd(rd, 0x1, cloexec)
	if err != 0 {
		rd.Close()
		wr.Close()
		tf.Ret = rc(err)
		return
	}
	wrn, err := t.AllocFd(wr, 0x2, cloexec)
	if err != 0 {
		t.CloseFd(rdn)
		wr.Close()
		tf.Ret = rc(err)
		return
	}
	var fds [8]uint8
	util.Writen(fds[:], 4, 0, rdn)
	util.Writen(fds[:], 4, 4, wrn)
	if err := t.CopyToUser(fds[:], tf.Arg1); err != 0 {
		t.CloseFd(rdn)
		t.CloseFd(wrn)
		tf.Ret = rc(err)
		return
	}
	tf.Ret = 0
}
