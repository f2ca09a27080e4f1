// Command kernel boots the simulated machine: formats an in-memory
// disk, mounts it, spawns the init task, and drives a short demo
// workload through the syscall dispatcher so the wiring between fs,
// proc, and syscall can be exercised end to end. Real hardware
// bring-up (GDT/TSS setup, interrupt vectors, the boot loader itself)
// is out of scope (spec.md §1) the same way arch/x86/drivers/task.c's
// task_arch_init is — this is the host-side harness standing in for
// it, in chentry.go's plain CLI-tool style.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/Aglay/yatos/defs"
	"github.com/Aglay/yatos/fd"
	"github.com/Aglay/yatos/fs"
	"github.com/Aglay/yatos/mem"
	"github.com/Aglay/yatos/pipe"
	"github.com/Aglay/yatos/proc"
	"github.com/Aglay/yatos/syscall"
	"github.com/Aglay/yatos/ustr"
	"github.com/Aglay/yatos/vm"
)

func main() {
	diskBlocks := flag.Int("blocks", 4096, "size of the simulated disk, in blocks")
	ninodes := flag.Int("inodes", 1024, "number of inodes to format")
	flag.Parse()

	mem.Phys_init()

	disk := newMemdisk(*diskBlocks)
	ext2 := fs.MkExt2(disk, blockmem{}, *diskBlocks, *ninodes)
	root := fs.MkFs(ext2)
	fmt.Printf("fs: formatted %v (%v inodes)\n", disk.Stats(), *ninodes)

	roottask, err := bootInit(root)
	if err != 0 {
		log.Fatalf("kernel: bootInit: %v", err)
	}
	proc.AddNew(roottask)
	fmt.Printf("proc: init running as pid %v\n", roottask.Pid)

	if err := demo(roottask, root); err != 0 {
		log.Fatalf("kernel: demo: %v", err)
	}

	runScheduler()
}

// bootInit constructs the first task: an empty address space (demo
// maps the anonymous page it stages syscall arguments in), a
// root-rooted current directory, and the console on fds 0-2. Mirrors task_init plus task_vmm_init's "first
// task has no parent to inherit from" path in arch/x86/drivers/task.c.
func bootInit(root *fs.Fs_t) (*proc.Task_t, defs.Err_t) {
	t, err := proc.New(nil)
	if err != 0 {
		return nil, err
	}

	pg, p_pmap, ok := mem.Physmem.Pmap_new()
	if !ok {
		return nil, -defs.ENOMEM
	}
	t.Vm = &vm.Vm_t{Pmap: pg, P_pmap: p_pmap}

	rootFile, err := root.Open(ustr.MkUstrRoot(), nil, defs.O_RDONLY, 0)
	if err != 0 {
		return nil, err
	}
	t.Cwd = fd.MkRootCwd(&fd.Fd_t{Fops: rootFile, Perms: fd.FD_READ})

	// stdin/stdout/stderr, all three ends of the one console tty —
	// there is no real console driver (spec.md §1), so pipe.Tty_t's
	// Write goes straight to the host's stdout.
	con := pipe.MkTty()
	if _, err := t.AllocFd(con, 0x1, false); err != 0 {
		return nil, err
	}
	con.Reopen()
	if _, err := t.AllocFd(con, 0x2, false); err != 0 {
		return nil, err
	}
	con.Reopen()
	if _, err := t.AllocFd(con, 0x2, false); err != 0 {
		return nil, err
	}

	return t, 0
}

func demo(t *proc.Task_t, root *fs.Fs_t) defs.Err_t {
	const argpage = defs.USER_HEAP_START
	if err := t.Vm.Vmadd_anon(argpage, mem.PGSIZE, mem.PTE_W); err != 0 {
		return err
	}

	put := func(s string) int {
		buf := append([]uint8(s), 0)
		if err := t.CopyToUser(buf, argpage); err != 0 {
			panic(err)
		}
		return argpage
	}

	tf := &syscall.TrapFrame_t{Num: syscall.SYS_MKDIR, Arg1: put("/bin"), Arg2: 0755}
	syscall.Dispatch(t, root, tf)
	if tf.Ret < 0 {
		return defs.Err_t(-tf.Ret)
	}
	fmt.Printf("demo: mkdir /bin -> %v\n", tf.Ret)

	tf = &syscall.TrapFrame_t{Num: syscall.SYS_OPEN, Arg1: put("/bin/hello"), Arg2: defs.O_CREAT | defs.O_WRONLY, Arg3: fs.S_IFREG | 0644}
	syscall.Dispatch(t, root, tf)
	if tf.Ret < 0 {
		return defs.Err_t(-tf.Ret)
	}
	helloFd := tf.Ret
	fmt.Printf("demo: open /bin/hello -> fd %v\n", helloFd)

	msg := "#!/bin/hello\n"
	buf := []uint8(msg)
	if err := t.CopyToUser(buf, argpage+mem.PGSIZE/2); err != 0 {
		return err
	}
	tf = &syscall.TrapFrame_t{Num: syscall.SYS_WRITE, Arg1: helloFd, Arg2: argpage + mem.PGSIZE/2, Arg3: len(buf)}
	syscall.Dispatch(t, root, tf)
	if tf.Ret < 0 {
		return defs.Err_t(-tf.Ret)
	}
	fmt.Printf("demo: write /bin/hello -> %v bytes\n", tf.Ret)

	tf = &syscall.TrapFrame_t{Num: syscall.SYS_CLOSE, Arg1: helloFd}
	syscall.Dispatch(t, root, tf)
	fmt.Printf("demo: close -> %v\n", tf.Ret)

	tf = &syscall.TrapFrame_t{Num: syscall.SYS_FORK}
	syscall.Dispatch(t, root, tf)
	if tf.Ret < 0 {
		return defs.Err_t(-tf.Ret)
	}
	fmt.Printf("demo: fork -> child pid %v\n", tf.Ret)

	child, ok := proc.Find(defs.Pid_t(tf.Ret))
	if !ok {
		return -defs.ESRCH
	}
	child.Exit(0)
	status, err := t.Reap(child)
	if err != 0 {
		return err
	}
	fmt.Printf("demo: reaped child, exit status %v\n", status)

	tf = &syscall.TrapFrame_t{Num: syscall.SYS_FSSYNC}
	syscall.Dispatch(t, root, tf)
	fmt.Printf("demo: fssync -> %v\n", tf.Ret)

	if err := demoPipe(t, root, argpage); err != 0 {
		return err
	}

	return 0
}

// demoPipe exercises the Pipe_t capability-set variant end to end:
// create, write, read the same bytes back, close both ends.
func demoPipe(t *proc.Task_t, root *fs.Fs_t, argpage int) defs.Err_t {
	fdpair := argpage + mem.PGSIZE/2
	tf := &syscall.TrapFrame_t{Num: syscall.SYS_PIPE2, Arg1: fdpair}
	syscall.Dispatch(t, root, tf)
	if tf.Ret < 0 {
		return defs.Err_t(-tf.Ret)
	}
	fdbuf, err := t.CopyFromUser(fdpair, 8)
	if err != 0 {
		return err
	}
	rdfd := int(fdbuf[0]) | int(fdbuf[1])<<8 | int(fdbuf[2])<<16 | int(fdbuf[3])<<24
	wrfd := int(fdbuf[4]) | int(fdbuf[5])<<8 | int(fdbuf[6])<<16 | int(fdbuf[7])<<24
	fmt.Printf("demo: pipe2 -> read fd %v, write fd %v\n", rdfd, wrfd)

	msg := "ping"
	if err := t.CopyToUser([]uint8(msg), fdpair); err != 0 {
		return err
	}
	tf = &syscall.TrapFrame_t{Num: syscall.SYS_WRITE, Arg1: wrfd, Arg2: fdpair, Arg3: len(msg)}
	syscall.Dispatch(t, root, tf)
	if tf.Ret < 0 {
		return defs.Err_t(-tf.Ret)
	}

	tf = &syscall.TrapFrame_t{Num: syscall.SYS_READ, Arg1: rdfd, Arg2: fdpair, Arg3: len(msg)}
	syscall.Dispatch(t, root, tf)
	if tf.Ret < 0 {
		return defs.Err_t(-tf.Ret)
	}
	got, err := t.CopyFromUser(fdpair, tf.Ret)
	if err != 0 {
		return err
	}
	fmt.Printf("demo: pipe round-trip -> %q\n", string(got))

	tf = &syscall.TrapFrame_t{Num: syscall.SYS_CLOSE, Arg1: wrfd}
	syscall.Dispatch(t, root, tf)
	tf = &syscall.TrapFrame_t{Num: syscall.SYS_CLOSE, Arg1: rdfd}
	syscall.Dispatch(t, root, tf)
	return 0
}

// runScheduler drives a handful of timer ticks so proc.Schedule's
// run/time_up rotation is exercised even in a one-task system, then
// stops — there is no real idle loop to fall into (spec.md §4.E treats
// an empty ready set as "halt and wait for an interrupt", which this
// harness has nothing to wait for).
func runScheduler() {
	for i := 0; i < defs.MAX_TASK_RUN_CLICK+5; i++ {
		proc.Tick()
		cur, runnable := proc.Schedule()
		if !runnable {
			fmt.Println("proc: ready set empty, halting")
			return
		}
		_ = cur
	}
	fmt.Println("proc: demo schedule loop finished")
}
