package proc

import (
	"github.com/Aglay/yatos/defs"
	"github.com/Aglay/yatos/fd"
	"github.com/Aglay/yatos/fdops"
	"github.com/Aglay/yatos/mem"
	"github.com/Aglay/yatos/ustr"
	"github.com/Aglay/yatos/vm"
)

// / CloneVm clones a full address space the way Fork needs: every
// / physical page currently mapped writable is marked copy-on-write in
// / both the parent's and the child's page tables (refcount shared,
// / incremented once per clone) rather than copied outright. Grounded
// / on task_vmm_clone_info's PDT walk, expressed over vm.Vm_t's
// / Vmregion/Pmap instead of a raw two-level table walk.
func CloneVm(parent *vm.Vm_t) (*vm.Vm_t, defs.Err_t) {
	parent.Lock_pmap()
	defer parent.Unlock_pmap()

	pg, p_pmap, ok := mem.Physmem.Pmap_new()
	if !ok {
		return nil, -defs.ENOMEM
	}
	child := &vm.Vm_t{Pmap: pg, P_pmap: p_pmap, Vmregion: parent.Vmregion.Clone()}

	child.Lock_pmap()
	defer child.Unlock_pmap()

	for _, a := range child.Vmregion.Areas() {
		for i := uintptr(0); i < a.Pglen; i++ {
			va := int((a.Pgn + i) << vm.PGSHIFT)
			pte := mem.Pmap_lookup(parent.Pmap, va)
			if pte == nil || *pte&vm.PTE_P == 0 {
				continue
			}
			p_pg := *pte & vm.PTE_ADDR
			perms := *pte &^ (vm.PTE_W | vm.PTE_WASCOW)
			if *pte&vm.PTE_W != 0 {
				perms |= vm.PTE_COW
			}
			*pte = perms
			child.Page_insert(va, p_pg, perms, true, nil)
		}
	}
	return child, 0
}

// / Fork creates a child task that is a copy-on-write duplicate of
// / parent: cloned address space, duplicated descriptor table (each
// / entry reopened so inode refcounts stay accurate), and a copied
// / close-on-exec bitmap. The parent's Fork call returns the child's
// / PID. Fork does not set the child's Entry, and no per-task trap
// / frame records a 0 return value for the child. Mirrors task_vmm_clone_info plus
// / the descriptor-table duplication kernel/fs/fs.c's callers expect
// / from fork.
func (parent *Task_t) Fork() (*Task_t, defs.Err_t) {
	child, err := New(parent)
	if err != 0 {
		return nil, err
	}

	cvm, err := CloneVm(parent.Vm)
	if err != 0 {
		parent.Lock()
		if child.childEntry != nil {
			parent.Children.Remove(child.childEntry)
			child.childEntry = nil
		}
		parent.Unlock()
		deleteTask(child)
		freePid(child.Pid)
		return nil, err
	}
	child.Vm = cvm

	parent.Lock()
	for i := range parent.Fds {
		if parent.Fds[i] == nil {
			continue
		}
		nfd, err := fd.Copyfd(parent.Fds[i])
		if err != 0 {
			parent.Unlock()
			return nil, err
		}
		child.Fds[i] = nfd
		child.Cloexec[i] = parent.Cloexec[i]
	}
	child.Cwd = parent.Cwd
	parent.Unlock()

	Ready(child)
	return child, 0
}

// / Exit tears the calling task down: marks it Zombie, reparents its
// / children to init, closes its open files, and releases its address
// / space. It does not wake the parent. Mirrors the spec's task exit
// / operation (4.D); reaping happens later via the parent's Reap call.
func (t *Task_t) Exit(status int) {
	t.Lock()
	t.ExitStatus = status
	fds := t.Fds
	v := t.Vm
	children := t.Children
	t.Unlock()

	for i := range fds {
		if fds[i] != nil {
			fd.Close_panic(fds[i])
			fds[i] = nil
		}
	}
	if v != nil {
		v.Lock_pmap()
		v.Uvmfree()
		v.Unlock_pmap()
	}

	if initTask != nil && children != nil {
		for e := children.Front(); e != nil; {
			next := e.Next()
			c := e.Value.(*Task_t)
			c.Lock()
			c.Parent = initTask
			c.Unlock()
			initTask.Lock()
			c.childEntry = initTask.Children.PushBack(c)
			initTask.Unlock()
			children.Remove(e)
			e = next
		}
	}

	ToZombie(t)
}

// / Execarg_t names the loadable sections exec should map, the way
// / task.h's struct exec_bin/struct section pair describes a binary
// / without this kernel needing a real ELF loader — that parsing step
// / is out of scope (spec.md §1); callers hand Exec already-decoded
// / section geometry.
type Execarg_t struct {
	Entry    uintptr
	Sections []Section_t
}

// / Section_t is one loadable section of a binary image: a virtual
// / range, its permission bits, and how to fill pages in that range on
// / first fault.
type Section_t struct {
	Start, Len uintptr
	Perms      mem.Pa_t
	Populate   vm.PopulateFunc
}

// / Exec replaces t's address space wholesale: one area per loadable
// / section, a default-sized heap, and a stack extending down from the
// / user stack top — then closes every close-on-exec descriptor.
// / Mirrors task_exec's section-list walk (task.h) minus ELF parsing.
func (t *Task_t) Exec(bin Execarg_t) defs.Err_t {
	pg, p_pmap, ok := mem.Physmem.Pmap_new()
	if !ok {
		return -defs.ENOMEM
	}
	nvm := &vm.Vm_t{Pmap: pg, P_pmap: p_pmap}

	for _, s := range bin.Sections {
		if err := nvm.Vmadd_populated(int(s.Start), int(s.Len), s.Perms, s.Populate); err != 0 {
			mem.Physmem.Dec_pmap(p_pmap)
			return err
		}
	}
	if err := nvm.Vmadd_anon(defs.USER_HEAP_START, defs.USER_HEAP_DEFLEN, mem.PTE_W); err != 0 {
		mem.Physmem.Dec_pmap(p_pmap)
		return err
	}
	stackstart := defs.USER_STACK_TOP - mem.PGSIZE
	if err := nvm.Vmadd_anon(stackstart, mem.PGSIZE, mem.PTE_W); err != 0 {
		mem.Physmem.Dec_pmap(p_pmap)
		return err
	}

	t.Lock()
	oldvm := t.Vm
	t.Vm = nvm
	for i := range t.Fds {
		if t.Fds[i] != nil && t.Cloexec[i] {
			fd.Close_panic(t.Fds[i])
			t.Fds[i] = nil
			t.Cloexec[i] = false
		}
	}
	entry := bin.Entry
	t.Unlock()

	if oldvm != nil {
		oldvm.Lock_pmap()
		oldvm.Uvmfree()
		oldvm.Unlock_pmap()
	}

	t.Entry = func() { _ = entry }
	return 0
}

// copy_from_user/copy_to_user/copy_str_from_user (spec.md §4.D) probe
// user memory through the task's address-space descriptor, returning
// -defs.EFAULT on any inaccessible range rather than faulting the
// kernel itself.

// / CopyFromUser reads n bytes starting at uva in t's address space.
func (t *Task_t) CopyFromUser(uva int, n int) ([]uint8, defs.Err_t) {
	dst := make([]uint8, n)
	if err := t.Vm.User2k(dst, uva); err != 0 {
		return nil, err
	}
	return dst, 0
}

// / CopyToUser writes src into t's address space starting at uva.
func (t *Task_t) CopyToUser(src []uint8, uva int) defs.Err_t {
	return t.Vm.K2user(src, uva)
}

// / CopyStrFromUser reads a NUL-terminated path/string from user space,
// / bounded by MAX_PATH_LEN.
func (t *Task_t) CopyStrFromUser(uva int) (ustr.Ustr, defs.Err_t) {
	return t.Vm.Userstr(uva, defs.MAX_PATH_LEN)
}

// / Mkuserio wraps a file descriptor's user-buffer argument the way
// / every read/write syscall needs: a fdops.Userio_i backed by the
// / calling task's address space.
func (t *Task_t) Mkuserio(uva, n int) fdops.Userio_i {
	return t.Vm.Mkuserbuf(uva, n)
}
