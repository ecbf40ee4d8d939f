package proc

import (
	"github.com/yzlqp/OS/internal/kconfig"
	"github.com/yzlqp/OS/internal/klog"
	"github.com/yzlqp/OS/internal/vm"
)

// DupFile and DupInode let the higher layers (internal/file,
// internal/fs) hook Fork's file-table and cwd duplication without proc
// importing them — the same opaque-Ofile/Cwd trick as the Proc struct
// itself. The package init functions of internal/file and internal/fs
// install these.
var (
	DupFile  func(f any) any
	DupInode func(i any) any
)

// Fork implements spec §4.4's fork(): allocate a child slot, deep-copy
// the parent's user memory (uvmcopy), duplicate open files and cwd, copy
// the trap frame so the child returns from the same syscall with a 0
// return value, and make the child Runnable.
func Fork() (int, error) {
	parent := MyProc()

	child, err := AllocProc()
	if err != nil {
		return -1, err
	}

	if err := vm.Uvmcopy(parent.pagetable, child.pagetable, parent.sz, zone); err != nil {
		child.Lock.Release()
		freeProc(child)
		return -1, err
	}
	child.sz = parent.sz

	*child.tf = *parent.tf
	child.tf.SetReturn(0)

	for i, f := range parent.Ofile {
		if f == nil {
			continue
		}
		if DupFile != nil {
			child.Ofile[i] = DupFile(f)
		} else {
			child.Ofile[i] = f
		}
	}
	if parent.Cwd != nil && DupInode != nil {
		child.Cwd = DupInode(parent.Cwd)
	} else {
		child.Cwd = parent.Cwd
	}

	copy(child.name[:], parent.name[:])
	child.parent = parent

	pid := child.pid
	child.state = Runnable
	child.Lock.Release()
	return pid, nil
}

// CloseFile and PutInode let internal/file/internal/fs hook Exit's
// teardown of a dying process's open files and cwd.
var (
	CloseFile func(f any)
	PutInode  func(i any)
)

// Exit implements spec §4.4's exit(): close every open file, release
// cwd, reparent children to process 1 (the init process, installed via
// SetInitProc), record the exit status, wake the parent under WaitLock,
// and switch away as a ZOMBIE. Never returns.
func Exit(status int) {
	p := MyProc()
	if p == initProc {
		klog.Panic("proc", "init process exiting")
	}

	for i, f := range p.Ofile {
		if f == nil {
			continue
		}
		if CloseFile != nil {
			CloseFile(f)
		}
		p.Ofile[i] = nil
	}
	if p.Cwd != nil && PutInode != nil {
		PutInode(p.Cwd)
		p.Cwd = nil
	}

	WaitLock.Acquire()
	reparentChildren(p)
	parent := p.parent

	// Wakeup scans the whole table acquiring each candidate's lock
	// itself, so the parent's lock must not already be held here (this
	// core already holds p.Lock below) — acquiring it twice would trip
	// the spinlock's recursive-acquire panic.
	p.Lock.Acquire()
	p.xstate = status
	p.state = Zombie
	Wakeup(parent)
	WaitLock.Release()

	Sched(p)
	klog.Panic("proc", "exit: zombie process resumed")
}

// reparentChildren hands every child of p to the init process, per spec
// §9's "parent is a weak index, validated while holding the wait-lock".
// Caller holds WaitLock.
func reparentChildren(p *Proc) {
	for i := range table {
		child := &table[i]
		child.Lock.Acquire()
		reparented := child.parent == p
		if reparented {
			child.parent = initProc
		}
		child.Lock.Release()
		// Wakeup takes every other slot's lock itself, child's included.
		if reparented {
			Wakeup(initProc)
		}
	}
}

var initProc *Proc

// SetInitProc records the pid-1 process new orphans reparent to.
func SetInitProc(p *Proc) { initProc = p }

// ErrNoChildren is returned by Wait when the calling process has no
// children at all.
var ErrNoChildren = stringError("proc: wait: no children")

// Wait implements spec §4.4's wait(): block on the calling process's own
// identity as a wait channel until some child becomes a ZOMBIE, then free
// that child's process-table slot and return its pid and exit status.
func Wait(status *int) (int, error) {
	p := MyProc()
	WaitLock.Acquire()
	for {
		haveChildren := false
		for i := range table {
			child := &table[i]
			if child.parent != p {
				continue
			}
			haveChildren = true
			child.Lock.Acquire()
			if child.state == Zombie {
				pid := child.pid
				if status != nil {
					*status = child.xstate
				}
				child.Lock.Release()
				freeProc(child)
				WaitLock.Release()
				return pid, nil
			}
			child.Lock.Release()
		}
		if !haveChildren || p.killed {
			WaitLock.Release()
			return -1, ErrNoChildren
		}
		Sleep(p, WaitLock)
	}
}

// freeProc tears down a ZOMBIE slot's address space and resets it to
// Unused. Caller must not hold child.Lock.
func freeProc(p *Proc) {
	p.Lock.Acquire()
	vm.Uvmfree(p.pagetable, p.pagetablePA, p.sz, zone)
	lock := p.Lock
	*p = Proc{Lock: lock, state: Unused}
	lock.Release()
}

// UserInit implements spec §4.4's init_user(): allocate pid 1, map the
// one-page initcode program at user VA 0, and point its trap frame at
// the start of that page so the first user-mode return (via
// RunForkRet's fall-through) lands on instruction 0 with SP at the top
// of the page. The caller is responsible for what proc.c's init_user
// does next outside this package's reach — setting Cwd via a namei("/")
// lookup and registering the result with SetInitProc, since internal/fs
// sits above internal/proc in the layering table.
func UserInit() (*Proc, error) {
	p, err := AllocProc()
	if err != nil {
		return nil, err
	}

	sz, err := vm.Uvmalloc(p.pagetable, 0, kconfig.PageSize, zone)
	if err != nil {
		p.freeLocked()
		p.Lock.Release()
		return nil, err
	}
	p.sz = sz

	if err := vm.CopyOut(p.pagetable, 0, initcode); err != nil {
		p.freeLocked()
		p.Lock.Release()
		return nil, err
	}

	p.tf.PC = 0
	p.tf.SP = kconfig.PageSize
	copy(p.name[:], "initcode")
	p.state = Runnable

	p.Lock.Release()
	return p, nil
}
