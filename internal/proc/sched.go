package proc

import (
	"github.com/yzlqp/OS/internal/asm"
	"github.com/yzlqp/OS/internal/klog"
	"github.com/yzlqp/OS/internal/vm"
	"unsafe"
)

// doSwitch is the context-switch seam: the real path calls straight into
// the asm-backed Swtch, but it has no Go body to execute on a host running
// `go test`, so it is a package variable the same way internal/arch and
// internal/vm expose their hardware seams. Tests substitute a fake that
// just flips a marker instead of actually transferring control.
var doSwitch = func(old, new unsafe.Pointer) { asm.Swtch(old, new) }

// Scheduler is the per-CPU run loop from spec §4.4: repeatedly scan the
// table for a RUNNABLE slot, switch into it, and regain control only when
// that process calls Sched. It does not enable interrupts itself; the
// interrupt mask stays as the boot path left it.
func Scheduler() {
	c := MyCPU()
	for {
		// Real target: enable interrupts here. Out of scope (internal/asm
		// has no IRQ-enable primitive beyond the DAIF bits internal/arch
		// already exposes) — cmd/kernel's boot sequence is the only
		// caller expected to flip global interrupt state.
		for i := range table {
			p := &table[i]
			p.Lock.Acquire()
			if p.state == Runnable {
				p.state = Running
				c.proc = p
				vm.Uvmswitch(p.pagetablePA)
				doSwitch(unsafe.Pointer(&c.context), unsafe.Pointer(&p.context))
				c.proc = nil
			}
			p.Lock.Release()
		}
	}
}

// Sched implements the process side of a context switch: give up the CPU
// back to the calling core's scheduler loop. Caller must hold p.Lock and
// must have already set a state other than Running.
func Sched(p *Proc) {
	if !p.Lock.Held() {
		klog.Panic("proc", "sched: p.Lock not held")
	}
	if p.state == Running {
		klog.Panic("proc", "sched: process still marked Running")
	}
	c := MyCPU()
	if c.State().Depth() != 1 {
		klog.Panic("proc", "sched: expected exactly one held lock (p.Lock) across a switch")
	}
	doSwitch(unsafe.Pointer(&p.context), unsafe.Pointer(&c.context))
}

// Yield implements spec §4.4's yield: give up the CPU for one scheduling
// round, called both voluntarily and from the timer-interrupt path.
func Yield() {
	p := MyProc()
	p.Lock.Acquire()
	p.state = Runnable
	Sched(p)
	p.Lock.Release()
}

// Sleep implements spec §4.4/§9's channel-based sleep: atomically release
// lk (any lock, conventionally not p.Lock itself) and the process's own
// lock together, mark Sleeping with chanid as the wait-channel identity,
// and switch away. The caller must already hold lk. On return, lk is
// re-acquired.
func Sleep(chanid any, lk Releaser) {
	p := MyProc()

	// Acquire p.Lock before releasing lk so the two are never both
	// unheld — otherwise a Wakeup between the two releases could be
	// missed, the classic lost-wakeup race this ordering exists to
	// avoid.
	p.Lock.Acquire()
	lk.Release()

	p.chanid = chanid
	p.state = Sleeping
	Sched(p)

	p.chanid = nil
	p.Lock.Release()
	lk.Acquire()
}

// Releaser is any lock Sleep can release-then-reacquire around the
// switch; *spinlock.Mutex and *sleeplock.Lock both satisfy it.
type Releaser interface {
	Acquire()
	Release()
}

// Wakeup implements spec §4.4's wakeup: wake every process sleeping on
// chanid by marking it Runnable, skipping the calling process itself (a
// process never needs to wake itself).
func Wakeup(chanid any) {
	self := MyProc()
	for i := range table {
		p := &table[i]
		if p == self {
			continue
		}
		p.Lock.Acquire()
		if p.state == Sleeping && p.chanid == chanid {
			p.state = Runnable
		}
		p.Lock.Release()
	}
}

// Kill implements spec §4.4's kill: mark the target process killed, and
// if it is currently Sleeping, wake it so it observes Killed() promptly
// rather than waiting out whatever it was sleeping for.
func Kill(pid int) bool {
	for i := range table {
		p := &table[i]
		p.Lock.Acquire()
		if p.pid == pid {
			p.killed = true
			if p.state == Sleeping {
				p.state = Runnable
			}
			p.Lock.Release()
			return true
		}
		p.Lock.Release()
	}
	return false
}

// Growproc implements spec §9's growproc(n): grow or shrink the calling
// process's user memory by n bytes via Uvmalloc/Uvmdealloc, exposed to
// internal/syscall as sbrk.
func Growproc(n int64) error {
	p := MyProc()
	oldsz := p.sz
	if n > 0 {
		newsz, err := vm.Uvmalloc(p.pagetable, oldsz, oldsz+uint64(n), zone)
		if err != nil {
			return err
		}
		p.sz = newsz
	} else if n < 0 {
		p.sz = vm.Uvmdealloc(p.pagetable, oldsz, oldsz-uint64(-n), zone)
	}
	return nil
}
