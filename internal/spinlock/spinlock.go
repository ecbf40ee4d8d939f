// Package spinlock implements mutual exclusion by busy-waiting, with the
// nested interrupt-disable accounting (push_off/pop_off) that every other
// lock in the kernel (sleeplock, the zone lock, the buffer cache, the
// process table) sits on top of.
package spinlock

import (
	"github.com/yzlqp/OS/internal/arch"
	"github.com/yzlqp/OS/internal/atomic"
	"github.com/yzlqp/OS/internal/klog"
)

// CPUState tracks, per core, the nested push_off/pop_off depth and the raw
// DAIF register value that was live before the first push_off. One
// instance exists per core; internal/proc's per-CPU record embeds one.
type CPUState struct {
	depth      int
	savedDAIF  uint64
}

// PushOff disables all exception classes and increments this core's
// nesting depth, recording the pre-existing DAIF value the first time
// depth goes 0→1. Matches spec §4.1 exactly: debug, SError, IRQ, and FIQ
// are all masked, not just IRQ.
func (c *CPUState) PushOff() {
	daif := arch.CurrentDAIF()
	arch.DisableAllExceptions()
	if c.depth == 0 {
		c.savedDAIF = daif
	}
	c.depth++
}

// PopOff reverses one PushOff. It panics if interrupts are somehow enabled
// on entry (they must stay masked for the whole nested region) or if depth
// is already zero; on the final pop it restores the exact DAIF value saved
// by the first PushOff.
func (c *CPUState) PopOff() {
	if arch.InterruptsEnabled() {
		klog.Panic("spinlock", "pop_off: interrupts enabled while depth nonzero")
	}
	if c.depth < 1 {
		klog.Panic("spinlock", "pop_off: unbalanced with push_off")
	}
	c.depth--
	if c.depth == 0 {
		arch.RestoreExceptions(c.savedDAIF)
	}
}

// Depth reports the current push_off nesting depth.
func (c *CPUState) Depth() int { return c.depth }

// CPU is implemented by whatever per-core record owns a CPUState; it lets
// spinlock identify "the current core" without importing internal/proc
// (which would create a cycle, since proc's locks are Spinlocks).
type CPU interface {
	State() *CPUState
	ID() int
}

// currentCPU is supplied by internal/proc at init time, breaking the
// import cycle: proc depends on spinlock, so spinlock cannot depend on
// proc, but push_off/pop_off and Acquire/Release need to know which core
// is calling.
var currentCPU func() CPU

// SetCurrentCPU installs the accessor used to find the calling core's
// CPUState and id. internal/proc calls this once during boot.
func SetCurrentCPU(f func() CPU) { currentCPU = f }

// Mutex is a test-and-set spinlock with interrupt masking while held,
// matching spec §4.1: Acquire pushes off, spins with an atomic
// compare-and-swap until it observes the lock free, then records the
// holder; Release verifies ownership, clears the holder, and pops off.
type Mutex struct {
	locked uint32
	name   string
	holder int // core id, or -1 if unheld
}

// New creates a named, unheld spinlock. The name is purely diagnostic —
// it appears in the panic message when a lock is acquired recursively or
// released by a non-holder.
func New(name string) *Mutex {
	return &Mutex{name: name, holder: -1}
}

// Held reports whether the calling core holds the lock. Safe to call with
// or without the lock held; used by assertions elsewhere in the kernel
// (spec requires many operations run "with p->lock held").
func (m *Mutex) Held() bool {
	return atomic.Load(&m.locked) == 1 && m.holder == currentCPU().ID()
}

// Acquire masks interrupts, then spins until it wins the compare-and-swap
// from 0 to 1, then records the holder. Panics if the calling core
// already holds the lock.
func (m *Mutex) Acquire() {
	cpu := currentCPU()
	cpu.State().PushOff()
	if m.Held() {
		klog.Panic("spinlock", "%s: acquire: already held by this core", m.name)
	}
	for !atomic.Cas(&m.locked, 0, 1) {
	}
	arch.FullBarrier()
	m.holder = cpu.ID()
}

// Release verifies the calling core holds the lock, clears the holder,
// releases with a barrier-ordered store, and pops off.
func (m *Mutex) Release() {
	if !m.Held() {
		klog.Panic("spinlock", "%s: release: not held by this core", m.name)
	}
	m.holder = -1
	arch.FullBarrier()
	atomic.Store(&m.locked, 0)
	currentCPU().State().PopOff()
}
