// Package sleeplock implements the long-term, blocking lock used wherever
// a holder may need to wait on I/O while holding it — buffer data
// (internal/bio), inode fields (internal/fs) — as opposed to
// internal/spinlock's short busy-wait Mutex, which must never be held
// across a sleep.
package sleeplock

import (
	"github.com/yzlqp/OS/internal/klog"
	"github.com/yzlqp/OS/internal/proc"
	"github.com/yzlqp/OS/internal/spinlock"
)

// Lock is a sleep-lock: a spinlock-protected flag plus the pid of the
// current holder, released and reacquired around proc.Sleep so waiters
// block instead of spinning.
type Lock struct {
	lk     *spinlock.Mutex
	locked bool
	pid    int
	name   string
}

// New returns an unheld sleep-lock, named for panic messages the same way
// internal/spinlock.New names its spinlocks.
func New(name string) *Lock {
	return &Lock{lk: spinlock.New(name), name: name}
}

// Acquire blocks the calling process until the lock is free, then takes
// it. Waiters sleep on the Lock's own address as the wait channel.
func (l *Lock) Acquire() {
	l.lk.Acquire()
	for l.locked {
		proc.Sleep(l, l.lk)
	}
	l.locked = true
	l.pid = proc.MyProc().Pid()
	l.lk.Release()
}

// Release hands the lock back and wakes anyone sleeping on it. Panics if
// the calling process is not the holder, mirroring the bare-metal
// "invariant violation" panic spec §7 requires for a sleep-lock released
// by a non-owner.
func (l *Lock) Release() {
	if !l.Held() {
		klog.Panic("sleeplock", "%s: release by non-holder", l.name)
	}
	l.lk.Acquire()
	l.locked = false
	l.pid = 0
	proc.Wakeup(l)
	l.lk.Release()
}

// Held reports whether the calling process holds this lock.
func (l *Lock) Held() bool {
	l.lk.Acquire()
	defer l.lk.Release()
	return l.locked && l.pid == proc.MyProc().Pid()
}
