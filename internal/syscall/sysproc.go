package syscall

import (
	"github.com/yzlqp/OS/internal/proc"
	"github.com/yzlqp/OS/internal/spinlock"
	"github.com/yzlqp/OS/internal/trapframe"
)

// sysExit terminates the calling process; status is reported to a
// parent's wait(). Never returns to the caller in the usual sense — the
// process is Zombie by the time Dispatch would otherwise set a return
// value, so the register write is harmless but unobserved.
func sysExit(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	n, err := argInt(tf, 0)
	if err != nil {
		return -1
	}
	proc.Exit(int(int32(n)))
	return 0
}

func sysGetpid(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	return int64(p.Pid())
}

func sysFork(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	pid, err := proc.Fork()
	if err != nil {
		return -1
	}
	return int64(pid)
}

func sysWait(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	va, err := argPtr(p, tf, 0, 8)
	if err != nil {
		return -1
	}
	var status int
	pid, err := proc.Wait(&status)
	if err != nil {
		return -1
	}
	var buf [8]byte
	putWord(buf[:], uint64(int64(status)))
	if err := copyOutTo(p, va, buf[:]); err != nil {
		return -1
	}
	return int64(pid)
}

func sysYield(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	proc.Yield()
	return 0
}

func sysKill(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	pid, err := argInt(tf, 0)
	if err != nil {
		return -1
	}
	if !proc.Kill(int(int64(pid))) {
		return -1
	}
	return 0
}

func sysSbrk(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	delta, err := argInt(tf, 0)
	if err != nil {
		return -1
	}
	old := int64(p.Sz())
	if err := proc.Growproc(int64(delta)); err != nil {
		return -1
	}
	return old
}

func sysUptime(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	return int64(Uptime())
}

// ticksLock and ticks are the timer's own state: the global tick counter
// internal/timer's IRQ handler increments, and the lock sys_sleep waits
// on the same way the teacher's clock_intr wakes every sleeper on &ticks.
var (
	ticksLock = spinlock.New("ticks")
	ticks     uint64
)

// TickInterrupt advances the tick counter and wakes every process
// sleeping on it; internal/timer's periodic IRQ calls this once per tick,
// matching the original's clock_intr.
func TickInterrupt() {
	ticksLock.Acquire()
	ticks++
	proc.Wakeup(&ticks)
	ticksLock.Release()
}

// Uptime reports the tick count since boot, servicing sys_uptime.
func Uptime() uint64 {
	ticksLock.Acquire()
	defer ticksLock.Release()
	return ticks
}

func sysSleep(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	n, err := argInt(tf, 0)
	if err != nil {
		return -1
	}
	ticksLock.Acquire()
	defer ticksLock.Release()
	target := ticks + n
	for ticks < target {
		if p.Killed() {
			return -1
		}
		proc.Sleep(&ticks, ticksLock)
	}
	return 0
}
