// Package timer is the periodic tick source: it arms the ARM generic
// virtual timer, registers itself with internal/gic as the handler for
// the virtual-timer PPI, and on every interrupt calls
// internal/syscall.TickInterrupt then proc.Yield — the same
// clock-interrupt/yield shape timer_qemu.go's timerInterruptHandler and
// gic_qemu.go's dispatch loop implement together, collapsed into one
// Go-level handler since this kernel has no reason to split time-critical
// GIC bookkeeping (ack/EOI) from tick bookkeeping across an assembly/Go
// boundary the way the teacher's IRQ trampoline does. External tier in
// the layering table, alongside internal/uart/internal/sdhci/internal/gic.
package timer

import (
	"github.com/yzlqp/OS/internal/asm"
	"github.com/yzlqp/OS/internal/proc"
	"github.com/yzlqp/OS/internal/syscall"
)

// DefaultIntervalUsec is the tick period this kernel arms at boot: 10ms,
// a conventional xv6-style scheduling quantum rather than the teacher's
// own 5-second demo countdown (timer_qemu.go's timerInit arms 5 seconds
// because its handler counts down to a QEMU semihosting exit, a debug
// affordance this kernel has no use for).
const DefaultIntervalUsec = 10_000

// VirtualPPI is the virtual timer's Private Peripheral Interrupt ID on
// the GICv2, matching timer_qemu.go's timer_irq_id() under
// USE_PHYSICAL_TIMER=false (the teacher's own default).
const VirtualPPI = 27

// Controller is registered against to enable/disable and dispatch IRQs;
// internal/gic.Controller satisfies it without this package importing
// internal/gic directly.
type Controller interface {
	RegisterHandler(irq uint32, h func())
	Enable(irq uint32)
}

// The system-register seam: a testable function-var pair wrapping
// internal/asm's CNTV_* primitives, the same substitution pattern
// internal/uart and internal/sdhci use over internal/asm's MMIO pair.
var (
	readCtl    = func() uint32 { return asm.CntvCtl() }
	writeCtl   = func(v uint32) { asm.SetCntvCtl(v) }
	writeTval  = func(v uint32) { asm.SetCntvTval(v) }
	readFreqHz = func() uint32 { return asm.Cntfrq() }
)

const (
	ctlEnable = 1 << 0
	ctlIMask  = 1 << 1
)

// ticksPerInterval caches the down-counter value Init programs, so the
// handler can rearm with the same interval every tick.
var ticksPerInterval uint32

// Init arms the virtual timer to fire every intervalUsec microseconds
// and registers its handler with gic, mirroring timerInit's
// disable/program-TVAL/enable/register-with-GIC sequence and timerSet's
// usec-to-ticks conversion.
func Init(gic Controller, intervalUsec uint32) {
	freq := uint64(readFreqHz())
	ticks := (uint64(intervalUsec) * freq) / 1_000_000
	if ticks > 0xFFFFFFFF {
		ticks = 0xFFFFFFFF
	}
	ticksPerInterval = uint32(ticks)

	writeCtl(0)
	writeTval(ticksPerInterval)
	writeCtl(ctlEnable)

	gic.RegisterHandler(VirtualPPI, handleInterrupt)
	gic.Enable(VirtualPPI)
}

// handleInterrupt is the registered ISR: rearm the down-counter, advance
// the shared tick counter and wake its sleepers, then yield the CPU for
// one scheduling round, matching clock_intr's tick-then-yield shape.
// internal/gic.HandleInterrupt has already acknowledged and EOI'd by the
// time this runs. Split into rearm (directly testable) and the
// tick/yield calls proc.Yield's real context switch makes untestable
// outside package proc, the same boundary internal/console's harness
// comment notes for proc.Sleep.
func handleInterrupt() {
	rearm()
	syscall.TickInterrupt()
	proc.Yield()
}

func rearm() {
	writeTval(ticksPerInterval)
}
