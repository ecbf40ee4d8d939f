// Package arch is the thin, testable layer directly over internal/asm: the
// register reads/writes, barriers, and TLB operations the rest of the
// kernel uses, plus cpuid(), which every per-CPU record (internal/proc)
// keys off of. It is L0 in the layering table — everything here either
// calls straight into asm or does arithmetic no test needs a real core to
// exercise.
package arch

import "github.com/yzlqp/OS/internal/asm"

// DAIF bit positions, matching the ARMv8 DAIF system register layout.
const (
	DAIFBitFIQ   = 1 << 6
	DAIFBitIRQ   = 1 << 7
	DAIFBitSErr  = 1 << 8
	DAIFBitDebug = 1 << 9
	DAIFAll      = DAIFBitFIQ | DAIFBitIRQ | DAIFBitSErr | DAIFBitDebug
)

// The hardware-touching operations below are package-level function
// variables, not plain funcs, so unit tests can substitute a fake
// register-backed harness instead of linking the real assembly — the same
// role the teacher's build-tag-selected uart_qemu.go/uart_stub.go pair
// plays for the console. Production code never reassigns them; only
// _test.go files do, and only for the duration of one test.

// InterruptsEnabled reports whether IRQs are currently unmasked.
var InterruptsEnabled = func() bool {
	return asm.DAIF()&DAIFBitIRQ == 0
}

// DisableAllExceptions masks debug, SError, IRQ, and FIQ, matching
// push_off's requirement to mask "all exceptions" rather than just IRQ.
var DisableAllExceptions = func() {
	asm.SetDAIF(asm.DAIF() | DAIFAll)
}

// RestoreExceptions restores the DAIF bits to exactly the value passed in,
// used by pop_off to put back the flag recorded at the first push_off.
var RestoreExceptions = func(daif uint64) {
	asm.SetDAIF(daif)
}

// CurrentDAIF returns the raw DAIF register value, for push_off to stash.
var CurrentDAIF = func() uint64 { return asm.DAIF() }

// CPUID returns this core's index. Must be called with interrupts
// disabled — otherwise the scheduler could migrate the calling goroutine's
// logical process to a different physical core between the register read
// and its use, handing back a stale index. Only the low 8 bits of
// MPIDR_EL1 are meaningful as a core index on the reference board; the
// upper bits encode cluster/affinity fields this kernel does not use.
var CPUID = func() int {
	return int(asm.MPIDREL1() & 0xFF)
}

// Barrier wrappers, named for what they order rather than their mnemonic,
// so call sites read as intent.
var (
	FullBarrier        = func() { asm.DMB() }
	SyncBarrier        = func() { asm.DSB() }
	InstructionBarrier = func() { asm.ISB() }
)

// InvalidateTLBAll flushes every TLB entry visible to this core's
// translation regime.
var InvalidateTLBAll = func() { asm.InvalidateTLBAll() }

// InvalidateTLBPage flushes the TLB entry covering va, if any.
var InvalidateTLBPage = func(va uint64) { asm.InvalidateTLBVA(va) }

// SwitchUserTable points TTBR0_EL1 at a new user page-table root and
// serializes the change with an instruction barrier so the next
// instruction fetch sees it.
var SwitchUserTable = func(pa uint64) {
	asm.SetTTBR0(pa)
	asm.ISB()
}
