// Package trapframe holds the two register-save shapes the arch entry
// code (out of scope per spec §6) agrees on with the rest of the kernel:
// the trap frame saved on every exception entry, and the much smaller
// callee-save context swapped by internal/asm.Swtch. Field layout and the
// exception-class constants are carried over unchanged from the
// originating kernel's aarch64 headers, since trap entry/exit assembly on
// the real target addresses these fields by offset.
package trapframe

// Context is the callee-save register set preserved across a kernel
// thread's own stack switch (internal/proc's sched()/swtch()), distinct
// from the full TrapFrame saved on a trap from user mode. Mirrors
// original_source/kernel/arch/aarch64/include/context.h: x19-x30, the
// thread-pointer register, and the saved EL1 stack pointer.
type Context struct {
	X19, X20, X21, X22, X23, X24, X25, X26, X27, X28, X29, X30 uint64
	TPIDREL0                                                   uint64
	SPEL1                                                      uint64
}

// TrapFrame is the full register save area built at the top of a
// process's kernel stack on every exception entry from user mode.
// Mirrors original_source/kernel/arch/aarch64/include/trapframe.h: the 31
// general-purpose registers, the user stack pointer, the saved program
// counter (ELR_EL1) and processor state (SPSR_EL1).
type TrapFrame struct {
	Regs   [31]uint64
	SP     uint64
	PC     uint64
	PState uint64
}

// Syscall argument/return registers, per the AArch64 SVC calling
// convention this kernel's dispatcher (internal/syscall) assumes: the
// syscall number arrives in x8, arguments in x0-x5, and the return value
// is placed back into x0.
const (
	RegSyscallNo = 8
	RegArg0      = 0
	RegArg1      = 1
	RegArg2      = 2
	RegArg3      = 3
	RegArg4      = 4
	RegArg5      = 5
	RegRet       = 0
)

// Arg returns general-purpose register xn of the trap frame: 0-5 for
// syscall arguments, and Dispatch also reads RegSyscallNo (x8) through it.
func (tf *TrapFrame) Arg(n int) uint64 { return tf.Regs[n] }

// SetReturn places v into the register the SVC return convention reads.
func (tf *TrapFrame) SetReturn(v uint64) { tf.Regs[RegRet] = v }

// BadEntryKind indexes the fixed exception-entry-vector table, mirroring
// original_source/kernel/arch/aarch64/include/exception.h's BAD_* names —
// kept even though this design never dispatches on most of them, so the
// vector table's layout stays self-documenting.
type BadEntryKind int

const (
	BadSyncSP0 BadEntryKind = iota
	BadIRQSP0
	BadFIQSP0
	BadErrorSP0
	BadSyncSPx
	BadIRQSPx
	BadFIQSPx
	BadErrorSPx
	BadAArch32
)

// Exception-class values extracted from ESR_EL1[31:26], the subset this
// kernel's trap entry needs to distinguish a system call from a fault.
const (
	ECUnknown                = 0x0
	ECWFInstruction           = 0x1
	ECIllegalExecutionState   = 0xE
	ECSVC64                   = 0x15
	ISSMask                   = 0xFFFFFF
)
