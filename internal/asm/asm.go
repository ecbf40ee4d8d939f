// Package asm is the boundary to everything this kernel treats as an
// external collaborator written in assembly: register access, memory and
// instruction barriers, TLB invalidation, and the two hand-offs — context
// switch and trap return — that cannot be expressed in portable Go. None of
// these functions have Go bodies; they are linked against per-architecture
// assembly the way the teacher's kernel.go links mmio_read/mmio_write/delay
// via //go:linkname, and the way internal/runtime/atomic declares its
// primitives with //go:noescape and no body.
//
// This package is L0 in the layering: everything above it (arch, spinlock,
// pmm, vm, proc, ...) is real, testable Go. Nothing below it is.
package asm

import "unsafe"

// DAIF returns the current value of the DAIF interrupt-mask register: bit 9
// Debug, bit 8 SError, bit 7 IRQ, bit 6 FIQ.
//
//go:noescape
func DAIF() uint64

// SetDAIF masks or unmasks all four exception classes at once.
//
//go:noescape
func SetDAIF(bits uint64)

// MPIDREL1 returns the raw value of MPIDR_EL1. Only the low 8 bits are a
// reliable core index on the reference board; see internal/arch.CPUID for
// the documented hazard in using this for more than that.
//
//go:noescape
func MPIDREL1() uint64

// DMB issues a full data memory barrier (dmb ish).
//
//go:noescape
func DMB()

// DSB issues a full data synchronization barrier (dsb ish).
//
//go:noescape
func DSB()

// ISB issues an instruction synchronization barrier.
//
//go:noescape
func ISB()

// SEV issues a send-event, waking every core parked in WFE on this
// cluster. internal/smpboot is the only caller: it pairs SEV with a
// prior DSB the same way init_awake_ap_by_spintable's inline
// "dsb st \n sev" sequence does after writing the spin-table entries.
//
//go:noescape
func SEV()

// InvalidateTLBAll invalidates every TLB entry for the inner shareable
// domain (tlbi vmalle1is).
//
//go:noescape
func InvalidateTLBAll()

// InvalidateTLBVA invalidates TLB entries covering a single virtual page,
// identified by its ASID-qualified VA operand per the TLBI VAE1IS encoding.
//
//go:noescape
func InvalidateTLBVA(va uint64)

// SetTTBR0 writes the user translation table base register (TTBR0_EL1),
// point of entry for internal/vm.Uvmswitch.
//
//go:noescape
func SetTTBR0(pa uint64)

// Swtch performs the callee-save context switch between two *Context
// structures: save the caller's registers into old, restore new's, and
// resume in new's flow of control. It returns to its caller only when some
// other Swtch(..., old) switches back into old.
//
//go:noescape
func Swtch(old, new unsafe.Pointer)

// ForkRetTrampoline is the address a freshly allocated process's saved
// context resumes into the first time it is scheduled; it is assembly
// glue that calls into internal/proc's Go-level forkret and then falls
// through to the trap-frame return path (eret).
//
//go:noescape
func ForkRetTrampoline()

// MmioRead and MmioWrite are the sole access path to device registers —
// UART, GIC, SD/MMC, timer — every peripheral driver in this kernel goes
// through these two instead of touching a raw pointer directly, the same
// role the teacher's identically named mmio_read/mmio_write play for
// kernel.go's own UART/GIC/timer code. A plain Go load/store through an
// unsafe.Pointer would let the compiler reorder or merge adjacent
// accesses; these must compile to single, unmerged, volatile-equivalent
// loads and stores in the target assembly.
//
//go:noescape
func MmioRead(addr uintptr) uint32

//go:noescape
func MmioWrite(addr uintptr, val uint32)

// MmioRead16 and MmioWrite16 are the 16-bit-register counterparts of
// MmioRead/MmioWrite, for collaborators like internal/sdhci whose
// command/transfer-mode/interrupt-status registers are halfwords.
//
//go:noescape
func MmioRead16(addr uintptr) uint16

//go:noescape
func MmioWrite16(addr uintptr, val uint16)

// CntvCtl and SetCntvCtl read/write CNTV_CTL_EL0, the virtual timer's
// control register (bit 0 enable, bit 1 interrupt mask, bit 2 interrupt
// status) — internal/timer's equivalent of the teacher's
// read_cntv_ctl_el0/write_cntv_ctl_el0 pair.
//
//go:noescape
func CntvCtl() uint32

//go:noescape
func SetCntvCtl(val uint32)

// CntvTval and SetCntvTval read/write CNTV_TVAL_EL0, the virtual timer's
// down-counter: writing it arms the next deadline val ticks from now.
//
//go:noescape
func CntvTval() uint32

//go:noescape
func SetCntvTval(val uint32)

// Cntfrq returns CNTFRQ_EL0, the virtual timer's tick frequency in Hz as
// programmed by firmware (62.5MHz on the QEMU virt machine).
//
//go:noescape
func Cntfrq() uint32
