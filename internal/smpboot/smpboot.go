// Package smpboot brings up the secondary cores: CPU 0 writes each
// other core's spin-table release-address entry to point at the shared
// secondary-core entry trampoline and issues SEV to wake any core
// parked in WFE. Each secondary's boot ROM then jumps there on its own;
// cmd/kernel's per-core boot path runs arch/GIC/timer init and falls
// into internal/proc.Scheduler from that trampoline. Grounded on
// proc.c's init_awake_ap_by_spintable, the original source's spin-table
// wakeup this kernel's distillation dropped — kernel.go's own main()
// never brings up more than one core, so this package supplements
// rather than replaces anything in the teacher.
package smpboot

import (
	"unsafe"

	"github.com/yzlqp/OS/internal/asm"
	"github.com/yzlqp/OS/internal/kconfig"
)

// SpinTableBase is the release-address array's physical address on the
// boards the original spin-table protocol targets (ARM Trusted Firmware
// reserves 8 bytes per core starting here); QEMU virt's default
// boot flow uses PSCI instead, so this address matters only when this
// kernel is booted under the same bare spin-table convention
// init_awake_ap_by_spintable assumes.
const SpinTableBase uintptr = 0xD8

func entryAddr(core int) uintptr { return SpinTableBase + uintptr(core)*8 }

// The seam two callers substitute: _test.go replaces both with fakes
// backed by a plain Go map, the same testable-seam shape
// internal/uart/internal/sdhci/internal/gic/internal/timer share,
// since nothing in a test binary may dereference a fixed low physical
// address.
var (
	writeEntry = func(core int, pa uint64) {
		entry := (*uint64)(unsafe.Pointer(entryAddr(core)))
		*entry = pa
	}
	readEntry = func(core int) uint64 {
		entry := (*uint64)(unsafe.Pointer(entryAddr(core)))
		return *entry
	}
)

// WakeSecondaries points every core above 0's spin-table entry at
// entryPA (the physical address of the shared secondary-core boot
// trampoline) and issues a store barrier followed by SEV, exactly
// init_awake_ap_by_spintable's "write every entry, dsb st, sev"
// sequence generalized from its hardcoded VA2PA(&_entry) reference to a
// parameter. Called once, by core 0, after its own subsystem init but
// before entering the scheduler.
func WakeSecondaries(entryPA uint64) {
	for core := 1; core < kconfig.NCPU; core++ {
		writeEntry(core, entryPA)
	}
	asm.DSB()
	asm.SEV()
}

// Ready reports whether core's spin-table entry has been released —
// i.e. whether WakeSecondaries has already pointed it at an entry
// point. cmd/kernel's core-0 boot path can poll this after
// WakeSecondaries to confirm every secondary actually picked up its
// entry before declaring the system up; core 0 itself is never
// "woken" this way, so core 0 is never ready by this definition.
func Ready(core int) bool {
	if core <= 0 || core >= kconfig.NCPU {
		return false
	}
	return readEntry(core) != 0
}
