// Package boardcfg is the resolved board configuration singleton: the
// one place that decides which MMIO base each external collaborator
// (UART, GIC distributor, SD/MMC, virtio-mmio RNG) constructs against,
// and how much RAM internal/pmm's buddy allocator has to carve frames
// out of. cmd/kernel calls Resolve once at boot and passes the result
// down to uart.New/gic.New/sdhci.New/rng.New instead of each of those
// packages hardcoding a QEMU-virt literal itself.
//
// Grounded on kernel.go's own boot-time literals (uartBase :=
// uintptr(0x09000000), RAM_START in page.go/ramfb_qemu.go) and
// dtb_qemu.go's initDeviceTree, generalized from dtb_qemu.go's single
// PCI-ECAM lookup into one FindReg call per collaborator via
// internal/dtb.
package boardcfg

import "github.com/yzlqp/OS/internal/dtb"

// Default* are the QEMU virt machine's well-known fixed addresses,
// matching uart_qemu.go's QEMU_UART_BASE, gic_qemu.go's gicDistBase
// (there resolved from a linker symbol pointing at the same 0x08000000
// the QEMU virt machine's GICv2 is wired at), and the virtio-mmio
// transport window QEMU virt exposes starting at 0x0a000000. Resolve
// falls back to these when no device tree blob is available or a node
// is missing, the same fallback dtb_qemu.go's getPciEcamFromDTB applies
// ("try the DTB pointer, then a fixed physical address").
const (
	DefaultUARTBase     = 0x09000000
	DefaultGICDistBase  = 0x08000000
	DefaultSDHCIBase    = 0x0A003E00 // QEMU virt's highest virtio-mmio slot
	DefaultRNGBase      = 0x0A003C00 // next slot down
	DefaultFWCfgBase    = 0x09020000
	DefaultRAMBase      = 0x40000000
	DefaultRAMSizeBytes = 1 << 30 // 1GiB, matching the spec's reference board

	// DefaultFBWidth/DefaultFBHeight size the ramfb scanout
	// internal/fbconsole renders onto, matching ramfb_qemu.go's fixed
	// 1024x768 allocation.
	DefaultFBWidth  = 1024
	DefaultFBHeight = 768
)

// Compatible strings this kernel knows how to look up. SD/MMC and RNG
// both ride the virtio-mmio transport in this configuration (no PCI
// enumeration — see DESIGN.md) and share a single "virtio,mmio"
// compatible string across every slot, so FindReg (which returns only
// the first match) can't disambiguate which slot is which; both keep
// their fixed defaults below rather than risk resolving to the wrong
// device.
const (
	compatUART = "arm,pl011"
	compatGIC  = "arm,cortex-a15-gic"
)

// Config is every MMIO base and RAM extent a boot sequence needs to
// construct this kernel's external collaborators and initialize
// internal/pmm.
type Config struct {
	UARTBase     uintptr
	GICDistBase  uintptr
	SDHCIBase    uintptr
	RNGBase      uintptr
	FWCfgBase    uintptr
	FBWidth      int
	FBHeight     int
	RAMBase      uintptr
	RAMSizeBytes uintptr
}

// Resolve builds a Config, preferring addresses found in blob (when
// non-nil) and falling back to the QEMU virt machine's fixed defaults
// for anything blob doesn't resolve — including blob itself being nil,
// the same "DTB pointer, else fixed address" fallback
// getPciEcamFromDTB applies.
func Resolve(blob *dtb.Blob) Config {
	cfg := Config{
		UARTBase:     DefaultUARTBase,
		GICDistBase:  DefaultGICDistBase,
		SDHCIBase:    DefaultSDHCIBase,
		RNGBase:      DefaultRNGBase,
		FWCfgBase:    DefaultFWCfgBase,
		FBWidth:      DefaultFBWidth,
		FBHeight:     DefaultFBHeight,
		RAMBase:      DefaultRAMBase,
		RAMSizeBytes: DefaultRAMSizeBytes,
	}
	if blob == nil {
		return cfg
	}

	if addr, _, err := blob.FindReg(compatUART); err == nil {
		cfg.UARTBase = uintptr(addr)
	}
	if addr, _, err := blob.FindReg(compatGIC); err == nil {
		cfg.GICDistBase = uintptr(addr)
	}
	// SDHCI/RNG keep their fixed virtio-mmio-slot defaults; see the
	// compatible-strings comment above for why blob can't resolve them.

	return cfg
}
