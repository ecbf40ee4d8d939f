// Command kernel is the board bring-up entry point: it brings every
// collaborator package up in dependency order and falls into the
// scheduler, the same shape original_source/kernel/main.c's main() and
// mainother() implement for cpu 0 and the secondary cores respectively.
// This package owns nothing itself — every subsystem it wires already
// lives under internal/ — it is purely the init-order glue the teacher's
// own kernel.go plays for its (much smaller) QEMU demo.
package main

import (
	"os"

	"github.com/yzlqp/OS/internal/arch"
	"github.com/yzlqp/OS/internal/bio"
	"github.com/yzlqp/OS/internal/boardcfg"
	"github.com/yzlqp/OS/internal/console"
	"github.com/yzlqp/OS/internal/fbconsole"
	"github.com/yzlqp/OS/internal/file"
	"github.com/yzlqp/OS/internal/fs"
	"github.com/yzlqp/OS/internal/gic"
	"github.com/yzlqp/OS/internal/kconfig"
	"github.com/yzlqp/OS/internal/klog"
	"github.com/yzlqp/OS/internal/pmm"
	"github.com/yzlqp/OS/internal/proc"
	"github.com/yzlqp/OS/internal/ramfb"
	"github.com/yzlqp/OS/internal/sdhci"
	"github.com/yzlqp/OS/internal/smpboot"
	"github.com/yzlqp/OS/internal/timer"
	"github.com/yzlqp/OS/internal/uart"
	"github.com/yzlqp/OS/internal/virtio/rng"
)

// kernelImageReserve stands in for the real target's link-time `end`
// symbol: main.c's alloc_init(end, PHYSTOP) starts the page allocator
// just past the loaded kernel image rather than at RAMBase itself. This
// design has no linker script of its own (boot/link concerns stay out of
// scope, the same line trapframe.go and asm.go draw), so a fixed 2 MiB
// margin plays the same role without claiming to model a real image
// layout.
const kernelImageReserve = 2 << 20

// gicController is the one GICv2 instance every core's IRQHandler
// dispatches through; wired once by bootCommon, read by trap.go.
var gicController *gic.Controller

func main() {
	cfg := boardcfg.Resolve(nil)

	klog.Info("boot", "core 0 starting, ram=%#x+%#x", cfg.RAMBase, cfg.RAMSizeBytes)

	zone := pmm.NewZone(
		pmm.FrameNumber(cfg.RAMBase/kconfig.PageSize),
		int(cfg.RAMSizeBytes/kconfig.PageSize),
	)
	reserved := pmm.FrameNumber((cfg.RAMBase + kernelImageReserve) / kconfig.PageSize)
	top := pmm.FrameNumber((cfg.RAMBase + cfg.RAMSizeBytes) / kconfig.PageSize)
	zone.FreeRange(reserved, top)
	proc.Init(zone)
	klog.Info("boot", "alloc_init: %d pages managed", zone.ManagedPages())

	bootCommon(cfg)

	sdDev := sdhci.New(cfg.SDHCIBase)
	bio.SetDevice(sdDev)
	klog.Info("boot", "binit/sd_init done")

	proc.SetForkRet(func() { fs.Init(kconfig.RootDev) })

	u := uart.New(cfg.UARTBase)
	u.Init(24_000_000, 115_200)
	console.Init(u)
	klog.Info("boot", "console attached (major %d)", file.Console)

	if surf, err := ramfb.New(cfg.FWCfgBase, cfg.FBWidth, cfg.FBHeight); err != nil {
		klog.Warn("boot", "ramfb unavailable: %v", err)
	} else if err := fbconsole.Init(surf); err != nil {
		klog.Warn("boot", "fbconsole init failed: %v", err)
	} else {
		klog.Info("boot", "fbconsole attached (major %d, %dx%d)", file.FBConsole, cfg.FBWidth, cfg.FBHeight)
	}

	if rngDev, err := rng.New(cfg.RNGBase); err != nil {
		klog.Warn("boot", "virtio-rng unavailable: %v", err)
	} else {
		file.RegisterDevice(file.Random, file.Device{
			Read:  rngDev.Read,
			Write: func(src []byte) (int32, error) { return 0, os.ErrInvalid },
		})
		klog.Info("boot", "virtio-rng attached (major %d)", file.Random)
	}

	p, err := proc.UserInit()
	if err != nil {
		klog.Panic("boot", "init_user: %v", err)
	}
	p.Cwd = fs.Namei("/")
	proc.SetInitProc(p)
	klog.Info("boot", "init_user: pid %d (%s) runnable", p.Pid(), p.Name())

	// secondaryEntryPA is the physical address each secondary core's boot
	// ROM jumps to once released; real assembly lives out of scope (see
	// secondaryMain's doc comment), so this is the address such a
	// trampoline would occupy rather than one that exists in this binary.
	const secondaryEntryPA = 0x40100000
	smpboot.WakeSecondaries(secondaryEntryPA)
	klog.Info("boot", "secondaries released")

	proc.Scheduler()
}

// bootCommon is the subset of init every core performs on its own: the
// exception vector table (out of scope, see internal/asm), the GIC
// distributor/CPU-interface (core 0 only builds the Controller; the
// distributor setup in gic.New is idempotent enough to share), and the
// per-core timer, followed by unmasking interrupts — mirroring
// exception_handler_init/irq_init/timer_init/enable_interrupt from
// main.c, run by both main() and mainother() in the original.
func bootCommon(cfg boardcfg.Config) {
	if gicController == nil {
		gicController = gic.New(cfg.GICDistBase)
	}
	timer.Init(gicController, timer.DefaultIntervalUsec)
	arch.RestoreExceptions(arch.CurrentDAIF() &^ arch.DAIFBitIRQ)
}

// secondaryMain is what each non-zero core runs once woken via
// internal/smpboot's spin-table release: bootCommon, then straight into
// the scheduler — mainother()'s shape in main.c, minus init_user (only
// cpu 0 creates pid 1) and minus binit/sd_init/console/fbconsole/rng
// (core-0-only singletons). No assembly trampoline in this tree actually
// jumps here — the real entry point a spin-table release vectors to is
// out of scope the same way every other raw boot-asm concern in this
// kernel is — so secondaryMain documents the contract such a trampoline
// fulfills rather than being reachable from Go itself.
func secondaryMain(cfg boardcfg.Config) {
	bootCommon(cfg)
	proc.Scheduler()
}
