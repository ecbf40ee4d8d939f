// Package gic is the Generic Interrupt Controller (GICv2) collaborator:
// distributor/CPU-interface setup, per-IRQ enable/disable, acknowledge,
// end-of-interrupt, and the handler table internal/timer and internal/
// uart register against. Grounded on gic_qemu.go. External tier in the
// layering table, alongside internal/uart/internal/sdhci/internal/timer.
package gic

import "github.com/yzlqp/OS/internal/asm"

// Distributor register offsets from distBase.
const (
	gicdCtlr       = 0x000
	gicdIGroupRn   = 0x080
	gicdISEnablerN = 0x100
	gicdICEnablerN = 0x180
	gicdICPendrN   = 0x280
	gicdIPriorityN = 0x400
	gicdITargetsN  = 0x800
	gicdICfgRn     = 0xC00
)

// CPU interface register offsets, from distBase+cpuInterfaceOffset.
const (
	cpuInterfaceOffset = 0x10000

	giccCtlr = 0x000
	giccPmr  = 0x004
	giccBpr  = 0x008
	giccIAR  = 0x00C
	giccEOIR = 0x010
)

// MaxIRQ is one past the highest valid interrupt ID this controller
// models (0-1019 are real IDs; 1020-1023 are reserved/spurious).
const MaxIRQ = 1020

// SpuriousID is the value GICC_IAR returns when there is no pending
// interrupt to acknowledge.
const SpuriousID = 1023

// Handler is a registered interrupt service routine.
type Handler func()

// read/write are the testable MMIO seam every external collaborator in
// this kernel shares — _test.go substitutes a fake register map.
var (
	read  = func(addr uintptr) uint32 { return asm.MmioRead(addr) }
	write = func(addr uintptr, v uint32) { asm.MmioWrite(addr, v) }
)

// Controller is one GICv2 instance.
type Controller struct {
	distBase uintptr
	cpuBase  uintptr
	handlers [MaxIRQ]Handler
}

// New brings up the distributor and CPU interface the way gicInitFull
// does: disable both, unmask every priority, clear every pending
// interrupt, route everything to group 0 / CPU 0 as level-triggered
// medium priority, then re-enable both.
func New(distBase uintptr) *Controller {
	c := &Controller{distBase: distBase, cpuBase: distBase + cpuInterfaceOffset}

	write(c.distBase+gicdCtlr, 0)
	write(c.cpuBase+giccCtlr, 0)

	write(c.cpuBase+giccPmr, 0xFF)
	write(c.cpuBase+giccBpr, 0)

	for i := 0; i < 32; i++ {
		write(c.distBase+gicdICPendrN+uintptr(i*4), 0xFFFFFFFF)
	}
	for i := 0; i < 32; i++ {
		write(c.distBase+gicdIGroupRn+uintptr(i*4), 0)
	}
	for i := 0; i < 256; i++ {
		write(c.distBase+gicdIPriorityN+uintptr(i*4), 0x80808080)
	}
	for i := 0; i < 256; i++ {
		write(c.distBase+gicdITargetsN+uintptr(i*4), 0x01010101)
	}
	for i := 0; i < 64; i++ {
		write(c.distBase+gicdICfgRn+uintptr(i*4), 0)
	}

	write(c.distBase+gicdCtlr, 0x01)
	write(c.cpuBase+giccCtlr, 0x01)

	return c
}

// Enable unmasks irq at the distributor.
func (c *Controller) Enable(irq uint32) {
	if irq >= MaxIRQ {
		return
	}
	regIndex, bitIndex := irq/32, irq%32
	write(c.distBase+gicdISEnablerN+uintptr(regIndex*4), 1<<bitIndex)
}

// Disable masks irq at the distributor.
func (c *Controller) Disable(irq uint32) {
	if irq >= MaxIRQ {
		return
	}
	regIndex, bitIndex := irq/32, irq%32
	write(c.distBase+gicdICEnablerN+uintptr(regIndex*4), 1<<bitIndex)
}

// RegisterHandler installs h as the service routine for irq.
func (c *Controller) RegisterHandler(irq uint32, h Handler) {
	if irq >= MaxIRQ {
		return
	}
	c.handlers[irq] = h
}

// Acknowledge reads GICC_IAR and returns the pending interrupt ID (bits
// 9:0), or SpuriousID if none is pending.
func (c *Controller) Acknowledge() uint32 {
	return read(c.cpuBase+giccIAR) & 0x3FF
}

// EndOfInterrupt signals completion of irq's handling.
func (c *Controller) EndOfInterrupt(irq uint32) {
	write(c.cpuBase+giccEOIR, irq)
}

// HandleInterrupt acknowledges the pending interrupt, dispatches to its
// registered handler (if any), and signals end-of-interrupt — the
// arch trap path's entry point into this package on every IRQ exception,
// mirroring gicHandleInterrupt's acknowledge/dispatch/EOI shape.
func (c *Controller) HandleInterrupt() {
	irq := c.Acknowledge()
	if irq >= MaxIRQ {
		return
	}
	if h := c.handlers[irq]; h != nil {
		h()
	}
	c.EndOfInterrupt(irq)
}
