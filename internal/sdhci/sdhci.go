// Package sdhci is the SD Host Controller Interface collaborator: the
// concrete bio.BlockDevice behind the buffer cache, grounded on
// sdhci.go's register layout and command sequencing. External tier in the
// layering table, same as internal/uart/internal/gic/internal/timer.
package sdhci

import (
	"errors"

	"github.com/yzlqp/OS/internal/asm"
	"github.com/yzlqp/OS/internal/kconfig"
)

// Standard register offsets from the controller's MMIO base (SD Host
// Controller Simplified Specification v3.00).
const (
	regDMAAddress   = 0x00
	regBlockSize    = 0x04
	regArgument     = 0x08
	regTransferMode = 0x0C
	regCommand      = 0x0E
	regResponse0    = 0x10
	regBuffer       = 0x20
	regPresentState = 0x24
	regClockCtrl    = 0x2C
	regIntStatus    = 0x30
	regIntEnable    = 0x34
	regSignalEnable = 0x38
)

// Present State bits.
const (
	cmdInhibit    = 1 << 0
	cmdInhibitDAT = 1 << 1
)

// Interrupt Status bits.
const (
	intCmdComplete  = 1 << 0
	intXferComplete = 1 << 1
	intBufferWrite  = 1 << 4
	intBufferRead   = 1 << 5
	intError        = 1 << 15
)

// Command register bits.
const (
	respNone    = 0 << 0
	resp48      = 2 << 0
	respData    = 1 << 5
	cmdReadData = respData | 1<<4
)

const (
	cmdReadSingleBlock = 17
	cmdWriteBlock      = 24
)

const cmdTimeout = 1_000_000

var errTimeout = errors.New("sdhci: controller timeout")

// The register access seam: a testable function-var pair wrapping
// internal/asm's MMIO primitives, the same substitution pattern
// internal/uart and internal/arch already use.
var (
	read32  = func(addr uintptr) uint32 { return asm.MmioRead(addr) }
	write32 = func(addr uintptr, v uint32) { asm.MmioWrite(addr, v) }
	read16  = func(addr uintptr) uint16 { return asm.MmioRead16(addr) }
	write16 = func(addr uintptr, v uint16) { asm.MmioWrite16(addr, v) }
)

// Controller is one SDHCI instance at a fixed MMIO base. New takes the
// base as a parameter rather than discovering it via PCI enumeration —
// this kernel's device-tree/boardcfg layer resolves the address before
// constructing one, the same division of labor internal/uart.New
// follows.
type Controller struct {
	base uintptr
}

// New returns an SDHCI driver for the controller at base and enables its
// command-complete/transfer-complete/error interrupt signals, mirroring
// sdhciInit's tail end once a valid MMIO base is known.
func New(base uintptr) *Controller {
	c := &Controller{base: base}
	enable := uint16(intCmdComplete | intXferComplete | intError)
	write16(c.reg(regIntEnable), enable)
	write16(c.reg(regSignalEnable), enable)
	return c
}

func (c *Controller) reg(offset uintptr) uintptr { return c.base + offset }

func (c *Controller) waitReady() bool {
	for timeout := cmdTimeout; timeout > 0; timeout-- {
		if read32(c.reg(regPresentState))&(cmdInhibit|cmdInhibitDAT) == 0 {
			return true
		}
	}
	return false
}

// sendCommand issues cmdIndex with arg and flags and waits for either
// command-complete or an error, the same shape as sdhciSendCommand.
func (c *Controller) sendCommand(cmdIndex uint8, arg uint32, flags uint16) error {
	if !c.waitReady() {
		return errTimeout
	}

	write16(c.reg(regIntStatus), 0xFFFF)
	write32(c.reg(regArgument), arg)
	write16(c.reg(regCommand), uint16(cmdIndex)<<8|flags)

	for timeout := cmdTimeout; timeout > 0; timeout-- {
		status := read16(c.reg(regIntStatus))
		if status&intCmdComplete != 0 {
			write16(c.reg(regIntStatus), intCmdComplete)
			return nil
		}
		if status&intError != 0 {
			write16(c.reg(regIntStatus), intError)
			return errTimeout
		}
	}
	return errTimeout
}

// waitForTransfer blocks until the named data-ready bit (or transfer
// complete) is raised, clearing it so the next transfer starts clean.
func (c *Controller) waitForTransfer(bit uint16) error {
	for timeout := cmdTimeout; timeout > 0; timeout-- {
		status := read16(c.reg(regIntStatus))
		if status&bit != 0 {
			write16(c.reg(regIntStatus), bit)
			return nil
		}
		if status&intError != 0 {
			write16(c.reg(regIntStatus), intError)
			return errTimeout
		}
	}
	return errTimeout
}

// setBlockSize programs a one-block transfer of kconfig.BSize bytes,
// the per-transfer register SDHC/SDXC cards use in place of a CMD16
// SET_BLOCKLEN (they're fixed at 512 bytes already).
func (c *Controller) setBlockSize() {
	write16(c.reg(regBlockSize), uint16(kconfig.BSize))
}

// ReadBlock reads one kconfig.BSize-byte filesystem block (blockno is
// relative to the start of the root partition, not the whole card) into
// data via CMD17 (READ_SINGLE_BLOCK), satisfying bio.BlockDevice. dev is
// unused: this controller backs exactly one card, the same single-device
// assumption internal/fs's single global superblock makes. The
// kconfig.PartitionLBA offset is added here, and only here — every layer
// above this package works in plain in-filesystem block numbers.
func (c *Controller) ReadBlock(dev, blockno uint32, data []byte) error {
	_ = dev
	if len(data) < kconfig.BSize {
		return errors.New("sdhci: ReadBlock buffer smaller than one block")
	}

	lba := kconfig.PartitionLBA + blockno
	c.setBlockSize()
	if err := c.sendCommand(cmdReadSingleBlock, lba, resp48|cmdReadData); err != nil {
		return err
	}
	if err := c.waitForTransfer(intBufferRead); err != nil {
		return err
	}

	for i := 0; i < kconfig.BSize; i += 4 {
		word := read32(c.reg(regBuffer))
		data[i+0] = byte(word)
		data[i+1] = byte(word >> 8)
		data[i+2] = byte(word >> 16)
		data[i+3] = byte(word >> 24)
	}
	return c.waitForTransfer(intXferComplete)
}

// WriteBlock writes one kconfig.BSize-byte filesystem block from data
// via CMD24 (WRITE_BLOCK), satisfying bio.BlockDevice, adding the same
// kconfig.PartitionLBA offset ReadBlock does.
func (c *Controller) WriteBlock(dev, blockno uint32, data []byte) error {
	_ = dev
	if len(data) < kconfig.BSize {
		return errors.New("sdhci: WriteBlock buffer smaller than one block")
	}

	lba := kconfig.PartitionLBA + blockno
	c.setBlockSize()
	if err := c.sendCommand(cmdWriteBlock, lba, resp48|respData); err != nil {
		return err
	}
	if err := c.waitForTransfer(intBufferWrite); err != nil {
		return err
	}

	for i := 0; i < kconfig.BSize; i += 4 {
		word := uint32(data[i]) | uint32(data[i+1])<<8 | uint32(data[i+2])<<16 | uint32(data[i+3])<<24
		write32(c.reg(regBuffer), word)
	}
	return c.waitForTransfer(intXferComplete)
}
