// Package uart is the PL011 UART collaborator: the concrete backend
// behind internal/console's byte-level read/write, grounded on the
// teacher's uart_qemu.go. External in the layering table, same as
// internal/sdhci/internal/gic/internal/timer — everything here either
// calls straight into internal/asm's MmioRead/MmioWrite or does register
// bit arithmetic no test needs a real PL011 to exercise.
package uart

import "github.com/yzlqp/OS/internal/asm"

// PL011 register offsets from a UART's base address, matching
// QEMU_UART_DR/_FR/_IBRD/_FBRD/_LCRH/_CR/_ICR and the IMSC offset the
// teacher's uart_qemu.go hardcodes as BASE+0x38.
const (
	regDR   = 0x00
	regFR   = 0x18
	regIBRD = 0x24
	regFBRD = 0x28
	regLCRH = 0x2C
	regCR   = 0x30
	regIMSC = 0x38
	regICR  = 0x44
)

// UART_FR bits.
const (
	frRXFE = 1 << 4 // receive FIFO empty
	frTXFF = 1 << 5 // transmit FIFO full
)

// UART_CR bits.
const (
	crUARTEN = 1 << 0
	crTXE    = 1 << 8
	crRXE    = 1 << 9
)

// UART_LCRH bits: 8N1, FIFOs enabled.
const (
	lcrhFEN  = 1 << 4
	lcrhWLEN = 3 << 5
)

// The hardware-touching reads/writes below are package-level function
// variables, the same testable-seam pattern internal/arch uses over
// internal/asm — _test.go files substitute a fake register file instead
// of linking the real assembly.
var (
	mmioRead  = func(addr uintptr) uint32 { return asm.MmioRead(addr) }
	mmioWrite = func(addr uintptr, val uint32) { asm.MmioWrite(addr, val) }
)

// UART is one PL011 instance at a fixed MMIO base, e.g. the QEMU virt
// machine's 0x09000000.
type UART struct {
	base uintptr
}

// New returns a UART driver for the device at base, matching the
// teacher's QEMU_UART_BASE constant but taking it as a parameter instead
// of a compiled-in literal, so internal/boardcfg's discovered base
// (device tree or compiled-in default) decides the address rather
// than this package.
func New(base uintptr) *UART {
	return &UART{base: base}
}

// Init brings the UART up at 115200 8N1 with FIFOs enabled, mirroring
// the PL011 sequence the teacher's asm.UartInitPl011 performs: disable,
// program the baud-rate divisor, set line control, then re-enable TX/RX.
func (u *UART) Init(uartClockHz, baud uint32) {
	u.reg(regCR).write(0)

	divider := (uartClockHz * 4) / baud // 64ths of a divisor, so IBRD.FBRD = divider/64
	u.reg(regIBRD).write(divider / 64)
	u.reg(regFBRD).write(divider % 64)

	u.reg(regLCRH).write(lcrhFEN | lcrhWLEN)
	u.reg(regIMSC).write(0)
	u.reg(regICR).write(0x7FF)
	u.reg(regCR).write(crUARTEN | crTXE | crRXE)
}

// Putc blocks until the transmit FIFO has room, then writes c.
func (u *UART) Putc(c byte) {
	for u.reg(regFR).read()&frTXFF != 0 {
	}
	u.reg(regDR).write(uint32(c))
}

// Getc blocks until the receive FIFO has data, then returns the next
// byte.
func (u *UART) Getc() byte {
	for u.reg(regFR).read()&frRXFE != 0 {
	}
	return byte(u.reg(regDR).read())
}

// TxReady reports whether the transmit FIFO currently has room, letting
// a polling caller avoid blocking in Putc.
func (u *UART) TxReady() bool {
	return u.reg(regFR).read()&frTXFF == 0
}

// RxReady reports whether a byte is waiting in the receive FIFO.
func (u *UART) RxReady() bool {
	return u.reg(regFR).read()&frRXFE == 0
}

type register uintptr

func (u *UART) reg(offset uintptr) register { return register(u.base + offset) }

func (r register) read() uint32    { return mmioRead(uintptr(r)) }
func (r register) write(val uint32) { mmioWrite(uintptr(r), val) }
