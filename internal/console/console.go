// Package console is the line-buffered console device: a small
// line-editing ring buffer fed by an interrupt handler, and the
// devsw-style Read/Write pair internal/file registers under the CONSOLE
// major number. Grounded on original_source/kernel/console.c. L11 in the
// layering table — the top of the core kernel, sitting on internal/proc
// for its sleep/wakeup protocol and internal/file for the device-switch
// table it plugs into.
package console

import (
	"github.com/yzlqp/OS/internal/file"
	"github.com/yzlqp/OS/internal/kconfig"
	"github.com/yzlqp/OS/internal/proc"
	"github.com/yzlqp/OS/internal/spinlock"
)

const backspace = 0x100

// ctrl returns the control code for Ctrl-x, e.g. ctrl('U') == 0x15.
func ctrl(x byte) byte { return x - '@' }

// Backend is the byte-level transport a console drives — internal/uart's
// *UART satisfies this, and a test fake stands in for one without a real
// PL011.
type Backend interface {
	Putc(c byte)
}

type console struct {
	lock *spinlock.Mutex
	buf  [kconfig.InputBufSize]byte
	r, w, e uint32
	out  Backend
}

var c console

// Init wires out as the console's UART backend and registers this
// package's Read/Write as the CONSOLE major's device handlers, mirroring
// console_init's init_spin_lock + uart_init + devsw[CONSOLE] assignment.
func Init(out Backend) {
	c.lock = spinlock.New("console")
	c.out = out
	file.RegisterDevice(file.Console, file.Device{Read: Read, Write: Write})
}

// putc writes one character to the backend, expanding backspace into the
// three-character erase sequence a dumb terminal needs.
func putc(ch byte) {
	if ch == backspace {
		c.out.Putc('\b')
		c.out.Putc(' ')
		c.out.Putc('\b')
		return
	}
	c.out.Putc(ch)
}

// Write sends src to the console a byte at a time, satisfying
// file.Device's Write signature.
func Write(src []byte) (int32, error) {
	for _, b := range src {
		c.out.Putc(b)
	}
	return int32(len(src)), nil
}

// Read copies up to one buffered input line into dst, blocking until the
// interrupt handler (Intr) has delivered at least one line. Returns -1 if
// the calling process is killed while waiting, matching console_read.
func Read(dst []byte) (int32, error) {
	target := len(dst)
	n := len(dst)
	c.lock.Acquire()
	defer c.lock.Release()

	for n > 0 {
		for c.r == c.w {
			if proc.MyProc().Killed() {
				return -1, nil
			}
			proc.Sleep(&c.r, c.lock)
		}
		ch := c.buf[c.r%kconfig.InputBufSize]
		c.r++
		if ch == ctrl('D') {
			if n < target {
				c.r--
			}
			break
		}
		dst[target-n] = ch
		n--
		if ch == '\n' {
			break
		}
	}
	return int32(target - n), nil
}

// Intr is the console input interrupt handler: uartintr() calls this once
// per received character. It performs line editing (kill-line, backspace)
// and appends to the ring buffer, waking a blocked Read once a whole line
// (or EOF) has arrived.
func Intr(ch byte) {
	c.lock.Acquire()
	defer c.lock.Release()

	switch ch {
	case ctrl('P'): // process list dump — no scheduler introspection hook here, swallow
	case ctrl('U'): // kill line
		for c.e != c.w && c.buf[(c.e-1)%kconfig.InputBufSize] != '\n' {
			c.e--
			putc(backspace)
		}
	case ctrl('H'), 0x7f: // backspace / DEL
		if c.e != c.w {
			c.e--
			putc(backspace)
		}
	default:
		if ch != 0 && c.e-c.r < kconfig.InputBufSize {
			if ch == '\r' {
				ch = '\n'
			}
			putc(ch)
			c.buf[c.e%kconfig.InputBufSize] = ch
			c.e++
			if ch == '\n' || ch == ctrl('D') || c.e == c.r+kconfig.InputBufSize {
				c.w = c.e
				proc.Wakeup(&c.r)
			}
		}
	}
}
