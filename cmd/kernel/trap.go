package main

import (
	"github.com/yzlqp/OS/internal/klog"
	"github.com/yzlqp/OS/internal/proc"
	"github.com/yzlqp/OS/internal/syscall"
	"github.com/yzlqp/OS/internal/trapframe"
)

// ExceptionHandler is the Go-side half of the arch trap boundary spec §6
// describes: "saves user registers ... and invokes the dispatcher". The
// register-save/eret assembly that builds tf and later restores it stays
// out of scope, the same line trapframe.go's own doc comment draws;
// ExceptionHandler is the function such a vector table calls into, named
// after exceptions.go's own ExceptionHandler entry point for the same
// reason.
func ExceptionHandler(tf *trapframe.TrapFrame, esr uint64) {
	ec := uint8((esr >> 26) & 0x3F)
	switch ec {
	case trapframe.ECSVC64:
		syscall.Dispatch(proc.MyProc(), tf)
	default:
		klog.Panic("trap", "unhandled exception class %#x (esr=%#x, pc=%#x)", ec, esr, tf.PC)
	}
}

// IRQHandler is exceptions.go's irqHandlerGo counterpart: the vector
// table's IRQ entry point, dispatching through the one GIC instance
// bootCommon wired at boot.
func IRQHandler() {
	gicController.HandleInterrupt()
}
