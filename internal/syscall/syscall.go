// Package syscall is the trap-frame argument-fetch and dispatch layer:
// one function per syscall number, reached from the arch trap-entry path
// (out of scope per spec §6) once it has built a TrapFrame and identified
// an SVC exception. L10 in the layering table, the top of the kernel
// proper — everything below this package is reachable only through the
// argument helpers here, never by a handler reaching into user memory
// directly.
package syscall

import (
	"github.com/yzlqp/OS/internal/file"
	"github.com/yzlqp/OS/internal/kerrno"
	"github.com/yzlqp/OS/internal/klog"
	"github.com/yzlqp/OS/internal/proc"
	"github.com/yzlqp/OS/internal/trapframe"
	"github.com/yzlqp/OS/internal/vm"
)

// Numbers, in the order the teacher's own syscall table lists them.
const (
	SysExec = iota + 1
	SysExit
	SysGetpid
	SysFork
	SysWait
	SysPipe
	SysYield
	SysChdir
	SysKill
	SysSbrk
	SysUptime
	SysSleep
	SysFstat
	SysMknod
	SysMkdir
	SysOpen
	SysClose
	SysRead
	SysWrite
	SysDup
	SysLink
	SysUnlink
)

type handler func(p *proc.Proc, tf *trapframe.TrapFrame) int64

var table = [...]handler{
	SysExec:   sysExec,
	SysExit:   sysExit,
	SysGetpid: sysGetpid,
	SysFork:   sysFork,
	SysWait:   sysWait,
	SysPipe:   sysPipe,
	SysYield:  sysYield,
	SysChdir:  sysChdir,
	SysKill:   sysKill,
	SysSbrk:   sysSbrk,
	SysUptime: sysUptime,
	SysSleep:  sysSleep,
	SysFstat:  sysFstat,
	SysMknod:  sysMknod,
	SysMkdir:  sysMkdir,
	SysOpen:   sysOpen,
	SysClose:  sysClose,
	SysRead:   sysRead,
	SysWrite:  sysWrite,
	SysDup:    sysDup,
	SysLink:   sysLink,
	SysUnlink: sysUnlink,
}

// Dispatch reads the syscall number out of tf (register x8, per the SVC
// convention trapframe.RegSyscallNo names) and calls the matching
// handler, placing its return value back into tf. Called once per SVC
// trap, after the entry path has saved user state and before eret.
//
// An out-of-range or unimplemented number panics, matching the original
// source's behavior — spec §6 calls this out explicitly as the current
// design's choice, with "a production variant would return -ENOSYS" left
// for a future revision rather than made here.
func Dispatch(p *proc.Proc, tf *trapframe.TrapFrame) {
	n := tf.Arg(trapframe.RegSyscallNo)
	if n == 0 || int(n) >= len(table) || table[n] == nil {
		klog.Panic("syscall", "unsupported syscall number")
	}
	tf.SetReturn(uint64(table[n](p, tf)))
}

// argInt returns trap-frame argument register n (0-5), the Go
// equivalent of the original's argint — every register in that range is
// always addressable, so this never fails in practice, but n is still
// validated to keep the same defensive shape as the source.
func argInt(tf *trapframe.TrapFrame, n int) (uint64, error) {
	if n < 0 || n > 5 {
		return 0, kerrno.EINVAL
	}
	return tf.Arg(n), nil
}

// argPtr fetches argument n as a user virtual address and checks that
// [va, va+size) lies within the process's valid address range, failing
// on an out-of-bounds region rather than trusting proc->sz alone. The
// original computes `i + size > p->sz` directly, which overflows for a
// large enough i and wraps into an address that passes the check; this
// rejects any size or va that would overflow before comparing, resolving
// spec §9's flagged argptr bounds bug by checking the sum can be formed
// at all before comparing it against Sz().
func argPtr(p *proc.Proc, tf *trapframe.TrapFrame, n int, size uint64) (uint64, error) {
	va, err := argInt(tf, n)
	if err != nil {
		return 0, err
	}
	if size > 0 && va > ^uint64(0)-size {
		return 0, kerrno.EFAULT
	}
	if va+size > p.Sz() {
		return 0, kerrno.EFAULT
	}
	return va, nil
}

// argStr fetches argument n as a user virtual address and copies the
// NUL-terminated string there into buf, returning its length.
func argStr(p *proc.Proc, tf *trapframe.TrapFrame, n int, buf []byte) (int, error) {
	va, err := argInt(tf, n)
	if err != nil {
		return 0, err
	}
	if va >= p.Sz() {
		return 0, kerrno.EFAULT
	}
	l, err := vm.CopyInStr(p.Pagetable(), buf, va, len(buf))
	if err != nil {
		return 0, kerrno.EFAULT
	}
	return l, nil
}

// argFd fetches argument n as a file descriptor, validating it against
// the calling process's own open-file table and returning both the fd
// and the *file.File it names.
func argFd(p *proc.Proc, tf *trapframe.TrapFrame, n int) (int, *file.File, error) {
	raw, err := argInt(tf, n)
	if err != nil {
		return 0, nil, err
	}
	fd := int(raw)
	if fd < 0 || fd >= len(p.Ofile) {
		return 0, nil, kerrno.EBADF
	}
	f, _ := p.Ofile[fd].(*file.File)
	if f == nil {
		return 0, nil, kerrno.EBADF
	}
	return fd, f, nil
}

// fdAlloc installs f into the first free slot of p's open-file table,
// returning the new descriptor.
func fdAlloc(p *proc.Proc, f *file.File) (int, error) {
	for fd := range p.Ofile {
		if p.Ofile[fd] == nil {
			p.Ofile[fd] = f
			return fd, nil
		}
	}
	return 0, kerrno.EBADF
}
