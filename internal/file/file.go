// Package file is the open-file layer: a fixed global table of struct-file
// handles shared (by reference) across every process's per-fd table, a
// device-switch table devices read/write go through, and the
// read/write/stat operations the syscall layer services open/read/write/
// close/dup/fstat through. L9 in the layering table, sitting on
// internal/fs (FD_INODE/FD_DEVICE) and this package's own pipe.go
// (FD_PIPE).
package file

import (
	"github.com/yzlqp/OS/internal/fs"
	"github.com/yzlqp/OS/internal/kconfig"
	"github.com/yzlqp/OS/internal/kerrno"
	"github.com/yzlqp/OS/internal/klog"
	"github.com/yzlqp/OS/internal/proc"
	"github.com/yzlqp/OS/internal/spinlock"
)

// Type is what a File wraps.
type Type int

const (
	FDNone Type = iota
	FDPipe
	FDInode
	FDDevice
)

// File is one open-file-description: the state shared by every fd (in any
// process, after fork or dup) that refers to the same open instance.
type File struct {
	Type     Type
	ref      int
	Readable bool
	Writable bool
	Pipe     *Pipe
	Ip       *fs.Inode
	Off      uint32
	Major    int16
}

// Device is the pair of read/write callbacks a character device major
// number resolves to, the same shape the console driver registers itself
// under.
type Device struct {
	Read  func(dst []byte) (int32, error)
	Write func(src []byte) (int32, error)
}

// Console is the well-known major number the initial console device
// registers under, matching every fd 0/1/2 a freshly started process
// inherits. FBConsole is the graphical console's major, reachable only
// through an explicit mknod — devsw dispatches on major alone (no minor
// field reaches Device.Read/Write), so a second output head needs its
// own major rather than a second minor under Console. Random is the
// VirtIO entropy source's major, likewise reachable only via mknod.
const (
	Console   = 1
	FBConsole = 2
	Random    = 3
)

var devsw [kconfig.NDev]Device

// RegisterDevice installs the read/write callbacks for major number m,
// called once by internal/console (and later any other character device)
// during boot.
func RegisterDevice(m int16, d Device) {
	devsw[m] = d
}

var ftable struct {
	lock  *spinlock.Mutex
	file  [kconfig.NFile]File
}

func init() {
	ftable.lock = spinlock.New("ftable")
	proc.DupFile = func(f any) any { return Dup(f.(*File)) }
	proc.CloseFile = func(f any) { Close(f.(*File)) }
}

// Alloc scans the table for the first unreferenced slot and returns it
// with ref set to 1. Returns nil, rather than panicking, when every slot
// is in use — a process that can't get a file descriptor should fail the
// syscall, not crash the kernel.
func Alloc() *File {
	ftable.lock.Acquire()
	defer ftable.lock.Release()
	for i := range ftable.file {
		f := &ftable.file[i]
		if f.ref == 0 {
			f.ref = 1
			return f
		}
	}
	return nil
}

// Dup increments f's reference count (one more fd, in this or a child
// process after fork, now points at the same open file) and returns f.
func Dup(f *File) *File {
	ftable.lock.Acquire()
	defer ftable.lock.Release()
	if f.ref < 1 {
		klog.Panic("file", "dup: ref = %d", f.ref)
	}
	f.ref++
	return f
}

// Close decrements f's reference count, releasing the underlying pipe or
// inode once the last reference is gone.
func Close(f *File) {
	ftable.lock.Acquire()
	if f.ref < 1 {
		klog.Panic("file", "close: ref = %d", f.ref)
	}
	f.ref--
	if f.ref > 0 {
		ftable.lock.Release()
		return
	}
	ff := *f
	f.ref = 0
	f.Type = FDNone
	ftable.lock.Release()

	switch ff.Type {
	case FDPipe:
		PipeClose(ff.Pipe, ff.Writable)
	case FDInode, FDDevice:
		fs.BeginOp()
		fs.IPut(ff.Ip)
		fs.EndOp()
	}
}

// Stat fills st with f's inode metadata, servicing fstat. Only inode and
// device files carry inode metadata; pipes return an error.
func Stat(f *File, st *fs.Stat) error {
	if f.Type != FDInode && f.Type != FDDevice {
		return kerrno.EBADF
	}
	fs.ILock(f.Ip)
	fs.IStat(f.Ip, st)
	fs.IUnlock(f.Ip)
	return nil
}

// Read reads up to len(dst) bytes from f into dst, servicing read.
// FD_INODE reads advance f's own offset; pipes and devices have none.
func Read(f *File, dst []byte) (int32, error) {
	if !f.Readable {
		return -1, kerrno.EBADF
	}
	switch f.Type {
	case FDPipe:
		return PipeRead(f.Pipe, dst)
	case FDDevice:
		if f.Major < 0 || int(f.Major) >= kconfig.NDev || devsw[f.Major].Read == nil {
			return -1, kerrno.EBADF
		}
		return devsw[f.Major].Read(dst)
	case FDInode:
		fs.ILock(f.Ip)
		n := fs.ReadI(f.Ip, dst, f.Off, uint32(len(dst)))
		f.Off += n
		fs.IUnlock(f.Ip)
		return int32(n), nil
	default:
		klog.Panic("file", "read: unsupported file type %d", f.Type)
		return -1, nil
	}
}

// maxInodeWrite is the most an FD_INODE write passes to fs.WriteI in one
// filesystem transaction: one inode block, one single-indirect block, and
// a couple of blocks of slop for writes that don't align to BSize, leaving
// room under MaxOpBlocks for the allocation itself.
const maxInodeWrite = ((kconfig.MaxOpBlocks - 1 - 1 - 2) / 2) * kconfig.BSize

// Write writes src to f, servicing write. FD_INODE writes are split into
// maxInodeWrite-sized chunks, each its own BeginOp/EndOp transaction, so a
// single large write can never overrun the log's per-transaction budget.
func Write(f *File, src []byte) (int32, error) {
	if !f.Writable {
		return -1, kerrno.EBADF
	}
	switch f.Type {
	case FDPipe:
		return PipeWrite(f.Pipe, src)
	case FDDevice:
		if f.Major < 0 || int(f.Major) >= kconfig.NDev || devsw[f.Major].Write == nil {
			return -1, kerrno.EBADF
		}
		return devsw[f.Major].Write(src)
	case FDInode:
		var i int
		for i < len(src) {
			chunk := len(src) - i
			if chunk > maxInodeWrite {
				chunk = maxInodeWrite
			}
			fs.BeginOp()
			fs.ILock(f.Ip)
			n, err := fs.WriteI(f.Ip, src[i:i+chunk], f.Off, uint32(chunk))
			if n > 0 {
				f.Off += n
			}
			fs.IUnlock(f.Ip)
			fs.EndOp()
			if err != nil || int(n) != chunk {
				return -1, err
			}
			i += chunk
		}
		return int32(i), nil
	default:
		klog.Panic("file", "write: unsupported file type %d", f.Type)
		return -1, nil
	}
}
