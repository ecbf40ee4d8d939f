// Package kerrno defines the small, fixed set of error codes that cross the
// syscall boundary. Kernel-internal code uses ordinary Go errors; once a
// failure needs to be placed into a trap frame's return-value register, it is
// converted to an Errno, mirroring the -errno convention the teacher's
// syscall.go uses at the same boundary (SyscallSchedGetaffinity and friends
// return plain negative ints, not Go errors).
package kerrno

import "fmt"

// Errno is a negative syscall return value. Zero and positive values are
// never Errno; a handler that succeeds returns an ordinary int64.
type Errno int64

// The fixed taxonomy from spec §7. New syscalls should fail with one of
// these rather than inventing a new code.
const (
	EPERM  Errno = -1  // resource exhaustion or permission denied
	ENOENT Errno = -2  // not found
	EBADF  Errno = -9  // bad file descriptor
	ENOMEM Errno = -12 // out of memory / frames
	EFAULT Errno = -14 // bad user pointer
	EBUSY  Errno = -16 // resource busy (e.g. log has no headroom)
	EEXIST Errno = -17 // path already exists
	ENOTDIR Errno = -20 // not a directory
	EISDIR Errno = -21 // is a directory
	EINVAL Errno = -22 // invalid argument
	ENOSPC Errno = -28 // device full (no free inode/block/proc/fd)
	ERANGE Errno = -34 // write would exceed MAXFILE
	ENOTEMPTY Errno = -39 // directory not empty
)

func (e Errno) Error() string {
	if s, ok := names[e]; ok {
		return s
	}
	return fmt.Sprintf("errno %d", int64(e))
}

var names = map[Errno]string{
	EPERM:     "operation not permitted",
	ENOENT:    "no such file or directory",
	EBADF:     "bad file descriptor",
	ENOMEM:    "out of memory",
	EFAULT:    "bad address",
	EBUSY:     "resource busy",
	EEXIST:    "file exists",
	ENOTDIR:   "not a directory",
	EISDIR:    "is a directory",
	EINVAL:    "invalid argument",
	ENOSPC:    "no space left on device",
	ERANGE:    "result too large",
	ENOTEMPTY: "directory not empty",
}

// FromError maps a Go error to an Errno for the syscall return path,
// defaulting to EINVAL for errors that carry no Errno.
func FromError(err error) Errno {
	if err == nil {
		return 0
	}
	var e Errno
	if as(err, &e) {
		return e
	}
	return EINVAL
}

func as(err error, target *Errno) bool {
	type ernoer interface{ Errno() Errno }
	if ee, ok := err.(ernoer); ok {
		*target = ee.Errno()
		return true
	}
	if e, ok := err.(Errno); ok {
		*target = e
		return true
	}
	return false
}
