package file

import (
	"github.com/yzlqp/OS/internal/kerrno"
	"github.com/yzlqp/OS/internal/proc"
	"github.com/yzlqp/OS/internal/spinlock"
)

// PipeSize is the capacity of a pipe's circular buffer.
const PipeSize = 512

// Pipe is a single anonymous pipe: a circular byte buffer shared between
// a read-only File and a write-only File, plus the open state each end's
// Close needs to decide whether to free it.
type Pipe struct {
	lock         *spinlock.Mutex
	data         [PipeSize]byte
	nread        uint32
	nwrite       uint32
	isReadOpen   bool
	isWriteOpen  bool
}

// PipeAlloc allocates a pipe and the read/write File pair backing it,
// returning (readEnd, writeEnd). Any partial allocation is unwound before
// returning an error.
func PipeAlloc() (r, w *File, err error) {
	r = Alloc()
	w = Alloc()
	if r == nil || w == nil {
		if r != nil {
			Close(r)
		}
		if w != nil {
			Close(w)
		}
		return nil, nil, kerrno.ENOMEM
	}

	pi := &Pipe{
		lock:        spinlock.New("pipe"),
		isReadOpen:  true,
		isWriteOpen: true,
	}
	r.Type, r.Readable, r.Writable, r.Pipe = FDPipe, true, false, pi
	w.Type, w.Readable, w.Writable, w.Pipe = FDPipe, false, true, pi
	return r, w, nil
}

// PipeClose marks pi's read or write end closed, waking whichever side
// might be blocked waiting on the other, and lets the pipe be garbage
// collected once both ends are closed — there is no explicit free: unlike
// the teacher's kalloc'd pipe, this pipe is an ordinary Go allocation the
// runtime reclaims once the last File drops its Pipe pointer.
func PipeClose(pi *Pipe, writable bool) {
	pi.lock.Acquire()
	defer pi.lock.Release()
	if writable {
		pi.isWriteOpen = false
		proc.Wakeup(&pi.nread)
	} else {
		pi.isReadOpen = false
		proc.Wakeup(&pi.nwrite)
	}
}

// PipeWrite copies src into pi's buffer one byte at a time, blocking on a
// full buffer until piperead drains it, and failing once the read end is
// gone or the calling process has been killed while waiting.
func PipeWrite(pi *Pipe, src []byte) (int32, error) {
	p := proc.MyProc()
	pi.lock.Acquire()
	defer pi.lock.Release()

	var i int
	for i < len(src) {
		if !pi.isReadOpen || p.Killed() {
			return -1, kerrno.EBADF
		}
		if pi.nwrite == pi.nread+PipeSize {
			proc.Wakeup(&pi.nread)
			proc.Sleep(&pi.nwrite, pi.lock)
			continue
		}
		pi.data[pi.nwrite%PipeSize] = src[i]
		pi.nwrite++
		i++
	}
	proc.Wakeup(&pi.nread)
	return int32(i), nil
}

// PipeRead copies up to len(dst) available bytes out of pi's buffer,
// blocking if the buffer is empty and the write end is still open.
func PipeRead(pi *Pipe, dst []byte) (int32, error) {
	p := proc.MyProc()
	pi.lock.Acquire()
	defer pi.lock.Release()

	for pi.nread == pi.nwrite && pi.isWriteOpen {
		if p.Killed() {
			return -1, kerrno.EBADF
		}
		proc.Sleep(&pi.nread, pi.lock)
	}

	var i int
	for i < len(dst) {
		if pi.nread == pi.nwrite {
			break
		}
		dst[i] = pi.data[pi.nread%PipeSize]
		pi.nread++
		i++
	}
	proc.Wakeup(&pi.nwrite)
	return int32(i), nil
}
