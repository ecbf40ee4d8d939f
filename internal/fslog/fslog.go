// Package fslog is the write-ahead log: a reserved on-disk region (one
// header block plus LogSize data slots) that makes groups of block writes
// crash-atomic. L7 in the layering table, sitting on internal/bio and
// internal/proc's Sleep/Wakeup.
package fslog

import (
	"unsafe"

	"github.com/yzlqp/OS/internal/bio"
	"github.com/yzlqp/OS/internal/kconfig"
	"github.com/yzlqp/OS/internal/klog"
	"github.com/yzlqp/OS/internal/proc"
	"github.com/yzlqp/OS/internal/spinlock"
)

type header struct {
	n     int32
	block [kconfig.LogSize]int32
}

// castBuf reinterprets a cache block's raw bytes as the on-disk log
// header layout.
func castBuf(b *bio.Buf) *header {
	return (*header)(unsafe.Pointer(&b.Data[0]))
}

var st struct {
	lock        *spinlock.Mutex
	start       int32 // block number of the header block
	size        int32
	outstanding int32
	committing  bool
	dev         uint32
	lh          header
}

func init() {
	st.lock = spinlock.New("log")
}

// Init reads the log's location and size (as recorded in the superblock)
// and replays any committed-but-not-yet-installed transaction left over
// from an unclean shutdown. internal/fs calls this once at mount time.
func Init(dev uint32, logStart, logSize int32) {
	if int(unsafe.Sizeof(header{})) >= kconfig.BSize {
		klog.Panic("fslog", "init: log header too big for one block")
	}
	st.start = logStart
	st.size = logSize
	st.dev = dev
	recoverFromLog()
}

func readHead() {
	b := bio.Bread(st.dev, uint32(st.start))
	lh := (*header)(castBuf(b))
	st.lh.n = lh.n
	for i := int32(0); i < lh.n; i++ {
		st.lh.block[i] = lh.block[i]
	}
	bio.Brelease(b)
}

// writeHead writes the in-memory header to disk. This is the commit
// point: once it returns, the transaction is durable and will be replayed
// by recoverFromLog on the next boot even if the kernel crashes before
// install finishes.
func writeHead() {
	b := bio.Bread(st.dev, uint32(st.start))
	hb := (*header)(castBuf(b))
	hb.n = st.lh.n
	for i := int32(0); i < st.lh.n; i++ {
		hb.block[i] = st.lh.block[i]
	}
	bio.Bwrite(b)
	bio.Brelease(b)
}

// installTrans copies every logged block from its log slot to its home
// block. When recovering is true, bunpin is suppressed, since recovery
// runs before internal/bio's cache has any pinned buffers to release.
func installTrans(recovering bool) {
	for tail := int32(0); tail < st.lh.n; tail++ {
		lbuf := bio.Bread(st.dev, uint32(st.start+tail+1))
		dbuf := bio.Bread(st.dev, uint32(st.lh.block[tail]))
		dbuf.Data = lbuf.Data
		bio.Bwrite(dbuf)
		if !recovering {
			bio.Bunpin(dbuf)
		}
		bio.Brelease(lbuf)
		bio.Brelease(dbuf)
	}
}

func recoverFromLog() {
	readHead()
	installTrans(true)
	st.lh.n = 0
	writeHead()
}

// BeginOp marks the start of one filesystem syscall's transaction. It
// blocks while a commit is in progress, or while admitting this call
// could exceed the log's reserved capacity for all calls already
// outstanding.
func BeginOp() {
	st.lock.Acquire()
	for {
		if st.committing || st.lh.n+(st.outstanding+1)*kconfig.MaxOpBlocks > kconfig.LogSize {
			proc.Sleep(&st, st.lock)
			continue
		}
		st.outstanding++
		st.lock.Release()
		return
	}
}

// EndOp marks the end of one filesystem syscall's transaction, committing
// if it was the last one outstanding.
func EndOp() {
	doCommit := false
	st.lock.Acquire()
	st.outstanding--
	if st.committing {
		klog.Panic("fslog", "end_op: already committing")
	}
	if st.outstanding == 0 {
		doCommit = true
		st.committing = true
	} else {
		proc.Wakeup(&st)
	}
	st.lock.Release()

	if doCommit {
		commit()
		st.lock.Acquire()
		st.committing = false
		proc.Wakeup(&st)
		st.lock.Release()
	}
}

// LogWrite records that b's block number has been modified in this
// transaction, absorbing repeat writes to the same block into one slot,
// and pins b in the buffer cache so it survives until checkpoint.
// Caller must be inside a BeginOp/EndOp pair and already hold b's lock.
func LogWrite(b *bio.Buf) {
	st.lock.Acquire()
	defer st.lock.Release()

	if st.lh.n >= kconfig.LogSize || st.lh.n >= st.size-1 {
		klog.Panic("fslog", "log_write: transaction too big")
	}
	if st.outstanding < 1 {
		klog.Panic("fslog", "log_write: outside of transaction")
	}

	i := int32(0)
	for ; i < st.lh.n; i++ {
		if st.lh.block[i] == int32(b.Blockno()) {
			break
		}
	}
	st.lh.block[i] = int32(b.Blockno())
	if i == st.lh.n {
		bio.Bpin(b)
		st.lh.n++
	}
}

// commit writes every logged block to its log slot, durably commits the
// header, installs each block to its home location, and clears the log.
// Runs with no locks held, since it may sleep waiting on buffer I/O.
func commit() {
	if st.lh.n > 0 {
		writeLog()
		writeHead()
		installTrans(false)
		st.lh.n = 0
		writeHead()
	}
}

func writeLog() {
	for tail := int32(0); tail < st.lh.n; tail++ {
		to := bio.Bread(st.dev, uint32(st.start+tail+1))
		from := bio.Bread(st.dev, uint32(st.lh.block[tail]))
		to.Data = from.Data
		bio.Bwrite(to)
		bio.Brelease(from)
		bio.Brelease(to)
	}
}
