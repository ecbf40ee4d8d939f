// Package bio is the block buffer cache: a fixed array of NBuf buffers
// threaded into an LRU list, each guarded by its own sleep-lock so a
// reader/writer can block on disk I/O without holding the cache's index
// spinlock. L6 in the layering table, sitting on internal/sleeplock and
// the block-device collaborator internal/sdhci installs.
package bio

import (
	"github.com/yzlqp/OS/internal/kconfig"
	"github.com/yzlqp/OS/internal/klog"
	"github.com/yzlqp/OS/internal/sleeplock"
	"github.com/yzlqp/OS/internal/spinlock"
)

const (
	flagValid = 1 << 0
	flagDirty = 1 << 1
)

// BlockDevice is the disk collaborator bread/bwrite issue synchronous I/O
// through. internal/sdhci installs the real implementation via SetDevice;
// kept as a narrow interface so bio never imports a concrete driver
// package, the same hook-variable pattern internal/proc uses for
// internal/file/internal/fs.
type BlockDevice interface {
	ReadBlock(dev, blockno uint32, data []byte) error
	WriteBlock(dev, blockno uint32, data []byte) error
}

// Buf is one cache slot: one disk block's worth of data, its validity/
// dirty flags, a refcount, and the sleep-lock that serializes access to
// Data. Only the sleep-lock's holder may read or write Data.
type Buf struct {
	flags   int
	dev     uint32
	blockno uint32
	Data    [kconfig.BSize]byte
	refcnt  uint32

	lock *sleeplock.Lock

	prev, next *Buf
}

func (b *Buf) Dev() uint32     { return b.dev }
func (b *Buf) Blockno() uint32 { return b.blockno }

// cache is the single global buffer cache, matching the teacher's own
// one-global-bcache-struct layout.
var cache struct {
	lock *spinlock.Mutex
	bufs [kconfig.NBuf]Buf
	head Buf // sentinel; head.next is MRU, head.prev is LRU
}

var device BlockDevice

// SetDevice installs the block-device collaborator. cmd/kernel calls this
// once, after internal/sdhci's driver is brought up.
func SetDevice(d BlockDevice) { device = d }

func init() {
	cache.lock = spinlock.New("bcache")
	cache.head.next = &cache.head
	cache.head.prev = &cache.head
	for i := range cache.bufs {
		b := &cache.bufs[i]
		b.lock = sleeplock.New("buffer")
		b.next = cache.head.next
		b.prev = &cache.head
		cache.head.next.prev = b
		cache.head.next = b
	}
}

// bget implements spec §4.6's cache lookup/recycle: search MRU→LRU for an
// existing (dev, blockno) buffer; on a miss, search LRU→MRU for a
// refcount-0, non-dirty buffer to repurpose. Panics if neither succeeds,
// since this design never writes back a dirty buffer to make room (the
// log pins every dirty buffer until checkpoint).
func bget(dev, blockno uint32) *Buf {
	cache.lock.Acquire()

	for b := cache.head.next; b != &cache.head; b = b.next {
		if b.dev == dev && b.blockno == blockno {
			b.refcnt++
			cache.lock.Release()
			b.lock.Acquire()
			return b
		}
	}

	for b := cache.head.prev; b != &cache.head; b = b.prev {
		if b.refcnt == 0 && b.flags&flagDirty == 0 {
			b.dev = dev
			b.blockno = blockno
			b.flags = 0
			b.refcnt = 1
			cache.lock.Release()
			b.lock.Acquire()
			return b
		}
	}

	klog.Panic("bio", "bget: no available buffer")
	return nil
}

// Bread returns a locked buffer holding the contents of (dev, blockno),
// reading it from the block device on a cache miss.
func Bread(dev, blockno uint32) *Buf {
	b := bget(dev, blockno)
	if b.flags&flagValid == 0 {
		if err := device.ReadBlock(b.dev, b.blockno, b.Data[:]); err != nil {
			klog.Panic("bio", "bread: %v", err)
		}
		b.flags |= flagValid
	}
	return b
}

// Bwrite writes b's data to the device. Caller must hold b's sleep-lock.
func Bwrite(b *Buf) {
	if !b.lock.Held() {
		klog.Panic("bio", "bwrite: buffer not locked")
	}
	b.flags |= flagDirty
	if err := device.WriteBlock(b.dev, b.blockno, b.Data[:]); err != nil {
		klog.Panic("bio", "bwrite: %v", err)
	}
	// The write is synchronous: once it returns, the device holds b's
	// data, so b is clean again and bget may reuse it when unreferenced.
	b.flags &^= flagDirty
}

// Brelease releases a locked buffer and, if its refcount drops to zero,
// moves it to the MRU head of the LRU list.
func Brelease(b *Buf) {
	if !b.lock.Held() {
		klog.Panic("bio", "brelease: buffer not locked")
	}
	b.lock.Release()

	cache.lock.Acquire()
	b.refcnt--
	if b.refcnt == 0 {
		b.next.prev = b.prev
		b.prev.next = b.next
		b.next = cache.head.next
		b.prev = &cache.head
		cache.head.next.prev = b
		cache.head.next = b
	}
	cache.lock.Release()
}

// Bpin and Bunpin adjust a buffer's refcount under the cache lock without
// touching its sleep-lock, used by internal/fslog to keep logged blocks
// resident in the cache until checkpoint.
func Bpin(b *Buf) {
	cache.lock.Acquire()
	b.refcnt++
	cache.lock.Release()
}

func Bunpin(b *Buf) {
	cache.lock.Acquire()
	b.refcnt--
	cache.lock.Release()
}
