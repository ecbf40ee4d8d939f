// Package pmm is the physical frame allocator: one descriptor per 4 KiB
// frame of RAM (including MMIO frames, marked kernel-reserved), managed by
// a single global buddy zone. This is L2 in the layering table.
package pmm

import (
	"fmt"

	"github.com/yzlqp/OS/internal/kconfig"
	"github.com/yzlqp/OS/internal/klog"
	"github.com/yzlqp/OS/internal/spinlock"
)

// Frame is one physical-frame descriptor. The flags word packs USED,
// KERNEL, and the buddy order into a single uint32 with hand-written
// shift/mask accessors rather than internal/bitfield.Pack/Unpack — this
// struct is touched on every AllocPages/FreePages call, and reflection has
// no business on that path.
type Frame struct {
	flags    uint32
	mapCount int32 // freeSentinel iff this frame is the head of a buddy-free block
	refCount int32
	freeNext FrameNumber
	freePrev FrameNumber
}

// FrameNumber indexes Zone.frames. noFrame is the free-list "nil".
type FrameNumber uint32

const noFrame = ^FrameNumber(0)

const (
	flagUsed   uint32 = 1 << 0
	flagKernel uint32 = 1 << 1
	orderShift        = 24
	orderMask  uint32 = 0xFF << orderShift

	freeSentinel int32 = -1
)

func (f *Frame) Used() bool   { return f.flags&flagUsed != 0 }
func (f *Frame) Kernel() bool { return f.flags&flagKernel != 0 }
func (f *Frame) Order() int   { return int((f.flags & orderMask) >> orderShift) }
func (f *Frame) RefCount() int32 { return f.refCount }

// onFreeList reports whether this frame is the head of a buddy-free block,
// per spec §3's invariant: "a frame is on exactly one buddy free-list iff
// its map-count holds the free sentinel".
func (f *Frame) onFreeList() bool { return f.mapCount == freeSentinel }

func (f *Frame) setOrder(order int) {
	f.flags = f.flags&^orderMask | uint32(order)<<orderShift&orderMask
}

func (f *Frame) markUsed(order int) {
	f.flags = f.flags&^flagKernel | flagUsed
	f.setOrder(order)
	f.mapCount = 0
	f.refCount = 0
}

func (f *Frame) markFree(order int) {
	f.flags &^= flagUsed | flagKernel
	f.setOrder(order)
	f.mapCount = freeSentinel
	f.refCount = 0
}

func (f *Frame) markKernelReserved() {
	f.flags = flagUsed | flagKernel
	f.mapCount = 0
	f.refCount = 0
}

// Zone is the kernel's single buddy zone: MaxOrder free lists, each a
// doubly-linked list of free-block heads threaded through Frame.freeNext/
// freePrev, plus running totals.
type Zone struct {
	lock *spinlock.Mutex

	frames []Frame
	base   FrameNumber // PFN of frames[0]

	freeHead  [kconfig.MaxOrder]FrameNumber
	freeCount [kconfig.MaxOrder]int

	managedPages   uint64
	availablePages uint64
}

// NewZone allocates descriptors for nframes frames starting at physical
// frame number base. Every frame starts USED+KERNEL (reserved); callers
// bring ranges into the allocator with FreeRange.
func NewZone(base FrameNumber, nframes int) *Zone {
	z := &Zone{
		lock:   spinlock.New("pmm.zone"),
		frames: make([]Frame, nframes),
		base:   base,
	}
	for i := range z.freeHead {
		z.freeHead[i] = noFrame
	}
	for i := range z.frames {
		z.frames[i].markKernelReserved()
	}
	return z
}

func (z *Zone) frame(pfn FrameNumber) *Frame {
	idx := int(pfn - z.base)
	if idx < 0 || idx >= len(z.frames) {
		klog.Panic("pmm", "frame number %d out of zone range", pfn)
	}
	return &z.frames[idx]
}

func (z *Zone) listPush(order int, pfn FrameNumber) {
	f := z.frame(pfn)
	head := z.freeHead[order]
	f.freeNext = head
	f.freePrev = noFrame
	if head != noFrame {
		z.frame(head).freePrev = pfn
	}
	z.freeHead[order] = pfn
	z.freeCount[order]++
}

func (z *Zone) listPop(order int) (FrameNumber, bool) {
	head := z.freeHead[order]
	if head == noFrame {
		return 0, false
	}
	z.listRemove(order, head)
	return head, true
}

func (z *Zone) listRemove(order int, pfn FrameNumber) {
	f := z.frame(pfn)
	if f.freePrev != noFrame {
		z.frame(f.freePrev).freeNext = f.freeNext
	} else {
		z.freeHead[order] = f.freeNext
	}
	if f.freeNext != noFrame {
		z.frame(f.freeNext).freePrev = f.freePrev
	}
	f.freeNext, f.freePrev = noFrame, noFrame
	z.freeCount[order]--
}

// ErrExhausted is returned by AllocPages when no free list at or above the
// requested order has a block.
var ErrExhausted = fmt.Errorf("pmm: no free block of sufficient order")

// AllocPages implements spec §4.2's alloc_pages(order): find the smallest
// non-empty free list at order >= the request, split its head block down
// to the requested order (pushing each right half onto its own free
// list), and return the resulting block marked USED.
func (z *Zone) AllocPages(order int) (FrameNumber, error) {
	if order < 0 || order >= kconfig.MaxOrder {
		klog.Panic("pmm", "alloc_pages: order %d out of range", order)
	}
	z.lock.Acquire()
	defer z.lock.Release()

	found := -1
	for k := order; k < kconfig.MaxOrder; k++ {
		if z.freeHead[k] != noFrame {
			found = k
			break
		}
	}
	if found < 0 {
		return 0, ErrExhausted
	}

	pfn, _ := z.listPop(found)
	for k := found; k > order; k-- {
		buddy := pfn ^ FrameNumber(1<<(k-1))
		z.frame(buddy).markFree(k - 1)
		z.listPush(k-1, buddy)
	}
	z.frame(pfn).markUsed(order)
	z.availablePages -= 1 << uint(order)
	return pfn, nil
}

// FreePages implements spec §4.2's free_pages(pfn, order): mark the block
// free, then repeatedly try to merge with its buddy — mergeable iff the
// buddy is itself a free-list head of the same order with zero refcount —
// walking up orders until a non-mergeable buddy or MaxOrder-1 is reached.
func (z *Zone) FreePages(pfn FrameNumber, order int) {
	if order < 0 || order >= kconfig.MaxOrder {
		klog.Panic("pmm", "free_pages: order %d out of range", order)
	}
	z.lock.Acquire()
	defer z.lock.Release()

	z.availablePages += 1 << uint(order)
	z.frame(pfn).markFree(order)

	for order < kconfig.MaxOrder-1 {
		buddy := pfn ^ FrameNumber(1<<order)
		bf := z.frame(buddy)
		if !bf.onFreeList() || bf.Order() != order || bf.refCount != 0 {
			break
		}
		z.listRemove(order, buddy)
		if buddy < pfn {
			pfn = buddy
		}
		order++
	}
	z.frame(pfn).markFree(order)
	z.listPush(order, pfn)
}

// FreeRange hands a contiguous range of frames to the allocator at init
// time, per spec §4.2: repeatedly carve the largest naturally-aligned
// power-of-two block that fits between begin and end.
func (z *Zone) FreeRange(begin, end FrameNumber) {
	pfn := begin
	for pfn < end {
		order := kconfig.MaxOrder - 1
		for order > 0 {
			size := FrameNumber(1 << order)
			aligned := pfn%size == 0
			fits := pfn+size <= end
			if aligned && fits {
				break
			}
			order--
		}
		z.lock.Acquire()
		z.frame(pfn).markFree(order)
		z.listPush(order, pfn)
		z.availablePages += 1 << uint(order)
		z.managedPages += 1 << uint(order)
		z.lock.Release()
		pfn += FrameNumber(1 << order)
	}
}

// ManagedPages and AvailablePages expose the zone's running totals, used
// by cmd/kernel's boot log and by tests asserting the round-trip law in
// spec §7.
func (z *Zone) ManagedPages() uint64   { return z.managedPages }
func (z *Zone) AvailablePages() uint64 { return z.availablePages }

// FreeListLen reports the number of blocks on the free list at order,
// exposed for the round-trip property tests.
func (z *Zone) FreeListLen(order int) int { return z.freeCount[order] }

// AllocPage and FreePage give a single 4 KiB physical page, addressed by
// physical address rather than frame number. internal/vm's page-table code
// depends only on this minimal interface (see vm.Allocator), not on the
// full Zone API, so it can be faked in tests without a real zone.
func (z *Zone) AllocPage() (uint64, error) {
	pfn, err := z.AllocPages(0)
	if err != nil {
		return 0, err
	}
	return uint64(pfn) * kconfig.PageSize, nil
}

func (z *Zone) FreePage(pa uint64) {
	z.FreePages(FrameNumber(pa/kconfig.PageSize), 0)
}

// Ref increments a used frame's refcount, e.g. when a second mapping is
// installed for a shared page.
func (z *Zone) Ref(pfn FrameNumber) int32 {
	f := z.frame(pfn)
	f.refCount++
	return f.refCount
}

// Unref decrements a used frame's refcount and reports the result; callers
// free the frame via FreePages once it reaches zero.
func (z *Zone) Unref(pfn FrameNumber) int32 {
	f := z.frame(pfn)
	f.refCount--
	return f.refCount
}
