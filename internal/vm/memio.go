package vm

import (
	"unsafe"

	"github.com/yzlqp/OS/internal/kconfig"
)

// castToPointer converts a kernel virtual address to a typed pointer. It
// and physBytes's unsafe.Slice are the only places in this package that
// touch unsafe directly; every other function goes through
// tableAt/zeroPage/physBytes so the unsafe surface stays auditable. Grounded on the teacher's own
// castToPointer[T any](addr uintptr) *T helper in memory.go, generalized
// from uintptr to the virtual-address type this package uses throughout.
//
//go:nosplit
func castToPointer[T any](va uint64) *T {
	return (*T)(unsafe.Pointer(uintptr(va)))
}

// physToVA is the pa→va translation every accessor below goes through,
// rather than calling kconfig.PA2VA directly. On the real target it is
// exactly kconfig.PA2VA (the kernel's identity mapping of all of physical
// memory into the high half); tests substitute a fake backed by an
// ordinary Go byte slice, the same seam internal/arch uses to fake
// register access. Production code never reassigns it.
var physToVA = func(pa uint64) uint64 { return kconfig.PA2VA(pa) }

// SetPhysMemoryBackend overrides physToVA for the duration of a test and
// returns a func that restores the real identity-mapping translation.
// Exported so packages that build on top of vm (internal/proc's own
// tests, eventually internal/bio/internal/fs) can back page tables with a
// fake arena without duplicating this package's physical-memory model.
func SetPhysMemoryBackend(f func(pa uint64) uint64) (restore func()) {
	orig := physToVA
	physToVA = f
	return func() { physToVA = orig }
}

// tableAt returns the 512-entry table living at physical address pa.
func tableAt(pa uint64) *[512]PTE {
	return castToPointer[[512]PTE](physToVA(pa))
}

// zeroPage clears one freshly allocated physical page before it is linked
// into a page table, so stale frame contents never appear as translation
// entries.
func zeroPage(pa uint64) {
	p := castToPointer[[kconfig.PageSize / 8]uint64](physToVA(pa))
	for i := range p {
		p[i] = 0
	}
}

// physBytes returns a byte slice over n bytes of physical memory starting
// at pa. Used by uvmcopy (whole-page content copy) and copyin/copyout
// (partial-page copies against user pages, once walk() has resolved them
// to a physical address).
func physBytes(pa uint64, n int) []byte {
	ptr := castToPointer[byte](physToVA(pa))
	return unsafe.Slice(ptr, n)
}
