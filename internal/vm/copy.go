package vm

import (
	"fmt"

	"github.com/yzlqp/OS/internal/kconfig"
)

// ErrStringTooLong is returned by CopyInStr when no NUL byte appears
// within max bytes.
var ErrStringTooLong = fmt.Errorf("vm: copyinstr: no NUL within max bytes")

// walkForCopy resolves va to the physical address of the page containing
// it, failing if the page is unmapped or (for copyout) not user-writable.
// Shared by CopyIn/CopyOut/CopyInStr, each of which walks one page at a
// time per spec §4.3.
func walkForCopy(root *[512]PTE, va uint64, a Allocator, needWrite bool) (uint64, error) {
	pageBase := va &^ (kconfig.PageSize - 1)
	pte, err := walk(root, pageBase, false, a)
	if err != nil {
		return 0, err
	}
	if !pte.Valid() || !pte.UserAccessible() {
		return 0, ErrNoMapping
	}
	if needWrite && !pte.Writable() {
		return 0, ErrNoMapping
	}
	offset := va - pageBase
	return pte.PhysAddr() + offset, nil
}

// CopyIn copies len(dst) bytes from user virtual address srcva into dst,
// walking the user page table one page at a time and copying
// min(remaining, bytes-to-next-page-boundary) bytes per step.
func CopyIn(root *[512]PTE, dst []byte, srcva uint64, a Allocator) error {
	n := len(dst)
	va := srcva
	for n > 0 {
		pa, err := walkForCopy(root, va, a, false)
		if err != nil {
			return err
		}
		toBoundary := int(kconfig.PageSize - (va & (kconfig.PageSize - 1)))
		chunk := n
		if toBoundary < chunk {
			chunk = toBoundary
		}
		copy(dst[:chunk], physBytes(pa, chunk))
		dst = dst[chunk:]
		va += uint64(chunk)
		n -= chunk
	}
	return nil
}

// CopyOut copies src into user virtual address dstva, the mirror of
// CopyIn, requiring the destination pages be user-writable. It never
// calls walk with alloc=true — the destination pages must already exist.
func CopyOut(root *[512]PTE, dstva uint64, src []byte) error {
	n := len(src)
	va := dstva
	for n > 0 {
		pa, err := walkForCopy(root, va, nil, true)
		if err != nil {
			return err
		}
		toBoundary := int(kconfig.PageSize - (va & (kconfig.PageSize - 1)))
		chunk := n
		if toBoundary < chunk {
			chunk = toBoundary
		}
		copy(physBytes(pa, chunk), src[:chunk])
		src = src[chunk:]
		va += uint64(chunk)
		n -= chunk
	}
	return nil
}

// CopyInStr copies a NUL-terminated string from user virtual address
// srcva into dst, stopping at the first NUL byte or after max bytes,
// whichever comes first. It returns the number of bytes copied,
// excluding the NUL, and an error if no NUL was found within max bytes or
// a page in the range is unmapped.
func CopyInStr(root *[512]PTE, dst []byte, srcva uint64, max int) (int, error) {
	if max > len(dst) {
		max = len(dst)
	}
	va := srcva
	copied := 0
	for copied < max {
		pa, err := walkForCopy(root, va, nil, false)
		if err != nil {
			return 0, err
		}
		toBoundary := int(kconfig.PageSize - (va & (kconfig.PageSize - 1)))
		chunk := max - copied
		if toBoundary < chunk {
			chunk = toBoundary
		}
		src := physBytes(pa, chunk)
		for i := 0; i < chunk; i++ {
			if src[i] == 0 {
				copy(dst[copied:copied+i], src[:i])
				return copied + i, nil
			}
		}
		copy(dst[copied:copied+chunk], src)
		copied += chunk
		va += uint64(chunk)
	}
	return 0, ErrStringTooLong
}
