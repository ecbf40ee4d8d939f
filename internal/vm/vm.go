package vm

import (
	"fmt"

	"github.com/yzlqp/OS/internal/arch"
	"github.com/yzlqp/OS/internal/kconfig"
)

// Allocator is the minimal physical-page source vm depends on;
// internal/pmm.Zone satisfies it directly.
type Allocator interface {
	AllocPage() (uint64, error)
	FreePage(pa uint64)
}

// ErrNonCanonical is returned when a VA's high 16 bits are neither all-0
// nor all-1.
var ErrNonCanonical = fmt.Errorf("vm: non-canonical virtual address")

// ErrNoMapping is returned by walk (alloc=false) and the copy primitives
// when a VA has no mapping.
var ErrNoMapping = fmt.Errorf("vm: no mapping for virtual address")

func canonical(va uint64) bool {
	top16 := va >> 48
	return top16 == 0 || top16 == 0xFFFF
}

func levelIndex(va uint64, level int) uint64 {
	return (va >> uint(39-9*level)) & 0x1FF
}

// walk implements spec §4.3's walk(root, va, alloc): descend levels 0-2,
// allocating and zeroing a fresh table frame at each invalid entry when
// alloc is set; stop early at a block-typed entry; return a pointer to the
// level-3 leaf entry (or the block entry where the walk stopped).
func walk(root *[512]PTE, va uint64, alloc bool, a Allocator) (*PTE, error) {
	if !canonical(va) {
		return nil, ErrNonCanonical
	}

	table := root
	for level := 0; level < 3; level++ {
		pte := &table[levelIndex(va, level)]
		if !pte.Valid() {
			if !alloc {
				return nil, ErrNoMapping
			}
			pa, err := a.AllocPage()
			if err != nil {
				return nil, err
			}
			zeroPage(pa)
			*pte = makeTableEntry(pa)
		} else if !pte.IsTable() {
			return pte, nil // block-typed: stop here
		}
		table = tableAt(pte.PhysAddr())
	}
	return &table[levelIndex(va, 3)], nil
}

// mappages implements spec §4.3's mappages: install 4 KiB leaf entries
// across [va, va+size) (size rounded up to a page), aligned to PGSIZE,
// refusing to remap any entry that is already valid.
func mappages(root *[512]PTE, va, pa, size uint64, ap, attrIdx uint8, a Allocator) error {
	if size == 0 {
		return fmt.Errorf("vm: mappages: zero size")
	}
	first := va &^ (kconfig.PageSize - 1)
	last := (va + size - 1) &^ (kconfig.PageSize - 1)

	v, p := first, pa
	for {
		pte, err := walk(root, v, true, a)
		if err != nil {
			return err
		}
		if pte.Valid() {
			return fmt.Errorf("vm: mappages: remap of va %#x", v)
		}
		*pte = makeLeafEntry(p, ap, attrIdx)
		if v == last {
			break
		}
		v += kconfig.PageSize
		p += kconfig.PageSize
	}
	return nil
}

// unmapPages clears the mappings across [va, va+size) a page at a time.
// When freePhys is set, the underlying physical page is also released
// through a.
func unmapPages(root *[512]PTE, va, size uint64, freePhys bool, a Allocator) error {
	first := va &^ (kconfig.PageSize - 1)
	last := (va + size - 1) &^ (kconfig.PageSize - 1)

	for v := first; v <= last; v += kconfig.PageSize {
		pte, err := walk(root, v, false, a)
		if err != nil {
			continue // already unmapped
		}
		if !pte.Valid() {
			continue
		}
		if freePhys {
			a.FreePage(pte.PhysAddr())
		}
		*pte = 0
		arch.InvalidateTLBPage(v)
		if v == last {
			break
		}
	}
	return nil
}

// Uvmcreate builds a fresh, empty user address space: one freshly
// allocated and zeroed level-0 table.
func Uvmcreate(a Allocator) (*[512]PTE, uint64, error) {
	pa, err := a.AllocPage()
	if err != nil {
		return nil, 0, err
	}
	zeroPage(pa)
	return tableAt(pa), pa, nil
}

// Uvmalloc implements spec §4.3's uvmalloc: grow a user segment from
// oldsz to newsz by allocating and mapping one user-RW frame at a time. On
// failure partway through, progress is rolled back to oldsz.
func Uvmalloc(root *[512]PTE, oldsz, newsz uint64, a Allocator) (uint64, error) {
	if newsz <= oldsz {
		return oldsz, nil
	}
	oldszRounded := pageRound(oldsz)
	newszRounded := pageRound(newsz)

	for va := oldszRounded; va < newszRounded; va += kconfig.PageSize {
		pa, err := a.AllocPage()
		if err != nil {
			Uvmdealloc(root, va, oldsz, a)
			return oldsz, err
		}
		zeroPage(pa)
		if err := mappages(root, va, pa, kconfig.PageSize, PermUserRW, AttrNormal, a); err != nil {
			a.FreePage(pa)
			Uvmdealloc(root, va, oldsz, a)
			return oldsz, err
		}
	}
	return newsz, nil
}

// Uvmdealloc implements spec §4.3's uvmdealloc: shrink a user segment by
// unmapping and freeing the pages no longer covered.
func Uvmdealloc(root *[512]PTE, oldsz, newsz uint64, a Allocator) uint64 {
	if newsz >= oldsz {
		return oldsz
	}
	oldszRounded := pageRound(oldsz)
	newszRounded := pageRound(newsz)
	if newszRounded < oldszRounded {
		unmapPages(root, newszRounded, oldszRounded-newszRounded, true, a)
	}
	return newsz
}

// Uvmcopy implements spec §4.3's uvmcopy: deep-copy every mapped page
// (content and permissions) from old into a freshly mapped page in new,
// the mechanism behind fork(). On any failure, pages already copied into
// new are unmapped and freed.
func Uvmcopy(oldRoot, newRoot *[512]PTE, sz uint64, a Allocator) error {
	for va := uint64(0); va < sz; va += kconfig.PageSize {
		pte, err := walk(oldRoot, va, false, a)
		if err != nil || !pte.Valid() {
			continue
		}
		newPa, err := a.AllocPage()
		if err != nil {
			unmapPages(newRoot, 0, va, true, a)
			return err
		}
		copy(physBytes(newPa, kconfig.PageSize), physBytes(pte.PhysAddr(), kconfig.PageSize))
		if err := mappages(newRoot, va, newPa, kconfig.PageSize, pte.Perm(), pte.AttrIndex(), a); err != nil {
			a.FreePage(newPa)
			unmapPages(newRoot, 0, va, true, a)
			return err
		}
	}
	return nil
}

// Uvmfree implements spec §4.3's uvmfree: unmap and free every user leaf
// page below sz, then free the table frames themselves bottom-up.
func Uvmfree(root *[512]PTE, rootPA, sz uint64, a Allocator) {
	if sz > 0 {
		unmapPages(root, 0, pageRound(sz), true, a)
	}
	freeTableFrames(root, 0, a)
	a.FreePage(rootPA)
}

// freeTableFrames recursively frees level 0-2 table frames (not leaf data
// pages, already freed by unmapPages) below the given table.
func freeTableFrames(table *[512]PTE, level int, a Allocator) {
	if level >= 3 {
		return
	}
	for i := range table {
		pte := table[i]
		if pte.IsTable() {
			child := tableAt(pte.PhysAddr())
			freeTableFrames(child, level+1, a)
			a.FreePage(pte.PhysAddr())
		}
	}
}

// Uvmswitch implements spec §4.3's uvmswitch: point TTBR0_EL1 at the
// process's page-table root and invalidate the TLB.
func Uvmswitch(rootPA uint64) {
	arch.SwitchUserTable(rootPA)
	arch.InvalidateTLBAll()
}
