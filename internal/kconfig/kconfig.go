// Package kconfig holds the kernel's compile-time sizing and memory-layout
// constants, plus the two VA2PA/PA2VA address helpers. The constants are
// all compile-time (a few are derived from others, e.g. LogSize and
// MaxFile), and the package imports nothing, so that every other package
// can import it without creating a dependency cycle.
//
// Values are carried over from the xv6-style teaching kernel this design is
// based on (kernel/include/param.h, kernel/arch/aarch64/board/raspi3/memlayout.h,
// kernel/fs/fs.h in original_source/), not invented.
package kconfig

const (
	// NCPU is the number of cores this kernel multiplexes processes across.
	NCPU = 4

	// NPROC is the size of the fixed process table.
	NPROC = 64

	// NOFILE is the number of open-file slots in each process's file table.
	NOFILE = 16

	// KStackPages is the number of 4 KiB pages reserved for each process's
	// kernel stack.
	KStackPages = 2

	// MaxOpBlocks is the maximum number of distinct blocks one filesystem
	// transaction may touch.
	MaxOpBlocks = 10

	// LogSize is the number of data slots in the on-disk log, and also the
	// size of the in-memory buffer cache (NBUF == LOGSIZE, so every logged
	// block can stay pinned in the cache until checkpoint).
	LogSize = MaxOpBlocks * 3

	// NBuf is the number of buffers in the block cache.
	NBuf = LogSize

	// NInode is the number of in-memory inode cache slots.
	NInode = 50

	// NFile is the number of slots in the global open-file table.
	NFile = 100

	// NDev is the number of device major numbers.
	NDev = 10

	// RootDev is the device number of the root filesystem.
	RootDev = 1

	// MaxArg is the maximum number of exec() arguments (reserved for a
	// future exec implementation; the core design treats exec as an
	// external module).
	MaxArg = 32

	// InputBufSize is the size of the console's line-editing ring buffer.
	InputBufSize = 128

	// MaxPath is the maximum length of a path string.
	MaxPath = 128

	// FSSize is the default size, in blocks, of a filesystem image built by
	// cmd/mkfs.
	FSSize = 1000
)

// Disk layout, matching spec §6 and original_source/kernel/fs/fs.h.
const (
	// BSize is the size in bytes of one disk block.
	BSize = 512

	// FSMagic identifies a valid superblock.
	FSMagic = 0x10203040

	// RootIno is the inode number of the filesystem root directory.
	RootIno = 1

	// NDirect is the number of direct block pointers in a dinode.
	NDirect = 12

	// NIndirect is the number of block numbers that fit in one indirect
	// block.
	NIndirect = BSize / 4 // sizeof(uint32)

	// MaxFile is the largest number of blocks a file may occupy.
	MaxFile = NDirect + NIndirect

	// DirSiz is the fixed length of a directory entry's name field.
	DirSiz = 14

	// PartitionLBA is the LBA at which the single root partition begins;
	// every in-filesystem block number is an offset from this LBA (see
	// spec §9 open question on bread's constant offset).
	PartitionLBA = 0x20800
)

// Virtual memory layout, from original_source/kernel/arch/aarch64/board/raspi3/memlayout.h.
const (
	// PageSize is the leaf page size: 4 KiB.
	PageSize = 1 << 12

	// PageShift is log2(PageSize).
	PageShift = 12

	// MaxOrder bounds the buddy allocator's order range: orders [0, MaxOrder).
	MaxOrder = 11

	// PhysTop is the first physical address at or above which memory is
	// MMIO rather than RAM, for the reference board.
	PhysTop = 0x3F000000

	// KernelBase is the start of the canonical high half of the virtual
	// address space, where the kernel is identity-mapped.
	KernelBase = 0xFFFF_0000_0000_0000

	// UserSpaceTop is one past the highest address usable by user code in
	// the canonical low half.
	UserSpaceTop = 0x0000_FFFF_FFFF_FFFF
)

// VA2PA converts a high-half kernel virtual address to its physical address.
func VA2PA(va uint64) uint64 { return va - KernelBase }

// PA2VA converts a physical address to its high-half kernel virtual address.
func PA2VA(pa uint64) uint64 { return pa + KernelBase }
