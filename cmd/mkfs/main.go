// Command mkfs is the host-side filesystem image builder: it lays out a
// fresh on-disk image matching internal/fs's own layout comment — boot
// block, superblock, log, inode blocks, free-block bitmap, data blocks —
// and formats the root directory so a freshly booted kernel's
// fs.Namei("/") has a real inode 1 to find. No mkfs.c equivalent ships in
// this tree's reference material, so this is grounded directly on
// internal/fs's own Superblock/EncodeSuperblock contract and the layout
// internal/fs/fs_test.go's asRunning helper already builds by hand for
// its own tests ("layout mirrors a tiny image cmd/mkfs could plausibly
// produce") — this command is that tool, generalized from a test fixture
// into one runnable host binary. A supplement, not present in spec.md:
// without it there is no way to produce the "root device" a board boots
// against.
package main

import (
	"fmt"
	"os"

	"github.com/yzlqp/OS/internal/fs"
	"github.com/yzlqp/OS/internal/kconfig"
)

// dinodeSize/inodesPerBlock/direntSize duplicate internal/fs's own
// unexported constants of the same name (inode.go, path.go) — this
// binary builds the image bio/fs never touch, so it cannot import their
// unexported encode/decode helpers and instead carries its own copy of
// the on-disk layout they implement, the same independence a real mkfs
// has from the kernel it formats for.
const (
	dinodeSize     = 2*4 + 4 + (kconfig.NDirect+1)*4
	inodesPerBlock = kconfig.BSize / dinodeSize
	direntSize     = 2 + kconfig.DirSiz

	numInodes = 200
	logBlocks = kconfig.LogSize + 1
	fsBlocks  = kconfig.FSSize

	bootBlock = 0
	sbBlock   = 1
	logStart  = sbBlock + 1
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <image-path>\n", os.Args[0])
		os.Exit(2)
	}

	inodeStart := logStart + logBlocks
	inodeBlocks := (numInodes + inodesPerBlock - 1) / inodesPerBlock
	bmapStart := inodeStart + inodeBlocks
	bmapBlocks := (fsBlocks + kconfig.BSize*8 - 1) / (kconfig.BSize * 8)
	dataStart := bmapStart + bmapBlocks

	img := make([][kconfig.BSize]byte, fsBlocks)

	fs.EncodeSuperblock(fs.Superblock{
		Magic:      kconfig.FSMagic,
		Size:       uint32(fsBlocks),
		NBlocks:    uint32(fsBlocks),
		NInodes:    uint32(numInodes),
		NLog:       uint32(logBlocks),
		LogStart:   uint32(logStart),
		InodeStart: uint32(inodeStart),
		BmapStart:  uint32(bmapStart),
	}, img[sbBlock][:fs.SuperblockSize])

	writeRootInode(img, inodeStart, dataStart)
	writeRootDirData(img, dataStart)
	markMetadataUsed(img, bmapStart, dataStart)
	// img[bootBlock] stays zeroed: the boot block is never read by this design.

	out, err := os.Create(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()
	for _, block := range img {
		if _, err := out.Write(block[:]); err != nil {
			fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
			os.Exit(1)
		}
	}
}

// writeRootInode formats dinode RootIno as a one-block directory whose
// sole data block is dataStart — the image's very first data block,
// reserved for the root directory by construction.
func writeRootInode(img [][kconfig.BSize]byte, inodeStart, dataStart int) {
	block := kconfig.RootIno / inodesPerBlock
	off := (kconfig.RootIno % inodesPerBlock) * dinodeSize
	d := img[inodeStart+block][off : off+dinodeSize]

	var addrs [kconfig.NDirect + 1]uint32
	addrs[0] = uint32(dataStart)

	put16 := func(o int, v uint16) { d[o], d[o+1] = byte(v), byte(v>>8) }
	put32 := func(o int, v uint32) {
		d[o], d[o+1], d[o+2], d[o+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	}
	put16(0, uint16(fs.FTDir))
	put16(2, 0) // major
	put16(4, 0) // minor
	put16(6, 1) // nlink: the root directory links to itself via ".."
	put32(8, 2*direntSize)
	for i, a := range addrs {
		put32(12+i*4, a)
	}
}

// writeRootDirData writes "." and ".." into the root directory's one
// data block, both pointing back at inode 1 — the root of the tree has
// no parent to point ".." at but itself.
func writeRootDirData(img [][kconfig.BSize]byte, dataStart int) {
	writeDirent(img[dataStart][0:direntSize], kconfig.RootIno, ".")
	writeDirent(img[dataStart][direntSize:2*direntSize], kconfig.RootIno, "..")
}

func writeDirent(d []byte, inum uint32, name string) {
	d[0], d[1] = byte(inum), byte(inum>>8)
	copy(d[2:2+kconfig.DirSiz], name)
}

// markMetadataUsed sets one bit per block in [0, dataStart) plus the
// root directory's own data block, so balloc's free scan never hands out
// a block this image already committed to boot/super/log/inode/bitmap
// metadata or the root directory.
func markMetadataUsed(img [][kconfig.BSize]byte, bmapStart, dataStart int) {
	for b := 0; b <= dataStart; b++ {
		byteOff, bit := b/8, b%8
		img[bmapStart][byteOff] |= 1 << uint(bit)
	}
}
