// Package fs is the on-disk/in-memory inode layer: superblock parsing, the
// free-block bitmap allocator, the in-memory inode cache, and path
// resolution. L8 in the layering table, sitting on internal/bio directly
// and internal/fslog for crash-atomic metadata updates.
//
// Layout on disk (spec §4.8): [boot block | superblock | log | inode
// blocks | free-block bitmap | data blocks].
package fs

import (
	"github.com/yzlqp/OS/internal/bio"
	"github.com/yzlqp/OS/internal/fslog"
	"github.com/yzlqp/OS/internal/kconfig"
	"github.com/yzlqp/OS/internal/klog"
	"github.com/yzlqp/OS/internal/proc"
)

// FType is an inode's file type, matching the on-disk dinode layout.
type FType uint16

const (
	FTFree   FType = 0
	FTDir    FType = 1
	FTFile   FType = 2
	FTDevice FType = 3
)

// Stat is the subset of an inode's metadata exposed across the syscall
// boundary by the fstat syscall.
type Stat struct {
	Dev   uint32
	Ino   uint32
	Type  FType
	Nlink uint16
	Size  uint64
}

// Superblock is the fixed metadata block every build of this filesystem
// carries at block 1: total size, block/inode counts, and the start of
// each region. cmd/mkfs computes and writes it; Init reads it back, and
// both share the encode/decode below so the on-disk layout can't drift
// between the two.
type Superblock struct {
	Magic      uint32
	Size       uint32
	NBlocks    uint32
	NInodes    uint32
	NLog       uint32
	LogStart   uint32
	InodeStart uint32
	BmapStart  uint32
}

// SuperblockSize is the on-disk size of an encoded Superblock: eight
// packed little-endian uint32 fields.
const SuperblockSize = 8 * 4

// DecodeSuperblock reads a Superblock out of a block-sized byte slice.
func DecodeSuperblock(data []byte) Superblock {
	u32 := func(off int) uint32 {
		return uint32(data[off]) | uint32(data[off+1])<<8 | uint32(data[off+2])<<16 | uint32(data[off+3])<<24
	}
	return Superblock{
		Magic:      u32(0),
		Size:       u32(4),
		NBlocks:    u32(8),
		NInodes:    u32(12),
		NLog:       u32(16),
		LogStart:   u32(20),
		InodeStart: u32(24),
		BmapStart:  u32(28),
	}
}

// EncodeSuperblock writes sb into a block-sized byte slice. cmd/mkfs uses
// this to lay down the superblock of a freshly built filesystem image.
func EncodeSuperblock(sb Superblock, data []byte) {
	put := func(off int, v uint32) {
		data[off] = byte(v)
		data[off+1] = byte(v >> 8)
		data[off+2] = byte(v >> 16)
		data[off+3] = byte(v >> 24)
	}
	put(0, sb.Magic)
	put(4, sb.Size)
	put(8, sb.NBlocks)
	put(12, sb.NInodes)
	put(16, sb.NLog)
	put(20, sb.LogStart)
	put(24, sb.InodeStart)
	put(28, sb.BmapStart)
}

var sb Superblock

// iblock returns the block number holding inode inum's on-disk copy.
func iblock(inum uint32) uint32 {
	return inum/inodesPerBlock() + sb.InodeStart
}

func inodesPerBlock() uint32 { return kconfig.BSize / dinodeSize }

// bmapBlock returns the bitmap block number covering block b.
func bmapBlock(b uint32) uint32 { return b/(kconfig.BSize*8) + sb.BmapStart }

// Init reads the superblock from dev, validates its magic number, and
// starts the write-ahead log over the region the superblock names.
// cmd/kernel calls this once per mounted device, after internal/sdhci's
// collaborator is installed.
func Init(dev uint32) {
	bp := bio.Bread(dev, 1)
	sb = DecodeSuperblock(bp.Data[:SuperblockSize])
	bio.Brelease(bp)

	if sb.Magic != kconfig.FSMagic {
		klog.Panic("fs", "init: invalid filesystem magic %#x on dev %d", sb.Magic, dev)
	}
	fslog.Init(dev, int32(sb.LogStart), int32(sb.NLog))
	iinit()
}

// bzero clears disk block bno to all zero bytes, through the log.
func bzero(dev, bno uint32) {
	bp := bio.Bread(dev, bno)
	for i := range bp.Data {
		bp.Data[i] = 0
	}
	fslog.LogWrite(bp)
	bio.Brelease(bp)
}

// balloc finds the first free block in dev's bitmap, marks it used, zeroes
// it, and returns its block number. Panics if the device is full.
func balloc(dev uint32) uint32 {
	for b := uint32(0); b < sb.Size; b += kconfig.BSize * 8 {
		bp := bio.Bread(dev, bmapBlock(b))
		for bi := uint32(0); bi < kconfig.BSize*8 && b+bi < sb.Size; bi++ {
			m := byte(1 << (bi % 8))
			if bp.Data[bi/8]&m == 0 {
				bp.Data[bi/8] |= m
				fslog.LogWrite(bp)
				bio.Brelease(bp)
				bzero(dev, b+bi)
				return b + bi
			}
		}
		bio.Brelease(bp)
	}
	klog.Panic("fs", "balloc: dev %d out of blocks", dev)
	return 0
}

// bfree clears block b's bit in dev's bitmap.
func bfree(dev, b uint32) {
	bp := bio.Bread(dev, bmapBlock(b))
	bi := b % (kconfig.BSize * 8)
	m := byte(1 << (bi % 8))
	if bp.Data[bi/8]&m == 0 {
		klog.Panic("fs", "bfree: dev %d block %d already free", dev, b)
	}
	bp.Data[bi/8] &^= m
	fslog.LogWrite(bp)
	bio.Brelease(bp)
}

// BeginOp and EndOp bracket one filesystem-modifying syscall's
// transaction. internal/file/internal/syscall call these around a
// create/unlink/write/mkdir, never this package itself — fs.c's own
// functions only ever call log_write, leaving transaction boundaries to
// the syscall layer, and this port keeps that split.
func BeginOp() { fslog.BeginOp() }
func EndOp()   { fslog.EndOp() }

func init() {
	proc.DupInode = func(i any) any { return IDup(i.(*Inode)) }
	proc.PutInode = func(i any) { IPut(i.(*Inode)) }
}
