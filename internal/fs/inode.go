package fs

import (
	"github.com/yzlqp/OS/internal/bio"
	"github.com/yzlqp/OS/internal/fslog"
	"github.com/yzlqp/OS/internal/kconfig"
	"github.com/yzlqp/OS/internal/kerrno"
	"github.com/yzlqp/OS/internal/klog"
	"github.com/yzlqp/OS/internal/sleeplock"
	"github.com/yzlqp/OS/internal/spinlock"
)

var (
	errInvalidWrite = kerrno.EINVAL
	errFileTooBig   = kerrno.ERANGE
	errDirentExists = kerrno.EEXIST
)

// dinodeSize is the on-disk size of one inode record: four uint16 fields,
// one uint32 size, and NDirect+1 uint32 block addresses.
const dinodeSize = 2*4 + 4 + (kconfig.NDirect+1)*4

func dinodeOffset(bp *bio.Buf, inum uint32) []byte {
	off := (inum % inodesPerBlock()) * dinodeSize
	return bp.Data[off : off+dinodeSize]
}

func decodeDinode(d []byte) (typ, major, minor, nlink uint16, size uint32, addrs [kconfig.NDirect + 1]uint32) {
	u16 := func(o int) uint16 { return uint16(d[o]) | uint16(d[o+1])<<8 }
	u32 := func(o int) uint32 {
		return uint32(d[o]) | uint32(d[o+1])<<8 | uint32(d[o+2])<<16 | uint32(d[o+3])<<24
	}
	typ = u16(0)
	major = u16(2)
	minor = u16(4)
	nlink = u16(6)
	size = u32(8)
	for i := range addrs {
		addrs[i] = u32(12 + i*4)
	}
	return
}

func encodeDinode(d []byte, typ, major, minor, nlink uint16, size uint32, addrs [kconfig.NDirect + 1]uint32) {
	put16 := func(o int, v uint16) { d[o], d[o+1] = byte(v), byte(v>>8) }
	put32 := func(o int, v uint32) {
		d[o], d[o+1], d[o+2], d[o+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	}
	put16(0, typ)
	put16(2, major)
	put16(4, minor)
	put16(6, nlink)
	put32(8, size)
	for i, a := range addrs {
		put32(12+i*4, a)
	}
}

// Inode is the in-memory copy of an on-disk inode. The kernel keeps one
// cached only while at least one pointer refers to it (ref > 0); Lock
// guards everything below it, and must be held before Type/Size/Addrs are
// trusted or mutated — a freshly iget'd inode is unlocked and may not
// have been read from disk yet (Valid==false).
type Inode struct {
	dev   uint32
	inum  uint32
	ref   int
	Lock  *sleeplock.Lock
	Valid bool

	Type  FType
	Major uint16
	Minor uint16
	Nlink uint16
	Size  uint32
	Addrs [kconfig.NDirect + 1]uint32
}

func (ip *Inode) Dev() uint32  { return ip.dev }
func (ip *Inode) Inum() uint32 { return ip.inum }

var itable struct {
	lock  *spinlock.Mutex
	inode [kconfig.NInode]Inode
}

func iinit() {
	itable.lock = spinlock.New("itable")
	for i := range itable.inode {
		itable.inode[i].Lock = sleeplock.New("inode")
	}
}

// IAlloc scans dev's inode region for a free (type-0) dinode, marks it
// allocated with the given type, and returns an unlocked, referenced
// in-memory copy, or nil if every dinode is already in use. Must be
// called inside a BeginOp/EndOp transaction.
//
// The original source panics here; this returns nil instead, a deliberate
// redesign rather than a silent fix to spec §9's flagged exhaustion-path
// panics: unlike bget/balloc's in-memory-or-bitmap exhaustion, which the
// same note leaves as a panic, an out-of-inodes filesystem is an ordinary
// user-triggerable condition (too many files created), so a create/mkdir/
// mknod caller treats a nil IAlloc the same way it already treats a
// failed DirLookup — by unwinding and returning an error, never a panic.
func IAlloc(dev uint32, typ FType) *Inode {
	for inum := uint32(1); inum < sb.NInodes; inum++ {
		bp := bio.Bread(dev, iblock(inum))
		d := dinodeOffset(bp, inum)
		if decodeDinodeType(d) == FTFree {
			var zero [dinodeSize]byte
			copy(d, zero[:])
			encodeDinodeType(d, typ)
			fslog.LogWrite(bp)
			bio.Brelease(bp)
			return iget(dev, inum)
		}
		bio.Brelease(bp)
	}
	return nil
}

func decodeDinodeType(d []byte) FType { return FType(uint16(d[0]) | uint16(d[1])<<8) }
func encodeDinodeType(d []byte, typ FType) {
	d[0], d[1] = byte(typ), byte(typ>>8)
}

// IUpdate copies ip's in-memory fields back to its on-disk dinode.
// Must be called after every change to a field that lives on disk, since
// the inode cache is write-through. Caller must hold ip.Lock.
func IUpdate(ip *Inode) {
	bp := bio.Bread(ip.dev, iblock(ip.inum))
	d := dinodeOffset(bp, ip.inum)
	encodeDinode(d, uint16(ip.Type), ip.Major, ip.Minor, ip.Nlink, ip.Size, ip.Addrs)
	fslog.LogWrite(bp)
	bio.Brelease(bp)
}

// iget finds or creates the in-memory slot for (dev, inum), bumping its
// refcount. Never reads from disk and never locks — see ILock for that.
func iget(dev, inum uint32) *Inode {
	itable.lock.Acquire()
	defer itable.lock.Release()

	var empty *Inode
	for i := range itable.inode {
		ip := &itable.inode[i]
		if ip.ref > 0 && ip.dev == dev && ip.inum == inum {
			ip.ref++
			return ip
		}
		if empty == nil && ip.ref == 0 {
			empty = ip
		}
	}
	if empty == nil {
		klog.Panic("fs", "iget: inode table full")
	}
	empty.dev = dev
	empty.inum = inum
	empty.ref = 1
	empty.Valid = false
	return empty
}

// IDup bumps ip's reference count, for the caller to hold a second
// pointer to the same in-memory inode (e.g. Fork duplicating cwd).
func IDup(ip *Inode) *Inode {
	itable.lock.Acquire()
	ip.ref++
	itable.lock.Release()
	return ip
}

// ILock locks ip, reading it from disk on first use.
func ILock(ip *Inode) {
	if ip == nil || ip.ref < 1 {
		klog.Panic("fs", "ilock: inode not referenced")
	}
	ip.Lock.Acquire()
	if !ip.Valid {
		bp := bio.Bread(ip.dev, iblock(ip.inum))
		d := dinodeOffset(bp, ip.inum)
		typ, major, minor, nlink, size, addrs := decodeDinode(d)
		ip.Type = FType(typ)
		ip.Major = major
		ip.Minor = minor
		ip.Nlink = nlink
		ip.Size = size
		ip.Addrs = addrs
		bio.Brelease(bp)
		ip.Valid = true
		if ip.Type == FTFree {
			klog.Panic("fs", "ilock: inode %d has no type", ip.inum)
		}
	}
}

// IUnlock unlocks ip.
func IUnlock(ip *Inode) {
	if ip == nil || !ip.Lock.Held() || ip.ref < 1 {
		klog.Panic("fs", "iunlock: invalid unlock")
	}
	ip.Lock.Release()
}

// IPut drops a reference to ip. If that was the last reference and the
// inode has no links left, the inode and its data blocks are freed on
// disk. Must be called inside a BeginOp/EndOp transaction whenever this
// might be the freeing case.
func IPut(ip *Inode) {
	itable.lock.Acquire()
	if ip.ref == 1 && ip.Valid && ip.Nlink == 0 {
		ip.Lock.Acquire()
		itable.lock.Release()

		ITrunc(ip)
		ip.Type = FTFree
		IUpdate(ip)
		ip.Valid = false

		ip.Lock.Release()
		itable.lock.Acquire()
	}
	ip.ref--
	itable.lock.Release()
}

// IUnlockPut unlocks ip and then drops a reference to it.
func IUnlockPut(ip *Inode) {
	IUnlock(ip)
	IPut(ip)
}

// bmap returns the disk block number holding ip's bn'th data block,
// allocating it (and, for bn >= NDirect, the indirect block) if absent.
func bmap(ip *Inode, bn uint32) uint32 {
	if bn < kconfig.NDirect {
		addr := ip.Addrs[bn]
		if addr == 0 {
			addr = balloc(ip.dev)
			ip.Addrs[bn] = addr
		}
		return addr
	}
	bn -= kconfig.NDirect
	if bn < kconfig.NIndirect {
		addr := ip.Addrs[kconfig.NDirect]
		if addr == 0 {
			addr = balloc(ip.dev)
			ip.Addrs[kconfig.NDirect] = addr
		}
		bp := bio.Bread(ip.dev, addr)
		idx := bn * 4
		a := uint32(bp.Data[idx]) | uint32(bp.Data[idx+1])<<8 | uint32(bp.Data[idx+2])<<16 | uint32(bp.Data[idx+3])<<24
		if a == 0 {
			a = balloc(ip.dev)
			bp.Data[idx] = byte(a)
			bp.Data[idx+1] = byte(a >> 8)
			bp.Data[idx+2] = byte(a >> 16)
			bp.Data[idx+3] = byte(a >> 24)
			fslog.LogWrite(bp)
		}
		bio.Brelease(bp)
		return a
	}
	klog.Panic("fs", "bmap: block %d out of range for inode %d", bn, ip.inum)
	return 0
}

// ITrunc discards ip's contents: every direct and indirect data block is
// freed, size reset to zero, and the change written to disk. Caller must
// hold ip.Lock.
func ITrunc(ip *Inode) {
	for i := 0; i < kconfig.NDirect; i++ {
		if ip.Addrs[i] != 0 {
			bfree(ip.dev, ip.Addrs[i])
			ip.Addrs[i] = 0
		}
	}
	if ip.Addrs[kconfig.NDirect] != 0 {
		bp := bio.Bread(ip.dev, ip.Addrs[kconfig.NDirect])
		for j := 0; j < kconfig.NIndirect; j++ {
			idx := j * 4
			a := uint32(bp.Data[idx]) | uint32(bp.Data[idx+1])<<8 | uint32(bp.Data[idx+2])<<16 | uint32(bp.Data[idx+3])<<24
			if a != 0 {
				bfree(ip.dev, a)
			}
		}
		bio.Brelease(bp)
		bfree(ip.dev, ip.Addrs[kconfig.NDirect])
		ip.Addrs[kconfig.NDirect] = 0
	}
	ip.Size = 0
	IUpdate(ip)
}

// IStat copies ip's metadata into st. Caller must hold ip.Lock.
func IStat(ip *Inode, st *Stat) {
	st.Dev = ip.dev
	st.Ino = ip.inum
	st.Type = ip.Type
	st.Nlink = ip.Nlink
	st.Size = uint64(ip.Size)
}

func minInt(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// ReadI reads n bytes from ip starting at offset into dst, returning the
// number of bytes actually read. Caller must hold ip.Lock.
func ReadI(ip *Inode, dst []byte, offset, n uint32) uint32 {
	if offset > ip.Size || offset+n < offset {
		return 0
	}
	if offset+n > ip.Size {
		n = ip.Size - offset
	}
	var tot uint32
	for tot < n {
		bp := bio.Bread(ip.dev, bmap(ip, offset/kconfig.BSize))
		m := minInt(n-tot, kconfig.BSize-offset%kconfig.BSize)
		copy(dst[tot:tot+m], bp.Data[offset%kconfig.BSize:])
		bio.Brelease(bp)
		tot += m
		offset += m
	}
	return tot
}

// WriteI writes n bytes from src to ip starting at offset, growing the
// inode's recorded size if necessary, and always rewriting the inode's
// on-disk copy (bmap may have allocated new blocks even when size didn't
// change). Caller must hold ip.Lock and must be inside a BeginOp/EndOp
// transaction. Returns the number of bytes written, or an error if the
// request would exceed the maximum file size.
func WriteI(ip *Inode, src []byte, offset, n uint32) (uint32, error) {
	if offset > ip.Size || offset+n < offset {
		return 0, errInvalidWrite
	}
	if uint64(offset)+uint64(n) > uint64(kconfig.MaxFile)*kconfig.BSize {
		return 0, errFileTooBig
	}
	var tot uint32
	for tot < n {
		bp := bio.Bread(ip.dev, bmap(ip, offset/kconfig.BSize))
		m := minInt(n-tot, kconfig.BSize-offset%kconfig.BSize)
		copy(bp.Data[offset%kconfig.BSize:], src[tot:tot+m])
		fslog.LogWrite(bp)
		bio.Brelease(bp)
		tot += m
		offset += m
	}
	if offset > ip.Size {
		ip.Size = offset
	}
	IUpdate(ip)
	return tot, nil
}
