package fs

import (
	"github.com/yzlqp/OS/internal/kconfig"
	"github.com/yzlqp/OS/internal/klog"
	"github.com/yzlqp/OS/internal/proc"
)

// dirent is one directory entry: a 14-byte name plus the inode number it
// names, or inum 0 for a free slot.
const direntSize = 2 + kconfig.DirSiz

func decodeDirent(d []byte) (inum uint16, name [kconfig.DirSiz]byte) {
	inum = uint16(d[0]) | uint16(d[1])<<8
	copy(name[:], d[2:2+kconfig.DirSiz])
	return
}

func encodeDirent(d []byte, inum uint16, name string) {
	d[0], d[1] = byte(inum), byte(inum>>8)
	var nb [kconfig.DirSiz]byte
	copy(nb[:], name)
	copy(d[2:2+kconfig.DirSiz], nb[:])
}

// Namecmp compares two path-element names under the DirSiz truncation
// every directory entry is limited to.
func Namecmp(s, t string) int {
	a, b := truncName(s), truncName(t)
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func truncName(s string) string {
	if len(s) > kconfig.DirSiz {
		return s[:kconfig.DirSiz]
	}
	return s
}

// DirLookup searches directory dp for name, returning the matching
// inode (referenced, unlocked) and, if poff is non-nil, the byte offset
// of its directory entry. Caller must hold dp.Lock.
func DirLookup(dp *Inode, name string, poff *uint32) *Inode {
	if dp.Type != FTDir {
		klog.Panic("fs", "dirlookup: inode %d is not a directory", dp.inum)
	}
	var de [direntSize]byte
	for off := uint32(0); off < dp.Size; off += direntSize {
		if ReadI(dp, de[:], off, direntSize) != direntSize {
			klog.Panic("fs", "dirlookup: short read at offset %d", off)
		}
		inum, nameBytes := decodeDirent(de[:])
		if inum == 0 {
			continue
		}
		if Namecmp(name, cstrDirent(nameBytes)) == 0 {
			if poff != nil {
				*poff = off
			}
			return iget(dp.dev, uint32(inum))
		}
	}
	return nil
}

func cstrDirent(b [kconfig.DirSiz]byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b[:])
}

// DirLink writes a new directory entry (name, inum) into directory dp,
// reusing the first free slot if one exists and appending otherwise.
// Returns an error if name is already present. Caller must hold dp.Lock
// and be inside a BeginOp/EndOp transaction.
func DirLink(dp *Inode, name string, inum uint32) error {
	if existing := DirLookup(dp, name, nil); existing != nil {
		IPut(existing)
		return errDirentExists
	}

	var de [direntSize]byte
	var off uint32
	for ; off < dp.Size; off += direntSize {
		if ReadI(dp, de[:], off, direntSize) != direntSize {
			klog.Panic("fs", "dirlink: short read at offset %d", off)
		}
		if inum16, _ := decodeDirent(de[:]); inum16 == 0 {
			break
		}
	}
	encodeDirent(de[:], uint16(inum), name)
	if n, err := WriteI(dp, de[:], off, direntSize); err != nil || n != direntSize {
		klog.Panic("fs", "dirlink: write failed writing entry %q", name)
	}
	return nil
}

// skipelem copies the next "/"-separated path element from path into
// name (truncated to DirSiz) and returns the remainder of path with
// leading slashes stripped. Returns "", "" once path names nothing.
func skipelem(path string) (elem, rest string) {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if len(path) == 0 {
		return "", ""
	}
	i := 0
	for i < len(path) && path[i] != '/' {
		i++
	}
	elem = truncName(path[:i])
	rest = path[i:]
	for len(rest) > 0 && rest[0] == '/' {
		rest = rest[1:]
	}
	return elem, rest
}

// namex resolves path to an inode, starting at the root if path is
// absolute and at the calling process's cwd otherwise. If nameiParent is
// true, it stops one element early and returns the parent directory,
// with the final element copied into *name. Must be called inside a
// BeginOp/EndOp transaction, since it calls IPut.
func namex(path string, nameiParent bool) (ip *Inode, lastName string) {
	var cur *Inode
	if len(path) > 0 && path[0] == '/' {
		cur = iget(kconfig.RootDev, kconfig.RootIno)
	} else {
		cwd, _ := proc.MyProc().Cwd.(*Inode)
		cur = IDup(cwd)
	}

	var elem string
	elem, path = skipelem(path)
	for elem != "" {
		ILock(cur)
		if cur.Type != FTDir {
			IUnlockPut(cur)
			return nil, ""
		}
		if nameiParent && path == "" {
			IUnlock(cur)
			return cur, elem
		}
		next := DirLookup(cur, elem, nil)
		if next == nil {
			IUnlockPut(cur)
			return nil, ""
		}
		IUnlockPut(cur)
		cur = next
		elem, path = skipelem(path)
	}
	if nameiParent {
		IPut(cur)
		return nil, ""
	}
	return cur, ""
}

// Namei resolves path to its inode.
func Namei(path string) *Inode {
	ip, _ := namex(path, false)
	return ip
}

// NameiParent resolves path to its parent directory's inode, returning
// the final path element alongside it.
func NameiParent(path string) (dir *Inode, name string) {
	return namex(path, true)
}
