package syscall

import (
	"github.com/yzlqp/OS/internal/file"
	"github.com/yzlqp/OS/internal/fs"
	"github.com/yzlqp/OS/internal/kconfig"
	"github.com/yzlqp/OS/internal/kerrno"
	"github.com/yzlqp/OS/internal/klog"
	"github.com/yzlqp/OS/internal/proc"
	"github.com/yzlqp/OS/internal/trapframe"
)

// open(2) mode flags, matching the teacher's user-visible fcntl values.
const (
	ORdOnly = 0x000
	OWrOnly = 0x001
	ORdWr   = 0x002
	OCreate = 0x200
	OTrunc  = 0x400
)

// MaxArg is the most argv entries exec will fetch before giving up.
const MaxArg = 32

// create implements the shared path behind open(O_CREATE), mkdir, and
// mknod: resolve path's parent, reuse a matching existing file for
// O_CREATE's "open or create" case, or allocate and link a fresh inode of
// typ. Returns the new (or reused) inode locked, or nil on failure. Must
// be called inside a BeginOp/EndOp transaction.
func create(path string, typ fs.FType, major, minor uint16) *fs.Inode {
	dp, name := fs.NameiParent(path)
	if dp == nil {
		return nil
	}
	fs.ILock(dp)

	if ip := fs.DirLookup(dp, name, nil); ip != nil {
		fs.IUnlockPut(dp)
		fs.ILock(ip)
		if typ == fs.FTFile && (ip.Type == fs.FTFile || ip.Type == fs.FTDevice) {
			return ip
		}
		fs.IUnlockPut(ip)
		return nil
	}

	ip := fs.IAlloc(dp.Dev(), typ)
	if ip == nil {
		fs.IUnlockPut(dp)
		return nil
	}
	fs.ILock(ip)
	ip.Major = major
	ip.Minor = minor
	ip.Nlink = 1
	fs.IUpdate(ip)

	if typ == fs.FTDir {
		dp.Nlink++
		fs.IUpdate(dp)
		if fs.DirLink(ip, ".", ip.Inum()) != nil || fs.DirLink(ip, "..", dp.Inum()) != nil {
			klog.Panic("fs", "create: failed to link . and ..")
		}
	}

	if fs.DirLink(dp, name, ip.Inum()) != nil {
		klog.Panic("fs", "create: failed to link new inode into parent directory")
	}
	fs.IUnlockPut(dp)
	return ip
}

func sysMknod(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	var pathBuf [kconfig.DirSiz * 8]byte
	n, err := argStr(p, tf, 0, pathBuf[:])
	if err != nil {
		return -1
	}
	major, err1 := argInt(tf, 1)
	minor, err2 := argInt(tf, 2)
	if err1 != nil || err2 != nil {
		return -1
	}

	fs.BeginOp()
	defer fs.EndOp()
	ip := create(string(pathBuf[:n]), fs.FTDevice, uint16(major), uint16(minor))
	if ip == nil {
		return -1
	}
	fs.IUnlockPut(ip)
	return 0
}

func sysOpen(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	var pathBuf [kconfig.DirSiz * 8]byte
	n, err := argStr(p, tf, 0, pathBuf[:])
	if err != nil {
		return -1
	}
	mode, err := argInt(tf, 1)
	if err != nil {
		return -1
	}
	path := string(pathBuf[:n])

	fs.BeginOp()
	defer fs.EndOp()

	var ip *fs.Inode
	if mode&OCreate != 0 {
		ip = create(path, fs.FTFile, 0, 0)
		if ip == nil {
			return -1
		}
	} else {
		ip = fs.Namei(path)
		if ip == nil {
			return -1
		}
		fs.ILock(ip)
		if ip.Type == fs.FTDir && mode != ORdOnly {
			fs.IUnlockPut(ip)
			return -1
		}
	}

	if ip.Type == fs.FTDevice && int(ip.Major) >= kconfig.NDev {
		fs.IUnlockPut(ip)
		return -1
	}

	f := file.Alloc()
	if f == nil {
		fs.IUnlockPut(ip)
		return -1
	}
	fd, err := fdAlloc(p, f)
	if err != nil {
		file.Close(f)
		fs.IUnlockPut(ip)
		return -1
	}

	if ip.Type == fs.FTDevice {
		f.Type = file.FDDevice
		f.Major = int16(ip.Major)
	} else {
		f.Type = file.FDInode
		f.Off = 0
	}
	f.Ip = ip
	f.Readable = mode&OWrOnly == 0
	f.Writable = mode&OWrOnly != 0 || mode&ORdWr != 0

	if mode&OTrunc != 0 && ip.Type == fs.FTFile {
		fs.ITrunc(ip)
	}

	fs.IUnlock(ip)
	return int64(fd)
}

func sysClose(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	fd, f, err := argFd(p, tf, 0)
	if err != nil {
		return -1
	}
	p.Ofile[fd] = nil
	file.Close(f)
	return 0
}

func sysRead(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	_, f, err := argFd(p, tf, 0)
	if err != nil {
		return -1
	}
	n, err := argInt(tf, 2)
	if err != nil {
		return -1
	}
	va, err := argPtr(p, tf, 1, n)
	if err != nil {
		return -1
	}
	buf := make([]byte, n)
	r, rerr := file.Read(f, buf)
	if rerr != nil {
		return -1
	}
	if err := copyOutTo(p, va, buf[:r]); err != nil {
		return -1
	}
	return int64(r)
}

func sysWrite(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	_, f, err := argFd(p, tf, 0)
	if err != nil {
		return -1
	}
	n, err := argInt(tf, 2)
	if err != nil {
		return -1
	}
	va, err := argPtr(p, tf, 1, n)
	if err != nil {
		return -1
	}
	buf := make([]byte, n)
	if err := copyInFrom(p, buf, va); err != nil {
		return -1
	}
	w, werr := file.Write(f, buf)
	if werr != nil {
		return -1
	}
	return int64(w)
}

// ExecImage loads a fresh program image into the calling process,
// replacing its address space. Left nil here — exec's own loader is a
// separate module this design defers entirely (spec §6: "details
// deferred to exec module, out of core"); cmd/kernel wires a concrete
// implementation in once one exists.
var ExecImage func(p *proc.Proc, path string, argv []string) (int64, error)

func sysExec(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	var pathBuf [kconfig.DirSiz * 8]byte
	pn, err := argStr(p, tf, 0, pathBuf[:])
	if err != nil {
		return -1
	}
	uargv, err := argInt(tf, 1)
	if err != nil {
		return -1
	}

	var argv [MaxArg]string
	var argc int
	for ; argc < MaxArg; argc++ {
		var word [8]byte
		if err := copyInFrom(p, word[:], uargv+uint64(argc)*8); err != nil {
			return -1
		}
		uarg := getWord(word[:])
		if uarg == 0 {
			break
		}
		var argBuf [kconfig.DirSiz * 8]byte
		an, err := vmCopyInStrArg(p, argBuf[:], uarg)
		if err != nil {
			return -1
		}
		argv[argc] = string(argBuf[:an])
	}
	if argc == MaxArg {
		return -1
	}

	if ExecImage == nil {
		return -1
	}
	ret, err := ExecImage(p, string(pathBuf[:pn]), argv[:argc])
	if err != nil {
		return -1
	}
	return ret
}

func sysDup(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	_, f, err := argFd(p, tf, 0)
	if err != nil {
		return -1
	}
	fd, err := fdAlloc(p, f)
	if err != nil {
		return -1
	}
	file.Dup(f)
	return int64(fd)
}

func sysChdir(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	var pathBuf [kconfig.DirSiz * 8]byte
	n, err := argStr(p, tf, 0, pathBuf[:])
	if err != nil {
		return -1
	}

	fs.BeginOp()
	defer fs.EndOp()
	ip := fs.Namei(string(pathBuf[:n]))
	if ip == nil {
		return -1
	}
	fs.ILock(ip)
	if ip.Type != fs.FTDir {
		fs.IUnlockPut(ip)
		return -1
	}
	fs.IUnlock(ip)
	fs.IPut(p.Cwd.(*fs.Inode))
	p.Cwd = ip
	return 0
}

func sysFstat(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	_, f, err := argFd(p, tf, 0)
	if err != nil {
		return -1
	}
	va, err := argPtr(p, tf, 1, uint64(statSize))
	if err != nil {
		return -1
	}
	var st fs.Stat
	if err := file.Stat(f, &st); err != nil {
		return -1
	}
	var buf [statSize]byte
	encodeStat(buf[:], st)
	if err := copyOutTo(p, va, buf[:]); err != nil {
		return -1
	}
	return 0
}

func sysMkdir(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	var pathBuf [kconfig.DirSiz * 8]byte
	n, err := argStr(p, tf, 0, pathBuf[:])
	if err != nil {
		return -1
	}
	fs.BeginOp()
	defer fs.EndOp()
	ip := create(string(pathBuf[:n]), fs.FTDir, 0, 0)
	if ip == nil {
		return -1
	}
	fs.IUnlockPut(ip)
	return 0
}

func sysLink(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	var oldBuf, newBuf [kconfig.DirSiz * 8]byte
	on, err := argStr(p, tf, 0, oldBuf[:])
	if err != nil {
		return -1
	}
	nn, err := argStr(p, tf, 1, newBuf[:])
	if err != nil {
		return -1
	}

	fs.BeginOp()
	defer fs.EndOp()

	ip := fs.Namei(string(oldBuf[:on]))
	if ip == nil {
		return -1
	}
	fs.ILock(ip)
	if ip.Type == fs.FTDir {
		fs.IUnlockPut(ip)
		return -1
	}
	ip.Nlink++
	fs.IUpdate(ip)
	fs.IUnlock(ip)

	if !linkInto(string(newBuf[:nn]), ip) {
		fs.ILock(ip)
		ip.Nlink--
		fs.IUpdate(ip)
		fs.IUnlockPut(ip)
		return -1
	}

	fs.IPut(ip)
	return 0
}

// linkInto adds name -> ip.Inum() into the directory named by the parent
// of newpath, the half of sys_link that can fail after ip's link count
// has already been bumped — isolated here so sysLink can unwind that
// increment in one place on any failure.
func linkInto(newpath string, ip *fs.Inode) bool {
	dp, name := fs.NameiParent(newpath)
	if dp == nil {
		return false
	}
	fs.ILock(dp)
	if dp.Dev() != ip.Dev() || fs.DirLink(dp, name, ip.Inum()) != nil {
		fs.IUnlockPut(dp)
		return false
	}
	fs.IUnlockPut(dp)
	return true
}

func isDirEmpty(dp *fs.Inode) bool {
	const direntSize = 2 + kconfig.DirSiz
	var de [direntSize]byte
	for off := uint32(2 * direntSize); off < dp.Size; off += direntSize {
		if fs.ReadI(dp, de[:], off, direntSize) != direntSize {
			klog.Panic("fs", "isDirEmpty: short read")
		}
		if de[0] != 0 || de[1] != 0 {
			return false
		}
	}
	return true
}

func sysUnlink(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	var pathBuf [kconfig.DirSiz * 8]byte
	n, err := argStr(p, tf, 0, pathBuf[:])
	if err != nil {
		return -1
	}

	fs.BeginOp()
	defer fs.EndOp()

	dp, name := fs.NameiParent(string(pathBuf[:n]))
	if dp == nil {
		return -1
	}
	fs.ILock(dp)
	if fs.Namecmp(name, ".") == 0 || fs.Namecmp(name, "..") == 0 {
		fs.IUnlockPut(dp)
		return -1
	}

	var off uint32
	ip := fs.DirLookup(dp, name, &off)
	if ip == nil {
		fs.IUnlockPut(dp)
		return -1
	}
	fs.ILock(ip)
	if ip.Nlink < 1 {
		klog.Panic("fs", "unlink: nlink < 1")
	}
	if ip.Type == fs.FTDir && !isDirEmpty(ip) {
		fs.IUnlockPut(ip)
		fs.IUnlockPut(dp)
		return -1
	}

	const direntSize = 2 + kconfig.DirSiz
	var zero [direntSize]byte
	if n, err := fs.WriteI(dp, zero[:], off, direntSize); err != nil || n != direntSize {
		klog.Panic("fs", "unlink: writei failed")
	}
	if ip.Type == fs.FTDir {
		dp.Nlink--
		fs.IUpdate(dp)
	}
	fs.IUnlockPut(dp)

	ip.Nlink--
	fs.IUpdate(ip)
	fs.IUnlockPut(ip)
	return 0
}

func sysPipe(p *proc.Proc, tf *trapframe.TrapFrame) int64 {
	va, err := argPtr(p, tf, 0, 8)
	if err != nil {
		return -1
	}
	r, w, err := file.PipeAlloc()
	if err != nil {
		return -1
	}
	fd0, err0 := fdAlloc(p, r)
	var fd1 int
	var err1 error
	if err0 == nil {
		fd1, err1 = fdAlloc(p, w)
	}
	if err0 != nil || err1 != nil {
		if err0 == nil {
			p.Ofile[fd0] = nil
		}
		file.Close(r)
		file.Close(w)
		return -1
	}

	var buf [8]byte
	putWord32(buf[0:4], uint32(fd0))
	putWord32(buf[4:8], uint32(fd1))
	if err := copyOutTo(p, va, buf[:]); err != nil {
		return -1
	}
	return 0
}

// vmCopyInStrArg copies one argv string pointed to by uarg into buf.
func vmCopyInStrArg(p *proc.Proc, buf []byte, uarg uint64) (int, error) {
	if uarg >= p.Sz() {
		return 0, kerrno.EFAULT
	}
	return copyInStrAt(p, buf, uarg)
}
