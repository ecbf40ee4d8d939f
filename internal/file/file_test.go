package file

import (
	"testing"
	"unsafe"

	"github.com/yzlqp/OS/internal/arch"
	"github.com/yzlqp/OS/internal/bio"
	"github.com/yzlqp/OS/internal/fs"
	"github.com/yzlqp/OS/internal/kconfig"
	"github.com/yzlqp/OS/internal/pmm"
	"github.com/yzlqp/OS/internal/proc"
	"github.com/yzlqp/OS/internal/vm"
)

type fakeDevice struct {
	blocks map[[2]uint32][kconfig.BSize]byte
}

func newFakeDevice() *fakeDevice { return &fakeDevice{blocks: map[[2]uint32][kconfig.BSize]byte{}} }

func (f *fakeDevice) ReadBlock(dev, blockno uint32, data []byte) error {
	b := f.blocks[[2]uint32{dev, blockno}]
	copy(data, b[:])
	return nil
}

func (f *fakeDevice) WriteBlock(dev, blockno uint32, data []byte) error {
	var b [kconfig.BSize]byte
	copy(b[:], data)
	f.blocks[[2]uint32{dev, blockno}] = b
	return nil
}

var nextTestDev uint32 = 1

func newTestDev() uint32 {
	nextTestDev++
	return nextTestDev
}

const (
	layoutLogStart   = 2
	layoutNLog       = kconfig.LogSize + 1
	layoutInodeStart = layoutLogStart + layoutNLog
	layoutNInodes    = 50
	layoutInodeBlks  = (layoutNInodes + 7) / 8
	layoutBmapStart  = layoutInodeStart + layoutInodeBlks
	layoutSize       = 200
)

// asRunning wires the same arch/vm/pmm/proc fakes internal/fs's own tests
// use, formats a tiny image, mounts it, and returns the running process
// plus its device number.
func asRunning(t *testing.T) (*proc.Proc, uint32) {
	t.Helper()
	var daif uint64
	origEnabled, origDisable, origRestore, origCurrent, origCPUID :=
		arch.InterruptsEnabled, arch.DisableAllExceptions, arch.RestoreExceptions, arch.CurrentDAIF, arch.CPUID
	arch.InterruptsEnabled = func() bool { return daif&arch.DAIFBitIRQ == 0 }
	arch.DisableAllExceptions = func() { daif |= arch.DAIFAll }
	arch.RestoreExceptions = func(v uint64) { daif = v }
	arch.CurrentDAIF = func() uint64 { return daif }
	arch.CPUID = func() int { return 0 }
	t.Cleanup(func() {
		arch.InterruptsEnabled, arch.DisableAllExceptions, arch.RestoreExceptions, arch.CurrentDAIF, arch.CPUID =
			origEnabled, origDisable, origRestore, origCurrent, origCPUID
	})

	origInvalPage, origInvalAll, origSwitch := arch.InvalidateTLBPage, arch.InvalidateTLBAll, arch.SwitchUserTable
	arch.InvalidateTLBPage = func(uint64) {}
	arch.InvalidateTLBAll = func() {}
	arch.SwitchUserTable = func(uint64) {}
	t.Cleanup(func() {
		arch.InvalidateTLBPage, arch.InvalidateTLBAll, arch.SwitchUserTable = origInvalPage, origInvalAll, origSwitch
	})

	pages := 1 << kconfig.MaxOrder
	arena := make([]byte, (pages+1)*kconfig.PageSize)
	base := uint64(uintptr(unsafe.Pointer(&arena[0])))
	restorePhys := vm.SetPhysMemoryBackend(func(pa uint64) uint64 { return base + pa })
	t.Cleanup(restorePhys)

	z := pmm.NewZone(0, pages)
	z.FreeRange(0, pmm.FrameNumber(pages))

	proc.ResetForTest()
	proc.Init(z)

	p, err := proc.AllocProc()
	if err != nil {
		t.Fatalf("AllocProc() error = %v", err)
	}
	p.Lock.Release()
	proc.SetRunningForTest(0, p)

	dev := newTestDev()
	bio.SetDevice(newFakeDevice())

	sbp := bio.Bread(dev, 1)
	fs.EncodeSuperblock(fs.Superblock{
		Magic:      kconfig.FSMagic,
		Size:       layoutSize,
		NBlocks:    layoutSize,
		NInodes:    layoutNInodes,
		NLog:       layoutNLog,
		LogStart:   layoutLogStart,
		InodeStart: layoutInodeStart,
		BmapStart:  layoutBmapStart,
	}, sbp.Data[:fs.SuperblockSize])
	bio.Bwrite(sbp)
	bio.Brelease(sbp)

	bmp := bio.Bread(dev, layoutBmapStart)
	for b := uint32(0); b <= layoutBmapStart; b++ {
		bmp.Data[b/8] |= 1 << (b % 8)
	}
	bio.Bwrite(bmp)
	bio.Brelease(bmp)

	fs.Init(dev)
	return p, dev
}

func newInodeFile(t *testing.T, dev uint32, readable, writable bool) *File {
	t.Helper()
	fs.BeginOp()
	ip := fs.IAlloc(dev, fs.FTFile)
	fs.EndOp()

	f := Alloc()
	if f == nil {
		t.Fatal("Alloc() = nil, want a free slot")
	}
	f.Type = FDInode
	f.Ip = ip
	f.Readable = readable
	f.Writable = writable
	return f
}

func TestWriteThenReadRoundTripsThroughInode(t *testing.T) {
	_, dev := asRunning(t)
	f := newInodeFile(t, dev, true, true)

	payload := []byte("hello from the file layer")
	n, err := Write(f, payload)
	if err != nil || int(n) != len(payload) {
		t.Fatalf("Write() = (%d, %v), want (%d, nil)", n, err, len(payload))
	}

	// Write leaves the offset advanced; rewind before reading back.
	f.Off = 0
	got := make([]byte, len(payload))
	rn, err := Read(f, got)
	if err != nil || int(rn) != len(payload) {
		t.Fatalf("Read() = (%d, %v), want (%d, nil)", rn, err, len(payload))
	}
	if string(got) != string(payload) {
		t.Fatalf("Read() = %q, want %q", got, payload)
	}
}

func TestWriteSplitsAcrossMaxOpBlocksTransactions(t *testing.T) {
	_, dev := asRunning(t)
	f := newInodeFile(t, dev, true, true)

	payload := make([]byte, maxInodeWrite*2+37)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, err := Write(f, payload)
	if err != nil || int(n) != len(payload) {
		t.Fatalf("Write() = (%d, %v), want (%d, nil)", n, err, len(payload))
	}

	f.Off = 0
	got := make([]byte, len(payload))
	if rn, err := Read(f, got); err != nil || int(rn) != len(payload) {
		t.Fatalf("Read() = (%d, %v), want (%d, nil)", rn, err, len(payload))
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], payload[i])
		}
	}
}

func TestReadRejectsNonReadableFile(t *testing.T) {
	_, dev := asRunning(t)
	f := newInodeFile(t, dev, false, true)

	if _, err := Read(f, make([]byte, 1)); err == nil {
		t.Fatal("Read() on a non-readable file should fail")
	}
}

func TestWriteRejectsNonWritableFile(t *testing.T) {
	_, dev := asRunning(t)
	f := newInodeFile(t, dev, true, false)

	if _, err := Write(f, []byte("x")); err == nil {
		t.Fatal("Write() on a non-writable file should fail")
	}
}

func TestDupAndCloseShareAndReleaseTheSameSlot(t *testing.T) {
	_, dev := asRunning(t)
	f := newInodeFile(t, dev, true, true)

	dup := Dup(f)
	if dup != f {
		t.Fatalf("Dup() = %p, want the same File %p", dup, f)
	}

	Close(f)
	if f.Type != FDInode {
		t.Fatalf("Close() after dup freed the slot early: Type = %v", f.Type)
	}
	Close(f)
	if f.Type != FDNone {
		t.Fatalf("Close() on the last reference: Type = %v, want FDNone", f.Type)
	}
}

func TestStatFailsForNonInodeFile(t *testing.T) {
	asRunning(t)
	f := Alloc()
	f.Type = FDPipe

	var st fs.Stat
	if err := Stat(f, &st); err == nil {
		t.Fatal("Stat() on a pipe file should fail")
	}
}

func TestDeviceReadWriteGoThroughRegisteredDevsw(t *testing.T) {
	asRunning(t)
	var written []byte
	RegisterDevice(5, Device{
		Read: func(dst []byte) (int32, error) {
			copy(dst, "from device")
			return int32(len("from device")), nil
		},
		Write: func(src []byte) (int32, error) {
			written = append([]byte(nil), src...)
			return int32(len(src)), nil
		},
	})
	t.Cleanup(func() { devsw[5] = Device{} })

	f := Alloc()
	f.Type, f.Readable, f.Writable, f.Major = FDDevice, true, true, 5

	got := make([]byte, len("from device"))
	if n, err := Read(f, got); err != nil || string(got[:n]) != "from device" {
		t.Fatalf("Read() = (%q, %v), want (%q, nil)", got[:n], err, "from device")
	}
	if n, err := Write(f, []byte("to device")); err != nil || int(n) != len("to device") {
		t.Fatalf("Write() = (%d, %v), want (%d, nil)", n, err, len("to device"))
	}
	if string(written) != "to device" {
		t.Fatalf("device saw write %q, want %q", written, "to device")
	}
}
