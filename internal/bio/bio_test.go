package bio

import (
	"testing"
	"unsafe"

	"github.com/yzlqp/OS/internal/arch"
	"github.com/yzlqp/OS/internal/kconfig"
	"github.com/yzlqp/OS/internal/pmm"
	"github.com/yzlqp/OS/internal/proc"
	"github.com/yzlqp/OS/internal/vm"
)

// fakeDevice is an in-memory BlockDevice standing in for internal/sdhci,
// keyed by (dev, blockno) so bread/bwrite round trips are observable
// without a real SD/MMC transport.
type fakeDevice struct {
	blocks   map[[2]uint32][kconfig.BSize]byte
	readErr  error
	writeErr error
	reads    int
	writes   int
}

func newFakeDevice() *fakeDevice { return &fakeDevice{blocks: map[[2]uint32][kconfig.BSize]byte{}} }

func (f *fakeDevice) ReadBlock(dev, blockno uint32, data []byte) error {
	f.reads++
	if f.readErr != nil {
		return f.readErr
	}
	b := f.blocks[[2]uint32{dev, blockno}]
	copy(data, b[:])
	return nil
}

func (f *fakeDevice) WriteBlock(dev, blockno uint32, data []byte) error {
	f.writes++
	if f.writeErr != nil {
		return f.writeErr
	}
	var b [kconfig.BSize]byte
	copy(b[:], data)
	f.blocks[[2]uint32{dev, blockno}] = b
	return nil
}

// asRunning wires the same fakeable seams internal/sleeplock's own tests
// use, since every Bread/Brelease call takes a per-buffer sleep-lock that
// needs a "currently running process".
func asRunning(t *testing.T) *fakeDevice {
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

	dev := newFakeDevice()
	SetDevice(dev)
	return dev
}

func TestBreadReadsThroughOnMissThenCaches(t *testing.T) {
	dev := asRunning(t)
	dev.blocks[[2]uint32{1, 5}] = func() (b [kconfig.BSize]byte) { b[0] = 0x42; return }()

	b1 := Bread(1, 5)
	if b1.Data[0] != 0x42 {
		t.Fatalf("Bread() data[0] = %#x, want 0x42", b1.Data[0])
	}
	if dev.reads != 1 {
		t.Fatalf("reads = %d, want 1", dev.reads)
	}
	Brelease(b1)

	b2 := Bread(1, 5)
	if dev.reads != 1 {
		t.Fatalf("reads after cache hit = %d, want still 1", dev.reads)
	}
	if b1 != b2 {
		t.Fatal("Bread() on the same (dev, blockno) should return the same cached buffer")
	}
	Brelease(b2)
}

func TestBwriteWritesThroughAndLeavesBufferClean(t *testing.T) {
	dev := asRunning(t)
	b := Bread(2, 9)
	Bwrite(b)
	if dev.writes != 1 {
		t.Fatalf("writes = %d, want 1", dev.writes)
	}
	if b.flags&flagDirty != 0 {
		t.Fatal("Bwrite() should leave the buffer clean once the synchronous write returns")
	}
	Brelease(b)
}

func TestBwritePanicsWithoutLock(t *testing.T) {
	asRunning(t)
	b := Bread(3, 1)
	Brelease(b)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic writing an unlocked buffer")
		}
	}()
	Bwrite(b)
}

func TestBpinPreventsReclaimUntilUnpinned(t *testing.T) {
	asRunning(t)
	b := Bread(4, 1)
	Bpin(b)
	Brelease(b)
	if b.refcnt != 1 {
		t.Fatalf("refcnt after pin+release = %d, want 1", b.refcnt)
	}

	// Cycle every other slot through the cache; since b's refcnt is still
	// 1 (pinned), bget must never pick it as a free victim, and the other
	// NBuf-1 blocks must all still be independently cacheable.
	for i := 0; i < kconfig.NBuf-1; i++ {
		other := Bread(40, uint32(i))
		Brelease(other)
	}
	for i := 0; i < kconfig.NBuf-1; i++ {
		got := Bread(40, uint32(i))
		if got.dev != 40 || got.blockno != uint32(i) {
			t.Fatalf("expected cached block (40,%d) still resident, got (%d,%d)", i, got.dev, got.blockno)
		}
		Brelease(got)
	}
	if b.dev != 4 || b.blockno != 1 {
		t.Fatalf("pinned buffer was reclaimed: now holds (%d,%d), want (4,1)", b.dev, b.blockno)
	}

	Bunpin(b)
	if b.refcnt != 0 {
		t.Fatalf("refcnt after unpin = %d, want 0", b.refcnt)
	}
}

func TestBgetPanicsWhenNoBufferAvailable(t *testing.T) {
	asRunning(t)
	var held []*Buf
	for i := 0; i < kconfig.NBuf; i++ {
		held = append(held, Bread(9, uint32(i)))
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when every buffer is held and none is reusable")
		}
		for _, b := range held {
			Brelease(b)
		}
	}()
	Bread(9, uint32(kconfig.NBuf))
}
