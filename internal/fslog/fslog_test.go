package fslog

import (
	"testing"
	"unsafe"

	"github.com/yzlqp/OS/internal/arch"
	"github.com/yzlqp/OS/internal/bio"
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

// asRunning wires the same fakeable seams bio/sleeplock/proc's own tests
// use, since log_write/commit round trip through real sleep-locked
// buffers and BeginOp/EndOp sleep on the log under contention.
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
	bio.SetDevice(dev)
	return dev
}

const testDev = 1

func TestBeginOpLogWriteEndOpInstallsToHomeBlock(t *testing.T) {
	asRunning(t)
	Init(testDev, 100, 10)

	const home = uint32(500)
	BeginOp()
	b := bio.Bread(testDev, home)
	b.Data[0] = 0xAB
	LogWrite(b)
	bio.Brelease(b)
	EndOp()

	got := bio.Bread(testDev, home)
	if got.Data[0] != 0xAB {
		t.Fatalf("home block data[0] = %#x, want 0xab", got.Data[0])
	}
	bio.Brelease(got)

	if st.lh.n != 0 {
		t.Fatalf("log should be empty after commit, n = %d", st.lh.n)
	}
}

func TestLogWriteAbsorbsRepeatedWritesToSameBlock(t *testing.T) {
	asRunning(t)
	Init(testDev, 100, 10)

	const home = uint32(501)
	BeginOp()
	b := bio.Bread(testDev, home)
	b.Data[0] = 1
	LogWrite(b)
	b.Data[0] = 2
	LogWrite(b)
	bio.Brelease(b)

	if st.lh.n != 1 {
		t.Fatalf("absorbed writes to the same block should use one log slot, n = %d", st.lh.n)
	}
	EndOp()

	got := bio.Bread(testDev, home)
	if got.Data[0] != 2 {
		t.Fatalf("home block should reflect the latest write, data[0] = %d, want 2", got.Data[0])
	}
	bio.Brelease(got)
}

func TestLogWritePanicsOutsideTransaction(t *testing.T) {
	asRunning(t)
	Init(testDev, 100, 10)

	b := bio.Bread(testDev, 502)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic calling LogWrite outside BeginOp/EndOp")
		}
		bio.Brelease(b)
	}()
	LogWrite(b)
}

func TestInitRecoversPendingTransaction(t *testing.T) {
	asRunning(t)
	const (
		logStart = 200
		logSize  = 10
		home     = uint32(900)
	)

	// Simulate a crash right after the commit point: the header names one
	// pending block, and its new content already sits in the first log
	// slot, but install never ran.
	hb := bio.Bread(testDev, logStart)
	h := castBuf(hb)
	h.n = 1
	h.block[0] = int32(home)
	bio.Bwrite(hb)
	bio.Brelease(hb)

	slot := bio.Bread(testDev, logStart+1)
	slot.Data[0] = 0xCD
	bio.Bwrite(slot)
	bio.Brelease(slot)

	Init(testDev, logStart, logSize)

	installed := bio.Bread(testDev, home)
	if installed.Data[0] != 0xCD {
		t.Fatalf("recovered home block data[0] = %#x, want 0xcd", installed.Data[0])
	}
	bio.Brelease(installed)

	hb2 := bio.Bread(testDev, logStart)
	if castBuf(hb2).n != 0 {
		t.Fatalf("header should be cleared after recovery, n = %d", castBuf(hb2).n)
	}
	bio.Brelease(hb2)
}
