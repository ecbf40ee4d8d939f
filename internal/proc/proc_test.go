package proc

import (
	"testing"
	"unsafe"

	"github.com/yzlqp/OS/internal/arch"
	"github.com/yzlqp/OS/internal/kconfig"
	"github.com/yzlqp/OS/internal/pmm"
	"github.com/yzlqp/OS/internal/trapframe"
	"github.com/yzlqp/OS/internal/vm"
)

// harness wires up the same fakeable seams internal/spinlock, internal/pmm
// and internal/vm's own tests use — a software DAIF register, a fixed
// single-core CPUID, stubbed TLB/TTBR0 operations, and a Go-array-backed
// physical address space — so this package's allocproc/fork/exit/wait/
// sleep/wakeup logic runs under `go test` with no real target or assembly.
func harness(t *testing.T, pages int) *pmm.Zone {
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

	arena := make([]byte, (pages+1)*kconfig.PageSize)
	base := uint64(uintptr(unsafe.Pointer(&arena[0])))
	restorePhys := vm.SetPhysMemoryBackend(func(pa uint64) uint64 { return base + pa })
	t.Cleanup(restorePhys)

	z := pmm.NewZone(0, pages)
	z.FreeRange(0, pmm.FrameNumber(pages))

	origSwitchFn := doSwitch
	doSwitch = func(old, new unsafe.Pointer) {}
	t.Cleanup(func() { doSwitch = origSwitchFn })

	ResetForTest()
	Init(z)
	return z
}

func TestAllocProcAssignsUniquePidsAndEmbryoState(t *testing.T) {
	harness(t, 1<<kconfig.MaxOrder)

	p1, err := AllocProc()
	if err != nil {
		t.Fatalf("AllocProc() #1 error = %v", err)
	}
	p2, err := AllocProc()
	if err != nil {
		t.Fatalf("AllocProc() #2 error = %v", err)
	}
	defer p1.Lock.Release()
	defer p2.Lock.Release()

	if p1.pid == p2.pid {
		t.Fatalf("AllocProc() returned duplicate pid %d", p1.pid)
	}
	if p1.State() != Embryo || p2.State() != Embryo {
		t.Fatalf("new slots should be Embryo, got %v and %v", p1.State(), p2.State())
	}
	if p1.pagetable == nil || p1.tf == nil {
		t.Fatal("AllocProc() should install a page table and trap frame")
	}
}

func TestAllocProcFailsWhenTableFull(t *testing.T) {
	harness(t, 1<<kconfig.MaxOrder)

	var allocated []*Proc
	for i := 0; i < kconfig.NPROC; i++ {
		p, err := AllocProc()
		if err != nil {
			t.Fatalf("AllocProc() #%d error = %v", i, err)
		}
		allocated = append(allocated, p)
	}
	if _, err := AllocProc(); err != ErrNoFreeSlot {
		t.Fatalf("AllocProc() past capacity error = %v, want ErrNoFreeSlot", err)
	}
	for _, p := range allocated {
		p.Lock.Release()
	}
}

func TestForkCopiesMemoryAndReturnsZeroToChild(t *testing.T) {
	harness(t, 1<<kconfig.MaxOrder)

	parent, err := AllocProc()
	if err != nil {
		t.Fatalf("AllocProc() error = %v", err)
	}
	parent.sz, err = vm.Uvmalloc(parent.pagetable, 0, kconfig.PageSize, zone)
	if err != nil {
		t.Fatalf("Uvmalloc() error = %v", err)
	}
	if err := vm.CopyOut(parent.pagetable, 0, []byte("parent data")); err != nil {
		t.Fatalf("CopyOut() error = %v", err)
	}
	parent.tf.Regs[trapframe.RegRet] = 0xdead
	parent.state = Running
	cpus[0].proc = parent
	parent.Lock.Release()

	childPid, err := Fork()
	if err != nil {
		t.Fatalf("Fork() error = %v", err)
	}

	var child *Proc
	for i := range table {
		if table[i].pid == childPid {
			child = &table[i]
		}
	}
	if child == nil {
		t.Fatal("Fork() child pid not found in process table")
	}
	if child.parent != parent {
		t.Fatal("Fork() child.parent should point at the forking process")
	}
	if child.State() != Runnable {
		t.Fatalf("Fork() child state = %v, want Runnable", child.State())
	}
	if child.tf.Regs[trapframe.RegRet] != 0 {
		t.Fatalf("Fork() child return register = %d, want 0", child.tf.Regs[trapframe.RegRet])
	}

	got := make([]byte, len("parent data"))
	if err := vm.CopyIn(child.pagetable, got, 0, zone); err != nil {
		t.Fatalf("CopyIn(child) error = %v", err)
	}
	if string(got) != "parent data" {
		t.Fatalf("Fork() child memory = %q, want %q", got, "parent data")
	}
}

func TestSleepReleasesLkBeforeSwitchAndReacquiresAfter(t *testing.T) {
	harness(t, 1<<kconfig.MaxOrder)

	p, err := AllocProc()
	if err != nil {
		t.Fatalf("AllocProc() error = %v", err)
	}
	p.state = Running
	cpus[0].proc = p
	p.Lock.Release()

	lk := newTestLock()
	var sawSleepingWithLkReleased bool
	origSwitch := doSwitch
	doSwitch = func(old, new unsafe.Pointer) {
		sawSleepingWithLkReleased = p.state == Sleeping && !lk.held && p.Lock.Held()
	}
	t.Cleanup(func() { doSwitch = origSwitch })

	lk.Acquire()
	Sleep("some-channel", lk)

	if !sawSleepingWithLkReleased {
		t.Fatal("expected p.Lock held, lk released, and state Sleeping at the moment of the switch")
	}
	if !lk.held {
		t.Fatal("Sleep should reacquire lk before returning")
	}
	if p.chanid != nil {
		t.Fatal("chanid should be cleared once woken")
	}
}

func TestWakeupOnlyWakesMatchingChannel(t *testing.T) {
	harness(t, 1<<kconfig.MaxOrder)

	self, err := AllocProc()
	if err != nil {
		t.Fatalf("AllocProc() error = %v", err)
	}
	self.state = Running
	cpus[0].proc = self
	self.Lock.Release()

	waiter, err := AllocProc()
	if err != nil {
		t.Fatalf("AllocProc() error = %v", err)
	}
	waiter.state = Sleeping
	waiter.chanid = "targetchan"
	waiter.Lock.Release()

	otherChan, err := AllocProc()
	if err != nil {
		t.Fatalf("AllocProc() error = %v", err)
	}
	otherChan.state = Sleeping
	otherChan.chanid = "otherchan"
	otherChan.Lock.Release()

	Wakeup("targetchan")

	if waiter.State() != Runnable {
		t.Fatalf("waiter on woken channel state = %v, want Runnable", waiter.State())
	}
	if otherChan.State() != Sleeping {
		t.Fatalf("process on unrelated channel state = %v, want Sleeping", otherChan.State())
	}
}

func TestKillWakesSleepingTarget(t *testing.T) {
	harness(t, 1<<kconfig.MaxOrder)

	self, err := AllocProc()
	if err != nil {
		t.Fatalf("AllocProc() error = %v", err)
	}
	self.state = Running
	cpus[0].proc = self
	self.Lock.Release()

	target, err := AllocProc()
	if err != nil {
		t.Fatalf("AllocProc() error = %v", err)
	}
	target.state = Sleeping
	target.chanid = "whatever"
	target.Lock.Release()

	if !Kill(target.pid) {
		t.Fatal("Kill() on a live pid should return true")
	}
	if !target.Killed() {
		t.Fatal("Kill() should mark the target killed")
	}
	if target.State() != Runnable {
		t.Fatalf("Kill() should wake a sleeping target, state = %v", target.State())
	}
	if Kill(999999) {
		t.Fatal("Kill() on a nonexistent pid should return false")
	}
}

func TestGrowprocExpandsAndShrinksSize(t *testing.T) {
	harness(t, 1<<kconfig.MaxOrder)

	p, err := AllocProc()
	if err != nil {
		t.Fatalf("AllocProc() error = %v", err)
	}
	p.state = Running
	cpus[0].proc = p
	p.Lock.Release()

	if err := Growproc(int64(2 * kconfig.PageSize)); err != nil {
		t.Fatalf("Growproc(+2 pages) error = %v", err)
	}
	if p.sz != 2*kconfig.PageSize {
		t.Fatalf("sz after growth = %d, want %d", p.sz, 2*kconfig.PageSize)
	}
	if err := Growproc(-int64(kconfig.PageSize)); err != nil {
		t.Fatalf("Growproc(-1 page) error = %v", err)
	}
	if p.sz != kconfig.PageSize {
		t.Fatalf("sz after shrink = %d, want %d", p.sz, kconfig.PageSize)
	}
}

// testLock is a minimal Releaser, standing in for *spinlock.Mutex/
// *sleeplock.Lock so Sleep's protocol can be exercised without recursing
// back into internal/spinlock's own CPU-state bookkeeping.
type testLock struct{ held bool }

func newTestLock() *testLock { return &testLock{} }

func (l *testLock) Acquire() { l.held = true }
func (l *testLock) Release() { l.held = false }
