// Package proc is the process table, per-CPU scheduler, and context
// switch: L4 in the layering table. It multiplexes a fixed pool of
// processes across the board's cores, each core running this package's
// own scheduling loop rather than riding on any host scheduler — there is
// none once the kernel is running.
package proc

import (
	"github.com/yzlqp/OS/internal/arch"
	"github.com/yzlqp/OS/internal/asm"
	"github.com/yzlqp/OS/internal/kconfig"
	"github.com/yzlqp/OS/internal/pmm"
	"github.com/yzlqp/OS/internal/spinlock"
	"github.com/yzlqp/OS/internal/trapframe"
	"github.com/yzlqp/OS/internal/vm"
)

// State is one of the six process lifecycle states from spec §3.
type State int

const (
	Unused State = iota
	Embryo
	Sleeping
	Runnable
	Running
	Zombie
)

func (s State) String() string {
	switch s {
	case Unused:
		return "UNUSED"
	case Embryo:
		return "EMBRYO"
	case Sleeping:
		return "SLEEPING"
	case Runnable:
		return "RUNNABLE"
	case Running:
		return "RUNNING"
	case Zombie:
		return "ZOMBIE"
	default:
		return "?"
	}
}

// Proc is one process-table slot. Fields guarded by Lock may be mutated
// only by its holder, per spec §3's invariant (i); the scheduler alone
// drives state into Running, per invariant (ii).
type Proc struct {
	Lock *spinlock.Mutex

	state   State
	chanid  any // wait-channel identity; non-nil iff Sleeping
	killed  bool
	xstate  int
	pid     int
	parent  *Proc

	kstackVA    uint64
	sz          uint64
	pagetable   *[512]vm.PTE
	pagetablePA uint64
	tf          *trapframe.TrapFrame
	context     trapframe.Context

	// Ofile and Cwd are opaque to this package — internal/file and
	// internal/fs own the concrete types (an open-file handle, an inode)
	// and type-assert them back out. Keeping them here as `any` is what
	// lets proc sit below file/fs in the layering without importing them.
	Ofile [kconfig.NOFILE]any
	Cwd   any

	name [16]byte
}

// Pid, Name, Killed, State, Parent, Sz, Trapframe, Pagetable are narrow
// read accessors for callers (internal/syscall, internal/file) that only
// need one field and already hold (or don't need) Lock.
func (p *Proc) Pid() int                      { return p.pid }
func (p *Proc) Name() string                  { return cstr(p.name[:]) }
func (p *Proc) Killed() bool                  { return p.killed }
func (p *Proc) State() State                  { return p.state }
func (p *Proc) Parent() *Proc                 { return p.parent }
func (p *Proc) Sz() uint64                    { return p.sz }
func (p *Proc) Trapframe() *trapframe.TrapFrame { return p.tf }
func (p *Proc) Pagetable() *[512]vm.PTE       { return p.pagetable }
func (p *Proc) PagetablePA() uint64           { return p.pagetablePA }

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// SetKilled marks p for death; the actual exit happens when p next
// returns from a syscall or sleep and observes Killed().
func (p *Proc) SetKilled() { p.killed = true }

// CPU is one core's scheduling record: its own copy of the nested
// interrupt-mask depth stack, the scheduler coroutine's saved context,
// and whichever process (if any) it is currently running.
type CPU struct {
	spinlock.CPUState
	id      int
	proc    *Proc
	context trapframe.Context
}

func (c *CPU) ID() int                      { return c.id }
func (c *CPU) State() *spinlock.CPUState    { return &c.CPUState }
func (c *CPU) Proc() *Proc                  { return c.proc }

var (
	table [kconfig.NPROC]Proc
	cpus  [kconfig.NCPU]CPU

	pidLock = spinlock.New("nextpid")
	nextPid = 1

	// WaitLock orders "set state to ZOMBIE and wake parent" atomically
	// with respect to Wait, per spec §4.4.
	WaitLock = spinlock.New("wait")

	zone *pmm.Zone

	// forkRet is called exactly once, the first time any process in the
	// system is scheduled; it is where fsinit(ROOTDEV) happens, per spec
	// §4.4. cmd/kernel installs the real hook at boot.
	forkRet     func()
	forkRetOnce bool
)

func init() {
	for i := range table {
		table[i].Lock = spinlock.New("proc")
		table[i].state = Unused
	}
	for i := range cpus {
		cpus[i].id = i
	}
	spinlock.SetCurrentCPU(func() spinlock.CPU { return MyCPU() })
}

// Init wires the physical allocator every process's address space is
// built from. cmd/kernel calls this once, after internal/pmm's zone is
// constructed from the boot memory map.
func Init(z *pmm.Zone) { zone = z }

// SetForkRet installs the function that runs once, the first time any
// process is scheduled, before falling through to the user-mode return
// path.
func SetForkRet(f func()) { forkRet = f }

// SetRunningForTest pins p as the process currently running on the given
// core. Higher layers built on MyProc()/Sleep/Wakeup (internal/sleeplock,
// and in turn internal/bio/internal/fs) need to declare "this is the
// running process" in their own tests without driving a real Scheduler
// loop; exported for exactly that, the same way internal/spinlock exports
// SetCurrentCPU for its own test seam.
func SetRunningForTest(cpuID int, p *Proc) { cpus[cpuID].proc = p }

// ResetForTest clears the process table and per-CPU records back to their
// zero state, so independent tests in the same binary (or in a package
// built on top of this one) don't see leftover processes from an earlier
// test.
func ResetForTest() {
	for i := range table {
		table[i] = Proc{Lock: table[i].Lock, state: Unused}
	}
	for i := range cpus {
		cpus[i] = CPU{id: i}
	}
}

// MyCPU returns this core's CPU record. Must be called with interrupts
// disabled (see internal/arch.CPUID's documented hazard); callers that
// are not already inside a push_off'd region should wrap the call.
var MyCPU = func() *CPU {
	return &cpus[arch.CPUID()]
}

// MyProc returns the process currently running on this core, or nil.
func MyProc() *Proc {
	c := MyCPU()
	c.State().PushOff()
	p := c.proc
	c.State().PopOff()
	return p
}

// AllocPid returns a fresh, monotonically increasing pid.
func AllocPid() int {
	pidLock.Acquire()
	defer pidLock.Release()
	pid := nextPid
	nextPid++
	return pid
}

// ErrNoFreeSlot is returned by AllocProc when the process table is full,
// surfacing spec §7's NPROC+1-th fork failure.
var ErrNoFreeSlot = klogErr("proc: no free process slot")

func klogErr(msg string) error { return stringError(msg) }

type stringError string

func (e stringError) Error() string { return string(e) }

// AllocProc implements spec §4.4's allocproc: find an UNUSED slot, lock
// it, assign a pid, allocate a kernel stack and a fresh user page table,
// and set up the initial context so the first switch resumes into
// forkret.
func AllocProc() (*Proc, error) {
	for i := range table {
		p := &table[i]
		p.Lock.Acquire()
		if p.state != Unused {
			p.Lock.Release()
			continue
		}

		p.pid = AllocPid()
		p.state = Embryo

		root, rootPA, err := vm.Uvmcreate(zone)
		if err != nil {
			p.freeLocked()
			p.Lock.Release()
			return nil, err
		}
		p.pagetable = root
		p.pagetablePA = rootPA

		kstackOrder := 0
		for 1<<kstackOrder < kconfig.KStackPages {
			kstackOrder++
		}
		kstackPFN, err := zone.AllocPages(kstackOrder)
		if err != nil {
			p.freeLocked()
			p.Lock.Release()
			return nil, err
		}
		kstackPA := uint64(kstackPFN) * kconfig.PageSize
		// KStackPages pages reserved per spec §2/original param.h; this
		// design maps the kernel stack as an identity-mapped kernel page
		// rather than a user mapping, so only the physical address
		// matters here.
		p.kstackVA = kconfig.PA2VA(kstackPA)
		// The real target's trap entry assembly places the trap frame at
		// a fixed offset from the top of the kernel stack; that offset
		// arithmetic belongs to internal/asm, out of scope here. This
		// design instead gives each process its own heap-allocated
		// TrapFrame and treats "top of kstack" as a logical, not
		// physical, placement — an explicit adaptation, not an oversight.
		p.tf = new(trapframe.TrapFrame)

		p.context = trapframe.Context{}
		p.context.SPEL1 = p.kstackVA + kconfig.KStackPages*kconfig.PageSize
		// The real target arranges for the first Swtch into this context
		// to return into asm.ForkRetTrampoline, which calls back into
		// runForkRet below before falling through to the trap-frame
		// return path.
		p.context.X30 = uint64(forkRetTrampolineAddr())

		return p, nil
	}
	return nil, ErrNoFreeSlot
}

func forkRetTrampolineAddr() uintptr {
	return asmFuncAddr(asm.ForkRetTrampoline)
}

// asmFuncAddr exists only to document the intent at the call site above;
// the actual address of an assembly trampoline is a link-time constant
// the real target's boot code reads directly. Kept as a named seam so
// tests never need to take the address of an asm-backed function.
var asmFuncAddr = func(f func()) uintptr { return 0 }

// freeLocked releases whatever partial state AllocProc built up on a
// failure path, and resets the slot to Unused. Caller holds p.Lock.
func (p *Proc) freeLocked() {
	if p.pagetable != nil {
		vm.Uvmfree(p.pagetable, p.pagetablePA, p.sz, zone)
	}
	*p = Proc{Lock: p.Lock, state: Unused}
}

// RunForkRet is called by the assembly trampoline the first time any
// process is scheduled system-wide; it releases the process lock (held
// since scheduler() switched into it) and invokes the one-time forkRet
// hook before returning to the user-mode return path.
func RunForkRet(p *Proc) {
	if !forkRetOnce {
		forkRetOnce = true
		if forkRet != nil {
			forkRet()
		}
	}
	p.Lock.Release()
}

