package trap

import (
	"testing"

	"ark/internal/addr"
	"ark/internal/hartsim"
	"ark/internal/mem"
	"ark/internal/plic"
	"ark/internal/proc"
	"ark/internal/sbi"
	"ark/internal/sched"
	"ark/internal/syscall"
	"ark/internal/vfs"
)

func newTestKernel(t *testing.T) (*syscall.Kernel, *sched.Hart, *proc.ProcessManager) {
	t.Helper()
	pm := mem.NewPhysMem(addr.PhyPageId(0), 16384)
	mgr := proc.NewManager(pm)
	hart := sched.NewHart(0, mgr)
	k := &syscall.Kernel{Mgr: mgr, Ticks: func() uint64 { return 0 }}
	return k, hart, mgr
}

func spawnTestProcess(t *testing.T, mgr *proc.ProcessManager) *proc.Process {
	t.Helper()
	p, err := mgr.Spawn(nil, [3]vfs.File{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	return p
}

// runToZombie launches p's kernel task body on hart and pumps the
// scheduler loop until p becomes a zombie, mirroring cmd/arksim's own
// runProcess/Run pairing so Dispatch paths that call h.Yield (a real
// goroutine context switch) have somewhere to switch back to.
func runToZombie(hart *sched.Hart, p *proc.Process, body func(h *sched.Hart, p *proc.Process)) {
	hart.Launch(p, body)
	hart.Run(func() bool {
		return p.GetStatus() != proc.StatusZombie
	})
}

func TestDispatchSyscallWritesA0(t *testing.T) {
	k, hart, mgr := newTestKernel(t)
	p := spawnTestProcess(t, mgr)

	p.Lock()
	p.Data().Trap.Reg[hartsim.RegA7] = uint64(syscall.SYS_GETPID)
	tr := p.Data().Trap
	p.Unlock()

	Dispatch(k, hart, p, tr, CauseUserEnvCall, 0, sbi.NewFake(), 0)

	if tr.A0() != uint64(p.Pid.Int()) {
		t.Fatalf("a0 = %d, want pid %d", tr.A0(), p.Pid.Int())
	}
}

func TestDispatchUnresolvedPageFaultKillsProcess(t *testing.T) {
	k, hart, mgr := newTestKernel(t)
	p := spawnTestProcess(t, mgr)

	runToZombie(hart, p, func(h *sched.Hart, p *proc.Process) {
		p.Lock()
		tr := p.Data().Trap
		p.Unlock()
		// An address nowhere near the stack-growth window, so
		// AllocStackIfPossible refuses it and the fault is fatal.
		Dispatch(k, h, p, tr, CauseStorePageFault, 0xdeadbeef, sbi.NewFake(), 0)
	})

	if p.GetStatus() != proc.StatusZombie {
		t.Fatalf("status = %v, want zombie", p.GetStatus())
	}
	p.Lock()
	code := p.Data().ExitCode
	p.Unlock()
	if code != -SIGSEGV {
		t.Fatalf("exit code = %d, want %d", code, -SIGSEGV)
	}
}

func TestDispatchIllegalInstructionKillsProcess(t *testing.T) {
	k, hart, mgr := newTestKernel(t)
	p := spawnTestProcess(t, mgr)

	runToZombie(hart, p, func(h *sched.Hart, p *proc.Process) {
		p.Lock()
		tr := p.Data().Trap
		p.Unlock()
		Dispatch(k, h, p, tr, CauseIllegalInstruction, 0xffffffff, sbi.NewFake(), 0)
	})

	if p.GetStatus() != proc.StatusZombie {
		t.Fatalf("status = %v, want zombie", p.GetStatus())
	}
}

func TestDispatchTimerIRQYields(t *testing.T) {
	k, hart, mgr := newTestKernel(t)
	p := spawnTestProcess(t, mgr)

	ran := false
	hart.Launch(p, func(h *sched.Hart, p *proc.Process) {
		p.Lock()
		tr := p.Data().Trap
		p.Unlock()
		Dispatch(k, h, p, tr, CauseTimerIRQ, 0, sbi.NewFake(), 0)
		ran = true
		mgr.Exit(p, 0)
		h.SwitchOut(p)
	})
	hart.Run(func() bool {
		return p.GetStatus() != proc.StatusZombie
	})

	if !ran {
		t.Fatal("expected the timer-IRQ body to resume after yielding")
	}
}

func TestDispatchSupervisorExternalClaimsAndResumes(t *testing.T) {
	k, hart, mgr := newTestKernel(t)
	p := spawnTestProcess(t, mgr)

	handled := false
	k.PLIC = plic.New()
	k.PLIC.EnableIRQ(1, func(uint32) { handled = true })
	k.PLIC.Raise(1)

	ran := false
	hart.Launch(p, func(h *sched.Hart, p *proc.Process) {
		p.Lock()
		tr := p.Data().Trap
		p.Unlock()
		Dispatch(k, h, p, tr, CauseSupervisorExternal, 0, sbi.NewFake(), 0)
		ran = true
		mgr.Exit(p, 0)
		h.SwitchOut(p)
	})
	hart.Run(func() bool {
		return p.GetStatus() != proc.StatusZombie
	})

	if !handled {
		t.Fatal("expected the pending IRQ's handler to run")
	}
	if !ran {
		t.Fatal("expected the process to resume after the external-interrupt trap")
	}
}
