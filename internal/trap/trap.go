// Package trap is the kernel's trap-plane dispatcher (§4.4 of
// SPEC_FULL.md): it classifies why a hart trapped into the kernel and
// routes to the matching handler — timer tick, syscall (internal/syscall.Dispatch),
// a recoverable stack-growth page fault, or a fatal condition.
//
// Grounded on original_source's trap-handling shape (one cause enum
// dispatched from a single entry point) and on spec.md §9.2's open
// question, resolved here per SPEC_FULL.md §14: an unresolved page
// fault kills the offending process instead of resetting the whole
// machine, the same "Containable" class spec.md §7 describes for a bad
// user pointer.
package trap

import (
	"ark/internal/addr"
	"ark/internal/elfload"
	"ark/internal/hartsim"
	"ark/internal/klog"
	"ark/internal/kpanic"
	"ark/internal/proc"
	"ark/internal/sbi"
	"ark/internal/sched"
	"ark/internal/syscall"
)

// Cause classifies why the trap plane was entered. The hosted
// simulation layer (§15) has no scause CSR to read, so whatever drives
// a hart (cmd/arksim's real loop, or a test) supplies it directly.
type Cause int

const (
	CauseUserEnvCall Cause = iota
	CauseTimerIRQ
	CauseStorePageFault
	CauseLoadPageFault
	CauseBreakpoint
	CauseIllegalInstruction
	CauseSupervisorExternal
)

// SIGSEGV is the signal number whose negation spec.md §7's "kill the
// process" path records as the exit code; wait4 writes that exit code's
// low byte through wstatus, as for any other exit.
const SIGSEGV = 11

// Dispatch routes one trap to its handler. stval carries the faulting
// virtual address for a page fault and the raw instruction word for an
// illegal instruction, mirroring the RISC-V stval CSR's dual use.
// reset is only invoked for a genuinely fatal condition this kernel has
// no recovery path for (none currently reachable from user code, kept
// for trap causes future hardware-fault injection might add).
func Dispatch(k *syscall.Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext, cause Cause, stval uint64, reset sbi.Reset, hartID int) {
	switch cause {
	case CauseUserEnvCall:
		k.Dispatch(h, p, trap)

	case CauseTimerIRQ:
		h.Yield(p)

	case CauseStorePageFault, CauseLoadPageFault:
		p.Lock()
		resolved := p.Data().Memory.AllocStackIfPossible(addr.VirtAddr(stval))
		p.Unlock()
		if resolved {
			return
		}
		klog.Warn("unresolved page fault in pid %d at 0x%x", p.Pid.Int(), stval)
		killFaulted(k, h, p)

	case CauseBreakpoint:
		// Breakpoints reach the kernel only via the ark_breakpoint
		// syscall (§13.1), never as a hardware EBREAK trap in this
		// kernel; nothing to do here but resume.
		h.Yield(p)

	case CauseIllegalInstruction:
		klog.Warn("illegal instruction in pid %d at sepc 0x%x: %s", p.Pid.Int(), trap.Sepc, elfload.DisassembleFaultingWord(uint32(stval)))
		killFaulted(k, h, p)

	case CauseSupervisorExternal:
		// Claim, dispatch, and complete the oldest pending IRQ the
		// PLIC is holding, then resume the interrupted
		// process exactly as a timer tick does.
		if k.PLIC != nil {
			k.PLIC.Dispatch()
		}
		h.Yield(p)

	default:
		kpanic.Halt(reset, hartID, "unhandled trap cause %d", cause)
	}
}

// killFaulted implements the §14 redesign: terminate the process with
// SIGSEGV-equivalent exit status and resume the scheduler loop, letting
// the parent reap it normally through wait4, instead of the original's
// machine reset.
func killFaulted(k *syscall.Kernel, h *sched.Hart, p *proc.Process) {
	k.Mgr.Exit(p, -SIGSEGV)
	// SwitchOut, not Yield: the process is Zombie now, and Yield would
	// reset it to Ready.
	h.SwitchOut(p)
}
