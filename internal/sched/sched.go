// Package sched implements the per-hart cooperative scheduler loop
// (§4.5 Scheduler, §5's "exactly one user process and the scheduler's
// idle context" model). Grounded on original_source/src/process/
// process.rs's ProcessManager.scheduler() scan (reused directly via
// proc.ProcessManager.Scheduler) and on internal/hartsim's goroutine
// substrate for the actual switch.
package sched

import (
	"ark/internal/hartsim"
	"ark/internal/proc"
)

// Hart runs one hart's independent scheduler loop (§5: "no cross-hart
// migration"). Each hart owns one idle TaskContext that the scheduler
// switches out to between user processes.
type Hart struct {
	ID      int
	idle    *hartsim.TaskContext
	mgr     *proc.ProcessManager
	running *proc.Process
}

// NewHart creates a hart-local scheduler bound to the shared process
// table.
func NewHart(id int, mgr *proc.ProcessManager) *Hart {
	return &Hart{ID: id, idle: hartsim.NewTaskContext(), mgr: mgr}
}

// Launch starts p's kernel task on a goroutine that will block until
// this hart's first context switch targets it (mirroring "the first
// time [it resumes], into trap_return_u"). body is the process's
// kernel-side execution function (syscall/trap dispatch in the real
// kernel; in tests, a fake user program); it must call Yield
// (or, on exit, ProcessManager.Exit followed by SwitchOut) before
// returning control to the scheduler.
func (h *Hart) Launch(p *proc.Process, body func(h *Hart, p *proc.Process)) {
	hartsim.Spawn(p.Data().TaskContext, func() { body(h, p) })
}

// Yield implements §4.5's yield: mark the current process Ready (it
// remains Running only until this call returns control to the
// scheduler) and switch back to the idle context. Called from within
// a process's kernel task body.
func (h *Hart) Yield(p *proc.Process) {
	p.SetStatus(proc.StatusReady)
	hartsim.ContextSwitch(p.Data().TaskContext, h.idle)
}

// Suspend implements the generic suspend-and-switch-out step every
// blocking syscall uses (§5 "Suspension points"): the caller has
// already enqueued itself on some condvar under that condvar's lock,
// and markSuspend (invoked by Condvar.Wait while that lock is held)
// is exactly "set status Suspend" here, closing the lost-wakeup window
// per §14's resolution.
func (h *Hart) Suspend(p *proc.Process) func() {
	return func() {
		p.SetStatus(proc.StatusSuspend)
	}
}

// SwitchOut performs the actual context switch half of a suspend,
// called immediately after the condvar enqueue completes (i.e. outside
// the condvar's lock, since §9/§5 require no lock held across
// context_switch).
func (h *Hart) SwitchOut(p *proc.Process) {
	hartsim.ContextSwitch(p.Data().TaskContext, h.idle)
}

// Run is this hart's scheduler loop: pick the next Ready process,
// mark it Running, switch into it, and repeat once it switches back
// out. tick is invoked once per empty iteration (no Ready process
// found) so callers can model the per-hart idle/wait-for-interrupt
// behaviour (§4.5's "idle via wait-for-interrupt equivalent");
// returning false from tick stops the loop.
func (h *Hart) Run(tick func() bool) {
	for {
		next := h.mgr.Scheduler()
		if next == nil {
			if tick == nil || !tick() {
				return
			}
			continue
		}
		next.SetStatus(proc.StatusRunning)
		h.running = next
		hartsim.ContextSwitch(h.idle, next.Data().TaskContext)
		h.running = nil
	}
}

// Running returns the process currently switched into on this hart,
// or nil between processes — used by trap/syscall dispatch to find
// "the current process" without a thread-local.
func (h *Hart) Running() *proc.Process { return h.running }
