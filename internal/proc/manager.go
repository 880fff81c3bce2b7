package proc

import (
	"sort"
	"sync"

	"ark/internal/condvar"
	"ark/internal/defs"
	"ark/internal/mem"
	"ark/internal/vfs"
)

// ProcessManager owns the global process table and the previous-
// scheduled-pid cursor the round-robin scheduler advances, directly
// grounded on original_source/src/process/process.rs's ProcessManager.
type ProcessManager struct {
	mu                  sync.Mutex
	table               map[int]*Process
	previousScheduled   int
	pm                  *mem.PhysMem
}

// NewManager creates an empty table over the given physical allocator.
func NewManager(pm *mem.PhysMem) *ProcessManager {
	return &ProcessManager{table: map[int]*Process{}, pm: pm}
}

// Spawn allocates a fresh process, prewires fd 0/1/2 to stdio, sets cwd,
// and inserts it into the table (§4.5's "Construction", plus init's own
// bootstrap path which has no parent to inherit from).
func (mgr *ProcessManager) Spawn(cwd *vfs.Dentry, stdio [3]vfs.File) (*Process, error) {
	p, err := New(mgr.pm)
	if err != nil {
		return nil, err
	}
	p.Lock()
	p.data.Cwd = cwd
	p.data.Files[0] = stdio[0]
	p.data.Files[1] = stdio[1]
	p.data.Files[2] = stdio[2]
	p.Unlock()

	mgr.mu.Lock()
	mgr.table[p.Pid.Int()] = p
	mgr.mu.Unlock()
	return p, nil
}

// Get looks up a process by pid.
func (mgr *ProcessManager) Get(pid int) (*Process, bool) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	p, ok := mgr.table[pid]
	return p, ok
}

// Scheduler picks the next Ready process with pid strictly greater than
// the previously scheduled one, wrapping around if none is found past
// that point — §4.5's Scheduler paragraph, a direct Go transliteration
// of the BTreeMap double-scan in the Rust source.
func (mgr *ProcessManager) Scheduler() *Process {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	pids := make([]int, 0, len(mgr.table))
	for pid := range mgr.table {
		pids = append(pids, pid)
	}
	sort.Ints(pids)

	pick := func(pred func(pid int) bool) *Process {
		for _, pid := range pids {
			if !pred(pid) {
				continue
			}
			p := mgr.table[pid]
			if p.GetStatus() == StatusReady {
				return p
			}
		}
		return nil
	}

	p := pick(func(pid int) bool { return pid > mgr.previousScheduled })
	if p == nil {
		p = pick(func(pid int) bool { return pid <= mgr.previousScheduled })
	}
	if p != nil {
		mgr.previousScheduled = p.Pid.Int()
	}
	return p
}

// Fork implements §4.5's fork: allocate a child, eagerly copy memory,
// inherit cwd and fd table, copy the parent's trap context with a0
// zeroed, link parent/child, and mark the child Ready. childStack is
// accepted to match the syscall ABI but ignored (§4.5: threads are not
// supported; only SIGCHLD-flag clone is).
func (mgr *ProcessManager) Fork(parent *Process, childStack uint64) (*Process, defs.Err_t) {
	child, err := New(mgr.pm)
	if err != nil {
		return nil, defs.ENOMEM
	}

	parent.Lock()
	if !child.data.Memory.CopyFrom(parent.data.Memory, true) {
		parent.Unlock()
		return nil, defs.ENOMEM
	}
	child.data.Cwd = parent.data.Cwd
	child.data.Files = parent.data.Files
	*child.data.Trap = *parent.data.Trap
	child.data.Trap.SetA0(0)
	child.data.Status = StatusReady
	parent.data.Children = append(parent.data.Children, child)
	parent.Unlock()

	child.SetParent(parent)

	mgr.mu.Lock()
	mgr.table[child.Pid.Int()] = child
	mgr.mu.Unlock()
	return child, 0
}

// Exit implements §4.5's exit: mark Zombie, store the exit code, reset
// memory (frees user frames, keeps a minimal page table), reparent
// live children to init (pid 1), and wake wait4 waiters. The process
// stays in the table until a wait4 reaps it.
func (mgr *ProcessManager) Exit(p *Process, code int) {
	p.Lock()
	p.data.Status = StatusZombie
	p.data.ExitCode = code
	p.data.Memory.Reset()

	children := p.data.Children
	p.data.Children = nil
	cv := p.data.ExitCV
	p.Unlock()

	if initProc, ok := mgr.Get(1); ok && initProc != p {
		for _, c := range children {
			c.SetParent(initProc)
			initProc.Lock()
			initProc.data.Children = append(initProc.data.Children, c)
			initProc.Unlock()
		}
	}

	cv.Wakeup(func(waiter *Process) {
		waiter.Lock()
		if waiter.data.Status == StatusSuspend {
			waiter.data.Status = StatusReady
		}
		waiter.Unlock()
	})
}

// Wait4 implements §4.5's wait4: ECHILD if the parent has no surviving
// children; otherwise find a Zombie child matching pid (or pid == -1),
// store its exit code, remove it from the table (dropping the last
// strong reference), release its pid, and return it. With no match and
// WNOHANG it returns (0, 0, 0); otherwise it calls suspend with the
// matching child's exit condvar (for pid==-1, the first child in the
// parent's list; an exit of any other child does not wake it) and
// retries, keeping the blocking policy in the scheduler rather than
// inside the process table lock.
func (mgr *ProcessManager) Wait4(parent *Process, pid int, nohang bool, suspend func(cv *condvar.Condvar[Process])) (reapedPid int, exitCode int, errno defs.Err_t) {
	for {
		parent.Lock()
		children := parent.data.Children
		if len(children) == 0 {
			parent.Unlock()
			return 0, 0, defs.ECHILD
		}

		var target *Process
		remaining := children[:0:0]
		for _, c := range children {
			if c.GetStatus() == StatusZombie && (pid == -1 || c.Pid.Int() == pid) && target == nil {
				target = c
				continue
			}
			remaining = append(remaining, c)
		}
		if target != nil {
			parent.data.Children = remaining
		}
		parent.Unlock()

		if target != nil {
			target.Lock()
			exitCode = target.data.ExitCode
			stack := target.data.KernelStack
			memory := target.data.Memory
			target.Unlock()

			// A zombie's Arc would drop its kernel stack and the
			// minimal page table Exit() left installed at
			// last-reference-drop; Go has no destructor, so free
			// both explicitly here, at the reap site, instead of
			// leaking them in mem.PhysMem's bookkeeping forever.
			stack.Free()
			memory.Teardown()

			mgr.mu.Lock()
			delete(mgr.table, target.Pid.Int())
			mgr.mu.Unlock()
			reapedPid = target.Pid.Int()
			target.Pid.Release()
			return reapedPid, exitCode, 0
		}

		if nohang {
			return 0, 0, 0
		}

		found := pid == -1
		var waitOn *Process
		for _, c := range children {
			if pid == -1 || c.Pid.Int() == pid {
				found = true
				waitOn = c
				break
			}
		}
		if !found {
			return 0, 0, defs.ECHILD
		}
		suspend(waitOn.data.ExitCV)
	}
}
