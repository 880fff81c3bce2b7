// Package proc implements process construction, fork/execve/exit/wait4,
// and the per-hart cooperative scheduler (§4.5). Grounded on
// original_source/src/process/process.rs and src/process/pid.rs, and on
// biscuit's habit (src/proc, src/vm) of keeping one lock per process
// plus one coarser lock over the whole table.
package proc

import (
	"sync"
	"weak"

	"ark/internal/addr"
	"ark/internal/condvar"
	"ark/internal/cpuid"
	"ark/internal/defs"
	"ark/internal/hartsim"
	"ark/internal/mem"
	"ark/internal/pagetable"
	"ark/internal/vfs"
	"ark/internal/vmm"
)

// KernelStackPages is the per-process kernel stack size, N≈512 pages
// per §4.5's construction step.
const KernelStackPages = 512

// NumFiles bounds the per-process fd table; Spawn prewires fds 0/1/2 to
// stdin/stdout/stderr.
const NumFiles = 64

// Status is a process's scheduling state (§3).
type Status int

const (
	StatusReady Status = iota
	StatusRunning
	StatusSuspend
	StatusZombie
)

// Process is the kernel's per-process object: an immutable Pid plus a
// single mutex-guarded ProcessData, mirroring the Rust source's
// Process { pid, data: Mutex<ProcessData> } shape directly.
type Process struct {
	Pid *Pid

	mu   sync.Mutex
	data ProcessData
}

// ProcessData is everything about a process that can change, always
// accessed with Process.mu held.
type ProcessData struct {
	Status Status

	Parent   weak.Pointer[Process]
	Children []*Process

	KernelStack  *mem.PhysPage
	Trap         *hartsim.TrapContext
	TaskContext  *hartsim.TaskContext

	Memory *vmm.ProcessMemory

	Cwd   *vfs.Dentry
	Files [NumFiles]vfs.File

	ExitCode int
	ExitCV   *condvar.Condvar[Process]
}

// kernelWindowVA/PA/Size mirror the fixed kernel huge mapping every
// process's page table installs (§4.1/§4.3): the whole kernel physical
// image is mapped 1:1 so kernel code running on a process's kernel
// stack can address kernel data without switching satp.
const (
	kernelWindowVA addr.VirtAddr  = 0x80000000
	kernelWindowPA addr.PhyPageId = 0x80000000 / addr.PGSIZE
)

var kernelWindowFlags = pagetable.PTE_R | pagetable.PTE_W | pagetable.PTE_X

// Vendor is the hart vendor class detected once at boot (cpuid.Generic
// until DetectVendor runs); every page table subsequently created
// inherits it, matching §4.2's vendor-quirk gating.
var Vendor = cpuid.Generic

// New constructs a fresh Ready process: allocates a pid, a contiguous
// kernel stack, a fresh address space with the kernel huge mapping
// installed, and an initial trap/task context — §4.5's "Construction"
// paragraph verbatim.
func New(pm *mem.PhysMem) (*Process, error) {
	stack, ok := mem.AllocMany(pm, KernelStackPages)
	if !ok {
		return nil, defs.ENOMEM
	}
	pt, ok := pagetable.New(pm, Vendor)
	if !ok {
		stack.Free()
		return nil, defs.ENOMEM
	}
	memory := vmm.New(pm, pt, kernelWindowVA, kernelWindowPA, kernelWindowFlags)

	trap := &hartsim.TrapContext{
		KernelSp: kernelStackTop(stack),
		Satp:     pt.ToSatp(),
	}
	tc := hartsim.NewTaskContext()

	p := &Process{Pid: newPid()}
	p.data = ProcessData{
		Status:      StatusReady,
		KernelStack: stack,
		Trap:        trap,
		TaskContext: tc,
		Memory:      memory,
		ExitCV:      condvar.New[Process](),
	}
	return p, nil
}

// Lock/Unlock expose the process's single lock to callers that need to
// read or mutate ProcessData directly (scheduler, syscall dispatch);
// Data must only be dereferenced while held.
func (p *Process) Lock()   { p.mu.Lock() }
func (p *Process) Unlock() { p.mu.Unlock() }

// Data returns a pointer to the guarded data; callers must hold the
// process lock.
func (p *Process) Data() *ProcessData { return &p.data }

// SetParent records parent as a weak reference (§3's Option<Weak<Process>>).
func (p *Process) SetParent(parent *Process) {
	p.mu.Lock()
	p.data.Parent = weak.Make(parent)
	p.mu.Unlock()
}

// GetStatus reads the current status under the process lock.
func (p *Process) GetStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.Status
}

// SetStatus writes the current status under the process lock.
func (p *Process) SetStatus(s Status) {
	p.mu.Lock()
	p.data.Status = s
	p.mu.Unlock()
}

// kernelStackTop computes the address just past a process's kernel
// stack allocation, used as the initial trap context's kernel_sp
// (§4.5: "kernel_sp = top of kernel stack").
func kernelStackTop(stack *mem.PhysPage) uint64 {
	return uint64(stack.Addr().ToPhyAddr()) + uint64(KernelStackPages)*addr.PGSIZE
}
