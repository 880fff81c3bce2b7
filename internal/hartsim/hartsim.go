// Package hartsim is the substrate §15 of SPEC_FULL.md introduces: the
// register-state and context-switch primitives that stand in for real
// RV64 hardware and hand-written assembly trap/switch stubs, which Go
// cannot express portably. TrapContext mirrors the struct biscuit's
// assembly trap stubs save into at the base of a process's kernel
// stack (§3); ContextSwitch mirrors biscuit's context_switch and
// original_source's switch.S, reimplemented as a goroutine handoff —
// the idiomatic Go translation of an inherently-assembly primitive
// (see DESIGN.md).
package hartsim

// RISC-V general-purpose register indexes, standard RV64 ABI names.
const (
	RegRA = 1
	RegSP = 2
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12
	RegA3 = 13
	RegA4 = 14
	RegA5 = 15
	RegA6 = 16
	RegA7 = 17
)

// TrapContext lives at the base of a process's kernel stack and is
// touched by both the trap entry/exit stubs and syscall handlers (§3).
type TrapContext struct {
	Reg      [32]uint64
	Satp     uint64
	Sepc     uint64
	Sstatus  uint64
	KernelSp uint64
}

// A0..A7 expose the syscall argument/return registers by name.
func (t *TrapContext) A0() uint64   { return t.Reg[RegA0] }
func (t *TrapContext) A1() uint64   { return t.Reg[RegA1] }
func (t *TrapContext) A2() uint64   { return t.Reg[RegA2] }
func (t *TrapContext) A3() uint64   { return t.Reg[RegA3] }
func (t *TrapContext) A4() uint64   { return t.Reg[RegA4] }
func (t *TrapContext) A5() uint64   { return t.Reg[RegA5] }
func (t *TrapContext) A6() uint64   { return t.Reg[RegA6] }
func (t *TrapContext) A7() uint64   { return t.Reg[RegA7] }
func (t *TrapContext) SetA0(v uint64) { t.Reg[RegA0] = v }

// TaskContext is the saved kernel-side execution state used to switch
// between a process's kernel task and a hart's idle loop (§3). Unlike
// biscuit's TaskContext (callee-saved registers + ra + sp, restored by
// hand-written assembly), this one carries a handoff channel: the
// actual "registers" are the Go goroutine stack itself, which the Go
// runtime already parks and resumes correctly. The channel is what
// context_switch becomes once the registers it would save/restore are
// off the table.
type TaskContext struct {
	resume chan struct{}
}

// NewTaskContext allocates a context in the suspended state, analogous
// to a freshly-initialised TaskContext{ra: entry, sp: top-of-stack}.
func NewTaskContext() *TaskContext {
	return &TaskContext{resume: make(chan struct{})}
}

// Spawn starts fn on a new goroutine that blocks until the first
// ContextSwitch targets tc, mirroring a process's first switch-in
// jumping to trap_return_u rather than running immediately.
func Spawn(tc *TaskContext, fn func()) {
	go func() {
		<-tc.resume
		fn()
	}()
}

// ContextSwitch hands control from old to new and blocks the caller
// until a future ContextSwitch hands control back to old. Callers must
// not hold any lock across the call (§9: "callers must not hold any
// lock; they must have already moved the about-to-suspend process to a
// non-Running state") — exactly the discipline biscuit's assembly
// switch demands of its callers, preserved here because a blocking
// channel send/receive while holding a mutex is as deadlock-prone as
// its assembly equivalent.
func ContextSwitch(old, new *TaskContext) {
	new.resume <- struct{}{}
	<-old.resume
}
