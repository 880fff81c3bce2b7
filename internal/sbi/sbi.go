// Package sbi is the narrow console/timer/reset interface seam real
// RV64 hardware would expose through SBI ecalls (§1, §15 of
// SPEC_FULL.md). It mirrors the interface-seam style biscuit itself
// uses throughout for hardware boundaries (mem.Page_i, fs.Blockmem_i,
// fs.Disk_i): a small interface satisfied either by internal/hostio
// (real host file descriptors, for cmd/arksim) or by the in-memory Fake
// below (for _test.go files and internal/trap's own tests).
package sbi

import "io"

// Console is the byte-relay SBI console (§15): a Go analogue of
// sbi_console_putchar/getchar, not a terminal emulator (this kernel's
// console has no escape-sequence processing — see DESIGN.md on why
// the charm ansi/vt stack is not wired here).
type Console interface {
	io.Reader
	io.Writer
}

// Timer reports a monotonically increasing tick count, standing in for
// the mtime CSR / SBI timer extension the scheduler's preemption tick
// and nanosleep/gettimeofday read from.
type Timer interface {
	Ticks() uint64
}

// Reset is the SBI system-reset extension's shutdown call, the kernel's
// only way to halt (§13.4's panic handler, and a clean poweroff).
type Reset interface {
	Shutdown()
}

// Fake is an in-memory Console+Timer+Reset for tests and the unhosted
// simulation path: console I/O goes through in-process buffers, ticks
// advance only when Advance is called (deterministic for tests), and
// Shutdown just records that it was called instead of exiting.
type Fake struct {
	In  []byte // bytes Read drains
	Out []byte // bytes Write appends to

	ticks      uint64
	ShutdownCt int
}

func NewFake() *Fake { return &Fake{} }

func (f *Fake) Read(p []byte) (int, error) {
	if len(f.In) == 0 {
		return 0, io.EOF
	}
	n := copy(p, f.In)
	f.In = f.In[n:]
	return n, nil
}

func (f *Fake) Write(p []byte) (int, error) {
	f.Out = append(f.Out, p...)
	return len(p), nil
}

func (f *Fake) Ticks() uint64 { return f.ticks }

// Advance moves the fake clock forward by n ticks, the test-side
// equivalent of a timer interrupt firing n times.
func (f *Fake) Advance(n uint64) { f.ticks += n }

func (f *Fake) Shutdown() { f.ShutdownCt++ }
