// Package kpanic implements the kernel's fatal-halt path (§7's "Fatal:
// panic + reset" class, detailed per SPEC_FULL.md §13.4). Grounded
// directly on original_source/src/utils/panic.rs: print the message and
// the current hart id, then halt through the reset interface rather
// than attempting to unwind or continue.
package kpanic

import (
	"fmt"

	"ark/internal/klog"
	"ark/internal/sbi"
)

// Halt logs a fatal message tagged with hartID and invokes reset's
// shutdown, never returning in practice (reset.Shutdown does not
// return on real hardware; the fake used by tests returns so callers
// can assert on the logged message instead of exiting the test binary).
func Halt(reset sbi.Reset, hartID int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	klog.Warn("panic on hart %d: %s", hartID, msg)
	reset.Shutdown()
}
