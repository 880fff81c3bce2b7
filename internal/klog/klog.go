// Package klog is the kernel's diagnostic logger: boot, warn, and panic
// messages go through one *log.Logger, the same stdlib-wrapper shape
// biscuit's kernel/chentry.go (and the console calls throughout
// biscuit/src/kernel) use rather than any structured logging package —
// no pack repo reaches for one at the kernel layer (see DESIGN.md).
package klog

import (
	"log"
	"os"
)

var std = log.New(os.Stderr, "ark: ", log.Ltime|log.Lmicroseconds)

// SetOutput redirects every subsequent log line, used by cmd/arksim to
// relay kernel diagnostics over the simulated console instead of the
// host's stderr.
func SetOutput(w interface {
	Write([]byte) (int, error)
}) {
	std.SetOutput(w)
}

// Boot logs a one-line boot-sequence milestone.
func Boot(format string, args ...any) { std.Printf("boot: "+format, args...) }

// Warn logs a recoverable condition worth surfacing (e.g. an unsupported
// clone flag, a rejected mount type).
func Warn(format string, args ...any) { std.Printf("warn: "+format, args...) }

// Info logs routine, non-diagnostic activity.
func Info(format string, args ...any) { std.Printf("info: "+format, args...) }
