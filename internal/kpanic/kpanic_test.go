package kpanic

import (
	"bytes"
	"strings"
	"testing"

	"ark/internal/klog"
	"ark/internal/sbi"
)

func TestHaltLogsAndShutsDown(t *testing.T) {
	var buf bytes.Buffer
	klog.SetOutput(&buf)
	defer klog.SetOutput(discard{})

	reset := sbi.NewFake()
	Halt(reset, 2, "unrecoverable fault at 0x%x", 0x1000)

	if reset.ShutdownCt != 1 {
		t.Fatalf("ShutdownCt = %d, want 1", reset.ShutdownCt)
	}
	out := buf.String()
	if !strings.Contains(out, "panic on hart 2") || !strings.Contains(out, "0x1000") {
		t.Fatalf("log output = %q, missing hart id or message", out)
	}
}

type discard struct{}

func (discard) Write(b []byte) (int, error) { return len(b), nil }
