package elfload

import (
	"strings"
	"testing"
)

func TestDisassembleFaultingWordNop(t *testing.T) {
	// addi x0, x0, 0 ("nop"), the canonical RV64 NOP encoding.
	got := DisassembleFaultingWord(0x00000013)
	if strings.Contains(got, "undecodable") {
		t.Fatalf("expected a decoded instruction, got %q", got)
	}
}

func TestDisassembleFaultingWordUndecodable(t *testing.T) {
	got := DisassembleFaultingWord(0xffffffff)
	if !strings.Contains(got, "0xffffffff") {
		t.Fatalf("expected hex fallback to mention the word, got %q", got)
	}
}
