package elfload

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/riscv64/riscv64asm"
)

// DisassembleFaultingWord decodes a single raw RV64 instruction word
// for the fatal-exception log (SPEC_FULL.md §11): on an illegal
// instruction trap, internal/trap calls this so the warning it logs
// before killing the process shows the decoded instruction instead of a
// bare hex word. Returns a hex fallback string if the word does not
// decode.
func DisassembleFaultingWord(word uint32) string {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], word)
	inst, err := riscv64asm.Decode(buf[:])
	if err != nil {
		return fmt.Sprintf("0x%08x (undecodable)", word)
	}
	return inst.String()
}
