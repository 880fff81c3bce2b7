package fdt

import (
	"encoding/binary"
	"testing"
)

// buildBlob assembles a minimal well-formed FDT blob by hand: a root
// node containing one "memory" node (with a reg property) and a
// "chosen" node (with a bootargs property), enough to exercise Parse,
// MemoryRegions, and Bootargs without a real devicetree compiler.
func buildBlob(t *testing.T) []byte {
	t.Helper()
	be := binary.BigEndian

	var strTab []byte
	addStr := func(s string) uint32 {
		off := uint32(len(strTab))
		strTab = append(strTab, s...)
		strTab = append(strTab, 0)
		return off
	}

	var structBuf []byte
	putU32 := func(v uint32) {
		var b [4]byte
		be.PutUint32(b[:], v)
		structBuf = append(structBuf, b[:]...)
	}
	putName := func(s string) {
		structBuf = append(structBuf, s...)
		structBuf = append(structBuf, 0)
		for len(structBuf)%4 != 0 {
			structBuf = append(structBuf, 0)
		}
	}
	putProp := func(name string, val []byte) {
		putU32(tokenProp)
		putU32(uint32(len(val)))
		putU32(addStr(name))
		structBuf = append(structBuf, val...)
		for len(structBuf)%4 != 0 {
			structBuf = append(structBuf, 0)
		}
	}

	var reg [16]byte
	be.PutUint64(reg[0:8], 0x80000000)
	be.PutUint64(reg[8:16], 0x8000000)

	putU32(tokenBegNode)
	putName("")
	putU32(tokenBegNode)
	putName("memory@80000000")
	putProp("device_type", []byte("memory\x00"))
	putProp("reg", reg[:])
	putU32(tokenEndNode)
	putU32(tokenBegNode)
	putName("chosen")
	putProp("bootargs", []byte("disk=/tmp/disk.img\x00"))
	putU32(tokenEndNode)

	var plicReg [16]byte
	be.PutUint64(plicReg[0:8], 0xc000000)
	be.PutUint64(plicReg[8:16], 0x400000)
	putU32(tokenBegNode)
	putName("plic@c000000")
	putProp("compatible", []byte("riscv,plic0\x00"))
	putProp("reg", plicReg[:])
	putU32(tokenEndNode)

	putU32(tokenEndNode)
	putU32(tokenEnd)

	hdr := make([]byte, 40)
	be.PutUint32(hdr[0:4], magic)
	be.PutUint32(hdr[8:12], uint32(len(hdr)))
	be.PutUint32(hdr[12:16], uint32(len(hdr)+len(structBuf)))

	blob := append(hdr, structBuf...)
	blob = append(blob, strTab...)
	return blob
}

func TestParseMemoryRegions(t *testing.T) {
	root, err := Parse(buildBlob(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	regions := MemoryRegions(root)
	if len(regions) != 1 {
		t.Fatalf("got %d regions, want 1", len(regions))
	}
	if regions[0].Base != 0x80000000 || regions[0].Size != 0x8000000 {
		t.Fatalf("region = %+v", regions[0])
	}
}

func TestBootargs(t *testing.T) {
	root, err := Parse(buildBlob(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := Bootargs(root); got != "disk=/tmp/disk.img" {
		t.Fatalf("Bootargs = %q", got)
	}
}

func TestPLICRegion(t *testing.T) {
	root, err := Parse(buildBlob(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	region, ok := PLICRegion(root)
	if !ok {
		t.Fatal("expected a riscv,plic0 node to be found")
	}
	if region.Base != 0xc000000 || region.Size != 0x400000 {
		t.Fatalf("region = %+v", region)
	}
}

func TestPLICRegionAbsent(t *testing.T) {
	root := &Node{Name: "", Props: map[string][]byte{}}
	if _, ok := PLICRegion(root); ok {
		t.Fatal("expected no PLIC region in an empty tree")
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	if _, err := Parse(make([]byte, 64)); err == nil {
		t.Fatal("expected error for bad magic")
	}
}
