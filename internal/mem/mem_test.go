package mem

import (
	"testing"

	"ark/internal/addr"
)

func TestAllocFreeRoundTrip(t *testing.T) {
	pm := NewPhysMem(addr.PhyPageId(100), 64)
	pa, ok := pm.AllocPage()
	if !ok {
		t.Fatal("alloc failed")
	}
	b := pm.Frame(pa)
	b[0] = 0xAB
	pm.Free(pa)

	pa2, ok := pm.AllocPage()
	if !ok {
		t.Fatal("second alloc failed")
	}
	// The freshly allocated page must be zeroed even if it reuses the
	// same physical frame.
	if pm.Frame(pa2)[0] != 0 {
		t.Fatalf("reallocated page not zeroed")
	}
}

func TestAllocContig(t *testing.T) {
	pm := NewPhysMem(addr.PhyPageId(0), 64)
	pa, ok := pm.AllocContig(5)
	if !ok {
		t.Fatal("contig alloc failed")
	}
	for i := 0; i < 5; i++ {
		if !pm.Contains(pa.Add(int64(i))) {
			t.Fatalf("page %d of contig run not owned", i)
		}
	}
	pm.Free(pa)
}

func TestDoubleFreePanics(t *testing.T) {
	pm := NewPhysMem(addr.PhyPageId(0), 8)
	pg, ok := NewPhysPage(pm)
	if !ok {
		t.Fatal("alloc failed")
	}
	pg.Free()
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	pg.Free()
}

func TestExhaustion(t *testing.T) {
	pm := NewPhysMem(addr.PhyPageId(0), 4)
	for i := 0; i < 4; i++ {
		if _, ok := pm.AllocPage(); !ok {
			t.Fatalf("alloc %d should have succeeded", i)
		}
	}
	if _, ok := pm.AllocPage(); ok {
		t.Fatal("expected exhaustion")
	}
}
