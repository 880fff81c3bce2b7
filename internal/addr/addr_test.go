package addr

import "testing"

func TestPhyPageIdRoundTrip(t *testing.T) {
	for _, n := range []uint64{0, 1, 7, 4096, 1 << 20} {
		p := PhyPageId(n)
		if got := p.ToPhyAddr().ToPhyPageId(); got != p {
			t.Fatalf("round trip of %d gave %d", n, got)
		}
		if got := p.ToPhyAddr(); got != PhyAddr(n*4096) {
			t.Fatalf("ToPhyAddr(%d) = %d, want %d", n, got, n*4096)
		}
	}
}

func TestRoundUpTo(t *testing.T) {
	for _, x := range []uint64{0, 1, 4095, 4096, 4097, 8192} {
		r := RoundUpTo(x, 4096)
		if r < x {
			t.Fatalf("RoundUpTo(%d) = %d < x", x, r)
		}
		if r%4096 != 0 {
			t.Fatalf("RoundUpTo(%d) = %d not aligned", x, r)
		}
		if (x%4096 == 0) != (r == x) {
			t.Fatalf("RoundUpTo(%d) = %d, idempotence-at-boundary violated", x, r)
		}
		if RoundUpTo(r, 4096) != r {
			t.Fatalf("RoundUpTo not idempotent at %d", r)
		}
	}
}

func TestVirtPageIdIndexes(t *testing.T) {
	for _, n := range []uint64{0, 1, 511, 512, 513, 512 * 512, 512*512*512 - 1} {
		p := VirtPageId(n)
		idx := p.Indexes()
		for _, i := range idx {
			if i >= 512 {
				t.Fatalf("index out of range for %d: %v", n, idx)
			}
		}
		if got := VirtPageIdFromIndexes(idx[0], idx[1], idx[2]); got != p {
			t.Fatalf("reconstruct(%v) = %d, want %d", idx, got, n)
		}
	}
}
