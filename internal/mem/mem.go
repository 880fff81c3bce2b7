// Package mem implements physical memory management: the boot-time
// heap bootstrap and a buddy-style frame allocator over the largest
// usable RAM region, the same role biscuit's mem package plays (see
// mem.Physmem_t in the teacher), adapted from biscuit's direct-mapped,
// real-MMU design to a hosted simulation that owns its RAM as a plain
// Go byte slice (see internal/hartsim for why).
package mem

import (
	"fmt"
	"sync"

	"ark/internal/addr"
)

// PGSIZE mirrors addr.PGSIZE as an int for convenient slicing.
const PGSIZE = int(addr.PGSIZE)

// maxOrder bounds alloc_many requests to 2^maxOrder contiguous pages
// (2^20 pages = 4GiB), generous for the DMA-sized requests this kernel
// issues (virtio descriptor rings, disk staging buffers, heap donation).
const maxOrder = 20

// PhysMem owns one contiguous RAM region and a buddy allocator over it.
// It is the hosted-simulation analogue of biscuit's Physmem_t: where
// biscuit hands out pages from real physical memory visible through its
// direct map, PhysMem hands out slices of a Go-owned backing array.
type PhysMem struct {
	mu sync.Mutex

	base  addr.PhyPageId // page id of ram[0]
	npg   int            // total pages in the region
	ram   []byte         // npg*PGSIZE bytes of backing storage
	free  [maxOrder + 1][]int
	order []int8 // -1 if free (order recorded in free[]), else allocation order if this is a block head, -2 if interior to an allocated block
}

// NewPhysMem seeds an allocator over npg pages starting at base, as if
// carved from the device tree's largest free RAM region minus the
// kernel image (§4.1). npg need not be a power of two; it is covered by
// the largest aligned power-of-two blocks that fit.
func NewPhysMem(base addr.PhyPageId, npg int) *PhysMem {
	if npg <= 0 {
		panic("empty ram region")
	}
	pm := &PhysMem{
		base:  base,
		npg:   npg,
		ram:   make([]byte, npg*PGSIZE),
		order: make([]int8, npg),
	}
	for i := range pm.order {
		pm.order[i] = -1
	}
	pm.seedFreeList()
	return pm
}

// seedFreeList covers [0,npg) with maximal aligned power-of-two blocks.
func (pm *PhysMem) seedFreeList() {
	i := 0
	for i < pm.npg {
		o := maxOrder
		for o > 0 {
			sz := 1 << o
			if i%sz == 0 && i+sz <= pm.npg {
				break
			}
			o--
		}
		pm.free[o] = append(pm.free[o], i)
		i += 1 << o
	}
}

func orderFor(n int) int {
	o := 0
	for (1 << o) < n {
		o++
	}
	return o
}

// allocOrder removes and returns a block-start index of exactly order o,
// splitting a larger block if necessary. Returns -1 if exhausted.
func (pm *PhysMem) allocOrder(o int) int {
	if o > maxOrder {
		return -1
	}
	n := len(pm.free[o])
	if n > 0 {
		idx := pm.free[o][n-1]
		pm.free[o] = pm.free[o][:n-1]
		return idx
	}
	parent := pm.allocOrder(o + 1)
	if parent < 0 {
		return -1
	}
	buddy := parent + (1 << o)
	pm.free[o] = append(pm.free[o], buddy)
	return parent
}

// AllocPage reserves one physical frame, zeroed, and returns its page
// id. It is the frame-allocator primitive PhysPage.New wraps.
func (pm *PhysMem) AllocPage() (addr.PhyPageId, bool) {
	pg, ok := pm.AllocContig(1)
	return pg, ok
}

// AllocContig reserves n physically contiguous, zeroed frames and
// returns the id of the first one, implementing alloc_many(n).
func (pm *PhysMem) AllocContig(n int) (addr.PhyPageId, bool) {
	if n <= 0 {
		panic("alloc_many: n must be positive")
	}
	o := orderFor(n)
	pm.mu.Lock()
	start := pm.allocOrder(o)
	if start < 0 {
		pm.mu.Unlock()
		return 0, false
	}
	pm.order[start] = int8(o)
	for i := 1; i < 1<<o; i++ {
		pm.order[start+i] = -2
	}
	pm.mu.Unlock()

	off := start * PGSIZE
	for i := range pm.ram[off : off+(1<<o)*PGSIZE] {
		pm.ram[off+i] = 0
	}
	return pm.base.Add(int64(start)), true
}

// Free returns the frame(s) allocated at pa (as returned by AllocPage
// or AllocContig) to the allocator, coalescing with a free buddy when
// possible. Freeing a page not currently allocated at a block head is
// a bug and panics, mirroring the kernel's refusal to tolerate a
// double-free.
func (pm *PhysMem) Free(pa addr.PhyPageId) {
	idx := int(pa) - int(pm.base)
	if idx < 0 || idx >= pm.npg {
		panic("free: address outside ram region")
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	o := pm.order[idx]
	if o < 0 {
		panic(fmt.Sprintf("free: page %d is not an allocation head", idx))
	}
	pm.order[idx] = -1
	for i := 1; i < 1<<o; i++ {
		pm.order[idx+i] = -1
	}
	pm.coalesce(idx, int(o))
}

func (pm *PhysMem) coalesce(idx, o int) {
	for o < maxOrder {
		buddy := idx ^ (1 << o)
		if buddy+(1<<o) > pm.npg && buddy > idx {
			break
		}
		pos := -1
		for i, v := range pm.free[o] {
			if v == buddy {
				pos = i
				break
			}
		}
		if pos < 0 {
			break
		}
		pm.free[o] = append(pm.free[o][:pos], pm.free[o][pos+1:]...)
		if buddy < idx {
			idx = buddy
		}
		o++
	}
	pm.free[o] = append(pm.free[o], idx)
}

// Frame returns a byte slice aliasing the PGSIZE bytes backing pa. It
// is the allocator's equivalent of biscuit's Dmap: the one place raw
// byte access to a physical page is obtained.
func (pm *PhysMem) Frame(pa addr.PhyPageId) []byte {
	idx := int(pa) - int(pm.base)
	if idx < 0 || idx >= pm.npg {
		panic("frame: address outside ram region")
	}
	off := idx * PGSIZE
	return pm.ram[off : off+PGSIZE : off+PGSIZE]
}

// Contains reports whether pa names a frame owned by this region.
func (pm *PhysMem) Contains(pa addr.PhyPageId) bool {
	idx := int(pa) - int(pm.base)
	return idx >= 0 && idx < pm.npg
}

// PhysPage is an RAII-styled handle over one physical frame. Go has no
// destructors, so callers must call Free explicitly when the frame's
// last owner goes away — the discipline ProcessMemory.maps follows by
// holding PhysPage values directly and dropping them in reset()/unmap.
type PhysPage struct {
	pm    *PhysMem
	pa    addr.PhyPageId
	n     int
	dma   bool
	freed bool
}

// NewPhysPage allocates and zeroes one frame, returning an owning handle.
func NewPhysPage(pm *PhysMem) (*PhysPage, bool) {
	pa, ok := pm.AllocPage()
	if !ok {
		return nil, false
	}
	return &PhysPage{pm: pm, pa: pa, n: 1}, true
}

// AllocMany allocates n physically contiguous, zeroed frames for DMA
// use and returns one owning handle over the whole run.
func AllocMany(pm *PhysMem, n int) (*PhysPage, bool) {
	pa, ok := pm.AllocContig(n)
	if !ok {
		return nil, false
	}
	return &PhysPage{pm: pm, pa: pa, n: n, dma: true}, true
}

// Addr returns the physical address of the page.
func (p *PhysPage) Addr() addr.PhyPageId { return p.pa }

// Bytes returns the page's backing storage (PGSIZE bytes, or n*PGSIZE
// for a multi-page DMA handle, starting at its first frame).
func (p *PhysPage) Bytes() []byte {
	if p.n <= 1 {
		return p.pm.Frame(p.pa)
	}
	off := (int(p.pa) - int(p.pm.base)) * PGSIZE
	end := off + p.n*PGSIZE
	return p.pm.ram[off:end:end]
}

// Free releases the frame(s) back to the allocator. Free is idempotent
// only in the sense that calling it twice panics (double-free), per
// §7's fatal-class invariant.
func (p *PhysPage) Free() {
	if p.freed {
		panic("double free of PhysPage")
	}
	p.freed = true
	if p.dma {
		// Multi-page DMA runs are freed as one block; the buddy
		// allocator only tracks the block head.
		p.pm.Free(p.pa)
		return
	}
	p.pm.Free(p.pa)
}
