// Package pagetable implements the Sv39 three-level RISC-V page table
// (§4.2): map/unmap/translate, one-shot 1GiB huge mapping for the
// kernel window, TLB-flush hooks, and the T-Head C906 PTE quirk.
// Grounded on biscuit's vm package (the PTE-bit and map/translate
// shape) and original_source/src/memory/paging.rs (the Sv39 walk and
// vendor-quirk gating this spec distils from).
package pagetable

import (
	"sync"

	"ark/internal/addr"
	"ark/internal/cpuid"
	"ark/internal/mem"
)

// PTE bit layout, the architectural Sv39 encoding.
const (
	PTE_V uint64 = 1 << 0 // valid
	PTE_R uint64 = 1 << 1 // readable
	PTE_W uint64 = 1 << 2 // writable
	PTE_X uint64 = 1 << 3 // executable
	PTE_U uint64 = 1 << 4 // user-accessible
	PTE_G uint64 = 1 << 5 // global
	PTE_A uint64 = 1 << 6 // accessed
	PTE_D uint64 = 1 << 7 // dirty

	ppnShift = 10
	ppnMask  = (uint64(1) << 44) - 1

	// T-Head C906 XTheadMae-style cache/order bits, software-defined
	// reserved bits in the architectural encoding (§4.2 "vendor quirks").
	theadStrongOrder uint64 = 1 << 61
	theadCacheable   uint64 = 1 << 62
	theadBufferable  uint64 = 1 << 63
)

// Flags is the set of permission/attribute bits a caller asks map() to
// install; PTE_V is added automatically, PTE_A whenever R or W is set,
// and PTE_D whenever W is set.
type Flags = uint64

func pte2pa(pte uint64) addr.PhyPageId {
	return addr.PhyPageId((pte >> ppnShift) & ppnMask)
}

func mkpte(pa addr.PhyPageId, flags uint64) uint64 {
	return (uint64(pa)&ppnMask)<<ppnShift | flags
}

// rcFrame is a reference-counted physical page used for page-table
// interior nodes: a translation cached by an entry one level up must
// not be freed while any holder still references it (§3's PageTable
// invariant, §9 "Sv39 PTE refcounting").
type rcFrame struct {
	mu   sync.Mutex
	page *mem.PhysPage
	refs int
}

func newRcFrame(pg *mem.PhysPage) *rcFrame {
	return &rcFrame{page: pg, refs: 1}
}

func (f *rcFrame) retain() *rcFrame {
	f.mu.Lock()
	f.refs++
	f.mu.Unlock()
	return f
}

func (f *rcFrame) release() {
	f.mu.Lock()
	f.refs--
	dead := f.refs == 0
	f.mu.Unlock()
	if dead {
		f.page.Free()
	}
}

func (f *rcFrame) readEntry(i int) uint64 {
	b := f.page.Bytes()
	return leUint64(b[i*8 : i*8+8])
}

func (f *rcFrame) writeEntry(i int, v uint64) {
	b := f.page.Bytes()
	putLeUint64(b[i*8:i*8+8], v)
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLeUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

// tableNode tracks the child table frames a PageTable has instantiated,
// keyed by the page-table index at each level above the leaf, so Drop
// can release them.
type tableNode struct {
	frame    *rcFrame
	children map[uint64]*tableNode
}

// PageTable is one process's (or the kernel's) Sv39 page table. It owns
// its root and every interior table frame it allocates.
type PageTable struct {
	mu     sync.Mutex
	pm     *mem.PhysMem
	vendor cpuid.Vendor
	root   *tableNode
}

// New allocates a fresh, empty page table.
func New(pm *mem.PhysMem, vendor cpuid.Vendor) (*PageTable, bool) {
	pg, ok := mem.NewPhysPage(pm)
	if !ok {
		return nil, false
	}
	pt := &PageTable{
		pm:     pm,
		vendor: vendor,
		root:   &tableNode{frame: newRcFrame(pg), children: map[uint64]*tableNode{}},
	}
	return pt, true
}

func (pt *PageTable) quirk(flags uint64, pa addr.PhyPageId) uint64 {
	if pt.vendor != cpuid.THeadC906 {
		return flags
	}
	physByte := uint64(pa) * addr.PGSIZE
	if physByte >= cpuid.HardwareBase {
		return flags | theadStrongOrder
	}
	return flags | theadCacheable | theadBufferable
}

// findCreate walks the three Sv39 levels for vpn, allocating any
// missing interior table, and returns the leaf table node and index.
func (pt *PageTable) findCreate(vpn addr.VirtPageId) (*tableNode, uint64, bool) {
	idx := vpn.Indexes()
	node := pt.root
	for lvl := 0; lvl < 2; lvl++ {
		i := idx[lvl]
		child, ok := node.children[i]
		if !ok {
			pte := node.frame.readEntry(int(i))
			if pte&PTE_V != 0 {
				// Present but not one we've modeled as a child
				// (shouldn't happen under normal use); treat as
				// a hard error rather than silently aliasing.
				panic("pagetable: present non-leaf entry without tracked child")
			}
			pg, ok := mem.NewPhysPage(pt.pm)
			if !ok {
				return nil, 0, false
			}
			child = &tableNode{frame: newRcFrame(pg), children: map[uint64]*tableNode{}}
			node.children[i] = child
			node.frame.writeEntry(int(i), mkpte(child.frame.page.Addr(), PTE_V))
		}
		node = child
	}
	return node, idx[2], true
}

// find walks the three Sv39 levels for vpn without allocating; it
// returns the leaf table node and index, or ok=false if any interior
// table along the path is missing.
func (pt *PageTable) find(vpn addr.VirtPageId) (*tableNode, uint64, bool) {
	idx := vpn.Indexes()
	node := pt.root
	for lvl := 0; lvl < 2; lvl++ {
		child, ok := node.children[idx[lvl]]
		if !ok {
			return nil, 0, false
		}
		node = child
	}
	return node, idx[2], true
}

// Map installs a leaf PTE mapping va to pa with the given permission
// flags. It panics if va is already mapped (§4.2: "map asserts the
// target PTE is not already valid" — double-map is a bug, not a
// recoverable error).
func (pt *PageTable) Map(va addr.VirtAddr, pa addr.PhyPageId, flags Flags) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	node, i, ok := pt.findCreate(va.ToVirtPageId())
	if !ok {
		return false
	}
	if node.frame.readEntry(int(i))&PTE_V != 0 {
		panic("pagetable: double map")
	}
	f := flags | PTE_V
	if f&(PTE_R|PTE_W) != 0 {
		f |= PTE_A
	}
	if f&PTE_W != 0 {
		f |= PTE_D
	}
	f = pt.quirk(f, pa)
	node.frame.writeEntry(int(i), mkpte(pa, f))
	return true
}

// MapBig installs one 1GiB root-level mapping, used exactly once per
// page table to map the entire kernel physical window with the global
// bit (§4.2).
func (pt *PageTable) MapBig(va addr.VirtAddr, pa addr.PhyPageId, flags Flags) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	idx := va.ToVirtPageId().Indexes()
	i := idx[0]
	if pt.root.frame.readEntry(int(i))&PTE_V != 0 {
		panic("pagetable: double map (huge)")
	}
	f := flags | PTE_V | PTE_G
	if f&(PTE_R|PTE_W) != 0 {
		f |= PTE_A
	}
	if f&PTE_W != 0 {
		f |= PTE_D
	}
	f = pt.quirk(f, pa)
	pt.root.frame.writeEntry(int(i), mkpte(pa, f))
	return true
}

// Unmap clears the leaf PTE mapping va. Interior tables along the path
// stay allocated until Drop. It is a no-op if va is not mapped.
func (pt *PageTable) Unmap(va addr.VirtAddr) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	node, i, ok := pt.find(va.ToVirtPageId())
	if !ok {
		return
	}
	node.frame.writeEntry(int(i), 0)
}

// Translate returns the physical address corresponding to va, or
// ok=false if va has no valid mapping (huge or leaf).
func (pt *PageTable) Translate(va addr.VirtAddr) (addr.PhyAddr, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	idx := va.ToVirtPageId().Indexes()

	// Root-level huge mapping check first (1GiB kernel window).
	if pte := pt.root.frame.readEntry(int(idx[0])); pte&PTE_V != 0 {
		if _, hasChild := pt.root.children[idx[0]]; !hasChild {
			pa := pte2pa(pte)
			base := uint64(pa) * addr.PGSIZE
			off := uint64(idx[1])*addr.PGSIZE*512 + uint64(idx[2])*addr.PGSIZE + va.PageOffset()
			return addr.PhyAddr(base + off), true
		}
	}

	node, i, ok := pt.find(va.ToVirtPageId())
	if !ok {
		return 0, false
	}
	pte := node.frame.readEntry(int(i))
	if pte&PTE_V == 0 {
		return 0, false
	}
	pa := pte2pa(pte)
	return pa.ToPhyAddr().Offset(int64(va.PageOffset())), true
}

// ToSatp encodes the Sv39 mode bits and root PPN for loading into satp.
func (pt *PageTable) ToSatp() uint64 {
	const satpModeSv39 = uint64(8) << 60
	return satpModeSv39 | uint64(pt.root.frame.page.Addr())
}

// RootAddr exposes the root frame's physical address, used by callers
// that need it without going through ToSatp's mode encoding.
func (pt *PageTable) RootAddr() addr.PhyPageId {
	return pt.root.frame.page.Addr()
}

// Vendor returns the vendor-quirk class this table was created with.
func (pt *PageTable) Vendor() cpuid.Vendor {
	return pt.vendor
}

// FlushAll issues a full TLB fence for this page table, conceptually
// sfence.vma with no arguments (§4.2). In the hosted simulation there
// is no hardware TLB to invalidate; the hook exists so callers follow
// the same sequencing the real kernel requires.
func (pt *PageTable) FlushAll() {}

// FlushAddr issues a scoped TLB fence for one virtual address.
func (pt *PageTable) FlushAddr(va addr.VirtAddr) {}

// Drop releases the root frame and every interior table frame this
// page table allocated back to the physical allocator. It must be
// called exactly once, when the page table is discarded (e.g. from
// ProcessMemory.reset or when a process's memory is torn down), since
// Go's garbage collector has no visibility into the frames an rcFrame
// owns.
func (pt *PageTable) Drop() {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	var walk func(n *tableNode)
	walk = func(n *tableNode) {
		for _, c := range n.children {
			walk(c)
		}
		n.frame.release()
	}
	walk(pt.root)
	pt.root = nil
}
