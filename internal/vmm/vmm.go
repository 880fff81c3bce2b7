// Package vmm implements ProcessMemory, the per-process address space
// described in §3/§4.3: owned mappings, the brk heap region, the
// downward-growing user stack, the mmap region, fork-copy, and reset.
// Grounded on biscuit's vm.Vm_t/Vmregion_t (the owning-mappings shape)
// and original_source/src/process/process_memory.rs, which this spec's
// set_brk/mmap/alloc_stack_if_possible semantics are distilled from.
package vmm

import (
	"sort"
	"sync"

	"ark/internal/addr"
	"ark/internal/cpuid"
	"ark/internal/defs"
	"ark/internal/mem"
	"ark/internal/pagetable"
)

// Fixed address-space layout (§3). Chosen inside the Sv39 canonical
// lower half so every address here is representable without the
// sign-extension folding Sv39 requires above bit 38.
const (
	StackBase addr.VirtAddr = 1 << 37          // top of user space
	MmapBase  addr.VirtAddr = StackBase - (256 << 20)
)

// mapping is one entry of ProcessMemory's owned-page table.
type mapping struct {
	page  *mem.PhysPage
	flags uint64
}

// FileBacking lets mmap fill pages by reading a file descriptor
// instead of zero-filling them (§4.3 mmap). Kept minimal and defined
// here (rather than imported from vfs) so vmm has no dependency on the
// VFS layer, matching the layering biscuit's vm package keeps from fs.
type FileBacking interface {
	Seek(off int64) defs.Err_t
	Read(buf []byte) (int, defs.Err_t)
}

// ProcessMemory is one process's address space (§3, §4.3).
type ProcessMemory struct {
	mu sync.Mutex

	pm *mem.PhysMem
	PT *pagetable.PageTable

	maps map[addr.VirtPageId]*mapping

	ProgEnd addr.VirtAddr
	MinBrk  addr.VirtAddr
	Brk     addr.VirtAddr

	StackTop addr.VirtAddr // lowest mapped stack byte's page base

	kernelWindow kernelWindow
	vendor       cpuid.Vendor
}

type kernelWindow struct {
	va    addr.VirtAddr
	pa    addr.PhyPageId
	flags uint64
}

// New creates a fresh address space with the kernel huge mapping
// installed, mirroring construction in §4.5 (process construction
// "allocates a new ProcessMemory").
func New(pm *mem.PhysMem, pt *pagetable.PageTable, kernelVA addr.VirtAddr, kernelPA addr.PhyPageId, kernelFlags uint64) *ProcessMemory {
	if !pt.MapBig(kernelVA, kernelPA, kernelFlags) {
		panic("vmm: failed to install kernel huge mapping")
	}
	m := &ProcessMemory{
		pm:           pm,
		PT:           pt,
		maps:         map[addr.VirtPageId]*mapping{},
		StackTop:     StackBase,
		kernelWindow: kernelWindow{va: kernelVA, pa: kernelPA, flags: kernelFlags},
		vendor:       pt.Vendor(),
	}
	return m
}

// sortedVPNs returns the keys of m.maps in ascending order, giving
// deterministic enumeration for fork-copy and reset even though Go's
// map has no intrinsic order (§3: "ordered map").
func (m *ProcessMemory) sortedVPNs() []addr.VirtPageId {
	keys := make([]addr.VirtPageId, 0, len(m.maps))
	for k := range m.maps {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// mapOne installs a single page at vpn with the given owning frame and
// flags, recording it in maps. Double-mapping the same vpn is a bug
// (§4.3: "Idempotency is not claimed; double-map is a bug"), surfaced
// by the underlying page table's own double-map panic.
func (m *ProcessMemory) mapOne(vpn addr.VirtPageId, page *mem.PhysPage, flags uint64) {
	m.PT.Map(vpn.ToVirtAddr(), page.Addr(), flags)
	m.maps[vpn] = &mapping{page: page, flags: flags}
}

func (m *ProcessMemory) unmapOne(vpn addr.VirtPageId) {
	e, ok := m.maps[vpn]
	if !ok {
		return
	}
	m.PT.Unmap(vpn.ToVirtAddr())
	e.page.Free()
	delete(m.maps, vpn)
}

// Translate looks up the physical address backing va, for callers that
// need it directly rather than through the page table (tests, and
// user-pointer translation in the trap plane).
func (m *ProcessMemory) Translate(va addr.VirtAddr) (addr.PhyAddr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PT.Translate(va)
}

const rwu = pagetable.PTE_R | pagetable.PTE_W | pagetable.PTE_U

// SetBrk implements §4.3's set_brk: below min_brk is a no-op; above the
// current brk, newly spanned pages are allocated and mapped R|W|U;
// below the current brk (but still >= min_brk), the freed pages are
// unmapped (§9.3, the shrink path the source left unimplemented).
// Returns the effective new brk.
func (m *ProcessMemory) SetBrk(newBrk addr.VirtAddr) addr.VirtAddr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if newBrk < m.MinBrk {
		return m.Brk
	}
	oldBrk := m.Brk
	if newBrk > oldBrk {
		lo := oldBrk.RoundUp()
		hi := newBrk.RoundUp()
		for va := lo; va < hi; va = va.Offset(int64(addr.PGSIZE)) {
			vpn := va.ToVirtPageId()
			if _, already := m.maps[vpn]; already {
				continue
			}
			pg, ok := mem.NewPhysPage(m.pm)
			if !ok {
				m.Brk = va
				return m.Brk
			}
			m.mapOne(vpn, pg, rwu)
		}
	} else if newBrk < oldBrk {
		lo := newBrk.RoundUp()
		hi := oldBrk.RoundUp()
		for va := lo; va < hi; va = va.Offset(int64(addr.PGSIZE)) {
			m.unmapOne(va.ToVirtPageId())
		}
	}
	m.Brk = newBrk
	return m.Brk
}

// IncreaseUserStack allocates one R|W|U page immediately below
// StackTop and lowers StackTop, used both at process construction and
// lazily from the page-fault handler (§4.3).
func (m *ProcessMemory) IncreaseUserStack() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.increaseUserStackLocked()
}

func (m *ProcessMemory) increaseUserStackLocked() bool {
	newTop := m.StackTop.Offset(-int64(addr.PGSIZE))
	pg, ok := mem.NewPhysPage(m.pm)
	if !ok {
		return false
	}
	m.mapOne(newTop.ToVirtPageId(), pg, rwu)
	m.StackTop = newTop
	return true
}

// AllocStackIfPossible grows the stack by one page if vaddr is exactly
// the page immediately below StackTop and not yet mapped (§4.3). Any
// other unmapped access returns false so the caller treats it as fatal.
func (m *ProcessMemory) AllocStackIfPossible(vaddr addr.VirtAddr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := m.StackTop.Offset(-int64(addr.PGSIZE)).RoundDown()
	if vaddr.RoundDown() != want {
		return false
	}
	if _, ok := m.maps[want.ToVirtPageId()]; ok {
		return false
	}
	return m.increaseUserStackLocked()
}

// Mmap implements §4.3's mmap. addrHint/fixed selects MAP_FIXED
// behaviour; anonymous backing zero-fills pages, file backing fills
// them by sequential reads after seeking to offset.
func (m *ProcessMemory) Mmap(addrHint addr.VirtAddr, fixed bool, pages int, flags uint64, file FileBacking, offset int64) (addr.VirtAddr, defs.Err_t) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pages <= 0 {
		return 0, defs.EINVAL
	}

	var base addr.VirtAddr
	if fixed {
		base = addrHint.RoundDown()
		for i := 0; i < pages; i++ {
			m.unmapOne(base.ToVirtPageId().Add(int64(i)))
		}
	} else {
		found, ok := m.findFreeRun(pages)
		if !ok {
			return 0, defs.ENOMEM
		}
		base = found
	}

	if file != nil {
		if err := file.Seek(offset); err != 0 {
			return 0, err
		}
	}

	for i := 0; i < pages; i++ {
		vpn := base.ToVirtPageId().Add(int64(i))
		pg, ok := mem.NewPhysPage(m.pm)
		if !ok {
			return 0, defs.ENOMEM
		}
		if file != nil {
			b := pg.Bytes()
			got := 0
			for got < len(b) {
				n, err := file.Read(b[got:])
				if err != 0 {
					return 0, err
				}
				if n == 0 {
					break
				}
				got += n
			}
		}
		m.mapOne(vpn, pg, flags|pagetable.PTE_U)
	}
	return base, 0
}

// findFreeRun searches for a downward-growing free run of `pages`
// pages, preferring the highest free address below MmapBase whose
// predecessors are also free, per §4.3's placement policy.
func (m *ProcessMemory) findFreeRun(pages int) (addr.VirtAddr, bool) {
	top := MmapBase.ToVirtPageId()
	// Never collide with live stack pages or brk pages.
	stackLimit := m.StackTop.ToVirtPageId()
	brkLimit := m.Brk.RoundUp().ToVirtPageId()

	candidate := top
	for {
		if candidate < brkLimit {
			return 0, false
		}
		ok := true
		for i := 0; i < pages; i++ {
			vpn := candidate.Add(-int64(i))
			if vpn >= stackLimit {
				ok = false
				break
			}
			if _, used := m.maps[vpn]; used {
				ok = false
				break
			}
		}
		if ok {
			return candidate.Add(-int64(pages - 1)).ToVirtAddr(), true
		}
		candidate = candidate.Add(-1)
		if candidate < brkLimit {
			return 0, false
		}
	}
}

// MapAnon allocates one zeroed frame, maps it at va with flags, records
// it as an owned mapping, and returns its backing bytes for the caller
// to fill directly — the primitive the ELF loader uses to populate
// PT_LOAD segments without reaching past ProcessMemory's bookkeeping
// (so those frames are freed correctly by Reset/Munmap like any other
// mapping).
func (m *ProcessMemory) MapAnon(va addr.VirtAddr, flags uint64) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vpn := va.ToVirtPageId()
	if _, already := m.maps[vpn]; already {
		return nil, false
	}
	pg, ok := mem.NewPhysPage(m.pm)
	if !ok {
		return nil, false
	}
	m.mapOne(vpn, pg, flags)
	return pg.Bytes(), true
}

// CopyPageBytes overwrites the single mapped page at va with the
// contents of src (which must be exactly one page long), used by
// execve's initial-stack assembly to write the prepared argv/envp/aux
// frame into the already-mapped bottom stack page.
func (m *ProcessMemory) CopyPageBytes(va addr.VirtAddr, src []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.maps[va.ToVirtPageId()]
	if !ok {
		return false
	}
	copy(e.page.Bytes(), src)
	return true
}

// Munmap unmaps the aligned page range [addr, addr+len) (§4.3).
func (m *ProcessMemory) Munmap(base addr.VirtAddr, length uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := base.RoundDown()
	end := base.Offset(int64(length)).RoundUp()
	for va := start; va < end; va = va.Offset(int64(addr.PGSIZE)) {
		m.unmapOne(va.ToVirtPageId())
	}
}

// CopyFrom clones every entry of other's maps by allocating a fresh
// frame, bytewise copying its contents, and mapping it with the same
// flags (§4.3: fork copies eagerly, no copy-on-write). When copyStack
// is false, stack pages are skipped (no caller passes false; this
// kernel's fork always passes true per §4.5).
func (m *ProcessMemory) CopyFrom(other *ProcessMemory, copyStack bool) bool {
	other.mu.Lock()
	defer other.mu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, vpn := range other.sortedVPNs() {
		e := other.maps[vpn]
		isStack := vpn >= other.StackTop.ToVirtPageId() && vpn < StackBase.ToVirtPageId()
		if isStack && !copyStack {
			continue
		}
		pg, ok := mem.NewPhysPage(m.pm)
		if !ok {
			return false
		}
		copy(pg.Bytes(), e.page.Bytes())
		m.mapOne(vpn, pg, e.flags)
	}
	m.StackTop = other.StackTop
	m.Brk = other.Brk
	m.MinBrk = other.MinBrk
	m.ProgEnd = other.ProgEnd
	return true
}

// Reset drops every user mapping, reinstalls the kernel huge mapping on
// a fresh root, and resets all bounds (§4.3), used when a process
// exits (zombie keeps a minimal page table) or execve's.
func (m *ProcessMemory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for vpn, e := range m.maps {
		m.PT.Unmap(vpn.ToVirtAddr())
		e.page.Free()
	}
	m.maps = map[addr.VirtPageId]*mapping{}
	m.PT.Drop()

	pt, ok := pagetable.New(m.pm, m.vendor)
	if !ok {
		panic("vmm: reset: failed to allocate fresh page table")
	}
	if !pt.MapBig(m.kernelWindow.va, m.kernelWindow.pa, m.kernelWindow.flags) {
		panic("vmm: reset: failed to reinstall kernel window")
	}
	m.PT = pt
	m.ProgEnd = 0
	m.MinBrk = 0
	m.Brk = 0
	m.StackTop = StackBase
}

// Teardown drops the page table Reset left installed on a zombie —
// root plus the kernel-window interior frames — releasing it back to
// the physical allocator. Called once, at reap time (ProcessManager's
// Wait4), since a zombie still needs a valid Satp until then.
func (m *ProcessMemory) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PT.Drop()
	m.PT = nil
}

// MapsSnapshot returns a copy of the owned mappings as page number to
// PTE flags; changing the returned map does not affect m.
func (m *ProcessMemory) MapsSnapshot() map[addr.VirtPageId]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[addr.VirtPageId]uint64, len(m.maps))
	for k, v := range m.maps {
		out[k] = v.flags
	}
	return out
}
