package mem

// BootHeapBytes is the size of the early-static byte array biscuit and
// this kernel use to bootstrap the general-purpose kernel allocator
// before the frame allocator is live (§4.1).
const BootHeapBytes = 1 << 20 // 1 MiB

// HeapDonationBytes is the size carved from frames and donated to the
// kernel heap once the frame allocator comes up (§4.1).
const HeapDonationBytes = 64 << 20 // 64 MiB

// bootHeap is the early-static array itself. In a bare-metal build this
// backs the kernel's own malloc before any frame is available; in this
// hosted simulation the Go runtime's own heap already satisfies that
// role (we are a regular hosted process), so bootHeap exists only to
// keep the boot-accounting numbers (§4.1) faithful to the spec and is
// never read by general-purpose allocation paths.
var bootHeap [BootHeapBytes]byte

// DonateToHeap carves HeapDonationBytes worth of frames from pm for the
// general-purpose heap, mirroring the second bootstrap step in §4.1. The
// frames stay allocated and their page id is not kept. It returns the
// number of pages donated.
func DonateToHeap(pm *PhysMem) (int, bool) {
	npg := HeapDonationBytes / PGSIZE
	pg, ok := pm.AllocContig(npg)
	if !ok {
		return 0, false
	}
	_ = pg
	return npg, true
}
