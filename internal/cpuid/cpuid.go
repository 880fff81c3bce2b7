// Package cpuid detects the RISC-V vendor/arch/impl CSR triple so the
// page-table layer can gate vendor-specific PTE quirks (§4.2, "Vendor
// quirks" in SPEC_FULL.md §13.3). Grounded directly on
// original_source/src/cpu/vendor.rs, which reads the same three CSRs
// once at boot.
package cpuid

// Vendor identifies a CPU implementation relevant to PTE quirks. Every
// value other than THeadC906 behaves architecturally.
type Vendor int

const (
	Generic Vendor = iota
	THeadC906
)

// theadVendorID is T-Head's JEDEC-assigned mvendorid value.
const theadVendorID = 0x5b7

// c906ArchID is the marchid T-Head reports for the C906 core.
const c906ArchID = 0x8000000000010931

// DetectVendor classifies a hart from its mvendorid/marchid/mimpid CSRs.
// It is a pure function so the page-table tests can exercise the quirk
// predicate without reading real CSRs.
func DetectVendor(mvendorid, marchid, mimpid uint64) Vendor {
	if mvendorid == theadVendorID && marchid == c906ArchID {
		return THeadC906
	}
	return Generic
}

// HardwareBase is the physical address above which the T-Head C906
// quirk sets the strong-order PTE bit and below which it sets
// cacheable+bufferable bits instead (§4.2).
const HardwareBase uint64 = 0x80000000
