// Package fat is a minimal in-memory FAT16/FAT32 driver satisfying the
// internal/vfs Filesystem/Inode/File contract (SPEC_FULL.md §12). It
// plays the role original_source/src/filesystem/fatfs.rs gives the
// external Rust "fatfs" crate — wrap a block device, expose directories
// and files through the kernel's VFS boundary — but since no Go
// equivalent of that crate appears anywhere in the example pack, the
// parsing and cluster-chain logic below is hand-written, grounded on
// the classic FAT12/16/32 on-disk layout and structured the way
// biscuit's ufs/mkfs packages shape a small filesystem helper (Ufs_t's
// MkFile/MkDir/Stat/Ls surface; mkfs.go's block-layout construction).
//
// Short (8.3) names are decoded from IBM code page 437 via
// golang.org/x/text/encoding/charmap, the OEM encoding every FAT
// implementation defaults to for non-long-name entries (SPEC_FULL.md
// §11). Long file name (VFAT) entries are recognized and skipped; this
// driver only exposes the 8.3 short name of each entry, matching the
// Non-goals carried over from spec.md's filesystem section.
package fat

import (
	"sync"

	"golang.org/x/text/encoding/charmap"

	"ark/internal/defs"
	"ark/internal/vfs"
)

const (
	dirEntSize = 32
	attrRO     = 0x01
	attrHidden = 0x02
	attrSystem = 0x04
	attrVolID  = 0x08
	attrDir    = 0x10
	attrArch   = 0x20
	attrLong   = attrRO | attrHidden | attrSystem | attrVolID // 0x0F, LFN marker
)

const (
	eocMin32    = 0x0FFFFFF8
	eocMin16    = 0xFFF8
	freeCluster = 0
)

// volume holds the parsed boot-sector geometry plus the whole device
// image, loaded into memory once at Mount. Directory and FAT changes
// update the in-memory image; flush writes the whole image back when a
// file is closed.
type volume struct {
	mu sync.Mutex

	data []byte
	dev  vfs.File

	bytesPerSector    uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFATs           uint8
	rootEntries       uint16
	fatSizeSectors    uint32
	rootCluster       uint32 // FAT32 only
	is32              bool

	fatStartByte  uint32
	dataStartByte uint32
	rootDirByte   uint32 // FAT16 only: byte offset of the fixed root region
	rootDirBytes  uint32 // FAT16 only: size of the fixed root region
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 { return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24 }
func putLE16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// parseVolume reads the BIOS parameter block out of a freshly loaded
// disk image (boot sector at byte 0) per the standard FAT12/16/32
// layout.
func parseVolume(data []byte, dev vfs.File) (*volume, error) {
	if len(data) < 512 {
		return nil, defs.EINVAL
	}
	v := &volume{data: data, dev: dev}
	v.bytesPerSector = le16(data[11:13])
	v.sectorsPerCluster = data[13]
	v.reservedSectors = le16(data[14:16])
	v.numFATs = data[16]
	v.rootEntries = le16(data[17:19])
	fatSize16 := le16(data[22:24])
	fatSize32 := le32(data[36:40])

	if v.bytesPerSector == 0 || v.sectorsPerCluster == 0 || v.numFATs == 0 {
		return nil, defs.EINVAL
	}

	if fatSize16 != 0 {
		v.fatSizeSectors = uint32(fatSize16)
	} else {
		v.fatSizeSectors = fatSize32
		v.is32 = true
		v.rootCluster = le32(data[44:48])
	}

	bps := uint32(v.bytesPerSector)
	v.fatStartByte = uint32(v.reservedSectors) * bps
	rootDirSectors := (uint32(v.rootEntries)*dirEntSize + bps - 1) / bps
	v.rootDirByte = v.fatStartByte + uint32(v.numFATs)*v.fatSizeSectors*bps
	v.rootDirBytes = rootDirSectors * bps
	v.dataStartByte = v.rootDirByte + v.rootDirBytes

	return v, nil
}

func (v *volume) clusterByte(cluster uint32) uint32 {
	clusterSize := uint32(v.sectorsPerCluster) * uint32(v.bytesPerSector)
	return v.dataStartByte + (cluster-2)*clusterSize
}

func (v *volume) clusterSize() uint32 {
	return uint32(v.sectorsPerCluster) * uint32(v.bytesPerSector)
}

func (v *volume) isEOC(entry uint32) bool {
	if v.is32 {
		return entry >= eocMin32
	}
	return entry >= eocMin16
}

// fatEntry reads cluster's successor from the first FAT table.
func (v *volume) fatEntry(cluster uint32) uint32 {
	if v.is32 {
		off := v.fatStartByte + cluster*4
		return le32(v.data[off:off+4]) & 0x0FFFFFFF
	}
	off := v.fatStartByte + cluster*2
	return uint32(le16(v.data[off : off+2]))
}

func (v *volume) setFatEntry(cluster, value uint32) {
	bps := uint32(v.bytesPerSector)
	for fatNo := uint32(0); fatNo < uint32(v.numFATs); fatNo++ {
		tableStart := uint32(v.reservedSectors)*bps + fatNo*v.fatSizeSectors*bps
		if v.is32 {
			off := tableStart + cluster*4
			cur := le32(v.data[off : off+4])
			putLE32(v.data[off:off+4], (cur&0xF0000000)|(value&0x0FFFFFFF))
		} else {
			off := tableStart + cluster*2
			putLE16(v.data[off:off+2], uint16(value))
		}
	}
}

// chain returns every cluster number in start's chain, in order.
func (v *volume) chain(start uint32) []uint32 {
	if start == 0 {
		return nil
	}
	var out []uint32
	cur := start
	for !v.isEOC(cur) && cur != freeCluster {
		out = append(out, cur)
		cur = v.fatEntry(cur)
		if len(out) > len(v.data)/int(v.clusterSize())+1 {
			break // corrupt chain guard
		}
	}
	return out
}

// allocCluster finds a free cluster, marks it end-of-chain, and
// optionally links prev to it.
func (v *volume) allocCluster(prev uint32) (uint32, error) {
	total := uint32(len(v.data)-int(v.dataStartByte)) / v.clusterSize()
	for c := uint32(2); c < total+2; c++ {
		if v.fatEntry(c) == freeCluster {
			eoc := uint32(eocMin16)
			if v.is32 {
				eoc = eocMin32
			}
			v.setFatEntry(c, eoc)
			if prev != 0 {
				v.setFatEntry(prev, c)
			}
			return c, nil
		}
	}
	return 0, defs.ENOSPC
}

func (v *volume) freeChain(start uint32) {
	for _, c := range v.chain(start) {
		v.setFatEntry(c, freeCluster)
	}
}

// readCluster returns a view into the volume's in-memory image; callers
// must not retain it past further mutation.
func (v *volume) readCluster(c uint32) []byte {
	off := v.clusterByte(c)
	return v.data[off : off+v.clusterSize()]
}

// flush writes the whole in-memory image back to the backing device,
// the in-memory driver's equivalent of biscuit's Fs_sync.
func (v *volume) flush() error {
	if v.dev == nil {
		return nil
	}
	if _, err := v.dev.Seek(0, 0); err != nil {
		return err
	}
	_, err := v.dev.Write(v.data)
	return err
}

// oem437 decodes an 8.3 short name's bytes using code page 437, the OEM
// encoding every plain FAT entry (one without a paired VFAT long-name
// run) is defined to use.
var oem437 = charmap.CodePage437.NewDecoder()

func decodeShortName(raw [11]byte) string {
	base := trimSpaces(raw[0:8])
	ext := trimSpaces(raw[8:11])
	if len(base) > 0 && base[0] == 0x05 {
		base = append([]byte{0xE5}, base[1:]...)
	}
	name := string(base)
	if decoded, err := oem437.Bytes(base); err == nil {
		name = string(decoded)
	}
	if len(ext) > 0 {
		extStr := string(ext)
		if decoded, err := oem437.Bytes(ext); err == nil {
			extStr = string(decoded)
		}
		name += "." + extStr
	}
	return name
}

func trimSpaces(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == ' ' {
		i--
	}
	out := make([]byte, i)
	copy(out, b[:i])
	return out
}

// encodeShortName renders name as an 11-byte 8.3 slot. It is a
// simplification: names that don't already fit 8.3 are truncated rather
// than given a "~1"-style numeric tail, matching the size this driver's
// feature set targets (see DESIGN.md).
func encodeShortName(name string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	if name == "." || name == ".." {
		copy(out[0:len(name)], name)
		return out
	}
	base, ext := name, ""
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			base, ext = name[:i], name[i+1:]
			break
		}
	}
	if len(base) > 8 {
		base = base[:8]
	}
	if len(ext) > 3 {
		ext = ext[:3]
	}
	enc := charmap.CodePage437.NewEncoder()
	if b, err := enc.String(base); err == nil {
		copy(out[0:8], upperASCII(b))
	} else {
		copy(out[0:8], upperASCII(base))
	}
	if b, err := enc.String(ext); err == nil {
		copy(out[8:11], upperASCII(b))
	} else {
		copy(out[8:11], upperASCII(ext))
	}
	return out
}

func upperASCII(s string) []byte {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return b
}

// dirEntry is one parsed 32-byte directory entry.
type dirEntry struct {
	name       string
	attr       byte
	cluster    uint32
	size       uint32
	byteOffset uint32 // location of this entry within its parent region, for in-place updates
}

func parseDirEntry(b []byte, byteOffset uint32, is32 bool) (dirEntry, bool) {
	if b[0] == 0x00 {
		return dirEntry{}, false // end of directory
	}
	if b[0] == 0xE5 || b[11] == attrLong {
		return dirEntry{}, true // deleted or LFN continuation: skip, keep scanning
	}
	var raw [11]byte
	copy(raw[:], b[0:11])
	hi := uint32(0)
	if is32 {
		hi = uint32(le16(b[20:22]))
	}
	lo := uint32(le16(b[26:28]))
	return dirEntry{
		name:       decodeShortName(raw),
		attr:       b[11],
		cluster:    hi<<16 | lo,
		size:       le32(b[28:32]),
		byteOffset: byteOffset,
	}, true
}

func writeDirEntry(b []byte, name string, attr byte, cluster, size uint32, is32 bool) {
	short := encodeShortName(name)
	copy(b[0:11], short[:])
	b[11] = attr
	putLE16(b[20:22], uint16(cluster>>16))
	if !is32 {
		putLE16(b[20:22], 0)
	}
	putLE16(b[26:28], uint16(cluster))
	putLE32(b[28:32], size)
}

// dirRegion returns the byte range holding a directory's entries:
// either the fixed FAT16 root area, or (for FAT32 root and every
// subdirectory) the concatenation of its cluster chain.
func (v *volume) dirRegion(in *dirInode) []byte {
	if in.cluster == 0 {
		return v.data[v.rootDirByte : v.rootDirByte+v.rootDirBytes]
	}
	var out []byte
	for _, c := range v.chain(in.cluster) {
		out = append(out, v.readCluster(c)...)
	}
	return out
}

func (v *volume) regionByteOffsetOf(in *dirInode, localOffset uint32) uint32 {
	if in.cluster == 0 {
		return v.rootDirByte + localOffset
	}
	clusterSize := v.clusterSize()
	idx := int(localOffset / clusterSize)
	chain := v.chain(in.cluster)
	if idx >= len(chain) {
		return 0
	}
	return v.clusterByte(chain[idx]) + localOffset%clusterSize
}
