package fat

import (
	"ark/internal/defs"
	"ark/internal/vfs"
)

// Linux open(2) flag bits the dirent-level syscalls already expose
// through internal/syscall; fat's Open acts only on O_TRUNC, and the
// access-mode bits are not checked.
const (
	flagAccMask = 0x3
	flagWronly  = 0x1
	flagRdwr    = 0x2
	flagTrunc   = 0x200
)

// dirInode is a directory: either the FAT32 root (cluster = its real
// root cluster), a FAT16 fixed root (cluster == 0), or any
// subdirectory (cluster == its first data cluster).
type dirInode struct {
	vol     *volume
	cluster uint32
}

// fileInode is a regular file: a starting cluster (0 for a file with no
// data yet), a cached size, and the byte offset of its own 32-byte
// directory entry so writes can update size/cluster in place.
type fileInode struct {
	vol        *volume
	cluster    uint32
	size       uint32
	entryByte  uint32
}

func (v *volume) mkInode(e dirEntry) vfs.Inode {
	if e.attr&attrDir != 0 {
		return &dirInode{vol: v, cluster: e.cluster}
	}
	return &fileInode{vol: v, cluster: e.cluster, size: e.size, entryByte: e.byteOffset}
}

func isDotName(name string) bool { return name == "." || name == ".." }

func (d *dirInode) findEntry(name string) (dirEntry, bool) {
	region := d.vol.dirRegion(d)
	for off := 0; off+dirEntSize <= len(region); off += dirEntSize {
		e, cont := parseDirEntry(region[off:off+dirEntSize], uint32(off), d.vol.is32)
		if !cont {
			break
		}
		if e.name == "" || isDotName(e.name) || e.attr&attrVolID != 0 {
			continue
		}
		if equalFold(e.name, name) {
			return e, true
		}
	}
	return dirEntry{}, false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'a' && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if cb >= 'a' && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func (d *dirInode) Lookup(name string) (vfs.Inode, error) {
	d.vol.mu.Lock()
	defer d.vol.mu.Unlock()
	e, ok := d.findEntry(name)
	if !ok {
		return nil, defs.ENOENT
	}
	return d.vol.mkInode(e), nil
}

func (d *dirInode) ReadDir() ([]vfs.DirEntryInfo, error) {
	d.vol.mu.Lock()
	defer d.vol.mu.Unlock()
	region := d.vol.dirRegion(d)
	var out []vfs.DirEntryInfo
	for off := 0; off+dirEntSize <= len(region); off += dirEntSize {
		e, cont := parseDirEntry(region[off:off+dirEntSize], uint32(off), d.vol.is32)
		if !cont {
			break
		}
		if e.name == "" || isDotName(e.name) || e.attr&attrVolID != 0 {
			continue
		}
		typ := vfs.TypeFile
		if e.attr&attrDir != 0 {
			typ = vfs.TypeDir
		}
		out = append(out, vfs.DirEntryInfo{Name: e.name, Type: typ, Inode: d.vol.mkInode(e)})
	}
	return out, nil
}

// growDirRegion appends one more cluster to a subdirectory's chain,
// zero-filling it, and returns the local byte offset the new cluster
// starts at. It must not be called for the FAT16 fixed root, which
// cannot grow.
func (d *dirInode) growDirRegion() (uint32, error) {
	if d.cluster == 0 && !d.vol.is32 {
		return 0, defs.ENOSPC
	}
	chain := d.vol.chain(d.cluster)
	var prev uint32
	if len(chain) > 0 {
		prev = chain[len(chain)-1]
	}
	var newCluster uint32
	var err error
	if d.cluster == 0 {
		newCluster, err = d.vol.allocCluster(0)
		if err == nil {
			d.cluster = newCluster
		}
	} else {
		newCluster, err = d.vol.allocCluster(prev)
	}
	if err != nil {
		return 0, err
	}
	buf := d.vol.readCluster(newCluster)
	for i := range buf {
		buf[i] = 0
	}
	return uint32(len(chain)) * d.vol.clusterSize(), nil
}

// freeSlot finds a deleted-or-unused 32-byte slot in the directory's
// region, growing the region by one cluster if none exists (fixed
// FAT16 root is full-only: no growth possible).
func (d *dirInode) freeSlot() (uint32, error) {
	region := d.vol.dirRegion(d)
	for off := 0; off+dirEntSize <= len(region); off += dirEntSize {
		b := region[off]
		if b == 0x00 || b == 0xE5 {
			return uint32(off), nil
		}
	}
	localOff, err := d.growDirRegion()
	if err != nil {
		return 0, err
	}
	return localOff, nil
}

func (d *dirInode) writeEntryAt(localOff uint32, name string, attr byte, cluster, size uint32) {
	byteOff := d.vol.regionByteOffsetOf(d, localOff)
	writeDirEntry(d.vol.data[byteOff:byteOff+dirEntSize], name, attr, cluster, size, d.vol.is32)
}

func (d *dirInode) Mkdir(name string) (vfs.Inode, error) {
	d.vol.mu.Lock()
	defer d.vol.mu.Unlock()
	if _, ok := d.findEntry(name); ok {
		return nil, defs.EEXIST
	}
	newCluster, err := d.vol.allocCluster(0)
	if err != nil {
		return nil, err
	}
	buf := d.vol.readCluster(newCluster)
	for i := range buf {
		buf[i] = 0
	}
	writeDirEntry(buf[0:dirEntSize], ".", attrDir, newCluster, 0, d.vol.is32)
	parentCluster := d.cluster
	writeDirEntry(buf[dirEntSize:2*dirEntSize], "..", attrDir, parentCluster, 0, d.vol.is32)

	slot, err := d.freeSlot()
	if err != nil {
		d.vol.freeChain(newCluster)
		return nil, err
	}
	d.writeEntryAt(slot, name, attrDir, newCluster, 0)
	return &dirInode{vol: d.vol, cluster: newCluster}, nil
}

func (d *dirInode) Rmdir(name string) error {
	d.vol.mu.Lock()
	defer d.vol.mu.Unlock()
	e, ok := d.findEntry(name)
	if !ok {
		return defs.ENOENT
	}
	if e.attr&attrDir == 0 {
		return defs.ENOTDIR
	}
	child := &dirInode{vol: d.vol, cluster: e.cluster}
	region := d.vol.dirRegion(child)
	for off := 0; off+dirEntSize <= len(region); off += dirEntSize {
		ce, cont := parseDirEntry(region[off:off+dirEntSize], uint32(off), d.vol.is32)
		if !cont {
			break
		}
		if ce.name != "" && !isDotName(ce.name) && ce.attr&attrVolID == 0 {
			return defs.ENOTEMPTY
		}
	}
	d.vol.data[d.vol.regionByteOffsetOf(d, e.byteOffset)] = 0xE5
	d.vol.freeChain(e.cluster)
	return nil
}

func (d *dirInode) Unlink(name string) error {
	d.vol.mu.Lock()
	defer d.vol.mu.Unlock()
	e, ok := d.findEntry(name)
	if !ok {
		return defs.ENOENT
	}
	if e.attr&attrDir != 0 {
		return defs.EISDIR
	}
	d.vol.data[d.vol.regionByteOffsetOf(d, e.byteOffset)] = 0xE5
	d.vol.freeChain(e.cluster)
	return nil
}

// Link is unsupported: FAT has no concept of multiple directory
// entries sharing one cluster chain's ownership accounting.
func (d *dirInode) Link(name string, target vfs.Inode) error { return defs.ENOSYS }

func (d *dirInode) Open(flags int) (vfs.File, error) { return nil, defs.EISDIR }

func (d *dirInode) GetDentryType() vfs.DentryType { return vfs.TypeDir }

func (d *dirInode) GetStat() (vfs.InodeStat, error) {
	return vfs.InodeStat{Ino: uint64(d.cluster), Mode: 0755 | 1<<31, Nlink: 1, BlockSize: d.vol.clusterSize()}, nil
}

func (f *fileInode) Lookup(name string) (vfs.Inode, error)         { return nil, defs.ENOTDIR }
func (f *fileInode) Link(name string, target vfs.Inode) error      { return defs.ENOTDIR }
func (f *fileInode) Unlink(name string) error                      { return defs.ENOTDIR }
func (f *fileInode) Mkdir(name string) (vfs.Inode, error)          { return nil, defs.ENOTDIR }
func (f *fileInode) Rmdir(name string) error                       { return defs.ENOTDIR }
func (f *fileInode) ReadDir() ([]vfs.DirEntryInfo, error)           { return nil, defs.ENOTDIR }
func (f *fileInode) GetDentryType() vfs.DentryType                 { return vfs.TypeFile }

func (f *fileInode) GetStat() (vfs.InodeStat, error) {
	return vfs.InodeStat{Ino: uint64(f.cluster), Mode: 0644, Nlink: 1, Size: uint64(f.size), BlockSize: f.vol.clusterSize()}, nil
}

func (f *fileInode) Open(flags int) (vfs.File, error) {
	f.vol.mu.Lock()
	if flags&flagTrunc != 0 {
		f.vol.freeChain(f.cluster)
		f.cluster = 0
		f.size = 0
		f.writeBackLocked()
	}
	f.vol.mu.Unlock()
	return &fatFile{inode: f}, nil
}

// writeBackLocked flushes the inode's cached cluster/size into its own
// on-disk directory entry. Callers must hold vol.mu.
func (f *fileInode) writeBackLocked() {
	b := f.vol.data[f.entryByte : f.entryByte+dirEntSize]
	putLE16(b[20:22], uint16(f.cluster>>16))
	if !f.vol.is32 {
		putLE16(b[20:22], 0)
	}
	putLE16(b[26:28], uint16(f.cluster))
	putLE32(b[28:32], f.size)
}

// fatFile is an open regular file: cluster-chain reads/writes through
// its backing fileInode, tracking a byte position like any other
// vfs.File implementation in this tree (compare internal/vfs/dirfile.go
// and internal/vfs/pipe.go).
type fatFile struct {
	inode *fileInode
	pos   int64
}

func (ff *fatFile) Dentry() *vfs.Dentry { return nil }

func (ff *fatFile) Seek(off int64, whence int) (int64, error) {
	switch whence {
	case 0:
		ff.pos = off
	case 1:
		ff.pos += off
	case 2:
		ff.pos = int64(ff.inode.size) + off
	default:
		return 0, defs.EINVAL
	}
	if ff.pos < 0 {
		ff.pos = 0
		return 0, defs.EINVAL
	}
	return ff.pos, nil
}

func (ff *fatFile) Read(buf []byte) (int, error) {
	f := ff.inode
	f.vol.mu.Lock()
	defer f.vol.mu.Unlock()

	if ff.pos >= int64(f.size) {
		return 0, nil
	}
	remaining := int64(f.size) - ff.pos
	if int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}
	clusterSize := int64(f.vol.clusterSize())
	chain := f.vol.chain(f.cluster)
	n := 0
	for n < len(buf) {
		idx := int((ff.pos + int64(n)) / clusterSize)
		if idx >= len(chain) {
			break
		}
		clusterOff := (ff.pos + int64(n)) % clusterSize
		src := f.vol.readCluster(chain[idx])
		m := copy(buf[n:], src[clusterOff:])
		n += m
	}
	ff.pos += int64(n)
	return n, nil
}

func (ff *fatFile) Write(buf []byte) (int, error) {
	f := ff.inode
	f.vol.mu.Lock()
	defer f.vol.mu.Unlock()

	clusterSize := int64(f.vol.clusterSize())
	n := 0
	for n < len(buf) {
		absPos := ff.pos + int64(n)
		idx := int(absPos / clusterSize)
		chain := f.vol.chain(f.cluster)
		for len(chain) <= idx {
			var prev uint32
			if len(chain) > 0 {
				prev = chain[len(chain)-1]
			}
			newC, err := f.vol.allocCluster(prev)
			if err != nil {
				ff.pos += int64(n)
				if uint32(ff.pos) > f.size {
					f.size = uint32(ff.pos)
					f.writeBackLocked()
				}
				return n, err
			}
			if f.cluster == 0 {
				f.cluster = newC
			}
			chain = f.vol.chain(f.cluster)
		}
		clusterOff := absPos % clusterSize
		dst := f.vol.readCluster(chain[idx])
		m := copy(dst[clusterOff:], buf[n:])
		n += m
	}
	ff.pos += int64(n)
	if uint32(ff.pos) > f.size {
		f.size = uint32(ff.pos)
	}
	f.writeBackLocked()
	return n, nil
}

func (ff *fatFile) Close() error {
	return ff.inode.vol.flush()
}
