// Package vfs implements the dentry tree, path resolution, mount
// table, and the File/Inode contract a filesystem driver must satisfy
// (§4.7, §6, §12 of SPEC_FULL.md). It is the only surface kernel code
// uses to reach a filesystem; the FAT driver itself (internal/fat) is
// an external collaborator behind this boundary, per §1's scope note.
//
// Grounded on biscuit's fs package (the dentry-cache, lookup-then-
// install shape) and original_source/src/filesystem/{mod,vfs}.rs, with
// the singleflight collapse of concurrent lookup misses added per
// SPEC_FULL.md §10 (golang.org/x/sync/singleflight).
package vfs

import (
	"strings"
	"sync"
	"weak"

	"golang.org/x/sync/singleflight"

	"ark/internal/defs"
)

// DentryType classifies what a dentry names.
type DentryType int

const (
	TypeFile DentryType = iota
	TypeDir
	TypeDevice
)

// InodeStat mirrors a file's stat information, the §6 contract.
type InodeStat struct {
	Ino       uint64
	Mode      uint32
	Nlink     uint32
	Size      uint64
	BlockSize uint32
}

// Inode is the filesystem-object boundary a driver implements (§6).
type Inode interface {
	Lookup(name string) (Inode, error)
	Link(name string, target Inode) error
	Unlink(name string) error
	Mkdir(name string) (Inode, error)
	Rmdir(name string) error
	ReadDir() ([]DirEntryInfo, error)
	Open(flags int) (File, error)
	GetDentryType() DentryType
	GetStat() (InodeStat, error)
}

// DirEntryInfo is one entry a driver's ReadDir reports, before it is
// wrapped in a cached *Dentry by the VFS layer.
type DirEntryInfo struct {
	Name  string
	Type  DentryType
	Inode Inode
}

// File is the open-file boundary a driver implements (§6).
type File interface {
	Seek(off int64, whence int) (int64, error)
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Close() error
	Dentry() *Dentry
}

// Filesystem is implemented by a driver (e.g. internal/fat) and
// consumed only through Mount (§6, §12).
type Filesystem interface {
	Mount(device File, mountPoint *Dentry) (Inode, error)
}

// Dentry is a directory-entry cache node linking a name to an inode
// (§3). Root's parent is nil; mount points have their Inode field
// replaced by the mounted filesystem's root inode (§4.7).
type Dentry struct {
	parent weak.Pointer[Dentry]
	Name   string
	Type   DentryType

	mu    sync.Mutex
	inode Inode

	childrenMu sync.Mutex
	children   map[string]*Dentry
	loaded     sync.Once
	loadErr    error

	group singleflight.Group
}

func newDentry(parent *Dentry, name string, typ DentryType, inode Inode) *Dentry {
	d := &Dentry{Name: name, Type: typ, inode: inode, children: map[string]*Dentry{}}
	if parent != nil {
		d.parent = weak.Make(parent)
	}
	return d
}

// Parent returns the parent dentry, or nil at the root or if the
// parent has since been evicted (append-only cache today, §9.5, so in
// practice this only returns nil for root).
func (d *Dentry) Parent() *Dentry { return d.parent.Value() }

// Inode returns the dentry's backing inode (nil for a negative dentry
// that names a lookup miss cached as absent — not currently produced,
// but the field stays optional to match §3's "inode: optional").
func (d *Dentry) Inode() Inode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inode
}

func (d *Dentry) setInode(i Inode) {
	d.mu.Lock()
	d.inode = i
	d.mu.Unlock()
}

// ensureChildrenLoaded lazily populates the entire children set from
// the inode's ReadDir on first call (§4.7's get_child contract), using
// sync.Once as the "once-cell" §3 calls for.
func (d *Dentry) ensureChildrenLoaded() error {
	d.loaded.Do(func() {
		inode := d.Inode()
		if inode == nil {
			return
		}
		entries, err := inode.ReadDir()
		if err != nil {
			d.loadErr = err
			return
		}
		d.childrenMu.Lock()
		for _, e := range entries {
			if _, exists := d.children[e.Name]; !exists {
				d.children[e.Name] = newDentry(d, e.Name, e.Type, e.Inode)
			}
		}
		d.childrenMu.Unlock()
	})
	return d.loadErr
}

// GetChild returns the i'th child in a deterministic (name-sorted)
// order after the children set has been fully loaded, backing DirFile
// (§4.7).
func (d *Dentry) GetChild(i int) (*Dentry, bool) {
	if err := d.ensureChildrenLoaded(); err != nil {
		return nil, false
	}
	d.childrenMu.Lock()
	defer d.childrenMu.Unlock()
	names := make([]string, 0, len(d.children))
	for n := range d.children {
		names = append(names, n)
	}
	sortStrings(names)
	if i < 0 || i >= len(names) {
		return nil, false
	}
	return d.children[names[i]], true
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// lookupChild finds or lazily creates the child dentry named name,
// consulting the cache first and the parent inode's Lookup on a cache
// miss. Concurrent misses for the same name are collapsed into one
// inode lookup via singleflight (SPEC_FULL.md §10).
func (d *Dentry) lookupChild(name string) (*Dentry, defs.Err_t) {
	d.childrenMu.Lock()
	if c, ok := d.children[name]; ok {
		d.childrenMu.Unlock()
		return c, 0
	}
	d.childrenMu.Unlock()

	v, err, _ := d.group.Do(name, func() (interface{}, error) {
		d.childrenMu.Lock()
		if c, ok := d.children[name]; ok {
			d.childrenMu.Unlock()
			return c, nil
		}
		d.childrenMu.Unlock()

		inode := d.Inode()
		if inode == nil {
			return nil, defs.ENOENT
		}
		child, lookupErr := inode.Lookup(name)
		if lookupErr != nil {
			return nil, lookupErr
		}
		nd := newDentry(d, name, child.GetDentryType(), child)
		d.childrenMu.Lock()
		if existing, ok := d.children[name]; ok {
			d.childrenMu.Unlock()
			return existing, nil
		}
		d.children[name] = nd
		d.childrenMu.Unlock()
		return nd, nil
	})
	if err != nil {
		if e, ok := err.(defs.Err_t); ok {
			return nil, e
		}
		return nil, defs.EIO
	}
	return v.(*Dentry), 0
}

// VFS owns the dentry tree rooted at "/" and the mount table (§4.7).
type VFS struct {
	mu    sync.Mutex
	Root  *Dentry
	mnts  map[*Dentry]Filesystem
}

// New creates a VFS with a root dentry and a pre-created /dev, as §4.7
// specifies.
func New() *VFS {
	root := newDentry(nil, "", TypeDir, nil)
	dev := newDentry(root, "dev", TypeDir, nil)
	root.children["dev"] = dev
	return &VFS{Root: root, mnts: map[*Dentry]Filesystem{}}
}

// splitPath breaks path into non-empty components, honouring neither
// "." nor ".." specially here (FromPath handles those while walking).
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FromPath walks path segment by segment starting at cwd for relative
// paths (or Root for an absolute path), honouring ".", "..", and empty
// components, and installing any newly discovered dentry (§4.7).
func (v *VFS) FromPath(path string, cwd *Dentry) (*Dentry, defs.Err_t) {
	cur := cwd
	if strings.HasPrefix(path, "/") || cur == nil {
		cur = v.Root
	}
	for _, seg := range splitPath(path) {
		switch seg {
		case ".":
			continue
		case "..":
			if p := cur.Parent(); p != nil {
				cur = p
			}
			continue
		default:
			child, err := cur.lookupChild(seg)
			if err != 0 {
				return nil, err
			}
			cur = child
		}
	}
	return cur, 0
}

// Mount calls the filesystem's Mount on device, which the caller has
// already opened (sysMount opens it by path), and replaces the
// mount-point dentry's inode with the returned root inode (§4.7).
func (v *VFS) Mount(device File, mountPoint *Dentry, fs Filesystem) defs.Err_t {
	root, err := fs.Mount(device, mountPoint)
	if err != nil {
		return defs.EIO
	}
	v.mu.Lock()
	v.mnts[mountPoint] = fs
	v.mu.Unlock()
	mountPoint.setInode(root)
	mountPoint.loaded = sync.Once{}
	return 0
}

// Umount removes a filesystem previously installed with Mount.
func (v *VFS) Umount(mountPoint *Dentry) defs.Err_t {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.mnts[mountPoint]; !ok {
		return defs.EINVAL
	}
	delete(v.mnts, mountPoint)
	mountPoint.setInode(nil)
	return 0
}
