package vfs

import (
	"testing"

	"ark/internal/defs"
)

// fakeInode is a minimal in-memory Inode used to exercise dentry
// lookup/caching without pulling in internal/fat.
type fakeInode struct {
	name     string
	typ      DentryType
	children map[string]*fakeInode
	lookups  int
}

func newFakeDir(name string) *fakeInode {
	return &fakeInode{name: name, typ: TypeDir, children: map[string]*fakeInode{}}
}

func (f *fakeInode) Lookup(name string) (Inode, error) {
	f.lookups++
	c, ok := f.children[name]
	if !ok {
		return nil, defsENOENT
	}
	return c, nil
}

func (f *fakeInode) Link(name string, target Inode) error { return nil }
func (f *fakeInode) Unlink(name string) error              { return nil }
func (f *fakeInode) Mkdir(name string) (Inode, error) {
	c := newFakeDir(name)
	f.children[name] = c
	return c, nil
}
func (f *fakeInode) Rmdir(name string) error { delete(f.children, name); return nil }
func (f *fakeInode) ReadDir() ([]DirEntryInfo, error) {
	out := make([]DirEntryInfo, 0, len(f.children))
	for n, c := range f.children {
		out = append(out, DirEntryInfo{Name: n, Type: c.typ, Inode: c})
	}
	return out, nil
}
func (f *fakeInode) Open(flags int) (File, error)      { return nil, nil }
func (f *fakeInode) GetDentryType() DentryType         { return f.typ }
func (f *fakeInode) GetStat() (InodeStat, error)       { return InodeStat{}, nil }

func TestFromPathAbsoluteAndRelative(t *testing.T) {
	v := New()
	home := newFakeDir("home")
	home.children["a"] = newFakeDir("a")
	v.Root.setInode(rootInode(home))

	d, errno := v.FromPath("/a", nil)
	if errno != 0 {
		t.Fatalf("expected success, got errno %d", errno)
	}
	if d.Name != "a" {
		t.Fatalf("expected dentry named a, got %q", d.Name)
	}

	back, errno := v.FromPath("..", d)
	if errno != 0 {
		t.Fatalf("expected success walking .., got errno %d", errno)
	}
	if back != v.Root {
		t.Fatal("expected .. from /a to reach root")
	}

	same, errno := v.FromPath(".", d)
	if errno != 0 || same != d {
		t.Fatal("expected . to stay at the same dentry")
	}
}

func TestLookupChildCachesAcrossCalls(t *testing.T) {
	v := New()
	home := newFakeDir("home")
	home.children["x"] = newFakeDir("x")
	v.Root.setInode(rootInode(home))

	first, errno := v.FromPath("/x", nil)
	if errno != 0 {
		t.Fatalf("first lookup failed: %d", errno)
	}
	second, errno := v.FromPath("/x", nil)
	if errno != 0 {
		t.Fatalf("second lookup failed: %d", errno)
	}
	if first != second {
		t.Fatal("expected the same cached dentry on repeated lookup")
	}
	if home.lookups != 1 {
		t.Fatalf("expected exactly one inode Lookup call, got %d", home.lookups)
	}
}

func TestFromPathMissingReturnsENOENT(t *testing.T) {
	v := New()
	home := newFakeDir("home")
	v.Root.setInode(rootInode(home))

	_, errno := v.FromPath("/nope", nil)
	if errno != defs.ENOENT {
		t.Fatalf("errno = %d, want ENOENT for a lookup miss", errno)
	}
}

func TestMountReplacesInode(t *testing.T) {
	v := New()
	fs := &fakeFilesystem{root: newFakeDir("fsroot")}
	mountPoint, errno := v.FromPath("/dev", nil)
	if errno != 0 {
		t.Fatalf("expected /dev to exist, got %d", errno)
	}
	if errno := v.Mount(nil, mountPoint, fs); errno != 0 {
		t.Fatalf("mount failed: %d", errno)
	}
	if mountPoint.Inode() != fs.root {
		t.Fatal("expected mount point inode to be replaced by the mounted root")
	}
	if errno := v.Umount(mountPoint); errno != 0 {
		t.Fatalf("umount failed: %d", errno)
	}
	if mountPoint.Inode() != nil {
		t.Fatal("expected umount to clear the inode")
	}
}

// rootInode wraps a fakeInode as the VFS's root backing inode, since
// New() starts with a nil root inode (the in-memory root dentry has no
// driver of its own until something mounts one).
func rootInode(i *fakeInode) Inode { return i }

type fakeFilesystem struct{ root *fakeInode }

func (f *fakeFilesystem) Mount(device File, mountPoint *Dentry) (Inode, error) {
	return f.root, nil
}

// defsENOENT is the miss the fake driver reports. lookupChild passes a
// defs.Err_t through unchanged and turns any other error into EIO.
var defsENOENT error = defs.ENOENT
