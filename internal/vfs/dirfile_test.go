package vfs

import "testing"

func TestDirFileNextEntries(t *testing.T) {
	v := New()
	home := newFakeDir("home")
	home.children["a"] = newFakeDir("a")
	home.children["b"] = newFakeDir("b")
	v.Root.setInode(rootInode(home))

	d, errno := v.FromPath("/", nil)
	if errno != 0 {
		t.Fatalf("FromPath: %d", errno)
	}
	if err := d.ensureChildrenLoaded(); err != nil {
		t.Fatalf("ensureChildrenLoaded: %v", err)
	}

	f := NewDirFile(d)
	entries := f.NextEntries(1)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry on first batch, got %d", len(entries))
	}
	rest := f.NextEntries(10)
	if len(rest) != 2 {
		t.Fatalf("expected 2 remaining entries (b and the pre-created dev), got %d", len(rest))
	}
	if entries[0].Name == rest[0].Name {
		t.Fatalf("expected distinct entries across batches, got %q twice", entries[0].Name)
	}
}

func TestDirFileReadWriteRejected(t *testing.T) {
	v := New()
	home := newFakeDir("home")
	v.Root.setInode(rootInode(home))
	f := NewDirFile(v.Root)

	if _, err := f.Read(make([]byte, 4)); err == nil {
		t.Fatal("expected Read on a directory to fail")
	}
	if _, err := f.Write([]byte("x")); err == nil {
		t.Fatal("expected Write on a directory to fail")
	}
}

func TestDirFileSeek(t *testing.T) {
	v := New()
	home := newFakeDir("home")
	v.Root.setInode(rootInode(home))
	f := NewDirFile(v.Root)

	pos, err := f.Seek(2, 0)
	if err != nil || pos != 2 {
		t.Fatalf("Seek(2,0) = %d, %v", pos, err)
	}
	pos, err = f.Seek(1, 1)
	if err != nil || pos != 3 {
		t.Fatalf("Seek(1,1) = %d, %v", pos, err)
	}
	if _, err := f.Seek(0, 99); err == nil {
		t.Fatal("expected invalid whence to fail")
	}
}
