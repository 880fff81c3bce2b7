package fat

import (
	"io"
	"testing"

	"ark/internal/vfs"
)

// memDevice is an in-memory vfs.File backing a synthetic FAT16 image,
// standing in for a host disk file in these package-level tests.
type memDevice struct {
	data []byte
	pos  int64
}

func (d *memDevice) Read(b []byte) (int, error) {
	if d.pos >= int64(len(d.data)) {
		return 0, io.EOF
	}
	n := copy(b, d.data[d.pos:])
	d.pos += int64(n)
	return n, nil
}

func (d *memDevice) Write(b []byte) (int, error) {
	end := d.pos + int64(len(b))
	if end > int64(len(d.data)) {
		grown := make([]byte, end)
		copy(grown, d.data)
		d.data = grown
	}
	n := copy(d.data[d.pos:end], b)
	d.pos = end
	return n, nil
}

func (d *memDevice) Seek(off int64, whence int) (int64, error) {
	switch whence {
	case 0:
		d.pos = off
	case 1:
		d.pos += off
	case 2:
		d.pos = int64(len(d.data)) + off
	}
	return d.pos, nil
}

func (d *memDevice) Close() error       { return nil }
func (d *memDevice) Dentry() *vfs.Dentry { return nil }

// buildFAT16Image hand-assembles a tiny, valid FAT16 volume: one
// reserved sector, one 512-byte FAT, a 512-byte (16-entry) root
// directory, and four 512-byte data clusters. Cluster 2 holds a single
// file, "HELLO.TXT", whose content is "abc".
func buildFAT16Image(t *testing.T) []byte {
	t.Helper()
	const (
		bps              = 512
		reservedSectors  = 1
		fatSizeSectors   = 1
		rootEntries      = 16
		dataClusters     = 4
	)
	rootDirBytes := rootEntries * dirEntSize
	total := (reservedSectors+fatSizeSectors)*bps + rootDirBytes + dataClusters*bps
	img := make([]byte, total)

	putLE16(img[11:13], bps)
	img[13] = 1 // sectorsPerCluster
	putLE16(img[14:16], reservedSectors)
	img[16] = 1 // numFATs
	putLE16(img[17:19], rootEntries)
	putLE16(img[22:24], fatSizeSectors)

	fatStart := reservedSectors * bps
	putLE16(img[fatStart+2*2:fatStart+2*2+2], eocMin16) // cluster 2 = EOC

	rootStart := fatStart + fatSizeSectors*bps
	writeDirEntry(img[rootStart:rootStart+dirEntSize], "HELLO.TXT", 0, 2, 3, false)

	dataStart := rootStart + rootDirBytes
	copy(img[dataStart:], []byte("abc"))

	return img
}

func mountTestImage(t *testing.T) (vfs.Inode, *memDevice) {
	t.Helper()
	dev := &memDevice{data: buildFAT16Image(t)}
	root, err := (FS{}).Mount(dev, nil)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return root, dev
}

func TestMountAndReadDir(t *testing.T) {
	root, _ := mountTestImage(t)
	entries, err := root.ReadDir()
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "HELLO.TXT" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestLookupAndReadFile(t *testing.T) {
	root, _ := mountTestImage(t)
	inode, err := root.Lookup("HELLO.TXT")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	f, err := inode.Open(0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 16)
	n, _ := f.Read(buf)
	if string(buf[:n]) != "abc" {
		t.Fatalf("read %q, want %q", buf[:n], "abc")
	}
}

func TestMkdirAndRmdir(t *testing.T) {
	root, _ := mountTestImage(t)
	dir, err := root.Mkdir("SUBDIR")
	if err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	entries, err := dir.ReadDir()
	if err != nil {
		t.Fatalf("ReadDir on new dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("fresh subdir should be empty of non-dot entries, got %+v", entries)
	}
	if err := root.Rmdir("SUBDIR"); err != nil {
		t.Fatalf("Rmdir: %v", err)
	}
}

func TestUnlinkRejectsDirectory(t *testing.T) {
	root, _ := mountTestImage(t)
	if _, err := root.Mkdir("SUBDIR"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := root.Unlink("SUBDIR"); err == nil {
		t.Fatal("expected Unlink on a directory to fail")
	}
}
