package vfs

import "ark/internal/defs"

// DirFile is the File returned for an opened directory, backing
// getdents64 by walking the dentry's already-cached (and lazily
// populated) child list rather than a byte stream — directories have
// no Read/Write contract in this kernel (§6, §12).
type DirFile struct {
	d   *Dentry
	pos int
}

// NewDirFile wraps d for directory-style reads. Shared across every
// filesystem driver so none has to reimplement getdents64 enumeration.
func NewDirFile(d *Dentry) *DirFile { return &DirFile{d: d} }

func (f *DirFile) Dentry() *Dentry { return f.d }

func (f *DirFile) Read(buf []byte) (int, error) { return 0, defs.EISDIR }

func (f *DirFile) Write(buf []byte) (int, error) { return 0, defs.EISDIR }

func (f *DirFile) Close() error { return nil }

// Seek treats the directory's byte offset as a plain child index, the
// same convention getdents64's implicit file-position advance relies
// on (SEEK_SET writes it back after a batch of entries).
func (f *DirFile) Seek(off int64, whence int) (int64, error) {
	switch whence {
	case 0:
		f.pos = int(off)
	case 1:
		f.pos += int(off)
	default:
		return 0, defs.EINVAL
	}
	return int64(f.pos), nil
}

// NextEntries returns up to max entries starting at the file's current
// position, advancing it past what it returns.
func (f *DirFile) NextEntries(max int) []DirEntryInfo {
	var out []DirEntryInfo
	for len(out) < max {
		child, ok := f.d.GetChild(f.pos)
		if !ok {
			break
		}
		out = append(out, DirEntryInfo{Name: child.Name, Type: child.Type, Inode: child.Inode()})
		f.pos++
	}
	return out
}
