package fat

import (
	"ark/internal/defs"
	"ark/internal/vfs"
)

// FS implements vfs.Filesystem, registered into a Kernel's Filesystems
// map under the mount(2) fstype string "vfat" (see Kernel.Filesystems'
// doc comment in internal/syscall).
type FS struct{}

// Mount loads device's entire contents into memory, parses its boot
// sector, and returns the root directory inode — mirroring
// original_source/src/filesystem/fatfs.rs's FatFS::mount, minus the
// external fatfs crate it wraps (see fat.go's package doc).
func (FS) Mount(device vfs.File, mountPoint *vfs.Dentry) (vfs.Inode, error) {
	data, err := readAllSeekable(device)
	if err != nil {
		return nil, err
	}
	vol, perr := parseVolume(data, device)
	if perr != nil {
		return nil, perr
	}
	if vol.is32 {
		return &dirInode{vol: vol, cluster: vol.rootCluster}, nil
	}
	return &dirInode{vol: vol, cluster: 0}, nil
}

// readAllSeekable reads a device file fully into memory by seeking to
// its end to learn its size, then reading from the start. It goes
// through the vfs.File interface so fat never needs to import hostio or
// blockdev directly.
func readAllSeekable(f vfs.File) ([]byte, error) {
	size, err := f.Seek(0, 2)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		if n == 0 && err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	if total < len(buf) {
		return nil, defs.EIO
	}
	return buf, nil
}
