package proc

import (
	"ark/internal/defs"
	"ark/internal/vfs"
)

// AllocFd installs f in the lowest free fd slot, counting from 0 (no
// fd-3 watermark is enforced; 0/1/2 are simply pre-populated by Spawn),
// returning ENFILE-equivalent EINVAL when the table is full — biscuit
// and this kernel alike keep a small fixed-size table rather than a
// growable one (§4.5, §6).
func (p *Process) AllocFd(f vfs.File) (int, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cur := range p.data.Files {
		if cur == nil {
			p.data.Files[i] = f
			return i, 0
		}
	}
	return 0, defs.EINVAL
}

// GetFile returns the file installed at fd, or EBADF.
func (p *Process) GetFile(fd int) (vfs.File, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fd < 0 || fd >= NumFiles || p.data.Files[fd] == nil {
		return nil, defs.EBADF
	}
	return p.data.Files[fd], 0
}

// CloseFd closes and clears fd.
func (p *Process) CloseFd(fd int) defs.Err_t {
	p.mu.Lock()
	f := p.fileLocked(fd)
	if f == nil {
		p.mu.Unlock()
		return defs.EBADF
	}
	p.data.Files[fd] = nil
	p.mu.Unlock()
	return errOrZero(f.Close())
}

func (p *Process) fileLocked(fd int) vfs.File {
	if fd < 0 || fd >= NumFiles {
		return nil
	}
	return p.data.Files[fd]
}

// DupFd installs the same underlying file at a fresh lowest-free slot
// (dup, syscall 23).
func (p *Process) DupFd(oldfd int) (int, defs.Err_t) {
	f, err := p.GetFile(oldfd)
	if err != 0 {
		return 0, err
	}
	return p.AllocFd(f)
}

// Dup3Fd installs the same underlying file at newfd exactly, closing
// whatever was there first (dup3, syscall 24). EINVAL if oldfd==newfd
// per the Linux dup3 contract this ABI mirrors.
func (p *Process) Dup3Fd(oldfd, newfd int) defs.Err_t {
	if oldfd == newfd {
		return defs.EINVAL
	}
	f, err := p.GetFile(oldfd)
	if err != 0 {
		return err
	}
	p.mu.Lock()
	if newfd < 0 || newfd >= NumFiles {
		p.mu.Unlock()
		return defs.EBADF
	}
	old := p.data.Files[newfd]
	p.data.Files[newfd] = f
	p.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return 0
}

func errOrZero(err error) defs.Err_t {
	if err == nil {
		return 0
	}
	if e, ok := err.(defs.Err_t); ok {
		return e
	}
	return defs.EIO
}
