package syscall

import (
	"ark/internal/addr"
	"ark/internal/defs"
	"ark/internal/hartsim"
	"ark/internal/pagetable"
	"ark/internal/proc"
	"ark/internal/sched"
	"ark/internal/vfs"
	"ark/internal/vmm"
)

// AT_FDCWD, the dirfd value meaning "relative to the caller's cwd".
// mkdirat/unlinkat/openat accept any dirfd value here but resolve every
// relative path against cwd regardless — see DESIGN.md for why a
// per-fd-relative directory walk was left unimplemented.
const atFDCWD = -100

// openPath resolves path relative to p's cwd (dirfd is accepted for
// ABI compatibility but only AT_FDCWD is honoured — see DESIGN.md) and
// opens it with the inode driver's Open.
func (k *Kernel) openPath(p *proc.Process, path string, flags int) (vfs.File, defs.Err_t) {
	p.Lock()
	cwd := p.Data().Cwd
	p.Unlock()
	d, err := k.VFS.FromPath(path, cwd)
	if err != 0 {
		return nil, err
	}
	if d.Type == vfs.TypeDir {
		return vfs.NewDirFile(d), 0
	}
	inode := d.Inode()
	if inode == nil {
		return nil, defs.ENOENT
	}
	f, oerr := inode.Open(flags)
	if oerr != nil {
		return nil, asErrno(oerr)
	}
	return f, 0
}

func asErrno(err error) defs.Err_t {
	if err == nil {
		return 0
	}
	if e, ok := err.(defs.Err_t); ok {
		return e
	}
	return defs.EIO
}

func readAll(f vfs.File) ([]byte, defs.Err_t) {
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if err != nil {
			return nil, asErrno(err)
		}
		if n == 0 {
			return out, 0
		}
		out = append(out, buf[:n]...)
	}
}

func addrOf(v uint64) addr.VirtAddr { return addr.VirtAddr(v) }

func sysGetcwd(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	p.Lock()
	cwd := p.Data().Cwd
	p.Unlock()
	path := dentryPath(cwd)
	if k.Writer == nil {
		return 0, defs.ENOSYS
	}
	buf := append([]byte(path), 0)
	if uint64(len(buf)) > trap.A1() {
		return 0, defs.EINVAL
	}
	if err := k.Writer(trap.A0(), buf); err != 0 {
		return 0, err
	}
	return trap.A0(), 0
}

func dentryPath(d *vfs.Dentry) string {
	if d == nil || d.Parent() == nil {
		return "/"
	}
	var parts []string
	for cur := d; cur.Parent() != nil; cur = cur.Parent() {
		parts = append([]string{cur.Name}, parts...)
	}
	out := "/"
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}

func sysChdir(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	if k.Reader == nil {
		return 0, defs.ENOSYS
	}
	raw, err := k.Reader(trap.A0(), 256)
	if err != 0 {
		return 0, err
	}
	path := cStr(raw)
	p.Lock()
	cwd := p.Data().Cwd
	p.Unlock()
	d, ferr := k.VFS.FromPath(path, cwd)
	if ferr != 0 {
		return 0, ferr
	}
	if d.Type != vfs.TypeDir {
		return 0, defs.ENOTDIR
	}
	p.Lock()
	p.Data().Cwd = d
	p.Unlock()
	return 0, 0
}

func sysOpenat(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	if k.Reader == nil {
		return 0, defs.ENOSYS
	}
	raw, err := k.Reader(trap.A1(), 256)
	if err != 0 {
		return 0, err
	}
	flags := int(trap.A2())
	f, oerr := k.openPath(p, cStr(raw), flags)
	if oerr != 0 {
		return 0, oerr
	}
	fd, aerr := p.AllocFd(f)
	if aerr != 0 {
		f.Close()
		return 0, aerr
	}
	return uint64(fd), 0
}

func sysClose(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	return 0, p.CloseFd(int(trap.A0()))
}

func sysDup(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	fd, err := p.DupFd(int(trap.A0()))
	return uint64(fd), err
}

func sysDup3(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	err := p.Dup3Fd(int(trap.A0()), int(trap.A1()))
	if err != 0 {
		return 0, err
	}
	return trap.A1(), 0
}

func sysRead(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	f, err := p.GetFile(int(trap.A0()))
	if err != 0 {
		return 0, err
	}
	n := int(trap.A2())
	buf := make([]byte, n)
	got, rerr := f.Read(buf)
	if rerr != nil {
		return 0, asErrno(rerr)
	}
	if got > 0 && k.Writer != nil {
		if werr := k.Writer(trap.A1(), buf[:got]); werr != 0 {
			return 0, werr
		}
	}
	return uint64(got), 0
}

func sysWrite(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	f, err := p.GetFile(int(trap.A0()))
	if err != 0 {
		return 0, err
	}
	n := int(trap.A2())
	if k.Reader == nil {
		return 0, defs.ENOSYS
	}
	buf, rerr := k.Reader(trap.A1(), n)
	if rerr != 0 {
		return 0, rerr
	}
	wrote, werr := f.Write(buf)
	if werr != nil {
		return 0, asErrno(werr)
	}
	return uint64(wrote), 0
}

func sysLseek(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	f, err := p.GetFile(int(trap.A0()))
	if err != 0 {
		return 0, err
	}
	off, serr := f.Seek(int64(trap.A1()), int(trap.A2()))
	if serr != nil {
		return 0, asErrno(serr)
	}
	return uint64(off), 0
}

func sysFstat(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	f, err := p.GetFile(int(trap.A0()))
	if err != 0 {
		return 0, err
	}
	d := f.Dentry()
	if d == nil || d.Inode() == nil {
		return 0, defs.EBADF
	}
	st, serr := d.Inode().GetStat()
	if serr != nil {
		return 0, asErrno(serr)
	}
	if k.Writer == nil {
		return 0, defs.ENOSYS
	}
	buf := make([]byte, 32)
	putLE64(buf[0:8], st.Ino)
	putLE64(buf[8:16], uint64(st.Mode))
	putLE64(buf[16:24], st.Size)
	putLE64(buf[24:32], uint64(st.Nlink))
	if werr := k.Writer(trap.A1(), buf); werr != 0 {
		return 0, werr
	}
	return 0, 0
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

func putLE32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

func sysMkdirat(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	if k.Reader == nil {
		return 0, defs.ENOSYS
	}
	raw, err := k.Reader(trap.A1(), 256)
	if err != 0 {
		return 0, err
	}
	dir, base := splitDirBase(cStr(raw))
	p.Lock()
	cwd := p.Data().Cwd
	p.Unlock()
	parent, ferr := k.VFS.FromPath(dir, cwd)
	if ferr != 0 {
		return 0, ferr
	}
	if parent.Inode() == nil {
		return 0, defs.ENOENT
	}
	if _, merr := parent.Inode().Mkdir(base); merr != nil {
		return 0, asErrno(merr)
	}
	return 0, 0
}

func sysUnlinkat(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	if k.Reader == nil {
		return 0, defs.ENOSYS
	}
	raw, err := k.Reader(trap.A1(), 256)
	if err != 0 {
		return 0, err
	}
	dir, base := splitDirBase(cStr(raw))
	p.Lock()
	cwd := p.Data().Cwd
	p.Unlock()
	parent, ferr := k.VFS.FromPath(dir, cwd)
	if ferr != 0 {
		return 0, ferr
	}
	if parent.Inode() == nil {
		return 0, defs.ENOENT
	}
	const AT_REMOVEDIR = 0x200
	if trap.A2()&AT_REMOVEDIR != 0 {
		if uerr := parent.Inode().Rmdir(base); uerr != nil {
			return 0, asErrno(uerr)
		}
		return 0, 0
	}
	if uerr := parent.Inode().Unlink(base); uerr != nil {
		return 0, asErrno(uerr)
	}
	return 0, 0
}

func splitDirBase(path string) (dir, base string) {
	last := -1
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			last = i
		}
	}
	if last < 0 {
		return ".", path
	}
	if last == 0 {
		return "/", path[1:]
	}
	return path[:last], path[last+1:]
}

func sysPipe2(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	pipe := vfs.NewPipe()
	readEnd, writeEnd := pipe.NewEnds(
		h.Suspend(p),
		func() { h.SwitchOut(p) },
		func() { p.SetStatus(proc.StatusReady) },
	)
	rfd, err := p.AllocFd(readEnd)
	if err != 0 {
		return 0, err
	}
	wfd, err := p.AllocFd(writeEnd)
	if err != 0 {
		p.CloseFd(rfd)
		return 0, err
	}
	if k.Writer == nil {
		return 0, defs.ENOSYS
	}
	var buf [8]byte
	putLE32(buf[0:4], uint32(rfd))
	putLE32(buf[4:8], uint32(wfd))
	if werr := k.Writer(trap.A0(), buf[:]); werr != 0 {
		return 0, werr
	}
	return 0, 0
}

func sysNanosleep(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	// A coarse tick-based sleep: the requested duration is not read; the
	// caller yields until the tick counter has advanced by one, since this
	// kernel has no sub-tick timer resolution (§6, §9).
	if k.Ticks == nil {
		return 0, 0
	}
	target := k.Ticks() + 1
	for k.Ticks() < target {
		h.Yield(p)
	}
	return 0, 0
}

func sysTimes(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	if k.Ticks == nil {
		return 0, 0
	}
	t := k.Ticks()
	if buf := trap.A0(); buf != 0 && k.Writer != nil {
		var tms [32]byte
		for i := 0; i < 4; i++ {
			putLE64(tms[i*8:i*8+8], t)
		}
		if err := k.Writer(buf, tms[:]); err != 0 {
			return 0, err
		}
	}
	return t, 0
}

func sysUname(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	if k.Writer == nil {
		return 0, defs.ENOSYS
	}
	field := func(s string) []byte {
		b := make([]byte, 65)
		copy(b, s)
		return b
	}
	buf := append(append(append(append(append(
		field("ark"),
		field("ark")...),
		field("0")...),
		field("0")...),
		field("riscv64")...),
		field("")...)
	if err := k.Writer(trap.A0(), buf); err != 0 {
		return 0, err
	}
	return 0, 0
}

func sysGettimeofday(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	if k.Ticks == nil || k.Writer == nil {
		return 0, 0
	}
	var buf [16]byte
	putLE64(buf[0:8], k.Ticks()/100)
	putLE64(buf[8:16], 0)
	if err := k.Writer(trap.A0(), buf[:]); err != 0 {
		return 0, err
	}
	return 0, 0
}

const linuxDirentHdr = 19 // sizeof(ino uint64 + off uint64 + reclen uint16 + type uint8)

func sysGetdents64(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	f, err := p.GetFile(int(trap.A0()))
	if err != 0 {
		return 0, err
	}
	dir, ok := f.(*vfs.DirFile)
	if !ok {
		return 0, defs.ENOTDIR
	}
	if k.Writer == nil {
		return 0, defs.ENOSYS
	}
	count := int(trap.A2())
	var out []byte
	for {
		entries := dir.NextEntries(1)
		if len(entries) == 0 {
			break
		}
		e := entries[0]
		reclen := linuxDirentHdr + len(e.Name) + 1
		reclen = (reclen + 7) &^ 7
		if len(out)+reclen > count {
			dir.Seek(-1, 1)
			break
		}
		rec := make([]byte, reclen)
		putLE64(rec[0:8], 0)
		putLE64(rec[8:16], 0)
		rec[16] = byte(reclen)
		rec[17] = byte(reclen >> 8)
		rec[18] = dirTypeOf(e.Type)
		copy(rec[19:], e.Name)
		out = append(out, rec...)
	}
	if len(out) == 0 {
		return 0, 0
	}
	if werr := k.Writer(trap.A1(), out); werr != 0 {
		return 0, werr
	}
	return uint64(len(out)), 0
}

func dirTypeOf(t vfs.DentryType) byte {
	switch t {
	case vfs.TypeDir:
		return 4
	case vfs.TypeDevice:
		return 2
	default:
		return 8
	}
}

const iovecSize = 16

func readIovecs(k *Kernel, base uint64, n int) ([][2]uint64, defs.Err_t) {
	if k.Reader == nil {
		return nil, defs.ENOSYS
	}
	raw, err := k.Reader(base, n*iovecSize)
	if err != 0 {
		return nil, err
	}
	out := make([][2]uint64, n)
	for i := 0; i < n; i++ {
		out[i][0] = getLE64(raw[i*iovecSize:])
		out[i][1] = getLE64(raw[i*iovecSize+8:])
	}
	return out, 0
}

func getLE64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func sysReadv(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	f, err := p.GetFile(int(trap.A0()))
	if err != 0 {
		return 0, err
	}
	iovs, ierr := readIovecs(k, trap.A1(), int(trap.A2()))
	if ierr != 0 {
		return 0, ierr
	}
	if k.Writer == nil {
		return 0, defs.ENOSYS
	}
	var total uint64
	for _, iov := range iovs {
		base, length := iov[0], iov[1]
		if length == 0 {
			continue
		}
		buf := make([]byte, length)
		n, rerr := f.Read(buf)
		if rerr != nil {
			return total, asErrno(rerr)
		}
		if n == 0 {
			break
		}
		if werr := k.Writer(base, buf[:n]); werr != 0 {
			return total, werr
		}
		total += uint64(n)
	}
	return total, 0
}

func sysWritev(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	f, err := p.GetFile(int(trap.A0()))
	if err != 0 {
		return 0, err
	}
	iovs, ierr := readIovecs(k, trap.A1(), int(trap.A2()))
	if ierr != 0 {
		return 0, ierr
	}
	var total uint64
	for _, iov := range iovs {
		base, length := iov[0], iov[1]
		if length == 0 {
			continue
		}
		if k.Reader == nil {
			return total, defs.ENOSYS
		}
		buf, rerr := k.Reader(base, int(length))
		if rerr != 0 {
			return total, rerr
		}
		n, werr := f.Write(buf)
		if werr != nil {
			return total, asErrno(werr)
		}
		total += uint64(n)
	}
	return total, 0
}

func sysLinkat(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	if k.Reader == nil {
		return 0, defs.ENOSYS
	}
	oldRaw, err := k.Reader(trap.A1(), 256)
	if err != 0 {
		return 0, err
	}
	newRaw, err := k.Reader(trap.A3(), 256)
	if err != 0 {
		return 0, err
	}
	p.Lock()
	cwd := p.Data().Cwd
	p.Unlock()
	oldD, oerr := k.VFS.FromPath(cStr(oldRaw), cwd)
	if oerr != 0 {
		return 0, oerr
	}
	if oldD.Inode() == nil {
		return 0, defs.ENOENT
	}
	dir, base := splitDirBase(cStr(newRaw))
	parent, perr := k.VFS.FromPath(dir, cwd)
	if perr != 0 {
		return 0, perr
	}
	if parent.Inode() == nil {
		return 0, defs.ENOENT
	}
	if lerr := parent.Inode().Link(base, oldD.Inode()); lerr != nil {
		return 0, asErrno(lerr)
	}
	return 0, 0
}

func sysMount(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	if k.Reader == nil {
		return 0, defs.ENOSYS
	}
	srcRaw, err := k.Reader(trap.A0(), 256)
	if err != 0 {
		return 0, err
	}
	targetRaw, err := k.Reader(trap.A1(), 256)
	if err != 0 {
		return 0, err
	}
	typeRaw, err := k.Reader(trap.A2(), 32)
	if err != 0 {
		return 0, err
	}
	fstype := cStr(typeRaw)
	fs, ok := k.Filesystems[fstype]
	if !ok {
		return 0, defs.ENOSYS
	}
	p.Lock()
	cwd := p.Data().Cwd
	p.Unlock()
	device, derr := k.openPath(p, cStr(srcRaw), 0)
	if derr != 0 {
		return 0, derr
	}
	mountPoint, merr := k.VFS.FromPath(cStr(targetRaw), cwd)
	if merr != 0 {
		return 0, merr
	}
	return 0, k.VFS.Mount(device, mountPoint, fs)
}

func sysUmount2(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	if k.Reader == nil {
		return 0, defs.ENOSYS
	}
	raw, err := k.Reader(trap.A0(), 256)
	if err != 0 {
		return 0, err
	}
	p.Lock()
	cwd := p.Data().Cwd
	p.Unlock()
	d, ferr := k.VFS.FromPath(cStr(raw), cwd)
	if ferr != 0 {
		return 0, ferr
	}
	return 0, k.VFS.Umount(d)
}

// fileBackingAdapter adapts a vfs.File to vmm's minimal FileBacking
// interface for mmap's file-backed path (§4.3 mmap).
type fileBackingAdapter struct{ f vfs.File }

func (a fileBackingAdapter) Seek(off int64) defs.Err_t {
	_, err := a.f.Seek(off, 0)
	return asErrno(err)
}

func (a fileBackingAdapter) Read(buf []byte) (int, defs.Err_t) {
	n, err := a.f.Read(buf)
	return n, asErrno(err)
}

func sysMmap(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	hint := trap.A0()
	length := trap.A1()
	prot := trap.A2()
	flags := trap.A3()
	fd := int32(trap.A4())
	offset := int64(trap.A5())

	const protRead = 1
	const protWrite = 2
	const mapFixed = 0x10
	const mapAnonymous = 0x20

	var pteFlags uint64 = pagetable.PTE_U
	if prot&protRead != 0 {
		pteFlags |= pagetable.PTE_R
	}
	if prot&protWrite != 0 {
		pteFlags |= pagetable.PTE_W
	}

	pages := int((length + addr.PGSIZE - 1) / addr.PGSIZE)

	var fb vmm.FileBacking
	if flags&mapAnonymous == 0 && fd >= 0 {
		f, err := p.GetFile(int(fd))
		if err != 0 {
			return 0, err
		}
		fb = fileBackingAdapter{f: f}
	}

	p.Lock()
	defer p.Unlock()
	base, err := p.Data().Memory.Mmap(addrOf(hint), flags&mapFixed != 0, pages, pteFlags, fb, offset)
	if err != 0 {
		return 0, err
	}
	return uint64(base), 0
}
