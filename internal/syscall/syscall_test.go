package syscall

import (
	"bytes"
	"strings"
	"testing"

	"ark/internal/addr"
	"ark/internal/defs"
	"ark/internal/hartsim"
	"ark/internal/klog"
	"ark/internal/mem"
	"ark/internal/proc"
	"ark/internal/sched"
	"ark/internal/vfs"
)

// memSpace is a flat byte buffer standing in for a process's user
// address space, letting Kernel.Reader/Writer be exercised without a
// real page table — va is used directly as an offset into it.
type memSpace struct{ buf []byte }

func newMemSpace(size int) *memSpace { return &memSpace{buf: make([]byte, size)} }

func (m *memSpace) reader() ReadUser {
	return func(va uint64, n int) ([]byte, defs.Err_t) {
		if va+uint64(n) > uint64(len(m.buf)) {
			return nil, defs.EFAULT
		}
		out := make([]byte, n)
		copy(out, m.buf[va:va+uint64(n)])
		return out, 0
	}
}

func (m *memSpace) writer() WriteUser {
	return func(va uint64, data []byte) defs.Err_t {
		if va+uint64(len(data)) > uint64(len(m.buf)) {
			return defs.EFAULT
		}
		copy(m.buf[va:], data)
		return 0
	}
}

func newTestKernel(t *testing.T) (*Kernel, *sched.Hart, *proc.Process, *memSpace) {
	t.Helper()
	pm := mem.NewPhysMem(addr.PhyPageId(0), 16384)
	mgr := proc.NewManager(pm)
	hart := sched.NewHart(0, mgr)
	space := newMemSpace(4096)
	k := &Kernel{
		VFS:    vfs.New(),
		Mgr:    mgr,
		Ticks:  func() uint64 { return 7 },
		Reader: space.reader(),
		Writer: space.writer(),
	}
	p, err := mgr.Spawn(k.VFS.Root, [3]vfs.File{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	return k, hart, p, space
}

func callTrap(a7 uint64, args ...uint64) *hartsim.TrapContext {
	tr := &hartsim.TrapContext{}
	tr.Reg[hartsim.RegA7] = a7
	regs := []int{hartsim.RegA0, hartsim.RegA1, hartsim.RegA2, hartsim.RegA3, hartsim.RegA4, hartsim.RegA5}
	for i, v := range args {
		tr.Reg[regs[i]] = v
	}
	return tr
}

func TestDispatchUnknownSyscallReturnsENOSYS(t *testing.T) {
	k, h, p, _ := newTestKernel(t)
	tr := callTrap(0xffff)
	k.Dispatch(h, p, tr)
	if int64(tr.A0()) != -38 {
		t.Fatalf("a0 = %d, want -38 (ENOSYS)", int64(tr.A0()))
	}
}

func TestDispatchGetpid(t *testing.T) {
	k, h, p, _ := newTestKernel(t)
	tr := callTrap(SYS_GETPID)
	k.Dispatch(h, p, tr)
	if tr.A0() != uint64(p.Pid.Int()) {
		t.Fatalf("a0 = %d, want pid %d", tr.A0(), p.Pid.Int())
	}
}

// memFile is a minimal in-memory vfs.File backing openat/read/write
// tests without a real filesystem driver.
type memFile struct {
	data []byte
	pos  int
}

func (f *memFile) Read(b []byte) (int, error) {
	if f.pos >= len(f.data) {
		return 0, nil
	}
	n := copy(b, f.data[f.pos:])
	f.pos += n
	return n, nil
}

func (f *memFile) Write(b []byte) (int, error) {
	f.data = append(f.data[:f.pos], b...)
	f.pos += len(b)
	return len(b), nil
}

func (f *memFile) Seek(off int64, whence int) (int64, error) {
	f.pos = int(off)
	return off, nil
}
func (f *memFile) Close() error       { return nil }
func (f *memFile) Dentry() *vfs.Dentry { return nil }

func TestReadWriteCloseDupViaFd(t *testing.T) {
	k, h, p, space := newTestKernel(t)
	f := &memFile{}
	fd, aerr := p.AllocFd(f)
	if aerr != 0 {
		t.Fatalf("AllocFd: %v", aerr)
	}

	copy(space.buf[0:5], "hello")
	tr := callTrap(SYS_WRITE, uint64(fd), 0, 5)
	k.Dispatch(h, p, tr)
	if tr.A0() != 5 {
		t.Fatalf("write a0 = %d, want 5", int64(tr.A0()))
	}
	if string(f.data) != "hello" {
		t.Fatalf("file contents = %q, want %q", f.data, "hello")
	}

	f.pos = 0
	tr = callTrap(SYS_READ, uint64(fd), 100, 5)
	k.Dispatch(h, p, tr)
	if tr.A0() != 5 {
		t.Fatalf("read a0 = %d, want 5", int64(tr.A0()))
	}
	if string(space.buf[100:105]) != "hello" {
		t.Fatalf("read into user buf = %q, want %q", space.buf[100:105], "hello")
	}

	tr = callTrap(SYS_DUP, uint64(fd))
	k.Dispatch(h, p, tr)
	dupFd := int(tr.A0())
	if dupFd == fd {
		t.Fatal("expected dup to allocate a distinct fd")
	}
	if _, err := p.GetFile(dupFd); err != 0 {
		t.Fatalf("expected dup'd fd to be valid, got %v", err)
	}

	tr = callTrap(SYS_CLOSE, uint64(fd))
	k.Dispatch(h, p, tr)
	if tr.A0() != 0 {
		t.Fatalf("close a0 = %d, want 0", int64(tr.A0()))
	}
	if _, err := p.GetFile(fd); err == 0 {
		t.Fatal("expected fd to be invalid after close")
	}
}

func TestArkBreakpointLogsMessage(t *testing.T) {
	k, h, p, space := newTestKernel(t)

	var buf bytes.Buffer
	klog.SetOutput(&buf)
	defer klog.SetOutput(discardWriter{})

	copy(space.buf[0:5], "stuck")
	tr := callTrap(SYS_ARK_BREAKPOINT, 0, 5)
	k.Dispatch(h, p, tr)

	if tr.A0() != 0 {
		t.Fatalf("a0 = %d, want 0", int64(tr.A0()))
	}
	out := buf.String()
	if !strings.Contains(out, "stuck") || !strings.Contains(out, "breakpoint") {
		t.Fatalf("log output = %q, missing breakpoint message", out)
	}
}

type discardWriter struct{}

func (discardWriter) Write(b []byte) (int, error) { return len(b), nil }

func TestGetppidWithNoParentReturnsZero(t *testing.T) {
	k, h, p, _ := newTestKernel(t)
	tr := callTrap(SYS_GETPPID)
	k.Dispatch(h, p, tr)
	if tr.A0() != 0 {
		t.Fatalf("a0 = %d, want 0 (init has no parent)", int64(tr.A0()))
	}
}

func TestSchedYieldResumesCaller(t *testing.T) {
	k, hart, p, _ := newTestKernel(t)
	resumed := false
	hart.Launch(p, func(h *sched.Hart, p *proc.Process) {
		tr := callTrap(SYS_SCHED_YIELD)
		k.Dispatch(h, p, tr)
		resumed = true
		k.Mgr.Exit(p, 0)
		h.SwitchOut(p)
	})
	hart.Run(func() bool {
		return p.GetStatus() != proc.StatusZombie
	})
	if !resumed {
		t.Fatal("expected the process to resume after sched_yield")
	}
}
