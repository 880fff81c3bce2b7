// Command arksim is the hosted simulation entry point SPEC_FULL.md §15
// describes: it stands in for SBI firmware and real RV64 hardware,
// driving the same internal/proc, internal/sched, internal/syscall, and
// internal/trap packages a bare-metal boot would, over a host console
// and a host-file-backed disk image instead of real UART/virtio
// devices.
//
// Grounded on smoynes-elsie's cmd/elsie (a hosted hardware-emulator
// main) and tinyrange-cc's cmd/ use of golang.org/x/term for an
// interactive console, with boot-parameter parsing following §10's
// plain flag + optional YAML device manifest split.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"ark/internal/addr"
	"ark/internal/config"
	"ark/internal/cpuid"
	"ark/internal/defs"
	"ark/internal/fat"
	"ark/internal/hostio"
	"ark/internal/klog"
	"ark/internal/kpanic"
	"ark/internal/mem"
	"ark/internal/plic"
	"ark/internal/proc"
	"ark/internal/sched"
	"ark/internal/syscall"
	"ark/internal/trap"
	"ark/internal/vfs"
)

func main() {
	diskPath := flag.String("disk", "", "path to a FAT disk image (required)")
	manifestPath := flag.String("manifest", "", "optional YAML device manifest")
	harts := flag.Int("harts", 1, "number of simulated harts")
	memMB := flag.Int("mem-mb", 64, "simulated RAM size in MiB")
	initPath := flag.String("init", "/init", "path of the init binary within the mounted disk image")
	flag.Parse()

	if *diskPath == "" {
		fmt.Fprintln(os.Stderr, "arksim: -disk is required")
		os.Exit(2)
	}

	if *manifestPath != "" {
		data, err := os.ReadFile(*manifestPath)
		if err != nil {
			log.Fatalf("arksim: reading manifest: %v", err)
		}
		manifest, err := config.Parse(data)
		if err != nil {
			log.Fatalf("arksim: %v", err)
		}
		if *harts == 1 && manifest.Harts > 0 {
			*harts = manifest.Harts
		}
	}

	console, reset := bootConsole()
	defer console.Restore()
	klog.SetOutput(console)

	if *harts < 1 {
		fatalBoot(reset, 0, "invalid hart count %d", *harts)
	}

	proc.Vendor = cpuid.DetectVendor(0, 0, 0)
	klog.Boot("cpu vendor: %v", proc.Vendor)

	pm := mem.NewPhysMem(addr.PhyPageId(0x80000000/addr.PGSIZE), (*memMB*1024*1024)/int(addr.PGSIZE))
	mgr := proc.NewManager(pm)

	vfsRoot := vfs.New()
	diskFile, err := os.OpenFile(*diskPath, os.O_RDWR, 0)
	if err != nil {
		log.Fatalf("arksim: opening disk image: %v", err)
	}
	defer diskFile.Close()

	hs := make([]*sched.Hart, *harts)
	for i := range hs {
		hs[i] = sched.NewHart(i, mgr)
	}

	k := &syscall.Kernel{
		VFS:         vfsRoot,
		Mgr:         mgr,
		Ticks:       func() uint64 { return 0 },
		Reader:      userReader(pm, hs[0]),
		Writer:      userWriter(pm, hs[0]),
		PLIC:        plic.New(),
		Filesystems: map[string]vfs.Filesystem{"vfat": fat.FS{}},
	}

	devFile := &hostFileDevice{f: diskFile}
	if mountErr := vfsRoot.Mount(devFile, vfsRoot.Root, k.Filesystems["vfat"]); mountErr != 0 {
		log.Fatalf("arksim: mounting disk image: %v", mountErr)
	}
	klog.Boot("mounted %s on /", *diskPath)

	initData, ierr := readFile(vfsRoot, *initPath)
	if ierr != nil {
		log.Fatalf("arksim: reading %s: %v", *initPath, ierr)
	}

	consoleFile := &consoleVFSFile{rw: console}
	stdio := [3]vfs.File{consoleFile, consoleFile, consoleFile}
	init, perr := mgr.Spawn(vfsRoot.Root, stdio)
	if perr != nil {
		log.Fatalf("arksim: spawning init: %v", perr)
	}
	if execErr := init.Execve(initData, []string{*initPath}, nil); execErr != 0 {
		log.Fatalf("arksim: execve(init): %v", execErr)
	}
	klog.Boot("init pid %d running", init.Pid.Int())

	hs[0].Launch(init, func(h *sched.Hart, p *proc.Process) {
		runProcess(k, h, p, reset, 0)
	})

	hs[0].Run(func() bool {
		return init.GetStatus() != proc.StatusZombie
	})

	klog.Boot("init exited, shutting down")
	reset.Shutdown()
}

// runProcess is a process's kernel-side trap loop body (§4.4): since
// the hosted simulation layer has no real RV64 core executing user
// instructions between traps (see internal/hartsim's package doc), each
// process's body only drives the syscall/timer trap plane on its own
// trap context until it exits — the actual user-mode instruction
// fetch/execute cycle that would otherwise run between traps is the one
// piece of real hardware this simulation does not model (§1's
// architectural-simulation boundary).
func runProcess(k *syscall.Kernel, h *sched.Hart, p *proc.Process, reset *hostio.ProcessReset, hartID int) {
	for {
		p.Lock()
		tr := p.Data().Trap
		p.Unlock()

		trap.Dispatch(k, h, p, tr, trap.CauseUserEnvCall, 0, reset, hartID)

		if p.GetStatus() == proc.StatusZombie {
			return
		}
		h.Yield(p)
	}
}

// userReader and userWriter give internal/syscall.Kernel a way to move
// bytes between a user pointer and a kernel buffer without it importing
// internal/vmm or internal/mem directly (the same narrow-seam style
// ReadUser/WriteUser's doc comment describes): they translate through
// whichever process h currently has switched in and read/write the
// backing physical frame straight out of pm, crossing page boundaries
// as needed.
func userReader(pm *mem.PhysMem, h *sched.Hart) syscall.ReadUser {
	return func(va uint64, n int) ([]byte, defs.Err_t) {
		p := h.Running()
		if p == nil {
			return nil, defs.EFAULT
		}
		out := make([]byte, 0, n)
		cur := addr.VirtAddr(va)
		for len(out) < n {
			pa, ok := p.Data().Memory.Translate(cur)
			if !ok {
				return nil, defs.EFAULT
			}
			frame := pm.Frame(pa.ToPhyPageId())
			off := pa.PageOffset()
			take := n - len(out)
			if avail := int(addr.PGSIZE - off); take > avail {
				take = avail
			}
			out = append(out, frame[off:off+uint64(take)]...)
			cur = cur.Offset(int64(take))
		}
		return out, 0
	}
}

func userWriter(pm *mem.PhysMem, h *sched.Hart) syscall.WriteUser {
	return func(va uint64, data []byte) defs.Err_t {
		p := h.Running()
		if p == nil {
			return defs.EFAULT
		}
		cur := addr.VirtAddr(va)
		for len(data) > 0 {
			pa, ok := p.Data().Memory.Translate(cur)
			if !ok {
				return defs.EFAULT
			}
			frame := pm.Frame(pa.ToPhyPageId())
			off := pa.PageOffset()
			take := len(data)
			if avail := int(addr.PGSIZE - off); take > avail {
				take = avail
			}
			copy(frame[off:off+uint64(take)], data[:take])
			data = data[take:]
			cur = cur.Offset(int64(take))
		}
		return 0
	}
}

func bootConsole() (*hostio.TermConsole, *hostio.ProcessReset) {
	console, err := hostio.NewTermConsole(os.Stdin, os.Stdout)
	if err != nil {
		log.Fatalf("arksim: console: %v", err)
	}
	return console, &hostio.ProcessReset{Code: 0}
}

// hostFileDevice adapts a host *os.File to vfs.File so internal/fat can
// mount a raw disk image without any package depending on hostio's
// mmap-backed blockdev.Device (no device node uses that contract; see
// DESIGN.md).
type hostFileDevice struct{ f *os.File }

func (d *hostFileDevice) Read(b []byte) (int, error)         { return d.f.Read(b) }
func (d *hostFileDevice) Write(b []byte) (int, error)        { return d.f.Write(b) }
func (d *hostFileDevice) Seek(o int64, w int) (int64, error) { return d.f.Seek(o, w) }
func (d *hostFileDevice) Close() error                       { return d.f.Close() }
func (d *hostFileDevice) Dentry() *vfs.Dentry                { return nil }

// consoleVFSFile adapts the stream-only sbi.Console (io.Reader +
// io.Writer, no seek/close semantics) into a vfs.File so it can serve
// as a process's stdin/stdout/stderr, the same role
// internal/vfs.PipeEnd plays for an unnamed pipe end.
type consoleVFSFile struct {
	rw interface {
		Read([]byte) (int, error)
		Write([]byte) (int, error)
	}
}

func (c *consoleVFSFile) Read(b []byte) (int, error)         { return c.rw.Read(b) }
func (c *consoleVFSFile) Write(b []byte) (int, error)        { return c.rw.Write(b) }
func (c *consoleVFSFile) Seek(int64, int) (int64, error)     { return 0, errConsoleNotSeekable }
func (c *consoleVFSFile) Close() error                       { return nil }
func (c *consoleVFSFile) Dentry() *vfs.Dentry                { return nil }

var errConsoleNotSeekable = fmt.Errorf("arksim: console is not seekable")

// fatalBoot backs cmd/arksim's own fatal boot-configuration errors with
// the same halt path internal/trap uses for an in-kernel fatal
// condition, rather than a second, divergent shutdown mechanism.
func fatalBoot(reset *hostio.ProcessReset, hartID int, format string, args ...any) {
	kpanic.Halt(reset, hartID, format, args...)
}

func readFile(v *vfs.VFS, path string) ([]byte, error) {
	d, errno := v.FromPath(path, v.Root)
	if errno != 0 {
		return nil, errno
	}
	inode := d.Inode()
	if inode == nil {
		return nil, errno
	}
	f, oerr := inode.Open(0)
	if oerr != nil {
		return nil, oerr
	}
	defer f.Close()

	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			break
		}
		if n == 0 {
			break
		}
	}
	return out, nil
}
