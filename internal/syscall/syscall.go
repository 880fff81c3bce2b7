// Package syscall implements the trap-plane syscall dispatch table
// (§6's ABI: a7=number, a0..a5=args, negated-errno return in a0).
// Grounded on original_source/src/syscall/c/mod.rs's constant table and
// spec.md §6's numbering, with the dispatch-by-map idiom biscuit's
// kernel/sys*.go files use (one handler function per syscall number).
package syscall

import (
	"ark/internal/condvar"
	"ark/internal/defs"
	"ark/internal/hartsim"
	"ark/internal/klog"
	"ark/internal/plic"
	"ark/internal/proc"
	"ark/internal/sched"
	"ark/internal/vfs"
)

// Syscall numbers, the RISC-V Linux-like subset §6 lists.
const (
	SYS_GETCWD       = 17
	SYS_DUP          = 23
	SYS_DUP3         = 24
	SYS_MKDIRAT      = 34
	SYS_UNLINKAT     = 35
	SYS_LINKAT       = 37
	SYS_UMOUNT2      = 39
	SYS_MOUNT        = 40
	SYS_CHDIR        = 49
	SYS_OPENAT       = 56
	SYS_CLOSE        = 57
	SYS_PIPE2        = 59
	SYS_GETDENTS64   = 61
	SYS_LSEEK        = 62
	SYS_READ         = 63
	SYS_WRITE        = 64
	SYS_READV        = 65
	SYS_WRITEV       = 66
	SYS_FSTAT        = 80
	SYS_EXIT         = 93
	SYS_NANOSLEEP    = 101
	SYS_SCHED_YIELD  = 124
	SYS_TIMES        = 153
	SYS_UNAME        = 160
	SYS_GETTIMEOFDAY = 169
	SYS_GETPID       = 172
	SYS_GETPPID      = 173
	SYS_BRK          = 214
	SYS_MUNMAP       = 215
	SYS_CLONE        = 220
	SYS_EXECVE       = 221
	SYS_MMAP         = 222
	SYS_WAIT4        = 260

	SYS_ARK_SLEEP_TICKS = 1002
	SYS_ARK_BREAKPOINT  = 0xA12C
)

const cloneSighand = 17 // SIGCHLD, the only flag value this kernel accepts without a warning (§6)

// ReadUser and WriteUser let the dispatcher move bytes between a
// process's mapped pages and kernel-side buffers without syscall
// depending on any particular MMU access primitive; they are supplied
// by the trap-plane glue that owns the process's ProcessMemory.
type ReadUser func(va uint64, n int) ([]byte, defs.Err_t)
type WriteUser func(va uint64, data []byte) defs.Err_t

// Kernel bundles the global tables a syscall handler needs: the VFS
// and the process manager. Ticks, Reader/Writer, and Filesystems are
// narrow seams so the dispatcher does not reach into internal/fat or
// internal/sbi directly (§12's VFS boundary, kept one layer further out
// here).
type Kernel struct {
	VFS    *vfs.VFS
	Mgr    *proc.ProcessManager
	Ticks  func() uint64
	Reader ReadUser
	Writer WriteUser

	// PLIC is the external-interrupt controller internal/trap's
	// CauseSupervisorExternal case drives; nil in tests that never
	// raise an IRQ.
	PLIC *plic.PLIC

	// Filesystems maps a mount(2) fstype string (e.g. "vfat") to the
	// driver that implements it, so sysMount never needs to import a
	// concrete driver package directly (§12's VFS boundary).
	Filesystems map[string]vfs.Filesystem
}

// Dispatch decodes the syscall number from trap.A7 and the argument
// registers, invokes the matching handler, and writes the negated-
// errno-or-value result back into trap's a0, exactly as §6 specifies.
func (k *Kernel) Dispatch(h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) {
	nr := trap.A7()
	fn, ok := table[nr]
	if !ok {
		trap.SetA0(defs.ToRet(0, defs.ENOSYS))
		return
	}
	v, err := fn(k, h, p, trap)
	trap.SetA0(defs.ToRet(v, err))
}

type handler func(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t)

var table = map[uint64]handler{
	SYS_GETCWD:          sysGetcwd,
	SYS_DUP:             sysDup,
	SYS_DUP3:            sysDup3,
	SYS_MKDIRAT:         sysMkdirat,
	SYS_UNLINKAT:        sysUnlinkat,
	SYS_LINKAT:          sysLinkat,
	SYS_UMOUNT2:         sysUmount2,
	SYS_MOUNT:           sysMount,
	SYS_CHDIR:           sysChdir,
	SYS_OPENAT:          sysOpenat,
	SYS_CLOSE:           sysClose,
	SYS_PIPE2:           sysPipe2,
	SYS_GETDENTS64:      sysGetdents64,
	SYS_LSEEK:           sysLseek,
	SYS_READ:            sysRead,
	SYS_WRITE:           sysWrite,
	SYS_READV:           sysReadv,
	SYS_WRITEV:          sysWritev,
	SYS_FSTAT:           sysFstat,
	SYS_EXIT:            sysExit,
	SYS_NANOSLEEP:       sysNanosleep,
	SYS_SCHED_YIELD:     sysSchedYield,
	SYS_TIMES:           sysTimes,
	SYS_UNAME:           sysUname,
	SYS_GETTIMEOFDAY:    sysGettimeofday,
	SYS_GETPID:          sysGetpid,
	SYS_GETPPID:         sysGetppid,
	SYS_BRK:             sysBrk,
	SYS_MUNMAP:          sysMunmap,
	SYS_CLONE:           sysClone,
	SYS_EXECVE:          sysExecve,
	SYS_MMAP:            sysMmap,
	SYS_WAIT4:           sysWait4,
	SYS_ARK_SLEEP_TICKS: sysArkSleepTicks,
	SYS_ARK_BREAKPOINT:  sysArkBreakpoint,
}

func sysGetpid(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	return uint64(p.Pid.Int()), 0
}

func sysGetppid(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	p.Lock()
	defer p.Unlock()
	parent := p.Data().Parent.Value()
	if parent == nil {
		return 0, 0
	}
	return uint64(parent.Pid.Int()), 0
}

func sysExit(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	code := int(int64(trap.A0()))
	k.Mgr.Exit(p, code)
	// SwitchOut, not Yield: the process is Zombie now, and Yield would
	// reset it to Ready.
	h.SwitchOut(p)
	return 0, 0
}

func sysSchedYield(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	h.Yield(p)
	return 0, 0
}

func sysBrk(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	p.Lock()
	defer p.Unlock()
	requested := trap.A0()
	if requested == 0 {
		return uint64(p.Data().Memory.Brk), 0
	}
	newBrk := p.Data().Memory.SetBrk(addrOf(requested))
	return uint64(newBrk), 0
}

func sysMunmap(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	p.Lock()
	defer p.Unlock()
	p.Data().Memory.Munmap(addrOf(trap.A0()), trap.A1())
	return 0, 0
}

func sysWait4(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	pid := int(int32(trap.A0()))
	nohang := trap.A2()&1 != 0 // WNOHANG
	reaped, code, err := k.Mgr.Wait4(p, pid, nohang, func(cv *condvar.Condvar[proc.Process]) {
		cv.Wait(p, h.Suspend(p))
		h.SwitchOut(p)
	})
	if err != 0 {
		return 0, err
	}
	if reaped == 0 {
		return 0, 0
	}
	if wstatus := trap.A1(); wstatus != 0 && k.Writer != nil {
		var buf [4]byte
		buf[0] = byte(code)
		k.Writer(wstatus, buf[:])
	}
	return uint64(reaped), 0
}

func sysClone(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	flags := trap.A0()
	if flags != cloneSighand {
		// §6: "other flag bits warn" — not fatal, just unsupported.
		klog.Warn("clone in pid %d: unsupported flags 0x%x", p.Pid.Int(), flags)
	}
	child, err := k.Mgr.Fork(p, trap.A1())
	if err != 0 {
		return 0, err
	}
	return uint64(child.Pid.Int()), 0
}

func sysExecve(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	if k.Reader == nil {
		return 0, defs.ENOSYS
	}
	pathBytes, err := k.Reader(trap.A0(), 256)
	if err != 0 {
		return 0, err
	}
	path := cStr(pathBytes)
	f, ferr := k.openPath(p, path, 0)
	if ferr != 0 {
		return 0, ferr
	}
	data, rerr := readAll(f)
	f.Close()
	if rerr != 0 {
		return 0, rerr
	}
	if err := p.Execve(data, []string{path}, nil); err != 0 {
		return 0, err
	}
	return 0, 0
}

func sysArkSleepTicks(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	target := trap.A0()
	if k.Ticks == nil {
		return target, 0
	}
	for k.Ticks() < target {
		h.Yield(p)
	}
	return k.Ticks(), 0
}

func sysArkBreakpoint(k *Kernel, h *sched.Hart, p *proc.Process, trap *hartsim.TrapContext) (uint64, defs.Err_t) {
	if k.Reader == nil {
		return 0, 0
	}
	msg, err := k.Reader(trap.A0(), int(trap.A1()))
	if err != 0 {
		return 0, err
	}
	klog.Warn("breakpoint in pid %d: %s", p.Pid.Int(), cStr(msg))
	return 0, 0
}

func cStr(b []byte) string {
	if i := indexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
