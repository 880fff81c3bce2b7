package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/google/pprof/profile"

	"ark/internal/syscall"
)

// statRecord is one fixed-size entry in a /dev/stat + /dev/prof
// snapshot: a syscall number and the tick count spent inside it since
// boot. The devices themselves (defs.D_STAT, defs.D_PROF) are named by
// §13.5 but have no wire format of their own in spec.md, so this is the
// one this tool defines and documents here.
type statRecord struct {
	SyscallNum uint64
	Ticks      uint64
}

const statRecordSize = 16

var syscallNames = map[uint64]string{
	syscall.SYS_GETCWD:          "getcwd",
	syscall.SYS_DUP:             "dup",
	syscall.SYS_DUP3:            "dup3",
	syscall.SYS_MKDIRAT:         "mkdirat",
	syscall.SYS_UNLINKAT:        "unlinkat",
	syscall.SYS_LINKAT:          "linkat",
	syscall.SYS_UMOUNT2:         "umount2",
	syscall.SYS_MOUNT:           "mount",
	syscall.SYS_CHDIR:           "chdir",
	syscall.SYS_OPENAT:          "openat",
	syscall.SYS_CLOSE:           "close",
	syscall.SYS_PIPE2:           "pipe2",
	syscall.SYS_GETDENTS64:      "getdents64",
	syscall.SYS_LSEEK:           "lseek",
	syscall.SYS_READ:            "read",
	syscall.SYS_WRITE:           "write",
	syscall.SYS_READV:           "readv",
	syscall.SYS_WRITEV:          "writev",
	syscall.SYS_FSTAT:           "fstat",
	syscall.SYS_EXIT:            "exit",
	syscall.SYS_NANOSLEEP:       "nanosleep",
	syscall.SYS_SCHED_YIELD:     "sched_yield",
	syscall.SYS_TIMES:           "times",
	syscall.SYS_UNAME:           "uname",
	syscall.SYS_GETTIMEOFDAY:    "gettimeofday",
	syscall.SYS_GETPID:          "getpid",
	syscall.SYS_GETPPID:         "getppid",
	syscall.SYS_BRK:             "brk",
	syscall.SYS_MUNMAP:          "munmap",
	syscall.SYS_CLONE:           "clone",
	syscall.SYS_EXECVE:          "execve",
	syscall.SYS_MMAP:            "mmap",
	syscall.SYS_WAIT4:           "wait4",
	syscall.SYS_ARK_SLEEP_TICKS: "ark_sleep_ticks",
	syscall.SYS_ARK_BREAKPOINT:  "ark_breakpoint",
}

func runProfile(args []string) error {
	fs := newFlagSet("profile")
	in := fs.String("in", "", "path to a /dev/stat+/dev/prof snapshot (required)")
	out := fs.String("out", "ark.pb.gz", "output pprof profile.proto path")
	fs.Parse(args)

	if *in == "" {
		return fmt.Errorf("-in is required")
	}
	data, err := os.ReadFile(*in)
	if err != nil {
		return err
	}
	if len(data)%statRecordSize != 0 {
		return fmt.Errorf("snapshot size %d is not a multiple of record size %d", len(data), statRecordSize)
	}

	p := &profile.Profile{
		SampleType:    []*profile.ValueType{{Type: "ticks", Unit: "count"}},
		PeriodType:    &profile.ValueType{Type: "ticks", Unit: "count"},
		Period:        1,
		TimeNanos:     0,
		DurationNanos: 0,
	}

	for off := 0; off < len(data); off += statRecordSize {
		rec := statRecord{
			SyscallNum: binary.LittleEndian.Uint64(data[off : off+8]),
			Ticks:      binary.LittleEndian.Uint64(data[off+8 : off+16]),
		}
		name, ok := syscallNames[rec.SyscallNum]
		if !ok {
			name = fmt.Sprintf("syscall_%d", rec.SyscallNum)
		}
		id := uint64(len(p.Function) + 1)
		fn := &profile.Function{ID: id, Name: name}
		loc := &profile.Location{ID: id, Line: []profile.Line{{Function: fn, Line: 0}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(rec.Ticks)},
		})
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := p.Write(f); err != nil {
		return err
	}
	fmt.Printf("arkctl: wrote %d samples to %s\n", len(p.Sample), *out)
	return nil
}
