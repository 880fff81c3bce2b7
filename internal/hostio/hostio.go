// Package hostio is cmd/arksim's "SBI" shim: the real host-backed
// implementation of internal/sbi's Console/Reset and internal/blockdev's
// Device, exactly the role smoynes-elsie's internal/tty and tinyrange-cc
// give golang.org/x/sys/unix and golang.org/x/term (SPEC_FULL.md §13.1,
// §15).
package hostio

import (
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// TermConsole relays the host terminal's stdin/stdout to the simulated
// hart's console, putting stdin in raw mode so the guest sees every
// byte (including control characters) unprocessed by the host tty line
// discipline — the same raw-mode handling smoynes-elsie's cmd/elsie
// applies before relaying console I/O.
type TermConsole struct {
	in  *os.File
	out *os.File

	fd       int
	oldState *term.State
}

// NewTermConsole puts in (normally os.Stdin) into raw mode. Restore
// must be called before the process exits to leave the host terminal
// usable.
func NewTermConsole(in, out *os.File) (*TermConsole, error) {
	fd := int(in.Fd())
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &TermConsole{in: in, out: out, fd: fd, oldState: old}, nil
}

func (c *TermConsole) Read(p []byte) (int, error)  { return c.in.Read(p) }
func (c *TermConsole) Write(p []byte) (int, error) { return c.out.Write(p) }

// Restore puts the host terminal back into its original (cooked) mode.
func (c *TermConsole) Restore() error {
	if c.oldState == nil {
		return nil
	}
	return term.Restore(c.fd, c.oldState)
}

// ProcessReset shuts the simulator process down directly, the hosted
// analogue of an SBI system-reset ecall that would otherwise power off
// real hardware.
type ProcessReset struct{ Code int }

func (r ProcessReset) Shutdown() { os.Exit(r.Code) }

// FileBlockDev is a disk image backed by a host file, memory-mapped via
// golang.org/x/sys/unix.Mmap exactly as SPEC_FULL.md §12 specifies —
// the stand-in for a real virtio-mmio block driver.
type FileBlockDev struct {
	f    *os.File
	data []byte
}

const blockSize = 512

// OpenFileBlockDev mmaps path (which must already exist at its full
// intended size; callers create it with os.Truncate first) for
// read/write block access.
func OpenFileBlockDev(path string) (*FileBlockDev, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileBlockDev{f: f, data: data}, nil
}

func (d *FileBlockDev) NumBlocks() uint64 { return uint64(len(d.data)) / blockSize }

func (d *FileBlockDev) ReadBlock(lba uint64, buf []byte) error {
	off := lba * blockSize
	if off+blockSize > uint64(len(d.data)) {
		return os.ErrInvalid
	}
	copy(buf, d.data[off:off+blockSize])
	return nil
}

func (d *FileBlockDev) WriteBlock(lba uint64, buf []byte) error {
	off := lba * blockSize
	if off+blockSize > uint64(len(d.data)) {
		return os.ErrInvalid
	}
	copy(d.data[off:off+blockSize], buf)
	return nil
}

// Flush pushes the mmap'd pages back to the backing file, the
// unix.Msync equivalent of biscuit's own disk write-back path.
func (d *FileBlockDev) Flush() error {
	return unix.Msync(d.data, unix.MS_SYNC)
}

// Close unmaps and closes the backing file.
func (d *FileBlockDev) Close() error {
	if err := unix.Munmap(d.data); err != nil {
		return err
	}
	return d.f.Close()
}
