// Package elfload implements the kernel's user-binary loader (§4.5
// load_elf/execve): validating and mapping PT_LOAD segments, building
// the AUX vector, and assembling the initial user stack. Grounded on
// debug/elf's PT_LOAD walk, the pattern tinyrange-cc's
// internal/linux/boot/amd64 loader uses for a Linux kernel image,
// adapted here to user ELF64 RISC-V binaries and a real mapped address
// space instead of a flat guest-physical buffer.
package elfload

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"ark/internal/addr"
	"ark/internal/defs"
	"ark/internal/pagetable"
	"ark/internal/vmm"
)

// Auxiliary vector type tags the kernel hands to the dynamic loader
// stub via the initial stack (§4.5, §6).
const (
	AT_NULL     = 0
	AT_PHDR     = 3
	AT_PHENT    = 4
	AT_PHNUM    = 5
	AT_PAGESZ   = 6
	AT_BASE     = 7
	AT_FLAGS    = 8
	AT_ENTRY    = 9
	AT_UID      = 11
	AT_GID      = 13
	AT_CLKTCK   = 17
	AT_HWCAP    = 16
	AT_SECURE   = 23
	AT_EXECFN   = 31
)

// Loaded describes a binary's memory-resident state right after
// load_elf, before execve assembles the argv/envp stack on top of it.
type Loaded struct {
	Entry   addr.VirtAddr
	ProgEnd addr.VirtAddr
	Phdr    addr.VirtAddr
	Phent   int
	Phnum   int
}

// LoadELF validates the ELF64 RISC-V header, maps every PT_LOAD
// segment page-by-page (copying the file-backed prefix and zeroing the
// bss tail), and returns the binary's entry point and program-header
// metadata for the AUX vector (§4.5).
func LoadELF(m *vmm.ProcessMemory, data []byte) (*Loaded, defs.Err_t) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, defs.ENOEXEC
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_RISCV {
		return nil, defs.ENOEXEC
	}

	var progEnd addr.VirtAddr
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Memsz == 0 {
			continue
		}
		segBase := addr.VirtAddr(prog.Vaddr).RoundDown()
		segEnd := addr.VirtAddr(prog.Vaddr + prog.Memsz).RoundUp()

		flags := pagetable.PTE_U
		if prog.Flags&elf.PF_R != 0 {
			flags |= pagetable.PTE_R
		}
		if prog.Flags&elf.PF_W != 0 {
			flags |= pagetable.PTE_W
		}
		if prog.Flags&elf.PF_X != 0 {
			flags |= pagetable.PTE_X
		}

		fileData := make([]byte, prog.Filesz)
		if prog.Filesz > 0 {
			if _, rerr := prog.ReadAt(fileData, 0); rerr != nil {
				return nil, defs.ENOEXEC
			}
		}

		for va := segBase; va < segEnd; va = va.Offset(int64(addr.PGSIZE)) {
			b, ok := m.MapAnon(va, flags)
			if !ok {
				return nil, defs.ENOMEM
			}
			pageStart := uint64(va)
			fileOff := uint64(prog.Vaddr)
			for i := range b {
				byteVA := pageStart + uint64(i)
				if byteVA < fileOff || byteVA >= fileOff+prog.Filesz {
					continue
				}
				b[i] = fileData[byteVA-fileOff]
			}
		}
		if segEnd > progEnd {
			progEnd = segEnd
		}
	}

	// The program header table's runtime address, for a statically
	// linked non-PIE binary, is simply the vaddr of the first PT_LOAD
	// segment (whose file offset is 0, so it includes the ELF header
	// and the phdr table itself) — the common case this loader targets.
	phdrVA := addr.VirtAddr(progHeaderVA(f))

	return &Loaded{
		Entry:   addr.VirtAddr(f.Entry),
		ProgEnd: progEnd,
		Phdr:    phdrVA,
		Phent:   int(phentSize(f)),
		Phnum:   len(f.Progs),
	}, 0
}

func phentSize(f *elf.File) uint16 {
	// debug/elf does not expose e_phentsize directly; ELF64 program
	// headers are a fixed 56 bytes.
	return 56
}

func progHeaderVA(f *elf.File) uint64 {
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Off == 0 {
			return prog.Vaddr
		}
	}
	return 0
}

// auxEntry is one {type, val} pair of the AUX vector (§4.5 step 6).
type auxEntry struct {
	Type uint64
	Val  uint64
}

// BuildInitialStack assembles the initial user stack in the bottom
// page of the process's stack region, following §4.5's six-step
// execve layout: env strings, align, argv strings, align, AT_EXECFN +
// AT_NULL, aux table, envp array, argv array, argc. It returns the
// final (8-byte aligned) stack pointer and the virtual addresses of
// the argv/envp tables for a0/a1/a2.
func BuildInitialStack(m *vmm.ProcessMemory, stackTop addr.VirtAddr, loaded *Loaded, argv, envp []string) (sp, argvVA, envpVA addr.VirtAddr, errno defs.Err_t) {
	// A single page is enough for any reasonably sized argv/envp; a
	// real kernel would grow the stack on demand here, but execve's
	// initial frame is conventionally bounded well under one page.
	page := make([]byte, addr.PGSIZE)
	cursor := len(page)

	pushString := func(s string) uint64 {
		b := append([]byte(s), 0)
		cursor -= len(b)
		copy(page[cursor:], b)
		return uint64(stackTop) - uint64(len(page)-cursor)
	}
	align8 := func() {
		cursor &^= 7
	}

	envPtrs := make([]uint64, len(envp))
	for i := len(envp) - 1; i >= 0; i-- {
		envPtrs[i] = pushString(envp[i])
	}
	align8()

	argvPtrs := make([]uint64, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		argvPtrs[i] = pushString(argv[i])
	}
	align8()

	var execfn uint64
	if len(argvPtrs) > 0 {
		execfn = argvPtrs[0]
	}

	aux := []auxEntry{
		{AT_PHDR, uint64(loaded.Phdr)},
		{AT_PHENT, uint64(loaded.Phent)},
		{AT_PHNUM, uint64(loaded.Phnum)},
		{AT_PAGESZ, addr.PGSIZE},
		{AT_ENTRY, uint64(loaded.Entry)},
		{AT_FLAGS, 0},
		{AT_BASE, 0},
		{AT_UID, 0},
		{AT_GID, 0},
		{AT_HWCAP, 0},
		{AT_CLKTCK, 100},
		{AT_SECURE, 0},
		{AT_EXECFN, execfn},
		{AT_NULL, 0},
	}

	pushU64 := func(v uint64) {
		cursor -= 8
		binary.LittleEndian.PutUint64(page[cursor:cursor+8], v)
	}

	for i := len(aux) - 1; i >= 0; i-- {
		pushU64(aux[i].Val)
		pushU64(aux[i].Type)
	}

	pushU64(0) // envp NUL terminator
	for i := len(envPtrs) - 1; i >= 0; i-- {
		pushU64(envPtrs[i])
	}
	envpBase := uint64(stackTop) - uint64(len(page)-cursor)

	pushU64(0) // argv NUL terminator
	for i := len(argvPtrs) - 1; i >= 0; i-- {
		pushU64(argvPtrs[i])
	}
	argvBase := uint64(stackTop) - uint64(len(page)-cursor)

	pushU64(uint64(len(argv)))
	align8()

	if cursor < 0 {
		return 0, 0, 0, defs.ENOMEM
	}

	stackPageBase := stackTop.Offset(-int64(addr.PGSIZE))
	if !m.CopyPageBytes(stackPageBase, page) {
		return 0, 0, 0, defs.EFAULT
	}

	sp = stackPageBase.Offset(int64(cursor))
	return sp, addr.VirtAddr(argvBase), addr.VirtAddr(envpBase), 0
}
