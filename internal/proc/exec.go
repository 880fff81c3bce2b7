package proc

import (
	"ark/internal/defs"
	"ark/internal/elfload"
	"ark/internal/hartsim"
	"ark/internal/vmm"
)

// Execve implements §4.5's execve: reset memory, load_elf, then
// assemble the initial user stack, and rewrite the trap context so the
// scheduler resumes the process at the new entry point with
// a0=argc, a1=argv table, a2=envp table, satp=new satp.
func (p *Process) Execve(data []byte, argv, envp []string) defs.Err_t {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.data.Memory.Reset()

	loaded, err := elfload.LoadELF(p.data.Memory, data)
	if err != 0 {
		return err
	}

	// §4.5: "set brk = min_brk = prog_end". Both are assigned directly,
	// so nothing is mapped beyond the loaded segments.
	p.data.Memory.MinBrk = loaded.ProgEnd
	p.data.Memory.Brk = loaded.ProgEnd
	p.data.Memory.ProgEnd = loaded.ProgEnd

	if !p.data.Memory.IncreaseUserStack() {
		return defs.ENOMEM
	}

	sp, argvVA, envpVA, err := elfload.BuildInitialStack(p.data.Memory, vmm.StackBase, loaded, argv, envp)
	if err != 0 {
		return err
	}

	trap := &hartsim.TrapContext{}
	trap.Reg[hartsim.RegSP] = uint64(sp)
	trap.Reg[hartsim.RegA0] = uint64(len(argv))
	trap.Reg[hartsim.RegA1] = uint64(argvVA)
	trap.Reg[hartsim.RegA2] = uint64(envpVA)
	trap.Sepc = uint64(loaded.Entry)
	trap.Satp = p.data.Memory.PT.ToSatp()
	trap.KernelSp = kernelStackTop(p.data.KernelStack)
	*p.data.Trap = *trap
	return 0
}
