// Command arkctl is the kernel-adjacent operator tool SPEC_FULL.md §11
// describes: it gives the teacher's toolchain-fork dependencies
// (pprof, x/tools, x/tools/go/pointer, demangle) a concrete home
// outside the kernel itself, the same way biscuit's own use of them
// lives in its bundled Go toolchain rather than in kernel/.
package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "profile":
		err = runProfile(os.Args[2:])
	case "syscalls":
		err = runSyscalls(os.Args[2:])
	case "escape":
		err = runEscape(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "arkctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: arkctl <command> [flags]

commands:
  profile   decode a /dev/stat + /dev/prof snapshot into a pprof profile
  syscalls  regenerate SYSCALLS.md from internal/syscall's dispatch table
  escape    points-to lint over a Go package's call graph (-pkg)`)
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}
