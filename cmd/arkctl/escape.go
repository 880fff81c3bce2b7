package main

import (
	"fmt"
	"go/types"

	"github.com/ianlancetaylor/demangle"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/pointer"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// runEscape runs a whole-program points-to analysis over a Go package
// pattern (typically the init binary's own source tree, built for
// execve on the target kernel) and flags every reachable function whose
// signature takes a raw pointer argument — an offline lint for code
// that is about to cross the user/kernel ABI boundary the way
// BuildInitialStack's argv/envp pointers do (SPEC_FULL.md §11's
// "points-to analysis ... to flag functions that take a raw pointer aux
// arg" use of golang.org/x/tools/go/pointer). Any mangled C symbol names
// pulled in via cgo-style linkname are demangled with
// github.com/ianlancetaylor/demangle before being printed.
func runEscape(args []string) error {
	fs := newFlagSet("escape")
	pattern := fs.String("pkg", "", "Go package pattern to analyze (required)")
	fs.Parse(args)

	if *pattern == "" {
		return fmt.Errorf("-pkg is required")
	}

	cfg := &packages.Config{Mode: packages.LoadAllSyntax}
	pkgs, err := packages.Load(cfg, *pattern)
	if err != nil {
		return fmt.Errorf("loading %s: %w", *pattern, err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		return fmt.Errorf("%s failed to load cleanly", *pattern)
	}

	prog, ssaPkgs := ssautil.AllPackages(pkgs, ssa.SanityCheckFunctions)
	prog.Build()

	mains := ssautil.MainPackages(ssaPkgs)
	if len(mains) == 0 {
		return fmt.Errorf("%s has no main package to anchor the call graph at", *pattern)
	}

	ptrCfg := &pointer.Config{
		Mains:          mains,
		BuildCallGraph: true,
	}
	result, err := pointer.Analyze(ptrCfg)
	if err != nil {
		return fmt.Errorf("pointer analysis: %w", err)
	}

	cg := result.CallGraph
	cg.DeleteSyntheticNodes()

	var flagged int
	for fn := range cg.Nodes {
		if fn == nil || fn.Pkg == nil || fn.Signature == nil {
			continue
		}
		if !takesRawPointer(fn.Signature) {
			continue
		}
		flagged++
		fmt.Printf("%s: %s\n", fn.Pkg.Pkg.Path(), demangledName(fn.Name()))
	}
	fmt.Printf("arkctl: %d function(s) take a raw pointer argument\n", flagged)
	return nil
}

func takesRawPointer(sig *types.Signature) bool {
	for i := 0; i < sig.Params().Len(); i++ {
		if _, ok := sig.Params().At(i).Type().Underlying().(*types.Pointer); ok {
			return true
		}
	}
	return false
}

func demangledName(name string) string {
	if out := demangle.Filter(name); out != name {
		return out
	}
	return name
}
