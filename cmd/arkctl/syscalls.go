package main

import (
	"fmt"
	"go/ast"
	"go/constant"
	"os"
	"sort"
	"strings"

	"golang.org/x/tools/go/packages"
)

// runSyscalls statically extracts the syscall number -> handler mapping
// straight from internal/syscall's dispatch table (the `table` map
// literal in syscall.go) and regenerates SYSCALLS.md from it, so the
// generated doc can never drift from the actual dispatcher the way a
// hand-maintained table would (SPEC_FULL.md §11's "keep a generated
// SYSCALLS.md in sync" use of golang.org/x/tools/go/packages).
func runSyscalls(args []string) error {
	fs := newFlagSet("syscalls")
	out := fs.String("out", "SYSCALLS.md", "output doc path")
	fs.Parse(args)

	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedSyntax | packages.NeedTypes | packages.NeedTypesInfo,
	}
	pkgs, err := packages.Load(cfg, "ark/internal/syscall")
	if err != nil {
		return fmt.Errorf("loading internal/syscall: %w", err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		return fmt.Errorf("internal/syscall failed to load cleanly")
	}
	if len(pkgs) != 1 {
		return fmt.Errorf("expected exactly one package, got %d", len(pkgs))
	}
	pkg := pkgs[0]

	entries, err := extractTable(pkg)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Num < entries[j].Num })

	var b strings.Builder
	b.WriteString("# Syscall table\n\n")
	b.WriteString("Generated by `arkctl syscalls` from internal/syscall's dispatch table. Do not edit by hand.\n\n")
	b.WriteString("| number | name | handler |\n|---|---|---|\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "| %d | `%s` | `%s` |\n", e.Num, e.Name, e.Handler)
	}

	if err := os.WriteFile(*out, []byte(b.String()), 0o644); err != nil {
		return err
	}
	fmt.Printf("arkctl: wrote %d syscalls to %s\n", len(entries), *out)
	return nil
}

type syscallEntry struct {
	Num     int64
	Name    string
	Handler string
}

// extractTable walks pkg's syntax for the package-level "table" map
// literal and, for each entry, resolves the key identifier's constant
// value through pkg.TypesInfo.
func extractTable(pkg *packages.Package) ([]syscallEntry, error) {
	var entries []syscallEntry

	for _, file := range pkg.Syntax {
		for _, decl := range file.Decls {
			gen, ok := decl.(*ast.GenDecl)
			if !ok || gen.Tok.String() != "var" {
				continue
			}
			for _, spec := range gen.Specs {
				vs, ok := spec.(*ast.ValueSpec)
				if !ok {
					continue
				}
				for i, name := range vs.Names {
					if name.Name != "table" || i >= len(vs.Values) {
						continue
					}
					lit, ok := vs.Values[i].(*ast.CompositeLit)
					if !ok {
						continue
					}
					es, err := entriesFromLiteral(pkg, lit)
					if err != nil {
						return nil, err
					}
					entries = append(entries, es...)
				}
			}
		}
	}
	if entries == nil {
		return nil, fmt.Errorf("no \"table\" map literal found in internal/syscall")
	}
	return entries, nil
}

func entriesFromLiteral(pkg *packages.Package, lit *ast.CompositeLit) ([]syscallEntry, error) {
	var out []syscallEntry
	for _, elt := range lit.Elts {
		kv, ok := elt.(*ast.KeyValueExpr)
		if !ok {
			continue
		}
		keyIdent, ok := kv.Key.(*ast.Ident)
		if !ok {
			continue
		}
		valIdent, ok := kv.Value.(*ast.Ident)
		if !ok {
			continue
		}
		tv, ok := pkg.TypesInfo.Types[keyIdent]
		if !ok || tv.Value == nil || tv.Value.Kind() != constant.Int {
			continue
		}
		num, _ := constant.Int64Val(tv.Value)
		out = append(out, syscallEntry{Num: num, Name: keyIdent.Name, Handler: valIdent.Name})
	}
	return out, nil
}
