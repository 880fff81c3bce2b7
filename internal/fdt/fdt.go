// Package fdt parses the flattened device tree blob SBI firmware
// passes to the boot hart in register a1 (SPEC_FULL.md §1, §15): memory
// regions, hart count, and the chosen bootargs string.
//
// original_source/src/startup/mod.rs leans on the external Rust "fdt"
// crate for this; no Go equivalent shows up anywhere in the example
// pack, so this is a small hand-rolled reader of the standard DTB
// binary format (a public, stable on-disk layout, not something the
// corpus offers a library for — see DESIGN.md).
package fdt

import (
	"encoding/binary"
	"errors"
)

const (
	magic        = 0xd00dfeed
	tokenBegNode = 0x00000001
	tokenEndNode = 0x00000002
	tokenProp    = 0x00000003
	tokenNop     = 0x00000004
	tokenEnd     = 0x00000009
)

var errBadBlob = errors.New("fdt: malformed device tree blob")

// Node is one devicetree node: its properties (raw bytes, callers
// interpret per property semantics) and child nodes.
type Node struct {
	Name     string
	Props    map[string][]byte
	Children []*Node
}

func (n *Node) child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Prop returns a property's raw value, byte-order as stored in the
// blob (big-endian for all standard cell properties).
func (n *Node) Prop(name string) ([]byte, bool) {
	v, ok := n.Props[name]
	return v, ok
}

// Parse decodes a raw FDT blob (as handed off by SBI firmware) into its
// root node.
func Parse(blob []byte) (*Node, error) {
	if len(blob) < 40 {
		return nil, errBadBlob
	}
	be := binary.BigEndian
	if be.Uint32(blob[0:4]) != magic {
		return nil, errBadBlob
	}
	offStruct := be.Uint32(blob[8:12])
	offStrings := be.Uint32(blob[12:16])

	p := &parser{blob: blob, strings: blob[offStrings:]}
	p.pos = offStruct

	root, err := p.parseNode()
	if err != nil {
		return nil, err
	}
	return root, nil
}

type parser struct {
	blob    []byte
	strings []byte
	pos     uint32
}

func (p *parser) u32() (uint32, error) {
	if int(p.pos)+4 > len(p.blob) {
		return 0, errBadBlob
	}
	v := binary.BigEndian.Uint32(p.blob[p.pos:])
	p.pos += 4
	return v, nil
}

func align4(v uint32) uint32 { return (v + 3) &^ 3 }

func (p *parser) cString() (string, error) {
	start := p.pos
	for {
		if int(p.pos) >= len(p.blob) {
			return "", errBadBlob
		}
		if p.blob[p.pos] == 0 {
			break
		}
		p.pos++
	}
	s := string(p.blob[start:p.pos])
	p.pos = align4(p.pos + 1)
	return s, nil
}

func (p *parser) stringAt(off uint32) string {
	if int(off) >= len(p.strings) {
		return ""
	}
	end := off
	for int(end) < len(p.strings) && p.strings[end] != 0 {
		end++
	}
	return string(p.strings[off:end])
}

// parseNode parses one FDT_BEGIN_NODE..FDT_END_NODE run. p.pos must
// point at the node's own FDT_BEGIN_NODE token, which parseNode
// consumes; for a child node the caller rewinds over the token it has
// just read.
func (p *parser) parseNode() (*Node, error) {
	tok, err := p.u32()
	if err != nil {
		return nil, err
	}
	if tok != tokenBegNode {
		return nil, errBadBlob
	}
	name, err := p.cString()
	if err != nil {
		return nil, err
	}
	n := &Node{Name: name, Props: map[string][]byte{}}

	for {
		tok, err := p.u32()
		if err != nil {
			return nil, err
		}
		switch tok {
		case tokenProp:
			plen, err := p.u32()
			if err != nil {
				return nil, err
			}
			nameoff, err := p.u32()
			if err != nil {
				return nil, err
			}
			if int(p.pos)+int(plen) > len(p.blob) {
				return nil, errBadBlob
			}
			val := p.blob[p.pos : p.pos+plen]
			p.pos = align4(p.pos + plen)
			n.Props[p.stringAt(nameoff)] = val
		case tokenNop:
			continue
		case tokenBegNode:
			p.pos -= 4 // parseNode expects to consume its own BEGIN_NODE token
			child, err := p.parseNode()
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		case tokenEndNode:
			return n, nil
		case tokenEnd:
			return n, nil
		default:
			return nil, errBadBlob
		}
	}
}

// Region is one physical memory span a "memory" node's reg property
// describes, assuming the common #address-cells/#size-cells = 2/2
// (64-bit) convention.
type Region struct {
	Base uint64
	Size uint64
}

// MemoryRegions walks root's children for nodes whose device_type
// property is "memory" and decodes their reg property into regions.
func MemoryRegions(root *Node) []Region {
	var out []Region
	for _, n := range root.Children {
		dt, ok := n.Prop("device_type")
		if !ok || string(trimNul(dt)) != "memory" {
			continue
		}
		reg, ok := n.Prop("reg")
		if !ok {
			continue
		}
		for off := 0; off+16 <= len(reg); off += 16 {
			out = append(out, Region{
				Base: binary.BigEndian.Uint64(reg[off : off+8]),
				Size: binary.BigEndian.Uint64(reg[off+8 : off+16]),
			})
		}
	}
	return out
}

func trimNul(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

// HartCount returns the number of "cpu" device_type children under the
// tree's "cpus" node.
func HartCount(root *Node) int {
	cpus := root.child("cpus")
	if cpus == nil {
		return 0
	}
	count := 0
	for _, n := range cpus.Children {
		if dt, ok := n.Prop("device_type"); ok && string(trimNul(dt)) == "cpu" {
			count++
		}
	}
	return count
}

// PLICRegion walks root looking for a node whose "compatible" property
// lists "riscv,plic0" (the string original_source/src/interrupt/
// plic.rs's load_from_fdt matches on) and decodes its reg property into
// a base/size region, the pair §6 says the core needs to hand off to
// internal/plic — the register layout behind that base/size is the
// external collaborator spec.md §1 scopes out.
func PLICRegion(root *Node) (Region, bool) {
	var find func(n *Node) (Region, bool)
	find = func(n *Node) (Region, bool) {
		if compat, ok := n.Prop("compatible"); ok && hasCompatible(compat, "riscv,plic0") {
			if reg, ok := n.Prop("reg"); ok && len(reg) >= 16 {
				return Region{
					Base: binary.BigEndian.Uint64(reg[0:8]),
					Size: binary.BigEndian.Uint64(reg[8:16]),
				}, true
			}
		}
		for _, c := range n.Children {
			if r, ok := find(c); ok {
				return r, true
			}
		}
		return Region{}, false
	}
	return find(root)
}

// hasCompatible reports whether want appears among the NUL-separated
// strings a "compatible" property packs.
func hasCompatible(prop []byte, want string) bool {
	for _, s := range splitNul(prop) {
		if s == want {
			return true
		}
	}
	return false
}

func splitNul(b []byte) []string {
	var out []string
	start := 0
	for i, c := range b {
		if c == 0 {
			if i > start {
				out = append(out, string(b[start:i]))
			}
			start = i + 1
		}
	}
	if start < len(b) {
		out = append(out, string(b[start:]))
	}
	return out
}

// Bootargs returns the chosen node's "bootargs" string, empty if absent.
func Bootargs(root *Node) string {
	chosen := root.child("chosen")
	if chosen == nil {
		return ""
	}
	v, ok := chosen.Prop("bootargs")
	if !ok {
		return ""
	}
	return string(trimNul(v))
}
