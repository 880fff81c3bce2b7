// Package plic implements the claim/enable/complete interface the trap
// plane consumes for external interrupts (the "Interrupt/plic"
// component, spec.md §2/§4.4). spec.md §1 scopes the PLIC's actual
// MMIO register layout out as an external collaborator — only the
// interface the core consumes is in scope here, so this models
// pending/enable/claim/complete semantics without a byte-accurate
// register file.
//
// Grounded on original_source/src/interrupt/plic.rs's claim/complete/
// enable_irq functions (the interface shape) and tinyrange-cc's
// internal/hv/riscv/rv64/plic.go (the pending/enable/priority-threshold
// model this package's Raise/Claim pair is adapted from).
package plic

import "sync"

// Handler runs when irq is claimed and dispatched.
type Handler func(irq uint32)

// PLIC is the interrupt controller surface internal/trap's
// CauseSupervisorExternal case drives: a device raises an IRQ, the
// trap plane claims and dispatches it, and the handler completes it.
type PLIC struct {
	mu       sync.Mutex
	handlers map[uint32]Handler
	enabled  map[uint32]bool
	claimed  map[uint32]bool
	pending  []uint32
}

// New returns a PLIC with no IRQ sources enabled.
func New() *PLIC {
	return &PLIC{
		handlers: map[uint32]Handler{},
		enabled:  map[uint32]bool{},
		claimed:  map[uint32]bool{},
	}
}

// EnableIRQ registers h as irq's handler and enables it, mirroring
// plic.rs's enable_irq/set_irq_priority pairing (this kernel drives no
// more than one priority level, so enabling is binary rather than a
// priority register write).
func (p *PLIC) EnableIRQ(irq uint32, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[irq] = h
	p.enabled[irq] = true
}

// DisableIRQ masks irq; a pending-but-unclaimed raise is dropped.
func (p *PLIC) DisableIRQ(irq uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.enabled, irq)
	for i, q := range p.pending {
		if q == irq {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			break
		}
	}
}

// Raise marks irq pending, as a device (console RX, a block completion)
// would by asserting its interrupt line. A disabled or already-pending
// source is a no-op.
func (p *PLIC) Raise(irq uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled[irq] || p.claimed[irq] {
		return
	}
	for _, q := range p.pending {
		if q == irq {
			return
		}
	}
	p.pending = append(p.pending, irq)
}

// Claim returns the oldest pending, enabled IRQ and marks it claimed,
// or 0 if nothing is pending — the same sentinel plic.rs's claim()
// uses, since IRQ source 0 is reserved on every real PLIC.
func (p *PLIC) Claim() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return 0
	}
	irq := p.pending[0]
	p.pending = p.pending[1:]
	p.claimed[irq] = true
	return irq
}

// Complete signals that irq's handler has finished, matching plic.rs's
// complete() write to PLIC_MISC_CLAIM_COMPLETE.
func (p *PLIC) Complete(irq uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.claimed, irq)
}

// Dispatch claims the next pending IRQ, if any, runs its handler, and
// completes it — the whole claim/handle/complete cycle
// CauseSupervisorExternal triggers on every external-interrupt trap.
func (p *PLIC) Dispatch() {
	irq := p.Claim()
	if irq == 0 {
		return
	}
	p.mu.Lock()
	h := p.handlers[irq]
	p.mu.Unlock()
	if h != nil {
		h(irq)
	}
	p.Complete(irq)
}
