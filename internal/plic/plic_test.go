package plic

import "testing"

func TestDispatchRunsHandlerAndCompletes(t *testing.T) {
	p := New()
	var got uint32
	p.EnableIRQ(3, func(irq uint32) { got = irq })

	p.Raise(3)
	p.Dispatch()

	if got != 3 {
		t.Fatalf("handler saw irq %d, want 3", got)
	}
	if p.claimed[3] {
		t.Fatal("expected irq 3 to be completed, not still claimed")
	}
}

func TestDisabledIRQNeverBecomesPending(t *testing.T) {
	p := New()
	p.Raise(5)
	if irq := p.Claim(); irq != 0 {
		t.Fatalf("Claim() = %d, want 0 for a disabled source", irq)
	}
}

func TestDispatchWithNoPendingIRQIsNoop(t *testing.T) {
	p := New()
	ran := false
	p.EnableIRQ(1, func(uint32) { ran = true })
	p.Dispatch()
	if ran {
		t.Fatal("handler should not run when nothing is pending")
	}
}

func TestRaiseIsIdempotentWhileAlreadyPending(t *testing.T) {
	p := New()
	p.EnableIRQ(2, func(uint32) {})
	p.Raise(2)
	p.Raise(2)
	if len(p.pending) != 1 {
		t.Fatalf("pending = %v, want exactly one entry", p.pending)
	}
}
