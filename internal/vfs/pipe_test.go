package vfs

import "testing"

func noop() {}

func TestPipeWriteThenRead(t *testing.T) {
	p := NewPipe()
	r, w := p.NewEnds(noop, noop, noop)

	n, err := w.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Write = %d, %v", n, err)
	}

	buf := make([]byte, 16)
	n, err = r.Read(buf)
	if err != nil || string(buf[:n]) != "hello" {
		t.Fatalf("Read = %q, %v", buf[:n], err)
	}
}

func TestPipeReadReturnsZeroAtEOFAfterWriteClose(t *testing.T) {
	p := NewPipe()
	r, w := p.NewEnds(noop, noop, noop)

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	buf := make([]byte, 4)
	n, err := r.Read(buf)
	if err != nil || n != 0 {
		t.Fatalf("Read after writer close = %d, %v, want 0, nil", n, err)
	}
}

func TestPipeWriteFailsWithEIOAfterReaderClose(t *testing.T) {
	p := NewPipe()
	r, w := p.NewEnds(noop, noop, noop)

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := w.Write([]byte("x"))
	if err == nil {
		t.Fatal("expected write with no reader to fail")
	}
}

func TestPipeSeekIsRejected(t *testing.T) {
	p := NewPipe()
	r, _ := p.NewEnds(noop, noop, noop)
	if _, err := r.Seek(0, 0); err == nil {
		t.Fatal("expected Seek on a pipe end to fail")
	}
}

func TestPipeCloseIsIdempotent(t *testing.T) {
	p := NewPipe()
	_, w := p.NewEnds(noop, noop, noop)
	if err := w.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
