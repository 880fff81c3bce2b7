package vfs

import (
	"sync"

	"ark/internal/condvar"
	"ark/internal/defs"
)

// PipeSize bounds how many bytes a pipe buffers before a writer blocks,
// matching the PIPE_SIZE the testable properties (§8) size blocking
// tests around.
const PipeSize = 4096

// pipeWaiter is the type parameter condvar.Condvar is instantiated
// over for pipe blocking; it carries nothing beyond identity; the
// actual wake/suspend behaviour is injected by the process layer via
// the callback closures passed to Wait/Wakeup, keeping vfs free of any
// dependency on the proc package.
type pipeWaiter struct{}

// Pipe is an in-kernel byte pipe (§4.7, §8's pipe properties). Reads
// and writes that cannot make progress block on a condvar rather than
// the open-coded yield loop SPEC_FULL.md §14 calls out as resolved
// (§9.4).
type Pipe struct {
	mu       sync.Mutex
	buf      []byte
	readers  int
	writers  int
	readCV   *condvar.Condvar[pipeWaiter]
	writeCV  *condvar.Condvar[pipeWaiter]
}

// NewPipe creates a pipe with one reader and one writer reference,
// matching pipe2's contract of handing back both ends at once.
func NewPipe() *Pipe {
	return &Pipe{
		readers: 1,
		writers: 1,
		readCV:  condvar.New[pipeWaiter](),
		writeCV: condvar.New[pipeWaiter](),
	}
}

// PipeEnd is one end (read or write) of a Pipe, implementing File.
type PipeEnd struct {
	p         *Pipe
	write     bool
	closed    bool
	suspend   func()
	switchOut func()
	resume    func()
}

// NewEnds returns the read and write File ends of p. suspend marks the
// caller suspended and is invoked while the condvar's own lock is held
// (the markSuspend argument to Condvar.Wait), so it must only flip
// state, never block. switchOut performs the actual hart context
// switch and is called afterward, once both the condvar's lock and
// p.mu have been released — calling a blocking switch while either is
// held would deadlock a concurrent reader/writer trying to acquire
// them. resume marks a waiter ready again. All three are injected by
// the process layer so vfs need not import proc; each end gets its own
// set since the read end only ever blocks in Read and the write end
// only ever blocks in Write.
func (p *Pipe) NewEnds(suspend, switchOut, resume func()) (readEnd, writeEnd *PipeEnd) {
	readEnd = &PipeEnd{p: p, write: false, suspend: suspend, switchOut: switchOut, resume: resume}
	writeEnd = &PipeEnd{p: p, write: true, suspend: suspend, switchOut: switchOut, resume: resume}
	return
}

func (e *PipeEnd) Dentry() *Dentry { return nil }

func (e *PipeEnd) Seek(off int64, whence int) (int64, error) { return 0, defs.ESPIPE }

// Read implements the blocking-read side of §8's pipe properties: it
// blocks (via the injected suspend/resume pair, which the scheduler
// wires to an actual process suspend/wake) while the buffer is empty
// and writers remain open, and returns a short read (possibly zero
// only at true EOF) once the write end closes.
func (e *PipeEnd) Read(buf []byte) (int, error) {
	p := e.p
	for {
		p.mu.Lock()
		if len(p.buf) > 0 {
			n := copy(buf, p.buf)
			p.buf = p.buf[n:]
			p.mu.Unlock()
			p.writeCV.Wakeup(func(*pipeWaiter) { e.resume() })
			return n, nil
		}
		if p.writers == 0 {
			p.mu.Unlock()
			return 0, nil
		}
		w := &pipeWaiter{}
		p.readCV.Wait(w, e.suspend)
		p.mu.Unlock()
		e.switchOut()
	}
}

// Write implements the blocking-write side: it blocks while the
// buffer is at PipeSize capacity, and fails with EIO once no reader
// remains (§8: "closing the write end causes a subsequent read to
// return either a final short read or EIO, never hang" — the
// symmetric case here is a write with no reader, which cannot ever be
// drained, so it fails immediately rather than hanging).
func (e *PipeEnd) Write(buf []byte) (int, error) {
	p := e.p
	total := 0
	for total < len(buf) {
		p.mu.Lock()
		if p.readers == 0 {
			p.mu.Unlock()
			return total, defs.EIO
		}
		room := PipeSize - len(p.buf)
		if room <= 0 {
			w := &pipeWaiter{}
			p.writeCV.Wait(w, e.suspend)
			p.mu.Unlock()
			e.switchOut()
			continue
		}
		n := len(buf) - total
		if n > room {
			n = room
		}
		p.buf = append(p.buf, buf[total:total+n]...)
		total += n
		p.mu.Unlock()
		p.readCV.Wakeup(func(*pipeWaiter) { e.resume() })
	}
	return total, nil
}

// Close releases this end's reference; when the last reference of a
// side closes, waiters on the other side are woken so they observe
// the new EOF/EIO condition instead of blocking forever.
func (e *PipeEnd) Close() error {
	p := e.p
	p.mu.Lock()
	if e.closed {
		p.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.write {
		p.writers--
	} else {
		p.readers--
	}
	p.mu.Unlock()
	p.readCV.Wakeup(func(*pipeWaiter) { e.resume() })
	p.writeCV.Wakeup(func(*pipeWaiter) { e.resume() })
	return nil
}
