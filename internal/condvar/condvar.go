// Package condvar implements the kernel's wait-queue primitive (§4.6),
// used for timer sleep, pipe blocking, and wait4. Grounded on
// original_source/src/process/condvar.rs, including its acknowledged
// lost-wakeup hazard — and on SPEC_FULL.md §14's resolution of it: the
// "enqueued" transition happens atomically under the condvar's own
// lock rather than racing against a separately-locked status change.
//
// The waiting list holds weak references, exactly as the Rust source's
// Vec<Weak<Process>> does; Go 1.24's weak package is the direct
// standard-library counterpart, so a waiter that dies (is reaped)
// without ever being woken simply vanishes from the list instead of
// keeping it alive.
package condvar

import (
	"sync"
	"weak"
)

// Condvar is a lock-protected list of weak references to waiters of
// type T, generic so it can back timer sleeps, pipe blocking, and
// wait4 without each defining its own wait-queue.
type Condvar[T any] struct {
	mu      sync.Mutex
	waiting []weak.Pointer[T]
}

// New returns an empty condvar.
func New[T any]() *Condvar[T] {
	return &Condvar[T]{}
}

// Wait marks the caller as waiting and enqueues a weak reference to it.
// markSuspend is invoked while the condvar's lock is held, so a
// concurrent Wakeup cannot observe "suspended but not yet enqueued" —
// the lost-wakeup window the Rust source leaves open (condvar.rs) is
// closed by making both steps part of one critical section here.
func (c *Condvar[T]) Wait(self *T, markSuspend func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	markSuspend()
	c.waiting = append(c.waiting, weak.Make(self))
}

// Wakeup drains the waiting list, invoking markReady for every waiter
// still alive. Dead weak references (waiters already reaped) are
// silently dropped.
func (c *Condvar[T]) Wakeup(markReady func(*T)) {
	c.mu.Lock()
	waiters := c.waiting
	c.waiting = nil
	c.mu.Unlock()

	for _, w := range waiters {
		if p := w.Value(); p != nil {
			markReady(p)
		}
	}
}

// Len reports the number of still-enqueued waiters, including any
// whose weak reference has since gone dead (used only for tests/stats,
// matching biscuit's habit of exposing raw counters for /dev/stat).
func (c *Condvar[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiting)
}
