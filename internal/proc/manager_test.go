package proc

import (
	"testing"

	"ark/internal/addr"
	"ark/internal/condvar"
	"ark/internal/mem"
	"ark/internal/vfs"
)

func newTestManager(t *testing.T) *ProcessManager {
	t.Helper()
	pm := mem.NewPhysMem(addr.PhyPageId(0), 16384)
	return NewManager(pm)
}

func noSuspend(*condvar.Condvar[Process]) {}

func TestSpawnAndGet(t *testing.T) {
	mgr := newTestManager(t)
	p, err := mgr.Spawn(nil, [3]vfs.File{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	got, ok := mgr.Get(p.Pid.Int())
	if !ok || got != p {
		t.Fatalf("Get(%d) = %v, %v", p.Pid.Int(), got, ok)
	}
}

func TestForkCreatesChild(t *testing.T) {
	mgr := newTestManager(t)
	parent, err := mgr.Spawn(nil, [3]vfs.File{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	child, errno := mgr.Fork(parent, 0)
	if errno != 0 {
		t.Fatalf("Fork: %v", errno)
	}
	if child.Pid.Int() == parent.Pid.Int() {
		t.Fatal("expected child to get a distinct pid")
	}

	parent.Lock()
	found := false
	for _, c := range parent.Data().Children {
		if c == child {
			found = true
		}
	}
	parent.Unlock()
	if !found {
		t.Fatal("expected child to be recorded among parent's children")
	}
}

func TestWait4NoChildrenReturnsECHILD(t *testing.T) {
	mgr := newTestManager(t)
	parent, err := mgr.Spawn(nil, [3]vfs.File{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	_, _, errno := mgr.Wait4(parent, -1, false, noSuspend)
	if errno == 0 {
		t.Fatal("expected ECHILD with no children")
	}
}

func TestWait4ReapsZombieChild(t *testing.T) {
	mgr := newTestManager(t)
	parent, err := mgr.Spawn(nil, [3]vfs.File{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	child, errno := mgr.Fork(parent, 0)
	if errno != 0 {
		t.Fatalf("Fork: %v", errno)
	}

	mgr.Exit(child, 5)

	reapedPid, exitCode, werr := mgr.Wait4(parent, -1, false, noSuspend)
	if werr != 0 {
		t.Fatalf("Wait4: %v", werr)
	}
	if reapedPid != child.Pid.Int() || exitCode != 5 {
		t.Fatalf("Wait4 = (%d, %d), want (%d, 5)", reapedPid, exitCode, child.Pid.Int())
	}
	if _, ok := mgr.Get(reapedPid); ok {
		t.Fatal("expected reaped child to be removed from the process table")
	}
}

func TestWait4NohangWithoutZombieReturnsZero(t *testing.T) {
	mgr := newTestManager(t)
	parent, err := mgr.Spawn(nil, [3]vfs.File{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if _, errno := mgr.Fork(parent, 0); errno != 0 {
		t.Fatalf("Fork: %v", errno)
	}

	reapedPid, exitCode, werr := mgr.Wait4(parent, -1, true, noSuspend)
	if werr != 0 || reapedPid != 0 || exitCode != 0 {
		t.Fatalf("Wait4(nohang) = (%d, %d, %v), want (0, 0, 0)", reapedPid, exitCode, werr)
	}
}
