package locktable

import (
	"testing"

	"github.com/go-swisstm/stm/internal/stm/version"
)

func TestIndexMasksToTableSize(t *testing.T) {
	for _, addr := range []uintptr{0, 8, 16, Size * 8, Size*8 + 16} {
		idx := Index(addr)
		if idx < 0 || idx >= Size {
			t.Fatalf("Index(%d) = %d, out of range", addr, idx)
		}
	}
	// Two addresses Size words apart alias onto the same stripe.
	if Index(8) != Index(8+Size*8) {
		t.Errorf("expected aliasing stripe indices for addresses Size words apart")
	}
}

func TestReadLockLockUnlock(t *testing.T) {
	var r ReadLock
	r.UnlockTo(version.Version(5))
	if r.Get() != 5 {
		t.Fatalf("Get() = %d, want 5", r.Get())
	}

	r.Lock()
	if !r.Get().Locked() {
		t.Fatal("expected lock bit set after Lock()")
	}

	r.Unlock()
	if r.Get() != 5 {
		t.Fatalf("Unlock() changed version: got %d, want 5", r.Get())
	}

	r.Lock()
	r.UnlockTo(version.Version(6))
	if r.Get().Locked() || r.Get() != 6 {
		t.Fatalf("UnlockTo() = %v, want unlocked version 6", r.Get())
	}
}

func TestWriteLockTryLockExclusion(t *testing.T) {
	var w WriteLock
	if !w.TryLock(1) {
		t.Fatal("first TryLock should succeed")
	}
	if w.TryLock(2) {
		t.Fatal("second TryLock on a held lock should fail")
	}
	if !w.IsLockedBy(1) {
		t.Error("expected IsLockedBy(1) to be true")
	}
	if w.OwnerID() != 1 {
		t.Errorf("OwnerID() = %d, want 1", w.OwnerID())
	}

	w.Unlock()
	if w.IsLocked() {
		t.Fatal("expected unlocked after Unlock()")
	}
	if !w.TryLock(2) {
		t.Fatal("TryLock should succeed after Unlock()")
	}
}

func TestCountersMonotonic(t *testing.T) {
	var c Counters
	if c.Global() != 0 {
		t.Fatalf("Global() initial = %d, want 0", c.Global())
	}
	v1 := c.IncGlobal()
	v2 := c.IncGlobal()
	if v1 != 1 || v2 != 2 {
		t.Fatalf("IncGlobal sequence = %d, %d, want 1, 2", v1, v2)
	}

	g1 := c.IncGreedy()
	g2 := c.IncGreedy()
	if g1 != 0 || g2 != 1 {
		t.Fatalf("IncGreedy sequence = %d, %d, want 0, 1", g1, g2)
	}
}
