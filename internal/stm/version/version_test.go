package version

import "testing"

// TestLockBitRoundTrip verifies that setting and clearing the lock bit
// never disturbs the counter portion of a Version.
func TestLockBitRoundTrip(t *testing.T) {
	v := Version(12345)

	locked := v.WithLock()
	if !locked.Locked() {
		t.Fatal("WithLock() did not set the lock bit")
	}
	if locked.WithoutLock() != v {
		t.Errorf("WithLock().WithoutLock() = %d, want %d", locked.WithoutLock(), v)
	}

	if v.Locked() {
		t.Error("freshly constructed Version reports Locked() == true")
	}
}

// TestSentinelIsUnreachable verifies that Max, the highest counter value a
// well-behaved global version can reach, never collides with Sentinel.
func TestSentinelIsUnreachable(t *testing.T) {
	if Max == Sentinel {
		t.Fatal("Max must never equal Sentinel")
	}
}

func TestWithLockIdempotent(t *testing.T) {
	v := Version(7).WithLock().WithLock()
	if !v.Locked() {
		t.Fatal("double WithLock() lost the lock bit")
	}
	if v.WithoutLock() != 7 {
		t.Errorf("got %d, want 7", v.WithoutLock())
	}
}
