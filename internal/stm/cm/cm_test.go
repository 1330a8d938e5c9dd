package cm

import (
	"testing"

	"github.com/go-swisstm/stm/internal/stm/locktable"
	"github.com/go-swisstm/stm/internal/stm/prng"
	"github.com/go-swisstm/stm/internal/stm/version"
)

type fakeDirectory map[uint32]*Manager

func (d fakeDirectory) Lookup(id uint32) (*Manager, bool) {
	m, ok := d[id]
	return m, ok
}

func newManager(counters *locktable.Counters) *Manager {
	return New(prng.New(), counters)
}

func TestOnStartResetsToNonGreedy(t *testing.T) {
	var counters locktable.Counters
	m := newManager(&counters)
	if m.Timestamp() != version.Sentinel {
		t.Fatalf("Timestamp() = %v, want Sentinel after OnStart", m.Timestamp())
	}
}

func TestOnWritePromotesAtThreshold(t *testing.T) {
	var counters locktable.Counters
	m := newManager(&counters)

	m.OnWrite(GreedyThreshold - 1)
	if m.Timestamp() != version.Sentinel {
		t.Fatal("manager became greedy before reaching the threshold")
	}

	m.OnWrite(GreedyThreshold)
	if m.Timestamp() == version.Sentinel {
		t.Fatal("manager did not become greedy at the threshold")
	}
}

func TestOnWriteClaimsTimestampOnce(t *testing.T) {
	var counters locktable.Counters
	m := newManager(&counters)

	m.OnWrite(GreedyThreshold)
	first := m.Timestamp()
	m.OnWrite(GreedyThreshold + 5)
	if m.Timestamp() != first {
		t.Fatalf("timestamp changed on a later OnWrite call: %v -> %v", first, m.Timestamp())
	}
}

func TestShouldAbortNonGreedyAlwaysLoses(t *testing.T) {
	var counters locktable.Counters
	m := newManager(&counters)

	var lock locktable.WriteLock
	lock.TryLock(7)

	if !m.ShouldAbort(&lock, fakeDirectory{}) {
		t.Fatal("non-greedy manager should always abort")
	}
}

func TestShouldAbortGreedyBeatsLaterTimestamp(t *testing.T) {
	var counters locktable.Counters
	challenger := newManager(&counters)
	owner := newManager(&counters)

	// Owner claims a timestamp first (smaller = earlier = wins).
	owner.OnWrite(GreedyThreshold)
	challenger.OnWrite(GreedyThreshold)

	var lock locktable.WriteLock
	lock.TryLock(1)

	dir := fakeDirectory{1: owner}

	if challenger.Timestamp() < owner.Timestamp() {
		t.Fatal("test setup invariant broken: challenger should have the later timestamp")
	}
	if !challenger.ShouldAbort(&lock, dir) {
		t.Fatal("challenger with the later (worse) timestamp should abort")
	}
	if owner.ShouldAbort(&lock, fakeDirectory{1: challenger}) {
		t.Fatal("owner with the earlier (better) timestamp should not abort")
	}
}

func TestShouldAbortUnknownOwnerKeepsSpinning(t *testing.T) {
	var counters locktable.Counters
	m := newManager(&counters)
	m.OnWrite(GreedyThreshold)

	var lock locktable.WriteLock
	lock.TryLock(99)

	if m.ShouldAbort(&lock, fakeDirectory{}) {
		t.Fatal("greedy manager facing an unresolvable owner should keep spinning, not abort")
	}
}
