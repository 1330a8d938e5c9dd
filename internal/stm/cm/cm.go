// Package cm implements the per-engine contention manager (spec.md C5):
// the policy that decides, when one transaction's write meets another's
// held write lock, which of the two backs off.
//
// The manager is deliberately small and atomic-counter-based, the same
// shape as the sampling counter this module's ancestor used to gate
// expensive checks behind a cheap atomic load: cm_ts starts at the
// sentinel "not greedy" value and is only promoted to a real timestamp
// once a transaction has done enough work (spec.md's 10-write threshold)
// to be worth protecting from cheaper rivals.
package cm

import (
	"sync/atomic"
	"time"

	"github.com/go-swisstm/stm/internal/stm/locktable"
	"github.com/go-swisstm/stm/internal/stm/prng"
	"github.com/go-swisstm/stm/internal/stm/version"
)

// GreedyThreshold is the write-set size at which a transaction becomes
// eligible to claim a greedy timestamp.
const GreedyThreshold = 10

// backoffMask bounds the random increment added to the backoff counter on
// each restart to four bits, matching spec.md's `prng.next() & 0xF`.
const backoffMask = 0xF

// Directory resolves a write lock's owner id to that owner's contention
// manager, so ShouldAbort can compare timestamps across engines. It is
// implemented by the engine registry, not by this package, to avoid a
// dependency cycle between cm and the engine it arbitrates for.
type Directory interface {
	Lookup(ownerID uint32) (*Manager, bool)
}

// Manager is one engine's contention manager state.
type Manager struct {
	ts      atomic.Uint64 // version.Version bits; version.Sentinel means "not greedy".
	backoff uint16
	rng     *prng.Generator
	greedy  *locktable.Counters
}

// New returns a Manager that draws backoff randomness from rng and claims
// greedy timestamps from counters.
func New(rng *prng.Generator, counters *locktable.Counters) *Manager {
	m := &Manager{rng: rng, greedy: counters}
	m.OnStart()
	return m
}

// OnStart resets the manager to its non-greedy, zero-backoff state. It is
// called when the manager is created and each time a transaction ends
// cleanly (Commit or End), not on Begin and not on a rollback.
func (m *Manager) OnStart() {
	m.ts.Store(uint64(version.Sentinel))
	m.backoff = 0
}

// OnRestart runs the randomized exponential backoff: draw a small random
// increment, sleep for the accumulated backoff, then double it for next
// time. Called whenever Begin finds a transaction already running in the
// same mode (i.e. this is a restart, not a fresh start).
func (m *Manager) OnRestart() {
	r := uint16(m.rng.Next() & backoffMask)
	m.backoff += r
	if m.backoff > 0 {
		time.Sleep(time.Duration(m.backoff))
	}
	m.backoff <<= 1
}

// OnWrite is called each time WriteWord acquires the write lock of a
// stripe the transaction did not already hold. Once the write set
// has accumulated GreedyThreshold entries, the transaction claims a
// greedy timestamp and keeps it until the transaction ends — short
// transactions never claim one and always defer to greedy rivals.
func (m *Manager) OnWrite(writeSetSize int) {
	if version.Version(m.ts.Load()) == version.Sentinel && writeSetSize >= GreedyThreshold {
		m.ts.Store(uint64(m.greedy.IncGreedy()))
	}
}

// Timestamp returns the manager's current greedy timestamp, or
// version.Sentinel if it has not (yet) become greedy.
func (m *Manager) Timestamp() version.Version {
	return version.Version(m.ts.Load())
}

// MarkAbort is the hook a winning contender calls on the engine it wants
// to politely ask to abort. The algorithm's correctness does not depend
// on the victim honoring this — spec.md documents it as a hint only, with
// eventual progress guaranteed by backoff instead of cooperation — so
// this intentionally does nothing.
func (m *Manager) MarkAbort() {
}

// ShouldAbort decides whether the caller (whose Manager this is) must
// abort after finding lock already held by another engine. owners
// resolves lock's current holder to that holder's Manager so the two
// timestamps can be compared.
//
// Rules, in order:
//  1. If the caller is not greedy, it always loses (return true).
//  2. If the lock has no owner, or the owner cannot be resolved, the
//     caller keeps spinning (return false).
//  3. If the owner's timestamp is smaller (earlier), the caller loses.
//  4. Otherwise the caller wins: it hints the owner to abort via
//     MarkAbort and keeps spinning (return false).
func (m *Manager) ShouldAbort(lock *locktable.WriteLock, owners Directory) bool {
	ts := m.Timestamp()
	if ts == version.Sentinel {
		return true
	}

	ownerID := lock.OwnerID()
	if ownerID == 0 {
		return false
	}

	owner, ok := owners.Lookup(ownerID)
	if !ok {
		return false
	}

	if owner.Timestamp() < ts {
		return true
	}

	owner.MarkAbort()
	return false
}
