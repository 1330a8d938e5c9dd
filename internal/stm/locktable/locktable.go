// Package locktable implements the process-wide stripe lock table (C1) and
// the two global monotonic counters (C2) that the transaction engine
// synchronizes against.
//
// The table is a fixed-size array, not a hash map: unlike the shadow
// memory this package's ancestor used for race detection (a 64K-slot
// open-addressed array of lazily-allocated cells keyed by address), here
// every one of the 4096 stripes is a real, always-present LockEntry.
// Many addresses intentionally alias onto the same stripe; that is the
// whole point of striping instead of one lock per word.
package locktable

import (
	"sync/atomic"

	"github.com/go-swisstm/stm/internal/stm/version"
)

// Size is the number of stripes in the lock table. It must be a power of
// two so that the stripe index can be computed with a mask instead of a
// modulo.
const Size = 4096

// indexMask extracts the stripe index from a word-aligned address.
const indexMask = Size - 1

// Index returns the stripe index that guards the word at addr.
func Index(addr uintptr) int {
	return int(addr & indexMask)
}

// ReadLock is the per-stripe read-version word (spec.md C1). It is
// mutated without synchronization by whichever engine currently holds the
// stripe's WriteLock, and observed by readers with a plain load — the
// happens-before relationship readers rely on comes from the WriteLock's
// own acquire/release pair, exactly as documented in spec.md §4.1.
type ReadLock struct {
	v version.Version
}

// Get returns the current read-version, including the lock bit if a
// commit is in progress on this stripe.
func (r *ReadLock) Get() version.Version {
	return r.v
}

// Lock sets the read-version lock bit. Callers must already own the
// stripe's WriteLock; this method performs no validity checks of its own.
func (r *ReadLock) Lock() {
	r.v = r.v.WithLock()
}

// Unlock clears the read-version lock bit without changing the counter.
// Used on the abort path, where a commit that never completed must not
// advertise a new version.
func (r *ReadLock) Unlock() {
	r.v = r.v.WithoutLock()
}

// UnlockTo clears the lock bit and stores newVersion in a single step.
// Used on the successful commit path.
func (r *ReadLock) UnlockTo(newVersion version.Version) {
	r.v = newVersion
}

// lockFlag is the bit of a WriteLock's packed word that marks it held.
// The remaining bits hold the owning engine's identity, shifted left by
// one to make room for the flag — the Go analogue of the original's
// pointer-low-bit trick, using an engine id instead of stealing bits from
// a real pointer.
const lockFlag = uint64(1)

// WriteLock is the per-stripe write-owner word (spec.md C1). The zero
// value is unlocked. A non-zero value packs (ownerID<<1)|1.
type WriteLock struct {
	packed atomic.Uint64
}

// TryLock attempts to acquire the lock for the engine identified by
// ownerID (which must be non-zero). Returns false if some other engine
// already holds it.
func (w *WriteLock) TryLock(ownerID uint32) bool {
	return w.packed.CompareAndSwap(0, (uint64(ownerID)<<1)|lockFlag)
}

// Unlock releases the lock unconditionally. Only the current owner may
// call this.
func (w *WriteLock) Unlock() {
	w.packed.Store(0)
}

// IsLocked reports whether the lock is currently held by anyone.
func (w *WriteLock) IsLocked() bool {
	return w.packed.Load()&lockFlag != 0
}

// IsLockedBy reports whether the lock is held by the engine identified by
// ownerID.
func (w *WriteLock) IsLockedBy(ownerID uint32) bool {
	return w.packed.Load() == (uint64(ownerID)<<1)|lockFlag
}

// OwnerID returns the id of the engine currently holding the lock, or 0
// if it is free.
func (w *WriteLock) OwnerID() uint32 {
	return uint32(w.packed.Load() >> 1)
}

// Entry is a single stripe of the lock table: a read-version counter plus
// a write-owner flag, kept together so both halves of a given stripe
// share a cache line rather than scattering across two arrays.
type Entry struct {
	Read  ReadLock
	Write WriteLock
}

// Table is the process-wide array of stripes. The zero value is ready to
// use: every stripe starts unlocked at version 0.
type Table [Size]Entry

// Stripe returns the stripe guarding the word at addr.
func (t *Table) Stripe(addr uintptr) *Entry {
	return &t[Index(addr)]
}

// Counters bundles the two independent global counters from spec.md C2:
// the global version, bumped on every committing read-write transaction,
// and the greedy version, handed out to transactions that earn contention
// manager priority.
type Counters struct {
	global atomic.Uint64
	greedy atomic.Uint64
}

// Global returns the current global version without incrementing it.
func (c *Counters) Global() version.Version {
	return version.Version(c.global.Load())
}

// IncGlobal atomically increments the global version and returns the new
// (post-increment) value, as required by commit's version stamping.
func (c *Counters) IncGlobal() version.Version {
	return version.Version(c.global.Add(1))
}

// IncGreedy atomically claims the next greedy timestamp and returns the
// value the caller now owns (the pre-increment value, so the first caller
// gets timestamp 0 and earlier claims always compare less than later
// ones).
func (c *Counters) IncGreedy() version.Version {
	return version.Version(c.greedy.Add(1) - 1)
}
