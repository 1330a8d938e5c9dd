// Package engine implements the per-goroutine transaction engine
// (spec.md C4): the state machine that turns ReadWord/WriteWord calls
// into an optimistic, word-granularity transaction over the shared
// lock table.
//
// An Engine is not safe for concurrent use by more than one goroutine —
// exactly one logical thread drives it through Begin/.../Commit/End, the
// same single-owner discipline the source's thread-local
// TransactionEngine instances relied on. internal/stm/registry is what
// hands each goroutine its own Engine.
package engine

import (
	"runtime"

	"github.com/go-swisstm/stm/internal/stm/cm"
	"github.com/go-swisstm/stm/internal/stm/locktable"
	"github.com/go-swisstm/stm/internal/stm/pool"
	"github.com/go-swisstm/stm/internal/stm/prng"
	"github.com/go-swisstm/stm/internal/stm/txnerror"
	"github.com/go-swisstm/stm/internal/stm/version"
)

// World is the process-wide state every Engine synchronizes against: the
// stripe lock table and the two global counters. Exactly one World
// exists per process in normal use (internal/stm/registry owns it), but
// keeping it as an explicit, injectable value rather than package
// globals is what lets engine's own tests run several independent
// "processes" side by side.
type World struct {
	Table    locktable.Table
	Counters locktable.Counters
}

// NewWorld returns a ready-to-use World with an empty lock table and
// both counters at zero.
func NewWorld() *World {
	return &World{}
}

// txnState is the engine's current lifecycle state. Unlike the source,
// which represents this as a bitmask of independent flags, the three
// states here are mutually exclusive, so a plain enum is the simpler
// and equally expressive Go shape.
type txnState uint8

const (
	stateInitialized txnState = iota
	stateReadWriteRunning
	stateReadOnlyRunning
)

// PromotionState reports how a requested Begin relates to whatever
// transaction (if any) is already running on an Engine.
type PromotionState int

const (
	// NoRunning means no transaction is active; the caller should start
	// a fresh one.
	NoRunning PromotionState = iota
	// Compatible means a transaction compatible with the requested mode
	// is already running; the caller should treat this as a restart (or
	// a no-op nested entry) of that transaction rather than starting a
	// new one.
	Compatible
	// Incompatible means a transaction of a different, non-promotable
	// mode is already running; the caller made a nesting error.
	Incompatible
)

// readSetEntry records the version observed for one lock-table stripe
// the transaction has read from, for later revalidation.
type readSetEntry struct {
	idx int
	ver version.Version
}

func (e readSetEntry) Key() int { return e.idx }

// writeSetEntry records that the transaction holds the write lock for
// one lock-table stripe. Multiple addresses can share a stripe and
// therefore a single writeSetEntry.
type writeSetEntry struct {
	idx int
}

func (e writeSetEntry) Key() int { return e.idx }

// writeDataEntry buffers the not-yet-visible new value for one written
// address. mask accumulates every bit ever written to addr during the
// transaction; data holds the new value only at the bits set in mask, so
// repeated sub-word writes to the same address compose without
// clobbering each other.
type writeDataEntry struct {
	addr uintptr
	data uint64
	mask uint64
}

func (e writeDataEntry) Key() uintptr { return e.addr }

// Engine is one goroutine's transaction state.
type Engine struct {
	id        uint32
	world     *World
	cm        *cm.Manager
	directory cm.Directory

	state        txnState
	startVersion version.Version

	readSet   pool.List[int, readSetEntry]
	writeSet  pool.List[int, writeSetEntry]
	writeData pool.List[uintptr, writeDataEntry]
}

// New returns a freshly initialized Engine identified by id, drawing
// contention-manager backoff randomness from rng and synchronizing
// against world. directory is consulted by the contention manager to
// resolve a rival write lock's owner back to that owner's Manager; it is
// normally the same registry that constructs the Engine.
//
// id must be unique and non-zero among every Engine sharing world — it
// is packed into the low bits of every write lock this Engine
// acquires, exactly as spec.md's Design Notes describe as the
// alternative to pointer-tagging.
func New(id uint32, world *World, rng *prng.Generator, directory cm.Directory) *Engine {
	return &Engine{
		id:        id,
		world:     world,
		cm:        cm.New(rng, &world.Counters),
		directory: directory,
		state:     stateInitialized,
	}
}

// ID returns the engine's lock-ownership identity.
func (e *Engine) ID() uint32 { return e.id }

// CM returns the engine's contention manager, for a registry's
// cm.Directory implementation to expose to rivals.
func (e *Engine) CM() *cm.Manager { return e.cm }

// IsReadWriteCompatible reports how a request to begin a read-write
// transaction relates to whatever is currently running on e.
func (e *Engine) IsReadWriteCompatible() PromotionState {
	switch e.state {
	case stateInitialized:
		return NoRunning
	case stateReadWriteRunning:
		return Compatible
	default:
		return Incompatible
	}
}

// IsReadOnlyCompatible reports how a request to begin a read-only
// transaction relates to whatever is currently running on e. A running
// read-write transaction is compatible: a nested read-only block simply
// observes the enclosing transaction's own uncommitted writes.
func (e *Engine) IsReadOnlyCompatible() PromotionState {
	switch e.state {
	case stateInitialized:
		return NoRunning
	case stateReadWriteRunning, stateReadOnlyRunning:
		return Compatible
	default:
		return Incompatible
	}
}

// BeginReadWrite starts a new read-write transaction, or, if one is
// already running on e, treats the call as a restart of it and runs the
// contention manager's backoff. Callers must check
// IsReadWriteCompatible first; calling this while an incompatible
// transaction is running is a programmer error and panics.
func (e *Engine) BeginReadWrite() {
	switch e.state {
	case stateReadWriteRunning:
		e.cm.OnRestart()
	case stateInitialized:
	default:
		panic("stm: BeginReadWrite called while an incompatible transaction is running")
	}
	e.startVersion = e.world.Counters.Global()
	e.state = stateReadWriteRunning
}

// BeginReadOnly starts a new read-only transaction, or, if one is
// already running, restarts it. Composable nesting (running an inner
// atomic block without disturbing an already-running outer one) is not
// this method's concern: a caller that finds IsReadOnlyCompatible
// returning Compatible because an outer transaction is already active
// should skip calling BeginReadOnly/Commit/End entirely and just run
// its body against the outer transaction, which is what the stm
// package's Atomic/AtomicRead wrappers do. Calling BeginReadOnly itself
// while already running always means "restart".
func (e *Engine) BeginReadOnly() {
	switch e.state {
	case stateReadOnlyRunning, stateReadWriteRunning:
		e.cm.OnRestart()
	case stateInitialized:
	default:
		panic("stm: BeginReadOnly called while an incompatible transaction is running")
	}
	e.startVersion = e.world.Counters.Global()
	e.state = stateReadOnlyRunning
}

// ReadWord returns the current transactionally-consistent value of the
// word at addr, extending the transaction's snapshot forward when a
// newer committed version is visible but still consistent with
// everything already read, and returning a retry-eligible error when it
// is not.
func (e *Engine) ReadWord(addr uintptr) (uint64, error) {
	if e.state == stateInitialized {
		panic("stm: ReadWord called without an active transaction")
	}

	stripe := e.world.Table.Stripe(addr)

	if stripe.Write.IsLockedBy(e.id) {
		raw := loadWord(addr)
		if wd, ok := e.writeData.Get(addr); ok {
			return (raw &^ wd.mask) | (wd.data & wd.mask), nil
		}
		return raw, nil
	}

	idx := locktable.Index(addr)
	for {
		v1 := stripe.Read.Get()
		if v1.Locked() {
			runtime.Gosched()
			continue
		}

		data := loadWord(addr)

		if stripe.Read.Get() != v1 {
			continue
		}

		if v1 > e.startVersion {
			if !e.extend() {
				e.Rollback()
				return 0, txnerror.Retryable("stm: snapshot could not be extended to cover a newer commit")
			}
		}

		e.recordRead(idx, v1)
		return data, nil
	}
}

// WriteWord buffers data (restricted to the bits set in mask) as the new
// value of the word at addr, acquiring the word's stripe write lock
// first if this transaction does not already hold it. Returns a
// retry-eligible error if the contention manager loses arbitration for
// the lock.
//
// The contention manager is only notified of a write the first time
// this transaction acquires a given stripe's lock, with the write set's
// size in distinct stripes, not the number of WriteWord calls: repeated
// writes to an address (or stripe) this transaction already owns merge
// into the buffered write data and report nothing new to the manager,
// so a narrow, hot transaction never falsely earns greedy status.
func (e *Engine) WriteWord(addr uintptr, data, mask uint64) error {
	if e.state == stateInitialized {
		panic("stm: WriteWord called without an active transaction")
	}
	if e.state == stateReadOnlyRunning {
		panic("stm: WriteWord called during a read-only transaction")
	}

	stripe := e.world.Table.Stripe(addr)
	idx := locktable.Index(addr)

	if !stripe.Write.IsLockedBy(e.id) {
		for !stripe.Write.TryLock(e.id) {
			if e.cm.ShouldAbort(&stripe.Write, e.directory) {
				e.Rollback()
				return txnerror.Retryable("stm: lost contention for a write lock")
			}
			runtime.Gosched()
		}
		e.writeSet.Append(writeSetEntry{idx: idx})

		if stripe.Read.Get() > e.startVersion {
			if !e.extend() {
				e.Rollback()
				return txnerror.Retryable("stm: snapshot could not be extended to cover a newer commit")
			}
		}

		e.cm.OnWrite(e.writeSet.Len())
	}

	if i := e.writeData.IndexOf(addr); i >= 0 {
		entry := e.writeData.Index(i)
		entry.data = (entry.data &^ mask) | (data & mask)
		entry.mask |= mask
	} else {
		e.writeData.Append(writeDataEntry{addr: addr, data: data & mask, mask: mask})
	}

	return nil
}

// Commit makes a read-write transaction's buffered writes visible under
// a freshly claimed global version, after confirming nothing the
// transaction read has been invalidated. Returns a retry-eligible error
// if validation fails; the transaction has already been rolled back by
// the time Commit returns an error.
//
// For a non-empty write set the write-set stripes are locked, and the
// new global version is claimed, before the read set is validated: a
// stripe that is only read, never written, by this transaction can
// still be committed to by a rival between an early validation and this
// transaction's own lock/apply/release sequence, so validating only
// after this transaction has staked its own claim on the global version
// is what guarantees a rival's validation sees either the pre-commit
// version or this commit's lock bit, never a stale value silently
// passing both sides.
func (e *Engine) Commit() error {
	if e.writeSet.Empty() {
		if !e.validateReadSet() {
			e.Rollback()
			return txnerror.Retryable("stm: commit failed read-set validation")
		}
		e.finish()
		return nil
	}

	for _, wse := range e.writeSet.All() {
		e.world.Table[wse.idx].Read.Lock()
	}

	newVersion := e.world.Counters.IncGlobal()

	if !e.validateReadSet() {
		for _, wse := range e.writeSet.All() {
			e.world.Table[wse.idx].Read.Unlock()
		}
		e.Rollback()
		return txnerror.Retryable("stm: commit failed read-set validation")
	}

	for _, wde := range e.writeData.All() {
		storeMasked(wde.addr, wde.data, wde.mask)
	}

	for _, wse := range e.writeSet.All() {
		stripe := &e.world.Table[wse.idx]
		stripe.Read.UnlockTo(newVersion)
		stripe.Write.Unlock()
	}

	e.finish()
	return nil
}

// End closes out the current transaction without claiming a new global
// version, releasing any write locks it still holds. Used to finish a
// read-only transaction, or a read-write transaction whose caller
// decided not to call Commit.
func (e *Engine) End() {
	e.releaseWriteLocks()
	e.finish()
}

// Rollback discards the current transaction after a detected conflict:
// it releases any write locks the transaction holds and clears its
// buffers, but — unlike End and a successful Commit — leaves the
// contention manager's greedy timestamp and backoff counter untouched,
// since spec.md's fairness model carries both across a restart of the
// same logical transaction.
func (e *Engine) Rollback() {
	e.releaseWriteLocks()
	e.readSet.Clear()
	e.writeSet.Clear()
	e.writeData.Clear()
	e.state = stateInitialized
}

func (e *Engine) releaseWriteLocks() {
	for _, wse := range e.writeSet.All() {
		e.world.Table[wse.idx].Write.Unlock()
	}
}

// finish clears a transaction's buffers after it ends cleanly (Commit or
// End, as opposed to Rollback) and resets the contention manager to its
// non-greedy starting state for whatever transaction this goroutine
// starts next.
func (e *Engine) finish() {
	e.readSet.Clear()
	e.writeSet.Clear()
	e.writeData.Clear()
	e.cm.OnStart()
	e.state = stateInitialized
}

// extend attempts to move the transaction's snapshot forward to the
// current global version without invalidating anything already read.
func (e *Engine) extend() bool {
	current := e.world.Counters.Global()
	if !e.validateReadSet() {
		return false
	}
	e.startVersion = current
	return true
}

// validateReadSet reports whether every stripe this transaction has read
// from still carries the version recorded for it, or is mid-commit by
// this same transaction: Commit validates after setting the lock bit on
// its own write-set stripes, so a stripe that was read and then written
// is locked by e at that point.
func (e *Engine) validateReadSet() bool {
	for _, entry := range e.readSet.All() {
		stripe := &e.world.Table[entry.idx]
		v := stripe.Read.Get()
		if v.Locked() {
			if !stripe.Write.IsLockedBy(e.id) {
				return false
			}
			continue
		}
		if v != entry.ver {
			return false
		}
	}
	return true
}

// recordRead updates (or creates) the read-set entry for stripe idx to
// the most recently observed version.
func (e *Engine) recordRead(idx int, ver version.Version) {
	if i := e.readSet.IndexOf(idx); i >= 0 {
		e.readSet.Index(i).ver = ver
		return
	}
	e.readSet.Append(readSetEntry{idx: idx, ver: ver})
}
