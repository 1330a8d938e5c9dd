// Package stm provides a word-granularity software transactional memory
// engine.
//
// Every goroutine that wants to run transactions calls [ThreadInit] once
// (or simply calls [Atomic]/[AtomicRead], which call it on first use).
// Transactional code then reads and writes memory through [ReadWord] and
// [WriteWord] (or the narrower [ReadUint32]/[WriteUint32]-family
// accessors, or a [Var] for a single transactional cell) instead of
// touching it directly, wrapped in a call to [Atomic] or [AtomicRead]:
//
//	var balance stm.Var[uint64]
//
//	err := stm.Atomic(func() error {
//		v, err := balance.Get()
//		if err != nil {
//			return err
//		}
//		return balance.Set(v + 1)
//	})
//
// [Atomic] retries its function automatically whenever the transaction
// loses a race with a concurrent commit; the function may be called more
// than once and must have no side effects the caller cannot tolerate
// repeating (the usual software transactional memory discipline: only
// touch transactional state and pure computation inside the body, do
// I/O and other irreversible actions after Atomic returns).
//
// Transactions are optimistic and reads are invisible: a write never
// waits for a reader, and a reader never blocks a writer. A write that
// meets another transaction's write lock on the same stripe either spins
// or aborts and retries, as the contention manager decides, and a read
// spins only while a commit to its stripe is in progress. Progress is
// guaranteed for any single transaction in isolation.
package stm
