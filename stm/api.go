package stm

import (
	"github.com/go-swisstm/stm/internal/stm/engine"
	"github.com/go-swisstm/stm/internal/stm/registry"
	"github.com/go-swisstm/stm/internal/stm/txnerror"
)

// ThreadInit registers the calling goroutine with the engine, if it has
// not already registered itself. It is safe, and cheap, to call more
// than once from the same goroutine; [Atomic] and [AtomicRead] call it
// automatically, so most programs never need to call it directly.
func ThreadInit() {
	registry.Default.ThreadInit()
}

// Atomic runs fn as a read-write transaction, retrying it from the
// start whenever it loses a race with a concurrent commit. fn may be
// called more than once; it should only touch transactional state
// (through [ReadWord]/[WriteWord], the sub-word accessors, or a [Var])
// and should avoid irreversible side effects.
//
// Calling Atomic from within another Atomic's fn on the same goroutine
// nests transparently into the outer transaction: the inner call runs fn
// once against the outer transaction's state and returns its result
// directly, without its own retry loop — only the outermost call
// commits. Calling Atomic from within an AtomicRead's fn does not run fn
// and returns a non-retryable [Error].
func Atomic(fn func() error) error {
	e := registry.Default.ThreadInit()

	switch e.IsReadWriteCompatible() {
	case engine.Incompatible:
		return txnerror.Fatal("stm: Atomic called from within an incompatible read-only transaction")
	case engine.Compatible:
		return fn()
	}

	for {
		e.BeginReadWrite()

		if err := runBody(e, fn); err != nil {
			if retryable(err) {
				continue
			}
			e.End()
			return err
		}

		if err := e.Commit(); err != nil {
			if retryable(err) {
				continue
			}
			return err
		}
		return nil
	}
}

// AtomicRead runs fn as a read-only transaction. It retries under the
// same rules as [Atomic], but fn must not call [WriteWord] or any
// mutating accessor — doing so panics, since a read-only transaction
// never acquires write locks.
//
// AtomicRead nests transparently inside an enclosing Atomic or
// AtomicRead on the same goroutine, the same way Atomic does.
func AtomicRead(fn func() error) error {
	e := registry.Default.ThreadInit()

	switch e.IsReadOnlyCompatible() {
	case engine.Incompatible:
		return txnerror.Fatal("stm: AtomicRead called from within an incompatible transaction")
	case engine.Compatible:
		return fn()
	}

	for {
		e.BeginReadOnly()

		if err := runBody(e, fn); err != nil {
			if retryable(err) {
				continue
			}
			e.End()
			return err
		}

		if err := e.Commit(); err != nil {
			if retryable(err) {
				continue
			}
			return err
		}
		return nil
	}
}

// runBody runs fn for one attempt of the transaction currently active on
// e. If fn panics — a non-transactional exception escaping the user's
// function, in spec.md §7's terms — the transaction is ended first, so
// any write lock and buffered state it holds is released before the
// panic propagates out of Atomic/AtomicRead, then the panic is
// re-raised unchanged.
func runBody(e *engine.Engine, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.End()
			panic(r)
		}
	}()
	return fn()
}

// ReadWord returns the current transactional value of the word at addr.
// It must be called from inside an Atomic or AtomicRead body, on the
// goroutine running that transaction.
func ReadWord(addr uintptr) (uint64, error) {
	e, ok := registry.Default.Current()
	if !ok {
		panic("stm: ReadWord called before ThreadInit")
	}
	return e.ReadWord(addr)
}

// WriteWord buffers data as the new value of the word at addr, writing
// only the bits set in mask. It must be called from inside an Atomic
// body (not AtomicRead) on the goroutine running that transaction.
func WriteWord(addr uintptr, data, mask uint64) error {
	e, ok := registry.Default.Current()
	if !ok {
		panic("stm: WriteWord called before ThreadInit")
	}
	return e.WriteWord(addr, data, mask)
}

const wordSize = 8

// wordAlign splits addr into the address of the 8-byte word containing
// it and addr's byte offset within that word.
func wordAlign(addr uintptr) (wordAddr, offset uintptr) {
	wordAddr = addr &^ (wordSize - 1)
	offset = addr - wordAddr
	return
}

// ReadUint32 reads a 32-bit value starting at addr, which need not be
// word-aligned but must not straddle an 8-byte boundary.
func ReadUint32(addr uintptr) (uint32, error) {
	wordAddr, off := wordAlign(addr)
	w, err := ReadWord(wordAddr)
	if err != nil {
		return 0, err
	}
	return uint32(w >> (off * 8)), nil
}

// WriteUint32 writes a 32-bit value starting at addr, which need not be
// word-aligned but must not straddle an 8-byte boundary.
func WriteUint32(addr uintptr, v uint32) error {
	wordAddr, off := wordAlign(addr)
	shift := off * 8
	return WriteWord(wordAddr, uint64(v)<<shift, uint64(0xFFFFFFFF)<<shift)
}

// ReadUint16 reads a 16-bit value starting at addr, which must not
// straddle an 8-byte boundary.
func ReadUint16(addr uintptr) (uint16, error) {
	wordAddr, off := wordAlign(addr)
	w, err := ReadWord(wordAddr)
	if err != nil {
		return 0, err
	}
	return uint16(w >> (off * 8)), nil
}

// WriteUint16 writes a 16-bit value starting at addr, which must not
// straddle an 8-byte boundary.
func WriteUint16(addr uintptr, v uint16) error {
	wordAddr, off := wordAlign(addr)
	shift := off * 8
	return WriteWord(wordAddr, uint64(v)<<shift, uint64(0xFFFF)<<shift)
}

// ReadByte reads a single byte at addr.
func ReadByte(addr uintptr) (byte, error) {
	wordAddr, off := wordAlign(addr)
	w, err := ReadWord(wordAddr)
	if err != nil {
		return 0, err
	}
	return byte(w >> (off * 8)), nil
}

// WriteByte writes a single byte at addr.
func WriteByte(addr uintptr, v byte) error {
	wordAddr, off := wordAlign(addr)
	shift := off * 8
	return WriteWord(wordAddr, uint64(v)<<shift, uint64(0xFF)<<shift)
}
