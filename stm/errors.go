package stm

import "github.com/go-swisstm/stm/internal/stm/txnerror"

// Error is the error kind every transactional operation in this package
// returns. Retry reports whether the failure is the ordinary kind a
// transactional memory engine produces when it loses a race with
// another transaction — worth trying again — as opposed to an
// incompatible nesting of [Atomic] inside [AtomicRead], which returns an
// Error whose Retry is false. Other misuse, such as a transactional read
// before [ThreadInit], panics instead of returning an Error.
type Error = txnerror.Error

// retryable reports whether err is an *Error whose Retry method returns
// true.
func retryable(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Retry()
}
