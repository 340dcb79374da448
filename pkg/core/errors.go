package core

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrIDSpaceExhausted is returned when an IDFactory has no values left.
	// It is fatal for the session that hit it.
	ErrIDSpaceExhausted = errors.New("core: identifier space exhausted")

	// ErrPoisoned is returned by a Shared whose previous holder panicked.
	// It is fatal for the session that hit it.
	ErrPoisoned = errors.New("core: shared state poisoned")

	ErrServiceExists    = errors.New("core: service already registered")
	ErrAlreadyResponded = errors.New("core: request already answered")
	ErrPoolFull         = errors.New("core: worker pool queue full")
	ErrPoolClosed       = errors.New("core: worker pool closed")
)

// IsFatal reports whether err must terminate the session it occurred in.
func IsFatal(err error) bool {
	return errors.Is(err, ErrIDSpaceExhausted) || errors.Is(err, ErrPoisoned)
}

// StoreErrorKind is the service-visible classification of a backing-store
// failure.
type StoreErrorKind uint8

const (
	StoreUnknown StoreErrorKind = iota
	StoreNotFound
	StoreConflict
)

// String returns the string representation of the kind.
func (k StoreErrorKind) String() string {
	switch k {
	case StoreNotFound:
		return "NotFound"
	case StoreConflict:
		return "Conflict"
	default:
		return "Unknown"
	}
}

// StoreError wraps a storage failure with its classification.
type StoreError struct {
	Kind StoreErrorKind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// StoreKind returns the kind of a *StoreError in err's chain, or
// StoreUnknown.
func StoreKind(err error) StoreErrorKind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return StoreUnknown
}

// NotFound builds a StoreNotFound error.
func NotFound(op string, err error) error {
	return &StoreError{Kind: StoreNotFound, Op: op, Err: err}
}
