package core

import (
	"fmt"
	"sync"
)

// Shared is an exclusive-access container for state used by many sessions
// and workers at once. The value is only reachable inside a closure, so the
// lock cannot be held past the call that acquired it.
//
// A panic inside a closure poisons the container: the panic is converted to
// an error wrapping ErrPoisoned and every later access fails the same way.
type Shared[T any] struct {
	mu       sync.Mutex
	value    T
	poisoned bool
}

// NewShared wraps value.
func NewShared[T any](value T) *Shared[T] {
	return &Shared[T]{value: value}
}

// With runs fn with exclusive access to the value.
func (s *Shared[T]) With(fn func(v *T) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poisoned {
		return ErrPoisoned
	}
	defer func() {
		if r := recover(); r != nil {
			s.poisoned = true
			err = fmt.Errorf("%w: %v", ErrPoisoned, r)
		}
	}()
	return fn(&s.value)
}

// Poisoned reports whether a previous holder panicked.
func (s *Shared[T]) Poisoned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poisoned
}

// Read runs fn with exclusive access and returns its result.
func Read[T, R any](s *Shared[T], fn func(v *T) R) (R, error) {
	var out R
	err := s.With(func(v *T) error {
		out = fn(v)
		return nil
	})
	return out, err
}
