package core

import (
	"math"
	"sync"
)

// IDFactory issues increasing uint32 identifiers starting at an origin.
// An issued value is never handed out again until Reset.
type IDFactory struct {
	mu     sync.Mutex
	origin uint32
	next   uint64
}

// NewIDFactory creates a factory whose first id is origin.
func NewIDFactory(origin uint32) *IDFactory {
	return &IDFactory{origin: origin, next: uint64(origin)}
}

// Next returns the next id, or ErrIDSpaceExhausted once every value up to
// math.MaxUint32 has been issued.
func (f *IDFactory) Next() (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.next > math.MaxUint32 {
		return 0, ErrIDSpaceExhausted
	}
	id := uint32(f.next)
	f.next++
	return id, nil
}

// Issued returns how many ids have been handed out since creation or Reset.
func (f *IDFactory) Issued() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next - uint64(f.origin)
}

// Reset starts the sequence again from the origin. Only call it when no id
// from the previous sequence is still in use.
func (f *IDFactory) Reset() {
	f.mu.Lock()
	f.next = uint64(f.origin)
	f.mu.Unlock()
}
