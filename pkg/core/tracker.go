package core

import (
	"slices"
	"sync"
)

// ObjectRef identifies a remote-visible object within a session.
type ObjectRef struct {
	ServiceID uint32
	ObjectID  uint32
}

// ObjectTracker maps object ids to the local values (proxies) standing in
// for objects a client holds a handle to. Ids start at 1 and are never
// reused for the lifetime of the tracker.
type ObjectTracker[V any] struct {
	mu      sync.Mutex
	ids     *IDFactory
	objects map[uint32]V
}

// NewObjectTracker creates an empty tracker.
func NewObjectTracker[V any]() *ObjectTracker[V] {
	return &ObjectTracker[V]{
		ids:     NewIDFactory(1),
		objects: make(map[uint32]V),
	}
}

// Track stores v under a fresh id.
func (t *ObjectTracker[V]) Track(v V) (uint32, error) {
	id, err := t.ids.Next()
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	t.objects[id] = v
	t.mu.Unlock()
	return id, nil
}

// Get returns the value tracked under id. A missing id is not an error:
// it was never issued or has already been released.
func (t *ObjectTracker[V]) Get(id uint32) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.objects[id]
	return v, ok
}

// Release forgets id and reports whether it was tracked. Releasing the
// same id twice returns false the second time.
func (t *ObjectTracker[V]) Release(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.objects[id]; !ok {
		return false
	}
	delete(t.objects, id)
	return true
}

// Len returns the number of tracked objects.
func (t *ObjectTracker[V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.objects)
}

// IDs returns the tracked ids in ascending order.
func (t *ObjectTracker[V]) IDs() []uint32 {
	t.mu.Lock()
	ids := make([]uint32, 0, len(t.objects))
	for id := range t.objects {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Drain removes and returns every tracked object.
func (t *ObjectTracker[V]) Drain() map[uint32]V {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.objects
	t.objects = make(map[uint32]V)
	return out
}
