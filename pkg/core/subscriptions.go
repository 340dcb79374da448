package core

import (
	"fmt"
	"sync"
)

// BroadcasterAccess runs fn with the service's broadcaster while holding the
// lock of the state that owns it.
type BroadcasterAccess func(fn func(b *Broadcaster) error) error

type subscriptionKey struct {
	object uint32
	event  EventID
}

// Subscriptions tracks the events one service instance enabled for its
// client, so they can be disabled individually, per object, or all at once
// on teardown.
type Subscriptions struct {
	mu      sync.Mutex
	support *SessionSupport
	events  *EventSet
	access  BroadcasterAccess
	ids     map[subscriptionKey]DispatcherID
	closed  bool
}

// NewSubscriptions creates an empty subscription table.
func NewSubscriptions(support *SessionSupport, events *EventSet, access BroadcasterAccess) *Subscriptions {
	return &Subscriptions{
		support: support,
		events:  events,
		access:  access,
		ids:     make(map[subscriptionKey]DispatcherID),
	}
}

// Enable registers a dispatcher for event on objectID. Enabling an event
// twice is a no-op. Unknown events are logged and refused, as is every
// event after Close.
func (s *Subscriptions) Enable(objectID uint32, event EventID) (bool, error) {
	if !s.events.Known(event) {
		s.support.Logger().Warn("enable of unknown event", "event", uint32(event), "object", objectID)
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, nil
	}
	key := subscriptionKey{object: objectID, event: event}
	if _, ok := s.ids[key]; ok {
		return true, nil
	}
	dispatcher := NewEventDispatcher(s.support, objectID)
	var id DispatcherID
	err := s.access(func(b *Broadcaster) error {
		var err error
		id, err = b.Add(Topic{Event: event}, dispatcher)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("enable %s: %w", s.events.Name(event), err)
	}
	s.ids[key] = id
	return true, nil
}

// Disable removes the dispatcher for event on objectID.
func (s *Subscriptions) Disable(objectID uint32, event EventID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subscriptionKey{object: objectID, event: event}
	id, ok := s.ids[key]
	if !ok {
		return false, nil
	}
	delete(s.ids, key)
	removed := false
	err := s.access(func(b *Broadcaster) error {
		removed = b.Remove(id)
		return nil
	})
	return removed, err
}

// ReleaseObject disables every event enabled on objectID.
func (s *Subscriptions) ReleaseObject(objectID uint32) error {
	return s.removeWhere(func(k subscriptionKey) bool { return k.object == objectID })
}

// Close disables everything. Later Enable calls are refused.
func (s *Subscriptions) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.removeWhere(func(subscriptionKey) bool { return true })
}

// Len returns the number of enabled subscriptions.
func (s *Subscriptions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

func (s *Subscriptions) removeWhere(match func(subscriptionKey) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []DispatcherID
	for key, id := range s.ids {
		if match(key) {
			ids = append(ids, id)
			delete(s.ids, key)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return s.access(func(b *Broadcaster) error {
		for _, id := range ids {
			b.Remove(id)
		}
		return nil
	})
}
