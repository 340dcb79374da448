package core

// EventMapKey names one event on one object of one service.
type EventMapKey struct {
	ServiceID uint32
	ObjectID  uint32
	Event     EventID
}

// EventMap is the "is anyone listening" gate. A key is present exactly
// while at least one registration cares about it.
//
// EventMap is not synchronized; it lives inside the lock domain of the
// Broadcaster that owns it.
type EventMap struct {
	counts map[EventMapKey]int
}

// NewEventMap creates an empty gate.
func NewEventMap() *EventMap {
	return &EventMap{counts: make(map[EventMapKey]int)}
}

// Enable records one more registration for key.
func (m *EventMap) Enable(key EventMapKey) {
	m.counts[key]++
}

// Disable records one fewer registration for key, removing it at zero.
func (m *EventMap) Disable(key EventMapKey) {
	n, ok := m.counts[key]
	if !ok {
		return
	}
	if n <= 1 {
		delete(m.counts, key)
		return
	}
	m.counts[key] = n - 1
}

// Enabled reports whether key has at least one registration.
func (m *EventMap) Enabled(key EventMapKey) bool {
	return m.counts[key] > 0
}

// AnyFor reports whether any object of any service listens to event.
func (m *EventMap) AnyFor(event EventID) bool {
	for key := range m.counts {
		if key.Event == event {
			return true
		}
	}
	return false
}

// Len returns the number of enabled keys.
func (m *EventMap) Len() int {
	return len(m.counts)
}

// IsEventInMap reports whether the gate for (service, object, event) is open.
// A nil map or an absent key means nobody listens.
func IsEventInMap(m *EventMap, service, object uint32, event EventID) bool {
	if m == nil {
		return false
	}
	return m.Enabled(EventMapKey{ServiceID: service, ObjectID: object, Event: event})
}
