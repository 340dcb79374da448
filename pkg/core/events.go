package core

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
)

// EventID identifies one kind of event a service can emit.
type EventID uint32

// EventUnknown is the fallback for names and ids outside a service's set.
const EventUnknown EventID = math.MaxUint32

// EventSet is the closed set of events one service emits.
type EventSet struct {
	service string
	names   map[EventID]string
	byName  map[string]EventID
}

// NewEventSet builds an EventSet for the named service.
func NewEventSet(service string, names map[EventID]string) *EventSet {
	s := &EventSet{
		service: service,
		names:   make(map[EventID]string, len(names)),
		byName:  make(map[string]EventID, len(names)),
	}
	for id, name := range names {
		s.names[id] = name
		s.byName[name] = id
	}
	return s
}

// Known reports whether id belongs to the set.
func (s *EventSet) Known(id EventID) bool {
	_, ok := s.names[id]
	return ok
}

// Name returns the name of id.
func (s *EventSet) Name(id EventID) string {
	if name, ok := s.names[id]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint32(id))
}

// Parse maps a name to its id. Unknown names are logged and map to
// EventUnknown.
func (s *EventSet) Parse(name string, logger *slog.Logger) EventID {
	if id, ok := s.byName[name]; ok {
		return id
	}
	if logger != nil {
		logger.Warn("unknown event name", "service", s.service, "event", name)
	}
	return EventUnknown
}

// Names returns every event name, sorted.
func (s *EventSet) Names() []string {
	out := make([]string, 0, len(s.byName))
	for name := range s.byName {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
