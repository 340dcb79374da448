package core

import (
	"log/slog"

	"github.com/vango-dev/apid/pkg/protocol"
)

// DispatcherID identifies one registration in a Broadcaster.
type DispatcherID uint32

// Topic selects what a registration receives. An empty Name matches every
// name broadcast for Event.
type Topic struct {
	Event EventID
	Name  string
}

func (t Topic) matches(b Topic) bool {
	return t.Event == b.Event && (t.Name == "" || t.Name == b.Name)
}

type registration struct {
	id         DispatcherID
	topic      Topic
	dispatcher *EventDispatcher
}

// Broadcaster fans events of one shared state out to every registered
// dispatcher, across sessions.
//
// Broadcaster is not synchronized. It must live inside the Shared that
// guards the state it reports on, so registering and broadcasting are
// serialized with mutations.
type Broadcaster struct {
	ids    *IDFactory
	regs   []registration
	gate   *EventMap
	events *EventSet
	logger *slog.Logger
}

// NewBroadcaster creates a broadcaster for events.
func NewBroadcaster(events *EventSet, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		ids:    NewIDFactory(1),
		gate:   NewEventMap(),
		events: events,
		logger: logger,
	}
}

// Add registers d for topic and opens the gate for its key.
func (b *Broadcaster) Add(topic Topic, d *EventDispatcher) (DispatcherID, error) {
	raw, err := b.ids.Next()
	if err != nil {
		return 0, err
	}
	id := DispatcherID(raw)
	b.regs = append(b.regs, registration{id: id, topic: topic, dispatcher: d})
	b.gate.Enable(d.Key(topic.Event))
	return id, nil
}

// Remove unregisters id. It reports false if id is not registered.
func (b *Broadcaster) Remove(id DispatcherID) bool {
	for i, reg := range b.regs {
		if reg.id != id {
			continue
		}
		b.regs = append(b.regs[:i], b.regs[i+1:]...)
		b.gate.Disable(reg.dispatcher.Key(reg.topic.Event))
		return true
	}
	return false
}

// Broadcast delivers payload to every registration matching topic, in
// registration order, and returns how many deliveries succeeded. A failing
// dispatcher is logged and skipped.
func (b *Broadcaster) Broadcast(topic Topic, payload protocol.Encodable) int {
	if len(b.regs) == 0 {
		return 0
	}

	var content []byte
	delivered := 0
	for _, reg := range b.regs {
		if !reg.topic.matches(topic) {
			continue
		}
		if content == nil {
			content = encodeEvent(topic.Event, payload)
		}
		if err := reg.dispatcher.send(content); err != nil {
			b.logger.Warn("event delivery failed",
				"event", b.eventName(topic.Event),
				"dispatcher", reg.id,
				"service", reg.dispatcher.serviceID,
				"object", reg.dispatcher.objectID,
				"error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Listening reports whether any registration would receive topic. Services
// check it before building expensive payloads.
func (b *Broadcaster) Listening(topic Topic) bool {
	if topic.Name == "" {
		return b.gate.AnyFor(topic.Event)
	}
	for _, reg := range b.regs {
		if reg.topic.matches(topic) {
			return true
		}
	}
	return false
}

// Gate returns the broadcaster's event gate.
func (b *Broadcaster) Gate() *EventMap {
	return b.gate
}

// Len returns the number of registrations.
func (b *Broadcaster) Len() int {
	return len(b.regs)
}

func (b *Broadcaster) eventName(event EventID) string {
	if b.events == nil {
		return "unknown"
	}
	return b.events.Name(event)
}
