package core

import "github.com/vango-dev/apid/pkg/protocol"

// EventDispatcher delivers events for one object of one service instance
// to its session.
type EventDispatcher struct {
	serviceID uint32
	objectID  uint32
	sender    *MessageSender
}

// NewEventDispatcher creates a dispatcher for objectID. Object id 0 is the
// service itself.
func NewEventDispatcher(support *SessionSupport, objectID uint32) *EventDispatcher {
	return &EventDispatcher{
		serviceID: support.ServiceID(),
		objectID:  objectID,
		sender:    support.Sender(),
	}
}

// ServiceID returns the service id events are tagged with.
func (d *EventDispatcher) ServiceID() uint32 { return d.serviceID }

// ObjectID returns the object id events are tagged with.
func (d *EventDispatcher) ObjectID() uint32 { return d.objectID }

// Key returns the gate key of event on this dispatcher's object.
func (d *EventDispatcher) Key(event EventID) EventMapKey {
	return EventMapKey{ServiceID: d.serviceID, ObjectID: d.objectID, Event: event}
}

func (d *EventDispatcher) send(content []byte) error {
	return d.sender.SendMessage(&protocol.BaseMessage{
		ServiceID: d.serviceID,
		ObjectID:  d.objectID,
		Kind:      protocol.KindEvent,
		Content:   content,
	})
}

// encodeEvent builds event content: the event id as a tag, then the payload.
func encodeEvent(event EventID, payload protocol.Encodable) []byte {
	return protocol.Marshal(protocol.Tagged{Tag: uint32(event), Payload: payload})
}
