package core

import (
	"sync"

	"github.com/vango-dev/apid/pkg/protocol"
)

// OutboundKind is what an emitter is asked to do.
type OutboundKind uint8

const (
	OutboundData             OutboundKind = iota // Deliver an encoded BaseMessage
	OutboundClose                                // Terminate the connection
	OutboundChildDaemonCrash                     // A backing process died; close
)

// String returns the string representation of the kind.
func (k OutboundKind) String() string {
	switch k {
	case OutboundData:
		return "Data"
	case OutboundClose:
		return "Close"
	case OutboundChildDaemonCrash:
		return "ChildDaemonCrash"
	default:
		return "Unknown"
	}
}

// Outbound is one unit handed to a MessageEmitter.
type Outbound struct {
	Kind      OutboundKind
	ServiceID uint32
	Payload   []byte
	Daemon    string // ChildDaemonCrash only
}

// DataMessage builds an OutboundData for an encoded envelope.
func DataMessage(serviceID uint32, payload []byte) Outbound {
	return Outbound{Kind: OutboundData, ServiceID: serviceID, Payload: payload}
}

// MessageEmitter pushes outbound units to one client. Implementations must
// not block: SendRaw enqueues and returns, reporting an error when delivery
// is impossible.
type MessageEmitter interface {
	SendRaw(msg Outbound) error
	Close() error
}

// NoopEmitter discards everything. Sessions use it until the transport is
// attached.
type NoopEmitter struct{}

// SendRaw drops msg.
func (NoopEmitter) SendRaw(Outbound) error { return nil }

// Close does nothing.
func (NoopEmitter) Close() error { return nil }

// MessageSender is the handle every service instance of a session shares.
// Replacing its emitter redirects all of them at once.
type MessageSender struct {
	mu      sync.RWMutex
	emitter MessageEmitter
}

// NewMessageSender wraps e; a nil e starts with a NoopEmitter.
func NewMessageSender(e MessageEmitter) *MessageSender {
	if e == nil {
		e = NoopEmitter{}
	}
	return &MessageSender{emitter: e}
}

// Replace swaps the emitter.
func (s *MessageSender) Replace(e MessageEmitter) {
	if e == nil {
		e = NoopEmitter{}
	}
	s.mu.Lock()
	s.emitter = e
	s.mu.Unlock()
}

func (s *MessageSender) current() MessageEmitter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.emitter
}

// SendRaw forwards msg to the current emitter.
func (s *MessageSender) SendRaw(msg Outbound) error {
	return s.current().SendRaw(msg)
}

// SendMessage encodes m and sends it as data.
func (s *MessageSender) SendMessage(m *protocol.BaseMessage) error {
	return s.SendRaw(DataMessage(m.ServiceID, protocol.EncodeMessage(m)))
}

// Close closes the current emitter.
func (s *MessageSender) Close() error {
	return s.current().Close()
}
