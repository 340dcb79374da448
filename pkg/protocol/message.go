package protocol

import "fmt"

// MessageKind is the envelope kind.
type MessageKind uint8

const (
	KindRequest  MessageKind = 0 // Client → server call, carries a request id
	KindResponse MessageKind = 1 // Server → client answer, echoes the request id
	KindEvent    MessageKind = 2 // Server → client push
)

// String returns the string representation of the message kind.
func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindResponse:
		return "Response"
	case KindEvent:
		return "Event"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// CoreServiceID is the reserved service id of the session's own core service.
const CoreServiceID uint32 = 0

// BaseMessage is the envelope carried by one binary WebSocket frame.
//
// Wire format:
//
//	[ServiceID: varint][ObjectID: varint][Kind: tag][RequestID: varint, Request/Response only][Content: len-prefixed]
type BaseMessage struct {
	ServiceID uint32
	ObjectID  uint32
	Kind      MessageKind
	RequestID uint64
	Content   []byte
}

// HasRequestID reports whether the kind carries a request id.
func (m *BaseMessage) HasRequestID() bool {
	return m.Kind == KindRequest || m.Kind == KindResponse
}

// EncodeTo writes the envelope.
func (m *BaseMessage) EncodeTo(e *Encoder) {
	e.WriteUint32(m.ServiceID)
	e.WriteUint32(m.ObjectID)
	e.WriteTag(uint32(m.Kind))
	if m.HasRequestID() {
		e.WriteUint64(m.RequestID)
	}
	e.WriteLenBytes(m.Content)
}

// DecodeFrom reads the envelope.
func (m *BaseMessage) DecodeFrom(d *Decoder) error {
	var err error
	if m.ServiceID, err = d.ReadUint32(); err != nil {
		return Annotate("BaseMessage.service", err)
	}
	if m.ObjectID, err = d.ReadUint32(); err != nil {
		return Annotate("BaseMessage.object", err)
	}
	tag, err := d.ReadTag()
	if err != nil {
		return Annotate("BaseMessage.kind", err)
	}
	if tag > uint32(KindEvent) {
		return InvalidTag("BaseMessage.kind", tag)
	}
	m.Kind = MessageKind(tag)
	m.RequestID = 0
	if m.HasRequestID() {
		if m.RequestID, err = d.ReadUint64(); err != nil {
			return Annotate("BaseMessage.request", err)
		}
	}
	if m.Content, err = d.ReadLenBytes(); err != nil {
		return Annotate("BaseMessage.content", err)
	}
	return nil
}

// EncodeMessage encodes a BaseMessage to bytes.
func EncodeMessage(m *BaseMessage) []byte {
	return Marshal(m)
}

// DecodeMessage decodes one complete BaseMessage from bytes.
func DecodeMessage(data []byte) (*BaseMessage, error) {
	m := &BaseMessage{}
	if err := Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeMessageWithLimits is DecodeMessage with custom allocation limits.
func DecodeMessageWithLimits(data []byte, limits DecoderLimits) (*BaseMessage, error) {
	m := &BaseMessage{}
	if err := UnmarshalWithLimits(data, m, limits); err != nil {
		return nil, err
	}
	return m, nil
}

// NewResponse builds the response envelope for req.
func NewResponse(req *BaseMessage, content []byte) *BaseMessage {
	return &BaseMessage{
		ServiceID: req.ServiceID,
		ObjectID:  req.ObjectID,
		Kind:      KindResponse,
		RequestID: req.RequestID,
		Content:   content,
	}
}
