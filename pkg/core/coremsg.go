package core

import "github.com/vango-dev/apid/pkg/protocol"

// Core service request tags (service id 0).
const (
	CoreGetService    uint32 = 1
	CoreReleaseObject uint32 = 2
	CoreEnableEvent   uint32 = 3
	CoreDisableEvent  uint32 = 4
)

// Core service response tags.
const (
	CoreGetServiceSuccess    uint32 = 1
	CoreGetServiceReject     uint32 = 2
	CoreReleaseObjectSuccess uint32 = 3
	CoreReleaseObjectReject  uint32 = 4
	CoreEnableEventSuccess   uint32 = 5
	CoreEnableEventReject    uint32 = 6
	CoreDisableEventSuccess  uint32 = 7
	CoreDisableEventReject   uint32 = 8
)

// CoreRequest is a request to the session's own core service.
type CoreRequest interface {
	protocol.Encodable
	Tag() uint32
}

// GetServiceRequest asks for the id of a service by name, creating the
// session's instance of it.
type GetServiceRequest struct {
	Name        string
	Fingerprint string
}

// Tag returns CoreGetService.
func (*GetServiceRequest) Tag() uint32 { return CoreGetService }

// EncodeTo writes the tag and fields.
func (r *GetServiceRequest) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(CoreGetService)
	e.WriteString(r.Name)
	e.WriteString(r.Fingerprint)
}

// ReleaseObjectRequest tells the session the client dropped an object.
type ReleaseObjectRequest struct {
	ServiceID uint32
	ObjectID  uint32
}

// Tag returns CoreReleaseObject.
func (*ReleaseObjectRequest) Tag() uint32 { return CoreReleaseObject }

// EncodeTo writes the tag and fields.
func (r *ReleaseObjectRequest) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(CoreReleaseObject)
	e.WriteUint32(r.ServiceID)
	e.WriteUint32(r.ObjectID)
}

// EventRequest turns delivery of one event on or off.
type EventRequest struct {
	Enable    bool
	ServiceID uint32
	ObjectID  uint32
	Event     EventID
}

// Tag returns CoreEnableEvent or CoreDisableEvent.
func (r *EventRequest) Tag() uint32 {
	if r.Enable {
		return CoreEnableEvent
	}
	return CoreDisableEvent
}

// EncodeTo writes the tag and fields.
func (r *EventRequest) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(r.Tag())
	e.WriteUint32(r.ServiceID)
	e.WriteUint32(r.ObjectID)
	e.WriteUint32(uint32(r.Event))
}

// DecodeCoreRequest decodes the content of a core service request.
func DecodeCoreRequest(content []byte) (CoreRequest, error) {
	d := protocol.NewDecoder(content)
	tag, err := d.ReadTag()
	if err != nil {
		return nil, protocol.Annotate("CoreRequest", err)
	}

	var req CoreRequest
	switch tag {
	case CoreGetService:
		r := &GetServiceRequest{}
		if r.Name, err = d.ReadString(); err != nil {
			return nil, protocol.Annotate("GetService.name", err)
		}
		if r.Fingerprint, err = d.ReadString(); err != nil {
			return nil, protocol.Annotate("GetService.fingerprint", err)
		}
		req = r
	case CoreReleaseObject:
		r := &ReleaseObjectRequest{}
		if r.ServiceID, err = d.ReadUint32(); err != nil {
			return nil, protocol.Annotate("ReleaseObject.service", err)
		}
		if r.ObjectID, err = d.ReadUint32(); err != nil {
			return nil, protocol.Annotate("ReleaseObject.object", err)
		}
		req = r
	case CoreEnableEvent, CoreDisableEvent:
		r := &EventRequest{Enable: tag == CoreEnableEvent}
		if r.ServiceID, err = d.ReadUint32(); err != nil {
			return nil, protocol.Annotate("EventRequest.service", err)
		}
		if r.ObjectID, err = d.ReadUint32(); err != nil {
			return nil, protocol.Annotate("EventRequest.object", err)
		}
		ev, err := d.ReadUint32()
		if err != nil {
			return nil, protocol.Annotate("EventRequest.event", err)
		}
		r.Event = EventID(ev)
		req = r
	default:
		return nil, protocol.InvalidTag("CoreRequest", tag)
	}
	if err := d.Finish(); err != nil {
		return nil, err
	}
	return req, nil
}

// CoreResponse answers a CoreRequest. ServiceID is only meaningful for
// CoreGetServiceSuccess.
type CoreResponse struct {
	Tag       uint32
	ServiceID uint32
}

// EncodeTo writes the tag and, for a successful GetService, the id.
func (r *CoreResponse) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(r.Tag)
	if r.Tag == CoreGetServiceSuccess {
		e.WriteUint32(r.ServiceID)
	}
}

// DecodeFrom reads a CoreResponse.
func (r *CoreResponse) DecodeFrom(d *protocol.Decoder) error {
	tag, err := d.ReadTag()
	if err != nil {
		return protocol.Annotate("CoreResponse", err)
	}
	if tag < CoreGetServiceSuccess || tag > CoreDisableEventReject {
		return protocol.InvalidTag("CoreResponse", tag)
	}
	r.Tag = tag
	if tag == CoreGetServiceSuccess {
		if r.ServiceID, err = d.ReadUint32(); err != nil {
			return protocol.Annotate("CoreResponse.service", err)
		}
	}
	return nil
}

// Success reports whether the response is one of the success variants.
func (r *CoreResponse) Success() bool {
	return r.Tag%2 == 1
}

// CoreResult builds the response for a core request that succeeded or not.
func CoreResult(req CoreRequest, ok bool) *CoreResponse {
	var tag uint32
	switch req.Tag() {
	case CoreGetService:
		tag = CoreGetServiceSuccess
	case CoreReleaseObject:
		tag = CoreReleaseObjectSuccess
	case CoreEnableEvent:
		tag = CoreEnableEventSuccess
	default:
		tag = CoreDisableEventSuccess
	}
	if !ok {
		tag++
	}
	return &CoreResponse{Tag: tag}
}
