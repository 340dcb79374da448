// Package settings implements the "settings" service: a persistent
// name/value store of JSON settings with change events and per-name
// observers.
package settings

import (
	"github.com/vango-dev/apid/pkg/core"
	"github.com/vango-dev/apid/pkg/protocol"
)

// ServiceName is the name clients pass to GetService.
const ServiceName = "settings"

// Fingerprint identifies this version of the settings wire interface.
const Fingerprint = "settings-1"

// Permissions.
const (
	PermRead  = "settings:read"
	PermWrite = "settings:write"
)

// Request tags.
const (
	TagClear uint32 = iota + 1
	TagGet
	TagSet
	TagGetBatch
	TagAddObserver
	TagRemoveObserver
)

// Response tags. Every method has a success tag followed by its error tag;
// tag 0 is protocol.TagPermissionDenied.
const (
	TagClearSuccess uint32 = iota + 1
	TagClearError
	TagGetSuccess
	TagGetError
	TagSetSuccess
	TagSetError
	TagGetBatchSuccess
	TagGetBatchError
	TagAddObserverSuccess
	TagAddObserverError
	TagRemoveObserverSuccess
	TagRemoveObserverError
)

// SettingInfo is one named setting.
type SettingInfo struct {
	Name  string
	Value protocol.JSONValue
}

// EncodeTo writes the setting.
func (s *SettingInfo) EncodeTo(e *protocol.Encoder) {
	e.WriteString(s.Name)
	s.Value.EncodeTo(e)
}

// DecodeFrom reads the setting.
func (s *SettingInfo) DecodeFrom(d *protocol.Decoder) error {
	var err error
	if s.Name, err = d.ReadString(); err != nil {
		return protocol.Annotate("SettingInfo.name", err)
	}
	if err := s.Value.DecodeFrom(d); err != nil {
		return protocol.Annotate("SettingInfo.value", err)
	}
	return nil
}

// SettingList is a sequence of settings.
type SettingList []SettingInfo

// EncodeTo writes the count and every setting.
func (l SettingList) EncodeTo(e *protocol.Encoder) {
	e.WriteCollectionCount(len(l))
	for i := range l {
		l[i].EncodeTo(e)
	}
}

// DecodeFrom reads a counted list of settings.
func (l *SettingList) DecodeFrom(d *protocol.Decoder) error {
	n, err := d.ReadCollectionCount()
	if err != nil {
		return protocol.Annotate("SettingList", err)
	}
	out := make(SettingList, n)
	for i := range out {
		if err := out[i].DecodeFrom(d); err != nil {
			return err
		}
	}
	*l = out
	return nil
}

// GetErrorReason says why a Get failed.
type GetErrorReason uint32

const (
	NonExistingSetting GetErrorReason = iota
	UnknownError
)

// String returns the string representation of the reason.
func (r GetErrorReason) String() string {
	switch r {
	case NonExistingSetting:
		return "NonExistingSetting"
	case UnknownError:
		return "UnknownError"
	default:
		return "Invalid"
	}
}

// GetError is the error payload of Get.
type GetError struct {
	Name   string
	Reason GetErrorReason
}

// EncodeTo writes the error.
func (g *GetError) EncodeTo(e *protocol.Encoder) {
	e.WriteString(g.Name)
	e.WriteTag(uint32(g.Reason))
}

// DecodeFrom reads the error.
func (g *GetError) DecodeFrom(d *protocol.Decoder) error {
	var err error
	if g.Name, err = d.ReadString(); err != nil {
		return protocol.Annotate("GetError.name", err)
	}
	reason, err := d.ReadTag()
	if err != nil {
		return protocol.Annotate("GetError.reason", err)
	}
	if reason > uint32(UnknownError) {
		return protocol.InvalidTag("GetError.reason", reason)
	}
	g.Reason = GetErrorReason(reason)
	return nil
}

// Request is a decoded settings request.
type Request interface {
	protocol.Encodable
	Tag() uint32
}

// ClearRequest removes every setting.
type ClearRequest struct{}

// GetRequest reads one setting.
type GetRequest struct {
	Name string
}

// SetRequest writes settings in one transaction.
type SetRequest struct {
	Settings SettingList
}

// GetBatchRequest reads several settings. Missing names are skipped.
type GetBatchRequest struct {
	Names []string
}

// AddObserverRequest creates an observer object for one setting name.
type AddObserverRequest struct {
	Name string
}

// RemoveObserverRequest releases an observer created by AddObserver.
type RemoveObserverRequest struct {
	Name     string
	Observer uint32
}

func (*ClearRequest) Tag() uint32          { return TagClear }
func (*GetRequest) Tag() uint32            { return TagGet }
func (*SetRequest) Tag() uint32            { return TagSet }
func (*GetBatchRequest) Tag() uint32       { return TagGetBatch }
func (*AddObserverRequest) Tag() uint32    { return TagAddObserver }
func (*RemoveObserverRequest) Tag() uint32 { return TagRemoveObserver }

func (r *ClearRequest) EncodeTo(e *protocol.Encoder) { e.WriteTag(TagClear) }

func (r *GetRequest) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(TagGet)
	e.WriteString(r.Name)
}

func (r *SetRequest) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(TagSet)
	r.Settings.EncodeTo(e)
}

func (r *GetBatchRequest) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(TagGetBatch)
	e.WriteStrings(r.Names)
}

func (r *AddObserverRequest) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(TagAddObserver)
	e.WriteString(r.Name)
}

func (r *RemoveObserverRequest) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(TagRemoveObserver)
	e.WriteString(r.Name)
	e.WriteUint32(r.Observer)
}

// DecodeRequest decodes the content of a settings request.
func DecodeRequest(content []byte) (Request, error) {
	d := protocol.NewDecoder(content)
	tag, err := d.ReadTag()
	if err != nil {
		return nil, protocol.Annotate("SettingsRequest", err)
	}

	var req Request
	switch tag {
	case TagClear:
		req = &ClearRequest{}
	case TagGet:
		r := &GetRequest{}
		if r.Name, err = d.ReadString(); err != nil {
			return nil, protocol.Annotate("Get.name", err)
		}
		req = r
	case TagSet:
		r := &SetRequest{}
		if err := r.Settings.DecodeFrom(d); err != nil {
			return nil, protocol.Annotate("Set.settings", err)
		}
		req = r
	case TagGetBatch:
		r := &GetBatchRequest{}
		if r.Names, err = d.ReadStrings(); err != nil {
			return nil, protocol.Annotate("GetBatch.names", err)
		}
		req = r
	case TagAddObserver:
		r := &AddObserverRequest{}
		if r.Name, err = d.ReadString(); err != nil {
			return nil, protocol.Annotate("AddObserver.name", err)
		}
		req = r
	case TagRemoveObserver:
		r := &RemoveObserverRequest{}
		if r.Name, err = d.ReadString(); err != nil {
			return nil, protocol.Annotate("RemoveObserver.name", err)
		}
		if r.Observer, err = d.ReadUint32(); err != nil {
			return nil, protocol.Annotate("RemoveObserver.observer", err)
		}
		req = r
	default:
		return nil, protocol.InvalidTag("SettingsRequest", tag)
	}
	if err := d.Finish(); err != nil {
		return nil, err
	}
	return req, nil
}

// Events emitted by the service.
const (
	// EventChange is sent on object 0 for every changed setting, once
	// enabled through the core service.
	EventChange core.EventID = iota
	// EventObserver is sent on an observer's object for its setting.
	EventObserver
)

// Events is the closed set of settings events.
var Events = core.NewEventSet(ServiceName, map[core.EventID]string{
	EventChange:   "change",
	EventObserver: "observer",
})

type objectID uint32

func (id objectID) EncodeTo(e *protocol.Encoder) { e.WriteUint32(uint32(id)) }
