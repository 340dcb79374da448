package contacts

import (
	"github.com/vango-dev/apid/pkg/core"
	"github.com/vango-dev/apid/pkg/protocol"
)

// ServiceName is the name clients pass to GetService.
const ServiceName = "contacts"

// Fingerprint identifies this version of the contacts wire interface.
const Fingerprint = "contacts-1"

// Permissions.
const (
	PermRead  = "contacts-read"
	PermWrite = "contacts-write"
)

// Request tags.
const (
	TagClearContacts uint32 = iota + 1
	TagAdd
	TagUpdate
	TagRemove
	TagGet
	TagGetAll
	TagGetCount
	TagFind
	TagAddBlockedNumber
	TagRemoveBlockedNumber
	TagGetAllBlockedNumbers
	TagFindBlockedNumbers
)

// successTag returns the success response tag of request tag; the error
// tag follows it. Tag 0 is protocol.TagPermissionDenied.
func successTag(request uint32) uint32 { return request*2 - 1 }

func errorTag(request uint32) uint32 { return request * 2 }

// Request is a decoded contacts request.
type Request interface {
	protocol.Encodable
	Tag() uint32
}

type ClearContactsRequest struct{}

type AddRequest struct {
	Contacts ContactList
}

type UpdateRequest struct {
	Contacts ContactList
}

type RemoveRequest struct {
	IDs []string
}

type GetRequest struct {
	ID           string
	OnlyMainData bool
}

type GetAllRequest struct {
	SortBy SortBy
	Order  Order
}

type GetCountRequest struct{}

type FindRequest struct {
	FilterBy     FilterBy
	FilterOption FilterOption
	Value        string
}

type AddBlockedNumberRequest struct {
	Number string
}

type RemoveBlockedNumberRequest struct {
	Number string
}

type GetAllBlockedNumbersRequest struct{}

type FindBlockedNumbersRequest struct {
	FilterOption FilterOption
	Value        string
}

func (*ClearContactsRequest) Tag() uint32        { return TagClearContacts }
func (*AddRequest) Tag() uint32                  { return TagAdd }
func (*UpdateRequest) Tag() uint32               { return TagUpdate }
func (*RemoveRequest) Tag() uint32               { return TagRemove }
func (*GetRequest) Tag() uint32                  { return TagGet }
func (*GetAllRequest) Tag() uint32               { return TagGetAll }
func (*GetCountRequest) Tag() uint32             { return TagGetCount }
func (*FindRequest) Tag() uint32                 { return TagFind }
func (*AddBlockedNumberRequest) Tag() uint32     { return TagAddBlockedNumber }
func (*RemoveBlockedNumberRequest) Tag() uint32  { return TagRemoveBlockedNumber }
func (*GetAllBlockedNumbersRequest) Tag() uint32 { return TagGetAllBlockedNumbers }
func (*FindBlockedNumbersRequest) Tag() uint32   { return TagFindBlockedNumbers }

func (*ClearContactsRequest) EncodeTo(e *protocol.Encoder) { e.WriteTag(TagClearContacts) }

func (r *AddRequest) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(TagAdd)
	r.Contacts.EncodeTo(e)
}

func (r *UpdateRequest) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(TagUpdate)
	r.Contacts.EncodeTo(e)
}

func (r *RemoveRequest) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(TagRemove)
	e.WriteStrings(r.IDs)
}

func (r *GetRequest) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(TagGet)
	e.WriteString(r.ID)
	e.WriteBool(r.OnlyMainData)
}

func (r *GetAllRequest) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(TagGetAll)
	e.WriteTag(uint32(r.SortBy))
	e.WriteTag(uint32(r.Order))
}

func (*GetCountRequest) EncodeTo(e *protocol.Encoder) { e.WriteTag(TagGetCount) }

func (r *FindRequest) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(TagFind)
	e.WriteTag(uint32(r.FilterBy))
	e.WriteTag(uint32(r.FilterOption))
	e.WriteString(r.Value)
}

func (r *AddBlockedNumberRequest) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(TagAddBlockedNumber)
	e.WriteString(r.Number)
}

func (r *RemoveBlockedNumberRequest) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(TagRemoveBlockedNumber)
	e.WriteString(r.Number)
}

func (*GetAllBlockedNumbersRequest) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(TagGetAllBlockedNumbers)
}

func (r *FindBlockedNumbersRequest) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(TagFindBlockedNumbers)
	e.WriteTag(uint32(r.FilterOption))
	e.WriteString(r.Value)
}

// readEnum reads a tag no greater than max.
func readEnum(d *protocol.Decoder, op string, max uint32) (uint32, error) {
	v, err := d.ReadTag()
	if err != nil {
		return 0, protocol.Annotate(op, err)
	}
	if v > max {
		return 0, protocol.InvalidTag(op, v)
	}
	return v, nil
}

// DecodeRequest decodes the content of a contacts request.
func DecodeRequest(content []byte) (Request, error) {
	d := protocol.NewDecoder(content)
	tag, err := d.ReadTag()
	if err != nil {
		return nil, protocol.Annotate("ContactsRequest", err)
	}

	var req Request
	switch tag {
	case TagClearContacts:
		req = &ClearContactsRequest{}
	case TagAdd:
		r := &AddRequest{}
		if err := r.Contacts.DecodeFrom(d); err != nil {
			return nil, protocol.Annotate("Add.contacts", err)
		}
		req = r
	case TagUpdate:
		r := &UpdateRequest{}
		if err := r.Contacts.DecodeFrom(d); err != nil {
			return nil, protocol.Annotate("Update.contacts", err)
		}
		req = r
	case TagRemove:
		r := &RemoveRequest{}
		if r.IDs, err = d.ReadStrings(); err != nil {
			return nil, protocol.Annotate("Remove.ids", err)
		}
		req = r
	case TagGet:
		r := &GetRequest{}
		if r.ID, err = d.ReadString(); err != nil {
			return nil, protocol.Annotate("Get.id", err)
		}
		if r.OnlyMainData, err = d.ReadBool(); err != nil {
			return nil, protocol.Annotate("Get.only_main_data", err)
		}
		req = r
	case TagGetAll:
		sortBy, err := readEnum(d, "GetAll.sort_by", uint32(SortByName))
		if err != nil {
			return nil, err
		}
		order, err := readEnum(d, "GetAll.order", uint32(Descending))
		if err != nil {
			return nil, err
		}
		req = &GetAllRequest{SortBy: SortBy(sortBy), Order: Order(order)}
	case TagGetCount:
		req = &GetCountRequest{}
	case TagFind:
		by, err := readEnum(d, "Find.filter_by", uint32(FilterByCategory))
		if err != nil {
			return nil, err
		}
		option, err := readEnum(d, "Find.filter_option", uint32(FilterMatch))
		if err != nil {
			return nil, err
		}
		r := &FindRequest{FilterBy: FilterBy(by), FilterOption: FilterOption(option)}
		if r.Value, err = d.ReadString(); err != nil {
			return nil, protocol.Annotate("Find.value", err)
		}
		req = r
	case TagAddBlockedNumber:
		r := &AddBlockedNumberRequest{}
		if r.Number, err = d.ReadString(); err != nil {
			return nil, protocol.Annotate("AddBlockedNumber.number", err)
		}
		req = r
	case TagRemoveBlockedNumber:
		r := &RemoveBlockedNumberRequest{}
		if r.Number, err = d.ReadString(); err != nil {
			return nil, protocol.Annotate("RemoveBlockedNumber.number", err)
		}
		req = r
	case TagGetAllBlockedNumbers:
		req = &GetAllBlockedNumbersRequest{}
	case TagFindBlockedNumbers:
		option, err := readEnum(d, "FindBlockedNumbers.filter_option", uint32(FilterMatch))
		if err != nil {
			return nil, err
		}
		r := &FindBlockedNumbersRequest{FilterOption: FilterOption(option)}
		if r.Value, err = d.ReadString(); err != nil {
			return nil, protocol.Annotate("FindBlockedNumbers.value", err)
		}
		req = r
	default:
		return nil, protocol.InvalidTag("ContactsRequest", tag)
	}
	if err := d.Finish(); err != nil {
		return nil, err
	}
	return req, nil
}

// Events emitted by the service, both on object 0.
const (
	EventContactsChange core.EventID = iota
	EventBlockedNumberChange
)

// Events is the closed set of contacts events.
var Events = core.NewEventSet(ServiceName, map[core.EventID]string{
	EventContactsChange:      "contacts_change",
	EventBlockedNumberChange: "blocked_number_change",
})

type count uint32

func (c count) EncodeTo(e *protocol.Encoder) { e.WriteUint32(uint32(c)) }

type stringList []string

func (l stringList) EncodeTo(e *protocol.Encoder) { e.WriteStrings(l) }

func (l *stringList) DecodeFrom(d *protocol.Decoder) error {
	ss, err := d.ReadStrings()
	if err != nil {
		return err
	}
	*l = ss
	return nil
}
