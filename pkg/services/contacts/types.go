// Package contacts implements the "contacts" service: an address book and
// a blocked-number list stored in sqlite, with change events.
package contacts

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/vango-dev/apid/pkg/protocol"
)

// ContactField is one typed value of a multi-valued contact property,
// such as a phone number or an email address.
type ContactField struct {
	Kind      string `json:"type"`
	Value     string `json:"value"`
	Preferred bool   `json:"pref"`
}

// EncodeTo writes the field.
func (f *ContactField) EncodeTo(e *protocol.Encoder) {
	e.WriteString(f.Kind)
	e.WriteString(f.Value)
	e.WriteBool(f.Preferred)
}

// DecodeFrom reads the field.
func (f *ContactField) DecodeFrom(d *protocol.Decoder) error {
	var err error
	if f.Kind, err = d.ReadString(); err != nil {
		return protocol.Annotate("ContactField.type", err)
	}
	if f.Value, err = d.ReadString(); err != nil {
		return protocol.Annotate("ContactField.value", err)
	}
	if f.Preferred, err = d.ReadBool(); err != nil {
		return protocol.Annotate("ContactField.pref", err)
	}
	return nil
}

func encodeFields(e *protocol.Encoder, fields []ContactField) {
	e.WriteCollectionCount(len(fields))
	for i := range fields {
		fields[i].EncodeTo(e)
	}
}

func decodeFields(d *protocol.Decoder) ([]ContactField, error) {
	n, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]ContactField, n)
	for i := range out {
		if err := out[i].DecodeFrom(d); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ContactInfo is one address book entry. Published and Updated have
// second precision.
type ContactInfo struct {
	ID         string
	Published  time.Time
	Updated    time.Time
	Name       string
	FamilyName string
	GivenName  string
	Tel        []ContactField
	Email      []ContactField
	Category   []string
}

// EncodeTo writes the contact. Times travel as unix seconds.
func (c *ContactInfo) EncodeTo(e *protocol.Encoder) {
	e.WriteString(c.ID)
	e.WriteInt64(unixSeconds(c.Published))
	e.WriteInt64(unixSeconds(c.Updated))
	e.WriteString(c.Name)
	e.WriteString(c.FamilyName)
	e.WriteString(c.GivenName)
	encodeFields(e, c.Tel)
	encodeFields(e, c.Email)
	e.WriteStrings(c.Category)
}

// DecodeFrom reads the contact.
func (c *ContactInfo) DecodeFrom(d *protocol.Decoder) error {
	var err error
	if c.ID, err = d.ReadString(); err != nil {
		return protocol.Annotate("ContactInfo.id", err)
	}
	published, err := d.ReadInt64()
	if err != nil {
		return protocol.Annotate("ContactInfo.published", err)
	}
	updated, err := d.ReadInt64()
	if err != nil {
		return protocol.Annotate("ContactInfo.updated", err)
	}
	c.Published, c.Updated = fromUnix(published), fromUnix(updated)
	if c.Name, err = d.ReadString(); err != nil {
		return protocol.Annotate("ContactInfo.name", err)
	}
	if c.FamilyName, err = d.ReadString(); err != nil {
		return protocol.Annotate("ContactInfo.family_name", err)
	}
	if c.GivenName, err = d.ReadString(); err != nil {
		return protocol.Annotate("ContactInfo.given_name", err)
	}
	if c.Tel, err = decodeFields(d); err != nil {
		return protocol.Annotate("ContactInfo.tel", err)
	}
	if c.Email, err = decodeFields(d); err != nil {
		return protocol.Annotate("ContactInfo.email", err)
	}
	categories, err := d.ReadStrings()
	if err != nil {
		return protocol.Annotate("ContactInfo.category", err)
	}
	if len(categories) > 0 {
		c.Category = categories
	}
	return nil
}

func unixSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(s int64) time.Time {
	if s == 0 {
		return time.Time{}
	}
	return time.Unix(s, 0).UTC()
}

// ContactList is a sequence of contacts.
type ContactList []ContactInfo

// EncodeTo writes the count and every contact.
func (l ContactList) EncodeTo(e *protocol.Encoder) {
	e.WriteCollectionCount(len(l))
	for i := range l {
		l[i].EncodeTo(e)
	}
}

// DecodeFrom reads a counted list of contacts.
func (l *ContactList) DecodeFrom(d *protocol.Decoder) error {
	n, err := d.ReadCollectionCount()
	if err != nil {
		return protocol.Annotate("ContactList", err)
	}
	out := make(ContactList, n)
	for i := range out {
		if err := out[i].DecodeFrom(d); err != nil {
			return err
		}
	}
	*l = out
	return nil
}

// AdditionalType names the kind of a row in contact_additional.
type AdditionalType uint8

const (
	AdditionalUnknown AdditionalType = iota
	AdditionalTel
	AdditionalEmail
	AdditionalCategory
)

// String returns the stored name of the type.
func (t AdditionalType) String() string {
	switch t {
	case AdditionalTel:
		return "tel"
	case AdditionalEmail:
		return "email"
	case AdditionalCategory:
		return "category"
	default:
		return "unknown"
	}
}

// ParseAdditionalType maps a stored name to its type. Unknown names are
// logged and map to AdditionalUnknown.
func ParseAdditionalType(name string, logger *slog.Logger) AdditionalType {
	switch name {
	case "tel":
		return AdditionalTel
	case "email":
		return AdditionalEmail
	case "category":
		return AdditionalCategory
	}
	if logger != nil {
		logger.Warn("unknown additional data type", "type", name)
	}
	return AdditionalUnknown
}

// SortBy selects the GetAll ordering column.
type SortBy uint32

const (
	SortByGivenName SortBy = iota
	SortByFamilyName
	SortByName
)

func (s SortBy) column() (string, bool) {
	switch s {
	case SortByGivenName:
		return "given_name", true
	case SortByFamilyName:
		return "family_name", true
	case SortByName:
		return "name", true
	}
	return "", false
}

// Order is the sort direction.
type Order uint32

const (
	Ascending Order = iota
	Descending
)

// FilterBy selects the property Find matches against.
type FilterBy uint32

const (
	FilterByName FilterBy = iota
	FilterByGivenName
	FilterByFamilyName
	FilterByTel
	FilterByEmail
	FilterByCategory
)

// String returns the string representation of the filter.
func (f FilterBy) String() string {
	switch f {
	case FilterByName:
		return "Name"
	case FilterByGivenName:
		return "GivenName"
	case FilterByFamilyName:
		return "FamilyName"
	case FilterByTel:
		return "Tel"
	case FilterByEmail:
		return "Email"
	case FilterByCategory:
		return "Category"
	default:
		return fmt.Sprintf("FilterBy(%d)", uint32(f))
	}
}

// FilterOption selects how Find compares values.
type FilterOption uint32

const (
	FilterEquals FilterOption = iota
	FilterContains
	FilterStartsWith
	// FilterMatch compares the trailing MinMatchDigits digits of phone
	// numbers. It is only valid with FilterByTel.
	FilterMatch
)

// MinMatchDigits is how many trailing digits FilterMatch compares.
const MinMatchDigits = 7

// ChangeReason says what happened to the contacts in a change event.
type ChangeReason uint32

const (
	ReasonCreate ChangeReason = iota
	ReasonUpdate
	ReasonRemove
)

// String returns the string representation of the reason.
func (r ChangeReason) String() string {
	switch r {
	case ReasonCreate:
		return "Create"
	case ReasonUpdate:
		return "Update"
	case ReasonRemove:
		return "Remove"
	default:
		return fmt.Sprintf("ChangeReason(%d)", uint32(r))
	}
}

// ContactsChangeEvent is the payload of EventContactsChange. Removed
// contacts only carry their id.
type ContactsChangeEvent struct {
	Reason   ChangeReason
	Contacts ContactList
}

// EncodeTo writes the event.
func (ev *ContactsChangeEvent) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(uint32(ev.Reason))
	ev.Contacts.EncodeTo(e)
}

// DecodeFrom reads the event.
func (ev *ContactsChangeEvent) DecodeFrom(d *protocol.Decoder) error {
	reason, err := d.ReadTag()
	if err != nil {
		return protocol.Annotate("ContactsChangeEvent.reason", err)
	}
	if reason > uint32(ReasonRemove) {
		return protocol.InvalidTag("ContactsChangeEvent.reason", reason)
	}
	ev.Reason = ChangeReason(reason)
	return ev.Contacts.DecodeFrom(d)
}

// BlockedNumberChangeEvent is the payload of EventBlockedNumberChange.
// Reason is ReasonCreate or ReasonRemove.
type BlockedNumberChangeEvent struct {
	Reason ChangeReason
	Number string
}

// EncodeTo writes the event.
func (ev *BlockedNumberChangeEvent) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(uint32(ev.Reason))
	e.WriteString(ev.Number)
}

// DecodeFrom reads the event.
func (ev *BlockedNumberChangeEvent) DecodeFrom(d *protocol.Decoder) error {
	reason, err := d.ReadTag()
	if err != nil {
		return protocol.Annotate("BlockedNumberChangeEvent.reason", err)
	}
	if reason > uint32(ReasonRemove) {
		return protocol.InvalidTag("BlockedNumberChangeEvent.reason", reason)
	}
	ev.Reason = ChangeReason(reason)
	if ev.Number, err = d.ReadString(); err != nil {
		return protocol.Annotate("BlockedNumberChangeEvent.number", err)
	}
	return nil
}

// ErrorReason classifies a failed contacts request.
type ErrorReason uint32

const (
	ReasonDatabaseError ErrorReason = iota
	ReasonInvalidContactID
	ReasonInvalidFilterOption
	ReasonAlreadyExists
	ReasonNotFound
	ReasonUnavailable
)

// String returns the string representation of the reason.
func (r ErrorReason) String() string {
	switch r {
	case ReasonDatabaseError:
		return "DatabaseError"
	case ReasonInvalidContactID:
		return "InvalidContactId"
	case ReasonInvalidFilterOption:
		return "InvalidFilterOption"
	case ReasonAlreadyExists:
		return "AlreadyExists"
	case ReasonNotFound:
		return "NotFound"
	case ReasonUnavailable:
		return "Unavailable"
	default:
		return fmt.Sprintf("ErrorReason(%d)", uint32(r))
	}
}

// ContactsError is the payload of every error variant.
type ContactsError struct {
	Reason ErrorReason
}

// EncodeTo writes the error.
func (c *ContactsError) EncodeTo(e *protocol.Encoder) {
	e.WriteTag(uint32(c.Reason))
}

// DecodeFrom reads the error.
func (c *ContactsError) DecodeFrom(d *protocol.Decoder) error {
	reason, err := d.ReadTag()
	if err != nil {
		return protocol.Annotate("ContactsError", err)
	}
	if reason > uint32(ReasonUnavailable) {
		return protocol.InvalidTag("ContactsError", reason)
	}
	c.Reason = ErrorReason(reason)
	return nil
}
