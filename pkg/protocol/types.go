package protocol

import (
	"errors"

	"github.com/tidwall/gjson"
)

// TagPermissionDenied is the response tag every service reserves for a
// PermissionError payload.
const TagPermissionDenied uint32 = 0

// ErrInvalidJSON is returned when a JSONValue does not hold valid JSON.
var ErrInvalidJSON = errors.New("protocol: invalid json value")

// JSONValue is a JSON document carried as a string on the wire.
type JSONValue string

// Valid reports whether v holds a syntactically valid JSON document.
func (v JSONValue) Valid() bool {
	return gjson.Valid(string(v))
}

// Result parses v for querying.
func (v JSONValue) Result() gjson.Result {
	return gjson.Parse(string(v))
}

// EncodeTo writes the value as a string.
func (v JSONValue) EncodeTo(e *Encoder) {
	e.WriteString(string(v))
}

// DecodeFrom reads a string and rejects invalid JSON.
func (v *JSONValue) DecodeFrom(d *Decoder) error {
	s, err := d.ReadString()
	if err != nil {
		return Annotate("JSONValue", err)
	}
	if !gjson.Valid(s) {
		return newCodecError(KindUnknown, "JSONValue", ErrInvalidJSON)
	}
	*v = JSONValue(s)
	return nil
}

// PermissionError is sent instead of a result when the caller lacks a
// permission. No state was changed.
type PermissionError struct {
	Permission string
	Message    string
}

// Error implements the error interface.
func (p *PermissionError) Error() string {
	return "permission denied: " + p.Permission + ": " + p.Message
}

// EncodeTo writes the payload.
func (p *PermissionError) EncodeTo(e *Encoder) {
	e.WriteString(p.Permission)
	e.WriteString(p.Message)
}

// DecodeFrom reads the payload.
func (p *PermissionError) DecodeFrom(d *Decoder) error {
	var err error
	if p.Permission, err = d.ReadString(); err != nil {
		return Annotate("PermissionError.permission", err)
	}
	if p.Message, err = d.ReadString(); err != nil {
		return Annotate("PermissionError.message", err)
	}
	return nil
}
