package protocol

import (
	"errors"
	"fmt"
	"io"
)

// ErrorKind distinguishes decode failures.
type ErrorKind uint8

const (
	KindUnknown       ErrorKind = iota
	KindTruncated                 // Input ended inside a value
	KindInvalidTag                // Enum tag outside the known variants
	KindInvalidUTF8               // String field is not valid UTF-8
	KindInvalidBool               // Bool byte other than 0 or 1
	KindOverflow                  // Integer does not fit the target width
	KindTooLarge                  // Length or count exceeds decoder limits
	KindTrailingBytes             // Bytes left over after a complete value
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTruncated:
		return "Truncated"
	case KindInvalidTag:
		return "InvalidTag"
	case KindInvalidUTF8:
		return "InvalidUTF8"
	case KindInvalidBool:
		return "InvalidBool"
	case KindOverflow:
		return "Overflow"
	case KindTooLarge:
		return "TooLarge"
	case KindTrailingBytes:
		return "TrailingBytes"
	default:
		return "Unknown"
	}
}

// Sentinel errors, one per kind. CodecError unwraps to these (or to
// io.ErrUnexpectedEOF for truncation) so callers can use errors.Is.
var (
	ErrTruncated          = io.ErrUnexpectedEOF
	ErrInvalidTag         = errors.New("protocol: invalid enum tag")
	ErrInvalidUTF8        = errors.New("protocol: invalid utf-8 in string")
	ErrInvalidBool        = errors.New("protocol: invalid boolean value")
	ErrVarintOverflow     = errors.New("protocol: varint overflow")
	ErrAllocationTooLarge = errors.New("protocol: allocation size exceeds limit")
	ErrCollectionTooLarge = errors.New("protocol: collection count exceeds limit")
	ErrTrailingBytes      = errors.New("protocol: trailing bytes after value")
)

// CodecError is returned by every failing decode.
type CodecError struct {
	Kind ErrorKind
	Op   string // what was being decoded, e.g. "BaseMessage.kind"
	Err  error
}

// Error implements the error interface.
func (e *CodecError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("protocol: decode %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("protocol: decode %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying sentinel.
func (e *CodecError) Unwrap() error {
	return e.Err
}

func newCodecError(kind ErrorKind, op string, err error) *CodecError {
	return &CodecError{Kind: kind, Op: op, Err: err}
}

// InvalidTag builds the error for an enum tag that has no variant.
func InvalidTag(op string, tag uint32) error {
	return newCodecError(KindInvalidTag, op, fmt.Errorf("%w: %d", ErrInvalidTag, tag))
}

// KindOf reports the kind of a decode error. Errors that did not come from
// the codec report KindUnknown.
func KindOf(err error) ErrorKind {
	var ce *CodecError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return KindTruncated
	}
	return KindUnknown
}

// Annotate attaches an operation name to err, keeping its kind.
// It is used by message decoders to say which field failed.
func Annotate(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CodecError
	if errors.As(err, &ce) {
		if ce.Op == "" {
			return newCodecError(ce.Kind, op, ce.Err)
		}
		return err
	}
	return newCodecError(KindOf(err), op, err)
}
