package protocol

import (
	"encoding/binary"
	"math"
)

// Encoder is a binary encoder that appends data to an internal buffer.
// Every integer wider than a byte is written as a varint (see varint.go);
// floats are written as fixed-width big-endian IEEE 754.
type Encoder struct {
	buf []byte
}

// NewEncoder creates a new encoder with a default initial capacity.
func NewEncoder() *Encoder {
	return &Encoder{
		buf: make([]byte, 0, 256),
	}
}

// NewEncoderWithCap creates a new encoder with the specified initial capacity.
func NewEncoderWithCap(cap int) *Encoder {
	return &Encoder{
		buf: make([]byte, 0, cap),
	}
}

// Reset resets the encoder to empty state, reusing the underlying buffer.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// Bytes returns the encoded bytes. The returned slice is valid until
// the next call to Reset or any Write method.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of bytes currently encoded.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// WriteByte appends a single byte.
// Note: This intentionally doesn't return error (unlike io.ByteWriter)
// because our buffer is unbounded and can always append.
func (e *Encoder) WriteByte(b byte) {
	e.buf = append(e.buf, b)
}

// WriteBytes appends raw bytes with no length prefix.
func (e *Encoder) WriteBytes(b []byte) {
	e.buf = append(e.buf, b...)
}

// WriteUvarint appends an unsigned varint.
func (e *Encoder) WriteUvarint(v uint64) {
	var tmp [MaxVarintLen]byte
	n := EncodeUvarint(tmp[:], v)
	e.buf = append(e.buf, tmp[:n]...)
}

// WriteSvarint appends a signed varint using ZigZag encoding.
func (e *Encoder) WriteSvarint(v int64) {
	e.WriteUvarint(zigzag(v))
}

// WriteUint16 appends a uint16 as a varint.
func (e *Encoder) WriteUint16(v uint16) { e.WriteUvarint(uint64(v)) }

// WriteUint32 appends a uint32 as a varint.
func (e *Encoder) WriteUint32(v uint32) { e.WriteUvarint(uint64(v)) }

// WriteUint64 appends a uint64 as a varint.
func (e *Encoder) WriteUint64(v uint64) { e.WriteUvarint(v) }

// WriteInt32 appends an int32 as a ZigZag varint.
func (e *Encoder) WriteInt32(v int32) { e.WriteSvarint(int64(v)) }

// WriteInt64 appends an int64 as a ZigZag varint.
func (e *Encoder) WriteInt64(v int64) { e.WriteSvarint(v) }

// WriteFloat32 appends a float32 in IEEE 754 format (big-endian).
func (e *Encoder) WriteFloat32(v float32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, math.Float32bits(v))
}

// WriteFloat64 appends a float64 in IEEE 754 format (big-endian).
func (e *Encoder) WriteFloat64(v float64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(v))
}

// WriteBool appends a boolean as a single byte (0x00 or 0x01).
func (e *Encoder) WriteBool(b bool) {
	if b {
		e.buf = append(e.buf, 0x01)
	} else {
		e.buf = append(e.buf, 0x00)
	}
}

// WriteString appends a length-prefixed UTF-8 string.
// Format: varint length + string bytes
func (e *Encoder) WriteString(s string) {
	e.WriteUvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// WriteLenBytes appends length-prefixed bytes.
// Format: varint length + bytes
func (e *Encoder) WriteLenBytes(b []byte) {
	e.WriteUvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

// WriteTag appends an enum variant tag.
func (e *Encoder) WriteTag(tag uint32) {
	e.WriteUvarint(uint64(tag))
}

// WriteCollectionCount appends the element count of a sequence.
func (e *Encoder) WriteCollectionCount(n int) {
	e.WriteUvarint(uint64(n))
}

// WriteOption appends the presence byte of an optional value. The caller
// writes the value itself when present is true.
func (e *Encoder) WriteOption(present bool) {
	e.WriteBool(present)
}

// WriteStrings appends a sequence of strings.
func (e *Encoder) WriteStrings(ss []string) {
	e.WriteCollectionCount(len(ss))
	for _, s := range ss {
		e.WriteString(s)
	}
}

// WriteValue appends a nested record.
func (e *Encoder) WriteValue(v Encodable) {
	v.EncodeTo(e)
}
