package protocol

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// Decoder is a binary decoder that reads from a byte buffer.
// Every failing Read returns a *CodecError; no Read panics on bad input.
type Decoder struct {
	buf    []byte
	pos    int
	limits DecoderLimits
}

// NewDecoder creates a new decoder from the given byte slice.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf, limits: DefaultDecoderLimits()}
}

// NewDecoderWithLimits creates a decoder with custom allocation limits.
func NewDecoderWithLimits(buf []byte, limits DecoderLimits) *Decoder {
	return &Decoder{buf: buf, limits: limits.normalize()}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// EOF returns true if all bytes have been read.
func (d *Decoder) EOF() bool {
	return d.pos >= len(d.buf)
}

// Position returns the current read position.
func (d *Decoder) Position() int {
	return d.pos
}

func truncated() error {
	return newCodecError(KindTruncated, "", ErrTruncated)
}

// ReadByte reads a single byte.
func (d *Decoder) ReadByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, truncated()
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

// ReadBytes reads exactly n bytes and returns them.
// The returned slice references the decoder's buffer; do not modify.
func (d *Decoder) ReadBytes(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.buf) {
		return nil, truncated()
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// ReadUvarint reads an unsigned varint.
func (d *Decoder) ReadUvarint() (uint64, error) {
	v, n := DecodeUvarint(d.buf[d.pos:])
	switch n {
	case -1:
		return 0, truncated()
	case -2:
		return 0, newCodecError(KindOverflow, "", ErrVarintOverflow)
	}
	d.pos += n
	return v, nil
}

// ReadSvarint reads a signed varint using ZigZag decoding.
func (d *Decoder) ReadSvarint() (int64, error) {
	uv, err := d.ReadUvarint()
	if err != nil {
		return 0, err
	}
	return unzigzag(uv), nil
}

func (d *Decoder) readBounded(max uint64) (uint64, error) {
	v, err := d.ReadUvarint()
	if err != nil {
		return 0, err
	}
	if v > max {
		return 0, newCodecError(KindOverflow, "", ErrVarintOverflow)
	}
	return v, nil
}

// ReadUint16 reads a varint that must fit in a uint16.
func (d *Decoder) ReadUint16() (uint16, error) {
	v, err := d.readBounded(math.MaxUint16)
	return uint16(v), err
}

// ReadUint32 reads a varint that must fit in a uint32.
func (d *Decoder) ReadUint32() (uint32, error) {
	v, err := d.readBounded(math.MaxUint32)
	return uint32(v), err
}

// ReadUint64 reads a varint.
func (d *Decoder) ReadUint64() (uint64, error) {
	return d.ReadUvarint()
}

// ReadInt32 reads a ZigZag varint that must fit in an int32.
func (d *Decoder) ReadInt32() (int32, error) {
	v, err := d.ReadSvarint()
	if err != nil {
		return 0, err
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, newCodecError(KindOverflow, "", ErrVarintOverflow)
	}
	return int32(v), nil
}

// ReadInt64 reads a ZigZag varint.
func (d *Decoder) ReadInt64() (int64, error) {
	return d.ReadSvarint()
}

// ReadFloat32 reads a float32 in IEEE 754 format (big-endian).
func (d *Decoder) ReadFloat32() (float32, error) {
	b, err := d.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
}

// ReadFloat64 reads a float64 in IEEE 754 format (big-endian).
func (d *Decoder) ReadFloat64() (float64, error) {
	b, err := d.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

// ReadBool reads a boolean. Only 0x00 and 0x01 are accepted.
func (d *Decoder) ReadBool() (bool, error) {
	b, err := d.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0x00:
		return false, nil
	case 0x01:
		return true, nil
	default:
		return false, newCodecError(KindInvalidBool, "", ErrInvalidBool)
	}
}

func (d *Decoder) readLen() (int, error) {
	length, err := d.ReadUvarint()
	if err != nil {
		return 0, err
	}
	// Allocation limit check: prevent DoS via huge length prefix
	if length > uint64(d.limits.MaxAllocation) {
		return 0, newCodecError(KindTooLarge, "", ErrAllocationTooLarge)
	}
	// Bounds check: length must fit in remaining buffer
	if length > uint64(d.Remaining()) {
		return 0, truncated()
	}
	return int(length), nil
}

// ReadString reads a length-prefixed UTF-8 string.
func (d *Decoder) ReadString() (string, error) {
	n, err := d.readLen()
	if err != nil {
		return "", err
	}
	raw := d.buf[d.pos : d.pos+n]
	if !utf8.Valid(raw) {
		return "", newCodecError(KindInvalidUTF8, "", ErrInvalidUTF8)
	}
	d.pos += n
	return string(raw), nil
}

// ReadLenBytes reads length-prefixed bytes.
// Returns a copy of the bytes (safe to retain).
func (d *Decoder) ReadLenBytes() ([]byte, error) {
	n, err := d.readLen()
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, d.buf[d.pos:d.pos+n])
	d.pos += n
	return b, nil
}

// ReadTag reads an enum variant tag.
func (d *Decoder) ReadTag() (uint32, error) {
	return d.ReadUint32()
}

// ReadOption reads the presence byte of an optional value.
func (d *Decoder) ReadOption() (bool, error) {
	b, err := d.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, newCodecError(KindInvalidTag, "", ErrInvalidTag)
	}
}

// ReadCollectionCount reads a sequence length and validates it against limits.
func (d *Decoder) ReadCollectionCount() (int, error) {
	count, err := d.ReadUvarint()
	if err != nil {
		return 0, err
	}
	if count > uint64(d.limits.MaxCollection) {
		return 0, newCodecError(KindTooLarge, "", ErrCollectionTooLarge)
	}
	// Every element takes at least one byte.
	if count > uint64(d.Remaining()) {
		return 0, truncated()
	}
	return int(count), nil
}

// ReadStrings reads a sequence of strings.
func (d *Decoder) ReadStrings() ([]string, error) {
	n, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ReadValue decodes a nested record.
func (d *Decoder) ReadValue(v Decodable) error {
	return v.DecodeFrom(d)
}

// Finish reports trailing bytes as an error.
func (d *Decoder) Finish() error {
	if d.Remaining() != 0 {
		return newCodecError(KindTrailingBytes, "", ErrTrailingBytes)
	}
	return nil
}
