package protocol

import "encoding/binary"

// Varint markers. Values below SingleByteMax are written as one byte; larger
// values are written as a marker byte followed by a big-endian fixed-width
// integer just wide enough to hold them.
const (
	SingleByteMax = 250
	markerU16     = 0xFB
	markerU32     = 0xFC
	markerU64     = 0xFD
	markerU128    = 0xFE // reserved, never produced, rejected on decode
)

// MaxVarintLen is the maximum number of bytes a varint can occupy.
const MaxVarintLen = 9

// EncodeUvarint encodes an unsigned integer as a varint into buf.
// Returns the number of bytes written.
// buf must have at least MaxVarintLen bytes available.
func EncodeUvarint(buf []byte, v uint64) int {
	switch {
	case v <= SingleByteMax:
		buf[0] = byte(v)
		return 1
	case v <= 0xFFFF:
		buf[0] = markerU16
		binary.BigEndian.PutUint16(buf[1:], uint16(v))
		return 3
	case v <= 0xFFFFFFFF:
		buf[0] = markerU32
		binary.BigEndian.PutUint32(buf[1:], uint32(v))
		return 5
	default:
		buf[0] = markerU64
		binary.BigEndian.PutUint64(buf[1:], v)
		return 9
	}
}

// DecodeUvarint decodes an unsigned varint from buf.
// Returns (value, bytesRead). If bytesRead < 0, decoding failed:
//   - -1: buffer too short (incomplete varint)
//   - -2: invalid marker or non-canonical encoding
func DecodeUvarint(buf []byte) (uint64, int) {
	if len(buf) == 0 {
		return 0, -1
	}
	switch b := buf[0]; {
	case b <= SingleByteMax:
		return uint64(b), 1
	case b == markerU16:
		if len(buf) < 3 {
			return 0, -1
		}
		v := uint64(binary.BigEndian.Uint16(buf[1:]))
		if v <= SingleByteMax {
			return 0, -2
		}
		return v, 3
	case b == markerU32:
		if len(buf) < 5 {
			return 0, -1
		}
		v := uint64(binary.BigEndian.Uint32(buf[1:]))
		if v <= 0xFFFF {
			return 0, -2
		}
		return v, 5
	case b == markerU64:
		if len(buf) < 9 {
			return 0, -1
		}
		v := binary.BigEndian.Uint64(buf[1:])
		if v <= 0xFFFFFFFF {
			return 0, -2
		}
		return v, 9
	default:
		return 0, -2
	}
}

// ZigZag maps signed integers to unsigned: 0->0, -1->1, 1->2, -2->3, 2->4, etc.
func zigzag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func unzigzag(uv uint64) int64 {
	v := int64(uv >> 1)
	if uv&1 != 0 {
		v = ^v
	}
	return v
}

// EncodeSvarint encodes a signed integer as a ZigZag varint.
func EncodeSvarint(buf []byte, v int64) int {
	return EncodeUvarint(buf, zigzag(v))
}

// DecodeSvarint decodes a signed varint. Negative bytesRead indicates error
// (see DecodeUvarint).
func DecodeSvarint(buf []byte) (int64, int) {
	uv, n := DecodeUvarint(buf)
	if n < 0 {
		return 0, n
	}
	return unzigzag(uv), n
}

// UvarintLen returns the number of bytes needed to encode v as a varint.
func UvarintLen(v uint64) int {
	switch {
	case v <= SingleByteMax:
		return 1
	case v <= 0xFFFF:
		return 3
	case v <= 0xFFFFFFFF:
		return 5
	default:
		return 9
	}
}

// SvarintLen returns the number of bytes needed to encode v as a signed varint.
func SvarintLen(v int64) int {
	return UvarintLen(zigzag(v))
}
