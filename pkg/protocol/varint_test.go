package protocol

import (
	"bytes"
	"math"
	"testing"
)

func TestEncodeDecodeUvarint(t *testing.T) {
	tests := []struct {
		name  string
		value uint64
		bytes int // expected encoded length
	}{
		{"zero", 0, 1},
		{"one", 1, 1},
		{"max_1byte", 250, 1},
		{"min_u16", 251, 3},
		{"max_u16", math.MaxUint16, 3},
		{"min_u32", math.MaxUint16 + 1, 5},
		{"max_u32", math.MaxUint32, 5},
		{"min_u64", math.MaxUint32 + 1, 9},
		{"max_u64", math.MaxUint64, 9},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := make([]byte, MaxVarintLen)
			n := EncodeUvarint(buf, tc.value)

			if n != tc.bytes {
				t.Errorf("EncodeUvarint(%d) = %d bytes, want %d", tc.value, n, tc.bytes)
			}

			decoded, read := DecodeUvarint(buf[:n])
			if read != n {
				t.Errorf("DecodeUvarint read %d bytes, want %d", read, n)
			}
			if decoded != tc.value {
				t.Errorf("DecodeUvarint = %d, want %d", decoded, tc.value)
			}
		})
	}
}

func TestUvarintWireBytes(t *testing.T) {
	tests := []struct {
		value uint64
		want  []byte
	}{
		{7, []byte{0x07}},
		{250, []byte{0xFA}},
		{251, []byte{0xFB, 0x00, 0xFB}},
		{0x1234, []byte{0xFB, 0x12, 0x34}},
		{0x12345678, []byte{0xFC, 0x12, 0x34, 0x56, 0x78}},
		{0x0102030405060708, []byte{0xFD, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}},
	}

	for _, tc := range tests {
		buf := make([]byte, MaxVarintLen)
		n := EncodeUvarint(buf, tc.value)
		if !bytes.Equal(buf[:n], tc.want) {
			t.Errorf("EncodeUvarint(%#x) = % x, want % x", tc.value, buf[:n], tc.want)
		}
	}
}

func TestEncodeDecodeSvarint(t *testing.T) {
	tests := []struct {
		name  string
		value int64
	}{
		{"zero", 0},
		{"one", 1},
		{"neg_one", -1},
		{"small_pos", 100},
		{"small_neg", -100},
		{"medium_pos", 1000000},
		{"medium_neg", -1000000},
		{"max_int32", math.MaxInt32},
		{"min_int32", math.MinInt32},
		{"max_int64", math.MaxInt64},
		{"min_int64", math.MinInt64},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := make([]byte, MaxVarintLen)
			n := EncodeSvarint(buf, tc.value)

			decoded, read := DecodeSvarint(buf[:n])
			if read != n {
				t.Errorf("DecodeSvarint read %d bytes, want %d", read, n)
			}
			if decoded != tc.value {
				t.Errorf("DecodeSvarint = %d, want %d", decoded, tc.value)
			}
		})
	}
}

func TestUvarintLen(t *testing.T) {
	tests := []struct {
		value    uint64
		expected int
	}{
		{0, 1},
		{250, 1},
		{251, 3},
		{math.MaxUint16, 3},
		{math.MaxUint32, 5},
		{math.MaxUint64, 9},
	}

	for _, tc := range tests {
		got := UvarintLen(tc.value)
		if got != tc.expected {
			t.Errorf("UvarintLen(%d) = %d, want %d", tc.value, got, tc.expected)
		}

		// Verify against actual encoding
		buf := make([]byte, MaxVarintLen)
		actual := EncodeUvarint(buf, tc.value)
		if got != actual {
			t.Errorf("UvarintLen(%d) = %d, but EncodeUvarint wrote %d bytes", tc.value, got, actual)
		}
	}
}

func TestSvarintLen(t *testing.T) {
	tests := []struct {
		value    int64
		expected int
	}{
		{0, 1},
		{-1, 1},
		{125, 1},
		{-125, 1},
		{126, 3},
		{-126, 3},
		{math.MaxInt64, 9},
		{math.MinInt64, 9},
	}

	for _, tc := range tests {
		got := SvarintLen(tc.value)
		if got != tc.expected {
			t.Errorf("SvarintLen(%d) = %d, want %d", tc.value, got, tc.expected)
		}
	}
}

func TestDecodeUvarintErrors(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want int
	}{
		{"empty", []byte{}, -1},
		{"short_u16", []byte{0xFB, 0x01}, -1},
		{"short_u32", []byte{0xFC, 0x00, 0x01}, -1},
		{"short_u64", []byte{0xFD, 0x00}, -1},
		{"u128_marker", []byte{0xFE, 0x00}, -2},
		{"invalid_marker", []byte{0xFF}, -2},
		{"non_canonical_u16", []byte{0xFB, 0x00, 0x05}, -2},
		{"non_canonical_u32", []byte{0xFC, 0x00, 0x00, 0x01, 0x00}, -2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, n := DecodeUvarint(tc.buf)
			if n != tc.want {
				t.Errorf("DecodeUvarint(% x) = %d, want %d", tc.buf, n, tc.want)
			}
		})
	}
}

func TestZigZagEncoding(t *testing.T) {
	// 0 -> 0, -1 -> 1, 1 -> 2, -2 -> 3, 2 -> 4, etc.
	tests := []struct {
		signed   int64
		unsigned uint64
	}{
		{0, 0},
		{-1, 1},
		{1, 2},
		{-2, 3},
		{2, 4},
		{-3, 5},
		{3, 6},
	}

	for _, tc := range tests {
		buf := make([]byte, MaxVarintLen)
		EncodeSvarint(buf, tc.signed)

		decoded, _ := DecodeUvarint(buf)
		if decoded != tc.unsigned {
			t.Errorf("ZigZag(%d) = %d, want %d", tc.signed, decoded, tc.unsigned)
		}
	}
}

func BenchmarkEncodeUvarint(b *testing.B) {
	buf := make([]byte, MaxVarintLen)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		EncodeUvarint(buf, uint64(i))
	}
}

func BenchmarkDecodeUvarint(b *testing.B) {
	buf := make([]byte, MaxVarintLen)
	n := EncodeUvarint(buf, 1<<20)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		DecodeUvarint(buf[:n])
	}
}
