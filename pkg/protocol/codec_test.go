package protocol

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"
)

func TestEncoderDecoder(t *testing.T) {
	e := NewEncoder()

	e.WriteByte(0x42)
	e.WriteUvarint(12345)
	e.WriteSvarint(-9876)
	e.WriteString("hello world")
	e.WriteLenBytes([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	e.WriteBool(true)
	e.WriteBool(false)
	e.WriteUint16(0x1234)
	e.WriteUint32(0x12345678)
	e.WriteUint64(0x123456789ABCDEF0)
	e.WriteInt32(-12345678)
	e.WriteInt64(-123456789012345)
	e.WriteFloat32(3.14159)
	e.WriteFloat64(2.718281828459045)
	e.WriteStrings([]string{"a", "", "ü"})

	d := NewDecoder(e.Bytes())

	b, err := d.ReadByte()
	if err != nil || b != 0x42 {
		t.Errorf("ReadByte() = %x, %v; want 0x42, nil", b, err)
	}
	uv, err := d.ReadUvarint()
	if err != nil || uv != 12345 {
		t.Errorf("ReadUvarint() = %d, %v; want 12345, nil", uv, err)
	}
	sv, err := d.ReadSvarint()
	if err != nil || sv != -9876 {
		t.Errorf("ReadSvarint() = %d, %v; want -9876, nil", sv, err)
	}
	s, err := d.ReadString()
	if err != nil || s != "hello world" {
		t.Errorf("ReadString() = %q, %v; want \"hello world\", nil", s, err)
	}
	lb, err := d.ReadLenBytes()
	if err != nil || !bytes.Equal(lb, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Errorf("ReadLenBytes() = %x, %v; want deadbeef, nil", lb, err)
	}
	bt, err := d.ReadBool()
	if err != nil || !bt {
		t.Errorf("ReadBool() = %v, %v; want true, nil", bt, err)
	}
	bf, err := d.ReadBool()
	if err != nil || bf {
		t.Errorf("ReadBool() = %v, %v; want false, nil", bf, err)
	}
	u16, err := d.ReadUint16()
	if err != nil || u16 != 0x1234 {
		t.Errorf("ReadUint16() = %x, %v; want 0x1234, nil", u16, err)
	}
	u32, err := d.ReadUint32()
	if err != nil || u32 != 0x12345678 {
		t.Errorf("ReadUint32() = %x, %v; want 0x12345678, nil", u32, err)
	}
	u64, err := d.ReadUint64()
	if err != nil || u64 != 0x123456789ABCDEF0 {
		t.Errorf("ReadUint64() = %x, %v; want 0x123456789ABCDEF0, nil", u64, err)
	}
	i32, err := d.ReadInt32()
	if err != nil || i32 != -12345678 {
		t.Errorf("ReadInt32() = %d, %v; want -12345678, nil", i32, err)
	}
	i64, err := d.ReadInt64()
	if err != nil || i64 != -123456789012345 {
		t.Errorf("ReadInt64() = %d, %v; want -123456789012345, nil", i64, err)
	}
	f32, err := d.ReadFloat32()
	if err != nil || math.Abs(float64(f32)-3.14159) > 0.0001 {
		t.Errorf("ReadFloat32() = %f, %v; want 3.14159, nil", f32, err)
	}
	f64, err := d.ReadFloat64()
	if err != nil || f64 != 2.718281828459045 {
		t.Errorf("ReadFloat64() = %f, %v; want 2.718281828459045, nil", f64, err)
	}
	ss, err := d.ReadStrings()
	if err != nil || len(ss) != 3 || ss[2] != "ü" {
		t.Errorf("ReadStrings() = %q, %v", ss, err)
	}

	if err := d.Finish(); err != nil {
		t.Errorf("Finish() = %v, want nil", err)
	}
}

func TestBaseMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  BaseMessage
	}{
		{"request", BaseMessage{ServiceID: 1, ObjectID: 0, Kind: KindRequest, RequestID: 7, Content: []byte{1, 2, 3}}},
		{"response", BaseMessage{ServiceID: 2, ObjectID: 9, Kind: KindResponse, RequestID: math.MaxUint64, Content: []byte{}}},
		{"event", BaseMessage{ServiceID: math.MaxUint32, ObjectID: 300, Kind: KindEvent, Content: bytes.Repeat([]byte{0xAB}, 1000)}},
		{"core", BaseMessage{ServiceID: CoreServiceID, Kind: KindRequest, RequestID: 251, Content: []byte{0}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := EncodeMessage(&tc.msg)
			got, err := DecodeMessage(data)
			if err != nil {
				t.Fatalf("DecodeMessage() error = %v", err)
			}
			if got.ServiceID != tc.msg.ServiceID || got.ObjectID != tc.msg.ObjectID {
				t.Errorf("ids = (%d, %d), want (%d, %d)", got.ServiceID, got.ObjectID, tc.msg.ServiceID, tc.msg.ObjectID)
			}
			if got.Kind != tc.msg.Kind {
				t.Errorf("Kind = %v, want %v", got.Kind, tc.msg.Kind)
			}
			if got.RequestID != tc.msg.RequestID {
				t.Errorf("RequestID = %d, want %d", got.RequestID, tc.msg.RequestID)
			}
			if !bytes.Equal(got.Content, tc.msg.Content) {
				t.Errorf("Content length = %d, want %d", len(got.Content), len(tc.msg.Content))
			}
		})
	}
}

func TestBaseMessageWireBytes(t *testing.T) {
	msg := &BaseMessage{ServiceID: 1, ObjectID: 2, Kind: KindResponse, RequestID: 3, Content: []byte{0x09}}
	want := []byte{0x01, 0x02, 0x01, 0x03, 0x01, 0x09}
	if got := EncodeMessage(msg); !bytes.Equal(got, want) {
		t.Errorf("EncodeMessage() = % x, want % x", got, want)
	}

	event := &BaseMessage{ServiceID: 1, ObjectID: 2, Kind: KindEvent, RequestID: 99, Content: nil}
	want = []byte{0x01, 0x02, 0x02, 0x00}
	if got := EncodeMessage(event); !bytes.Equal(got, want) {
		t.Errorf("EncodeMessage(event) = % x, want % x", got, want)
	}
}

func TestDecodeMessageErrors(t *testing.T) {
	valid := EncodeMessage(&BaseMessage{ServiceID: 1, Kind: KindRequest, RequestID: 1, Content: []byte("abc")})

	tests := []struct {
		name string
		data []byte
		kind ErrorKind
	}{
		{"empty", nil, KindTruncated},
		{"truncated_content", valid[:len(valid)-1], KindTruncated},
		{"invalid_kind", []byte{0x01, 0x00, 0x07, 0x00}, KindInvalidTag},
		{"trailing", append(append([]byte{}, valid...), 0x00), KindTrailingBytes},
		{"bad_marker", []byte{0xFE}, KindOverflow},
		{"service_overflow", []byte{0xFD, 0x01, 0, 0, 0, 0, 0, 0, 0}, KindOverflow},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeMessage(tc.data)
			if err == nil {
				t.Fatal("DecodeMessage() error = nil, want error")
			}
			if got := KindOf(err); got != tc.kind {
				t.Errorf("KindOf(%v) = %v, want %v", err, got, tc.kind)
			}
			var ce *CodecError
			if !errors.As(err, &ce) {
				t.Errorf("error %T is not *CodecError", err)
			}
		})
	}
}

func TestDecodeStringErrors(t *testing.T) {
	t.Run("invalid_utf8", func(t *testing.T) {
		d := NewDecoder([]byte{0x02, 0xC3, 0x28})
		_, err := d.ReadString()
		if KindOf(err) != KindInvalidUTF8 {
			t.Errorf("ReadString() error = %v, want InvalidUTF8", err)
		}
		if !errors.Is(err, ErrInvalidUTF8) {
			t.Errorf("errors.Is(err, ErrInvalidUTF8) = false")
		}
	})

	t.Run("truncated", func(t *testing.T) {
		d := NewDecoder([]byte{0x05, 'a', 'b'})
		_, err := d.ReadString()
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("ReadString() error = %v, want io.ErrUnexpectedEOF", err)
		}
	})

	t.Run("too_large", func(t *testing.T) {
		e := NewEncoder()
		e.WriteUvarint(1 << 30)
		d := NewDecoder(e.Bytes())
		_, err := d.ReadLenBytes()
		if KindOf(err) != KindTooLarge {
			t.Errorf("ReadLenBytes() error = %v, want TooLarge", err)
		}
	})

	t.Run("custom_limit", func(t *testing.T) {
		e := NewEncoder()
		e.WriteString("0123456789")
		d := NewDecoderWithLimits(e.Bytes(), DecoderLimits{MaxAllocation: 4})
		_, err := d.ReadString()
		if KindOf(err) != KindTooLarge {
			t.Errorf("ReadString() error = %v, want TooLarge", err)
		}
	})
}

func TestDecodeBoolStrict(t *testing.T) {
	d := NewDecoder([]byte{0x02})
	_, err := d.ReadBool()
	if KindOf(err) != KindInvalidBool {
		t.Errorf("ReadBool(0x02) error = %v, want InvalidBool", err)
	}
}

func TestDecodeOption(t *testing.T) {
	e := NewEncoder()
	e.WriteOption(true)
	e.WriteString("x")
	e.WriteOption(false)

	d := NewDecoder(append(e.Bytes(), 0x03))
	if ok, err := d.ReadOption(); err != nil || !ok {
		t.Fatalf("ReadOption() = %v, %v; want true, nil", ok, err)
	}
	if s, _ := d.ReadString(); s != "x" {
		t.Errorf("ReadString() = %q, want x", s)
	}
	if ok, err := d.ReadOption(); err != nil || ok {
		t.Fatalf("ReadOption() = %v, %v; want false, nil", ok, err)
	}
	if _, err := d.ReadOption(); KindOf(err) != KindInvalidTag {
		t.Errorf("ReadOption(0x03) error = %v, want InvalidTag", err)
	}
}

func TestReadCollectionCountLimits(t *testing.T) {
	e := NewEncoder()
	e.WriteUvarint(MaxCollectionCount + 1)
	d := NewDecoder(e.Bytes())
	if _, err := d.ReadCollectionCount(); !errors.Is(err, ErrCollectionTooLarge) {
		t.Errorf("ReadCollectionCount() error = %v, want ErrCollectionTooLarge", err)
	}

	e.Reset()
	e.WriteUvarint(10)
	d = NewDecoder(e.Bytes())
	if _, err := d.ReadCollectionCount(); KindOf(err) != KindTruncated {
		t.Errorf("ReadCollectionCount() error = %v, want Truncated", err)
	}
}

func TestJSONValue(t *testing.T) {
	e := NewEncoder()
	JSONValue(`{"a":[1,2]}`).EncodeTo(e)

	var v JSONValue
	if err := Unmarshal(e.Bytes(), &v); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got := v.Result().Get("a.1").Int(); got != 2 {
		t.Errorf("a.1 = %d, want 2", got)
	}

	e.Reset()
	e.WriteString("{not json")
	if err := Unmarshal(e.Bytes(), &v); !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("Unmarshal(invalid) error = %v, want ErrInvalidJSON", err)
	}
}

func TestPermissionErrorRoundTrip(t *testing.T) {
	in := &PermissionError{Permission: "settings:write", Message: "set"}
	out := &PermissionError{}
	if err := Unmarshal(Marshal(in), out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if *out != *in {
		t.Errorf("PermissionError = %+v, want %+v", out, in)
	}
}

func TestTaggedEncoding(t *testing.T) {
	got := Marshal(Tagged{Tag: 3, Payload: JSONValue("1")})
	want := []byte{0x03, 0x01, '1'}
	if !bytes.Equal(got, want) {
		t.Errorf("Marshal(Tagged) = % x, want % x", got, want)
	}
	if got := Marshal(Tagged{Tag: 4}); !bytes.Equal(got, []byte{0x04}) {
		t.Errorf("Marshal(Tagged{nil}) = % x, want 04", got)
	}
}
