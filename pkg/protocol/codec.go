package protocol

// Encodable is implemented by every value that can go on the wire.
type Encodable interface {
	EncodeTo(e *Encoder)
}

// Decodable is implemented by pointers to values that can be read off the wire.
type Decodable interface {
	DecodeFrom(d *Decoder) error
}

// Marshal encodes v into a fresh byte slice.
func Marshal(v Encodable) []byte {
	e := NewEncoder()
	v.EncodeTo(e)
	return e.Bytes()
}

// Unmarshal decodes data into v. The whole input must be consumed.
func Unmarshal(data []byte, v Decodable) error {
	return UnmarshalWithLimits(data, v, DefaultDecoderLimits())
}

// UnmarshalWithLimits is Unmarshal with custom allocation limits.
func UnmarshalWithLimits(data []byte, v Decodable, limits DecoderLimits) error {
	d := NewDecoderWithLimits(data, limits)
	if err := v.DecodeFrom(d); err != nil {
		return err
	}
	return d.Finish()
}

// Empty is a variant payload with no fields.
type Empty struct{}

// EncodeTo writes nothing.
func (Empty) EncodeTo(*Encoder) {}

// DecodeFrom reads nothing.
func (*Empty) DecodeFrom(*Decoder) error { return nil }

// Tagged encodes an enum variant: the tag followed by its payload.
type Tagged struct {
	Tag     uint32
	Payload Encodable
}

// EncodeTo writes the tag and the payload, if any.
func (t Tagged) EncodeTo(e *Encoder) {
	e.WriteTag(t.Tag)
	if t.Payload != nil {
		t.Payload.EncodeTo(e)
	}
}
