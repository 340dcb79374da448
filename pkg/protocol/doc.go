// Package protocol implements the apid binary wire codec.
//
// Every value that crosses the WebSocket is encoded with the same compact,
// big-endian, varint-based format. The format is compatible with bincode
// configured for big-endian varint encoding, so existing bincode peers
// interoperate.
//
// # Wire Format
//
// One WebSocket binary frame carries exactly one BaseMessage:
//
//	┌────────────┬───────────┬──────────┬─────────────────┬──────────────────┐
//	│ ServiceID  │ ObjectID  │ Kind     │ RequestID       │ Content          │
//	│ (varint)   │ (varint)  │ (tag)    │ (varint, opt.)  │ (len-prefixed)   │
//	└────────────┴───────────┴──────────┴─────────────────┴──────────────────┘
//
// RequestID is present only for Request and Response kinds. Content is
// itself an encoded, service-specific payload and is opaque to the session.
//
// # Encoding
//
//   - Varint: values up to 250 are one byte; larger values are a marker
//     (0xFB, 0xFC, 0xFD) followed by a big-endian u16, u32 or u64
//   - ZigZag: signed integers encoded as unsigned varints
//   - Length-prefixed: strings and byte arrays prefixed with a varint length
//   - Enums: a varint tag followed by the variant payload
//   - Option: one byte (0 or 1) followed by the value when present
//   - Floats: fixed-width big-endian IEEE 754
//
// # Errors
//
// Decoding never panics. Truncated input, unknown enum tags, invalid UTF-8
// and out-of-range integers are reported as *CodecError with a distinct
// ErrorKind; KindOf extracts it.
//
// # Usage
//
//	data := protocol.EncodeMessage(&protocol.BaseMessage{
//	    ServiceID: 1,
//	    Kind:      protocol.KindRequest,
//	    RequestID: 7,
//	    Content:   protocol.Marshal(req),
//	})
//
//	msg, err := protocol.DecodeMessage(data)
package protocol
