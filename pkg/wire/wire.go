// Package wire implements the binary frame format the client speaks.
//
// Every frame is a fixed 12-byte header followed by a variable-length body:
//
//	0      2  3  4         8         12
//	┌──────┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │k │   id    │ bodyLen │    body ...   │
//	│ "te" │01│  │ uint32  │ uint32  │ bodyLen bytes │
//	└──────┴──┴──┴─────────┴─────────┴───────────────┘
//
// Integers are big-endian. Bodies are MessagePack: a request body is the
// two element array [method, args], a result body is the bare result value,
// an error body is the bare error payload.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	magic0  byte = 0x74 // 't'
	magic1  byte = 0x65 // 'e'
	version byte = 0x01

	// HeaderSize is the fixed size of a frame header in bytes.
	HeaderSize = 12

	// DefaultBufferSize is the read chunk size and the initial capacity of
	// a Decoder's internal buffer.
	DefaultBufferSize = 4096

	// DefaultMaxFrameSize is the largest body length a Decoder accepts
	// unless overridden with SetMaxFrameSize.
	DefaultMaxFrameSize = 64 << 20
)

// Kind distinguishes request, result, and error frames.
type Kind byte

const (
	KindRequest Kind = 0 // client → server call
	KindResult  Kind = 1 // server → client success response
	KindError   Kind = 2 // server → client error response
)

// Frame is a single decoded protocol message. A frame carries a call id and
// either a result or an error payload, never both.
type Frame struct {
	ID   uint32
	Kind Kind
	Body msgpack.RawMessage
}

// IsError reports whether the frame carries an error payload.
func (f *Frame) IsError() bool {
	return f.Kind == KindError
}

func putHeader(buf []byte, kind Kind, id uint32, bodyLen int) {
	buf[0] = magic0
	buf[1] = magic1
	buf[2] = version
	buf[3] = byte(kind)
	binary.BigEndian.PutUint32(buf[4:8], id)
	binary.BigEndian.PutUint32(buf[8:12], uint32(bodyLen))
}

func encodeFrame(kind Kind, id uint32, v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(make([]byte, HeaderSize))
	enc := msgpack.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	putHeader(out, kind, id, len(out)-HeaderSize)
	return out, nil
}

// EncodeRequest serializes a call into a complete frame ready to transmit.
func EncodeRequest(id uint32, method string, args []interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(make([]byte, HeaderSize))
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(2); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(method); err != nil {
		return nil, err
	}
	if err := enc.Encode(args); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	putHeader(out, KindRequest, id, len(out)-HeaderSize)
	return out, nil
}

// EncodeResult serializes a successful response frame. Used by peers.
func EncodeResult(id uint32, result interface{}) ([]byte, error) {
	return encodeFrame(KindResult, id, result)
}

// EncodeError serializes an error response frame. Used by peers.
func EncodeError(id uint32, payload interface{}) ([]byte, error) {
	return encodeFrame(KindError, id, payload)
}

// DecodeRequest parses the body of a request frame into its method name and
// the raw argument list.
func DecodeRequest(f *Frame) (string, msgpack.RawMessage, error) {
	if f.Kind != KindRequest {
		return "", nil, fmt.Errorf("frame %d is not a request", f.ID)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(f.Body))
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return "", nil, err
	}
	if n != 2 {
		return "", nil, fmt.Errorf("malformed request body: expected 2 elements, got %d", n)
	}
	method, err := dec.DecodeString()
	if err != nil {
		return "", nil, err
	}
	var args msgpack.RawMessage
	if err := dec.Decode(&args); err != nil {
		return "", nil, err
	}
	return method, args, nil
}
