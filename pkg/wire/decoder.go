package wire

import (
	"encoding/binary"
	"fmt"
)

// Decoder incrementally splits an incoming byte stream into frames. The
// caller reads from the connection directly into the region returned by
// Buffer, records how much was read with Advance, then drains every
// complete frame with Next.
//
// The buffer doubles whenever free capacity drops below the requested
// read size, so large responses settle into a single allocation instead of
// reallocating on every partial chunk.
type Decoder struct {
	buf      []byte
	r        int // start of unconsumed bytes
	w        int // end of unconsumed bytes
	maxFrame int
}

// NewDecoder returns a decoder with the given initial buffer capacity.
func NewDecoder(size int) *Decoder {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Decoder{
		buf:      make([]byte, size),
		maxFrame: DefaultMaxFrameSize,
	}
}

// SetMaxFrameSize caps the declared body length Next will accept. The
// length field comes straight off the wire, so without a ceiling a
// misbehaving peer could declare a multi-gigabyte body and force the
// allocation for it.
func (d *Decoder) SetMaxFrameSize(n int) {
	if n > 0 {
		d.maxFrame = n
	}
}

// Buffer returns a writable region of at least min bytes for the next read.
func (d *Decoder) Buffer(min int) []byte {
	if len(d.buf)-d.w < min {
		d.grow(min)
	}
	return d.buf[d.w:]
}

// Advance records that n bytes were read into the region returned by Buffer.
func (d *Decoder) Advance(n int) {
	d.w += n
}

// Capacity returns the current size of the internal buffer.
func (d *Decoder) Capacity() int {
	return len(d.buf)
}

func (d *Decoder) grow(min int) {
	// Reclaim consumed space first; only reallocate if that isn't enough.
	if d.r > 0 {
		copy(d.buf, d.buf[d.r:d.w])
		d.w -= d.r
		d.r = 0
	}
	if len(d.buf)-d.w >= min {
		return
	}
	size := len(d.buf) * 2
	for size-d.w < min {
		size *= 2
	}
	buf := make([]byte, size)
	copy(buf, d.buf[:d.w])
	d.buf = buf
}

// Next returns the next complete frame, or nil if the buffered bytes do not
// yet contain one. A malformed header is a permanent error; the stream
// cannot be resynchronized afterwards.
func (d *Decoder) Next() (*Frame, error) {
	if d.w-d.r < HeaderSize {
		d.compact()
		return nil, nil
	}

	header := d.buf[d.r : d.r+HeaderSize]
	if header[0] != magic0 || header[1] != magic1 {
		return nil, fmt.Errorf("invalid magic bytes: %x", header[0:2])
	}
	if header[2] != version {
		return nil, fmt.Errorf("unsupported protocol version: %d", header[2])
	}
	kind := Kind(header[3])
	if kind != KindRequest && kind != KindResult && kind != KindError {
		return nil, fmt.Errorf("unsupported frame kind: %d", header[3])
	}

	bodyLen := int(binary.BigEndian.Uint32(header[8:12]))
	if bodyLen > d.maxFrame {
		return nil, fmt.Errorf("frame body of %d bytes exceeds the %d byte limit", bodyLen, d.maxFrame)
	}
	if d.w-d.r < HeaderSize+bodyLen {
		return nil, nil
	}

	// Copy the body out so the buffer can be reused for subsequent reads.
	body := make([]byte, bodyLen)
	copy(body, d.buf[d.r+HeaderSize:d.r+HeaderSize+bodyLen])
	frame := &Frame{
		ID:   binary.BigEndian.Uint32(header[4:8]),
		Kind: kind,
		Body: body,
	}
	d.r += HeaderSize + bodyLen
	d.compact()
	return frame, nil
}

func (d *Decoder) compact() {
	if d.r == d.w {
		d.r = 0
		d.w = 0
	}
}
