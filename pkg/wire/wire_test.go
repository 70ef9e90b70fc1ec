package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func decodeAll(t *testing.T, dec *Decoder, bs []byte, chunk int) []*Frame {
	var frames []*Frame
	for len(bs) > 0 {
		n := chunk
		if n > len(bs) {
			n = len(bs)
		}
		buf := dec.Buffer(n)
		copied := copy(buf, bs[:n])
		require.Equal(t, n, copied)
		dec.Advance(n)
		bs = bs[n:]

		for {
			f, err := dec.Next()
			require.NoError(t, err)
			if f == nil {
				break
			}
			frames = append(frames, f)
		}
	}
	return frames
}

func TestRequestRoundTrip(t *testing.T) {
	bs, err := EncodeRequest(7, "echo", []interface{}{"hi", int64(42)})
	require.NoError(t, err)

	dec := NewDecoder(DefaultBufferSize)
	frames := decodeAll(t, dec, bs, len(bs))
	require.Len(t, frames, 1)

	f := frames[0]
	assert.Equal(t, uint32(7), f.ID)
	assert.Equal(t, KindRequest, f.Kind)
	assert.False(t, f.IsError())

	method, args, err := DecodeRequest(f)
	require.NoError(t, err)
	assert.Equal(t, "echo", method)

	var decoded []interface{}
	require.NoError(t, msgpack.Unmarshal(args, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "hi", decoded[0])
}

func TestResultAndErrorFrames(t *testing.T) {
	res, err := EncodeResult(1, "pong")
	require.NoError(t, err)
	errFrame, err := EncodeError(2, "boom")
	require.NoError(t, err)

	dec := NewDecoder(DefaultBufferSize)
	frames := decodeAll(t, dec, append(res, errFrame...), 16)
	require.Len(t, frames, 2)

	assert.Equal(t, uint32(1), frames[0].ID)
	assert.Equal(t, KindResult, frames[0].Kind)

	var value string
	require.NoError(t, msgpack.Unmarshal(frames[0].Body, &value))
	assert.Equal(t, "pong", value)

	assert.Equal(t, uint32(2), frames[1].ID)
	assert.True(t, frames[1].IsError())

	var payload string
	require.NoError(t, msgpack.Unmarshal(frames[1].Body, &payload))
	assert.Equal(t, "boom", payload)
}

func TestDecoderPartialChunks(t *testing.T) {
	var stream []byte
	for i := uint32(1); i <= 10; i++ {
		bs, err := EncodeResult(i, map[string]int{"seq": int(i)})
		require.NoError(t, err)
		stream = append(stream, bs...)
	}

	// Feed the stream a few bytes at a time; frames must come out whole and
	// in order regardless of how the chunks split them.
	for _, chunk := range []int{1, 3, 7, 13} {
		dec := NewDecoder(32)
		frames := decodeAll(t, dec, stream, chunk)
		require.Len(t, frames, 10)
		for i, f := range frames {
			assert.Equal(t, uint32(i+1), f.ID)
		}
	}
}

func TestDecoderGrowsForLargeBodies(t *testing.T) {
	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	bs, err := EncodeResult(3, payload)
	require.NoError(t, err)

	dec := NewDecoder(256)
	initial := dec.Capacity()
	frames := decodeAll(t, dec, bs, 256)
	require.Len(t, frames, 1)
	assert.Greater(t, dec.Capacity(), initial)

	var decoded []byte
	require.NoError(t, msgpack.Unmarshal(frames[0].Body, &decoded))
	assert.Equal(t, payload, decoded)
}

func TestDecoderRejectsOversizedFrame(t *testing.T) {
	bs, err := EncodeResult(1, "ok")
	require.NoError(t, err)
	// Declare a body far larger than anything that will ever arrive; the
	// header alone must be enough to reject it.
	binary.BigEndian.PutUint32(bs[8:12], 1<<31)

	dec := NewDecoder(DefaultBufferSize)
	buf := dec.Buffer(HeaderSize)
	copy(buf, bs[:HeaderSize])
	dec.Advance(HeaderSize)

	_, derr := dec.Next()
	require.Error(t, derr)
	assert.Contains(t, derr.Error(), "exceeds")

	small := NewDecoder(DefaultBufferSize)
	small.SetMaxFrameSize(4)
	bs, err = EncodeResult(2, "too big for four bytes")
	require.NoError(t, err)
	buf = small.Buffer(len(bs))
	copy(buf, bs)
	small.Advance(len(bs))

	_, derr = small.Next()
	require.Error(t, derr)
}

func TestDecoderRejectsBadMagic(t *testing.T) {
	bs, err := EncodeResult(1, "ok")
	require.NoError(t, err)
	bs[0] = 0xFF

	dec := NewDecoder(DefaultBufferSize)
	buf := dec.Buffer(len(bs))
	copy(buf, bs)
	dec.Advance(len(bs))

	_, derr := dec.Next()
	require.Error(t, derr)
}
