package protocol

import (
	"bytes"
	"crypto/aes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(payload []byte) []byte {
	out := AppendVarInt(nil, int32(len(payload)))
	return append(out, payload...)
}

func drain(t *testing.T, fb *FrameBuffer) [][]byte {
	t.Helper()
	var out [][]byte
	for {
		f, err := fb.Next()
		if err == ErrIncomplete {
			return out
		}
		require.NoError(t, err)
		out = append(out, f.Payload)
	}
}

func TestFrameBuffer_SplitInvariance(t *testing.T) {
	payloads := [][]byte{
		{0x00},
		bytes.Repeat([]byte{0xAB}, 300),
		{0x01, 0x02, 0x03},
		{},
		bytes.Repeat([]byte{0x7F}, 128),
	}
	var stream []byte
	for _, p := range payloads {
		stream = append(stream, frame(p)...)
	}

	for _, size := range []int{1, 2, 3, 7, 64, 129, len(stream)} {
		t.Run("chunk", func(t *testing.T) {
			fb := NewFrameBuffer(0)
			var got [][]byte
			for i := 0; i < len(stream); i += size {
				end := i + size
				if end > len(stream) {
					end = len(stream)
				}
				fb.Append(stream[i:end])
				got = append(got, drain(t, fb)...)
			}
			require.Len(t, got, len(payloads))
			for i := range payloads {
				assert.Equal(t, payloads[i], got[i], "chunk size %d frame %d", size, i)
			}
			assert.Equal(t, 0, fb.Buffered())
		})
	}
}

func TestFrameBuffer_Incomplete(t *testing.T) {
	fb := NewFrameBuffer(0)

	_, err := fb.Next()
	assert.ErrorIs(t, err, ErrIncomplete)

	fb.Append([]byte{0x80})
	_, err = fb.Next()
	assert.ErrorIs(t, err, ErrIncomplete)

	fb.Append([]byte{0x01})
	_, err = fb.Next()
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, 2, fb.Buffered())
}

func TestFrameBuffer_Oversize(t *testing.T) {
	t.Run("above configured limit", func(t *testing.T) {
		fb := NewFrameBuffer(16)
		fb.Append(AppendVarInt(nil, 17))
		_, err := fb.Next()
		assert.ErrorIs(t, err, ErrOversize)
	})

	t.Run("prefix longer than three bytes", func(t *testing.T) {
		fb := NewFrameBuffer(0)
		fb.Append([]byte{0xFF, 0xFF, 0xFF, 0x01})
		_, err := fb.Next()
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("default limit accepts maximum", func(t *testing.T) {
		fb := NewFrameBuffer(0)
		fb.Append(AppendVarInt(nil, DefaultMaxFrameSize))
		_, err := fb.Next()
		assert.ErrorIs(t, err, ErrIncomplete)
	})

	t.Run("resize", func(t *testing.T) {
		fb := NewFrameBuffer(4)
		fb.Resize(8)
		fb.Append(frame([]byte{1, 2, 3, 4, 5, 6}))
		f, err := fb.Next()
		require.NoError(t, err)
		assert.Len(t, f.Payload, 6)
		assert.Equal(t, 8, fb.MaxFrameSize())
	})
}

func TestFrameBuffer_PrefixLen(t *testing.T) {
	fb := NewFrameBuffer(0)
	fb.Append(frame(bytes.Repeat([]byte{1}, 200)))
	f, err := fb.Next()
	require.NoError(t, err)
	assert.Equal(t, 2, f.PrefixLen)
	assert.Equal(t, 202, f.Len())
}

func TestFrameBuffer_EnableDecryption(t *testing.T) {
	block, err := aes.NewCipher(bytes.Repeat([]byte{0x42}, 16))
	require.NoError(t, err)
	xor := func(b []byte) {
		var ks [16]byte
		block.Encrypt(ks[:], ks[:])
		for i := range b {
			b[i] ^= ks[i%16]
		}
	}

	plainFirst := frame([]byte{0x01, 0x02})
	plainSecond := frame([]byte{0x03, 0x04, 0x05})
	plainThird := frame([]byte{0x06})

	// The second frame arrives in the same chunk as the first but is already
	// encrypted on the wire.
	encSecond := append([]byte(nil), plainSecond...)
	xor(encSecond)
	encThird := append([]byte(nil), plainThird...)
	xor(encThird)

	fb := NewFrameBuffer(0)
	fb.Append(append(append([]byte(nil), plainFirst...), encSecond...))

	f, err := fb.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, f.Payload)

	fb.EnableDecryption(xor)
	f, err = fb.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x04, 0x05}, f.Payload)

	fb.Append(encThird)
	f, err = fb.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x06}, f.Payload)
}

func TestFrameBuffer_PeekConsume(t *testing.T) {
	fb := NewFrameBuffer(0)
	fb.Append([]byte{LegacyPingByte, 0x01, 0xFA})
	assert.Equal(t, LegacyPingByte, fb.Peek()[0])
	fb.Consume(10)
	assert.Equal(t, 0, fb.Buffered())
}

func TestFrameBuffer_Compaction(t *testing.T) {
	fb := NewFrameBuffer(0)
	payload := bytes.Repeat([]byte{9}, 1000)
	for i := 0; i < 20; i++ {
		fb.Append(frame(payload))
		// Leave half a frame behind every other round.
		fb.Append(frame(payload)[:10])
		f, err := fb.Next()
		require.NoError(t, err)
		assert.Equal(t, payload, f.Payload)
		fb.Append(frame(payload)[10:])
		f, err = fb.Next()
		require.NoError(t, err)
		assert.Equal(t, payload, f.Payload)
	}
	assert.Equal(t, 0, fb.Buffered())
}
