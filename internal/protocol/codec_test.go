package protocol

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarInt(t *testing.T) {
	cases := []struct {
		value int32
		enc   []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{255, []byte{0xFF, 0x01}},
		{25565, []byte{0xDD, 0xC7, 0x01}},
		{2097151, []byte{0xFF, 0xFF, 0x7F}},
		{2147483647, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x07}},
		{-1, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F}},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.enc, AppendVarInt(nil, tc.value))
		assert.Equal(t, len(tc.enc), VarIntSize(tc.value))

		v, n, err := DecodeVarInt(tc.enc, MaxVarIntLen)
		require.NoError(t, err)
		assert.Equal(t, tc.value, v)
		assert.Equal(t, len(tc.enc), n)

		v, err = ReadVarInt(bytes.NewReader(tc.enc))
		require.NoError(t, err)
		assert.Equal(t, tc.value, v)
	}

	_, _, err := DecodeVarInt([]byte{0x80, 0x80}, MaxVarIntLen)
	assert.ErrorIs(t, err, ErrIncomplete)

	_, _, err = DecodeVarInt([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}, MaxVarIntLen)
	assert.ErrorIs(t, err, ErrVarIntTooLong)
}

func TestBuilderReader(t *testing.T) {
	id := uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5")
	payload := NewPacket(0x2A).
		WriteString("localhost").
		WriteUint16(25565).
		WriteBool(true).
		WriteInt64(-42).
		WriteUUID(id).
		WriteByteArray([]byte{1, 2, 3}).
		Build()

	packetID, r, err := ReadPacketID(payload)
	require.NoError(t, err)
	assert.Equal(t, int32(0x2A), packetID)

	s, err := r.ReadString(255)
	require.NoError(t, err)
	assert.Equal(t, "localhost", s)

	port, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(25565), port)

	b, err := r.ReadBool()
	require.NoError(t, err)
	assert.True(t, b)

	l, err := r.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(-42), l)

	got, err := r.ReadUUID()
	require.NoError(t, err)
	assert.Equal(t, id, got)

	arr, err := r.ReadByteArray(16)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, arr)

	assert.Equal(t, 0, r.Remaining())
	_, err = r.ReadByte()
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestReader_Limits(t *testing.T) {
	t.Run("string too long", func(t *testing.T) {
		r := NewReader(NewPacketBuilder().WriteString("abcdefghijklmnopq").Build())
		_, err := r.ReadString(16)
		assert.Error(t, err)
	})

	t.Run("byte array too long", func(t *testing.T) {
		r := NewReader(NewPacketBuilder().WriteByteArray(make([]byte, 10)).Build())
		_, err := r.ReadByteArray(4)
		assert.Error(t, err)
	})

	t.Run("truncated string", func(t *testing.T) {
		r := NewReader([]byte{0x05, 'a', 'b'})
		_, err := r.ReadString(16)
		assert.ErrorIs(t, err, ErrTruncated)
	})
}

func TestNBTString(t *testing.T) {
	got := NewPacketBuilder().WriteNBTString("bye").Build()
	assert.Equal(t, []byte{0x08, 0x00, 0x03, 'b', 'y', 'e'}, got)
}

func TestLegacyString(t *testing.T) {
	assert.Equal(t, []byte{0x00, 0x02, 0x00, 0xA7, 0x00, '1'}, LegacyString("§1"))
}

func TestCompression(t *testing.T) {
	small := []byte{0x01, 0x02, 0x03}
	large := bytes.Repeat([]byte("blockgate"), 100)

	t.Run("disabled", func(t *testing.T) {
		f, err := EncodeFrame(small, CompressionDisabled)
		require.NoError(t, err)
		assert.Equal(t, append([]byte{0x03}, small...), f)
	})

	t.Run("below threshold", func(t *testing.T) {
		f, err := EncodeFrame(small, 256)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x04, 0x00, 0x01, 0x02, 0x03}, f)

		fb := NewFrameBuffer(0)
		fb.Append(f)
		fr, err := fb.Next()
		require.NoError(t, err)
		out, err := DecodeFrame(fr.Payload, 256, DefaultMaxFrameSize)
		require.NoError(t, err)
		assert.Equal(t, small, out)
	})

	t.Run("above threshold", func(t *testing.T) {
		f, err := EncodeFrame(large, 256)
		require.NoError(t, err)
		assert.Less(t, len(f), len(large))

		fb := NewFrameBuffer(0)
		fb.Append(f)
		fr, err := fb.Next()
		require.NoError(t, err)
		out, err := DecodeFrame(fr.Payload, 256, DefaultMaxFrameSize)
		require.NoError(t, err)
		assert.Equal(t, large, out)
	})

	t.Run("declared size too large", func(t *testing.T) {
		f, err := EncodeFrame(large, 256)
		require.NoError(t, err)
		fb := NewFrameBuffer(0)
		fb.Append(f)
		fr, err := fb.Next()
		require.NoError(t, err)
		_, err = DecodeFrame(fr.Payload, 256, 100)
		assert.ErrorIs(t, err, ErrOversize)
	})

	t.Run("uncompressed at threshold", func(t *testing.T) {
		body := append([]byte{0x00}, large[:256]...)
		_, err := DecodeFrame(body, 256, DefaultMaxFrameSize)
		assert.ErrorIs(t, err, ErrBadCompression)

		out, err := DecodeFrame(body[:256], 256, DefaultMaxFrameSize)
		require.NoError(t, err)
		assert.Len(t, out, 255)
	})

	t.Run("corrupt body", func(t *testing.T) {
		body := append(AppendVarInt(nil, 500), 0x00, 0x01, 0x02)
		_, err := DecodeFrame(body, 256, DefaultMaxFrameSize)
		assert.ErrorIs(t, err, ErrBadCompression)
	})
}

func TestVersion(t *testing.T) {
	assert.Equal(t, "1.21", Version1_21.Name())
	assert.True(t, Version1_21_2.Known())
	assert.False(t, Version(5).Known())
	assert.Equal(t, "unknown", Version(5).Name())
	assert.Equal(t, "configuration", StateConfiguration.String())
}

func TestTextComponent(t *testing.T) {
	assert.Equal(t, `{"text":"hi"}`, Text("hi").JSON())
}
