package protocol

import (
	"errors"
	"io"
)

var (
	// ErrVarIntTooLong is returned when a VarInt runs past its maximum length.
	ErrVarIntTooLong = errors.New("varint too long")
)

// VarIntSize returns the number of bytes v occupies when VarInt-encoded.
func VarIntSize(v int32) int {
	u := uint32(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// AppendVarInt appends the VarInt encoding of v to dst.
func AppendVarInt(dst []byte, v int32) []byte {
	u := uint32(v)
	for u >= 0x80 {
		dst = append(dst, byte(u)|0x80)
		u >>= 7
	}
	return append(dst, byte(u))
}

// DecodeVarInt decodes a VarInt from the start of buf, reading at most maxLen
// bytes. It returns the value and the number of bytes consumed. ErrIncomplete
// is returned when buf ends before the VarInt does.
func DecodeVarInt(buf []byte, maxLen int) (int32, int, error) {
	var result uint32
	for i := 0; i < maxLen; i++ {
		if i >= len(buf) {
			return 0, 0, ErrIncomplete
		}
		b := buf[i]
		result |= uint32(b&0x7F) << (7 * uint(i))
		if b&0x80 == 0 {
			return int32(result), i + 1, nil
		}
	}
	return 0, 0, ErrVarIntTooLong
}

// ReadVarInt reads a VarInt from a byte stream.
func ReadVarInt(r io.ByteReader) (int32, error) {
	var result uint32
	for i := 0; i < MaxVarIntLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7F) << (7 * uint(i))
		if b&0x80 == 0 {
			return int32(result), nil
		}
	}
	return 0, ErrVarIntTooLong
}
