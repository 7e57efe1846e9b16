package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	// ErrTruncated is returned when a field runs past the end of the packet.
	ErrTruncated = errors.New("packet truncated")
)

// Reader decodes big-endian fields from a single packet body.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a Reader over a packet body. The packet id must already
// have been consumed.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Rest returns every unread byte and marks them consumed.
func (r *Reader) Rest() []byte {
	rest := r.data[r.pos:]
	r.pos = len(r.data)
	return rest
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("need %d bytes, have %d: %w", n, r.Remaining(), ErrTruncated)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBool reads a one byte boolean.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// ReadVarInt reads a VarInt.
func (r *Reader) ReadVarInt() (int32, error) {
	v, n, err := DecodeVarInt(r.data[r.pos:], MaxVarIntLen)
	if err != nil {
		if errors.Is(err, ErrIncomplete) {
			return 0, fmt.Errorf("varint: %w", ErrTruncated)
		}
		return 0, err
	}
	r.pos += n
	return v, nil
}

// ReadUint16 reads a big-endian uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadInt64 reads a big-endian int64.
func (r *Reader) ReadInt64() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// ReadString reads a VarInt length-prefixed string of at most maxChars
// characters.
func (r *Reader) ReadString(maxChars int) (string, error) {
	n, err := r.ReadVarInt()
	if err != nil {
		return "", err
	}
	if n < 0 || int(n) > maxChars*4 {
		return "", fmt.Errorf("string length %d exceeds limit %d", n, maxChars)
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("string is not valid UTF-8")
	}
	if utf8.RuneCount(b) > maxChars {
		return "", fmt.Errorf("string has more than %d characters", maxChars)
	}
	return string(b), nil
}

// ReadByteArray reads a VarInt length-prefixed byte array of at most max bytes.
func (r *Reader) ReadByteArray(max int) ([]byte, error) {
	n, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if n < 0 || int(n) > max {
		return nil, fmt.Errorf("byte array length %d exceeds limit %d", n, max)
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ReadUUID reads a UUID encoded as two big-endian longs.
func (r *Reader) ReadUUID() (uuid.UUID, error) {
	b, err := r.take(16)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.FromBytes(b)
}

// ReadPacketID splits an unframed payload into its packet id and a Reader
// positioned at the first field.
func ReadPacketID(payload []byte) (int32, *Reader, error) {
	r := NewReader(payload)
	id, err := r.ReadVarInt()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read packet id: %w", err)
	}
	return id, r, nil
}
