package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// PacketBuilder constructs unframed packet payloads: a VarInt packet id
// followed by big-endian fields.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// NewPacket creates a PacketBuilder with the packet id already written.
func NewPacket(id int32) *PacketBuilder {
	b := &PacketBuilder{}
	b.WriteVarInt(id)
	return b
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteBool writes a boolean as one byte.
func (b *PacketBuilder) WriteBool(v bool) *PacketBuilder {
	if v {
		return b.WriteByte(1)
	}
	return b.WriteByte(0)
}

// WriteVarInt writes a VarInt.
func (b *PacketBuilder) WriteVarInt(v int32) *PacketBuilder {
	var tmp [MaxVarIntLen]byte
	b.buf.Write(AppendVarInt(tmp[:0], v))
	return b
}

// WriteUint16 writes a uint16 in big-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// WriteInt32 writes an int32 in big-endian order.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	b.buf.Write(tmp[:])
	return b
}

// WriteInt64 writes an int64 in big-endian order.
func (b *PacketBuilder) WriteInt64(v int64) *PacketBuilder {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	b.buf.Write(tmp[:])
	return b
}

// WriteString writes a VarInt length-prefixed UTF-8 string.
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	b.WriteVarInt(int32(len(s)))
	b.buf.WriteString(s)
	return b
}

// WriteByteArray writes a VarInt length-prefixed byte array.
func (b *PacketBuilder) WriteByteArray(data []byte) *PacketBuilder {
	b.WriteVarInt(int32(len(data)))
	b.buf.Write(data)
	return b
}

// WriteUUID writes a UUID as two big-endian longs.
func (b *PacketBuilder) WriteUUID(id uuid.UUID) *PacketBuilder {
	b.buf.Write(id[:])
	return b
}

// WriteNBTString writes a nameless network NBT string tag, the encoding used
// for text components in the configuration and play states.
// Format: [tag:1 = 0x08][length:2][modified UTF-8 bytes...]
func (b *PacketBuilder) WriteNBTString(s string) *PacketBuilder {
	data := []byte(s)
	if len(data) > 0xFFFF {
		data = data[:0xFFFF]
	}
	b.buf.WriteByte(0x08)
	b.WriteUint16(uint16(len(data)))
	b.buf.Write(data)
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed packet bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}
