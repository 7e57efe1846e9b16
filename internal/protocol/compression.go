package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
)

var (
	// ErrBadCompression is returned for a compressed frame whose declared size
	// does not match its content.
	ErrBadCompression = errors.New("invalid compressed frame")
)

var zlibWriters = sync.Pool{
	New: func() any {
		w, _ := zlib.NewWriterLevel(io.Discard, zlib.DefaultCompression)
		return w
	},
}

// EncodeFrame wraps an unframed payload for the wire. With threshold below
// zero the frame is [length][payload]. Otherwise it is
// [length][uncompressed length][body], where body is zlib-compressed and the
// uncompressed length non-zero only when len(payload) >= threshold.
func EncodeFrame(payload []byte, threshold int) ([]byte, error) {
	if threshold < 0 {
		out := make([]byte, 0, len(payload)+MaxFramePrefixLen)
		out = AppendVarInt(out, int32(len(payload)))
		return append(out, payload...), nil
	}

	if len(payload) < threshold {
		inner := 1 + len(payload)
		out := make([]byte, 0, inner+MaxFramePrefixLen)
		out = AppendVarInt(out, int32(inner))
		out = append(out, 0)
		return append(out, payload...), nil
	}

	var compressed bytes.Buffer
	w := zlibWriters.Get().(*zlib.Writer)
	defer zlibWriters.Put(w)
	w.Reset(&compressed)
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to compress frame: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress frame: %w", err)
	}

	dataLen := int32(len(payload))
	inner := VarIntSize(dataLen) + compressed.Len()
	out := make([]byte, 0, inner+MaxFramePrefixLen)
	out = AppendVarInt(out, int32(inner))
	out = AppendVarInt(out, dataLen)
	return append(out, compressed.Bytes()...), nil
}

// DecodeFrame turns a frame body back into an unframed payload. With
// threshold below zero the body is returned unchanged. max bounds the
// declared uncompressed length. A body sent uncompressed must be shorter than
// threshold.
func DecodeFrame(body []byte, threshold, max int) ([]byte, error) {
	if threshold < 0 {
		return body, nil
	}

	dataLen, n, err := DecodeVarInt(body, MaxVarIntLen)
	if err != nil {
		return nil, fmt.Errorf("%w: data length: %v", ErrBadCompression, err)
	}
	if dataLen == 0 {
		if len(body[n:]) >= threshold {
			return nil, fmt.Errorf("%w: uncompressed body of %d bytes at threshold %d", ErrBadCompression, len(body[n:]), threshold)
		}
		return body[n:], nil
	}
	if dataLen < 0 || int(dataLen) > max {
		return nil, fmt.Errorf("%w: data length %d exceeds %d", ErrOversize, dataLen, max)
	}
	if int(dataLen) < threshold {
		return nil, fmt.Errorf("%w: data length %d below threshold %d", ErrBadCompression, dataLen, threshold)
	}

	zr, err := zlib.NewReader(bytes.NewReader(body[n:]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCompression, err)
	}
	defer zr.Close()

	out := make([]byte, dataLen)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCompression, err)
	}
	var probe [1]byte
	if m, _ := zr.Read(probe[:]); m != 0 {
		return nil, fmt.Errorf("%w: more data than declared", ErrBadCompression)
	}
	return out, nil
}
