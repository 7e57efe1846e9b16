package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrIncomplete means more bytes are needed before a frame can be returned.
	// It is not a failure.
	ErrIncomplete = errors.New("incomplete frame")

	// ErrOversize is returned when a frame declares a length above the limit.
	ErrOversize = errors.New("frame exceeds maximum size")

	// ErrMalformed is returned when a frame prefix can never become valid.
	ErrMalformed = errors.New("malformed frame prefix")
)

// compactThreshold is how many consumed bytes may sit at the head of the
// buffer before they are shifted out.
const compactThreshold = 4096

// Frame is one length-delimited unit read from the stream.
type Frame struct {
	Payload   []byte
	PrefixLen int
}

// Len returns the number of stream bytes the frame occupied.
func (f Frame) Len() int {
	return f.PrefixLen + len(f.Payload)
}

// FrameBuffer accumulates stream bytes and splits them into frames. It is
// owned by a single session goroutine and is not safe for concurrent use.
type FrameBuffer struct {
	buf     []byte
	read    int
	max     int
	decrypt func([]byte)
}

// NewFrameBuffer creates a FrameBuffer rejecting frames longer than max bytes.
// A max of zero or less selects DefaultMaxFrameSize.
func NewFrameBuffer(max int) *FrameBuffer {
	if max <= 0 {
		max = DefaultMaxFrameSize
	}
	return &FrameBuffer{
		buf: make([]byte, 0, 512),
		max: max,
	}
}

// Append copies chunk into the buffer, decrypting it first when decryption
// is enabled. The caller keeps ownership of chunk.
func (fb *FrameBuffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	start := len(fb.buf)
	fb.buf = append(fb.buf, chunk...)
	if fb.decrypt != nil {
		fb.decrypt(fb.buf[start:])
	}
}

// EnableDecryption installs an in-place decryption function. Every byte not
// yet consumed is decrypted immediately, as is every byte appended later.
func (fb *FrameBuffer) EnableDecryption(fn func([]byte)) {
	fb.decrypt = fn
	if fn != nil && fb.read < len(fb.buf) {
		fn(fb.buf[fb.read:])
	}
}

// Next returns the next complete frame. The payload is a copy owned by the
// caller.
func (fb *FrameBuffer) Next() (Frame, error) {
	fb.compact()

	pending := fb.buf[fb.read:]
	if len(pending) == 0 {
		return Frame{}, ErrIncomplete
	}

	length, n, err := DecodeVarInt(pending, MaxFramePrefixLen)
	if err != nil {
		if errors.Is(err, ErrIncomplete) {
			return Frame{}, ErrIncomplete
		}
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if length < 0 {
		return Frame{}, fmt.Errorf("%w: negative length %d", ErrMalformed, length)
	}
	if int(length) > fb.max {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrOversize, length, fb.max)
	}
	if len(pending) < n+int(length) {
		return Frame{}, ErrIncomplete
	}

	payload := make([]byte, length)
	copy(payload, pending[n:n+int(length)])
	frame := Frame{
		Payload:   payload,
		PrefixLen: n,
	}
	fb.read += n + int(length)
	return frame, nil
}

// Peek returns the unconsumed bytes without advancing.
func (fb *FrameBuffer) Peek() []byte {
	return fb.buf[fb.read:]
}

// Consume marks n unconsumed bytes as read.
func (fb *FrameBuffer) Consume(n int) {
	if n > len(fb.buf)-fb.read {
		n = len(fb.buf) - fb.read
	}
	fb.read += n
}

// Buffered returns the number of unconsumed bytes.
func (fb *FrameBuffer) Buffered() int {
	return len(fb.buf) - fb.read
}

// MaxFrameSize returns the current frame size limit.
func (fb *FrameBuffer) MaxFrameSize() int {
	return fb.max
}

// Resize changes the frame size limit. Values below one are ignored.
func (fb *FrameBuffer) Resize(max int) {
	if max > 0 {
		fb.max = max
	}
}

func (fb *FrameBuffer) compact() {
	if fb.read == 0 {
		return
	}
	if fb.read == len(fb.buf) {
		fb.buf = fb.buf[:0]
		fb.read = 0
		return
	}
	if fb.read < compactThreshold {
		return
	}
	n := copy(fb.buf, fb.buf[fb.read:])
	fb.buf = fb.buf[:n]
	fb.read = 0
}
