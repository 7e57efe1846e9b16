// Package keepalive tracks the liveness probe exchanged with a client during
// the configuration and play states.
package keepalive

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// ErrTimedOut is returned by Poll when the outstanding probe is overdue.
	ErrTimedOut = errors.New("keep-alive timed out")

	// ErrUnexpected is returned by Ack for a nonce that was not sent or was
	// already answered.
	ErrUnexpected = errors.New("unexpected keep-alive")
)

const (
	DefaultInterval = 15 * time.Second
	DefaultTimeout  = 30 * time.Second
)

// Monitor holds at most one outstanding probe. It is owned by the session
// goroutine and is not safe for concurrent use.
type Monitor struct {
	interval time.Duration
	timeout  time.Duration
	random   io.Reader

	outstanding bool
	nonce       int64
	sentAt      time.Time
	lastAck     time.Time
	latency     time.Duration
}

// New creates a Monitor sending a probe every interval and failing when one
// stays unanswered for timeout. Zero values select the defaults.
func New(interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Monitor{
		interval: interval,
		timeout:  timeout,
		random:   rand.Reader,
	}
}

// SetRandom replaces the nonce source.
func (m *Monitor) SetRandom(r io.Reader) {
	m.random = r
}

// Start arms the interval timer from now without sending a probe.
func (m *Monitor) Start(now time.Time) {
	if m.lastAck.IsZero() {
		m.lastAck = now
	}
}

// Reset forgets any outstanding probe and disarms the timer until the next
// Start. It is used when the client leaves the state probes were sent in.
func (m *Monitor) Reset() {
	m.outstanding = false
	m.nonce = 0
	m.lastAck = time.Time{}
}

// Poll decides whether a probe is due. When send is true the caller must
// transmit nonce to the client.
func (m *Monitor) Poll(now time.Time) (nonce int64, send bool, err error) {
	if m.outstanding {
		if now.Sub(m.sentAt) > m.timeout {
			return 0, false, fmt.Errorf("%w: no reply after %s", ErrTimedOut, now.Sub(m.sentAt).Round(time.Millisecond))
		}
		return 0, false, nil
	}

	m.Start(now)
	if now.Sub(m.lastAck) < m.interval {
		return 0, false, nil
	}

	var buf [8]byte
	if _, err := io.ReadFull(m.random, buf[:]); err != nil {
		return 0, false, fmt.Errorf("failed to generate keep-alive nonce: %w", err)
	}

	m.nonce = int64(binary.BigEndian.Uint64(buf[:]))
	m.sentAt = now
	m.outstanding = true
	return m.nonce, true, nil
}

// Ack records the client's reply and returns the round trip time.
func (m *Monitor) Ack(nonce int64, now time.Time) (time.Duration, error) {
	if !m.outstanding {
		return 0, fmt.Errorf("%w: none outstanding (got %d)", ErrUnexpected, nonce)
	}
	if nonce != m.nonce {
		return 0, fmt.Errorf("%w: got %d, expected %d", ErrUnexpected, nonce, m.nonce)
	}

	m.outstanding = false
	m.latency = now.Sub(m.sentAt)
	m.lastAck = now
	return m.latency, nil
}

// Outstanding reports whether a probe awaits a reply.
func (m *Monitor) Outstanding() bool {
	return m.outstanding
}

// Latency returns the last measured round trip time.
func (m *Monitor) Latency() time.Duration {
	return m.latency
}
