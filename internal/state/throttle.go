package state

import (
	"net"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Throttle limits how often one address may start a login.
type Throttle struct {
	window time.Duration
	seen   *gocache.Cache
}

// NewThrottle creates a Throttle allowing one login per address per window.
// A zero window disables throttling.
func NewThrottle(window time.Duration) *Throttle {
	t := &Throttle{window: window}
	if window > 0 {
		t.seen = gocache.New(window, 2*window)
	}
	return t
}

// Allow records an attempt from remote and reports whether it may proceed.
// Loopback addresses are never throttled.
func (t *Throttle) Allow(remote string) bool {
	if t == nil || t.seen == nil {
		return true
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}
	return t.seen.Add(host, struct{}{}, t.window) == nil
}
