package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottle(t *testing.T) {
	th := NewThrottle(time.Minute)
	assert.True(t, th.Allow("198.51.100.7:1000"))
	assert.False(t, th.Allow("198.51.100.7:2000"), "same host, other port")
	assert.True(t, th.Allow("198.51.100.8:1000"))

	assert.True(t, th.Allow("127.0.0.1:1"))
	assert.True(t, th.Allow("127.0.0.1:2"), "loopback is exempt")

	off := NewThrottle(0)
	assert.True(t, off.Allow("198.51.100.7:1"))
	assert.True(t, off.Allow("198.51.100.7:1"))

	var none *Throttle
	assert.True(t, none.Allow("198.51.100.7:1"))
}
