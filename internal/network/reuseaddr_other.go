//go:build !linux && !windows

package network

import (
	"net"
	"time"
)

// ReuseAddrListenConfig returns the game port listen config.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{KeepAlive: 30 * time.Second}
}
