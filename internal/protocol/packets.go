// Package protocol implements the Minecraft Java edition wire format used by
// Blockgate: VarInt framing, big-endian field codecs, zlib frame compression
// and the Response model returned by connection state handlers.
package protocol

import "fmt"

// State is the connection phase a packet id is interpreted in.
type State int

const (
	StateHandshake State = iota
	StateStatus
	StateLogin
	StateConfiguration
	StatePlay
)

// stateStrings maps State values to their lowercase log representation.
var stateStrings = map[State]string{
	StateHandshake:     "handshake",
	StateStatus:        "status",
	StateLogin:         "login",
	StateConfiguration: "configuration",
	StatePlay:          "play",
}

// String returns the string representation of State.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Version is a protocol version number as sent in the handshake.
type Version int32

const (
	Version1_20_5 Version = 766
	Version1_21   Version = 767
	Version1_21_2 Version = 768
)

// versionNames maps known protocol numbers to their release names.
var versionNames = map[Version]string{
	Version1_20_5: "1.20.5",
	Version1_21:   "1.21",
	Version1_21_2: "1.21.2",
}

// KnownVersions lists every protocol version Blockgate has packet tables for,
// oldest first.
var KnownVersions = []Version{Version1_20_5, Version1_21, Version1_21_2}

// Name returns the release name of the version, or "unknown".
func (v Version) Name() string {
	if name, ok := versionNames[v]; ok {
		return name
	}
	return "unknown"
}

// Known reports whether Blockgate has packet tables for the version.
func (v Version) Known() bool {
	_, ok := versionNames[v]
	return ok
}

const (
	// DefaultMaxFrameSize is the largest frame body accepted: the largest value
	// a three byte VarInt can carry.
	DefaultMaxFrameSize = 2097151

	// MaxFramePrefixLen is the longest VarInt accepted as a frame length prefix.
	MaxFramePrefixLen = 3

	// MaxVarIntLen is the longest encoding of a 32-bit VarInt.
	MaxVarIntLen = 5

	// LegacyPingByte opens a pre-1.7 server list ping.
	LegacyPingByte byte = 0xFE

	// CompressionDisabled is the threshold value meaning frames are never
	// compressed.
	CompressionDisabled = -1
)
