package state

import (
	"errors"
	"fmt"
)

// Kind classifies why a session is being disconnected.
type Kind int

const (
	// KindProtocol is a malformed or out-of-order packet.
	KindProtocol Kind = iota
	// KindCrypto is a failed key exchange.
	KindCrypto
	// KindIdentity is a rejected login: bad name, failed verification, ban.
	KindIdentity
	// KindFraming is a frame that violates the size or compression rules.
	KindFraming
	// KindInternal is a server-side failure.
	KindInternal
)

var kindStrings = map[Kind]string{
	KindProtocol: "protocol",
	KindCrypto:   "crypto",
	KindIdentity: "identity",
	KindFraming:  "framing",
	KindInternal: "internal",
}

func (k Kind) String() string {
	if s, ok := kindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// InternalErrorReason is shown to clients when the server fails.
const InternalErrorReason = "Internal server error"

// DisconnectError ends a session. Reason is shown to the client in the
// disconnect packet of the current state.
type DisconnectError struct {
	Reason string
	Kind   Kind
	Err    error
}

func (e *DisconnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *DisconnectError) Unwrap() error {
	return e.Err
}

func disconnect(kind Kind, reason string, err error) *DisconnectError {
	return &DisconnectError{Reason: reason, Kind: kind, Err: err}
}

func protocolError(reason string, err error) *DisconnectError {
	return disconnect(KindProtocol, reason, err)
}

func internalError(err error) *DisconnectError {
	return disconnect(KindInternal, InternalErrorReason, err)
}

// AsDisconnect converts any error into a DisconnectError. Errors that are not
// already one become internal errors.
func AsDisconnect(err error) *DisconnectError {
	var de *DisconnectError
	if errors.As(err, &de) {
		return de
	}
	return internalError(err)
}
