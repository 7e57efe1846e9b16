package state

import (
	"context"
	"fmt"
	"time"

	"github.com/energizer-project/blockgate/internal/protocol"
)

// Handshake intents sent in the next-state field.
const (
	IntentStatus   = 1
	IntentLogin    = 2
	IntentTransfer = 3
)

// HandshakeRequest is the decoded handshake, or a legacy probe when Legacy
// is set.
type HandshakeRequest struct {
	Version   protocol.Version
	Address   string
	Port      uint16
	NextState int32
	Legacy    bool
	Raw       []byte
}

// Handshake is the initial state. It reads one packet and selects the next
// handler.
type Handshake struct {
	env  *Env
	conn Conn
	next Handler
}

// NewHandshake creates the initial handler of conn.
func NewHandshake(env *Env, conn Conn) *Handshake {
	return &Handshake{env: env, conn: conn}
}

func (h *Handshake) State() protocol.State { return protocol.StateHandshake }
func (h *Handshake) Next() Handler         { return h.next }

// DisconnectPacket returns nil: the handshake state has no disconnect packet.
func (h *Handshake) DisconnectPacket(string) []byte { return nil }

func (h *Handshake) OnSwitch(context.Context) (protocol.Response, error) {
	return protocol.Empty(), nil
}

func (h *Handshake) Tick(context.Context, time.Time) (protocol.Response, error) {
	return protocol.Empty(), nil
}

// HandlePacket decodes the handshake packet.
func (h *Handshake) HandlePacket(ctx context.Context, id int32, body *protocol.Reader) (protocol.Response, error) {
	if h.next != nil {
		return protocol.Response{}, protocolError("Unexpected packet after handshake", nil)
	}
	if id != 0x00 {
		return protocol.Response{}, protocolError(fmt.Sprintf("Unexpected handshake packet 0x%02X", id), nil)
	}

	version, err := body.ReadVarInt()
	if err != nil {
		return protocol.Response{}, protocolError("Malformed handshake", err)
	}
	address, err := body.ReadString(255)
	if err != nil {
		return protocol.Response{}, protocolError("Malformed handshake", err)
	}
	port, err := body.ReadUint16()
	if err != nil {
		return protocol.Response{}, protocolError("Malformed handshake", err)
	}
	intent, err := body.ReadVarInt()
	if err != nil {
		return protocol.Response{}, protocolError("Malformed handshake", err)
	}

	req := HandshakeRequest{
		Version:   protocol.Version(version),
		Address:   address,
		Port:      port,
		NextState: intent,
	}
	h.conn.SetProtocolVersion(req.Version)

	log := h.conn.Logger()
	log.Debug().
		Int32("protocol", version).
		Str("address", address).
		Uint16("port", port).
		Int32("intent", intent).
		Msg("handshake")

	switch intent {
	case IntentStatus:
		h.next = NewStatus(h.env, h.conn)
		return protocol.Empty(), nil
	case IntentLogin:
		if reason, ok := h.env.checkVersion(req.Version); !ok {
			return protocol.DisconnectWith(protocol.Packet(LoginDisconnect(reason))), nil
		}
		h.next = NewLogin(h.env, h.conn, false)
		return protocol.Empty(), nil
	}
	return h.special(ctx, req)
}

// HandleLegacy answers a pre-1.7 probe starting with LegacyPingByte. raw is
// everything buffered at the time it was detected.
func (h *Handshake) HandleLegacy(ctx context.Context, raw []byte) (protocol.Response, error) {
	return h.special(ctx, HandshakeRequest{Legacy: true, Raw: raw})
}

func (h *Handshake) special(ctx context.Context, req HandshakeRequest) (protocol.Response, error) {
	next, raw, err := h.env.Special.HandleSpecial(ctx, h.env, h.conn, req)
	if err != nil {
		return protocol.Response{}, err
	}
	if next != nil {
		h.next = next
		if raw != nil {
			return protocol.Answer(protocol.RawBytes(raw)), nil
		}
		return protocol.Empty(), nil
	}
	if raw != nil {
		return protocol.DisconnectWith(protocol.RawBytes(raw)), nil
	}
	return protocol.Disconnect(), nil
}

// checkVersion reports whether a client of version v may log in, with the
// message shown when it may not.
func (e *Env) checkVersion(v protocol.Version) (string, bool) {
	server := e.Config.GetServer()
	if server.AllowsVersion(v) && e.Registries.Supports(v) {
		return "", true
	}
	primary := server.PrimaryVersion()
	if v < primary {
		return fmt.Sprintf("Outdated client! Please use %s", primary.Name()), false
	}
	return fmt.Sprintf("Outdated server! I'm still on %s", primary.Name()), false
}
