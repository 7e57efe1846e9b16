package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/energizer-project/blockgate/internal/events"
	"github.com/energizer-project/blockgate/internal/keepalive"
	"github.com/energizer-project/blockgate/internal/players"
	"github.com/energizer-project/blockgate/internal/protocol"
)

const (
	maxIdentifierLen = 32767
	maxPluginData    = 32767
	maxKnownPacks    = 64
)

// readClientInformation decodes the client settings packet shared by the
// configuration and play states.
func readClientInformation(body *protocol.Reader) (players.ClientInfo, error) {
	var (
		info players.ClientInfo
		err  error
		b    byte
		n    int32
	)
	if info.Locale, err = body.ReadString(16); err != nil {
		return info, err
	}
	if b, err = body.ReadByte(); err != nil {
		return info, err
	}
	info.ViewDistance = int(int8(b))
	if n, err = body.ReadVarInt(); err != nil {
		return info, err
	}
	info.ChatMode = int(n)
	if info.ChatColors, err = body.ReadBool(); err != nil {
		return info, err
	}
	if b, err = body.ReadByte(); err != nil {
		return info, err
	}
	info.SkinParts = players.SkinParts(b)
	if n, err = body.ReadVarInt(); err != nil {
		return info, err
	}
	info.MainHand = int(n)
	if info.TextFiltering, err = body.ReadBool(); err != nil {
		return info, err
	}
	if info.AllowServerListing, err = body.ReadBool(); err != nil {
		return info, err
	}
	return info, nil
}

// handleCustomPayload records the client brand and publishes every other
// channel as a plugin message event.
func handleCustomPayload(env *Env, p *players.Player, body *protocol.Reader) error {
	channel, err := body.ReadString(maxIdentifierLen)
	if err != nil {
		return protocolError("Malformed custom payload", err)
	}
	if body.Remaining() > maxPluginData {
		return protocolError("Custom payload too large", fmt.Errorf("%d bytes on %s", body.Remaining(), channel))
	}
	if channel == BrandChannel {
		brand, err := body.ReadString(maxIdentifierLen)
		if err != nil {
			return protocolError("Malformed brand", err)
		}
		p.SetBrand(brand)
		return nil
	}
	data := append([]byte(nil), body.Rest()...)
	env.emit(events.EventPluginMessage, playerSource(p), events.PluginMessagePayload{
		SessionID: p.SessionID(),
		Name:      p.Name(),
		Channel:   channel,
		Data:      data,
	})
	return nil
}

// handleKeepAlive matches a keep-alive answer against the outstanding probe.
func handleKeepAlive(env *Env, conn Conn, body *protocol.Reader) error {
	nonce, err := body.ReadInt64()
	if err != nil {
		return protocolError("Malformed keep-alive", err)
	}
	latency, err := conn.KeepAlive().Ack(nonce, env.Now())
	if err != nil {
		return protocolError("Invalid keep-alive", err)
	}
	env.Metrics.KeepAliveLatency(latency)
	if p := conn.Player(); p != nil {
		p.SetLatency(latency)
	}
	return nil
}

// pollKeepAlive sends a probe when one is due and fails the session when the
// outstanding one is overdue.
func pollKeepAlive(env *Env, conn Conn, s protocol.State, now time.Time) (protocol.Response, error) {
	nonce, send, err := conn.KeepAlive().Poll(now)
	if errors.Is(err, keepalive.ErrTimedOut) {
		return protocol.Response{}, protocolError("Timed out", err)
	}
	if err != nil {
		return protocol.Response{}, internalError(err)
	}
	if !send {
		return protocol.Empty(), nil
	}
	packet, err := env.Registries.keepAlive(conn.ProtocolVersion(), s, nonce)
	if err != nil {
		return protocol.Response{}, internalError(err)
	}
	return protocol.AnswerPackets(packet), nil
}

// drainPending returns the packets other goroutines queued for p.
func drainPending(p *players.Player) protocol.Response {
	if p == nil {
		return protocol.Empty()
	}
	return protocol.AnswerPackets(p.Drain()...)
}

// disconnectPacket builds the disconnect packet of a configuration or play
// handler, falling back to nil when the version has no table.
func disconnectPacket(env *Env, conn Conn, s protocol.State, reason string) []byte {
	packet, err := env.Registries.Disconnect(conn.ProtocolVersion(), s, reason)
	if err != nil {
		return nil
	}
	return packet
}

// worldError wraps a failure of the World collaborator.
func worldError(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DisconnectError
	if errors.As(err, &de) {
		return de
	}
	return internalError(fmt.Errorf("world %s: %w", op, err))
}
