package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/energizer-project/blockgate/internal/events"
	"github.com/energizer-project/blockgate/internal/players"
	"github.com/energizer-project/blockgate/internal/protocol"
	"github.com/energizer-project/blockgate/internal/registry"
)

const (
	maxChatLen    = 256
	maxCommandLen = 32767
)

// Play is the in-game state. It interprets the packets the engine owns and
// hands the rest to the World.
type Play struct {
	env    *Env
	conn   Conn
	player *players.Player
	next   Handler

	reconfiguring   bool
	reconfigureSent time.Time
}

// NewPlay creates the play handler for p.
func NewPlay(env *Env, conn Conn, p *players.Player) *Play {
	return &Play{env: env, conn: conn, player: p}
}

func (p *Play) State() protocol.State { return protocol.StatePlay }
func (p *Play) Next() Handler         { return p.next }

func (p *Play) DisconnectPacket(reason string) []byte {
	return disconnectPacket(p.env, p.conn, protocol.StatePlay, reason)
}

// OnSwitch lets the World spawn the player, then flushes what it queued.
func (p *Play) OnSwitch(ctx context.Context) (protocol.Response, error) {
	if err := p.env.World.Join(ctx, p.player); err != nil {
		return protocol.Response{}, worldError("join", err)
	}
	log := p.conn.Logger()
	log.Debug().Str("player", p.player.Name()).Msg("entered play")
	return drainPending(p.player), nil
}

// Tick honours control requests, flushes queued packets and services
// keep-alive.
func (p *Play) Tick(ctx context.Context, now time.Time) (protocol.Response, error) {
	var resp protocol.Response
	if p.reconfiguring {
		timeout := p.env.Config.GetNetwork().LoginTimeout()
		if timeout > 0 && now.Sub(p.reconfigureSent) > timeout {
			return protocol.Response{}, protocolError("Timed out", errors.New("no configuration acknowledgement"))
		}
		return resp, nil
	}

	resp.Add(drainPending(p.player))

	v := p.conn.ProtocolVersion()
	reqs := p.player.TakeRequests()
	for i, req := range reqs {
		switch req.Kind {
		case players.RequestTransfer:
			packet, err := p.env.Registries.Transfer(v, protocol.StatePlay, req.Host, req.Port)
			if err != nil {
				return protocol.Response{}, internalError(err)
			}
			resp.Add(protocol.AnswerPackets(packet))
		case players.RequestReconfigure:
			packet, err := p.env.Registries.startConfiguration(v)
			if err != nil {
				return protocol.Response{}, internalError(err)
			}
			resp.Add(protocol.AnswerPackets(packet))
			p.reconfiguring = true
			p.reconfigureSent = now
			// The rest is honoured once the player is back in play.
			p.player.Requeue(reqs[i+1:])
			return resp, nil
		}
	}

	ka, err := pollKeepAlive(p.env, p.conn, protocol.StatePlay, now)
	if err != nil {
		return protocol.Response{}, err
	}
	resp.Add(ka)
	return resp, nil
}

func (p *Play) HandlePacket(ctx context.Context, id int32, body *protocol.Reader) (protocol.Response, error) {
	v := p.conn.ProtocolVersion()
	name, handler, err := p.env.Registries.Play.Lookup(v, protocol.StatePlay, id)
	if errors.Is(err, registry.ErrUnknownPacket) || errors.Is(err, registry.ErrUnknownProtocol) {
		return protocol.Response{}, protocolError(fmt.Sprintf("Unexpected play packet 0x%02X", id), err)
	}
	if err != nil {
		return protocol.Response{}, internalError(err)
	}
	if handler != nil {
		return handler(ctx, p, body)
	}
	if err := p.env.World.HandlePlay(ctx, p.player, name, body); err != nil {
		return protocol.Response{}, worldError(name, err)
	}
	return protocol.Empty(), nil
}

func (p *Play) chat(ctx context.Context, body *protocol.Reader) (protocol.Response, error) {
	message, err := body.ReadString(maxChatLen)
	if err != nil {
		return protocol.Response{}, protocolError("Malformed chat message", err)
	}
	log := p.conn.Logger()
	log.Info().Str("player", p.player.Name()).Str("message", message).Msg("chat")
	p.env.emit(events.EventPlayerChat, playerSource(p.player), chatPayload(p.player, message))
	return protocol.Empty(), nil
}

func (p *Play) chatCommand(ctx context.Context, body *protocol.Reader) (protocol.Response, error) {
	command, err := body.ReadString(maxCommandLen)
	if err != nil {
		return protocol.Response{}, protocolError("Malformed command", err)
	}
	log := p.conn.Logger()
	log.Info().Str("player", p.player.Name()).Str("command", command).Msg("command")
	p.env.emit(events.EventPlayerCommand, playerSource(p.player), chatPayload(p.player, command))
	return protocol.Empty(), nil
}

func (p *Play) clientInformation(ctx context.Context, body *protocol.Reader) (protocol.Response, error) {
	info, err := readClientInformation(body)
	if err != nil {
		return protocol.Response{}, protocolError("Malformed client information", err)
	}
	p.player.SetClientInfo(info)
	return protocol.Empty(), nil
}

func (p *Play) customPayload(ctx context.Context, body *protocol.Reader) (protocol.Response, error) {
	if err := handleCustomPayload(p.env, p.player, body); err != nil {
		return protocol.Response{}, err
	}
	return protocol.Empty(), nil
}

func (p *Play) keepAlive(ctx context.Context, body *protocol.Reader) (protocol.Response, error) {
	if err := handleKeepAlive(p.env, p.conn, body); err != nil {
		return protocol.Response{}, err
	}
	return protocol.Empty(), nil
}

func (p *Play) configurationAcknowledged(ctx context.Context, body *protocol.Reader) (protocol.Response, error) {
	if !p.reconfiguring {
		return protocol.Response{}, protocolError("Unexpected configuration acknowledgement", nil)
	}
	p.conn.KeepAlive().Reset()
	p.next = NewConfiguration(p.env, p.conn, p.player)
	return protocol.Empty(), nil
}
