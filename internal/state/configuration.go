package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/energizer-project/blockgate/internal/players"
	"github.com/energizer-project/blockgate/internal/protocol"
	"github.com/energizer-project/blockgate/internal/registry"
)

// LoadState tracks how far the configuration exchange has progressed.
type LoadState int

const (
	LoadToInit LoadState = iota
	LoadAwaitKnownPacks
	LoadAwaitProcessing
	LoadDone
)

var loadStateStrings = map[LoadState]string{
	LoadToInit:          "to_init",
	LoadAwaitKnownPacks: "await_known_packs",
	LoadAwaitProcessing: "await_processing",
	LoadDone:            "done",
}

func (s LoadState) String() string {
	if str, ok := loadStateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("load(%d)", int(s))
}

// Configuration exchanges data packs and registries before the player
// enters play, both after login and on reconfiguration.
type Configuration struct {
	env    *Env
	conn   Conn
	player *players.Player
	load   LoadState
	next   Handler
}

// NewConfiguration creates the configuration handler for p.
func NewConfiguration(env *Env, conn Conn, p *players.Player) *Configuration {
	return &Configuration{env: env, conn: conn, player: p}
}

func (c *Configuration) State() protocol.State { return protocol.StateConfiguration }
func (c *Configuration) Next() Handler         { return c.next }

// Load returns the progress of the exchange.
func (c *Configuration) Load() LoadState { return c.load }

func (c *Configuration) DisconnectPacket(reason string) []byte {
	return disconnectPacket(c.env, c.conn, protocol.StateConfiguration, reason)
}

// OnSwitch flushes queued packets and opens the exchange with the server
// brand and the data packs it knows.
func (c *Configuration) OnSwitch(ctx context.Context) (protocol.Response, error) {
	if c.load != LoadToInit {
		return protocol.Empty(), nil
	}
	v := c.conn.ProtocolVersion()
	resp := drainPending(c.player)

	brand, err := c.env.Registries.brand(v, c.env.Config.GetServer().Brand)
	if err != nil {
		return protocol.Response{}, internalError(err)
	}
	packs, err := c.env.Registries.selectKnownPacks(v, []players.KnownPack{CorePack(v)})
	if err != nil {
		return protocol.Response{}, internalError(err)
	}
	resp.Add(protocol.AnswerPackets(brand, packs))
	c.load = LoadAwaitKnownPacks
	return resp, nil
}

// Tick flushes queued packets, finishes the exchange once the World has
// queued its data, and services keep-alive afterwards.
func (c *Configuration) Tick(ctx context.Context, now time.Time) (protocol.Response, error) {
	resp := drainPending(c.player)

	switch c.load {
	case LoadAwaitProcessing:
		finish, err := c.env.Registries.finishConfiguration(c.conn.ProtocolVersion())
		if err != nil {
			return protocol.Response{}, internalError(err)
		}
		resp.Add(protocol.AnswerPackets(finish))
		c.load = LoadDone
		c.conn.KeepAlive().Start(now)
	case LoadDone:
		ka, err := pollKeepAlive(c.env, c.conn, protocol.StateConfiguration, now)
		if err != nil {
			return protocol.Response{}, err
		}
		resp.Add(ka)
	}
	return resp, nil
}

func (c *Configuration) HandlePacket(ctx context.Context, id int32, body *protocol.Reader) (protocol.Response, error) {
	resp, err := c.env.Registries.Configuration.Dispatch(ctx, c.conn.ProtocolVersion(), protocol.StateConfiguration, id, c, body)
	if errors.Is(err, registry.ErrUnknownPacket) || errors.Is(err, registry.ErrUnknownProtocol) {
		return protocol.Response{}, protocolError(fmt.Sprintf("Unexpected configuration packet 0x%02X", id), err)
	}
	return resp, err
}

func (c *Configuration) clientInformation(ctx context.Context, body *protocol.Reader) (protocol.Response, error) {
	info, err := readClientInformation(body)
	if err != nil {
		return protocol.Response{}, protocolError("Malformed client information", err)
	}
	c.player.SetClientInfo(info)
	return protocol.Empty(), nil
}

func (c *Configuration) customPayload(ctx context.Context, body *protocol.Reader) (protocol.Response, error) {
	if err := handleCustomPayload(c.env, c.player, body); err != nil {
		return protocol.Response{}, err
	}
	return protocol.Empty(), nil
}

func (c *Configuration) keepAlive(ctx context.Context, body *protocol.Reader) (protocol.Response, error) {
	if err := handleKeepAlive(c.env, c.conn, body); err != nil {
		return protocol.Response{}, err
	}
	return protocol.Empty(), nil
}

func (c *Configuration) selectKnownPacks(ctx context.Context, body *protocol.Reader) (protocol.Response, error) {
	if c.load != LoadAwaitKnownPacks {
		return protocol.Response{}, protocolError("Unexpected known packs", nil)
	}
	count, err := body.ReadVarInt()
	if err != nil {
		return protocol.Response{}, protocolError("Malformed known packs", err)
	}
	if count < 0 || count > maxKnownPacks {
		return protocol.Response{}, protocolError("Too many known packs", fmt.Errorf("%d packs", count))
	}

	packs := make([]players.KnownPack, 0, count)
	for i := int32(0); i < count; i++ {
		var p players.KnownPack
		if p.Namespace, err = body.ReadString(maxIdentifierLen); err == nil {
			if p.ID, err = body.ReadString(maxIdentifierLen); err == nil {
				p.Version, err = body.ReadString(maxIdentifierLen)
			}
		}
		if err != nil {
			return protocol.Response{}, protocolError("Malformed known packs", err)
		}
		packs = append(packs, p)
	}
	c.player.SetKnownPacks(packs)

	if err := c.env.World.Configure(ctx, c.player, packs); err != nil {
		return protocol.Response{}, worldError("configure", err)
	}
	c.load = LoadAwaitProcessing
	return protocol.Empty(), nil
}

func (c *Configuration) finishAcknowledged(ctx context.Context, body *protocol.Reader) (protocol.Response, error) {
	if c.load != LoadDone {
		return protocol.Response{}, protocolError("Unexpected finish configuration", nil)
	}
	c.next = NewPlay(c.env, c.conn, c.player)
	return protocol.Empty(), nil
}
