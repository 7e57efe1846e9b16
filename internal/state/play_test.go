package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/blockgate/internal/config"
	"github.com/energizer-project/blockgate/internal/events"
	"github.com/energizer-project/blockgate/internal/protocol"
)

func newPlay(t *testing.T, version protocol.Version, world *fakeWorld, mutate func(cfg *config.Config, env *Env)) (*Play, *fakeConn, *Env) {
	env := newTestEnv(t, func(cfg *config.Config, env *Env) {
		env.World = world
		if mutate != nil {
			mutate(cfg, env)
		}
	})
	conn := newFakeConn()
	conn.SetProtocolVersion(version)
	p := admitPlayer(t, env, conn, "Steve")
	return NewPlay(env, conn, p), conn, env
}

func TestPlay_OnSwitch(t *testing.T) {
	world := &fakeWorld{}
	p, conn, _ := newPlay(t, protocol.Version1_21, world, nil)
	conn.Player().Enqueue([]byte{0x2B})

	resp, err := p.OnSwitch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, world.joined)
	require.Equal(t, 1, resp.Len())
	assert.Equal(t, []byte{0x2B}, resp.Items()[0].Payload)
}

func TestPlay_Dispatch(t *testing.T) {
	ctx := context.Background()
	bus := events.NewEventBus()
	defer bus.Stop()

	chats := make(chan events.Event, 2)
	bus.SubscribeAll([]events.EventType{events.EventPlayerChat, events.EventPlayerCommand}, "test",
		func(ctx context.Context, e events.Event) error {
			chats <- e
			return nil
		})

	world := &fakeWorld{}
	p, _, _ := newPlay(t, protocol.Version1_21, world, func(_ *config.Config, env *Env) {
		env.Events = bus
	})

	chat := protocol.NewPacketBuilder().WriteString("hello").WriteInt64(0).WriteInt64(0)
	_, err := p.HandlePacket(ctx, 0x06, body(chat))
	require.NoError(t, err)

	select {
	case e := <-chats:
		assert.Equal(t, events.EventPlayerChat, e.Type)
		assert.Equal(t, "hello", e.Payload.(events.ChatPayload).Message)
	case <-time.After(time.Second):
		t.Fatal("chat not published")
	}

	_, err = p.HandlePacket(ctx, 0x04, body(protocol.NewPacketBuilder().WriteString("gamemode creative")))
	require.NoError(t, err)
	select {
	case e := <-chats:
		assert.Equal(t, events.EventPlayerCommand, e.Type)
		assert.Equal(t, "gamemode creative", e.Payload.(events.ChatPayload).Message)
	case <-time.After(time.Second):
		t.Fatal("command not published")
	}

	// Packets the engine does not interpret go to the world by name.
	_, err = p.HandlePacket(ctx, 0x1A, protocol.NewReader([]byte{1, 2, 3}))
	require.NoError(t, err)
	_, err = p.HandlePacket(ctx, 0x36, protocol.NewReader(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"move_player_pos", "swing"}, world.play)

	_, err = p.HandlePacket(ctx, 0x60, protocol.NewReader(nil))
	requireKind(t, err, KindProtocol)

	// Acknowledging a configuration nobody started is a violation.
	_, err = p.HandlePacket(ctx, 0x0C, protocol.NewReader(nil))
	requireKind(t, err, KindProtocol)
}

func TestPlay_Reconfigure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		version   protocol.Version
		startID   int32
		ackID     int32
		keepAlive int32
	}{
		{protocol.Version1_20_5, 0x69, 0x0C, 0x26},
		{protocol.Version1_21, 0x69, 0x0C, 0x26},
		{protocol.Version1_21_2, 0x70, 0x0E, 0x27},
	} {
		t.Run(tc.version.Name(), func(t *testing.T) {
			p, conn, _ := newPlay(t, tc.version, &fakeWorld{}, nil)
			conn.KeepAlive().Start(now)
			player := conn.Player()

			resp, err := p.Tick(ctx, now.Add(16*time.Second))
			require.NoError(t, err)
			require.Equal(t, 1, resp.Len())
			id, _ := packetID(t, resp.Items()[0])
			assert.Equal(t, tc.keepAlive, id)

			player.Reconfigure()
			player.Enqueue([]byte{0x01})
			resp, err = p.Tick(ctx, now.Add(17*time.Second))
			require.NoError(t, err)
			require.Equal(t, 2, resp.Len())
			assert.Equal(t, []byte{0x01}, resp.Items()[0].Payload, "queue drained before the switch")
			id, _ = packetID(t, resp.Items()[1])
			assert.Equal(t, tc.startID, id)

			// Queued packets wait while the client switches.
			player.Enqueue([]byte{0x02})
			resp, err = p.Tick(ctx, now.Add(18*time.Second))
			require.NoError(t, err)
			assert.Equal(t, 0, resp.Len())

			_, err = p.HandlePacket(ctx, tc.ackID, protocol.NewReader(nil))
			require.NoError(t, err)
			next, ok := p.Next().(*Configuration)
			require.True(t, ok)
			assert.False(t, conn.KeepAlive().Outstanding())

			resp, err = next.OnSwitch(ctx)
			require.NoError(t, err)
			assert.Equal(t, []byte{0x02}, resp.Items()[0].Payload)
		})
	}
}

func TestPlay_RequestsAfterReconfigure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	p, conn, env := newPlay(t, protocol.Version1_21, &fakeWorld{}, nil)
	conn.KeepAlive().Start(now)
	player := conn.Player()
	player.Reconfigure()
	player.Transfer("lobby.example.org", 25566)

	resp, err := p.Tick(ctx, now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, resp.Len())
	id, _ := packetID(t, resp.Items()[0])
	assert.Equal(t, int32(0x69), id, "start configuration")

	_, err = p.HandlePacket(ctx, 0x0C, protocol.NewReader(nil))
	require.NoError(t, err)
	require.IsType(t, &Configuration{}, p.Next())

	// Back in play, the transfer queued behind the reconfiguration goes out.
	back := NewPlay(env, conn, player)
	resp, err = back.Tick(ctx, now.Add(2*time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, resp.Len())
	id, r := packetID(t, resp.Items()[0])
	assert.Equal(t, int32(0x73), id)
	host, _ := r.ReadString(255)
	assert.Equal(t, "lobby.example.org", host)
	assert.Empty(t, player.TakeRequests())
}

func TestPlay_ReconfigureTimeout(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p, conn, _ := newPlay(t, protocol.Version1_21, &fakeWorld{}, nil)
	conn.Player().Reconfigure()

	_, err := p.Tick(context.Background(), now)
	require.NoError(t, err)
	_, err = p.Tick(context.Background(), now.Add(31*time.Second))
	requireKind(t, err, KindProtocol)
}

func TestPlay_Transfer(t *testing.T) {
	p, conn, _ := newPlay(t, protocol.Version1_21, &fakeWorld{}, nil)
	conn.KeepAlive().Start(time.Now())
	conn.Player().Transfer("lobby.example.org", 25566)

	resp, err := p.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, resp.Len())
	id, r := packetID(t, resp.Items()[0])
	assert.Equal(t, int32(0x73), id)
	host, _ := r.ReadString(255)
	port, _ := r.ReadVarInt()
	assert.Equal(t, "lobby.example.org", host)
	assert.Equal(t, int32(25566), port)
}

func TestPlay_DisconnectPacket(t *testing.T) {
	p, _, _ := newPlay(t, protocol.Version1_21_2, &fakeWorld{}, nil)
	id, _, err := protocol.ReadPacketID(p.DisconnectPacket("bye"))
	require.NoError(t, err)
	assert.Equal(t, int32(0x1D), id)
}
