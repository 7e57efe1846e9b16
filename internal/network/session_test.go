package network

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/blockgate/internal/config"
	"github.com/energizer-project/blockgate/internal/encryption"
	"github.com/energizer-project/blockgate/internal/events"
	"github.com/energizer-project/blockgate/internal/metrics"
	"github.com/energizer-project/blockgate/internal/protocol"
	"github.com/energizer-project/blockgate/internal/state"
)

// testClient speaks the client side of the protocol over a net.Pipe.
type testClient struct {
	t         *testing.T
	conn      net.Conn
	r         *bufio.Reader
	threshold int
	cipher    *encryption.Cipher
}

type decryptingReader struct {
	r io.Reader
	c *encryption.Cipher
}

func (d decryptingReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	d.c.Decrypt(p[:n])
	return n, err
}

func (c *testClient) send(payloads ...[]byte) {
	c.t.Helper()
	var out []byte
	for _, p := range payloads {
		frame, err := protocol.EncodeFrame(p, c.threshold)
		require.NoError(c.t, err)
		out = append(out, frame...)
	}
	if c.cipher != nil {
		c.cipher.Encrypt(out)
	}
	_, err := c.conn.Write(out)
	require.NoError(c.t, err)
}

func (c *testClient) read() (int32, *protocol.Reader) {
	c.t.Helper()
	length, err := protocol.ReadVarInt(c.r)
	require.NoError(c.t, err)
	body := make([]byte, length)
	_, err = io.ReadFull(c.r, body)
	require.NoError(c.t, err)
	payload, err := protocol.DecodeFrame(body, c.threshold, protocol.DefaultMaxFrameSize)
	require.NoError(c.t, err)
	id, r, err := protocol.ReadPacketID(payload)
	require.NoError(c.t, err)
	return id, r
}

func (c *testClient) enableEncryption(secret []byte) {
	c.t.Helper()
	c.cipher = encryption.NewCipher()
	require.NoError(c.t, c.cipher.Initialize(secret, secret))
	c.r = bufio.NewReader(decryptingReader{r: c.conn, c: c.cipher})
}

func (c *testClient) requireClosed() {
	c.t.Helper()
	_, err := c.r.ReadByte()
	require.ErrorIs(c.t, err, io.EOF)
}

type harness struct {
	env      *state.Env
	listener *Listener
	bus      *events.EventBus
	done     chan struct{}
}

func newHarness(t *testing.T, mutate func(cfg *config.Config, env *state.Env)) (*harness, *testClient) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.OnlineMode = false
	cfg.Network.TickIntervalMS = 5

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	env := state.Env{Config: cfg, Events: bus}
	if mutate != nil {
		mutate(cfg, &env)
	}

	h := &harness{
		env:  state.NewEnv(env),
		bus:  bus,
		done: make(chan struct{}),
	}
	h.listener = NewListener(h.env, metrics.New())

	server, client := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		defer close(h.done)
		h.listener.ServeConn(ctx, server)
	}()

	client.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { client.Close() })

	return h, &testClient{
		t:         t,
		conn:      client,
		r:         bufio.NewReader(client),
		threshold: protocol.CompressionDisabled,
	}
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

func (h *harness) session(t *testing.T) *Session {
	t.Helper()
	var s *Session
	require.Eventually(t, func() bool {
		all := h.listener.Registry().All()
		if len(all) == 0 {
			return false
		}
		s = all[0]
		return true
	}, time.Second, 5*time.Millisecond)
	return s
}

func handshake(version protocol.Version, intent int32) []byte {
	return protocol.NewPacket(0x00).
		WriteVarInt(int32(version)).
		WriteString("localhost").
		WriteUint16(25565).
		WriteVarInt(intent).
		Build()
}

func hello(name string) []byte {
	return protocol.NewPacket(0x00).WriteString(name).WriteUUID(uuid.Nil).Build()
}

func TestSession_StatusAndPing(t *testing.T) {
	h, c := newHarness(t, nil)

	c.send(handshake(protocol.Version1_21, state.IntentStatus), protocol.NewPacket(0x00).Build())

	id, r := c.read()
	require.Equal(t, int32(0x00), id)
	raw, err := r.ReadString(32767)
	require.NoError(t, err)

	var doc state.StatusDocument
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Equal(t, int32(767), doc.Version.Protocol)
	assert.Contains(t, raw, `"protocol":767`)

	c.send(protocol.NewPacket(0x01).WriteInt64(42).Build())
	id, r = c.read()
	require.Equal(t, int32(0x01), id)
	payload, err := r.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(42), payload)

	c.requireClosed()
	h.wait(t)
	assert.Equal(t, 0, h.listener.Registry().Count())
}

func TestSession_LegacyPing(t *testing.T) {
	h, c := newHarness(t, nil)

	_, err := c.conn.Write([]byte{protocol.LegacyPingByte, 0x01, 0xFA})
	require.NoError(t, err)

	reply, err := io.ReadAll(c.r)
	require.NoError(t, err)
	require.NotEmpty(t, reply)
	assert.Equal(t, byte(0xFF), reply[0])
	h.wait(t)
}

func TestSession_OfflineLoginToConfiguration(t *testing.T) {
	var leaves atomic.Int32
	h, c := newHarness(t, nil)
	h.bus.Subscribe(events.EventPlayerLeave, "test", func(ctx context.Context, e events.Event) error {
		leaves.Add(1)
		return nil
	})

	c.send(handshake(protocol.Version1_21, state.IntentLogin), hello("Steve"))

	id, r := c.read()
	require.Equal(t, int32(0x03), id, "set compression")
	threshold, err := r.ReadVarInt()
	require.NoError(t, err)
	assert.Equal(t, int32(256), threshold)
	c.threshold = int(threshold)

	id, r = c.read()
	require.Equal(t, int32(0x02), id, "login success")
	_, err = r.ReadUUID()
	require.NoError(t, err)
	name, _ := r.ReadString(16)
	assert.Equal(t, "Steve", name)

	// Acknowledgement and known packs arrive in one write.
	known := protocol.NewPacket(0x07).
		WriteVarInt(1).
		WriteString("minecraft").WriteString("core").WriteString("1.21").
		Build()
	c.send(protocol.NewPacket(0x03).Build(), known)

	id, r = c.read()
	require.Equal(t, int32(0x01), id, "brand")
	channel, _ := r.ReadString(32767)
	assert.Equal(t, state.BrandChannel, channel)

	id, _ = c.read()
	require.Equal(t, int32(0x0E), id, "select known packs")

	id, _ = c.read()
	require.Equal(t, int32(0x03), id, "finish configuration")

	s := h.session(t)
	assert.Equal(t, protocol.StateConfiguration, s.State())
	require.NotNil(t, s.Player())
	assert.Equal(t, "Steve", s.Info().Player)
	assert.Equal(t, 1, h.env.Players.Count())

	c.conn.Close()
	h.wait(t)
	assert.Equal(t, 0, h.env.Players.Count())
	assert.Equal(t, 0, h.listener.Registry().Count())
	require.Eventually(t, func() bool { return leaves.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_EncryptedLogin(t *testing.T) {
	keys, err := encryption.GenerateKeyPair(1024)
	require.NoError(t, err)

	h, c := newHarness(t, func(cfg *config.Config, env *state.Env) {
		env.Keys = keys
		cfg.Network.CompressionThreshold = -1
	})

	c.send(handshake(protocol.Version1_21_2, state.IntentLogin), hello("Alex"))

	id, r := c.read()
	require.Equal(t, int32(0x01), id, "encryption request")
	serverID, _ := r.ReadString(20)
	assert.Equal(t, "", serverID)
	der, err := r.ReadByteArray(1024)
	require.NoError(t, err)
	token, err := r.ReadByteArray(64)
	require.NoError(t, err)
	authenticate, _ := r.ReadBool()
	assert.False(t, authenticate)

	secret := []byte("0123456789abcdef")
	encSecret, err := encryption.EncryptWithPublicKey(der, secret)
	require.NoError(t, err)
	encToken, err := encryption.EncryptWithPublicKey(der, token)
	require.NoError(t, err)

	c.send(protocol.NewPacket(0x01).WriteByteArray(encSecret).WriteByteArray(encToken).Build())
	c.enableEncryption(secret)

	id, r = c.read()
	require.Equal(t, int32(0x02), id, "login success")
	_, err = r.ReadUUID()
	require.NoError(t, err)
	name, _ := r.ReadString(16)
	assert.Equal(t, "Alex", name)

	// Encrypted acknowledgement moves the session on.
	c.send(protocol.NewPacket(0x03).Build())
	id, _ = c.read()
	assert.Equal(t, int32(0x01), id, "brand")
	id, _ = c.read()
	assert.Equal(t, int32(0x0E), id, "select known packs")

	h.session(t).Kick("Maintenance")
	id, r = c.read()
	require.Equal(t, int32(0x02), id, "configuration disconnect")
	tag, _ := r.ReadByte()
	assert.Equal(t, byte(0x08), tag)

	c.requireClosed()
	h.wait(t)
}

func TestSession_OversizeFrame(t *testing.T) {
	h, c := newHarness(t, func(cfg *config.Config, env *state.Env) {
		cfg.Network.MaxFrameSize = 64
	})

	frame := protocol.AppendVarInt(nil, 100)
	frame = append(frame, make([]byte, 100)...)
	_, err := c.conn.Write(frame)
	require.NoError(t, err)

	c.requireClosed()
	h.wait(t)
}

func TestSession_KickDuringLogin(t *testing.T) {
	h, c := newHarness(t, nil)

	c.send(handshake(protocol.Version1_21, state.IntentLogin), hello("Steve"))
	c.read()
	c.threshold = 256
	c.read()

	s := h.session(t)
	s.Kick("Bye")
	s.Kick("Again")

	id, r := c.read()
	require.Equal(t, int32(0x00), id, "login disconnect")
	reason, _ := r.ReadString(32767)
	assert.Contains(t, reason, "Bye")

	c.requireClosed()
	h.wait(t)
	assert.Equal(t, 0, h.env.Players.Count())

	// Closing after teardown is a no-op.
	s.Close()
	s.Close()
	s.Kick("late")
	<-s.Done()
}

// playHandler stands in for a play-phase handler installed by the host.
type playHandler struct {
	greeting string
	panics   bool
	switched atomic.Int32
}

func (h *playHandler) State() protocol.State { return protocol.StatePlay }

func (h *playHandler) HandlePacket(ctx context.Context, id int32, body *protocol.Reader) (protocol.Response, error) {
	if h.panics {
		panic("world exploded")
	}
	return protocol.Empty(), nil
}

func (h *playHandler) Tick(ctx context.Context, now time.Time) (protocol.Response, error) {
	return protocol.Empty(), nil
}

func (h *playHandler) OnSwitch(ctx context.Context) (protocol.Response, error) {
	h.switched.Add(1)
	return protocol.AnswerPackets(protocol.NewPacket(0x2B).WriteString(h.greeting).Build()), nil
}

func (h *playHandler) Next() state.Handler { return nil }

func (h *playHandler) DisconnectPacket(reason string) []byte {
	return protocol.NewPacket(0x1D).WriteString(reason).Build()
}

// enterPlay makes a handshake with an unknown intent hand the connection to h.
func enterPlay(h state.Handler) func(cfg *config.Config, env *state.Env) {
	return func(cfg *config.Config, env *state.Env) {
		env.Special = state.SpecialFunc(func(ctx context.Context, env *state.Env, conn state.Conn, req state.HandshakeRequest) (state.Handler, []byte, error) {
			return h, nil, nil
		})
	}
}

const intentPlay = 9

func (c *testClient) readGreeting() string {
	c.t.Helper()
	id, r := c.read()
	require.Equal(c.t, int32(0x2B), id)
	greeting, err := r.ReadString(32)
	require.NoError(c.t, err)
	return greeting
}

func TestSession_SwitchTo(t *testing.T) {
	first := &playHandler{greeting: "first"}
	second := &playHandler{greeting: "second"}
	h, c := newHarness(t, enterPlay(first))
	s := h.session(t)

	// Outside play the request is dropped. Send is queued behind it, so its
	// arrival proves the switch was looked at.
	s.SwitchTo(second)
	s.Send(protocol.NewPacket(0x42).Build())
	id, _ := c.read()
	require.Equal(t, int32(0x42), id)
	assert.Equal(t, protocol.StateHandshake, s.State())
	assert.Equal(t, int32(0), second.switched.Load())

	c.send(handshake(protocol.Version1_21, intentPlay))
	assert.Equal(t, "first", c.readGreeting())
	assert.Equal(t, protocol.StatePlay, s.State())

	s.SwitchTo(second)
	assert.Equal(t, "second", c.readGreeting())
	assert.Equal(t, int32(1), first.switched.Load())
	assert.Equal(t, int32(1), second.switched.Load())

	s.Kick("Bye")
	id, r := c.read()
	require.Equal(t, int32(0x1D), id)
	reason, _ := r.ReadString(32767)
	assert.Equal(t, "Bye", reason)
	c.requireClosed()
	h.wait(t)
}

func TestSession_HandlerPanic(t *testing.T) {
	h, c := newHarness(t, enterPlay(&playHandler{greeting: "hi", panics: true}))

	c.send(handshake(protocol.Version1_21, intentPlay), protocol.NewPacket(0x05).Build())
	assert.Equal(t, "hi", c.readGreeting())

	id, r := c.read()
	require.Equal(t, int32(0x1D), id)
	reason, _ := r.ReadString(32767)
	assert.Equal(t, state.InternalErrorReason, reason)

	c.requireClosed()
	h.wait(t)
	assert.Equal(t, 0, h.listener.Registry().Count())
}

func TestSession_SendAndResize(t *testing.T) {
	h, c := newHarness(t, nil)
	s := h.session(t)

	s.ResizeBuffer(16)
	s.Send(protocol.NewPacket(0x42).WriteVarInt(7).Build())

	id, r := c.read()
	require.Equal(t, int32(0x42), id)
	n, err := r.ReadVarInt()
	require.NoError(t, err)
	assert.Equal(t, int32(7), n)

	// The limit applied before the send, so this frame is now oversize.
	c.send(protocol.NewPacket(0x00).WriteString("this payload is longer than sixteen bytes").Build())
	c.requireClosed()
	h.wait(t)
}

func TestSession_OutdatedClient(t *testing.T) {
	h, c := newHarness(t, nil)

	c.send(handshake(protocol.Version(47), state.IntentLogin))

	id, r := c.read()
	require.Equal(t, int32(0x00), id)
	reason, _ := r.ReadString(32767)
	assert.Contains(t, reason, "Outdated client")

	c.requireClosed()
	h.wait(t)
}

func TestSessionRegistry(t *testing.T) {
	env := state.NewEnv(state.Env{})
	reg := NewSessionRegistry()

	a, _ := net.Pipe()
	b, _ := net.Pipe()
	s2 := NewSession(2, a, env, nil, reg)
	s1 := NewSession(1, b, env, nil, reg)
	reg.Register(s2)
	reg.Register(s1)

	assert.Equal(t, 2, reg.Count())
	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, uint32(1), all[0].ID())

	got, ok := reg.Get(2)
	require.True(t, ok)
	assert.Same(t, s2, got)

	reg.Unregister(2)
	reg.Unregister(2)
	assert.Equal(t, 1, reg.Count())
	_, ok = reg.Get(2)
	assert.False(t, ok)
}
