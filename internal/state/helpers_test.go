package state

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/blockgate/internal/auth"
	"github.com/energizer-project/blockgate/internal/config"
	"github.com/energizer-project/blockgate/internal/db"
	"github.com/energizer-project/blockgate/internal/keepalive"
	"github.com/energizer-project/blockgate/internal/players"
	"github.com/energizer-project/blockgate/internal/protocol"
)

type fakeConn struct {
	id        uint32
	remote    string
	logger    zerolog.Logger
	version   protocol.Version
	secret    []byte
	threshold int
	player    *players.Player
	ka        *keepalive.Monitor

	mu     sync.Mutex
	kicked []string
}

func newFakeConn() *fakeConn {
	ka := keepalive.New(15*time.Second, 30*time.Second)
	ka.SetRandom(bytes.NewReader(bytes.Repeat([]byte{0, 0, 0, 0, 0, 0, 0, 7}, 16)))
	return &fakeConn{
		id:        1,
		remote:    "203.0.113.9:50000",
		logger:    zerolog.Nop(),
		threshold: protocol.CompressionDisabled,
		ka:        ka,
	}
}

func (c *fakeConn) ID() uint32                            { return c.id }
func (c *fakeConn) RemoteAddr() string                    { return c.remote }
func (c *fakeConn) Logger() *zerolog.Logger               { return &c.logger }
func (c *fakeConn) ProtocolVersion() protocol.Version     { return c.version }
func (c *fakeConn) SetProtocolVersion(v protocol.Version) { c.version = v }
func (c *fakeConn) SetCompression(threshold int)          { c.threshold = threshold }
func (c *fakeConn) Compression() int                      { return c.threshold }
func (c *fakeConn) Player() *players.Player               { return c.player }
func (c *fakeConn) SetPlayer(p *players.Player)           { c.player = p }
func (c *fakeConn) KeepAlive() *keepalive.Monitor         { return c.ka }

func (c *fakeConn) StartEncryption(secret []byte) error {
	c.secret = append([]byte(nil), secret...)
	return nil
}

func (c *fakeConn) Kick(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kicked = append(c.kicked, reason)
}

type fakeAccess struct {
	bans    map[string]string
	allowed map[string]bool
}

func (a fakeAccess) IsBanned(ctx context.Context, name string) (db.Ban, bool, error) {
	reason, ok := a.bans[name]
	return db.Ban{Name: name, Reason: reason}, ok, nil
}

func (a fakeAccess) IsAllowed(ctx context.Context, name string) (bool, error) {
	return a.allowed[name], nil
}

type fakeAuth struct {
	profile auth.Profile
	err     error
	gotName string
	gotHash string
}

func (a *fakeAuth) Authenticate(ctx context.Context, name, serverHash, ip string) (auth.Profile, error) {
	a.gotName = name
	a.gotHash = serverHash
	return a.profile, a.err
}

type fakeWorld struct {
	configured [][]players.KnownPack
	joined     int
	play       []string
	onConfig   func(p *players.Player)
}

func (w *fakeWorld) Configure(ctx context.Context, p *players.Player, packs []players.KnownPack) error {
	w.configured = append(w.configured, packs)
	if w.onConfig != nil {
		w.onConfig(p)
	}
	return nil
}

func (w *fakeWorld) Join(ctx context.Context, p *players.Player) error {
	w.joined++
	return nil
}

func (w *fakeWorld) HandlePlay(ctx context.Context, p *players.Player, name string, body *protocol.Reader) error {
	w.play = append(w.play, name)
	return nil
}

// newTestEnv returns an offline environment without a key pair.
func newTestEnv(t *testing.T, mutate func(cfg *config.Config, env *Env)) *Env {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.OnlineMode = false
	env := Env{Config: cfg, Throttle: NewThrottle(0)}
	if mutate != nil {
		mutate(cfg, &env)
	}
	return NewEnv(env)
}

func body(b *protocol.PacketBuilder) *protocol.Reader {
	return protocol.NewReader(b.Build())
}

func packetID(t *testing.T, item protocol.Item) (int32, *protocol.Reader) {
	t.Helper()
	id, r, err := protocol.ReadPacketID(item.Payload)
	require.NoError(t, err)
	return id, r
}

func requireKind(t *testing.T, err error, kind Kind) *DisconnectError {
	t.Helper()
	require.Error(t, err)
	de := AsDisconnect(err)
	require.Equal(t, kind, de.Kind, "error: %v", err)
	return de
}

// admitPlayer registers a player on conn as login would.
func admitPlayer(t *testing.T, env *Env, conn *fakeConn, name string) *players.Player {
	t.Helper()
	p, err := env.Players.Add(auth.OfflineProfile(name), players.Session{
		ID:      conn.ID(),
		Remote:  conn.RemoteAddr(),
		Version: conn.ProtocolVersion(),
		Kicker:  conn,
	})
	require.NoError(t, err)
	conn.SetPlayer(p)
	return p
}
