// Package state implements the connection state machine: one Handler per
// protocol phase, each turning decoded packets and clock ticks into
// Responses.
package state

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/blockgate/internal/auth"
	"github.com/energizer-project/blockgate/internal/config"
	"github.com/energizer-project/blockgate/internal/db"
	"github.com/energizer-project/blockgate/internal/encryption"
	"github.com/energizer-project/blockgate/internal/events"
	"github.com/energizer-project/blockgate/internal/keepalive"
	"github.com/energizer-project/blockgate/internal/metrics"
	"github.com/energizer-project/blockgate/internal/players"
	"github.com/energizer-project/blockgate/internal/protocol"
)

// Handler processes the packets of one connection phase. Handlers are owned
// by a single session goroutine and are not safe for concurrent use.
type Handler interface {
	// State returns the phase this handler interprets packet ids in.
	State() protocol.State

	// HandlePacket processes one decoded packet.
	HandlePacket(ctx context.Context, id int32, body *protocol.Reader) (protocol.Response, error)

	// Tick is called at the session tick interval.
	Tick(ctx context.Context, now time.Time) (protocol.Response, error)

	// OnSwitch is called once when the handler is installed.
	OnSwitch(ctx context.Context) (protocol.Response, error)

	// Next returns the handler to install after the current event, or nil.
	Next() Handler

	// DisconnectPacket builds the phase's disconnect packet, or nil when the
	// phase has none.
	DisconnectPacket(reason string) []byte
}

// Conn is the session-side view a handler works against.
type Conn interface {
	ID() uint32
	RemoteAddr() string
	Logger() *zerolog.Logger

	ProtocolVersion() protocol.Version
	SetProtocolVersion(v protocol.Version)

	// StartEncryption enables the stream cipher in both directions. Bytes
	// already buffered but not yet parsed are decrypted in place.
	StartEncryption(secret []byte) error

	// SetCompression changes the threshold used for frames written after the
	// current Response item that carries the change.
	SetCompression(threshold int)
	Compression() int

	Player() *players.Player
	SetPlayer(p *players.Player)

	KeepAlive() *keepalive.Monitor

	// Kick disconnects the session from outside its goroutine.
	Kick(reason string)
}

// Access answers ban and allow list queries during login.
type Access interface {
	IsBanned(ctx context.Context, name string) (db.Ban, bool, error)
	IsAllowed(ctx context.Context, name string) (bool, error)
}

// NopAccess bans nobody and allows everybody.
type NopAccess struct{}

func (NopAccess) IsBanned(context.Context, string) (db.Ban, bool, error) { return db.Ban{}, false, nil }
func (NopAccess) IsAllowed(context.Context, string) (bool, error)        { return true, nil }

// World is the game layer behind the protocol engine.
type World interface {
	// Configure is called with the data packs the client reported. Packets
	// it queues on the player are sent before Finish Configuration.
	Configure(ctx context.Context, p *players.Player, packs []players.KnownPack) error

	// Join is called when the player enters the play state.
	Join(ctx context.Context, p *players.Player) error

	// HandlePlay receives play packets the engine does not interpret.
	HandlePlay(ctx context.Context, p *players.Player, name string, body *protocol.Reader) error
}

// NopWorld accepts every player and ignores gameplay packets.
type NopWorld struct{}

func (NopWorld) Configure(context.Context, *players.Player, []players.KnownPack) error { return nil }
func (NopWorld) Join(context.Context, *players.Player) error                           { return nil }
func (NopWorld) HandlePlay(context.Context, *players.Player, string, *protocol.Reader) error {
	return nil
}

// Env holds the collaborators shared by every session.
type Env struct {
	Config     *config.Config
	Keys       *encryption.KeyPair
	Registries *Registries
	Auth       auth.Authenticator
	Players    *players.Manager
	Access     Access
	Events     *events.EventBus
	Metrics    *metrics.Metrics
	World      World
	Special    SpecialHandshake
	Throttle   *Throttle
	Favicon    string
	Now        func() time.Time
}

// withDefaults fills unset optional collaborators.
func (e *Env) withDefaults() *Env {
	if e.Config == nil {
		e.Config = config.DefaultConfig()
	}
	if e.Registries == nil {
		e.Registries = MustRegistries()
	}
	if e.Players == nil {
		cfg := e.Config
		e.Players = players.NewManager(func() int { return cfg.GetServer().MaxPlayers }, e.Events)
	}
	if e.Access == nil {
		e.Access = NopAccess{}
	}
	if e.World == nil {
		e.World = NopWorld{}
	}
	if e.Special == nil {
		e.Special = DefaultSpecial{}
	}
	if e.Auth == nil {
		e.Auth = auth.Offline{}
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	return e
}

// NewEnv returns env with defaults applied for unset optional fields.
func NewEnv(env Env) *Env {
	return (&env).withDefaults()
}

func (e *Env) emit(t events.EventType, source string, payload interface{}) {
	if e.Events == nil {
		return
	}
	e.Events.Emit(context.Background(), events.New(t, source, payload))
}

// Initial returns the handler a new connection starts in.
func (e *Env) Initial(conn Conn) Handler {
	return NewHandshake(e, conn)
}
