package state

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/energizer-project/blockgate/internal/auth"
	"github.com/energizer-project/blockgate/internal/db"
	"github.com/energizer-project/blockgate/internal/events"
	"github.com/energizer-project/blockgate/internal/players"
	"github.com/energizer-project/blockgate/internal/protocol"
	"github.com/energizer-project/blockgate/internal/registry"
)

// Disconnect reasons shown during login.
const (
	ReasonInvalidName      = "Invalid username"
	ReasonThrottled        = "Connection throttled! Please wait before reconnecting."
	ReasonLoginTimeout     = "Took too long to log in"
	ReasonNotVerified      = "Failed to verify username!"
	ReasonAuthUnavailable  = "Authentication servers are down. Please try again later, sorry!"
	ReasonNotAllowed       = "You are not white-listed on this server!"
	ReasonServerFull       = "The server is full!"
	ReasonBadVerifyToken   = "Invalid verify token"
	ReasonEncryptionFailed = "Failed to decrypt shared secret"
)

type loginStage int

const (
	awaitHello loginStage = iota
	awaitKey
	awaitAck
)

const (
	verifyTokenLen  = 4
	sharedSecretLen = 16
)

// Login authenticates a player and allocates its identity.
type Login struct {
	env         *Env
	conn        Conn
	stage       loginStage
	transferred bool
	startedAt   time.Time

	name        string
	verifyToken []byte
	player      *players.Player
	next        Handler
}

// NewLogin creates the login handler. transferred marks a connection that
// arrived through a transfer intent.
func NewLogin(env *Env, conn Conn, transferred bool) *Login {
	return &Login{env: env, conn: conn, transferred: transferred, startedAt: env.Now()}
}

func (l *Login) State() protocol.State { return protocol.StateLogin }
func (l *Login) Next() Handler         { return l.next }

func (l *Login) DisconnectPacket(reason string) []byte {
	return LoginDisconnect(reason)
}

func (l *Login) OnSwitch(context.Context) (protocol.Response, error) {
	return protocol.Empty(), nil
}

func (l *Login) Tick(ctx context.Context, now time.Time) (protocol.Response, error) {
	timeout := l.env.Config.GetNetwork().LoginTimeout()
	if timeout > 0 && now.Sub(l.startedAt) > timeout {
		return protocol.Response{}, protocolError(ReasonLoginTimeout, nil)
	}
	return protocol.Empty(), nil
}

func (l *Login) HandlePacket(ctx context.Context, id int32, body *protocol.Reader) (protocol.Response, error) {
	resp, err := l.env.Registries.Login.Dispatch(ctx, l.conn.ProtocolVersion(), protocol.StateLogin, id, l, body)
	if errors.Is(err, registry.ErrUnknownPacket) || errors.Is(err, registry.ErrUnknownProtocol) {
		return protocol.Response{}, protocolError(fmt.Sprintf("Unexpected login packet 0x%02X", id), err)
	}
	return resp, err
}

func (l *Login) expect(stage loginStage, packet string) error {
	if l.stage != stage {
		return protocolError(fmt.Sprintf("Unexpected %s", packet), nil)
	}
	return nil
}

func (l *Login) hello(ctx context.Context, body *protocol.Reader) (protocol.Response, error) {
	if err := l.expect(awaitHello, "login start"); err != nil {
		return protocol.Response{}, err
	}
	name, err := body.ReadString(16)
	if err != nil {
		return protocol.Response{}, protocolError("Malformed login start", err)
	}
	if _, err := body.ReadUUID(); err != nil {
		return protocol.Response{}, protocolError("Malformed login start", err)
	}
	if !auth.ValidName(name) {
		return protocol.Response{}, disconnect(KindIdentity, ReasonInvalidName, nil)
	}
	if !l.env.Throttle.Allow(l.conn.RemoteAddr()) {
		return protocol.Response{}, protocolError(ReasonThrottled, nil)
	}
	l.name = name

	log := l.conn.Logger()
	log.Debug().Str("player", name).Bool("transfer", l.transferred).Msg("login start")

	online := l.env.Config.GetServer().OnlineMode
	if l.env.Keys == nil {
		if online {
			return protocol.Response{}, internalError(errors.New("online mode requires a key pair"))
		}
		return l.admit(ctx, auth.OfflineProfile(name))
	}

	l.verifyToken = make([]byte, verifyTokenLen)
	if _, err := rand.Read(l.verifyToken); err != nil {
		return protocol.Response{}, internalError(err)
	}
	req, err := l.env.Registries.encryptionRequest(l.conn.ProtocolVersion(), l.env.Keys.PublicKeyDER(), l.verifyToken, online)
	if err != nil {
		return protocol.Response{}, internalError(err)
	}
	l.stage = awaitKey
	return protocol.AnswerPackets(req), nil
}

func (l *Login) key(ctx context.Context, body *protocol.Reader) (protocol.Response, error) {
	if err := l.expect(awaitKey, "encryption response"); err != nil {
		return protocol.Response{}, err
	}
	encSecret, err := body.ReadByteArray(512)
	if err != nil {
		return protocol.Response{}, protocolError("Malformed encryption response", err)
	}
	encToken, err := body.ReadByteArray(512)
	if err != nil {
		return protocol.Response{}, protocolError("Malformed encryption response", err)
	}

	token, err := l.env.Keys.Decrypt(encToken)
	if err != nil {
		return protocol.Response{}, disconnect(KindCrypto, ReasonBadVerifyToken, err)
	}
	if subtle.ConstantTimeCompare(token, l.verifyToken) != 1 {
		return protocol.Response{}, disconnect(KindCrypto, ReasonBadVerifyToken, nil)
	}
	secret, err := l.env.Keys.Decrypt(encSecret)
	if err != nil {
		return protocol.Response{}, disconnect(KindCrypto, ReasonEncryptionFailed, err)
	}
	if len(secret) != sharedSecretLen {
		return protocol.Response{}, disconnect(KindCrypto, ReasonEncryptionFailed,
			fmt.Errorf("shared secret is %d bytes", len(secret)))
	}
	if err := l.conn.StartEncryption(secret); err != nil {
		return protocol.Response{}, disconnect(KindCrypto, ReasonEncryptionFailed, err)
	}

	if !l.env.Config.GetServer().OnlineMode {
		return l.admit(ctx, auth.OfflineProfile(l.name))
	}

	hash := auth.ServerHash("", secret, l.env.Keys.PublicKeyDER())
	ip := ""
	if l.env.Config.GetAuth().PreventProxyConnections {
		ip = hostOf(l.conn.RemoteAddr())
	}
	profile, err := l.env.Auth.Authenticate(ctx, l.name, hash, ip)
	switch {
	case errors.Is(err, auth.ErrNotVerified):
		return protocol.Response{}, disconnect(KindIdentity, ReasonNotVerified, err)
	case err != nil:
		return protocol.Response{}, disconnect(KindIdentity, ReasonAuthUnavailable, err)
	}
	return l.admit(ctx, profile)
}

// BanMessage is the disconnect text shown to a banned player.
func BanMessage(ban db.Ban) string {
	reason := "You are banned from this server."
	if ban.Reason != "" {
		reason += "\nReason: " + ban.Reason
	}
	return reason
}

// admit runs the access checks, allocates the player and answers with the
// optional Set Compression and Login Success.
func (l *Login) admit(ctx context.Context, profile auth.Profile) (protocol.Response, error) {
	ban, banned, err := l.env.Access.IsBanned(ctx, profile.Name)
	if err != nil {
		return protocol.Response{}, internalError(err)
	}
	if banned {
		return protocol.Response{}, disconnect(KindIdentity, BanMessage(ban), nil)
	}
	if l.env.Config.GetServer().Whitelist {
		allowed, err := l.env.Access.IsAllowed(ctx, profile.Name)
		if err != nil {
			return protocol.Response{}, internalError(err)
		}
		if !allowed {
			return protocol.Response{}, disconnect(KindIdentity, ReasonNotAllowed, nil)
		}
	}

	v := l.conn.ProtocolVersion()
	p, err := l.env.Players.Add(profile, players.Session{
		ID:      l.conn.ID(),
		Remote:  l.conn.RemoteAddr(),
		Version: v,
		Kicker:  l.conn,
	})
	if errors.Is(err, players.ErrServerFull) {
		return protocol.Response{}, disconnect(KindIdentity, ReasonServerFull, err)
	}
	if err != nil {
		return protocol.Response{}, internalError(err)
	}
	l.player = p
	l.conn.SetPlayer(p)

	var resp protocol.Response
	if threshold := l.env.Config.GetNetwork().CompressionThreshold; threshold >= 0 {
		packet, err := l.env.Registries.setCompression(v, threshold)
		if err != nil {
			return protocol.Response{}, internalError(err)
		}
		// The client enables compression after reading this packet, so it
		// is the last uncompressed frame.
		resp.AddItems(protocol.PacketWithThreshold(packet, protocol.CompressionDisabled))
		l.conn.SetCompression(threshold)
	}
	success, err := l.env.Registries.loginSuccess(v, profile)
	if err != nil {
		return protocol.Response{}, internalError(err)
	}
	resp.AddItems(protocol.Packet(success))
	l.stage = awaitAck
	l.env.Metrics.LoginCompleted(v.Name())

	log := l.conn.Logger()
	log.Info().
		Str("player", profile.Name).
		Str("uuid", profile.ID.String()).
		Int32("protocol", int32(v)).
		Msg("player logged in")
	return resp, nil
}

func (l *Login) acknowledged(ctx context.Context, body *protocol.Reader) (protocol.Response, error) {
	if err := l.expect(awaitAck, "login acknowledgement"); err != nil {
		return protocol.Response{}, err
	}
	l.next = NewConfiguration(l.env, l.conn, l.player)
	return protocol.Empty(), nil
}

func hostOf(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}

// playerSource names a player's session in event sources.
func playerSource(p *players.Player) string {
	return fmt.Sprintf("session:%d", p.SessionID())
}

func chatPayload(p *players.Player, message string) events.ChatPayload {
	return events.ChatPayload{SessionID: p.SessionID(), Name: p.Name(), UUID: p.UUID(), Message: message}
}
