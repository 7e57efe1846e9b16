package state

import (
	"context"
	"fmt"
	"strings"

	"github.com/energizer-project/blockgate/internal/protocol"
)

// SpecialHandshake handles the handshakes the core state machine does not:
// legacy probes and intents other than status and login. It returns the
// handler to continue with, raw bytes to write to the stream, or both. When
// neither is returned the connection is closed.
type SpecialHandshake interface {
	HandleSpecial(ctx context.Context, env *Env, conn Conn, req HandshakeRequest) (Handler, []byte, error)
}

// SpecialFunc adapts a function to SpecialHandshake.
type SpecialFunc func(ctx context.Context, env *Env, conn Conn, req HandshakeRequest) (Handler, []byte, error)

func (f SpecialFunc) HandleSpecial(ctx context.Context, env *Env, conn Conn, req HandshakeRequest) (Handler, []byte, error) {
	return f(ctx, env, conn, req)
}

// legacyProtocol is advertised in legacy replies. Legacy clients cannot join,
// so any number outside their range works.
const legacyProtocol = 127

// DefaultSpecial answers legacy server list probes and admits transfers when
// they are enabled.
type DefaultSpecial struct{}

func (DefaultSpecial) HandleSpecial(ctx context.Context, env *Env, conn Conn, req HandshakeRequest) (Handler, []byte, error) {
	switch {
	case req.Legacy:
		return nil, LegacyPingReply(env), nil
	case req.NextState == IntentTransfer:
		return transfer(env, conn, req)
	}
	log := conn.Logger()
	log.Debug().Int32("intent", req.NextState).Msg("unknown handshake intent")
	return nil, nil, nil
}

func transfer(env *Env, conn Conn, req HandshakeRequest) (Handler, []byte, error) {
	reason := ""
	if !env.Config.GetServer().AcceptTransfers {
		reason = "This server does not accept transfers"
	} else if msg, ok := env.checkVersion(req.Version); !ok {
		reason = msg
	}
	if reason == "" {
		return NewLogin(env, conn, true), nil, nil
	}

	framed, err := protocol.EncodeFrame(LoginDisconnect(reason), protocol.CompressionDisabled)
	if err != nil {
		return nil, nil, internalError(err)
	}
	return nil, framed, nil
}

// LegacyPingReply builds the kick packet pre-1.7 clients read as a server
// list entry.
func LegacyPingReply(env *Env) []byte {
	server := env.Config.GetServer()
	fields := []string{
		"§1",
		fmt.Sprint(legacyProtocol),
		server.PrimaryVersion().Name(),
		legacyMOTD(server.MOTD),
		fmt.Sprint(env.Players.Count()),
		fmt.Sprint(server.MaxPlayers),
	}
	return append([]byte{0xFF}, protocol.LegacyString(strings.Join(fields, "\x00"))...)
}

// legacyMOTD keeps the first line of motd without NUL characters, which
// separate the legacy reply fields.
func legacyMOTD(motd string) string {
	motd = strings.ReplaceAll(motd, "\x00", "")
	if i := strings.IndexByte(motd, '\n'); i >= 0 {
		motd = motd[:i]
	}
	return motd
}
