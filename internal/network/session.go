// Package network accepts Minecraft client connections and runs one Session
// per connection on top of the state machine.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/blockgate/internal/encryption"
	"github.com/energizer-project/blockgate/internal/events"
	"github.com/energizer-project/blockgate/internal/keepalive"
	"github.com/energizer-project/blockgate/internal/metrics"
	"github.com/energizer-project/blockgate/internal/players"
	"github.com/energizer-project/blockgate/internal/protocol"
	"github.com/energizer-project/blockgate/internal/state"
	"github.com/energizer-project/blockgate/internal/util"
)

const (
	readBufferSize = 4096
	controlBuffer  = 16
	writeTimeout   = 10 * time.Second
	defaultTick    = 50 * time.Millisecond

	// ShutdownReason is shown to players when the server stops.
	ShutdownReason = "Server closed"
)

// Close causes reported in logs, events and metrics.
const (
	causeEOF       = "eof"
	causeTransport = "transport"
	causeClosed    = "closed"
	causeKicked    = "kicked"
	causeShutdown  = "shutdown"
)

// legacyHandler is implemented by handlers able to answer a pre-1.7 probe.
type legacyHandler interface {
	HandleLegacy(ctx context.Context, raw []byte) (protocol.Response, error)
}

// SessionInfo is a point-in-time view of a session for the admin surfaces.
type SessionInfo struct {
	ID          uint32    `json:"id"`
	Remote      string    `json:"remote"`
	State       string    `json:"state"`
	Protocol    int32     `json:"protocol"`
	Player      string    `json:"player,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Session owns one client connection. A single loop goroutine owns the frame
// buffer, cipher, compression threshold and state handler. A reader goroutine
// feeds it socket bytes; other goroutines post work to it through Kick, Send,
// ResizeBuffer and SwitchTo.
type Session struct {
	id          uint32
	conn        net.Conn
	env         *state.Env
	metrics     *metrics.Metrics
	registry    *SessionRegistry
	logger      zerolog.Logger
	connectedAt time.Time

	// Loop-owned.
	fb        *protocol.FrameBuffer
	cipher    *encryption.Cipher
	handler   state.Handler
	threshold int
	keepAlive *keepalive.Monitor
	legacyOK  bool

	// Readable from any goroutine.
	phase   atomic.Int32
	version atomic.Int32
	player  atomic.Pointer[players.Player]

	chunks  chan []byte
	readErr error
	control chan func(ctx context.Context) bool

	writeMu sync.Mutex
	closed  bool

	closeOnce sync.Once
	done      chan struct{}
	cause     string
}

// NewSession wraps conn. The session does nothing until Run is called.
func NewSession(id uint32, conn net.Conn, env *state.Env, m *metrics.Metrics, registry *SessionRegistry) *Session {
	remote := conn.RemoteAddr().String()
	netCfg := env.Config.GetNetwork()
	s := &Session{
		id:          id,
		conn:        conn,
		env:         env,
		metrics:     m,
		registry:    registry,
		logger:      util.SessionLogger(id, remote),
		connectedAt: env.Now(),
		fb:          protocol.NewFrameBuffer(netCfg.MaxFrameSize),
		cipher:      encryption.NewCipher(),
		threshold:   protocol.CompressionDisabled,
		keepAlive:   keepalive.New(netCfg.KeepAliveInterval(), netCfg.KeepAliveTimeout()),
		chunks:      make(chan []byte, 1),
		control:     make(chan func(ctx context.Context) bool, controlBuffer),
		done:        make(chan struct{}),
	}
	s.handler = env.Initial(s)
	s.phase.Store(int32(s.handler.State()))
	return s
}

// ID returns the session id.
func (s *Session) ID() uint32 { return s.id }

// RemoteAddr returns the client address.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// Logger returns the session logger.
func (s *Session) Logger() *zerolog.Logger { return &s.logger }

func (s *Session) ProtocolVersion() protocol.Version {
	return protocol.Version(s.version.Load())
}

func (s *Session) SetProtocolVersion(v protocol.Version) {
	s.version.Store(int32(v))
}

// StartEncryption activates AES/CFB8 with secret as key and IV. Bytes already
// buffered but not yet parsed are decrypted as well.
func (s *Session) StartEncryption(secret []byte) error {
	if err := s.cipher.Initialize(secret, secret); err != nil {
		return fmt.Errorf("failed to start encryption: %w", err)
	}
	s.fb.EnableDecryption(s.cipher.Decrypt)
	s.logger.Debug().Msg("encryption enabled")
	return nil
}

// SetCompression sets the threshold used for frames in both directions.
func (s *Session) SetCompression(threshold int) {
	s.threshold = threshold
}

// Compression returns the active threshold, or a negative value when
// compression is off.
func (s *Session) Compression() int { return s.threshold }

// Player returns the player bound to the session, if any.
func (s *Session) Player() *players.Player { return s.player.Load() }

// SetPlayer binds a logged-in player to the session.
func (s *Session) SetPlayer(p *players.Player) {
	s.player.Store(p)
	if p != nil {
		s.logger = s.logger.With().Str("player", p.Name()).Logger()
	}
}

// KeepAlive returns the session keep-alive monitor.
func (s *Session) KeepAlive() *keepalive.Monitor { return s.keepAlive }

// State returns the current protocol phase.
func (s *Session) State() protocol.State { return protocol.State(s.phase.Load()) }

// Done is closed once the session has shut its socket.
func (s *Session) Done() <-chan struct{} { return s.done }

// Info returns a snapshot for listings.
func (s *Session) Info() SessionInfo {
	info := SessionInfo{
		ID:          s.id,
		Remote:      s.RemoteAddr(),
		State:       s.State().String(),
		Protocol:    s.version.Load(),
		ConnectedAt: s.connectedAt,
	}
	if p := s.Player(); p != nil {
		info.Player = p.Name()
	}
	return info
}

// Kick sends reason in the current phase's disconnect packet and closes the
// session. It is safe to call from any goroutine, including the session's own.
func (s *Session) Kick(reason string) {
	s.post(func(context.Context) bool {
		if p := s.Player(); p != nil {
			s.emit(events.EventPlayerKick, events.PlayerPayload{
				SessionID: s.id,
				Name:      p.Name(),
				UUID:      p.UUID(),
				Protocol:  int32(p.Version()),
				Reason:    reason,
			})
		}
		s.logger.Info().Str("reason", reason).Msg("kicked")
		s.sendDisconnect(reason)
		s.close(causeKicked)
		return false
	})
}

// SwitchTo installs h as the session's handler and runs its OnSwitch. It is
// how a play-phase component hands the connection to a handler of its own,
// so the request is ignored unless the session is in play when the loop
// picks it up. Safe to call from any goroutine.
func (s *Session) SwitchTo(h state.Handler) {
	s.post(func(ctx context.Context) bool {
		if current := s.handler.State(); current != protocol.StatePlay {
			s.logger.Warn().
				Str("state", current.String()).
				Str("to", h.State().String()).
				Msg("handler switch refused outside play")
			return true
		}
		s.logger.Debug().
			Str("from", s.handler.State().String()).
			Str("to", h.State().String()).
			Msg("state switch")
		s.handler = h
		s.phase.Store(int32(h.State()))

		resp, err := s.dispatch(func() (protocol.Response, error) {
			return h.OnSwitch(ctx)
		})
		return s.apply(ctx, resp, err)
	})
}

// Send writes payload as one packet from the session loop, framed with the
// current compression and cipher state. Safe to call from any goroutine.
func (s *Session) Send(payload []byte) {
	s.post(func(context.Context) bool {
		if err := s.write([]protocol.Item{protocol.Packet(payload)}); err != nil {
			s.logger.Debug().Err(err).Msg("write failed")
			s.close(causeTransport)
			return false
		}
		return true
	})
}

// ResizeBuffer changes the largest frame the session accepts. Frames already
// buffered are checked against the new limit when they are parsed.
func (s *Session) ResizeBuffer(max int) {
	s.post(func(context.Context) bool {
		s.fb.Resize(max)
		return true
	})
}

// Close shuts the socket without a disconnect packet. Idempotent.
func (s *Session) Close() {
	s.close(causeClosed)
}

// post hands fn to the loop without blocking the caller.
func (s *Session) post(fn func(ctx context.Context) bool) {
	select {
	case s.control <- fn:
	case <-s.done:
	default:
		go func() {
			select {
			case s.control <- fn:
			case <-s.done:
			}
		}()
	}
}

// Run drives the session until the connection ends. It returns after the
// teardown has completed.
func (s *Session) Run(ctx context.Context) {
	s.metrics.SessionOpened()
	s.emit(events.EventSessionOpened, events.SessionPayload{
		SessionID: s.id,
		Remote:    s.RemoteAddr(),
	})
	s.logger.Debug().Msg("session opened")

	defer s.teardown()
	go s.readLoop()

	tick := s.env.Config.GetNetwork().TickInterval()
	if tick <= 0 {
		tick = defaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.sendDisconnect(ShutdownReason)
			s.close(causeShutdown)
			return
		case <-s.done:
			return
		case chunk, ok := <-s.chunks:
			if !ok {
				s.closeOnReadError()
				return
			}
			s.metrics.BytesReceived(len(chunk))
			s.fb.Append(chunk)
			if !s.process(ctx) {
				return
			}
		case now := <-ticker.C:
			resp, err := s.dispatch(func() (protocol.Response, error) {
				return s.handler.Tick(ctx, now)
			})
			if !s.apply(ctx, resp, err) {
				return
			}
		case fn := <-s.control:
			if !fn(ctx) {
				return
			}
		}
	}
}

// readLoop copies socket reads to the loop until the socket fails.
func (s *Session) readLoop() {
	defer close(s.chunks)
	readTimeout := s.env.Config.GetNetwork().ReadTimeout()
	buf := make([]byte, readBufferSize)
	for {
		// Play and configuration rely on keep-alive instead.
		switch s.State() {
		case protocol.StateConfiguration, protocol.StatePlay:
			s.conn.SetReadDeadline(time.Time{})
		default:
			if readTimeout > 0 {
				s.conn.SetReadDeadline(time.Now().Add(readTimeout))
			}
		}

		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.readErr = err
			return
		}
	}
}

func (s *Session) closeOnReadError() {
	err := s.readErr
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		s.close(causeEOF)
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			s.logger.Debug().Msg("read timed out")
		} else {
			s.logger.Debug().Err(err).Msg("read failed")
		}
		s.close(causeTransport)
	}
}

// process handles every complete frame in the buffer. It returns false once
// the session is closing.
func (s *Session) process(ctx context.Context) bool {
	for {
		if s.handler.State() == protocol.StateHandshake && !s.legacyOK {
			pending := s.fb.Peek()
			if len(pending) == 0 {
				return true
			}
			s.legacyOK = true
			if lh, ok := s.handler.(legacyHandler); ok && pending[0] == protocol.LegacyPingByte {
				raw := make([]byte, len(pending))
				copy(raw, pending)
				s.fb.Consume(len(raw))
				resp, err := s.dispatch(func() (protocol.Response, error) {
					return lh.HandleLegacy(ctx, raw)
				})
				return s.apply(ctx, resp, err)
			}
		}

		frame, err := s.fb.Next()
		if errors.Is(err, protocol.ErrIncomplete) {
			return true
		}
		if err != nil {
			return s.fail(framingError("Invalid frame", err))
		}
		payload, err := protocol.DecodeFrame(frame.Payload, s.threshold, s.fb.MaxFrameSize())
		if err != nil {
			return s.fail(framingError("Invalid compressed frame", err))
		}
		id, body, err := protocol.ReadPacketID(payload)
		if err != nil {
			return s.fail(framingError("Invalid packet id", err))
		}

		s.metrics.PacketReceived(s.handler.State().String())
		resp, err := s.dispatch(func() (protocol.Response, error) {
			return s.handler.HandlePacket(ctx, id, body)
		})
		if !s.apply(ctx, resp, err) {
			return false
		}
	}
}

// dispatch runs a handler call, converting a panic into an internal error.
func (s *Session) dispatch(fn func() (protocol.Response, error)) (resp protocol.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("state", s.handler.State().String()).Msg("handler panicked")
			resp = protocol.Response{}
			err = &state.DisconnectError{
				Reason: state.InternalErrorReason,
				Kind:   state.KindInternal,
				Err:    fmt.Errorf("panic: %v", r),
			}
		}
	}()
	return fn()
}

// apply writes resp and follows any handler switch. It returns false once the
// session is closing.
func (s *Session) apply(ctx context.Context, resp protocol.Response, err error) bool {
	if err != nil {
		return s.fail(err)
	}
	if resp.DisconnectNow() {
		s.close(causeClosed)
		return false
	}
	if err := s.write(resp.Items()); err != nil {
		s.logger.Debug().Err(err).Msg("write failed")
		s.close(causeTransport)
		return false
	}
	if resp.DisconnectAfterFlush() {
		s.close(causeClosed)
		return false
	}

	next := s.handler.Next()
	if next == nil {
		return true
	}
	s.logger.Debug().
		Str("from", s.handler.State().String()).
		Str("to", next.State().String()).
		Msg("state switch")
	s.handler = next
	s.phase.Store(int32(next.State()))

	resp, err = s.dispatch(func() (protocol.Response, error) {
		return next.OnSwitch(ctx)
	})
	return s.apply(ctx, resp, err)
}

// fail sends the phase disconnect packet for err, when the phase has one, and
// closes the session.
func (s *Session) fail(err error) bool {
	de := state.AsDisconnect(err)
	event := s.logger.Warn()
	if de.Kind == state.KindInternal {
		event = s.logger.Error()
	}
	event.Err(de.Err).
		Str("kind", de.Kind.String()).
		Str("reason", de.Reason).
		Str("state", s.handler.State().String()).
		Msg("disconnecting")

	s.sendDisconnect(de.Reason)
	s.close(de.Kind.String())
	return false
}

// sendDisconnect writes the current phase's disconnect packet, best effort.
func (s *Session) sendDisconnect(reason string) {
	packet := s.handler.DisconnectPacket(reason)
	if packet == nil {
		return
	}
	if err := s.write([]protocol.Item{protocol.Packet(packet)}); err != nil {
		s.logger.Debug().Err(err).Msg("failed to send disconnect")
	}
}

// write frames, compresses and encrypts items and writes them in one call.
func (s *Session) write(items []protocol.Item) error {
	if len(items) == 0 {
		return nil
	}

	var out []byte
	packets := 0
	for _, item := range items {
		if item.Raw {
			out = append(out, item.Payload...)
			continue
		}
		threshold := s.threshold
		if item.Override {
			threshold = item.Threshold
		}
		frame, err := protocol.EncodeFrame(item.Payload, threshold)
		if err != nil {
			return err
		}
		out = append(out, frame...)
		packets++
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return net.ErrClosed
	}

	s.cipher.Encrypt(out)
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	n, err := s.conn.Write(out)
	s.metrics.BytesSent(n)
	if err != nil {
		return fmt.Errorf("failed to write %d bytes: %w", len(out), err)
	}
	s.metrics.PacketsSent(packets)
	return nil
}

// close shuts the socket once. Later calls keep the first cause.
func (s *Session) close(cause string) {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.closed = true
		s.cause = cause
		s.conn.Close()
		s.writeMu.Unlock()
		close(s.done)
	})
}

// teardown releases everything the session registered. Run calls it exactly
// once, after the socket is closed.
func (s *Session) teardown() {
	s.close(causeClosed)

	s.writeMu.Lock()
	cause := s.cause
	s.writeMu.Unlock()

	if s.registry != nil {
		s.registry.Unregister(s.id)
	}
	if p := s.Player(); p != nil {
		s.env.Players.Remove(p, cause)
	}

	lifetime := s.env.Now().Sub(s.connectedAt)
	s.metrics.SessionClosed(cause, lifetime)
	s.emit(events.EventSessionClosed, events.SessionPayload{
		SessionID: s.id,
		Remote:    s.RemoteAddr(),
		State:     s.State().String(),
		Reason:    cause,
		Duration:  lifetime,
	})
	s.logger.Debug().Str("cause", cause).Dur("lifetime", lifetime).Msg("session closed")
}

func (s *Session) emit(t events.EventType, payload interface{}) {
	if s.env.Events == nil {
		return
	}
	s.env.Events.Emit(context.Background(), events.New(t, fmt.Sprintf("session:%d", s.id), payload))
}

func framingError(reason string, err error) *state.DisconnectError {
	return &state.DisconnectError{Reason: reason, Kind: state.KindFraming, Err: err}
}

// SessionRegistry tracks open sessions by id.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[uint32]*Session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[uint32]*Session),
	}
}

// Register adds a session.
func (r *SessionRegistry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

// Unregister removes a session. Unknown ids are ignored.
func (r *SessionRegistry) Unregister(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the session with id.
func (r *SessionRegistry) Get(id uint32) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// All returns every open session ordered by id.
func (r *SessionRegistry) All() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Count returns the number of open sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// KickAll kicks every open session with reason.
func (r *SessionRegistry) KickAll(reason string) {
	for _, s := range r.All() {
		s.Kick(reason)
	}
}
