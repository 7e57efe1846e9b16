package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/blockgate/internal/events"
	"github.com/energizer-project/blockgate/internal/metrics"
	"github.com/energizer-project/blockgate/internal/protocol"
	"github.com/energizer-project/blockgate/internal/state"
)

// Listener accepts client connections on the game port and runs a Session
// for each of them.
type Listener struct {
	env      *state.Env
	metrics  *metrics.Metrics
	registry *SessionRegistry

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}

	nextID atomic.Uint32
	wg     sync.WaitGroup
}

// NewListener creates a Listener. m may be nil.
func NewListener(env *state.Env, m *metrics.Metrics) *Listener {
	l := &Listener{
		env:      env,
		metrics:  m,
		registry: NewSessionRegistry(),
		ready:    make(chan struct{}),
	}
	if env.Events != nil {
		update := func(ctx context.Context, e events.Event) error {
			l.metrics.SetPlayersOnline(env.Players.Count())
			return nil
		}
		env.Events.SubscribeAll([]events.EventType{events.EventPlayerJoin, events.EventPlayerLeave}, "player_gauge", update)
	}
	return l
}

// Registry returns the open sessions.
func (l *Listener) Registry() *SessionRegistry {
	return l.registry
}

// Start binds the configured address and accepts connections until ctx is
// cancelled.
func (l *Listener) Start(ctx context.Context) error {
	srv := l.env.Config.GetServer()
	addr := net.JoinHostPort(srv.BindAddress, fmt.Sprint(srv.Port))

	// SO_REUSEADDR allows immediate rebinding after a restart.
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start game listener on %s: %w", addr, err)
	}
	return l.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled or ln fails.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	l.mu.Lock()
	l.listener = ln
	close(l.ready)
	l.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("game listener started")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("game listener stopping")
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error().Err(err).Msg("failed to accept connection")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn runs a session on conn and returns when it has closed.
func (l *Listener) ServeConn(ctx context.Context, conn net.Conn) *Session {
	s := NewSession(l.nextID.Add(1), conn, l.env, l.metrics, l.registry)
	l.registry.Register(s)
	s.Run(ctx)
	return s
}

// Say queues a system chat line for every player in the play state and
// returns how many received it.
func (l *Listener) Say(text string) int {
	sent := 0
	for _, s := range l.registry.All() {
		p := s.Player()
		if p == nil || s.State() != protocol.StatePlay {
			continue
		}
		packet, err := l.env.Registries.SystemChat(p.Version(), text, false)
		if err != nil {
			log.Warn().Err(err).Str("player", p.Name()).Msg("failed to build chat packet")
			continue
		}
		p.Enqueue(packet)
		sent++
	}
	return sent
}

// Addr returns the bound address once Serve has started.
func (l *Listener) Addr() net.Addr {
	<-l.ready
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listener.Addr()
}

// Shutdown kicks every session and waits for them to finish or ctx to end.
// The accept loop must already have been stopped through its context.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.registry.KickAll(ShutdownReason)

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all sessions closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sessions still open: %d: %w", l.registry.Count(), ctx.Err())
	}
}
