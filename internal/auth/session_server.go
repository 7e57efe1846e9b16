package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/blockgate/internal/cache"
)

var (
	// ErrNotVerified means the session server has no record of the join.
	ErrNotVerified = errors.New("failed to verify username")

	// ErrUnavailable means the session server could not be reached.
	ErrUnavailable = errors.New("authentication servers are down")
)

// Authenticator confirms that a player joined with the given server hash.
type Authenticator interface {
	Authenticate(ctx context.Context, name, serverHash, ip string) (Profile, error)
}

// SessionServer queries a hasJoined endpoint.
type SessionServer struct {
	baseURL  string
	client   *http.Client
	sendIP   bool
	cache    cache.Cacher[Profile]
	cacheTTL time.Duration
	logger   zerolog.Logger
}

// SessionServerOption configures a SessionServer.
type SessionServerOption func(*SessionServer)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) SessionServerOption {
	return func(s *SessionServer) { s.client = c }
}

// WithPreventProxy sends the client address so the session server can reject
// joins from a different address.
func WithPreventProxy(enabled bool) SessionServerOption {
	return func(s *SessionServer) { s.sendIP = enabled }
}

// WithCache reuses verified profiles for ttl.
func WithCache(c cache.Cacher[Profile], ttl time.Duration) SessionServerOption {
	return func(s *SessionServer) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// NewSessionServer creates a SessionServer for the hasJoined URL.
func NewSessionServer(baseURL string, timeout time.Duration, opts ...SessionServerOption) *SessionServer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &SessionServer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  log.With().Str("component", "session_server").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authenticate implements Authenticator.
func (s *SessionServer) Authenticate(ctx context.Context, name, serverHash, ip string) (Profile, error) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return s.hasJoined(ctx, name, serverHash, ip)
	}
	key := strings.ToLower(name) + ":" + serverHash
	return s.cache.GetOrFetch(ctx, key, s.cacheTTL, func(ctx context.Context) (Profile, error) {
		return s.hasJoined(ctx, name, serverHash, ip)
	})
}

type hasJoinedResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Properties []Property `json:"properties"`
}

func (s *SessionServer) hasJoined(ctx context.Context, name, serverHash, ip string) (Profile, error) {
	q := url.Values{}
	q.Set("username", name)
	q.Set("serverId", serverHash)
	if s.sendIP && ip != "" {
		q.Set("ip", ip)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	s.logger.Debug().
		Str("player", name).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("hasJoined")

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return Profile{}, ErrNotVerified
	default:
		io.Copy(io.Discard, resp.Body)
		return Profile{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var body hasJoinedResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return Profile{}, fmt.Errorf("%w: invalid response: %v", ErrUnavailable, err)
	}

	id, err := uuid.Parse(body.ID)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: invalid profile id %q", ErrUnavailable, body.ID)
	}
	if !strings.EqualFold(body.Name, name) {
		return Profile{}, fmt.Errorf("%w: profile name %q does not match %q", ErrNotVerified, body.Name, name)
	}

	return Profile{ID: id, Name: body.Name, Properties: body.Properties}, nil
}

// Offline accepts every player with their offline identity.
type Offline struct{}

// Authenticate implements Authenticator.
func (Offline) Authenticate(ctx context.Context, name, serverHash, ip string) (Profile, error) {
	return OfflineProfile(name), nil
}
