package players

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/blockgate/internal/auth"
	"github.com/energizer-project/blockgate/internal/events"
	"github.com/energizer-project/blockgate/internal/protocol"
)

// DuplicateLoginReason is sent to a player replaced by a newer login.
const DuplicateLoginReason = "You logged in from another location"

var (
	// ErrServerFull is returned by Add when the player cap is reached.
	ErrServerFull = errors.New("the server is full")
)

// Session describes where a player connects from.
type Session struct {
	ID      uint32
	Remote  string
	Version protocol.Version
	Kicker  Kicker
}

// Manager is the registry of online players, keyed by case-insensitive name.
type Manager struct {
	mu         sync.RWMutex
	byName     map[string]*Player
	maxPlayers func() int
	bus        *events.EventBus
}

// NewManager creates a Manager. maxPlayers is consulted on every Add so
// configuration changes apply immediately. bus may be nil.
func NewManager(maxPlayers func() int, bus *events.EventBus) *Manager {
	return &Manager{
		byName:     make(map[string]*Player),
		maxPlayers: maxPlayers,
		bus:        bus,
	}
}

// Add registers a player for a session. A player already online under the
// same name is kicked and replaced.
func (m *Manager) Add(profile auth.Profile, s Session) (*Player, error) {
	p := &Player{
		profile:   profile,
		sessionID: s.ID,
		version:   s.Version,
		remote:    s.Remote,
		joinedAt:  time.Now(),
		kicker:    s.Kicker,
	}

	m.mu.Lock()
	previous, duplicate := m.byName[key(profile.Name)]
	if !duplicate && m.maxPlayers != nil && len(m.byName) >= m.maxPlayers() {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (%d players)", ErrServerFull, len(m.byName))
	}
	if duplicate {
		previous.mu.Lock()
		previous.removed = true
		previous.mu.Unlock()
	}
	m.byName[key(profile.Name)] = p
	m.mu.Unlock()

	if duplicate {
		log.Info().
			Str("player", profile.Name).
			Uint32("old_session", previous.sessionID).
			Uint32("new_session", s.ID).
			Msg("duplicate login, kicking previous session")
		m.emit(events.EventPlayerLeave, previous, DuplicateLoginReason)
		previous.Kick(DuplicateLoginReason)
	}

	m.emit(events.EventPlayerJoin, p, "")
	return p, nil
}

// Remove unregisters p. It returns false when p was already removed or
// replaced, so the leave notification fires once per player.
func (m *Manager) Remove(p *Player, reason string) bool {
	if p == nil {
		return false
	}

	m.mu.Lock()
	p.mu.Lock()
	if p.removed {
		p.mu.Unlock()
		m.mu.Unlock()
		return false
	}
	p.removed = true
	p.mu.Unlock()
	if current, ok := m.byName[key(p.Name())]; ok && current == p {
		delete(m.byName, key(p.Name()))
	}
	m.mu.Unlock()

	m.emit(events.EventPlayerLeave, p, reason)
	return true
}

func (m *Manager) emit(t events.EventType, p *Player, reason string) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(context.Background(), events.New(t, fmt.Sprintf("session:%d", p.sessionID), events.PlayerPayload{
		SessionID: p.sessionID,
		Name:      p.Name(),
		UUID:      p.UUID(),
		Protocol:  int32(p.version),
		Reason:    reason,
	}))
}

// Get returns the online player with name.
func (m *Manager) Get(name string) (*Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byName[key(name)]
	return p, ok
}

// Count returns the number of online players.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byName)
}

// Online returns every online player sorted by name.
func (m *Manager) Online() []*Player {
	m.mu.RLock()
	out := make([]*Player, 0, len(m.byName))
	for _, p := range m.byName {
		out = append(out, p)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return key(out[i].Name()) < key(out[j].Name()) })
	return out
}

// Sample returns up to n online players for the server list, earliest
// joined first.
func (m *Manager) Sample(n int) []*Player {
	if n <= 0 {
		return nil
	}
	all := m.Online()
	sort.SliceStable(all, func(i, j int) bool { return all[i].joinedAt.Before(all[j].joinedAt) })
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// Broadcast queues payloadFor(p) for every online player. Players for whom
// payloadFor returns nil are skipped.
func (m *Manager) Broadcast(payloadFor func(p *Player) []byte) int {
	sent := 0
	for _, p := range m.Online() {
		if payload := payloadFor(p); payload != nil {
			p.Enqueue(payload)
			sent++
		}
	}
	return sent
}

// KickAll disconnects every online player.
func (m *Manager) KickAll(reason string) {
	for _, p := range m.Online() {
		p.Kick(reason)
	}
}
