// Package players tracks the identities of logged-in players and the
// packets queued for them by code running outside their session.
package players

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/energizer-project/blockgate/internal/auth"
	"github.com/energizer-project/blockgate/internal/protocol"
)

// Kicker closes the connection a player is attached to.
type Kicker interface {
	Kick(reason string)
}

// RequestKind is an asynchronous control request honoured by the play state.
type RequestKind int

const (
	RequestReconfigure RequestKind = iota
	RequestTransfer
)

// Request is one pending control request.
type Request struct {
	Kind RequestKind
	Host string
	Port int
}

// ClientInfo is the client settings packet content.
type ClientInfo struct {
	Locale             string    `json:"locale"`
	ViewDistance       int       `json:"view_distance"`
	ChatMode           int       `json:"chat_mode"`
	ChatColors         bool      `json:"chat_colors"`
	SkinParts          SkinParts `json:"skin_parts"`
	MainHand           int       `json:"main_hand"`
	TextFiltering      bool      `json:"text_filtering"`
	AllowServerListing bool      `json:"allow_server_listing"`
}

// KnownPack identifies a data pack the client already has.
type KnownPack struct {
	Namespace string `json:"namespace"`
	ID        string `json:"id"`
	Version   string `json:"version"`
}

// Player is a logged-in identity. Queue and request methods are safe for
// concurrent use; they are drained by the owning session.
type Player struct {
	profile   auth.Profile
	sessionID uint32
	version   protocol.Version
	remote    string
	joinedAt  time.Time
	kicker    Kicker

	mu         sync.Mutex
	pending    [][]byte
	requests   []Request
	clientInfo ClientInfo
	brand      string
	knownPacks []KnownPack
	latency    time.Duration
	removed    bool
}

// Name returns the player name.
func (p *Player) Name() string { return p.profile.Name }

// UUID returns the player UUID.
func (p *Player) UUID() uuid.UUID { return p.profile.ID }

// Profile returns the resolved identity.
func (p *Player) Profile() auth.Profile { return p.profile }

// SessionID returns the id of the owning session.
func (p *Player) SessionID() uint32 { return p.sessionID }

// Version returns the client protocol version.
func (p *Player) Version() protocol.Version { return p.version }

// RemoteAddr returns the client address.
func (p *Player) RemoteAddr() string { return p.remote }

// JoinedAt returns the login time.
func (p *Player) JoinedAt() time.Time { return p.joinedAt }

func key(name string) string {
	return strings.ToLower(name)
}

// Enqueue queues an unframed packet for delivery on the next session tick.
func (p *Player) Enqueue(payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, payload)
}

// Drain removes and returns every queued packet in order.
func (p *Player) Drain() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pending
	p.pending = nil
	return out
}

// Pending returns the number of queued packets.
func (p *Player) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Kick disconnects the player with reason.
func (p *Player) Kick(reason string) {
	if p.kicker != nil {
		p.kicker.Kick(reason)
	}
}

// Reconfigure asks the session to move the player back to the
// configuration state.
func (p *Player) Reconfigure() {
	p.request(Request{Kind: RequestReconfigure})
}

// Transfer asks the client to reconnect to another server.
func (p *Player) Transfer(host string, port int) {
	p.request(Request{Kind: RequestTransfer, Host: host, Port: port})
}

func (p *Player) request(r Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, r)
}

// TakeRequests removes and returns pending control requests.
func (p *Player) TakeRequests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.requests
	p.requests = nil
	return out
}

// Requeue puts reqs back ahead of anything queued since they were taken.
func (p *Player) Requeue(reqs []Request) {
	if len(reqs) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(append([]Request(nil), reqs...), p.requests...)
}

// SetClientInfo stores the client settings.
func (p *Player) SetClientInfo(info ClientInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientInfo = info
}

// ClientInfo returns the last client settings received.
func (p *Player) ClientInfo() ClientInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientInfo
}

// SetBrand stores the client brand.
func (p *Player) SetBrand(brand string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.brand = brand
}

// Brand returns the client brand, e.g. "vanilla".
func (p *Player) Brand() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.brand
}

// SetKnownPacks stores the data packs the client reported.
func (p *Player) SetKnownPacks(packs []KnownPack) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.knownPacks = packs
}

// KnownPacks returns the data packs the client reported.
func (p *Player) KnownPacks() []KnownPack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]KnownPack(nil), p.knownPacks...)
}

// SetLatency records the last keep-alive round trip.
func (p *Player) SetLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency = d
}

// Latency returns the last keep-alive round trip.
func (p *Player) Latency() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latency
}
