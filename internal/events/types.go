// Package events defines the lifecycle events Blockgate publishes and the
// bus that carries them to telemetry, metrics and console subscribers.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Connection events
	EventSessionOpened EventType = "session_opened"
	EventSessionClosed EventType = "session_closed"

	// Player events
	EventPlayerJoin    EventType = "player_join"
	EventPlayerLeave   EventType = "player_leave"
	EventPlayerKick    EventType = "player_kick"
	EventPlayerChat    EventType = "player_chat"
	EventPlayerCommand EventType = "player_command"
	EventPluginMessage EventType = "plugin_message"

	// System events
	EventHealthChanged EventType = "health_changed"
	EventShutdown      EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Time    time.Time
	Payload interface{}
}

// New creates an Event stamped with the current time.
func New(t EventType, source string, payload interface{}) Event {
	return Event{Type: t, Source: source, Time: time.Now(), Payload: payload}
}

// SessionPayload describes a connection opening or closing.
type SessionPayload struct {
	SessionID uint32        `json:"session_id"`
	Remote    string        `json:"remote"`
	State     string        `json:"state,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// PlayerPayload identifies a player for join, leave and kick events.
type PlayerPayload struct {
	SessionID uint32    `json:"session_id"`
	Name      string    `json:"name"`
	UUID      uuid.UUID `json:"uuid"`
	Protocol  int32     `json:"protocol"`
	Reason    string    `json:"reason,omitempty"`
}

// ChatPayload carries a chat line or a command typed by a player.
type ChatPayload struct {
	SessionID uint32    `json:"session_id"`
	Name      string    `json:"name"`
	UUID      uuid.UUID `json:"uuid"`
	Message   string    `json:"message"`
}

// PluginMessagePayload carries a custom payload packet from a client.
type PluginMessagePayload struct {
	SessionID uint32 `json:"session_id"`
	Name      string `json:"name"`
	Channel   string `json:"channel"`
	Data      []byte `json:"data"`
}

// HealthPayload reports a dependency check changing status.
type HealthPayload struct {
	Check    string `json:"check"`
	Status   string `json:"status"`
	Previous string `json:"previous,omitempty"`
	Message  string `json:"message,omitempty"`
}
