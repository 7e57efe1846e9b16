package state

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/energizer-project/blockgate/internal/protocol"
)

// StatusVersion is the version block of the server list document.
type StatusVersion struct {
	Name     string `json:"name"`
	Protocol int32  `json:"protocol"`
}

// StatusSample is one entry of the hover player list.
type StatusSample struct {
	Name string    `json:"name"`
	ID   uuid.UUID `json:"id"`
}

// StatusPlayers is the players block of the server list document.
type StatusPlayers struct {
	Max    int            `json:"max"`
	Online int            `json:"online"`
	Sample []StatusSample `json:"sample,omitempty"`
}

// StatusDocument is the JSON answer to a status request.
type StatusDocument struct {
	Version             StatusVersion          `json:"version"`
	Players             StatusPlayers          `json:"players"`
	Description         protocol.TextComponent `json:"description"`
	Favicon             string                 `json:"favicon,omitempty"`
	EnforcesSecureChat  bool                   `json:"enforcesSecureChat"`
	PreventsChatReports bool                   `json:"preventsChatReports,omitempty"`
}

// BuildStatus assembles the server list document shown to a client of
// version v. Clients of a version that may not log in are shown the
// primary version so they display as incompatible.
func (e *Env) BuildStatus(v protocol.Version) StatusDocument {
	server := e.Config.GetServer()
	if !server.AllowsVersion(v) {
		v = server.PrimaryVersion()
	}

	doc := StatusDocument{
		Version: StatusVersion{Name: v.Name(), Protocol: int32(v)},
		Players: StatusPlayers{
			Max:    server.MaxPlayers,
			Online: e.Players.Count(),
		},
		Description:         protocol.Text(server.MOTD),
		Favicon:             e.Favicon,
		EnforcesSecureChat:  server.EnforcesSecureChat,
		PreventsChatReports: server.PreventsChatReports,
	}
	for _, p := range e.Players.Sample(server.SampleSize) {
		doc.Players.Sample = append(doc.Players.Sample, StatusSample{Name: p.Name(), ID: p.UUID()})
	}
	return doc
}

// LoadFavicon reads a 64x64 PNG and returns it as a data URI.
func LoadFavicon(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read favicon %s: %w", path, err)
	}
	if len(data) < 8 || string(data[1:4]) != "PNG" {
		return "", fmt.Errorf("favicon %s is not a PNG image", path)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Status answers server list queries: one status request and one ping.
type Status struct {
	env       *Env
	conn      Conn
	requested bool
}

// NewStatus creates the status handler.
func NewStatus(env *Env, conn Conn) *Status {
	return &Status{env: env, conn: conn}
}

func (s *Status) State() protocol.State { return protocol.StateStatus }
func (s *Status) Next() Handler         { return nil }

// DisconnectPacket returns nil: the status state has no disconnect packet.
func (s *Status) DisconnectPacket(string) []byte { return nil }

func (s *Status) OnSwitch(context.Context) (protocol.Response, error) {
	return protocol.Empty(), nil
}

func (s *Status) Tick(context.Context, time.Time) (protocol.Response, error) {
	return protocol.Empty(), nil
}

func (s *Status) HandlePacket(ctx context.Context, id int32, body *protocol.Reader) (protocol.Response, error) {
	switch {
	case id == 0x00 && body.Remaining() == 0 && !s.requested:
		s.requested = true
		data, err := json.Marshal(s.env.BuildStatus(s.conn.ProtocolVersion()))
		if err != nil {
			return protocol.Response{}, internalError(err)
		}
		return protocol.AnswerPackets(protocol.NewPacket(0x00).WriteString(string(data)).Build()), nil

	case id == 0x01 && body.Remaining() == 8:
		payload, _ := body.ReadInt64()
		pong := protocol.NewPacket(0x01).WriteInt64(payload).Build()
		return protocol.DisconnectWith(protocol.Packet(pong)), nil
	}
	return protocol.Response{}, protocolError(fmt.Sprintf("Unexpected status packet 0x%02X", id), nil)
}
