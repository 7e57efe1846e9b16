package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/blockgate/internal/network"
	"github.com/energizer-project/blockgate/internal/players"
)

// DefaultKickReason is used when a kick request carries no reason.
const DefaultKickReason = "Kicked by an operator"

type kickRequest struct {
	Reason string `json:"reason"`
}

type transferRequest struct {
	Host string `json:"host" binding:"required"`
	Port int    `json:"port" binding:"required,min=1,max=65535"`
}

type sayRequest struct {
	Message string `json:"message" binding:"required,max=256"`
}

// playerView is the API representation of an online player.
type playerView struct {
	Name      string              `json:"name"`
	UUID      uuid.UUID           `json:"uuid"`
	SessionID uint32              `json:"session_id"`
	Protocol  int32               `json:"protocol"`
	Remote    string              `json:"remote"`
	Brand     string              `json:"brand,omitempty"`
	LatencyMS int64               `json:"latency_ms"`
	JoinedAt  time.Time           `json:"joined_at"`
	Client    players.ClientInfo  `json:"client"`
	Packs     []players.KnownPack `json:"known_packs,omitempty"`
}

func newPlayerView(p *players.Player) playerView {
	return playerView{
		Name:      p.Name(),
		UUID:      p.UUID(),
		SessionID: p.SessionID(),
		Protocol:  int32(p.Version()),
		Remote:    p.RemoteAddr(),
		Brand:     p.Brand(),
		LatencyMS: p.Latency().Milliseconds(),
		JoinedAt:  p.JoinedAt(),
		Client:    p.ClientInfo(),
		Packs:     p.KnownPacks(),
	}
}

// handleListSessions returns every open connection.
func (s *Server) handleListSessions(c *gin.Context) {
	infos := []network.SessionInfo{}
	if s.listener != nil {
		for _, sess := range s.listener.Registry().All() {
			infos = append(infos, sess.Info())
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": infos,
		"total":    len(infos),
	})
}

// handleKickSession disconnects one connection by id.
func (s *Server) handleKickSession(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	if s.listener == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	sess, ok := s.listener.Registry().Get(uint32(id))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "id": id})
		return
	}

	reason := kickReason(c)
	sess.Kick(reason)
	log.Info().Uint64("session_id", id).Str("reason", reason).Msg("API: session kicked")
	c.JSON(http.StatusOK, gin.H{"status": "kicked", "id": id})
}

// handleListPlayers returns the logged-in players sorted by name.
func (s *Server) handleListPlayers(c *gin.Context) {
	online := s.env.Players.Online()
	views := make([]playerView, 0, len(online))
	for _, p := range online {
		views = append(views, newPlayerView(p))
	}
	c.JSON(http.StatusOK, gin.H{
		"players": views,
		"online":  len(views),
		"max":     s.cfg.GetServer().MaxPlayers,
	})
}

// lookupPlayer resolves the :name parameter or answers 404.
func (s *Server) lookupPlayer(c *gin.Context) (*players.Player, bool) {
	name := c.Param("name")
	p, ok := s.env.Players.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not online", "name": name})
		return nil, false
	}
	return p, true
}

// handleKickPlayer disconnects an online player.
func (s *Server) handleKickPlayer(c *gin.Context) {
	p, ok := s.lookupPlayer(c)
	if !ok {
		return
	}
	reason := kickReason(c)
	p.Kick(reason)
	log.Info().Str("player", p.Name()).Str("reason", reason).Msg("API: player kicked")
	c.JSON(http.StatusOK, gin.H{"status": "kicked", "name": p.Name()})
}

// handleTransferPlayer sends an online player to another server.
func (s *Server) handleTransferPlayer(c *gin.Context) {
	p, ok := s.lookupPlayer(c)
	if !ok {
		return
	}
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p.Transfer(req.Host, req.Port)
	log.Info().Str("player", p.Name()).Str("host", req.Host).Int("port", req.Port).Msg("API: player transfer requested")
	c.JSON(http.StatusAccepted, gin.H{"status": "transfer requested", "name": p.Name()})
}

// handleReconfigurePlayer moves an online player back to configuration.
func (s *Server) handleReconfigurePlayer(c *gin.Context) {
	p, ok := s.lookupPlayer(c)
	if !ok {
		return
	}
	p.Reconfigure()
	c.JSON(http.StatusAccepted, gin.H{"status": "reconfiguration requested", "name": p.Name()})
}

// handleSay broadcasts a system chat line.
func (s *Server) handleSay(c *gin.Context) {
	var req sayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sent := 0
	if s.listener != nil {
		sent = s.listener.Say(req.Message)
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent", "recipients": sent})
}

// kickReason reads an optional JSON reason from the request body.
func kickReason(c *gin.Context) string {
	var req kickRequest
	if c.Request.ContentLength != 0 {
		_ = c.ShouldBindJSON(&req)
	}
	if req.Reason == "" {
		return DefaultKickReason
	}
	return req.Reason
}
