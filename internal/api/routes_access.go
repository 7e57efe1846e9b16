package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/blockgate/internal/auth"
	"github.com/energizer-project/blockgate/internal/db"
	"github.com/energizer-project/blockgate/internal/state"
)

type banRequest struct {
	Name        string `json:"name" binding:"required"`
	Reason      string `json:"reason"`
	DurationSec int64  `json:"duration_sec" binding:"min=0"`
}

type allowRequest struct {
	Name string `json:"name" binding:"required"`
}

// requireAccess answers 503 when no access database is configured.
func (s *Server) requireAccess(c *gin.Context) bool {
	if s.access == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "access database not available"})
		return false
	}
	return true
}

func validName(c *gin.Context, name string) bool {
	if !auth.ValidName(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid player name", "name": name})
		return false
	}
	return true
}

// handleListBans returns active bans.
func (s *Server) handleListBans(c *gin.Context) {
	if !s.requireAccess(c) {
		return
	}
	bans, err := s.access.ListBans(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("API: failed to list bans")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list bans"})
		return
	}
	if bans == nil {
		bans = []db.Ban{}
	}
	c.JSON(http.StatusOK, gin.H{"bans": bans, "total": len(bans)})
}

// handleBan bans a name and kicks the player when online.
func (s *Server) handleBan(c *gin.Context) {
	if !s.requireAccess(c) {
		return
	}
	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validName(c, req.Name) {
		return
	}

	var expires *time.Time
	if req.DurationSec > 0 {
		at := time.Now().Add(time.Duration(req.DurationSec) * time.Second).UTC()
		expires = &at
	}
	if err := s.access.Ban(c.Request.Context(), req.Name, req.Reason, "api", expires); err != nil {
		log.Error().Err(err).Str("name", req.Name).Msg("API: failed to ban")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ban"})
		return
	}

	if p, ok := s.env.Players.Get(req.Name); ok {
		p.Kick(state.BanMessage(db.Ban{Name: req.Name, Reason: req.Reason}))
	}
	log.Info().Str("name", req.Name).Str("reason", req.Reason).Msg("API: player banned")
	c.JSON(http.StatusCreated, gin.H{"status": "banned", "name": req.Name})
}

// handlePardon lifts a ban.
func (s *Server) handlePardon(c *gin.Context) {
	if !s.requireAccess(c) {
		return
	}
	name := c.Param("name")
	err := s.access.Pardon(c.Request.Context(), name)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not banned", "name": name})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("API: failed to pardon")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to pardon"})
		return
	}
	log.Info().Str("name", name).Msg("API: player pardoned")
	c.JSON(http.StatusOK, gin.H{"status": "pardoned", "name": name})
}

// handleListAllowed returns the allow list.
func (s *Server) handleListAllowed(c *gin.Context) {
	if !s.requireAccess(c) {
		return
	}
	entries, err := s.access.ListAllowed(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("API: failed to list allow list")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list allow list"})
		return
	}
	if entries == nil {
		entries = []db.AllowEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled": s.cfg.GetServer().Whitelist,
		"entries": entries,
		"total":   len(entries),
	})
}

// handleAllow adds a name to the allow list.
func (s *Server) handleAllow(c *gin.Context) {
	if !s.requireAccess(c) {
		return
	}
	var req allowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validName(c, req.Name) {
		return
	}
	if err := s.access.AllowAdd(c.Request.Context(), req.Name); err != nil {
		log.Error().Err(err).Str("name", req.Name).Msg("API: failed to allow")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update allow list"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "allowed", "name": req.Name})
}

// handleDisallow removes a name from the allow list.
func (s *Server) handleDisallow(c *gin.Context) {
	if !s.requireAccess(c) {
		return
	}
	name := c.Param("name")
	err := s.access.AllowRemove(c.Request.Context(), name)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not on allow list", "name": name})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("API: failed to disallow")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update allow list"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed", "name": name})
}
