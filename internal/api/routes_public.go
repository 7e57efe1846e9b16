package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/blockgate/internal/health"
	"github.com/energizer-project/blockgate/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "blockgate",
		"version": Version,
	})
}

// handleStatus returns the server list document plus process counters.
func (s *Server) handleStatus(c *gin.Context) {
	server := s.cfg.GetServer()
	doc := s.env.BuildStatus(server.PrimaryVersion())

	sessions := 0
	if s.listener != nil {
		sessions = s.listener.Registry().Count()
	}

	c.JSON(http.StatusOK, gin.H{
		"server":      doc,
		"online_mode": server.OnlineMode,
		"whitelist":   server.Whitelist,
		"versions":    server.Versions(),
		"sessions":    sessions,
		"uptime_sec":  int64(util.Uptime().Seconds()),
		"api_version": Version,
	})
}

// handleHealth reports the dependency checks. It answers 503 when any check
// is down so load balancers can act on the status code alone.
func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": health.StatusUnknown, "checks": []health.Result{}})
		return
	}
	results, overall := s.health.Report()
	code := http.StatusOK
	if overall == health.StatusDown {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": overall, "checks": results})
}
