package api

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/blockgate/internal/util"
)

// handleHost returns host information and a load sample taken on the disk
// holding the database.
func (s *Server) handleHost(c *gin.Context) {
	dataDir := filepath.Dir(s.cfg.Storage.DatabasePath)
	c.JSON(http.StatusOK, gin.H{
		"info": util.GetHostInfo(),
		"load": util.GetHostLoad(dataDir),
	})
}
