package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/blockgate/internal/config"
	"github.com/energizer-project/blockgate/internal/db"
	"github.com/energizer-project/blockgate/internal/health"
	"github.com/energizer-project/blockgate/internal/metrics"
	"github.com/energizer-project/blockgate/internal/network"
	"github.com/energizer-project/blockgate/internal/state"
	"github.com/energizer-project/blockgate/internal/util"
)

// Version is reported by the ping endpoint and the CLI.
var Version = "dev"

// Dependencies are the runtime components the API exposes.
type Dependencies struct {
	Env      *state.Env
	Listener *network.Listener
	Access   *db.AccessDatabase
	Metrics  *metrics.Metrics
	Health   *health.Manager
}

// Server is the admin REST API.
type Server struct {
	cfg      *config.Config
	env      *state.Env
	listener *network.Listener
	access   *db.AccessDatabase
	metrics  *metrics.Metrics
	health   *health.Manager

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the API server and its router.
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		env:      deps.Env,
		listener: deps.Listener,
		access:   deps.Access,
		metrics:  deps.Metrics,
		health:   deps.Health,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetAPI()
	addr := net.JoinHostPort(apiCfg.BindAddress, fmt.Sprint(apiCfg.Port))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if apiCfg.TLSEnabled {
		cert, err := util.LoadOrGenerateCert(apiCfg.CertFile, apiCfg.KeyFile)
		if err != nil {
			return fmt.Errorf("API server error: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
			CipherSuites: []uint16{
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			},
		}
	}

	lc := network.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	if s.httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, s.httpServer.TLSConfig)
	}

	log.Info().Str("addr", addr).Bool("tls", apiCfg.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.GetAPI()
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(apiCfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/status", s.handleStatus)
		public.GET("/health", s.handleHealth)
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(s.cfg))
	{
		protected.GET("/sessions", s.handleListSessions)
		protected.POST("/sessions/:id/kick", s.handleKickSession)

		protected.GET("/players", s.handleListPlayers)
		protected.POST("/players/:name/kick", s.handleKickPlayer)
		protected.POST("/players/:name/transfer", s.handleTransferPlayer)
		protected.POST("/players/:name/reconfigure", s.handleReconfigurePlayer)
		protected.POST("/say", s.handleSay)

		protected.GET("/bans", s.handleListBans)
		protected.POST("/bans", s.handleBan)
		protected.DELETE("/bans/:name", s.handlePardon)

		protected.GET("/whitelist", s.handleListAllowed)
		protected.POST("/whitelist", s.handleAllow)
		protected.DELETE("/whitelist/:name", s.handleDisallow)

		protected.GET("/host", s.handleHost)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
