// Blockgate - Minecraft Java Edition connection engine.
//
// Blockgate accepts client connections, answers server list pings, runs the
// encrypted login and configuration exchanges, and keeps players alive in
// the play state. It exposes a REST API for operators, Prometheus metrics,
// and publishes lifecycle events via MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/energizer-project/blockgate/internal/api"
	"github.com/energizer-project/blockgate/internal/auth"
	"github.com/energizer-project/blockgate/internal/cache"
	"github.com/energizer-project/blockgate/internal/cli"
	"github.com/energizer-project/blockgate/internal/config"
	"github.com/energizer-project/blockgate/internal/db"
	"github.com/energizer-project/blockgate/internal/encryption"
	"github.com/energizer-project/blockgate/internal/events"
	"github.com/energizer-project/blockgate/internal/health"
	"github.com/energizer-project/blockgate/internal/metrics"
	"github.com/energizer-project/blockgate/internal/network"
	"github.com/energizer-project/blockgate/internal/protocol"
	"github.com/energizer-project/blockgate/internal/scheduler"
	"github.com/energizer-project/blockgate/internal/state"
	"github.com/energizer-project/blockgate/internal/telemetry"
	"github.com/energizer-project/blockgate/internal/util"
)

const (
	AppName = "Blockgate"
	Banner  = `
  ____  _            _               _
 | __ )| | ___   ___| | ____ _  __ _| |_ ___
 |  _ \| |/ _ \ / __| |/ / _' |/ _' | __/ _ \
 | |_) | | (_) | (__|   < (_| | (_| | ||  __/
 |____/|_|\___/ \___|_|\_\__, |\__,_|\__\___|
                         |___/  v%s
 Minecraft Java connection engine
`
	shutdownTimeout = 30 * time.Second
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	var (
		configPath  string
		interactive bool
	)

	rootCmd := &cobra.Command{
		Use:   "blockgate",
		Short: "Minecraft Java Edition connection engine",
		Long: `Blockgate serves the Minecraft Java protocol: server list pings,
online-mode login with encryption and compression, the configuration
phase, and keep-alive supervision of connected players.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, interactive)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		filepath.Join(config.DefaultConfigDir, config.DefaultConfigFile), "path to the JSON or YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, interactive)
		},
	}
	serveCmd.Flags().BoolVarP(&interactive, "interactive", "i", true, "read operator commands from stdin")
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	rootCmd.AddCommand(serveCmd, versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s (%s)\n", AppName, version, commit)
			fmt.Printf("  go:        %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			for _, v := range protocol.KnownVersions {
				fmt.Printf("  protocol:  %d (%s)\n", v, v.Name())
			}
		},
	}
}

func serve(configPath string, interactive bool) error {
	fmt.Printf(Banner, version)
	fmt.Println()
	api.Version = version

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := util.InitLogger(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
	}

	log.Info().
		Str("version", version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Blockgate")

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("configuration validation failed, please fix the errors above")
	}

	info := util.GetHostInfo()
	log.Info().
		Str("hostname", info.Hostname).
		Str("os", info.OS).
		Str("cpu", info.CPUModel).
		Int("cores", info.CPUCores).
		Uint64("memory_mb", info.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := cfg.GetServer()
	netCfg := cfg.GetNetwork()
	authCfg := cfg.GetAuth()

	var keys *encryption.KeyPair
	if server.OnlineMode {
		keys, err = encryption.LoadOrGenerateKeyPair(netCfg.KeyFile, netCfg.KeyBits)
		if err != nil {
			return fmt.Errorf("failed to prepare server key pair: %w", err)
		}
	}

	var favicon string
	if server.FaviconFile != "" {
		favicon, err = state.LoadFavicon(server.FaviconFile)
		if err != nil {
			log.Warn().Err(err).Msg("favicon not loaded")
		}
	}

	access, err := db.NewAccessDatabase(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open access database: %w", err)
	}
	defer access.Close()

	var authenticator auth.Authenticator = auth.Offline{}
	if server.OnlineMode {
		profiles, closeCache, err := cache.New[auth.Profile](ctx, cfg.Cache, "blockgate:profile:")
		if err != nil {
			return fmt.Errorf("failed to initialize profile cache: %w", err)
		}
		defer closeCache()
		authenticator = auth.NewSessionServer(authCfg.SessionServerURL, authCfg.Timeout(),
			auth.WithCache(profiles, authCfg.CacheTTL()),
			auth.WithPreventProxy(authCfg.PreventProxyConnections))
	}

	eventBus := events.NewEventBus()
	m := metrics.New()

	env := state.NewEnv(state.Env{
		Config:   cfg,
		Keys:     keys,
		Auth:     authenticator,
		Access:   access,
		Events:   eventBus,
		Metrics:  m,
		Throttle: state.NewThrottle(netCfg.ConnectionThrottle()),
		Favicon:  favicon,
	})

	listener := network.NewListener(env, m)

	healthMgr := health.NewManager(cfg, eventBus)
	healthMgr.Add("access_db", health.PingCheck(access, 5*time.Second))
	healthMgr.Add("disk", health.DiskCheck(filepath.Dir(cfg.Storage.DatabasePath), cfg.GetHealth().DiskWarnPercent))
	if server.OnlineMode {
		client := &http.Client{Timeout: authCfg.Timeout()}
		healthMgr.Add("session_server", health.HTTPCheck(client, authCfg.SessionServerURL))
	}

	var apiServer *api.Server
	if cfg.GetAPI().Enabled {
		apiServer = api.NewServer(cfg, api.Dependencies{
			Env:      env,
			Listener: listener,
			Access:   access,
			Metrics:  m,
			Health:   healthMgr,
		})
	}

	mqttHandler, err := telemetry.NewMQTTHandler(cfg, eventBus, env.Players)
	if err != nil && !errors.Is(err, telemetry.ErrDisabled) {
		log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", server.BindAddress).Int("port", server.Port).Msg("starting game listener")
		if err := startWithRetry(ctx, "game listener", listener.Start, 5); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("game listener: %w", err)
		}
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.GetAPI().Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	sched := scheduler.NewScheduler(cfg, access, env.Players)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	stopCh := make(chan struct{})
	var stopOnce sync.Once
	eventBus.Subscribe(events.EventShutdown, "main", func(ctx context.Context, e events.Event) error {
		stopOnce.Do(func() { close(stopCh) })
		return nil
	})

	if interactive {
		console := cli.NewCLI(env, listener, access, os.Stdin, os.Stdout)
		// Not tracked by wg: a blocked stdin read must not hold up shutdown.
		go console.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-stopCh:
		log.Info().Msg("shutdown requested from console")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := listener.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("sessions did not close in time")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-shutdownCtx.Done():
		log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
	}

	eventBus.Stop()
	log.Info().Msg("Blockgate stopped")
	return runErr
}

// startWithRetry calls startFn until it succeeds, ctx ends, or maxRetries
// attempts have failed. Binding can fail briefly while a previous process
// releases its port.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
