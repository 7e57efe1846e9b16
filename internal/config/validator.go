package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/energizer-project/blockgate/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServer(&cfg.Server, result)
	validateNetwork(&cfg.Network, &cfg.Server, result)
	validateServices(cfg, result)

	return result
}

func validateServer(s *ServerConfig, result *ValidationResult) {
	validatePort(s.Port, "server.port", result)

	if s.MaxPlayers < 1 {
		result.AddError("server.max_players", "must allow at least 1 player")
	}

	if len(s.ProtocolVersions) == 0 {
		result.AddError("server.protocol_versions", "at least one protocol version is required")
	}
	for _, v := range s.ProtocolVersions {
		if !protocol.Version(v).Known() {
			result.AddError("server.protocol_versions",
				fmt.Sprintf("no packet tables for protocol version %d", v))
		}
	}

	if s.SampleSize < 0 {
		result.AddError("server.sample_size", "sample size cannot be negative")
	}

	if s.FaviconFile != "" {
		if _, err := os.Stat(s.FaviconFile); os.IsNotExist(err) {
			result.AddWarning("server.favicon_file",
				fmt.Sprintf("file does not exist: %s", s.FaviconFile))
		}
	}

	if strings.TrimSpace(s.Brand) == "" {
		result.AddWarning("server.brand", "empty brand, clients will show an unnamed server")
	}
}

func validateNetwork(n *NetworkConfig, s *ServerConfig, result *ValidationResult) {
	if n.KeyBits != 0 && n.KeyBits < 1024 {
		result.AddError("network.key_bits", "RSA key must be at least 1024 bits, or 0 to disable encryption")
	}
	if n.KeyBits == 0 && s.OnlineMode {
		result.AddError("network.key_bits", "online mode requires an RSA key")
	}
	if n.KeyBits == 0 {
		result.AddWarning("network.key_bits", "encryption is disabled, traffic is sent in the clear")
	}

	if n.CompressionThreshold < -1 {
		result.AddError("network.compression_threshold", "use -1 to disable compression")
	}

	if n.MaxFrameSize < 1 || n.MaxFrameSize > protocol.DefaultMaxFrameSize {
		result.AddError("network.max_frame_size",
			fmt.Sprintf("must be between 1 and %d", protocol.DefaultMaxFrameSize))
	}

	if n.TickIntervalMS < 1 {
		result.AddError("network.tick_interval_ms", "tick interval must be positive")
	} else if n.TickIntervalMS > 1000 {
		result.AddWarning("network.tick_interval_ms", "tick interval above 1s delays queued packets")
	}

	if n.KeepAliveIntervalSec < 1 {
		result.AddError("network.keepalive_interval_sec", "keep-alive interval must be positive")
	}
	if n.KeepAliveTimeoutSec <= n.KeepAliveIntervalSec {
		result.AddWarning("network.keepalive_timeout_sec", "timeout should exceed the keep-alive interval")
	}
}

func validateServices(cfg *Config, result *ValidationResult) {
	if cfg.Server.OnlineMode && strings.TrimSpace(cfg.Auth.SessionServerURL) == "" {
		result.AddError("auth.session_server_url", "session server URL is required in online mode")
	}

	if cfg.API.Enabled {
		validatePort(cfg.API.Port, "api.port", result)
		if cfg.API.Port == cfg.Server.Port {
			result.AddError("api.port", "port conflict detected: API and game ports must differ")
		}
		if cfg.API.Token == "" && cfg.API.BindAddress != "127.0.0.1" && cfg.API.BindAddress != "localhost" {
			result.AddWarning("api.token", "API is reachable from the network without a token")
		}
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}

	switch cfg.Cache.Backend {
	case "memory", "":
	case "redis":
		if strings.TrimSpace(cfg.Cache.RedisAddr) == "" {
			result.AddError("cache.redis_addr", "redis address is required for the redis backend")
		}
	default:
		result.AddError("cache.backend", fmt.Sprintf("unknown cache backend %q", cfg.Cache.Backend))
	}

	if strings.TrimSpace(cfg.Storage.DatabasePath) == "" {
		result.AddError("storage.database_path", "database path is required")
	}
	if cfg.Health.IntervalSec < 0 {
		result.AddError("health.interval_sec", "interval cannot be negative")
	}
	if p := cfg.Health.DiskWarnPercent; p < 0 || p > 100 {
		result.AddError("health.disk_warn_percent", "must be between 0 and 100")
	}
	if t := cfg.Storage.MaintenanceTime; t != "" {
		if _, err := time.Parse("15:04", t); err != nil {
			result.AddError("storage.maintenance_time", fmt.Sprintf("invalid time %q, expected HH:MM", t))
		}
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
