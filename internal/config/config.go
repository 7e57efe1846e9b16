// Package config handles configuration loading, validation, and persistence
// for the Blockgate server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/energizer-project/blockgate/internal/protocol"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultGamePort   = 25565
	DefaultAPIPort    = 8765
)

// Config is the root configuration structure for Blockgate.
type Config struct {
	mu   sync.RWMutex
	path string

	Server  ServerConfig  `json:"server" yaml:"server"`
	Network NetworkConfig `json:"network" yaml:"network"`
	Auth    AuthConfig    `json:"auth" yaml:"auth"`
	API     APIConfig     `json:"api" yaml:"api"`
	MQTT    MQTTConfig    `json:"mqtt" yaml:"mqtt"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Cache   CacheConfig   `json:"cache" yaml:"cache"`
	Health  HealthConfig  `json:"health" yaml:"health"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ServerConfig holds what clients see of the server.
type ServerConfig struct {
	BindAddress         string  `json:"bind_address" yaml:"bind_address"`
	Port                int     `json:"port" yaml:"port"`
	MOTD                string  `json:"motd" yaml:"motd"`
	MaxPlayers          int     `json:"max_players" yaml:"max_players"`
	OnlineMode          bool    `json:"online_mode" yaml:"online_mode"`
	Whitelist           bool    `json:"whitelist" yaml:"whitelist"`
	Brand               string  `json:"brand" yaml:"brand"`
	ProtocolVersions    []int32 `json:"protocol_versions" yaml:"protocol_versions"`
	SampleSize          int     `json:"sample_size" yaml:"sample_size"`
	FaviconFile         string  `json:"favicon_file" yaml:"favicon_file"`
	EnforcesSecureChat  bool    `json:"enforces_secure_chat" yaml:"enforces_secure_chat"`
	PreventsChatReports bool    `json:"prevents_chat_reports" yaml:"prevents_chat_reports"`
	AcceptTransfers     bool    `json:"accept_transfers" yaml:"accept_transfers"`
}

// NetworkConfig holds connection level limits and timers.
type NetworkConfig struct {
	KeyBits              int    `json:"key_bits" yaml:"key_bits"`
	KeyFile              string `json:"key_file" yaml:"key_file"`
	CompressionThreshold int    `json:"compression_threshold" yaml:"compression_threshold"`
	MaxFrameSize         int    `json:"max_frame_size" yaml:"max_frame_size"`
	TickIntervalMS       int    `json:"tick_interval_ms" yaml:"tick_interval_ms"`
	ReadTimeoutSec       int    `json:"read_timeout_sec" yaml:"read_timeout_sec"`
	LoginTimeoutSec      int    `json:"login_timeout_sec" yaml:"login_timeout_sec"`
	KeepAliveIntervalSec int    `json:"keepalive_interval_sec" yaml:"keepalive_interval_sec"`
	KeepAliveTimeoutSec  int    `json:"keepalive_timeout_sec" yaml:"keepalive_timeout_sec"`
	ConnectionThrottleMS int    `json:"connection_throttle_ms" yaml:"connection_throttle_ms"`
}

// AuthConfig holds identity verification settings.
type AuthConfig struct {
	SessionServerURL        string `json:"session_server_url" yaml:"session_server_url"`
	PreventProxyConnections bool   `json:"prevent_proxy_connections" yaml:"prevent_proxy_connections"`
	TimeoutSec              int    `json:"timeout_sec" yaml:"timeout_sec"`
	CacheTTLSec             int    `json:"cache_ttl_sec" yaml:"cache_ttl_sec"`
}

// APIConfig holds admin REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	BindAddress    string   `json:"bind_address" yaml:"bind_address"`
	Port           int      `json:"port" yaml:"port"`
	Token          string   `json:"token" yaml:"token"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps" yaml:"rate_limit_rps"`
	// TLS serves the API over HTTPS. Missing certificate files are replaced
	// by a generated self-signed pair.
	TLSEnabled bool   `json:"tls_enabled" yaml:"tls_enabled"`
	CertFile   string `json:"cert_file" yaml:"cert_file"`
	KeyFile    string `json:"key_file" yaml:"key_file"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	BrokerURL   string `json:"broker_url" yaml:"broker_url"`
	Port        int    `json:"port" yaml:"port"`
	UseTLS      bool   `json:"use_tls" yaml:"use_tls"`
	ClientID    string `json:"client_id" yaml:"client_id"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	CertFile    string `json:"cert_file" yaml:"cert_file"`
	KeyFile     string `json:"key_file" yaml:"key_file"`
	StatusSec   int    `json:"status_interval_sec" yaml:"status_interval_sec"`
}

// StorageConfig holds the ban and allow list database location.
type StorageConfig struct {
	DatabasePath string `json:"database_path" yaml:"database_path"`
	// MaintenanceTime is the daily HH:MM local time for ban purging and log
	// pruning.
	MaintenanceTime string `json:"maintenance_time" yaml:"maintenance_time"`
}

// CacheConfig selects the backend for verified identity caching.
type CacheConfig struct {
	Backend       string `json:"backend" yaml:"backend"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
}

// HealthConfig controls the periodic dependency checks.
type HealthConfig struct {
	IntervalSec     int     `json:"interval_sec" yaml:"interval_sec"`
	DiskWarnPercent float64 `json:"disk_warn_percent" yaml:"disk_warn_percent"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Directory  string `json:"directory" yaml:"directory"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	Console    bool   `json:"console" yaml:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	versions := make([]int32, 0, len(protocol.KnownVersions))
	for _, v := range protocol.KnownVersions {
		versions = append(versions, int32(v))
	}

	return &Config{
		path: filepath.Join(DefaultConfigDir, DefaultConfigFile),
		Server: ServerConfig{
			BindAddress:      "0.0.0.0",
			Port:             DefaultGamePort,
			MOTD:             "A Blockgate Server",
			MaxPlayers:       20,
			OnlineMode:       true,
			Brand:            "blockgate",
			ProtocolVersions: versions,
			SampleSize:       12,
			AcceptTransfers:  false,
		},
		Network: NetworkConfig{
			KeyBits:              1024,
			CompressionThreshold: 256,
			MaxFrameSize:         protocol.DefaultMaxFrameSize,
			TickIntervalMS:       50,
			ReadTimeoutSec:       30,
			LoginTimeoutSec:      30,
			KeepAliveIntervalSec: 15,
			KeepAliveTimeoutSec:  30,
			ConnectionThrottleMS: 4000,
		},
		Auth: AuthConfig{
			SessionServerURL: "https://sessionserver.mojang.com/session/minecraft/hasJoined",
			TimeoutSec:       10,
			CacheTTLSec:      30,
		},
		API: APIConfig{
			Enabled:      true,
			BindAddress:  "127.0.0.1",
			Port:         DefaultAPIPort,
			RateLimitRPS: 20,
			CertFile:     "data/api.crt",
			KeyFile:      "data/api.key",
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Port:        1883,
			TopicPrefix: "blockgate",
			StatusSec:   60,
		},
		Storage: StorageConfig{
			DatabasePath:    "data/blockgate.db",
			MaintenanceTime: "04:00",
		},
		Cache: CacheConfig{
			Backend: "memory",
		},
		Health: HealthConfig{
			IntervalSec:     60,
			DiskWarnPercent: 90,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			Console:    true,
		},
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads configuration from a JSON or YAML file. A missing file is
// created with defaults.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if isYAML(configPath) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")
	return cfg, nil
}

// Save writes the current configuration to disk in the format implied by
// the file extension.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(c.path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServer returns a copy of the server configuration.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.Server
	s.ProtocolVersions = append([]int32(nil), c.Server.ProtocolVersions...)
	return s
}

// SetServer updates the server configuration.
func (c *Config) SetServer(s ServerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server = s
}

// GetNetwork returns a copy of the network configuration.
func (c *Config) GetNetwork() NetworkConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Network
}

// GetAuth returns a copy of the auth configuration.
func (c *Config) GetAuth() AuthConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Auth
}

// GetAPI returns a copy of the API configuration.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

// GetMQTT returns a copy of the MQTT configuration.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetHealth returns a copy of the health check configuration.
func (c *Config) GetHealth() HealthConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Health
}

// SetMOTD updates the message of the day shown in the server list.
func (c *Config) SetMOTD(motd string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server.MOTD = motd
}

// SetMaxPlayers updates the player cap.
func (c *Config) SetMaxPlayers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server.MaxPlayers = n
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// Versions returns the allowed protocol versions.
func (s ServerConfig) Versions() []protocol.Version {
	out := make([]protocol.Version, 0, len(s.ProtocolVersions))
	for _, v := range s.ProtocolVersions {
		out = append(out, protocol.Version(v))
	}
	return out
}

// AllowsVersion reports whether clients of version v may log in.
func (s ServerConfig) AllowsVersion(v protocol.Version) bool {
	for _, allowed := range s.ProtocolVersions {
		if protocol.Version(allowed) == v {
			return true
		}
	}
	return false
}

// PrimaryVersion is the newest allowed version, reported to clients whose
// own version is not allowed.
func (s ServerConfig) PrimaryVersion() protocol.Version {
	var best protocol.Version
	for _, v := range s.ProtocolVersions {
		if protocol.Version(v) > best {
			best = protocol.Version(v)
		}
	}
	return best
}

// TickInterval returns the session tick period.
func (n NetworkConfig) TickInterval() time.Duration {
	return time.Duration(n.TickIntervalMS) * time.Millisecond
}

// ReadTimeout returns how long a session may stay silent before login ends.
func (n NetworkConfig) ReadTimeout() time.Duration {
	return time.Duration(n.ReadTimeoutSec) * time.Second
}

// LoginTimeout returns the deadline for completing login.
func (n NetworkConfig) LoginTimeout() time.Duration {
	return time.Duration(n.LoginTimeoutSec) * time.Second
}

// KeepAliveInterval returns the period between keep-alive probes.
func (n NetworkConfig) KeepAliveInterval() time.Duration {
	return time.Duration(n.KeepAliveIntervalSec) * time.Second
}

// KeepAliveTimeout returns how long a probe may stay unanswered.
func (n NetworkConfig) KeepAliveTimeout() time.Duration {
	return time.Duration(n.KeepAliveTimeoutSec) * time.Second
}

// ConnectionThrottle returns the minimum gap between logins from one address.
func (n NetworkConfig) ConnectionThrottle() time.Duration {
	return time.Duration(n.ConnectionThrottleMS) * time.Millisecond
}

// Timeout returns the session server request timeout.
func (a AuthConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSec) * time.Second
}

// CacheTTL returns how long a verified identity is reused.
func (a AuthConfig) CacheTTL() time.Duration {
	return time.Duration(a.CacheTTLSec) * time.Second
}
