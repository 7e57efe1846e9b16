package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/blockgate/internal/protocol"
)

func TestDefaultConfigIsValid(t *testing.T) {
	result := Validate(DefaultConfig())
	assert.True(t, result.IsValid(), "%v", result.Errors)
}

func TestLoad_CreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "config.json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path())
	assert.Equal(t, DefaultGamePort, cfg.GetServer().Port)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestLoad_JSONOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":{"motd":"hello","max_players":5}}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	s := cfg.GetServer()
	assert.Equal(t, "hello", s.MOTD)
	assert.Equal(t, 5, s.MaxPlayers)
	// Untouched fields keep their defaults.
	assert.Equal(t, DefaultGamePort, s.Port)
	assert.Equal(t, 256, cfg.GetNetwork().CompressionThreshold)
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockgate.yaml")
	body := `
server:
  motd: from yaml
  online_mode: false
  protocol_versions: [767]
network:
  key_bits: 0
  compression_threshold: -1
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	s := cfg.GetServer()
	assert.Equal(t, "from yaml", s.MOTD)
	assert.False(t, s.OnlineMode)
	assert.Equal(t, []protocol.Version{protocol.Version1_21}, s.Versions())
	assert.Equal(t, -1, cfg.GetNetwork().CompressionThreshold)

	cfg.SetMOTD("changed")
	require.NoError(t, cfg.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "changed", reloaded.GetServer().MOTD)
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":`), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestServerConfig_Versions(t *testing.T) {
	s := DefaultConfig().GetServer()
	assert.True(t, s.AllowsVersion(protocol.Version1_21))
	assert.False(t, s.AllowsVersion(protocol.Version(47)))
	assert.Equal(t, protocol.Version1_21_2, s.PrimaryVersion())
}

func TestValidate(t *testing.T) {
	t.Run("online mode without key", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Network.KeyBits = 0
		assert.False(t, Validate(cfg).IsValid())
	})

	t.Run("offline without key warns", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.OnlineMode = false
		cfg.Network.KeyBits = 0
		result := Validate(cfg)
		assert.True(t, result.IsValid())
		assert.NotEmpty(t, result.Warnings)
	})

	t.Run("unknown protocol", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.ProtocolVersions = []int32{47}
		assert.False(t, Validate(cfg).IsValid())
	})

	t.Run("port conflict", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.API.Port = cfg.Server.Port
		assert.False(t, Validate(cfg).IsValid())
	})

	t.Run("redis without address", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Cache.Backend = "redis"
		assert.False(t, Validate(cfg).IsValid())
	})

	t.Run("oversized frame limit", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Network.MaxFrameSize = protocol.DefaultMaxFrameSize + 1
		assert.False(t, Validate(cfg).IsValid())
	})
}
