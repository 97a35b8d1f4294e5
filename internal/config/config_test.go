// ABOUTME: Tests for configuration loading
// ABOUTME: Covers defaults, YAML files, .env files and environment overrides
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Resonate-Protocol/flacrelay/pkg/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(prev) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Encode.CompressionLevel)
	assert.True(t, cfg.Encode.Verify)
	assert.Equal(t, relay.OverflowAbort, cfg.Decode.OverflowPolicy())
	assert.Equal(t, 8928, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Relay.FinishTimeout)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
encode:
  compression_level: 8
  block_size: 2048
  verify: false
decode:
  overflow: carry
server:
  port: 9000
  name: studio
relay:
  finish_timeout: 500ms
`), 0o644))

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Encode.CompressionLevel)
	assert.Equal(t, 2048, cfg.Encode.BlockSize)
	assert.False(t, cfg.Encode.Verify)
	assert.Equal(t, relay.OverflowCarry, cfg.Decode.OverflowPolicy())
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "studio", cfg.Server.Name)
	assert.Equal(t, 500*time.Millisecond, cfg.Relay.FinishTimeout)
}

func TestLoadFindsDefaultFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile("flacrelay.yaml", []byte("log_level: warn\n"), 0o644))

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("FLACRELAY_COMPRESSION_LEVEL", "2")
	t.Setenv("FLACRELAY_VERIFY", "false")
	t.Setenv("FLACRELAY_PORT", "7000")
	t.Setenv("FLACRELAY_FINISH_TIMEOUT", "1s")
	t.Setenv("FLACRELAY_MDNS", "false")

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Encode.CompressionLevel)
	assert.False(t, cfg.Encode.Verify)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.Relay.FinishTimeout)
	assert.False(t, cfg.Server.EnableMDNS)
}

func TestEnvFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("FLACRELAY_NAME", "")
	os.Unsetenv("FLACRELAY_NAME")
	t.Setenv("FLACRELAY_OVERFLOW", "")
	os.Unsetenv("FLACRELAY_OVERFLOW")

	require.NoError(t, os.WriteFile(".env", []byte("FLACRELAY_NAME=from-dotenv\nFLACRELAY_OVERFLOW=carry\n"), 0o644))

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Server.Name)
	assert.Equal(t, "carry", cfg.Decode.Overflow)
}

func TestInvalidEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("FLACRELAY_PORT", "eighty")

	_, err := Load("", "")
	assert.ErrorContains(t, err, "FLACRELAY_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "chatty" }},
		{"compression level", func(c *Config) { c.Encode.CompressionLevel = 9 }},
		{"block size", func(c *Config) { c.Encode.BlockSize = 8 }},
		{"overflow", func(c *Config) { c.Decode.Overflow = "drop" }},
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"finish timeout", func(c *Config) { c.Relay.FinishTimeout = 0 }},
	}

	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMissingConfigFile(t *testing.T) {
	chdir(t, t.TempDir())
	_, err := Load("nope.yaml", "")
	assert.ErrorContains(t, err, "failed to read config file")
}
