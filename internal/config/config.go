// ABOUTME: Configuration loading for flacrelay
// ABOUTME: YAML file, optional .env file and FLACRELAY_* environment overrides
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Resonate-Protocol/flacrelay/internal/logging"
	"github.com/Resonate-Protocol/flacrelay/pkg/audio/encode"
	"github.com/Resonate-Protocol/flacrelay/pkg/relay"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration
type Config struct {
	LogLevel string       `yaml:"log_level"`
	LogFile  string       `yaml:"log_file"`
	Encode   EncodeConfig `yaml:"encode"`
	Decode   DecodeConfig `yaml:"decode"`
	Server   ServerConfig `yaml:"server"`
	Relay    RelayConfig  `yaml:"relay"`
}

// EncodeConfig holds FLAC encoder settings
type EncodeConfig struct {
	CompressionLevel int  `yaml:"compression_level"`
	BlockSize        int  `yaml:"block_size"` // 0 selects a block size from the compression level
	Verify           bool `yaml:"verify"`
}

// DecodeConfig holds decoder settings
type DecodeConfig struct {
	// Overflow is "abort" or "carry"
	Overflow string `yaml:"overflow"`
}

// OverflowPolicy maps Overflow to the relay policy
func (d DecodeConfig) OverflowPolicy() relay.OverflowPolicy {
	if d.Overflow == "carry" {
		return relay.OverflowCarry
	}
	return relay.OverflowAbort
}

// ServerConfig holds websocket service settings
type ServerConfig struct {
	Port       int    `yaml:"port"`
	Name       string `yaml:"name"`
	EnableMDNS bool   `yaml:"enable_mdns"`
}

// RelayConfig holds relay settings shared by all sessions
type RelayConfig struct {
	FinishTimeout time.Duration `yaml:"finish_timeout"`
}

// Default returns the built-in configuration
func Default() *Config {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Config{
		LogLevel: "info",
		Encode: EncodeConfig{
			CompressionLevel: encode.DefaultCompressionLevel,
			Verify:           true,
		},
		Decode: DecodeConfig{Overflow: "abort"},
		Server: ServerConfig{
			Port:       8928,
			Name:       hostname + "-flacrelay",
			EnableMDNS: true,
		},
		Relay: RelayConfig{FinishTimeout: 3 * time.Second},
	}
}

// Load reads path when it is set, otherwise flacrelay.yaml if present.
// envFile is loaded into the environment before overrides are applied; a
// missing .env file is not an error.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat("flacrelay.yaml"); err == nil {
			path = "flacrelay.yaml"
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load environment file: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Encode.CompressionLevel < 0 || c.Encode.CompressionLevel > encode.MaxCompressionLevel {
		return fmt.Errorf("encode.compression_level %d out of range 0-%d", c.Encode.CompressionLevel, encode.MaxCompressionLevel)
	}
	if c.Encode.BlockSize != 0 && (c.Encode.BlockSize < 16 || c.Encode.BlockSize > 65535) {
		return fmt.Errorf("encode.block_size %d out of range 16-65535", c.Encode.BlockSize)
	}
	if c.Decode.Overflow != "abort" && c.Decode.Overflow != "carry" {
		return fmt.Errorf("decode.overflow must be abort or carry, got %q", c.Decode.Overflow)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Relay.FinishTimeout <= 0 {
		return fmt.Errorf("relay.finish_timeout must be positive")
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if val, ok := os.LookupEnv("FLACRELAY_LOG_LEVEL"); ok {
		c.LogLevel = val
	}
	if val, ok := os.LookupEnv("FLACRELAY_LOG_FILE"); ok {
		c.LogFile = val
	}
	if err := envInt("FLACRELAY_COMPRESSION_LEVEL", &c.Encode.CompressionLevel); err != nil {
		return err
	}
	if err := envInt("FLACRELAY_BLOCK_SIZE", &c.Encode.BlockSize); err != nil {
		return err
	}
	if val, ok := os.LookupEnv("FLACRELAY_VERIFY"); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("FLACRELAY_VERIFY: %w", err)
		}
		c.Encode.Verify = b
	}
	if val, ok := os.LookupEnv("FLACRELAY_OVERFLOW"); ok {
		c.Decode.Overflow = val
	}
	if err := envInt("FLACRELAY_PORT", &c.Server.Port); err != nil {
		return err
	}
	if val, ok := os.LookupEnv("FLACRELAY_NAME"); ok {
		c.Server.Name = val
	}
	if val, ok := os.LookupEnv("FLACRELAY_MDNS"); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("FLACRELAY_MDNS: %w", err)
		}
		c.Server.EnableMDNS = b
	}
	if val, ok := os.LookupEnv("FLACRELAY_FINISH_TIMEOUT"); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("FLACRELAY_FINISH_TIMEOUT: %w", err)
		}
		c.Relay.FinishTimeout = d
	}
	return nil
}

func envInt(key string, dst *int) error {
	val, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
