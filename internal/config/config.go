// Package config loads application configuration for the platform gateway.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/sunqi/platform-mcp/internal/common"
)

// ServerConfig holds MCP server settings.
type ServerConfig struct {
	Name string `toml:"name"`
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// ServicesConfig holds service definition directory settings.
type ServicesConfig struct {
	Dir                 string `toml:"dir"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
}

// CleanupConfig holds scheduled file cleanup settings.
type CleanupConfig struct {
	Enabled     bool   `toml:"enabled"`
	Schedule    string `toml:"schedule"` // cron expression or @every syntax
	Dir         string `toml:"dir"`
	MaxAgeHours int    `toml:"max_age_hours"`
}

// Config holds all platform-mcp configuration.
type Config struct {
	Server   ServerConfig         `toml:"server"`
	Services ServicesConfig       `toml:"services"`
	Cleanup  CleanupConfig        `toml:"cleanup"`
	Logging  common.LoggingConfig `toml:"logging"`
}

// PollInterval returns the service directory poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Services.PollIntervalSeconds) * time.Second
}

// CleanupMaxAge returns the maximum file age tolerated by the cleanup job.
func (c *Config) CleanupMaxAge() time.Duration {
	return time.Duration(c.Cleanup.MaxAgeHours) * time.Hour
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "platform-mcp",
			Host: "0.0.0.0",
			Port: 8055,
		},
		Services: ServicesConfig{
			Dir:                 "services",
			PollIntervalSeconds: 30,
		},
		Cleanup: CleanupConfig{
			Enabled:     false,
			Schedule:    "@every 1h",
			Dir:         "logs",
			MaxAgeHours: 168,
		},
		Logging: common.LoggingConfig{
			Level:      "info",
			Outputs:    []string{"console", "file"},
			FilePath:   "logs/platform-mcp.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
// A missing file is not an error; defaults and env overrides still apply.
func LoadFromFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else {
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies PLATFORM_* environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if name := os.Getenv("PLATFORM_SERVER_NAME"); name != "" {
		cfg.Server.Name = name
	}
	if host := os.Getenv("PLATFORM_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("PLATFORM_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if dir := os.Getenv("PLATFORM_SERVICES_DIR"); dir != "" {
		cfg.Services.Dir = dir
	}
	if interval := os.Getenv("PLATFORM_POLL_INTERVAL"); interval != "" {
		if n, err := strconv.Atoi(interval); err == nil && n > 0 {
			cfg.Services.PollIntervalSeconds = n
		}
	}
	if level := os.Getenv("PLATFORM_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
