// Package config provides configuration management for shellyfleet.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration structure
type Config struct {
	File         string        `mapstructure:"file"`          // Path to address-list file (one device per line)
	Inventory    string        `mapstructure:"inventory"`     // Path to YAML/JSON inventory file
	Filter       string        `mapstructure:"filter"`        // Tag filter expression for inventory devices
	User         string        `mapstructure:"user"`          // Device auth principal
	Password     string        `mapstructure:"password"`      // Device auth secret
	Concurrency  string        `mapstructure:"concurrency"`   // Concurrency limit ("auto" or number)
	Retries      int           `mapstructure:"retries"`       // Maximum retry attempts per device
	Timeout      time.Duration `mapstructure:"timeout"`       // Per-call timeout
	TotalTimeout time.Duration `mapstructure:"total-timeout"` // Fleet-wide deadline (0 for none)
	Output       string        `mapstructure:"output"`        // Output format (table, json, plain)
	Sort         string        `mapstructure:"sort"`          // Status sort key (ip, uptime, wifi)
	Quiet        bool          `mapstructure:"quiet"`         // Suppress non-error output
	DryRun       bool          `mapstructure:"dry-run"`       // Show execution plan without connecting
	LogLevel     string        `mapstructure:"log-level"`     // Log level (info, error)
	LogFormat    string        `mapstructure:"log-format"`    // Log format (json, text)
}

// Manager defines the interface for configuration management
type Manager interface {
	// Load reads configuration from all sources (files, env vars)
	Load() (*Config, error)

	// Validate ensures configuration values are valid and consistent
	Validate(config *Config) error
}

// ViperManager implements the Manager interface using Viper
type ViperManager struct {
	v *viper.Viper
}

// NewManager creates a new configuration manager
func NewManager() Manager {
	return &ViperManager{
		v: viper.New(),
	}
}

// setDefaults establishes default configuration values
func (m *ViperManager) setDefaults() {
	m.v.SetDefault("file", "shellies.txt")
	m.v.SetDefault("concurrency", "auto")
	m.v.SetDefault("retries", 0)
	m.v.SetDefault("timeout", 5*time.Second)
	m.v.SetDefault("total-timeout", time.Duration(0))
	m.v.SetDefault("output", "table")
	m.v.SetDefault("sort", "ip")
	m.v.SetDefault("quiet", false)
	m.v.SetDefault("dry-run", false)
	m.v.SetDefault("log-level", "info")
	m.v.SetDefault("log-format", "text")
}

// Load reads configuration from all sources with proper precedence
func (m *ViperManager) Load() (*Config, error) {
	m.setDefaults()

	m.v.SetConfigName("config")

	// Config paths in precedence order (current dir highest)
	m.v.AddConfigPath(".")
	if homeDir, err := os.UserHomeDir(); err == nil {
		m.v.AddConfigPath(filepath.Join(homeDir, ".config", "shellyfleet"))
	}
	m.v.AddConfigPath("/etc/shellyfleet/")

	m.v.SetEnvPrefix("SHELLYFLEET")
	m.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	m.v.AutomaticEnv()

	for _, format := range []string{"yaml", "yml", "json", "toml"} {
		m.v.SetConfigType(format)
		if err := m.v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading %s config file: %w", format, err)
			}
		} else {
			break
		}
	}

	var config Config
	if err := m.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := m.Validate(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Validate ensures configuration values are valid and consistent
func (m *ViperManager) Validate(config *Config) error {
	if config.Concurrency != "auto" {
		if concurrency, err := strconv.Atoi(config.Concurrency); err != nil {
			return fmt.Errorf("invalid concurrency value '%s': must be 'auto' or a positive integer", config.Concurrency)
		} else if concurrency <= 0 {
			return fmt.Errorf("concurrency must be positive, got %d", concurrency)
		}
	}

	if config.Retries < 0 {
		return fmt.Errorf("retries must be non-negative, got %d", config.Retries)
	}

	if config.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", config.Timeout)
	}
	if config.TotalTimeout < 0 {
		return fmt.Errorf("total-timeout must be non-negative, got %v", config.TotalTimeout)
	}

	validOutputs := map[string]bool{
		"table": true,
		"json":  true,
		"plain": true,
	}
	if !validOutputs[config.Output] {
		return fmt.Errorf("invalid output format '%s': must be one of 'table', 'json', or 'plain'", config.Output)
	}

	validSortKeys := map[string]bool{
		"ip":     true,
		"uptime": true,
		"wifi":   true,
	}
	if !validSortKeys[config.Sort] {
		return fmt.Errorf("invalid sort key '%s': must be one of 'ip', 'uptime', or 'wifi'", config.Sort)
	}

	validLogLevels := map[string]bool{
		"info":  true,
		"error": true,
	}
	if !validLogLevels[config.LogLevel] {
		return fmt.Errorf("invalid log level '%s': must be one of 'info' or 'error'", config.LogLevel)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[config.LogFormat] {
		return fmt.Errorf("invalid log format '%s': must be one of 'json' or 'text'", config.LogFormat)
	}

	// Credentials are a pair: both present or both absent
	if (config.User == "") != (config.Password == "") {
		return fmt.Errorf("user and password must be supplied together")
	}

	return nil
}
