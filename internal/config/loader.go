package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadOptions represents options for loading configuration
type LoadOptions struct {
	Path string
}

// Load loads configuration from defaults, an optional file, and environment
// variable overrides, in that order.
func Load(opts ...LoadOptions) (*Config, error) {
	cfg := Default()

	var options LoadOptions
	if len(opts) > 0 {
		options = opts[0]
	}

	if options.Path != "" {
		if err := loadFromFile(cfg, options.Path); err != nil {
			return nil, err
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile loads configuration from a file
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(cfg *Config) {
	if host := os.Getenv("ROVERHUB_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("ROVERHUB_HTTP_PORT"); port != "" {
		if p, err := parseInt(port); err == nil {
			cfg.Server.HTTPPort = p
		}
	}
	if port := os.Getenv("ROVERHUB_WS_PORT"); port != "" {
		if p, err := parseInt(port); err == nil {
			cfg.Server.WSPort = p
		}
	}

	if size := os.Getenv("ROVERHUB_HISTORY_SIZE"); size != "" {
		if n, err := parseInt(size); err == nil {
			cfg.Bus.HistorySize = n
		}
	}

	if d := os.Getenv("ROVERHUB_DOWN_AFTER"); d != "" {
		if dur, err := time.ParseDuration(d); err == nil {
			cfg.Registry.DownAfter = dur
		}
	}
	if d := os.Getenv("ROVERHUB_WARNING_AFTER"); d != "" {
		if dur, err := time.ParseDuration(d); err == nil {
			cfg.Registry.WarningAfter = dur
		}
	}

	if level := os.Getenv("ROVERHUB_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("ROVERHUB_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
}

// parseInt parses a string to int
func parseInt(s string) (int, error) {
	var i int
	_, err := fmt.Sscanf(s, "%d", &i)
	return i, err
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

// NewConfigError creates a new configuration error
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in field '%s': %s", e.Field, e.Message)
}
