package config

import (
	"time"

	"github.com/robolab/roverhub/internal/logging"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Bus      BusConfig      `json:"bus" yaml:"bus"`
	Registry RegistryConfig `json:"registry" yaml:"registry"`
	Stats    StatsConfig    `json:"stats" yaml:"stats"`
	Logging  logging.Config `json:"logging" yaml:"logging"`
}

// ServerConfig represents gateway listener configuration. The port defaults
// are contract values the existing panels hard-code: 8765 for the control
// websocket, 5000 for the HTTP API.
type ServerConfig struct {
	Host           string        `json:"host" yaml:"host"`
	HTTPPort       int           `json:"http_port" yaml:"http_port"`
	WSPort         int           `json:"ws_port" yaml:"ws_port"`
	ReadTimeout    time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	MaxMessageSize int64         `json:"max_message_size" yaml:"max_message_size"`
}

// BusConfig represents message bus tuning
type BusConfig struct {
	HistorySize         int `json:"history_size" yaml:"history_size"`
	SubscriberQueueSize int `json:"subscriber_queue_size" yaml:"subscriber_queue_size"`
}

// RegistryConfig represents service registry thresholds. The panels disagree
// on staleness constants (15s vs 30s), so they are configurable rather than
// fixed.
type RegistryConfig struct {
	WarningAfter  time.Duration `json:"warning_after" yaml:"warning_after"`
	DownAfter     time.Duration `json:"down_after" yaml:"down_after"`
	ProbeInterval time.Duration `json:"probe_interval" yaml:"probe_interval"`
	ProbeTimeout  time.Duration `json:"probe_timeout" yaml:"probe_timeout"`
}

// StatsConfig represents the status aggregator cadence
type StatsConfig struct {
	RefreshInterval time.Duration `json:"refresh_interval" yaml:"refresh_interval"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			HTTPPort:       5000,
			WSPort:         8765,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    120 * time.Second,
			MaxMessageSize: 512 * 1024,
		},
		Bus: BusConfig{
			HistorySize:         100,
			SubscriberQueueSize: 256,
		},
		Registry: RegistryConfig{
			WarningAfter:  15 * time.Second,
			DownAfter:     30 * time.Second,
			ProbeInterval: 10 * time.Second,
			ProbeTimeout:  3 * time.Second,
		},
		Stats: StatsConfig{
			RefreshInterval: 5 * time.Second,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return NewConfigError("server.http_port", "invalid port number")
	}

	if c.Server.WSPort <= 0 || c.Server.WSPort > 65535 {
		return NewConfigError("server.ws_port", "invalid port number")
	}

	if c.Server.ReadTimeout < 0 {
		return NewConfigError("server.read_timeout", "timeout cannot be negative")
	}

	if c.Server.WriteTimeout < 0 {
		return NewConfigError("server.write_timeout", "timeout cannot be negative")
	}

	if c.Bus.HistorySize <= 0 {
		return NewConfigError("bus.history_size", "history size must be positive")
	}

	if c.Bus.SubscriberQueueSize <= 0 {
		return NewConfigError("bus.subscriber_queue_size", "queue size must be positive")
	}

	if c.Registry.WarningAfter <= 0 || c.Registry.DownAfter <= 0 {
		return NewConfigError("registry", "staleness thresholds must be positive")
	}

	if c.Registry.DownAfter < c.Registry.WarningAfter {
		return NewConfigError("registry.down_after", "down threshold must not precede warning threshold")
	}

	if c.Stats.RefreshInterval <= 0 {
		return NewConfigError("stats.refresh_interval", "refresh interval must be positive")
	}

	return nil
}
