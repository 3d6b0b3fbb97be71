// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration loaded from defaults, an
// optional YAML config file and environment variables.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all settings
//  2. Config File: Optional YAML config file (config.yaml)
//  3. Environment Variables: ZMETA_-prefixed overrides for any setting
//
// Example - Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    logging.Fatal().Err(err).Msg("failed to load config")
//	}
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	UDP      UDPConfig      `koanf:"udp"`
	Hub      HubConfig      `koanf:"hub"`
	Rules    RulesConfig    `koanf:"rules"`
	Recorder RecorderConfig `koanf:"recorder"`
	NATS     NATSConfig     `koanf:"nats"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// UDPConfig holds the UDP ingest listener settings.
type UDPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`

	// QueueSize bounds the datagram handoff queue between the socket
	// reader and the pipeline consumer. Datagrams arriving while the
	// queue is full are dropped and counted.
	QueueSize int `koanf:"queue_size"`
}

// HubConfig holds subscriber hub settings.
type HubConfig struct {
	// QueueSize is the per-subscriber outbound queue capacity.
	QueueSize int `koanf:"queue_size"`

	// PutTimeout bounds how long a broadcast waits for space in one
	// subscriber's queue before dropping the message for that subscriber.
	PutTimeout time.Duration `koanf:"put_timeout"`

	// MaxBackpressureRetries is the number of consecutive failed
	// deliveries after which a subscriber is forcibly disconnected.
	MaxBackpressureRetries int `koanf:"max_backpressure_retries"`

	// Greeting is sent to every subscriber on connect. Empty disables it.
	Greeting string `koanf:"greeting"`
}

// RulesConfig holds detection rule settings.
type RulesConfig struct {
	Path string `koanf:"path"`

	// DedupTTL is the default minimum spacing between repeat alerts for
	// the same (rule, entity) pair. Individual rules may override it.
	DedupTTL time.Duration `koanf:"dedup_ttl"`

	// DedupMaxKeys bounds the dedup table; a compaction pass runs when
	// the table grows past it.
	DedupMaxKeys int `koanf:"dedup_max_keys"`
}

// RecorderConfig holds the NDJSON persistence sink settings.
type RecorderConfig struct {
	Dir       string `koanf:"dir"`
	QueueSize int    `koanf:"queue_size"`

	// RetentionHours prunes segments older than this during rotation
	// checks. Zero disables pruning.
	RetentionHours float64 `koanf:"retention_hours"`
}

// NATSConfig holds the optional internal-origin NATS transport settings.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`

	// EmbeddedServer starts an in-process NATS server instead of
	// connecting to an external one.
	EmbeddedServer bool   `koanf:"embedded_server"`
	EmbeddedHost   string `koanf:"embedded_host"`
	EmbeddedPort   int    `koanf:"embedded_port"`
}

// SecurityConfig holds shared-secret authentication and HTTP hardening
// settings. Authentication is enabled whenever SharedSecret is non-empty.
type SecurityConfig struct {
	AuthHeader   string `koanf:"auth_header"`
	SharedSecret string `koanf:"shared_secret"`

	CORSOrigins []string `koanf:"cors_origins"`

	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// AuthEnabled reports whether shared-secret authentication is active.
func (s *SecurityConfig) AuthEnabled() bool {
	return s.SharedSecret != ""
}

// Validate checks the configuration for values that cannot work at runtime.
// It is called by Load after all layers are merged.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.UDP.Enabled {
		if c.UDP.Port < 1 || c.UDP.Port > 65535 {
			return fmt.Errorf("udp.port must be in 1-65535, got %d", c.UDP.Port)
		}
		if c.UDP.QueueSize < 1 {
			return fmt.Errorf("udp.queue_size must be positive, got %d", c.UDP.QueueSize)
		}
	}
	if c.Hub.QueueSize < 1 {
		return fmt.Errorf("hub.queue_size must be positive, got %d", c.Hub.QueueSize)
	}
	if c.Hub.PutTimeout <= 0 {
		return fmt.Errorf("hub.put_timeout must be positive, got %s", c.Hub.PutTimeout)
	}
	if c.Hub.MaxBackpressureRetries < 1 {
		return fmt.Errorf("hub.max_backpressure_retries must be positive, got %d", c.Hub.MaxBackpressureRetries)
	}
	if c.Rules.DedupTTL < 0 {
		return fmt.Errorf("rules.dedup_ttl must not be negative, got %s", c.Rules.DedupTTL)
	}
	if c.Recorder.Dir == "" {
		return fmt.Errorf("recorder.dir must not be empty")
	}
	if c.Recorder.QueueSize < 1 {
		return fmt.Errorf("recorder.queue_size must be positive, got %d", c.Recorder.QueueSize)
	}
	if c.Recorder.RetentionHours < 0 {
		return fmt.Errorf("recorder.retention_hours must not be negative, got %f", c.Recorder.RetentionHours)
	}
	if c.NATS.Enabled && !c.NATS.EmbeddedServer && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.enabled is true and no embedded server is configured")
	}
	if c.NATS.Enabled && c.NATS.Subject == "" {
		return fmt.Errorf("nats.subject is required when nats.enabled is true")
	}
	return nil
}
