// Package config loads the transport core's ambient runtime knobs from a
// YAML file, grounded on the teacher-adjacent backup agent's
// internal/config/agent.go: os.ReadFile, yaml.Unmarshal into a plain
// struct, then an applyDefaults() pass that fills in unset fields and a
// validate() pass that checks the result.
/*
 * Copyright (c) 2024-2026, Flowweave Authors.
 */
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the transport core's ambient runtime configuration: nothing
// here changes the FanoutFIFO/ACK-NACK/Monitor semantics themselves, only
// the knobs spec.md §4.3/§4.5 call out as operator-tunable (burst size,
// compression, bulk-mode byte rate, tunnel dial timeout, Monitor tick).
type Config struct {
	Queue   QueueConfig   `yaml:"queue"`
	Tunnel  TunnelConfig  `yaml:"tunnel"`
	Monitor MonitorConfig `yaml:"monitor"`
	Logging LoggingConfig `yaml:"logging"`
}

// QueueConfig controls the default capacity new port queues are created
// with (spec.md's "burst size"), absent a connection-specific override.
type QueueConfig struct {
	DefaultLength int `yaml:"default_length"`
}

// TunnelConfig controls the reference tunnel transport and the
// TunnelOutEndpoint knobs layered on top of the core ACK/NACK protocol.
type TunnelConfig struct {
	Compression     bool          `yaml:"compression"`
	BulkBytesPerSec float64       `yaml:"bulk_bytes_per_sec"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// MonitorConfig controls the Monitor's polling interval.
type MonitorConfig struct {
	Tick time.Duration `yaml:"tick"`
}

// LoggingConfig controls cmn/nlog's output destination and rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads and validates a YAML config file, filling in defaults for
// anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Queue.DefaultLength <= 0 {
		c.Queue.DefaultLength = 4
	}
	if c.Tunnel.DialTimeout <= 0 {
		c.Tunnel.DialTimeout = 3 * time.Second
	}
	if c.Monitor.Tick <= 0 {
		c.Monitor.Tick = 50 * time.Millisecond
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) validate() error {
	if c.Queue.DefaultLength < 1 {
		return fmt.Errorf("queue.default_length must be at least 1, got %d", c.Queue.DefaultLength)
	}
	if c.Tunnel.BulkBytesPerSec < 0 {
		return fmt.Errorf("tunnel.bulk_bytes_per_sec must not be negative, got %g", c.Tunnel.BulkBytesPerSec)
	}
	if c.Tunnel.DialTimeout <= 0 {
		return fmt.Errorf("tunnel.dial_timeout must be positive, got %s", c.Tunnel.DialTimeout)
	}
	if c.Monitor.Tick <= 0 {
		return fmt.Errorf("monitor.tick must be positive, got %s", c.Monitor.Tick)
	}
	switch c.Logging.Level {
	case "info", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of info/warning/error, got %q", c.Logging.Level)
	}
	return nil
}
