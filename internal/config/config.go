// Package config loads server configuration and the persisted system
// identity.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default network ports.
const (
	DefaultTCPPort = 9999
	DefaultUDPPort = 9998
)

// Config is the complete server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig contains transport bind settings.
type ServerConfig struct {
	TCPPort     int    `yaml:"tcp_port"`
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
}

// SessionConfig contains session lifecycle settings.
type SessionConfig struct {
	TimeoutSeconds       int `yaml:"timeout_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// MetricsConfig contains the optional Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Timeout returns the session inactivity timeout as a duration.
func (c SessionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SweepInterval returns the reaper period as a duration.
func (c SessionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			TCPPort:     DefaultTCPPort,
			UDPPort:     DefaultUDPPort,
			BindAddress: "0.0.0.0",
		},
		Session: SessionConfig{
			TimeoutSeconds:       30,
			SweepIntervalSeconds: 10,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    2112,
		},
	}
}

// Load reads a YAML configuration file, fills unset fields with
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.BindAddress == "" {
		c.Server.BindAddress = def.Server.BindAddress
	}
	if c.Session.TimeoutSeconds == 0 {
		c.Session.TimeoutSeconds = def.Session.TimeoutSeconds
	}
	if c.Session.SweepIntervalSeconds == 0 {
		c.Session.SweepIntervalSeconds = def.Session.SweepIntervalSeconds
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = def.Metrics.Port
	}
}

// Validate checks the configuration for out-of-range values. Port 0 is
// allowed for the transports (the OS picks a free port, used in tests).
func (c *Config) Validate() error {
	if c.Server.TCPPort < 0 || c.Server.TCPPort > 65535 {
		return fmt.Errorf("invalid TCP port: %d", c.Server.TCPPort)
	}
	if c.Server.UDPPort < 0 || c.Server.UDPPort > 65535 {
		return fmt.Errorf("invalid UDP port: %d", c.Server.UDPPort)
	}
	if c.Server.TCPPort != 0 && c.Server.TCPPort == c.Server.UDPPort {
		return fmt.Errorf("TCP and UDP ports must differ, both are %d", c.Server.TCPPort)
	}
	if c.Session.TimeoutSeconds <= 0 {
		return fmt.Errorf("session timeout must be positive, got %d", c.Session.TimeoutSeconds)
	}
	if c.Session.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %d", c.Session.SweepIntervalSeconds)
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
	}
	return nil
}
