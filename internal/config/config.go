package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Platform PlatformConfig `yaml:"platform"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains webhook HTTP server configuration
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// PlatformConfig contains Circuit REST API configuration
type PlatformConfig struct {
	ClientID       string `yaml:"client_id"`       // must match the account linking setup of the voice app
	BaseURL        string `yaml:"base_url"`
	RequestTimeout int    `yaml:"request_timeout"` // seconds
}

// SessionConfig contains session lifecycle parameters
type SessionConfig struct {
	TimeoutMS   int `yaml:"timeout_ms"`
	AuthTimeout int `yaml:"auth_timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address: "0.0.0.0",
			Port:    8080,
		},
		Platform: PlatformConfig{
			BaseURL:        "https://circuitsandbox.net",
			RequestTimeout: 10,
		},
		Session: SessionConfig{
			TimeoutMS:   5 * 60 * 1000,
			AuthTimeout: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file on top of the defaults,
// applies environment overrides and validates the result. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.ApplyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("environment override failed: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides file values with the environment variables the hosting
// platform supplies.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv("PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT must be an integer, got '%s'", v)
		}
		c.Server.Port = port
	}

	if v := strings.TrimSpace(getenv("CIRCUIT_CLIENT_ID")); v != "" {
		c.Platform.ClientID = v
	}

	if v := strings.TrimSpace(getenv("CIRCUIT_BASE_URL")); v != "" {
		c.Platform.BaseURL = v
	}

	if v := strings.TrimSpace(getenv("SESSION_TIMEOUT_MS")); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SESSION_TIMEOUT_MS must be an integer, got '%s'", v)
		}
		c.Session.TimeoutMS = ms
	}

	if v := strings.TrimSpace(getenv("LOG_LEVEL")); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Platform.Validate(); err != nil {
		return fmt.Errorf("platform config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates platform configuration
func (p *PlatformConfig) Validate() error {
	if p.ClientID == "" {
		return fmt.Errorf("client_id cannot be empty")
	}

	if !strings.HasPrefix(p.BaseURL, "http://") && !strings.HasPrefix(p.BaseURL, "https://") {
		return fmt.Errorf("base_url must be an http(s) URL, got '%s'", p.BaseURL)
	}

	if p.RequestTimeout < 1 {
		return fmt.Errorf("request_timeout must be at least 1 second, got %d", p.RequestTimeout)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.TimeoutMS < 1000 {
		return fmt.Errorf("timeout_ms must be at least 1000, got %d", s.TimeoutMS)
	}

	if s.AuthTimeout < 1 {
		return fmt.Errorf("auth_timeout must be at least 1 second, got %d", s.AuthTimeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetRequestTimeoutDuration returns the per-call platform timeout as a time.Duration
func (p *PlatformConfig) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(p.RequestTimeout) * time.Second
}

// GetTimeoutDuration returns the session inactivity timeout as a time.Duration
func (s *SessionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// GetAuthTimeoutDuration returns the authentication timeout as a time.Duration
func (s *SessionConfig) GetAuthTimeoutDuration() time.Duration {
	return time.Duration(s.AuthTimeout) * time.Second
}

// ListenAddress returns the host:port the webhook server listens on
func (s *ServerConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}
