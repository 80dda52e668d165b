// Package config provides configuration loading and defaults for the upswatch server.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jamesprial/upswatch/internal/nut"
)

// ServerConfig holds network and authentication settings.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
	// JWTSecret enables HS256 role tokens alongside the static token.
	JWTSecret string `yaml:"jwt_secret"`
}

// NUTConfig is the upsd connection section.
type NUTConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Auth     bool          `yaml:"auth"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	UPS      string        `yaml:"ups"`
	Timeout  time.Duration `yaml:"timeout"`
}

// PauseConfig controls the low-battery pause.
type PauseConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
}

// DisplayConfig carries the charge bands shown by front ends.
type DisplayConfig struct {
	BatteryHigh int `yaml:"battery_high"`
	BatteryLow  int `yaml:"battery_low"`
}

// PollConfig controls the poll cadence.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// JobConfig holds connection details for the print host's job API.
type JobConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// EventsConfig configures outbound domain-event delivery.
type EventsConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// AuditConfig controls audit logging behaviour.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	LogPath string `yaml:"log_path"`
}

// LoggingConfig selects the zap level and encoder.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the top-level configuration structure for the upswatch server.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	NUT     NUTConfig     `yaml:"nut"`
	Pause   PauseConfig   `yaml:"pause"`
	Display DisplayConfig `yaml:"display"`
	Poll    PollConfig    `yaml:"poll"`
	Job     JobConfig     `yaml:"job"`
	Events  EventsConfig  `yaml:"events"`
	Audit   AuditConfig   `yaml:"audit"`
	Logging LoggingConfig `yaml:"logging"`
}

// LoadConfig reads and parses a YAML configuration file from the given path.
// Sections missing from the file keep their DefaultConfig values.
// On error, nil is returned for the config pointer.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a new Config populated with sensible default values.
// Each call returns a distinct instance.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
		},
		NUT: NUTConfig{
			Host:    "localhost",
			Port:    nut.DefaultPort,
			UPS:     "ups",
			Timeout: nut.DefaultTimeout,
		},
		Pause: PauseConfig{
			Threshold: 50,
		},
		Display: DisplayConfig{
			BatteryHigh: 70,
			BatteryLow:  25,
		},
		Poll: PollConfig{
			Interval: time.Second,
		},
		Job: JobConfig{
			URL:     "http://localhost:5000",
			Timeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled: true,
			LogPath: "/config/audit.log",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// ApplyEnvOverrides updates cfg in place with values from environment variables.
// Recognized variables:
//   - UPSWATCH_AUTH_TOKEN overrides cfg.Server.AuthToken
//   - UPSWATCH_JWT_SECRET overrides cfg.Server.JWTSecret
//   - UPSWATCH_NUT_HOST overrides cfg.NUT.Host
//   - UPSWATCH_NUT_PASSWORD overrides cfg.NUT.Password
//   - UPSWATCH_JOB_URL overrides cfg.Job.URL
//   - UPSWATCH_JOB_API_KEY overrides cfg.Job.APIKey
//   - UPSWATCH_LOG_LEVEL overrides cfg.Logging.Level
func ApplyEnvOverrides(cfg *Config) {
	overrides := []struct {
		env string
		dst *string
	}{
		{"UPSWATCH_AUTH_TOKEN", &cfg.Server.AuthToken},
		{"UPSWATCH_JWT_SECRET", &cfg.Server.JWTSecret},
		{"UPSWATCH_NUT_HOST", &cfg.NUT.Host},
		{"UPSWATCH_NUT_PASSWORD", &cfg.NUT.Password},
		{"UPSWATCH_JOB_URL", &cfg.Job.URL},
		{"UPSWATCH_JOB_API_KEY", &cfg.Job.APIKey},
		{"UPSWATCH_LOG_LEVEL", &cfg.Logging.Level},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

// Validate checks the values LoadConfig cannot check by type alone.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, fmt.Errorf("poll.interval must be positive, got %s", c.Poll.Interval))
	}
	if c.NUT.Timeout < 0 {
		errs = append(errs, fmt.Errorf("nut.timeout must not be negative"))
	}
	if err := c.Settings().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Settings derives the immutable runtime settings from the file sections.
func (c *Config) Settings() Settings {
	return Settings{
		Host:           c.NUT.Host,
		Port:           c.NUT.Port,
		Auth:           c.NUT.Auth,
		Username:       c.NUT.Username,
		Password:       c.NUT.Password,
		UPSName:        c.NUT.UPS,
		Timeout:        c.NUT.Timeout,
		PauseEnabled:   c.Pause.Enabled,
		PauseThreshold: c.Pause.Threshold,
		BatteryHigh:    c.Display.BatteryHigh,
		BatteryLow:     c.Display.BatteryLow,
	}
}

// EnsureAuthToken generates a random auth token and sets it on cfg if
// neither a static token nor a JWT secret is configured. It returns the
// token (existing or generated, empty when only JWT is in use) and any error
// encountered during generation.
func EnsureAuthToken(cfg *Config) (string, error) {
	if cfg.Server.AuthToken != "" || cfg.Server.JWTSecret != "" {
		return cfg.Server.AuthToken, nil
	}
	token, err := GenerateRandomToken()
	if err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	cfg.Server.AuthToken = token
	return token, nil
}

// GenerateRandomToken returns a 32-character hex-encoded cryptographically
// random token string.
func GenerateRandomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("rand.Read: %w", err)
	}
	return hex.EncodeToString(b), nil
}
