package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/jamesprial/upswatch/internal/nut"
)

const redacted = "********"

// Settings is the immutable value one polling cycle works from. A new value
// replaces the old one wholesale when settings change.
type Settings struct {
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Auth     bool          `json:"auth"`
	Username string        `json:"username"`
	Password string        `json:"password"`
	UPSName  string        `json:"ups"`
	Timeout  time.Duration `json:"timeout"`

	PauseEnabled   bool    `json:"pause"`
	PauseThreshold float64 `json:"pauseThreshold"`

	BatteryHigh int `json:"batteryHigh"`
	BatteryLow  int `json:"batteryLow"`
}

// Credentials returns the username and password to send. They are always
// empty when Auth is off, whatever is stored.
func (s Settings) Credentials() (username, password string) {
	if !s.Auth {
		return "", ""
	}
	return s.Username, s.Password
}

// NUT returns the client configuration for dialing upsd.
func (s Settings) NUT() nut.Config {
	user, pass := s.Credentials()
	return nut.Config{
		Host:     s.Host,
		Port:     s.Port,
		Username: user,
		Password: pass,
		Timeout:  s.Timeout,
	}
}

// ConnectionChanged reports whether any field that identifies the upsd
// session differs between s and other.
func (s Settings) ConnectionChanged(other Settings) bool {
	return s.Host != other.Host ||
		s.Port != other.Port ||
		s.Auth != other.Auth ||
		s.Username != other.Username ||
		s.Password != other.Password ||
		s.UPSName != other.UPSName
}

// Redacted returns a copy safe to hand to clients.
func (s Settings) Redacted() Settings {
	if s.Password != "" {
		s.Password = redacted
	}
	return s
}

// Validate checks ranges.
func (s Settings) Validate() error {
	var errs []error
	if s.Host == "" {
		errs = append(errs, errors.New("nut.host is required"))
	}
	if s.Port < 0 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("nut.port %d out of range", s.Port))
	}
	if s.UPSName == "" {
		errs = append(errs, errors.New("nut.ups is required"))
	}
	if s.PauseThreshold < 0 || s.PauseThreshold > 100 {
		errs = append(errs, fmt.Errorf("pause.threshold %v out of range 0..100", s.PauseThreshold))
	}
	if s.BatteryLow < 0 || s.BatteryHigh > 100 || s.BatteryLow > s.BatteryHigh {
		errs = append(errs, fmt.Errorf("display bands %d..%d invalid", s.BatteryLow, s.BatteryHigh))
	}
	return errors.Join(errs...)
}

// SettingsUpdate is a partial update; nil fields keep their current value.
type SettingsUpdate struct {
	Host           *string  `json:"host,omitempty"`
	Port           *int     `json:"port,omitempty"`
	Auth           *bool    `json:"auth,omitempty"`
	Username       *string  `json:"username,omitempty"`
	Password       *string  `json:"password,omitempty"`
	UPSName        *string  `json:"ups,omitempty"`
	PauseEnabled   *bool    `json:"pause,omitempty"`
	PauseThreshold *float64 `json:"pauseThreshold,omitempty"`
	BatteryHigh    *int     `json:"batteryHigh,omitempty"`
	BatteryLow     *int     `json:"batteryLow,omitempty"`
}

// Apply merges u into s and validates the result.
func (s Settings) Apply(u SettingsUpdate) (Settings, error) {
	set(&s.Host, u.Host)
	set(&s.Port, u.Port)
	set(&s.Auth, u.Auth)
	set(&s.Username, u.Username)
	set(&s.UPSName, u.UPSName)
	set(&s.PauseEnabled, u.PauseEnabled)
	set(&s.PauseThreshold, u.PauseThreshold)
	set(&s.BatteryHigh, u.BatteryHigh)
	set(&s.BatteryLow, u.BatteryLow)
	// A redacted round-trip must not overwrite the stored secret.
	if u.Password != nil && *u.Password != redacted {
		s.Password = *u.Password
	}

	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
