// Package app ties the monitor and the notification publisher to the host
// lifecycle.
package app

import (
	"context"
	"errors"
	"sync"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/jamesprial/upswatch/internal/config"
	"github.com/jamesprial/upswatch/internal/notify"
	"github.com/jamesprial/upswatch/internal/ups"
)

// ErrAlreadyStarted is returned by a second Startup.
var ErrAlreadyStarted = errors.New("app: service already started")

// Lifecycle is what the host drives.
type Lifecycle interface {
	Startup(ctx context.Context) error
	SettingsChanged(s config.Settings)
	Shutdown() error
	ClientAttached()
}

var _ Lifecycle = (*Service)(nil)

// Service runs the poll loop and the notification dispatcher.
type Service struct {
	monitor   *ups.Monitor
	publisher *notify.Publisher
	logger    *zap.SugaredLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      *conc.WaitGroup
	started bool

	// settingsMu serialises read-modify-write settings changes.
	settingsMu sync.Mutex
}

// NewService creates a stopped service.
func NewService(monitor *ups.Monitor, publisher *notify.Publisher, logger *zap.SugaredLogger) *Service {
	return &Service{monitor: monitor, publisher: publisher, logger: logger}
}

// Startup starts the monitor and the dispatcher. They stop when ctx is
// cancelled or Shutdown is called.
func (s *Service) Startup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg = conc.NewWaitGroup()
	s.started = true

	s.wg.Go(func() {
		if err := s.publisher.Run(ctx); err != nil {
			s.logger.Errorw("notification dispatcher stopped", "error", err)
		}
	})
	s.wg.Go(func() {
		if err := s.monitor.Run(ctx); err != nil {
			s.logger.Errorw("monitor stopped", "error", err)
		}
	})

	st := s.monitor.Settings()
	s.logger.Infow("UPS monitor started", "host", st.Host, "port", st.Port, "ups", st.UPSName)
	return nil
}

// SettingsChanged hands new settings to the monitor.
func (s *Service) SettingsChanged(next config.Settings) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	s.apply(next)
}

// UpdateSettings merges u into the settings in effect and applies the
// result. Concurrent updates are serialised so none is lost.
func (s *Service) UpdateSettings(u config.SettingsUpdate) (config.Settings, error) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	next, err := s.monitor.Settings().Apply(u)
	if err != nil {
		return config.Settings{}, err
	}
	s.apply(next)
	return next, nil
}

func (s *Service) apply(next config.Settings) {
	s.monitor.UpdateSettings(next)
	s.logger.Debugw("settings applied", "settings", next.Redacted())
}

// ApplyConfig is the config-watcher callback.
func (s *Service) ApplyConfig(cfg *config.Config) {
	s.SettingsChanged(cfg.Settings())
}

// Settings returns the settings in effect.
func (s *Service) Settings() config.Settings {
	return s.monitor.Settings()
}

// ClientAttached re-sends the last-known snapshot to push clients.
func (s *Service) ClientAttached() {
	s.publisher.ClientAttached()
}

// Shutdown stops both goroutines, waits for them and closes the upsd
// session. It is safe to call when not started.
func (s *Service) Shutdown() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return s.monitor.Close()
	}
	s.cancel()
	wg := s.wg
	s.started = false
	s.mu.Unlock()

	if r := wg.WaitAndRecover(); r != nil {
		s.logger.Errorw("background task panicked", "panic", r.Value, "stack", string(r.Stack))
	}
	return s.monitor.Close()
}
