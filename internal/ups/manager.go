package ups

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jamesprial/upswatch/internal/config"
	"github.com/jamesprial/upswatch/internal/metrics"
	"github.com/jamesprial/upswatch/internal/nut"
)

// Dialer opens a new upsd session.
type Dialer func(ctx context.Context, cfg nut.Config) (nut.Session, error)

// DialNUT is the production Dialer.
func DialNUT(ctx context.Context, cfg nut.Config) (nut.Session, error) {
	c, err := nut.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ConnectionManager owns the live upsd session. The monitor goroutine is the
// only caller of EnsureConnected; Invalidate may be called from anywhere.
type ConnectionManager struct {
	dial   Dialer
	logger *zap.SugaredLogger

	mu      sync.Mutex
	session nut.Session
	// gen is bumped by Invalidate so that a connect racing it can tell its
	// fresh session was made with stale settings.
	gen uint64
}

// NewConnectionManager creates a manager with no session.
func NewConnectionManager(dial Dialer, logger *zap.SugaredLogger) *ConnectionManager {
	if dial == nil {
		dial = DialNUT
	}
	return &ConnectionManager{dial: dial, logger: logger}
}

// Generation returns the invalidation counter. Read it before the settings
// passed to EnsureConnected so that an Invalidate in between is detected.
func (m *ConnectionManager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// EnsureConnected returns true when a usable session exists afterwards. It
// probes an existing session with VER and reconnects when the probe shows the
// connection is broken. s must be the settings current at generation gen; if
// the manager has been invalidated since, nothing is installed and false is
// returned. It never returns an error; failures are logged.
func (m *ConnectionManager) EnsureConnected(ctx context.Context, s config.Settings, gen uint64) bool {
	m.mu.Lock()
	sess, cur := m.session, m.gen
	m.mu.Unlock()

	if cur != gen {
		m.logger.Debug("connection settings changed before connecting, skipping cycle")
		return false
	}

	if sess == nil {
		m.logger.Info("Connecting...")
	} else {
		_, err := sess.Version(ctx)
		if err == nil {
			return true
		}
		switch cat := nut.Categorize(err); cat {
		case nut.CategoryProtocol, nut.CategoryTransient:
			// upsd answered, so the socket is fine.
			m.logger.Debugw("liveness probe returned protocol error", "error", err, "category", cat.String())
			return true
		default:
			m.logger.Warnw("Connection lost. Reconnecting...", "error", err, "category", cat.String())
			m.discard(sess)
		}
	}

	fresh, err := m.connect(ctx, s)
	metrics.IncConnectAttempt(err == nil)
	if err != nil {
		m.logger.Errorw("Unable to connect", "host", s.Host, "port", s.Port, "error", err)
		return false
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		_ = fresh.Close()
		m.logger.Debug("connection settings changed while connecting, discarding session")
		return false
	}
	m.session = fresh
	m.mu.Unlock()

	m.logger.Info("Connected!")
	return true
}

func (m *ConnectionManager) connect(ctx context.Context, s config.Settings) (nut.Session, error) {
	sess, err := m.dial(ctx, s.NUT())
	if err != nil {
		return nil, err
	}
	if _, err := sess.Version(ctx); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("probe new session: %w", err)
	}
	return sess, nil
}

// discard drops sess if it is still the current session.
func (m *ConnectionManager) discard(sess nut.Session) {
	m.mu.Lock()
	if m.session == sess {
		m.session = nil
	}
	m.mu.Unlock()
	_ = sess.Close()
}

// Invalidate drops and closes the current session so the next
// EnsureConnected reconnects with fresh settings.
func (m *ConnectionManager) Invalidate(reason string) {
	m.mu.Lock()
	m.gen++
	sess := m.session
	m.session = nil
	m.mu.Unlock()

	m.logger.Debugw("connection invalidated", "reason", reason)
	if sess != nil {
		_ = sess.Close()
	}
}

// ListVars fetches every variable of unit through the current session. A
// broken-connection error drops the session so the next cycle reconnects.
func (m *ConnectionManager) ListVars(ctx context.Context, unit string) (Snapshot, error) {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()

	if sess == nil {
		return nil, nut.ErrNotConnected
	}
	vars, err := sess.ListVars(ctx, unit)
	if err != nil {
		if nut.IsBroken(err) {
			m.logger.Warnw("Connection lost while fetching variables", "error", err)
			m.discard(sess)
		}
		return nil, err
	}
	return Snapshot(vars), nil
}

// Connected reports whether a session is installed.
func (m *ConnectionManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Close tears down the current session.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	m.gen++
	sess := m.session
	m.session = nil
	m.mu.Unlock()

	if sess == nil {
		return nil
	}
	return sess.Close()
}

// ListUnits opens a disposable session with cfg, independent of the live
// one, and returns the unit names it reports in sorted order.
func (m *ConnectionManager) ListUnits(ctx context.Context, cfg nut.Config) ([]string, error) {
	sess, err := m.dial(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = sess.Close() }()

	units, err := sess.ListUPS(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ups: %w", err)
	}

	names := make([]string, 0, len(units))
	for name := range units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
