package ups

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jamesprial/upswatch/internal/config"
	"github.com/jamesprial/upswatch/internal/metrics"
	"github.com/jamesprial/upswatch/internal/nut"
	"github.com/jamesprial/upswatch/internal/pause"
)

// Publisher receives every snapshot and every status change. Both calls must
// return without blocking the poll loop.
type Publisher interface {
	Publish(snap Snapshot)
	StatusChanged(snap Snapshot)
}

// Pauser is the pause side of the job.
type Pauser interface {
	JobStatus(ctx context.Context) (pause.JobStatus, error)
	RequestPause(ctx context.Context) error
}

// Monitor runs the poll-and-diff loop.
type Monitor struct {
	conn     *ConnectionManager
	pub      Publisher
	pauser   Pauser
	interval time.Duration
	logger   *zap.SugaredLogger

	// cfgMu orders a settings swap and its invalidation against the
	// generation and settings read at the start of a cycle.
	cfgMu    sync.Mutex
	settings atomic.Pointer[config.Settings]
	state    State
	link     *link
}

// NewMonitor creates a monitor. pauser may be nil, which disables pausing.
func NewMonitor(conn *ConnectionManager, pub Publisher, pauser Pauser, s config.Settings, interval time.Duration, logger *zap.SugaredLogger) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	m := &Monitor{
		conn:     conn,
		pub:      pub,
		pauser:   pauser,
		interval: interval,
		logger:   logger,
		link:     newLink(logger),
	}
	m.settings.Store(&s)
	return m
}

// Run polls until ctx is cancelled. The first cycle runs immediately, then
// cycles are separated by a fixed delay.
func (m *Monitor) Run(ctx context.Context) error {
	prev := Snapshot{}
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return nil
		}
		prev = m.poll(ctx, prev)
		timer.Reset(m.interval)
	}
}

// poll runs one cycle and returns the snapshot to carry forward. A panic in
// the cycle is logged and prev is returned.
func (m *Monitor) poll(ctx context.Context, prev Snapshot) (next Snapshot) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorw("poll cycle panicked", "panic", r, "stack", string(debug.Stack()))
			metrics.ObservePoll(metrics.ResultError, time.Since(start))
			next = prev
		}
	}()

	next, result := m.cycle(ctx, prev)
	metrics.ObservePoll(result, time.Since(start))
	return next
}

func (m *Monitor) cycle(ctx context.Context, prev Snapshot) (Snapshot, string) {
	m.cfgMu.Lock()
	gen := m.conn.Generation()
	s := m.Settings()
	m.cfgMu.Unlock()

	if !m.conn.EnsureConnected(ctx, s, gen) {
		m.link.fire(ctx, EventDisconnect)
		m.pub.Publish(OfflineSnapshot())
		return prev, metrics.ResultOffline
	}
	m.link.fire(ctx, EventConnect)

	cur, err := m.conn.ListVars(ctx, s.UPSName)
	if err != nil {
		if nut.IsTransient(err) {
			m.pub.Publish(OfflineSnapshot())
			m.logger.Warnw(err.Error(), "ups", s.UPSName)
			return prev, metrics.ResultOffline
		}
		m.logger.Errorw("Error getting UPS variables",
			"ups", s.UPSName,
			"error", err,
			"category", nut.Categorize(err).String(),
		)
		return prev, metrics.ResultError
	}
	m.logger.Debugw("polled", "vars", cur)

	if err := m.detect(ctx, s, prev, cur); err != nil {
		m.logger.Errorw("poll cycle failed", "ups", s.UPSName, "error", err)
		return prev, metrics.ResultError
	}

	if m.state.statusChanged(cur) {
		m.pub.StatusChanged(cur)
	}
	m.pub.Publish(cur)
	m.state.store(cur)

	charge, hasCharge, chargeErr := cur.Charge()
	metrics.SetPower(cur.OnBattery(), charge, hasCharge && chargeErr == nil)

	return cur, metrics.ResultOK
}

// detect logs power transitions and charge changes, and requests a pause
// when the battery drops below the threshold during a print.
func (m *Monitor) detect(ctx context.Context, s config.Settings, prev, cur Snapshot) error {
	ob, obPrev := cur.OnBattery(), prev.OnBattery()

	switch {
	case ob:
		if !obPrev {
			m.logger.Info("Power lost. Running on battery.")
		}
		if !obPrev || cur[VarBatteryCharge] != prev[VarBatteryCharge] {
			m.logger.Infow(fmt.Sprintf("Battery remaining %s%%", cur[VarBatteryCharge]), "charge", cur[VarBatteryCharge])
			return m.maybePause(ctx, s, cur)
		}
	case obPrev:
		m.logger.Info("Power restored.")
	}
	return nil
}

func (m *Monitor) maybePause(ctx context.Context, s config.Settings, cur Snapshot) error {
	if !s.PauseEnabled || m.pauser == nil {
		return nil
	}

	job, err := m.pauser.JobStatus(ctx)
	if err != nil {
		m.logger.Warnw("Unable to query job state, not pausing", "error", err)
		return nil
	}
	// Paused and Pausing are never set together with Printing, so this also
	// skips a job that is already pausing.
	if !job.Printing {
		return nil
	}

	charge, ok, err := cur.Charge()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s missing while on battery", VarBatteryCharge)
	}
	if charge >= s.PauseThreshold {
		return nil
	}

	m.logger.Infow("Battery below threshold. Pausing job.", "charge", charge, "threshold", s.PauseThreshold)
	if err := m.pauser.RequestPause(ctx); err != nil {
		m.logger.Errorw("Unable to pause job", "error", err)
	}
	return nil
}

// UpdateSettings swaps the settings used from the next cycle on. A change to
// any connection field invalidates the session.
func (m *Monitor) UpdateSettings(s config.Settings) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()

	old := m.settings.Swap(&s)
	if old != nil && old.ConnectionChanged(s) {
		m.logger.Info("Connection information changed.")
		m.conn.Invalidate("settings changed")
	}
}

// Settings returns the current settings.
func (m *Monitor) Settings() config.Settings {
	return *m.settings.Load()
}

// Latest returns the last-known snapshot.
func (m *Monitor) Latest() Snapshot {
	return m.state.Latest()
}

// State exposes the last-known snapshot holder.
func (m *Monitor) State() *State {
	return &m.state
}

// LinkState returns the upsd link state.
func (m *Monitor) LinkState() string {
	return m.link.Current()
}

// Close closes the live session.
func (m *Monitor) Close() error {
	return m.conn.Close()
}

// ListUnits lists the units of an arbitrary server without touching the
// live session.
func (m *Monitor) ListUnits(ctx context.Context, cfg nut.Config) ([]string, error) {
	return m.conn.ListUnits(ctx, cfg)
}
