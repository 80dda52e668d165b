package ups

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jamesprial/upswatch/internal/config"
	"github.com/jamesprial/upswatch/internal/nut"
	"github.com/jamesprial/upswatch/internal/pause"
)

// ---- Mocks ----

type mockSession struct {
	versionFunc  func(ctx context.Context) (string, error)
	listVarsFunc func(ctx context.Context, ups string) (map[string]string, error)
	listUPSFunc  func(ctx context.Context) (map[string]string, error)

	mu     sync.Mutex
	closed int
}

var _ nut.Session = (*mockSession)(nil)

func (m *mockSession) Version(ctx context.Context) (string, error) {
	if m.versionFunc != nil {
		return m.versionFunc(ctx)
	}
	return "Network UPS Tools upsd 2.8.1", nil
}

func (m *mockSession) ListVars(ctx context.Context, ups string) (map[string]string, error) {
	if m.listVarsFunc != nil {
		return m.listVarsFunc(ctx, ups)
	}
	return map[string]string{VarStatus: "OL"}, nil
}

func (m *mockSession) ListUPS(ctx context.Context) (map[string]string, error) {
	if m.listUPSFunc != nil {
		return m.listUPSFunc(ctx)
	}
	return map[string]string{}, nil
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
	return nil
}

func (m *mockSession) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// mockDialer hands out sessions from dialFunc and records every config.
type mockDialer struct {
	dialFunc func(ctx context.Context, cfg nut.Config) (nut.Session, error)

	mu    sync.Mutex
	calls []nut.Config
}

func (d *mockDialer) Dial(ctx context.Context, cfg nut.Config) (nut.Session, error) {
	d.mu.Lock()
	d.calls = append(d.calls, cfg)
	d.mu.Unlock()
	return d.dialFunc(ctx, cfg)
}

func (d *mockDialer) configs() []nut.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]nut.Config(nil), d.calls...)
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []Snapshot
	changed   []Snapshot
}

func (p *recordingPublisher) Publish(s Snapshot) {
	p.mu.Lock()
	p.published = append(p.published, s)
	p.mu.Unlock()
}

func (p *recordingPublisher) StatusChanged(s Snapshot) {
	p.mu.Lock()
	p.changed = append(p.changed, s)
	p.mu.Unlock()
}

func (p *recordingPublisher) snapshot() (published, changed []Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Snapshot(nil), p.published...), append([]Snapshot(nil), p.changed...)
}

type mockPauser struct {
	statusFunc  func(ctx context.Context) (pause.JobStatus, error)
	requestFunc func(ctx context.Context) error

	mu       sync.Mutex
	requests int
}

func (p *mockPauser) JobStatus(ctx context.Context) (pause.JobStatus, error) {
	if p.statusFunc != nil {
		return p.statusFunc(ctx)
	}
	return pause.JobStatus{State: "Printing", Printing: true}, nil
}

func (p *mockPauser) RequestPause(ctx context.Context) error {
	p.mu.Lock()
	p.requests++
	p.mu.Unlock()
	if p.requestFunc != nil {
		return p.requestFunc(ctx)
	}
	return nil
}

func (p *mockPauser) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

// ---- Helpers ----

func observedLogger() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core).Sugar(), logs
}

func testSettings() config.Settings {
	s := config.DefaultConfig().Settings()
	s.UPSName = "cp1500"
	s.PauseEnabled = true
	s.PauseThreshold = 50
	return s
}

// scriptedSession returns the snapshots in order, repeating the last one.
func scriptedSession(snaps ...Snapshot) *mockSession {
	var (
		mu sync.Mutex
		i  int
	)
	return &mockSession{
		listVarsFunc: func(context.Context, string) (map[string]string, error) {
			mu.Lock()
			defer mu.Unlock()
			s := snaps[i]
			if i < len(snaps)-1 {
				i++
			}
			return s.Clone(), nil
		},
	}
}
