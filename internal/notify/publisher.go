// Package notify fans poll results out to push clients and domain-event
// subscribers without blocking the poll loop.
package notify

import (
	"context"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/jamesprial/upswatch/internal/metrics"
	"github.com/jamesprial/upswatch/internal/ups"
)

// QueueSize bounds the number of undelivered notifications.
const QueueSize = 64

// Kind distinguishes a plain snapshot from a status change.
type Kind string

const (
	KindSnapshot      Kind = "ups"
	KindStatusChanged Kind = "status_changed"
)

// Notification is one queued delivery.
type Notification struct {
	Kind Kind
	Vars ups.Snapshot
}

// Listener receives every notification from the dispatcher goroutine.
type Listener interface {
	Notify(ctx context.Context, n Notification) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f ListenerFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// LatestSource supplies the last-known snapshot for late joiners.
type LatestSource interface {
	Latest() ups.Snapshot
}

// Publisher queues notifications and delivers them on a single goroutine.
type Publisher struct {
	queue     chan Notification
	listeners []Listener
	latest    LatestSource
	logger    *zap.SugaredLogger
}

var _ ups.Publisher = (*Publisher)(nil)

// NewPublisher creates a publisher. latest may be nil, which disables the
// late-join re-send.
func NewPublisher(latest LatestSource, logger *zap.SugaredLogger, listeners ...Listener) *Publisher {
	return &Publisher{
		queue:     make(chan Notification, QueueSize),
		listeners: listeners,
		latest:    latest,
		logger:    logger,
	}
}

// SetLatestSource installs the late-join source. It must be called before Run.
func (p *Publisher) SetLatestSource(src LatestSource) {
	p.latest = src
}

// Publish queues a snapshot for every listener.
func (p *Publisher) Publish(snap ups.Snapshot) {
	p.enqueue(Notification{Kind: KindSnapshot, Vars: snap.Clone()})
}

// StatusChanged queues a status change for every listener.
func (p *Publisher) StatusChanged(snap ups.Snapshot) {
	p.enqueue(Notification{Kind: KindStatusChanged, Vars: snap.Clone()})
}

// ClientAttached re-sends the last-known snapshot so that a client that just
// connected does not have to wait for the next poll.
func (p *Publisher) ClientAttached() {
	if p.latest == nil {
		return
	}
	snap := p.latest.Latest()
	if snap == nil {
		return
	}
	p.enqueue(Notification{Kind: KindSnapshot, Vars: snap})
}

func (p *Publisher) enqueue(n Notification) {
	select {
	case p.queue <- n:
	default:
		metrics.IncDropped()
		p.logger.Warnw("Notification queue full, dropping", "kind", string(n.Kind))
	}
}

// Run delivers queued notifications until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-p.queue:
			p.dispatch(ctx, n)
		}
	}
}

func (p *Publisher) dispatch(ctx context.Context, n Notification) {
	for i, l := range p.listeners {
		var (
			pc  panics.Catcher
			err error
		)
		pc.Try(func() { err = l.Notify(ctx, n) })

		if r := pc.Recovered(); r != nil {
			p.logger.Errorw("notification listener panicked", "listener", i, "kind", string(n.Kind), "panic", r.Value, "stack", string(r.Stack))
			continue
		}
		if err != nil {
			p.logger.Warnw("notification listener failed", "listener", i, "kind", string(n.Kind), "error", err)
		}
	}
}
