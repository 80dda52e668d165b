package ups

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// Link states.
const (
	LinkUnknown = "unknown"
	LinkOnline  = "online"
	LinkOffline = "offline"
)

// Link events.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// link tracks whether upsd is reachable. The "not connected" message is
// logged on entering offline only, so it appears once per outage.
type link struct {
	fsm *fsm.FSM
}

func newLink(logger *zap.SugaredLogger) *link {
	all := []string{LinkUnknown, LinkOnline, LinkOffline}
	return &link{
		fsm: fsm.NewFSM(
			LinkUnknown,
			fsm.Events{
				{Name: EventConnect, Src: all, Dst: LinkOnline},
				{Name: EventDisconnect, Src: all, Dst: LinkOffline},
			},
			fsm.Callbacks{
				"enter_" + LinkOffline: func(_ context.Context, e *fsm.Event) {
					logger.Warnw("Not connected to UPS server", "from", e.Src)
				},
				"enter_" + LinkOnline: func(_ context.Context, e *fsm.Event) {
					if e.Src == LinkOffline {
						logger.Debug("UPS server reachable again")
					}
				},
			},
		),
	}
}

// fire applies event. Repeats in the same state yield NoTransitionError,
// which is the suppression and is dropped.
func (l *link) fire(ctx context.Context, event string) {
	_ = l.fsm.Event(ctx, event)
}

// Current returns the link state.
func (l *link) Current() string {
	return l.fsm.Current()
}
