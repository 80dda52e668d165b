package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jamesprial/upswatch/internal/ups"
)

// EventStatusChanged is the type of the domain event raised when ups.status
// changes.
const EventStatusChanged = "status_changed"

// StatusChangedEvent is the status_changed domain event.
type StatusChangedEvent struct {
	ID         uuid.UUID    `json:"id"`
	Type       string       `json:"type"`
	OccurredAt time.Time    `json:"occurredAt"`
	Vars       ups.Snapshot `json:"vars"`
}

// StatusChangedHandler handles a status_changed event.
type StatusChangedHandler func(ctx context.Context, event StatusChangedEvent) error

// EventBus is a lightweight in-process bus for status_changed events.
type EventBus struct {
	mu       sync.RWMutex
	handlers []StatusChangedHandler
	now      func() time.Time
}

var _ Listener = (*EventBus)(nil)

// NewEventBus constructs a new bus.
func NewEventBus() *EventBus {
	return &EventBus{now: time.Now}
}

// SubscribeStatusChanged registers a handler.
func (b *EventBus) SubscribeStatusChanged(handler StatusChangedHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// PublishStatusChanged delivers event to every handler. All handlers run even
// when one fails; the failures are joined.
func (b *EventBus) PublishStatusChanged(ctx context.Context, event StatusChangedEvent) error {
	b.mu.RLock()
	handlers := append([]StatusChangedHandler(nil), b.handlers...)
	b.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Notify turns status-change notifications into domain events. Plain
// snapshots are ignored.
func (b *EventBus) Notify(ctx context.Context, n Notification) error {
	if n.Kind != KindStatusChanged {
		return nil
	}
	return b.PublishStatusChanged(ctx, StatusChangedEvent{
		ID:         uuid.New(),
		Type:       EventStatusChanged,
		OccurredAt: b.now().UTC(),
		Vars:       n.Vars,
	})
}

// LogSubscriber returns a handler that writes each event to logger.
func LogSubscriber(logger *zap.SugaredLogger) StatusChangedHandler {
	return func(_ context.Context, event StatusChangedEvent) error {
		status, _ := event.Vars.Status()
		logger.Infow("UPS status changed", "id", event.ID.String(), "status", status)
		return nil
	}
}
