package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jamesprial/upswatch/internal/metrics"
)

// WebhookQueueSize bounds the events waiting for webhook delivery.
const WebhookQueueSize = 16

// ErrWebhookQueueFull is returned by Enqueue when delivery is backed up.
var ErrWebhookQueueFull = errors.New("webhook channel: queue full")

// WebhookChannel posts status_changed events to an HTTP endpoint. Delivery
// runs on its own goroutine so a slow endpoint never holds up the
// notification dispatcher.
type WebhookChannel struct {
	url    string
	client *http.Client
	queue  chan StatusChangedEvent
	logger *zap.SugaredLogger
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithLogger sets the logger used for failed deliveries.
func WithLogger(logger *zap.SugaredLogger) WebhookOption {
	return func(ch *WebhookChannel) {
		if logger != nil {
			ch.logger = logger
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		queue:  make(chan StatusChangedEvent, WebhookQueueSize),
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Enqueue hands event to the delivery goroutine without blocking. It
// satisfies StatusChangedHandler.
func (w *WebhookChannel) Enqueue(_ context.Context, event StatusChangedEvent) error {
	select {
	case w.queue <- event:
		return nil
	default:
		metrics.IncDropped()
		return ErrWebhookQueueFull
	}
}

// Run delivers queued events one at a time until ctx is cancelled.
func (w *WebhookChannel) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-w.queue:
			if err := w.Send(ctx, event); err != nil {
				w.logger.Warnw("webhook delivery failed", "id", event.ID.String(), "error", err)
			}
		}
	}
}

// Send posts event as JSON and waits for the response.
func (w *WebhookChannel) Send(ctx context.Context, event StatusChangedEvent) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook channel: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
