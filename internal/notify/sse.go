package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/jamesprial/upswatch/internal/ups"
)

const clientBuffer = 16

// Message is one server-sent event.
type Message struct {
	Event string
	Data  []byte
}

// SSEBroker fans out snapshots and status changes to connected clients.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan Message]struct{}
}

var _ Listener = (*SSEBroker)(nil)

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan Message]struct{})}
}

type snapshotPayload struct {
	Vars ups.Snapshot `json:"vars"`
}

// Notify pushes every snapshot as an "ups" event. Status changes arrive
// through OnStatusChanged instead.
func (b *SSEBroker) Notify(_ context.Context, n Notification) error {
	if b == nil || n.Kind != KindSnapshot {
		return nil
	}
	vars := n.Vars
	if vars == nil {
		vars = ups.Snapshot{}
	}
	payload, err := json.Marshal(snapshotPayload{Vars: vars})
	if err != nil {
		return err
	}
	b.broadcast(Message{Event: string(KindSnapshot), Data: payload})
	return nil
}

// OnStatusChanged is an EventBus handler pushing "status_changed" events.
func (b *SSEBroker) OnStatusChanged(_ context.Context, event StatusChangedEvent) error {
	if b == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	b.broadcast(Message{Event: EventStatusChanged, Data: payload})
	return nil
}

// Subscribe registers a new client channel.
func (b *SSEBroker) Subscribe() chan Message {
	if b == nil {
		return nil
	}
	ch := make(chan Message, clientBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a client channel. Unknown channels are
// ignored.
func (b *SSEBroker) Unsubscribe(ch chan Message) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; !ok {
		return
	}
	delete(b.clients, ch)
	close(ch)
}

// Clients returns the number of connected clients.
func (b *SSEBroker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// broadcast never blocks; a slow client misses messages. Sends happen under
// b.mu so that Unsubscribe cannot close a channel mid-send.
func (b *SSEBroker) broadcast(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// StreamHandler serves the SSE stream.
type StreamHandler struct {
	broker   *SSEBroker
	onAttach func()
}

// NewStreamHandler constructs a stream handler. onAttach, if set, runs after
// each client subscribes.
func NewStreamHandler(broker *SSEBroker, onAttach func()) *StreamHandler {
	return &StreamHandler{broker: broker, onAttach: onAttach}
}

// ServeHTTP handles GET /api/v1/ups/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	if h.onAttach != nil {
		h.onAttach()
	}

	done := r.Context().Done()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: " + msg.Event + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(msg.Data)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-done:
			return
		}
	}
}
