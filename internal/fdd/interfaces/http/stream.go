package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	fdd "ahu-fdd/internal/fdd/domain"
)

const clientBuffer = 16

// SSEBroker fans alarm transitions out to connected stream clients. Slow clients miss
// events instead of blocking the scheduler.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
	seq     uint64
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan []byte]struct{})}
}

// WriteAlarm implements application.AlarmWriter.
func (b *SSEBroker) WriteAlarm(_ context.Context, transition fdd.AlarmTransition) error {
	if b == nil {
		return nil
	}
	payload, err := json.Marshal(transition)
	if err != nil {
		return err
	}
	b.broadcast(payload)
	return nil
}

// Subscribe registers a new client channel.
func (b *SSEBroker) Subscribe() chan []byte {
	if b == nil {
		return nil
	}
	ch := make(chan []byte, clientBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel.
func (b *SSEBroker) Unsubscribe(ch chan []byte) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	_, ok := b.clients[ch]
	delete(b.clients, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Clients returns the number of connected clients.
func (b *SSEBroker) Clients() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// broadcast sends under the lock so Unsubscribe cannot close a channel mid-send. Sends
// never block.
func (b *SSEBroker) broadcast(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	frame := []byte(fmt.Sprintf("id: %d\nevent: alarm\ndata: %s\n\n", b.seq, payload))
	for ch := range b.clients {
		select {
		case ch <- frame:
		default:
		}
	}
}

// StreamHandler serves the alarm transition stream.
type StreamHandler struct {
	broker    *SSEBroker
	keepAlive time.Duration
}

// NewStreamHandler constructs a stream handler. A positive keepAlive sends comment frames
// so idle proxies keep the connection open.
func NewStreamHandler(broker *SSEBroker, keepAlive time.Duration) *StreamHandler {
	return &StreamHandler{broker: broker, keepAlive: keepAlive}
}

// ServeHTTP handles GET /api/v1/alarms/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	var tick <-chan time.Time
	if h.keepAlive > 0 {
		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(frame)
			flusher.Flush()
		case <-tick:
			_, _ = w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
