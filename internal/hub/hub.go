// Package hub fans out detection and telemetry events to websocket
// subscribers. Delivery is best effort: each subscriber gets events in
// publish order until it falls behind, at which point it is dropped so a
// slow client can never stall the pipeline.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event is one message broadcast to all subscribers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Event types published by the service.
const (
	TypeDetection         = "detection"
	TypeAudioLevel        = "audio_level"
	TypeDeviceRegistered  = "device_registered"
	TypeDeviceUpdated     = "device_updated"
	TypeDeviceDeleted     = "device_deleted"
	TypeDetectionsCleared = "detections_cleared"
)

// Subscription is one subscriber's view of the hub. The Receive channel is
// closed when the subscriber is dropped for falling behind or when Close is
// called.
type Subscription struct {
	ch     chan []byte
	closed bool // guarded by the hub mutex
}

// Receive returns the channel of marshaled events for this subscriber.
func (s *Subscription) Receive() <-chan []byte { return s.ch }

// Hub is the broadcast fan-out point. Safe for concurrent use.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}

	buffer int
	onDrop func()
	log    *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithBufferSize sets the per-subscriber event buffer.
func WithBufferSize(n int) Option {
	return func(h *Hub) { h.buffer = n }
}

// WithDropCallback registers fn to be called each time a subscriber is
// dropped for falling behind.
func WithDropCallback(fn func()) Option {
	return func(h *Hub) { h.onDrop = fn }
}

// WithLogger sets the logger used for drop events.
func WithLogger(log *slog.Logger) Option {
	return func(h *Hub) { h.log = log }
}

// New creates a Hub with a 16-event per-subscriber buffer unless overridden.
func New(opts ...Option) *Hub {
	h := &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: 16,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a new subscriber. The caller must call Unsubscribe
// when done.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	s := &Subscription{ch: make(chan []byte, h.buffer)}
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// SetBufferSize changes the buffer applied to future subscribers. Existing
// subscriptions keep the capacity they were created with. Non-positive
// values are ignored.
func (h *Hub) SetBufferSize(n int) {
	if n <= 0 {
		return
	}
	h.mu.Lock()
	h.buffer = n
	h.mu.Unlock()
}

// Unsubscribe removes s and closes its channel. Safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(s)
}

// remove must be called with h.mu held.
func (h *Hub) remove(s *Subscription) {
	if s.closed {
		return
	}
	s.closed = true
	delete(h.subs, s)
	close(s.ch)
}

// Close drops every subscriber, closing their receive channels. Used during
// shutdown so websocket handlers terminate promptly. The hub remains usable;
// Publish simply has no recipients afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		h.remove(s)
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish marshals e once and queues it to every subscriber. Subscribers
// whose buffer is full are dropped; Publish itself never blocks.
func (h *Hub) Publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.log.Error("dropping unmarshalable event", "type", e.Type, "error", err)
		return
	}

	var dropped int
	h.mu.Lock()
	for s := range h.subs {
		select {
		case s.ch <- payload:
		default:
			h.remove(s)
			dropped++
		}
	}
	h.mu.Unlock()

	for range dropped {
		h.log.Warn("dropped slow subscriber", "type", e.Type)
		if h.onDrop != nil {
			h.onDrop()
		}
	}
}
