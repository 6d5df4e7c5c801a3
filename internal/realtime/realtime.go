// Package realtime fans out live turn progress to connected clients: text
// deltas, reasoning deltas, and tool status changes, one channel per session.
//
// Broadcasting is strictly best-effort. The durable conversation history is
// the source of truth; a slow or disconnected subscriber loses events rather
// than slowing down the orchestration path.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/notelith/notelith/internal/observe"
)

// Event types published during a turn.
const (
	// EventToken is an incremental text delta of the assistant's answer.
	EventToken = "token"

	// EventReasoning is an incremental reasoning-channel delta.
	EventReasoning = "reasoning"

	// EventToolStatus reports a tool call starting, succeeding, or failing.
	EventToolStatus = "tool_status"
)

// Broadcaster publishes turn progress events to a session's channel.
//
// Publish must never block and must never fail the caller: transport problems
// are logged and swallowed. Payload values must be JSON-serializable; the hub
// injects the session id into the payload envelope so multiplexed consumers
// can filter.
type Broadcaster interface {
	Publish(sessionID, event string, payload map[string]any)
}

// NopBroadcaster discards all events. Used in tests and headless runs.
type NopBroadcaster struct{}

// Publish implements [Broadcaster].
func (NopBroadcaster) Publish(string, string, map[string]any) {}

var _ Broadcaster = NopBroadcaster{}

// ─────────────────────────────────────────────────────────────────────────────
// Hub
// ─────────────────────────────────────────────────────────────────────────────

// subscriberBuffer is the per-subscriber event queue depth. A subscriber that
// falls further behind than this loses events.
const subscriberBuffer = 64

// envelope is the wire form of a broadcast event.
type envelope struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

type subscriber struct {
	ch chan []byte
}

// Hub is an in-process [Broadcaster] with per-session subscriber sets.
//
// Events are fanned out non-blocking: a subscriber whose buffer is full drops
// the event. Hub is safe for concurrent use.
type Hub struct {
	log     *slog.Logger
	metrics *observe.Metrics

	mu       sync.RWMutex
	sessions map[string]map[*subscriber]struct{}

	// dropped counts events lost to full subscriber buffers, for tests and
	// metrics.
	dropped atomic.Int64
}

var _ Broadcaster = (*Hub)(nil)

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithMetrics enables recording of published events and the subscriber gauge.
func WithMetrics(m *observe.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates an empty [Hub].
func NewHub(log *slog.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		log:      log,
		sessions: map[string]map[*subscriber]struct{}{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish implements [Broadcaster]. The session id is injected into the
// payload as "sessionId".
func (h *Hub) Publish(sessionID, event string, payload map[string]any) {
	enriched := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		enriched[k] = v
	}
	enriched["sessionId"] = sessionID

	data, err := json.Marshal(envelope{Event: event, Payload: enriched})
	if err != nil {
		h.log.Error("realtime: event not serializable", "event", event, "error", err)
		return
	}
	if h.metrics != nil {
		// Publish has no caller context; events are fire-and-forget.
		h.metrics.RecordBroadcastEvent(context.Background(), event)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.sessions[sessionID] {
		select {
		case sub.ch <- data:
		default:
			h.dropped.Add(1)
			h.log.Debug("realtime: subscriber buffer full, event dropped",
				"session_id", sessionID, "event", event)
		}
	}
}

// Dropped returns the number of events lost to full subscriber buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Subscribe registers a new subscriber for the session and returns its event
// channel along with a cancel function that must be called when the consumer
// goes away.
func (h *Hub) Subscribe(sessionID string) (<-chan []byte, func()) {
	sub := &subscriber{ch: make(chan []byte, subscriberBuffer)}

	h.mu.Lock()
	set, ok := h.sessions[sessionID]
	if !ok {
		set = map[*subscriber]struct{}{}
		h.sessions[sessionID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RealtimeSubscribers.Add(context.Background(), 1)
	}

	cancel := func() {
		h.mu.Lock()
		removed := false
		if set, ok := h.sessions[sessionID]; ok {
			if _, ok := set[sub]; ok {
				delete(set, sub)
				removed = true
			}
			if len(set) == 0 {
				delete(h.sessions, sessionID)
			}
		}
		h.mu.Unlock()

		if removed && h.metrics != nil {
			h.metrics.RealtimeSubscribers.Add(context.Background(), -1)
		}
	}
	return sub.ch, cancel
}

// SubscriberCount returns the number of active subscribers for the session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// ─────────────────────────────────────────────────────────────────────────────
// WebSocket transport
// ─────────────────────────────────────────────────────────────────────────────

// ServeWS upgrades the request to a WebSocket and streams the session's
// events to the client until the client disconnects or the request context
// ends. The session id is taken from the "session" query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "missing session parameter", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("realtime: websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	events, cancel := h.Subscribe(sessionID)
	defer cancel()

	h.log.Debug("realtime: subscriber connected", "session_id", sessionID)

	ctx := r.Context()

	// Drain client frames so pings and close frames are processed; the
	// channel is write-only from our side.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case data, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				h.log.Debug("realtime: subscriber write failed", "session_id", sessionID, "error", err)
				return
			}
		}
	}
}
