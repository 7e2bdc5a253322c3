package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepulse/backend/internal/metrics"
)

// Defaults for connection heartbeat and buffering.
const (
	DefaultPingInterval = 30 * time.Second
	DefaultPongWait     = 60 * time.Second
	DefaultSendBuffer   = 256
)

// StreamPublisher publishes session events to the shared change stream (Redis in production).
type StreamPublisher interface {
	PublishSessionEvent(sessionID uuid.UUID, event string, payload []byte) error
}

// StreamSubscriber opens the per-session change stream and invokes handler for every event.
type StreamSubscriber interface {
	SubscribeSession(sessionID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Snapshotter produces the full state a view needs after (re)connecting.
type Snapshotter interface {
	Snapshot(ctx context.Context, sessionID uuid.UUID, view View) (interface{}, error)
}

// Hub maintains session_id -> set of connections and fans change events out to them.
// With a stream configured, every event goes through it, so all instances (this one
// included) deliver it exactly once from the subscription callback.
type Hub struct {
	sessions map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func() // cancel stream subscription per session
	mu       sync.RWMutex
	logger   *zap.Logger
	pub      StreamPublisher
	sub      StreamSubscriber
}

// NewHub creates a hub. pub and sub may be nil for a single-instance, local-only hub.
func NewHub(logger *zap.Logger, pub StreamPublisher, sub StreamSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		pub:      pub,
		sub:      sub,
	}
}

// Register adds a client to a session room. Opens the session's change stream if this instance
// does not hold it yet. When the stream cannot be opened the client is not added and the error
// is returned, so the caller can drop the connection and let the client reconnect and refetch.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	if h.sub != nil && h.subs[c.SessionID] == nil {
		sessionID := c.SessionID
		cancel, err := h.sub.SubscribeSession(sessionID, func(event string, payload []byte) {
			h.deliver(sessionID, event, payload)
		})
		if err != nil {
			h.mu.Unlock()
			h.logger.Error("open session stream", zap.Error(err), zap.String("session_id", sessionID.String()))
			return fmt.Errorf("open session stream: %w", err)
		}
		h.subs[sessionID] = cancel
		metrics.SessionStreams.Inc()
	}
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
	}
	h.sessions[c.SessionID][c.ID] = c
	h.mu.Unlock()
	metrics.Subscribers.WithLabelValues(string(c.View)).Inc()
	h.logger.Debug("client joined session", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()), zap.String("view", string(c.View)))
	return nil
}

// Unregister removes a client. Tears the session's change stream down when the last local
// client leaves. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	m, ok := h.sessions[c.SessionID]
	if !ok || m[c.ID] == nil {
		h.mu.Unlock()
		return
	}
	delete(m, c.ID)
	if len(m) == 0 {
		delete(h.sessions, c.SessionID)
		if cancel, ok := h.subs[c.SessionID]; ok {
			cancel()
			delete(h.subs, c.SessionID)
			metrics.SessionStreams.Dec()
		}
	}
	h.mu.Unlock()
	c.close()
	metrics.Subscribers.WithLabelValues(string(c.View)).Dec()
	h.logger.Debug("client left session", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()))
}

// Publish fans a question change out to every subscriber of its session.
func (h *Hub) Publish(ev ChangeEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal change event", zap.Error(err))
		return
	}
	h.publish(ev.SessionID, EventQuestionChange, data)
}

// PublishSettings fans new broadcast settings out to screens and moderators.
func (h *Hub) PublishSettings(sessionID uuid.UUID, settings json.RawMessage) {
	h.publish(sessionID, EventBroadcastSettings, settings)
}

func (h *Hub) publish(sessionID uuid.UUID, event string, data []byte) {
	if h.pub != nil {
		if err := h.pub.PublishSessionEvent(sessionID, event, data); err != nil {
			// Subscribers miss this event; they converge on their next refetch.
			h.logger.Error("publish session event", zap.Error(err), zap.String("session_id", sessionID.String()), zap.String("event", event))
		}
		return
	}
	h.deliver(sessionID, event, data)
}

// deliver sends an event to local clients, projecting it per view.
func (h *Hub) deliver(sessionID uuid.UUID, event string, payload []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.sessions[sessionID]))
	for _, c := range h.sessions[sessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	if len(clients) == 0 {
		return
	}

	switch event {
	case EventQuestionChange:
		var ev ChangeEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			h.logger.Warn("invalid change event", zap.Error(err))
			return
		}
		// One encoding per view, not per client.
		encoded := make(map[View]json.RawMessage, 3)
		for _, c := range clients {
			data, ok := encoded[c.View]
			if !ok {
				if projected, visible := c.View.Project(ev); visible {
					data, _ = json.Marshal(projected)
				}
				encoded[c.View] = data
			}
			if data != nil {
				h.enqueue(c, WSMessage{Event: event, Data: data})
			}
		}
	case EventBroadcastSettings:
		for _, c := range clients {
			if c.View == ViewScreen || c.View == ViewModerator {
				h.enqueue(c, WSMessage{Event: event, Data: payload})
			}
		}
	default:
		h.logger.Debug("ignoring unknown session event", zap.String("event", event))
	}
}

// enqueue hands msg to the client without blocking. A client whose buffer is full has lost
// a delta it cannot get back, so it is disconnected; it refetches on reconnect.
func (h *Hub) enqueue(c *Client, msg WSMessage) {
	if c.offer(msg) {
		return
	}
	metrics.DroppedSubscribers.Inc()
	h.logger.Warn("subscriber fell behind, disconnecting", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()))
	go h.Unregister(c)
}

// SubscriberCount returns the number of connected clients in a session.
func (h *Hub) SubscriberCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// StreamOpen reports whether this instance holds the session's change-stream subscription.
func (h *Hub) StreamOpen(sessionID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subs[sessionID]
	return ok
}
