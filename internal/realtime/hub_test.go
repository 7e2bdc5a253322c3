package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livepulse/backend/internal/models"
)

// loopbackStream stands in for Redis: published events come straight back to the
// subscribers of the same session.
type loopbackStream struct {
	mu        sync.Mutex
	handlers  map[uuid.UUID]func(string, []byte)
	opened    int
	cancelled int
}

func newLoopbackStream() *loopbackStream {
	return &loopbackStream{handlers: make(map[uuid.UUID]func(string, []byte))}
}

func (s *loopbackStream) PublishSessionEvent(sessionID uuid.UUID, event string, payload []byte) error {
	s.mu.Lock()
	h := s.handlers[sessionID]
	s.mu.Unlock()
	if h != nil {
		h(event, payload)
	}
	return nil
}

func (s *loopbackStream) SubscribeSession(sessionID uuid.UUID, handler func(string, []byte)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[sessionID] = handler
	s.opened++
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, sessionID)
		s.cancelled++
	}, nil
}

func (s *loopbackStream) counts() (opened, cancelled int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened, s.cancelled
}

// failingOnceStream refuses the first subscription, then behaves like loopbackStream.
type failingOnceStream struct {
	*loopbackStream
	failed bool
}

func (s *failingOnceStream) SubscribeSession(sessionID uuid.UUID, handler func(string, []byte)) (func(), error) {
	if !s.failed {
		s.failed = true
		return nil, errors.New("redis unavailable")
	}
	return s.loopbackStream.SubscribeSession(sessionID, handler)
}

type snapshotFunc func() interface{}

func (f snapshotFunc) Snapshot(context.Context, uuid.UUID, View) (interface{}, error) {
	return f(), nil
}

func testClient(hub *Hub, sessionID uuid.UUID, view View, buffer int) *Client {
	return newClient(hub, nil, nil, sessionID, uuid.New(), "moderator", view, ServeConfig{SendBuffer: buffer}.withDefaults(), hub.logger)
}

func primed(c *Client) *Client {
	c.primed = true
	return c
}

func receive(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
	return WSMessage{}
}

func TestHubOpensStreamOnFirstClientAndClosesOnLast(t *testing.T) {
	stream := newLoopbackStream()
	hub := NewHub(nil, stream, stream)
	session := uuid.New()

	a := testClient(hub, session, ViewModerator, 8)
	b := testClient(hub, session, ViewAudience, 8)
	hub.Register(a)
	hub.Register(b)

	opened, cancelled := stream.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 0, cancelled)
	assert.True(t, hub.StreamOpen(session))
	assert.Equal(t, 2, hub.SubscriberCount(session))

	hub.Unregister(a)
	assert.True(t, hub.StreamOpen(session))
	hub.Unregister(b)
	hub.Unregister(b)

	opened, cancelled = stream.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, cancelled)
	assert.False(t, hub.StreamOpen(session))
	assert.Equal(t, 0, hub.SubscriberCount(session))
}

func TestHubDeliversProjectedEventsPerView(t *testing.T) {
	stream := newLoopbackStream()
	hub := NewHub(nil, stream, stream)
	session := uuid.New()
	moderator := primed(testClient(hub, session, ViewModerator, 8))
	audience := primed(testClient(hub, session, ViewAudience, 8))
	other := primed(testClient(hub, uuid.New(), ViewModerator, 8))
	hub.Register(moderator)
	hub.Register(audience)
	hub.Register(other)

	q := &models.Question{ID: uuid.New(), SessionID: session, Status: models.StatusPending}
	hub.Publish(ChangeEvent{Kind: KindInsert, SessionID: session, Row: q})
	q.Status = models.StatusApproved
	hub.Publish(ChangeEvent{Kind: KindUpdate, SessionID: session, Row: q})

	first := receive(t, moderator)
	assert.Equal(t, EventQuestionChange, first.Event)
	var ev ChangeEvent
	require.NoError(t, json.Unmarshal(first.Data, &ev))
	assert.Equal(t, KindInsert, ev.Kind)
	require.NoError(t, json.Unmarshal(receive(t, moderator).Data, &ev))
	assert.Equal(t, KindUpdate, ev.Kind)

	require.NoError(t, json.Unmarshal(receive(t, audience).Data, &ev))
	assert.Equal(t, KindUpdate, ev.Kind)
	assert.Equal(t, models.StatusApproved, ev.Row.Status)
	assert.Len(t, audience.send, 0)
	assert.Len(t, other.send, 0)
}

func TestHubSettingsReachScreensOnly(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	session := uuid.New()
	screen := primed(testClient(hub, session, ViewScreen, 8))
	audience := primed(testClient(hub, session, ViewAudience, 8))
	hub.Register(screen)
	hub.Register(audience)

	hub.PublishSettings(session, json.RawMessage(`{"theme":"dark"}`))

	msg := receive(t, screen)
	assert.Equal(t, EventBroadcastSettings, msg.Event)
	assert.JSONEq(t, `{"theme":"dark"}`, string(msg.Data))
	assert.Len(t, audience.send, 0)
}

func TestHubDisconnectsSlowSubscriber(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	session := uuid.New()
	slow := primed(testClient(hub, session, ViewModerator, 2))
	hub.Register(slow)

	for i := 0; i < 3; i++ {
		q := &models.Question{ID: uuid.New(), SessionID: session, Status: models.StatusPending}
		hub.Publish(ChangeEvent{Kind: KindInsert, SessionID: session, Row: q})
	}

	assert.Eventually(t, func() bool { return hub.SubscriberCount(session) == 0 }, time.Second, 5*time.Millisecond)
	// buffered messages drain, then the channel is closed
	<-slow.send
	<-slow.send
	_, ok := <-slow.send
	assert.False(t, ok)
}

func TestClientHoldsEventsUntilSnapshotQueued(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	session := uuid.New()
	snap := snapshotFunc(func() interface{} { return map[string]interface{}{"questions": []models.Question{}} })
	c := newClient(hub, snap, nil, session, uuid.New(), "moderator", ViewModerator, ServeConfig{SendBuffer: 4}.withDefaults(), hub.logger)
	hub.Register(c)

	q := &models.Question{ID: uuid.New(), SessionID: session, Status: models.StatusPending}
	hub.Publish(ChangeEvent{Kind: KindInsert, SessionID: session, Row: q})
	assert.Len(t, c.send, 0)

	require.NoError(t, c.resync(context.Background()))
	assert.Equal(t, EventResync, receive(t, c).Event)
	assert.Equal(t, EventQuestionChange, receive(t, c).Event)
}

func TestClientPendingOverflowDisconnects(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	session := uuid.New()
	c := testClient(hub, session, ViewModerator, 3)
	hub.Register(c)

	for i := 0; i < 3; i++ {
		q := &models.Question{ID: uuid.New(), SessionID: session, Status: models.StatusPending}
		hub.Publish(ChangeEvent{Kind: KindInsert, SessionID: session, Row: q})
	}
	assert.Eventually(t, func() bool { return hub.SubscriberCount(session) == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubRetriesStreamAfterFailedSubscribe(t *testing.T) {
	stream := &failingOnceStream{loopbackStream: newLoopbackStream()}
	hub := NewHub(nil, stream, stream)
	session := uuid.New()

	a := primed(testClient(hub, session, ViewModerator, 8))
	require.Error(t, hub.Register(a))
	assert.False(t, hub.StreamOpen(session))
	assert.Equal(t, 0, hub.SubscriberCount(session))

	b := primed(testClient(hub, session, ViewModerator, 8))
	require.NoError(t, hub.Register(b))
	assert.True(t, hub.StreamOpen(session))
	assert.Equal(t, 1, hub.SubscriberCount(session))

	q := &models.Question{ID: uuid.New(), SessionID: session, Status: models.StatusPending}
	hub.Publish(ChangeEvent{Kind: KindInsert, SessionID: session, Row: q})
	assert.Equal(t, EventQuestionChange, receive(t, b).Event)
	assert.Len(t, a.send, 0)
}
