package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/livepulse/backend/internal/models"
)

// DefaultReconnectDelay is the pause between a dropped connection and the next dial.
const DefaultReconnectDelay = 2 * time.Second

// Fetcher returns the authoritative list of rows a view should hold.
type Fetcher func(ctx context.Context) ([]models.Question, error)

// SubscriptionConfig configures a consumer of a session's change stream.
type SubscriptionConfig struct {
	// URL is the stream endpoint, e.g. ws://localhost:8080/ws.
	URL       string
	SessionID uuid.UUID
	View      View
	Token     string
	// Fetch is called after every (re)connect, before live events are applied.
	Fetch          Fetcher
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	// OnChange, when set, is called after the replica changes.
	OnChange func(*Replica)
	Logger   *zap.Logger
}

// Subscription keeps a Replica of one session in sync with the server until Close is called.
type Subscription struct {
	cfg      SubscriptionConfig
	replica  *Replica
	cancel   context.CancelFunc
	done     chan struct{}
	connects atomic.Int64
	once     sync.Once
}

// Subscribe dials the stream in the background and returns immediately.
func Subscribe(ctx context.Context, cfg SubscriptionConfig) (*Subscription, error) {
	if cfg.URL == "" {
		return nil, errors.New("subscription url required")
	}
	if cfg.Fetch == nil {
		return nil, errors.New("subscription fetch required")
	}
	if !cfg.View.Valid() {
		return nil, fmt.Errorf("invalid view %q", cfg.View)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		cfg:     cfg,
		replica: NewReplica(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run(ctx)
	return s, nil
}

// Replica returns the local copy kept by the subscription.
func (s *Subscription) Replica() *Replica { return s.replica }

// Connects returns how many times the stream has been (re)established.
func (s *Subscription) Connects() int { return int(s.connects.Load()) }

// Close tears the subscription down and waits for its loop to exit.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	log := s.cfg.Logger.With(zap.String("session_id", s.cfg.SessionID.String()), zap.String("view", string(s.cfg.View)))
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warn("change stream interrupted, reconnecting", zap.Error(err), zap.Duration("delay", s.cfg.ReconnectDelay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *Subscription) endpoint() (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("session_id", s.cfg.SessionID.String())
	q.Set("token", s.cfg.Token)
	q.Set("view", string(s.cfg.View))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// session runs one connection: dial, refetch, then apply live events until the
// connection drops. Any drop is a potential gap, so the next session refetches.
func (s *Subscription) session(ctx context.Context) error {
	endpoint, err := s.endpoint()
	if err != nil {
		return err
	}
	conn, resp, err := s.cfg.Dialer.DialContext(ctx, endpoint, http.Header{})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()
	s.connects.Add(1)

	rows, err := s.cfg.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("refetch: %w", err)
	}
	s.replica.Reset(rows)
	s.changed()

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := s.apply(msg); err != nil {
			s.cfg.Logger.Warn("invalid stream message", zap.Error(err), zap.String("event", msg.Event))
			continue
		}
		s.changed()
	}
}

func (s *Subscription) apply(msg WSMessage) error {
	switch msg.Event {
	case EventQuestionChange:
		var ev ChangeEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return err
		}
		s.replica.Apply(ev)
	case EventBroadcastSettings:
		s.replica.SetSettings(msg.Data)
	case EventResync:
		rows, settings, err := decodeSnapshot(msg.Data)
		if err != nil {
			return err
		}
		s.replica.Reset(rows)
		if settings != nil {
			s.replica.SetSettings(settings)
		}
	}
	return nil
}

func (s *Subscription) changed() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(s.replica)
	}
}

// decodeSnapshot reads either a list snapshot ({"questions": [...]}) or a screen
// snapshot ({"broadcast_settings": ..., "question": ...}).
func decodeSnapshot(data []byte) ([]models.Question, json.RawMessage, error) {
	var snap struct {
		Questions []models.Question `json:"questions"`
		Settings  json.RawMessage   `json:"broadcast_settings"`
		Question  *models.Question  `json:"question"`
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil, err
	}
	if snap.Question != nil {
		return []models.Question{*snap.Question}, snap.Settings, nil
	}
	return snap.Questions, snap.Settings, nil
}
