package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // screens and kiosks connect from arbitrary origins; the token gates access
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServeConfig configures the change-stream endpoint.
type ServeConfig struct {
	// Validate resolves a bearer token to the caller's user id and role.
	Validate func(token string) (userID, role string, err error)
	// Authorize decides whether role may open view. Nil allows every view.
	Authorize    func(role string, view View) bool
	PingInterval time.Duration
	PongWait     time.Duration
	SendBuffer   int
}

func (cfg ServeConfig) withDefaults() ServeConfig {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = 2 * cfg.PingInterval
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	return cfg
}

// Client represents a single WebSocket subscriber of one session.
type Client struct {
	ID        string
	SessionID uuid.UUID
	UserID    uuid.UUID
	Role      string
	View      View
	hub       *Hub
	snap      Snapshotter
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger
	cfg       ServeConfig

	mu      sync.Mutex
	primed  bool        // resync snapshot queued; live events flow straight to send
	pending []WSMessage // live events received before the snapshot was queued
	closed  bool
}

func newClient(hub *Hub, snap Snapshotter, conn *websocket.Conn, sessionID, userID uuid.UUID, role string, view View, cfg ServeConfig, logger *zap.Logger) *Client {
	return &Client{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
		View:      view,
		hub:       hub,
		snap:      snap,
		conn:      conn,
		send:      make(chan WSMessage, cfg.SendBuffer),
		logger:    logger,
		cfg:       cfg,
	}
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
//
// Query: session_id, token, view (moderator|audience|screen). The first message a client
// receives is a resync snapshot; the same happens whenever it sends {"event":"resync"}.
func ServeWs(hub *Hub, snap Snapshotter, cfg ServeConfig, logger *zap.Logger) gin.HandlerFunc {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		sessionIDStr := c.Query("session_id")
		token := c.Query("token")
		if sessionIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and token required"})
			return
		}
		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
			return
		}
		view, err := ParseView(c.Query("view"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		userIDStr, role, err := cfg.Validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if cfg.Authorize != nil && !cfg.Authorize(role, view) {
			c.JSON(http.StatusForbidden, gin.H{"error": "view not allowed for role"})
			return
		}
		userID, _ := uuid.Parse(userIDStr)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := newClient(hub, snap, conn, sessionID, userID, role, view, cfg, logger)
		// Register before reading the snapshot so no committed change falls between the two.
		if err := hub.Register(client); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "change stream unavailable"),
				time.Now().Add(time.Second))
			_ = conn.Close()
			return
		}
		if err := client.resync(c.Request.Context()); err != nil {
			logger.Error("initial snapshot failed", zap.Error(err), zap.String("session_id", sessionID.String()))
			hub.Unregister(client)
			_ = conn.Close()
			return
		}
		go client.writePump()
		client.readPump()
	}
}

// offer queues msg without blocking. It returns false when the send buffer is full.
func (c *Client) offer(msg WSMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	if !c.primed {
		if len(c.pending) >= cap(c.send)-1 { // leave room for the snapshot
			return false
		}
		c.pending = append(c.pending, msg)
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// resync queues a fresh snapshot for the client's view, then any live events held back
// while the first snapshot was being read.
func (c *Client) resync(ctx context.Context) error {
	state, err := c.snap.Snapshot(ctx, c.SessionID, c.View)
	if err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	msg := WSMessage{Event: EventResync, Data: data}

	c.mu.Lock()
	if c.primed {
		c.mu.Unlock()
		c.hub.enqueue(c, msg)
		return nil
	}
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.primed = true
	for _, m := range append([]WSMessage{msg}, c.pending...) {
		select {
		case c.send <- m:
		default:
			go c.hub.Unregister(c)
			return nil
		}
	}
	c.pending = nil
	return nil
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		switch msg.Event {
		case EventResync:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := c.resync(ctx); err != nil {
				c.logger.Warn("resync failed", zap.Error(err), zap.String("client_id", c.ID))
			}
			cancel()
		default:
			// read-only stream; mutations go through the HTTP API
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
