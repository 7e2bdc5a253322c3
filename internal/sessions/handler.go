package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepulse/backend/internal/models"
	"github.com/livepulse/backend/internal/questions"
	"github.com/livepulse/backend/pkg/response"
)

const maxSettingsBytes = 16 << 10

// Directory is the session data the handler reads and writes.
type Directory interface {
	UpdateBroadcastSettings(ctx context.Context, sessionID uuid.UUID, settings json.RawMessage) error
	ListPresenters(ctx context.Context, sessionID uuid.UUID) ([]models.Presenter, error)
}

// SettingsPublisher pushes new broadcast settings to connected screens. realtime.Hub implements it.
type SettingsPublisher interface {
	PublishSettings(sessionID uuid.UUID, settings json.RawMessage)
}

// Handler serves broadcast settings and the presenter directory.
type Handler struct {
	dir    Directory
	pub    SettingsPublisher
	logger *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(dir Directory, pub SettingsPublisher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{dir: dir, pub: pub, logger: logger}
}

// Register mounts the routes behind the JWT middleware; moderate guards writes.
func (h *Handler) Register(api gin.IRoutes, moderate gin.HandlerFunc) {
	api.PUT("/sessions/:id/broadcast-settings", moderate, h.UpdateBroadcastSettings)
	api.GET("/sessions/:id/presenters", moderate, h.ListPresenters)
}

// UpdateBroadcastSettings handles PUT /sessions/:id/broadcast-settings. The body is stored and
// forwarded unmodified; it only has to be a JSON object.
func (h *Handler) UpdateBroadcastSettings(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSettingsBytes+1))
	if err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	if len(body) > maxSettingsBytes {
		response.BadRequest(c, "broadcast settings too large")
		return
	}
	body = bytes.TrimSpace(body)
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil || probe == nil {
		response.BadRequest(c, "broadcast settings must be a JSON object")
		return
	}
	settings := json.RawMessage(body)
	if err := h.dir.UpdateBroadcastSettings(c.Request.Context(), sessionID, settings); err != nil {
		if errors.Is(err, questions.ErrNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		h.logger.Error("update broadcast settings", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to update broadcast settings")
		return
	}
	if h.pub != nil {
		h.pub.PublishSettings(sessionID, settings)
	}
	response.OK(c, gin.H{"broadcast_settings": settings})
}

// ListPresenters handles GET /sessions/:id/presenters.
func (h *Handler) ListPresenters(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.dir.ListPresenters(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("list presenters", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to list presenters")
		return
	}
	if list == nil {
		list = []models.Presenter{}
	}
	response.OK(c, gin.H{"presenters": list})
}
