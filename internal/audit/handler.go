package audit

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepulse/backend/pkg/response"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

// Reader lists recorded history.
type Reader interface {
	ListByQuestion(ctx context.Context, questionID uuid.UUID, limit int) ([]Entry, error)
}

// Handler serves question history.
type Handler struct {
	reader Reader
	logger *zap.Logger
}

// NewHandler creates an audit handler.
func NewHandler(reader Reader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{reader: reader, logger: logger}
}

// History handles GET /questions/:id/history?limit=.
func (h *Handler) History(c *gin.Context) {
	questionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		limit = n
	}
	entries, err := h.reader.ListByQuestion(c.Request.Context(), questionID, limit)
	if err != nil {
		h.logger.Error("list question history", zap.Error(err), zap.String("question_id", questionID.String()))
		response.Internal(c, "failed to load history")
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	response.OK(c, gin.H{"history": entries})
}
