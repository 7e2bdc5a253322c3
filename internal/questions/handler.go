package questions

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/livepulse/backend/internal/middleware"
	"github.com/livepulse/backend/internal/models"
	"github.com/livepulse/backend/pkg/response"
)

// SubmitRequest is the body for POST /sessions/:id/questions.
type SubmitRequest struct {
	Content     string  `json:"content" binding:"required"`
	AuthorName  *string `json:"author_name"`
	IsAnonymous bool    `json:"is_anonymous"`
}

// ManualRequest is the body for POST /sessions/:id/questions/manual.
type ManualRequest struct {
	Content string `json:"content"`
	Name    string `json:"presenter_name" binding:"required"`
	Title   string `json:"presenter_title"`
}

// VersionRequest is the optional body of flag and status actions.
type VersionRequest struct {
	ExpectedVersion *int `json:"expected_version"`
}

// RejectRequest is the body for POST /questions/:id/reject.
type RejectRequest struct {
	Reason          *string `json:"reason"`
	ExpectedVersion *int    `json:"expected_version"`
}

// AnswerRequest is the body for POST /questions/:id/answer.
type AnswerRequest struct {
	Answer          string `json:"answer" binding:"required"`
	ExpectedVersion *int   `json:"expected_version"`
}

// PresenterRequest is the body for PUT /questions/:id/presenter. A null presenter_type clears
// the assignment.
type PresenterRequest struct {
	PresenterType   *string    `json:"presenter_type"`
	PresenterID     *uuid.UUID `json:"presenter_id"`
	Name            string     `json:"presenter_name"`
	Title           string     `json:"presenter_title"`
	ExpectedVersion *int       `json:"expected_version"`
}

// ReorderRequest is the body for PUT /sessions/:id/questions/order.
type ReorderRequest struct {
	OrderedIDs []uuid.UUID `json:"ordered_ids" binding:"required"`
}

// Handler exposes the moderation service over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a questions handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the routes. api must already run the JWT middleware; moderate guards
// moderator-only routes.
func (h *Handler) Register(api gin.IRoutes, moderate gin.HandlerFunc) {
	api.POST("/sessions/:id/questions", h.Submit)
	api.GET("/sessions/:id/questions/public", h.ListPublic)
	api.GET("/sessions/:id/broadcast", h.Screen)
	api.POST("/questions/:id/like", h.Like)

	api.GET("/sessions/:id/questions", moderate, h.List)
	api.POST("/sessions/:id/questions/manual", moderate, h.AddManual)
	api.PUT("/sessions/:id/questions/order", moderate, h.Reorder)
	api.POST("/questions/:id/approve", moderate, h.Approve)
	api.POST("/questions/:id/reject", moderate, h.Reject)
	api.POST("/questions/:id/answer", moderate, h.Answer)
	api.POST("/questions/:id/hide", moderate, h.Hide)
	api.POST("/questions/:id/unhide", moderate, h.Unhide)
	api.POST("/questions/:id/pin", moderate, h.Pin)
	api.POST("/questions/:id/unpin", moderate, h.Unpin)
	api.POST("/questions/:id/highlight", moderate, h.Highlight)
	api.POST("/questions/:id/unhighlight", moderate, h.Unhighlight)
	api.POST("/questions/:id/broadcast", moderate, h.ToggleBroadcast)
	api.POST("/questions/:id/display", moderate, h.ToggleDisplay)
	api.PUT("/questions/:id/presenter", moderate, h.AssignPresenter)
	api.DELETE("/questions/:id", moderate, h.Delete)
}

// Submit handles POST /sessions/:id/questions (audience asks a question).
func (h *Handler) Submit(c *gin.Context) {
	sessionID, ok := parseID(c, "invalid session id")
	if !ok {
		return
	}
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	q, err := h.svc.Submit(c.Request.Context(), sessionID, SubmitInput{
		Content:     req.Content,
		AuthorName:  req.AuthorName,
		IsAnonymous: req.IsAnonymous,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, q)
}

// AddManual handles POST /sessions/:id/questions/manual.
func (h *Handler) AddManual(c *gin.Context) {
	sessionID, ok := parseID(c, "invalid session id")
	if !ok {
		return
	}
	var req ManualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	q, err := h.svc.AddManual(c.Request.Context(), middleware.Actor(c), sessionID, ManualInput{
		Content: req.Content,
		Name:    req.Name,
		Title:   req.Title,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, q)
}

// List handles GET /sessions/:id/questions?status=pending,approved (moderator console).
func (h *Handler) List(c *gin.Context) {
	sessionID, ok := parseID(c, "invalid session id")
	if !ok {
		return
	}
	var statuses []models.QuestionStatus
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, models.QuestionStatus(s))
			}
		}
	}
	list, err := h.svc.List(c.Request.Context(), sessionID, statuses...)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, gin.H{"questions": list})
}

// ListPublic handles GET /sessions/:id/questions/public (audience list).
func (h *Handler) ListPublic(c *gin.Context) {
	sessionID, ok := parseID(c, "invalid session id")
	if !ok {
		return
	}
	list, err := h.svc.ListPublic(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, gin.H{"questions": list})
}

// Screen handles GET /sessions/:id/broadcast (broadcast settings plus the projected question).
func (h *Handler) Screen(c *gin.Context) {
	sessionID, ok := parseID(c, "invalid session id")
	if !ok {
		return
	}
	state, err := h.svc.ScreenState(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, state)
}

// Reorder handles PUT /sessions/:id/questions/order.
func (h *Handler) Reorder(c *gin.Context) {
	sessionID, ok := parseID(c, "invalid session id")
	if !ok {
		return
	}
	var req ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	rows, err := h.svc.Reorder(c.Request.Context(), middleware.Actor(c), sessionID, req.OrderedIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, gin.H{"questions": rows})
}

// Approve handles POST /questions/:id/approve.
func (h *Handler) Approve(c *gin.Context) { h.flag(c, h.svc.Approve) }

// Hide handles POST /questions/:id/hide.
func (h *Handler) Hide(c *gin.Context) { h.flag(c, h.svc.Hide) }

// Unhide handles POST /questions/:id/unhide.
func (h *Handler) Unhide(c *gin.Context) { h.flag(c, h.svc.Unhide) }

// Pin handles POST /questions/:id/pin.
func (h *Handler) Pin(c *gin.Context) { h.flag(c, h.svc.Pin) }

// Unpin handles POST /questions/:id/unpin.
func (h *Handler) Unpin(c *gin.Context) { h.flag(c, h.svc.Unpin) }

// Highlight handles POST /questions/:id/highlight.
func (h *Handler) Highlight(c *gin.Context) { h.flag(c, h.svc.Highlight) }

// Unhighlight handles POST /questions/:id/unhighlight.
func (h *Handler) Unhighlight(c *gin.Context) { h.flag(c, h.svc.Unhighlight) }

// ToggleDisplay handles POST /questions/:id/display.
func (h *Handler) ToggleDisplay(c *gin.Context) { h.flag(c, h.svc.ToggleDisplay) }

type flagAction func(ctx context.Context, actor, id uuid.UUID, opts ...MutationOption) (*models.Question, error)

func (h *Handler) flag(c *gin.Context, action flagAction) {
	id, ok := parseID(c, "invalid question id")
	if !ok {
		return
	}
	var req VersionRequest
	if !bindOptional(c, &req) {
		return
	}
	q, err := action(c.Request.Context(), middleware.Actor(c), id, versionOpts(req.ExpectedVersion)...)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, q)
}

// Reject handles POST /questions/:id/reject.
func (h *Handler) Reject(c *gin.Context) {
	id, ok := parseID(c, "invalid question id")
	if !ok {
		return
	}
	var req RejectRequest
	if !bindOptional(c, &req) {
		return
	}
	q, err := h.svc.Reject(c.Request.Context(), middleware.Actor(c), id, req.Reason, versionOpts(req.ExpectedVersion)...)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, q)
}

// Answer handles POST /questions/:id/answer.
func (h *Handler) Answer(c *gin.Context) {
	id, ok := parseID(c, "invalid question id")
	if !ok {
		return
	}
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	q, err := h.svc.Answer(c.Request.Context(), middleware.Actor(c), id, req.Answer, versionOpts(req.ExpectedVersion)...)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, q)
}

// ToggleBroadcast handles POST /questions/:id/broadcast. Responds with every changed row,
// the toggled question first.
func (h *Handler) ToggleBroadcast(c *gin.Context) {
	id, ok := parseID(c, "invalid question id")
	if !ok {
		return
	}
	rows, err := h.svc.ToggleBroadcast(c.Request.Context(), middleware.Actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, gin.H{"questions": rows})
}

// AssignPresenter handles PUT /questions/:id/presenter.
func (h *Handler) AssignPresenter(c *gin.Context) {
	id, ok := parseID(c, "invalid question id")
	if !ok {
		return
	}
	var req PresenterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	var ref PresenterRef
	if req.PresenterType != nil {
		var err error
		ref, err = ParsePresenterRef(*req.PresenterType, req.PresenterID, req.Name, req.Title)
		if err != nil {
			respondError(c, err)
			return
		}
	}
	q, err := h.svc.AssignPresenter(c.Request.Context(), middleware.Actor(c), id, ref, versionOpts(req.ExpectedVersion)...)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, q)
}

// Like handles POST /questions/:id/like.
func (h *Handler) Like(c *gin.Context) {
	id, ok := parseID(c, "invalid question id")
	if !ok {
		return
	}
	q, err := h.svc.Like(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, gin.H{"id": q.ID, "likes_count": q.LikesCount})
}

// Delete handles DELETE /questions/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := parseID(c, "invalid question id")
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), middleware.Actor(c), id); err != nil {
		respondError(c, err)
		return
	}
	response.NoContent(c)
}

func parseID(c *gin.Context, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, msg)
		return uuid.Nil, false
	}
	return id, true
}

// bindOptional binds a JSON body when one is present. An empty body is not an error.
func bindOptional(c *gin.Context, dst interface{}) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "invalid request: "+err.Error())
		return false
	}
	return true
}

func versionOpts(v *int) []MutationOption {
	if v == nil {
		return nil
	}
	return []MutationOption{WithExpectedVersion(*v)}
}

// respondError maps domain errors onto the response envelope.
func respondError(c *gin.Context, err error) {
	var ve *ValidationError
	var se *StateError
	switch {
	case errors.As(err, &ve):
		response.BadRequest(c, ve.Error())
	case errors.As(err, &se):
		response.Conflict(c, se.Error())
	case errors.Is(err, ErrVersionConflict):
		response.Conflict(c, "question was modified by someone else; refetch and retry")
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "question not found")
	default:
		_ = c.Error(err)
		response.Internal(c, "internal error")
	}
}
