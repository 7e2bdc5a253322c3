package questions_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livepulse/backend/internal/middleware"
	"github.com/livepulse/backend/internal/models"
	"github.com/livepulse/backend/internal/questions"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type harness struct {
	*fixture
	router *gin.Engine
	role   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &harness{fixture: newFixture(t), role: string(models.RoleModerator)}
	h.router = gin.New()
	api := h.router.Group("")
	api.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, h.actor)
		c.Set(middleware.ContextUserRole, h.role)
		c.Next()
	})
	moderate := middleware.RequireRole(string(models.RoleAdmin), string(models.RoleModerator))
	questions.NewHandler(h.svc).Register(api, moderate)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func decodeQuestion(t *testing.T, env envelope) models.Question {
	t.Helper()
	var q models.Question
	require.NoError(t, json.Unmarshal(env.Data, &q))
	return q
}

func TestHandlerSubmitAndApprove(t *testing.T) {
	h := newHarness(t)
	h.role = string(models.RoleAudience)

	w, env := h.do(t, http.MethodPost, "/sessions/"+h.session.String()+"/questions", gin.H{"content": "How does it scale?"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, env.Success)
	q := decodeQuestion(t, env)
	assert.Equal(t, models.StatusPending, q.Status)

	w, _ = h.do(t, http.MethodPost, "/questions/"+q.ID.String()+"/approve", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	h.role = string(models.RoleModerator)
	w, env = h.do(t, http.MethodPost, "/questions/"+q.ID.String()+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusApproved, decodeQuestion(t, env).Status)

	w, env = h.do(t, http.MethodPost, "/questions/"+q.ID.String()+"/approve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "approve")
}

func TestHandlerValidationErrors(t *testing.T) {
	h := newHarness(t)

	w, _ := h.do(t, http.MethodPost, "/sessions/not-a-uuid/questions", gin.H{"content": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = h.do(t, http.MethodPost, "/sessions/"+h.session.String()+"/questions", gin.H{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = h.do(t, http.MethodPost, "/sessions/"+h.session.String()+"/questions/manual", gin.H{"content": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = h.do(t, http.MethodGet, "/sessions/"+h.session.String()+"/questions?status=archived", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = h.do(t, http.MethodPost, "/questions/"+uuid.New().String()+"/approve", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerExpectedVersionConflict(t *testing.T) {
	h := newHarness(t)
	q := h.approved(t, "question")

	w, _ := h.do(t, http.MethodPost, "/questions/"+q.ID.String()+"/pin", gin.H{"expected_version": q.Version})
	require.Equal(t, http.StatusOK, w.Code)

	w, env := h.do(t, http.MethodPost, "/questions/"+q.ID.String()+"/unpin", gin.H{"expected_version": q.Version})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, env.Error, "refetch")
}

func TestHandlerRejectAndAnswer(t *testing.T) {
	h := newHarness(t)
	pending := h.submit(t, "off topic")
	visible := h.approved(t, "on topic")

	w, env := h.do(t, http.MethodPost, "/questions/"+pending.ID.String()+"/reject", gin.H{"reason": "off topic"})
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeQuestion(t, env)
	require.NotNil(t, got.RejectReason)
	assert.Equal(t, "off topic", *got.RejectReason)

	w, _ = h.do(t, http.MethodPost, "/questions/"+visible.ID.String()+"/answer", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = h.do(t, http.MethodPost, "/questions/"+visible.ID.String()+"/answer", gin.H{"answer": "Yes."})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusAnswered, decodeQuestion(t, env).Status)
}

func TestHandlerBroadcastAndScreen(t *testing.T) {
	h := newHarness(t)
	a := h.approved(t, "A")
	b := h.approved(t, "B")

	w, _ := h.do(t, http.MethodPost, "/questions/"+a.ID.String()+"/broadcast", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, env := h.do(t, http.MethodPost, "/questions/"+b.ID.String()+"/broadcast", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var toggled struct {
		Questions []models.Question `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &toggled))
	require.Len(t, toggled.Questions, 2)
	assert.Equal(t, b.ID, toggled.Questions[0].ID)

	h.role = string(models.RoleScreen)
	w, env = h.do(t, http.MethodGet, "/sessions/"+h.session.String()+"/broadcast", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var screen questions.ScreenState
	require.NoError(t, json.Unmarshal(env.Data, &screen))
	require.NotNil(t, screen.Question)
	assert.Equal(t, b.ID, screen.Question.ID)
	assert.Nil(t, screen.Question.ModeratedBy)
}

func TestHandlerReorder(t *testing.T) {
	h := newHarness(t)
	a := h.submit(t, "A")
	b := h.submit(t, "B")

	w, _ := h.do(t, http.MethodPut, "/sessions/"+h.session.String()+"/questions/order", gin.H{"ordered_ids": []uuid.UUID{b.ID, a.ID}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, h.get(t, b.ID).DisplayOrder)

	w, _ = h.do(t, http.MethodPut, "/sessions/"+h.session.String()+"/questions/order", gin.H{"ordered_ids": []uuid.UUID{a.ID, a.ID}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerPresenterAssignAndClear(t *testing.T) {
	h := newHarness(t)
	q := h.approved(t, "question")

	w, env := h.do(t, http.MethodPut, "/questions/"+q.ID.String()+"/presenter", gin.H{
		"presenter_type": "manual", "presenter_name": "Jane", "presenter_title": "CEO",
	})
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeQuestion(t, env)
	require.NotNil(t, got.PresenterName)
	assert.Equal(t, "Jane", *got.PresenterName)

	w, env = h.do(t, http.MethodPut, "/questions/"+q.ID.String()+"/presenter", gin.H{"presenter_type": nil})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decodeQuestion(t, env).PresenterType)

	w, _ = h.do(t, http.MethodPut, "/questions/"+q.ID.String()+"/presenter", gin.H{"presenter_type": "member"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerLikeAndDelete(t *testing.T) {
	h := newHarness(t)
	q := h.approved(t, "question")
	h.role = string(models.RoleAudience)

	w, env := h.do(t, http.MethodPost, "/questions/"+q.ID.String()+"/like", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var liked struct {
		ID         uuid.UUID `json:"id"`
		LikesCount int       `json:"likes_count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &liked))
	assert.Equal(t, 1, liked.LikesCount)

	w, _ = h.do(t, http.MethodDelete, "/questions/"+q.ID.String(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	h.role = string(models.RoleAdmin)
	w, _ = h.do(t, http.MethodDelete, "/questions/"+q.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = h.do(t, http.MethodDelete, "/questions/"+q.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerPublicListStripsModeration(t *testing.T) {
	h := newHarness(t)
	h.submit(t, "pending")
	h.approved(t, "approved")
	h.role = string(models.RoleAudience)

	w, env := h.do(t, http.MethodGet, "/sessions/"+h.session.String()+"/questions/public", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Questions []models.Question `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Questions, 1)
	assert.Nil(t, list.Questions[0].ModeratedBy)

	w, _ = h.do(t, http.MethodGet, "/sessions/"+h.session.String()+"/questions", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
