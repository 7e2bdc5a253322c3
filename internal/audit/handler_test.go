package audit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockReader struct {
	mock.Mock
}

func (m *mockReader) ListByQuestion(ctx context.Context, questionID uuid.UUID, limit int) ([]Entry, error) {
	args := m.Called(ctx, questionID, limit)
	entries, _ := args.Get(0).([]Entry)
	return entries, args.Error(1)
}

func history(reader Reader, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/questions/:id/history", NewHandler(reader, nil).History)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHistoryDefaultsAndClampsLimit(t *testing.T) {
	id := uuid.New()
	reader := &mockReader{}
	reader.On("ListByQuestion", mock.Anything, id, defaultHistoryLimit).Return([]Entry{{ID: 1, Action: "approve"}}, nil).Once()
	reader.On("ListByQuestion", mock.Anything, id, maxHistoryLimit).Return(nil, nil).Once()

	w := history(reader, "/questions/"+id.String()+"/history")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"action":"approve"`)

	w = history(reader, "/questions/"+id.String()+"/history?limit=9999")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"history":[]`)

	reader.AssertExpectations(t)
}

func TestHistoryErrors(t *testing.T) {
	reader := &mockReader{}
	assert.Equal(t, http.StatusBadRequest, history(reader, "/questions/nope/history").Code)
	assert.Equal(t, http.StatusBadRequest, history(reader, "/questions/"+uuid.New().String()+"/history?limit=-1").Code)

	id := uuid.New()
	reader.On("ListByQuestion", mock.Anything, id, defaultHistoryLimit).Return(nil, errors.New("db down"))
	assert.Equal(t, http.StatusInternalServerError, history(reader, "/questions/"+id.String()+"/history").Code)
}
