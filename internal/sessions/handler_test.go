package sessions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livepulse/backend/internal/models"
	"github.com/livepulse/backend/internal/questions/memory"
)

type published struct {
	sessionID uuid.UUID
	settings  json.RawMessage
}

type settingsRecorder struct {
	mu  sync.Mutex
	got []published
}

func (r *settingsRecorder) PublishSettings(sessionID uuid.UUID, settings json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, published{sessionID, settings})
}

func setupRouter(t *testing.T) (*gin.Engine, *memory.Directory, *settingsRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := memory.NewDirectory()
	pub := &settingsRecorder{}
	router := gin.New()
	NewHandler(dir, pub, nil).Register(router, func(c *gin.Context) { c.Next() })
	return router, dir, pub
}

func put(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUpdateBroadcastSettingsStoresAndPublishes(t *testing.T) {
	router, dir, pub := setupRouter(t)
	session := uuid.New()
	dir.AddSession(session)

	w := put(router, "/sessions/"+session.String()+"/broadcast-settings", `{"theme":"dark","show_logo":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Settings json.RawMessage `json:"broadcast_settings"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.JSONEq(t, `{"theme":"dark","show_logo":true}`, string(body.Data.Settings))

	stored, err := dir.BroadcastSettings(context.Background(), session)
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme":"dark","show_logo":true}`, string(stored))

	require.Len(t, pub.got, 1)
	assert.Equal(t, session, pub.got[0].sessionID)
}

func TestUpdateBroadcastSettingsRejectsBadBodies(t *testing.T) {
	router, dir, pub := setupRouter(t)
	session := uuid.New()
	dir.AddSession(session)
	path := "/sessions/" + session.String() + "/broadcast-settings"

	cases := map[string]string{
		"not json":  `theme=dark`,
		"array":     `[1,2]`,
		"null":      `null`,
		"too large": `{"blob":"` + strings.Repeat("x", maxSettingsBytes) + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, put(router, path, body).Code)
		})
	}

	assert.Equal(t, http.StatusBadRequest, put(router, "/sessions/nope/broadcast-settings", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, put(router, "/sessions/"+uuid.New().String()+"/broadcast-settings", `{}`).Code)
	assert.Empty(t, pub.got)
}

func TestListPresenters(t *testing.T) {
	router, dir, _ := setupRouter(t)
	session := uuid.New()
	dir.AddPresenter(models.Presenter{SessionID: session, Kind: models.PresenterMember, Name: "Sam", Confirmed: true})
	dir.AddPresenter(models.Presenter{SessionID: session, Kind: models.PresenterPartner, Name: "Unconfirmed"})

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+session.String()+"/presenters", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data struct {
			Presenters []models.Presenter `json:"presenters"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data.Presenters, 1)
	assert.Equal(t, "Sam", body.Data.Presenters[0].Name)

	req = httptest.NewRequest(http.MethodGet, "/sessions/"+uuid.New().String()+"/presenters", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"presenters":[]`)
}
