package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/livepulse/backend/internal/audit"
	"github.com/livepulse/backend/internal/auth"
	"github.com/livepulse/backend/internal/middleware"
	"github.com/livepulse/backend/internal/models"
	"github.com/livepulse/backend/internal/questions"
	"github.com/livepulse/backend/internal/realtime"
	"github.com/livepulse/backend/internal/sessions"
	"github.com/livepulse/backend/pkg/response"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Logger      *zap.Logger
	JWT         *auth.JWTService
	Questions   *questions.Service
	Directory   sessions.Directory
	History     audit.Reader // nil disables GET /questions/:id/history
	Hub         *realtime.Hub
	Stream      realtime.ServeConfig
	CORSOrigins []string
	Health      map[string]HealthCheck
}

// NewRouter assembles the gin engine.
func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(d.CORSOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", health(d.Health))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	moderate := middleware.RequireRole(string(models.RoleAdmin), string(models.RoleModerator))

	api := router.Group("")
	api.Use(middleware.JWT(d.JWT))
	{
		questions.NewHandler(d.Questions).Register(api, moderate)
		sessions.NewHandler(d.Directory, d.Hub, logger).Register(api, moderate)
		if d.History != nil {
			api.GET("/questions/:id/history", moderate, audit.NewHandler(d.History, logger).History)
		}
	}

	// WebSocket (token in query; no Authorization header required)
	stream := d.Stream
	if stream.Validate == nil {
		stream.Validate = d.JWT.StreamValidator()
	}
	if stream.Authorize == nil {
		stream.Authorize = AuthorizeView
	}
	router.GET("/ws", realtime.ServeWs(d.Hub, d.Questions, stream, logger))
	return router
}

// AuthorizeView allows the moderator view to moderators only and the screen view to
// moderators and screen clients.
func AuthorizeView(role string, view realtime.View) bool {
	r := models.Role(role)
	switch view {
	case realtime.ViewModerator:
		return r.CanModerate()
	case realtime.ViewScreen:
		return r.CanModerate() || r == models.RoleScreen
	}
	return true
}

func health(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := gin.H{}
		healthy := true
		for name, check := range checks {
			if err := check(c.Request.Context()); err != nil {
				status[name] = err.Error()
				healthy = false
				continue
			}
			status[name] = "ok"
		}
		if !healthy {
			response.Fail(c, http.StatusServiceUnavailable, "dependency unavailable", status)
			return
		}
		status["status"] = "ok"
		response.OK(c, status)
	}
}
