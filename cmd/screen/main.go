// Package main runs a broadcast-screen consumer: it follows one session's change stream as the
// screen view and logs whatever question is projected.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepulse/backend/config"
	"github.com/livepulse/backend/internal/models"
	"github.com/livepulse/backend/internal/realtime"
	"github.com/livepulse/backend/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Fatal("load config", zap.Error(err))
	}
	logger := logging.New(cfg.Log.Level)
	defer logger.Sync()

	sessionID, err := uuid.Parse(cfg.Screen.SessionID)
	if err != nil {
		logger.Fatal("SCREEN_SESSION_ID must be a uuid", zap.Error(err))
	}
	if cfg.Screen.Token == "" {
		logger.Fatal("SCREEN_TOKEN is required")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	var last uuid.UUID
	sub, err := realtime.Subscribe(context.Background(), realtime.SubscriptionConfig{
		URL:            cfg.Screen.StreamURL(),
		SessionID:      sessionID,
		View:           realtime.ViewScreen,
		Token:          cfg.Screen.Token,
		Fetch:          screenFetcher(client, cfg.Screen.ServerURL, sessionID, cfg.Screen.Token),
		ReconnectDelay: cfg.Screen.ReconnectDelay,
		Logger:         logger,
		OnChange: func(r *realtime.Replica) {
			q := r.Broadcasting()
			switch {
			case q == nil && last != uuid.Nil:
				logger.Info("screen cleared")
				last = uuid.Nil
			case q != nil && q.ID != last:
				logger.Info("now on screen", zap.String("question_id", q.ID.String()), zap.String("content", q.Content), zap.Stringp("presenter", q.PresenterName))
				last = q.ID
			}
		},
	})
	if err != nil {
		logger.Fatal("subscribe", zap.Error(err))
	}
	logger.Info("screen consumer started", zap.String("session_id", sessionID.String()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sub.Close()
	logger.Info("screen consumer stopped", zap.Int("connects", sub.Connects()))
}

// screenFetcher refetches GET /sessions/:id/broadcast and returns the projected question, if any.
func screenFetcher(client *http.Client, baseURL string, sessionID uuid.UUID, token string) realtime.Fetcher {
	endpoint := strings.TrimRight(baseURL, "/") + "/sessions/" + sessionID.String() + "/broadcast"
	return func(ctx context.Context) ([]models.Question, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("screen state: status %d", resp.StatusCode)
		}
		var body struct {
			Data struct {
				Question *models.Question `json:"question"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("decode screen state: %w", err)
		}
		if body.Data.Question == nil {
			return nil, nil
		}
		return []models.Question{*body.Data.Question}, nil
	}
}
