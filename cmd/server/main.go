// Package main runs the Q&A moderation API with the change stream and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/livepulse/backend/config"
	"github.com/livepulse/backend/internal/api"
	"github.com/livepulse/backend/internal/audit"
	"github.com/livepulse/backend/internal/auth"
	"github.com/livepulse/backend/internal/questions"
	"github.com/livepulse/backend/internal/realtime"
	"github.com/livepulse/backend/internal/sessions"
	"github.com/livepulse/backend/internal/worker"
	"github.com/livepulse/backend/pkg/database"
	"github.com/livepulse/backend/pkg/logging"
	"github.com/livepulse/backend/pkg/queue"
	"github.com/livepulse/backend/pkg/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Fatal("load config", zap.Error(err))
	}
	logger := logging.New(cfg.Log.Level)
	defer logger.Sync()

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.TTL)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	sessionRepo := sessions.NewRepository(pool)
	questionRepo := questions.NewRepository(pool)
	auditRepo := audit.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	var opts []questions.ServiceOption
	if cfg.Audit.Enabled {
		opts = append(opts, questions.WithAudit(jobQueue))
	}
	questionService := questions.NewService(questionRepo, sessionRepo, hub, logger, opts...)

	router := api.NewRouter(api.Deps{
		Logger:    logger,
		JWT:       jwtService,
		Questions: questionService,
		Directory: sessionRepo,
		History:   auditRepo,
		Hub:       hub,
		Stream: realtime.ServeConfig{
			PingInterval: cfg.Realtime.PingInterval,
			PongWait:     cfg.Realtime.PongWait,
			SendBuffer:   cfg.Realtime.SendBuffer,
		},
		CORSOrigins: cfg.Server.CORSAllowedOrigins,
		Health: map[string]api.HealthCheck{
			"postgres": pool.Ping,
			"redis":    rdb.Healthy,
		},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Audit.Enabled && cfg.Audit.InlineWorker {
		processor := worker.NewAuditProcessor(auditRepo, jobQueue, cfg.Audit.RetryBackoff, logger)
		go processor.Run(workerCtx)
		logger.Info("audit worker started in-process")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}
