package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/signaling-relay/config"
	"github.com/mossy-p/signaling-relay/internal/errlog"
	"github.com/mossy-p/signaling-relay/internal/handlers"
	"github.com/mossy-p/signaling-relay/internal/metrics"
	"github.com/mossy-p/signaling-relay/internal/redis"
	"github.com/mossy-p/signaling-relay/internal/signaling"
)

func serve(ctx context.Context, overrides map[string]string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadWith(overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	slog.SetDefault(logger)

	if cfg.Environment == config.EnvironmentProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder, closer, err := newRecorder(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	m := metrics.New()
	hub := signaling.NewHub(signaling.Options{
		DefaultMaxParticipants: cfg.DefaultMaxParticipants,
		DefaultMaxRelays:       cfg.DefaultMaxRelaysPerNode,
		MessageEvent:           cfg.SocketMessageEvent,
		Admin:                  cfg.Admin,
		Errors:                 recorder,
		Metrics:                m,
		Logger:                 logger,
	})
	m.Gauge("peers", hub.Peers().Count)
	m.Gauge("rooms", hub.Rooms().Count)
	m.Gauge("broadcast_members", hub.Broadcasts().Count)
	m.Gauge("admin_subscribers", hub.Admin().Subscribers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handlers.NewRouter(cfg, hub, m, logger),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("signaling server listening",
			"addr", srv.Addr,
			"environment", cfg.Environment,
			"admin", cfg.Admin.Active(),
			"error_log", cfg.ErrorLogBackend,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newRecorder builds the error log selected by ERROR_LOG_BACKEND. The returned
// closer is non-nil when the backend holds a connection.
func newRecorder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (errlog.Recorder, io.Closer, error) {
	switch cfg.ErrorLogBackend {
	case config.ErrorLogBackendRedis:
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("error log stored in redis", "addr", cfg.Redis.Addr())
		return errlog.NewRedisRecorder(client, cfg.ErrorLogLimit, logger), client, nil
	case config.ErrorLogBackendNone:
		return errlog.Discard{}, nil, nil
	default:
		return errlog.NewMemoryRecorder(cfg.ErrorLogLimit), nil, nil
	}
}
