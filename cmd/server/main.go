// Package main implements the entry point for the AIMA task queue
// daemon, which executes asynchronous media-processing work
// (thumbnailing, transcoding, backups, cleanup) submitted by the
// surrounding services.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Paddel87/AIMA-sub000/internal/config"
	"github.com/Paddel87/AIMA-sub000/internal/events"
	"github.com/Paddel87/AIMA-sub000/internal/platform/logger"
	"github.com/Paddel87/AIMA-sub000/internal/platform/metrics"
	"github.com/Paddel87/AIMA-sub000/internal/store"
	"github.com/Paddel87/AIMA-sub000/internal/task"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// run loads configuration, wires the queue and serves until a
// termination signal arrives.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	appLogger := logger.Setup(cfg.Server.LogLevel)
	appLogger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"store_backend", cfg.Store.Backend,
		"workers", cfg.Queue.Workers)

	kv, closeStore, err := buildStore(cfg, appLogger)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := task.NewRegistry(appLogger)
	registerHandlers(registry, appLogger)

	recorder := metrics.NewRecorder(appLogger)

	emitter := events.NewInMemoryEmitter(appLogger)
	emitter.RegisterHandler(events.NewAuditLogHandler(appLogger))

	service := task.NewService(kv, registry, task.Config{
		WorkerCount:             cfg.Queue.Workers,
		QueueCapacity:           cfg.Queue.Capacity,
		DefaultTimeout:          cfg.Queue.DefaultTimeout,
		PollInterval:            cfg.Queue.PollInterval,
		FailOnDependencyFailure: cfg.Queue.FailOnDependencyFailure,
		Maintenance: task.MaintenanceConfig{
			CleanupInterval: cfg.Queue.CleanupInterval,
			Retention:       cfg.Queue.Retention,
			StatsInterval:   cfg.Queue.StatsInterval,
		},
	}, appLogger)
	service.SetMonitor(recorder)
	service.SetEmitter(emitter)

	ctx := context.Background()
	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("start task queue: %w", err)
	}
	defer service.Stop()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newRouter(service, recorder, appLogger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info("ops server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		appLogger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("ops server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("ops server shutdown failed", "error", err)
	}
	return nil
}

// buildStore creates the configured durable store backend.
func buildStore(cfg *config.Config, appLogger *slog.Logger) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case "redis":
		client := store.NewRedisClient(cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.Store.RedisDB)
		redisStore := store.NewRedisStore(client)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisStore.Ping(pingCtx); err != nil {
			return nil, nil, fmt.Errorf("connect to redis %s: %w", cfg.Store.RedisAddr, err)
		}
		appLogger.Info("using redis task store", "addr", cfg.Store.RedisAddr)
		return redisStore, func() {
			if err := redisStore.Close(); err != nil {
				appLogger.Error("closing redis store failed", "error", err)
			}
		}, nil

	case "memory":
		appLogger.Warn("using in-memory task store, tasks will not survive a restart")
		return store.NewMemoryStore(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// registerHandlers installs the built-in diagnostic handlers. The
// media-processing handlers (thumbnailing, transcoding, metadata
// extraction) are registered by the embedding services at startup.
func registerHandlers(registry *task.Registry, appLogger *slog.Logger) {
	registry.Register("noop", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return "ok", nil
	})

	registry.Register("sleep", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		seconds, _ := kwargs["seconds"].(float64)
		select {
		case <-time.After(time.Duration(seconds * float64(time.Second))):
			return "slept", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	appLogger.Debug("built-in handlers registered", "functions", registry.Names())
}
