// Command taskstream runs the task event streaming service: an HTTP API for
// launching background data-assistant tasks and following their progress over
// Server-Sent Events.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/datalens-ai/taskstream/internal/api"
	"github.com/datalens-ai/taskstream/internal/config"
	"github.com/datalens-ai/taskstream/internal/logging"
	"github.com/datalens-ai/taskstream/internal/metrics"
	"github.com/datalens-ai/taskstream/internal/storage/memory"
	"github.com/datalens-ai/taskstream/internal/storage/postgres"
	"github.com/datalens-ai/taskstream/internal/store"
	"github.com/datalens-ai/taskstream/internal/stream"
	"github.com/datalens-ai/taskstream/internal/task"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "taskstream:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	var repo store.TaskRepository
	if cfg.DB.DSN != "" {
		pgStore, err := postgres.NewTaskStore(ctx, postgres.TaskStoreConfig{DSN: cfg.DB.DSN})
		if err != nil {
			return err
		}
		defer pgStore.Close()
		repo = pgStore
		logger.Info("using postgres task store")
	} else {
		repo = memory.NewTaskStore()
		logger.Info("using in-memory task store")
	}

	registry := stream.NewRegistry(cfg.Heartbeat(), logger)
	emitter := stream.NewEmitter(registry, logger)
	coordinator := stream.NewCoordinator(registry, logger)

	server := api.NewServer(ctx, repo, registry, emitter, coordinator,
		task.UUIDGenerator{}, cfg, logger)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
