// Package main implements the readings API server. It exposes the job
// lifecycle endpoints, plans tasks for enqueued jobs, and runs the timeout
// monitor that reclaims tasks from dead workers.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/api"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/config"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/events"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/pipeline"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/platform/logger"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/platform/metrics"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/platform/postgres"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/service"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.Warn("failed to close database", slog.Any("error", cerr))
		}
	}()

	if err := runMigrations(db, log); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	jobs := postgres.NewPostgresJobStore(db, log)
	tasks := postgres.NewPostgresTaskStore(db, log)
	artifacts := postgres.NewPostgresArtifactStore(db, log)

	coord, err := pipeline.NewCoordinator(jobs, tasks, artifacts, pipelineSettings(cfg.Worker), log)
	if err != nil {
		return fmt.Errorf("failed to build pipeline coordinator: %w", err)
	}

	runTx := func(ctx context.Context, fn store.TxFn) error {
		return store.RunInTransaction(ctx, db, fn)
	}

	emitter := events.NewInMemoryEmitter(log)
	bridge, err := service.NewPlannerBridge(runTx, jobs, coord, log)
	if err != nil {
		return fmt.Errorf("failed to build planner bridge: %w", err)
	}
	emitter.RegisterHandler(bridge)

	readings, err := service.NewReadingService(runTx, jobs, tasks, coord, emitter, log)
	if err != nil {
		return fmt.Errorf("failed to build reading service: %w", err)
	}

	monitor, err := worker.NewMonitor(
		worker.MonitorConfig{SweepInterval: cfg.Worker.SweepInterval},
		tasks, coord, runTx, metrics.NewRecorder(), log,
	)
	if err != nil {
		return fmt.Errorf("failed to build timeout monitor: %w", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(readings, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	monitorDone := make(chan error, 1)
	go func() {
		monitorDone <- monitor.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", slog.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	if err := <-monitorDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("timeout monitor stopped with error", slog.Any("error", err))
	}

	log.Info("server stopped")
	return nil
}

// openDatabase opens the connection pool and verifies connectivity before any
// component depends on it.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// pipelineSettings maps the per-type configuration onto the budgets the
// planner stamps on task rows.
func pipelineSettings(cfg config.WorkerConfig) pipeline.Settings {
	return pipeline.Settings{
		domain.TaskTypeText:  {HeartbeatTimeout: cfg.Text.HeartbeatTimeout, MaxAttempts: cfg.Text.MaxAttempts},
		domain.TaskTypePDF:   {HeartbeatTimeout: cfg.PDF.HeartbeatTimeout, MaxAttempts: cfg.PDF.MaxAttempts},
		domain.TaskTypeAudio: {HeartbeatTimeout: cfg.Audio.HeartbeatTimeout, MaxAttempts: cfg.Audio.MaxAttempts},
		domain.TaskTypeSong:  {HeartbeatTimeout: cfg.Song.HeartbeatTimeout, MaxAttempts: cfg.Song.MaxAttempts},
	}
}
