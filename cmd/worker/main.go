// Package main implements the readings worker. It claims pending tasks from
// the database, runs the matching content generator, and finalizes outcomes.
// Any number of worker processes can run against the same database.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/config"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/generation"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/pipeline"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/platform/gemini"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/platform/logger"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/platform/metrics"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/platform/postgres"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/storage"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/store"
	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("worker exited with error", slog.Any("error", err))
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

	jobs := postgres.NewPostgresJobStore(db, log)
	tasks := postgres.NewPostgresTaskStore(db, log)
	artifacts := postgres.NewPostgresArtifactStore(db, log)

	coord, err := pipeline.NewCoordinator(jobs, tasks, artifacts, pipelineSettings(cfg.Worker), log)
	if err != nil {
		return fmt.Errorf("failed to build pipeline coordinator: %w", err)
	}

	executors, err := buildExecutors(ctx, cfg, artifacts, log)
	if err != nil {
		return err
	}

	runTx := func(ctx context.Context, fn store.TxFn) error {
		return store.RunInTransaction(ctx, db, fn)
	}

	workerCfg := worker.DefaultConfig()
	workerCfg.Concurrency = cfg.Worker.Concurrency
	workerCfg.HeartbeatInterval = cfg.Worker.HeartbeatInterval
	workerCfg.PollBackoff.Initial = cfg.Worker.PollBackoff

	w, err := worker.New(workerCfg, tasks, artifacts, coord, executors, runTx, metrics.NewRecorder(), log)
	if err != nil {
		return fmt.Errorf("failed to build worker: %w", err)
	}

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker run failed: %w", err)
	}

	log.Info("worker stopped")
	return nil
}

// buildExecutors wires one executor per task type: Gemini for text and the
// three HTTP providers for the derived artifacts.
func buildExecutors(
	ctx context.Context,
	cfg *config.Config,
	artifacts store.ArtifactStore,
	log *slog.Logger,
) (generation.Registry, error) {
	blobs, err := storage.NewFileStore(cfg.Storage.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact storage: %w", err)
	}

	textGen, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:     cfg.Providers.Gemini.APIKey,
		Model:      cfg.Providers.Gemini.Model,
		MaxRetries: cfg.Providers.Gemini.MaxRetries,
		RetryDelay: cfg.Providers.Gemini.RetryDelay,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create text generation client: %w", err)
	}

	text, err := generation.NewTextExecutor(textGen, blobs, log)
	if err != nil {
		return nil, err
	}

	renderer := generation.NewRenderClient(cfg.Providers.Render.BaseURL, cfg.Providers.Render.APIKey, log)
	pdf, err := generation.NewPDFExecutor(renderer, artifacts, blobs, log)
	if err != nil {
		return nil, err
	}

	speech := generation.NewSpeechClient(cfg.Providers.Speech.BaseURL, cfg.Providers.Speech.APIKey, log)
	audio, err := generation.NewAudioExecutor(speech, artifacts, blobs, log)
	if err != nil {
		return nil, err
	}

	songs := generation.NewSongClient(
		cfg.Providers.Song.BaseURL,
		cfg.Providers.Song.APIKey,
		cfg.Providers.Song.PollInterval,
		cfg.Providers.Song.MaxWait,
		log,
	)
	song, err := generation.NewSongExecutor(songs, artifacts, blobs, log)
	if err != nil {
		return nil, err
	}

	return generation.Registry{
		domain.TaskTypeText:  text,
		domain.TaskTypePDF:   pdf,
		domain.TaskTypeAudio: audio,
		domain.TaskTypeSong:  song,
	}, nil
}

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

func pipelineSettings(cfg config.WorkerConfig) pipeline.Settings {
	return pipeline.Settings{
		domain.TaskTypeText:  {HeartbeatTimeout: cfg.Text.HeartbeatTimeout, MaxAttempts: cfg.Text.MaxAttempts},
		domain.TaskTypePDF:   {HeartbeatTimeout: cfg.PDF.HeartbeatTimeout, MaxAttempts: cfg.PDF.MaxAttempts},
		domain.TaskTypeAudio: {HeartbeatTimeout: cfg.Audio.HeartbeatTimeout, MaxAttempts: cfg.Audio.MaxAttempts},
		domain.TaskTypeSong:  {HeartbeatTimeout: cfg.Song.HeartbeatTimeout, MaxAttempts: cfg.Song.MaxAttempts},
	}
}
