// Command workerd runs the note processing daemon: the transcription job
// queue worker, the resumable model transfer manager, and a small ops HTTP
// API for driving both.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/echonote/echonote-api/internal/config"
	"github.com/echonote/echonote-api/internal/events"
	"github.com/echonote/echonote-api/internal/pipeline"
	"github.com/echonote/echonote-api/internal/platform/gemini"
	"github.com/echonote/echonote-api/internal/platform/logger"
	"github.com/echonote/echonote-api/internal/platform/postgres"
	"github.com/echonote/echonote-api/internal/retry"
	"github.com/echonote/echonote-api/internal/transfer"
	"github.com/echonote/echonote-api/internal/worker"
)

// compactModelName backs the fallback engine slot when the primary model is
// configured separately.
const compactModelName = "gemini-1.5-flash-8b"

func main() {
	if err := run(); err != nil {
		slog.Error("workerd exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, log); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	queueStore := postgres.NewPostgresJobQueueStore(db)
	noteStore := postgres.NewPostgresNoteStore(db)
	settingsStore := postgres.NewPostgresSettingsStore(db)

	bus := events.NewInMemoryBus(log)
	clk := clock.New()

	processor, err := buildProcessor(ctx, cfg, log)
	if err != nil {
		return err
	}

	jobPolicy, err := retry.NewPolicy(cfg.Worker.RetryDelays)
	if err != nil {
		return fmt.Errorf("invalid worker retry schedule: %w", err)
	}

	w := worker.NewWorker(queueStore, noteStore, processor, jobPolicy, bus, clk,
		worker.Config{
			YieldInterval:      cfg.Worker.YieldInterval,
			StuckCheckInterval: cfg.Worker.StuckCheckInterval,
			StuckAge:           cfg.Worker.StuckAge,
		}, log)

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue worker: %w", err)
	}
	defer w.Stop()

	transferPolicy, err := retry.NewPolicy(cfg.Transfer.RetryDelays)
	if err != nil {
		return fmt.Errorf("invalid transfer retry schedule: %w", err)
	}

	transport := transfer.NewHTTPTransport(nil, settingsStore, log)
	manager := transfer.NewManager(transport, settingsStore, transferPolicy, clk, log)

	recovered, err := manager.Recover(ctx, transfer.Callbacks{})
	if err != nil {
		log.Error("transfer recovery failed", "error", err)
	} else if recovered > 0 {
		log.Info("recovered interrupted transfers", "count", recovered)
	}

	router := newRouter(log, queueStore, noteStore, bus, w, manager, cfg.Transfer)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("ops API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}

	return nil
}

// buildProcessor assembles the transcription pipeline. Without an API key
// the engine registry stays empty, so every item fails its precondition
// rather than silently producing nothing.
func buildProcessor(ctx context.Context, cfg *config.Config, log *slog.Logger) (worker.Processor, error) {
	var engines []pipeline.Engine
	var stages []pipeline.Stage

	if cfg.LLM.GeminiAPIKey != "" {
		native, err := gemini.NewTranscriptionEngine(ctx, log, cfg.LLM, pipeline.EngineNative, cfg.LLM.ModelName)
		if err != nil {
			return nil, fmt.Errorf("failed to create native engine: %w", err)
		}
		compact, err := gemini.NewTranscriptionEngine(ctx, log, cfg.LLM, pipeline.EngineCompact, compactModelName)
		if err != nil {
			return nil, fmt.Errorf("failed to create compact engine: %w", err)
		}
		engines = append(engines, native, compact)

		summarizer, err := gemini.NewSummarizer(ctx, log, cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("failed to create summarizer: %w", err)
		}
		stages = append(stages, pipeline.NewNormalizeStage(), summarizer)
	} else {
		log.Warn("no LLM API key configured, transcription engines unavailable")
		stages = append(stages, pipeline.NewNormalizeStage())
	}

	registry := pipeline.NewRegistry(engines...)
	return pipeline.NewRunner(pipeline.NewCapabilitySelector(), registry, stages, log), nil
}
