package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/little-loop/tales/internal/ai"
	"github.com/little-loop/tales/internal/config"
	"github.com/little-loop/tales/internal/database"
	"github.com/little-loop/tales/internal/failures"
	"github.com/little-loop/tales/internal/media"
	"github.com/little-loop/tales/internal/orchestrator"
	"github.com/little-loop/tales/internal/persist"
	"github.com/little-loop/tales/internal/queue"
	"github.com/little-loop/tales/internal/storage"
	"github.com/little-loop/tales/internal/worker"
	"github.com/little-loop/tales/migrations"
)

func main() {
	_ = godotenv.Load()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Load()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().Msg("Starting Tales worker")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize database connection
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := migrations.Run(db.DB); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Initialize queue adapter
	q, err := queue.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize queue adapter")
	}
	defer q.Close()

	// Initialize blob uploader
	uploader, err := storage.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}

	// Repositories
	jobRepo := database.NewJobRepository(db)
	storyRepo := database.NewStoryRepository(db)
	failedRepo := database.NewFailedJobRepository(db)

	// Failure recorder with optional Slack notification
	recorder := failures.NewRecorder(failedRepo, cfg.SlackWebhook)

	// AI adapter and text pipeline
	chatClient := ai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.AIMaxRetries, cfg.AIBackoffBase)
	textPipeline := orchestrator.New(chatClient, recorder)

	// Persistence coordinator
	coordinator := persist.New(storyRepo, recorder, q, cfg.SkipPersistence)

	// Media handlers
	mediaGen := media.NewGenerator(cfg.ImageAPIKey, cfg.TTSAPIKey, cfg.TTSVoice)
	composer := media.NewComposer(cfg.VideoFPS, cfg.UploadDir)

	w := worker.New(jobRepo, storyRepo, q, textPipeline, coordinator, mediaGen, composer, uploader, recorder, worker.Options{
		Concurrency: cfg.WorkerConcurrency,
		PollTimeout: cfg.WorkerPollTimeout,
		PollDelay:   cfg.WorkerPollDelay,
		MaxRetries:  cfg.WorkerMaxRetries,
		BackoffBase: cfg.WorkerBackoffBase,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Re-push pending jobs whose queue push was lost; the DB is the source
	// of truth.
	reconciler := worker.NewReconciler(jobRepo, q)
	go reconciler.Run(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Worker loop error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")

	// Stop polling, then wait bounded for in-flight handlers.
	cancel()
	<-done
	w.Wait(30 * time.Second)

	log.Info().Msg("Worker exited")
}
