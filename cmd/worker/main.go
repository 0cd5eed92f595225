package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/koladefaj/document-intelligence-backend/config"
	"github.com/koladefaj/document-intelligence-backend/internal/database"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/cron"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/logger"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/pubsub"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/queue"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/storage"
	"github.com/koladefaj/document-intelligence-backend/internal/repository"
	"github.com/koladefaj/document-intelligence-backend/internal/summarizer"
	"github.com/koladefaj/document-intelligence-backend/internal/worker"
)

const sweepInterval = time.Hour

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("worker exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	store, err := storage.New(ctx, cfg.Storage, filepath.Join(os.TempDir(), "document-fetch"))
	if err != nil {
		return fmt.Errorf("init object store: %w", err)
	}

	backend, err := summarizer.NewBackend(ctx, cfg.Summarizer)
	if err != nil {
		return fmt.Errorf("init summarizer: %w", err)
	}
	if c, ok := backend.(io.Closer); ok {
		defer c.Close()
	}
	engine := summarizer.NewEngine(backend, cfg.Summarizer, zl)

	jobs, err := queue.New(cfg.Queue, cfg.Redis, rdb, zl)
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	defer jobs.Close()

	docRepo := repository.NewDocumentRepository(db)
	processor := worker.NewProcessor(docRepo, store, engine, pubsub.NewPublisher(rdb), cfg, zl)

	sweeper := worker.NewSweeper(docRepo, cfg.Upload.StagingDir,
		time.Duration(cfg.Upload.StagingTTLHours)*time.Hour, zl.Named("sweeper"))
	scheduler := cron.NewService(zl.Named("cron"), cron.Task{
		Name:     "staging-sweep",
		Interval: sweepInterval,
		Run:      sweeper.Sweep,
	})
	scheduler.Start()
	defer scheduler.Stop()

	zl.Info("worker started",
		zap.Int("max_workers", cfg.Queue.MaxWorkers),
		zap.String("queue", cfg.Queue.Driver),
		zap.String("storage", store.Name()),
		zap.String("summarizer", engine.Provider()),
	)

	if err := jobs.Consume(ctx, cfg.Queue.MaxWorkers, processor.Process); err != nil {
		return err
	}
	zl.Info("worker shutdown complete")
	return nil
}
