package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/koladefaj/document-intelligence-backend/config"
	"github.com/koladefaj/document-intelligence-backend/internal/api"
	"github.com/koladefaj/document-intelligence-backend/internal/api/handler"
	"github.com/koladefaj/document-intelligence-backend/internal/api/middleware"
	"github.com/koladefaj/document-intelligence-backend/internal/database"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/logger"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/pubsub"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/queue"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/storage"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/ws"
	"github.com/koladefaj/document-intelligence-backend/internal/repository"
	"github.com/koladefaj/document-intelligence-backend/internal/service"
)

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
		zl.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	zl.Info("database connected", zap.String("driver", cfg.Database.Driver))

	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()
	zl.Info("redis connected", zap.String("addr", cfg.Redis.Addr()))

	store, err := storage.New(ctx, cfg.Storage, "")
	if err != nil {
		return fmt.Errorf("init object store: %w", err)
	}
	zl.Info("object store ready", zap.String("driver", store.Name()))

	jobs, err := queue.New(cfg.Queue, cfg.Redis, rdb, zl)
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	defer jobs.Close()

	userRepo := repository.NewUserRepository(db)
	docRepo := repository.NewDocumentRepository(db)

	authService := service.NewAuthService(userRepo, cfg)
	uploadService := service.NewUploadService(docRepo, store, jobs, cfg, zl)
	documentService := service.NewDocumentService(docRepo, jobs, zl)
	taskService := service.NewTaskService(jobs)

	hub := ws.NewHub(zl)
	subscriber := pubsub.NewSubscriber(rdb, zl)

	router := api.NewRouter(
		handler.NewAuthHandler(authService),
		handler.NewDocumentHandler(uploadService, documentService, cfg.Upload.MaxSize),
		handler.NewTaskHandler(taskService),
		handler.NewWebSocketHandler(hub, subscriber, authService, taskService, documentService, cfg.CORS.AllowedOrigins, zl),
		handler.NewHealthHandler(db, rdb),
		authService,
		middleware.NewRateLimiter(rdb, cfg.RateLimit, "auth"),
		cfg,
		zl,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zl.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zl.Info("shutting down server")

		timeout := cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		// hijacked websocket connections are not tracked by Shutdown
		hub.CloseAll()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
