package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/koladefaj/document-intelligence-backend/config"
	"github.com/koladefaj/document-intelligence-backend/internal/database"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/logger"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/queue"
	"github.com/koladefaj/document-intelligence-backend/internal/repository"
	"github.com/koladefaj/document-intelligence-backend/internal/worker"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "cleanup: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "config.yaml"
	}

	cmd := &cobra.Command{
		Use:          "cleanup",
		Short:        "Maintenance tasks for the document intake service",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultPath, "Path to config.yaml")
	cmd.AddCommand(newStagingCmd(), newRequeueCmd())
	return cmd
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	zl, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, zl, nil
}

func newStagingCmd() *cobra.Command {
	var dryRun bool
	var hours int
	cmd := &cobra.Command{
		Use:   "staging",
		Short: "Remove staged upload copies of finished documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, zl, err := setup()
			if err != nil {
				return err
			}
			defer zl.Sync()

			db, err := database.NewDB(&cfg.Database)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}

			if !cmd.Flags().Changed("hours") {
				hours = cfg.Upload.StagingTTLHours
			}
			sweeper := worker.NewSweeper(repository.NewDocumentRepository(db), cfg.Upload.StagingDir,
				time.Duration(hours)*time.Hour, zl).DryRun(dryRun)

			removed, err := sweeper.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			verb := "removed"
			if dryRun {
				verb = "would remove"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d staged file(s)\n", verb, removed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only report what would be removed")
	cmd.Flags().IntVar(&hours, "hours", 24, "Minimum age in hours of a staged file (defaults to upload.staging_ttl_hours)")
	return cmd
}

func newRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue",
		Short: "Move jobs held by crashed workers back to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, zl, err := setup()
			if err != nil {
				return err
			}
			defer zl.Sync()

			rdb, err := database.NewRedis(&cfg.Redis)
			if err != nil {
				return fmt.Errorf("connect redis: %w", err)
			}
			defer rdb.Close()

			jobs, err := queue.New(cfg.Queue, cfg.Redis, rdb, zl)
			if err != nil {
				return err
			}
			defer jobs.Close()

			rb, ok := jobs.(*queue.RedisBackend)
			if !ok {
				return fmt.Errorf("requeue is only supported by the redis queue driver, not %q", cfg.Queue.Driver)
			}
			moved, err := rb.Requeue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d job(s)\n", moved)
			return nil
		},
	}
}
