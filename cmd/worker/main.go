package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/hugh/insightforge/internal/database"
	"github.com/hugh/insightforge/internal/tasks"
	"github.com/hugh/insightforge/internal/tenancy"
	"github.com/hugh/insightforge/pkg/config"
	"github.com/hugh/insightforge/pkg/queue"
	"github.com/hugh/insightforge/pkg/util"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := util.NewLogger("worker", cfg.App.Env, cfg.App.Debug)
	slog.SetDefault(logger)

	logger.Info("starting InsightForge worker", "quota_reset_cron", cfg.Worker.QuotaResetCron)

	// Connect to database
	db, err := database.Connect(&cfg.Database, cfg.App.Debug, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	// Create Asynq server
	srv := queue.NewServer(&cfg.Redis, cfg.Worker.Concurrency, logger)

	// Create task handler
	handler := tasks.NewHandler(tenancy.NewService(db, logger), logger, cfg.Worker.QuotaResetCron)

	// Register handlers
	mux := asynq.NewServeMux()
	handler.RegisterHandlers(mux)

	// Schedule the monthly query counter reset
	scheduler := queue.NewScheduler(&cfg.Redis)
	resetTask, err := tasks.NewResetQueriesTask(tasks.ResetQueriesPayload{})
	if err != nil {
		logger.Error("failed to build reset task", "error", err)
		os.Exit(1)
	}
	entryID, err := scheduler.Register(cfg.Worker.QuotaResetCron, resetTask, asynq.MaxRetry(cfg.Worker.QueueRetryLimit))
	if err != nil {
		logger.Error("failed to schedule query reset", "error", err)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	logger.Info("query reset scheduled", "entry_id", entryID, "cron", cfg.Worker.QuotaResetCron)

	// Start processing
	if err := srv.Start(mux); err != nil {
		logger.Error("worker error", "error", err)
		os.Exit(1)
	}

	logger.Info("worker started, waiting for tasks...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker...")
	scheduler.Shutdown()
	srv.Shutdown()

	if err := database.Close(db); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("worker stopped")
}
