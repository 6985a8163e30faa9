package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hugh/insightforge/internal/api"
	"github.com/hugh/insightforge/internal/api/handlers"
	"github.com/hugh/insightforge/internal/api/middleware"
	"github.com/hugh/insightforge/internal/auth"
	"github.com/hugh/insightforge/internal/database"
	"github.com/hugh/insightforge/internal/tenancy"
	"github.com/hugh/insightforge/pkg/config"
	"github.com/hugh/insightforge/pkg/crypto"
	"github.com/hugh/insightforge/pkg/queue"
	"github.com/hugh/insightforge/pkg/util"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
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
	logger := util.NewLogger("api", cfg.App.Env, cfg.App.Debug)
	slog.SetDefault(logger)

	logger.Info("starting InsightForge API",
		"env", cfg.App.Env,
		"addr", cfg.Server.Addr(),
	)

	// Connect to database
	db, err := database.Connect(&cfg.Database, cfg.App.Debug, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	if cfg.App.IsDevelopment() {
		if err := database.AutoMigrate(db); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Warn("failed to connect to Redis, usage changes apply inline and login throttling is off", "error", err)
		_ = redisClient.Close()
		redisClient = nil
	}

	// Background jobs and login throttling need redis
	var (
		asynqClient  *asynq.Client
		taskQueue    handlers.TaskEnqueuer
		loginLimiter middleware.LoginLimiter
	)
	if redisClient != nil {
		asynqClient = queue.NewClient(&cfg.Redis)
		taskQueue = asynqClient
		loginLimiter = middleware.NewRedisLoginLimiter(redisClient, cfg.RateLimit.LoginPerMinute)
	}

	// Initialize services
	jwtService, err := auth.NewJWTService(auth.TokenConfig{
		Secret:     cfg.JWT.Secret,
		Algorithm:  cfg.JWT.Algorithm,
		AccessTTL:  cfg.JWT.AccessTTL(),
		RefreshTTL: cfg.JWT.RefreshTTL(),
	})
	if err != nil {
		logger.Error("failed to create token service", "error", err)
		os.Exit(1)
	}
	authService := auth.NewService(db, auth.NewHasher(cfg.Security.BcryptCost), jwtService, logger)
	tenancyService := tenancy.NewService(db, logger)

	// Provider tokens are stored encrypted
	encryptor, err := crypto.NewEncryptor(cfg.Security.EncryptionKey)
	if err != nil {
		logger.Error("failed to create encryptor", "error", err)
		os.Exit(1)
	}
	if cfg.Security.EncryptionKey == "" {
		logger.Warn("ENCRYPTION_KEY not set, using generated key - stored provider tokens will be unreadable after restart")
	}

	var oauthProvider auth.OAuthProvider
	if cfg.OAuth.GoogleEnabled() {
		oauthProvider = auth.NewGoogleOAuth(&cfg.OAuth, authService, encryptor)
		logger.Info("google sign-in enabled")
	}

	// Create router
	router := api.NewRouter(api.RouterConfig{
		DB:             db,
		Redis:          redisClient,
		Logger:         logger,
		JWTService:     jwtService,
		AuthService:    authService,
		Tenancy:        tenancyService,
		OAuth:          oauthProvider,
		Queue:          taskQueue,
		LoginLimiter:   loginLimiter,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimitReqs:  cfg.RateLimit.Requests,
		RateLimitSecs:  cfg.RateLimit.WindowSeconds,
		SecureCookies:  cfg.Server.SecureCookies,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	router.Close()

	if asynqClient != nil {
		_ = asynqClient.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err := database.Close(db); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("server stopped")
}
