package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/locolive/notify/internal/api"
	"github.com/locolive/notify/internal/auth"
	"github.com/locolive/notify/internal/config"
	"github.com/locolive/notify/internal/domain"
	"github.com/locolive/notify/internal/fcm"
	"github.com/locolive/notify/internal/middleware"
	"github.com/locolive/notify/internal/repository"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting notification service",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("app_key", cfg.Channel.AppKey),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	repo := repository.NewPostgresRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Connected to database")

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessExpiry)
	signer := auth.NewChannelSigner(cfg.Channel.Secret, cfg.Channel.TokenExpiry)

	var push domain.PushSender
	fcmClient, err := fcm.NewClient(ctx, logger, cfg.Firebase.CredentialsFile)
	if err != nil {
		logger.Warn("Failed to initialize Firebase client, push notifications disabled", zap.Error(err))
	} else {
		push = fcmClient
		logger.Info("Firebase client initialized")
	}

	hub := api.NewHub(api.HubConfig{
		AppKey:  cfg.Channel.AppKey,
		Cluster: cfg.Channel.Cluster,
	}, signer, logger.Named("hub"))
	go hub.Run(ctx)

	notificationService := domain.NewNotificationService(repo, hub, push, logger)

	router := api.NewRouter(api.RouterDeps{
		Notifications: api.NewNotificationHandler(notificationService, logger),
		Channels:      api.NewChannelHandler(signer, logger),
		Internal:      api.NewInternalHandler(notificationService, jwtManager, logger),
		Health:        api.NewHealthHandler(repo, hub, version),
		Hub:           hub,
		JWTManager:    jwtManager,
		RateLimiter:   middleware.NewRateLimiter(ctx, rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst),
		InternalKey:   cfg.Internal.APIKey,
		CORSOrigins:   cfg.CORS.AllowedOrigins,
		Logger:        logger,
	})

	repo.StartCleanupWorker(ctx, cfg.Retention.Interval, cfg.Retention.ReadNotifications, cfg.Retention.DeviceTokens, logger)

	// No WriteTimeout: it would cut long-lived websocket connections.
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	notificationService.Wait()

	logger.Info("Server stopped")
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.Log.Level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

func initDatabase(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
