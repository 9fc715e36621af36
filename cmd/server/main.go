package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aegisshield/citation-engine/internal/config"
	"github.com/aegisshield/citation-engine/internal/database"
	"github.com/aegisshield/citation-engine/internal/server"
)

func main() {
	exitCode := 0
	defer func() { os.Exit(exitCode) }()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logger := initLogger(cfg)
	defer logger.Sync()

	logger.Info("Starting Citation Engine Service",
		zap.String("environment", cfg.Environment),
		zap.Bool("debug", cfg.Debug))

	// Initialize database
	db, err := database.New(&cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.RunMigrations(); err != nil {
			logger.Fatal("Failed to run database migrations", zap.Error(err))
		}
	}

	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("Failed to connect to redis", zap.String("addr", cfg.Redis.Addr()), zap.Error(err))
		}
	}

	srv := server.New(cfg, logger, db, redisClient)
	if err := srv.Initialize(); err != nil {
		logger.Fatal("Failed to initialize server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		exitCode = 1
		return
	}

	logger.Info("Citation Engine Service stopped")
}

// initLogger initializes the zap logger
func initLogger(cfg *config.Config) *zap.Logger {
	var zapConfig zap.Config

	if cfg.Environment == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	if cfg.Logging.Format != "" {
		zapConfig.Encoding = cfg.Logging.Format
	}
	if zapConfig.Encoding == "console" {
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if level, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil {
		zapConfig.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	return logger
}
