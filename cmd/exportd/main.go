package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/target/mmk-export-api/config"
	"github.com/target/mmk-export-api/internal/bootstrap"
	"github.com/target/mmk-export-api/internal/data/database"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	cfgPtr := &cfg

	logStartupInfo(ctx, logger, cfgPtr)

	if err = bootstrap.ValidateServiceConfig(cfgPtr); err != nil {
		return err
	}

	db, dialect, redisClient, err := initInfrastructure(ctx, cfgPtr, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close database failed", "error", cerr)
		}
	}()
	if redisClient != nil {
		defer func() {
			if cerr := redisClient.Close(); cerr != nil {
				logger.ErrorContext(ctx, "close redis failed", "error", cerr)
			}
		}()
	}

	// SQLite has no separate migration step in deployment, so it always migrates.
	if cfg.Postgres.RunMigrationsOnStart || dialect == database.SQLite {
		if err = bootstrap.RunMigrations(ctx, db, dialect, logger); err != nil {
			return err
		}
	} else {
		logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
	}

	search, err := bootstrap.NewSearchClient(cfg.Search, logger)
	if err != nil {
		return err
	}
	storage, err := bootstrap.NewStorageClient(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}

	services, err := bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
		Config:      cfgPtr,
		DB:          db,
		Dialect:     dialect,
		RedisClient: redisClient,
		Search:      search,
		Storage:     storage,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	return bootstrap.RunServicesWithShutdown(ctx, &bootstrap.ServiceOrchestrationConfig{
		Config:   cfgPtr,
		Services: services,
		Logger:   logger,
	})
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting export service",
		"ledger_driver", cfg.Ledger.Driver,
		"search_indices", cfg.Search.Indices,
		"bucket", cfg.Storage.Bucket,
		"export_concurrency", cfg.Export.Concurrency,
		"status_cache", cfg.Redis.Enabled,
		"reaper", cfg.Reaper.Enabled,
	)
}

// initInfrastructure connects the ledger and, when enabled, the Redis status cache.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func initInfrastructure(
	ctx context.Context,
	cfg *config.AppConfig,
	logger *slog.Logger,
) (*sql.DB, database.Dialect, redis.UniversalClient, error) {
	dbCfg := bootstrap.DatabaseConfig{
		Ledger:      cfg.Ledger,
		DBConfig:    cfg.Postgres,
		RedisConfig: cfg.Redis,
		Logger:      logger,
	}

	db, dialect, err := bootstrap.ConnectLedger(dbCfg)
	if err != nil {
		return nil, "", nil, fmt.Errorf("connect ledger: %w", err)
	}
	if !cfg.Redis.Enabled {
		return db, dialect, nil, nil
	}

	redisClient, err := bootstrap.ConnectRedis(dbCfg)
	if err != nil {
		if cerr := db.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close database after redis connect failure", "error", cerr)
			return nil, "", nil, fmt.Errorf("connect redis: %w", errors.Join(err, fmt.Errorf("close database: %w", cerr)))
		}
		return nil, "", nil, fmt.Errorf("connect redis: %w", err)
	}
	return db, dialect, redisClient, nil
}
