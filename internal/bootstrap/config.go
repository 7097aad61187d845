package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/target/mmk-export-api/config"
)

// InitLogger initializes the structured logger.
func InitLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (config.AppConfig, error) {
	// Load .env file if it exists (development)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// ValidateServiceConfig checks the settings the export service cannot start without.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}

	var errs []error
	if len(cfg.Search.Addresses) == 0 {
		errs = append(errs, errors.New("SEARCH_ADDRESSES must list at least one node"))
	}
	if cfg.Storage.Bucket == "" {
		errs = append(errs, errors.New("STORAGE_BUCKET is required"))
	}
	if cfg.Storage.Region == "" {
		errs = append(errs, errors.New("STORAGE_REGION is required"))
	}
	if (cfg.Storage.AccessKeyID == "") != (cfg.Storage.SecretAccessKey == "") {
		errs = append(errs, errors.New("STORAGE_ACCESS_KEY_ID and STORAGE_SECRET_ACCESS_KEY must be set together"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid service configuration: %w", errors.Join(errs...))
	}
	return nil
}
