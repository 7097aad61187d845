package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Ledger, Postgres, Redis and status cache configuration
//   - search.go: Search backend configuration
//   - storage.go: Object storage configuration
//   - export.go: Export pipeline configuration
//   - reaper.go: Ledger reaper configuration
//   - http.go: HTTP server configuration
//   - observability.go: Metrics and tracing configuration
type AppConfig struct {
	// IsDev controls development mode behavior (text logs, verbose defaults).
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Ledger configuration
	Ledger   LedgerConfig `envPrefix:"LEDGER_"`
	Postgres DBConfig     `envPrefix:"DB_"`
	Redis    RedisConfig  `envPrefix:"REDIS_"`
	Cache    CacheConfig

	// Export backends
	Search  SearchConfig  `envPrefix:"SEARCH_"`
	Storage StorageConfig `envPrefix:"STORAGE_"`
	Export  ExportConfig  `envPrefix:"EXPORT_"`
	Reaper  ReaperConfig  `envPrefix:"REAPER_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Ledger.Sanitize()
	c.Cache.Sanitize()
	c.Search.Sanitize()
	c.Storage.Sanitize()
	c.Export.Sanitize()
	c.Reaper.Sanitize()
	c.Reaper.FitExportBudget(c.Search.ExportTimeout + c.Storage.UploadTimeout)
	c.HTTP.Sanitize()
	c.Observability.Sanitize()

	// Check NODE_ENV for dev mode
	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}
