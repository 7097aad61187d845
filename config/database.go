package config

import (
	"strings"
	"time"
)

// LedgerDriver selects the relational store behind the job ledger.
type LedgerDriver string

const (
	// LedgerDriverPostgres stores jobs in PostgreSQL.
	LedgerDriverPostgres LedgerDriver = "postgres"
	// LedgerDriverSQLite stores jobs in an embedded SQLite file.
	LedgerDriverSQLite LedgerDriver = "sqlite"
)

// LedgerConfig selects and locates the job ledger.
type LedgerConfig struct {
	Driver     LedgerDriver `env:"DRIVER"      envDefault:"postgres"`
	SQLitePath string       `env:"SQLITE_PATH" envDefault:"search_jobs.db"`
}

// Sanitize falls back to Postgres for unknown drivers.
func (c *LedgerConfig) Sanitize() {
	c.Driver = LedgerDriver(strings.ToLower(strings.TrimSpace(string(c.Driver))))
	if c.Driver != LedgerDriverSQLite {
		c.Driver = LedgerDriverPostgres
	}
	c.SQLitePath = strings.TrimSpace(c.SQLitePath)
	if c.SQLitePath == "" {
		c.SQLitePath = "search_jobs.db"
	}
}

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"mmk_export"`
	Password string `env:"PASSWORD"                envDefault:"mmk_export"`
	Name     string `env:"NAME"                    envDefault:"mmk_export"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	// Applies to both ledger drivers.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	Enabled            bool     `env:"ENABLED"              envDefault:"false"`
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
	KeyPrefix          string   `env:"KEY_PREFIX"           envDefault:"mmk_export:"`
}

// CacheConfig contains status cache configuration (Redis-based).
type CacheConfig struct {
	// StatusTTL caps how long a COMPLETE status response is served from cache.
	StatusTTL time.Duration `env:"STATUS_CACHE_TTL" envDefault:"5m"`
}

// Sanitize applies guardrails to cache configuration values.
func (c *CacheConfig) Sanitize() {
	if c.StatusTTL < 0 {
		c.StatusTTL = 0
	}
}
