package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ExportConfig controls the background export pipeline and submission retries.
type ExportConfig struct {
	// ScratchDir holds export files between search and upload. Empty uses the OS temp dir.
	ScratchDir     string `env:"SCRATCH_DIR"`
	Concurrency    int64  `env:"CONCURRENCY"     envDefault:"4"`
	SubmitAttempts int    `env:"SUBMIT_ATTEMPTS" envDefault:"3"`
	// ArtifactRetention matches the bucket lifecycle; 0 means artifacts never go stale.
	ArtifactRetention time.Duration `env:"ARTIFACT_RETENTION" envDefault:"0"`
	URLExpirySkew     time.Duration `env:"URL_EXPIRY_SKEW"    envDefault:"30s"`
	// DrainTimeout bounds how long shutdown waits for in-flight exports.
	DrainTimeout time.Duration `env:"DRAIN_TIMEOUT" envDefault:"2m"`
}

// Sanitize applies guardrails to export configuration values.
func (c *ExportConfig) Sanitize() {
	if c.ScratchDir = strings.TrimSpace(c.ScratchDir); c.ScratchDir == "" {
		c.ScratchDir = filepath.Join(os.TempDir(), "search-exports")
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.SubmitAttempts <= 0 {
		c.SubmitAttempts = 3
	}
	if c.ArtifactRetention < 0 {
		c.ArtifactRetention = 0
	}
	if c.URLExpirySkew < 0 {
		c.URLExpirySkew = 0
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 2 * time.Minute
	}
}
