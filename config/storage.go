package config

import (
	"strings"
	"time"
)

// maxPresignTTL mirrors the SigV4 limit on pre-signed URL lifetime.
const maxPresignTTL = 7 * 24 * time.Hour

// StorageConfig contains S3 object storage configuration.
type StorageConfig struct {
	Bucket string `env:"BUCKET"`
	Region string `env:"REGION" envDefault:"us-east-1"`
	// Endpoint points at an S3-compatible service (MinIO, localstack). Empty uses AWS.
	Endpoint string `env:"ENDPOINT"`
	// Static credentials; empty falls back to the default AWS credential chain.
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	KeyPrefix       string `env:"KEY_PREFIX"        envDefault:"search-exports"`

	PresignTTL    time.Duration `env:"PRESIGN_TTL"    envDefault:"24h"`
	UploadTimeout time.Duration `env:"UPLOAD_TIMEOUT" envDefault:"10m"`
}

// Sanitize applies guardrails to storage configuration values.
func (c *StorageConfig) Sanitize() {
	c.Bucket = strings.TrimSpace(c.Bucket)
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.KeyPrefix = strings.Trim(strings.TrimSpace(c.KeyPrefix), "/")

	if c.PresignTTL <= 0 {
		c.PresignTTL = 24 * time.Hour
	}
	if c.PresignTTL > maxPresignTTL {
		c.PresignTTL = maxPresignTTL
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 10 * time.Minute
	}
}

// UsesStaticCredentials reports whether both halves of a static key pair are set.
func (c *StorageConfig) UsesStaticCredentials() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}
