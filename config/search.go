package config

import (
	"strings"
	"time"
)

const (
	defaultSearchPageSize = 1000
	maxSearchPageSize     = 10000
)

// SearchConfig contains Elasticsearch configuration for the scroll exporter.
type SearchConfig struct {
	Addresses []string `env:"ADDRESSES" envDefault:"http://localhost:9200"`
	Username  string   `env:"USERNAME"`
	Password  string   `env:"PASSWORD"`
	// Indices is the comma separated list of indices searched by every export.
	Indices []string `env:"INDEX" envDefault:"*"`

	PageSize        int           `env:"PAGE_SIZE"         envDefault:"1000"`
	ScrollKeepAlive time.Duration `env:"SCROLL_KEEP_ALIVE" envDefault:"1m"`
	PageTimeout     time.Duration `env:"PAGE_TIMEOUT"      envDefault:"30s"`
	ExportTimeout   time.Duration `env:"EXPORT_TIMEOUT"    envDefault:"30m"`
	// MaxDocuments bounds scratch usage per export. 0 disables the limit.
	MaxDocuments int64 `env:"MAX_DOCUMENTS" envDefault:"0"`

	IDField   string `env:"ID_FIELD"   envDefault:"id"`
	TimeField string `env:"TIME_FIELD" envDefault:"observationDateTime"`
}

// Sanitize applies guardrails to search configuration values.
func (c *SearchConfig) Sanitize() {
	c.Addresses = trimAll(c.Addresses)
	c.Indices = trimAll(c.Indices)
	if len(c.Indices) == 0 {
		c.Indices = []string{"*"}
	}

	// Elasticsearch rejects scroll pages above index.max_result_window (10000 by default).
	if c.PageSize <= 0 {
		c.PageSize = defaultSearchPageSize
	}
	if c.PageSize > maxSearchPageSize {
		c.PageSize = maxSearchPageSize
	}
	if c.ScrollKeepAlive <= 0 {
		c.ScrollKeepAlive = time.Minute
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = 30 * time.Second
	}
	if c.ExportTimeout <= 0 {
		c.ExportTimeout = 30 * time.Minute
	}
	if c.MaxDocuments < 0 {
		c.MaxDocuments = 0
	}
	if c.IDField = strings.TrimSpace(c.IDField); c.IDField == "" {
		c.IDField = "id"
	}
	if c.TimeField = strings.TrimSpace(c.TimeField); c.TimeField == "" {
		c.TimeField = "observationDateTime"
	}
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
