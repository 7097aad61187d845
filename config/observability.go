package config

import "strings"

const defaultObservabilityName = "mmk-export-api"

// ObservabilityConfig groups configuration that controls metrics and tracing.
type ObservabilityConfig struct {
	Metrics ObservabilityMetricsConfig
	Tracing ObservabilityTracingConfig
}

// Sanitize applies guardrails to observability sub-configs.
func (c *ObservabilityConfig) Sanitize() {
	c.Metrics.Sanitize()
	c.Tracing.Sanitize()
}

// ObservabilityMetricsConfig controls emission of metrics to external sinks such as StatsD.
type ObservabilityMetricsConfig struct {
	Enabled       bool   `env:"OBSERVABILITY_METRICS_ENABLED"        envDefault:"false"`
	StatsdAddress string `env:"OBSERVABILITY_METRICS_STATSD_ADDRESS" envDefault:"127.0.0.1:8125"`
	Prefix        string `env:"OBSERVABILITY_METRICS_PREFIX"         envDefault:"mmk_export"`
}

// Sanitize normalises derived fields and enforces safe defaults.
func (c *ObservabilityMetricsConfig) Sanitize() {
	c.StatsdAddress = strings.TrimSpace(c.StatsdAddress)
	if c.StatsdAddress == "" {
		c.Enabled = false
	}
	c.Prefix = strings.Trim(strings.TrimSpace(c.Prefix), ".")
}

// IsEnabled returns true when metrics emission is active after sanitisation.
func (c *ObservabilityMetricsConfig) IsEnabled() bool {
	return c.Enabled && c.StatsdAddress != ""
}

// ObservabilityTracingConfig controls OTLP trace export.
type ObservabilityTracingConfig struct {
	Enabled     bool    `env:"OBSERVABILITY_TRACING_ENABLED"      envDefault:"false"`
	Endpoint    string  `env:"OBSERVABILITY_TRACING_ENDPOINT"     envDefault:"localhost:4317"`
	Insecure    bool    `env:"OBSERVABILITY_TRACING_INSECURE"     envDefault:"true"`
	SampleRatio float64 `env:"OBSERVABILITY_TRACING_SAMPLE_RATIO" envDefault:"1"`
	ServiceName string  `env:"OBSERVABILITY_TRACING_SERVICE_NAME" envDefault:"mmk-export-api"`
}

// Sanitize clamps the sample ratio and disables tracing without an endpoint.
func (c *ObservabilityTracingConfig) Sanitize() {
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	if c.Endpoint == "" {
		c.Enabled = false
	}
	if c.SampleRatio < 0 {
		c.SampleRatio = 0
	}
	if c.SampleRatio > 1 {
		c.SampleRatio = 1
	}
	if c.ServiceName = strings.TrimSpace(c.ServiceName); c.ServiceName == "" {
		c.ServiceName = defaultObservabilityName
	}
}
