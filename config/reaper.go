package config

import "time"

// ReaperConfig controls the ledger reaper, which fails exports abandoned by a crashed instance and
// deletes old terminal rows.
type ReaperConfig struct {
	Enabled bool `env:"ENABLED" envDefault:"true"`

	// Interval is the reaper tick interval.
	Interval time.Duration `env:"INTERVAL" envDefault:"5m"`

	// RunningMaxAge is how long a canonical row may stay running before it is failed. It must exceed
	// the export and upload budgets, or live exports are failed underneath the pipeline.
	RunningMaxAge time.Duration `env:"RUNNING_MAX_AGE" envDefault:"1h"`

	// CompletedMaxAge is the maximum age for complete rows before deletion. 0 keeps them.
	CompletedMaxAge time.Duration `env:"COMPLETED_MAX_AGE" envDefault:"0"`

	// FailedMaxAge is the maximum age for error rows before deletion.
	FailedMaxAge time.Duration `env:"FAILED_MAX_AGE" envDefault:"168h"` // 7 days

	// BatchSize is the maximum number of rows to process per statement.
	BatchSize int `env:"BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < time.Minute {
		r.Interval = time.Minute
	}
	if r.RunningMaxAge < 5*time.Minute {
		r.RunningMaxAge = 5 * time.Minute
	}
	if r.CompletedMaxAge < 0 {
		r.CompletedMaxAge = 0
	}
	if r.CompletedMaxAge > 0 && r.CompletedMaxAge < time.Hour {
		r.CompletedMaxAge = time.Hour
	}
	if r.FailedMaxAge < time.Hour {
		r.FailedMaxAge = time.Hour
	}

	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}

// FitExportBudget raises RunningMaxAge above the longest time a healthy export can stay running.
func (r *ReaperConfig) FitExportBudget(budget time.Duration) {
	if floor := budget + r.Interval; r.RunningMaxAge < floor {
		r.RunningMaxAge = floor
	}
}
