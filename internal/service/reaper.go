package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/mmk-export-api/config"
	"github.com/target/mmk-export-api/internal/core"
	"github.com/target/mmk-export-api/internal/domain/model"
	obserrors "github.com/target/mmk-export-api/internal/observability/errors"
	"github.com/target/mmk-export-api/internal/observability/metrics"
	"github.com/target/mmk-export-api/internal/observability/statsd"
)

// abandonedExportReason is recorded on rows failed by the reaper.
const abandonedExportReason = "export abandoned: no result recorded within the running max age"

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.SearchJobReaperRepository // Required: reaper repository
	Config  config.ReaperConfig            // Required: reaper configuration
	Logger  *slog.Logger                   // Optional: structured logger
	Metrics statsd.Sink                    // Optional: metrics sink (StatsD-compatible)
}

// ReaperService keeps the search job ledger healthy.
//
// This service manages:
// - Failing exports whose instance died before recording an outcome, which frees the fingerprint.
// - Deleting old complete rows once their artifacts have aged out, when configured.
// - Deleting old error rows.
type ReaperService struct {
	repo    core.SearchJobReaperRepository
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("SearchJobReaperRepository is required")
	}
	if opts.Config.Interval <= 0 {
		return nil, errors.New("reaper interval must be positive")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"running_max_age", opts.Config.RunningMaxAge,
			"completed_max_age", opts.Config.CompletedMaxAge,
			"failed_max_age", opts.Config.FailedMaxAge,
		)
	}

	return &ReaperService{
		repo:    opts.Repo,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Jitter keeps instances started together from reaping in lockstep.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.RunOnce(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
			}
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

type cleanupStep struct {
	operation string
	fn        func(context.Context) (int64, error)
}

type cleanupResult struct {
	operation string
	count     int64
	err       error
}

// RunOnce performs every cleanup step once. A failing step does not stop the others.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	start := time.Now()

	steps := []cleanupStep{
		{operation: "fail_running", fn: s.failStaleRunning},
		{operation: "delete_failed", fn: s.deleteOld(model.SearchJobStatusError, s.config.FailedMaxAge)},
	}
	if s.config.CompletedMaxAge > 0 {
		steps = append(steps, cleanupStep{
			operation: "delete_completed",
			fn:        s.deleteOld(model.SearchJobStatusComplete, s.config.CompletedMaxAge),
		})
	}

	var (
		errs        []error
		allCanceled = true
		results     = make([]cleanupResult, 0, len(steps))
	)
	for _, step := range steps {
		count, err := step.fn(ctx)
		results = append(results, cleanupResult{
			operation: step.operation,
			count:     count,
			err:       suppressContextCancellation(err),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.operation, err))
			allCanceled = allCanceled && isContextCancellation(err)
		}
	}

	s.emitCleanupMetrics(results, time.Since(start))

	if len(errs) > 0 {
		if allCanceled {
			return context.Canceled
		}
		return fmt.Errorf("cleanup failed: %w", errors.Join(errs...))
	}
	return nil
}

// failStaleRunning loops until no batch is left.
func (s *ReaperService) failStaleRunning(ctx context.Context) (int64, error) {
	total, err := drainBatches(ctx, func(ctx context.Context) (int64, error) {
		return s.repo.FailStaleRunning(ctx, s.config.RunningMaxAge, abandonedExportReason, s.config.BatchSize)
	})
	if total > 0 && s.logger != nil {
		s.logger.WarnContext(ctx, "failed abandoned search exports",
			"count", total,
			"max_age", s.config.RunningMaxAge,
		)
	}
	return total, err
}

func (s *ReaperService) deleteOld(status model.SearchJobStatus, maxAge time.Duration) func(context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		total, err := drainBatches(ctx, func(ctx context.Context) (int64, error) {
			return s.repo.DeleteOld(ctx, core.DeleteOldSearchJobsParams{
				Status:    status,
				MaxAge:    maxAge,
				BatchSize: s.config.BatchSize,
			})
		})
		if total > 0 && s.logger != nil {
			s.logger.InfoContext(ctx, "deleted old search jobs",
				"status", string(status),
				"count", total,
				"max_age", maxAge,
			)
		}
		return total, err
	}
}

func drainBatches(ctx context.Context, batch func(context.Context) (int64, error)) (int64, error) {
	var total int64
	for {
		count, err := batch(ctx)
		if err != nil {
			return total, err
		}
		total += count
		if count == 0 {
			return total, nil
		}
		// Check context between batches
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

func (s *ReaperService) emitCleanupMetrics(results []cleanupResult, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}

	var (
		total    int64
		firstErr error
	)
	for _, r := range results {
		total += r.count
		if firstErr == nil {
			firstErr = r.err
		}
	}

	tags := map[string]string{"result": cleanupResultTag(total, firstErr)}
	if class := obserrors.Classify(firstErr); class != "" {
		tags["error_class"] = class
	}
	s.metrics.Count("reaper.cleanup", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", elapsed, metrics.CloneTags(tags))
	}

	for _, r := range results {
		opTags := map[string]string{
			"operation": r.operation,
			"result":    cleanupResultTag(r.count, r.err),
		}
		if class := obserrors.Classify(r.err); class != "" {
			opTags["error_class"] = class
		}
		s.metrics.Count("reaper.cleanup_operation", 1, opTags)
		if r.err == nil && r.count > 0 {
			s.metrics.Count("reaper.jobs_processed", r.count, metrics.CloneTags(opTags))
		}
	}

	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func cleanupResultTag(count int64, err error) string {
	switch {
	case err != nil:
		return metrics.ResultError
	case count == 0:
		return metrics.ResultNoop
	default:
		return metrics.ResultSuccess
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}
	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
