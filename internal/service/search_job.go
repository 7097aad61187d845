package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/target/mmk-export-api/internal/core"
	"github.com/target/mmk-export-api/internal/domain/fingerprint"
	"github.com/target/mmk-export-api/internal/domain/model"
	"github.com/target/mmk-export-api/internal/observability/metrics"
	"github.com/target/mmk-export-api/internal/observability/statsd"
)

const (
	defaultSubmitAttempts = 3
	defaultURLExpirySkew  = 30 * time.Second
	submitRetryInterval   = 25 * time.Millisecond
	submitRetryMax        = 250 * time.Millisecond
)

// SearchJobServiceOptions groups dependencies for SearchJobService.
type SearchJobServiceOptions struct {
	Ledger            core.SearchJobLedger // Required
	Publisher         core.ObjectPublisher // Required: refreshes links when reusing an expired export
	Pipeline          *ExportPipeline      // Required: runs new exports in the background
	Validator         core.QueryValidator  // Optional: rejects untranslatable queries before any write
	PresignTTL        time.Duration        // Required
	SubmitAttempts    int                  // Optional: fingerprint race attempts, default 3
	URLExpirySkew     time.Duration        // Optional: default 30s
	ArtifactRetention time.Duration        // Optional: 0 keeps completed exports reusable forever
	Metrics           statsd.Sink
	Logger            *slog.Logger
	Tracer            trace.Tracer
	Now               func() time.Time
}

// SearchJobService accepts export submissions and deduplicates them by fingerprint.
//
// The fingerprint's unique index in the ledger is the only lock: at most one submission wins
// InsertRunning and starts an export, every other one aliases the winner.
type SearchJobService struct {
	ledger            core.SearchJobLedger
	publisher         core.ObjectPublisher
	pipeline          *ExportPipeline
	validator         core.QueryValidator
	presignTTL        time.Duration
	attempts          int
	skew              time.Duration
	artifactRetention time.Duration
	metrics           statsd.Sink
	logger            *slog.Logger
	tracer            trace.Tracer
	now               func() time.Time
}

// NewSearchJobService constructs a new SearchJobService.
func NewSearchJobService(opts SearchJobServiceOptions) (*SearchJobService, error) {
	if opts.Ledger == nil {
		return nil, errors.New("SearchJobLedger is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("ObjectPublisher is required")
	}
	if opts.Pipeline == nil {
		return nil, errors.New("ExportPipeline is required")
	}
	if opts.PresignTTL <= 0 {
		return nil, errors.New("PresignTTL must be positive")
	}
	if opts.SubmitAttempts <= 0 {
		opts.SubmitAttempts = defaultSubmitAttempts
	}
	if opts.URLExpirySkew <= 0 {
		opts.URLExpirySkew = defaultURLExpirySkew
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/target/mmk-export-api/internal/service")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "search_job_service")
	}

	return &SearchJobService{
		ledger:            opts.Ledger,
		publisher:         opts.Publisher,
		pipeline:          opts.Pipeline,
		validator:         opts.Validator,
		presignTTL:        opts.PresignTTL,
		attempts:          opts.SubmitAttempts,
		skew:              opts.URLExpirySkew,
		artifactRetention: opts.ArtifactRetention,
		metrics:           opts.Metrics,
		logger:            logger,
		tracer:            opts.Tracer,
		now:               opts.Now,
	}, nil
}

// MustNewSearchJobService constructs a new SearchJobService and panics on error.
func MustNewSearchJobService(opts SearchJobServiceOptions) *SearchJobService {
	svc, err := NewSearchJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create SearchJobService: %v", err))
	}
	return svc
}

// Submit registers a search export and returns its handle without waiting for the export.
//
// A completed export for the same fingerprint is reused under the new handle, refreshing its link
// when expired. A running one is aliased. Otherwise a new export starts in the background.
func (s *SearchJobService) Submit(ctx context.Context, req model.SubmitRequest) (res *model.SubmitResult, err error) {
	ctx, span := s.tracer.Start(ctx, "search_job.submit")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
		}
		span.End()

		var outcome model.SubmitOutcome
		if res != nil {
			outcome = res.Outcome
		}
		metrics.EmitSubmit(s.metrics, metrics.SubmitMetric{Outcome: outcome, Err: err})
	}()

	handle, fp, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("job_handle", handle), attribute.String("fingerprint", fp))

	if s.pipeline.Closed() {
		return nil, model.ErrPipelineClosed
	}

	res, err = s.settle(ctx, handle, fp, req.Owner)
	if err != nil {
		return nil, err
	}

	if res.Outcome == model.SubmitOutcomeNew {
		if err := s.pipeline.Start(ctx, ExportJob{JobHandle: handle, Fingerprint: fp, Query: req.Query}); err != nil {
			// The row exists but nothing will ever finish it.
			if markErr := s.ledger.MarkError(ctx, handle, err.Error()); markErr != nil && s.logger != nil {
				s.logger.ErrorContext(ctx, "failed to fail unscheduled search job", "job_handle", handle, "error", markErr)
			}
			return nil, err
		}
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "search job submitted",
			"job_handle", handle,
			"fingerprint", fp,
			"owner_id", req.Owner,
			"outcome", res.Outcome,
			"status", res.Status,
		)
	}
	return res, nil
}

// prepare validates the request and resolves the handle and fingerprint. Nothing is written.
func (s *SearchJobService) prepare(req model.SubmitRequest) (handle, fp string, err error) {
	if err := model.ValidateOwner(req.Owner); err != nil {
		return "", "", err
	}

	handle = req.Handle
	if handle == "" {
		handle = uuid.NewString()
	} else if err := model.ValidateHandle(handle); err != nil {
		return "", "", err
	}

	fp, err = fingerprint.Compute(req.Query, req.Owner)
	if err != nil {
		return "", "", err
	}

	if s.validator != nil {
		if err := s.validator.ValidateQuery(req.Query); err != nil {
			if !errors.Is(err, model.ErrInvalidQuery) {
				err = errors.Join(model.ErrInvalidQuery, err)
			}
			return "", "", err
		}
	}
	return handle, fp, nil
}

// settle runs the find / reuse / alias / insert steps, retrying when another submission wins the
// fingerprint between our read and our write.
func (s *SearchJobService) settle(ctx context.Context, handle, fp, owner string) (*model.SubmitResult, error) {
	var (
		res     *model.SubmitResult
		attempt int
	)
	op := func() error {
		attempt++
		var err error
		res, err = s.attempt(ctx, handle, fp, owner)
		if err == nil {
			return nil
		}
		if errors.Is(err, model.ErrDuplicateFingerprint) {
			if s.logger != nil {
				s.logger.DebugContext(ctx, "lost fingerprint race",
					"job_handle", handle,
					"fingerprint", fp,
					"attempt", attempt,
				)
			}
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = submitRetryInterval
	b.MaxInterval = submitRetryMax
	b.MaxElapsedTime = 0

	//nolint:gosec // attempts is validated positive in the constructor
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.attempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, model.ErrDuplicateFingerprint) {
			return nil, fmt.Errorf("%w: fingerprint still contended after %d attempts", model.ErrJobConflict, attempt)
		}
		return nil, err
	}
	return res, nil
}

func (s *SearchJobService) attempt(ctx context.Context, handle, fp, owner string) (*model.SubmitResult, error) {
	existing, err := s.ledger.FindByFingerprint(ctx, fp)
	if err != nil {
		return nil, fmt.Errorf("find by fingerprint: %w", err)
	}

	if existing != nil && existing.Status == model.SearchJobStatusComplete && s.stale(existing) {
		if err := s.ledger.RetireCanonical(ctx, existing.JobHandle); err != nil {
			return nil, fmt.Errorf("retire stale export: %w", err)
		}
		if s.logger != nil {
			s.logger.InfoContext(ctx, "retired stale export",
				"job_handle", existing.JobHandle,
				"fingerprint", fp,
				"completed_at", existing.CompletedAt,
			)
		}
		existing = nil
	}

	switch {
	case existing == nil:
		job, err := s.ledger.InsertRunning(ctx, core.InsertRunningParams{
			Fingerprint: fp,
			JobHandle:   handle,
			OwnerID:     owner,
		})
		if err != nil {
			return nil, mapInsertErr(err)
		}
		return result(job, model.SubmitOutcomeNew), nil

	case existing.Status == model.SearchJobStatusComplete:
		return s.reuse(ctx, existing, handle, owner)

	default:
		alias, err := s.ledger.InsertAlias(ctx, core.InsertAliasParams{
			JobHandle:    handle,
			OwnerID:      owner,
			OriginHandle: existing.JobHandle,
		})
		if err != nil {
			return nil, mapInsertErr(err)
		}
		return result(alias, model.SubmitOutcomeAliased), nil
	}
}

// reuse gives handle its own row on top of a completed export, minting a fresh link when the
// stored one is no longer usable.
func (s *SearchJobService) reuse(ctx context.Context, origin *model.SearchJob, handle, owner string) (*model.SubmitResult, error) {
	params := core.InsertAliasParams{
		JobHandle:    handle,
		OwnerID:      owner,
		OriginHandle: origin.JobHandle,
	}

	if !origin.URLValid(s.now(), s.skew) {
		if !origin.HasArtifact() {
			return nil, fmt.Errorf("complete search job %s has no artifact", origin.JobHandle)
		}
		link, err := s.publisher.Presign(ctx, *origin.ObjectID, s.presignTTL)
		metrics.EmitPresign(s.metrics, "reuse", err)
		if err != nil {
			return nil, fmt.Errorf("presign reused export: %w", err)
		}
		params.DownloadURL = &link.URL
		params.URLExpiry = &link.ExpiresAt
	}

	alias, err := s.ledger.InsertAlias(ctx, params)
	if err != nil {
		return nil, mapInsertErr(err)
	}
	return result(alias, model.SubmitOutcomeReused), nil
}

// stale reports whether a completed export is older than the bucket keeps its artifact.
func (s *SearchJobService) stale(job *model.SearchJob) bool {
	if s.artifactRetention <= 0 || job.CompletedAt == nil {
		return false
	}
	return s.now().Sub(*job.CompletedAt) >= s.artifactRetention
}

// mapInsertErr turns a vanished origin into a retryable race.
func mapInsertErr(err error) error {
	switch {
	case errors.Is(err, model.ErrDuplicateFingerprint), errors.Is(err, model.ErrSearchJobNotFound):
		return model.ErrDuplicateFingerprint
	case errors.Is(err, model.ErrDuplicateHandle):
		return err
	default:
		return fmt.Errorf("insert search job: %w", err)
	}
}

func result(job *model.SearchJob, outcome model.SubmitOutcome) *model.SubmitResult {
	return &model.SubmitResult{
		JobHandle:   job.JobHandle,
		Fingerprint: job.Fingerprint,
		Status:      job.Status,
		Outcome:     outcome,
	}
}
