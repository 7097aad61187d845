package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/target/mmk-export-api/internal/core"
	"github.com/target/mmk-export-api/internal/domain/model"
	obserrors "github.com/target/mmk-export-api/internal/observability/errors"
	"github.com/target/mmk-export-api/internal/observability/metrics"
	"github.com/target/mmk-export-api/internal/observability/statsd"
)

const (
	defaultExportConcurrency = 4
	// maxErrorMessageLen bounds the failure reason persisted on a row.
	maxErrorMessageLen = 1024
)

// ExportJob is the immutable input of one background export.
type ExportJob struct {
	JobHandle   string
	Fingerprint string
	Query       []byte
}

// ExportPipelineOptions groups dependencies for ExportPipeline.
type ExportPipelineOptions struct {
	Ledger      core.SearchJobLedger // Required
	Exporter    core.ScrollExporter  // Required
	Publisher   core.ObjectPublisher // Required
	PresignTTL  time.Duration        // Required: lifetime of minted download links
	Concurrency int64                // Optional: exports running at once, default 4
	Metrics     statsd.Sink          // Optional
	Logger      *slog.Logger         // Optional
	Tracer      trace.Tracer         // Optional
	Now         func() time.Time     // Optional
}

// ExportPipeline runs the export, upload, presign and ledger transition of each new job in the
// background. Every job is one awaited chain, so any failure reaches MarkError.
type ExportPipeline struct {
	ledger     core.SearchJobLedger
	exporter   core.ScrollExporter
	publisher  core.ObjectPublisher
	presignTTL time.Duration
	sem        *semaphore.Weighted
	metrics    statsd.Sink
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewExportPipeline constructs an ExportPipeline.
func NewExportPipeline(opts ExportPipelineOptions) (*ExportPipeline, error) {
	if opts.Ledger == nil {
		return nil, errors.New("SearchJobLedger is required")
	}
	if opts.Exporter == nil {
		return nil, errors.New("ScrollExporter is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("ObjectPublisher is required")
	}
	if opts.PresignTTL <= 0 {
		return nil, errors.New("PresignTTL must be positive")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultExportConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/target/mmk-export-api/internal/service")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "export_pipeline")
		logger.Debug("ExportPipeline initialized", "concurrency", opts.Concurrency, "presign_ttl", opts.PresignTTL)
	}

	return &ExportPipeline{
		ledger:     opts.Ledger,
		exporter:   opts.Exporter,
		publisher:  opts.Publisher,
		presignTTL: opts.PresignTTL,
		sem:        semaphore.NewWeighted(opts.Concurrency),
		metrics:    opts.Metrics,
		logger:     logger,
		tracer:     opts.Tracer,
		now:        opts.Now,
	}, nil
}

// MustNewExportPipeline constructs an ExportPipeline and panics on error.
func MustNewExportPipeline(opts ExportPipelineOptions) *ExportPipeline {
	p, err := NewExportPipeline(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create ExportPipeline: %v", err))
	}
	return p
}

// Start schedules job and returns immediately. The job keeps ctx's values but not its cancellation,
// so an abandoned request does not abort the export.
func (p *ExportPipeline) Start(ctx context.Context, job ExportJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return model.ErrPipelineClosed
	}
	p.wg.Add(1)
	go p.run(context.WithoutCancel(ctx), job)
	return nil
}

// Closed reports whether Start still accepts jobs.
func (p *ExportPipeline) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close stops accepting jobs. Jobs already started keep running.
func (p *ExportPipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Drain closes the pipeline and waits for in-flight jobs or ctx, whichever ends first.
func (p *ExportPipeline) Drain(ctx context.Context) error {
	p.Close()
	if err := p.Wait(ctx); err != nil {
		return fmt.Errorf("drain export pipeline: %w", err)
	}
	return nil
}

// Wait blocks until no job is in flight or ctx ends. The pipeline stays open; callers must not
// Start jobs while waiting.
func (p *ExportPipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *ExportPipeline) run(ctx context.Context, job ExportJob) {
	defer p.wg.Done()

	ctx, span := p.tracer.Start(ctx, "search_job.pipeline", trace.WithAttributes(
		attribute.String("job_handle", job.JobHandle),
		attribute.String("fingerprint", job.Fingerprint),
	))
	defer span.End()

	start := p.now()
	var (
		link  model.DownloadLink
		empty bool
		err   error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("export pipeline panic: %v", r)
			}
		}()
		if err = p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		link, empty, err = p.execute(ctx, job)
	}()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.fail(ctx, job, err, p.now().Sub(start))
		return
	}

	metrics.EmitTransition(p.metrics, metrics.TransitionMetric{
		To:       model.SearchJobStatusComplete,
		Duration: p.now().Sub(start),
		Empty:    empty,
	})
	if p.logger != nil {
		p.logger.InfoContext(ctx, "search job complete",
			"job_handle", job.JobHandle,
			"fingerprint", job.Fingerprint,
			"empty", empty,
			"url_expiry", link.ExpiresAt,
		)
	}
}

// execute performs export, upload, presign and MarkComplete in order. Each stage consumes the
// previous stage's result value.
func (p *ExportPipeline) execute(ctx context.Context, job ExportJob) (model.DownloadLink, bool, error) {
	exported, err := p.exporter.Export(ctx, core.ExportRequest{JobHandle: job.JobHandle, Query: job.Query})
	empty := model.IsEmptyResult(err)
	if err != nil && !empty {
		return model.DownloadLink{}, false, fmt.Errorf("export: %w", err)
	}
	if exported == nil {
		return model.DownloadLink{}, empty, errors.New("export returned no result")
	}
	defer p.removeScratch(ctx, exported.Path)

	uploaded, err := p.publisher.Upload(ctx, core.UploadRequest{JobHandle: job.JobHandle, Path: exported.Path})
	if err != nil {
		return model.DownloadLink{}, empty, fmt.Errorf("upload: %w", err)
	}

	link, err := p.publisher.Presign(ctx, uploaded.ObjectID, p.presignTTL)
	if err != nil {
		return model.DownloadLink{}, empty, &model.UploadError{Err: fmt.Errorf("presign: %w", err)}
	}

	if err := p.ledger.MarkComplete(ctx, core.MarkCompleteParams{
		JobHandle: job.JobHandle,
		ObjectID:  uploaded.ObjectID,
		Link:      link,
	}); err != nil {
		return model.DownloadLink{}, empty, fmt.Errorf("mark complete: %w", err)
	}
	return link, empty, nil
}

func (p *ExportPipeline) fail(ctx context.Context, job ExportJob, cause error, elapsed time.Duration) {
	metrics.EmitTransition(p.metrics, metrics.TransitionMetric{
		To:       model.SearchJobStatusError,
		Duration: elapsed,
		Err:      cause,
	})

	if p.logger != nil {
		p.logger.WarnContext(ctx, "search job failed",
			"job_handle", job.JobHandle,
			"fingerprint", job.Fingerprint,
			"error_class", obserrors.Classify(cause),
			"error", cause,
		)
	}

	if err := p.ledger.MarkError(ctx, job.JobHandle, truncateReason(cause.Error())); err != nil && p.logger != nil {
		p.logger.ErrorContext(ctx, "failed to record search job error",
			"job_handle", job.JobHandle,
			"error", err,
		)
	}
}

// truncateReason cuts reason to at most maxErrorMessageLen bytes on a rune boundary. Postgres
// rejects text parameters that are not valid UTF-8.
func truncateReason(reason string) string {
	reason = strings.ToValidUTF8(reason, "\uFFFD")
	if len(reason) <= maxErrorMessageLen {
		return reason
	}
	cut := maxErrorMessageLen
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

func (p *ExportPipeline) removeScratch(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) && p.logger != nil {
		p.logger.WarnContext(ctx, "failed to remove scratch file", "path", path, "error", err)
	}
}
