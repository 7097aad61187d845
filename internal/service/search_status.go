package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/mmk-export-api/internal/core"
	"github.com/target/mmk-export-api/internal/domain/model"
	"github.com/target/mmk-export-api/internal/observability/metrics"
	"github.com/target/mmk-export-api/internal/observability/statsd"
)

const (
	defaultStatusCacheTTL = 5 * time.Minute
	statusCachePrefix     = "search_job:status:"
)

// SearchStatusServiceOptions groups dependencies for SearchStatusService.
type SearchStatusServiceOptions struct {
	Ledger        core.SearchJobLedger // Required
	Publisher     core.ObjectPublisher // Required: re-mints expired links
	Cache         core.CacheRepository // Optional: read-through cache of complete records
	PresignTTL    time.Duration        // Required
	CacheTTL      time.Duration        // Optional: default 5m
	URLExpirySkew time.Duration        // Optional: default 30s
	Metrics       statsd.Sink          // Optional
	Logger        *slog.Logger         // Optional
	Now           func() time.Time     // Optional
}

// SearchStatusService resolves a handle to its current state for the owner polling it.
// It never starts an export; an expired link on a complete job is re-minted from the stored object.
type SearchStatusService struct {
	ledger     core.SearchJobLedger
	publisher  core.ObjectPublisher
	cache      core.CacheRepository
	presignTTL time.Duration
	cacheTTL   time.Duration
	skew       time.Duration
	metrics    statsd.Sink
	logger     *slog.Logger
	now        func() time.Time
}

// NewSearchStatusService constructs a new SearchStatusService.
func NewSearchStatusService(opts SearchStatusServiceOptions) (*SearchStatusService, error) {
	if opts.Ledger == nil {
		return nil, errors.New("SearchJobLedger is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("ObjectPublisher is required")
	}
	if opts.PresignTTL <= 0 {
		return nil, errors.New("PresignTTL must be positive")
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultStatusCacheTTL
	}
	if opts.URLExpirySkew <= 0 {
		opts.URLExpirySkew = defaultURLExpirySkew
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "search_status_service")
	}

	return &SearchStatusService{
		ledger:     opts.Ledger,
		publisher:  opts.Publisher,
		cache:      opts.Cache,
		presignTTL: opts.PresignTTL,
		cacheTTL:   opts.CacheTTL,
		skew:       opts.URLExpirySkew,
		metrics:    opts.Metrics,
		logger:     logger,
		now:        opts.Now,
	}, nil
}

// MustNewSearchStatusService constructs a new SearchStatusService and panics on error.
func MustNewSearchStatusService(opts SearchStatusServiceOptions) *SearchStatusService {
	svc, err := NewSearchStatusService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create SearchStatusService: %v", err))
	}
	return svc
}

// Get returns the job behind handle if owner owns it. Unknown handles and foreign handles both
// yield model.ErrSearchJobNotFound. Running and error jobs are returned as stored.
func (s *SearchStatusService) Get(ctx context.Context, owner, handle string) (*model.SearchJob, error) {
	if err := model.ValidateOwner(owner); err != nil {
		return nil, err
	}
	if model.ValidateHandle(handle) != nil {
		return nil, model.ErrSearchJobNotFound
	}

	key := statusCacheKey(owner, handle)
	if job := s.cached(ctx, key); job != nil {
		metrics.EmitStatus(s.metrics, job.Status, true)
		return job, nil
	}

	job, err := s.ledger.FindByHandle(ctx, owner, handle)
	if err != nil {
		return nil, fmt.Errorf("find search job: %w", err)
	}
	if job == nil {
		return nil, model.ErrSearchJobNotFound
	}

	if job.Status == model.SearchJobStatusComplete {
		if !job.URLValid(s.now(), s.skew) {
			if job, err = s.refresh(ctx, job); err != nil {
				return nil, err
			}
		}
		s.store(ctx, key, job)
	}

	metrics.EmitStatus(s.metrics, job.Status, false)
	return job, nil
}

// refresh mints a new link for the stored object and persists it on the row.
func (s *SearchStatusService) refresh(ctx context.Context, job *model.SearchJob) (*model.SearchJob, error) {
	if !job.HasArtifact() {
		return nil, fmt.Errorf("complete search job %s has no artifact", job.JobHandle)
	}

	link, err := s.publisher.Presign(ctx, *job.ObjectID, s.presignTTL)
	metrics.EmitPresign(s.metrics, "refresh", err)
	if err != nil {
		return nil, fmt.Errorf("presign download link: %w", err)
	}

	if err := s.ledger.RefreshURL(ctx, core.RefreshURLParams{JobHandle: job.JobHandle, Link: link}); err != nil {
		return nil, fmt.Errorf("refresh download link: %w", err)
	}

	refreshed := job.Clone()
	refreshed.DownloadURL = &link.URL
	refreshed.URLExpiry = &link.ExpiresAt
	refreshed.UpdatedAt = s.now().UTC()

	if s.logger != nil {
		s.logger.DebugContext(ctx, "download link refreshed",
			"job_handle", job.JobHandle,
			"object_id", *job.ObjectID,
			"url_expiry", link.ExpiresAt,
		)
	}
	return refreshed, nil
}

func (s *SearchStatusService) cached(ctx context.Context, key string) *model.SearchJob {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logCacheErr(ctx, "get", err)
		return nil
	}
	if raw == nil {
		return nil
	}

	var job model.SearchJob
	if err := json.Unmarshal(raw, &job); err != nil {
		s.logCacheErr(ctx, "decode", err)
		s.evict(ctx, key)
		return nil
	}
	// The TTL normally expires the entry first; clock skew between instances can leave a stale one.
	if !job.URLValid(s.now(), s.skew) {
		s.evict(ctx, key)
		return nil
	}
	return &job
}

func (s *SearchStatusService) evict(ctx context.Context, key string) {
	if _, err := s.cache.Delete(ctx, key); err != nil {
		s.logCacheErr(ctx, "delete", err)
	}
}

// store caches a complete job until its link would stop being handed out.
func (s *SearchStatusService) store(ctx context.Context, key string, job *model.SearchJob) {
	if s.cache == nil || job.URLExpiry == nil {
		return
	}
	ttl := min(s.cacheTTL, job.URLExpiry.Sub(s.now())-s.skew)
	if ttl <= 0 {
		return
	}

	raw, err := json.Marshal(job)
	if err != nil {
		s.logCacheErr(ctx, "encode", err)
		return
	}
	if err := s.cache.Set(ctx, key, raw, ttl); err != nil {
		s.logCacheErr(ctx, "set", err)
	}
}

func (s *SearchStatusService) logCacheErr(ctx context.Context, op string, err error) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, "status cache error", "op", op, "error", err)
	}
}

// statusCacheKey scopes entries by owner so one owner can never read another's cached record.
func statusCacheKey(owner, handle string) string {
	sum := sha256.Sum256([]byte(owner))
	return statusCachePrefix + handle + ":" + hex.EncodeToString(sum[:8])
}
