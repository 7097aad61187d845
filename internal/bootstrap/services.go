package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"

	"github.com/target/mmk-export-api/config"
	"github.com/target/mmk-export-api/internal/adapters/elastic"
	"github.com/target/mmk-export-api/internal/adapters/s3store"
	"github.com/target/mmk-export-api/internal/core"
	"github.com/target/mmk-export-api/internal/data"
	"github.com/target/mmk-export-api/internal/data/database"
	"github.com/target/mmk-export-api/internal/observability/statsd"
	"github.com/target/mmk-export-api/internal/observability/tracing"
	"github.com/target/mmk-export-api/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Ledger        *data.SearchJobRepo
	Exporter      core.ScrollExporter
	Publisher     core.ObjectPublisher
	Pipeline      *service.ExportPipeline
	Submit        *service.SearchJobService
	Status        *service.SearchStatusService
	Reaper        *service.ReaperService // nil when the reaper is disabled
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
	// ShutdownTracing flushes buffered spans. Never nil.
	ShutdownTracing tracing.Shutdown
}

// Close flushes spans and releases the metrics socket.
func (o ObservabilityContainer) Close(ctx context.Context) error {
	var errs []error
	if o.ShutdownTracing != nil {
		errs = append(errs, o.ShutdownTracing(ctx))
	}
	if o.MetricsSink != nil {
		errs = append(errs, o.MetricsSink.Close())
	}
	return errors.Join(errs...)
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	Dialect     database.Dialect
	RedisClient redis.UniversalClient // Optional: enables the status cache
	Search      *elasticsearch.Client
	Storage     *s3.Client
	Logger      *slog.Logger

	// Exporter and Publisher replace the clients above when set. Used by tests and the admin CLI.
	Exporter  core.ScrollExporter
	Publisher core.ObjectPublisher
}

// BuildObservability configures the metrics sink and the trace exporter.
func BuildObservability(ctx context.Context, logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	sink, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Metrics.IsEnabled(),
		Address: cfg.Metrics.StatsdAddress,
		Prefix:  cfg.Metrics.Prefix,
		Logger:  obsLogger,
	})
	if err != nil {
		obsLogger.Error("failed to initialise statsd client", "error", err)
		sink, _ = statsd.NewClient(statsd.Config{Logger: obsLogger})
	}

	shutdown, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
		Insecure:    cfg.Tracing.Insecure,
	}, obsLogger)
	if err != nil {
		obsLogger.Error("failed to initialise tracing", "error", err)
		shutdown = func(context.Context) error { return nil }
	}

	return ObservabilityContainer{
		MetricsSink:     sink,
		MetricsConfig:   cfg.Metrics,
		ShutdownTracing: shutdown,
	}
}

// NewServices wires the ledger, backends and services into one container.
func NewServices(ctx context.Context, deps *ServiceDeps) (*ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return nil, errors.New("service deps with config are required")
	}
	if deps.DB == nil {
		return nil, errors.New("ledger database is required")
	}
	cfg := deps.Config
	logger := deps.Logger

	obs := BuildObservability(ctx, logger, cfg.Observability)

	ledger := data.NewSearchJobRepo(deps.DB, data.SearchJobRepoConfig{Dialect: deps.Dialect, Logger: logger})

	exporter, err := buildExporter(deps)
	if err != nil {
		return nil, err
	}
	publisher, err := buildPublisher(deps)
	if err != nil {
		return nil, err
	}

	var cache core.CacheRepository
	if deps.RedisClient != nil {
		cache = data.NewRedisCacheRepo(deps.RedisClient, cfg.Redis.KeyPrefix)
	}
	var validator core.QueryValidator
	if v, ok := exporter.(core.QueryValidator); ok {
		validator = v
	}

	pipeline, err := service.NewExportPipeline(service.ExportPipelineOptions{
		Ledger:      ledger,
		Exporter:    exporter,
		Publisher:   publisher,
		PresignTTL:  cfg.Storage.PresignTTL,
		Concurrency: cfg.Export.Concurrency,
		Metrics:     obs.MetricsSink,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create export pipeline: %w", err)
	}

	submit, err := service.NewSearchJobService(service.SearchJobServiceOptions{
		Ledger:            ledger,
		Publisher:         publisher,
		Pipeline:          pipeline,
		Validator:         validator,
		PresignTTL:        cfg.Storage.PresignTTL,
		SubmitAttempts:    cfg.Export.SubmitAttempts,
		URLExpirySkew:     cfg.Export.URLExpirySkew,
		ArtifactRetention: cfg.Export.ArtifactRetention,
		Metrics:           obs.MetricsSink,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create search job service: %w", err)
	}

	status, err := service.NewSearchStatusService(service.SearchStatusServiceOptions{
		Ledger:        ledger,
		Publisher:     publisher,
		Cache:         cache,
		PresignTTL:    cfg.Storage.PresignTTL,
		CacheTTL:      cfg.Cache.StatusTTL,
		URLExpirySkew: cfg.Export.URLExpirySkew,
		Metrics:       obs.MetricsSink,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create search status service: %w", err)
	}

	var reaper *service.ReaperService
	if cfg.Reaper.Enabled {
		reaper, err = service.NewReaperService(service.ReaperServiceOptions{
			Repo:    ledger,
			Config:  cfg.Reaper,
			Logger:  logger,
			Metrics: obs.MetricsSink,
		})
		if err != nil {
			return nil, fmt.Errorf("create reaper service: %w", err)
		}
	}

	return &ServiceContainer{
		Ledger:        ledger,
		Exporter:      exporter,
		Publisher:     publisher,
		Pipeline:      pipeline,
		Submit:        submit,
		Status:        status,
		Reaper:        reaper,
		Observability: obs,
	}, nil
}

//nolint:ireturn // the exporter seam is swapped in tests and the admin CLI.
func buildExporter(deps *ServiceDeps) (core.ScrollExporter, error) {
	if deps.Exporter != nil {
		return deps.Exporter, nil
	}
	cfg := deps.Config.Search
	exporter, err := elastic.NewScrollExporter(elastic.ScrollExporterOptions{
		Client:          deps.Search,
		Indices:         cfg.Indices,
		ScratchDir:      deps.Config.Export.ScratchDir,
		Fields:          elastic.Fields{ID: cfg.IDField, Time: cfg.TimeField},
		PageSize:        cfg.PageSize,
		ScrollKeepAlive: cfg.ScrollKeepAlive,
		PageTimeout:     cfg.PageTimeout,
		ExportTimeout:   cfg.ExportTimeout,
		MaxDocuments:    cfg.MaxDocuments,
		Logger:          deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create scroll exporter: %w", err)
	}
	return exporter, nil
}

//nolint:ireturn // the publisher seam is swapped in tests and the admin CLI.
func buildPublisher(deps *ServiceDeps) (core.ObjectPublisher, error) {
	if deps.Publisher != nil {
		return deps.Publisher, nil
	}
	cfg := deps.Config.Storage
	publisher, err := s3store.NewPublisherFromClient(deps.Storage, s3store.PublisherOptions{
		Bucket:        cfg.Bucket,
		KeyPrefix:     cfg.KeyPrefix,
		UploadTimeout: cfg.UploadTimeout,
		Logger:        deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create object publisher: %w", err)
	}
	return publisher, nil
}
