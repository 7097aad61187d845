// Package s3store publishes export artifacts to S3 and mints pre-signed download links.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/target/mmk-export-api/internal/core"
	"github.com/target/mmk-export-api/internal/domain/model"
)

// MaxPresignTTL is the longest lifetime SigV4 allows for a pre-signed URL.
const MaxPresignTTL = 7 * 24 * time.Hour

// Uploader is the subset of the S3 transfer manager the publisher uses.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Presigner is the subset of the S3 presign client the publisher uses.
type Presigner interface {
	PresignGetObject(
		ctx context.Context,
		params *s3.GetObjectInput,
		optFns ...func(*s3.PresignOptions),
	) (*v4.PresignedHTTPRequest, error)
}

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	Bucket        string
	KeyPrefix     string
	Uploader      Uploader
	Presigner     Presigner
	UploadTimeout time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
	Tracer        trace.Tracer
}

// Publisher implements core.ObjectPublisher on S3.
type Publisher struct {
	opts   PublisherOptions
	logger *slog.Logger
	tracer trace.Tracer
}

var _ core.ObjectPublisher = (*Publisher)(nil)

// NewPublisher creates a Publisher from explicit seams.
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if opts.Uploader == nil || opts.Presigner == nil {
		return nil, errors.New("uploader and presigner are required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/target/mmk-export-api/internal/adapters/s3store")
	}
	logger := opts.Logger
	if logger != nil {
		logger = logger.With("component", "object_publisher")
	}
	return &Publisher{opts: opts, logger: logger, tracer: tracer}, nil
}

// NewPublisherFromClient wires the transfer manager and presign client around one S3 client.
func NewPublisherFromClient(client *s3.Client, opts PublisherOptions) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	opts.Uploader = manager.NewUploader(client)
	opts.Presigner = s3.NewPresignClient(client)
	return NewPublisher(opts)
}

// ObjectKey returns the deterministic key for a job's artifact.
func (p *Publisher) ObjectKey(handle string) string {
	return path.Join(p.opts.KeyPrefix, handle+".json")
}

// Upload stores the scratch file under the job's key. Re-uploading the same handle overwrites it.
func (p *Publisher) Upload(ctx context.Context, req core.UploadRequest) (res *core.UploadResult, err error) {
	if err := model.ValidateHandle(req.JobHandle); err != nil {
		return nil, err
	}
	key := p.ObjectKey(req.JobHandle)

	ctx, span := p.tracer.Start(ctx, "s3.upload", trace.WithAttributes(
		attribute.String("job_handle", req.JobHandle),
		attribute.String("object_id", key),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	f, err := os.Open(req.Path)
	if err != nil {
		return nil, &model.UploadError{Err: fmt.Errorf("open scratch file: %w", err)}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &model.UploadError{Err: fmt.Errorf("stat scratch file: %w", err)}
	}

	if p.opts.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.UploadTimeout)
		defer cancel()
	}

	if _, err := p.opts.Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.opts.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/json"),
	}); err != nil {
		return nil, &model.UploadError{Err: fmt.Errorf("put %s: %w", key, err)}
	}

	if p.logger != nil {
		p.logger.DebugContext(ctx, "artifact uploaded",
			"job_handle", req.JobHandle,
			"object_id", key,
			"bytes", info.Size(),
		)
	}
	return &core.UploadResult{ObjectID: key, Bytes: info.Size()}, nil
}

// Presign mints a GET link for objectID valid for ttl, capped at MaxPresignTTL.
func (p *Publisher) Presign(ctx context.Context, objectID string, ttl time.Duration) (model.DownloadLink, error) {
	if objectID == "" {
		return model.DownloadLink{}, errors.New("object id is required")
	}
	if ttl <= 0 {
		return model.DownloadLink{}, fmt.Errorf("presign ttl must be positive, got %s", ttl)
	}
	if ttl > MaxPresignTTL {
		ttl = MaxPresignTTL
	}

	issued := p.opts.Now()
	req, err := p.opts.Presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.opts.Bucket),
		Key:    aws.String(objectID),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return model.DownloadLink{}, fmt.Errorf("presign %s: %w", objectID, err)
	}
	return model.DownloadLink{URL: req.URL, ExpiresAt: issued.Add(ttl).UTC()}, nil
}
