package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/elastic/go-elasticsearch/v8"

	"github.com/target/mmk-export-api/config"
)

const searchMaxRetries = 3

// NewSearchClient builds the Elasticsearch client used by the scroll exporter. The client
// connects lazily, so this never touches the network.
func NewSearchClient(cfg config.SearchConfig, logger *slog.Logger) (*elasticsearch.Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("at least one search address is required")
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     cfg.Addresses,
		Username:      cfg.Username,
		Password:      cfg.Password,
		MaxRetries:    searchMaxRetries,
		RetryOnStatus: []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("create search client: %w", err)
	}

	if logger != nil {
		logger.Info("search client configured", "addresses", cfg.Addresses, "indices", cfg.Indices)
	}
	return client, nil
}

// NewStorageClient builds the S3 client used for uploads and presigning. Static credentials win
// over the default AWS chain; a custom endpoint switches to path-style addressing for
// S3-compatible stores.
func NewStorageClient(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.UsesStaticCredentials() {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	if logger != nil {
		logger.Info("storage client configured",
			"bucket", cfg.Bucket,
			"region", cfg.Region,
			"endpoint", cfg.Endpoint,
			"static_credentials", cfg.UsesStaticCredentials(),
		)
	}
	return client, nil
}
