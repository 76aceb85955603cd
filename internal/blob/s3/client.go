// Package s3blob backs the domain blob interfaces with AWS SDK v2. It
// works against real S3 as well as self-hosted stores (MinIO, R2) via
// a custom endpoint.
package s3blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig describes the object store the advisor archives into.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint for compatible providers,
	// e.g. "http://localhost:9000" for a local MinIO. Empty means
	// standard AWS S3.
	Endpoint string

	// Region passed to the SDK. Compatible providers usually accept
	// any value here but the SDK requires one.
	Region string

	// Bucket all advisor objects live under.
	Bucket string

	AccessKey string
	SecretKey string

	// UseSSL picks the scheme when Endpoint carries none.
	UseSSL bool

	// ForcePathStyle puts the bucket in the URL path instead of the
	// host. MinIO needs this.
	ForcePathStyle bool
}

// Client is the shared connection the archiver's writer and reader are
// built on.
type Client struct {
	api    *s3.Client
	bucket string
}

// New dials the configured object store and returns a client bound to
// its bucket.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	switch {
	case cfg.Bucket == "":
		return nil, fmt.Errorf("s3blob: bucket is required")
	case cfg.Region == "":
		return nil, fmt.Errorf("s3blob: region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(withScheme(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{api: api, bucket: cfg.Bucket}, nil
}

// Health verifies the bucket is reachable with the configured
// credentials.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Close exists so the wiring layer can treat every backend uniformly;
// the SDK's HTTP client needs no teardown.
func (c *Client) Close() error { return nil }

// withScheme prepends http:// or https:// when the endpoint has no
// scheme of its own.
func withScheme(endpoint string, ssl bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if ssl {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
