// Package s3blob archives opportunity records to S3 or an S3-compatible store
// such as MinIO or Cloudflare R2.
package s3blob

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds the connection settings for the archive bucket. AWS
// and S3-compatible stores are both reached through the same fields; only
// Endpoint and ForcePathStyle differ between them.
type ClientConfig struct {
	// Endpoint is the base URL of an S3-compatible store, for example
	// "http://localhost:9000" for MinIO. Leave it empty for AWS S3.
	Endpoint string

	// Region is the AWS region. S3-compatible stores usually accept any
	// value but the SDK still requires one.
	Region string

	// Bucket receives every archived opportunity.
	Bucket string

	// AccessKey and SecretKey are static credentials. The SDK's default
	// credential chain is not consulted.
	AccessKey string
	SecretKey string

	// UseSSL picks https when Endpoint is given without a scheme. An
	// explicit scheme in Endpoint always wins.
	UseSSL bool

	// ForcePathStyle puts the bucket in the URL path instead of the host
	// name. MinIO and most self-hosted stores need it.
	ForcePathStyle bool
}

// Client wraps the SDK client together with the bucket it writes to. The
// archive uploads through it and the health endpoint probes it.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New creates a client from cfg. It validates the bucket and region,
// loads an SDK config with static credentials and, when Endpoint is set,
// points the client at it. No request is made; use Health to check that
// the bucket is reachable.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &Client{s3: client, bucket: cfg.Bucket}, nil
}

// Health issues a HeadBucket request. A missing bucket and rejected
// credentials both surface as errors here.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: health check failed for bucket %s: %w", c.bucket, err)
	}
	return nil
}

// S3 returns the underlying SDK client.
func (c *Client) S3() *s3.Client {
	return c.s3
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// normaliseEndpoint returns endpoint unchanged when it already has a
// scheme. Otherwise it prepends https:// or http:// depending on useSSL.
func normaliseEndpoint(endpoint string, useSSL bool) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Scheme != "" {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
