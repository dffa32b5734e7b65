// Package s3blob archives execution records to S3-compatible object storage
// (AWS, MinIO, R2) using AWS SDK v2.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds the archive bucket location and credentials.
type ClientConfig struct {
	Endpoint       string // empty for AWS; scheme optional
	Region         string
	Bucket         string
	AccessKey      string // empty falls back to the default credential chain
	SecretKey      string
	UseSSL         bool // scheme for an Endpoint given without one
	ForcePathStyle bool // required by MinIO and most non-AWS providers
	MaxAttempts    int  // per request, including the first; zero keeps the SDK default
}

// Client holds the SDK client bound to the archive bucket.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds a client. Static credentials are used when AccessKey is set;
// otherwise the SDK resolves them from the environment or instance role.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("s3blob: region is required")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithAppID("flashbot"),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	if cfg.MaxAttempts > 0 {
		loadOpts = append(loadOpts, config.WithRetryMaxAttempts(cfg.MaxAttempts))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	var endpoint string
	if cfg.Endpoint != "" {
		if endpoint, err = normaliseEndpoint(cfg.Endpoint, cfg.UseSSL); err != nil {
			return nil, err
		}
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &Client{s3: client, bucket: cfg.Bucket}, nil
}

// Health checks that the archive bucket is reachable.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		return fmt.Errorf("s3blob: bucket %s unreachable: %w", c.bucket, err)
	}
	return nil
}

// Bucket returns the archive bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// normaliseEndpoint adds a scheme when endpoint has none and rejects
// endpoints that carry a path, which the SDK would silently prepend to
// every key.
func normaliseEndpoint(endpoint string, useSSL bool) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		u, err = url.Parse(scheme + "://" + endpoint)
		if err != nil {
			return "", fmt.Errorf("s3blob: endpoint %q: %w", endpoint, err)
		}
	}
	if u.Path != "" && u.Path != "/" {
		return "", fmt.Errorf("s3blob: endpoint %q must not include a path", endpoint)
	}
	return u.Scheme + "://" + u.Host, nil
}
