package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/time/rate"

	"etl-catalog/internal/domain"
)

// S3Config configures an S3Store.
type S3Config struct {
	Bucket   string
	Prefix   string
	Endpoint string // host or URL; https:// is assumed without a scheme
	Region   string
	KeyID    string
	Secret   string
	// RequestsPerSecond limits GetObject calls; zero means unlimited.
	RequestsPerSecond float64
}

// S3Store is a Store backed by an S3-compatible bucket.
type S3Store struct {
	client  *s3.Client
	bucket  string
	prefix  string
	limiter *rate.Limiter
}

// NewS3Store creates a store with path-style addressing, which every
// S3-compatible provider accepts.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, domain.ErrValidation("s3 store: bucket is required")
	}
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: true,
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if cfg.KeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.KeyID, cfg.Secret, "")
	} else {
		opts.Credentials = aws.AnonymousCredentials{}
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
	}

	return &S3Store{
		client:  s3.New(opts),
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		limiter: newLimiter(cfg.RequestsPerSecond),
	}, nil
}

func (s *S3Store) objectKey(key string) string {
	return joinPrefix(s.prefix, key)
}

// newLimiter allows rps requests per second with a burst of one; zero or
// less is unlimited.
func newLimiter(rps float64) *rate.Limiter {
	if rps > 0 {
		return rate.NewLimiter(rate.Limit(rps), 1)
	}
	return rate.NewLimiter(rate.Inf, 1)
}

func joinPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// Get downloads the object at key, waiting for the rate limiter first.
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("s3 rate limit: %w", err)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, domain.ErrNotFound("object s3://%s/%s not found", s.bucket, s.objectKey(key))
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, s.objectKey(key), err)
	}
	return out.Body, nil
}
