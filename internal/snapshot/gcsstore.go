package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"etl-catalog/internal/domain"
)

// GCSConfig configures a GCSStore.
type GCSConfig struct {
	Bucket string
	Prefix string
	// Endpoint overrides the JSON API endpoint, e.g. a fake-gcs-server
	// "http://localhost:4443/storage/v1/".
	Endpoint string
	// CredentialsFile is a service account key. Without one the client is
	// unauthenticated, which serves public buckets.
	CredentialsFile   string
	RequestsPerSecond float64
}

// GCSStore is a Store backed by a Google Cloud Storage bucket.
type GCSStore struct {
	client  *storage.Client
	bucket  string
	prefix  string
	limiter *rate.Limiter
}

// NewGCSStore creates a store for cfg.Bucket.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, domain.ErrValidation("gcs store: bucket is required")
	}
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.CredentialsFile))
	} else {
		opts = append(opts, option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSStore{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		limiter: newLimiter(cfg.RequestsPerSecond),
	}, nil
}

func (s *GCSStore) objectKey(key string) string {
	return joinPrefix(s.prefix, key)
}

// Get downloads the object at key, waiting for the rate limiter first.
func (s *GCSStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gcs rate limit: %w", err)
	}
	name := s.objectKey(key)
	r, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, domain.ErrNotFound("object gs://%s/%s not found", s.bucket, name)
		}
		return nil, fmt.Errorf("get gs://%s/%s: %w", s.bucket, name, err)
	}
	return r, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
