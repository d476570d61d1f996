package snapshot

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"golang.org/x/time/rate"

	"etl-catalog/internal/domain"
)

// AzureConfig configures an AzureStore.
type AzureConfig struct {
	Container   string
	Prefix      string
	AccountName string
	// AccountKey enables shared-key auth; without it requests are anonymous.
	AccountKey string
	// Endpoint overrides the service URL, which defaults to
	// https://<account>.blob.core.windows.net.
	Endpoint          string
	RequestsPerSecond float64
}

// AzureStore is a Store backed by an Azure Blob Storage container.
type AzureStore struct {
	client    *azblob.Client
	container string
	prefix    string
	limiter   *rate.Limiter
}

// NewAzureStore creates a store for cfg.Container.
func NewAzureStore(cfg AzureConfig) (*AzureStore, error) {
	if cfg.Container == "" {
		return nil, domain.ErrValidation("azure store: container is required")
	}
	serviceURL := cfg.Endpoint
	if serviceURL == "" {
		if cfg.AccountName == "" {
			return nil, domain.ErrValidation("azure store: account name or endpoint is required")
		}
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	}

	var (
		client *azblob.Client
		err    error
	)
	if cfg.AccountKey != "" {
		cred, credErr := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("create shared key credential: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	} else {
		client, err = azblob.NewClientWithNoCredential(serviceURL, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzureStore{
		client:    client,
		container: cfg.Container,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		limiter:   newLimiter(cfg.RequestsPerSecond),
	}, nil
}

// Get downloads the blob at key, waiting for the rate limiter first.
func (s *AzureStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("azure rate limit: %w", err)
	}
	name := joinPrefix(s.prefix, key)
	resp, err := s.client.DownloadStream(ctx, s.container, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, domain.ErrNotFound("blob az://%s/%s not found", s.container, name)
		}
		return nil, fmt.Errorf("get az://%s/%s: %w", s.container, name, err)
	}
	return resp.Body, nil
}
