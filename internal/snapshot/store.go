package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"etl-catalog/internal/domain"
)

// Store is a content-addressed object store that snapshot files are pulled
// from. Keys come from CacheKey.
type Store interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Compile-time checks.
var (
	_ Store = (*LocalStore)(nil)
	_ Store = (*S3Store)(nil)
)

// LocalStore is a Store backed by a directory, e.g. a shared DVC cache.
type LocalStore struct {
	Root string
}

// NewLocalStore returns a store rooted at dir.
func NewLocalStore(dir string) *LocalStore { return &LocalStore{Root: dir} }

func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", domain.ErrValidation("invalid store key %q", key)
	}
	return filepath.Join(s.Root, clean), nil
}

// Get opens the object at key.
func (s *LocalStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p) //nolint:gosec // key is validated to stay under Root
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrNotFound("object %s not found in %s", key, s.Root)
		}
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	return f, nil
}

// Put stores r under key.
func (s *LocalStore) Put(_ context.Context, key string, r io.Reader) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(p), err)
	}
	f, err := os.Create(p) //nolint:gosec // key is validated to stay under Root
	if err != nil {
		return fmt.Errorf("create %s: %w", p, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", p, err)
	}
	return f.Close()
}

// Publish copies the verified data file of s into store under its cache key.
func (s *Snapshot) Publish(ctx context.Context, store *LocalStore) error {
	rc, err := s.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	return store.Put(ctx, CacheKey(s.MD5()), rc)
}
