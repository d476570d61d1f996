// Package snapshot manages immutable raw input files. Each snapshot is a
// data file plus a YAML .dvc file that records its provenance and md5.
package snapshot

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // md5 identifies content, it is not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"etl-catalog/internal/domain"
	"etl-catalog/internal/meta"
)

// Out is one tracked file of a snapshot.
type Out struct {
	MD5  string `yaml:"md5"`
	Size int64  `yaml:"size"`
	Path string `yaml:"path"`
}

// Meta is the provenance block of a .dvc file.
type Meta struct {
	Origin  meta.Origin   `yaml:"origin"`
	License *meta.License `yaml:"license,omitempty"`
}

// Metadata is the content of a .dvc file.
type Metadata struct {
	Meta Meta  `yaml:"meta"`
	Outs []Out `yaml:"outs"`
}

// Snapshot is a snapshot URI bound to a local snapshots directory.
type Snapshot struct {
	URI      domain.URI
	Metadata Metadata

	root string
}

// Load reads the .dvc file of uri under root.
func Load(root string, uri domain.URI) (*Snapshot, error) {
	if !uri.IsSnapshot() {
		return nil, domain.ErrValidation("%s is not a snapshot URI", uri)
	}
	s := &Snapshot{URI: uri, root: root}
	data, err := os.ReadFile(s.MetadataPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrNotFound("snapshot %s has no metadata file %s", uri, s.MetadataPath())
		}
		return nil, fmt.Errorf("read %s: %w", s.MetadataPath(), err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s.Metadata); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.MetadataPath(), err)
	}
	if len(s.Metadata.Outs) != 1 {
		return nil, domain.ErrValidation("snapshot %s: expected exactly one entry in outs, got %d", uri, len(s.Metadata.Outs))
	}
	if s.Metadata.Outs[0].MD5 == "" {
		return nil, domain.ErrValidation("snapshot %s: outs[0].md5 is empty", uri)
	}
	return s, nil
}

// Path returns the local data file.
func (s *Snapshot) Path() string {
	return filepath.Join(s.root, filepath.FromSlash(s.URI.Path()))
}

// MetadataPath returns the .dvc file.
func (s *Snapshot) MetadataPath() string { return s.Path() + ".dvc" }

// MD5 returns the recorded checksum of the data file.
func (s *Snapshot) MD5() string { return s.Metadata.Outs[0].MD5 }

// Origin returns the snapshot origin with its license filled in.
func (s *Snapshot) Origin() meta.Origin {
	o := s.Metadata.Meta.Origin
	if o.License.IsZero() && s.Metadata.Meta.License != nil {
		o.License = *s.Metadata.Meta.License
	}
	return o
}

// License returns the snapshot license, falling back to the origin's.
func (s *Snapshot) License() meta.License {
	if s.Metadata.Meta.License != nil && !s.Metadata.Meta.License.IsZero() {
		return *s.Metadata.Meta.License
	}
	return s.Metadata.Meta.Origin.License
}

// Verify checks the local data file against the recorded md5. A missing
// file is reported with os.ErrNotExist.
func (s *Snapshot) Verify() error {
	f, err := os.Open(s.Path())
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	h := md5.New() //nolint:gosec
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash %s: %w", s.Path(), err)
	}
	return s.checkSum(h)
}

func (s *Snapshot) checkSum(h hash.Hash) error {
	if got := hex.EncodeToString(h.Sum(nil)); got != s.MD5() {
		return &domain.ChecksumMismatchError{URI: s.URI.String(), Expected: s.MD5(), Actual: got}
	}
	return nil
}

// Materialized reports whether the local data file exists and matches its md5.
func (s *Snapshot) Materialized() bool { return s.Verify() == nil }

// Open returns the verified local data file.
func (s *Snapshot) Open() (io.ReadCloser, error) {
	if err := s.Verify(); err != nil {
		return nil, err
	}
	return os.Open(s.Path())
}

// Pull fetches the data file from store unless a verified copy is already
// present. The download is checked before it replaces the local file.
func (s *Snapshot) Pull(ctx context.Context, store Store) error {
	if s.Materialized() {
		return nil
	}
	if store == nil {
		return domain.ErrNotFound("snapshot %s is not materialized and no store is configured", s.URI)
	}
	rc, err := store.Get(ctx, CacheKey(s.MD5()))
	if err != nil {
		return fmt.Errorf("pull %s: %w", s.URI, err)
	}
	defer func() { _ = rc.Close() }()

	if err := os.MkdirAll(filepath.Dir(s.Path()), 0o750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.Path()), ".pull-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	h := md5.New() //nolint:gosec
	if _, err := io.Copy(io.MultiWriter(tmp, h), rc); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("download %s: %w", s.URI, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := s.checkSum(h); err != nil {
		return err
	}
	return os.Rename(tmpName, s.Path())
}

// CacheKey returns the content-addressed store key of an md5 digest.
func CacheKey(md5sum string) string {
	if len(md5sum) < 3 {
		return "md5/" + md5sum
	}
	return "md5/" + md5sum[:2] + "/" + md5sum[2:]
}

// Create copies data into the snapshots directory under uri and writes its
// .dvc file. It returns the new snapshot.
func Create(root string, uri domain.URI, m Meta, data io.Reader) (*Snapshot, error) {
	if !uri.IsSnapshot() {
		return nil, domain.ErrValidation("%s is not a snapshot URI", uri)
	}
	s := &Snapshot{URI: uri, root: root}
	if err := os.MkdirAll(filepath.Dir(s.Path()), 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	f, err := os.Create(s.Path())
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", s.Path(), err)
	}
	h := md5.New() //nolint:gosec
	size, err := io.Copy(io.MultiWriter(f, h), data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", s.Path(), err)
	}

	s.Metadata = Metadata{
		Meta: m,
		Outs: []Out{{MD5: hex.EncodeToString(h.Sum(nil)), Size: size, Path: uri.ShortName}},
	}
	out, err := yaml.Marshal(s.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", s.MetadataPath(), err)
	}
	if err := os.WriteFile(s.MetadataPath(), out, 0o600); err != nil {
		return nil, fmt.Errorf("write %s: %w", s.MetadataPath(), err)
	}
	return s, nil
}
