// Package pathfinder resolves the inputs and output location of one step.
// A PathFinder is created per step run and only sees the dependencies the
// DAG declares for that step.
package pathfinder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"etl-catalog/internal/dag"
	"etl-catalog/internal/dataset"
	"etl-catalog/internal/domain"
	"etl-catalog/internal/meta"
	"etl-catalog/internal/snapshot"
	"etl-catalog/internal/table"
)

// Config holds everything a PathFinder needs. There is no package state.
type Config struct {
	StepURI     string
	DataDir     string
	SnapshotDir string
	// StepsDir is the root of step code; step metadata lives at
	// <StepsDir>/data/<channel>/<namespace>/<version>/<short_name>.meta.yml.
	StepsDir string
	Graph    *dag.Graph
	// Store is optional; without it snapshots must already be local.
	Store  snapshot.Store
	Logger *slog.Logger
}

// PathFinder resolves the declared dependencies of one step.
type PathFinder struct {
	cfg    Config
	step   domain.URI
	deps   []domain.URI
	logger *slog.Logger

	mu       sync.Mutex
	upstream []meta.DatasetMeta
}

// New returns a PathFinder for cfg.StepURI. The step must be declared in
// the graph; its dependencies must be well-formed URIs.
func New(cfg Config) (*PathFinder, error) {
	step, err := domain.ParseURI(cfg.StepURI)
	if err != nil {
		return nil, err
	}
	if step.IsSnapshot() {
		return nil, domain.ErrValidation("%s is a snapshot, not a step", step)
	}
	if cfg.Graph == nil || !cfg.Graph.Has(cfg.StepURI) {
		return nil, domain.ErrNotFound("step %s is not declared in the dag", cfg.StepURI)
	}
	p := &PathFinder{cfg: cfg, step: step, logger: cfg.Logger}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	p.logger = p.logger.With("step", cfg.StepURI)
	for _, d := range cfg.Graph.Dependencies(cfg.StepURI) {
		u, err := domain.ParseURI(d)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", cfg.StepURI, err)
		}
		p.deps = append(p.deps, u)
	}
	return p, nil
}

// Step returns the URI of the step.
func (p *PathFinder) Step() domain.URI { return p.step }

// Dependencies returns the declared dependencies in DAG order.
func (p *PathFinder) Dependencies() []domain.URI { return append([]domain.URI(nil), p.deps...) }

// OutputDir returns the directory the step's dataset is written to.
func (p *PathFinder) OutputDir() string { return DatasetDir(p.cfg.DataDir, p.step) }

// MetadataPath returns the step-adjacent metadata override file.
func (p *PathFinder) MetadataPath() string { return MetadataPath(p.cfg.StepsDir, p.step) }

// DatasetDir returns where the dataset of step u lives under dataDir.
func DatasetDir(dataDir string, u domain.URI) string {
	return filepath.Join(dataDir, filepath.FromSlash(u.Path()))
}

// MetadataPath returns the metadata override file of step u under stepsDir.
func MetadataPath(stepsDir string, u domain.URI) string {
	return filepath.Join(stepsDir, "data", string(u.Channel), u.Namespace, u.Version, u.ShortName+".meta.yml")
}

func (p *PathFinder) missing(dep, reason string) *domain.MissingDependencyError {
	return &domain.MissingDependencyError{Step: p.step.String(), Dependency: dep, Reason: reason}
}

// Resolve checks that every declared dependency is available: data
// dependencies must be built and snapshots must be present locally or
// pullable from the store. It returns all missing dependencies joined.
func (p *PathFinder) Resolve(ctx context.Context) error {
	var errs []error
	for _, d := range p.deps {
		if d.IsSnapshot() {
			if _, err := p.snapshot(ctx, d); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if _, err := dataset.ReadMeta(DatasetDir(p.cfg.DataDir, d)); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				errs = append(errs, p.missing(d.String(), "not built"))
				continue
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoadSnapshot returns a declared snapshot dependency by file name, e.g.
// "gho.csv", or by "<namespace>/<version>/<file>". The data file is pulled
// from the store when it is missing locally.
func (p *PathFinder) LoadSnapshot(ctx context.Context, name string) (*snapshot.Snapshot, error) {
	var matches []domain.URI
	for _, d := range p.deps {
		if d.IsSnapshot() && (d.ShortName == name || d.Path() == name || d.String() == name) {
			matches = append(matches, d)
		}
	}
	switch len(matches) {
	case 0:
		return nil, p.missing(name, "not declared as a snapshot dependency in the dag")
	case 1:
	default:
		return nil, p.ambiguous(name, matches)
	}
	s, err := p.snapshot(ctx, matches[0])
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.upstream = append(p.upstream, meta.DatasetMeta{
		Origins:  []meta.Origin{s.Origin()},
		Licenses: []meta.License{s.License()},
	})
	p.mu.Unlock()
	p.logger.Debug("loaded snapshot", "snapshot", s.URI.String(), "md5", s.MD5())
	return s, nil
}

func (p *PathFinder) snapshot(ctx context.Context, u domain.URI) (*snapshot.Snapshot, error) {
	s, err := snapshot.Load(p.cfg.SnapshotDir, u)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return nil, p.missing(u.String(), "no .dvc metadata file")
		}
		return nil, err
	}
	verr := s.Verify()
	if verr == nil {
		return s, nil
	}
	if p.cfg.Store == nil {
		if errors.Is(verr, os.ErrNotExist) {
			return nil, p.missing(u.String(), "not materialized")
		}
		return nil, verr
	}
	if err := s.Pull(ctx, p.cfg.Store); err != nil {
		var mismatch *domain.ChecksumMismatchError
		if errors.As(err, &mismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", p.missing(u.String(), "not materialized"), err)
	}
	p.logger.Info("pulled snapshot", "snapshot", u.String())
	return s, nil
}

// LoadOption narrows LoadDataset candidates.
type LoadOption func(*loadFilter)

type loadFilter struct {
	namespace string
	version   string
	channel   domain.Channel
}

// WithNamespace restricts candidates to a namespace.
func WithNamespace(ns string) LoadOption { return func(f *loadFilter) { f.namespace = ns } }

// WithVersion restricts candidates to a version.
func WithVersion(v string) LoadOption { return func(f *loadFilter) { f.version = v } }

// WithChannel restricts candidates to a channel.
func WithChannel(c domain.Channel) LoadOption { return func(f *loadFilter) { f.channel = c } }

// LoadDataset opens a declared data dependency by short name. An empty
// name means the step's own short name, the common case for a step that
// refines the dataset of the same name from an earlier channel.
func (p *PathFinder) LoadDataset(ctx context.Context, shortName string, opts ...LoadOption) (*dataset.Dataset, error) {
	if shortName == "" {
		shortName = p.step.ShortName
	}
	var f loadFilter
	for _, o := range opts {
		o(&f)
	}
	var matches []domain.URI
	for _, d := range p.deps {
		if d.IsSnapshot() || d.ShortName != shortName {
			continue
		}
		if (f.namespace != "" && d.Namespace != f.namespace) ||
			(f.version != "" && d.Version != f.version) ||
			(f.channel != "" && d.Channel != f.channel) {
			continue
		}
		matches = append(matches, d)
	}
	switch len(matches) {
	case 0:
		return nil, p.missing(shortName, "not declared as a data dependency in the dag")
	case 1:
	default:
		return nil, p.ambiguous(shortName, matches)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ds, err := dataset.Open(DatasetDir(p.cfg.DataDir, matches[0]))
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return nil, p.missing(matches[0].String(), "not built")
		}
		return nil, err
	}
	p.mu.Lock()
	p.upstream = append(p.upstream, ds.Meta())
	p.mu.Unlock()
	p.logger.Debug("loaded dataset", "dataset", matches[0].String())
	return ds, nil
}

func (p *PathFinder) ambiguous(query string, matches []domain.URI) error {
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.String()
	}
	return &domain.AmbiguousDependencyError{Step: p.step.String(), Query: query, Candidates: names}
}

// CreateOptions configures CreateDataset.
type CreateOptions struct {
	// DefaultMeta supplies descriptive fields; identity fields always come
	// from the step URI.
	DefaultMeta *meta.DatasetMeta
	// CheckVariablesMetadata makes Save fail on incomplete column metadata.
	CheckVariablesMetadata bool
	// MetadataPath overrides the step-adjacent .meta.yml location.
	MetadataPath string
}

// CreateDataset starts the step's output dataset in OutputDir. Its
// metadata comes from the step URI and DefaultMeta, inherits the origins
// and licenses of everything loaded so far, and is finally patched by the
// step's .meta.yml when one exists. The dataset is returned unsaved.
func (p *PathFinder) CreateDataset(_ context.Context, tables []*table.Table, opts CreateOptions) (*dataset.Dataset, error) {
	m := meta.DatasetMeta{}
	if opts.DefaultMeta != nil {
		m = opts.DefaultMeta.Clone()
	}
	m.Channel = string(p.step.Channel)
	m.Namespace = p.step.Namespace
	m.Version = p.step.Version
	m.ShortName = p.step.ShortName
	m.IsPublic = !p.step.IsPrivate()
	m.SourceChecksum = ""

	p.mu.Lock()
	m = m.Inherit(p.upstream...)
	p.mu.Unlock()

	ds, err := dataset.CreateEmpty(p.OutputDir(), m)
	if err != nil {
		return nil, err
	}
	ds.CheckMetadata = opts.CheckVariablesMetadata
	for _, t := range tables {
		if err := ds.Add(t); err != nil {
			return nil, err
		}
	}

	path := opts.MetadataPath
	if path == "" {
		path = p.MetadataPath()
	}
	if _, err := os.Stat(path); err == nil {
		if err := ds.UpdateMetadata(path); err != nil {
			return nil, fmt.Errorf("step %s: %w", p.step, err)
		}
		p.logger.Debug("applied metadata", "path", path)
	} else if opts.MetadataPath != "" {
		return nil, domain.ErrNotFound("metadata file %s does not exist", path)
	}
	return ds, nil
}

// String describes the PathFinder for logs.
func (p *PathFinder) String() string {
	deps := make([]string, len(p.deps))
	for i, d := range p.deps {
		deps[i] = d.String()
	}
	return p.step.String() + " <- [" + strings.Join(deps, ", ") + "]"
}
