// Package dataset stores groups of tables under one channel, namespace,
// version, and short name, in a fixed directory layout:
//
//	<data>/<channel>/<namespace>/<version>/<short_name>/
//	    <table>.parquet
//	    index.json
package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"etl-catalog/internal/domain"
	"etl-catalog/internal/meta"
	"etl-catalog/internal/table"
)

// Dataset is a named collection of tables with shared metadata. A dataset
// is built with CreateEmpty, Add, and Save; after Save, or when obtained
// from Open, it is read-only.
type Dataset struct {
	dir    string
	meta   meta.DatasetMeta
	order  []string
	tables map[string]*table.Table
	saved  map[string]tableEntry
	done   bool

	// CheckMetadata makes Save fail when any column lacks required metadata.
	CheckMetadata bool
}

// Dir returns the dataset directory for m under dataDir.
func Dir(dataDir string, m meta.DatasetMeta) string {
	return filepath.Join(dataDir, m.Channel, m.Namespace, m.Version, m.ShortName)
}

// CreateEmpty prepares dir for a new build of a dataset. Parquet files and
// the sidecar of an earlier build at the same path are removed so stale
// tables never survive a rebuild.
func CreateEmpty(dir string, m meta.DatasetMeta) (*Dataset, error) {
	if m.ShortName == "" {
		return nil, domain.ErrValidation("dataset short_name is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create dataset dir: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list dataset dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || (name != IndexFile && filepath.Ext(name) != ".parquet") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return nil, fmt.Errorf("remove stale %s: %w", name, err)
		}
	}
	return &Dataset{
		dir:    dir,
		meta:   m.Clone(),
		tables: make(map[string]*table.Table),
	}, nil
}

// Open reads the dataset saved in dir. Tables are loaded on first access.
// A directory without index.json yields *domain.NotFoundError.
func Open(dir string) (*Dataset, error) {
	doc, err := readIndex(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrNotFound("dataset %s is not built", dir)
		}
		return nil, err
	}
	ds := &Dataset{
		dir:    dir,
		meta:   doc.Dataset,
		tables: make(map[string]*table.Table),
		saved:  make(map[string]tableEntry, len(doc.Tables)),
		done:   true,
	}
	for _, e := range doc.Tables {
		ds.order = append(ds.order, e.ShortName)
		ds.saved[e.ShortName] = e
	}
	return ds, nil
}

// Dir returns the dataset directory.
func (d *Dataset) Dir() string { return d.dir }

// Meta returns a copy of the dataset metadata.
func (d *Dataset) Meta() meta.DatasetMeta { return d.meta.Clone() }

// SetMeta replaces the dataset metadata of an unsaved dataset.
func (d *Dataset) SetMeta(m meta.DatasetMeta) error {
	if d.done {
		return d.readOnly()
	}
	d.meta = m.Clone()
	return nil
}

// Saved reports whether the dataset is read-only.
func (d *Dataset) Saved() bool { return d.done }

// TableNames returns table names in the order they were added.
func (d *Dataset) TableNames() []string { return slices.Clone(d.order) }

// Add appends a table. Table names must be unique within the dataset.
func (d *Dataset) Add(t *table.Table) error {
	if d.done {
		return d.readOnly()
	}
	name := t.ShortName()
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return domain.ErrValidation("dataset %s: invalid table name %q", d.meta.ShortName, name)
	}
	if len(t.Columns()) == 0 {
		return domain.ErrValidation("dataset %s: table %q has no columns", d.meta.ShortName, name)
	}
	if _, dup := d.tables[name]; dup {
		return domain.ErrConflict("dataset %s already has table %q", d.meta.ShortName, name)
	}
	d.tables[name] = t
	d.order = append(d.order, name)
	return nil
}

// ReadOptions configures Read.
type ReadOptions struct {
	// ResetIndex returns the table without key columns.
	ResetIndex bool
}

// Table returns the named table with its index.
func (d *Dataset) Table(ctx context.Context, name string) (*table.Table, error) {
	return d.Read(ctx, name, ReadOptions{})
}

// Read returns the named table. Tables of a saved dataset are returned as
// copies, so callers may transform them freely.
func (d *Dataset) Read(ctx context.Context, name string, opts ReadOptions) (*table.Table, error) {
	t, err := d.load(ctx, name)
	if err != nil {
		return nil, err
	}
	if d.done {
		t = t.Clone()
	}
	if opts.ResetIndex {
		t = t.ResetIndex()
	}
	return t, nil
}

func (d *Dataset) load(ctx context.Context, name string) (*table.Table, error) {
	if t, ok := d.tables[name]; ok {
		return t, nil
	}
	e, ok := d.saved[name]
	if !ok {
		return nil, domain.ErrNotFound("dataset %s has no table %q (tables: %s)",
			d.meta.ShortName, name, strings.Join(d.order, ", "))
	}

	c, err := openCodec()
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()
	cols, err := c.read(ctx, filepath.Join(d.dir, e.File), e.Columns)
	if err != nil {
		return nil, err
	}
	t, err := table.New(e.ShortName, cols...)
	if err != nil {
		return nil, err
	}
	t.SetMeta(meta.TableMeta{ShortName: e.ShortName, Title: e.Title, Description: e.Description})
	if len(e.PrimaryKey) > 0 {
		if t, err = t.SetIndex(e.PrimaryKey, false); err != nil {
			return nil, err
		}
	}
	d.tables[name] = t
	return t, nil
}

// UpdateMetadata applies the override file at path to the dataset and its
// tables. Variables in the file that name no existing column are an error.
func (d *Dataset) UpdateMetadata(path string) error {
	f, err := meta.LoadOverrideFile(path)
	if err != nil {
		return err
	}
	if f == nil {
		return domain.ErrNotFound("metadata file %s does not exist", path)
	}
	return d.ApplyOverride(f)
}

// ApplyOverride merges a parsed override file into the dataset.
func (d *Dataset) ApplyOverride(f *meta.OverrideFile) error {
	if d.done {
		return d.readOnly()
	}
	unknown := f.UnknownVariables(func(tableName, column string) bool {
		t, ok := d.tables[tableName]
		return ok && t.HasColumn(column)
	})
	if len(unknown) > 0 {
		return domain.ErrValidation("dataset %s: metadata for unknown variables: %s",
			d.meta.ShortName, strings.Join(unknown, ", "))
	}
	d.meta = f.ApplyDataset(d.meta)
	for _, name := range d.order {
		t := d.tables[name]
		t.SetMeta(f.ApplyTable(name, t.Meta()))
		for _, c := range t.Columns() {
			if err := t.SetColumnMeta(c.Name, f.ApplyVariable(name, c.Name, c.Meta)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateMetadata returns every missing or invalid metadata field across
// all tables and columns. Index columns are exempt.
func (d *Dataset) ValidateMetadata() []domain.MetadataIssue {
	var issues []domain.MetadataIssue
	for _, name := range d.order {
		t, ok := d.tables[name]
		if !ok {
			continue
		}
		index := t.Index()
		for _, c := range t.Columns() {
			if slices.Contains(index, c.Name) {
				continue
			}
			issues = append(issues, meta.ValidateVariable(name, c.Name, c.Meta)...)
		}
	}
	return issues
}

// Save writes every table as Parquet and then index.json, which commits
// the dataset. Calling Save again is a no-op.
func (d *Dataset) Save(ctx context.Context) error {
	if d.done {
		return nil
	}
	if d.CheckMetadata {
		if issues := d.ValidateMetadata(); len(issues) > 0 {
			return &domain.MetadataValidationError{Dataset: d.meta.ShortName, Issues: issues}
		}
	}

	c, err := openCodec()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	doc := indexDocument{
		FormatVersion: indexFormatVersion,
		Dataset:       d.meta,
		Tables:        make([]tableEntry, 0, len(d.order)),
	}
	saved := make(map[string]tableEntry, len(d.order))
	for _, name := range d.order {
		t := d.tables[name]
		if err := t.VerifyIntegrity(); err != nil {
			return err
		}
		e := entryFor(t)
		if err := c.write(ctx, t, filepath.Join(d.dir, e.File)); err != nil {
			return err
		}
		doc.Tables = append(doc.Tables, e)
		saved[name] = e
	}
	if err := writeIndex(d.dir, doc); err != nil {
		return err
	}
	d.saved = saved
	d.done = true
	return nil
}

func (d *Dataset) readOnly() error {
	return domain.ErrValidation("dataset %s is saved and read-only", d.meta.ShortName)
}
