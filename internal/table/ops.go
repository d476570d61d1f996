package table

import (
	"slices"

	"etl-catalog/internal/domain"
	"etl-catalog/internal/meta"
)

// Rename returns a copy of t with columns renamed according to mapping.
// Metadata and lineage follow the column; index entries are renamed too.
func (t *Table) Rename(mapping map[string]string) (*Table, error) {
	for from := range mapping {
		if !t.HasColumn(from) {
			return nil, domain.ErrNotFound("table %q has no column %q to rename", t.meta.ShortName, from)
		}
	}
	cols := make([]*Column, len(t.columns))
	seen := make(map[string]bool, len(t.columns))
	for i, c := range t.columns {
		nc := *c
		if to, ok := mapping[c.Name]; ok {
			nc.Name = to
		}
		if seen[nc.Name] {
			return nil, domain.ErrValidation("table %q: rename produces duplicate column %q", t.meta.ShortName, nc.Name)
		}
		seen[nc.Name] = true
		cols[i] = &nc
	}
	out := t.derive(cols)
	for _, k := range t.index {
		if to, ok := mapping[k]; ok {
			k = to
		}
		out.index = append(out.index, k)
	}
	return out, nil
}

// Select returns a copy of t with only the named columns, in the given order.
// The index is kept when all of its columns are selected.
func (t *Table) Select(names ...string) (*Table, error) {
	cols := make([]*Column, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		c, err := t.Column(n)
		if err != nil {
			return nil, err
		}
		if seen[n] {
			return nil, domain.ErrValidation("table %q: column %q selected twice", t.meta.ShortName, n)
		}
		seen[n] = true
		cols = append(cols, c)
	}
	out := t.derive(cols)
	out.nrows = t.nrows
	keep := true
	for _, k := range t.index {
		keep = keep && seen[k]
	}
	if keep {
		out.index = slices.Clone(t.index)
	}
	return out, nil
}

// Drop returns a copy of t without the named columns.
func (t *Table) Drop(names ...string) (*Table, error) {
	for _, n := range names {
		if !t.HasColumn(n) {
			return nil, domain.ErrNotFound("table %q has no column %q to drop", t.meta.ShortName, n)
		}
	}
	var keep []string
	for _, c := range t.columns {
		if !slices.Contains(names, c.Name) {
			keep = append(keep, c.Name)
		}
	}
	return t.Select(keep...)
}

// Filter returns a copy of t with only the rows for which keep is true.
func (t *Table) Filter(keep func(Row) bool) *Table {
	var rows []int
	for i := 0; i < t.nrows; i++ {
		if keep(Row{t: t, i: i}) {
			rows = append(rows, i)
		}
	}
	return t.takeRows(rows)
}

// Each calls fn for every row in order.
func (t *Table) Each(fn func(Row)) {
	for i := 0; i < t.nrows; i++ {
		fn(Row{t: t, i: i})
	}
}

// AddColumn returns a copy of t with c appended. The column must match the
// row count and must not already exist.
func (t *Table) AddColumn(c *Column) (*Table, error) {
	if t.HasColumn(c.Name) {
		return nil, domain.ErrConflict("table %q already has column %q", t.meta.ShortName, c.Name)
	}
	if len(t.columns) > 0 && c.Len() != t.nrows {
		return nil, domain.ErrValidation("table %q: column %q has %d rows, expected %d", t.meta.ShortName, c.Name, c.Len(), t.nrows)
	}
	cols := append(slices.Clone(t.columns), c)
	out := t.derive(cols)
	out.index = slices.Clone(t.index)
	return out, nil
}

// ReplaceColumn returns a copy of t where the column named c.Name is
// replaced by c. Metadata of the old column is not carried over; use
// CopyMetadata for that. Replacing a key column re-verifies the index.
func (t *Table) ReplaceColumn(c *Column) (*Table, error) {
	i, ok := t.byName[c.Name]
	if !ok {
		return nil, domain.ErrNotFound("table %q has no column %q", t.meta.ShortName, c.Name)
	}
	if c.Len() != t.nrows {
		return nil, domain.ErrValidation("table %q: column %q has %d rows, expected %d", t.meta.ShortName, c.Name, c.Len(), t.nrows)
	}
	cols := slices.Clone(t.columns)
	cols[i] = c
	out := t.derive(cols)
	out.index = slices.Clone(t.index)
	if slices.Contains(out.index, c.Name) {
		if err := out.verifyUnique(out.index); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CopyMetadata copies the metadata of column from onto column to and records
// from as an upstream of to. Metadata is never inferred; this is the explicit
// way to carry provenance across a transformation.
func (t *Table) CopyMetadata(from, to string) error {
	src, err := t.Column(from)
	if err != nil {
		return err
	}
	dst, err := t.Column(to)
	if err != nil {
		return err
	}
	dst.Meta = src.Meta.Clone()
	dst.Lineage = mergeLineage(dst.Lineage, []ColumnRef{t.Ref(from)}, src.Lineage)
	return nil
}

// FillNull returns a copy of t where nulls in column name are replaced by
// the same row of column from. Origins of both columns are merged.
func (t *Table) FillNull(name, from string) (*Table, error) {
	dst, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	src, err := t.Column(from)
	if err != nil {
		return nil, err
	}
	if dst.Kind != src.Kind {
		return nil, domain.ErrValidation("table %q: cannot fill %s column %q from %s column %q",
			t.meta.ShortName, dst.Kind, name, src.Kind, from)
	}
	filled := dst.Clone()
	for i, v := range filled.Values {
		if v == nil {
			filled.Values[i] = src.Values[i]
		}
	}
	filled.Meta.Origins = meta.MergeOrigins(dst.Meta.Origins, src.Meta.Origins)
	filled.Meta.Licenses = meta.MergeLicenses(dst.Meta.Licenses, src.Meta.Licenses)
	filled.Lineage = mergeLineage(dst.Lineage, []ColumnRef{t.Ref(from)}, src.Lineage)
	return t.ReplaceColumn(filled)
}
