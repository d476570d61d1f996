package table

import (
	"slices"

	"etl-catalog/internal/domain"
	"etl-catalog/internal/meta"
)

// Join types.
const (
	JoinInner = "inner"
	JoinLeft  = "left"
	JoinOuter = "outer"
)

// Merge cardinality checks.
const (
	ValidateOneToOne   = "1:1"
	ValidateOneToMany  = "1:m"
	ValidateManyToOne  = "m:1"
	ValidateManyToMany = "m:m"
)

// MergeOptions configures Merge.
type MergeOptions struct {
	On       []string
	How      string    // inner (default), left, outer
	Validate string    // 1:1, 1:m, m:1, m:m (default, no check)
	Suffixes [2]string // for overlapping non-key columns; defaults to _x, _y
}

// Merge joins left and right on shared key columns. Key uniqueness implied
// by Validate is checked on both inputs before any row is produced, so a
// 1:1 merge can never silently grow the row count. Every output column keeps
// the metadata and lineage of the column it came from; key columns combine
// both sides. The result has no index.
func Merge(left, right *Table, opts MergeOptions) (*Table, error) {
	if len(opts.On) == 0 {
		return nil, domain.ErrValidation("merge: no key columns given")
	}
	how := opts.How
	if how == "" {
		how = JoinInner
	}
	if how != JoinInner && how != JoinLeft && how != JoinOuter {
		return nil, domain.ErrValidation("merge: unknown join type %q", how)
	}
	switch opts.Validate {
	case "", ValidateOneToOne, ValidateOneToMany, ValidateManyToOne, ValidateManyToMany:
	default:
		return nil, domain.ErrValidation("merge: unknown validate %q", opts.Validate)
	}
	suffixes := opts.Suffixes
	if suffixes == [2]string{} {
		suffixes = [2]string{"_x", "_y"}
	}

	if err := left.requireColumns(opts.On); err != nil {
		return nil, err
	}
	if err := right.requireColumns(opts.On); err != nil {
		return nil, err
	}
	leftKeys := left.mustColumns(opts.On)
	rightKeys := right.mustColumns(opts.On)
	for i := range leftKeys {
		if leftKeys[i].Kind != rightKeys[i].Kind {
			return nil, domain.ErrValidation("merge: key %q is %s on the left and %s on the right",
				opts.On[i], leftKeys[i].Kind, rightKeys[i].Kind)
		}
	}

	if opts.Validate == ValidateOneToOne || opts.Validate == ValidateOneToMany {
		if err := uniqueOn(left, leftKeys, "left", opts); err != nil {
			return nil, err
		}
	}
	if opts.Validate == ValidateOneToOne || opts.Validate == ValidateManyToOne {
		if err := uniqueOn(right, rightKeys, "right", opts); err != nil {
			return nil, err
		}
	}

	rightRows := make(map[string][]int, right.nrows)
	for i := 0; i < right.nrows; i++ {
		k := rowKey(rightKeys, i)
		rightRows[k] = append(rightRows[k], i)
	}

	var li, ri []int
	matched := make([]bool, right.nrows)
	for i := 0; i < left.nrows; i++ {
		rows := rightRows[rowKey(leftKeys, i)]
		if len(rows) == 0 {
			if how != JoinInner {
				li = append(li, i)
				ri = append(ri, -1)
			}
			continue
		}
		for _, r := range rows {
			li = append(li, i)
			ri = append(ri, r)
			matched[r] = true
		}
	}
	if how == JoinOuter {
		for r := 0; r < right.nrows; r++ {
			if !matched[r] {
				li = append(li, -1)
				ri = append(ri, r)
			}
		}
	}

	var cols []*Column
	for k, name := range opts.On {
		lc := leftKeys[k].take(li)
		for row, r := range ri {
			if li[row] < 0 {
				lc.Values[row] = rightKeys[k].Values[r]
			}
		}
		lc.Meta = meta.Combine(leftKeys[k].Meta, rightKeys[k].Meta)
		lc.Lineage = mergeLineage(leftKeys[k].Lineage, rightKeys[k].Lineage)
		lc.Name = name
		cols = append(cols, lc)
	}

	rightNames := make(map[string]bool, len(right.columns))
	for _, c := range right.columns {
		rightNames[c.Name] = true
	}
	leftNames := make(map[string]bool, len(left.columns))
	for _, c := range left.columns {
		leftNames[c.Name] = true
	}
	for _, c := range left.columns {
		if slices.Contains(opts.On, c.Name) {
			continue
		}
		nc := c.take(li)
		if rightNames[c.Name] {
			nc.Name = c.Name + suffixes[0]
		}
		cols = append(cols, nc)
	}
	for _, c := range right.columns {
		if slices.Contains(opts.On, c.Name) {
			continue
		}
		nc := c.take(ri)
		if leftNames[c.Name] {
			nc.Name = c.Name + suffixes[1]
		}
		cols = append(cols, nc)
	}

	out, err := New(left.meta.ShortName, cols...)
	if err != nil {
		return nil, err
	}
	out.meta = left.meta
	out.nrows = len(li)
	return out, nil
}

func uniqueOn(t *Table, keys []*Column, side string, opts MergeOptions) error {
	seen := make(map[string]struct{}, t.nrows)
	for i := 0; i < t.nrows; i++ {
		k := rowKey(keys, i)
		if _, dup := seen[k]; dup {
			return &domain.MergeValidationError{
				Validate: opts.Validate,
				Side:     side,
				On:       slices.Clone(opts.On),
				Example:  rowTuple(keys, i),
			}
		}
		seen[k] = struct{}{}
	}
	return nil
}

// Concat stacks tables with the same columns. Column order and index come
// from the first table; column metadata is combined across all inputs. A
// carried index must stay unique over the stacked rows.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return nil, domain.ErrValidation("concat: no tables given")
	}
	first := tables[0]
	for _, t := range tables[1:] {
		if len(t.columns) != len(first.columns) {
			return nil, domain.ErrValidation("concat: table %q has %d columns, %q has %d",
				t.meta.ShortName, len(t.columns), first.meta.ShortName, len(first.columns))
		}
		for _, c := range first.columns {
			other, err := t.Column(c.Name)
			if err != nil {
				return nil, domain.ErrValidation("concat: table %q has no column %q", t.meta.ShortName, c.Name)
			}
			if other.Kind != c.Kind {
				return nil, domain.ErrValidation("concat: column %q is %s in %q and %s in %q",
					c.Name, c.Kind, first.meta.ShortName, other.Kind, t.meta.ShortName)
			}
		}
	}

	cols := make([]*Column, len(first.columns))
	for i, c := range first.columns {
		metas := make([]meta.VariableMeta, 0, len(tables))
		lineages := make([][]ColumnRef, 0, len(tables))
		var values []any
		for _, t := range tables {
			src := t.columns[t.byName[c.Name]]
			values = append(values, src.Values...)
			metas = append(metas, src.Meta)
			lineages = append(lineages, src.Lineage)
		}
		cols[i] = &Column{
			Name:    c.Name,
			Kind:    c.Kind,
			Values:  values,
			Meta:    meta.Combine(metas...),
			Lineage: mergeLineage(lineages...),
		}
	}
	out, err := New(first.meta.ShortName, cols...)
	if err != nil {
		return nil, err
	}
	out.meta = first.meta
	out.index = slices.Clone(first.index)
	if err := out.VerifyIntegrity(); err != nil {
		return nil, err
	}
	return out, nil
}
