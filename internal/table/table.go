package table

import (
	"slices"

	"etl-catalog/internal/domain"
	"etl-catalog/internal/meta"
)

// Table is an ordered set of equal-length columns with optional key columns.
// Transformations return new tables; only metadata setters mutate in place.
type Table struct {
	meta    meta.TableMeta
	columns []*Column
	byName  map[string]int
	index   []string
	nrows   int
}

// New builds a table from columns. Columns must have unique names and equal
// lengths. The columns are owned by the table afterwards.
func New(shortName string, cols ...*Column) (*Table, error) {
	t := &Table{
		meta:   meta.TableMeta{ShortName: shortName},
		byName: make(map[string]int, len(cols)),
	}
	for i, c := range cols {
		if c == nil {
			return nil, domain.ErrValidation("table %q: column %d is nil", shortName, i)
		}
		if _, dup := t.byName[c.Name]; dup {
			return nil, domain.ErrValidation("table %q: duplicate column %q", shortName, c.Name)
		}
		if i == 0 {
			t.nrows = c.Len()
		} else if c.Len() != t.nrows {
			return nil, domain.ErrValidation("table %q: column %q has %d rows, expected %d", shortName, c.Name, c.Len(), t.nrows)
		}
		t.byName[c.Name] = i
		t.columns = append(t.columns, c)
	}
	return t, nil
}

// MustNew is like New but panics on error.
func MustNew(shortName string, cols ...*Column) *Table {
	t, err := New(shortName, cols...)
	if err != nil {
		panic(err)
	}
	return t
}

// ShortName returns the table name.
func (t *Table) ShortName() string { return t.meta.ShortName }

// Meta returns the table-level metadata.
func (t *Table) Meta() meta.TableMeta { return t.meta }

// SetMeta replaces the table-level metadata, keeping the short name when the
// new metadata leaves it empty.
func (t *Table) SetMeta(m meta.TableMeta) {
	if m.ShortName == "" {
		m.ShortName = t.meta.ShortName
	}
	t.meta = m
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return t.nrows }

// ColumnNames returns column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Columns returns the columns in order. Callers must not modify them.
func (t *Table) Columns() []*Column { return t.columns }

// Index returns the key columns, or nil when no index is set.
func (t *Table) Index() []string { return slices.Clone(t.index) }

// HasColumn reports whether the table has a column called name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, error) {
	i, ok := t.byName[name]
	if !ok {
		return nil, domain.ErrNotFound("table %q has no column %q", t.meta.ShortName, name)
	}
	return t.columns[i], nil
}

// Value returns the value at row i of the named column.
func (t *Table) Value(row int, name string) (any, error) {
	c, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	if row < 0 || row >= t.nrows {
		return nil, domain.ErrValidation("table %q: row %d out of range [0, %d)", t.meta.ShortName, row, t.nrows)
	}
	return c.Values[row], nil
}

// ColumnMeta returns the metadata of the named column.
func (t *Table) ColumnMeta(name string) (meta.VariableMeta, error) {
	c, err := t.Column(name)
	if err != nil {
		return meta.VariableMeta{}, err
	}
	return c.Meta, nil
}

// SetColumnMeta replaces the metadata of the named column.
func (t *Table) SetColumnMeta(name string, m meta.VariableMeta) error {
	c, err := t.Column(name)
	if err != nil {
		return err
	}
	c.Meta = m
	return nil
}

// SetOrigins assigns origins to every column, e.g. right after reading a snapshot.
func (t *Table) SetOrigins(origins []meta.Origin, licenses []meta.License) {
	for _, c := range t.columns {
		c.Meta.Origins = meta.MergeOrigins(origins)
		c.Meta.Licenses = meta.MergeLicenses(licenses)
	}
}

// Ref returns a lineage reference to the named column of t.
func (t *Table) Ref(name string) ColumnRef {
	return ColumnRef{Table: t.meta.ShortName, Column: name}
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	cols := make([]*Column, len(t.columns))
	for i, c := range t.columns {
		cols[i] = c.Clone()
	}
	out := t.derive(cols)
	out.index = slices.Clone(t.index)
	return out
}

// derive builds a table with t's metadata and the given columns, which must
// already be consistent in length. Column headers are copied so that
// metadata setters on the result never reach t; value slices are shared and
// never written in place.
func (t *Table) derive(cols []*Column) *Table {
	out := &Table{
		meta:    t.meta,
		columns: make([]*Column, len(cols)),
		byName:  make(map[string]int, len(cols)),
	}
	for i, c := range cols {
		nc := *c
		out.columns[i] = &nc
		out.byName[c.Name] = i
	}
	if len(cols) > 0 {
		out.nrows = cols[0].Len()
	}
	return out
}

// takeRows returns a copy of t with only the given rows, keeping the index.
func (t *Table) takeRows(rows []int) *Table {
	cols := make([]*Column, len(t.columns))
	for i, c := range t.columns {
		cols[i] = c.take(rows)
	}
	out := t.derive(cols)
	out.nrows = len(rows)
	out.index = slices.Clone(t.index)
	return out
}

// Row is a read-only view of one table row.
type Row struct {
	t *Table
	i int
}

// Index returns the row position.
func (r Row) Index() int { return r.i }

// Get returns the value of the named column, or nil if it does not exist.
func (r Row) Get(name string) any {
	c, ok := r.t.byName[name]
	if !ok {
		return nil
	}
	return r.t.columns[c].Values[r.i]
}

// Float64 returns the named column as a float.
func (r Row) Float64(name string) (float64, bool) {
	c, ok := r.t.byName[name]
	if !ok {
		return 0, false
	}
	return r.t.columns[c].Float64(r.i)
}

// Text returns the named string column.
func (r Row) Text(name string) (string, bool) {
	s, ok := r.Get(name).(string)
	return s, ok
}

// Int64 returns the named int column.
func (r Row) Int64(name string) (int64, bool) {
	n, ok := r.Get(name).(int64)
	return n, ok
}
