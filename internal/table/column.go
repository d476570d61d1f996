// Package table implements the in-memory tabular structure shared by every
// ETL step: ordered typed columns, a verified key index, per-column metadata,
// and column lineage.
package table

import (
	"fmt"
	"math"
	"slices"

	"etl-catalog/internal/domain"
	"etl-catalog/internal/meta"
)

// Kind is the value type held by a column.
type Kind string

// Column kinds.
const (
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindString Kind = "string"
	KindBool   Kind = "bool"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindInt, KindFloat, KindString, KindBool:
		return true
	}
	return false
}

// ColumnRef points to a column of a named table. Lineage is a set of refs.
type ColumnRef struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

func (r ColumnRef) String() string { return r.Table + "." + r.Column }

// Column is a named, homogeneously typed sequence of values. A nil value is
// null. Values hold int64, float64, string, or bool according to Kind.
type Column struct {
	Name    string
	Kind    Kind
	Values  []any
	Meta    meta.VariableMeta
	Lineage []ColumnRef
}

// NewColumn builds a column of the given kind, converting Go integer and
// float types to int64 and float64. NaN floats are stored as null.
func NewColumn(name string, kind Kind, values []any) (*Column, error) {
	if name == "" {
		return nil, domain.ErrValidation("column name cannot be empty")
	}
	if !kind.Valid() {
		return nil, domain.ErrValidation("column %q: unknown kind %q", name, kind)
	}
	out := make([]any, len(values))
	for i, v := range values {
		cv, err := convert(kind, v)
		if err != nil {
			return nil, domain.ErrValidation("column %q row %d: %v", name, i, err)
		}
		out[i] = cv
	}
	return &Column{Name: name, Kind: kind, Values: out}, nil
}

// Ints builds an int column without nulls.
func Ints(name string, values ...int64) *Column {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return &Column{Name: name, Kind: KindInt, Values: out}
}

// Floats builds a float column; NaN values become null.
func Floats(name string, values ...float64) *Column {
	out := make([]any, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		out[i] = v
	}
	return &Column{Name: name, Kind: KindFloat, Values: out}
}

// Strings builds a string column without nulls.
func Strings(name string, values ...string) *Column {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return &Column{Name: name, Kind: KindString, Values: out}
}

// Bools builds a bool column without nulls.
func Bools(name string, values ...bool) *Column {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return &Column{Name: name, Kind: KindBool, Values: out}
}

// WithMeta sets the column metadata and returns c for chaining.
func (c *Column) WithMeta(m meta.VariableMeta) *Column {
	c.Meta = m
	return c
}

// Len returns the number of values.
func (c *Column) Len() int { return len(c.Values) }

// IsNull reports whether row i is null.
func (c *Column) IsNull(i int) bool { return c.Values[i] == nil }

// Float64 returns row i as a float. Int columns are widened.
func (c *Column) Float64(i int) (float64, bool) {
	switch v := c.Values[i].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Int64 returns row i of an int column.
func (c *Column) Int64(i int) (int64, bool) {
	v, ok := c.Values[i].(int64)
	return v, ok
}

// Text returns row i of a string column.
func (c *Column) Text(i int) (string, bool) {
	v, ok := c.Values[i].(string)
	return v, ok
}

// Bool returns row i of a bool column.
func (c *Column) Bool(i int) (bool, bool) {
	v, ok := c.Values[i].(bool)
	return v, ok
}

// NullCount returns the number of null values.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.Values {
		if v == nil {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of c.
func (c *Column) Clone() *Column {
	return &Column{
		Name:    c.Name,
		Kind:    c.Kind,
		Values:  slices.Clone(c.Values),
		Meta:    c.Meta.Clone(),
		Lineage: slices.Clone(c.Lineage),
	}
}

// take returns a copy of c holding only the given rows; -1 yields null.
func (c *Column) take(rows []int) *Column {
	out := &Column{
		Name:    c.Name,
		Kind:    c.Kind,
		Values:  make([]any, len(rows)),
		Meta:    c.Meta.Clone(),
		Lineage: slices.Clone(c.Lineage),
	}
	for i, r := range rows {
		if r >= 0 {
			out.Values[i] = c.Values[r]
		}
	}
	return out
}

// mergeLineage returns the order-preserving union of the given ref lists.
func mergeLineage(lists ...[]ColumnRef) []ColumnRef {
	var out []ColumnRef
	for _, list := range lists {
		for _, ref := range list {
			if !slices.Contains(out, ref) {
				out = append(out, ref)
			}
		}
	}
	return out
}

func convert(kind Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		}
	case KindFloat:
		switch n := v.(type) {
		case float64:
			if math.IsNaN(n) {
				return nil, nil
			}
			return n, nil
		case float32:
			if math.IsNaN(float64(n)) {
				return nil, nil
			}
			return float64(n), nil
		case int:
			return float64(n), nil
		case int32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("value %v (%T) is not a valid %s", v, v, kind)
}
