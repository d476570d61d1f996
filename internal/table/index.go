package table

import (
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"etl-catalog/internal/domain"
)

// DefaultIndex is the primary key used by Format when none is given.
var DefaultIndex = []string{"country", "year"}

// SetIndex returns a copy of t keyed on cols. With verify set, rows whose
// key tuple repeats an earlier row fail with *domain.DuplicateKeyError.
func (t *Table) SetIndex(cols []string, verify bool) (*Table, error) {
	if err := t.requireColumns(cols); err != nil {
		return nil, err
	}
	if verify {
		if err := t.verifyUnique(cols); err != nil {
			return nil, err
		}
	}
	out := t.derive(slices.Clone(t.columns))
	out.index = slices.Clone(cols)
	return out, nil
}

// ResetIndex returns a copy of t without key columns. Data is unchanged.
func (t *Table) ResetIndex() *Table {
	return t.derive(slices.Clone(t.columns))
}

// VerifyIntegrity checks that the current index is unique.
func (t *Table) VerifyIntegrity() error {
	if len(t.index) == 0 {
		return nil
	}
	return t.verifyUnique(t.index)
}

func (t *Table) verifyUnique(cols []string) error {
	keyCols := t.mustColumns(cols)
	seen := make(map[string]struct{}, t.nrows)
	var dupErr *domain.DuplicateKeyError
	for i := 0; i < t.nrows; i++ {
		k := rowKey(keyCols, i)
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			continue
		}
		if dupErr == nil {
			dupErr = &domain.DuplicateKeyError{
				Table:   t.meta.ShortName,
				Columns: slices.Clone(cols),
				Example: rowTuple(keyCols, i),
			}
		}
		dupErr.Duplicates++
	}
	if dupErr != nil {
		return dupErr
	}
	return nil
}

// FormatOptions configures Format.
type FormatOptions struct {
	Keys         []string // defaults to DefaultIndex; names are underscored too
	ShortName    string   // renames the table when set
	SortColumns  bool     // order non-key columns alphabetically
	KeepRowOrder bool     // skips sorting rows by key
}

// Format is the usual last step of a transformation: underscore column and
// table names, move key columns first, verify the key, and sort.
func (t *Table) Format(opts FormatOptions) (*Table, error) {
	keys := opts.Keys
	if len(keys) == 0 {
		keys = DefaultIndex
	}

	out, err := t.Underscore()
	if err != nil {
		return nil, err
	}
	if opts.ShortName != "" {
		out.meta.ShortName = opts.ShortName
	}
	name, err := Underscore(out.meta.ShortName)
	if err != nil {
		return nil, domain.ErrValidation("table name: %v", err)
	}
	out.meta.ShortName = name

	underscored := make([]string, len(keys))
	for i, k := range keys {
		if underscored[i], err = Underscore(k); err != nil {
			return nil, err
		}
	}
	if err := out.requireColumns(underscored); err != nil {
		return nil, err
	}

	var rest []string
	for _, c := range out.columns {
		if !slices.Contains(underscored, c.Name) {
			rest = append(rest, c.Name)
		}
	}
	if opts.SortColumns {
		sort.Strings(rest)
	}
	out, err = out.Select(append(slices.Clone(underscored), rest...)...)
	if err != nil {
		return nil, err
	}

	if out, err = out.SetIndex(underscored, true); err != nil {
		return nil, err
	}
	if !opts.KeepRowOrder {
		out = out.SortBy(underscored...)
	}
	return out, nil
}

// Underscore returns a copy of t with snake_case column names. Two columns
// collapsing to the same name is a validation error.
func (t *Table) Underscore() (*Table, error) {
	mapping := make(map[string]string, len(t.columns))
	targets := make(map[string]string, len(t.columns))
	for _, c := range t.columns {
		u, err := Underscore(c.Name)
		if err != nil {
			return nil, domain.ErrValidation("table %q: %v", t.meta.ShortName, err)
		}
		if prev, dup := targets[u]; dup {
			return nil, domain.ErrValidation("table %q: columns %q and %q both underscore to %q", t.meta.ShortName, prev, c.Name, u)
		}
		targets[u] = c.Name
		mapping[c.Name] = u
	}
	return t.Rename(mapping)
}

var (
	acronymBoundary = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	camelBoundary   = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	nonWord         = regexp.MustCompile(`[^a-z0-9]+`)
)

// Underscore converts a name to snake_case: camelCase boundaries become
// underscores, "%" becomes "pct", any other run of non-alphanumerics becomes
// one underscore, and a leading digit is prefixed with "_".
func Underscore(name string) (string, error) {
	s := strings.ReplaceAll(name, "%", " pct ")
	s = acronymBoundary.ReplaceAllString(s, "${1}_${2}")
	s = camelBoundary.ReplaceAllString(s, "${1}_${2}")
	s = strings.ToLower(s)
	s = nonWord.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "", domain.ErrValidation("name %q has no alphanumeric characters", name)
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}
	return s, nil
}

// SortBy returns a copy of t with rows stably sorted by cols ascending.
// Nulls sort last. Unknown columns are ignored.
func (t *Table) SortBy(cols ...string) *Table {
	var keyCols []*Column
	for _, name := range cols {
		if i, ok := t.byName[name]; ok {
			keyCols = append(keyCols, t.columns[i])
		}
	}
	rows := make([]int, t.nrows)
	for i := range rows {
		rows[i] = i
	}
	sort.SliceStable(rows, func(a, b int) bool {
		for _, c := range keyCols {
			if cmp := compareValues(c.Values[rows[a]], c.Values[rows[b]]); cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
	return t.takeRows(rows)
}

func (t *Table) requireColumns(cols []string) error {
	if len(cols) == 0 {
		return domain.ErrValidation("table %q: no key columns given", t.meta.ShortName)
	}
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if !t.HasColumn(c) {
			return domain.ErrValidation("table %q has no column %q", t.meta.ShortName, c)
		}
		if seen[c] {
			return domain.ErrValidation("table %q: key column %q listed twice", t.meta.ShortName, c)
		}
		seen[c] = true
	}
	return nil
}

func (t *Table) mustColumns(names []string) []*Column {
	cols := make([]*Column, len(names))
	for i, n := range names {
		cols[i] = t.columns[t.byName[n]]
	}
	return cols
}

// rowKey encodes the key tuple of row i. Kinds are tagged so that the
// string "1" and the int 1 never collide.
func rowKey(cols []*Column, i int) string {
	var b strings.Builder
	for _, c := range cols {
		switch v := c.Values[i].(type) {
		case nil:
			b.WriteString("n")
		case int64:
			b.WriteString("i")
			b.WriteString(strconv.FormatInt(v, 10))
		case float64:
			if v == 0 {
				v = 0 // -0 and 0 are the same key
			}
			b.WriteString("f")
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		case string:
			b.WriteString("s")
			b.WriteString(strconv.Quote(v))
		case bool:
			b.WriteString("b")
			b.WriteString(strconv.FormatBool(v))
		}
		b.WriteByte(0)
	}
	return b.String()
}

func rowTuple(cols []*Column, i int) []any {
	out := make([]any, len(cols))
	for j, c := range cols {
		out[j] = c.Values[i]
	}
	return out
}

// compareValues orders two values of the same kind; nil sorts last.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	switch x := a.(type) {
	case int64:
		y := b.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	case string:
		return strings.Compare(x, b.(string))
	case bool:
		y := b.(bool)
		switch {
		case !x && y:
			return -1
		case x && !y:
			return 1
		}
	}
	return 0
}
