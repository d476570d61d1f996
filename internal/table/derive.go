package table

import (
	"fmt"
	"math"
	"strings"

	starlarkmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"etl-catalog/internal/domain"
	"etl-catalog/internal/meta"
)

const defaultDeriveMaxSteps = uint64(10_000)

// DeriveOptions configures Derive.
type DeriveOptions struct {
	// Kind forces the result kind; otherwise it is inferred from the values.
	Kind Kind
	// Meta overrides fields of the combined input metadata.
	Meta *meta.VariableMeta
	// EvaluateNulls passes nulls to the expression as None instead of
	// yielding null whenever any referenced input is null.
	EvaluateNulls bool
	// MaxSteps bounds the Starlark execution steps per row.
	MaxSteps uint64
}

// Derive returns a copy of t with a new column computed per row from a
// Starlark expression over existing columns, e.g. "deaths / population * 1e5".
// The columns referenced by the expression form the new column's lineage and
// their metadata is combined into its metadata, so origins are the union of
// the inputs' origins unless opts.Meta overrides them.
func (t *Table) Derive(name, expr string, opts DeriveOptions) (*Table, error) {
	if t.HasColumn(name) {
		return nil, domain.ErrConflict("table %q already has column %q", t.meta.ShortName, name)
	}
	inputs, err := t.ReferencedColumns(expr)
	if err != nil {
		return nil, err
	}

	thread := &starlark.Thread{Name: "derive:" + name}
	predeclared := starlark.StringDict{"math": starlarkmath.Module}
	fileOpts := &syntax.FileOptions{}
	lambdaSrc := "lambda " + strings.Join(inputs, ", ") + ": " + expr
	if len(inputs) == 0 {
		lambdaSrc = "lambda: " + expr
	}
	fn, err := starlark.EvalOptions(fileOpts, thread, "<derive>", lambdaSrc, predeclared)
	if err != nil {
		return nil, domain.ErrValidation("derive %q: %v", name, err)
	}

	maxSteps := opts.MaxSteps
	if maxSteps == 0 {
		maxSteps = defaultDeriveMaxSteps
	}
	inCols := t.mustColumns(inputs)
	values := make([]any, t.nrows)
	for i := 0; i < t.nrows; i++ {
		args := make(starlark.Tuple, len(inCols))
		null := false
		for j, c := range inCols {
			v := c.Values[i]
			if v == nil {
				null = true
			}
			args[j] = toStarlark(v)
		}
		if null && !opts.EvaluateNulls {
			continue
		}
		thread.SetMaxExecutionSteps(thread.ExecutionSteps() + maxSteps)
		res, err := starlark.Call(thread, fn, args, nil)
		if err != nil {
			return nil, domain.ErrValidation("derive %q: row %d: %v", name, i, err)
		}
		if values[i], err = fromStarlark(res); err != nil {
			return nil, domain.ErrValidation("derive %q: row %d: %v", name, i, err)
		}
	}

	kind := opts.Kind
	if kind == "" {
		kind = inferKind(values)
	}
	col, err := NewColumn(name, kind, values)
	if err != nil {
		return nil, err
	}

	metas := make([]meta.VariableMeta, len(inCols))
	var lineage []ColumnRef
	for j, c := range inCols {
		metas[j] = c.Meta
		lineage = mergeLineage(lineage, []ColumnRef{t.Ref(c.Name)}, c.Lineage)
	}
	col.Meta = meta.Combine(metas...)
	if opts.Meta != nil {
		col.Meta = meta.Override(col.Meta, *opts.Meta)
	}
	col.Lineage = lineage
	return t.AddColumn(col)
}

// ReferencedColumns returns, in order of first appearance, the columns of t
// named by identifiers in a Starlark expression.
func (t *Table) ReferencedColumns(expr string) ([]string, error) {
	parsed, err := (&syntax.FileOptions{}).ParseExpr("<derive>", expr, 0)
	if err != nil {
		return nil, domain.ErrValidation("invalid expression %q: %v", expr, err)
	}
	var names []string
	seen := map[string]bool{}
	syntax.Walk(parsed, func(n syntax.Node) bool {
		if dot, ok := n.(*syntax.DotExpr); ok {
			// Attribute names (math.log) are not column references.
			syntax.Walk(dot.X, func(inner syntax.Node) bool {
				if id, ok := inner.(*syntax.Ident); ok && t.HasColumn(id.Name) && !seen[id.Name] {
					seen[id.Name] = true
					names = append(names, id.Name)
				}
				return true
			})
			return false
		}
		if id, ok := n.(*syntax.Ident); ok && t.HasColumn(id.Name) && !seen[id.Name] {
			seen[id.Name] = true
			names = append(names, id.Name)
		}
		return true
	})
	return names, nil
}

func toStarlark(v any) starlark.Value {
	switch x := v.(type) {
	case int64:
		return starlark.MakeInt64(x)
	case float64:
		return starlark.Float(x)
	case string:
		return starlark.String(x)
	case bool:
		return starlark.Bool(x)
	}
	return starlark.None
}

func fromStarlark(v starlark.Value) (any, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Int:
		n, ok := x.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s overflows int64", x)
		}
		return n, nil
	case starlark.Float:
		f := float64(x)
		if math.IsNaN(f) {
			return nil, nil
		}
		return f, nil
	case starlark.String:
		return string(x), nil
	case starlark.Bool:
		return bool(x), nil
	}
	return nil, fmt.Errorf("unsupported result type %s", v.Type())
}

// inferKind picks the narrowest kind holding all non-null values. Mixed int
// and float results widen to float.
func inferKind(values []any) Kind {
	kind := Kind("")
	for _, v := range values {
		var k Kind
		switch v.(type) {
		case int64:
			k = KindInt
		case float64:
			k = KindFloat
		case string:
			k = KindString
		case bool:
			k = KindBool
		default:
			continue
		}
		switch {
		case kind == "":
			kind = k
		case kind == KindInt && k == KindFloat:
			kind = KindFloat
		}
	}
	if kind == "" {
		return KindFloat
	}
	return kind
}
