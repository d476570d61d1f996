package table

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etl-catalog/internal/domain"
	"etl-catalog/internal/meta"
)

func countries(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("country-%03d", i)
	}
	return out
}

func TestMerge_OneToOne(t *testing.T) {
	names := countries(100)
	pop := make([]float64, 100)
	gdp := make([]float64, 100)
	for i := range pop {
		pop[i] = float64(i * 1000)
		gdp[i] = float64(i) * 1.5
	}
	a := MustNew("population", Strings("country", names...), Floats("population", pop...))
	a.Columns()[1].Meta = meta.VariableMeta{Title: "Population", Origins: []meta.Origin{unOrigin}}
	b := MustNew("gdp", Strings("country", names...), Floats("gdp", gdp...))
	b.Columns()[1].Meta = meta.VariableMeta{Title: "GDP", Origins: []meta.Origin{whoOrigin}}

	out, err := Merge(a, b, MergeOptions{On: []string{"country"}, How: JoinInner, Validate: ValidateOneToOne})
	require.NoError(t, err)
	assert.Equal(t, 100, out.NumRows())
	assert.Equal(t, []string{"country", "population", "gdp"}, out.ColumnNames())
	assert.Empty(t, out.Index())

	popMeta, _ := out.ColumnMeta("population")
	gdpMeta, _ := out.ColumnMeta("gdp")
	assert.Equal(t, []meta.Origin{unOrigin}, popMeta.Origins)
	assert.Equal(t, []meta.Origin{whoOrigin}, gdpMeta.Origins)

	v, err := out.Value(42, "gdp")
	require.NoError(t, err)
	assert.Equal(t, 63.0, v)
}

func TestMerge_OneToOneRejectsDuplicates(t *testing.T) {
	names := countries(100)
	values := make([]float64, 100)
	a := MustNew("a", Strings("country", names...), Floats("x", values...))

	dupNames := countries(100)
	dupNames[99] = dupNames[0]
	b := MustNew("b", Strings("country", dupNames...), Floats("y", values...))

	_, err := Merge(a, b, MergeOptions{On: []string{"country"}, Validate: ValidateOneToOne})
	var mv *domain.MergeValidationError
	require.ErrorAs(t, err, &mv)
	assert.Equal(t, "right", mv.Side)
	assert.Equal(t, []any{"country-000"}, mv.Example)

	// Without validation the duplicate fans out instead.
	out, err := Merge(a, b, MergeOptions{On: []string{"country"}})
	require.NoError(t, err)
	assert.Equal(t, 100, out.NumRows())

	_, err = Merge(b, a, MergeOptions{On: []string{"country"}, Validate: ValidateOneToMany})
	require.ErrorAs(t, err, &mv)
	assert.Equal(t, "left", mv.Side)

	_, err = Merge(b, a, MergeOptions{On: []string{"country"}, Validate: ValidateManyToOne})
	require.NoError(t, err)
}

func TestMerge_JoinTypes(t *testing.T) {
	left := MustNew("l", Strings("country", "France", "Spain"), Floats("a", 1, 2))
	right := MustNew("r", Strings("country", "Spain", "Chile"), Floats("b", 20, 30))

	tests := []struct {
		how       string
		countries []any
		a         []any
		b         []any
	}{
		{JoinInner, []any{"Spain"}, []any{2.0}, []any{20.0}},
		{JoinLeft, []any{"France", "Spain"}, []any{1.0, 2.0}, []any{nil, 20.0}},
		{JoinOuter, []any{"France", "Spain", "Chile"}, []any{1.0, 2.0, nil}, []any{nil, 20.0, 30.0}},
	}
	for _, tt := range tests {
		t.Run(tt.how, func(t *testing.T) {
			out, err := Merge(left, right, MergeOptions{On: []string{"country"}, How: tt.how})
			require.NoError(t, err)
			c, _ := out.Column("country")
			a, _ := out.Column("a")
			b, _ := out.Column("b")
			assert.Equal(t, tt.countries, c.Values)
			assert.Equal(t, tt.a, a.Values)
			assert.Equal(t, tt.b, b.Values)
		})
	}
}

func TestMerge_Errors(t *testing.T) {
	left := MustNew("l", Strings("country", "France"), Floats("v", 1))
	right := MustNew("r", Strings("country", "France"), Floats("v", 2))
	ints := MustNew("i", Ints("country", 1))

	tests := []struct {
		name    string
		right   *Table
		opts    MergeOptions
		wantErr string
	}{
		{name: "no keys", right: right, opts: MergeOptions{}, wantErr: "no key columns"},
		{name: "bad how", right: right, opts: MergeOptions{On: []string{"country"}, How: "cross"}, wantErr: "unknown join type"},
		{name: "bad validate", right: right, opts: MergeOptions{On: []string{"country"}, Validate: "2:2"}, wantErr: "unknown validate"},
		{name: "missing key", right: right, opts: MergeOptions{On: []string{"year"}}, wantErr: "no column \"year\""},
		{name: "kind mismatch", right: ints, opts: MergeOptions{On: []string{"country"}}, wantErr: "is string on the left and int on the right"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge(left, tt.right, tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMerge_Suffixes(t *testing.T) {
	left := MustNew("l", Strings("country", "France"), Floats("v", 1))
	right := MustNew("r", Strings("country", "France"), Floats("v", 2))

	out, err := Merge(left, right, MergeOptions{On: []string{"country"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"country", "v_x", "v_y"}, out.ColumnNames())

	out, err = Merge(left, right, MergeOptions{On: []string{"country"}, Suffixes: [2]string{"_who", "_un"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"country", "v_who", "v_un"}, out.ColumnNames())
}

func TestMerge_KeyMetadataCombined(t *testing.T) {
	left := MustNew("l", Strings("country", "France"))
	left.Columns()[0].Meta = meta.VariableMeta{Title: "Country", Origins: []meta.Origin{whoOrigin}}
	right := MustNew("r", Strings("country", "France"))
	right.Columns()[0].Meta = meta.VariableMeta{Title: "Country", Origins: []meta.Origin{unOrigin}}

	out, err := Merge(left, right, MergeOptions{On: []string{"country"}})
	require.NoError(t, err)
	m, _ := out.ColumnMeta("country")
	assert.Equal(t, "Country", m.Title)
	assert.Equal(t, []meta.Origin{whoOrigin, unOrigin}, m.Origins)
}

func TestConcat(t *testing.T) {
	a := MustNew("t", Strings("country", "France"), Ints("year", 2020))
	a.Columns()[0].Meta.Origins = []meta.Origin{whoOrigin}
	a, err := a.SetIndex([]string{"country", "year"}, true)
	require.NoError(t, err)
	b := MustNew("t", Ints("year", 2021), Strings("country", "France"))
	b.Columns()[1].Meta.Origins = []meta.Origin{unOrigin}

	out, err := Concat(a, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"country", "year"}, out.ColumnNames())
	assert.Equal(t, []string{"country", "year"}, out.Index())
	years, _ := out.Column("year")
	assert.Equal(t, []any{int64(2020), int64(2021)}, years.Values)
	m, _ := out.ColumnMeta("country")
	assert.Equal(t, []meta.Origin{whoOrigin, unOrigin}, m.Origins)

	_, err = Concat()
	require.Error(t, err)

	_, err = Concat(a, MustNew("t", Strings("country", "x")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has 1 columns")

	_, err = Concat(a, MustNew("t", Strings("country", "x"), Strings("year", "2020")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column \"year\" is int")
}

func TestConcat_OverlappingKeys(t *testing.T) {
	a, err := MustNew("t", Strings("country", "France"), Ints("year", 2020)).SetIndex([]string{"country", "year"}, true)
	require.NoError(t, err)

	_, err = Concat(a, a)
	var dup *domain.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, []string{"country", "year"}, dup.Columns)
	assert.Equal(t, []any{"France", int64(2020)}, dup.Example)

	out, err := Concat(a.ResetIndex(), a.ResetIndex())
	require.NoError(t, err, "unindexed tables may repeat rows")
	assert.Equal(t, 2, out.NumRows())
}
