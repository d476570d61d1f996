package table

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etl-catalog/internal/domain"
	"etl-catalog/internal/meta"
)

var (
	whoOrigin = meta.Origin{Producer: "WHO", Title: "Global Health Observatory", URLMain: "https://www.who.int/data/gho"}
	unOrigin  = meta.Origin{Producer: "UN DESA", Title: "World Population Prospects", URLMain: "https://population.un.org/wpp"}
)

func countryYearValue(t *testing.T, countries []string, years []int64, values []float64) *Table {
	t.Helper()
	tb, err := New("gho",
		Strings("country", countries...),
		Ints("year", years...),
		Floats("value", values...),
	)
	require.NoError(t, err)
	return tb
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cols    []*Column
		wantErr string
	}{
		{name: "empty", cols: nil},
		{name: "ok", cols: []*Column{Strings("a", "x", "y"), Ints("b", 1, 2)}},
		{name: "duplicate", cols: []*Column{Strings("a", "x"), Ints("a", 1)}, wantErr: "duplicate column"},
		{name: "length mismatch", cols: []*Column{Strings("a", "x", "y"), Ints("b", 1)}, wantErr: "has 1 rows, expected 2"},
		{name: "nil column", cols: []*Column{nil}, wantErr: "is nil"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("t", tt.cols...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewColumn(t *testing.T) {
	c, err := NewColumn("x", KindFloat, []any{1, int64(2), 2.5, nil})
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0, 2.5, nil}, c.Values)
	assert.Equal(t, 1, c.NullCount())

	_, err = NewColumn("x", KindInt, []any{"one"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid int")

	_, err = NewColumn("x", Kind("decimal"), nil)
	require.Error(t, err)
}

func TestSetIndex_DuplicateCountryYear(t *testing.T) {
	tb := countryYearValue(t,
		[]string{"France", "France", "Spain"},
		[]int64{2020, 2020, 2020},
		[]float64{1, 2, 3},
	)

	_, err := tb.SetIndex([]string{"country", "year"}, true)
	require.Error(t, err)
	var dup *domain.DuplicateKeyError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, []any{"France", int64(2020)}, dup.Example)
	assert.Equal(t, 1, dup.Duplicates)
	assert.Equal(t, []string{"country", "year"}, dup.Columns)

	// Without verification the index is accepted as declared.
	unverified, err := tb.SetIndex([]string{"country", "year"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"country", "year"}, unverified.Index())
	assert.Error(t, unverified.VerifyIntegrity())
}

func TestSetIndex_UniqueProjection(t *testing.T) {
	tb := countryYearValue(t,
		[]string{"France", "France", "Spain", "Spain"},
		[]int64{2020, 2021, 2020, 2021},
		[]float64{1, 2, 3, 4},
	)
	indexed, err := tb.SetIndex([]string{"country", "year"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"country", "year"}, indexed.Index())
	assert.Empty(t, tb.Index(), "receiver must not change")

	seen := map[string]bool{}
	indexed.Each(func(r Row) {
		c, _ := r.Text("country")
		y, _ := r.Int64("year")
		key := fmt.Sprintf("%s/%d", c, y)
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	})
	assert.Len(t, seen, 4)

	assert.Empty(t, indexed.ResetIndex().Index())
}

func TestSetIndex_Errors(t *testing.T) {
	tb := countryYearValue(t, []string{"France"}, []int64{2020}, []float64{1})

	_, err := tb.SetIndex([]string{"region"}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no column \"region\"")

	_, err = tb.SetIndex(nil, true)
	require.Error(t, err)

	_, err = tb.SetIndex([]string{"year", "year"}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listed twice")
}

func TestSetIndex_NullsAreKeys(t *testing.T) {
	c, err := NewColumn("year", KindInt, []any{nil, nil})
	require.NoError(t, err)
	tb := MustNew("t", Strings("country", "France", "France"), c)
	_, err = tb.SetIndex([]string{"country", "year"}, true)
	var dup *domain.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
}

func TestSetIndex_SignedZero(t *testing.T) {
	tb := MustNew("t", Floats("k", 0, math.Copysign(0, -1)))
	_, err := tb.SetIndex([]string{"k"}, true)
	var dup *domain.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
}

func TestSetIndex_KindsDoNotCollide(t *testing.T) {
	tb := MustNew("t", Strings("k", "1"), Ints("j", 1))
	assert.NotEqual(t, rowKey(tb.mustColumns([]string{"k"}), 0), rowKey(tb.mustColumns([]string{"j"}), 0))
}

func TestUnderscore(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"country", "country"},
		{"Country Name", "country_name"},
		{"GDPPerCapita", "gdp_per_capita"},
		{"deathsPer100k", "deaths_per100k"},
		{"Share (%)", "share_pct"},
		{"  --Life expectancy--  ", "life_expectancy"},
		{"2020 value", "_2020_value"},
		{"a.b-c/d", "a_b_c_d"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Underscore(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Underscore("%%")
	require.NoError(t, err)
	_, err = Underscore("---")
	require.Error(t, err)
}

func TestFormat(t *testing.T) {
	tb := MustNew("GHO Data",
		Floats("Value B", 3, 2, 1),
		Ints("Year", 2021, 2020, 2020),
		Strings("Country", "France", "Spain", "France"),
		Floats("Alpha", 0.3, 0.2, 0.1),
	)

	out, err := tb.Format(FormatOptions{SortColumns: true})
	require.NoError(t, err)
	assert.Equal(t, "gho_data", out.ShortName())
	assert.Equal(t, []string{"country", "year", "alpha", "value_b"}, out.ColumnNames())
	assert.Equal(t, []string{"country", "year"}, out.Index())

	countries, _ := out.Column("country")
	years, _ := out.Column("year")
	assert.Equal(t, []any{"France", "France", "Spain"}, countries.Values)
	assert.Equal(t, []any{int64(2020), int64(2021), int64(2020)}, years.Values)

	renamed, err := tb.Format(FormatOptions{ShortName: "gho", KeepRowOrder: true})
	require.NoError(t, err)
	assert.Equal(t, "gho", renamed.ShortName())
	assert.Equal(t, []string{"country", "year", "value_b", "alpha"}, renamed.ColumnNames())
	yearsKept, _ := renamed.Column("year")
	assert.Equal(t, []any{int64(2021), int64(2020), int64(2020)}, yearsKept.Values)
}

func TestFormat_Failures(t *testing.T) {
	dup := countryYearValue(t, []string{"France", "France"}, []int64{2020, 2020}, []float64{1, 2})
	_, err := dup.Format(FormatOptions{})
	var dupErr *domain.DuplicateKeyError
	require.ErrorAs(t, err, &dupErr)

	missing := MustNew("t", Strings("country", "France"))
	_, err = missing.Format(FormatOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no column \"year\"")

	collide := MustNew("t", Strings("country", "x"), Ints("year", 1), Floats("A b", 1), Floats("a_b", 2))
	_, err = collide.Format(FormatOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both underscore to \"a_b\"")

	custom, err := MustNew("t", Strings("Entity", "x", "y")).Format(FormatOptions{Keys: []string{"Entity"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"entity"}, custom.Index())
}

func TestRenameSelectDrop(t *testing.T) {
	tb := countryYearValue(t, []string{"France"}, []int64{2020}, []float64{1})
	require.NoError(t, tb.SetColumnMeta("value", meta.VariableMeta{Title: "Value", Origins: []meta.Origin{whoOrigin}}))
	tb, err := tb.SetIndex([]string{"country", "year"}, true)
	require.NoError(t, err)

	renamed, err := tb.Rename(map[string]string{"value": "deaths", "country": "entity"})
	require.NoError(t, err)
	assert.Equal(t, []string{"entity", "year", "deaths"}, renamed.ColumnNames())
	assert.Equal(t, []string{"entity", "year"}, renamed.Index())
	m, err := renamed.ColumnMeta("deaths")
	require.NoError(t, err)
	assert.Equal(t, []meta.Origin{whoOrigin}, m.Origins)

	_, err = tb.Rename(map[string]string{"missing": "x"})
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	_, err = tb.Rename(map[string]string{"value": "year"})
	require.Error(t, err)

	sel, err := tb.Select("value", "country")
	require.NoError(t, err)
	assert.Equal(t, []string{"value", "country"}, sel.ColumnNames())
	assert.Empty(t, sel.Index(), "index dropped when a key column is not selected")

	dropped, err := tb.Drop("value")
	require.NoError(t, err)
	assert.Equal(t, []string{"country", "year"}, dropped.ColumnNames())
	assert.Equal(t, []string{"country", "year"}, dropped.Index())

	_, err = tb.Drop("nope")
	require.Error(t, err)
}

func TestDerivedTablesDoNotShareMetadata(t *testing.T) {
	tb := countryYearValue(t, []string{"France"}, []int64{2020}, []float64{1})
	sel, err := tb.Select("country", "value")
	require.NoError(t, err)
	require.NoError(t, sel.SetColumnMeta("value", meta.VariableMeta{Title: "changed"}))

	m, err := tb.ColumnMeta("value")
	require.NoError(t, err)
	assert.Empty(t, m.Title)
}

func TestFilterAndSort(t *testing.T) {
	tb := countryYearValue(t,
		[]string{"Spain", "France", "Chile", "France"},
		[]int64{2021, 2021, 2020, 2020},
		[]float64{4, 3, 2, 1},
	)
	filtered := tb.Filter(func(r Row) bool {
		c, _ := r.Text("country")
		return c != "Chile"
	})
	assert.Equal(t, 3, filtered.NumRows())

	sorted := filtered.SortBy("country", "year")
	countries, _ := sorted.Column("country")
	values, _ := sorted.Column("value")
	assert.Equal(t, []any{"France", "France", "Spain"}, countries.Values)
	assert.Equal(t, []any{1.0, 3.0, 4.0}, values.Values)

	v, err := sorted.Value(0, "value")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
	_, err = sorted.Value(10, "value")
	require.Error(t, err)
}

func TestSortBy_NullsLast(t *testing.T) {
	c, err := NewColumn("v", KindFloat, []any{nil, 2.0, 1.0})
	require.NoError(t, err)
	sorted := MustNew("t", c).SortBy("v")
	col, _ := sorted.Column("v")
	assert.Equal(t, []any{1.0, 2.0, nil}, col.Values)
}

func TestCopyMetadata(t *testing.T) {
	tb := countryYearValue(t, []string{"France"}, []int64{2020}, []float64{1})
	require.NoError(t, tb.SetColumnMeta("value", meta.VariableMeta{Title: "Deaths", Unit: meta.String("deaths"), Origins: []meta.Origin{whoOrigin}}))

	tb, err := tb.AddColumn(Floats("value_smoothed", 1))
	require.NoError(t, err)
	m, _ := tb.ColumnMeta("value_smoothed")
	assert.Empty(t, m.Origins, "metadata is never inferred")

	require.NoError(t, tb.CopyMetadata("value", "value_smoothed"))
	m, _ = tb.ColumnMeta("value_smoothed")
	assert.Equal(t, []meta.Origin{whoOrigin}, m.Origins)
	assert.Equal(t, "deaths", m.UnitValue())
	col, _ := tb.Column("value_smoothed")
	assert.Equal(t, []ColumnRef{{Table: "gho", Column: "value"}}, col.Lineage)

	require.Error(t, tb.CopyMetadata("nope", "value"))
}

func TestFillNull(t *testing.T) {
	primary, err := NewColumn("primary", KindFloat, []any{1.0, nil, nil})
	require.NoError(t, err)
	primary.Meta.Origins = []meta.Origin{whoOrigin}
	fallback := Floats("fallback", 9, 8, 7)
	fallback.Meta.Origins = []meta.Origin{unOrigin}

	tb := MustNew("t", primary, fallback)
	filled, err := tb.FillNull("primary", "fallback")
	require.NoError(t, err)
	col, _ := filled.Column("primary")
	assert.Equal(t, []any{1.0, 8.0, 7.0}, col.Values)
	assert.Equal(t, []meta.Origin{whoOrigin, unOrigin}, col.Meta.Origins)

	orig, _ := tb.Column("primary")
	assert.Equal(t, 2, orig.NullCount(), "receiver must not change")

	_, err = MustNew("t", Floats("a", 1), Strings("b", "x")).FillNull("a", "b")
	require.Error(t, err)
}

func TestAddAndReplaceColumn(t *testing.T) {
	tb := countryYearValue(t, []string{"France"}, []int64{2020}, []float64{1})
	_, err := tb.AddColumn(Floats("value", 2))
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)

	_, err = tb.AddColumn(Floats("other", 1, 2))
	require.Error(t, err)

	replaced, err := tb.ReplaceColumn(Floats("value", 42))
	require.NoError(t, err)
	v, _ := replaced.Value(0, "value")
	assert.Equal(t, 42.0, v)

	_, err = tb.ReplaceColumn(Floats("nope", 1))
	require.Error(t, err)
}

func TestReplaceColumn_KeyColumn(t *testing.T) {
	tb := countryYearValue(t, []string{"France", "Spain"}, []int64{2020, 2020}, []float64{1, 2})
	tb, err := tb.SetIndex([]string{"country", "year"}, true)
	require.NoError(t, err)

	_, err = tb.ReplaceColumn(Strings("country", "France", "France"))
	var dup *domain.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, 1, dup.Duplicates)

	renamed, err := tb.ReplaceColumn(Strings("country", "FR", "ES"))
	require.NoError(t, err)
	assert.Equal(t, []string{"country", "year"}, renamed.Index())

	// Filling nulls in a key column goes through the same check.
	withNull, err := NewColumn("country", KindString, []any{"France", nil})
	require.NoError(t, err)
	tb, err = tb.ReplaceColumn(withNull)
	require.NoError(t, err)
	tb, err = tb.AddColumn(Strings("alias", "x", "France"))
	require.NoError(t, err)
	_, err = tb.FillNull("country", "alias")
	require.ErrorAs(t, err, &dup)
}

func TestSetOriginsAndTableMeta(t *testing.T) {
	tb := countryYearValue(t, []string{"France"}, []int64{2020}, []float64{1})
	tb.SetOrigins([]meta.Origin{whoOrigin, whoOrigin}, []meta.License{{Name: "CC BY 4.0"}})
	for _, c := range tb.Columns() {
		assert.Equal(t, []meta.Origin{whoOrigin}, c.Meta.Origins)
	}

	tb.SetMeta(meta.TableMeta{Title: "GHO"})
	assert.Equal(t, "gho", tb.ShortName())
	assert.Equal(t, "GHO", tb.Meta().Title)
}
