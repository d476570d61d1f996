package meta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	who = Origin{Producer: "WHO", Title: "Global Health Observatory", URLMain: "https://www.who.int/data/gho", DatePublished: "2024-01-01"}
	un  = Origin{Producer: "UN", Title: "World Population Prospects", URLMain: "https://population.un.org/wpp", DatePublished: "2022-07-11"}
)

func TestMergeOrigins(t *testing.T) {
	got := MergeOrigins([]Origin{who}, []Origin{un, who}, nil)
	assert.Equal(t, []Origin{who, un}, got)
	assert.Nil(t, MergeOrigins())
}

func TestMergeLicenses(t *testing.T) {
	cc := License{Name: "CC BY 4.0", URL: "https://creativecommons.org/licenses/by/4.0/"}
	got := MergeLicenses([]License{cc, {}}, []License{cc})
	assert.Equal(t, []License{cc}, got)
}

func TestCombine(t *testing.T) {
	deaths := VariableMeta{Title: "Deaths", Unit: String("deaths"), Origins: []Origin{who}, ProcessingLevel: ProcessingMinor}
	population := VariableMeta{Title: "Population", Unit: String("people"), Origins: []Origin{un}}

	t.Run("single input is copied", func(t *testing.T) {
		got := Combine(deaths)
		assert.Equal(t, deaths, got)
		got.Origins[0].Producer = "changed"
		assert.Equal(t, "WHO", deaths.Origins[0].Producer)
	})

	t.Run("provenance is the union", func(t *testing.T) {
		got := Combine(deaths, population)
		assert.Equal(t, []Origin{who, un}, got.Origins)
		assert.Empty(t, got.Title)
		assert.Nil(t, got.Unit)
		assert.Equal(t, ProcessingMinor, got.ProcessingLevel)
	})

	t.Run("agreeing fields survive", func(t *testing.T) {
		other := deaths
		other.Origins = []Origin{un}
		other.ProcessingLevel = ProcessingMajor
		got := Combine(deaths, other)
		assert.Equal(t, "Deaths", got.Title)
		assert.Equal(t, "deaths", got.UnitValue())
		assert.Equal(t, ProcessingMajor, got.ProcessingLevel)
	})

	t.Run("no inputs", func(t *testing.T) {
		assert.Equal(t, VariableMeta{}, Combine())
	})
}

func TestOverride(t *testing.T) {
	base := VariableMeta{Title: "Deaths", Unit: String("deaths"), Origins: []Origin{who}, Display: map[string]any{"numDecimalPlaces": 0}}
	patch := VariableMeta{Unit: String(""), ShortUnit: "", Display: map[string]any{"name": "Deaths"}}

	got := Override(base, patch)
	assert.Equal(t, "Deaths", got.Title)
	require.NotNil(t, got.Unit)
	assert.Equal(t, "", *got.Unit)
	assert.Equal(t, []Origin{who}, got.Origins)
	assert.Equal(t, map[string]any{"numDecimalPlaces": 0, "name": "Deaths"}, got.Display)
	assert.Equal(t, map[string]any{"numDecimalPlaces": 0}, base.Display, "base must not be mutated")
}

func TestDatasetInherit(t *testing.T) {
	own := DatasetMeta{Channel: "garden", Namespace: "who", Version: "2024", ShortName: "gho"}
	upstream := DatasetMeta{Channel: "meadow", Namespace: "who", Version: "2024", ShortName: "gho_raw", Title: "GHO", Origins: []Origin{who}}

	got := own.Inherit(upstream, DatasetMeta{Origins: []Origin{un, who}})
	assert.Equal(t, "garden", got.Channel)
	assert.Equal(t, "gho", got.ShortName)
	assert.Equal(t, "GHO", got.Title)
	assert.Equal(t, []Origin{who, un}, got.Origins)
}

const overrideYAML = `
definitions:
  common:
    processing_level: minor
  unit_deaths: &unit_deaths
    unit: deaths
    short_unit: ""
dataset:
  title: Global Health Observatory
  update_period_days: 365
tables:
  gho:
    title: GHO table
    common:
      description_short: From the WHO.
    variables:
      deaths:
        title: Deaths
        <<: *unit_deaths
      rate:
        title: Death rate
        unit: deaths per 100,000 people
        processing_level: major
`

func TestParseOverride(t *testing.T) {
	f, err := ParseOverride([]byte(overrideYAML))
	require.NoError(t, err)

	ds := f.ApplyDataset(DatasetMeta{ShortName: "gho", Title: "old"})
	assert.Equal(t, "Global Health Observatory", ds.Title)
	assert.Equal(t, 365, ds.UpdatePeriodDays)

	tm := f.ApplyTable("gho", TableMeta{ShortName: "gho"})
	assert.Equal(t, "GHO table", tm.Title)

	deaths := f.ApplyVariable("gho", "deaths", VariableMeta{Origins: []Origin{who}})
	assert.Equal(t, "Deaths", deaths.Title)
	assert.Equal(t, "deaths", deaths.UnitValue())
	assert.Equal(t, "From the WHO.", deaths.Description)
	assert.Equal(t, ProcessingMinor, deaths.ProcessingLevel)
	assert.Equal(t, []Origin{who}, deaths.Origins)

	rate := f.ApplyVariable("gho", "rate", VariableMeta{})
	assert.Equal(t, ProcessingMajor, rate.ProcessingLevel)

	other := f.ApplyVariable("other", "x", VariableMeta{})
	assert.Equal(t, ProcessingMinor, other.ProcessingLevel)

	unknown := f.UnknownVariables(func(table, column string) bool { return column == "deaths" })
	assert.Equal(t, []string{"gho.rate"}, unknown)
}

func TestParseOverride_UnknownField(t *testing.T) {
	_, err := ParseOverride([]byte("tables:\n  gho:\n    variabels: {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "variabels")
}

func TestLoadOverrideFile(t *testing.T) {
	dir := t.TempDir()

	f, err := LoadOverrideFile(filepath.Join(dir, "missing.meta.yml"))
	require.NoError(t, err)
	assert.Nil(t, f)
	// A nil override file is a no-op.
	assert.Equal(t, "x", f.ApplyTable("gho", TableMeta{Title: "x"}).Title)

	path := filepath.Join(dir, "gho.meta.yml")
	require.NoError(t, os.WriteFile(path, []byte(overrideYAML), 0o644))
	f, err = LoadOverrideFile(path)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Contains(t, f.Tables, "gho")

	require.NoError(t, os.WriteFile(path, []byte("tables: ["), 0o644))
	_, err = LoadOverrideFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestValidateVariable(t *testing.T) {
	assert.Empty(t, ValidateVariable("gho", "deaths", VariableMeta{Title: "Deaths", Unit: String(""), Origins: []Origin{who}}))

	issues := ValidateVariable("gho", "deaths", VariableMeta{ProcessingLevel: "huge"})
	require.Len(t, issues, 4)
	fields := []string{issues[0].Field, issues[1].Field, issues[2].Field, issues[3].Field}
	assert.Equal(t, []string{"title", "unit", "origins", "processing_level"}, fields)
	assert.Equal(t, "gho.deaths: unit is missing", issues[1].String())
}
