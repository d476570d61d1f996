// Package example is a small health pipeline: WHO deaths and UN population
// are cleaned in meadow and combined into a death rate in garden.
package example

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"etl-catalog/internal/dataset"
	"etl-catalog/internal/domain"
	"etl-catalog/internal/meta"
	"etl-catalog/internal/pathfinder"
	"etl-catalog/internal/runner"
	"etl-catalog/internal/snapshot"
	"etl-catalog/internal/table"
)

// Step and snapshot URIs of the pipeline.
const (
	SnapshotDeaths     = "snapshot://who/2024-01-01/gho.csv"
	SnapshotPopulation = "snapshot://un/2024-07-11/population.csv"
	MeadowDeaths       = "data://meadow/who/2024-01-01/gho"
	MeadowPopulation   = "data://meadow/un/2024-07-11/population"
	GardenDeathRate    = "data://garden/who/2024-01-01/death_rate"
)

//go:embed files
var files embed.FS

var (
	whoOrigin = meta.Origin{
		Producer:         "World Health Organization",
		Title:            "Global Health Observatory",
		AttributionShort: "WHO",
		URLMain:          "https://www.who.int/data/gho",
		DatePublished:    "2024-01-01",
		DateAccessed:     "2024-02-01",
		CitationFull:     "World Health Organization (2024). Global Health Observatory.",
		License:          meta.License{Name: "CC BY-NC-SA 3.0 IGO", URL: "https://www.who.int/about/policies/publishing/copyright"},
	}
	unOrigin = meta.Origin{
		Producer:         "United Nations",
		Title:            "World Population Prospects",
		AttributionShort: "UN WPP",
		URLMain:          "https://population.un.org/wpp/",
		DatePublished:    "2024-07-11",
		DateAccessed:     "2024-07-15",
		CitationFull:     "United Nations (2024). World Population Prospects 2024.",
		License:          meta.License{Name: "CC BY 3.0 IGO", URL: "https://creativecommons.org/licenses/by/3.0/igo/"},
	}
)

// Register adds the pipeline's steps to reg.
func Register(reg *runner.Registry) error {
	steps := []struct {
		uri  string
		step runner.Step
	}{
		{MeadowDeaths, runner.Step{Run: meadowFromCSV("gho.csv"), Revision: "1"}},
		{MeadowPopulation, runner.Step{Run: meadowFromCSV("population.csv"), Revision: "1"}},
		{GardenDeathRate, runner.Step{Run: deathRate, Revision: "1"}},
	}
	for _, s := range steps {
		if err := reg.Register(s.uri, s.step); err != nil {
			return err
		}
	}
	return nil
}

// Install writes the DAG file, snapshots, and step metadata of the pipeline
// into an ETL checkout. Existing files are overwritten.
func Install(dagFile, snapshotDir, stepsDir string) error {
	dag, err := files.ReadFile("files/dag.yml")
	if err != nil {
		return err
	}
	if err := writeFile(dagFile, dag); err != nil {
		return err
	}

	for _, s := range []struct {
		uri    string
		file   string
		origin meta.Origin
	}{
		{SnapshotDeaths, "files/gho.csv", whoOrigin},
		{SnapshotPopulation, "files/population.csv", unOrigin},
	} {
		data, err := files.ReadFile(s.file)
		if err != nil {
			return err
		}
		if _, err := snapshot.Create(snapshotDir, domain.MustParseURI(s.uri), snapshot.Meta{Origin: s.origin}, bytes.NewReader(data)); err != nil {
			return err
		}
	}

	override, err := files.ReadFile("files/death_rate.meta.yml")
	if err != nil {
		return err
	}
	return writeFile(pathfinder.MetadataPath(stepsDir, domain.MustParseURI(GardenDeathRate)), override)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// meadowFromCSV reads one CSV snapshot and formats it on country and year.
func meadowFromCSV(file string) runner.StepFunc {
	return func(ctx context.Context, pf *pathfinder.PathFinder) (*dataset.Dataset, error) {
		snap, err := pf.LoadSnapshot(ctx, file)
		if err != nil {
			return nil, err
		}
		tb, err := snap.ReadCSV(snapshot.CSVOptions{})
		if err != nil {
			return nil, err
		}
		tb, err = tb.Format(table.FormatOptions{})
		if err != nil {
			return nil, err
		}
		return pf.CreateDataset(ctx, []*table.Table{tb}, pathfinder.CreateOptions{})
	}
}

func deathRate(ctx context.Context, pf *pathfinder.PathFinder) (*dataset.Dataset, error) {
	deaths, err := loadTable(ctx, pf, "gho")
	if err != nil {
		return nil, err
	}
	population, err := loadTable(ctx, pf, "population")
	if err != nil {
		return nil, err
	}

	tb, err := table.Merge(deaths, population, table.MergeOptions{
		On:       table.DefaultIndex,
		How:      table.JoinLeft,
		Validate: table.ValidateOneToOne,
	})
	if err != nil {
		return nil, err
	}
	tb, err = tb.Derive("death_rate", "deaths / population * 100000", table.DeriveOptions{Kind: table.KindFloat})
	if err != nil {
		return nil, err
	}
	tb, err = tb.Format(table.FormatOptions{ShortName: "death_rate"})
	if err != nil {
		return nil, err
	}
	return pf.CreateDataset(ctx, []*table.Table{tb}, pathfinder.CreateOptions{CheckVariablesMetadata: true})
}

// loadTable reads the table named like its dataset.
func loadTable(ctx context.Context, pf *pathfinder.PathFinder, name string) (*table.Table, error) {
	ds, err := pf.LoadDataset(ctx, name)
	if err != nil {
		return nil, err
	}
	tb, err := ds.Table(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return tb, nil
}
