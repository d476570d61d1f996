package meta

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// OverrideFile is a step-adjacent YAML file with metadata authored by hand.
//
//	definitions:
//	  common:
//	    processing_level: minor
//	  others: &unit_deaths
//	    unit: deaths
//	dataset:
//	  title: Global Health Observatory
//	tables:
//	  gho:
//	    title: GHO
//	    variables:
//	      deaths:
//	        title: Deaths
//	        <<: *unit_deaths
type OverrideFile struct {
	Definitions map[string]yaml.Node     `yaml:"definitions,omitempty"`
	Dataset     *DatasetOverride         `yaml:"dataset,omitempty"`
	Tables      map[string]TableOverride `yaml:"tables,omitempty"`

	common *VariableMeta
}

// DatasetOverride holds the dataset fields an override file may set.
type DatasetOverride struct {
	Title            string    `yaml:"title,omitempty"`
	Description      string    `yaml:"description,omitempty"`
	Licenses         []License `yaml:"licenses,omitempty"`
	UpdatePeriodDays int       `yaml:"update_period_days,omitempty"`
	IsPublic         *bool     `yaml:"is_public,omitempty"`
}

// TableOverride holds the table and variable fields an override file may set.
type TableOverride struct {
	Title       string                  `yaml:"title,omitempty"`
	Description string                  `yaml:"description,omitempty"`
	Common      *VariableMeta           `yaml:"common,omitempty"`
	Variables   map[string]VariableMeta `yaml:"variables,omitempty"`
}

// LoadOverrideFile reads an override file. Returns (nil, nil) when the file
// does not exist, since override files are optional.
func LoadOverrideFile(path string) (*OverrideFile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from the step location
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := ParseOverride(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

// ParseOverride decodes override YAML. Unknown fields are rejected outside
// the free-form definitions section.
func ParseOverride(data []byte) (*OverrideFile, error) {
	var f OverrideFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, err
	}
	if node, ok := f.Definitions["common"]; ok {
		var common VariableMeta
		if err := node.Decode(&common); err != nil {
			return nil, fmt.Errorf("definitions.common: %w", err)
		}
		f.common = &common
	}
	return &f, nil
}

// ApplyDataset merges the dataset section into m.
func (f *OverrideFile) ApplyDataset(m DatasetMeta) DatasetMeta {
	out := m.Clone()
	if f == nil || f.Dataset == nil {
		return out
	}
	d := f.Dataset
	if d.Title != "" {
		out.Title = d.Title
	}
	if d.Description != "" {
		out.Description = d.Description
	}
	if d.Licenses != nil {
		out.Licenses = MergeLicenses(d.Licenses)
	}
	if d.UpdatePeriodDays != 0 {
		out.UpdatePeriodDays = d.UpdatePeriodDays
	}
	if d.IsPublic != nil {
		out.IsPublic = *d.IsPublic
	}
	return out
}

// ApplyTable merges the table-level fields for table name into m.
func (f *OverrideFile) ApplyTable(name string, m TableMeta) TableMeta {
	if f == nil {
		return m
	}
	t, ok := f.Tables[name]
	if !ok {
		return m
	}
	if t.Title != "" {
		m.Title = t.Title
	}
	if t.Description != "" {
		m.Description = t.Description
	}
	return m
}

// ApplyVariable merges, in order, definitions.common, the table's common
// block, and the variable's own block into m.
func (f *OverrideFile) ApplyVariable(tableName, column string, m VariableMeta) VariableMeta {
	if f == nil {
		return m
	}
	if f.common != nil {
		m = Override(m, *f.common)
	}
	t, ok := f.Tables[tableName]
	if !ok {
		return m
	}
	if t.Common != nil {
		m = Override(m, *t.Common)
	}
	if v, ok := t.Variables[column]; ok {
		m = Override(m, v)
	}
	return m
}

// UnknownVariables returns "table.column" entries of the override file that
// do not name an existing column, according to has.
func (f *OverrideFile) UnknownVariables(has func(table, column string) bool) []string {
	if f == nil {
		return nil
	}
	var out []string
	for _, tableName := range sortedKeys(f.Tables) {
		for _, col := range sortedKeys(f.Tables[tableName].Variables) {
			if !has(tableName, col) {
				out = append(out, tableName+"."+col)
			}
		}
	}
	return out
}
