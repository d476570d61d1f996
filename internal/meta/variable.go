package meta

import "slices"

// Processing levels.
const (
	ProcessingMinor = "minor"
	ProcessingMajor = "major"
)

// VariableMeta describes one column of a table.
type VariableMeta struct {
	Title                 string         `yaml:"title,omitempty" json:"title,omitempty"`
	Description           string         `yaml:"description_short,omitempty" json:"description_short,omitempty"`
	DescriptionKey        []string       `yaml:"description_key,omitempty" json:"description_key,omitempty"`
	DescriptionProcessing string         `yaml:"description_processing,omitempty" json:"description_processing,omitempty"`
	Unit                  *string        `yaml:"unit,omitempty" json:"unit,omitempty"`
	ShortUnit             string         `yaml:"short_unit,omitempty" json:"short_unit,omitempty"`
	Origins               []Origin       `yaml:"origins,omitempty" json:"origins,omitempty"`
	Licenses              []License      `yaml:"licenses,omitempty" json:"licenses,omitempty"`
	ProcessingLevel       string         `yaml:"processing_level,omitempty" json:"processing_level,omitempty"`
	Display               map[string]any `yaml:"display,omitempty" json:"display,omitempty"`
}

// String returns a pointer to s. Units are optional-but-present fields, so
// the empty unit "" is distinct from a missing unit.
func String(s string) *string { return &s }

// UnitValue returns the unit or "" when it is not set.
func (m VariableMeta) UnitValue() string {
	if m.Unit == nil {
		return ""
	}
	return *m.Unit
}

// Clone returns a deep copy of m.
func (m VariableMeta) Clone() VariableMeta {
	out := m
	if m.Unit != nil {
		out.Unit = String(*m.Unit)
	}
	out.DescriptionKey = slices.Clone(m.DescriptionKey)
	out.Origins = slices.Clone(m.Origins)
	out.Licenses = slices.Clone(m.Licenses)
	if m.Display != nil {
		out.Display = make(map[string]any, len(m.Display))
		for k, v := range m.Display {
			out.Display[k] = v
		}
	}
	return out
}

// Combine builds the metadata of a column derived from several inputs.
// Provenance (origins, licenses) is the union of all inputs. Descriptive
// fields survive only when every input agrees on them; the processing level
// is the highest of the inputs.
func Combine(inputs ...VariableMeta) VariableMeta {
	if len(inputs) == 0 {
		return VariableMeta{}
	}
	if len(inputs) == 1 {
		return inputs[0].Clone()
	}

	out := VariableMeta{}
	origins := make([][]Origin, 0, len(inputs))
	licenses := make([][]License, 0, len(inputs))
	for _, in := range inputs {
		origins = append(origins, in.Origins)
		licenses = append(licenses, in.Licenses)
	}
	out.Origins = MergeOrigins(origins...)
	out.Licenses = MergeLicenses(licenses...)

	first := inputs[0]
	sameTitle, sameDesc, sameUnit, sameShort := true, true, true, true
	for _, in := range inputs[1:] {
		sameTitle = sameTitle && in.Title == first.Title
		sameDesc = sameDesc && in.Description == first.Description
		sameUnit = sameUnit && unitEqual(in.Unit, first.Unit)
		sameShort = sameShort && in.ShortUnit == first.ShortUnit
	}
	if sameTitle {
		out.Title = first.Title
	}
	if sameDesc {
		out.Description = first.Description
	}
	if sameUnit && first.Unit != nil {
		out.Unit = String(*first.Unit)
	}
	if sameShort {
		out.ShortUnit = first.ShortUnit
	}

	for _, in := range inputs {
		if in.ProcessingLevel == ProcessingMajor {
			out.ProcessingLevel = ProcessingMajor
			break
		}
		if in.ProcessingLevel == ProcessingMinor {
			out.ProcessingLevel = ProcessingMinor
		}
	}
	return out
}

// Override returns base with every field that is set in patch replaced.
func Override(base, patch VariableMeta) VariableMeta {
	out := base.Clone()
	if patch.Title != "" {
		out.Title = patch.Title
	}
	if patch.Description != "" {
		out.Description = patch.Description
	}
	if patch.DescriptionKey != nil {
		out.DescriptionKey = slices.Clone(patch.DescriptionKey)
	}
	if patch.DescriptionProcessing != "" {
		out.DescriptionProcessing = patch.DescriptionProcessing
	}
	if patch.Unit != nil {
		out.Unit = String(*patch.Unit)
	}
	if patch.ShortUnit != "" {
		out.ShortUnit = patch.ShortUnit
	}
	if patch.Origins != nil {
		out.Origins = slices.Clone(patch.Origins)
	}
	if patch.Licenses != nil {
		out.Licenses = slices.Clone(patch.Licenses)
	}
	if patch.ProcessingLevel != "" {
		out.ProcessingLevel = patch.ProcessingLevel
	}
	if patch.Display != nil {
		if out.Display == nil {
			out.Display = make(map[string]any, len(patch.Display))
		}
		for k, v := range patch.Display {
			out.Display[k] = v
		}
	}
	return out
}

func unitEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// TableMeta describes a table as a whole.
type TableMeta struct {
	ShortName   string `yaml:"short_name,omitempty" json:"short_name,omitempty"`
	Title       string `yaml:"title,omitempty" json:"title,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}
