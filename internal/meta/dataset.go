package meta

import "slices"

// DatasetMeta is the metadata shared by all tables of a dataset.
type DatasetMeta struct {
	Channel          string    `yaml:"channel,omitempty" json:"channel,omitempty"`
	Namespace        string    `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Version          string    `yaml:"version,omitempty" json:"version,omitempty"`
	ShortName        string    `yaml:"short_name,omitempty" json:"short_name,omitempty"`
	Title            string    `yaml:"title,omitempty" json:"title,omitempty"`
	Description      string    `yaml:"description,omitempty" json:"description,omitempty"`
	Origins          []Origin  `yaml:"origins,omitempty" json:"origins,omitempty"`
	Licenses         []License `yaml:"licenses,omitempty" json:"licenses,omitempty"`
	IsPublic         bool      `yaml:"is_public" json:"is_public"`
	UpdatePeriodDays int       `yaml:"update_period_days,omitempty" json:"update_period_days,omitempty"`
	SourceChecksum   string    `yaml:"source_checksum,omitempty" json:"source_checksum,omitempty"`
}

// Clone returns a deep copy of m.
func (m DatasetMeta) Clone() DatasetMeta {
	out := m
	out.Origins = slices.Clone(m.Origins)
	out.Licenses = slices.Clone(m.Licenses)
	return out
}

// Inherit adds the provenance of upstream datasets to m. Identity fields
// (channel, namespace, version, short name) are never inherited.
func (m DatasetMeta) Inherit(upstream ...DatasetMeta) DatasetMeta {
	out := m.Clone()
	origins := [][]Origin{out.Origins}
	licenses := [][]License{out.Licenses}
	for _, u := range upstream {
		origins = append(origins, u.Origins)
		licenses = append(licenses, u.Licenses)
		if out.Title == "" {
			out.Title = u.Title
		}
		if out.Description == "" {
			out.Description = u.Description
		}
	}
	out.Origins = MergeOrigins(origins...)
	out.Licenses = MergeLicenses(licenses...)
	return out
}
