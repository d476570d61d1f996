// Package meta holds the provenance and descriptive metadata attached to
// datasets, tables, and variables, together with the rules for merging it.
package meta

// License is the usage license of a source.
type License struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	URL  string `yaml:"url,omitempty" json:"url,omitempty"`
}

// IsZero reports whether no field of l is set.
func (l License) IsZero() bool { return l.Name == "" && l.URL == "" }

// Origin is a structured citation of where data came from.
type Origin struct {
	Producer            string  `yaml:"producer,omitempty" json:"producer,omitempty"`
	Title               string  `yaml:"title,omitempty" json:"title,omitempty"`
	Description         string  `yaml:"description,omitempty" json:"description,omitempty"`
	TitleSnapshot       string  `yaml:"title_snapshot,omitempty" json:"title_snapshot,omitempty"`
	DescriptionSnapshot string  `yaml:"description_snapshot,omitempty" json:"description_snapshot,omitempty"`
	CitationFull        string  `yaml:"citation_full,omitempty" json:"citation_full,omitempty"`
	AttributionShort    string  `yaml:"attribution_short,omitempty" json:"attribution_short,omitempty"`
	VersionProducer     string  `yaml:"version_producer,omitempty" json:"version_producer,omitempty"`
	URLMain             string  `yaml:"url_main,omitempty" json:"url_main,omitempty"`
	URLDownload         string  `yaml:"url_download,omitempty" json:"url_download,omitempty"`
	DatePublished       string  `yaml:"date_published,omitempty" json:"date_published,omitempty"`
	DateAccessed        string  `yaml:"date_accessed,omitempty" json:"date_accessed,omitempty"`
	License             License `yaml:"license,omitempty" json:"license,omitzero"`
}

// MergeOrigins returns the order-preserving union of the given origin lists.
func MergeOrigins(lists ...[]Origin) []Origin {
	var out []Origin
	for _, list := range lists {
		for _, o := range list {
			if !containsOrigin(out, o) {
				out = append(out, o)
			}
		}
	}
	return out
}

// MergeLicenses returns the order-preserving union of the given license lists.
func MergeLicenses(lists ...[]License) []License {
	var out []License
	for _, list := range lists {
		for _, l := range list {
			if l.IsZero() {
				continue
			}
			seen := false
			for _, existing := range out {
				if existing == l {
					seen = true
					break
				}
			}
			if !seen {
				out = append(out, l)
			}
		}
	}
	return out
}

// OriginsEqual reports whether a and b hold the same origins in the same order.
func OriginsEqual(a, b []Origin) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsOrigin(list []Origin, o Origin) bool {
	for _, existing := range list {
		if existing == o {
			return true
		}
	}
	return false
}
