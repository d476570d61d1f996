package meta

import (
	"sort"

	"etl-catalog/internal/domain"
)

// ValidateVariable returns every missing required field of a column's
// metadata. Title, unit, and at least one origin are required for
// publication; an empty unit is allowed but it must be stated.
func ValidateVariable(table, column string, m VariableMeta) []domain.MetadataIssue {
	var issues []domain.MetadataIssue
	if m.Title == "" {
		issues = append(issues, domain.MetadataIssue{Table: table, Column: column, Field: "title", Message: "is missing"})
	}
	if m.Unit == nil {
		issues = append(issues, domain.MetadataIssue{Table: table, Column: column, Field: "unit", Message: "is missing"})
	}
	if len(m.Origins) == 0 {
		issues = append(issues, domain.MetadataIssue{Table: table, Column: column, Field: "origins", Message: "is empty"})
	}
	if m.ProcessingLevel != "" && m.ProcessingLevel != ProcessingMinor && m.ProcessingLevel != ProcessingMajor {
		issues = append(issues, domain.MetadataIssue{Table: table, Column: column, Field: "processing_level",
			Message: "must be \"minor\" or \"major\", got \"" + m.ProcessingLevel + "\""})
	}
	return issues
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
