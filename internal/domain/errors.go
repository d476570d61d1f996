// Package domain defines core types, interfaces, and errors for the ETL catalog.
package domain

import (
	"fmt"
	"strings"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// DuplicateKeyError is returned when index columns do not uniquely identify rows.
type DuplicateKeyError struct {
	Table      string
	Columns    []string
	Example    []any // first duplicated key tuple
	Duplicates int   // number of rows whose key was already seen
}

func (e *DuplicateKeyError) Error() string {
	parts := make([]string, len(e.Example))
	for i, v := range e.Example {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return fmt.Sprintf("table %q: index %v is not unique: %d duplicate row(s), first duplicate (%s)",
		e.Table, e.Columns, e.Duplicates, strings.Join(parts, ", "))
}

// MergeValidationError is returned when a merge violates its declared cardinality.
type MergeValidationError struct {
	Validate string // "1:1", "1:m", "m:1"
	Side     string // "left" or "right"
	On       []string
	Example  []any
}

func (e *MergeValidationError) Error() string {
	return fmt.Sprintf("merge keys %v are not unique in %s table (validate=%s), e.g. %v",
		e.On, e.Side, e.Validate, e.Example)
}

// MissingDependencyError is returned when a step loads an input that is not
// declared in the DAG or has not been materialized yet.
type MissingDependencyError struct {
	Step       string
	Dependency string
	Reason     string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("step %s: dependency %s: %s", e.Step, e.Dependency, e.Reason)
}

// AmbiguousDependencyError is returned when more than one declared
// dependency matches a load request.
type AmbiguousDependencyError struct {
	Step       string
	Query      string
	Candidates []string
}

func (e *AmbiguousDependencyError) Error() string {
	return fmt.Sprintf("step %s: %q matches %d dependencies (%s); pass namespace, version or channel",
		e.Step, e.Query, len(e.Candidates), strings.Join(e.Candidates, ", "))
}

// ChecksumMismatchError is returned when a snapshot file does not match its recorded md5.
type ChecksumMismatchError struct {
	URI      string
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("snapshot %s: md5 mismatch: expected %s, got %s", e.URI, e.Expected, e.Actual)
}

// MetadataIssue is one missing or invalid metadata field.
type MetadataIssue struct {
	Table   string
	Column  string // empty for table-level issues
	Field   string
	Message string
}

func (i MetadataIssue) String() string {
	if i.Column == "" {
		return fmt.Sprintf("%s: %s %s", i.Table, i.Field, i.Message)
	}
	return fmt.Sprintf("%s.%s: %s %s", i.Table, i.Column, i.Field, i.Message)
}

// MetadataValidationError collects every metadata issue of a dataset.
type MetadataValidationError struct {
	Dataset string
	Issues  []MetadataIssue
}

func (e *MetadataValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "dataset %s has %d metadata issue(s):", e.Dataset, len(e.Issues))
	for _, issue := range e.Issues {
		b.WriteString("\n  - ")
		b.WriteString(issue.String())
	}
	return b.String()
}
