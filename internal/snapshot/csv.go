package snapshot

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"etl-catalog/internal/domain"
	"etl-catalog/internal/meta"
	"etl-catalog/internal/table"
)

// CSVOptions configures ReadCSV.
type CSVOptions struct {
	// Comma is the field delimiter; defaults to ','.
	Comma rune
	// Kinds forces the kind of the named columns instead of inferring it.
	Kinds map[string]table.Kind
}

// ReadCSV reads the verified data file as a table named after the snapshot.
// Every column carries the snapshot origin and license. Empty cells are null.
func (s *Snapshot) ReadCSV(opts CSVOptions) (*table.Table, error) {
	rc, err := s.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	t, err := ParseCSV(rc, s.URI.DatasetName(), opts)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", s.URI, err)
	}
	t.SetOrigins([]meta.Origin{s.Origin()}, []meta.License{s.License()})
	return t, nil
}

// ParseCSV reads CSV with a header row into a table. Column kinds are
// inferred as int, float, bool, or string, in that order of preference.
func ParseCSV(r io.Reader, name string, opts CSVOptions) (*table.Table, error) {
	reader := csv.NewReader(r)
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.ErrValidation("csv has no header row")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	raw := make([][]string, len(header))
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		for i, v := range rec {
			raw[i] = append(raw[i], v)
		}
	}

	cols := make([]*table.Column, len(header))
	for i, h := range header {
		kind, ok := opts.Kinds[h]
		if !ok {
			kind = inferKind(raw[i])
		}
		values := make([]any, len(raw[i]))
		for row, cell := range raw[i] {
			v, err := parseCell(kind, cell)
			if err != nil {
				return nil, domain.ErrValidation("csv column %q row %d: %v", h, row+2, err)
			}
			values[row] = v
		}
		col, err := table.NewColumn(h, kind, values)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return table.New(name, cols...)
}

func inferKind(cells []string) table.Kind {
	isInt, isFloat, isBool := true, true, true
	seen := false
	for _, c := range cells {
		if c == "" {
			continue
		}
		seen = true
		if isInt {
			if _, err := strconv.ParseInt(c, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(c, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			if _, ok := parseBool(c); !ok {
				isBool = false
			}
		}
	}
	switch {
	case !seen:
		return table.KindString
	case isInt:
		return table.KindInt
	case isFloat:
		return table.KindFloat
	case isBool:
		return table.KindBool
	}
	return table.KindString
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func parseCell(kind table.Kind, cell string) (any, error) {
	if cell == "" {
		return nil, nil
	}
	switch kind {
	case table.KindInt:
		return strconv.ParseInt(cell, 10, 64)
	case table.KindFloat:
		return strconv.ParseFloat(cell, 64)
	case table.KindBool:
		b, ok := parseBool(cell)
		if !ok {
			return nil, fmt.Errorf("%q is not a bool", cell)
		}
		return b, nil
	}
	return cell, nil
}
