package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"etl-catalog/internal/meta"
	"etl-catalog/internal/table"
)

// IndexFile is the name of the sidecar written last by Save. Its presence
// marks a dataset directory as complete.
const IndexFile = "index.json"

const indexFormatVersion = 1

type indexDocument struct {
	FormatVersion int              `json:"format_version"`
	Dataset       meta.DatasetMeta `json:"dataset"`
	Tables        []tableEntry     `json:"tables"`
}

type tableEntry struct {
	ShortName   string        `json:"short_name"`
	Title       string        `json:"title,omitempty"`
	Description string        `json:"description,omitempty"`
	File        string        `json:"file"`
	PrimaryKey  []string      `json:"primary_key,omitempty"`
	NumRows     int           `json:"num_rows"`
	Columns     []columnEntry `json:"columns"`
}

type columnEntry struct {
	Name    string            `json:"name"`
	Kind    table.Kind        `json:"kind"`
	Meta    meta.VariableMeta `json:"meta"`
	Lineage []table.ColumnRef `json:"lineage,omitempty"`
}

func entryFor(t *table.Table) tableEntry {
	tm := t.Meta()
	e := tableEntry{
		ShortName:   tm.ShortName,
		Title:       tm.Title,
		Description: tm.Description,
		File:        tm.ShortName + ".parquet",
		PrimaryKey:  t.Index(),
		NumRows:     t.NumRows(),
	}
	for _, c := range t.Columns() {
		e.Columns = append(e.Columns, columnEntry{Name: c.Name, Kind: c.Kind, Meta: c.Meta, Lineage: c.Lineage})
	}
	return e
}

func encodeIndex(doc indexDocument) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeIndex replaces dir/index.json atomically.
func writeIndex(dir string, doc indexDocument) error {
	data, err := encodeIndex(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", IndexFile, err)
	}
	tmp, err := os.CreateTemp(dir, ".index-*.json")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp index: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, IndexFile)); err != nil {
		return fmt.Errorf("commit %s: %w", IndexFile, err)
	}
	return nil
}

func readIndex(dir string) (indexDocument, error) {
	var doc indexDocument
	data, err := os.ReadFile(filepath.Join(dir, IndexFile)) //nolint:gosec // dataset dirs are derived from step URIs
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", filepath.Join(dir, IndexFile), err)
	}
	if doc.FormatVersion != indexFormatVersion {
		return doc, fmt.Errorf("%s: unsupported format_version %d", filepath.Join(dir, IndexFile), doc.FormatVersion)
	}
	return doc, nil
}

// ReadMeta returns the dataset metadata recorded in dir/index.json without
// opening any table. A missing sidecar is reported with os.ErrNotExist.
func ReadMeta(dir string) (meta.DatasetMeta, error) {
	doc, err := readIndex(dir)
	if err != nil {
		return meta.DatasetMeta{}, err
	}
	return doc.Dataset, nil
}
