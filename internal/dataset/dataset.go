// Copyright 2026 Veristat Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dataset loads tabular input files into a normalized in-memory
// table and computes the dataset fingerprint. CSV, TSV and JSON (array of
// flat objects) are supported; XLSX and Parquet are recognized and
// rejected with a typed error until readers are wired.
package dataset

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrUnsupportedFormat reports an input format the loader recognizes but
// cannot read.
type ErrUnsupportedFormat struct {
	Format string
}

func (e *ErrUnsupportedFormat) Error() string {
	return fmt.Sprintf("unsupported dataset format: %s", e.Format)
}

// Table is a normalized tabular dataset: a header row plus string cells.
type Table struct {
	Columns   []string
	Rows      [][]string
	SizeBytes int64
}

// Fingerprint identifies a dataset by content and shape.
type Fingerprint struct {
	Hash     string
	Columns  []string
	RowCount int
}

// Missing-value spellings treated as absent.
var missingValues = map[string]bool{
	"": true, "na": true, "n/a": true, "null": true, "nan": true, "none": true,
}

// IsMissing reports whether a cell is a missing value.
func IsMissing(cell string) bool {
	return missingValues[strings.ToLower(strings.TrimSpace(cell))]
}

// Load reads the dataset at path. The format is sniffed from the extension.
func Load(path string) (*Table, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat dataset: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv":
		return loadDelimited(path, ',', info.Size())
	case ".tsv":
		return loadDelimited(path, '\t', info.Size())
	case ".json":
		return loadJSON(path, info.Size())
	case ".xlsx", ".xls":
		return nil, &ErrUnsupportedFormat{Format: "xlsx"}
	case ".parquet":
		return nil, &ErrUnsupportedFormat{Format: "parquet"}
	default:
		// Fall back to CSV for unknown extensions; real-world exports
		// frequently arrive as .txt or extensionless.
		return loadDelimited(path, ',', info.Size())
	}
}

// loadDelimited reads a CSV/TSV file.
func loadDelimited(path string, sep rune, size int64) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = sep
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing dataset: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}

	rows := make([][]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make([]string, len(header))
		for i := range header {
			if i < len(rec) {
				row[i] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}

	return &Table{Columns: header, Rows: rows, SizeBytes: size}, nil
}

// loadJSON reads a JSON array of flat objects.
func loadJSON(path string, size int64) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}

	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing dataset: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}

	colSet := map[string]bool{}
	for _, rec := range records {
		for k := range rec {
			colSet[k] = true
		}
	}
	columns := make([]string, 0, len(colSet))
	for k := range colSet {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		row := make([]string, len(columns))
		for i, col := range columns {
			if v, ok := rec[col]; ok && v != nil {
				row[i] = fmt.Sprintf("%v", v)
			}
		}
		rows = append(rows, row)
	}

	return &Table{Columns: columns, Rows: rows, SizeBytes: size}, nil
}

// SizeMB returns the dataset size in megabytes.
func (t *Table) SizeMB() float64 {
	return float64(t.SizeBytes) / (1024 * 1024)
}

// ColumnIndex returns the index of a named column.
func (t *Table) ColumnIndex(name string) (int, bool) {
	for i, c := range t.Columns {
		if c == name {
			return i, true
		}
	}
	return 0, false
}

// Column returns the raw cells of a named column.
func (t *Table) Column(name string) ([]string, bool) {
	idx, ok := t.ColumnIndex(name)
	if !ok {
		return nil, false
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// NumericColumn parses a column as floats, skipping missing cells. The
// second return is the fraction of non-missing cells that parsed.
func (t *Table) NumericColumn(name string) ([]float64, float64) {
	cells, ok := t.Column(name)
	if !ok {
		return nil, 0
	}
	var values []float64
	parsed, present := 0, 0
	for _, cell := range cells {
		if IsMissing(cell) {
			continue
		}
		present++
		if v, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", ""), 64); err == nil {
			values = append(values, v)
			parsed++
		}
	}
	if present == 0 {
		return nil, 0
	}
	return values, float64(parsed) / float64(present)
}

// Datetime layouts recognized by LooksDatetime.
var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"2006/01/02",
}

// LooksDatetime reports whether a cell parses as a date or timestamp.
func LooksDatetime(cell string) bool {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return false
	}
	for _, layout := range datetimeLayouts {
		if _, err := time.Parse(layout, cell); err == nil {
			return true
		}
	}
	return false
}

// ComputeFingerprint hashes the normalized dataset bytes together with the
// column list and row count.
func ComputeFingerprint(t *Table) Fingerprint {
	h := sha256.New()
	h.Write([]byte(strings.Join(t.Columns, "\x1f")))
	h.Write([]byte{0})
	for _, row := range t.Rows {
		h.Write([]byte(strings.Join(row, "\x1f")))
		h.Write([]byte{'\n'})
	}
	fmt.Fprintf(h, "rows=%d", len(t.Rows))

	return Fingerprint{
		Hash:     hex.EncodeToString(h.Sum(nil)),
		Columns:  append([]string(nil), t.Columns...),
		RowCount: len(t.Rows),
	}
}
