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

package steps

import (
	"strconv"
	"strings"

	"github.com/veristat/veristat/internal/dataset"
	"github.com/veristat/veristat/internal/store"
)

// numericParseThreshold is the minimum fraction of present cells that
// must parse as numbers for a column to count as numeric.
const numericParseThreshold = 0.9

// numericColumns lists the numeric columns of a table in table order.
func numericColumns(tbl *dataset.Table) []string {
	var out []string
	for _, name := range tbl.Columns {
		values, parseRate := tbl.NumericColumn(name)
		if len(values) > 0 && parseRate >= numericParseThreshold {
			out = append(out, name)
		}
	}
	return out
}

// parseCell parses one cell as a float, reporting whether it is usable.
func parseCell(cell string) (float64, bool) {
	if dataset.IsMissing(cell) {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", ""), 64)
	return v, err == nil
}

// alignPair extracts two columns keeping only rows where both parse.
func alignPair(tbl *dataset.Table, a, b string) ([]float64, []float64) {
	ai, aok := tbl.ColumnIndex(a)
	bi, bok := tbl.ColumnIndex(b)
	if !aok || !bok {
		return nil, nil
	}
	var xs, ys []float64
	for _, row := range tbl.Rows {
		x, okx := parseCell(row[ai])
		y, oky := parseCell(row[bi])
		if okx && oky {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	return xs, ys
}

// alignMatrix extracts the named columns keeping only rows where every
// cell parses. Returns one slice per column.
func alignMatrix(tbl *dataset.Table, names []string) [][]float64 {
	idx := make([]int, len(names))
	for i, name := range names {
		j, ok := tbl.ColumnIndex(name)
		if !ok {
			return nil
		}
		idx[i] = j
	}
	out := make([][]float64, len(names))
	for _, row := range tbl.Rows {
		vals := make([]float64, len(names))
		usable := true
		for i, j := range idx {
			v, ok := parseCell(row[j])
			if !ok {
				usable = false
				break
			}
			vals[i] = v
		}
		if !usable {
			continue
		}
		for i := range names {
			out[i] = append(out[i], vals[i])
		}
	}
	return out
}

// effectiveTarget resolves the regression target: the declared target
// column when present and numeric, otherwise the last numeric column
// (conventionally the outcome in exported tables). Empty when the table
// has no numeric columns.
func effectiveTarget(runID string, st *store.Store, tbl *dataset.Table) string {
	numeric := numericColumns(tbl)
	if len(numeric) == 0 {
		return ""
	}
	declared := targetColumn(runID, st)
	for _, name := range numeric {
		if name == declared {
			return name
		}
	}
	return numeric[len(numeric)-1]
}
