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
	"context"

	"github.com/veristat/veristat/internal/artifact"
	"github.com/veristat/veristat/internal/dataset"
	"github.com/veristat/veristat/internal/registry"
	"github.com/veristat/veristat/internal/step"
	"github.com/veristat/veristat/internal/store"
)

// Scanner profiles every column: inferred type, missingness, basic
// numeric stats. Its profile is the structural reference the validators
// check other artifacts against.
type Scanner struct{}

func (*Scanner) Name() string { return registry.StepScanner }

func (*Scanner) Run(ctx context.Context, runID string, st *store.Store) (*step.Result, error) {
	if ctx.Err() != nil {
		return nil, canceled(ctx)
	}

	tbl, err := loadTable(runID, st)
	if err != nil {
		return nil, err
	}

	columns := make([]any, 0, len(tbl.Columns))
	for _, name := range tbl.Columns {
		cells, _ := tbl.Column(name)
		present := 0
		datetimeHits := 0
		for _, c := range cells {
			if dataset.IsMissing(c) {
				continue
			}
			present++
			if dataset.LooksDatetime(c) {
				datetimeHits++
			}
		}

		completeness := 0.0
		if len(cells) > 0 {
			completeness = 100 * float64(present) / float64(len(cells))
		}

		col := store.Document{
			"name":         name,
			"completeness": completeness,
			"missing":      float64(len(cells) - present),
		}

		values, parseRate := tbl.NumericColumn(name)
		switch {
		case present > 0 && parseRate >= 0.9 && len(values) > 0:
			col["type"] = "numeric"
			col["min"] = quantile(sortedCopy(values), 0)
			col["max"] = quantile(sortedCopy(values), 1)
			col["mean"] = mean(values)
			col["stddev"] = stddev(values)
		case present > 0 && float64(datetimeHits)/float64(present) >= 0.9:
			col["type"] = "datetime"
		default:
			col["type"] = "categorical"
			col["cardinality"] = float64(distinctCount(cells))
		}

		columns = append(columns, col)
	}

	doc := store.Document{
		"columns":   columns,
		"row_count": float64(len(tbl.Rows)),
	}
	if err := st.Write(runID, artifact.Pending(artifact.Profile), doc); err != nil {
		return nil, err
	}
	return ok(), nil
}

func distinctCount(cells []string) int {
	seen := make(map[string]bool, len(cells))
	for _, c := range cells {
		if !dataset.IsMissing(c) {
			seen[c] = true
		}
	}
	return len(seen)
}
