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

// Timeseries summarizes trends along the first datetime column. The
// orchestrator normally gates this step off for datasets without one;
// the self-assessment covers direct invocations.
type Timeseries struct{}

func (*Timeseries) Name() string { return registry.StepTimeseries }

func (*Timeseries) Run(ctx context.Context, runID string, st *store.Store) (*step.Result, error) {
	if ctx.Err() != nil {
		return nil, canceled(ctx)
	}

	tbl, err := loadTable(runID, st)
	if err != nil {
		return nil, err
	}

	timeCol := datetimeColumn(tbl)
	if timeCol == "" {
		return notApplicable("NO_DATETIME_COLUMN",
			"dataset has no datetime column"), nil
	}

	trends := []any{}
	for _, name := range numericColumns(tbl) {
		values, _ := tbl.NumericColumn(name)
		if len(values) < 2 {
			continue
		}
		// Direction from first/last thirds; rows are assumed to be in
		// time order, which holds for exported series.
		third := len(values) / 3
		if third == 0 {
			third = 1
		}
		early := mean(values[:third])
		late := mean(values[len(values)-third:])
		direction := "flat"
		if stddev(values) > 0 {
			switch {
			case late > early+stddev(values)/4:
				direction = "rising"
			case late < early-stddev(values)/4:
				direction = "falling"
			}
		}
		trends = append(trends, store.Document{
			"column":    name,
			"direction": direction,
			"start":     early,
			"end":       late,
		})
	}

	doc := store.Document{
		"datetime_column": timeCol,
		"trends":          trends,
	}
	if err := st.Write(runID, artifact.TimeseriesSummary, doc); err != nil {
		return nil, err
	}
	return ok(), nil
}

// datetimeColumn returns the first column where most present cells parse
// as dates.
func datetimeColumn(tbl *dataset.Table) string {
	for _, name := range tbl.Columns {
		cells, _ := tbl.Column(name)
		present, hits := 0, 0
		for _, c := range cells {
			if dataset.IsMissing(c) {
				continue
			}
			present++
			if dataset.LooksDatetime(c) {
				hits++
			}
		}
		if present > 0 && float64(hits)/float64(present) >= 0.9 {
			return name
		}
	}
	return ""
}
