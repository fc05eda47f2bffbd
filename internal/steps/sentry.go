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
	"github.com/veristat/veristat/internal/registry"
	"github.com/veristat/veristat/internal/step"
	"github.com/veristat/veristat/internal/store"
)

// iqrFenceFactor is the Tukey fence multiplier for outlier detection.
const iqrFenceFactor = 1.5

// Sentry scans numeric columns for outliers beyond the Tukey fences. It
// runs on every dataset regardless of gating verdicts.
type Sentry struct{}

func (*Sentry) Name() string { return registry.StepSentry }

func (*Sentry) Run(ctx context.Context, runID string, st *store.Store) (*step.Result, error) {
	if ctx.Err() != nil {
		return nil, canceled(ctx)
	}

	tbl, err := loadTable(runID, st)
	if err != nil {
		return nil, err
	}

	findings := []any{}
	total := 0
	for _, name := range numericColumns(tbl) {
		values, _ := tbl.NumericColumn(name)
		if len(values) < 4 {
			continue
		}
		sorted := sortedCopy(values)
		q1 := quantile(sorted, 0.25)
		q3 := quantile(sorted, 0.75)
		iqr := q3 - q1
		if iqr == 0 {
			continue
		}
		lo := q1 - iqrFenceFactor*iqr
		hi := q3 + iqrFenceFactor*iqr

		count := 0
		var worst float64
		for _, v := range values {
			if v < lo || v > hi {
				count++
				if dist := fenceDistance(v, lo, hi); dist > fenceDistance(worst, lo, hi) || count == 1 {
					worst = v
				}
			}
		}
		if count == 0 {
			continue
		}
		total += count
		findings = append(findings, store.Document{
			"column":        name,
			"outlier_count": float64(count),
			"fence_low":     lo,
			"fence_high":    hi,
			"worst_value":   worst,
		})
	}

	doc := store.Document{
		"findings":       findings,
		"total_outliers": float64(total),
	}
	if err := st.Write(runID, artifact.AnomalyReport, doc); err != nil {
		return nil, err
	}
	return ok(), nil
}

func fenceDistance(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo - v
	case v > hi:
		return v - hi
	default:
		return 0
	}
}
