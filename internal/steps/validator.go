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

// Quality thresholds for the validator's verdict.
const (
	minQualityToProceed = 40.0
	minRowsToProceed    = 2
)

// Validator scores dataset quality and decides whether downstream
// analysis can proceed. Its report is written directly (not promoted);
// eligibility gating consumes it.
type Validator struct{}

func (*Validator) Name() string { return registry.StepValidator }

func (*Validator) Run(ctx context.Context, runID string, st *store.Store) (*step.Result, error) {
	if ctx.Err() != nil {
		return nil, canceled(ctx)
	}

	tbl, err := loadTable(runID, st)
	if err != nil {
		return nil, err
	}

	// Quality score: mean column completeness, discounted when most
	// columns carry a single distinct value.
	var completenessSum float64
	degenerate := 0
	for _, name := range tbl.Columns {
		cells, _ := tbl.Column(name)
		present := 0
		for _, c := range cells {
			if c != "" {
				present++
			}
		}
		if len(cells) > 0 {
			completenessSum += 100 * float64(present) / float64(len(cells))
		}
		if distinctCount(cells) <= 1 {
			degenerate++
		}
	}
	score := 0.0
	if len(tbl.Columns) > 0 {
		score = completenessSum / float64(len(tbl.Columns))
		score *= 1 - float64(degenerate)/float64(len(tbl.Columns))
	}

	// With no declared target the regression step auto-selects one, so
	// only a declared-but-absent target blocks it.
	target := targetColumn(runID, st)
	targetFound := true
	if target != "" {
		_, targetFound = tbl.ColumnIndex(target)
	}

	issues := []any{}
	if len(tbl.Rows) < minRowsToProceed {
		issues = append(issues, store.Document{
			"code":    "TOO_FEW_ROWS",
			"message": "dataset has fewer than two rows",
		})
	}
	if score < minQualityToProceed {
		issues = append(issues, store.Document{
			"code":    "LOW_QUALITY",
			"message": "data quality score below analysis threshold",
		})
	}
	if !targetFound {
		issues = append(issues, store.Document{
			"code":    "TARGET_NOT_FOUND",
			"message": "declared target column is absent from the dataset",
		})
	}

	canProceed := len(tbl.Rows) >= minRowsToProceed && score >= minQualityToProceed

	doc := store.Document{
		"data_quality_score": score,
		"can_proceed":        canProceed,
		"row_count":          float64(len(tbl.Rows)),
		"target_found":       targetFound,
		"issues":             issues,
	}
	if err := st.Write(runID, artifact.ValidationReport, doc); err != nil {
		return nil, err
	}
	return ok(), nil
}
