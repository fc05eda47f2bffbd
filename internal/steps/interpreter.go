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
	"math"

	"github.com/veristat/veristat/internal/artifact"
	"github.com/veristat/veristat/internal/registry"
	"github.com/veristat/veristat/internal/step"
	"github.com/veristat/veristat/internal/store"
)

// Interpreter maps the correlation structure of the numeric columns and
// flags near-perfect target correlations as leakage candidates for the
// regression step.
type Interpreter struct{}

func (*Interpreter) Name() string { return registry.StepInterpreter }

func (*Interpreter) Run(ctx context.Context, runID string, st *store.Store) (*step.Result, error) {
	if ctx.Err() != nil {
		return nil, canceled(ctx)
	}

	tbl, err := loadTable(runID, st)
	if err != nil {
		return nil, err
	}

	numeric := numericColumns(tbl)
	if len(numeric) < 2 {
		return notApplicable("TOO_FEW_NUMERIC_COLUMNS",
			"correlation analysis needs at least two numeric columns"), nil
	}

	pairs := []any{}
	leakage := []any{}
	target := effectiveTarget(runID, st, tbl)
	for i := 0; i < len(numeric); i++ {
		for j := i + 1; j < len(numeric); j++ {
			a, b := numeric[i], numeric[j]
			x, y := alignPair(tbl, a, b)
			r := pearson(x, y)
			if math.Abs(r) < 0.3 {
				continue
			}
			pairs = append(pairs, store.Document{"a": a, "b": b, "r": r})
			if math.Abs(r) >= 0.995 && (a == target || b == target) {
				feature := a
				if feature == target {
					feature = b
				}
				leakage = append(leakage, store.Document{"feature": feature, "r": r})
			}
		}
	}

	doc := store.Document{
		"correlated_pairs":   pairs,
		"leakage_candidates": leakage,
		"target":             target,
	}
	if err := st.Write(runID, artifact.Interpretation, doc); err != nil {
		return nil, err
	}
	return ok(), nil
}
