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
	"fmt"

	"github.com/veristat/veristat/internal/artifact"
	"github.com/veristat/veristat/internal/registry"
	"github.com/veristat/veristat/internal/step"
	"github.com/veristat/veristat/internal/store"
)

// TypeIdent classifies the dataset from the scanner profile: column kind
// counts, datetime presence, and a drift verdict against the fingerprint
// recorded at ingestion.
type TypeIdent struct{}

func (*TypeIdent) Name() string { return registry.StepTypeIdent }

func (*TypeIdent) Run(ctx context.Context, runID string, st *store.Store) (*step.Result, error) {
	if ctx.Err() != nil {
		return nil, canceled(ctx)
	}

	profile, err := st.Read(runID, artifact.Pending(artifact.Profile))
	if err != nil {
		// The profile may already be promoted on a retry.
		profile, err = st.Read(runID, artifact.Profile)
		if err != nil {
			return nil, fmt.Errorf("typeident needs the scanner profile: %w", err)
		}
	}

	var numeric, categorical, datetime int
	columns, _ := profile["columns"].([]any)
	for _, c := range columns {
		col, _ := c.(map[string]any)
		switch col["type"] {
		case "numeric":
			numeric++
		case "datetime":
			datetime++
		default:
			categorical++
		}
	}

	drifted := false
	if card, err := st.Read(runID, artifact.IdentityCard); err == nil {
		if declared, ok := card["column_count"].(float64); ok {
			drifted = int(declared) != len(columns)
		}
	}

	rowCount, _ := profile["row_count"].(float64)
	doc := store.Document{
		"numeric_columns":     float64(numeric),
		"categorical_columns": float64(categorical),
		"datetime_columns":    float64(datetime),
		"has_datetime":        datetime > 0,
		"single_row":          rowCount <= 1,
		"drifted":             drifted,
		"dataset_kind":        classifyKind(numeric, categorical, datetime),
	}
	if err := st.Write(runID, artifact.Pending(artifact.Classification), doc); err != nil {
		return nil, err
	}
	return ok(), nil
}

func classifyKind(numeric, categorical, datetime int) string {
	switch {
	case datetime > 0 && numeric > 0:
		return "timeseries"
	case numeric > categorical:
		return "metric"
	case categorical > 0:
		return "categorical"
	default:
		return "mixed"
	}
}
