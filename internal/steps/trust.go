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

// Trust scores how much the produced analysis can be relied on, from
// data quality, model fit and leakage findings. The score maps onto the
// high/medium/low level consumed by render policy.
type Trust struct{}

func (*Trust) Name() string { return registry.StepTrust }

func (*Trust) Run(ctx context.Context, runID string, st *store.Store) (*step.Result, error) {
	if ctx.Err() != nil {
		return nil, canceled(ctx)
	}

	score := 0.5
	factors := []any{}
	factor := func(name string, delta float64) {
		score += delta
		factors = append(factors, store.Document{"name": name, "delta": delta})
	}

	if report, err := st.Read(runID, artifact.ValidationReport); err == nil {
		quality := num(report["data_quality_score"])
		switch {
		case quality >= 80:
			factor("high_data_quality", 0.2)
		case quality < 40:
			factor("low_data_quality", -0.3)
		}
		if proceed, ok := report["can_proceed"].(bool); ok && !proceed {
			factor("analysis_blocked", -0.2)
		}
	}

	if insights, err := st.Read(runID, artifact.RegressionInsights); err == nil {
		if available, ok := insights["available"].(bool); !ok || available {
			if fit, ok := insights["model_fit"].(map[string]any); ok {
				if r2 := num(fit["r2"]); r2 >= 0.5 {
					factor("solid_model_fit", 0.15)
				}
			}
		}
	}

	if leakage, err := st.Read(runID, artifact.LeakageReport); err == nil {
		if flagged, ok := leakage["flagged_target_pairs"].([]any); ok && len(flagged) > 0 {
			factor("possible_data_leakage", -0.25)
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	level := "low"
	switch {
	case score >= 0.7:
		level = "high"
	case score >= 0.4:
		level = "medium"
	}

	doc := store.Document{
		"score":   score,
		"level":   level,
		"factors": factors,
	}
	if err := st.Write(runID, artifact.Pending(artifact.TrustReport), doc); err != nil {
		return nil, err
	}
	return ok(), nil
}
