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

package validate

import (
	"testing"

	"github.com/veristat/veristat/internal/artifact"
	"github.com/veristat/veristat/internal/store"
)

func hasWarning(res *Result, code string) bool {
	for _, w := range res.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

func TestProfileStructural(t *testing.T) {
	good := store.Document{
		"columns":   []any{map[string]any{"name": "revenue", "completeness": 98.5}},
		"row_count": float64(500),
	}
	if res := Artifact(artifact.Profile, good, nil); !res.Valid {
		t.Errorf("expected valid, got errors: %v", res.Errors)
	}

	missing := store.Document{"columns": []any{}}
	if res := Artifact(artifact.Profile, missing, nil); res.Valid {
		t.Error("expected invalid for missing row_count")
	}

	badCompleteness := store.Document{
		"columns":   []any{map[string]any{"name": "x", "completeness": float64(140)}},
		"row_count": float64(10),
	}
	if res := Artifact(artifact.Profile, badCompleteness, nil); res.Valid {
		t.Error("expected invalid for completeness > 100")
	}
}

func TestRegressionImportanceRange(t *testing.T) {
	doc := store.Document{
		"model_fit":  map[string]any{"r2": 0.82},
		"importance": []any{map[string]any{"feature": "x1", "importance": float64(120)}},
	}
	res := Artifact(artifact.RegressionInsights, doc, nil)
	if res.Valid {
		t.Fatal("importance=120 must not validate")
	}
}

func TestRegressionR2Range(t *testing.T) {
	doc := store.Document{"model_fit": map[string]any{"r2": 1.3}}
	if res := Artifact(artifact.RegressionInsights, doc, nil); res.Valid {
		t.Error("r2=1.3 must not validate")
	}

	doc = store.Document{"model_fit": map[string]any{"r2": 0.0}}
	if res := Artifact(artifact.RegressionInsights, doc, nil); !res.Valid {
		t.Errorf("r2=0 should validate, got %v", res.Errors)
	}
}

func TestRegressionConfidenceIntervals(t *testing.T) {
	doc := store.Document{
		"coefficients": []any{
			map[string]any{"feature": "x1", "estimate": 1.2, "ci_low": 0.8, "ci_high": 1.6},
		},
	}
	if res := Artifact(artifact.RegressionInsights, doc, nil); !res.Valid {
		t.Errorf("expected valid, got %v", res.Errors)
	}

	doc = store.Document{
		"coefficients": []any{
			map[string]any{"feature": "x1", "estimate": 1.2, "ci_low": 1.6, "ci_high": 0.8},
		},
	}
	if res := Artifact(artifact.RegressionInsights, doc, nil); res.Valid {
		t.Error("ci_low > ci_high must not validate")
	}
}

func TestRegressionConfidenceNeedsMeaning(t *testing.T) {
	doc := store.Document{"confidence": 0.9}
	if res := Artifact(artifact.RegressionInsights, doc, nil); res.Valid {
		t.Error("confidence without meaning must not validate")
	}

	doc = store.Document{"confidence": 0.9, "confidence_meaning": "strong fit on held-out rows"}
	if res := Artifact(artifact.RegressionInsights, doc, nil); !res.Valid {
		t.Errorf("expected valid, got %v", res.Errors)
	}
}

func TestRegressionUnknownColumnWarns(t *testing.T) {
	profile := store.Document{
		"columns": []any{map[string]any{"name": "revenue"}, map[string]any{"name": "x1"}},
	}
	doc := store.Document{
		"coefficients": []any{map[string]any{"feature": "ghost", "estimate": 1.0}},
	}
	res := Artifact(artifact.RegressionInsights, doc, profile)
	if !res.Valid {
		t.Errorf("unknown column is a warning, not an error: %v", res.Errors)
	}
	if !hasWarning(res, CodeUnknownReference) {
		t.Error("expected UNKNOWN_COLUMN_REFERENCE warning")
	}
}

func TestCollinearityThresholds(t *testing.T) {
	doc := store.Document{
		"vif": []any{
			map[string]any{"feature": "ok", "vif": 2.0},
			map[string]any{"feature": "high", "vif": 12.0},
			map[string]any{"feature": "critical", "vif": 25.0},
			map[string]any{"feature": "perfect", "vif": "inf"},
		},
	}
	res := Artifact(artifact.CollinearityReport, doc, nil)
	if !res.Valid {
		t.Fatalf("expected valid, got %v", res.Errors)
	}
	if !hasWarning(res, CodeHighVIF) {
		t.Error("expected HIGH_MULTICOLLINEARITY")
	}
	if !hasWarning(res, CodeCriticalVIF) {
		t.Error("expected CRITICAL_MULTICOLLINEARITY")
	}
	if !hasWarning(res, CodePerfectVIF) {
		t.Error("expected PERFECT_MULTICOLLINEARITY for inf")
	}

	negative := store.Document{"vif": []any{map[string]any{"feature": "x", "vif": -1.0}}}
	if res := Artifact(artifact.CollinearityReport, negative, nil); res.Valid {
		t.Error("negative VIF must not validate")
	}
}

func TestLeakageDetection(t *testing.T) {
	doc := store.Document{
		"flagged_target_pairs": []any{
			map[string]any{"feature": "x2", "r": 0.999},
			map[string]any{"feature": "x3", "r": -1.0},
			map[string]any{"feature": "x4", "r": 0.5},
		},
	}
	res := Artifact(artifact.LeakageReport, doc, nil)
	if !res.Valid {
		t.Fatalf("expected valid, got %v", res.Errors)
	}
	leaks := 0
	for _, w := range res.Warnings {
		if w.Code == CodeDataLeakage {
			leaks++
		}
	}
	if leaks != 2 {
		t.Errorf("expected 2 leakage warnings, got %d", leaks)
	}

	outOfRange := store.Document{
		"flagged_target_pairs": []any{map[string]any{"feature": "x", "r": 1.5}},
	}
	if res := Artifact(artifact.LeakageReport, outOfRange, nil); res.Valid {
		t.Error("r=1.5 must not validate")
	}
}

func TestUnavailableArtifactWarnsButValidates(t *testing.T) {
	doc := store.Document{"available": false}
	res := Artifact(artifact.EnhancedAnalytics, doc, nil)
	if !res.Valid {
		t.Errorf("unavailable artifact should classify as valid, got %v", res.Errors)
	}
	if !hasWarning(res, CodeUnavailable) {
		t.Error("expected ARTIFACT_UNAVAILABLE warning")
	}
}

func TestFinalReportRequiresMarkdown(t *testing.T) {
	if res := Artifact(artifact.FinalReport, store.Document{"markdown": ""}, nil); res.Valid {
		t.Error("empty markdown must not validate")
	}
	if res := Artifact(artifact.FinalReport, store.Document{"markdown": "# Report"}, nil); !res.Valid {
		t.Errorf("expected valid, got %v", res.Errors)
	}
}

func TestTrustReport(t *testing.T) {
	if res := Artifact(artifact.TrustReport, store.Document{"level": "absurd"}, nil); res.Valid {
		t.Error("unknown trust level must not validate")
	}
	if res := Artifact(artifact.TrustReport, store.Document{"level": "medium", "score": 1.2}, nil); res.Valid {
		t.Error("score > 1 must not validate")
	}
	if res := Artifact(artifact.TrustReport, store.Document{"level": "high", "score": 0.9}, nil); !res.Valid {
		t.Errorf("expected valid, got %v", res.Errors)
	}
}

func TestBaselineMetrics(t *testing.T) {
	doc := store.Document{"metrics": map[string]any{"r2": 0.7, "rmse": 12.5}}
	if res := Artifact(artifact.BaselineMetrics, doc, nil); !res.Valid {
		t.Errorf("expected valid, got %v", res.Errors)
	}

	doc = store.Document{"metrics": map[string]any{"rmse": -3.0}}
	if res := Artifact(artifact.BaselineMetrics, doc, nil); res.Valid {
		t.Error("negative rmse must not validate")
	}
}
