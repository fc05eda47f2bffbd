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

// Package validate holds the typed validators run against pending
// artifacts before promotion. Structural requirements are expressed as
// JSON Schemas; numeric ranges and cross-field rules are checked in code.
// Validators never mutate documents; they only classify them.
package validate

import (
	"fmt"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/veristat/veristat/internal/artifact"
	"github.com/veristat/veristat/internal/store"
)

// Warning codes emitted by validators.
const (
	CodeDataLeakage      = "DATA_LEAKAGE_POSSIBLE"
	CodeHighVIF          = "HIGH_MULTICOLLINEARITY"
	CodeCriticalVIF      = "CRITICAL_MULTICOLLINEARITY"
	CodePerfectVIF       = "PERFECT_MULTICOLLINEARITY"
	CodeUnavailable      = "ARTIFACT_UNAVAILABLE"
	CodeUnknownReference = "UNKNOWN_COLUMN_REFERENCE"
)

// Leakage and collinearity thresholds.
const (
	leakageCorrelation = 0.995
	highVIF            = 10.0
	criticalVIF        = 20.0
)

// Warning is a non-blocking validator finding; warnings flow into the
// manifest.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// Result classifies one pending artifact.
type Result struct {
	Valid    bool      `json:"valid"`
	Errors   []string  `json:"errors,omitempty"`
	Warnings []Warning `json:"warnings,omitempty"`
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Valid = false
}

func (r *Result) warn(code, message, path string) {
	r.Warnings = append(r.Warnings, Warning{Code: code, Message: message, Path: path})
}

// Structural schemas per promotable artifact. Unknown fields are allowed
// everywhere: forward compatibility preserves them, validation ignores
// them.
var schemaSources = map[string]string{
	artifact.Profile: `{
		"type": "object",
		"required": ["columns", "row_count"],
		"properties": {
			"columns": {"type": "array", "items": {
				"type": "object",
				"required": ["name"],
				"properties": {"name": {"type": "string"}}
			}},
			"row_count": {"type": "number"}
		}
	}`,
	artifact.Classification: `{
		"type": "object",
		"required": ["dataset_kind", "has_datetime"],
		"properties": {
			"dataset_kind": {"type": "string"},
			"has_datetime": {"type": "boolean"}
		}
	}`,
	artifact.RegressionInsights: `{
		"type": "object",
		"properties": {
			"model_fit": {"type": "object"},
			"coefficients": {"type": "array"},
			"importance": {"type": "array"}
		}
	}`,
	artifact.CollinearityReport: `{
		"type": "object",
		"properties": {"vif": {"type": "array"}}
	}`,
	artifact.LeakageReport: `{
		"type": "object",
		"properties": {"flagged_target_pairs": {"type": "array"}}
	}`,
	artifact.FeatureGovernance: `{
		"type": "object",
		"properties": {
			"allowed": {"type": "array"},
			"suppressed": {"type": "array"}
		}
	}`,
	artifact.BaselineMetrics: `{
		"type": "object",
		"required": ["metrics"],
		"properties": {"metrics": {"type": "object"}}
	}`,
	artifact.EnhancedAnalytics: `{
		"type": "object",
		"properties": {"clusters": {"type": "array"}}
	}`,
	artifact.FinalReport: `{
		"type": "object",
		"required": ["markdown"],
		"properties": {
			"markdown": {"type": "string", "minLength": 1},
			"sections": {"type": "array"}
		}
	}`,
	artifact.TrustReport: `{
		"type": "object",
		"required": ["level"],
		"properties": {
			"level": {"type": "string", "enum": ["high", "medium", "low"]},
			"score": {"type": "number"}
		}
	}`,
}

var schemas = compileSchemas()

func compileSchemas() map[string]*jsonschema.Schema {
	out := make(map[string]*jsonschema.Schema, len(schemaSources))
	for name, src := range schemaSources {
		out[name] = jsonschema.MustCompileString(name+".json", src)
	}
	return out
}

// Artifact validates a pending artifact document. The profile of the run
// is passed when available so column references can be checked; it may be
// nil.
func Artifact(name string, doc store.Document, profile store.Document) *Result {
	res := &Result{Valid: true}
	if doc == nil {
		res.errorf("document is empty")
		return res
	}

	// An artifact that declares itself unavailable is noted but does not
	// fail structural validation; the promotion layer decides tolerance.
	if available, ok := doc["available"].(bool); ok && !available {
		res.warn(CodeUnavailable, fmt.Sprintf("artifact %s reported unavailable", name), name)
		return res
	}

	if schema, ok := schemas[name]; ok {
		if err := schema.Validate(map[string]any(doc)); err != nil {
			res.errorf("schema violation: %v", err)
			return res
		}
	}

	switch name {
	case artifact.Profile:
		validateProfile(doc, res)
	case artifact.RegressionInsights:
		validateRegressionInsights(doc, profile, res)
	case artifact.CollinearityReport:
		validateCollinearity(doc, res)
	case artifact.LeakageReport:
		validateLeakage(doc, res)
	case artifact.BaselineMetrics:
		validateBaselineMetrics(doc, res)
	case artifact.EnhancedAnalytics:
		validateEnhancedAnalytics(doc, res)
	case artifact.TrustReport:
		validateTrust(doc, res)
	}
	return res
}

func validateProfile(doc store.Document, res *Result) {
	if rc, ok := asFloat(doc["row_count"]); ok && rc < 0 {
		res.errorf("row_count must be non-negative, got %v", rc)
	}
	for i, raw := range asSlice(doc["columns"]) {
		col, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		path := fmt.Sprintf("columns[%d]", i)
		if v, ok := asFloat(col["completeness"]); ok {
			// Completeness is a ratio or a percentage depending on writer.
			if v < 0 || v > 100 {
				res.errorf("%s.completeness out of range: %v", path, v)
			}
		}
	}
}

func validateRegressionInsights(doc, profile store.Document, res *Result) {
	known := profileColumns(profile)

	if fit, ok := doc["model_fit"].(map[string]any); ok {
		if r2, ok := asFloat(fit["r2"]); ok && (r2 < 0 || r2 > 1) {
			res.errorf("model_fit.r2 out of [0,1]: %v", r2)
		}
	}

	for i, raw := range asSlice(doc["coefficients"]) {
		coef, ok := raw.(map[string]any)
		if !ok {
			res.errorf("coefficients[%d] is not an object", i)
			continue
		}
		path := fmt.Sprintf("coefficients[%d]", i)
		feature, _ := coef["feature"].(string)
		if feature == "" {
			res.errorf("%s.feature missing", path)
		} else if len(known) > 0 && !known[feature] {
			res.warn(CodeUnknownReference, fmt.Sprintf("coefficient references unknown column %q", feature), feature)
		}
		low, hasLow := asFloat(coef["ci_low"])
		high, hasHigh := asFloat(coef["ci_high"])
		if hasLow && hasHigh && low > high {
			res.errorf("%s: ci_low %v > ci_high %v", path, low, high)
		}
	}

	for i, raw := range asSlice(doc["importance"]) {
		entry, ok := raw.(map[string]any)
		if !ok {
			res.errorf("importance[%d] is not an object", i)
			continue
		}
		path := fmt.Sprintf("importance[%d]", i)
		if v, ok := asFloat(entry["importance"]); !ok {
			res.errorf("%s.importance missing or non-numeric", path)
		} else if v < 0 || v > 100 {
			res.errorf("%s.importance out of [0,100]: %v", path, v)
		}
	}

	if conf, ok := asFloat(doc["confidence"]); ok {
		if conf < 0 || conf > 1 {
			res.errorf("confidence out of [0,1]: %v", conf)
		}
		if meaning, _ := doc["confidence_meaning"].(string); meaning == "" {
			res.errorf("confidence given without confidence_meaning")
		}
	}
}

func validateCollinearity(doc store.Document, res *Result) {
	for i, raw := range asSlice(doc["vif"]) {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		feature, _ := entry["feature"].(string)
		path := fmt.Sprintf("vif[%d]", i)

		v, numeric := asFloat(entry["vif"])
		if !numeric {
			// Infinity survives JSON as a string marker.
			if s, ok := entry["vif"].(string); ok && strings.EqualFold(s, "inf") {
				res.warn(CodePerfectVIF, fmt.Sprintf("perfect multicollinearity on %s", feature), feature)
				continue
			}
			res.errorf("%s.vif missing or non-numeric", path)
			continue
		}
		if v < 0 {
			res.errorf("%s.vif negative: %v", path, v)
			continue
		}
		if math.IsInf(v, 1) {
			res.warn(CodePerfectVIF, fmt.Sprintf("perfect multicollinearity on %s", feature), feature)
			continue
		}
		switch {
		case v >= criticalVIF:
			res.warn(CodeCriticalVIF, fmt.Sprintf("VIF %.1f on %s", v, feature), feature)
		case v >= highVIF:
			res.warn(CodeHighVIF, fmt.Sprintf("VIF %.1f on %s", v, feature), feature)
		}
	}
}

func validateLeakage(doc store.Document, res *Result) {
	for i, raw := range asSlice(doc["flagged_target_pairs"]) {
		pair, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		path := fmt.Sprintf("flagged_target_pairs[%d]", i)
		r, ok := asFloat(pair["r"])
		if !ok {
			res.errorf("%s.r missing or non-numeric", path)
			continue
		}
		if r < -1 || r > 1 {
			res.errorf("%s.r out of [-1,1]: %v", path, r)
			continue
		}
		if math.Abs(r) >= leakageCorrelation {
			feature, _ := pair["feature"].(string)
			res.warn(CodeDataLeakage, fmt.Sprintf("|r|=%.4f between %s and target", math.Abs(r), feature), feature)
		}
	}
}

func validateBaselineMetrics(doc store.Document, res *Result) {
	metrics, _ := doc["metrics"].(map[string]any)
	for key, raw := range metrics {
		v, ok := asFloat(raw)
		if !ok {
			continue
		}
		switch key {
		case "r2", "explained_variance":
			if v < 0 || v > 1 {
				res.errorf("metrics.%s out of [0,1]: %v", key, v)
			}
		case "rmse", "mae":
			if v < 0 {
				res.errorf("metrics.%s negative: %v", key, v)
			}
		}
	}
}

func validateEnhancedAnalytics(doc store.Document, res *Result) {
	for i, raw := range asSlice(doc["clusters"]) {
		cluster, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		path := fmt.Sprintf("clusters[%d]", i)
		if size, ok := asFloat(cluster["size"]); ok && size < 0 {
			res.errorf("%s.size negative: %v", path, size)
		}
		if share, ok := asFloat(cluster["share"]); ok && (share < 0 || share > 1) {
			res.errorf("%s.share out of [0,1]: %v", path, share)
		}
	}
}

func validateTrust(doc store.Document, res *Result) {
	if score, ok := asFloat(doc["score"]); ok && (score < 0 || score > 1) {
		res.errorf("score out of [0,1]: %v", score)
	}
}

// profileColumns extracts the known column names from a profile document.
func profileColumns(profile store.Document) map[string]bool {
	if profile == nil {
		return nil
	}
	known := map[string]bool{}
	for _, raw := range asSlice(profile["columns"]) {
		if col, ok := raw.(map[string]any); ok {
			if name, ok := col["name"].(string); ok {
				known[name] = true
			}
		}
	}
	return known
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
