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
	"math"

	"github.com/veristat/veristat/internal/artifact"
	"github.com/veristat/veristat/internal/registry"
	"github.com/veristat/veristat/internal/step"
	"github.com/veristat/veristat/internal/store"
)

// Leakage and collinearity thresholds used during feature governance.
const (
	leakageCorrThreshold = 0.995
	vifHighThreshold     = 10.0
	vifCriticalThreshold = 20.0
)

// Regression fits the target model and writes the five-artifact bundle:
// insights, collinearity report, leakage report, feature governance and
// baseline metrics. Features flagged as leaking or perfectly collinear
// are excluded from the fit and the exclusion is recorded.
type Regression struct{}

func (*Regression) Name() string { return registry.StepRegression }

func (*Regression) Run(ctx context.Context, runID string, st *store.Store) (*step.Result, error) {
	if ctx.Err() != nil {
		return nil, canceled(ctx)
	}

	tbl, err := loadTable(runID, st)
	if err != nil {
		return nil, err
	}

	target := effectiveTarget(runID, st, tbl)
	if target == "" {
		return notApplicable("NO_NUMERIC_TARGET",
			"regression needs a numeric target column"), nil
	}

	var candidates []string
	for _, name := range numericColumns(tbl) {
		if name != target {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return notApplicable("NO_FEATURES",
			"regression needs at least one numeric feature besides the target"), nil
	}

	all := append(append([]string(nil), candidates...), target)
	matrix := alignMatrix(tbl, all)
	if matrix == nil || len(matrix[len(matrix)-1]) < len(candidates)+2 {
		return notApplicable("TOO_FEW_COMPLETE_ROWS",
			"regression needs more fully numeric rows than features"), nil
	}
	features := matrix[:len(candidates)]
	y := matrix[len(candidates)]

	// Leakage scan against the target.
	flagged := []any{}
	leaking := map[string]bool{}
	for i, name := range candidates {
		r := pearson(features[i], y)
		if math.Abs(r) >= leakageCorrThreshold {
			flagged = append(flagged, store.Document{"feature": name, "r": r})
			leaking[name] = true
		}
	}

	// Collinearity scan over non-leaking features.
	var kept []string
	var keptValues [][]float64
	for i, name := range candidates {
		if !leaking[name] {
			kept = append(kept, name)
			keptValues = append(keptValues, features[i])
		}
	}
	vifEntries := []any{}
	perfect := map[string]bool{}
	for i, name := range kept {
		v := vif(keptValues, i)
		entry := store.Document{"feature": name}
		if math.IsInf(v, 1) {
			entry["vif"] = "inf"
			perfect[name] = true
		} else {
			entry["vif"] = v
		}
		vifEntries = append(vifEntries, entry)
	}

	// Fit on the surviving features. Perfectly collinear features are
	// dropped greedily, later columns first.
	var fitNames []string
	var fitValues [][]float64
	for i, name := range kept {
		if !perfect[name] || len(fitValues) == 0 {
			fitNames = append(fitNames, name)
			fitValues = append(fitValues, keptValues[i])
		}
	}

	governance := store.Document{
		"candidate_features": toAny(candidates),
		"used_features":      toAny(fitNames),
		"excluded":           exclusions(candidates, leaking, perfect, fitNames),
	}

	if len(fitNames) == 0 {
		// Everything leaked or collapsed; publish the bundle without a fit.
		writes := map[string]store.Document{
			artifact.RegressionInsights: {"available": false, "reason": "no usable features after governance"},
			artifact.CollinearityReport: {"vif": vifEntries},
			artifact.LeakageReport:      {"flagged_target_pairs": flagged, "target": target},
			artifact.FeatureGovernance:  governance,
			artifact.BaselineMetrics:    {"available": false, "reason": "no model fitted"},
		}
		if err := writePendingBundle(st, runID, writes); err != nil {
			return nil, err
		}
		return ok(), nil
	}

	intercept, coefs, r2, fitOK := olsFit(fitValues, y)
	if !fitOK {
		return nil, fmt.Errorf("least squares fit failed on %d features", len(fitNames))
	}

	preds := make([]float64, len(y))
	for r := range y {
		p := intercept
		for j := range fitValues {
			p += coefs[j] * fitValues[j][r]
		}
		preds[r] = p
	}

	ses := standardErrors(fitValues, y, preds)
	coefficients := make([]any, len(fitNames))
	importanceRaw := make([]float64, len(fitNames))
	var importanceSum float64
	for j, name := range fitNames {
		ciLow, ciHigh := coefs[j], coefs[j]
		if ses != nil {
			ciLow = coefs[j] - 1.96*ses[j]
			ciHigh = coefs[j] + 1.96*ses[j]
		}
		coefficients[j] = store.Document{
			"feature":  name,
			"estimate": coefs[j],
			"ci_low":   ciLow,
			"ci_high":  ciHigh,
		}
		importanceRaw[j] = math.Abs(coefs[j]) * stddev(fitValues[j])
		importanceSum += importanceRaw[j]
	}

	importance := make([]any, len(fitNames))
	for j, name := range fitNames {
		share := 0.0
		if importanceSum > 0 {
			share = 100 * importanceRaw[j] / importanceSum
		}
		importance[j] = store.Document{"feature": name, "importance": share}
	}

	confidence := r2
	insights := store.Document{
		"available":          true,
		"target":             target,
		"model_fit":          store.Document{"r2": r2, "intercept": intercept},
		"coefficients":       coefficients,
		"importance":         importance,
		"confidence":         confidence,
		"confidence_meaning": "share of target variance the linear fit explains on the training rows",
	}

	baselinePreds := make([]float64, len(y))
	my := mean(y)
	for i := range baselinePreds {
		baselinePreds[i] = my
	}
	baseline := store.Document{
		"available": true,
		"metrics": store.Document{
			"r2":                 r2,
			"rmse":               rmse(y, preds),
			"mae":                mae(y, preds),
			"explained_variance": r2,
			"baseline_rmse":      rmse(y, baselinePreds),
		},
	}

	writes := map[string]store.Document{
		artifact.RegressionInsights: insights,
		artifact.CollinearityReport: {"vif": vifEntries},
		artifact.LeakageReport:      {"flagged_target_pairs": flagged, "target": target},
		artifact.FeatureGovernance:  governance,
		artifact.BaselineMetrics:    baseline,
	}
	if err := writePendingBundle(st, runID, writes); err != nil {
		return nil, err
	}

	return &step.Result{
		Success:    true,
		StdoutTail: step.CapTail(fmt.Sprintf("fit %d features on %d rows, r2=%.3f", len(fitNames), len(y), r2)),
	}, nil
}

func writePendingBundle(st *store.Store, runID string, writes map[string]store.Document) error {
	for _, name := range artifact.RegressionBundle {
		doc, ok := writes[name]
		if !ok {
			continue
		}
		if err := st.Write(runID, artifact.Pending(name), doc); err != nil {
			return err
		}
	}
	return nil
}

func exclusions(candidates []string, leaking, perfect map[string]bool, used []string) []any {
	usedSet := make(map[string]bool, len(used))
	for _, u := range used {
		usedSet[u] = true
	}
	out := []any{}
	for _, name := range candidates {
		if usedSet[name] {
			continue
		}
		reason := "PERFECT_MULTICOLLINEARITY"
		if leaking[name] {
			reason = "DATA_LEAKAGE_POSSIBLE"
		}
		out = append(out, store.Document{"feature": name, "reason": reason})
	}
	return out
}

// standardErrors estimates per-coefficient standard errors from the
// residual variance and the inverse normal matrix. Returns nil when the
// system has no spare degrees of freedom.
func standardErrors(features [][]float64, y, preds []float64) []float64 {
	n, p := len(y), len(features)
	dof := n - p - 1
	if dof <= 0 {
		return nil
	}

	var ssRes float64
	for i := range y {
		d := y[i] - preds[i]
		ssRes += d * d
	}
	sigma2 := ssRes / float64(dof)

	dim := p + 1
	a := make([][]float64, dim)
	for i := range a {
		a[i] = make([]float64, dim)
	}
	for r := 0; r < n; r++ {
		row := make([]float64, dim)
		row[0] = 1
		for j := 0; j < p; j++ {
			row[j+1] = features[j][r]
		}
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				a[i][j] += row[i] * row[j]
			}
		}
	}

	ses := make([]float64, p)
	for j := 0; j < p; j++ {
		e := make([]float64, dim)
		e[j+1] = 1
		col, ok := solve(a, e)
		if !ok {
			return nil
		}
		ses[j] = math.Sqrt(sigma2 * math.Abs(col[j+1]))
	}
	return ses
}
