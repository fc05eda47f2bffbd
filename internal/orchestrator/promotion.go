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

package orchestrator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/veristat/veristat/internal/artifact"
	veristatlog "github.com/veristat/veristat/internal/log"
	"github.com/veristat/veristat/internal/manifest"
	"github.com/veristat/veristat/internal/metrics"
	"github.com/veristat/veristat/internal/registry"
	"github.com/veristat/veristat/internal/store"
	"github.com/veristat/veristat/internal/validate"
	"github.com/veristat/veristat/pkg/errors"
)

// promoteOutputs validates and promotes the pending artifacts a completed
// step left behind. Rejections degrade per artifact: bundle members are
// withheld with a warning, a rejected final report is re-synthesized from
// promoted material, a rejected trust report is simply dropped. A missing
// pending is an internal skip: bundle members get a skip record under the
// promoted name, the final report is recovered or synthesized.
func (o *Orchestrator) promoteOutputs(rs *runState, s registry.Step, logger *slog.Logger) {
	profile, _ := o.store.Read(rs.runID, artifact.Profile)

	for _, name := range producedArtifacts(s.Name) {
		pending, err := o.store.Read(rs.runID, artifact.Pending(name))
		if err != nil {
			o.handleMissingPending(rs, s, name, logger)
			continue
		}

		if avail, ok := pending["available"].(bool); ok && !avail {
			o.recordAnalyticsNote(rs.runID, s.Name, name, "ARTIFACT_UNAVAILABLE",
				[]string{"artifact reports available:false"})
		}

		res := validate.Artifact(name, pending, profile)
		o.recordValidationWarnings(rs.runID, name, res)

		if res.Valid {
			if err := o.promote(rs.runID, name, pending, s.Name); err != nil {
				logger.Error("promotion write failed", "artifact", name, veristatlog.Error(err))
				rs.degraded = append(rs.degraded, name)
			}
			continue
		}

		rejection := &errors.ValidationFailedError{Artifact: name, Problems: res.Errors}
		metrics.RecordPromotionFailure(name)
		o.recordAnalyticsNote(rs.runID, s.Name, name, "PROMOTION_REJECTED", res.Errors)
		logger.Warn("artifact rejected by validation",
			"artifact", name, veristatlog.Error(rejection))

		switch name {
		case artifact.FinalReport:
			o.recoverFinalReport(rs, logger)
		case artifact.TrustReport:
			// Trust is optional; the manifest default applies.
			_ = o.manifest.AddWarning(rs.runID, manifest.Warning{
				Code:    "TRUST_REPORT_REJECTED",
				Message: rejection.Error(),
				Path:    name,
			})
		default:
			rs.degraded = append(rs.degraded, name)
			_ = o.manifest.AddWarning(rs.runID, manifest.Warning{
				Code:    "PROMOTION_REJECTED",
				Message: rejection.Error(),
				Path:    name,
			})
		}
	}
}

// handleMissingPending applies the per-artifact policy when a completed
// step left no draft: regression bundle members record an internal skip
// under the promoted name, the final report is recovered from a promoted
// copy or synthesized, everything else is simply absent.
func (o *Orchestrator) handleMissingPending(rs *runState, s registry.Step, name string, logger *slog.Logger) {
	switch {
	case s.Name == registry.StepRegression:
		if ok, _ := o.store.Exists(rs.runID, name); ok {
			return
		}
		_ = o.store.Write(rs.runID, name, store.Document{
			"status": "skipped",
			"reason": "step produced no pending data for this artifact",
		})
	case name == artifact.FinalReport:
		if ok, _ := o.store.Exists(rs.runID, name); ok {
			return // an earlier promoted report survives
		}
		logger.Warn("no report draft produced, synthesizing")
		o.recordAnalyticsNote(rs.runID, s.Name, name, "PROMOTION_REJECTED",
			[]string{"no pending report was produced"})
		o.recoverFinalReport(rs, logger)
	}
}

// recordAnalyticsNote appends a machine-readable promotion note.
func (o *Orchestrator) recordAnalyticsNote(runID, stepName, name, code string, problems []string) {
	_ = o.store.Append(runID, artifact.AnalyticsValidation, store.Document{
		"artifact":    name,
		"step":        stepName,
		"reason_code": code,
		"problems":    toAnyStrings(problems),
	})
}

// promote writes the promoted name, records it in the manifest and
// removes the pending draft.
func (o *Orchestrator) promote(runID, name string, doc store.Document, producedBy string) error {
	if err := o.store.Write(runID, name, doc); err != nil {
		return err
	}
	size := int64(0)
	if raw, err := json.Marshal(doc); err == nil {
		size = int64(len(raw))
	}
	_ = o.manifest.RecordArtifact(runID, name, manifest.ArtifactMeta{
		ProducedByStep: producedBy,
		Size:           size,
	})
	return o.store.Delete(runID, artifact.Pending(name))
}

// recordValidationWarnings forwards validator warnings to the manifest.
func (o *Orchestrator) recordValidationWarnings(runID, name string, res *validate.Result) {
	for _, w := range res.Warnings {
		path := w.Path
		if path == "" {
			path = name
		}
		_ = o.manifest.AddWarning(runID, manifest.Warning{
			Code:    w.Code,
			Message: w.Message,
			Path:    path,
		})
	}
}

// recoverFinalReport synthesizes a minimal report from whatever promoted
// artifacts exist when the expositor's draft fails validation. The
// synthesized report goes through the same validation gate.
func (o *Orchestrator) recoverFinalReport(rs *runState, logger *slog.Logger) {
	markdown := o.synthesizeReport(rs.runID)
	doc := store.Document{
		"markdown":    markdown,
		"synthesized": true,
	}

	res := validate.Artifact(artifact.FinalReport, doc, nil)
	if !res.Valid {
		logger.Error("synthesized report also failed validation",
			"errors", strings.Join(res.Errors, "; "))
		return
	}

	if err := o.promote(rs.runID, artifact.FinalReport, doc, registry.StepExpositor); err != nil {
		logger.Error("synthesized report promotion failed", veristatlog.Error(err))
		return
	}
	if path, err := o.store.Path(rs.runID, artifact.FinalReportFile); err == nil {
		_ = os.WriteFile(path, []byte(markdown), 0o644)
	}

	rs.degraded = append(rs.degraded, artifact.FinalReport)
	_ = o.manifest.AddWarning(rs.runID, manifest.Warning{
		Code:    "REPORT_SYNTHESIZED",
		Message: "expositor draft rejected; a minimal report was synthesized",
		Path:    artifact.FinalReport,
	})
}

// synthesizeReport builds the fallback report from promoted artifacts.
func (o *Orchestrator) synthesizeReport(runID string) string {
	var b strings.Builder
	b.WriteString("# Analysis Report\n\n")
	fmt.Fprintf(&b, "Run `%s`. This is a minimal report; the full narrative could not be produced.\n\n", runID)

	if card, err := o.store.Read(runID, artifact.IdentityCard); err == nil {
		rows, _ := card["row_count"].(float64)
		cols, _ := card["column_count"].(float64)
		fmt.Fprintf(&b, "Dataset: %.0f rows, %.0f columns.\n\n", rows, cols)
	}

	names, err := o.store.ListDocuments(runID)
	if err == nil {
		var promoted []string
		for _, name := range names {
			if artifact.Promotable(name) {
				promoted = append(promoted, name)
			}
		}
		if len(promoted) > 0 {
			fmt.Fprintf(&b, "Produced artifacts: %s.\n", strings.Join(promoted, ", "))
		}
	}
	return b.String()
}

// producedArtifacts lists the promotable artifacts a step owns, in
// bundle order for regression.
func producedArtifacts(stepName string) []string {
	switch stepName {
	case registry.StepScanner:
		return []string{artifact.Profile}
	case registry.StepTypeIdent:
		return []string{artifact.Classification}
	case registry.StepRegression:
		return artifact.RegressionBundle
	case registry.StepClusterer:
		return []string{artifact.EnhancedAnalytics}
	case registry.StepExpositor:
		return []string{artifact.FinalReport}
	case registry.StepTrust:
		return []string{artifact.TrustReport}
	default:
		return nil
	}
}
