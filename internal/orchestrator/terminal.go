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
	"context"
	"strings"

	"github.com/veristat/veristat/internal/artifact"
	veristatlog "github.com/veristat/veristat/internal/log"
	"github.com/veristat/veristat/internal/manifest"
	"github.com/veristat/veristat/internal/metrics"
	"github.com/veristat/veristat/internal/progress"
	"github.com/veristat/veristat/internal/registry"
	"github.com/veristat/veristat/internal/store"
	"github.com/veristat/veristat/pkg/errors"
)

// reconcileRegression derives the regression_status document from the
// step status and what was actually promoted: success only when the
// promoted insights artifact genuinely exists. The returned error is the
// fatal coherence violation (insights promoted while the status cannot be
// success), which fails the run.
func (o *Orchestrator) reconcileRegression(rs *runState) error {
	insightsPromoted := o.artifactPromoted(rs.runID, artifact.RegressionInsights)

	var promoted, missing []string
	for _, name := range artifact.RegressionBundle {
		if o.artifactPromoted(rs.runID, name) {
			promoted = append(promoted, name)
		} else {
			missing = append(missing, name)
		}
	}

	status := "not_started"
	reason := rs.reasons[registry.StepRegression]
	switch rs.statuses[registry.StepRegression] {
	case stepRunning:
		status = "running"
	case stepFailed:
		status = "failed"
	case stepCompleted:
		if insightsPromoted {
			status = "success"
		} else {
			// The driver reported success but the insights artifact did
			// not survive promotion: reconcile to failed and degrade.
			status = "failed"
			if reason == "" {
				reason = "STATUS_MISMATCH"
				for _, name := range rs.degraded {
					if name == artifact.RegressionInsights {
						reason = "PROMOTION_REJECTED"
					}
				}
			}
			rs.degraded = append(rs.degraded, registry.StepRegression)
			_ = o.manifest.AddWarning(rs.runID, manifest.Warning{
				Code:    "STATUS_MISMATCH",
				Message: "regression completed but its insights artifact was not promoted",
				Path:    artifact.RegressionStatus,
			})
		}
	}

	doc := store.Document{
		"status":   status,
		"promoted": toAnyStrings(promoted),
		"missing":  toAnyStrings(missing),
	}
	if reason != "" {
		doc["reason_code"] = reason
	}
	_ = o.store.Write(rs.runID, artifact.RegressionStatus, doc)

	if insightsPromoted && status != "success" {
		return &errors.StatusMismatchError{
			RunID:  rs.runID,
			Detail: "promoted regression insights exist while regression_status is " + status,
		}
	}
	return nil
}

// artifactPromoted reports whether a genuinely promoted artifact exists
// under name: skip stubs recorded under promoted names do not count.
func (o *Orchestrator) artifactPromoted(runID, name string) bool {
	doc, err := o.store.Read(runID, name)
	if err != nil {
		return false
	}
	return doc["status"] != "skipped"
}

// finish runs the terminal protocol: scope constraints, pending sweep,
// invariants and conflict reports, run health, trust propagation, state,
// manifest seal.
func (o *Orchestrator) finish(ctx context.Context, rs *runState, status, note string) (string, error) {
	logger := veristatlog.WithRunContext(o.logger, rs.runID)

	_ = o.store.Write(rs.runID, artifact.ScopeConstraints, store.Document{
		"constraints": append([]any{}, rs.constraints...),
	})

	swept := o.sweepPending(rs.runID)
	o.writeInvariantsReport(rs, status, swept)
	o.writeConflictReport(rs)
	o.writeRunHealth(rs, status, note)

	if trust, err := o.store.Read(rs.runID, artifact.TrustReport); err == nil {
		_ = o.manifest.UpdateTrust(rs.runID, map[string]any{
			"level": trust["level"],
			"score": trust["score"],
		})
	}

	if status != StatusFailed {
		_ = o.progress.Update(rs.runID, progress.Snapshot{
			Percent:        100,
			CompletedSteps: append([]string(nil), rs.completed...),
			FailedSteps:    append([]string(nil), rs.failed...),
		})
	}
	o.progress.Forget(rs.runID)

	if err := o.writeState(rs, status, ""); err != nil {
		return status, err
	}
	if err := o.manifest.Seal(rs.runID, status); err != nil {
		logger.Error("manifest seal failed", veristatlog.Error(err))
	}

	metrics.RecordRunComplete(status)
	logger.Info("run finished", "status", status,
		"failed_steps", strings.Join(rs.failed, ","))
	return status, nil
}

// sweepPending deletes drafts that never reached promotion. Terminal runs
// must not carry pending artifacts.
func (o *Orchestrator) sweepPending(runID string) []string {
	names, err := o.store.ListDocuments(runID)
	if err != nil {
		return nil
	}
	var swept []string
	for _, name := range names {
		if promoted, ok := artifact.IsPending(name); ok {
			if err := o.store.Delete(runID, name); err == nil {
				swept = append(swept, promoted)
			}
		}
	}
	return swept
}

// writeInvariantsReport records the terminal invariant checks.
func (o *Orchestrator) writeInvariantsReport(rs *runState, status string, swept []string) {
	reportExists, _ := o.store.Exists(rs.runID, artifact.FinalReport)

	checks := []any{
		store.Document{
			"name":    "no_pending_artifacts",
			"ok":      true,
			"details": store.Document{"swept": toAnyStrings(swept)},
		},
		store.Document{
			"name": "final_report_present",
			"ok":   reportExists || status == StatusFailed,
		},
		store.Document{
			"name": "no_critical_step_failed",
			"ok":   status != StatusFailed,
		},
	}
	_ = o.store.Write(rs.runID, artifact.InvariantsReport, store.Document{"checks": checks})
}

// writeConflictReport flags contradictions between promoted artifacts.
func (o *Orchestrator) writeConflictReport(rs *runState) {
	conflicts := []any{}

	validation, _ := o.store.Read(rs.runID, artifact.ValidationReport)
	if validation != nil {
		if proceed, ok := validation["can_proceed"].(bool); ok && !proceed {
			if o.artifactPromoted(rs.runID, artifact.RegressionInsights) {
				conflicts = append(conflicts, store.Document{
					"code":    "BLOCKED_BUT_ANALYZED",
					"message": "validator blocked analysis yet regression insights were promoted",
				})
			}
		}
	}

	if trust, err := o.store.Read(rs.runID, artifact.TrustReport); err == nil {
		if leakage, err := o.store.Read(rs.runID, artifact.LeakageReport); err == nil {
			flagged, _ := leakage["flagged_target_pairs"].([]any)
			if trust["level"] == "high" && len(flagged) > 0 {
				conflicts = append(conflicts, store.Document{
					"code":    "HIGH_TRUST_WITH_LEAKAGE",
					"message": "trust is high while possible data leakage is flagged",
				})
			}
		}
	}

	_ = o.store.Write(rs.runID, artifact.ConflictReport, store.Document{"conflicts": conflicts})
}

// writeRunHealth summarizes the run for operators.
func (o *Orchestrator) writeRunHealth(rs *runState, status, note string) {
	warningsCount := 0
	if m, err := o.manifest.Get(rs.runID); err == nil {
		if warnings, ok := m["warnings"].([]any); ok {
			warningsCount = len(warnings)
		}
	}
	doc := store.Document{
		"status":             status,
		"completed_steps":    toAnyStrings(rs.completed),
		"failed_steps":       toAnyStrings(rs.failed),
		"degraded_artifacts": toAnyStrings(rs.degraded),
		"warnings_count":     float64(warningsCount),
	}
	if note != "" {
		doc["note"] = note
	}
	_ = o.store.Write(rs.runID, artifact.RunHealth, doc)
}
