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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/veristat/veristat/internal/artifact"
	"github.com/veristat/veristat/internal/registry"
	"github.com/veristat/veristat/internal/step"
	"github.com/veristat/veristat/internal/steps"
	"github.com/veristat/veristat/internal/store"
)

const testRunID = "deadc0de"

// regressableCSV has y driven by x plus a mirrored leak column.
func regressableCSV() string {
	var b strings.Builder
	b.WriteString("x,extra,leak,y\n")
	for i := 1; i <= 30; i++ {
		y := 3*float64(i) + float64(5*(i%7))
		fmt.Fprintf(&b, "%d,%d,%f,%f\n", i, (i*7)%13, y, y)
	}
	return b.String()
}

// newOrchestrator builds an orchestrator over a fresh store with the run
// config written, fast retries, and a short enforcement window.
func newOrchestrator(t *testing.T, csvBody string, override ...step.Driver) (*Orchestrator, *store.Store) {
	t.Helper()

	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	src := filepath.Join(t.TempDir(), "input.csv")
	if csvBody != "" {
		if err := os.WriteFile(src, []byte(csvBody), 0o600); err != nil {
			t.Fatalf("writing source: %v", err)
		}
	}
	if err := st.Write(testRunID, artifact.RunConfig, store.Document{
		"source_path":   src,
		"target_column": "y",
	}); err != nil {
		t.Fatalf("run config: %v", err)
	}

	d := step.NewDispatcher()
	steps.RegisterAll(d)
	for _, drv := range override {
		d.Register(drv)
	}

	o := New(st, d, Options{})
	o.sleep = func(context.Context, time.Duration) {}
	o.enforce.wait = 200 * time.Millisecond
	o.enforce.interval = 20 * time.Millisecond
	return o, st
}

func assertNoPending(t *testing.T, st *store.Store) {
	t.Helper()
	names, err := st.ListDocuments(testRunID)
	if err != nil {
		t.Fatalf("listing documents: %v", err)
	}
	for _, name := range names {
		if _, pending := artifact.IsPending(name); pending {
			t.Errorf("terminal run still carries %s", name)
		}
	}
}

func TestHappyPath(t *testing.T) {
	o, st := newOrchestrator(t, regressableCSV())

	status, err := o.Execute(context.Background(), testRunID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if status != StatusComplete {
		state, _ := st.Read(testRunID, artifact.OrchestratorState)
		t.Fatalf("expected complete, got %s (state: %+v)", status, state)
	}

	for _, name := range []string{
		artifact.Profile, artifact.Classification, artifact.RegressionInsights,
		artifact.FinalReport, artifact.TrustReport,
	} {
		if ok, _ := st.Exists(testRunID, name); !ok {
			t.Errorf("expected promoted %s", name)
		}
	}
	assertNoPending(t, st)

	// Both report forms.
	path, _ := st.Path(testRunID, artifact.FinalReportFile)
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Error("final report file missing or empty")
	}

	regStatus, err := st.Read(testRunID, artifact.RegressionStatus)
	if err != nil {
		t.Fatalf("regression status: %v", err)
	}
	if regStatus["status"] != "success" {
		t.Errorf("regression status: %+v", regStatus)
	}

	// Step telemetry is persisted alongside the status.
	state, _ := st.Read(testRunID, artifact.OrchestratorState)
	ingestion := state["steps"].(map[string]any)["ingestion"].(map[string]any)
	for _, field := range []string{"started_at", "completed_at", "runtime_seconds"} {
		if _, ok := ingestion[field]; !ok {
			t.Errorf("ingestion state missing %s: %+v", field, ingestion)
		}
	}

	// Manifest is sealed with trust propagated.
	m, err := o.manifest.Get(testRunID)
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if m["sealed"] != true {
		t.Error("manifest not sealed")
	}
	if _, ok := m["trust"].(map[string]any); !ok {
		t.Error("trust not propagated to manifest")
	}

	// Progress landed on 100.
	prog, _ := st.Read(testRunID, "progress")
	if prog["percent"] != float64(100) {
		t.Errorf("progress: %+v", prog)
	}
}

func TestHappyPathFlagsLeakage(t *testing.T) {
	o, _ := newOrchestrator(t, regressableCSV())
	if _, err := o.Execute(context.Background(), testRunID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	m, err := o.manifest.Get(testRunID)
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	warnings, _ := m["warnings"].([]any)
	found := false
	for _, w := range warnings {
		if w.(map[string]any)["code"] == "DATA_LEAKAGE_POSSIBLE" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected leakage warning in manifest, got %v", warnings)
	}
}

func TestCriticalIngestionFailureFailsRun(t *testing.T) {
	// Source file never written: ingestion cannot load it.
	o, st := newOrchestrator(t, "")

	status, err := o.Execute(context.Background(), testRunID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if status != StatusFailed {
		t.Fatalf("expected failed, got %s", status)
	}

	state, _ := st.Read(testRunID, artifact.OrchestratorState)
	stepStates := state["steps"].(map[string]any)
	ingestion := stepStates["ingestion"].(map[string]any)
	if ingestion["status"] != "failed" {
		t.Errorf("ingestion state: %+v", ingestion)
	}
	if ingestion["attempts"] != float64(MaxStepAttempts) {
		t.Errorf("expected %d attempts, got %v", MaxStepAttempts, ingestion["attempts"])
	}

	health, _ := st.Read(testRunID, artifact.RunHealth)
	if health["status"] != StatusFailed {
		t.Errorf("run health: %+v", health)
	}

	// The failure reaches the manifest, not only the step state.
	m, _ := o.manifest.Get(testRunID)
	warnings, _ := m["warnings"].([]any)
	found := false
	for _, w := range warnings {
		entry := w.(map[string]any)
		if entry["code"] == "STEP_FAILED" && entry["path"] == "ingestion" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected STEP_FAILED warning for ingestion, got %v", warnings)
	}
}

// badInsightsDriver succeeds but writes an importance value outside the
// 0-100 scale.
type badInsightsDriver struct{}

func (*badInsightsDriver) Name() string { return "regression" }

func (*badInsightsDriver) Run(ctx context.Context, runID string, st *store.Store) (*step.Result, error) {
	doc := store.Document{
		"model_fit":  map[string]any{"r2": 0.9},
		"importance": []any{map[string]any{"feature": "x", "importance": float64(120)}},
	}
	if err := st.Write(runID, artifact.Pending(artifact.RegressionInsights), doc); err != nil {
		return nil, err
	}
	if err := st.Write(runID, artifact.Pending(artifact.CollinearityReport), store.Document{
		"vif": []any{map[string]any{"feature": "x", "vif": 1.5}},
	}); err != nil {
		return nil, err
	}
	return &step.Result{Success: true}, nil
}

func TestRejectedBundleMemberDegradesRun(t *testing.T) {
	o, st := newOrchestrator(t, regressableCSV(), &badInsightsDriver{})

	status, err := o.Execute(context.Background(), testRunID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if status != StatusCompleteWithErrors {
		t.Fatalf("expected complete_with_errors, got %s", status)
	}

	if ok, _ := st.Exists(testRunID, artifact.RegressionInsights); ok {
		t.Error("rejected insights must not be promoted")
	}
	if ok, _ := st.Exists(testRunID, artifact.CollinearityReport); !ok {
		t.Error("valid bundle member should still promote")
	}
	assertNoPending(t, st)

	// Without promoted insights the status reconciles to failed.
	regStatus, _ := st.Read(testRunID, artifact.RegressionStatus)
	if regStatus["status"] != "failed" || regStatus["reason_code"] != "PROMOTION_REJECTED" {
		t.Errorf("regression status: %+v", regStatus)
	}

	// Bundle members the driver never drafted carry a skip record.
	leakage, err := st.Read(testRunID, artifact.LeakageReport)
	if err != nil {
		t.Fatalf("leakage record: %v", err)
	}
	if leakage["status"] != "skipped" || leakage["reason"] == "" {
		t.Errorf("expected skip record, got %+v", leakage)
	}

	// The rejection leaves a machine-readable note.
	notes, err := st.Read(testRunID, artifact.AnalyticsValidation)
	if err != nil {
		t.Fatalf("analytics validation: %v", err)
	}
	entries, _ := notes["entries"].([]any)
	noted := false
	for _, e := range entries {
		entry := e.(map[string]any)
		if entry["artifact"] == artifact.RegressionInsights && entry["reason_code"] == "PROMOTION_REJECTED" {
			noted = true
		}
	}
	if !noted {
		t.Errorf("expected rejection note, got %+v", entries)
	}

	m, _ := o.manifest.Get(testRunID)
	warnings, _ := m["warnings"].([]any)
	rejected := false
	for _, w := range warnings {
		if w.(map[string]any)["code"] == "PROMOTION_REJECTED" {
			rejected = true
		}
	}
	if !rejected {
		t.Error("expected PROMOTION_REJECTED warning")
	}
}

// hollowRegressionDriver reports success without writing anything.
type hollowRegressionDriver struct{}

func (*hollowRegressionDriver) Name() string { return "regression" }

func (*hollowRegressionDriver) Run(context.Context, string, *store.Store) (*step.Result, error) {
	return &step.Result{Success: true}, nil
}

func TestRegressionStatusMismatch(t *testing.T) {
	o, st := newOrchestrator(t, regressableCSV(), &hollowRegressionDriver{})

	status, err := o.Execute(context.Background(), testRunID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if status != StatusCompleteWithErrors {
		t.Fatalf("expected complete_with_errors, got %s", status)
	}

	regStatus, _ := st.Read(testRunID, artifact.RegressionStatus)
	if regStatus["status"] != "failed" || regStatus["reason_code"] != "STATUS_MISMATCH" {
		t.Errorf("regression status: %+v", regStatus)
	}

	// Every bundle member got a skip record instead of a promotion.
	for _, name := range artifact.RegressionBundle {
		doc, err := st.Read(testRunID, name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if doc["status"] != "skipped" {
			t.Errorf("%s: expected skip record, got %+v", name, doc)
		}
	}
}

// failingRegressionDriver always errors.
type failingRegressionDriver struct{}

func (*failingRegressionDriver) Name() string { return "regression" }

func (*failingRegressionDriver) Run(context.Context, string, *store.Store) (*step.Result, error) {
	return nil, fmt.Errorf("model solver blew up")
}

func TestPromotedInsightsWithoutSuccessFailsRun(t *testing.T) {
	o, st := newOrchestrator(t, regressableCSV(), &failingRegressionDriver{})

	// A promoted insights artifact from some earlier write survives while
	// the step itself fails: the coherence rule must fail the run.
	if err := st.Write(testRunID, artifact.RegressionInsights, store.Document{
		"available": true,
		"model_fit": map[string]any{"r2": 0.5},
	}); err != nil {
		t.Fatalf("seeding insights: %v", err)
	}

	status, err := o.Execute(context.Background(), testRunID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if status != StatusFailed {
		t.Fatalf("expected failed on coherence violation, got %s", status)
	}

	regStatus, _ := st.Read(testRunID, artifact.RegressionStatus)
	if regStatus["status"] != "failed" {
		t.Errorf("regression status: %+v", regStatus)
	}

	m, _ := o.manifest.Get(testRunID)
	warnings, _ := m["warnings"].([]any)
	found := false
	for _, w := range warnings {
		if w.(map[string]any)["code"] == "ERR_STATUS_MISMATCH" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected ERR_STATUS_MISMATCH warning, got %v", warnings)
	}
}

func TestSingleRowDatasetSkipsAnalytics(t *testing.T) {
	o, st := newOrchestrator(t, "x,extra,leak,y\n1,2,3,4\n")

	status, err := o.Execute(context.Background(), testRunID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	// Skips are scope reductions, not errors.
	if status != StatusComplete {
		t.Fatalf("expected complete, got %s", status)
	}

	state, _ := st.Read(testRunID, artifact.OrchestratorState)
	stepStates := state["steps"].(map[string]any)
	for _, name := range []string{"interpreter", "regression", "personas", "clusterer"} {
		entry := stepStates[name].(map[string]any)
		if entry["status"] != "skipped" && entry["status"] != "not_applicable" {
			t.Errorf("%s should be gated on a single-row dataset: %+v", name, entry)
		}
	}

	// The report still exists: expositor is exempt from gating.
	if ok, _ := st.Exists(testRunID, artifact.FinalReport); !ok {
		t.Error("final report missing")
	}

	constraints, _ := st.Read(testRunID, artifact.ScopeConstraints)
	if list, _ := constraints["constraints"].([]any); len(list) == 0 {
		t.Error("expected recorded scope constraints")
	}
}

// silentExpositorDriver succeeds without producing any report.
type silentExpositorDriver struct{}

func (*silentExpositorDriver) Name() string { return "expositor" }

func (*silentExpositorDriver) Run(context.Context, string, *store.Store) (*step.Result, error) {
	return &step.Result{Success: true}, nil
}

func TestSilentExpositorGetsSynthesizedReport(t *testing.T) {
	o, st := newOrchestrator(t, regressableCSV(), &silentExpositorDriver{})

	status, err := o.Execute(context.Background(), testRunID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	// The run is never left without a report; degradation, not failure.
	if status != StatusCompleteWithErrors {
		t.Fatalf("expected complete_with_errors, got %s", status)
	}

	doc, err := st.Read(testRunID, artifact.FinalReport)
	if err != nil {
		t.Fatalf("final report: %v", err)
	}
	if doc["synthesized"] != true {
		t.Errorf("expected synthesized report, got %+v", doc)
	}
	path, _ := st.Path(testRunID, artifact.FinalReportFile)
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Error("synthesized report file missing")
	}

	m, _ := o.manifest.Get(testRunID)
	warnings, _ := m["warnings"].([]any)
	found := false
	for _, w := range warnings {
		if w.(map[string]any)["code"] == "REPORT_SYNTHESIZED" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected REPORT_SYNTHESIZED warning, got %v", warnings)
	}
}

// crashingExpositorDriver fails every attempt.
type crashingExpositorDriver struct{}

func (*crashingExpositorDriver) Name() string { return "expositor" }

func (*crashingExpositorDriver) Run(context.Context, string, *store.Store) (*step.Result, error) {
	return nil, fmt.Errorf("renderer crashed")
}

func TestFailedExpositorFailsRun(t *testing.T) {
	// When the expositor never completes, promotion cannot synthesize a
	// replacement and the enforcer is the backstop.
	o, _ := newOrchestrator(t, regressableCSV(), &crashingExpositorDriver{})

	status, err := o.Execute(context.Background(), testRunID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if status != StatusFailed {
		t.Fatalf("expected failed when no report appears, got %s", status)
	}

	m, _ := o.manifest.Get(testRunID)
	warnings, _ := m["warnings"].([]any)
	found := false
	for _, w := range warnings {
		if w.(map[string]any)["code"] == "REPORT_MISSING" {
			found = true
		}
	}
	if !found {
		t.Error("expected REPORT_MISSING warning")
	}
}

// emptyReportDriver writes a draft that fails validation so the
// orchestrator must synthesize a replacement.
type emptyReportDriver struct{}

func (*emptyReportDriver) Name() string { return "expositor" }

func (*emptyReportDriver) Run(ctx context.Context, runID string, st *store.Store) (*step.Result, error) {
	err := st.Write(runID, artifact.Pending(artifact.FinalReport), store.Document{"markdown": ""})
	if err != nil {
		return nil, err
	}
	return &step.Result{Success: true}, nil
}

func TestRejectedReportIsSynthesized(t *testing.T) {
	o, st := newOrchestrator(t, regressableCSV(), &emptyReportDriver{})

	status, err := o.Execute(context.Background(), testRunID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if status != StatusCompleteWithErrors {
		t.Fatalf("expected complete_with_errors, got %s", status)
	}

	doc, err := st.Read(testRunID, artifact.FinalReport)
	if err != nil {
		t.Fatalf("final report: %v", err)
	}
	if doc["synthesized"] != true {
		t.Errorf("expected synthesized report, got %+v", doc)
	}
	if markdown, _ := doc["markdown"].(string); markdown == "" {
		t.Error("synthesized report is empty")
	}

	path, _ := st.Path(testRunID, artifact.FinalReportFile)
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Error("synthesized report file missing")
	}
	assertNoPending(t, st)
}

// stallingRegressionDriver blocks until its deadline expires.
type stallingRegressionDriver struct{}

func (*stallingRegressionDriver) Name() string { return "regression" }

func (*stallingRegressionDriver) Run(ctx context.Context, runID string, st *store.Store) (*step.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStepTimeoutRecordsReason(t *testing.T) {
	o, st := newOrchestrator(t, regressableCSV(), &stallingRegressionDriver{})
	o.timeout = func(s registry.Step, _ float64) time.Duration {
		if s.Name == registry.StepRegression {
			return 30 * time.Millisecond
		}
		return time.Minute
	}

	status, err := o.Execute(context.Background(), testRunID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if status != StatusCompleteWithErrors {
		t.Fatalf("expected complete_with_errors, got %s", status)
	}

	state, _ := st.Read(testRunID, artifact.OrchestratorState)
	entry := state["steps"].(map[string]any)["regression"].(map[string]any)
	if entry["status"] != "failed" || entry["reason_code"] != "TIMEOUT" {
		t.Errorf("regression state: %+v", entry)
	}
	message, _ := entry["message"].(string)
	if !strings.Contains(message, "timed out") {
		t.Errorf("expected timeout message, got %q", message)
	}

	// Failed steps surface in progress for API consumers.
	prog, _ := st.Read(testRunID, "progress")
	failed, _ := prog["failed_steps"].([]any)
	seen := false
	for _, name := range failed {
		if name == "regression" {
			seen = true
		}
	}
	if !seen {
		t.Errorf("expected regression in progress failed_steps, got %+v", prog)
	}
}

func TestHeartbeatFiresDuringRun(t *testing.T) {
	o, _ := newOrchestrator(t, regressableCSV())

	beats := 0
	o.Heartbeat = func(runID string) {
		if runID != testRunID {
			t.Errorf("heartbeat for wrong run: %s", runID)
		}
		beats++
	}

	if _, err := o.Execute(context.Background(), testRunID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if beats == 0 {
		t.Error("heartbeat never fired")
	}
}

func TestEnforcerIdempotentAfterSuccess(t *testing.T) {
	o, _ := newOrchestrator(t, regressableCSV())
	if _, err := o.Execute(context.Background(), testRunID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	// Re-checking a finished run must still pass.
	if err := o.enforce.Wait(context.Background(), testRunID); err != nil {
		t.Errorf("enforcer re-check failed: %v", err)
	}
}
