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

// Package orchestrator drives a run through the pipeline: eligibility
// gating, step execution with retries, two-phase artifact promotion with
// graceful degradation, report enforcement and the terminal decision.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/veristat/veristat/internal/artifact"
	"github.com/veristat/veristat/internal/eligibility"
	veristatlog "github.com/veristat/veristat/internal/log"
	"github.com/veristat/veristat/internal/manifest"
	"github.com/veristat/veristat/internal/metrics"
	"github.com/veristat/veristat/internal/progress"
	"github.com/veristat/veristat/internal/registry"
	"github.com/veristat/veristat/internal/step"
	"github.com/veristat/veristat/internal/store"
	"github.com/veristat/veristat/pkg/errors"
)

// MaxStepAttempts bounds retries of a failing step.
const MaxStepAttempts = 3

// retryBackoffBase is the base delay between step attempts; attempt n
// waits n times this.
const retryBackoffBase = 2 * time.Second

// Terminal run statuses.
const (
	StatusComplete           = "complete"
	StatusCompleteWithErrors = "complete_with_errors"
	StatusFailed             = "failed"
)

// Step statuses recorded in orchestrator state.
const (
	stepPending       = "pending"
	stepRunning       = "running"
	stepCompleted     = "completed"
	stepFailed        = "failed"
	stepSkipped       = "skipped"
	stepNotApplicable = "not_applicable"
)

// Orchestrator executes one run at a time. It is the only writer of
// promoted artifact names and of the orchestrator state document.
type Orchestrator struct {
	store      *store.Store
	manifest   *manifest.Recorder
	dispatcher *step.Dispatcher
	evaluator  *eligibility.Evaluator
	progress   *progress.Tracker
	pipeline   []registry.Step
	logger     *slog.Logger
	tracer     trace.Tracer

	// Heartbeat is invoked after every step boundary so the worker can
	// keep the queue's liveness clock fresh during long runs.
	Heartbeat func(runID string)

	now     func() time.Time
	backoff time.Duration
	timeout func(registry.Step, float64) time.Duration
	sleep   func(context.Context, time.Duration)
	enforce *Enforcer
}

// Options configures optional orchestrator collaborators.
type Options struct {
	Logger        *slog.Logger
	Tracer        trace.Tracer
	DriftBlocking bool

	// RetryBackoff overrides the base delay between step attempts.
	RetryBackoff time.Duration

	// ReportWait overrides the report enforcement window.
	ReportWait time.Duration
}

// New creates an orchestrator over the given store and drivers.
func New(st *store.Store, dispatcher *step.Dispatcher, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("veristat")
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = retryBackoffBase
	}
	enforce := NewEnforcer(st)
	if opts.ReportWait > 0 {
		enforce.wait = opts.ReportWait
	}
	return &Orchestrator{
		store:      st,
		manifest:   manifest.NewRecorder(st),
		dispatcher: dispatcher,
		evaluator:  eligibility.NewEvaluator(st, opts.DriftBlocking),
		progress:   progress.NewTracker(st),
		pipeline:   registry.MustPipeline(),
		logger:     veristatlog.WithComponent(logger, "orchestrator"),
		tracer:     tracer,
		now:        time.Now,
		backoff:    backoff,
		timeout:    step.Timeout,
		sleep:      sleepCtx,
		enforce:    enforce,
	}
}

// runState tracks per-run execution while the orchestrator walks the
// pipeline. The persisted form lives in the orchestrator_state document.
type runState struct {
	runID       string
	statuses    map[string]string
	reasons     map[string]string
	attempts    map[string]int
	records     map[string]*stepRecord
	completed   []string
	failed      []string
	degraded    []string
	constraints []any
}

// stepRecord carries the execution telemetry for a dispatched step.
type stepRecord struct {
	startedAt   time.Time
	completedAt time.Time
	stdoutTail  string
	stderrTail  string
	message     string
}

// Execute drives a run to a terminal status. The returned status is one
// of complete, complete_with_errors or failed; the error is non-nil only
// for infrastructure failures that prevent the terminal protocol itself.
func (o *Orchestrator) Execute(ctx context.Context, runID string) (string, error) {
	ctx, span := o.tracer.Start(ctx, "run")
	defer span.End()

	logger := veristatlog.WithRunContext(o.logger, runID)
	logger.Info("run starting")
	metrics.RecordRunStart()

	if err := o.manifest.Initialize(runID, manifest.Fingerprint{}); err != nil {
		return "", err
	}

	rs := &runState{
		runID:    runID,
		statuses: make(map[string]string),
		reasons:  make(map[string]string),
		attempts: make(map[string]int),
		records:  make(map[string]*stepRecord),
	}
	for _, s := range o.pipeline {
		rs.statuses[s.Name] = stepPending
	}
	if err := o.writeState(rs, "running", ""); err != nil {
		return "", err
	}

	criticalFailed := false
	for i, s := range o.pipeline {
		if ctx.Err() != nil {
			logger.Warn("run interrupted", "step", s.Name)
			return o.finish(ctx, rs, StatusFailed, "run interrupted")
		}

		decision := o.evaluator.Evaluate(runID, s)
		if decision.Status != eligibility.Eligible {
			o.recordGated(rs, s, string(decision.Status), decision.ReasonCode, decision.Message)
			o.afterStep(rs, i, s.Name)
			continue
		}

		outcome := o.runStep(ctx, rs, s, logger)
		switch outcome {
		case stepCompleted, stepSkipped, stepNotApplicable:
			// Promotion failures downgrade later; keep walking.
		case stepFailed:
			rs.failed = append(rs.failed, s.Name)
			if s.Critical {
				logger.Error("critical step failed, ending run", "step", s.Name)
				criticalFailed = true
			}
		}
		o.afterStep(rs, i, s.Name)
		if criticalFailed {
			break
		}
	}

	mismatch := o.reconcileRegression(rs)
	if mismatch != nil {
		logger.Error("regression status coherence violated", veristatlog.Error(mismatch))
		_ = o.manifest.AddWarning(runID, manifest.Warning{
			Code:    errors.CodeStatusMismatch,
			Message: mismatch.Error(),
			Path:    artifact.RegressionStatus,
		})
	}

	status := StatusComplete
	switch {
	case criticalFailed, mismatch != nil:
		status = StatusFailed
	case len(rs.failed) > 0 || len(rs.degraded) > 0:
		status = StatusCompleteWithErrors
	}

	if status != StatusFailed {
		if err := o.enforce.Wait(ctx, runID); err != nil {
			logger.Error("final report enforcement failed", veristatlog.Error(err))
			_ = o.manifest.AddWarning(runID, manifest.Warning{
				Code:    "REPORT_MISSING",
				Message: err.Error(),
				Path:    artifact.FinalReport,
			})
			status = StatusFailed
		}
	}

	return o.finish(ctx, rs, status, "")
}

// runStep executes one eligible step with retries and promotes its
// pending artifacts. Returns the step's terminal status.
func (o *Orchestrator) runStep(ctx context.Context, rs *runState, s registry.Step, logger *slog.Logger) string {
	stepLogger := veristatlog.WithStepContext(o.logger, rs.runID, s.Name)

	driver, ok := o.dispatcher.Get(s.Name)
	if !ok {
		stepLogger.Error("no driver registered")
		o.recordStep(rs, s.Name, stepFailed, "NO_DRIVER")
		return stepFailed
	}

	rs.statuses[s.Name] = stepRunning
	_ = o.writeState(rs, "running", s.Name)
	_ = o.manifest.UpdateStepStatus(rs.runID, s.Name, stepRunning)

	timeout := o.timeout(s, o.datasetSizeMB(rs.runID))

	rec := &stepRecord{startedAt: o.now()}
	rs.records[s.Name] = rec

	var result *step.Result
	var runErr error
	for attempt := 1; attempt <= MaxStepAttempts; attempt++ {
		rs.attempts[s.Name] = attempt

		ctxStep, span := o.tracer.Start(ctx, "step."+s.Name)
		ctxStep, cancel := context.WithTimeout(ctxStep, timeout)
		started := o.now()
		result, runErr = driver.Run(ctxStep, rs.runID, o.store)
		deadlined := ctxStep.Err() == context.DeadlineExceeded
		cancel()
		span.End()

		elapsed := o.now().Sub(started)
		if runErr == nil && result != nil && result.Success {
			metrics.RecordStepComplete(s.Name, stepCompleted, elapsed)
			break
		}
		if deadlined || errors.Is(runErr, context.DeadlineExceeded) {
			runErr = &errors.TimeoutError{
				Operation: "step " + s.Name,
				Duration:  timeout,
				Cause:     runErr,
			}
		}
		metrics.RecordStepComplete(s.Name, stepFailed, elapsed)
		if runErr != nil {
			stepLogger.Warn("step attempt failed", "attempt", attempt, veristatlog.Error(runErr))
		} else {
			stepLogger.Warn("step attempt unsuccessful", "attempt", attempt)
		}
		if o.Heartbeat != nil {
			o.Heartbeat(rs.runID)
		}
		if attempt < MaxStepAttempts {
			o.sleep(ctx, time.Duration(attempt)*o.backoff)
		}
		if ctx.Err() != nil {
			break
		}
	}

	rec.completedAt = o.now()
	if result != nil {
		rec.stdoutTail = step.CapTail(result.StdoutTail)
		rec.stderrTail = step.CapTail(result.StderrTail)
	}

	if runErr != nil || result == nil || !result.Success {
		reason := "ATTEMPTS_EXHAUSTED"
		message := "step reported no success after all attempts"
		if runErr != nil {
			message = errors.Truncate(runErr.Error(), step.MaxTailBytes)
			if errors.CodeOf(runErr) == errors.CodeTimeout {
				reason = "TIMEOUT"
			}
		}
		rec.message = message
		o.recordStep(rs, s.Name, stepFailed, reason)
		_ = o.manifest.AddWarning(rs.runID, manifest.Warning{
			Code:    "STEP_FAILED",
			Message: message,
			Path:    s.Name,
		})
		return stepFailed
	}

	if result.Assessment != nil {
		status := stepSkipped
		if result.Assessment.Status == "not_applicable" {
			status = stepNotApplicable
		}
		o.recordGated(rs, s, status, result.Assessment.ReasonCode, result.Assessment.Message)
		return status
	}

	o.promoteOutputs(rs, s, stepLogger)

	if s.Name == registry.StepIngestion {
		o.recordFingerprint(rs.runID)
	}

	rs.completed = append(rs.completed, s.Name)
	o.recordStep(rs, s.Name, stepCompleted, "")
	return stepCompleted
}

// recordFingerprint copies the ingested dataset identity into the manifest.
func (o *Orchestrator) recordFingerprint(runID string) {
	card, err := o.store.Read(runID, artifact.IdentityCard)
	if err != nil {
		return
	}
	fp := manifest.Fingerprint{}
	fp.Hash, _ = card["fingerprint"].(string)
	if rows, ok := card["row_count"].(float64); ok {
		fp.RowCount = int(rows)
	}
	if cols, ok := card["columns"].([]any); ok {
		for _, c := range cols {
			if name, ok := c.(string); ok {
				fp.Columns = append(fp.Columns, name)
			}
		}
	}
	_ = o.manifest.SetFingerprint(runID, fp)
}

// recordGated marks a step skipped or not applicable and remembers the
// scope constraint for the terminal report.
func (o *Orchestrator) recordGated(rs *runState, s registry.Step, status, reason, message string) {
	o.recordStep(rs, s.Name, status, reason)
	rs.constraints = append(rs.constraints, store.Document{
		"step":        s.Name,
		"status":      status,
		"reason_code": reason,
		"message":     message,
	})
}

func (o *Orchestrator) recordStep(rs *runState, name, status, reason string) {
	rs.statuses[name] = status
	if reason != "" {
		rs.reasons[name] = reason
	}
	_ = o.manifest.UpdateStepStatus(rs.runID, name, status)
}

// afterStep updates progress and fires the liveness heartbeat.
func (o *Orchestrator) afterStep(rs *runState, index int, name string) {
	next := ""
	if index+1 < len(o.pipeline) {
		next = o.pipeline[index+1].Name
	}
	_ = o.progress.Update(rs.runID, progress.Snapshot{
		Percent:        100 * float64(index+1) / float64(len(o.pipeline)),
		CurrentStep:    name,
		NextStep:       next,
		CompletedSteps: append([]string(nil), rs.completed...),
		FailedSteps:    append([]string(nil), rs.failed...),
	})
	_ = o.writeState(rs, "running", name)
	if o.Heartbeat != nil {
		o.Heartbeat(rs.runID)
	}
}

// datasetSizeMB reads the ingested size for timeout derivation; zero
// before ingestion has run.
func (o *Orchestrator) datasetSizeMB(runID string) float64 {
	card, err := o.store.Read(runID, artifact.IdentityCard)
	if err != nil {
		return 0
	}
	size, _ := card["size_mb"].(float64)
	return size
}

// writeState persists the orchestrator state document.
func (o *Orchestrator) writeState(rs *runState, status, current string) error {
	steps := store.Document{}
	for name, st := range rs.statuses {
		entry := store.Document{
			"status":   st,
			"attempts": float64(rs.attempts[name]),
		}
		if reason := rs.reasons[name]; reason != "" {
			entry["reason_code"] = reason
		}
		if rec := rs.records[name]; rec != nil {
			entry["started_at"] = rec.startedAt.UTC().Format(time.RFC3339)
			if !rec.completedAt.IsZero() {
				entry["completed_at"] = rec.completedAt.UTC().Format(time.RFC3339)
				entry["runtime_seconds"] = rec.completedAt.Sub(rec.startedAt).Seconds()
			}
			if rec.stdoutTail != "" {
				entry["stdout_tail"] = rec.stdoutTail
			}
			if rec.stderrTail != "" {
				entry["stderr_tail"] = rec.stderrTail
			}
			if rec.message != "" {
				entry["message"] = rec.message
			}
		}
		steps[name] = entry
	}
	doc := store.Document{
		"status":       status,
		"current_step": current,
		"steps":        steps,
		"failed_steps": toAnyStrings(rs.failed),
		"updated_at":   o.now().UTC().Format(time.RFC3339),
	}
	return o.store.Write(rs.runID, artifact.OrchestratorState, doc)
}

func toAnyStrings(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
