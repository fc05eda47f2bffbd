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

// Package registry declares the pipeline sequence: the ordered catalog of
// steps a run walks through. The catalog is validated at load time; a
// malformed sequence is a startup error, never a runtime one.
package registry

import (
	"fmt"
	"time"
)

// Kind classifies a step's role in the pipeline.
type Kind string

const (
	KindFoundational Kind = "foundational"
	KindAnalytic     Kind = "analytic"
	KindNarrative    Kind = "narrative"
	KindGovernance   Kind = "governance"
)

// Canonical step names.
const (
	StepIngestion   = "ingestion"
	StepScanner     = "scanner"
	StepTypeIdent   = "typeident"
	StepValidator   = "validator"
	StepInterpreter = "interpreter"
	StepClusterer   = "clusterer"
	StepRegression  = "regression"
	StepTimeseries  = "timeseries"
	StepSentry      = "sentry"
	StepPersonas    = "personas"
	StepExpositor   = "expositor"
	StepTrust       = "trust"
)

// Step is one declarative pipeline entry.
type Step struct {
	// Name is the unique step identifier.
	Name string

	// Description is a short human-readable summary.
	Description string

	// Critical steps may not be skipped; their failure ends the run.
	Critical bool

	// TimeBudget bounds a single driver invocation.
	TimeBudget time.Duration

	// Kind classifies the step.
	Kind Kind

	// ComputeIntensive widens the dataset-derived timeout.
	ComputeIntensive bool

	// AlwaysEligible exempts the step from eligibility gating.
	AlwaysEligible bool
}

// Pipeline returns the validated canonical step sequence.
func Pipeline() ([]Step, error) {
	return Load(canonical())
}

// MustPipeline is Pipeline for contexts where the canonical sequence is
// known-good (it is validated by tests at build time).
func MustPipeline() []Step {
	steps, err := Pipeline()
	if err != nil {
		panic(err)
	}
	return steps
}

// Load validates a step sequence, injecting the narrative report step when
// absent. Two invariants hold on the result:
//
//  1. The narrative step that produces the final report is present.
//  2. The governance step, when present, is last; otherwise the narrative
//     report step is last.
func Load(steps []Step) ([]Step, error) {
	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if s.Name == "" {
			return nil, fmt.Errorf("registry: step with empty name")
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("registry: duplicate step %q", s.Name)
		}
		seen[s.Name] = true
	}

	if !seen[StepExpositor] {
		injected := Step{
			Name:           StepExpositor,
			Description:    "Generate the final narrative report",
			Critical:       true,
			TimeBudget:     10 * time.Minute,
			Kind:           KindNarrative,
			AlwaysEligible: true,
		}
		if len(steps) > 0 && steps[len(steps)-1].Name == StepTrust {
			steps = append(steps[:len(steps)-1], injected, steps[len(steps)-1])
		} else {
			steps = append(steps, injected)
		}
	}

	last := steps[len(steps)-1]
	if seen[StepTrust] || last.Name == StepTrust {
		if last.Name != StepTrust {
			return nil, fmt.Errorf("registry: governance step %q must be last, found %q", StepTrust, last.Name)
		}
	} else if last.Name != StepExpositor {
		return nil, fmt.Errorf("registry: report step %q must be last when no governance step is declared, found %q", StepExpositor, last.Name)
	}

	return steps, nil
}

// Lookup returns the step with the given name from a sequence.
func Lookup(steps []Step, name string) (Step, bool) {
	for _, s := range steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// canonical is the declared pipeline sequence.
func canonical() []Step {
	return []Step{
		{
			Name:        StepIngestion,
			Description: "Load, sanitize and fingerprint the input dataset",
			Critical:    true,
			TimeBudget:  15 * time.Minute,
			Kind:        KindFoundational,
		},
		{
			Name:        StepScanner,
			Description: "Profile every column: types, ranges, missingness",
			Critical:    false,
			TimeBudget:  10 * time.Minute,
			Kind:        KindFoundational,
		},
		{
			Name:        StepTypeIdent,
			Description: "Classify the dataset: column kinds, datetime presence, drift",
			Critical:    false,
			TimeBudget:  5 * time.Minute,
			Kind:        KindFoundational,
		},
		{
			Name:        StepValidator,
			Description: "Assess data quality and decide whether analysis can proceed",
			Critical:    false,
			TimeBudget:  5 * time.Minute,
			Kind:        KindFoundational,
		},
		{
			Name:        StepInterpreter,
			Description: "Correlation structure and leakage candidates",
			Critical:    false,
			TimeBudget:  10 * time.Minute,
			Kind:        KindAnalytic,
		},
		{
			Name:             StepClusterer,
			Description:      "Segment rows into behavioral clusters",
			Critical:         false,
			TimeBudget:       15 * time.Minute,
			Kind:             KindAnalytic,
			ComputeIntensive: true,
		},
		{
			Name:             StepRegression,
			Description:      "Fit the target model: coefficients, importance, collinearity",
			Critical:         false,
			TimeBudget:       20 * time.Minute,
			Kind:             KindAnalytic,
			ComputeIntensive: true,
		},
		{
			Name:        StepTimeseries,
			Description: "Trend summary over the datetime axis",
			Critical:    false,
			TimeBudget:  10 * time.Minute,
			Kind:        KindAnalytic,
		},
		{
			Name:           StepSentry,
			Description:    "Scan for anomalous rows and values",
			Critical:       false,
			TimeBudget:     10 * time.Minute,
			Kind:           KindAnalytic,
			AlwaysEligible: true,
		},
		{
			Name:        StepPersonas,
			Description: "Derive personas and strategy notes from segments",
			Critical:    false,
			TimeBudget:  10 * time.Minute,
			Kind:        KindNarrative,
		},
		{
			Name:           StepExpositor,
			Description:    "Generate the final narrative report",
			Critical:       true,
			TimeBudget:     10 * time.Minute,
			Kind:           KindNarrative,
			AlwaysEligible: true,
		},
		{
			Name:           StepTrust,
			Description:    "Evaluate how much the produced analysis can be trusted",
			Critical:       false,
			TimeBudget:     5 * time.Minute,
			Kind:           KindGovernance,
			AlwaysEligible: true,
		},
	}
}
