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

// Package eligibility decides whether a pipeline step applies to a run,
// consulting the validation report and the dataset classification. Steps
// marked always-eligible in the registry bypass gating entirely.
package eligibility

import (
	"fmt"

	"github.com/veristat/veristat/internal/artifact"
	"github.com/veristat/veristat/internal/registry"
	"github.com/veristat/veristat/internal/store"
	"github.com/veristat/veristat/pkg/errors"
)

// Status of an eligibility decision.
type Status string

const (
	Eligible      Status = "eligible"
	Skipped       Status = "skipped"
	NotApplicable Status = "not_applicable"
)

// Reason codes recorded for skipped and not-applicable steps.
const (
	ReasonValidationBlocked = "VALIDATION_BLOCKED"
	ReasonInsufficientRows  = "INSUFFICIENT_ROWS"
	ReasonNoDatetimeColumn  = "NO_DATETIME_COLUMN"
	ReasonNoTarget          = "NO_TARGET"
	ReasonDriftBlocked      = "DRIFT_BLOCKED"
)

// Decision is the verdict for one (run, step) pair.
type Decision struct {
	Status     Status `json:"status"`
	ReasonCode string `json:"reason_code,omitempty"`
	Message    string `json:"message,omitempty"`
}

// blockedOnValidation are the steps skipped when the validator decides the
// dataset cannot support analysis.
var blockedOnValidation = map[string]bool{
	registry.StepInterpreter: true,
	registry.StepClusterer:   true,
	registry.StepRegression:  true,
	registry.StepPersonas:    true,
}

// needsTarget are the steps that require a declared and found target column.
var needsTarget = map[string]bool{
	registry.StepRegression: true,
	registry.StepPersonas:   true,
}

// Evaluator gates steps on run artifacts.
type Evaluator struct {
	store         *store.Store
	driftBlocking bool
}

// NewEvaluator creates an evaluator. driftBlocking makes a drifted
// classification block analytic steps.
func NewEvaluator(st *store.Store, driftBlocking bool) *Evaluator {
	return &Evaluator{store: st, driftBlocking: driftBlocking}
}

// Evaluate decides whether a step applies to the run. Missing gating
// artifacts never block: steps that run before the validator simply see no
// verdict yet.
func (e *Evaluator) Evaluate(runID string, s registry.Step) Decision {
	if s.AlwaysEligible {
		return Decision{Status: Eligible}
	}

	validation := e.readOptional(runID, artifact.ValidationReport)
	classification := e.readOptional(runID, artifact.Classification)

	if validation != nil {
		if proceed, ok := validation["can_proceed"].(bool); ok && !proceed && blockedOnValidation[s.Name] {
			return Decision{
				Status:     Skipped,
				ReasonCode: ReasonValidationBlocked,
				Message:    "validator decided analysis cannot proceed on this dataset",
			}
		}
		if rows, ok := asFloat(validation["row_count"]); ok && rows <= 1 && s.Kind == registry.KindAnalytic {
			return Decision{
				Status:     NotApplicable,
				ReasonCode: ReasonInsufficientRows,
				Message:    fmt.Sprintf("%v row(s) cannot support %s", rows, s.Name),
			}
		}
		if needsTarget[s.Name] {
			if found, ok := validation["target_found"].(bool); ok && !found {
				return Decision{
					Status:     Skipped,
					ReasonCode: ReasonNoTarget,
					Message:    "no usable target column",
				}
			}
		}
	}

	if classification != nil {
		if s.Name == registry.StepTimeseries {
			if hasDT, ok := classification["has_datetime"].(bool); ok && !hasDT {
				return Decision{
					Status:     NotApplicable,
					ReasonCode: ReasonNoDatetimeColumn,
					Message:    "dataset has no datetime column",
				}
			}
		}
		if e.driftBlocking && s.Kind == registry.KindAnalytic {
			if drifted, ok := classification["drifted"].(bool); ok && drifted {
				return Decision{
					Status:     Skipped,
					ReasonCode: ReasonDriftBlocked,
					Message:    "dataset drifted from its profiled shape",
				}
			}
		}
	}

	return Decision{Status: Eligible}
}

// readOptional returns a gating artifact or nil when absent. Store
// unavailability is treated as absence here; the step itself will surface
// the store failure.
func (e *Evaluator) readOptional(runID, name string) store.Document {
	doc, err := e.store.Read(runID, name)
	if err != nil {
		var notFound *errors.NotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return nil
	}
	return doc
}

func asFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}
