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

// Package steps implements the built-in pipeline drivers. Each driver
// reads artifacts written by prior steps from the run's store directory
// and writes its outputs back, pending-suffixed where the artifact goes
// through promotion.
package steps

import (
	"context"
	"fmt"

	"github.com/veristat/veristat/internal/artifact"
	"github.com/veristat/veristat/internal/dataset"
	"github.com/veristat/veristat/internal/step"
	"github.com/veristat/veristat/internal/store"
)

// RegisterAll registers every built-in driver on the dispatcher.
func RegisterAll(d *step.Dispatcher) {
	d.Register(&Ingestion{})
	d.Register(&Scanner{})
	d.Register(&TypeIdent{})
	d.Register(&Validator{})
	d.Register(&Interpreter{})
	d.Register(&Clusterer{})
	d.Register(&Regression{})
	d.Register(&Timeseries{})
	d.Register(&Sentry{})
	d.Register(&Personas{})
	d.Register(&Expositor{})
	d.Register(&Trust{})
}

// loadTable opens the sanitized dataset copy left by ingestion.
func loadTable(runID string, st *store.Store) (*dataset.Table, error) {
	path, err := st.Path(runID, artifact.DatasetFile)
	if err != nil {
		return nil, err
	}
	tbl, err := dataset.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading run dataset: %w", err)
	}
	return tbl, nil
}

// targetColumn returns the declared target column, if any.
func targetColumn(runID string, st *store.Store) string {
	cfg, err := st.Read(runID, artifact.RunConfig)
	if err != nil {
		return ""
	}
	target, _ := cfg["target_column"].(string)
	return target
}

// ok is the common successful result.
func ok() *step.Result {
	return &step.Result{Success: true}
}

// notApplicable builds a self-assessed non-applicability result.
func notApplicable(reason, msg string) *step.Result {
	return &step.Result{
		Success: true,
		Assessment: &step.SelfAssessment{
			Status:     "not_applicable",
			ReasonCode: reason,
			Message:    msg,
		},
	}
}

// canceled reports ctx expiry as the driver error.
func canceled(ctx context.Context) error {
	return fmt.Errorf("step interrupted: %w", ctx.Err())
}
