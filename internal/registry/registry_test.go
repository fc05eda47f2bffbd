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

package registry

import (
	"testing"
	"time"
)

func TestCanonicalPipelineIsValid(t *testing.T) {
	steps, err := Pipeline()
	if err != nil {
		t.Fatalf("Pipeline failed: %v", err)
	}
	if len(steps) != 12 {
		t.Errorf("expected 12 steps, got %d", len(steps))
	}
	if steps[0].Name != StepIngestion {
		t.Errorf("expected ingestion first, got %s", steps[0].Name)
	}
	if steps[len(steps)-1].Name != StepTrust {
		t.Errorf("expected trust last, got %s", steps[len(steps)-1].Name)
	}

	// The report step precedes governance.
	if steps[len(steps)-2].Name != StepExpositor {
		t.Errorf("expected expositor before trust, got %s", steps[len(steps)-2].Name)
	}
}

func TestLoadInjectsMissingReportStep(t *testing.T) {
	steps, err := Load([]Step{
		{Name: StepIngestion, Critical: true, TimeBudget: time.Minute, Kind: KindFoundational},
		{Name: StepScanner, TimeBudget: time.Minute, Kind: KindFoundational},
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	last := steps[len(steps)-1]
	if last.Name != StepExpositor {
		t.Fatalf("expected injected expositor last, got %s", last.Name)
	}
	if !last.Critical {
		t.Error("injected report step must be critical")
	}
}

func TestLoadInjectsReportBeforeTrust(t *testing.T) {
	steps, err := Load([]Step{
		{Name: StepIngestion, Critical: true, TimeBudget: time.Minute, Kind: KindFoundational},
		{Name: StepTrust, TimeBudget: time.Minute, Kind: KindGovernance},
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if steps[len(steps)-1].Name != StepTrust {
		t.Errorf("trust must stay last, got %s", steps[len(steps)-1].Name)
	}
	if steps[len(steps)-2].Name != StepExpositor {
		t.Errorf("expositor must be injected before trust, got %s", steps[len(steps)-2].Name)
	}
}

func TestLoadRejectsMisplacedGovernance(t *testing.T) {
	_, err := Load([]Step{
		{Name: StepTrust, TimeBudget: time.Minute, Kind: KindGovernance},
		{Name: StepExpositor, Critical: true, TimeBudget: time.Minute, Kind: KindNarrative},
		{Name: StepScanner, TimeBudget: time.Minute, Kind: KindFoundational},
	})
	if err == nil {
		t.Fatal("expected error for governance step not last")
	}
}

func TestLoadRejectsMisplacedReportStep(t *testing.T) {
	_, err := Load([]Step{
		{Name: StepExpositor, Critical: true, TimeBudget: time.Minute, Kind: KindNarrative},
		{Name: StepScanner, TimeBudget: time.Minute, Kind: KindFoundational},
	})
	if err == nil {
		t.Fatal("expected error for report step not last")
	}
}

func TestLoadRejectsDuplicates(t *testing.T) {
	_, err := Load([]Step{
		{Name: StepScanner, TimeBudget: time.Minute},
		{Name: StepScanner, TimeBudget: time.Minute},
	})
	if err == nil {
		t.Fatal("expected error for duplicate step")
	}
}

func TestLookup(t *testing.T) {
	steps := MustPipeline()

	step, ok := Lookup(steps, StepRegression)
	if !ok {
		t.Fatal("regression step not found")
	}
	if !step.ComputeIntensive {
		t.Error("regression should be compute intensive")
	}

	if _, ok := Lookup(steps, "nonexistent"); ok {
		t.Error("expected lookup miss")
	}
}
