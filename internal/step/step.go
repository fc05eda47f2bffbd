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

// Package step defines the driver contract: the interface every pipeline
// step implements. Drivers are pure artifact transformers — they read
// artifacts written by prior steps and write their outputs as pending
// artifacts. They never touch the queue, the manifest or the orchestrator.
package step

import (
	"context"
	"time"

	"github.com/veristat/veristat/internal/registry"
	"github.com/veristat/veristat/internal/store"
)

// MaxTailBytes bounds stdout/stderr tails captured in step results.
const MaxTailBytes = 2000

// Dataset-derived timeout parameters.
const (
	timeoutBase         = 900 * time.Second
	timeoutCap          = 1800 * time.Second
	perMBFactor         = 2
	perMBFactorIntense  = 3
)

// SelfAssessment is a driver's own eligibility verdict, reported when the
// driver decides internally that it does not apply to the dataset.
type SelfAssessment struct {
	Status     string `json:"status"` // "skipped" or "not_applicable"
	ReasonCode string `json:"reason_code"`
	Message    string `json:"message,omitempty"`
}

// Result is the outcome of one driver invocation.
type Result struct {
	Success    bool            `json:"success"`
	StdoutTail string          `json:"stdout_tail,omitempty"`
	StderrTail string          `json:"stderr_tail,omitempty"`
	Assessment *SelfAssessment `json:"eligibility,omitempty"`
}

// Driver executes one pipeline step. Run must honor ctx cancellation; the
// orchestrator kills drivers that exceed their timeout.
type Driver interface {
	// Name returns the registry step name this driver serves.
	Name() string

	// Run reads prior artifacts and writes pending outputs for this step.
	// A missing required input artifact is an error, not a crash.
	Run(ctx context.Context, runID string, st *store.Store) (*Result, error)
}

// Dispatcher maps step names to registered drivers.
type Dispatcher struct {
	drivers map[string]Driver
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{drivers: make(map[string]Driver)}
}

// Register adds a driver. Registering the same name twice replaces the
// prior driver.
func (d *Dispatcher) Register(driver Driver) {
	d.drivers[driver.Name()] = driver
}

// Get returns the driver for a step name.
func (d *Dispatcher) Get(name string) (Driver, bool) {
	driver, ok := d.drivers[name]
	return driver, ok
}

// Timeout computes the execution bound for a step: the dataset-derived
// timeout (base 900s plus a per-megabyte factor, capped at 1800s), further
// bounded by the step's declared budget.
func Timeout(s registry.Step, datasetSizeMB float64) time.Duration {
	factor := perMBFactor
	if s.ComputeIntensive {
		factor = perMBFactorIntense
	}
	derived := timeoutBase + time.Duration(float64(factor)*datasetSizeMB)*time.Second
	if derived > timeoutCap {
		derived = timeoutCap
	}
	if s.TimeBudget > 0 && s.TimeBudget < derived {
		return s.TimeBudget
	}
	return derived
}

// CapTail truncates a captured output tail to MaxTailBytes, keeping the
// end of the output.
func CapTail(s string) string {
	if len(s) <= MaxTailBytes {
		return s
	}
	return s[len(s)-MaxTailBytes:]
}
