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
	"os"
	"time"

	"github.com/veristat/veristat/internal/artifact"
	"github.com/veristat/veristat/internal/store"
	"github.com/veristat/veristat/pkg/errors"
)

// Enforcer defaults.
const (
	enforcerWait     = 30 * time.Second
	enforcerInterval = 1 * time.Second
)

// Enforcer guarantees that a run heading for success actually carries its
// final report, in both the document and the file form, before the
// terminal status is announced.
type Enforcer struct {
	store    *store.Store
	wait     time.Duration
	interval time.Duration
}

// NewEnforcer creates an enforcer with the default 30s grace window.
func NewEnforcer(st *store.Store) *Enforcer {
	return &Enforcer{store: st, wait: enforcerWait, interval: enforcerInterval}
}

// Wait polls until both report forms exist and are non-empty, the grace
// window elapses, or ctx is canceled. The returned error is a
// ReportMissingError when the window closes without a report.
func (e *Enforcer) Wait(ctx context.Context, runID string) error {
	deadline := time.Now().Add(e.wait)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		if e.present(runID) {
			return nil
		}
		if time.Now().After(deadline) {
			return &errors.ReportMissingError{RunID: runID, Waited: e.wait}
		}
		select {
		case <-ctx.Done():
			return &errors.ReportMissingError{RunID: runID, Waited: e.wait}
		case <-ticker.C:
		}
	}
}

// present checks both report forms.
func (e *Enforcer) present(runID string) bool {
	doc, err := e.store.Read(runID, artifact.FinalReport)
	if err != nil {
		return false
	}
	markdown, _ := doc["markdown"].(string)
	if markdown == "" {
		return false
	}

	path, err := e.store.Path(runID, artifact.FinalReportFile)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
