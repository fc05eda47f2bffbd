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

// Package progress maintains the per-run progress view consumed by status
// queries. Percent is clamped to [0, 100] and never moves backwards.
package progress

import (
	"sync"
	"time"

	"github.com/veristat/veristat/internal/store"
	"github.com/veristat/veristat/pkg/errors"
)

// DocumentName is the store document progress is persisted under.
const DocumentName = "progress"

// Snapshot is the externally visible progress of a run.
type Snapshot struct {
	Percent        float64  `json:"percent"`
	CurrentStep    string   `json:"current_step,omitempty"`
	NextStep       string   `json:"next_step,omitempty"`
	CompletedSteps []string `json:"completed_steps"`
	FailedSteps    []string `json:"failed_steps"`
	Message        string   `json:"message,omitempty"`
	UpdatedAt      string   `json:"updated_at"`
}

// Tracker writes progress snapshots to the artifact store.
type Tracker struct {
	store *store.Store
	now   func() time.Time

	mu   sync.Mutex
	last map[string]float64
}

// NewTracker creates a tracker over the given store.
func NewTracker(st *store.Store) *Tracker {
	return &Tracker{
		store: st,
		now:   time.Now,
		last:  make(map[string]float64),
	}
}

// Update persists a progress snapshot. Percent is clamped to [0, 100] and
// regressions are silently pinned to the highest value already reported, so
// retries never make the bar move backwards.
func (t *Tracker) Update(runID string, snap Snapshot) error {
	if snap.Percent < 0 {
		snap.Percent = 0
	}
	if snap.Percent > 100 {
		snap.Percent = 100
	}

	t.mu.Lock()
	if prev, ok := t.last[runID]; ok && snap.Percent < prev {
		snap.Percent = prev
	}
	t.last[runID] = snap.Percent
	t.mu.Unlock()

	snap.UpdatedAt = t.now().UTC().Format(time.RFC3339)
	if snap.CompletedSteps == nil {
		snap.CompletedSteps = []string{}
	}
	if snap.FailedSteps == nil {
		snap.FailedSteps = []string{}
	}

	return t.store.Write(runID, DocumentName, store.Document{
		"percent":         snap.Percent,
		"current_step":    snap.CurrentStep,
		"next_step":       snap.NextStep,
		"completed_steps": snap.CompletedSteps,
		"failed_steps":    snap.FailedSteps,
		"message":         snap.Message,
		"updated_at":      snap.UpdatedAt,
	})
}

// Get reads the current progress snapshot. A run with no snapshot yet
// reports zero percent.
func (t *Tracker) Get(runID string) (*Snapshot, error) {
	doc, err := t.store.Read(runID, DocumentName)
	if err != nil {
		var notFound *errors.NotFoundError
		if errors.As(err, &notFound) {
			return &Snapshot{CompletedSteps: []string{}, FailedSteps: []string{}}, nil
		}
		return nil, err
	}

	snap := &Snapshot{CompletedSteps: []string{}, FailedSteps: []string{}}
	if v, ok := doc["percent"].(float64); ok {
		snap.Percent = v
	}
	if v, ok := doc["current_step"].(string); ok {
		snap.CurrentStep = v
	}
	if v, ok := doc["next_step"].(string); ok {
		snap.NextStep = v
	}
	if v, ok := doc["message"].(string); ok {
		snap.Message = v
	}
	if v, ok := doc["updated_at"].(string); ok {
		snap.UpdatedAt = v
	}
	if steps, ok := doc["completed_steps"].([]any); ok {
		for _, s := range steps {
			if name, ok := s.(string); ok {
				snap.CompletedSteps = append(snap.CompletedSteps, name)
			}
		}
	}
	if steps, ok := doc["failed_steps"].([]any); ok {
		for _, s := range steps {
			if name, ok := s.(string); ok {
				snap.FailedSteps = append(snap.FailedSteps, name)
			}
		}
	}
	return snap, nil
}

// Forget drops the in-memory high-water mark for a run. Called when a run
// reaches a terminal status.
func (t *Tracker) Forget(runID string) {
	t.mu.Lock()
	delete(t.last, runID)
	t.mu.Unlock()
}
