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

// Package service is the boundary facade in front of the queue, the
// store and the manifest. All identifiers arriving from the outside are
// validated here, before any collaborator sees them.
package service

import (
	"context"
	"fmt"
	"os"

	"github.com/veristat/veristat/internal/artifact"
	"github.com/veristat/veristat/internal/history"
	"github.com/veristat/veristat/internal/manifest"
	"github.com/veristat/veristat/internal/progress"
	"github.com/veristat/veristat/internal/queue"
	"github.com/veristat/veristat/internal/store"
	"github.com/veristat/veristat/pkg/errors"
)

// Service exposes the run lifecycle operations.
type Service struct {
	queue    *queue.Queue
	store    *store.Store
	manifest *manifest.Recorder
	progress *progress.Tracker
	history  *history.Store
}

// New creates a service. history may be nil; listing then relies on the
// queue alone.
func New(q *queue.Queue, st *store.Store, hist *history.Store) *Service {
	return &Service{
		queue:    q,
		store:    st,
		manifest: manifest.NewRecorder(st),
		progress: progress.NewTracker(st),
		history:  hist,
	}
}

// Submit validates the dataset path and enqueues a run. The returned run
// id is stable for the run's whole life.
func (s *Service) Submit(ctx context.Context, filePath string, runConfig map[string]any) (string, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return "", fmt.Errorf("dataset not readable: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("dataset path %s is a directory", filePath)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("dataset %s is empty", filePath)
	}
	return s.queue.Enqueue(ctx, filePath, runConfig)
}

// GetJob returns queue status for a run, falling back to the durable
// history when Redis no longer remembers it.
func (s *Service) GetJob(ctx context.Context, runID string) (*queue.Job, error) {
	if !store.ValidRunID(runID) {
		return nil, &errors.NotFoundError{Resource: "run", ID: runID}
	}
	job, err := s.queue.Get(ctx, runID)
	if err == nil {
		return job, nil
	}

	var notFound *errors.NotFoundError
	if s.history != nil && errors.As(err, &notFound) {
		entry, histErr := s.history.Get(ctx, runID)
		if histErr == nil {
			return &queue.Job{
				RunID:     entry.RunID,
				FilePath:  entry.SourceFile,
				Status:    terminalQueueStatus(entry.Status),
				Message:   entry.Message,
				CreatedAt: entry.StartedAt,
				UpdatedAt: entry.FinishedAt,
			}, nil
		}
	}
	return nil, err
}

// ListJobs returns recent submissions, newest first.
func (s *Service) ListJobs(ctx context.Context, limit, offset int) ([]*queue.Job, error) {
	return s.queue.List(ctx, limit, offset)
}

// GetState returns the orchestrator state merged with progress.
func (s *Service) GetState(ctx context.Context, runID string) (store.Document, error) {
	if !store.ValidRunID(runID) {
		return nil, &errors.NotFoundError{Resource: "run", ID: runID}
	}
	state, err := s.store.Read(runID, artifact.OrchestratorState)
	if err != nil {
		return nil, err
	}
	if snap, err := s.progress.Get(runID); err == nil {
		state["progress"] = store.Document{
			"percent":      snap.Percent,
			"current_step": snap.CurrentStep,
			"next_step":    snap.NextStep,
		}
	}
	return state, nil
}

// GetArtifact returns one named artifact document. Pending drafts are not
// served: they belong to the engine, not the API.
func (s *Service) GetArtifact(ctx context.Context, runID, name string) (store.Document, error) {
	if !store.ValidRunID(runID) {
		return nil, &errors.NotFoundError{Resource: "run", ID: runID}
	}
	if !store.ValidArtifactName(name) {
		return nil, &errors.NotFoundError{Resource: "artifact", ID: name}
	}
	if _, pending := artifact.IsPending(name); pending {
		return nil, &errors.NotFoundError{Resource: "artifact", ID: name}
	}
	return s.store.Read(runID, name)
}

// GetManifest returns the run manifest with derived render policy.
func (s *Service) GetManifest(ctx context.Context, runID string) (store.Document, error) {
	if !store.ValidRunID(runID) {
		return nil, &errors.NotFoundError{Resource: "run", ID: runID}
	}
	return s.manifest.Get(runID)
}

// terminalQueueStatus maps an orchestrator terminal status onto the
// queue's vocabulary.
func terminalQueueStatus(status string) queue.Status {
	if status == "failed" {
		return queue.StatusFailed
	}
	return queue.StatusCompleted
}
