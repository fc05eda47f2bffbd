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

// Package manifest maintains the authoritative per-run record of what ran,
// what was produced, and whether the run can be trusted. The manifest is
// itself an artifact stored under a reserved name; once sealed it rejects
// all further writes.
package manifest

import (
	"sync"
	"time"

	"github.com/veristat/veristat/internal/store"
	"github.com/veristat/veristat/pkg/errors"
)

// DocumentName is the reserved artifact name of the manifest.
const DocumentName = "run_manifest"

// Warning is an accumulated run warning. Warnings with the same code and
// path are deduplicated.
type Warning struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Path    string         `json:"path,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ArtifactMeta describes a recorded artifact.
type ArtifactMeta struct {
	ProducedByStep string `json:"produced_by_step"`
	Size           int64  `json:"size"`
	SchemaVersion  string `json:"schema_version,omitempty"`
}

// Fingerprint identifies the input dataset.
type Fingerprint struct {
	Hash     string   `json:"hash"`
	Columns  []string `json:"columns"`
	RowCount int      `json:"row_count"`
}

// Recorder reads and mutates run manifests through the artifact store.
// Step transitions are single-writer; AddWarning is safe for concurrent
// callers via append semantics under a per-run lock.
type Recorder struct {
	store *store.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRecorder creates a manifest recorder on top of the artifact store.
func NewRecorder(s *store.Store) *Recorder {
	return &Recorder{
		store: s,
		locks: make(map[string]*sync.Mutex),
	}
}

// Initialize creates the manifest for a run. Subsequent calls are no-ops.
func (r *Recorder) Initialize(runID string, fp Fingerprint) error {
	lock := r.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	exists, err := r.store.Exists(runID, DocumentName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	doc := store.Document{
		"run_id":     runID,
		"created_at": time.Now().UTC().Format(time.RFC3339),
		"fingerprint": map[string]any{
			"hash":      fp.Hash,
			"columns":   toAnySlice(fp.Columns),
			"row_count": fp.RowCount,
		},
		"steps":     []any{},
		"artifacts": map[string]any{},
		"warnings":  []any{},
		"sealed":    false,
	}
	return r.store.Write(runID, DocumentName, doc)
}

// UpdateStepStatus appends a step status transition. The latest transition
// per step wins when the manifest is read.
func (r *Recorder) UpdateStepStatus(runID, step, status string) error {
	return r.mutate(runID, "update_step_status", func(doc store.Document) {
		steps, _ := doc["steps"].([]any)
		doc["steps"] = append(steps, map[string]any{
			"step":   step,
			"status": status,
			"at":     time.Now().UTC().Format(time.RFC3339),
		})
	})
}

// RecordArtifact records metadata for a produced artifact. Re-recording the
// same name overwrites the prior entry, matching idempotent re-promotion.
func (r *Recorder) RecordArtifact(runID, name string, meta ArtifactMeta) error {
	return r.mutate(runID, "record_artifact", func(doc store.Document) {
		artifacts, _ := doc["artifacts"].(map[string]any)
		if artifacts == nil {
			artifacts = map[string]any{}
		}
		artifacts[name] = map[string]any{
			"produced_by_step": meta.ProducedByStep,
			"size":             meta.Size,
			"schema_version":   meta.SchemaVersion,
			"recorded_at":      time.Now().UTC().Format(time.RFC3339),
		}
		doc["artifacts"] = artifacts
	})
}

// AddWarning appends a warning, deduplicating by (code, path).
func (r *Recorder) AddWarning(runID string, w Warning) error {
	return r.mutate(runID, "add_warning", func(doc store.Document) {
		warnings, _ := doc["warnings"].([]any)
		for _, existing := range warnings {
			entry, ok := existing.(map[string]any)
			if !ok {
				continue
			}
			if entry["code"] == w.Code && asString(entry["path"]) == w.Path {
				return
			}
		}
		entry := map[string]any{
			"code":    w.Code,
			"message": w.Message,
		}
		if w.Path != "" {
			entry["path"] = w.Path
		}
		if len(w.Details) > 0 {
			entry["details"] = w.Details
		}
		doc["warnings"] = append(warnings, entry)
	})
}

// SetFingerprint replaces the dataset fingerprint once ingestion has
// computed the real one.
func (r *Recorder) SetFingerprint(runID string, fp Fingerprint) error {
	return r.mutate(runID, "set_fingerprint", func(doc store.Document) {
		doc["fingerprint"] = map[string]any{
			"hash":      fp.Hash,
			"columns":   toAnySlice(fp.Columns),
			"row_count": fp.RowCount,
		}
	})
}

// UpdateTrust sets the trust object. Single writer, last wins.
func (r *Recorder) UpdateTrust(runID string, trust map[string]any) error {
	return r.mutate(runID, "update_trust", func(doc store.Document) {
		doc["trust"] = trust
	})
}

// Seal prohibits further manifest writes. Sealing twice is a no-op.
func (r *Recorder) Seal(runID, reason string) error {
	lock := r.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := r.store.Read(runID, DocumentName)
	if err != nil {
		return err
	}
	if sealed, _ := doc["sealed"].(bool); sealed {
		return nil
	}
	doc["sealed"] = true
	doc["sealed_at"] = time.Now().UTC().Format(time.RFC3339)
	doc["seal_reason"] = reason
	return r.store.Write(runID, DocumentName, doc)
}

// Get returns the manifest with derived fields filled in: the effective
// status per step, and default render policy and trust when the run never
// wrote them explicitly.
func (r *Recorder) Get(runID string) (store.Document, error) {
	doc, err := r.store.Read(runID, DocumentName)
	if err != nil {
		return nil, err
	}

	statuses := effectiveStepStatuses(doc)
	doc["step_statuses"] = statuses

	if _, ok := doc["render_policy"]; !ok {
		doc["render_policy"] = deriveRenderPolicy(statuses)
	}
	if _, ok := doc["trust"]; !ok {
		doc["trust"] = deriveTrustDefault(statuses, doc)
	}
	return doc, nil
}

// mutate applies fn to the manifest under the run lock, rejecting writes
// once sealed.
func (r *Recorder) mutate(runID, op string, fn func(store.Document)) error {
	lock := r.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := r.store.Read(runID, DocumentName)
	if err != nil {
		return err
	}
	if sealed, _ := doc["sealed"].(bool); sealed {
		return &errors.ManifestSealedError{RunID: runID, Op: op}
	}
	fn(doc)
	return r.store.Write(runID, DocumentName, doc)
}

// runLock returns the per-run manifest lock.
func (r *Recorder) runLock(runID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[runID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[runID] = lock
	}
	return lock
}

// effectiveStepStatuses reduces the transition history to last-wins.
func effectiveStepStatuses(doc store.Document) map[string]any {
	statuses := map[string]any{}
	steps, _ := doc["steps"].([]any)
	for _, raw := range steps {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		step := asString(entry["step"])
		if step == "" {
			continue
		}
		statuses[step] = entry["status"]
	}
	return statuses
}

// deriveRenderPolicy computes what a client may display from step outcomes.
func deriveRenderPolicy(statuses map[string]any) map[string]any {
	policy := map[string]any{
		"show_report":     statuses["expositor"] == "completed",
		"show_regression": statuses["regression"] == "completed",
		"show_clusters":   statuses["clusterer"] == "completed",
		"show_personas":   statuses["personas"] == "completed",
	}
	return policy
}

// deriveTrustDefault computes a trust object when the trust step never ran.
func deriveTrustDefault(statuses map[string]any, doc store.Document) map[string]any {
	failed := 0
	for _, status := range statuses {
		if status == "failed" {
			failed++
		}
	}
	warnings, _ := doc["warnings"].([]any)

	level := "high"
	switch {
	case failed > 0:
		level = "low"
	case len(warnings) > 0:
		level = "medium"
	}
	return map[string]any{
		"level":         level,
		"derived":       true,
		"failed_steps":  failed,
		"warning_count": len(warnings),
	}
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
