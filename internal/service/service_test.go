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

package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/veristat/veristat/internal/artifact"
	"github.com/veristat/veristat/internal/history"
	"github.com/veristat/veristat/internal/queue"
	"github.com/veristat/veristat/internal/store"
	"github.com/veristat/veristat/pkg/errors"
)

func newService(t *testing.T) (*Service, *store.Store, *history.Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	t.Cleanup(func() { hist.Close() })

	return New(queue.NewWithClient(client), st, hist), st, hist
}

func writeDataset(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte("a,b\n1,2\n"), 0o600); err != nil {
		t.Fatalf("dataset: %v", err)
	}
	return path
}

func TestSubmitAndGetJob(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	runID, err := svc.Submit(ctx, writeDataset(t), map[string]any{"target_column": "b"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	job, err := svc.GetJob(ctx, runID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != queue.StatusQueued {
		t.Errorf("expected queued, got %s", job.Status)
	}
}

func TestSubmitRejectsBadPaths(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, filepath.Join(t.TempDir(), "absent.csv"), nil); err == nil {
		t.Error("missing file must not submit")
	}
	if _, err := svc.Submit(ctx, t.TempDir(), nil); err == nil {
		t.Error("directory must not submit")
	}

	empty := filepath.Join(t.TempDir(), "empty.csv")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Submit(ctx, empty, nil); err == nil {
		t.Error("empty file must not submit")
	}
}

func TestGetJobValidatesRunID(t *testing.T) {
	svc, _, _ := newService(t)

	for _, id := range []string{"", "../../etc", "UPPER", "zz!!"} {
		_, err := svc.GetJob(context.Background(), id)
		var notFound *errors.NotFoundError
		if !errors.As(err, &notFound) {
			t.Errorf("id %q: expected NotFoundError, got %v", id, err)
		}
	}
}

func TestGetJobFallsBackToHistory(t *testing.T) {
	svc, _, hist := newService(t)
	ctx := context.Background()

	// The run is long gone from Redis but history remembers it.
	err := hist.Record(ctx, history.Entry{
		RunID:      "0ddba11c",
		Status:     "complete",
		SourceFile: "old.csv",
		StartedAt:  time.Now().Add(-time.Hour),
		FinishedAt: time.Now().Add(-time.Hour + time.Minute),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	job, err := svc.GetJob(ctx, "0ddba11c")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != queue.StatusCompleted || job.FilePath != "old.csv" {
		t.Errorf("unexpected fallback job: %+v", job)
	}
}

func TestGetArtifactBoundaries(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	if err := st.Write("abcd1234", artifact.Profile, store.Document{"row_count": float64(2)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := st.Write("abcd1234", artifact.Pending(artifact.TrustReport), store.Document{"score": 0.5}); err != nil {
		t.Fatalf("write: %v", err)
	}

	doc, err := svc.GetArtifact(ctx, "abcd1234", artifact.Profile)
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	if doc["row_count"] != float64(2) {
		t.Errorf("unexpected doc: %+v", doc)
	}

	var notFound *errors.NotFoundError
	if _, err := svc.GetArtifact(ctx, "abcd1234", artifact.Pending(artifact.TrustReport)); !errors.As(err, &notFound) {
		t.Error("pending artifacts must not be served")
	}
	if _, err := svc.GetArtifact(ctx, "abcd1234", "../secrets"); !errors.As(err, &notFound) {
		t.Error("traversal names must not be served")
	}
	if _, err := svc.GetArtifact(ctx, "NOT-VALID!", artifact.Profile); !errors.As(err, &notFound) {
		t.Error("invalid run ids must not be served")
	}
}

func TestGetStateMergesProgress(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	if err := st.Write("abcd1234", artifact.OrchestratorState, store.Document{"status": "running"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := st.Write("abcd1234", "progress", store.Document{
		"percent":      float64(42),
		"current_step": "regression",
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	state, err := svc.GetState(ctx, "abcd1234")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	prog, ok := state["progress"].(store.Document)
	if !ok {
		t.Fatalf("no progress in state: %+v", state)
	}
	if prog["percent"] != float64(42) || prog["current_step"] != "regression" {
		t.Errorf("unexpected progress: %+v", prog)
	}
}
