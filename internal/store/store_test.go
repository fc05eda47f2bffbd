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

package store

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/veristat/veristat/pkg/errors"
)

const testRunID = "a1b2c3d4"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	doc := Document{"rows": float64(500), "target": "revenue"}
	if err := s.Write(testRunID, "profile", doc); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := s.Read(testRunID, "profile")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got["target"] != "revenue" {
		t.Errorf("expected target revenue, got %v", got["target"])
	}
	if got["rows"] != float64(500) {
		t.Errorf("expected rows 500, got %v", got["rows"])
	}
}

func TestReadAbsentReturnsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Read(testRunID, "missing")
	var notFound *errors.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestWriteReplacesExisting(t *testing.T) {
	s := newTestStore(t)

	if err := s.Write(testRunID, "doc", Document{"v": float64(1)}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := s.Write(testRunID, "doc", Document{"v": float64(2)}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := s.Read(testRunID, "doc")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got["v"] != float64(2) {
		t.Errorf("expected v=2, got %v", got["v"])
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	if err := s.Write(testRunID, "doc", Document{}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Delete(testRunID, "doc"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(testRunID, "doc"); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}

	exists, err := s.Exists(testRunID, "doc")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("document still exists after delete")
	}
}

func TestAppendCreatesAndGrowsList(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append(testRunID, "warnings", map[string]any{"code": "W1"}); err != nil {
		t.Fatalf("first Append failed: %v", err)
	}
	if err := s.Append(testRunID, "warnings", map[string]any{"code": "W2"}); err != nil {
		t.Fatalf("second Append failed: %v", err)
	}

	doc, err := s.Read(testRunID, "warnings")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	entries, ok := doc["entries"].([]any)
	if !ok {
		t.Fatalf("entries is not a list: %T", doc["entries"])
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(entries))
	}
}

func TestAppendConcurrent(t *testing.T) {
	s := newTestStore(t)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := s.Append(testRunID, "events", map[string]any{"n": n}); err != nil {
				t.Errorf("Append failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	doc, err := s.Read(testRunID, "events")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	entries := doc["entries"].([]any)
	if len(entries) != writers {
		t.Errorf("expected %d entries, got %d", writers, len(entries))
	}
}

func TestInvalidIdentifiersRejected(t *testing.T) {
	s := newTestStore(t)

	if err := s.Write("../../etc", "doc", Document{}); err == nil {
		t.Error("expected error for traversal run id")
	}
	if err := s.Write("ZZZZZZZZ", "doc", Document{}); err == nil {
		t.Error("expected error for non-hex run id")
	}
	if err := s.Write(testRunID, "bad/name", Document{}); err == nil {
		t.Error("expected error for artifact name with slash")
	}
	if err := s.Write(testRunID, "bad.name", Document{}); err == nil {
		t.Error("expected error for artifact name with dot")
	}
}

func TestPathStaysUnderRunDir(t *testing.T) {
	s := newTestStore(t)

	p, err := s.Path(testRunID, "final_report.md")
	if err != nil {
		t.Fatalf("Path failed: %v", err)
	}
	if filepath.Base(p) != "final_report.md" {
		t.Errorf("unexpected path: %s", p)
	}

	if _, err := s.Path(testRunID, "../outside.md"); err == nil {
		t.Error("expected traversal rejection")
	}
	if _, err := s.Path(testRunID, "/abs/path.md"); err == nil {
		t.Error("expected absolute path rejection")
	}

	// Subdirectories for charts are created on demand.
	chart, err := s.Path(testRunID, "artifacts/charts/corr.png")
	if err != nil {
		t.Fatalf("chart Path failed: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(chart)); err != nil {
		t.Errorf("chart directory not created: %v", err)
	}
}

func TestListDocumentsIncludesPending(t *testing.T) {
	s := newTestStore(t)

	if err := s.Write(testRunID, "profile", Document{}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Write(testRunID, "profile_pending", Document{}); err != nil {
		t.Fatalf("Write pending failed: %v", err)
	}

	names, err := s.ListDocuments(testRunID)
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	joined := strings.Join(names, ",")
	if !strings.Contains(joined, "profile") || !strings.Contains(joined, "profile_pending") {
		t.Errorf("unexpected names: %v", names)
	}
}
