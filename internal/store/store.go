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

// Package store implements the per-run artifact store: an atomic,
// read-your-writes key/document store rooted at <data_dir>/runs/<run_id>/.
//
// Documents are JSON files written via temp-file-plus-rename so a concurrent
// reader observes either the prior value or the new value, never a partial
// write. Non-document files (reports, charts) are placed through Path, which
// resolves strictly under the run directory.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/veristat/veristat/pkg/errors"
)

// Identifier constraints enforced at every entry point.
var (
	runIDPattern        = regexp.MustCompile(`^[a-f0-9-]{8,36}$`)
	artifactNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// ValidRunID reports whether id is an acceptable run identifier.
func ValidRunID(id string) bool {
	return runIDPattern.MatchString(id)
}

// ValidArtifactName reports whether name is an acceptable artifact name.
func ValidArtifactName(name string) bool {
	return artifactNamePattern.MatchString(name)
}

// Document is a dynamic JSON artifact body. Unknown fields are preserved
// across read/write cycles but never trusted without validation.
type Document = map[string]any

// Cache is an optional secondary read cache. Implementations must tolerate
// being best-effort: cache failures never fail store operations.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Delete(key string)
}

// Store is a filesystem artifact store.
type Store struct {
	root  string
	cache Cache

	// mu guards the per-run locks map; runLock serializes Append's
	// read-modify-write per run.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithCache attaches a secondary read cache. Writes go through the cache so
// same-run reads stay strongly consistent.
func WithCache(c Cache) Option {
	return func(s *Store) { s.cache = c }
}

// New creates a Store rooted at dataDir.
func New(dataDir string, opts ...Option) (*Store, error) {
	root := filepath.Join(dataDir, "runs")
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, &errors.StoreUnavailableError{Op: "init", Path: root, Cause: err}
	}
	s := &Store{
		root:  root,
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunDir returns the directory that holds a run's artifacts, creating it if
// needed.
func (s *Store) RunDir(runID string) (string, error) {
	if !ValidRunID(runID) {
		return "", fmt.Errorf("invalid run id: %q", runID)
	}
	dir := filepath.Join(s.root, runID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", &errors.StoreUnavailableError{Op: "mkdir", Path: dir, Cause: err}
	}
	return dir, nil
}

// Write serializes the document deterministically and atomically replaces
// any existing value. The write is durable when Write returns.
func (s *Store) Write(runID, name string, doc Document) error {
	path, err := s.docPath(runID, name)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		// Serialization failures are programmer errors, not runtime faults.
		panic(fmt.Sprintf("store: unserializable document %s/%s: %v", runID, name, err))
	}

	if err := atomicWrite(path, data); err != nil {
		return &errors.StoreUnavailableError{Op: "write", Path: path, Cause: err}
	}

	if s.cache != nil {
		s.cache.Set(cacheKey(runID, name), data)
	}
	return nil
}

// Read returns the current document value, or a NotFoundError when absent.
func (s *Store) Read(runID, name string) (Document, error) {
	path, err := s.docPath(runID, name)
	if err != nil {
		return nil, err
	}

	var data []byte
	if s.cache != nil {
		if cached, ok := s.cache.Get(cacheKey(runID, name)); ok {
			data = cached
		}
	}
	if data == nil {
		data, err = os.ReadFile(path)
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "artifact", ID: runID + "/" + name}
		}
		if err != nil {
			return nil, &errors.StoreUnavailableError{Op: "read", Path: path, Cause: err}
		}
		if s.cache != nil {
			s.cache.Set(cacheKey(runID, name), data)
		}
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &errors.StoreUnavailableError{Op: "read", Path: path, Cause: err}
	}
	return doc, nil
}

// Append performs a read-modify-write on a list-valued document, creating
// it when absent. Appends within a run are serialized; there is no
// cross-artifact locking.
func (s *Store) Append(runID, name string, record any) error {
	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.Read(runID, name)
	if err != nil {
		var notFound *errors.NotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		doc = Document{"entries": []any{}}
	}

	entries, _ := doc["entries"].([]any)
	doc["entries"] = append(entries, record)
	return s.Write(runID, name, doc)
}

// Exists reports whether a document exists.
func (s *Store) Exists(runID, name string) (bool, error) {
	path, err := s.docPath(runID, name)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(path)
	if statErr == nil {
		return true, nil
	}
	if os.IsNotExist(statErr) {
		return false, nil
	}
	return false, &errors.StoreUnavailableError{Op: "stat", Path: path, Cause: statErr}
}

// Delete removes a document. Deleting an absent document is a no-op.
func (s *Store) Delete(runID, name string) error {
	path, err := s.docPath(runID, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &errors.StoreUnavailableError{Op: "delete", Path: path, Cause: err}
	}
	if s.cache != nil {
		s.cache.Delete(cacheKey(runID, name))
	}
	return nil
}

// Path resolves a non-document filename under the run directory for writers
// that produce files (Markdown, PDF, charts). The filename may contain
// forward-slash subdirectories; traversal outside the run directory is
// rejected. Parent directories are created.
func (s *Store) Path(runID, filename string) (string, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return "", err
	}
	if filename == "" || strings.Contains(filename, "..") || strings.HasPrefix(filename, "/") {
		return "", fmt.Errorf("invalid artifact filename: %q", filename)
	}
	clean := filepath.Clean(filepath.FromSlash(filename))
	full := filepath.Join(dir, clean)
	rel, err := filepath.Rel(dir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact filename escapes run directory: %q", filename)
	}
	if parent := filepath.Dir(full); parent != dir {
		if err := os.MkdirAll(parent, 0o700); err != nil {
			return "", &errors.StoreUnavailableError{Op: "mkdir", Path: parent, Cause: err}
		}
	}
	return full, nil
}

// ListDocuments returns the names of all documents stored for a run,
// pending ones included.
func (s *Store) ListDocuments(runID string) ([]string, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &errors.StoreUnavailableError{Op: "list", Path: dir, Cause: err}
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".json") {
			names = append(names, strings.TrimSuffix(name, ".json"))
		}
	}
	return names, nil
}

// docPath validates identifiers and returns the document file path.
func (s *Store) docPath(runID, name string) (string, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return "", err
	}
	if !ValidArtifactName(name) {
		return "", fmt.Errorf("invalid artifact name: %q", name)
	}
	return filepath.Join(dir, name+".json"), nil
}

// runLock returns the per-run append lock.
func (s *Store) runLock(runID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[runID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[runID] = lock
	}
	return lock
}

// atomicWrite writes data to path via a temp file rename in the same
// directory, fsyncing before the rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// cacheKey builds the secondary cache key for a document.
func cacheKey(runID, name string) string {
	return "veristat:artifact:" + runID + ":" + name
}
