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

// Package errors defines the typed error taxonomy shared by the run
// execution engine. Every error carries a stable machine-readable code
// that surfaces unchanged at the service boundary.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// Stable error codes. These appear in job messages, manifest warnings and
// API error bodies, and must not change between releases.
const (
	CodeStoreUnavailable = "ERR_STORE_UNAVAILABLE"
	CodeQueueUnavailable = "ERR_QUEUE_UNAVAILABLE"
	CodeNotFound         = "ERR_NOT_FOUND"
	CodeValidationFailed = "ERR_VALIDATION_FAILED"
	CodeManifestSealed   = "ERR_MANIFEST_SEALED"
	CodeStatusMismatch   = "ERR_STATUS_MISMATCH"
	CodeTimeout          = "ERR_TIMEOUT"
	CodeReportMissing    = "ERR_REPORT_MISSING"
)

// Coder is implemented by errors that carry a stable code.
type Coder interface {
	error
	Code() string
}

// StoreUnavailableError reports that the artifact store backend could not
// serve a read or write. It is the only runtime failure the store is
// permitted to return; serialization failures are programmer errors.
type StoreUnavailableError struct {
	// Op is the store operation that failed (e.g. "write", "read").
	Op string

	// Path identifies what was being accessed, if known.
	Path string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *StoreUnavailableError) Error() string {
	msg := fmt.Sprintf("artifact store unavailable during %s", e.Op)
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Code returns the stable error code.
func (e *StoreUnavailableError) Code() string { return CodeStoreUnavailable }

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StoreUnavailableError) Unwrap() error { return e.Cause }

// QueueUnavailableError reports that the queue backend is unreachable.
// Submissions are rejected; workers loop with backoff.
type QueueUnavailableError struct {
	// Op is the queue operation that failed (e.g. "enqueue", "fetch_next").
	Op string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *QueueUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("job queue unavailable during %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("job queue unavailable during %s", e.Op)
}

// Code returns the stable error code.
func (e *QueueUnavailableError) Code() string { return CodeQueueUnavailable }

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *QueueUnavailableError) Unwrap() error { return e.Cause }

// NotFoundError reports that a run, job or artifact does not exist.
type NotFoundError struct {
	// Resource is the kind of resource (e.g. "run", "artifact", "job").
	Resource string

	// ID is the identifier that was not found.
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// Code returns the stable error code.
func (e *NotFoundError) Code() string { return CodeNotFound }

// ValidationFailedError reports that a pending artifact failed its
// validator and was not promoted.
type ValidationFailedError struct {
	// Artifact is the promotable artifact name.
	Artifact string

	// Problems lists the validator's error messages.
	Problems []string
}

// Error implements the error interface.
func (e *ValidationFailedError) Error() string {
	if len(e.Problems) == 0 {
		return fmt.Sprintf("artifact %s failed validation", e.Artifact)
	}
	return fmt.Sprintf("artifact %s failed validation: %s", e.Artifact, strings.Join(e.Problems, "; "))
}

// Code returns the stable error code.
func (e *ValidationFailedError) Code() string { return CodeValidationFailed }

// ManifestSealedError reports a write attempted after the run manifest was
// sealed. This indicates an internal bug; callers log it and continue.
type ManifestSealedError struct {
	// RunID is the sealed run.
	RunID string

	// Op is the rejected operation.
	Op string
}

// Error implements the error interface.
func (e *ManifestSealedError) Error() string {
	return fmt.Sprintf("manifest for run %s is sealed, rejected %s", e.RunID, e.Op)
}

// Code returns the stable error code.
func (e *ManifestSealedError) Code() string { return CodeManifestSealed }

// StatusMismatchError reports an artifact/step-status coherence violation,
// e.g. a promoted regression artifact alongside a non-success step status.
// The run fails.
type StatusMismatchError struct {
	// RunID is the affected run.
	RunID string

	// Detail describes the violated pairing.
	Detail string
}

// Error implements the error interface.
func (e *StatusMismatchError) Error() string {
	return fmt.Sprintf("status coherence violation in run %s: %s", e.RunID, e.Detail)
}

// Code returns the stable error code.
func (e *StatusMismatchError) Code() string { return CodeStatusMismatch }

// TimeoutError reports that a step or job exceeded its budget.
type TimeoutError struct {
	// Operation describes what timed out (e.g. "step regression").
	Operation string

	// Duration is how long the operation ran before being killed.
	Duration time.Duration

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
}

// Code returns the stable error code.
func (e *TimeoutError) Code() string { return CodeTimeout }

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error { return e.Cause }

// ReportMissingError reports that the report enforcer could not find a
// valid final report before its deadline; the run is downgraded to failed.
type ReportMissingError struct {
	// RunID is the affected run.
	RunID string

	// Waited is how long the enforcer polled before giving up.
	Waited time.Duration
}

// Error implements the error interface.
func (e *ReportMissingError) Error() string {
	return fmt.Sprintf("no final report for run %s after %v", e.RunID, e.Waited)
}

// Code returns the stable error code.
func (e *ReportMissingError) Code() string { return CodeReportMissing }
