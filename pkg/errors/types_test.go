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

package errors

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestCodes(t *testing.T) {
	cases := []struct {
		err  Coder
		code string
	}{
		{&StoreUnavailableError{Op: "write"}, CodeStoreUnavailable},
		{&QueueUnavailableError{Op: "enqueue"}, CodeQueueUnavailable},
		{&NotFoundError{Resource: "run", ID: "abcd1234"}, CodeNotFound},
		{&ValidationFailedError{Artifact: "profile"}, CodeValidationFailed},
		{&ManifestSealedError{RunID: "abcd1234", Op: "add_warning"}, CodeManifestSealed},
		{&StatusMismatchError{RunID: "abcd1234"}, CodeStatusMismatch},
		{&TimeoutError{Operation: "step regression", Duration: time.Second}, CodeTimeout},
		{&ReportMissingError{RunID: "abcd1234", Waited: 30 * time.Second}, CodeReportMissing},
	}
	for _, tc := range cases {
		if tc.err.Code() != tc.code {
			t.Errorf("%T: got code %s, want %s", tc.err, tc.err.Code(), tc.code)
		}
		if tc.err.Error() == "" {
			t.Errorf("%T: empty message", tc.err)
		}
	}
}

func TestCodeOfSeesThroughWrapping(t *testing.T) {
	inner := &TimeoutError{Operation: "step scanner", Duration: 2 * time.Second}
	wrapped := Wrapf(Wrap(inner, "dispatch"), "run %s", "abcd1234")

	if code := CodeOf(wrapped); code != CodeTimeout {
		t.Errorf("got code %q, want %s", code, CodeTimeout)
	}

	var timeout *TimeoutError
	if !As(wrapped, &timeout) || timeout.Operation != "step scanner" {
		t.Error("As must recover the typed error through wrapping")
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if code := CodeOf(fmt.Errorf("plain")); code != "" {
		t.Errorf("plain error must have no code, got %q", code)
	}
	if code := CodeOf(nil); code != "" {
		t.Errorf("nil error must have no code, got %q", code)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("wrapping nil must stay nil")
	}
	if Wrapf(nil, "context %d", 1) != nil {
		t.Error("wrapping nil must stay nil")
	}
}

func TestValidationFailedMessageJoinsProblems(t *testing.T) {
	err := &ValidationFailedError{
		Artifact: "regression_insights",
		Problems: []string{"importance out of range", "missing r2"},
	}
	msg := err.Error()
	if !strings.Contains(msg, "importance out of range") || !strings.Contains(msg, "missing r2") {
		t.Errorf("message must carry all problems: %s", msg)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 100); got != "short" {
		t.Errorf("short message must pass through, got %q", got)
	}
	long := strings.Repeat("x", 50)
	got := Truncate(long, 10)
	if len(got) != 10 || !strings.HasSuffix(got, "...") {
		t.Errorf("got %q (len %d)", got, len(got))
	}
	if got := Truncate(long, 0); got != long {
		t.Errorf("non-positive limit must disable truncation, got len %d", len(got))
	}
}
