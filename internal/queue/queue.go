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

// Package queue implements the Redis-backed job queue. Jobs are run
// submissions; delivery to workers uses the reliable-queue pattern
// (BRPOPLPUSH from pending to processing) so no job is ever handed to two
// workers. Job state lives in a per-job hash; a sweeper fails jobs whose
// heartbeat has gone stale.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/veristat/veristat/pkg/errors"
)

// Status values for a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Redis key layout.
const (
	keyPending    = "veristat:queue:pending"
	keyProcessing = "veristat:queue:processing"
	keyRunning    = "veristat:jobs:running"
	keyIndex      = "veristat:jobs:index"
	keyJobPrefix  = "veristat:job:"
)

// Job is a queued run submission.
type Job struct {
	RunID     string         `json:"run_id"`
	FilePath  string         `json:"file_path"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Message   string         `json:"message,omitempty"`
	RunPath   string         `json:"run_path,omitempty"`
	RunConfig map[string]any `json:"run_config,omitempty"`
}

// Queue is a Redis job queue. It is safe for multiple webserver writers
// and multiple workers.
type Queue struct {
	client *redis.Client
	now    func() time.Time
}

// New creates a Queue from a Redis URL.
func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return NewWithClient(redis.NewClient(opts)), nil
}

// NewWithClient creates a Queue on an existing client. Used by tests.
func NewWithClient(client *redis.Client) *Queue {
	return &Queue{client: client, now: time.Now}
}

// Close releases the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

// Ping verifies the backend is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return &errors.QueueUnavailableError{Op: "ping", Cause: err}
	}
	return nil
}

// Enqueue allocates a fresh run id, records the job as queued and appends
// it to the FIFO.
func (q *Queue) Enqueue(ctx context.Context, filePath string, runConfig map[string]any) (string, error) {
	runID := NewRunID()
	now := q.now().UTC()

	fields := map[string]any{
		"run_id":     runID,
		"file_path":  filePath,
		"status":     string(StatusQueued),
		"created_at": now.Format(time.RFC3339Nano),
		"updated_at": now.Format(time.RFC3339Nano),
	}
	if runConfig != nil {
		cfgJSON, err := json.Marshal(runConfig)
		if err != nil {
			return "", fmt.Errorf("marshaling run config: %w", err)
		}
		fields["run_config"] = string(cfgJSON)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, keyJobPrefix+runID, fields)
	pipe.LPush(ctx, keyIndex, runID)
	pipe.LPush(ctx, keyPending, runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", &errors.QueueUnavailableError{Op: "enqueue", Cause: err}
	}
	return runID, nil
}

// FetchNext blocks for up to timeout and atomically claims the next queued
// job, moving it to running. Returns (nil, nil) when no job arrived.
func (q *Queue) FetchNext(ctx context.Context, timeout time.Duration) (*Job, error) {
	runID, err := q.client.BRPopLPush(ctx, keyPending, keyProcessing, timeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errors.QueueUnavailableError{Op: "fetch_next", Cause: err}
	}

	now := q.now().UTC().Format(time.RFC3339Nano)
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, keyJobPrefix+runID, "status", string(StatusRunning), "updated_at", now)
	pipe.SAdd(ctx, keyRunning, runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, &errors.QueueUnavailableError{Op: "fetch_next", Cause: err}
	}

	return q.Get(ctx, runID)
}

// UpdateStatus moves a job to the given status. Idempotent; terminal
// transitions clear the job from the processing list and running set.
func (q *Queue) UpdateStatus(ctx context.Context, runID string, status Status, message, runPath string) error {
	fields := map[string]any{
		"status":     string(status),
		"updated_at": q.now().UTC().Format(time.RFC3339Nano),
	}
	if message != "" {
		fields["message"] = errors.Truncate(message, 500)
	}
	if runPath != "" {
		fields["run_path"] = runPath
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, keyJobPrefix+runID, fields)
	switch status {
	case StatusRunning:
		pipe.SAdd(ctx, keyRunning, runID)
	case StatusCompleted, StatusFailed:
		pipe.SRem(ctx, keyRunning, runID)
		pipe.LRem(ctx, keyProcessing, 0, runID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &errors.QueueUnavailableError{Op: "update_status", Cause: err}
	}
	return nil
}

// Heartbeat refreshes a job's updated_at without changing its state.
func (q *Queue) Heartbeat(ctx context.Context, runID string) error {
	err := q.client.HSet(ctx, keyJobPrefix+runID, "updated_at", q.now().UTC().Format(time.RFC3339Nano)).Err()
	if err != nil {
		return &errors.QueueUnavailableError{Op: "heartbeat", Cause: err}
	}
	return nil
}

// Get returns a job by run id, or a NotFoundError when unknown.
func (q *Queue) Get(ctx context.Context, runID string) (*Job, error) {
	fields, err := q.client.HGetAll(ctx, keyJobPrefix+runID).Result()
	if err != nil {
		return nil, &errors.QueueUnavailableError{Op: "get", Cause: err}
	}
	if len(fields) == 0 {
		return nil, &errors.NotFoundError{Resource: "job", ID: runID}
	}
	return jobFromFields(fields), nil
}

// List returns jobs in reverse submission order, paginated.
func (q *Queue) List(ctx context.Context, limit, offset int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	ids, err := q.client.LRange(ctx, keyIndex, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, &errors.QueueUnavailableError{Op: "list", Cause: err}
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if err != nil {
			var notFound *errors.NotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// QueueLength returns the number of jobs waiting in the FIFO.
func (q *Queue) QueueLength(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, keyPending).Result()
	if err != nil {
		return 0, &errors.QueueUnavailableError{Op: "queue_length", Cause: err}
	}
	return n, nil
}

// CleanupStuckJobs fails any running job whose updated_at is older than the
// timeout and returns the affected run ids.
func (q *Queue) CleanupStuckJobs(ctx context.Context, timeout time.Duration) ([]string, error) {
	ids, err := q.client.SMembers(ctx, keyRunning).Result()
	if err != nil {
		return nil, &errors.QueueUnavailableError{Op: "cleanup_stuck_jobs", Cause: err}
	}

	cutoff := q.now().UTC().Add(-timeout)
	var swept []string
	for _, id := range ids {
		updated, err := q.client.HGet(ctx, keyJobPrefix+id, "updated_at").Result()
		if err == redis.Nil {
			// Orphaned membership; drop it.
			q.client.SRem(ctx, keyRunning, id)
			continue
		}
		if err != nil {
			return swept, &errors.QueueUnavailableError{Op: "cleanup_stuck_jobs", Cause: err}
		}
		ts, parseErr := time.Parse(time.RFC3339Nano, updated)
		if parseErr != nil || ts.After(cutoff) {
			continue
		}
		msg := fmt.Sprintf("Job timed out after %d minutes", int(timeout.Minutes()))
		if err := q.UpdateStatus(ctx, id, StatusFailed, msg, ""); err != nil {
			return swept, err
		}
		swept = append(swept, id)
	}
	return swept, nil
}

// NewRunID allocates a fresh 8-hex run identifier.
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// jobFromFields decodes a Redis job hash.
func jobFromFields(fields map[string]string) *Job {
	job := &Job{
		RunID:    fields["run_id"],
		FilePath: fields["file_path"],
		Status:   Status(fields["status"]),
		Message:  fields["message"],
		RunPath:  fields["run_path"],
	}
	if v := fields["created_at"]; v != "" {
		job.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v := fields["updated_at"]; v != "" {
		job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v := fields["run_config"]; v != "" {
		_ = json.Unmarshal([]byte(v), &job.RunConfig)
	}
	return job
}
