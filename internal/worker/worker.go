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

// Package worker claims jobs from the queue and drives them through the
// orchestrator. A pool runs several workers plus the stuck-job sweeper
// under one lifecycle.
package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veristat/veristat/internal/artifact"
	"github.com/veristat/veristat/internal/history"
	veristatlog "github.com/veristat/veristat/internal/log"
	"github.com/veristat/veristat/internal/metrics"
	"github.com/veristat/veristat/internal/orchestrator"
	"github.com/veristat/veristat/internal/queue"
	"github.com/veristat/veristat/internal/store"
	"github.com/veristat/veristat/pkg/errors"
)

// fetchTimeout bounds one blocking queue poll so shutdown is responsive.
const fetchTimeout = 5 * time.Second

// Worker processes one job at a time.
type Worker struct {
	queue  *queue.Queue
	store  *store.Store
	orch   *orchestrator.Orchestrator
	logger *slog.Logger

	// History, when set, receives an entry for every terminal run.
	History *history.Store
}

// New creates a worker.
func New(q *queue.Queue, st *store.Store, orch *orchestrator.Orchestrator, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:  q,
		store:  st,
		orch:   orch,
		logger: veristatlog.WithComponent(logger, "worker"),
	}
}

// Run loops until ctx is canceled: fetch, process, repeat. An empty queue
// is not an error; fetch failures are logged and retried.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		job, err := w.queue.FetchNext(ctx, fetchTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("fetch failed", veristatlog.Error(err))
			continue
		}
		if job == nil {
			continue
		}
		w.process(ctx, job)
	}
}

// process executes one claimed job to a terminal queue status. The
// orchestrator's heartbeat hook keeps the job's liveness clock fresh so
// the sweeper never kills a progressing run.
func (w *Worker) process(ctx context.Context, job *queue.Job) {
	logger := veristatlog.WithRunContext(w.logger, job.RunID)
	logger.Info("job claimed", "file", job.FilePath)

	cfg := store.Document{"source_path": job.FilePath}
	for k, v := range job.RunConfig {
		cfg[k] = v
	}
	if err := w.store.Write(job.RunID, artifact.RunConfig, cfg); err != nil {
		logger.Error("writing run config", veristatlog.Error(err))
		_ = w.queue.UpdateStatus(ctx, job.RunID, queue.StatusFailed, err.Error(), "")
		return
	}

	w.orch.Heartbeat = func(runID string) {
		_ = w.queue.Heartbeat(ctx, runID)
	}

	started := time.Now()
	status, err := w.orch.Execute(ctx, job.RunID)
	runPath, _ := w.store.RunDir(job.RunID)
	if err != nil {
		logger.Error("run aborted", veristatlog.Error(err))
		_ = w.queue.UpdateStatus(ctx, job.RunID, queue.StatusFailed, err.Error(), runPath)
		w.recordHistory(ctx, job, orchestrator.StatusFailed, err.Error(), started)
		return
	}

	message := "run " + status
	switch status {
	case orchestrator.StatusFailed:
		_ = w.queue.UpdateStatus(ctx, job.RunID, queue.StatusFailed, "run failed", runPath)
	default:
		_ = w.queue.UpdateStatus(ctx, job.RunID, queue.StatusCompleted, message, runPath)
	}
	w.recordHistory(ctx, job, status, message, started)
	logger.Info("job finished", "status", status)
}

// recordHistory persists the terminal entry when a history index is wired.
func (w *Worker) recordHistory(ctx context.Context, job *queue.Job, status, message string, started time.Time) {
	if w.History == nil {
		return
	}
	err := w.History.Record(ctx, history.Entry{
		RunID:      job.RunID,
		Status:     status,
		SourceFile: job.FilePath,
		Message:    message,
		StartedAt:  started,
		FinishedAt: time.Now(),
	})
	if err != nil {
		w.logger.Warn("history record failed", veristatlog.Error(err))
	}
}

// Pool runs a fixed number of workers plus the sweeper.
type Pool struct {
	queue      *queue.Queue
	store      *store.Store
	orch       func() *orchestrator.Orchestrator
	logger     *slog.Logger
	size       int
	jobTimeout time.Duration
	sweepEvery time.Duration

	// History, when set, is attached to every worker in the pool.
	History *history.Store
}

// NewPool creates a pool. orchFactory is called once per worker so each
// worker owns its orchestrator (the heartbeat hook is per-job state).
func NewPool(q *queue.Queue, st *store.Store, orchFactory func() *orchestrator.Orchestrator,
	logger *slog.Logger, size int, jobTimeout, sweepEvery time.Duration) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:      q,
		store:      st,
		orch:       orchFactory,
		logger:     logger,
		size:       size,
		jobTimeout: jobTimeout,
		sweepEvery: sweepEvery,
	}
}

// Run blocks until ctx is canceled, then returns after all workers and
// the sweeper have stopped.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.size; i++ {
		w := New(p.queue, p.store, p.orch(), p.logger)
		w.History = p.History
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	g.Go(func() error {
		return p.sweep(ctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// sweep periodically fails jobs whose heartbeat went stale and refreshes
// the queue depth gauge.
func (p *Pool) sweep(ctx context.Context) error {
	logger := veristatlog.WithComponent(p.logger, "sweeper")
	ticker := time.NewTicker(p.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		swept, err := p.queue.CleanupStuckJobs(ctx, p.jobTimeout)
		if err != nil {
			logger.Warn("sweep failed", veristatlog.Error(err))
			continue
		}
		for _, runID := range swept {
			metrics.RecordJobSwept()
			logger.Warn("job swept", "run_id", runID)
		}
		if depth, err := p.queue.QueueLength(ctx); err == nil {
			metrics.SetQueueDepth(depth)
		}
	}
}
