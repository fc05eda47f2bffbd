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

// Package daemon wires the engine together: queue, store, history,
// workers, sweeper and the HTTP API, with a graceful drain on shutdown.
package daemon

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veristat/veristat/internal/config"
	"github.com/veristat/veristat/internal/daemon/api"
	"github.com/veristat/veristat/internal/history"
	veristatlog "github.com/veristat/veristat/internal/log"
	"github.com/veristat/veristat/internal/orchestrator"
	"github.com/veristat/veristat/internal/queue"
	"github.com/veristat/veristat/internal/service"
	"github.com/veristat/veristat/internal/step"
	"github.com/veristat/veristat/internal/steps"
	"github.com/veristat/veristat/internal/store"
	"github.com/veristat/veristat/internal/worker"
	"github.com/veristat/veristat/pkg/errors"
)

// shutdownGrace bounds how long the HTTP server may drain connections.
const shutdownGrace = 10 * time.Second

// Daemon is the assembled engine.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New creates a daemon from frozen configuration.
func New(cfg *config.Config, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{cfg: cfg, logger: logger}
}

// Run starts everything and blocks until ctx is canceled, then drains.
func (d *Daemon) Run(ctx context.Context) error {
	logger := veristatlog.WithComponent(d.logger, "daemon")

	st, err := store.New(d.cfg.DataDir)
	if err != nil {
		return err
	}

	q, err := queue.New(d.cfg.RedisURL)
	if err != nil {
		return err
	}
	defer q.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = q.Ping(pingCtx)
	cancel()
	if err != nil {
		return err
	}

	var hist *history.Store
	if d.cfg.HistoryPath != "" {
		hist, err = history.Open(d.cfg.HistoryPath)
		if err != nil {
			return err
		}
		defer hist.Close()
	}

	orchFactory := func() *orchestrator.Orchestrator {
		dispatcher := step.NewDispatcher()
		steps.RegisterAll(dispatcher)
		return orchestrator.New(st, dispatcher, orchestrator.Options{
			Logger:        d.logger,
			DriftBlocking: d.cfg.EnableDriftBlocking,
			ReportWait:    d.cfg.ReportWait,
		})
	}

	pool := worker.NewPool(q, st, orchFactory, d.logger,
		d.cfg.Workers, d.cfg.JobTimeout, d.cfg.CleanupInterval)
	pool.History = hist

	svc := service.New(q, st, hist)
	health := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return q.Ping(ctx)
	}
	srv := &http.Server{
		Addr:              d.cfg.ListenAddr,
		Handler:           api.New(svc, st, d.logger, health).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", "addr", d.cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("workers starting", "count", d.cfg.Workers)
		return pool.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("draining")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("stopped")
	return err
}
