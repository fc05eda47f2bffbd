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

// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veristat_runs_started_total",
			Help: "Total runs picked up by a worker",
		},
	)

	runsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veristat_runs_completed_total",
			Help: "Total runs reaching a terminal state, by status",
		},
		[]string{"status"},
	)

	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veristat_step_duration_seconds",
			Help:    "Step execution duration by step and outcome",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"step", "status"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "veristat_queue_depth",
			Help: "Jobs currently waiting in the queue",
		},
	)

	promotionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veristat_promotion_failures_total",
			Help: "Pending artifacts rejected by their validator, by artifact",
		},
		[]string{"artifact"},
	)

	jobsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veristat_jobs_swept_total",
			Help: "Stuck jobs failed by the timeout sweeper",
		},
	)
)

// RecordRunStart increments the started-runs counter.
func RecordRunStart() {
	runsStarted.Inc()
}

// RecordRunComplete records a run reaching a terminal status.
func RecordRunComplete(status string) {
	runsCompleted.WithLabelValues(status).Inc()
}

// RecordStepComplete records a finished step execution.
func RecordStepComplete(step, status string, d time.Duration) {
	stepDuration.WithLabelValues(step, status).Observe(d.Seconds())
}

// SetQueueDepth sets the observed queue depth gauge.
func SetQueueDepth(n int64) {
	queueDepth.Set(float64(n))
}

// RecordPromotionFailure increments the promotion-failure counter.
func RecordPromotionFailure(artifact string) {
	promotionFailures.WithLabelValues(artifact).Inc()
}

// RecordJobSwept increments the sweeper counter.
func RecordJobSwept() {
	jobsSwept.Inc()
}
