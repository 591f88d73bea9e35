// Copyright 2025 Tom Barlow
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

// Package metrics exposes Prometheus instrumentation for the engine and
// the approval gate. Labels stay low-cardinality: SOP names are free-form
// operator input and never become label values.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsStarted counts run creations by execution mode
	runsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runbook_runs_started_total",
			Help: "Total runs created by execution mode",
		},
		[]string{"mode"},
	)

	// runsFinished counts runs reaching a terminal status
	runsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runbook_runs_finished_total",
			Help: "Total runs finished by terminal status",
		},
		[]string{"status"},
	)

	// steps counts settled step executions by outcome
	steps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runbook_steps_total",
			Help: "Total settled steps by outcome",
		},
		[]string{"status"},
	)

	// approvals counts gate decisions
	approvals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runbook_approvals_total",
			Help: "Total approval gate decisions (granted, rejected, timeout)",
		},
		[]string{"decision"},
	)

	// activeRuns tracks runs currently being driven
	activeRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "runbook_active_runs",
			Help: "Number of runs currently being driven",
		},
	)

	// stepDuration observes wall-clock step durations
	stepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runbook_step_duration_seconds",
			Help:    "Step execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// approvalWait observes how long gates waited for a decision
	approvalWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runbook_approval_wait_seconds",
			Help:    "Seconds an approval gate waited before a decision",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 14400, 86400},
		},
	)
)

// Collector satisfies the engine and gate metrics interfaces against the
// default Prometheus registry.
type Collector struct{}

// New returns a Collector.
func New() *Collector {
	return &Collector{}
}

// RecordRunCreated counts a created run.
func (c *Collector) RecordRunCreated(sop string, mode string) {
	runsStarted.WithLabelValues(mode).Inc()
}

// RecordRunFinished counts a run reaching a terminal status.
func (c *Collector) RecordRunFinished(sop string, status string, duration time.Duration) {
	runsFinished.WithLabelValues(status).Inc()
}

// RecordStep counts a settled step and observes its duration.
func (c *Collector) RecordStep(sop string, status string, attempts int, duration time.Duration) {
	steps.WithLabelValues(status).Inc()
	if duration > 0 {
		stepDuration.Observe(duration.Seconds())
	}
}

// RunsInFlight adjusts the active-run gauge.
func (c *Collector) RunsInFlight(delta int) {
	activeRuns.Add(float64(delta))
}

// RecordApprovalDecision counts a gate decision and observes the wait.
func (c *Collector) RecordApprovalDecision(decision string, wait time.Duration) {
	approvals.WithLabelValues(decision).Inc()
	if wait > 0 {
		approvalWait.Observe(wait.Seconds())
	}
}
