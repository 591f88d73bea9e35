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

// Package engine executes SOP runs.
//
// The engine owns the run lifecycle: it creates runs, drives them through
// the manifest's dependency graph, and applies failure policies. Execution
// is deterministic: given the same manifest, the same parameters, and the
// same command outcomes, a run produces the same sequence of state
// transitions and audit events.
//
// Run state is persisted before each audit event is appended, so a replayed
// audit trail never references state the store has not seen. All mutations
// of one run happen under that run's lock, shared with the gate manager.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tombee/runbook/internal/audit"
	"github.com/tombee/runbook/internal/engine/command"
	"github.com/tombee/runbook/internal/engine/runlock"
	"github.com/tombee/runbook/internal/gate"
	"github.com/tombee/runbook/internal/store"
	"github.com/tombee/runbook/pkg/errors"
	"github.com/tombee/runbook/pkg/manifest"
	"github.com/tombee/runbook/pkg/manifest/expression"
)

// MetricsCollector records engine metrics. The engine calls it from the
// scheduling goroutine; implementations must be safe for concurrent use
// across runs.
type MetricsCollector interface {
	RecordRunCreated(sop string, mode string)
	RecordRunFinished(sop string, status string, duration time.Duration)
	RecordStep(sop string, status string, attempts int, duration time.Duration)
	RunsInFlight(delta int)
}

// Observer receives every audit event the engine records, after the event
// has been handed to the store. Calls are synchronous from the scheduling
// goroutine, so observers must return quickly and must not call back into
// the engine.
type Observer func(event audit.Event)

// Engine creates and drives runs against a storage backend.
type Engine struct {
	backend  store.Backend
	runner   command.Runner
	locks    *runlock.Registry
	gate     *gate.Manager
	eval     *expression.Evaluator
	logger   *slog.Logger
	metrics  MetricsCollector
	tracer   trace.Tracer
	observer Observer

	// retryBackoff is the fixed pause between execution attempts of one step.
	retryBackoff time.Duration

	// autoApprove skips approval gates entirely (dry runs).
	autoApprove bool

	mu     sync.Mutex
	active map[string]*driveHandle
}

// driveHandle tracks one in-progress Drive call so Cancel can reach it.
type driveHandle struct {
	cancel          context.CancelFunc
	cancelRequested atomic.Bool
}

// New creates an engine. The gate manager it exposes through Gate shares
// the engine's per-run locks, which is what keeps approval decisions and
// scheduling serialized.
func New(backend store.Backend, runner command.Runner) *Engine {
	locks := runlock.New()
	return &Engine{
		backend:      backend,
		runner:       runner,
		locks:        locks,
		gate:         gate.New(backend, locks),
		eval:         expression.New(),
		logger:       slog.Default(),
		tracer:       noop.NewTracerProvider().Tracer("runbook/engine"),
		retryBackoff: manifest.RetryBackoffSecs * time.Second,
		active:       make(map[string]*driveHandle),
	}
}

// WithLogger sets the logger.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	if logger != nil {
		e.logger = logger
		e.gate.WithLogger(logger)
	}
	return e
}

// WithMetrics sets the engine metrics collector.
func (e *Engine) WithMetrics(metrics MetricsCollector) *Engine {
	e.metrics = metrics
	return e
}

// WithGateMetrics sets the approval gate metrics collector.
func (e *Engine) WithGateMetrics(metrics gate.MetricsCollector) *Engine {
	e.gate.WithMetrics(metrics)
	return e
}

// WithTracer sets the tracer for run and step spans. The default is a
// noop tracer.
func (e *Engine) WithTracer(tracer trace.Tracer) *Engine {
	if tracer != nil {
		e.tracer = tracer
	}
	return e
}

// WithObserver sets a callback that mirrors the run's audit events as they
// are recorded. The CLI uses it to render live per-step progress.
func (e *Engine) WithObserver(observer Observer) *Engine {
	e.observer = observer
	return e
}

// WithRetryBackoff overrides the pause between step attempts. Tests use
// this to keep retry scenarios fast.
func (e *Engine) WithRetryBackoff(d time.Duration) *Engine {
	e.retryBackoff = d
	return e
}

// WithAutoApprove makes every approval gate pass without waiting. Dry runs
// use this so a gated manifest can be exercised end to end.
func (e *Engine) WithAutoApprove() *Engine {
	e.autoApprove = true
	return e
}

// Gate returns the approval gate manager bound to this engine's store and
// locks.
func (e *Engine) Gate() *gate.Manager {
	return e.gate
}

// CreateRun validates the manifest, enforces its cooldown, and persists a
// new run. Supervised and step-by-step runs start in waiting_approval with
// an approval_requested event; everything else starts pending. The run is
// not driven; call Drive when ready.
//
// modeOverride, when non-empty, replaces the manifest's execution mode for
// this run only.
func (e *Engine) CreateRun(ctx context.Context, m *manifest.Manifest, params map[string]string, modeOverride manifest.ExecutionMode) (*store.Run, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	mode := m.ExecutionMode
	if modeOverride != "" {
		mode = modeOverride
	}
	if mode == "" {
		mode = manifest.ModeAuto
	}
	if !manifest.ValidExecutionModes[mode] {
		return nil, &errors.ValidationError{
			Field:   "executionMode",
			Message: "unknown execution mode: " + string(mode),
		}
	}

	if err := e.checkCooldown(ctx, m); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run := &store.Run{
		RunID:         uuid.NewString(),
		SOPName:       m.Name,
		Status:        store.StatusPending,
		TotalSteps:    len(m.Steps),
		StepResults:   make(map[int]*store.StepResult, len(m.Steps)),
		StartedAt:     now,
		ExecutionMode: mode,
		Params:        copyParams(params),
		Manifest:      m,
	}
	for _, step := range m.Steps {
		run.StepResults[step.Number] = &store.StepResult{
			StepNumber: step.Number,
			Title:      step.Title,
			Status:     store.StepPending,
		}
	}

	gated := mode == manifest.ModeSupervised || mode == manifest.ModeStepByStep
	if gated && !e.autoApprove {
		run.Status = store.StatusWaitingApproval
		run.WaitingSince = &now
	}

	if err := e.backend.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	e.logEvent(ctx, run, 0, audit.EventRunCreated, map[string]interface{}{
		"sop":    m.Name,
		"mode":   string(mode),
		"params": params,
	})
	if run.Status == store.StatusWaitingApproval {
		e.logEvent(ctx, run, 0, audit.EventApprovalRequested, map[string]interface{}{
			"scope": "run",
		})
	}

	e.logger.Info("run created",
		"run_id", run.RunID, "sop", m.Name, "mode", string(mode), "steps", len(m.Steps))
	if e.metrics != nil {
		e.metrics.RecordRunCreated(m.Name, string(mode))
	}
	return run, nil
}

// GetRun loads a run.
func (e *Engine) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	return e.backend.GetRun(ctx, runID)
}

// Resume moves a paused run back to running and drives it. Anything else
// fails with InvalidStateError.
func (e *Engine) Resume(ctx context.Context, runID string) (*store.Run, error) {
	if err := e.transitionLocked(ctx, runID, store.StatusPaused, store.StatusRunning, audit.EventRunResumed, nil); err != nil {
		return nil, err
	}
	return e.Drive(ctx, runID)
}

// Retry moves a failed run back to running, resets its failed steps so
// they execute again with a fresh attempt budget, and drives it. Steps
// that already completed or were skipped keep their results.
func (e *Engine) Retry(ctx context.Context, runID string) (*store.Run, error) {
	err := e.transitionLocked(ctx, runID, store.StatusFailed, store.StatusRunning, audit.EventRunRetried, func(run *store.Run) {
		var reset []int
		for n, res := range run.StepResults {
			if res.Status != store.StepFailed {
				continue
			}
			reset = append(reset, n)
			res.Status = store.StepPending
			res.Attempts = 0
			res.Output = ""
			res.Error = ""
			res.StartedAt = nil
			res.CompletedAt = nil
			res.GateOpenedAt = nil
			// A retried step faces its approval gate again.
			res.ApprovedAt = nil
		}
		run.Error = ""
		run.CompletedAt = nil
		e.logger.Info("retrying failed run", "run_id", runID, "reset_steps", len(reset))
	})
	if err != nil {
		return nil, err
	}
	return e.Drive(ctx, runID)
}

// Cancel terminates a run from any non-terminal state. If the run is being
// driven by this process, in-flight step commands are killed and their
// results recorded before the run is marked cancelled.
func (e *Engine) Cancel(ctx context.Context, runID string) (*store.Run, error) {
	e.mu.Lock()
	handle, driving := e.active[runID]
	e.mu.Unlock()
	if driving {
		handle.cancelRequested.Store(true)
		handle.cancel()
	}

	// Taking the lock waits for an active drive to wind down first.
	unlock := e.locks.Lock(runID)
	defer unlock()

	run, err := e.backend.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == store.StatusCancelled {
		return run, nil
	}
	if run.Status.Terminal() {
		return nil, &errors.InvalidStateError{
			Entity: "run", ID: runID,
			State: string(run.Status), Want: "any non-terminal state",
		}
	}

	now := time.Now().UTC()
	if err := run.Transition(store.StatusCancelled); err != nil {
		return nil, err
	}
	run.CompletedAt = &now
	if err := e.backend.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	e.logEvent(ctx, run, 0, audit.EventRunCancelled, nil)
	e.logger.Info("run cancelled", "run_id", runID)
	e.recordFinished(run)
	return run, nil
}

// Events replays a run's audit trail.
func (e *Engine) Events(ctx context.Context, runID string) ([]audit.Event, error) {
	return e.backend.ReadEvents(ctx, runID)
}

// transitionLocked performs a load-check-mutate-persist cycle under the
// run's lock, appending the given event on success. mutate, when non-nil,
// runs after the status transition.
func (e *Engine) transitionLocked(ctx context.Context, runID string, from, to store.RunStatus, event audit.EventType, mutate func(*store.Run)) error {
	unlock := e.locks.Lock(runID)
	defer unlock()

	run, err := e.backend.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != from {
		return &errors.InvalidStateError{
			Entity: "run", ID: runID,
			State: string(run.Status), Want: string(from),
		}
	}
	if err := run.Transition(to); err != nil {
		return err
	}
	if mutate != nil {
		mutate(run)
	}
	if err := e.backend.UpdateRun(ctx, run); err != nil {
		return err
	}
	e.logEvent(ctx, run, 0, event, nil)
	return nil
}

// checkCooldown rejects a new run while the most recent finished run of
// the same SOP is still inside the manifest's cooldown window.
func (e *Engine) checkCooldown(ctx context.Context, m *manifest.Manifest) error {
	if m.CooldownSecs <= 0 {
		return nil
	}
	runs, err := e.backend.ListRuns(ctx, store.RunFilter{SOPName: m.Name})
	if err != nil {
		return err
	}
	window := time.Duration(m.CooldownSecs) * time.Second
	now := time.Now().UTC()
	for _, run := range runs {
		if run.CompletedAt == nil {
			continue
		}
		// Runs list most-recent-first; the first finished one decides.
		if elapsed := now.Sub(*run.CompletedAt); elapsed < window {
			return &errors.CooldownError{SOP: m.Name, Remaining: window - elapsed}
		}
		return nil
	}
	return nil
}

// registerDrive claims the run for this Drive call so Cancel can reach
// its context. A second concurrent Drive of the same run in this process
// is refused.
func (e *Engine) registerDrive(runID string, cancel context.CancelFunc) (*driveHandle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.active[runID]; exists {
		return nil, false
	}
	h := &driveHandle{cancel: cancel}
	e.active[runID] = h
	return h, true
}

func (e *Engine) unregisterDrive(runID string) {
	e.mu.Lock()
	delete(e.active, runID)
	e.mu.Unlock()
}

func (e *Engine) logEvent(ctx context.Context, run *store.Run, step int, eventType audit.EventType, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["runStatus"] = string(run.Status)
	event := audit.Event{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		RunID:      run.RunID,
		StepNumber: step,
		Details:    details,
	}
	if err := e.backend.AppendEvent(ctx, event); err != nil {
		e.logger.Warn("failed to append audit event",
			"run_id", run.RunID, "event", string(eventType), "error", err)
	}
	if e.observer != nil {
		e.observer(event)
	}
}

func (e *Engine) recordFinished(run *store.Run) {
	if e.metrics == nil {
		return
	}
	d := time.Since(run.StartedAt)
	if run.CompletedAt != nil {
		d = run.CompletedAt.Sub(run.StartedAt)
	}
	e.metrics.RecordRunFinished(run.SOPName, string(run.Status), d)
}

func copyParams(params map[string]string) map[string]string {
	if params == nil {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
