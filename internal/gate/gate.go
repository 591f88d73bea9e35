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

// Package gate resolves approval gates: operator approvals and rejections,
// and the approval-timeout sweep that auto-approves expired gates.
//
// Every mutation here happens under the run's lock and is persisted before
// its audit event is appended, the same discipline the engine follows.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/runbook/internal/audit"
	"github.com/tombee/runbook/internal/engine/runlock"
	"github.com/tombee/runbook/internal/store"
	"github.com/tombee/runbook/pkg/errors"
)

// MetricsCollector records approval gate metrics.
type MetricsCollector interface {
	RecordApprovalDecision(decision string, wait time.Duration)
}

// Manager resolves approval gates over the run store.
type Manager struct {
	backend store.Backend
	locks   *runlock.Registry
	logger  *slog.Logger
	metrics MetricsCollector
}

// New creates a gate manager. The lock registry must be the same one the
// engine uses, so gate decisions and scheduling serialize per run.
func New(backend store.Backend, locks *runlock.Registry) *Manager {
	return &Manager{
		backend: backend,
		locks:   locks,
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// WithMetrics sets the metrics collector.
func (m *Manager) WithMetrics(metrics MetricsCollector) *Manager {
	m.metrics = metrics
	return m
}

// ApproveRun approves a run that is waiting for its initial sign-off
// (supervised and step_by_step modes gate the whole run before anything
// executes). The run moves to running; driving it afterwards is the
// caller's job.
func (m *Manager) ApproveRun(ctx context.Context, runID, comment string) (*store.Run, error) {
	unlock := m.locks.Lock(runID)
	defer unlock()

	run, err := m.backend.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != store.StatusWaitingApproval {
		return nil, &errors.InvalidStateError{
			Entity: "run", ID: runID,
			State: string(run.Status), Want: string(store.StatusWaitingApproval),
		}
	}

	if err := run.Transition(store.StatusRunning); err != nil {
		return nil, err
	}
	run.WaitingSince = nil
	if err := m.backend.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	m.logEvent(ctx, run, 0, audit.EventApprovalGranted, map[string]interface{}{
		"scope":   "run",
		"comment": comment,
	})
	m.logEvent(ctx, run, 0, audit.EventRunStarted, nil)
	m.record("granted", 0)
	return run, nil
}

// RejectRun rejects a run waiting for its initial sign-off. The run moves
// to paused and can be resumed later.
func (m *Manager) RejectRun(ctx context.Context, runID, reason string) (*store.Run, error) {
	unlock := m.locks.Lock(runID)
	defer unlock()

	run, err := m.backend.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != store.StatusWaitingApproval {
		return nil, &errors.InvalidStateError{
			Entity: "run", ID: runID,
			State: string(run.Status), Want: string(store.StatusWaitingApproval),
		}
	}

	if err := run.Transition(store.StatusPaused); err != nil {
		return nil, err
	}
	run.WaitingSince = nil
	if err := m.backend.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	m.logEvent(ctx, run, 0, audit.EventApprovalRejected, map[string]interface{}{
		"scope":  "run",
		"reason": reason,
	})
	m.logEvent(ctx, run, 0, audit.EventRunPaused, nil)
	m.record("rejected", 0)
	return run, nil
}

// ApproveStep approves a step that is awaiting approval. Legal only when
// the run itself is awaiting approval and the target step's gate is open;
// anything else fails with InvalidStateError. The step returns to pending
// with its gate marked passed, and the run moves back to running.
func (m *Manager) ApproveStep(ctx context.Context, runID string, stepNumber int, comment string) (*store.Run, error) {
	unlock := m.locks.Lock(runID)
	defer unlock()

	run, err := m.backend.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	res, err := m.openGate(run, stepNumber)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	wait := gateWait(run, res, now)

	res.Status = store.StepPending
	res.ApprovedAt = &now
	res.GateOpenedAt = nil
	recomputeWaitingSince(run)

	if err := run.Transition(store.StatusRunning); err != nil {
		return nil, err
	}
	if err := m.backend.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	m.logEvent(ctx, run, stepNumber, audit.EventApprovalGranted, map[string]interface{}{
		"comment":       comment,
		"waitedSeconds": int(wait.Seconds()),
	})
	m.record("granted", wait)
	return run, nil
}

// RejectStep rejects a step that is awaiting approval. The step is marked
// failed with the reason recorded verbatim, and the run moves to paused.
func (m *Manager) RejectStep(ctx context.Context, runID string, stepNumber int, reason string) (*store.Run, error) {
	unlock := m.locks.Lock(runID)
	defer unlock()

	run, err := m.backend.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	res, err := m.openGate(run, stepNumber)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	wait := gateWait(run, res, now)

	res.Status = store.StepFailed
	res.Error = reason
	res.CompletedAt = &now
	res.GateOpenedAt = nil
	recomputeWaitingSince(run)

	if err := run.Transition(store.StatusPaused); err != nil {
		return nil, err
	}
	if err := m.backend.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	m.logEvent(ctx, run, stepNumber, audit.EventApprovalRejected, map[string]interface{}{
		"reason": reason,
	})
	m.logEvent(ctx, run, 0, audit.EventRunPaused, nil)
	m.record("rejected", wait)
	return run, nil
}

// CheckTimeout auto-approves every open gate whose approval timeout has
// expired, reading the clock from persisted timestamps so it stays correct
// across restarts. Each expiry fires exactly once: after the auto-approval
// the step is no longer awaiting approval, so repeat sweeps are no-ops.
// Returns true when at least one gate was auto-approved; the caller is
// expected to drive the run afterwards.
func (m *Manager) CheckTimeout(ctx context.Context, runID string) (bool, error) {
	unlock := m.locks.Lock(runID)
	defer unlock()

	run, err := m.backend.GetRun(ctx, runID)
	if err != nil {
		return false, err
	}
	if run.Status != store.StatusAwaitingApproval {
		return false, nil
	}
	if run.Manifest == nil {
		return false, nil
	}

	now := time.Now().UTC()
	fired := false
	var expired []*errors.ApprovalTimeoutError

	for _, step := range run.Manifest.Steps {
		res, ok := run.StepResults[step.Number]
		if !ok || res.Status != store.StepAwaitingApproval {
			continue
		}
		if step.ApprovalTimeoutMins <= 0 {
			continue
		}
		openedAt := res.GateOpenedAt
		if openedAt == nil {
			openedAt = run.WaitingSince
		}
		if openedAt == nil {
			continue
		}
		waited := now.Sub(*openedAt)
		if waited < time.Duration(step.ApprovalTimeoutMins)*time.Minute {
			continue
		}

		res.Status = store.StepPending
		res.ApprovedAt = &now
		res.GateOpenedAt = nil
		fired = true
		expired = append(expired, &errors.ApprovalTimeoutError{
			RunID:  runID,
			Step:   step.Number,
			Waited: waited,
		})
	}

	if !fired {
		return false, nil
	}

	recomputeWaitingSince(run)
	if err := run.Transition(store.StatusRunning); err != nil {
		return false, err
	}
	if err := m.backend.UpdateRun(ctx, run); err != nil {
		return false, err
	}

	for _, ate := range expired {
		m.logger.Info("approval gate timed out, auto-approving",
			"run_id", runID, "step", ate.Step, "waited", ate.Waited)
		m.logEvent(ctx, run, ate.Step, audit.EventApprovalTimeout, map[string]interface{}{
			"waitedSeconds": int(ate.Waited.Seconds()),
			"detail":        ate.Error(),
		})
		m.record("timeout", ate.Waited)
	}
	return true, nil
}

// AwaitingSteps returns the numbers of steps with open gates, ascending.
func AwaitingSteps(run *store.Run) []int {
	if run.Manifest == nil {
		return nil
	}
	var out []int
	for _, step := range run.Manifest.Steps {
		if res, ok := run.StepResults[step.Number]; ok && res.Status == store.StepAwaitingApproval {
			out = append(out, step.Number)
		}
	}
	return out
}

// openGate validates that the run and the target step are both awaiting
// approval, returning the step's result record.
func (m *Manager) openGate(run *store.Run, stepNumber int) (*store.StepResult, error) {
	if run.Status != store.StatusAwaitingApproval {
		return nil, &errors.InvalidStateError{
			Entity: "run", ID: run.RunID,
			State: string(run.Status), Want: string(store.StatusAwaitingApproval),
		}
	}
	res, ok := run.StepResults[stepNumber]
	if !ok {
		return nil, &errors.NotFoundError{
			Resource: "step",
			ID:       fmt.Sprintf("%s/%d", run.RunID, stepNumber),
		}
	}
	if res.Status != store.StepAwaitingApproval {
		return nil, &errors.InvalidStateError{
			Entity: "step", ID: fmt.Sprintf("%s/%d", run.RunID, stepNumber),
			State: string(res.Status), Want: string(store.StepAwaitingApproval),
		}
	}
	return res, nil
}

// OldestGate returns the open time of the longest-waiting gate, or nil when
// no gate is open. The run-level approval clock points here.
func OldestGate(run *store.Run) *time.Time {
	var oldest *time.Time
	for _, res := range run.StepResults {
		if res.Status != store.StepAwaitingApproval || res.GateOpenedAt == nil {
			continue
		}
		if oldest == nil || res.GateOpenedAt.Before(*oldest) {
			oldest = res.GateOpenedAt
		}
	}
	return oldest
}

func recomputeWaitingSince(run *store.Run) {
	run.WaitingSince = OldestGate(run)
}

func gateWait(run *store.Run, res *store.StepResult, now time.Time) time.Duration {
	if res.GateOpenedAt != nil {
		return now.Sub(*res.GateOpenedAt)
	}
	if run.WaitingSince != nil {
		return now.Sub(*run.WaitingSince)
	}
	return 0
}

func (m *Manager) logEvent(ctx context.Context, run *store.Run, step int, eventType audit.EventType, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["runStatus"] = string(run.Status)
	err := m.backend.AppendEvent(ctx, audit.Event{
		EventType:  eventType,
		RunID:      run.RunID,
		StepNumber: step,
		Details:    details,
	})
	if err != nil {
		m.logger.Warn("failed to append audit event",
			"run_id", run.RunID, "event", string(eventType), "error", err)
	}
}

func (m *Manager) record(decision string, wait time.Duration) {
	if m.metrics != nil {
		m.metrics.RecordApprovalDecision(decision, wait)
	}
}
