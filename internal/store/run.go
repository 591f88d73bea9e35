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

package store

import (
	"time"

	"github.com/tombee/runbook/pkg/errors"
	"github.com/tombee/runbook/pkg/manifest"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	// StatusPending means created but not yet started
	StatusPending RunStatus = "pending"

	// StatusWaitingApproval means the whole run needs an initial approval
	// before anything executes (supervised and step_by_step modes)
	StatusWaitingApproval RunStatus = "waiting_approval"

	// StatusRunning means the scheduler is dispatching steps
	StatusRunning RunStatus = "running"

	// StatusAwaitingApproval means a gated step is waiting for sign-off
	StatusAwaitingApproval RunStatus = "awaiting_approval"

	// StatusPaused means a rejection or operator action suspended the run
	StatusPaused RunStatus = "paused"

	// StatusCompleted means every step finished successfully (terminal)
	StatusCompleted RunStatus = "completed"

	// StatusFailed means a step failure or deadlock stopped the run;
	// recoverable through retryRun
	StatusFailed RunStatus = "failed"

	// StatusCancelled means an operator cancelled the run (terminal)
	StatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
// Failed and paused runs can still move back to running, so only
// completed and cancelled are terminal.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// runTransitions is the allowed run status graph. Cancellation is handled
// separately: any non-terminal status may move to cancelled.
var runTransitions = map[RunStatus][]RunStatus{
	StatusPending:          {StatusWaitingApproval, StatusRunning},
	StatusWaitingApproval:  {StatusRunning, StatusPaused},
	StatusRunning:          {StatusAwaitingApproval, StatusPaused, StatusCompleted, StatusFailed},
	StatusAwaitingApproval: {StatusRunning, StatusPaused},
	StatusPaused:           {StatusRunning},
	StatusFailed:           {StatusRunning},
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to RunStatus) bool {
	if to == StatusCancelled {
		return !from.Terminal()
	}
	for _, allowed := range runTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition validates and applies a run status change, mutating the run if
// and only if the transition is legal.
func (r *Run) Transition(to RunStatus) error {
	if !CanTransition(r.Status, to) {
		return &errors.InvalidStateError{
			Entity: "run",
			ID:     r.RunID,
			State:  string(r.Status),
			Want:   string(to),
		}
	}
	r.Status = to
	return nil
}

// StepStatus is the lifecycle state of one step within a run.
type StepStatus string

const (
	// StepPending means not started yet
	StepPending StepStatus = "pending"

	// StepRunning means an attempt is in flight
	StepRunning StepStatus = "running"

	// StepCompleted means an attempt succeeded
	StepCompleted StepStatus = "completed"

	// StepFailed means all attempts failed or the gate was rejected
	StepFailed StepStatus = "failed"

	// StepSkipped means the when-guard evaluated false
	StepSkipped StepStatus = "skipped"

	// StepAwaitingApproval means the step's gate is waiting for sign-off
	StepAwaitingApproval StepStatus = "awaiting_approval"
)

// Satisfies reports whether this step status satisfies a dependency edge.
func (s StepStatus) Satisfies() bool {
	return s == StepCompleted || s == StepSkipped
}

// StepResult is the per-run execution record of one step.
type StepResult struct {
	// StepNumber identifies the manifest step
	StepNumber int `json:"stepNumber"`

	// Title mirrors the manifest step title for display
	Title string `json:"title,omitempty"`

	// Status is the step's lifecycle state
	Status StepStatus `json:"status"`

	// Attempts counts execution attempts so far
	Attempts int `json:"attempts,omitempty"`

	// Output holds captured stdout of the last attempt
	Output string `json:"output,omitempty"`

	// Error holds the failure description of the last attempt
	Error string `json:"error,omitempty"`

	// StartedAt is when the first attempt started
	StartedAt *time.Time `json:"startedAt,omitempty"`

	// CompletedAt is when the step reached a final status
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// GateOpenedAt is when this step's approval gate opened; the approval
	// timeout clock reads this, so it survives restarts
	GateOpenedAt *time.Time `json:"gateOpenedAt,omitempty"`

	// ApprovedAt marks gate passage for this attempt cycle; cleared when a
	// retry resets the step so the gate applies again
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`
}

// Run is the persisted state of one execution of a SOP.
//
// The manifest is snapshotted into the record at creation so resuming after
// a restart never depends on the manifest file still existing unchanged.
type Run struct {
	// RunID is the unique run identifier, also the resume token
	RunID string `json:"runId"`

	// SOPName is the manifest name this run executes
	SOPName string `json:"sopName"`

	// Status is the run's lifecycle state
	Status RunStatus `json:"status"`

	// CurrentStep is the highest-numbered step currently running, zero
	// when none
	CurrentStep int `json:"currentStep"`

	// TotalSteps is fixed at creation
	TotalSteps int `json:"totalSteps"`

	// StepResults tracks per-step state, keyed by step number
	StepResults map[int]*StepResult `json:"stepResults"`

	// StartedAt is when the run was created
	StartedAt time.Time `json:"startedAt"`

	// CompletedAt is set when the run reaches a terminal or failed state
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// WaitingSince is set while an approval gate is open; the approval
	// timeout clock reads this, so it survives restarts
	WaitingSince *time.Time `json:"waitingSince,omitempty"`

	// ExecutionMode snapshots the manifest's mode at creation
	ExecutionMode manifest.ExecutionMode `json:"executionMode"`

	// Params are the variables supplied at run creation
	Params map[string]string `json:"params,omitempty"`

	// Error describes why the run failed, if it did
	Error string `json:"error,omitempty"`

	// Manifest is the full manifest snapshot
	Manifest *manifest.Manifest `json:"manifest"`
}

// Result returns the step result for a step number, creating a pending
// record on first touch so partially migrated runs stay safe to drive.
func (r *Run) Result(step int) *StepResult {
	if r.StepResults == nil {
		r.StepResults = make(map[int]*StepResult)
	}
	if res, ok := r.StepResults[step]; ok {
		return res
	}
	res := &StepResult{StepNumber: step, Status: StepPending}
	r.StepResults[step] = res
	return res
}

// Clone returns a deep copy of the run. Backends hand out clones so callers
// can mutate freely without racing the stored record.
func (r *Run) Clone() *Run {
	out := *r

	if r.StepResults != nil {
		out.StepResults = make(map[int]*StepResult, len(r.StepResults))
		for n, res := range r.StepResults {
			copied := *res
			copied.StartedAt = copyTime(res.StartedAt)
			copied.CompletedAt = copyTime(res.CompletedAt)
			copied.GateOpenedAt = copyTime(res.GateOpenedAt)
			copied.ApprovedAt = copyTime(res.ApprovedAt)
			out.StepResults[n] = &copied
		}
	}
	if r.Params != nil {
		out.Params = make(map[string]string, len(r.Params))
		for k, v := range r.Params {
			out.Params[k] = v
		}
	}
	out.CompletedAt = copyTime(r.CompletedAt)
	out.WaitingSince = copyTime(r.WaitingSince)

	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}
