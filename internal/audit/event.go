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

// Package audit provides the append-only audit trail for runs.
//
// Every run carries a JSONL audit log, one JSON object per line, recording
// each state transition in order. The log is the authoritative history of a
// run: replaying it reconstructs the sequence of events exactly, and nothing
// ever rewrites or truncates it.
package audit

import "time"

// EventType identifies what happened to a run or step.
type EventType string

const (
	// EventRunCreated records run creation with its initial status
	EventRunCreated EventType = "run_created"

	// EventApprovalRequested records a step (or whole run) entering an
	// approval wait
	EventApprovalRequested EventType = "approval_requested"

	// EventRunStarted records the scheduler beginning to dispatch steps
	EventRunStarted EventType = "run_started"

	// EventStepStarted records the start of one execution attempt
	EventStepStarted EventType = "step_started"

	// EventStepCompleted records a successful attempt
	EventStepCompleted EventType = "step_completed"

	// EventStepFailed records a failed attempt
	EventStepFailed EventType = "step_failed"

	// EventStepSkipped records a step whose when-guard evaluated false
	EventStepSkipped EventType = "step_skipped"

	// EventApprovalGranted records a human approving a gated step
	EventApprovalGranted EventType = "approval_granted"

	// EventApprovalRejected records a human rejecting a gated step
	EventApprovalRejected EventType = "approval_rejected"

	// EventApprovalTimeout records an approval window elapsing and the
	// gate auto-approving
	EventApprovalTimeout EventType = "approval_timeout"

	// EventRunCompleted records every step finishing successfully
	EventRunCompleted EventType = "run_completed"

	// EventRunFailed records the run failing
	EventRunFailed EventType = "run_failed"

	// EventRunCancelled records operator cancellation
	EventRunCancelled EventType = "run_cancelled"

	// EventRunPaused records the run pausing after a rejection
	EventRunPaused EventType = "run_paused"

	// EventRunResumed records a paused run resuming
	EventRunResumed EventType = "run_resumed"

	// EventRunRetried records a failed run being retried
	EventRunRetried EventType = "run_retried"
)

// Event is a single entry in a run's audit trail.
type Event struct {
	// Timestamp is when the event occurred (UTC)
	Timestamp time.Time `json:"timestamp"`

	// EventType identifies the transition
	EventType EventType `json:"eventType"`

	// RunID is the run this event belongs to
	RunID string `json:"runId"`

	// StepNumber identifies the step for step-scoped events, zero for
	// run-scoped ones
	StepNumber int `json:"stepNumber,omitempty"`

	// Details carries transition-specific context (attempt numbers,
	// rejection reasons, the run status after the transition)
	Details map[string]interface{} `json:"details,omitempty"`
}
