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

package errors

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents manifest or input validation failures.
// Use this for malformed manifests, bad step references, or constraint violations.
type ValidationError struct {
	// Field identifies which field failed validation (e.g., "steps[2].dependsOn")
	Field string

	// Message is the human-readable error description
	Message string

	// SuggestText provides actionable guidance for fixing the error,
	// surfaced through the Suggestion method of UserVisibleError
	SuggestText string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "run", "sop", "step")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ExecutionError represents a step command failure.
// Use this when a spawned step process exits non-zero or cannot be started.
type ExecutionError struct {
	// Step is the step identifier whose command failed
	Step string

	// ExitCode is the process exit code (0 when the process never started)
	ExitCode int

	// Stderr holds captured standard error, truncated for display
	Stderr string

	// Killed reports whether the process was terminated by the engine
	Killed bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("step %s failed", e.Step)

	if e.Killed {
		msg = fmt.Sprintf("%s (killed)", msg)
	} else if e.ExitCode != 0 {
		msg = fmt.Sprintf("%s (exit %d)", msg, e.ExitCode)
	}

	if s := strings.TrimSpace(e.Stderr); s != "" {
		if len(s) > 200 {
			s = s[:200] + "..."
		}
		msg = fmt.Sprintf("%s: %s", msg, s)
	}

	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "store", "sops_dir")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
// Use this when an operation exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "step command", "store write")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ApprovalTimeoutError signals that a step's approval window elapsed.
// This is not a failure condition: the gate manager converts it into an
// automatic approval and the run continues. Callers that observe it should
// record the approval_timeout audit event, never fail the run.
type ApprovalTimeoutError struct {
	// RunID is the run whose approval window elapsed
	RunID string

	// Step is the step number that was awaiting approval
	Step int

	// Waited is how long the step sat in awaiting_approval
	Waited time.Duration
}

// Error implements the error interface.
func (e *ApprovalTimeoutError) Error() string {
	return fmt.Sprintf("approval window for step %d of run %s elapsed after %v", e.Step, e.RunID, e.Waited)
}

// DeadlockError reports that no remaining step can ever become ready.
// The engine raises this when the ready set and the running set are both
// empty while unstarted steps remain, which means every remaining step
// depends on something that failed or was never scheduled.
type DeadlockError struct {
	// RunID is the run that can make no further progress
	RunID string

	// Remaining lists the step numbers that can never run
	Remaining []int
}

// Error implements the error interface.
func (e *DeadlockError) Error() string {
	parts := make([]string, len(e.Remaining))
	for i, n := range e.Remaining {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("run %s deadlocked: steps [%s] can never become ready", e.RunID, strings.Join(parts, ", "))
}

// InvalidStateError represents an operation attempted against an entity in
// the wrong state, such as approving a step that is not awaiting approval.
type InvalidStateError struct {
	// Entity is the kind of entity (e.g., "run", "step")
	Entity string

	// ID identifies the entity
	ID string

	// State is the entity's current state
	State string

	// Want is the state the operation requires
	Want string
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s is %s, want %s", e.Entity, e.ID, e.State, e.Want)
}

// CooldownError reports that a SOP was started again before its cooldown
// window closed.
type CooldownError struct {
	// SOP is the name of the procedure in cooldown
	SOP string

	// Remaining is how long until a new run is allowed
	Remaining time.Duration
}

// Error implements the error interface.
func (e *CooldownError) Error() string {
	return fmt.Sprintf("sop %s is in cooldown for another %v", e.SOP, e.Remaining.Round(time.Second))
}
