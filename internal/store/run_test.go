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
	"testing"
	"time"

	"github.com/tombee/runbook/pkg/errors"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    RunStatus
		to      RunStatus
		allowed bool
	}{
		{"pending to running", StatusPending, StatusRunning, true},
		{"pending to waiting approval", StatusPending, StatusWaitingApproval, true},
		{"pending cannot complete", StatusPending, StatusCompleted, false},
		{"pending cannot await step approval", StatusPending, StatusAwaitingApproval, false},
		{"waiting approval to running", StatusWaitingApproval, StatusRunning, true},
		{"waiting approval rejected", StatusWaitingApproval, StatusPaused, true},
		{"running to awaiting approval", StatusRunning, StatusAwaitingApproval, true},
		{"running to completed", StatusRunning, StatusCompleted, true},
		{"running to failed", StatusRunning, StatusFailed, true},
		{"running to paused", StatusRunning, StatusPaused, true},
		{"awaiting approval granted", StatusAwaitingApproval, StatusRunning, true},
		{"awaiting approval rejected", StatusAwaitingApproval, StatusPaused, true},
		{"awaiting approval cannot complete", StatusAwaitingApproval, StatusCompleted, false},
		{"paused resumes", StatusPaused, StatusRunning, true},
		{"paused cannot complete directly", StatusPaused, StatusCompleted, false},
		{"failed retries", StatusFailed, StatusRunning, true},
		{"failed cannot complete directly", StatusFailed, StatusCompleted, false},
		{"completed is terminal", StatusCompleted, StatusRunning, false},
		{"cancelled is terminal", StatusCancelled, StatusRunning, false},
		{"running cancels", StatusRunning, StatusCancelled, true},
		{"pending cancels", StatusPending, StatusCancelled, true},
		{"awaiting approval cancels", StatusAwaitingApproval, StatusCancelled, true},
		{"paused cancels", StatusPaused, StatusCancelled, true},
		{"failed cancels", StatusFailed, StatusCancelled, true},
		{"completed cannot cancel", StatusCompleted, StatusCancelled, false},
		{"cancelled cannot cancel again", StatusCancelled, StatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.allowed {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestRunTransition(t *testing.T) {
	run := &Run{RunID: "run-1", Status: StatusPending}

	if err := run.Transition(StatusRunning); err != nil {
		t.Fatalf("Transition(running) error: %v", err)
	}
	if run.Status != StatusRunning {
		t.Errorf("status = %s, want running", run.Status)
	}

	err := run.Transition(StatusPending)
	if err == nil {
		t.Fatal("expected error for running -> pending")
	}
	if !errors.IsInvalidState(err) {
		t.Errorf("expected InvalidStateError, got %T", err)
	}
	if run.Status != StatusRunning {
		t.Errorf("illegal transition mutated status to %s", run.Status)
	}
}

func TestTerminal(t *testing.T) {
	terminal := []RunStatus{StatusCompleted, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	live := []RunStatus{
		StatusPending, StatusWaitingApproval, StatusRunning,
		StatusAwaitingApproval, StatusPaused, StatusFailed,
	}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestStepStatusSatisfies(t *testing.T) {
	if !StepCompleted.Satisfies() {
		t.Error("completed should satisfy dependencies")
	}
	if !StepSkipped.Satisfies() {
		t.Error("skipped should satisfy dependencies")
	}
	for _, s := range []StepStatus{StepPending, StepRunning, StepFailed, StepAwaitingApproval} {
		if s.Satisfies() {
			t.Errorf("%s should not satisfy dependencies", s)
		}
	}
}

func TestRunClone(t *testing.T) {
	now := time.Now()
	approved := now.Add(time.Minute)
	original := &Run{
		RunID:     "run-1",
		SOPName:   "deploy",
		Status:    StatusRunning,
		StartedAt: now,
		Params:    map[string]string{"env": "prod"},
		StepResults: map[int]*StepResult{
			1: {StepNumber: 1, Status: StepCompleted, Output: "ok", ApprovedAt: &approved},
		},
		WaitingSince: &now,
	}

	clone := original.Clone()

	clone.Status = StatusFailed
	clone.Params["env"] = "staging"
	clone.StepResults[1].Output = "changed"
	*clone.WaitingSince = now.Add(time.Hour)
	clone.StepResults[2] = &StepResult{StepNumber: 2}

	if original.Status != StatusRunning {
		t.Error("clone mutation leaked into original status")
	}
	if original.Params["env"] != "prod" {
		t.Error("clone mutation leaked into original params")
	}
	if original.StepResults[1].Output != "ok" {
		t.Error("clone mutation leaked into original step result")
	}
	if !original.WaitingSince.Equal(now) {
		t.Error("clone mutation leaked into original waitingSince")
	}
	if len(original.StepResults) != 1 {
		t.Error("clone mutation leaked a new step result into original")
	}
}

func TestRunResult(t *testing.T) {
	run := &Run{RunID: "run-1"}

	res := run.Result(3)
	if res.StepNumber != 3 || res.Status != StepPending {
		t.Errorf("Result(3) = %+v, want pending step 3", res)
	}

	res.Status = StepRunning
	if run.Result(3).Status != StepRunning {
		t.Error("Result should return the same record on repeat calls")
	}
}
