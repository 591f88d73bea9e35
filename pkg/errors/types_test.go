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

package errors_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	runbookerrors "github.com/tombee/runbook/pkg/errors"
)

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *runbookerrors.ValidationError
		wantMsg string
	}{
		{
			name: "with field",
			err: &runbookerrors.ValidationError{
				Field:      "steps[2].dependsOn",
				Message:    "references unknown step 9",
				SuggestText: "List only existing step ids in dependsOn",
			},
			wantMsg: "validation failed on steps[2].dependsOn: references unknown step 9",
		},
		{
			name: "without field",
			err: &runbookerrors.ValidationError{
				Message:    "manifest has no steps",
				SuggestText: "Add at least one step",
			},
			wantMsg: "validation failed: manifest has no steps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ValidationError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestNotFoundError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *runbookerrors.NotFoundError
		wantMsg string
	}{
		{
			name: "run not found",
			err: &runbookerrors.NotFoundError{
				Resource: "run",
				ID:       "run-413c",
			},
			wantMsg: "run not found: run-413c",
		},
		{
			name: "sop not found",
			err: &runbookerrors.NotFoundError{
				Resource: "sop",
				ID:       "db-failover",
			},
			wantMsg: "sop not found: db-failover",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("NotFoundError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestExecutionError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *runbookerrors.ExecutionError
		want    []string // strings that should appear in error message
		notWant []string // strings that should not appear
	}{
		{
			name: "non-zero exit with stderr",
			err: &runbookerrors.ExecutionError{
				Step:     "3",
				ExitCode: 2,
				Stderr:   "disk full\n",
			},
			want:    []string{"step 3 failed", "exit 2", "disk full"},
			notWant: []string{"killed"},
		},
		{
			name: "killed by timeout",
			err: &runbookerrors.ExecutionError{
				Step:   "1",
				Killed: true,
			},
			want:    []string{"step 1 failed", "killed"},
			notWant: []string{"exit"},
		},
		{
			name: "long stderr is truncated",
			err: &runbookerrors.ExecutionError{
				Step:     "5",
				ExitCode: 1,
				Stderr:   strings.Repeat("x", 500),
			},
			want:    []string{"..."},
			notWant: []string{strings.Repeat("x", 300)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("ExecutionError.Error() = %q, want to contain %q", got, want)
				}
			}
			for _, notWant := range tt.notWant {
				if strings.Contains(got, notWant) {
					t.Errorf("ExecutionError.Error() = %q, should not contain %q", got, notWant)
				}
			}
		})
	}
}

func TestExecutionError_Unwrap(t *testing.T) {
	cause := errors.New("fork/exec failed")
	err := &runbookerrors.ExecutionError{
		Step:  "2",
		Cause: cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("ExecutionError.Unwrap() = %v, want %v", got, cause)
	}
}

func TestConfigError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *runbookerrors.ConfigError
		wantMsg string
	}{
		{
			name: "with key",
			err: &runbookerrors.ConfigError{
				Key:    "store",
				Reason: "unknown backend \"redis\"",
			},
			wantMsg: "config error at store: unknown backend \"redis\"",
		},
		{
			name: "without key",
			err: &runbookerrors.ConfigError{
				Reason: "file not found",
			},
			wantMsg: "config error: file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ConfigError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestTimeoutError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *runbookerrors.TimeoutError
		want []string
	}{
		{
			name: "step command timeout",
			err: &runbookerrors.TimeoutError{
				Operation: "step command",
				Duration:  30 * time.Second,
			},
			want: []string{"step command", "30s"},
		},
		{
			name: "minutes render with seconds",
			err: &runbookerrors.TimeoutError{
				Operation: "rollback step",
				Duration:  2 * time.Minute,
			},
			want: []string{"rollback step", "2m0s"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("TimeoutError.Error() = %q, want to contain %q", got, want)
				}
			}
		})
	}
}

func TestApprovalTimeoutError_Error(t *testing.T) {
	err := &runbookerrors.ApprovalTimeoutError{
		RunID:  "run-8821",
		Step:   4,
		Waited: 15 * time.Minute,
	}

	got := err.Error()
	for _, want := range []string{"step 4", "run-8821", "15m0s"} {
		if !strings.Contains(got, want) {
			t.Errorf("ApprovalTimeoutError.Error() = %q, want to contain %q", got, want)
		}
	}
}

func TestDeadlockError_Error(t *testing.T) {
	err := &runbookerrors.DeadlockError{
		RunID:     "run-17",
		Remaining: []int{3, 4, 7},
	}

	got := err.Error()
	for _, want := range []string{"run-17", "deadlocked", "[3, 4, 7]"} {
		if !strings.Contains(got, want) {
			t.Errorf("DeadlockError.Error() = %q, want to contain %q", got, want)
		}
	}
}

func TestInvalidStateError_Error(t *testing.T) {
	err := &runbookerrors.InvalidStateError{
		Entity: "run",
		ID:     "run-22",
		State:  "completed",
		Want:   "awaiting_approval",
	}

	want := "run run-22 is completed, want awaiting_approval"
	if got := err.Error(); got != want {
		t.Errorf("InvalidStateError.Error() = %q, want %q", got, want)
	}
}

func TestCooldownError_Error(t *testing.T) {
	err := &runbookerrors.CooldownError{
		SOP:       "cache-flush",
		Remaining: 90 * time.Second,
	}

	got := err.Error()
	for _, want := range []string{"cache-flush", "cooldown", "1m30s"} {
		if !strings.Contains(got, want) {
			t.Errorf("CooldownError.Error() = %q, want to contain %q", got, want)
		}
	}
}

// Test error wrapping with fmt.Errorf
func TestErrorWrapping(t *testing.T) {
	t.Run("ValidationError can be wrapped", func(t *testing.T) {
		original := &runbookerrors.ValidationError{
			Field:   "executionMode",
			Message: "unknown mode",
		}
		wrapped := fmt.Errorf("parsing manifest: %w", original)

		var target *runbookerrors.ValidationError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find ValidationError in wrapped error")
		}
		if target.Field != "executionMode" {
			t.Errorf("unwrapped error Field = %q, want %q", target.Field, "executionMode")
		}
	})

	t.Run("NotFoundError can be wrapped", func(t *testing.T) {
		original := &runbookerrors.NotFoundError{
			Resource: "run",
			ID:       "run-1",
		}
		wrapped := fmt.Errorf("loading run: %w", original)

		var target *runbookerrors.NotFoundError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find NotFoundError in wrapped error")
		}
		if target.Resource != "run" {
			t.Errorf("unwrapped error Resource = %q, want %q", target.Resource, "run")
		}
	})

	t.Run("ExecutionError preserves cause through wrapping", func(t *testing.T) {
		rootCause := errors.New("signal: killed")
		execErr := &runbookerrors.ExecutionError{
			Step:   "2",
			Killed: true,
			Cause:  rootCause,
		}
		wrapped := fmt.Errorf("running step: %w", execErr)

		var target *runbookerrors.ExecutionError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find ExecutionError in wrapped error")
		}

		if target.Unwrap() != rootCause {
			t.Error("ExecutionError.Unwrap() should return root cause")
		}
	})

	t.Run("TimeoutError preserves cause through wrapping", func(t *testing.T) {
		rootCause := errors.New("context deadline exceeded")
		timeoutErr := &runbookerrors.TimeoutError{
			Operation: "step command",
			Duration:  5 * time.Second,
			Cause:     rootCause,
		}
		wrapped := fmt.Errorf("operation timeout: %w", timeoutErr)

		var target *runbookerrors.TimeoutError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find TimeoutError in wrapped error")
		}

		if target.Unwrap() != rootCause {
			t.Error("TimeoutError.Unwrap() should return root cause")
		}
	})
}
