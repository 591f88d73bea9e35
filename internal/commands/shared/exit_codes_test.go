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

package shared

import (
	"errors"
	"fmt"
	"testing"
	"time"

	pkgerrors "github.com/tombee/runbook/pkg/errors"
)

func TestExitErrorUnwrap(t *testing.T) {
	innerErr := errors.New("inner error")
	exitErr := NewExecutionError("execution failed", innerErr)

	unwrapped := errors.Unwrap(exitErr)
	if unwrapped != innerErr {
		t.Errorf("expected unwrapped error to be innerErr, got %v", unwrapped)
	}
}

func TestWrapErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{
			name:     "validation error maps to invalid manifest",
			err:      &pkgerrors.ValidationError{Field: "steps", Message: "missing"},
			wantCode: ExitInvalidManifest,
		},
		{
			name:     "not found maps to not found",
			err:      &pkgerrors.NotFoundError{Resource: "run", ID: "abc"},
			wantCode: ExitNotFound,
		},
		{
			name:     "invalid state maps to not found",
			err:      &pkgerrors.InvalidStateError{Entity: "run", ID: "abc", State: "completed", Want: "paused"},
			wantCode: ExitNotFound,
		},
		{
			name:     "execution error maps to execution failed",
			err:      &pkgerrors.ExecutionError{Step: "2", ExitCode: 1},
			wantCode: ExitExecutionFailed,
		},
		{
			name:     "deadlock maps to execution failed",
			err:      &pkgerrors.DeadlockError{RunID: "abc", Remaining: []int{3}},
			wantCode: ExitExecutionFailed,
		},
		{
			name:     "cooldown maps to execution failed",
			err:      &pkgerrors.CooldownError{SOP: "db-failover", Remaining: time.Minute},
			wantCode: ExitExecutionFailed,
		},
		{
			name:     "plain error maps to execution failed",
			err:      errors.New("disk on fire"),
			wantCode: ExitExecutionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapError("operation failed", tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("WrapError code = %d, want %d", got.Code, tt.wantCode)
			}
			if !errors.Is(got, tt.err) {
				t.Error("WrapError should wrap the original error")
			}
		})
	}
}

func TestWrapErrorPassesThroughExitError(t *testing.T) {
	original := NewNotFoundError("run missing", nil)
	got := WrapError("outer", fmt.Errorf("wrapped: %w", original))
	if got != original {
		t.Errorf("expected the original ExitError back, got %v", got)
	}
}

func TestWrapErrorWrappedValidation(t *testing.T) {
	inner := &pkgerrors.ValidationError{Field: "name", Message: "required"}
	wrapped := fmt.Errorf("loading manifest: %w", inner)

	got := WrapError("validate failed", wrapped)
	if got.Code != ExitInvalidManifest {
		t.Errorf("wrapped validation error should map to %d, got %d", ExitInvalidManifest, got.Code)
	}
}

func TestValidationErrorIsUserVisible(t *testing.T) {
	vErr := &pkgerrors.ValidationError{
		Field:       "steps[2].dependsOn",
		Message:     "references unknown step 9",
		SuggestText: "list only existing step numbers in dependsOn",
	}

	var userErr pkgerrors.UserVisibleError = vErr
	if !userErr.IsUserVisible() {
		t.Error("expected validation errors to be user visible")
	}
	if userErr.Suggestion() != "list only existing step numbers in dependsOn" {
		t.Errorf("unexpected suggestion %q", userErr.Suggestion())
	}
}

func TestSuggestionSurvivesWrapping(t *testing.T) {
	inner := &pkgerrors.CooldownError{SOP: "db-failover", Remaining: 90 * time.Second}
	exitErr := NewExecutionError("run not created", inner)

	var userErr pkgerrors.UserVisibleError
	if !errors.As(exitErr, &userErr) {
		t.Fatal("expected to find UserVisibleError through the ExitError")
	}
	if userErr.Suggestion() == "" {
		t.Error("cooldown errors should carry a suggestion")
	}
}

func TestPlainErrorIsNotUserVisible(t *testing.T) {
	regularErr := errors.New("some internal error")

	var userErr pkgerrors.UserVisibleError
	if errors.As(regularErr, &userErr) {
		t.Error("regular error should not implement UserVisibleError")
	}
}
