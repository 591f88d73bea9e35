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
	"time"
)

// UserVisibleError defines errors that should be displayed to end users
// with user-friendly messages and actionable suggestions.
//
// Domain-specific errors raised outside this package should implement this
// interface to integrate with CLI error formatting.
type UserVisibleError interface {
	error

	// IsUserVisible returns true if this error should be shown to users.
	// Internal errors or debugging details should return false.
	IsUserVisible() bool

	// UserMessage returns a user-friendly error message.
	// This should avoid technical jargon and implementation details.
	UserMessage() string

	// Suggestion returns actionable guidance for resolving the error.
	// Returns empty string if no suggestion is available.
	Suggestion() string
}

// ErrorClassifier defines methods for programmatic error handling.
// Errors that implement this interface can be classified by type
// for retry logic, error reporting, or specific handling paths.
type ErrorClassifier interface {
	error

	// ErrorType returns a string identifying the error category.
	// Examples: "validation", "not_found", "timeout", "execution"
	ErrorType() string

	// IsRetryable returns true if the operation should be retried.
	IsRetryable() bool
}

// IsUserVisible implements UserVisibleError. Validation failures always
// surface to the operator who wrote the manifest.
func (e *ValidationError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *ValidationError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *ValidationError) Suggestion() string { return e.SuggestText }

// IsUserVisible implements UserVisibleError.
func (e *CooldownError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *CooldownError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *CooldownError) Suggestion() string {
	return fmt.Sprintf("wait %v before starting another run of %s", e.Remaining.Round(time.Second), e.SOP)
}

// ErrorType implements ErrorClassifier.
func (e *ExecutionError) ErrorType() string { return "execution" }

// IsRetryable implements ErrorClassifier. Command failures are retryable in
// principle; the step's retry budget decides whether a retry happens.
func (e *ExecutionError) IsRetryable() bool { return true }

// ErrorType implements ErrorClassifier.
func (e *TimeoutError) ErrorType() string { return "timeout" }

// IsRetryable implements ErrorClassifier.
func (e *TimeoutError) IsRetryable() bool { return true }

// ErrorType implements ErrorClassifier.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable implements ErrorClassifier. Invalid input never succeeds on retry.
func (e *ValidationError) IsRetryable() bool { return false }

// ErrorType implements ErrorClassifier.
func (e *DeadlockError) ErrorType() string { return "deadlock" }

// IsRetryable implements ErrorClassifier. A deadlocked dependency graph stays
// deadlocked until a failed step is retried through retryRun.
func (e *DeadlockError) IsRetryable() bool { return false }
