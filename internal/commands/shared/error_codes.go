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

	pkgerrors "github.com/tombee/runbook/pkg/errors"
)

// Error codes for structured JSON output
const (
	// Validation errors (E001-E099)
	ErrorCodeMissingField    = "E001" // Missing required field
	ErrorCodeInvalidYAML     = "E002" // Invalid YAML syntax
	ErrorCodeSchemaViolation = "E003" // Schema constraint violation
	ErrorCodeDependencyCycle = "E004" // Dependency graph contains a cycle

	// Execution errors (E100-E199)
	ErrorCodeStepFailed  = "E101" // Step command failed
	ErrorCodeStepTimeout = "E102" // Step exceeded its timeout
	ErrorCodeDeadlock    = "E103" // No remaining step can become ready
	ErrorCodeCooldown    = "E104" // SOP still inside its cooldown window

	// Resource errors (E400-E499)
	ErrorCodeNotFound     = "E401" // Resource not found
	ErrorCodeInvalidState = "E402" // Operation illegal in current state
	ErrorCodeInternal     = "E403" // Internal error
)

// JSONErrorFrom converts an error into a structured JSON error using the
// error taxonomy, preserving suggestions where the error carries one.
func JSONErrorFrom(err error) JSONError {
	out := JSONError{
		Code:    classifyErrorCode(err),
		Message: err.Error(),
	}

	var userErr pkgerrors.UserVisibleError
	if errors.As(err, &userErr) && userErr.IsUserVisible() {
		out.Suggestion = userErr.Suggestion()
	}
	return out
}

func classifyErrorCode(err error) string {
	switch {
	case pkgerrors.IsValidation(err):
		return ErrorCodeSchemaViolation
	case pkgerrors.IsNotFound(err):
		return ErrorCodeNotFound
	case pkgerrors.IsInvalidState(err):
		return ErrorCodeInvalidState
	case pkgerrors.IsTimeout(err):
		return ErrorCodeStepTimeout
	case pkgerrors.IsDeadlock(err):
		return ErrorCodeDeadlock
	case pkgerrors.IsCooldown(err):
		return ErrorCodeCooldown
	case pkgerrors.IsExecution(err):
		return ErrorCodeStepFailed
	default:
		return ErrorCodeInternal
	}
}
