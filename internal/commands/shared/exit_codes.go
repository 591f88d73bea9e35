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
	"os"

	pkgerrors "github.com/tombee/runbook/pkg/errors"
)

// Exit codes shared by every runbook command. Shell automation keys off
// these, so the mapping is part of the CLI contract.
const (
	ExitSuccess         = 0
	ExitExecutionFailed = 1
	ExitInvalidManifest = 2
	ExitNotFound        = 3
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewExecutionError creates an error for run execution failures
func NewExecutionError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitExecutionFailed,
		Message: msg,
		Cause:   cause,
	}
}

// NewInvalidManifestError creates an error for manifests that fail
// structural validation
func NewInvalidManifestError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitInvalidManifest,
		Message: msg,
		Cause:   cause,
	}
}

// NewNotFoundError creates an error for missing runs, SOPs, and inputs
func NewNotFoundError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitNotFound,
		Message: msg,
		Cause:   cause,
	}
}

// WrapError classifies an error from the engine, gate, or store into an
// ExitError using the error taxonomy. ExitErrors pass through untouched.
//
// Mapping: validation → 2; not found and illegal state → 3; everything
// else (execution, timeout, deadlock, cooldown, infrastructure) → 1.
func WrapError(msg string, err error) *ExitError {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}

	switch {
	case pkgerrors.IsValidation(err):
		return NewInvalidManifestError(msg, err)
	case pkgerrors.IsNotFound(err), pkgerrors.IsInvalidState(err):
		return NewNotFoundError(msg, err)
	default:
		return NewExecutionError(msg, err)
	}
}

// HandleExitError checks if an error is an ExitError and exits with the
// appropriate code
func HandleExitError(err error) {
	if err == nil {
		return
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		msg := exitErr.Error()
		if len(msg) > 0 {
			fmt.Fprintln(os.Stderr, "Error:", msg)
		}

		printUserVisibleSuggestion(err)

		os.Exit(exitErr.Code)
	}

	// Default to execution failed
	fmt.Fprintln(os.Stderr, "Error:", err.Error())

	printUserVisibleSuggestion(err)

	os.Exit(ExitExecutionFailed)
}

// printUserVisibleSuggestion checks if an error implements UserVisibleError
// and prints the suggestion if available.
func printUserVisibleSuggestion(err error) {
	// Walk the error chain to find a UserVisibleError
	for err != nil {
		if userErr, ok := err.(pkgerrors.UserVisibleError); ok {
			if userErr.IsUserVisible() {
				suggestion := userErr.Suggestion()
				if suggestion != "" {
					fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", suggestion)
				}
			}
			return
		}

		err = errors.Unwrap(err)
	}
}
