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
	"errors"
	"fmt"
)

// Wrap creates a new error that wraps the given error with additional context.
// If err is nil, returns nil.
//
// Usage:
//
//	if err := backend.UpdateRun(ctx, run); err != nil {
//	    return errors.Wrap(err, "saving run")
//	}
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf creates a new error that wraps the given error with formatted context.
// If err is nil, returns nil.
//
// Usage:
//
//	if err := loadManifest(path); err != nil {
//	    return errors.Wrapf(err, "loading manifest %s", path)
//	}
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// New creates a new error with the given message.
// This is a convenience wrapper around errors.New from the standard library.
func New(message string) error {
	return errors.New(message)
}

// As finds the first error in err's tree that matches target type,
// and if one is found, sets target to that error value and returns true.
// This is a convenience wrapper around errors.As from the standard library.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsValidation reports whether err's chain contains a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err's chain contains a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsExecution reports whether err's chain contains an ExecutionError.
func IsExecution(err error) bool {
	var target *ExecutionError
	return errors.As(err, &target)
}

// IsTimeout reports whether err's chain contains a TimeoutError.
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// IsApprovalTimeout reports whether err's chain contains an ApprovalTimeoutError.
func IsApprovalTimeout(err error) bool {
	var target *ApprovalTimeoutError
	return errors.As(err, &target)
}

// IsDeadlock reports whether err's chain contains a DeadlockError.
func IsDeadlock(err error) bool {
	var target *DeadlockError
	return errors.As(err, &target)
}

// IsInvalidState reports whether err's chain contains an InvalidStateError.
func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

// IsCooldown reports whether err's chain contains a CooldownError.
func IsCooldown(err error) bool {
	var target *CooldownError
	return errors.As(err, &target)
}

// IsConfig reports whether err's chain contains a ConfigError.
func IsConfig(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}
