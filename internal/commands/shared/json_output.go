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
	"encoding/json"
	"io"
	"os"
)

// JSONResponse is the base envelope for all JSON output
type JSONResponse struct {
	Version string `json:"@version"`
	Command string `json:"command"`
	Success bool   `json:"success"`
}

// NewJSONResponse builds the envelope for one command invocation.
func NewJSONResponse(command string, success bool) JSONResponse {
	return JSONResponse{
		Version: "1.0",
		Command: command,
		Success: success,
	}
}

// JSONError represents a structured error with code, message, and suggestion
type JSONError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	Step       int    `json:"step,omitempty"`
}

// emitJSON marshals a response to JSON and outputs it to stdout
// This ensures consistent formatting and error handling across all commands
func emitJSON(w io.Writer, response interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// EmitJSON writes a response as indented JSON to stdout.
func EmitJSON(response interface{}) error {
	return emitJSON(os.Stdout, response)
}

// EmitJSONTo writes a response as indented JSON to the given writer.
func EmitJSONTo(w io.Writer, response interface{}) error {
	return emitJSON(w, response)
}

// EmitJSONError creates and emits a JSON error response
func EmitJSONError(command string, errors []JSONError) error {
	return EmitJSONErrorTo(os.Stdout, command, errors)
}

// EmitJSONErrorTo writes a JSON error response to the given writer.
func EmitJSONErrorTo(w io.Writer, command string, errors []JSONError) error {
	type errorResponse struct {
		JSONResponse
		Errors []JSONError `json:"errors"`
	}

	resp := errorResponse{
		JSONResponse: NewJSONResponse(command, false),
		Errors:       errors,
	}

	return emitJSON(w, resp)
}

// FailJSON maps err to an ExitError. In JSON mode the error detail goes into
// the error envelope on out and the returned ExitError carries only the
// code, keeping stdout pure JSON.
func FailJSON(out io.Writer, jsonOut bool, command, msg string, err error) error {
	wrapped := WrapError(msg, err)
	if jsonOut {
		_ = EmitJSONErrorTo(out, command, []JSONError{JSONErrorFrom(err)})
		return &ExitError{Code: wrapped.Code}
	}
	return wrapped
}
