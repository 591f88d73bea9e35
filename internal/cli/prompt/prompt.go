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

// Package prompt collects approval decisions from an operator at the
// terminal. It provides an interactive survey-based prompter and a mock
// for tests and non-interactive environments.
package prompt

// Decision is the outcome of one approval prompt.
type Decision struct {
	// Approve is true when the operator approved the gate
	Approve bool

	// Reason is the operator's justification, required for rejections
	Reason string
}

// Prompter defines the interface for collecting approval decisions.
// Implementations include SurveyPrompter (production) and MockPrompter (testing).
type Prompter interface {
	// Decide asks the operator to approve or reject the named gate
	Decide(title string) (Decision, error)

	// IsInteractive returns true if prompts can be displayed
	IsInteractive() bool
}
