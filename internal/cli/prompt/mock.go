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

package prompt

import "fmt"

// MockPrompter implements Prompter with scripted decisions for testing.
// It allows tests to simulate operator input without an interactive terminal.
type MockPrompter struct {
	decisions    []Decision
	currentIndex int
	interactive  bool
	callLog      []string
}

// NewMockPrompter creates a new mock prompter with pre-scripted decisions.
func NewMockPrompter(interactive bool, decisions ...Decision) *MockPrompter {
	return &MockPrompter{
		decisions:   decisions,
		interactive: interactive,
		callLog:     make([]string, 0),
	}
}

// Decide returns the next scripted decision.
func (mp *MockPrompter) Decide(title string) (Decision, error) {
	mp.callLog = append(mp.callLog, fmt.Sprintf("Decide(%s)", title))

	if mp.currentIndex >= len(mp.decisions) {
		return Decision{}, fmt.Errorf("no mock decision available")
	}

	d := mp.decisions[mp.currentIndex]
	mp.currentIndex++
	return d, nil
}

// IsInteractive returns the configured interactive state.
func (mp *MockPrompter) IsInteractive() bool {
	return mp.interactive
}

// GetCallLog returns the log of all prompt calls made.
func (mp *MockPrompter) GetCallLog() []string {
	return mp.callLog
}

// Reset clears the call log and resets the decision index.
func (mp *MockPrompter) Reset() {
	mp.currentIndex = 0
	mp.callLog = make([]string, 0)
}
