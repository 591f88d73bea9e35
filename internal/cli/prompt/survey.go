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

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
)

// SurveyPrompter implements Prompter using the survey library.
type SurveyPrompter struct {
	interactive bool
}

// NewSurveyPrompter creates a new survey-based prompter.
func NewSurveyPrompter(interactive bool) *SurveyPrompter {
	return &SurveyPrompter{
		interactive: interactive,
	}
}

// Decide presents an approve/reject selection for the named gate. A
// rejection also collects a reason, which the audit trail records.
func (sp *SurveyPrompter) Decide(title string) (Decision, error) {
	if !sp.interactive {
		return Decision{}, fmt.Errorf("cannot prompt in non-interactive mode")
	}

	var choice string
	sel := &survey.Select{
		Message: fmt.Sprintf("Approve %q?", title),
		Options: []string{"approve", "reject"},
		Default: "approve",
	}
	if err := survey.AskOne(sel, &choice); err != nil {
		return Decision{}, err
	}

	if choice == "approve" {
		return Decision{Approve: true}, nil
	}

	var reason string
	input := &survey.Input{
		Message: "Rejection reason:",
	}
	if err := survey.AskOne(input, &reason, survey.WithValidator(survey.Required)); err != nil {
		return Decision{}, err
	}

	return Decision{Approve: false, Reason: reason}, nil
}

// IsInteractive returns whether the prompter can display interactive prompts.
func (sp *SurveyPrompter) IsInteractive() bool {
	return sp.interactive
}
