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

package resume

import (
	"github.com/spf13/cobra"

	"github.com/tombee/runbook/internal/cli/prompt"
	"github.com/tombee/runbook/internal/commands/shared"
	"github.com/tombee/runbook/pkg/errors"
)

// NewCommand creates the resume command
func NewCommand() *cobra.Command {
	var (
		token   string
		approve bool
		reject  bool
		step    int
		reason  string
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused, failed, or approval-gated run",
		Long: `Resume picks a suspended run back up from its persisted state.

What happens depends on the run's status:
  paused             Continue executing from where the run stopped
  failed             Retry the failed steps and continue
  waiting_approval   Answer the run's initial approval gate
  awaiting_approval  Answer an open step gate (pick one with --step when
                     several are open)

Without --approve or --reject an interactive session prompts for each open
gate; a non-interactive one exits with status 3 and the run untouched.
Rejections require --reason and leave the run paused for a later resume.`,
		Example: `  runbook resume --token 01J9...
  runbook resume --token 01J9... --approve
  runbook resume --token 01J9... --reject --reason "wrong maintenance window"
  runbook resume --token 01J9... --approve --step 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return shared.NewNotFoundError("--token is required", nil)
			}
			if approve && reject {
				return shared.WrapError("invalid flags", &errors.ValidationError{
					Field:   "approve",
					Message: "--approve and --reject are mutually exclusive",
				})
			}
			if reject && reason == "" {
				return shared.WrapError("invalid flags", &errors.ValidationError{
					Field:       "reason",
					Message:     "--reject requires --reason",
					SuggestText: "record why the gate was rejected for the audit trail",
				})
			}

			interactive := !shared.IsNonInteractive() && !shared.GetJSON()
			return resumeRun(cmd.Context(), cmd.OutOrStdout(), resumeOptions{
				token:    token,
				approve:  approve,
				reject:   reject,
				step:     step,
				reason:   reason,
				quiet:    shared.GetQuiet(),
				verbose:  shared.GetVerbose(),
				jsonOut:  shared.GetJSON(),
				prompter: prompt.NewSurveyPrompter(interactive),
			})
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Resume token (the run id)")
	cmd.Flags().BoolVar(&approve, "approve", false, "Approve the open gate")
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject the open gate and pause the run")
	cmd.Flags().IntVar(&step, "step", 0, "Step number to approve or reject when several gates are open")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the decision")

	return cmd
}
