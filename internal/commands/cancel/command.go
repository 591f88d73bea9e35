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

package cancel

import (
	"github.com/spf13/cobra"

	"github.com/tombee/runbook/internal/commands/shared"
)

// NewCommand creates the cancel command
func NewCommand() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a run",
		Long: `Cancel terminates a run that has not finished yet.

A running drive is interrupted at the current step boundary; suspended runs
are closed without executing anything further. Cancelling an already
cancelled run is a no-op. Completed and failed runs cannot be cancelled.`,
		Example: `  runbook cancel --id 01J9...`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return shared.NewNotFoundError("--id is required", nil)
			}
			return cancelRun(cmd.Context(), cmd.OutOrStdout(), cancelOptions{
				runID:   runID,
				quiet:   shared.GetQuiet(),
				verbose: shared.GetVerbose(),
				jsonOut: shared.GetJSON(),
			})
		},
	}

	cmd.Flags().StringVar(&runID, "id", "", "Run id to cancel")

	return cmd
}
