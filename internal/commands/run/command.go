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

package run

import (
	"github.com/spf13/cobra"

	"github.com/tombee/runbook/internal/cli/prompt"
	"github.com/tombee/runbook/internal/commands/shared"
)

// NewCommand creates the run command
func NewCommand() *cobra.Command {
	var (
		file         string
		vars         []string
		dryRun       bool
		mode         string
		list         bool
		sopsDir      string
		validatePath string
		audit        bool
		runID        string
		jqExpr       string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute, list, validate, or audit SOPs",
		Long: `Run executes a SOP manifest as a tracked, auditable run.

The manifest's steps execute as a dependency graph: every step whose
dependencies have completed becomes ready, and ready steps run concurrently
up to the manifest's limit. Supervised and step-by-step manifests pause for
approval; answer the prompt, or resume later with 'runbook resume'.

SOP selection:
  --file <path>   Path to a manifest file, or the name of a SOP from the
                  configured catalog directory

Other operations:
  --list          List the SOPs in the catalog
  --validate <f>  Validate a manifest file without running it
  --audit --id <runId>
                  Print a run's audit trail (optionally filtered with --jq)

Execution modes:
  auto            Run every ready step without gates
  supervised      One approval before the run starts
  step_by_step    Approval before every step
  priority_based  Schedules like auto; priority orders SOPs in listings`,
		Example: `  runbook run --file ./sops/disk-cleanup.yaml
  runbook run --file disk-cleanup --var host=web-3 --mode supervised
  runbook run --file ./sops/deploy.yaml --dry-run
  runbook run --list
  runbook run --validate ./sops/deploy.yaml
  runbook run --audit --id 01J9... --jq '.[] | select(.eventType == "step_failed")'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			jsonOut := shared.GetJSON()

			switch {
			case list:
				return listSOPs(out, sopsDir, jsonOut)
			case validatePath != "":
				return validateManifest(out, validatePath, jsonOut)
			case audit:
				if runID == "" {
					return shared.NewNotFoundError("--audit requires --id", nil)
				}
				return showAudit(cmd.Context(), out, runID, jqExpr, jsonOut)
			case file != "":
				interactive := !shared.IsNonInteractive() && !jsonOut
				return executeRun(cmd.Context(), out, runOptions{
					file:     file,
					vars:     vars,
					dryRun:   dryRun,
					mode:     mode,
					quiet:    shared.GetQuiet(),
					verbose:  shared.GetVerbose(),
					jsonOut:  jsonOut,
					prompter: prompt.NewSurveyPrompter(interactive),
				})
			default:
				return shared.NewNotFoundError("one of --file, --list, --validate, or --audit is required", nil)
			}
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Manifest file path or catalog SOP name")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "Runtime variable in key=value format (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Walk the graph without executing commands or persisting state")
	cmd.Flags().StringVar(&mode, "mode", "", "Override the manifest execution mode (auto, supervised, step_by_step, priority_based)")
	cmd.Flags().BoolVar(&list, "list", false, "List SOPs available in the catalog")
	cmd.Flags().StringVar(&sopsDir, "sops-dir", "", "Catalog directory for --list (default: configured sops dir)")
	cmd.Flags().StringVar(&validatePath, "validate", "", "Validate a manifest file and exit")
	cmd.Flags().BoolVar(&audit, "audit", false, "Print the audit trail of a run")
	cmd.Flags().StringVar(&runID, "id", "", "Run identifier for --audit")
	cmd.Flags().StringVar(&jqExpr, "jq", "", "jq expression applied to the audit trail")

	return cmd
}
