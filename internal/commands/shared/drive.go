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
	"context"
	"fmt"

	"github.com/tombee/runbook/internal/audit"
	"github.com/tombee/runbook/internal/cli/prompt"
	"github.com/tombee/runbook/internal/engine"
	"github.com/tombee/runbook/internal/gate"
	"github.com/tombee/runbook/internal/store"
)

// DriveWithApprovals drives the run until it reaches a terminal state or
// suspends on a gate the session cannot answer. Gate decisions collected
// from the prompter are applied one at a time: every approval moves the run
// back to running, so the next Drive either finishes the run or halts at
// the next gate. A rejection pauses the run and returns immediately.
//
// Gate transitions are appended to the audit trail by the gate manager, not
// the engine, so the approval outcomes are replayed to the progress
// renderer here.
func DriveWithApprovals(ctx context.Context, eng *engine.Engine, run *store.Run, pr prompt.Prompter, progress *Progress) (*store.Run, error) {
	g := eng.Gate()
	for {
		switch run.Status {
		case store.StatusPending, store.StatusRunning:
			next, err := eng.Drive(ctx, run.RunID)
			if err != nil {
				return run, err
			}
			run = next

		case store.StatusWaitingApproval:
			if !pr.IsInteractive() {
				return run, nil
			}
			dec, err := pr.Decide(run.SOPName)
			if err != nil {
				return run, err
			}
			if !dec.Approve {
				next, err := g.RejectRun(ctx, run.RunID, dec.Reason)
				if err != nil {
					return run, err
				}
				progress.HandleEvent(audit.Event{EventType: audit.EventApprovalRejected, RunID: run.RunID})
				return next, nil
			}
			next, err := g.ApproveRun(ctx, run.RunID, dec.Reason)
			if err != nil {
				return run, err
			}
			progress.HandleEvent(audit.Event{EventType: audit.EventApprovalGranted, RunID: run.RunID})
			run = next

		case store.StatusAwaitingApproval:
			if !pr.IsInteractive() {
				return run, nil
			}
			steps := gate.AwaitingSteps(run)
			if len(steps) == 0 {
				return run, nil
			}
			n := steps[0]
			title := fmt.Sprintf("step %d", n)
			if s := run.Manifest.StepByNumber(n); s != nil {
				title = s.Title
			}
			dec, err := pr.Decide(title)
			if err != nil {
				return run, err
			}
			if !dec.Approve {
				next, err := g.RejectStep(ctx, run.RunID, n, dec.Reason)
				if err != nil {
					return run, err
				}
				progress.HandleEvent(audit.Event{EventType: audit.EventApprovalRejected, RunID: run.RunID, StepNumber: n})
				return next, nil
			}
			next, err := g.ApproveStep(ctx, run.RunID, n, dec.Reason)
			if err != nil {
				return run, err
			}
			progress.HandleEvent(audit.Event{EventType: audit.EventApprovalGranted, RunID: run.RunID, StepNumber: n})
			run = next

		default:
			return run, nil
		}
	}
}
