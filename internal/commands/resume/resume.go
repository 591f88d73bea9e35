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
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tombee/runbook/internal/audit"
	"github.com/tombee/runbook/internal/cli/prompt"
	"github.com/tombee/runbook/internal/commands/shared"
	"github.com/tombee/runbook/internal/engine"
	"github.com/tombee/runbook/internal/engine/command"
	"github.com/tombee/runbook/internal/gate"
	"github.com/tombee/runbook/internal/log"
	"github.com/tombee/runbook/internal/store"
	"github.com/tombee/runbook/internal/tracing"
	"github.com/tombee/runbook/pkg/errors"
)

// resumeOptions carries everything resumeRun needs besides the context.
type resumeOptions struct {
	token   string
	approve bool
	reject  bool
	step    int
	reason  string
	quiet   bool
	verbose bool
	jsonOut bool

	prompter prompt.Prompter
}

// ResumeResponse is the JSON envelope for resume
type ResumeResponse struct {
	shared.JSONResponse
	RunID  string `json:"runId"`
	SOP    string `json:"sop"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Resume string `json:"resume,omitempty"`
}

// resumeRun loads the suspended run and either applies an explicit gate
// decision or continues execution from the persisted state.
func resumeRun(ctx context.Context, out io.Writer, opts resumeOptions) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return failJSON(out, opts.jsonOut, "load config", err)
	}
	backend, err := shared.OpenBackend(cfg)
	if err != nil {
		return failJSON(out, opts.jsonOut, "open store", err)
	}
	defer backend.Close()

	logCfg := log.FromEnv()
	if opts.verbose {
		logCfg.Level = "debug"
	} else if logCfg.Level == "info" {
		logCfg.Level = "warn"
	}
	logger := log.New(logCfg)

	tp, err := tracing.Init(tracing.FromEnv("runbook"))
	if err != nil {
		logger.Warn("tracing init failed", "error", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	eng := engine.New(backend, command.NewShellRunner()).
		WithLogger(logger).
		WithTracer(tp.Tracer("runbook/engine"))

	run, err := eng.GetRun(ctx, opts.token)
	if err != nil {
		return failJSON(out, opts.jsonOut, "resume "+opts.token, err)
	}

	progress := shared.NewProgress(out, run.Manifest, opts.quiet || opts.jsonOut, opts.verbose)
	if !opts.jsonOut {
		eng = eng.WithObserver(progress.HandleEvent)
	}
	progress.Header(run.SOPName, run.RunID)

	if opts.approve || opts.reject {
		run, err = applyDecision(ctx, eng, run, opts, progress)
	} else {
		run, err = continueRun(ctx, eng, run, opts, progress)
	}
	if err != nil {
		return failJSON(out, opts.jsonOut, "resume "+opts.token, err)
	}

	return finishResume(out, run, opts, progress)
}

// applyDecision answers the run's open gate with the flag-supplied decision,
// then keeps driving after an approval.
func applyDecision(ctx context.Context, eng *engine.Engine, run *store.Run, opts resumeOptions, progress *shared.Progress) (*store.Run, error) {
	g := eng.Gate()

	switch run.Status {
	case store.StatusWaitingApproval:
		if opts.step > 0 {
			return run, &errors.ValidationError{
				Field:   "step",
				Message: "the run is waiting for its initial approval; --step does not apply",
			}
		}
		if opts.reject {
			next, err := g.RejectRun(ctx, run.RunID, opts.reason)
			if err != nil {
				return run, err
			}
			progress.HandleEvent(audit.Event{EventType: audit.EventApprovalRejected, RunID: run.RunID})
			return next, nil
		}
		next, err := g.ApproveRun(ctx, run.RunID, opts.reason)
		if err != nil {
			return run, err
		}
		progress.HandleEvent(audit.Event{EventType: audit.EventApprovalGranted, RunID: run.RunID})
		return shared.DriveWithApprovals(ctx, eng, next, opts.prompter, progress)

	case store.StatusAwaitingApproval:
		n, err := resolveGatedStep(run, opts.step)
		if err != nil {
			return run, err
		}
		if opts.reject {
			next, err := g.RejectStep(ctx, run.RunID, n, opts.reason)
			if err != nil {
				return run, err
			}
			progress.HandleEvent(audit.Event{EventType: audit.EventApprovalRejected, RunID: run.RunID, StepNumber: n})
			return next, nil
		}
		next, err := g.ApproveStep(ctx, run.RunID, n, opts.reason)
		if err != nil {
			return run, err
		}
		progress.HandleEvent(audit.Event{EventType: audit.EventApprovalGranted, RunID: run.RunID, StepNumber: n})
		return shared.DriveWithApprovals(ctx, eng, next, opts.prompter, progress)

	default:
		return run, &errors.InvalidStateError{
			Entity: "run", ID: run.RunID,
			State: string(run.Status), Want: "waiting_approval or awaiting_approval",
		}
	}
}

// continueRun resumes execution without an explicit gate decision.
func continueRun(ctx context.Context, eng *engine.Engine, run *store.Run, opts resumeOptions, progress *shared.Progress) (*store.Run, error) {
	switch run.Status {
	case store.StatusPaused:
		next, err := eng.Resume(ctx, run.RunID)
		if err != nil {
			return run, err
		}
		return shared.DriveWithApprovals(ctx, eng, next, opts.prompter, progress)

	case store.StatusFailed:
		next, err := eng.Retry(ctx, run.RunID)
		if err != nil {
			return run, err
		}
		return shared.DriveWithApprovals(ctx, eng, next, opts.prompter, progress)

	case store.StatusWaitingApproval, store.StatusAwaitingApproval:
		if !opts.prompter.IsInteractive() {
			return run, &shared.ExitError{
				Code:    shared.ExitNotFound,
				Message: fmt.Sprintf("run %s is awaiting approval: pass --approve or --reject", run.RunID),
			}
		}
		return shared.DriveWithApprovals(ctx, eng, run, opts.prompter, progress)

	case store.StatusPending, store.StatusRunning:
		// A running status with no live driver means the previous process
		// crashed mid-run; Drive reconciles from the persisted step results.
		return shared.DriveWithApprovals(ctx, eng, run, opts.prompter, progress)

	default:
		return run, &errors.InvalidStateError{
			Entity: "run", ID: run.RunID,
			State: string(run.Status), Want: "a resumable state",
		}
	}
}

// resolveGatedStep picks the step gate a decision applies to. With one open
// gate the flag is optional; with several it is required.
func resolveGatedStep(run *store.Run, flag int) (int, error) {
	gates := gate.AwaitingSteps(run)
	if len(gates) == 0 {
		return 0, &errors.InvalidStateError{
			Entity: "run", ID: run.RunID,
			State: string(run.Status), Want: "an open step gate",
		}
	}
	if flag == 0 {
		if len(gates) == 1 {
			return gates[0], nil
		}
		return 0, shared.NewNotFoundError(
			fmt.Sprintf("several steps are awaiting approval (%s); pass --step", joinInts(gates)), nil)
	}
	for _, n := range gates {
		if n == flag {
			return flag, nil
		}
	}
	return 0, &errors.InvalidStateError{
		Entity: "step", ID: fmt.Sprintf("%s/%d", run.RunID, flag),
		State: "not awaiting approval", Want: "an open gate",
	}
}

// finishResume renders the final state and maps it to the process exit
// status. A pause produced by an explicit or prompted rejection is a
// successfully recorded decision, so only failed runs exit non-zero.
func finishResume(out io.Writer, run *store.Run, opts resumeOptions, progress *shared.Progress) error {
	if opts.jsonOut {
		resp := ResumeResponse{
			JSONResponse: shared.NewJSONResponse("resume", run.Status != store.StatusFailed),
			RunID:        run.RunID,
			SOP:          run.SOPName,
			Status:       string(run.Status),
			Error:        run.Error,
		}
		switch run.Status {
		case store.StatusPaused, store.StatusWaitingApproval, store.StatusAwaitingApproval:
			resp.Resume = run.RunID
		}
		if err := shared.EmitJSONTo(out, resp); err != nil {
			return err
		}
		if run.Status == store.StatusFailed {
			return &shared.ExitError{Code: shared.ExitExecutionFailed}
		}
		return nil
	}

	progress.Finish(string(run.Status))

	switch run.Status {
	case store.StatusFailed:
		msg := run.Error
		if msg == "" {
			msg = "run failed"
		}
		return shared.NewExecutionError(msg, nil)
	case store.StatusPaused:
		fmt.Fprintf(out, "Resume with: runbook resume --token %s\n", run.RunID)
		return nil
	case store.StatusWaitingApproval, store.StatusAwaitingApproval:
		fmt.Fprintf(out, "Approve with: runbook resume --token %s --approve\n", run.RunID)
		return nil
	default:
		return nil
	}
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}

// failJSON is the resume command's shorthand for shared.FailJSON.
func failJSON(out io.Writer, jsonOut bool, msg string, err error) error {
	return shared.FailJSON(out, jsonOut, "resume", msg, err)
}
