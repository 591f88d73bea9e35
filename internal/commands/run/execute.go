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
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/tombee/runbook/internal/catalog"
	"github.com/tombee/runbook/internal/cli/format"
	"github.com/tombee/runbook/internal/cli/prompt"
	"github.com/tombee/runbook/internal/cli/timeline"
	"github.com/tombee/runbook/internal/commands/shared"
	"github.com/tombee/runbook/internal/config"
	"github.com/tombee/runbook/internal/engine"
	"github.com/tombee/runbook/internal/engine/command"
	"github.com/tombee/runbook/internal/log"
	"github.com/tombee/runbook/internal/store"
	"github.com/tombee/runbook/internal/store/memory"
	"github.com/tombee/runbook/internal/tracing"
	"github.com/tombee/runbook/pkg/errors"
	"github.com/tombee/runbook/pkg/manifest"
)

// runOptions carries everything executeRun needs besides the context.
type runOptions struct {
	file    string
	vars    []string
	dryRun  bool
	mode    string
	quiet   bool
	verbose bool
	jsonOut bool

	prompter prompt.Prompter
}

// RunResponse is the JSON envelope for run execution
type RunResponse struct {
	shared.JSONResponse
	RunID      string        `json:"runId"`
	SOP        string        `json:"sop"`
	Status     string        `json:"status"`
	Mode       string        `json:"mode"`
	DryRun     bool          `json:"dryRun,omitempty"`
	DurationMs int64         `json:"durationMs,omitempty"`
	Steps      []StepSummary `json:"steps"`
	Error      string        `json:"error,omitempty"`
	Resume     string        `json:"resume,omitempty"`
}

// StepSummary is one step's outcome inside a RunResponse
type StepSummary struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	Error      string `json:"error,omitempty"`
}

// executeRun is the --file path: resolve the manifest, create a run, and
// drive it to a terminal or suspended state, collecting approvals along the
// way when the session is interactive.
func executeRun(ctx context.Context, out io.Writer, opts runOptions) error {
	params, err := parseVars(opts.vars)
	if err != nil {
		return failJSON(out, opts.jsonOut, "invalid --var", err)
	}

	var modeOverride manifest.ExecutionMode
	if opts.mode != "" {
		modeOverride = manifest.ExecutionMode(opts.mode)
		if !manifest.ValidExecutionModes[modeOverride] {
			return failJSON(out, opts.jsonOut, "invalid --mode", &errors.ValidationError{
				Field:       "mode",
				Message:     fmt.Sprintf("unknown execution mode %q", opts.mode),
				SuggestText: "valid modes: auto, supervised, step_by_step, priority_based",
			})
		}
	}

	cfg, err := shared.LoadConfig()
	if err != nil {
		return failJSON(out, opts.jsonOut, "load config", err)
	}

	m, err := loadSOP(opts.file, cfg)
	if err != nil {
		return failJSON(out, opts.jsonOut, "resolve "+opts.file, err)
	}

	var backend store.Backend
	if opts.dryRun {
		// Dry runs must not touch the configured store or leave audit rows.
		backend = memory.New()
	} else {
		backend, err = shared.OpenBackend(cfg)
		if err != nil {
			return failJSON(out, opts.jsonOut, "open store", err)
		}
	}
	defer backend.Close()

	var runner command.Runner = command.NewShellRunner()
	if opts.dryRun {
		runner = command.DryRunner{}
	}

	logCfg := log.FromEnv()
	if opts.verbose {
		logCfg.Level = "debug"
	} else if logCfg.Level == "info" {
		// info is the FromEnv default; interactive runs log warnings only so
		// structured records do not interleave with progress lines
		logCfg.Level = "warn"
	}
	logger := log.New(logCfg)

	tp, err := tracing.Init(tracing.FromEnv("runbook"))
	if err != nil {
		logger.Warn("tracing init failed", "error", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	eng := engine.New(backend, runner).
		WithLogger(logger).
		WithTracer(tp.Tracer("runbook/engine"))

	progress := shared.NewProgress(out, m, opts.quiet || opts.jsonOut, opts.verbose)
	if !opts.jsonOut {
		eng = eng.WithObserver(progress.HandleEvent)
	}
	if opts.dryRun {
		eng = eng.WithAutoApprove()
	}

	run, err := eng.CreateRun(ctx, m, params, modeOverride)
	if err != nil {
		return failJSON(out, opts.jsonOut, "create run", err)
	}

	progress.Header(m.Name, run.RunID)

	run, err = shared.DriveWithApprovals(ctx, eng, run, opts.prompter, progress)
	if err != nil {
		return failJSON(out, opts.jsonOut, "run "+run.RunID, err)
	}

	return finishRun(out, run, opts, progress)
}

// loadSOP resolves the --file argument as a filesystem path first, then as a
// SOP name in the configured catalog.
func loadSOP(arg string, cfg *config.Config) (*manifest.Manifest, error) {
	path, err := shared.ResolveManifestPath(arg)
	if err == nil {
		return manifest.Load(path)
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	cat, catErr := catalog.New(cfg.SopsDir)
	if catErr != nil {
		// No catalog to fall back to; the path error is the useful one.
		return nil, err
	}
	if err := cat.Reload(); err != nil {
		return nil, err
	}
	return cat.Get(arg)
}

// finishRun renders the final state and maps it to the process exit status.
func finishRun(out io.Writer, run *store.Run, opts runOptions, progress *shared.Progress) error {
	if opts.jsonOut {
		return emitRunJSON(out, run, opts.dryRun)
	}

	progress.Finish(string(run.Status))

	switch run.Status {
	case store.StatusCompleted:
		maybeTimeline(out, run, opts)
		return nil
	case store.StatusFailed:
		maybeTimeline(out, run, opts)
		msg := run.Error
		if msg == "" {
			msg = "run failed"
		}
		return shared.NewExecutionError(msg, nil)
	case store.StatusCancelled:
		return shared.NewExecutionError("run cancelled", nil)
	case store.StatusPaused:
		fmt.Fprintf(out, "Resume with: runbook resume --token %s\n", run.RunID)
		return &shared.ExitError{Code: shared.ExitExecutionFailed, Message: "run paused"}
	case store.StatusWaitingApproval, store.StatusAwaitingApproval:
		fmt.Fprintf(out, "Approve with: runbook resume --token %s --approve\n", run.RunID)
		return nil
	default:
		return nil
	}
}

// maybeTimeline renders the wall-clock timeline after verbose TTY runs.
// Narrow terminals and empty runs skip it silently.
func maybeTimeline(out io.Writer, run *store.Run, opts runOptions) {
	if !opts.verbose || !format.IsTTY() {
		return
	}
	r, err := timeline.NewRenderer()
	if err != nil {
		return
	}
	view, err := r.Render(run)
	if err != nil {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, view)
}

// emitRunJSON writes the run envelope and returns the exit mapping for
// machine consumers. Suspended runs exit zero; their resume token is in the
// envelope.
func emitRunJSON(out io.Writer, run *store.Run, dryRun bool) error {
	resp := RunResponse{
		JSONResponse: shared.NewJSONResponse("run", run.Status == store.StatusCompleted),
		RunID:        run.RunID,
		SOP:          run.SOPName,
		Status:       string(run.Status),
		Mode:         string(run.ExecutionMode),
		DryRun:       dryRun,
		Error:        run.Error,
		Steps:        stepSummaries(run),
	}
	if run.CompletedAt != nil {
		resp.DurationMs = run.CompletedAt.Sub(run.StartedAt).Milliseconds()
	}
	switch run.Status {
	case store.StatusPaused, store.StatusWaitingApproval, store.StatusAwaitingApproval:
		resp.Resume = run.RunID
	}

	if err := shared.EmitJSONTo(out, resp); err != nil {
		return err
	}
	switch run.Status {
	case store.StatusCompleted, store.StatusWaitingApproval, store.StatusAwaitingApproval:
		return nil
	default:
		return &shared.ExitError{Code: shared.ExitExecutionFailed}
	}
}

func stepSummaries(run *store.Run) []StepSummary {
	numbers := make([]int, 0, len(run.StepResults))
	for n := range run.StepResults {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	steps := make([]StepSummary, 0, len(numbers))
	for _, n := range numbers {
		res := run.StepResults[n]
		s := StepSummary{
			Number:   n,
			Title:    res.Title,
			Status:   string(res.Status),
			Attempts: res.Attempts,
			Error:    res.Error,
		}
		if res.StartedAt != nil && res.CompletedAt != nil {
			s.DurationMs = res.CompletedAt.Sub(*res.StartedAt).Milliseconds()
		}
		steps = append(steps, s)
	}
	return steps
}

// failJSON is the run command's shorthand for shared.FailJSON.
func failJSON(out io.Writer, jsonOut bool, msg string, err error) error {
	return shared.FailJSON(out, jsonOut, "run", msg, err)
}
