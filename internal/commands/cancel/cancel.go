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
	"context"
	"fmt"
	"io"

	"github.com/tombee/runbook/internal/commands/shared"
	"github.com/tombee/runbook/internal/engine"
	"github.com/tombee/runbook/internal/engine/command"
	"github.com/tombee/runbook/internal/log"
)

type cancelOptions struct {
	runID   string
	quiet   bool
	verbose bool
	jsonOut bool
}

// CancelResponse is the JSON envelope for cancel
type CancelResponse struct {
	shared.JSONResponse
	RunID  string `json:"runId"`
	SOP    string `json:"sop"`
	Status string `json:"status"`
}

func cancelRun(ctx context.Context, out io.Writer, opts cancelOptions) error {
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

	// Cancel never executes steps; the runner is only there to satisfy the
	// engine constructor.
	eng := engine.New(backend, command.NewShellRunner()).WithLogger(logger)

	run, err := eng.Cancel(ctx, opts.runID)
	if err != nil {
		return failJSON(out, opts.jsonOut, "cancel "+opts.runID, err)
	}

	if opts.jsonOut {
		return shared.EmitJSONTo(out, CancelResponse{
			JSONResponse: shared.NewJSONResponse("cancel", true),
			RunID:        run.RunID,
			SOP:          run.SOPName,
			Status:       string(run.Status),
		})
	}
	if !opts.quiet {
		fmt.Fprintln(out, shared.RenderWarn(fmt.Sprintf("Run %s cancelled", run.RunID)))
	}
	return nil
}

func failJSON(out io.Writer, jsonOut bool, msg string, err error) error {
	return shared.FailJSON(out, jsonOut, "cancel", msg, err)
}
