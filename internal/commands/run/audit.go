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
	"encoding/json"
	"fmt"
	"io"

	"github.com/tombee/runbook/internal/audit"
	"github.com/tombee/runbook/internal/cli/format"
	"github.com/tombee/runbook/internal/commands/shared"
	"github.com/tombee/runbook/internal/jq"
	"github.com/tombee/runbook/pkg/errors"
)

// AuditResponse is the JSON envelope for --audit
type AuditResponse struct {
	shared.JSONResponse
	RunID  string        `json:"runId"`
	Events []audit.Event `json:"events"`
}

// showAudit replays a run's audit trail in append order, optionally piped
// through a jq expression.
func showAudit(ctx context.Context, out io.Writer, runID, jqExpr string, jsonOut bool) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return failJSON(out, jsonOut, "load config", err)
	}
	backend, err := shared.OpenBackend(cfg)
	if err != nil {
		return failJSON(out, jsonOut, "open store", err)
	}
	defer backend.Close()

	// Resolve the run first so an unknown id reports not-found instead of
	// an empty trail.
	if _, err := backend.GetRun(ctx, runID); err != nil {
		return failJSON(out, jsonOut, "audit "+runID, err)
	}
	events, err := backend.ReadEvents(ctx, runID)
	if err != nil {
		return failJSON(out, jsonOut, "audit "+runID, err)
	}

	if jqExpr != "" {
		exec := jq.NewExecutor(0, 0)
		if err := exec.Validate(jqExpr); err != nil {
			return failJSON(out, jsonOut, "invalid --jq", &errors.ValidationError{
				Field:       "jq",
				Message:     err.Error(),
				SuggestText: "check the jq expression syntax",
			})
		}
		filtered, err := exec.FilterJSON(ctx, jqExpr, events)
		if err != nil {
			return failJSON(out, jsonOut, "apply --jq", err)
		}
		fmt.Fprintln(out, string(filtered))
		return nil
	}

	if jsonOut {
		return shared.EmitJSONTo(out, AuditResponse{
			JSONResponse: shared.NewJSONResponse("run", true),
			RunID:        runID,
			Events:       events,
		})
	}

	raw, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to encode audit trail: %w", err)
	}
	rendered, err := format.FormatJSON(string(raw), format.IsTTY())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, rendered)
	return nil
}
