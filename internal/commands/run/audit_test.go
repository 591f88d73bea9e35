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
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/tombee/runbook/internal/audit"
	"github.com/tombee/runbook/internal/cli/prompt"
	"github.com/tombee/runbook/internal/commands/shared"
)

// fileEnv selects the file backend so a second process-alike invocation can
// read back what the execution persisted.
func fileEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RUNBOOK_STORE", "file")
	t.Setenv("RUNBOOK_DATA_DIR", t.TempDir())
	t.Setenv("RUNBOOK_SOPS_DIR", t.TempDir())
}

// executeForAudit runs a one-step SOP and returns its run id.
func executeForAudit(t *testing.T) string {
	t.Helper()
	path := writeManifest(t, `name: audited
steps:
  - title: say hi
    command: echo hi
`)

	var out bytes.Buffer
	err := executeRun(context.Background(), &out, runOptions{
		file:     path,
		quiet:    true,
		jsonOut:  true,
		prompter: prompt.NewMockPrompter(false),
	})
	if err != nil {
		t.Fatalf("executeRun: %v", err)
	}
	resp := decodeRunResponse(t, &out)
	if resp.RunID == "" {
		t.Fatal("expected a run id")
	}
	return resp.RunID
}

func TestShowAudit(t *testing.T) {
	fileEnv(t)
	runID := executeForAudit(t)

	var out bytes.Buffer
	if err := showAudit(context.Background(), &out, runID, "", true); err != nil {
		t.Fatalf("showAudit: %v", err)
	}

	var resp AuditResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.RunID != runID || len(resp.Events) == 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Events[0].EventType != audit.EventRunCreated {
		t.Errorf("first event %s, want %s", resp.Events[0].EventType, audit.EventRunCreated)
	}
	last := resp.Events[len(resp.Events)-1]
	if last.EventType != audit.EventRunCompleted {
		t.Errorf("last event %s, want %s", last.EventType, audit.EventRunCompleted)
	}
}

func TestShowAuditHuman(t *testing.T) {
	fileEnv(t)
	runID := executeForAudit(t)

	var out bytes.Buffer
	if err := showAudit(context.Background(), &out, runID, "", false); err != nil {
		t.Fatalf("showAudit: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "run_created") || !strings.Contains(got, "step_completed") {
		t.Errorf("expected rendered audit trail, got:\n%s", got)
	}
}

func TestShowAuditJQ(t *testing.T) {
	fileEnv(t)
	runID := executeForAudit(t)

	var out bytes.Buffer
	err := showAudit(context.Background(), &out, runID, "[.[] | .eventType]", false)
	if err != nil {
		t.Fatalf("showAudit: %v", err)
	}

	var types []string
	if err := json.Unmarshal(out.Bytes(), &types); err != nil {
		t.Fatalf("expected a JSON array of event types, got %q: %v", out.String(), err)
	}
	if len(types) == 0 || types[0] != "run_created" {
		t.Errorf("unexpected filter result: %v", types)
	}
}

func TestShowAuditInvalidJQ(t *testing.T) {
	fileEnv(t)
	runID := executeForAudit(t)

	var out bytes.Buffer
	err := showAudit(context.Background(), &out, runID, ".[ |", false)
	if code := exitCode(t, err); code != shared.ExitInvalidManifest {
		t.Errorf("expected exit code %d, got %d", shared.ExitInvalidManifest, code)
	}
}

func TestShowAuditUnknownRun(t *testing.T) {
	fileEnv(t)

	var out bytes.Buffer
	err := showAudit(context.Background(), &out, "no-such-run", "", false)
	if code := exitCode(t, err); code != shared.ExitNotFound {
		t.Errorf("expected exit code %d, got %d", shared.ExitNotFound, code)
	}
}
