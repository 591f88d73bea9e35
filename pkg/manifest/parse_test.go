package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	runbookerrors "github.com/tombee/runbook/pkg/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name: "valid manifest",
			yaml: `
name: db-failover
description: Fail the primary database over to the standby
version: "3"
steps:
  - title: Verify standby health
    command: check-standby --json
  - title: Promote standby
    command: promote-standby
    dependsOn: [1]
`,
			wantErr: false,
		},
		{
			name: "missing name",
			yaml: `
steps:
  - title: Step
    command: "true"
`,
			wantErr: true,
		},
		{
			name: "no steps",
			yaml: `
name: empty
steps: []
`,
			wantErr: true,
		},
		{
			name: "duplicate step numbers",
			yaml: `
name: dupes
steps:
  - number: 1
    title: First
    command: "true"
  - number: 1
    title: Second
    command: "true"
`,
			wantErr: true,
		},
		{
			name: "unknown dependency",
			yaml: `
name: dangling
steps:
  - title: Step
    command: "true"
    dependsOn: [9]
`,
			wantErr: true,
		},
		{
			name: "self dependency",
			yaml: `
name: selfref
steps:
  - number: 1
    title: Step
    command: "true"
    dependsOn: [1]
`,
			wantErr: true,
		},
		{
			name: "dependency cycle",
			yaml: `
name: cyclic
steps:
  - number: 1
    title: A
    command: "true"
    dependsOn: [2]
  - number: 2
    title: B
    command: "true"
    dependsOn: [1]
`,
			wantErr: true,
		},
		{
			name: "step without command",
			yaml: `
name: no-command
steps:
  - title: Step
`,
			wantErr: true,
		},
		{
			name: "unknown execution mode",
			yaml: `
name: bad-mode
executionMode: yolo
steps:
  - title: Step
    command: "true"
`,
			wantErr: true,
		},
		{
			name: "unknown onFailure policy",
			yaml: `
name: bad-policy
steps:
  - title: Step
    command: "true"
    onFailure: explode
`,
			wantErr: true,
		},
		{
			name: "invalid when expression",
			yaml: `
name: bad-when
steps:
  - title: Step
    command: "true"
    when: "params.env =="
`,
			wantErr: true,
		},
		{
			name: "rollback step with dependsOn",
			yaml: `
name: bad-rollback
steps:
  - title: Step
    command: "true"
rollback:
  - title: Undo
    command: "true"
    dependsOn: [1]
`,
			wantErr: true,
		},
		{
			name: "not yaml at all",
			yaml: "{{{{",
			wantErr: true,
		},
		{
			name: "json manifest parses",
			yaml: `{"name": "json-sop", "steps": [{"title": "Step", "command": "true"}]}`,
			wantErr: false,
		},
		{
			name: "supervised with rollback and gates",
			yaml: `
name: release
executionMode: supervised
maxConcurrent: 2
cooldownSecs: 60
steps:
  - title: Build
    command: make build
  - title: Ship
    command: make ship
    dependsOn: [1]
    requiresApproval: true
    approvalTimeoutMins: 30
rollback:
  - title: Unship
    command: make unship
`,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse([]byte(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && m == nil {
				t.Error("Parse() returned nil manifest")
			}
			if tt.wantErr && err != nil {
				if !runbookerrors.IsValidation(err) && !runbookerrors.IsNotFound(err) {
					t.Errorf("Parse() error should be a ValidationError, got %T: %v", err, err)
				}
			}
		})
	}
}

func TestParseCycleReportsPath(t *testing.T) {
	yaml := `
name: cyclic
steps:
  - number: 1
    title: A
    command: "true"
    dependsOn: [3]
  - number: 2
    title: B
    command: "true"
    dependsOn: [1]
  - number: 3
    title: C
    command: "true"
    dependsOn: [2]
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("Parse() should reject a cyclic manifest")
	}
	if !strings.Contains(err.Error(), "->") {
		t.Errorf("cycle error %q should report the cycle path", err.Error())
	}
	for _, n := range []string{"1", "2", "3"} {
		if !strings.Contains(err.Error(), n) {
			t.Errorf("cycle error %q should mention step %s", err.Error(), n)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	yaml := `
name: defaults
steps:
  - title: Plain
    command: "true"
  - title: Wants retry
    command: "true"
    onFailure: retry
  - title: Custom
    command: "true"
    timeoutSecs: 10
    retries: 5
`
	m, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if m.ExecutionMode != ModeAuto {
		t.Errorf("ExecutionMode = %q, want %q", m.ExecutionMode, ModeAuto)
	}
	if m.Gating != GatingRun {
		t.Errorf("Gating = %q, want %q", m.Gating, GatingRun)
	}
	if m.MaxConcurrent != DefaultMaxConcurrent {
		t.Errorf("MaxConcurrent = %d, want %d", m.MaxConcurrent, DefaultMaxConcurrent)
	}

	plain := m.Steps[0]
	if plain.TimeoutSecs != DefaultTimeoutSecs {
		t.Errorf("default TimeoutSecs = %d, want %d", plain.TimeoutSecs, DefaultTimeoutSecs)
	}
	if plain.Retries != DefaultRetries {
		t.Errorf("default Retries = %d, want %d", plain.Retries, DefaultRetries)
	}
	if plain.OnFailure != FailureFail {
		t.Errorf("default OnFailure = %q, want %q", plain.OnFailure, FailureFail)
	}

	retry := m.Steps[1]
	if retry.Retries != DefaultOnFailureRetries {
		t.Errorf("onFailure retry should grant a retry budget, got %d", retry.Retries)
	}

	custom := m.Steps[2]
	if custom.TimeoutSecs != 10 || custom.Retries != 5 {
		t.Errorf("explicit values overridden: timeout=%d retries=%d", custom.TimeoutSecs, custom.Retries)
	}
}

func TestAutoNumberSteps(t *testing.T) {
	yaml := `
name: numbering
steps:
  - title: Implicit first
    command: "true"
  - number: 5
    title: Explicit five
    command: "true"
  - title: Implicit next
    command: "true"
  - number: 2
    title: Explicit two
    command: "true"
`
	m, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	got := []int{m.Steps[0].Number, m.Steps[1].Number, m.Steps[2].Number, m.Steps[3].Number}
	want := []int{1, 5, 3, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d number = %d, want %d (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestLoad(t *testing.T) {
	t.Run("loads manifest from file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "sop.yaml")
		content := `
name: from-file
steps:
  - title: Step
    command: "true"
`
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}

		m, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if m.Name != "from-file" {
			t.Errorf("Name = %q, want %q", m.Name, "from-file")
		}
	})

	t.Run("missing file is NotFoundError", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		if err == nil {
			t.Fatal("Load() should fail for a missing file")
		}
		if !runbookerrors.IsNotFound(err) {
			t.Errorf("Load() error = %T, want NotFoundError", err)
		}
	})
}

func TestStepGated(t *testing.T) {
	gated := Step{Number: 1, RequiresApproval: true}
	plain := Step{Number: 2}

	if !gated.Gated(ModeAuto) {
		t.Error("requiresApproval step should be gated in auto mode")
	}
	if plain.Gated(ModeAuto) {
		t.Error("plain step should not be gated in auto mode")
	}
	if !plain.Gated(ModeStepByStep) {
		t.Error("every step should be gated in step_by_step mode")
	}
}
