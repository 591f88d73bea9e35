package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tombee/runbook/pkg/errors"
)

// Load reads, parses, and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "manifest", ID: path}
		}
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse parses a manifest from YAML bytes. JSON input parses through the
// same path since YAML is a superset of JSON.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &errors.ValidationError{
			Message:     fmt.Sprintf("failed to parse manifest: %s", err.Error()),
			SuggestText: "check YAML syntax and field types",
		}
	}

	// Assign numbers before defaults so validation sees the final graph
	m.autoNumberSteps()
	m.ApplyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// ApplyDefaults applies default values to manifest and step fields.
func (m *Manifest) ApplyDefaults() {
	if m.ExecutionMode == "" {
		m.ExecutionMode = ModeAuto
	}
	if m.Gating == "" {
		m.Gating = GatingRun
	}
	if m.MaxConcurrent == 0 {
		m.MaxConcurrent = DefaultMaxConcurrent
	}

	for i := range m.Steps {
		applyStepDefaults(&m.Steps[i])
	}
	for i := range m.Rollback {
		applyStepDefaults(&m.Rollback[i])
	}
}

// applyStepDefaults applies default values to a single step.
func applyStepDefaults(step *Step) {
	if step.TimeoutSecs == 0 {
		step.TimeoutSecs = DefaultTimeoutSecs
	}
	if step.OnFailure == "" {
		step.OnFailure = FailureFail
	}

	// onFailure: retry without a declared budget still means "try again"
	if step.OnFailure == FailureRetry && step.Retries == 0 {
		step.Retries = DefaultOnFailureRetries
	}
}

// autoNumberSteps assigns numbers to steps that don't have explicit ones.
// Two passes: collect explicit numbers first, then hand out 1-based
// positions skipping any number already claimed. Zero is never a valid step
// number, so Number == 0 marks an unnumbered step.
func (m *Manifest) autoNumberSteps() {
	numberSteps(m.Steps)
	numberSteps(m.Rollback)
}

func numberSteps(steps []Step) {
	claimed := make(map[int]bool)
	for _, step := range steps {
		if step.Number != 0 {
			claimed[step.Number] = true
		}
	}

	next := 1
	for i := range steps {
		step := &steps[i]
		if step.Number != 0 {
			continue
		}

		for claimed[next] {
			next++
		}
		step.Number = next
		claimed[next] = true
	}
}
