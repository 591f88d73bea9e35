// Package manifest provides SOP manifest primitives.
//
// Manifests follow a YAML format describing an operational procedure as a
// dependency graph of shell steps. The version field is optional. Steps may
// be numbered explicitly or pick up their position automatically, and each
// step can gate on human approval, retry on failure, or trigger the
// manifest's rollback sequence.
package manifest

// ExecutionMode controls how runs of a manifest are scheduled and gated.
type ExecutionMode string

const (
	// ModeAuto runs every dependency-satisfied step without human gates
	ModeAuto ExecutionMode = "auto"

	// ModeSupervised requires an initial approval before the run starts
	ModeSupervised ExecutionMode = "supervised"

	// ModeStepByStep requires approval before every single step
	ModeStepByStep ExecutionMode = "step_by_step"

	// ModePriorityBased schedules like auto within a run; the priority field
	// orders SOPs relative to each other in catalog listings and external
	// schedulers
	ModePriorityBased ExecutionMode = "priority_based"
)

// ValidExecutionModes for validation
var ValidExecutionModes = map[ExecutionMode]bool{
	ModeAuto:          true,
	ModeSupervised:    true,
	ModeStepByStep:    true,
	ModePriorityBased: true,
}

// OnFailure selects what happens once a step has exhausted its retries.
type OnFailure string

const (
	// FailureFail stops dispatching and fails the run (default)
	FailureFail OnFailure = "fail"

	// FailureRetry re-runs the step; a step declaring it without an explicit
	// retry budget gets one retry
	FailureRetry OnFailure = "retry"

	// FailureRollback executes the manifest's rollback steps in reverse
	// order, best effort, then fails the run
	FailureRollback OnFailure = "rollback"
)

// ValidFailurePolicies for validation
var ValidFailurePolicies = map[OnFailure]bool{
	FailureFail:     true,
	FailureRetry:    true,
	FailureRollback: true,
}

// GatingMode controls how much of the graph pauses while a step waits for
// approval.
type GatingMode string

const (
	// GatingRun suspends the whole run until the gate clears (default)
	GatingRun GatingMode = "run"

	// GatingBranch lets steps that do not depend on the gated step keep
	// executing while it waits
	GatingBranch GatingMode = "branch"
)

// ValidGatingModes for validation
var ValidGatingModes = map[GatingMode]bool{
	GatingRun:    true,
	GatingBranch: true,
}

// Default step field values.
const (
	// DefaultTimeoutSecs is the wall-clock limit applied to steps that do
	// not declare their own timeout (5 minutes).
	DefaultTimeoutSecs = 300

	// DefaultRetries is the retry budget for steps that do not declare one.
	DefaultRetries = 0

	// DefaultOnFailureRetries is the budget granted when a step asks for
	// onFailure: retry without declaring how many.
	DefaultOnFailureRetries = 1

	// DefaultMaxConcurrent bounds simultaneous step processes per run when
	// the manifest does not say otherwise.
	DefaultMaxConcurrent = 3

	// RetryBackoffSecs is the fixed pause between retry attempts.
	RetryBackoffSecs = 2
)

// Manifest represents a parsed SOP definition.
//
// A manifest is the static shape of a procedure: the steps, their dependency
// edges, approval gates, and the rollback sequence. Runtime state lives on
// the Run record, never here, so one manifest can back many concurrent runs.
type Manifest struct {
	// Name is the SOP identifier, unique within a catalog
	Name string `yaml:"name" json:"name"`

	// Description provides human-readable context about the procedure
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Version tracks the manifest revision (optional, informational)
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	// Priority orders this SOP against others in listings and external
	// schedulers; higher runs first
	Priority int `yaml:"priority,omitempty" json:"priority,omitempty"`

	// ExecutionMode selects the gating policy (defaults to auto)
	ExecutionMode ExecutionMode `yaml:"executionMode,omitempty" json:"executionMode,omitempty"`

	// Gating selects whether an approval wait suspends the whole run or
	// only the gated branch (defaults to run)
	Gating GatingMode `yaml:"gating,omitempty" json:"gating,omitempty"`

	// CooldownSecs is the minimum gap between consecutive runs of this SOP
	CooldownSecs int `yaml:"cooldownSecs,omitempty" json:"cooldownSecs,omitempty"`

	// MaxConcurrent bounds how many steps may execute simultaneously
	MaxConcurrent int `yaml:"maxConcurrent,omitempty" json:"maxConcurrent,omitempty"`

	// Steps are the executable units of the procedure
	Steps []Step `yaml:"steps" json:"steps"`

	// Rollback steps execute in reverse order when a step with
	// onFailure: rollback exhausts its retries
	Rollback []Step `yaml:"rollback,omitempty" json:"rollback,omitempty"`
}

// Step represents a single executable unit of a manifest.
//
// Steps are identified by number. Explicit numbers are honored; unnumbered
// steps take their 1-based position in the list. The command runs under
// `sh -c` with {{var}} placeholders substituted from the run's params.
type Step struct {
	// Number is the unique step identifier within this manifest
	Number int `yaml:"number,omitempty" json:"number"`

	// Title is a human-readable step name
	Title string `yaml:"title" json:"title"`

	// Command is the shell command to execute
	Command string `yaml:"command" json:"command"`

	// DependsOn lists step numbers that must complete before this step runs
	DependsOn []int `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`

	// RequiresApproval gates this step behind human sign-off
	RequiresApproval bool `yaml:"requiresApproval,omitempty" json:"requiresApproval,omitempty"`

	// ApprovalTimeoutMins auto-approves the gate after this many minutes
	// of waiting; zero means wait forever
	ApprovalTimeoutMins int `yaml:"approvalTimeoutMins,omitempty" json:"approvalTimeoutMins,omitempty"`

	// TimeoutSecs is the hard wall-clock limit for one attempt of the
	// command (defaults to DefaultTimeoutSecs)
	TimeoutSecs int `yaml:"timeoutSecs,omitempty" json:"timeoutSecs,omitempty"`

	// Retries is how many times a failed attempt is re-run before the
	// onFailure policy applies
	Retries int `yaml:"retries,omitempty" json:"retries,omitempty"`

	// OnFailure selects the policy once retries are exhausted
	// (defaults to fail)
	OnFailure OnFailure `yaml:"onFailure,omitempty" json:"onFailure,omitempty"`

	// When is an optional boolean expression gating execution; false skips
	// the step and its dependents treat it as satisfied
	When string `yaml:"when,omitempty" json:"when,omitempty"`
}

// StepByNumber returns the step with the given number, or nil.
func (m *Manifest) StepByNumber(n int) *Step {
	for i := range m.Steps {
		if m.Steps[i].Number == n {
			return &m.Steps[i]
		}
	}
	return nil
}

// Gated reports whether the step requires approval before running under the
// given execution mode. Step-by-step mode gates every step.
func (s *Step) Gated(mode ExecutionMode) bool {
	return s.RequiresApproval || mode == ModeStepByStep
}

// HasRollback reports whether the manifest declares a rollback sequence.
func (m *Manifest) HasRollback() bool {
	return len(m.Rollback) > 0
}
