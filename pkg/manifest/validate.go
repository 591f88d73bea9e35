package manifest

import (
	"fmt"
	"strings"

	"github.com/tombee/runbook/pkg/errors"
	"github.com/tombee/runbook/pkg/manifest/expression"
)

// Validate checks if the manifest is valid: required fields present, step
// numbers unique, every dependsOn edge resolvable, and the dependency graph
// acyclic. The first violation found is returned as a ValidationError.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return &errors.ValidationError{
			Field:       "name",
			Message:     "manifest name is required",
			SuggestText: "add a descriptive name for the procedure",
		}
	}

	if len(m.Steps) == 0 {
		return &errors.ValidationError{
			Field:       "steps",
			Message:     "manifest must have at least one step",
			SuggestText: "add at least one step to the manifest",
		}
	}

	if !ValidExecutionModes[m.ExecutionMode] {
		return &errors.ValidationError{
			Field:       "executionMode",
			Message:     fmt.Sprintf("unknown execution mode: %s", m.ExecutionMode),
			SuggestText: "use auto, supervised, step_by_step, or priority_based",
		}
	}

	if !ValidGatingModes[m.Gating] {
		return &errors.ValidationError{
			Field:       "gating",
			Message:     fmt.Sprintf("unknown gating mode: %s", m.Gating),
			SuggestText: "use run or branch",
		}
	}

	if m.MaxConcurrent < 1 {
		return &errors.ValidationError{
			Field:       "maxConcurrent",
			Message:     fmt.Sprintf("maxConcurrent must be at least 1, got %d", m.MaxConcurrent),
			SuggestText: "remove the field to accept the default",
		}
	}

	if m.CooldownSecs < 0 {
		return &errors.ValidationError{
			Field:   "cooldownSecs",
			Message: "cooldownSecs cannot be negative",
		}
	}

	// Validate step numbers are unique
	numbers := make(map[int]bool, len(m.Steps))
	for i := range m.Steps {
		step := &m.Steps[i]
		if step.Number < 1 {
			return &errors.ValidationError{
				Field:       fmt.Sprintf("steps[%d].number", i),
				Message:     fmt.Sprintf("step numbers must be positive, got %d", step.Number),
				SuggestText: "number steps from 1, or omit numbers to use list order",
			}
		}
		if numbers[step.Number] {
			return &errors.ValidationError{
				Field:       fmt.Sprintf("steps[%d].number", i),
				Message:     fmt.Sprintf("duplicate step number: %d", step.Number),
				SuggestText: "ensure each step has a unique number",
			}
		}
		numbers[step.Number] = true

		if err := step.validate(fmt.Sprintf("steps[%d]", i)); err != nil {
			return err
		}
	}

	// Validate dependency references after all numbers are known
	for i := range m.Steps {
		step := &m.Steps[i]
		for _, dep := range step.DependsOn {
			if dep == step.Number {
				return &errors.ValidationError{
					Field:       fmt.Sprintf("steps[%d].dependsOn", i),
					Message:     fmt.Sprintf("step %d depends on itself", step.Number),
					SuggestText: "remove the self-reference",
				}
			}
			if !numbers[dep] {
				return &errors.ValidationError{
					Field:       fmt.Sprintf("steps[%d].dependsOn", i),
					Message:     fmt.Sprintf("step %d depends on unknown step %d", step.Number, dep),
					SuggestText: "list only existing step numbers in dependsOn",
				}
			}
		}
	}

	if cycle := FindCycle(m.Steps); cycle != nil {
		return &errors.ValidationError{
			Field:       "steps",
			Message:     fmt.Sprintf("dependency cycle detected: %s", formatCycle(cycle)),
			SuggestText: "break the cycle so the steps form a directed acyclic graph",
		}
	}

	// Rollback is a flat sequence executed in reverse declaration order,
	// so graph and gate fields have no meaning there.
	rollbackNumbers := make(map[int]bool, len(m.Rollback))
	for i := range m.Rollback {
		step := &m.Rollback[i]
		field := fmt.Sprintf("rollback[%d]", i)

		if rollbackNumbers[step.Number] {
			return &errors.ValidationError{
				Field:       field + ".number",
				Message:     fmt.Sprintf("duplicate rollback step number: %d", step.Number),
				SuggestText: "ensure each rollback step has a unique number",
			}
		}
		rollbackNumbers[step.Number] = true

		if len(step.DependsOn) > 0 {
			return &errors.ValidationError{
				Field:       field + ".dependsOn",
				Message:     "rollback steps cannot declare dependencies",
				SuggestText: "rollback executes in reverse declaration order",
			}
		}
		if step.RequiresApproval {
			return &errors.ValidationError{
				Field:       field + ".requiresApproval",
				Message:     "rollback steps cannot require approval",
				SuggestText: "rollback runs unattended during failure handling",
			}
		}

		if err := step.validate(field); err != nil {
			return err
		}
	}

	return nil
}

// validate checks a single step's own fields. Graph-level checks live on
// Manifest.Validate.
func (s *Step) validate(field string) error {
	if s.Command == "" {
		return &errors.ValidationError{
			Field:       field + ".command",
			Message:     fmt.Sprintf("step %d has no command", s.Number),
			SuggestText: "every step needs a shell command to execute",
		}
	}

	if s.TimeoutSecs < 1 {
		return &errors.ValidationError{
			Field:       field + ".timeoutSecs",
			Message:     fmt.Sprintf("timeoutSecs must be positive, got %d", s.TimeoutSecs),
			SuggestText: "remove the field to accept the default of 300 seconds",
		}
	}

	if s.Retries < 0 {
		return &errors.ValidationError{
			Field:   field + ".retries",
			Message: "retries cannot be negative",
		}
	}

	if s.ApprovalTimeoutMins < 0 {
		return &errors.ValidationError{
			Field:   field + ".approvalTimeoutMins",
			Message: "approvalTimeoutMins cannot be negative",
		}
	}

	if !ValidFailurePolicies[s.OnFailure] {
		return &errors.ValidationError{
			Field:       field + ".onFailure",
			Message:     fmt.Sprintf("unknown onFailure policy: %s", s.OnFailure),
			SuggestText: "use fail, retry, or rollback",
		}
	}

	if s.When != "" {
		if err := expression.Validate(s.When); err != nil {
			return &errors.ValidationError{
				Field:       field + ".when",
				Message:     fmt.Sprintf("invalid when expression: %s", err.Error()),
				SuggestText: "check expression syntax; it must evaluate to a boolean",
			}
		}
	}

	return nil
}

// formatCycle renders a cycle path like "1 -> 3 -> 1".
func formatCycle(cycle []int) string {
	parts := make([]string, len(cycle))
	for i, n := range cycle {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, " -> ")
}
