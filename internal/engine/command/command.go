// Package command executes SOP step commands through the system shell.
package command

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/tombee/runbook/pkg/manifest"
)

// Result is the outcome of one execution attempt.
type Result struct {
	// Success is true when the command exited zero
	Success bool

	// Command is the command text after variable substitution
	Command string

	// Output is the trimmed stdout
	Output string

	// Stderr is the trimmed stderr
	Stderr string

	// ExitCode is the process exit code; -1 when the process was killed
	ExitCode int

	// Killed is true when the step timeout expired and the process was
	// killed
	Killed bool

	// Duration is wall-clock time for the attempt
	Duration time.Duration
}

// Runner executes one attempt of a step. Implementations substitute
// {{var}} placeholders from vars before running.
type Runner interface {
	Run(ctx context.Context, step manifest.Step, vars map[string]string) (*Result, error)
}

// ShellRunner runs commands via sh -c with a hard per-step timeout.
type ShellRunner struct {
	// WorkingDir is the working directory for commands; empty means
	// inherit the process working directory.
	WorkingDir string

	// Env appends to the inherited environment.
	Env map[string]string
}

// NewShellRunner creates a shell runner.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{}
}

// Run executes the step command once. The step's timeout is enforced
// here: when it expires the process is killed and the result reports
// Killed. An error return means the attempt could not produce an exit
// status at all, such as the parent context being cancelled.
func (r *ShellRunner) Run(ctx context.Context, step manifest.Step, vars map[string]string) (*Result, error) {
	commandText := manifest.Substitute(step.Command, vars)

	timeout := time.Duration(step.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = manifest.DefaultTimeoutSecs * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", commandText)
	if r.WorkingDir != "" {
		cmd.Dir = r.WorkingDir
	}
	if len(r.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range r.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Don't block on grandchildren holding the output pipes after the kill.
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Command:  commandText,
		Output:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: duration,
	}

	if err == nil {
		result.Success = true
		return result, nil
	}

	// The step deadline expiring is an attempt outcome. Any other context
	// cancellation comes from above (run cancelled, process shutting down)
	// and is not attributable to the step.
	if runCtx.Err() == context.DeadlineExceeded {
		result.Killed = true
		result.ExitCode = -1
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	return nil, fmt.Errorf("failed to start command: %w", err)
}

// DryRunner reports success without executing anything.
type DryRunner struct{}

// Run substitutes variables and returns a synthetic success.
func (DryRunner) Run(ctx context.Context, step manifest.Step, vars map[string]string) (*Result, error) {
	commandText := manifest.Substitute(step.Command, vars)
	return &Result{
		Success: true,
		Command: commandText,
		Output:  fmt.Sprintf("dry-run: would execute: %s", commandText),
	}, nil
}
