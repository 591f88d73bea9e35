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

package engine

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/runbook/internal/audit"
	"github.com/tombee/runbook/internal/engine/command"
	"github.com/tombee/runbook/internal/gate"
	"github.com/tombee/runbook/internal/store"
	"github.com/tombee/runbook/pkg/errors"
	"github.com/tombee/runbook/pkg/manifest"
)

// Drive executes a run until it reaches a terminal status or suspends on an
// approval wait. It is safe to call on a run in any state: pending runs
// start, interrupted runs recover, suspended and terminal runs return
// unchanged. The run's lock is held for the whole call, so only one driver
// makes progress at a time.
//
// Drive returns the run's final record. The error is non-nil only for
// infrastructure problems, a deadlocked graph (DeadlockError), or context
// cancellation from a process shutdown; a run failing because a step failed
// is reported through the run's status, not the error.
func (e *Engine) Drive(ctx context.Context, runID string) (*store.Run, error) {
	ctx, span := e.tracer.Start(ctx, "run.drive",
		trace.WithAttributes(attribute.String("runbook.run_id", runID)))
	defer span.End()

	// Resolve any expired approval gate first. After a long daemon outage
	// this Drive may be the first look at the run in hours.
	if _, err := e.gate.CheckTimeout(ctx, runID); err != nil {
		return nil, err
	}

	driveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	handle, ok := e.registerDrive(runID, cancel)
	if !ok {
		return nil, &errors.InvalidStateError{
			Entity: "run", ID: runID,
			State: "already being driven", Want: "a single driver",
		}
	}
	defer e.unregisterDrive(runID)

	unlock := e.locks.Lock(runID)
	defer unlock()

	run, err := e.backend.GetRun(driveCtx, runID)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("runbook.sop", run.SOPName),
		attribute.String("runbook.mode", string(run.ExecutionMode)),
	)

	switch run.Status {
	case store.StatusPending:
		if err := run.Transition(store.StatusRunning); err != nil {
			return nil, err
		}
		if err := e.backend.UpdateRun(driveCtx, run); err != nil {
			return nil, err
		}
		e.logEvent(driveCtx, run, 0, audit.EventRunStarted, nil)
		e.logger.Info("run started", "run_id", runID, "sop", run.SOPName)

	case store.StatusRunning:
		// A running record with nobody driving it means the previous
		// process died. Interrupted steps re-execute from scratch with a
		// fresh attempt budget; completed work is never repeated.
		if n := recoverInterrupted(run); n > 0 {
			if err := e.backend.UpdateRun(driveCtx, run); err != nil {
				return nil, err
			}
			e.logger.Warn("recovered interrupted run",
				"run_id", runID, "reverted_steps", n)
		}

	default:
		// Suspended on approval, paused, or terminal. Nothing to drive.
		return run, nil
	}

	s := e.newScheduler(run)
	final, err := s.loop(driveCtx, handle)
	if err != nil {
		span.RecordError(err)
	}
	if final != nil {
		span.SetAttributes(attribute.String("runbook.status", string(final.Status)))
	}
	return final, err
}

// recoverInterrupted reverts steps that were mid-execution when the previous
// driver died, returning how many were reverted.
func recoverInterrupted(run *store.Run) int {
	n := 0
	for _, res := range run.StepResults {
		if res.Status != store.StepRunning {
			continue
		}
		res.Status = store.StepPending
		res.Attempts = 0
		res.StartedAt = nil
		res.Error = ""
		n++
	}
	return n
}

type msgKind int

const (
	msgStarted msgKind = iota
	msgFinished
	msgAborted
)

// stepMsg is one worker notification. Workers never touch run state; the
// scheduling goroutine applies every mutation in the order messages arrive.
type stepMsg struct {
	step    int
	kind    msgKind
	attempt int
	final   bool
	result  *command.Result
}

type scheduler struct {
	e       *Engine
	run     *store.Run
	m       *manifest.Manifest
	mode    manifest.ExecutionMode
	gating  manifest.GatingMode
	maxConc int

	msgs     chan stepMsg
	inFlight map[int]bool

	// halted stops new dispatches after a failure policy fired or a
	// run-scoped gate opened. In-flight steps always finish and settle.
	halted bool

	// rollbackPending defers the rollback sequence until in-flight steps
	// have drained; failure holds the error that triggered it.
	rollbackPending bool
	failure         error
}

func (e *Engine) newScheduler(run *store.Run) *scheduler {
	m := run.Manifest
	gating := m.Gating
	if gating == "" {
		gating = manifest.GatingRun
	}
	maxConc := m.MaxConcurrent
	if maxConc <= 0 {
		maxConc = manifest.DefaultMaxConcurrent
	}

	// Sized so a worker can deliver every message it will ever send without
	// blocking, even when the scheduler has already returned.
	capacity := 0
	for _, step := range m.Steps {
		capacity += 2*(retryBudget(step)+1) + 1
	}

	return &scheduler{
		e:        e,
		run:      run,
		m:        m,
		mode:     run.ExecutionMode,
		gating:   gating,
		maxConc:  maxConc,
		msgs:     make(chan stepMsg, capacity),
		inFlight: make(map[int]bool),
	}
}

func (s *scheduler) loop(ctx context.Context, handle *driveHandle) (*store.Run, error) {
	if s.e.metrics != nil {
		s.e.metrics.RunsInFlight(1)
		defer s.e.metrics.RunsInFlight(-1)
	}

	for {
		s.dispatchReady(ctx)

		if len(s.inFlight) == 0 {
			return s.settleQuiescent(ctx)
		}

		select {
		case msg := <-s.msgs:
			s.handleMsg(ctx, msg)
		case <-ctx.Done():
			return s.windDown(handle)
		}
	}
}

// dispatchReady evaluates the graph and starts every dependency-satisfied
// step it can: when-guards are resolved first (a skip can unlock its
// dependents, so evaluation repeats until a fixpoint), approval gates open
// as steps reach them, and dispatch stops at the concurrency cap.
func (s *scheduler) dispatchReady(ctx context.Context) {
	for {
		if s.halted {
			return
		}

		started := make(map[int]bool, len(s.run.StepResults))
		satisfied := make(map[int]bool, len(s.run.StepResults))
		for n, res := range s.run.StepResults {
			if res.Status != store.StepPending || s.inFlight[n] {
				started[n] = true
			}
			if res.Status.Satisfies() {
				satisfied[n] = true
			}
		}

		progressed := false
		for _, n := range manifest.ReadySteps(s.m.Steps, started, satisfied) {
			if s.halted {
				return
			}
			step := s.m.StepByNumber(n)
			res := s.run.Result(n)

			if step.When != "" {
				pass, err := s.e.eval.Evaluate(step.When, s.guardContext())
				if err != nil {
					s.failGuard(ctx, step, res, err)
					progressed = true
					continue
				}
				if !pass {
					s.skipStep(ctx, step, res)
					progressed = true
					continue
				}
			}

			if !s.e.autoApprove && step.Gated(s.mode) && res.ApprovedAt == nil {
				s.openGate(ctx, step, res)
				if s.gating == manifest.GatingRun {
					s.halted = true
					return
				}
				progressed = true
				continue
			}

			if len(s.inFlight) >= s.maxConc {
				// At capacity; the rest of the ready set waits for a settle.
				break
			}

			s.inFlight[n] = true
			s.run.CurrentStep = n
			s.e.logger.Debug("dispatching step",
				"run_id", s.run.RunID, "step", n, "title", step.Title)
			go s.e.runStep(ctx, *step, s.run.Params, s.msgs)
			progressed = true
		}

		if !progressed {
			return
		}
	}
}

// handleMsg applies one worker notification to the run record. State is
// persisted before the matching audit event is appended.
func (s *scheduler) handleMsg(ctx context.Context, msg stepMsg) {
	step := s.m.StepByNumber(msg.step)
	res := s.run.Result(msg.step)

	switch msg.kind {
	case msgStarted:
		now := time.Now().UTC()
		res.Status = store.StepRunning
		res.Attempts = msg.attempt
		if res.StartedAt == nil {
			res.StartedAt = &now
		}
		s.persist(ctx)
		s.event(ctx, msg.step, audit.EventStepStarted, map[string]interface{}{
			"attempt": msg.attempt,
			"title":   step.Title,
		})

	case msgAborted:
		// The worker quit on context cancellation; windDown settles the
		// books for whatever was in flight.
		delete(s.inFlight, msg.step)

	case msgFinished:
		if msg.result.Success {
			now := time.Now().UTC()
			res.Status = store.StepCompleted
			res.Output = msg.result.Output
			res.Error = ""
			res.CompletedAt = &now
			delete(s.inFlight, msg.step)
			s.persist(ctx)
			s.event(ctx, msg.step, audit.EventStepCompleted, map[string]interface{}{
				"attempt":    msg.attempt,
				"durationMs": msg.result.Duration.Milliseconds(),
			})
			s.e.logger.Info("step completed",
				"run_id", s.run.RunID, "step", msg.step, "attempt", msg.attempt,
				"duration", msg.result.Duration)
			s.recordStep("completed", msg.attempt, msg.result.Duration)
			return
		}

		execErr := stepError(msg.step, msg.result)
		res.Error = execErr.Error()
		details := map[string]interface{}{
			"attempt":  msg.attempt,
			"error":    execErr.Error(),
			"exitCode": msg.result.ExitCode,
		}
		if msg.result.Killed {
			details["killed"] = true
		}

		if !msg.final {
			// The worker retries after its backoff; the step stays running.
			s.persist(ctx)
			s.event(ctx, msg.step, audit.EventStepFailed, details)
			s.e.logger.Warn("step attempt failed, retrying",
				"run_id", s.run.RunID, "step", msg.step, "attempt", msg.attempt,
				"error", execErr)
			return
		}

		now := time.Now().UTC()
		res.Status = store.StepFailed
		res.CompletedAt = &now
		delete(s.inFlight, msg.step)
		s.persist(ctx)
		s.event(ctx, msg.step, audit.EventStepFailed, details)
		s.e.logger.Error("step failed",
			"run_id", s.run.RunID, "step", msg.step, "attempts", msg.attempt,
			"error", execErr)
		s.recordStep("failed", msg.attempt, msg.result.Duration)
		s.applyPolicy(ctx, step, execErr)
	}
}

// applyPolicy reacts to a step's final failure. Retries were already spent
// inside the worker, so the policy here decides the run's fate.
func (s *scheduler) applyPolicy(ctx context.Context, step *manifest.Step, execErr error) {
	if s.run.Status != store.StatusRunning {
		// The run already failed from an earlier step; this result is
		// recorded but changes nothing.
		return
	}

	s.halted = true
	if step.OnFailure == manifest.FailureRollback && s.m.HasRollback() {
		s.rollbackPending = true
		s.failure = execErr
		s.e.logger.Warn("step failure triggers rollback",
			"run_id", s.run.RunID, "step", step.Number)
		return
	}
	s.failRun(ctx, execErr, nil)
}

// settleQuiescent decides what a run with nothing in flight becomes:
// completed, suspended on approval, failed after rollback, or deadlocked.
func (s *scheduler) settleQuiescent(ctx context.Context) (*store.Run, error) {
	if s.allSatisfied() {
		now := time.Now().UTC()
		if err := s.run.Transition(store.StatusCompleted); err != nil {
			return s.run, err
		}
		s.run.CompletedAt = &now
		s.run.Error = ""
		s.persist(ctx)
		s.event(ctx, 0, audit.EventRunCompleted, map[string]interface{}{
			"durationMs": now.Sub(s.run.StartedAt).Milliseconds(),
		})
		s.e.logger.Info("run completed",
			"run_id", s.run.RunID, "sop", s.run.SOPName, "duration", now.Sub(s.run.StartedAt))
		s.e.recordFinished(s.run)
		return s.run, nil
	}

	if open := gate.AwaitingSteps(s.run); len(open) > 0 {
		if s.run.Status == store.StatusRunning {
			s.run.WaitingSince = gate.OldestGate(s.run)
			if err := s.run.Transition(store.StatusAwaitingApproval); err != nil {
				return s.run, err
			}
			s.persist(ctx)
			s.e.logger.Info("run awaiting approval",
				"run_id", s.run.RunID, "steps", open)
		}
		return s.run, nil
	}

	if s.rollbackPending {
		s.rollbackPending = false
		s.runRollback(ctx)
		s.failRun(ctx, s.failure, map[string]interface{}{"rollback": true})
		return s.run, nil
	}

	if s.run.Status == store.StatusFailed {
		return s.run, nil
	}

	// Quiescent, unfinished, nothing waiting: the remaining steps can never
	// become ready.
	remaining := s.pendingSteps()
	dErr := &errors.DeadlockError{RunID: s.run.RunID, Remaining: remaining}
	s.failRun(ctx, dErr, map[string]interface{}{"reason": "deadlock"})
	return s.run, dErr
}

// windDown handles the drive context dying. Operator cancellation settles
// the run as cancelled; a process shutdown leaves the record as-is for
// crash recovery on the next drive.
func (s *scheduler) windDown(handle *driveHandle) (*store.Run, error) {
	// The drive context is gone; persistence must not be.
	bg := context.Background()

	if !handle.cancelRequested.Load() {
		s.e.logger.Warn("drive interrupted, run recovers on next drive",
			"run_id", s.run.RunID, "in_flight", len(s.inFlight))
		return s.run, context.Canceled
	}

	now := time.Now().UTC()
	var killed []int
	for n := range s.inFlight {
		killed = append(killed, n)
	}
	sort.Ints(killed)

	for _, n := range killed {
		res := s.run.Result(n)
		res.Status = store.StepFailed
		res.Error = "run cancelled"
		res.CompletedAt = &now
	}
	if err := s.run.Transition(store.StatusCancelled); err != nil {
		return s.run, err
	}
	s.run.CompletedAt = &now
	s.persist(bg)

	for _, n := range killed {
		s.event(bg, n, audit.EventStepFailed, map[string]interface{}{
			"attempt": s.run.Result(n).Attempts,
			"error":   "run cancelled",
			"killed":  true,
		})
	}
	s.event(bg, 0, audit.EventRunCancelled, nil)
	s.e.logger.Info("run cancelled mid-drive",
		"run_id", s.run.RunID, "killed_steps", killed)
	s.e.recordFinished(s.run)
	return s.run, nil
}

// runStep is the worker for one step. It owns the attempt loop: execute,
// and on failure back off and try again until the retry budget is spent.
// Every attempt boundary is reported over msgs; the scheduler does the
// bookkeeping.
func (e *Engine) runStep(ctx context.Context, step manifest.Step, params map[string]string, msgs chan<- stepMsg) {
	ctx, span := e.tracer.Start(ctx, "step.execute", trace.WithAttributes(
		attribute.Int("runbook.step", step.Number),
		attribute.String("runbook.step_title", step.Title),
	))
	defer span.End()

	attempts := retryBudget(step) + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		msgs <- stepMsg{step: step.Number, kind: msgStarted, attempt: attempt}

		result, err := e.runner.Run(ctx, step, params)
		if err != nil {
			if ctx.Err() != nil {
				msgs <- stepMsg{step: step.Number, kind: msgAborted, attempt: attempt}
				return
			}
			// Spawn failures consume an attempt like any other failure.
			result = &command.Result{
				Command:  step.Command,
				Stderr:   err.Error(),
				ExitCode: -1,
			}
		}

		final := result.Success || attempt == attempts
		msgs <- stepMsg{step: step.Number, kind: msgFinished, attempt: attempt, final: final, result: result}
		if final {
			span.SetAttributes(
				attribute.Int("runbook.attempts", attempt),
				attribute.Bool("runbook.success", result.Success),
			)
			return
		}

		select {
		case <-time.After(e.retryBackoff):
		case <-ctx.Done():
			msgs <- stepMsg{step: step.Number, kind: msgAborted, attempt: attempt}
			return
		}
	}
}

// retryBudget returns how many retries a step gets after its first attempt.
// Parsed manifests already carry the onFailure:retry default, but manifests
// built in code pass through here too.
func retryBudget(step manifest.Step) int {
	if step.Retries == 0 && step.OnFailure == manifest.FailureRetry {
		return manifest.DefaultOnFailureRetries
	}
	return step.Retries
}

func (s *scheduler) skipStep(ctx context.Context, step *manifest.Step, res *store.StepResult) {
	now := time.Now().UTC()
	res.Status = store.StepSkipped
	res.CompletedAt = &now
	s.persist(ctx)
	s.event(ctx, step.Number, audit.EventStepSkipped, map[string]interface{}{
		"when": step.When,
	})
	s.e.logger.Info("step skipped",
		"run_id", s.run.RunID, "step", step.Number, "when", step.When)
	s.recordStep("skipped", 0, 0)
}

// failGuard settles a step whose when-guard could not be evaluated. Guards
// are deterministic, so there is nothing to retry; the failure policy
// applies directly.
func (s *scheduler) failGuard(ctx context.Context, step *manifest.Step, res *store.StepResult, guardErr error) {
	now := time.Now().UTC()
	res.Status = store.StepFailed
	res.Error = guardErr.Error()
	res.CompletedAt = &now
	s.persist(ctx)
	s.event(ctx, step.Number, audit.EventStepFailed, map[string]interface{}{
		"attempt": 0,
		"error":   guardErr.Error(),
	})
	s.e.logger.Error("when guard failed to evaluate",
		"run_id", s.run.RunID, "step", step.Number, "error", guardErr)
	s.applyPolicy(ctx, step, guardErr)
}

// openGate parks a step behind its approval gate. With run gating the
// caller halts dispatch; the run-level transition waits for quiescence so
// in-flight steps settle before the record is offered for approval.
func (s *scheduler) openGate(ctx context.Context, step *manifest.Step, res *store.StepResult) {
	now := time.Now().UTC()
	res.Status = store.StepAwaitingApproval
	res.GateOpenedAt = &now
	s.persist(ctx)
	s.event(ctx, step.Number, audit.EventApprovalRequested, map[string]interface{}{
		"title": step.Title,
	})
	s.e.logger.Info("step awaiting approval",
		"run_id", s.run.RunID, "step", step.Number, "title", step.Title)
}

func (s *scheduler) failRun(ctx context.Context, cause error, details map[string]interface{}) {
	if s.run.Status != store.StatusRunning {
		return
	}
	now := time.Now().UTC()
	if err := s.run.Transition(store.StatusFailed); err != nil {
		s.e.logger.Error("failed to mark run failed", "run_id", s.run.RunID, "error", err)
		return
	}
	s.run.Error = cause.Error()
	s.run.CompletedAt = &now
	s.persist(ctx)
	if details == nil {
		details = map[string]interface{}{}
	}
	details["error"] = cause.Error()
	s.event(ctx, 0, audit.EventRunFailed, details)
	s.e.logger.Error("run failed", "run_id", s.run.RunID, "error", cause)
	s.e.recordFinished(s.run)
}

// guardContext builds the evaluation context for when-guards: the run's
// params plus the trimmed output of every completed step, keyed by step
// number string (outputs["2"]).
func (s *scheduler) guardContext() map[string]interface{} {
	outputs := make(map[string]string)
	for n, res := range s.run.StepResults {
		if res.Status == store.StepCompleted {
			outputs[strconv.Itoa(n)] = strings.TrimSpace(res.Output)
		}
	}
	params := s.run.Params
	if params == nil {
		params = map[string]string{}
	}
	return map[string]interface{}{
		"params":  params,
		"outputs": outputs,
	}
}

func (s *scheduler) allSatisfied() bool {
	for _, res := range s.run.StepResults {
		if !res.Status.Satisfies() {
			return false
		}
	}
	return true
}

func (s *scheduler) pendingSteps() []int {
	var out []int
	for n, res := range s.run.StepResults {
		if res.Status == store.StepPending {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

func (s *scheduler) persist(ctx context.Context) {
	if err := s.e.backend.UpdateRun(ctx, s.run); err != nil {
		s.e.logger.Error("failed to persist run state",
			"run_id", s.run.RunID, "error", err)
	}
}

func (s *scheduler) event(ctx context.Context, step int, eventType audit.EventType, details map[string]interface{}) {
	s.e.logEvent(ctx, s.run, step, eventType, details)
}

func (s *scheduler) recordStep(status string, attempts int, d time.Duration) {
	if s.e.metrics != nil {
		s.e.metrics.RecordStep(s.run.SOPName, status, attempts, d)
	}
}

// stepError converts a failed command result into the step's error.
func stepError(stepNumber int, result *command.Result) error {
	return &errors.ExecutionError{
		Step:     strconv.Itoa(stepNumber),
		ExitCode: result.ExitCode,
		Stderr:   result.Stderr,
		Killed:   result.Killed,
	}
}
