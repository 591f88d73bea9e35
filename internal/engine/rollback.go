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
	"time"

	"github.com/tombee/runbook/internal/audit"
)

// runRollback executes the manifest's rollback steps in reverse declaration
// order, one at a time, each with a single attempt. The sequence is best
// effort: a rollback step failing is recorded and the remaining steps still
// run. Rollback results live only in the audit trail; step numbers in the
// rollback list are independent of the main graph, so they never touch
// StepResults.
func (s *scheduler) runRollback(ctx context.Context) {
	steps := s.m.Rollback
	s.e.logger.Warn("executing rollback sequence",
		"run_id", s.run.RunID, "steps", len(steps))

	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		s.event(ctx, step.Number, audit.EventStepStarted, map[string]interface{}{
			"rollback": true,
			"title":    step.Title,
			"attempt":  1,
		})

		start := time.Now()
		result, err := s.e.runner.Run(ctx, step, s.run.Params)
		if err != nil {
			if ctx.Err() != nil {
				s.e.logger.Warn("rollback interrupted",
					"run_id", s.run.RunID, "step", step.Number)
				return
			}
			s.event(ctx, step.Number, audit.EventStepFailed, map[string]interface{}{
				"rollback": true,
				"attempt":  1,
				"error":    err.Error(),
			})
			s.e.logger.Error("rollback step failed to start",
				"run_id", s.run.RunID, "step", step.Number, "error", err)
			continue
		}

		if result.Success {
			s.event(ctx, step.Number, audit.EventStepCompleted, map[string]interface{}{
				"rollback":   true,
				"attempt":    1,
				"durationMs": time.Since(start).Milliseconds(),
			})
			s.e.logger.Info("rollback step completed",
				"run_id", s.run.RunID, "step", step.Number, "title", step.Title)
			continue
		}

		execErr := stepError(step.Number, result)
		s.event(ctx, step.Number, audit.EventStepFailed, map[string]interface{}{
			"rollback": true,
			"attempt":  1,
			"error":    execErr.Error(),
			"exitCode": result.ExitCode,
		})
		s.e.logger.Error("rollback step failed",
			"run_id", s.run.RunID, "step", step.Number, "error", execErr)
	}
}
