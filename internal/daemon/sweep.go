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

package daemon

import (
	"context"
	"log/slog"

	"github.com/tombee/runbook/internal/store"
)

// sweep applies approval timeouts to runs whose step gates expired and
// drives the ones that woke up. Run-scope gates have no timeout; those runs
// stay suspended until an operator decides.
func (d *Daemon) sweep(ctx context.Context) {
	awaiting, err := d.backend.ListRuns(ctx, store.RunFilter{Status: store.StatusAwaitingApproval})
	if err != nil {
		d.logger.Error("sweep: listing runs failed", slog.Any("error", err))
		return
	}
	waiting, err := d.backend.ListRuns(ctx, store.RunFilter{Status: store.StatusWaitingApproval})
	if err != nil {
		d.logger.Error("sweep: listing runs failed", slog.Any("error", err))
		return
	}

	fired := 0
	g := d.engine.Gate()
	for _, run := range awaiting {
		ok, err := g.CheckTimeout(ctx, run.RunID)
		if err != nil {
			d.logger.Error("sweep: timeout check failed",
				slog.String("run_id", run.RunID), slog.Any("error", err))
			continue
		}
		if !ok {
			continue
		}
		fired++
		d.driveAsync(ctx, run.RunID)
	}

	if len(awaiting)+len(waiting) > 0 || fired > 0 {
		d.logger.Debug("sweep complete",
			slog.Int("awaiting_approval", len(awaiting)),
			slog.Int("waiting_approval", len(waiting)),
			slog.Int("fired", fired))
	}
}

// driveAsync continues a run in the background after its gate timed out.
func (d *Daemon) driveAsync(ctx context.Context, runID string) {
	d.drives.Add(1)
	go func() {
		defer d.drives.Done()
		run, err := d.engine.Drive(ctx, runID)
		if err != nil {
			d.logger.Error("drive after approval timeout failed",
				slog.String("run_id", runID), slog.Any("error", err))
			return
		}
		d.logger.Info("run driven after approval timeout",
			slog.String("run_id", runID), slog.String("status", string(run.Status)))
	}()
}
