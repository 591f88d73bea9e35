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

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/tombee/runbook/internal/audit"
	"github.com/tombee/runbook/internal/store"
	"github.com/tombee/runbook/pkg/errors"
)

func TestMemoryBackend_RunLifecycle(t *testing.T) {
	be := New()
	defer be.Close()
	ctx := context.Background()

	run := &store.Run{
		RunID:     "run-1",
		SOPName:   "deploy",
		Status:    store.StatusPending,
		StartedAt: time.Now().UTC(),
		StepResults: map[int]*store.StepResult{
			1: {StepNumber: 1, Status: store.StepPending},
		},
	}

	if err := be.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if err := be.CreateRun(ctx, run); err == nil {
		t.Fatal("expected duplicate create to fail")
	}

	retrieved, err := be.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if retrieved.SOPName != "deploy" {
		t.Errorf("expected deploy, got %s", retrieved.SOPName)
	}

	retrieved.Status = store.StatusRunning
	if err := be.UpdateRun(ctx, retrieved); err != nil {
		t.Fatalf("failed to update run: %v", err)
	}

	again, err := be.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if again.Status != store.StatusRunning {
		t.Errorf("expected running, got %s", again.Status)
	}

	if _, err := be.GetRun(ctx, "missing"); !errors.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
	if err := be.UpdateRun(ctx, &store.Run{RunID: "missing"}); !errors.IsNotFound(err) {
		t.Errorf("expected NotFoundError on update, got %v", err)
	}
}

func TestMemoryBackend_HandsOutClones(t *testing.T) {
	be := New()
	defer be.Close()
	ctx := context.Background()

	run := &store.Run{
		RunID:     "run-1",
		Status:    store.StatusPending,
		StartedAt: time.Now().UTC(),
		StepResults: map[int]*store.StepResult{
			1: {StepNumber: 1, Status: store.StepPending},
		},
	}
	if err := be.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	// Mutating the caller's copy or a retrieved copy must not change the
	// stored record until UpdateRun.
	run.StepResults[1].Status = store.StepFailed

	first, _ := be.GetRun(ctx, "run-1")
	first.Status = store.StatusCancelled
	first.StepResults[1].Status = store.StepCompleted

	second, _ := be.GetRun(ctx, "run-1")
	if second.Status != store.StatusPending {
		t.Errorf("stored status changed without UpdateRun: %s", second.Status)
	}
	if second.StepResults[1].Status != store.StepPending {
		t.Errorf("stored step result changed without UpdateRun: %s", second.StepResults[1].Status)
	}
}

func TestMemoryBackend_ListRuns(t *testing.T) {
	be := New()
	defer be.Close()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := &store.Run{
			RunID:     id,
			SOPName:   "deploy",
			Status:    store.StatusPending,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if id == "run-b" {
			run.Status = store.StatusFailed
		}
		if err := be.CreateRun(ctx, run); err != nil {
			t.Fatalf("failed to create %s: %v", id, err)
		}
	}

	runs, err := be.ListRuns(ctx, store.RunFilter{})
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 3 || runs[0].RunID != "run-c" || runs[2].RunID != "run-a" {
		t.Errorf("expected most recent first, got %v", runs)
	}

	failed, err := be.ListRuns(ctx, store.RunFilter{Status: store.StatusFailed})
	if err != nil {
		t.Fatalf("failed to filter: %v", err)
	}
	if len(failed) != 1 || failed[0].RunID != "run-b" {
		t.Errorf("expected only run-b, got %v", failed)
	}

	limited, err := be.ListRuns(ctx, store.RunFilter{Limit: 1})
	if err != nil {
		t.Fatalf("failed to limit: %v", err)
	}
	if len(limited) != 1 || limited[0].RunID != "run-c" {
		t.Errorf("expected run-c only, got %v", limited)
	}
}

func TestMemoryBackend_AuditEvents(t *testing.T) {
	be := New()
	defer be.Close()
	ctx := context.Background()

	for _, e := range []audit.EventType{audit.EventRunCreated, audit.EventRunStarted, audit.EventRunCompleted} {
		if err := be.AppendEvent(ctx, audit.Event{EventType: e, RunID: "run-1"}); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}

	events, err := be.ReadEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to read events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].EventType != audit.EventRunCreated || events[2].EventType != audit.EventRunCompleted {
		t.Errorf("events out of order: %v", events)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("expected timestamp to be filled")
	}

	// Mutating the returned slice must not corrupt the stored trail.
	events[0].EventType = audit.EventRunFailed
	again, _ := be.ReadEvents(ctx, "run-1")
	if again[0].EventType != audit.EventRunCreated {
		t.Error("returned slice aliases stored events")
	}
}
