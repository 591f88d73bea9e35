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

// Package store provides storage backends for run state and audit trails.
//
// # Interface Hierarchy
//
// The store package uses interface segregation to allow minimal implementations:
//
//   - RunStore (core, required): CreateRun, GetRun, UpdateRun
//   - RunLister (optional): ListRuns
//   - AuditStore (required for engines): AppendEvent, ReadEvents
//   - io.Closer (optional): Close
//
// The Backend interface composes all of these for full-featured
// implementations. Components can accept RunStore for minimal requirements
// and use type assertions to detect optional capabilities at runtime.
//
// Durability contract: CreateRun and UpdateRun must not return until the
// record is durably written, and AppendEvent must never rewrite earlier
// events. Crash recovery depends on both.
package store

import (
	"context"
	"io"

	"github.com/tombee/runbook/internal/audit"
)

// RunStore is the core interface for run storage operations.
// This is the minimal interface that backends must implement.
type RunStore interface {
	// CreateRun persists a new run. Fails if the run ID already exists.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID, returning NotFoundError when absent.
	GetRun(ctx context.Context, id string) (*Run, error)

	// UpdateRun replaces an existing run's record.
	UpdateRun(ctx context.Context, run *Run) error
}

// RunLister is an optional interface for listing runs.
// Use type assertion to detect if a backend supports this capability:
//
//	if lister, ok := st.(store.RunLister); ok {
//	    runs, err := lister.ListRuns(ctx, filter)
//	}
type RunLister interface {
	// ListRuns lists runs most-recent-first with optional filtering.
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
}

// AuditStore persists the append-only audit trail alongside run records.
type AuditStore interface {
	// AppendEvent appends one event to the run's audit trail.
	AppendEvent(ctx context.Context, event audit.Event) error

	// ReadEvents replays a run's audit trail in append order.
	ReadEvents(ctx context.Context, runID string) ([]audit.Event, error)
}

// Backend defines the full interface for run storage.
// This is a composite interface that embeds all segregated interfaces
// plus io.Closer for lifecycle management.
type Backend interface {
	RunStore
	RunLister
	AuditStore
	io.Closer
}

// RunFilter contains filtering options for listing runs.
type RunFilter struct {
	// SOPName restricts results to runs of one procedure
	SOPName string

	// Status restricts results to one run status
	Status RunStatus

	// Limit caps the number of results after filtering (0 = no cap)
	Limit int
}
