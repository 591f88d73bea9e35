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

// Package memory provides an in-memory backend for dry runs and tests.
// Nothing survives process exit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tombee/runbook/internal/audit"
	"github.com/tombee/runbook/internal/store"
	"github.com/tombee/runbook/pkg/errors"
)

// Compile-time interface assertions.
var (
	_ store.RunStore   = (*Backend)(nil)
	_ store.RunLister  = (*Backend)(nil)
	_ store.AuditStore = (*Backend)(nil)
	_ store.Backend    = (*Backend)(nil)
)

// Backend is an in-memory storage backend. It hands out clones so callers
// never share mutable state with the stored records.
type Backend struct {
	mu     sync.RWMutex
	runs   map[string]*store.Run
	events map[string][]audit.Event
}

// New creates a new in-memory backend.
func New() *Backend {
	return &Backend{
		runs:   make(map[string]*store.Run),
		events: make(map[string][]audit.Event),
	}
}

// CreateRun stores a new run.
func (b *Backend) CreateRun(ctx context.Context, run *store.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.runs[run.RunID]; exists {
		return fmt.Errorf("run already exists: %s", run.RunID)
	}
	b.runs[run.RunID] = run.Clone()
	return nil
}

// GetRun retrieves a run by ID.
func (b *Backend) GetRun(ctx context.Context, id string) (*store.Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	run, exists := b.runs[id]
	if !exists {
		return nil, &errors.NotFoundError{Resource: "run", ID: id}
	}
	return run.Clone(), nil
}

// UpdateRun replaces an existing run.
func (b *Backend) UpdateRun(ctx context.Context, run *store.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.runs[run.RunID]; !exists {
		return &errors.NotFoundError{Resource: "run", ID: run.RunID}
	}
	b.runs[run.RunID] = run.Clone()
	return nil
}

// ListRuns lists runs most recent first with optional filtering.
func (b *Backend) ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []*store.Run
	for _, run := range b.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.SOPName != "" && run.SOPName != filter.SOPName {
			continue
		}
		result = append(result, run.Clone())
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// AppendEvent records one audit event.
func (b *Backend) AppendEvent(ctx context.Context, event audit.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.events[event.RunID] = append(b.events[event.RunID], event)
	return nil
}

// ReadEvents replays a run's audit events in insertion order.
func (b *Backend) ReadEvents(ctx context.Context, runID string) ([]audit.Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	out := make([]audit.Event, len(events))
	copy(out, events)
	return out, nil
}

// Close releases backend resources.
func (b *Backend) Close() error {
	return nil
}
