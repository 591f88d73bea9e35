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

// Package file provides the default filesystem storage backend.
//
// Each run is stored as <runId>.json next to its append-only audit trail
// <runId>.audit.jsonl, with a single index.json summarising all runs for
// fast listing. Run records are written with a temp-file-fsync-rename
// sequence so a record is either fully present or absent after a crash,
// never half-written.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
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

const indexFile = "index.json"

// Backend is a filesystem storage backend.
type Backend struct {
	mu  sync.Mutex
	dir string
}

// indexEntry is one run's summary in index.json.
type indexEntry struct {
	RunID       string          `json:"runId"`
	SOPName     string          `json:"sopName"`
	Status      store.RunStatus `json:"status"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// index is the persisted shape of index.json.
type index struct {
	Runs []indexEntry `json:"runs"`
}

// New creates a filesystem backend rooted at dir, creating it if needed.
func New(dir string) (*Backend, error) {
	if dir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Backend{dir: dir}, nil
}

// CreateRun durably writes a new run record and registers it in the index.
func (b *Backend) CreateRun(ctx context.Context, run *store.Run) error {
	if err := validateRunID(run.RunID); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.runPath(run.RunID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("run already exists: %s", run.RunID)
	}

	if err := b.writeRun(run); err != nil {
		return err
	}
	return b.updateIndex(run)
}

// GetRun loads a run record by ID.
func (b *Backend) GetRun(ctx context.Context, id string) (*store.Run, error) {
	if err := validateRunID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(b.runPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "run", ID: id}
		}
		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}

	var run store.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to parse run %s: %w", id, err)
	}
	return &run, nil
}

// UpdateRun durably rewrites an existing run record and its index entry.
func (b *Backend) UpdateRun(ctx context.Context, run *store.Run) error {
	if err := validateRunID(run.RunID); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := os.Stat(b.runPath(run.RunID)); err != nil {
		if os.IsNotExist(err) {
			return &errors.NotFoundError{Resource: "run", ID: run.RunID}
		}
		return fmt.Errorf("failed to stat run %s: %w", run.RunID, err)
	}

	if err := b.writeRun(run); err != nil {
		return err
	}
	return b.updateIndex(run)
}

// ListRuns returns run summaries most recent first.
func (b *Backend) ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.Run, error) {
	b.mu.Lock()
	idx, err := b.loadIndex()
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var runs []*store.Run
	for _, entry := range idx.Runs {
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		if filter.SOPName != "" && entry.SOPName != filter.SOPName {
			continue
		}
		run, err := b.GetRun(ctx, entry.RunID)
		if err != nil {
			// Index entries can outlive records deleted out of band.
			if errors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		runs = append(runs, run)
		if filter.Limit > 0 && len(runs) >= filter.Limit {
			break
		}
	}
	return runs, nil
}

// AppendEvent appends one event to the run's audit trail and syncs it.
func (b *Backend) AppendEvent(ctx context.Context, event audit.Event) error {
	if err := validateRunID(event.RunID); err != nil {
		return err
	}

	logger, err := audit.NewFileLogger(b.auditPath(event.RunID))
	if err != nil {
		return err
	}
	defer logger.Close()
	return logger.Log(event)
}

// ReadEvents replays the run's audit trail in write order.
func (b *Backend) ReadEvents(ctx context.Context, runID string) ([]audit.Event, error) {
	if err := validateRunID(runID); err != nil {
		return nil, err
	}
	return audit.ReadFile(b.auditPath(runID))
}

// Close releases backend resources. File handles are opened per operation,
// so there is nothing to release.
func (b *Backend) Close() error {
	return nil
}

func (b *Backend) runPath(id string) string {
	return filepath.Join(b.dir, id+".json")
}

func (b *Backend) auditPath(id string) string {
	return filepath.Join(b.dir, id+".audit.jsonl")
}

// writeRun persists the run record atomically: write a temp file in the
// same directory, fsync it, then rename over the destination.
func (b *Backend) writeRun(run *store.Run) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.RunID, err)
	}
	return atomicWrite(b.runPath(run.RunID), data)
}

// updateIndex replaces or inserts the run's index entry and rewrites the
// index, keeping it ordered most recent first. Callers hold b.mu.
func (b *Backend) updateIndex(run *store.Run) error {
	idx, err := b.loadIndex()
	if err != nil {
		return err
	}

	entry := indexEntry{
		RunID:       run.RunID,
		SOPName:     run.SOPName,
		Status:      run.Status,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
	}

	replaced := false
	for i := range idx.Runs {
		if idx.Runs[i].RunID == run.RunID {
			idx.Runs[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		idx.Runs = append(idx.Runs, entry)
	}

	sort.SliceStable(idx.Runs, func(i, j int) bool {
		return idx.Runs[i].StartedAt.After(idx.Runs[j].StartedAt)
	})

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	return atomicWrite(filepath.Join(b.dir, indexFile), data)
}

// loadIndex reads index.json, rebuilding it from the run records when the
// file is missing or unreadable. Callers hold b.mu.
func (b *Backend) loadIndex() (*index, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return b.rebuildIndex()
		}
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return b.rebuildIndex()
	}
	return &idx, nil
}

// rebuildIndex reconstructs the index by scanning the run records. A crash
// between a record write and its index write leaves the record authoritative.
func (b *Backend) rebuildIndex() (*index, error) {
	matches, err := filepath.Glob(filepath.Join(b.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan state directory: %w", err)
	}

	idx := &index{}
	for _, path := range matches {
		if filepath.Base(path) == indexFile {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var run store.Run
		if err := json.Unmarshal(data, &run); err != nil || run.RunID == "" {
			continue
		}
		idx.Runs = append(idx.Runs, indexEntry{
			RunID:       run.RunID,
			SOPName:     run.SOPName,
			Status:      run.Status,
			StartedAt:   run.StartedAt,
			CompletedAt: run.CompletedAt,
		})
	}

	sort.SliceStable(idx.Runs, func(i, j int) bool {
		return idx.Runs[i].StartedAt.After(idx.Runs[j].StartedAt)
	})
	return idx, nil
}

// atomicWrite writes data to path through a synced temp file and rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// validateRunID rejects IDs that could escape the state directory. Run IDs
// double as resume tokens, so they arrive from user input.
func validateRunID(id string) error {
	if id == "" {
		return &errors.ValidationError{Field: "runId", Message: "run ID is required"}
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return &errors.ValidationError{Field: "runId", Message: "run ID contains path characters"}
	}
	return nil
}
