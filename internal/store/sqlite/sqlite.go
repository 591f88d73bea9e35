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

// Package sqlite provides a SQLite storage backend for installations that
// outgrow per-run JSON files.
//
// Run records are stored as serialized JSON alongside the columns the list
// queries filter on. Audit events live in their own table and are only ever
// inserted, never updated or deleted.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tombee/runbook/internal/audit"
	"github.com/tombee/runbook/internal/store"
	"github.com/tombee/runbook/pkg/errors"
	_ "modernc.org/sqlite"
)

// Compile-time interface assertions.
var (
	_ store.RunStore   = (*Backend)(nil)
	_ store.RunLister  = (*Backend)(nil)
	_ store.AuditStore = (*Backend)(nil)
	_ store.Backend    = (*Backend)(nil)
)

// Backend is a SQLite storage backend.
type Backend struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New creates a new SQLite backend.
func New(cfg Config) (*Backend, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection for writes
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := &Backend{db: db}

	if err := b.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return b, nil
}

// configurePragmas sets SQLite configuration options.
func (b *Backend) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",   // Enable foreign key constraints
		"PRAGMA busy_timeout=5000", // 5 second timeout for lock contention
		"PRAGMA synchronous=FULL",  // Run records must be durable before control returns
	}

	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL") // Enable WAL mode for concurrent reads
	}

	for _, pragma := range pragmas {
		if _, err := b.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

// migrate runs database migrations.
func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			sop_name TEXT NOT NULL,
			status TEXT NOT NULL,
			current_step INTEGER DEFAULT 0,
			total_steps INTEGER DEFAULT 0,
			record TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_sop_name ON runs(sop_name)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			event_type TEXT NOT NULL,
			step_number INTEGER DEFAULT 0,
			details TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_run_id ON audit_events(run_id)`,
	}

	for _, migration := range migrations {
		if _, err := b.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// CreateRun inserts a new run record.
func (b *Backend) CreateRun(ctx context.Context, run *store.Run) error {
	record, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	query := `
		INSERT INTO runs (id, sop_name, status, current_step, total_steps, record, started_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = b.db.ExecContext(ctx, query,
		run.RunID, run.SOPName, string(run.Status), run.CurrentStep, run.TotalSteps,
		string(record), run.StartedAt.Format(time.RFC3339Nano), formatTime(run.CompletedAt),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (b *Backend) GetRun(ctx context.Context, id string) (*store.Run, error) {
	var record string
	err := b.db.QueryRowContext(ctx, "SELECT record FROM runs WHERE id = ?", id).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "run", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var run store.Run
	if err := json.Unmarshal([]byte(record), &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", id, err)
	}
	return &run, nil
}

// UpdateRun rewrites an existing run record.
func (b *Backend) UpdateRun(ctx context.Context, run *store.Run) error {
	record, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	query := `
		UPDATE runs SET
			sop_name = ?, status = ?, current_step = ?, total_steps = ?,
			record = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := b.db.ExecContext(ctx, query,
		run.SOPName, string(run.Status), run.CurrentStep, run.TotalSteps,
		string(record), run.StartedAt.Format(time.RFC3339Nano), formatTime(run.CompletedAt),
		time.Now().UTC().Format(time.RFC3339Nano),
		run.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return &errors.NotFoundError{Resource: "run", ID: run.RunID}
	}
	return nil
}

// ListRuns lists runs most recent first with optional filtering.
func (b *Backend) ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.Run, error) {
	query := "SELECT record FROM runs WHERE 1=1"
	args := []any{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.SOPName != "" {
		query += " AND sop_name = ?"
		args = append(args, filter.SOPName)
	}

	query += " ORDER BY started_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*store.Run
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		var run store.Run
		if err := json.Unmarshal([]byte(record), &run); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run: %w", err)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// AppendEvent inserts one audit event. Events are never updated or deleted.
func (b *Backend) AppendEvent(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal event details: %w", err)
	}

	query := `
		INSERT INTO audit_events (run_id, timestamp, event_type, step_number, details)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = b.db.ExecContext(ctx, query,
		event.RunID, event.Timestamp.Format(time.RFC3339Nano),
		string(event.EventType), event.StepNumber, nullBytes(details),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// ReadEvents replays a run's audit events in insertion order.
func (b *Backend) ReadEvents(ctx context.Context, runID string) ([]audit.Event, error) {
	query := `
		SELECT timestamp, event_type, step_number, details
		FROM audit_events WHERE run_id = ? ORDER BY id ASC
	`
	rows, err := b.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			timestamp string
			eventType string
			step      int
			details   sql.NullString
		)
		if err := rows.Scan(&timestamp, &eventType, &step, &details); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		event := audit.Event{
			EventType:  audit.EventType(eventType),
			RunID:      runID,
			StepNumber: step,
		}
		event.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		if details.Valid && details.String != "" && details.String != "null" {
			if err := json.Unmarshal([]byte(details.String), &event.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event details: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Close closes the database connection.
func (b *Backend) Close() error {
	return b.db.Close()
}

// formatTime converts a *time.Time to RFC3339 string or nil.
func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

// nullBytes returns nil if the payload is empty, otherwise its string form.
func nullBytes(b []byte) any {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return string(b)
}
