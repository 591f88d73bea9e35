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

package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// syncer is implemented by writers that can flush to stable storage.
type syncer interface {
	Sync() error
}

// Logger writes audit events to an append-only log, one JSON object per
// line. Writes are serialized; when the underlying writer supports it, each
// event is synced to disk before Log returns so the trail survives a crash.
type Logger struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewLogger creates an audit logger over an arbitrary writer.
func NewLogger(writer io.Writer) *Logger {
	return &Logger{
		writer: writer,
	}
}

// NewFileLogger creates an audit logger that appends to the file at path.
func NewFileLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &Logger{
		writer: f,
	}, nil
}

// Log writes one audit event.
func (l *Logger) Log(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	if s, ok := l.writer.(syncer); ok {
		if err := s.Sync(); err != nil {
			return fmt.Errorf("failed to sync audit log: %w", err)
		}
	}

	return nil
}

// LogRun writes a run-scoped event.
func (l *Logger) LogRun(runID string, eventType EventType, details map[string]interface{}) error {
	return l.Log(Event{
		EventType: eventType,
		RunID:     runID,
		Details:   details,
	})
}

// LogStep writes a step-scoped event.
func (l *Logger) LogStep(runID string, step int, eventType EventType, details map[string]interface{}) error {
	return l.Log(Event{
		EventType:  eventType,
		RunID:      runID,
		StepNumber: step,
		Details:    details,
	})
}

// Close closes the underlying writer if it implements io.Closer.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if closer, ok := l.writer.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}
