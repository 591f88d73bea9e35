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

package timeline

import (
	"strings"
	"testing"
	"time"

	"github.com/tombee/runbook/internal/store"
)

func testRun(base time.Time, results map[int]*store.StepResult) *store.Run {
	end := base.Add(time.Second)
	return &store.Run{
		RunID:       "run-123",
		SOPName:     "restart-api",
		Status:      store.StatusCompleted,
		StartedAt:   base,
		CompletedAt: &end,
		StepResults: results,
	}
}

func stepSpan(n int, title string, status store.StepStatus, start, end time.Time) *store.StepResult {
	return &store.StepResult{
		StepNumber:  n,
		Title:       title,
		Status:      status,
		StartedAt:   &start,
		CompletedAt: &end,
	}
}

func TestRenderer_Render(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		results map[int]*store.StepResult
		wantErr bool
		checks  []func(string) bool
	}{
		{
			name: "single step",
			results: map[int]*store.StepResult{
				1: stepSpan(1, "Stop service", store.StepCompleted, base, base.Add(100*time.Millisecond)),
			},
			wantErr: false,
			checks: []func(string) bool{
				func(s string) bool { return strings.Contains(s, "restart-api") },
				func(s string) bool { return strings.Contains(s, "Stop service") },
				func(s string) bool { return strings.Contains(s, StatusIconOK) },
			},
		},
		{
			name: "overlapping steps both render",
			results: map[int]*store.StepResult{
				1: stepSpan(1, "Drain traffic", store.StepCompleted, base, base.Add(200*time.Millisecond)),
				2: stepSpan(2, "Snapshot state", store.StepCompleted, base.Add(10*time.Millisecond), base.Add(110*time.Millisecond)),
			},
			wantErr: false,
			checks: []func(string) bool{
				func(s string) bool { return strings.Contains(s, "Drain traffic") },
				func(s string) bool { return strings.Contains(s, "Snapshot state") },
			},
		},
		{
			name: "failed step shows error icon",
			results: map[int]*store.StepResult{
				1: stepSpan(1, "Apply migration", store.StepFailed, base, base.Add(50*time.Millisecond)),
			},
			wantErr: false,
			checks: []func(string) bool{
				func(s string) bool { return strings.Contains(s, StatusIconError) },
				func(s string) bool { return strings.Contains(s, "Apply migration") },
			},
		},
		{
			name: "never-started steps are left out",
			results: map[int]*store.StepResult{
				1: stepSpan(1, "Stop service", store.StepCompleted, base, base.Add(100*time.Millisecond)),
				2: {StepNumber: 2, Title: "Never ran", Status: store.StepPending},
			},
			wantErr: false,
			checks: []func(string) bool{
				func(s string) bool { return strings.Contains(s, "Stop service") },
				func(s string) bool { return !strings.Contains(s, "Never ran") },
			},
		},
		{
			name:    "no executed steps returns error",
			results: map[int]*store.StepResult{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Renderer{
				Width:    100,
				BarWidth: 40,
			}

			output, err := r.Render(testRun(base, tt.results))

			if tt.wantErr {
				if err == nil {
					t.Errorf("Render() expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Errorf("Render() unexpected error: %v", err)
				return
			}

			for i, check := range tt.checks {
				if !check(output) {
					t.Errorf("Render() check %d failed\nOutput:\n%s", i, output)
				}
			}
		})
	}
}

func TestPrepareSpansOrdersByStepNumber(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	run := testRun(base, map[int]*store.StepResult{
		3: stepSpan(3, "third", store.StepCompleted, base.Add(2*time.Second), base.Add(3*time.Second)),
		1: stepSpan(1, "first", store.StepCompleted, base, base.Add(time.Second)),
		2: stepSpan(2, "second", store.StepCompleted, base.Add(time.Second), base.Add(2*time.Second)),
	})

	spans := prepareSpans(run)
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	for i, want := range []string{"first", "second", "third"} {
		if spans[i].Title != want {
			t.Errorf("span %d = %q, want %q", i, spans[i].Title, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{
			name:   "short string unchanged",
			input:  "short",
			maxLen: 10,
			want:   "short",
		},
		{
			name:   "exact length unchanged",
			input:  "exactly10c",
			maxLen: 10,
			want:   "exactly10c",
		},
		{
			name:   "long string truncated",
			input:  "this is a very long string",
			maxLen: 10,
			want:   "this is...",
		},
		{
			name:   "maxLen <= 3 no ellipsis",
			input:  "test",
			maxLen: 3,
			want:   "tes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.input, tt.maxLen)
			if got != tt.want {
				t.Errorf("truncate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name string
		dur  time.Duration
		want string
	}{
		{
			name: "microseconds",
			dur:  500 * time.Microsecond,
			want: "500µs",
		},
		{
			name: "milliseconds",
			dur:  150 * time.Millisecond,
			want: "150ms",
		},
		{
			name: "seconds",
			dur:  2500 * time.Millisecond,
			want: "2.5s",
		},
		{
			name: "minutes",
			dur:  90 * time.Second,
			want: "1.5m",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatDuration(tt.dur)
			if got != tt.want {
				t.Errorf("formatDuration() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCalculateBounds(t *testing.T) {
	baseTime := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	spans := []Span{
		{
			Title:     "span1",
			StartTime: baseTime,
			EndTime:   baseTime.Add(100 * time.Millisecond),
		},
		{
			Title:     "span2",
			StartTime: baseTime.Add(50 * time.Millisecond),
			EndTime:   baseTime.Add(200 * time.Millisecond),
		},
		{
			Title:     "span3",
			StartTime: baseTime.Add(10 * time.Millisecond),
			EndTime:   baseTime.Add(150 * time.Millisecond),
		},
	}

	minTime, maxTime := calculateBounds(spans)

	if !minTime.Equal(baseTime) {
		t.Errorf("calculateBounds() minTime = %v, want %v", minTime, baseTime)
	}

	expectedMax := baseTime.Add(200 * time.Millisecond)
	if !maxTime.Equal(expectedMax) {
		t.Errorf("calculateBounds() maxTime = %v, want %v", maxTime, expectedMax)
	}
}
