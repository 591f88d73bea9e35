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

// Package timeline provides ASCII timeline rendering for run execution visualization.
package timeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tombee/runbook/internal/store"
	"golang.org/x/term"
)

const (
	// MinTerminalWidth is the minimum supported terminal width
	MinTerminalWidth = 80
	// DefaultBarWidth is the default width for duration bars
	DefaultBarWidth = 40
	// StatusIconOK indicates successful completion
	StatusIconOK = "✓"
	// StatusIconError indicates failure
	StatusIconError = "✗"
	// StatusIconSkipped indicates a when-guard skip
	StatusIconSkipped = "-"
)

// Span is one step's slice of the run timeline.
type Span struct {
	StepNumber int
	Title      string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Status     store.StepStatus
}

// Renderer renders ASCII timelines from run records.
type Renderer struct {
	Width    int
	BarWidth int
}

// NewRenderer creates a new timeline renderer with terminal width detection.
func NewRenderer() (*Renderer, error) {
	width, _, err := term.GetSize(0)
	if err != nil {
		// Default to 100 if detection fails
		width = 100
	}

	if width < MinTerminalWidth {
		return nil, fmt.Errorf("terminal width %d is too narrow (minimum %d columns)", width, MinTerminalWidth)
	}

	// Reserve space for labels, status, and borders
	// Format: "│ step_title ██████░░░░  duration  status │"
	barWidth := width - 50
	if barWidth > 60 {
		barWidth = 60
	}
	if barWidth < DefaultBarWidth {
		barWidth = DefaultBarWidth
	}

	return &Renderer{
		Width:    width,
		BarWidth: barWidth,
	}, nil
}

// Render generates an ASCII timeline for a run. Bars are positioned by
// wall-clock start so concurrent steps show as overlapping lanes.
func (r *Renderer) Render(run *store.Run) (string, error) {
	spans := prepareSpans(run)
	if len(spans) == 0 {
		return "", fmt.Errorf("no executed steps to render")
	}

	minTime, maxTime := calculateBounds(spans)
	totalDuration := maxTime.Sub(minTime)
	if totalDuration <= 0 {
		totalDuration = time.Millisecond
	}

	var sb strings.Builder

	border := strings.Repeat("─", r.Width-2)
	sb.WriteString("┌" + border + "┐\n")

	label := fmt.Sprintf("%s (%s)", run.SOPName, run.RunID)
	header := fmt.Sprintf("│ Run: %-*s Total: %8s │\n",
		r.Width-25,
		truncate(label, r.Width-25),
		formatDuration(totalDuration))
	sb.WriteString(header)

	sb.WriteString("├" + border + "┤\n")

	for _, span := range spans {
		sb.WriteString(r.renderSpan(span, minTime, totalDuration))
	}

	sb.WriteString("└" + border + "┘\n")

	return sb.String(), nil
}

// prepareSpans extracts renderable spans from a run's step results, ordered
// by step number. Steps that never started (pending, skipped before
// dispatch) are left out.
func prepareSpans(run *store.Run) []Span {
	numbers := make([]int, 0, len(run.StepResults))
	for n := range run.StepResults {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	var spans []Span
	for _, n := range numbers {
		res := run.StepResults[n]
		if res == nil || res.StartedAt == nil {
			continue
		}

		end := time.Time{}
		if res.CompletedAt != nil {
			end = *res.CompletedAt
		} else if run.CompletedAt != nil {
			end = *run.CompletedAt
		} else {
			end = *res.StartedAt
		}

		title := res.Title
		if title == "" {
			title = fmt.Sprintf("step %d", n)
		}

		spans = append(spans, Span{
			StepNumber: n,
			Title:      title,
			StartTime:  *res.StartedAt,
			EndTime:    end,
			Duration:   end.Sub(*res.StartedAt),
			Status:     res.Status,
		})
	}

	return spans
}

// calculateBounds finds the earliest start and latest end across all spans.
func calculateBounds(spans []Span) (time.Time, time.Time) {
	minTime := spans[0].StartTime
	maxTime := spans[0].EndTime

	for _, span := range spans {
		if span.StartTime.Before(minTime) {
			minTime = span.StartTime
		}
		if span.EndTime.After(maxTime) {
			maxTime = span.EndTime
		}
	}

	return minTime, maxTime
}

// renderSpan generates a timeline line for a single span.
func (r *Renderer) renderSpan(span Span, minTime time.Time, totalDuration time.Duration) string {
	startOffset := span.StartTime.Sub(minTime)
	startPos := int(float64(startOffset) / float64(totalDuration) * float64(r.BarWidth))
	barLength := int(float64(span.Duration) / float64(totalDuration) * float64(r.BarWidth))

	if barLength < 1 {
		barLength = 1
	}
	if startPos >= r.BarWidth {
		startPos = r.BarWidth - 1
	}
	if startPos+barLength > r.BarWidth {
		barLength = r.BarWidth - startPos
	}

	bar := make([]rune, r.BarWidth)
	for i := 0; i < r.BarWidth; i++ {
		if i >= startPos && i < startPos+barLength {
			bar[i] = '█'
		} else {
			bar[i] = '░'
		}
	}

	statusIcon := StatusIconOK
	switch span.Status {
	case store.StepFailed:
		statusIcon = StatusIconError
	case store.StepSkipped:
		statusIcon = StatusIconSkipped
	}

	name := fmt.Sprintf("%d. %s", span.StepNumber, span.Title)

	return fmt.Sprintf("│ %-20s %s  %8s  %s │\n",
		truncate(name, 20),
		string(bar),
		formatDuration(span.Duration),
		statusIcon,
	)
}

// truncate shortens a string to maxLen with ellipsis if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}
