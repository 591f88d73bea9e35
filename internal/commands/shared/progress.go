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

package shared

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tombee/runbook/internal/audit"
	"github.com/tombee/runbook/pkg/manifest"
)

// Progress renders run progress as static per-step lines. Steps can run
// concurrently, so each transition prints its own line rather than animating
// in place. Wire HandleEvent into the engine as an observer.
type Progress struct {
	mu      sync.Mutex
	out     io.Writer
	quiet   bool
	verbose bool

	titles map[int]string
}

// NewProgress creates a Progress for the given manifest writing to out.
func NewProgress(out io.Writer, m *manifest.Manifest, quiet, verbose bool) *Progress {
	titles := make(map[int]string, len(m.Steps))
	for _, s := range m.Steps {
		titles[s.Number] = s.Title
	}
	return &Progress{
		out:     out,
		quiet:   quiet,
		verbose: verbose,
		titles:  titles,
	}
}

// Header prints the run banner.
func (p *Progress) Header(sopName, runID string) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "Running SOP: %s %s\n\n", sopName, Muted.Render("("+runID+")"))
}

// HandleEvent renders one audit event. It is called synchronously from the
// scheduling goroutine, so it only formats and writes.
func (p *Progress) HandleEvent(event audit.Event) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	title := p.titles[event.StepNumber]
	if title == "" {
		title = fmt.Sprintf("step %d", event.StepNumber)
	}
	if event.StepNumber == 0 {
		title = "run"
	}

	switch event.EventType {
	case audit.EventStepStarted:
		attempt, _ := event.Details["attempt"].(int)
		if attempt > 1 {
			fmt.Fprintf(p.out, "  %s %s... %s\n",
				Muted.Render(SymbolInfo), title, Muted.Render(fmt.Sprintf("(attempt %d)", attempt)))
			return
		}
		fmt.Fprintf(p.out, "  %s %s...\n", Muted.Render(SymbolInfo), title)

	case audit.EventStepCompleted:
		fmt.Fprintf(p.out, "  %s %s  %s\n",
			StatusOK.Render(SymbolOK), pad(title), Muted.Render("("+eventDuration(event)+")"))

	case audit.EventStepFailed:
		reason, _ := event.Details["error"].(string)
		fmt.Fprintf(p.out, "  %s %s  %s\n",
			StatusError.Render(SymbolError), pad(title), StatusError.Render(reason))

	case audit.EventStepSkipped:
		when, _ := event.Details["when"].(string)
		fmt.Fprintf(p.out, "  %s %s  %s\n",
			Muted.Render(SymbolSkipped), pad(title), Muted.Render("skipped: "+when))

	case audit.EventApprovalRequested:
		if event.StepNumber == 0 {
			return
		}
		fmt.Fprintf(p.out, "  %s %s  %s\n",
			StatusWarn.Render(SymbolWarn), pad(title), StatusWarn.Render("awaiting approval"))

	case audit.EventApprovalGranted:
		fmt.Fprintf(p.out, "  %s %s  %s\n",
			StatusOK.Render(SymbolOK), pad(title), Muted.Render("approved"))

	case audit.EventApprovalRejected:
		fmt.Fprintf(p.out, "  %s %s  %s\n",
			StatusError.Render(SymbolError), pad(title), Muted.Render("rejected"))

	case audit.EventApprovalTimeout:
		fmt.Fprintf(p.out, "  %s %s  %s\n",
			StatusWarn.Render(SymbolWarn), pad(title), Muted.Render("approval window elapsed, auto-approved"))

	default:
		if p.verbose && event.StepNumber == 0 {
			fmt.Fprintf(p.out, "  %s %s\n", Muted.Render("│"), string(event.EventType))
		}
	}
}

// Finish prints the final run status line.
func (p *Progress) Finish(status string) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.out)
	switch status {
	case "completed":
		fmt.Fprintf(p.out, "%s Run completed\n", StatusOK.Render(SymbolOK))
	case "failed":
		fmt.Fprintf(p.out, "%s Run failed\n", StatusError.Render(SymbolError))
	case "cancelled":
		fmt.Fprintf(p.out, "%s Run cancelled\n", StatusWarn.Render(SymbolWarn))
	case "paused":
		fmt.Fprintf(p.out, "%s Run paused\n", StatusWarn.Render(SymbolWarn))
	case "awaiting_approval", "waiting_approval":
		fmt.Fprintf(p.out, "%s Run awaiting approval\n", StatusWarn.Render(SymbolWarn))
	default:
		fmt.Fprintf(p.out, "Run %s\n", status)
	}
}

// pad right-pads a step title so durations and reasons line up.
func pad(title string) string {
	const width = 35
	if len(title) > width {
		return title[:width-3] + "..."
	}
	return title + strings.Repeat(" ", width-len(title))
}

// eventDuration extracts a display duration from step_completed details.
func eventDuration(event audit.Event) string {
	switch v := event.Details["durationMs"].(type) {
	case int64:
		return formatDuration(time.Duration(v) * time.Millisecond)
	case float64:
		return formatDuration(time.Duration(v) * time.Millisecond)
	}
	return "0s"
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	d = d.Round(100 * time.Millisecond)
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := d.Seconds() - float64(minutes*60)
	return fmt.Sprintf("%dm %.0fs", minutes, seconds)
}
