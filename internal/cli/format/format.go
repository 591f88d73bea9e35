// Package format provides CLI output formatting with TTY detection.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/alecthomas/chroma/v2/quick"
)

const (
	// Maximum sizes before formatting is refused
	maxJSONSize   = 10 * 1024 * 1024 // 10MB
	maxOutputSize = 10 * 1024 * 1024 // 10MB
)

// ansiEscapeRegex matches ANSI escape sequences for sanitization.
var ansiEscapeRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// sanitizeANSI removes ANSI escape sequences from a string. Step output is
// untrusted command output and must not drive the operator's terminal.
func sanitizeANSI(s string) string {
	return ansiEscapeRegex.ReplaceAllString(s, "")
}

// enforceSize checks if content exceeds the maximum size for its format.
func enforceSize(content string, format string, maxSize int) error {
	if len(content) > maxSize {
		return fmt.Errorf("output size (%d bytes) exceeds maximum for %s format (%d bytes)", len(content), format, maxSize)
	}
	return nil
}

// FormatJSON pretty-prints JSON with 2-space indentation. On a TTY the
// result is syntax highlighted.
func FormatJSON(content string, isTTY bool) (string, error) {
	if err := enforceSize(content, "json", maxJSONSize); err != nil {
		return "", err
	}

	var obj interface{}
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}

	formatted, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format JSON: %w", err)
	}

	if !isTTY {
		return string(formatted), nil
	}

	var buf bytes.Buffer
	if err := quick.Highlight(&buf, string(formatted), "json", "terminal256", "monokai"); err != nil {
		// Highlighting is cosmetic; fall back to the plain form
		return string(formatted), nil
	}
	return buf.String(), nil
}

// FormatOutput prepares raw step output for display. ANSI escape sequences
// are stripped so a step's stdout cannot clear the screen or move the cursor.
func FormatOutput(content string) (string, error) {
	if err := enforceSize(content, "output", maxOutputSize); err != nil {
		return "", err
	}
	return sanitizeANSI(content), nil
}
