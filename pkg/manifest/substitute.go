package manifest

import "strings"

// Substitute replaces {{var}} placeholders in a command with values from
// vars. Whitespace inside the braces is tolerated ({{ var }}). Placeholders
// naming a variable that was not provided are left intact so the failure is
// visible in the executed command rather than silently blanked.
func Substitute(command string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(command, "{{") {
		return command
	}

	var b strings.Builder
	b.Grow(len(command))

	rest := command
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			b.WriteString(rest)
			return b.String()
		}

		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			b.WriteString(rest)
			return b.String()
		}
		end += start

		name := strings.TrimSpace(rest[start+2 : end])
		if value, ok := vars[name]; ok {
			b.WriteString(rest[:start])
			b.WriteString(value)
		} else {
			b.WriteString(rest[:end+2])
		}
		rest = rest[end+2:]
	}
}

// Placeholders returns the distinct variable names referenced by {{var}}
// placeholders in a command, in order of first appearance.
func Placeholders(command string) []string {
	var names []string
	seen := make(map[string]bool)

	rest := command
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			return names
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			return names
		}
		end += start

		name := strings.TrimSpace(rest[start+2 : end])
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		rest = rest[end+2:]
	}
}
