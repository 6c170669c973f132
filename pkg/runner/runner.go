package runner

import (
	"context"
	"fmt"
	"strings"
)

// CommandRunner executes an external tool and returns its standard output
// split into lines.
type CommandRunner interface {
	Run(ctx context.Context, command string, args []string) ([]string, error)
}

// FailurePolicy decides what a runner reports when a tool fails.
type FailurePolicy string

const (
	// PolicyEmpty absorbs every failure into an empty result. Pipeline
	// stages then continue with whatever the other tools produced.
	PolicyEmpty FailurePolicy = "empty"
	// PolicySurface returns failures as *errors.ToolError so callers can
	// record them.
	PolicySurface FailurePolicy = "surface"
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyEmpty, nil
	case PolicyEmpty, PolicySurface:
		return p, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

// SplitLines decodes tool output and splits it on CR/LF boundaries. Lines
// are trimmed and blank lines are dropped.
func SplitLines(out []byte) []string {
	text := strings.ToValidUTF8(string(out), "\uFFFD")
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == '\r'
	})

	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		if line := strings.TrimSpace(f); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
