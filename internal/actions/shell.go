package actions

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"schedq/internal/task"
)

const maxOutputInError = 512

// Shell runs command with args. A non-zero exit is an error carrying the
// (truncated) combined output.
func Shell(command string, args ...string) task.Action {
	return func(ctx context.Context) error {
		if command == "" {
			return fmt.Errorf("command is required")
		}
		cmd := exec.CommandContext(ctx, command, args...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("shell error: %v; out=%s", err, truncate(strings.TrimSpace(string(out)), maxOutputInError))
		}
		return nil
	}
}

// ShellLine runs line through "sh -c".
func ShellLine(line string) task.Action {
	return Shell("sh", "-c", line)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
