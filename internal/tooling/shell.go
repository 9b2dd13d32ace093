package tooling

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"tinker/internal/logging"
	"tinker/internal/plan"
)

const maxShellTimeout = 300 * time.Second

// shellTool runs commands through the shell inside the workspace.
type shellTool struct {
	guard   pathGuard
	timeout time.Duration
}

func (t *shellTool) run(ctx context.Context, args plan.RunCommandArgs) Outcome {
	if strings.TrimSpace(args.Command) == "" {
		return failure(KindInvalidArgs, "command must not be empty")
	}

	dir := t.guard.root
	if args.WorkingDir != "" {
		resolved, err := t.guard.Resolve(args.WorkingDir)
		if err != nil {
			return failure(KindInvalidArgs, "%v", err)
		}
		dir = resolved
	}

	timeout := t.timeout
	if args.TimeoutSeconds > 0 {
		timeout = time.Duration(args.TimeoutSeconds) * time.Second
	}
	if timeout <= 0 || timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", args.Command)
	cmd.Dir = dir
	cmd.Stdin = nil // prevent hangs on interactive input

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)
	exitCode := 0
	if ps := cmd.ProcessState; ps != nil {
		exitCode = ps.ExitCode()
	}
	logging.DevLog("shell: command completed in %dms with exit code %d", duration.Milliseconds(), exitCode)

	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return failure(KindTimeout, "command timed out after %ds and was killed", int(timeout.Seconds()))
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = strings.TrimSpace(stdout.String())
			}
			return failure(KindExitError, "command exited with code %d: %s", exitCode, truncateOutput(detail, 500))
		}
		return failure(KindExitError, "command failed to start: %v", runErr)
	}

	out := stdout.String()
	if trimmed := strings.TrimSpace(stderr.String()); trimmed != "" {
		out = fmt.Sprintf("%s\n[stderr]\n%s", out, trimmed)
	}
	return success(strings.TrimSpace(out))
}

func truncateOutput(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
