package tooling

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"tinker/internal/plan"
)

// protectedBranches cannot be committed to directly; work happens on
// agent/<feature> branches.
var protectedBranches = map[string]bool{
	"main":    true,
	"master":  true,
	"develop": true,
}

// gitTool shells out to git with the workspace as the repository root.
// Every call is bounded by the command timeout; a hung git process (lock
// contention, slow hook) is killed and reported like a timed-out command.
type gitTool struct {
	root    string
	timeout time.Duration
}

func (t *gitTool) exec(ctx context.Context, args ...string) (string, error) {
	timeout := t.timeout
	if timeout <= 0 || timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = t.root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", &Error{
				Kind:    KindTimeout,
				Message: fmt.Sprintf("git %s timed out after %ds and was killed", args[0], int(timeout.Seconds())),
			}
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], detail)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// gitFailure keeps the kind of an already-classified error (timeouts) and
// wraps everything else as git_error.
func gitFailure(err error) Outcome {
	var classified *Error
	if errors.As(err, &classified) {
		return Outcome{Err: classified}
	}
	return failure(KindGitError, "%v", err)
}

func (t *gitTool) currentBranch(ctx context.Context) (string, error) {
	return t.exec(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

func (t *gitTool) status(ctx context.Context) Outcome {
	branch, err := t.currentBranch(ctx)
	if err != nil {
		return gitFailure(err)
	}
	out, err := t.exec(ctx, "status", "--short")
	if err != nil {
		return gitFailure(err)
	}
	if out == "" {
		return success(fmt.Sprintf("On branch %s\nworking tree clean", branch))
	}
	return success(fmt.Sprintf("On branch %s\n%s", branch, out))
}

// createBranch prefixes feature names with agent/ and switches to the new
// branch. An existing branch of the same name is an error so the model
// falls back to git_checkout.
func (t *gitTool) createBranch(ctx context.Context, args plan.GitCreateBranchArgs) Outcome {
	name := strings.TrimSpace(args.Name)
	if name == "" {
		return failure(KindInvalidArgs, "branch name must not be empty")
	}
	if !strings.HasPrefix(name, "agent/") {
		name = "agent/" + name
	}
	if _, err := t.exec(ctx, "checkout", "-b", name); err != nil {
		return gitFailure(err)
	}
	return success(fmt.Sprintf("created and switched to branch %s", name))
}

func (t *gitTool) checkout(ctx context.Context, args plan.GitCheckoutArgs) Outcome {
	branch := strings.TrimSpace(args.Branch)
	if branch == "" {
		return failure(KindInvalidArgs, "branch name must not be empty")
	}
	if _, err := t.exec(ctx, "checkout", branch); err != nil {
		return gitFailure(err)
	}
	return success(fmt.Sprintf("switched to branch %s", branch))
}

func (t *gitTool) stage(ctx context.Context, args plan.GitStageArgs) Outcome {
	if len(args.Patterns) == 0 {
		if _, err := t.exec(ctx, "add", "-A"); err != nil {
			return gitFailure(err)
		}
		return success("staged all changes")
	}
	cmdArgs := append([]string{"add", "--"}, args.Patterns...)
	if _, err := t.exec(ctx, cmdArgs...); err != nil {
		return gitFailure(err)
	}
	return success(fmt.Sprintf("staged %s", strings.Join(args.Patterns, ", ")))
}

func (t *gitTool) commit(ctx context.Context, args plan.GitCommitArgs) Outcome {
	if strings.TrimSpace(args.Message) == "" {
		return failure(KindInvalidArgs, "commit message must not be empty")
	}
	branch, err := t.currentBranch(ctx)
	if err != nil {
		return gitFailure(err)
	}
	if protectedBranches[branch] {
		return failure(KindGitError, "refusing to commit on protected branch %s, create a feature branch first", branch)
	}
	if _, err := t.exec(ctx, "commit", "-m", args.Message); err != nil {
		return gitFailure(err)
	}
	sha, err := t.exec(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return gitFailure(err)
	}
	return success(fmt.Sprintf("committed %s: %s", sha, args.Message))
}

func (t *gitTool) log(ctx context.Context, args plan.GitLogArgs) Outcome {
	limit := args.Limit
	if limit <= 0 {
		limit = 10
	}
	out, err := t.exec(ctx, "log", fmt.Sprintf("--max-count=%d", limit), "--pretty=format:%h - %an: %s")
	if err != nil {
		return gitFailure(err)
	}
	if out == "" {
		return success("no commits yet")
	}
	return success(out)
}
