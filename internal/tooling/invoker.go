// Package tooling executes individual plan steps against the workspace.
// Every step produces an Outcome; tool failures are data, not Go errors,
// so the executor and reflector can reason about them uniformly.
package tooling

import (
	"context"
	"fmt"
	"time"

	"tinker/internal/logging"
	"tinker/internal/plan"
)

// Error kinds drive the reflector's replan-vs-retry decision and the
// user-facing failure summaries.
const (
	KindInvalidArgs     = "invalid_args"
	KindIOError         = "io_error"
	KindExitError       = "exit_error"
	KindTimeout         = "timeout"
	KindGitError        = "git_error"
	KindWebError        = "web_error"
	KindPlannerContract = "planner_contract"
	KindInternal        = "internal"
)

// Error is a classified step failure.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Outcome is the result of invoking one step.
type Outcome struct {
	Success bool
	Payload string
	Err     *Error
}

func success(payload string) Outcome {
	return Outcome{Success: true, Payload: payload}
}

func failure(kind, format string, args ...any) Outcome {
	return Outcome{Err: &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}}
}

// Invoker runs a single validated step.
type Invoker interface {
	Invoke(ctx context.Context, step plan.Step) Outcome
}

// Options configures a Registry.
type Options struct {
	WorkspaceRoot  string
	CommandTimeout time.Duration
	WebTimeout     time.Duration
	Logger         *logging.StructuredLogger
}

// Registry dispatches steps to the concrete tools. All tools share one
// workspace guard so no step can touch paths outside the sandbox.
type Registry struct {
	files *fileTool
	shell *shellTool
	git   *gitTool
	web   *webFetchTool
	log   *logging.StructuredLogger
}

// NewRegistry builds the tool set for a workspace.
func NewRegistry(opts Options) (*Registry, error) {
	guard, err := newPathGuard(opts.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewStructuredLogger(logging.Discard(), "tooling", false)
	}
	return &Registry{
		files: &fileTool{guard: guard},
		shell: &shellTool{guard: guard, timeout: opts.CommandTimeout},
		git:   &gitTool{root: guard.root, timeout: opts.CommandTimeout},
		web:   newWebFetchTool(opts.WebTimeout),
		log:   logger,
	}, nil
}

// Invoke runs one step. A panicking tool is reported as an internal failure
// rather than crashing the turn.
func (r *Registry) Invoke(ctx context.Context, step plan.Step) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("tool panicked", map[string]interface{}{
				"action": string(step.Action),
				"panic":  fmt.Sprintf("%v", rec),
			})
			out = failure(KindInternal, "tool %s panicked: %v", step.Action, rec)
		}
	}()

	if err := ctx.Err(); err != nil {
		return failure(KindInternal, "step cancelled: %v", err)
	}

	switch args := step.Args.(type) {
	case plan.WriteFileArgs:
		out = r.files.write(args)
	case plan.ReadFileArgs:
		out = r.files.read(args)
	case plan.EditFileArgs:
		out = r.files.edit(args)
	case plan.ListDirectoryArgs:
		out = r.files.list(args)
	case plan.FileExistsArgs:
		out = r.files.exists(args)
	case plan.FileInfoArgs:
		out = r.files.info(args)
	case plan.RunCommandArgs:
		out = r.shell.run(ctx, args)
	case plan.WebFetchArgs:
		out = r.web.fetch(ctx, args)
	case plan.GitStatusArgs:
		out = r.git.status(ctx)
	case plan.GitCreateBranchArgs:
		out = r.git.createBranch(ctx, args)
	case plan.GitCheckoutArgs:
		out = r.git.checkout(ctx, args)
	case plan.GitStageArgs:
		out = r.git.stage(ctx, args)
	case plan.GitCommitArgs:
		out = r.git.commit(ctx, args)
	case plan.GitLogArgs:
		out = r.git.log(ctx, args)
	case plan.NoteArgs:
		// The diagnostic step for malformed plans. It always fails so the
		// contract violation surfaces through the standard failure path.
		out = failure(KindPlannerContract, "%s", args.Text)
	default:
		out = failure(KindPlannerContract, "no tool registered for action %q", step.Action)
	}

	if out.Err != nil {
		r.log.Debug("step failed", map[string]interface{}{
			"action": string(step.Action),
			"kind":   out.Err.Kind,
		})
	}
	return out
}
