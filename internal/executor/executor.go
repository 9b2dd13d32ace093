// Package executor runs a validated plan step by step and collects the
// per-step results the reflector reasons over.
package executor

import (
	"context"

	"tinker/internal/logging"
	"tinker/internal/metrics"
	"tinker/internal/plan"
	"tinker/internal/tooling"
)

// Result records the outcome of one executed step.
type Result struct {
	Seq     int
	Action  plan.Action
	Success bool
	Output  string
	Err     *tooling.Error
}

// EmitFunc receives streaming progress events. A nil emit is allowed.
type EmitFunc func(event string, data map[string]any)

// Executor drives the tool invoker over a plan.
type Executor struct {
	invoker tooling.Invoker
	log     *logging.StructuredLogger
}

// New builds an executor over the given invoker.
func New(invoker tooling.Invoker, log *logging.StructuredLogger) *Executor {
	if log == nil {
		log = logging.NewStructuredLogger(logging.Discard(), "executor", false)
	}
	return &Executor{invoker: invoker, log: log}
}

// Execute runs steps in order. A failed fatal-class step halts the pass, so
// the result slice covers executed steps only, never skipped ones. The
// returned paths are the workspace files touched by succeeded mutating steps.
func (e *Executor) Execute(ctx context.Context, steps []plan.Step, emit EmitFunc) ([]Result, []string) {
	results := make([]Result, 0, len(steps))
	var filesModified []string

	for _, step := range steps {
		if ctx.Err() != nil {
			e.log.Warn("execution cancelled", map[string]interface{}{"at_step": step.Seq})
			break
		}
		if emit != nil {
			emit("step_started", map[string]any{
				"step":        step.Seq,
				"action":      string(step.Action),
				"description": step.Description,
			})
		}

		out := e.invoker.Invoke(ctx, step)
		res := Result{
			Seq:     step.Seq,
			Action:  step.Action,
			Success: out.Success,
			Output:  out.Payload,
			Err:     out.Err,
		}
		results = append(results, res)
		metrics.ObserveStep(string(step.Action), res.Success)

		if emit != nil {
			data := map[string]any{
				"step":    step.Seq,
				"action":  string(step.Action),
				"success": res.Success,
			}
			if res.Err != nil {
				data["error"] = res.Err.Message
			}
			emit("step_finished", data)
		}

		if res.Success {
			if path, ok := step.FileTarget(); ok {
				filesModified = append(filesModified, path)
			}
			continue
		}

		e.log.Warn("step failed", map[string]interface{}{
			"step":   step.Seq,
			"action": string(step.Action),
			"kind":   res.Err.Kind,
		})
		if plan.Fatal(step.Action) {
			break
		}
	}
	return results, filesModified
}

// HasFailure reports whether any executed step failed.
func HasFailure(results []Result) bool {
	for _, r := range results {
		if !r.Success {
			return true
		}
	}
	return false
}

// Failures returns the failed results in execution order.
func Failures(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}
