// Package turn drives the plan, execute, reflect loop for one user turn and
// owns the session state while the turn is in flight.
package turn

import (
	"context"
	"fmt"
	"time"

	"tinker/internal/executor"
	"tinker/internal/logging"
	"tinker/internal/metrics"
	"tinker/internal/plan"
	"tinker/internal/planner"
	"tinker/internal/reflector"
	"tinker/internal/session"
	"tinker/internal/tooling"
)

// StreamCallback receives progress events in state-machine order:
// plan_started, plan_ready, step_started, step_finished, retry_triggered,
// then turn_complete or turn_error.
type StreamCallback func(event string, data map[string]any)

// Outcome classifies how a turn ended.
const (
	OutcomeSuccess   = "success"
	OutcomePartial   = "partial"
	OutcomeFailure   = "failure"
	OutcomeExhausted = "exhausted"
)

// Result is the finished turn handed back to the caller.
type Result struct {
	Response      string
	Outcome       string
	FilesModified []string
	RetryCount    int
	ToolCalls     int
}

// Controller wires the planner, executor, and reflector together. It is safe
// for sequential use; a session must not run two turns concurrently.
type Controller struct {
	planner   planner.Planner
	exec      *executor.Executor
	reflector *reflector.Reflector
	store     session.Store
	autoRetry bool
	log       *logging.StructuredLogger
}

// Options collects the controller dependencies.
type Options struct {
	Planner   planner.Planner
	Executor  *executor.Executor
	Reflector *reflector.Reflector
	Store     session.Store
	AutoRetry bool
	Logger    *logging.StructuredLogger
}

// New builds a turn controller.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewStructuredLogger(logging.Discard(), "turn", false)
	}
	return &Controller{
		planner:   opts.Planner,
		exec:      opts.Executor,
		reflector: opts.Reflector,
		store:     opts.Store,
		autoRetry: opts.AutoRetry,
		log:       logger,
	}
}

// HandleTurn runs one turn without streaming.
func (c *Controller) HandleTurn(ctx context.Context, state *session.State, request string) (Result, error) {
	return c.HandleTurnStream(ctx, state, request, nil)
}

// HandleTurnStream runs one turn, emitting progress events as it goes. The
// retry budget is fresh for every turn; a prior turn's exhaustion never
// bleeds into this one.
func (c *Controller) HandleTurnStream(ctx context.Context, state *session.State, request string, emit StreamCallback) (res Result, err error) {
	started := time.Now()
	logger := c.log.WithSession(state.ID)
	send := func(event string, data map[string]any) {
		if emit != nil {
			emit(event, data)
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("turn panicked", map[string]interface{}{"panic": fmt.Sprintf("%v", rec)})
			state.RecordFailure(tooling.KindInternal, fmt.Sprintf("turn panicked: %v", rec))
			c.save(ctx, state, logger)
			send("turn_error", map[string]any{"error": fmt.Sprintf("%v", rec)})
			metrics.ObserveTurn("error", started)
			err = fmt.Errorf("turn panicked: %v", rec)
		}
	}()

	// The planner sees the window as it stood before this request; the
	// request itself travels in the prompt.
	history := state.History()
	state.BeginTurn(request)

	var (
		steps       []plan.Step
		results     []executor.Result
		modified    []string
		priorErrors []planner.StepError
		outcome     string
		response    string
	)
	needPlan := true

	for {
		if ctx.Err() != nil {
			return c.fail(ctx, state, logger, send, started, fmt.Errorf("turn cancelled: %w", ctx.Err()))
		}

		if needPlan {
			send("plan_started", map[string]any{"request": request, "replanning": len(priorErrors) > 0})
			planned, perr := c.planner.Plan(ctx, planner.Request{
				Request:     request,
				History:     history,
				PriorErrors: priorErrors,
			})
			if perr != nil {
				return c.fail(ctx, state, logger, send, started, perr)
			}
			steps = planned
			kind := "initial"
			if len(priorErrors) > 0 {
				kind = "replan"
			}
			metrics.PlansTotal.WithLabelValues(kind).Inc()
			send("plan_ready", map[string]any{"steps": len(steps)})
		}

		passResults, passFiles := c.exec.Execute(ctx, steps, send)
		results = passResults
		modified = mergePaths(modified, passFiles)

		// The executor stops between steps on cancellation; a clean partial
		// pass must not read as success.
		if ctx.Err() != nil {
			return c.fail(ctx, state, logger, send, started, fmt.Errorf("turn cancelled: %w", ctx.Err()))
		}

		if !executor.HasFailure(results) {
			outcome = OutcomeSuccess
			response = formatResponse(steps, results, modified)
			break
		}

		decision := c.reflector.Reflect(results, state.RetryCount)
		firstFail := executor.Failures(results)[0]

		if !c.autoRetry {
			logger.Info("auto retry disabled, terminating turn", map[string]interface{}{"failed_step": firstFail.Seq})
			outcome = failureOutcome(results)
			response = formatResponse(steps, results, modified)
			state.RecordFailure(firstFail.Err.Kind, firstFail.Err.Message)
			break
		}

		switch decision.Strategy {
		case reflector.StrategyExhausted:
			outcome = OutcomeExhausted
			response = decision.Summary + "\n\n" + formatResponse(steps, results, modified)
			state.RecordFailure(firstFail.Err.Kind, firstFail.Err.Message)
		case reflector.StrategyReplan:
			state.RecordRetry(decision.ErrorKind, decision.ErrorExcerpt)
			send("retry_triggered", map[string]any{
				"strategy": string(decision.Strategy),
				"attempt":  state.RetryCount,
				"notes":    decision.Notes,
			})
			priorErrors = stepErrors(results)
			needPlan = true
			continue
		case reflector.StrategyRetry:
			state.RecordRetry(decision.ErrorKind, decision.ErrorExcerpt)
			send("retry_triggered", map[string]any{
				"strategy": string(decision.Strategy),
				"attempt":  state.RetryCount,
				"notes":    decision.Notes,
			})
			// Same plan object, executed again.
			needPlan = false
			continue
		default:
			// Complete with failures cannot happen; treat as terminal.
			outcome = failureOutcome(results)
			response = formatResponse(steps, results, modified)
			state.RecordFailure(firstFail.Err.Kind, firstFail.Err.Message)
		}
		break
	}

	if outcome == OutcomeSuccess {
		state.ClearFailure()
	}
	state.Append(session.Message{Role: "assistant", Content: historySummary(results, modified)})
	c.save(ctx, state, logger)

	send("turn_complete", map[string]any{
		"outcome":        outcome,
		"steps":          len(results),
		"files_modified": modified,
		"retries":        state.RetryCount,
	})
	metrics.ObserveTurn(outcome, started)
	logger.Info("turn finished", map[string]interface{}{
		"outcome": outcome,
		"steps":   len(results),
		"retries": state.RetryCount,
	})
	return Result{
		Response:      response,
		Outcome:       outcome,
		FilesModified: modified,
		RetryCount:    state.RetryCount,
		ToolCalls:     len(results),
	}, nil
}

// fail terminates the turn on an infrastructure error such as a provider
// outage. The failure is durable: it lands in the session before the error
// propagates.
func (c *Controller) fail(ctx context.Context, state *session.State, logger *logging.StructuredLogger, send StreamCallback, started time.Time, cause error) (Result, error) {
	logger.Error("turn failed", map[string]interface{}{"error": cause.Error()})
	state.RecordFailure(tooling.KindInternal, cause.Error())
	c.save(ctx, state, logger)
	send("turn_error", map[string]any{"error": cause.Error()})
	metrics.ObserveTurn("error", started)
	return Result{}, cause
}

// save persists the session. A store failure is logged but never breaks the
// turn; the in-memory state stays authoritative for the process lifetime.
func (c *Controller) save(ctx context.Context, state *session.State, logger *logging.StructuredLogger) {
	state.Touch()
	if err := c.store.Save(ctx, state); err != nil {
		logger.Error("session save failed", map[string]interface{}{"error": err.Error()})
	}
}

func failureOutcome(results []executor.Result) string {
	for _, r := range results {
		if r.Success {
			return OutcomePartial
		}
	}
	return OutcomeFailure
}

func stepErrors(results []executor.Result) []planner.StepError {
	var out []planner.StepError
	for _, r := range executor.Failures(results) {
		out = append(out, planner.StepError{Seq: r.Seq, Message: r.Err.Message})
	}
	return out
}

// mergePaths appends new paths, preserving first-seen order across passes.
func mergePaths(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p] = true
	}
	for _, p := range incoming {
		if !seen[p] {
			existing = append(existing, p)
			seen[p] = true
		}
	}
	return existing
}
