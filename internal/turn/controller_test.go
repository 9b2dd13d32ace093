package turn

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"tinker/internal/executor"
	"tinker/internal/plan"
	"tinker/internal/planner"
	"tinker/internal/reflector"
	"tinker/internal/session"
	"tinker/internal/tooling"
)

// stubPlanner returns queued plans in order and records every request.
type stubPlanner struct {
	plans    [][]plan.Step
	err      error
	requests []planner.Request
}

func (s *stubPlanner) Plan(_ context.Context, req planner.Request) ([]plan.Step, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.plans) == 0 {
		return nil, errors.New("stub planner out of plans")
	}
	next := s.plans[0]
	if len(s.plans) > 1 {
		s.plans = s.plans[1:]
	}
	return next, nil
}

// passOutcome scripts one execution pass: seq -> error (nil means success).
type passOutcome map[int]*tooling.Error

// stubInvoker replays scripted passes; once the script runs out the last
// pass repeats. A new pass starts whenever seq resets to the plan head.
type stubInvoker struct {
	passes  []passOutcome
	pass    int
	lastSeq int
	calls   int
	panicOn bool
}

func (s *stubInvoker) Invoke(_ context.Context, step plan.Step) tooling.Outcome {
	if s.panicOn {
		panic("tool exploded")
	}
	s.calls++
	if step.Seq <= s.lastSeq && s.pass < len(s.passes)-1 {
		s.pass++
	}
	s.lastSeq = step.Seq
	if err := s.passes[s.pass][step.Seq]; err != nil {
		return tooling.Outcome{Err: err}
	}
	return tooling.Outcome{Success: true, Payload: "ok"}
}

// memStore is an in-memory session.Store.
type memStore struct {
	saved   map[string]*session.State
	saveErr error
	saves   int
}

func newMemStore() *memStore {
	return &memStore{saved: map[string]*session.State{}}
}

func (m *memStore) Load(_ context.Context, id string) (*session.State, error) {
	st, ok := m.saved[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return st, nil
}

func (m *memStore) Save(_ context.Context, st *session.State) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved[st.ID] = st
	return nil
}

func (m *memStore) List(_ context.Context) ([]string, error) { return nil, nil }
func (m *memStore) Delete(_ context.Context, _ string) error { return nil }
func (m *memStore) Close() error                             { return nil }

func twoStepPlan() []plan.Step {
	return []plan.Step{
		{Seq: 1, Action: plan.ActionWriteFile, Args: plan.WriteFileArgs{Path: "app.py", Content: "x"}, Description: "create app.py"},
		{Seq: 2, Action: plan.ActionRunCommand, Args: plan.RunCommandArgs{Command: "python app.py"}, Description: "run the script"},
	}
}

func newController(p planner.Planner, inv tooling.Invoker, store session.Store, maxRetries int, autoRetry bool) *Controller {
	return New(Options{
		Planner:   p,
		Executor:  executor.New(inv, nil),
		Reflector: reflector.New(maxRetries, nil),
		Store:     store,
		AutoRetry: autoRetry,
	})
}

// Scenario: every step succeeds on the first pass.
func TestTurnAllStepsSucceed(t *testing.T) {
	p := &stubPlanner{plans: [][]plan.Step{twoStepPlan()}}
	inv := &stubInvoker{passes: []passOutcome{{}}}
	store := newMemStore()
	ctrl := newController(p, inv, store, 3, true)

	state := session.New("s1", 10)
	res, err := ctrl.HandleTurn(context.Background(), state, "make a hello script")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome: %s", res.Outcome)
	}
	if !strings.Contains(res.Response, "✅ Completed all 2 steps successfully!") {
		t.Fatalf("headline missing: %q", res.Response)
	}
	if !strings.Contains(res.Response, "📁 Files modified: app.py") {
		t.Fatalf("files line missing: %q", res.Response)
	}
	if state.RetryCount != 0 || state.LastError != nil {
		t.Fatalf("clean turn left error state: %d %+v", state.RetryCount, state.LastError)
	}
	if res.RetryCount != 0 || res.ToolCalls != 2 {
		t.Fatalf("result accounting: retries=%d calls=%d", res.RetryCount, res.ToolCalls)
	}
	if store.saves != 1 {
		t.Fatalf("expected one save, got %d", store.saves)
	}
	// History carries the user request and the concise summary.
	msgs := state.History()
	if len(msgs) != 2 || msgs[1].Role != "assistant" {
		t.Fatalf("history: %+v", msgs)
	}
	if msgs[1].Content != "Completed 2/2 steps. Modified: app.py" {
		t.Fatalf("summary: %q", msgs[1].Content)
	}
}

// Scenario: a transient failure retries the same plan, which then succeeds.
func TestTurnTransientFailureRetriesSamePlan(t *testing.T) {
	p := &stubPlanner{plans: [][]plan.Step{twoStepPlan()}}
	inv := &stubInvoker{passes: []passOutcome{
		{2: &tooling.Error{Kind: tooling.KindExitError, Message: "connection reset by peer"}},
		{},
	}}
	ctrl := newController(p, inv, newMemStore(), 3, true)

	state := session.New("s2", 10)
	res, err := ctrl.HandleTurn(context.Background(), state, "run it")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome: %s (%s)", res.Outcome, res.Response)
	}
	if len(p.requests) != 1 {
		t.Fatalf("retry must reuse the plan, planner called %d times", len(p.requests))
	}
	if state.RetryCount != 1 || len(state.RetryHistory) != 1 {
		t.Fatalf("retry not recorded: %d %+v", state.RetryCount, state.RetryHistory)
	}
	if state.RetryHistory[0].ErrorKind != tooling.KindExitError {
		t.Fatalf("retry record: %+v", state.RetryHistory[0])
	}
}

// Scenario: a wrong-approach failure replans with error context.
func TestTurnKeywordFailureTriggersReplan(t *testing.T) {
	fixedPlan := []plan.Step{
		{Seq: 1, Action: plan.ActionRunCommand, Args: plan.RunCommandArgs{Command: "python3 app.py"}, Description: "run with python3"},
	}
	p := &stubPlanner{plans: [][]plan.Step{twoStepPlan(), fixedPlan}}
	inv := &stubInvoker{passes: []passOutcome{
		{2: &tooling.Error{Kind: tooling.KindExitError, Message: "python: command not found"}},
		{},
	}}
	ctrl := newController(p, inv, newMemStore(), 3, true)

	state := session.New("s3", 10)
	res, err := ctrl.HandleTurn(context.Background(), state, "run the script")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome: %s (%s)", res.Outcome, res.Response)
	}
	if len(p.requests) != 2 {
		t.Fatalf("replan must call the planner again, got %d calls", len(p.requests))
	}
	replan := p.requests[1]
	if len(replan.PriorErrors) != 1 || replan.PriorErrors[0].Seq != 2 {
		t.Fatalf("prior errors not forwarded: %+v", replan.PriorErrors)
	}
	if !strings.Contains(replan.PriorErrors[0].Message, "command not found") {
		t.Fatalf("error text lost: %+v", replan.PriorErrors[0])
	}
}

// Scenario: malformed planner output degrades to a diagnostic step that
// fails through the normal path until the budget runs out.
func TestTurnPlannerContractViolation(t *testing.T) {
	p := &stubPlanner{plans: [][]plan.Step{plan.Diagnostic("plan rejected: invalid JSON")}}
	inv := &stubInvoker{passes: []passOutcome{
		{1: &tooling.Error{Kind: tooling.KindPlannerContract, Message: "plan rejected: invalid JSON"}},
	}}
	ctrl := newController(p, inv, newMemStore(), 1, true)

	state := session.New("s4", 10)
	res, err := ctrl.HandleTurn(context.Background(), state, "do something odd")
	if err != nil {
		t.Fatalf("contract violation must not crash the turn: %v", err)
	}
	if res.Outcome != OutcomeExhausted {
		t.Fatalf("outcome: %s", res.Outcome)
	}
	if !strings.Contains(res.Response, "Max retries (1) exceeded") {
		t.Fatalf("exhaustion headline missing: %q", res.Response)
	}
	if !strings.Contains(res.Response, "plan rejected: invalid JSON") {
		t.Fatalf("diagnostic reason missing: %q", res.Response)
	}
	if state.LastError == nil || state.LastError.Kind != tooling.KindPlannerContract {
		t.Fatalf("last error: %+v", state.LastError)
	}
}

// The budget bounds attempts: maxRetries retries on top of the first pass,
// never one more.
func TestTurnRetryBudgetInvariant(t *testing.T) {
	p := &stubPlanner{plans: [][]plan.Step{{
		{Seq: 1, Action: plan.ActionRunCommand, Args: plan.RunCommandArgs{Command: "flaky"}, Description: "flaky step"},
	}}}
	inv := &stubInvoker{passes: []passOutcome{
		{1: &tooling.Error{Kind: tooling.KindExitError, Message: "still broken"}},
	}}
	ctrl := newController(p, inv, newMemStore(), 3, true)

	state := session.New("s5", 10)
	res, err := ctrl.HandleTurn(context.Background(), state, "keep trying")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if res.Outcome != OutcomeExhausted {
		t.Fatalf("outcome: %s", res.Outcome)
	}
	// Initial pass plus exactly three retries.
	if inv.calls != 4 {
		t.Fatalf("expected 4 execution passes, got %d", inv.calls)
	}
	if state.RetryCount != 3 || len(state.RetryHistory) != 3 {
		t.Fatalf("budget accounting: count=%d history=%d", state.RetryCount, len(state.RetryHistory))
	}
}

func TestTurnFreshBudgetPerTurn(t *testing.T) {
	p := &stubPlanner{plans: [][]plan.Step{{
		{Seq: 1, Action: plan.ActionRunCommand, Args: plan.RunCommandArgs{Command: "x"}, Description: "step"},
	}}}
	inv := &stubInvoker{passes: []passOutcome{
		{1: &tooling.Error{Kind: tooling.KindExitError, Message: "broken"}},
	}}
	ctrl := newController(p, inv, newMemStore(), 2, true)

	state := session.New("s6", 10)
	if _, err := ctrl.HandleTurn(context.Background(), state, "first"); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if state.RetryCount != 2 {
		t.Fatalf("first turn should exhaust: %d", state.RetryCount)
	}

	// Second turn succeeds immediately and starts from a zeroed budget.
	inv.passes = []passOutcome{{}}
	inv.pass = 0
	inv.lastSeq = 0
	res, err := ctrl.HandleTurn(context.Background(), state, "second")
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if res.Outcome != OutcomeSuccess || state.RetryCount != 0 {
		t.Fatalf("budget not reset: outcome=%s count=%d", res.Outcome, state.RetryCount)
	}
}

func TestTurnAutoRetryDisabled(t *testing.T) {
	p := &stubPlanner{plans: [][]plan.Step{twoStepPlan()}}
	inv := &stubInvoker{passes: []passOutcome{
		{2: &tooling.Error{Kind: tooling.KindExitError, Message: "connection reset"}},
	}}
	ctrl := newController(p, inv, newMemStore(), 3, false)

	state := session.New("s7", 10)
	res, err := ctrl.HandleTurn(context.Background(), state, "run once")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if res.Outcome != OutcomePartial {
		t.Fatalf("outcome: %s", res.Outcome)
	}
	if state.RetryCount != 0 {
		t.Fatalf("no retry should be consumed: %d", state.RetryCount)
	}
	if state.LastError == nil || state.LastError.Kind != tooling.KindExitError {
		t.Fatalf("failure not recorded: %+v", state.LastError)
	}
	if !strings.Contains(res.Response, "⚠️  Completed 1/2 steps") {
		t.Fatalf("partial headline missing: %q", res.Response)
	}
}

func TestTurnEventOrder(t *testing.T) {
	p := &stubPlanner{plans: [][]plan.Step{twoStepPlan()}}
	inv := &stubInvoker{passes: []passOutcome{
		{2: &tooling.Error{Kind: tooling.KindExitError, Message: "transient"}},
		{},
	}}
	ctrl := newController(p, inv, newMemStore(), 3, true)

	var events []string
	emit := func(event string, _ map[string]any) { events = append(events, event) }
	state := session.New("s8", 10)
	if _, err := ctrl.HandleTurnStream(context.Background(), state, "go", emit); err != nil {
		t.Fatalf("turn: %v", err)
	}

	want := []string{
		"plan_started", "plan_ready",
		"step_started", "step_finished", // step 1 ok
		"step_started", "step_finished", // step 2 fails
		"retry_triggered",
		"step_started", "step_finished", // step 1 again
		"step_started", "step_finished", // step 2 ok
		"turn_complete",
	}
	if len(events) != len(want) {
		t.Fatalf("event count %d, want %d: %v", len(events), len(want), events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d = %s, want %s (%v)", i, events[i], want[i], events)
		}
	}
}

func TestTurnPlannerErrorIsTerminal(t *testing.T) {
	p := &stubPlanner{err: errors.New("openrouter: 503")}
	ctrl := newController(p, &stubInvoker{passes: []passOutcome{{}}}, newMemStore(), 3, true)

	var events []string
	emit := func(event string, _ map[string]any) { events = append(events, event) }
	state := session.New("s9", 10)
	_, err := ctrl.HandleTurnStream(context.Background(), state, "anything", emit)
	if err == nil {
		t.Fatal("provider failure must surface as an error")
	}
	if state.LastError == nil || state.LastError.Kind != tooling.KindInternal {
		t.Fatalf("failure not durable: %+v", state.LastError)
	}
	if events[len(events)-1] != "turn_error" {
		t.Fatalf("expected trailing turn_error: %v", events)
	}
}

// cancellingInvoker cancels the turn context from inside its first call, as a
// user interrupt would mid-pass.
type cancellingInvoker struct {
	cancel context.CancelFunc
	calls  int
}

func (c *cancellingInvoker) Invoke(_ context.Context, _ plan.Step) tooling.Outcome {
	c.calls++
	c.cancel()
	return tooling.Outcome{Success: true, Payload: "ok"}
}

func TestTurnCancelledMidPassIsNotSuccess(t *testing.T) {
	p := &stubPlanner{plans: [][]plan.Step{twoStepPlan()}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inv := &cancellingInvoker{cancel: cancel}
	ctrl := newController(p, inv, newMemStore(), 3, true)

	var events []string
	emit := func(event string, _ map[string]any) { events = append(events, event) }
	state := session.New("s12", 10)
	_, err := ctrl.HandleTurnStream(ctx, state, "interrupt me", emit)
	if err == nil || !strings.Contains(err.Error(), "cancelled") {
		t.Fatalf("cancelled turn must error, got %v", err)
	}
	// Step 1 finished cleanly but step 2 never ran.
	if inv.calls != 1 {
		t.Fatalf("executor should stop between steps: %d calls", inv.calls)
	}
	if state.LastError == nil || state.LastError.Kind != tooling.KindInternal {
		t.Fatalf("cancellation not durable: %+v", state.LastError)
	}
	if events[len(events)-1] != "turn_error" {
		t.Fatalf("expected trailing turn_error: %v", events)
	}
}

func TestTurnSaveFailureIsNonFatal(t *testing.T) {
	p := &stubPlanner{plans: [][]plan.Step{twoStepPlan()}}
	store := newMemStore()
	store.saveErr = errors.New("disk full")
	ctrl := newController(p, &stubInvoker{passes: []passOutcome{{}}}, store, 3, true)

	state := session.New("s10", 10)
	res, err := ctrl.HandleTurn(context.Background(), state, "make it")
	if err != nil {
		t.Fatalf("save failure must not fail the turn: %v", err)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome: %s", res.Outcome)
	}
}

func TestTurnPanicIsRecovered(t *testing.T) {
	p := &stubPlanner{plans: [][]plan.Step{twoStepPlan()}}
	inv := &stubInvoker{passes: []passOutcome{{}}, panicOn: true}
	ctrl := newController(p, inv, newMemStore(), 3, true)

	state := session.New("s11", 10)
	_, err := ctrl.HandleTurn(context.Background(), state, "boom")
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("panic must convert to error, got %v", err)
	}
	if state.LastError == nil || state.LastError.Kind != tooling.KindInternal {
		t.Fatalf("panic not recorded: %+v", state.LastError)
	}
}

func TestFormatResponseTruncatesLongOutput(t *testing.T) {
	steps := []plan.Step{{Seq: 1, Action: plan.ActionReadFile, Description: "read big file"}}
	long := strings.Repeat("y", 450)
	results := []executor.Result{{Seq: 1, Action: plan.ActionReadFile, Success: true, Output: long}}

	got := formatResponse(steps, results, nil)
	if !strings.Contains(got, strings.Repeat("y", 200)+"...") {
		t.Fatalf("output not truncated at 200: %q", got)
	}
	if strings.Contains(got, strings.Repeat("y", 201)) {
		t.Fatalf("truncation too long: %q", got)
	}
}

func TestFormatResponsePreviewKeepsRunesIntact(t *testing.T) {
	steps := []plan.Step{{Seq: 1, Action: plan.ActionReadFile, Description: "read unicode file"}}
	long := strings.Repeat("ü", 450)
	results := []executor.Result{{Seq: 1, Action: plan.ActionReadFile, Success: true, Output: long}}

	got := formatResponse(steps, results, nil)
	if !utf8.ValidString(got) {
		t.Fatalf("report is not valid UTF-8: %q", got)
	}
	if !strings.Contains(got, strings.Repeat("ü", 200)+"...") {
		t.Fatalf("preview not truncated at 200 runes: %q", got)
	}
}

func TestFormatResponseFailureHeadline(t *testing.T) {
	steps := twoStepPlan()
	results := []executor.Result{{
		Seq: 1, Action: plan.ActionWriteFile, Success: false,
		Err: &tooling.Error{Kind: tooling.KindIOError, Message: "disk full"},
	}}
	got := formatResponse(steps, results, nil)
	if !strings.HasPrefix(got, "❌ Execution failed") {
		t.Fatalf("headline: %q", got)
	}
	if !strings.Contains(got, "→ Error: disk full") {
		t.Fatalf("error detail missing: %q", got)
	}
	if strings.Contains(got, "Step 2") {
		t.Fatalf("unreached step must not appear: %q", got)
	}
}

func TestHistorySummary(t *testing.T) {
	results := []executor.Result{
		{Seq: 1, Success: true},
		{Seq: 2, Success: false, Err: &tooling.Error{Kind: tooling.KindExitError, Message: "x"}},
	}
	got := historySummary(results, []string{"a.txt", "b.txt"})
	want := "Completed 1/2 steps. Modified: a.txt, b.txt"
	if got != want {
		t.Fatalf("summary %q, want %q", got, want)
	}
	if got := historySummary(nil, nil); got != "Completed 0/0 steps." {
		t.Fatalf("empty summary: %q", got)
	}
}
