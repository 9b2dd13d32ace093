// Package agent hosts the interactive REPL around the turn controller.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"tinker/internal/config"
	"tinker/internal/logging"
	"tinker/internal/session"
	"tinker/internal/turn"
)

var commandSuggestions = []prompt.Suggest{
	{Text: ":help", Description: "show this text"},
	{Text: ":sessions", Description: "list stored sessions"},
	{Text: ":use", Description: "switch to an existing session (:use <id>)"},
	{Text: ":new", Description: "create and switch to a blank session"},
	{Text: ":clear", Description: "wipe the current session's history"},
	{Text: ":drop", Description: "delete a stored session (:drop <id>)"},
	{Text: ":quit", Description: "exit the program"},
	{Text: ":exit", Description: "exit the program"},
}

type interruptTracker struct {
	mu     sync.Mutex
	last   time.Time
	window time.Duration
}

func newInterruptTracker(window time.Duration) *interruptTracker {
	return &interruptTracker{window: window}
}

func (t *interruptTracker) secondPress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.window {
		t.last = time.Time{}
		return true
	}
	t.last = now
	return false
}

type promptExit struct{}

// Agent owns the REPL loop and the currently selected session.
type Agent struct {
	ctrl   *turn.Controller
	store  session.Store
	cfg    config.Config
	logger *log.Logger

	isTTY  bool
	render *glamour.TermRenderer

	requestCancelMu sync.Mutex
	requestCancel   context.CancelFunc

	resumeKey string
	current   *session.State
}

// Options configures agent construction.
type Options struct {
	ResumeKey string
}

// New returns a fully wired Agent ready for the REPL loop.
func New(ctrl *turn.Controller, store session.Store, cfg config.Config, logger *log.Logger, opts Options) *Agent {
	var renderer *glamour.TermRenderer
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(0),
		); err == nil {
			renderer = r
		}
	}
	return &Agent{
		ctrl:      ctrl,
		store:     store,
		cfg:       cfg,
		logger:    logger,
		isTTY:     term.IsTerminal(int(os.Stdin.Fd())),
		render:    renderer,
		resumeKey: strings.TrimSpace(opts.ResumeKey),
	}
}

// Run starts the CLI prompt and blocks until the session finishes.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := newInterruptTracker(2 * time.Second)
	if a.isTTY {
		return a.runPrompt(ctx, cancel, tracker)
	}
	go a.handleInterrupts(ctx, cancel, tracker)
	return a.runNonInteractive(ctx, cancel)
}

// RunOneShot executes a single request and prints the result.
func (a *Agent) RunOneShot(ctx context.Context, request string) error {
	if err := a.ensureSession(ctx); err != nil {
		return fmt.Errorf("select session: %w", err)
	}
	res, err := a.ctrl.HandleTurnStream(ctx, a.current, request, a.progressPrinter())
	if err != nil {
		return err
	}
	fmt.Println()
	a.printResponse(res.Response)
	return nil
}

// ensureSession loads the resume target or creates a fresh session.
func (a *Agent) ensureSession(ctx context.Context) error {
	if a.current != nil {
		return nil
	}
	if a.resumeKey != "" {
		st, err := a.store.Load(ctx, a.resumeKey)
		switch {
		case err == nil:
			st.SetWindow(a.cfg.MaxHistoryMessages)
			a.current = st
			logging.UserLog("resumed session %s with %d messages", st.ID, len(st.Messages))
			return nil
		case errors.Is(err, session.ErrNotFound):
			a.current = session.New(a.resumeKey, a.cfg.MaxHistoryMessages)
			return nil
		default:
			return err
		}
	}
	a.current = session.New("", a.cfg.MaxHistoryMessages)
	return nil
}

func (a *Agent) runPrompt(ctx context.Context, cancel context.CancelFunc, tracker *interruptTracker) (err error) {
	fmt.Println("👋 Welcome to Tinker! Describe a task and I will plan and execute it.")
	fmt.Println("Type ':help' for commands. Use double Ctrl+C to exit.")

	if err := a.ensureSession(ctx); err != nil {
		return err
	}
	if n := len(a.current.Messages); n > 0 {
		fmt.Printf("(loaded %d conversation messages)\n", n)
	}

	history := loadInputHistory(a.cfg.HistoryPath)

	var restore func()
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		if state, terr := term.GetState(fd); terr == nil {
			restore = func() { _ = term.Restore(fd, state) }
		}
	}
	if restore != nil {
		defer restore()
	}

	var exitRequested atomic.Bool
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(promptExit); ok {
				err = nil
				return
			}
			panic(r)
		}
	}()

	executor := func(in string) {
		if exitRequested.Load() || ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(in)
		if line == "" {
			return
		}
		history.Add(line)
		if exit := a.handleLine(ctx, line); exit {
			exitRequested.Store(true)
			cancel()
			panic(promptExit{})
		}
	}

	p := prompt.New(
		executor,
		a.commandCompleter(),
		prompt.OptionHistory(history.Entries()),
		prompt.OptionTitle("Tinker"),
		prompt.OptionLivePrefix(func() (string, bool) {
			return fmt.Sprintf("[%s] > ", shortID(a.current.ID)), true
		}),
		prompt.OptionAddKeyBind(
			prompt.KeyBind{
				Key: prompt.ControlC,
				Fn: func(buf *prompt.Buffer) {
					if a.cancelInFlightRequest() {
						fmt.Println("\n(Current request cancelled.)")
						return
					}
					if tracker.secondPress() {
						fmt.Println("\nReceived second Ctrl+C, exiting.")
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
					fmt.Println("\n(Press Ctrl+C again within 2s to exit)")
				},
			},
			prompt.KeyBind{
				Key: prompt.ControlD,
				Fn: func(buf *prompt.Buffer) {
					if buf.Text() == "" {
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
				},
			},
			prompt.KeyBind{
				Key: prompt.Escape,
				Fn: func(buf *prompt.Buffer) {
					if a.cancelInFlightRequest() {
						fmt.Println("\n(Request cancelled.)")
					}
				},
			},
		),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool {
			if exitRequested.Load() {
				return true
			}
			select {
			case <-ctx.Done():
				return true
			default:
				return false
			}
		}),
	)

	p.Run()
	return nil
}

func (a *Agent) commandCompleter() func(prompt.Document) []prompt.Suggest {
	return func(doc prompt.Document) []prompt.Suggest {
		word := doc.GetWordBeforeCursor()
		prefix := strings.TrimLeft(doc.TextBeforeCursor(), " \t")
		if !strings.HasPrefix(prefix, ":") {
			return nil
		}
		return prompt.FilterHasPrefix(commandSuggestions, word, true)
	}
}

func (a *Agent) runNonInteractive(ctx context.Context, cancel context.CancelFunc) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("👋 Welcome to Tinker! Describe a task and I will plan and execute it.")
	fmt.Println("Type ':help' for commands.")

	if err := a.ensureSession(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fmt.Printf("[%s] > ", shortID(a.current.ID))
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				cancel()
				return nil
			}
			return err
		}
		if exit := a.handleLine(ctx, trimLineEnding(line)); exit {
			cancel()
			return nil
		}
	}
}

func (a *Agent) handleInterrupts(ctx context.Context, cancel context.CancelFunc, tracker *interruptTracker) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			if tracker.secondPress() {
				fmt.Println("\nReceived second Ctrl+C, exiting.")
				cancel()
				return
			}
			fmt.Println("\n(Press Ctrl+C again within 2s to exit)")
		}
	}
}

// handleLine dispatches one REPL line. Returns true when the loop should
// exit.
func (a *Agent) handleLine(ctx context.Context, input string) bool {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, ":") {
		return a.handleCommand(ctx, trimmed)
	}

	logging.DevLog("dispatching turn: %d chars", len(input))
	turnCtx, cancel := context.WithCancel(ctx)
	a.setRequestCancel(cancel)
	defer a.setRequestCancel(nil)

	res, err := a.ctrl.HandleTurnStream(turnCtx, a.current, trimmed, a.progressPrinter())
	cancel()
	if err != nil {
		logging.ErrorLog("turn error: %v", err)
		fmt.Printf("\n❌ Error: %v\n", err)
		return false
	}
	fmt.Println()
	a.printResponse(res.Response)
	return false
}

func (a *Agent) handleCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch cmd {
	case ":help":
		fmt.Println("Commands:")
		for _, s := range commandSuggestions {
			fmt.Printf("  %-10s %s\n", s.Text, s.Description)
		}
	case ":sessions":
		ids, err := a.store.List(ctx)
		if err != nil {
			fmt.Printf("list sessions: %v\n", err)
			return false
		}
		if len(ids) == 0 {
			fmt.Println("no stored sessions")
			return false
		}
		for _, id := range ids {
			marker := "  "
			if id == a.current.ID {
				marker = "* "
			}
			fmt.Printf("%s%s\n", marker, id)
		}
	case ":use":
		if arg == "" {
			fmt.Println("usage: :use <session-id>")
			return false
		}
		st, err := a.store.Load(ctx, arg)
		if err != nil {
			fmt.Printf("load session: %v\n", err)
			return false
		}
		st.SetWindow(a.cfg.MaxHistoryMessages)
		a.current = st
		fmt.Printf("switched to session %s (%d messages)\n", st.ID, len(st.Messages))
	case ":new":
		a.current = session.New("", a.cfg.MaxHistoryMessages)
		fmt.Printf("created session %s\n", a.current.ID)
	case ":clear":
		a.current.Messages = nil
		a.current.ClearFailure()
		a.current.Touch()
		if err := a.store.Save(ctx, a.current); err != nil {
			fmt.Printf("save session: %v\n", err)
			return false
		}
		fmt.Println("history cleared")
	case ":drop":
		if arg == "" {
			fmt.Println("usage: :drop <session-id>")
			return false
		}
		if err := a.store.Delete(ctx, arg); err != nil {
			fmt.Printf("delete session: %v\n", err)
			return false
		}
		if arg == a.current.ID {
			a.current = session.New("", a.cfg.MaxHistoryMessages)
		}
		fmt.Printf("dropped session %s\n", arg)
	case ":quit", ":exit":
		return true
	default:
		fmt.Printf("unknown command %s, try :help\n", cmd)
	}
	return false
}

// progressPrinter renders streaming events as terse REPL markers.
func (a *Agent) progressPrinter() turn.StreamCallback {
	return func(event string, data map[string]any) {
		switch event {
		case "plan_started":
			if replanning, _ := data["replanning"].(bool); replanning {
				fmt.Print("\n🎯 Re-planning...")
			} else {
				fmt.Print("\n🎯 Planning...")
			}
		case "plan_ready":
			fmt.Printf(" %v steps", data["steps"])
		case "step_started":
			fmt.Printf("\n🛠️  Step %v: %v", data["step"], data["action"])
		case "step_finished":
			if ok, _ := data["success"].(bool); ok {
				fmt.Print(" ✅")
			} else {
				fmt.Print(" ❌")
			}
		case "retry_triggered":
			fmt.Printf("\n🔄 Reflecting on errors... (%v, attempt %v)", data["strategy"], data["attempt"])
		case "turn_error":
			fmt.Printf("\n❌ Error: %v", data["error"])
		}
	}
}

func (a *Agent) setRequestCancel(cancel context.CancelFunc) {
	a.requestCancelMu.Lock()
	a.requestCancel = cancel
	a.requestCancelMu.Unlock()
}

func (a *Agent) cancelInFlightRequest() bool {
	a.requestCancelMu.Lock()
	defer a.requestCancelMu.Unlock()
	if a.requestCancel == nil {
		return false
	}
	a.requestCancel()
	a.requestCancel = nil
	return true
}

func (a *Agent) printResponse(text string) {
	if a.render == nil || strings.TrimSpace(text) == "" {
		fmt.Printf("%s\n", text)
		return
	}
	rendered, err := a.render.Render(text)
	if err != nil {
		a.logger.Printf("markdown render failed: %v", err)
		fmt.Printf("%s\n", text)
		return
	}
	fmt.Print(strings.TrimRight(rendered, "\n") + "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func trimLineEnding(s string) string {
	s = strings.TrimSuffix(s, "\r\n")
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s
}
