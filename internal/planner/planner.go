// Package planner turns a user request into a validated execution plan.
package planner

import (
	"context"
	"fmt"
	"strings"

	"tinker/internal/llm"
	"tinker/internal/logging"
	"tinker/internal/plan"
	"tinker/internal/prompts"
	"tinker/internal/session"
)

// StepError describes one failed step from a prior execution pass, fed back
// to the model when re-planning.
type StepError struct {
	Seq     int
	Message string
}

// Request carries everything the planner needs for one plan call.
type Request struct {
	Request     string
	History     []session.Message
	PriorErrors []StepError
}

// Planner produces an executable plan for a user request. A non-nil error
// means the provider call itself failed; malformed model output is reported
// as a diagnostic plan instead so it flows through the normal failure path.
type Planner interface {
	Plan(ctx context.Context, req Request) ([]plan.Step, error)
}

// LLMPlanner asks a chat model for a JSON plan and validates it.
type LLMPlanner struct {
	client      llm.Client
	model       string
	temperature float64
	log         *logging.StructuredLogger
}

// NewLLMPlanner builds a planner over the given provider client.
func NewLLMPlanner(client llm.Client, model string, temperature float64, log *logging.StructuredLogger) *LLMPlanner {
	if log == nil {
		log = logging.NewStructuredLogger(logging.Discard(), "planner", false)
	}
	return &LLMPlanner{client: client, model: model, temperature: temperature, log: log}
}

// Plan implements Planner.
func (p *LLMPlanner) Plan(ctx context.Context, req Request) ([]plan.Step, error) {
	messages := make([]session.Message, 0, len(req.History)+2)
	messages = append(messages, session.Message{Role: "system", Content: prompts.Planner})
	messages = append(messages, req.History...)
	messages = append(messages, session.Message{
		Role:    "user",
		Content: prompts.ReplanRequest(req.Request, formatErrors(req.PriorErrors)),
	})

	resp, err := p.client.Chat(ctx, llm.ChatRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: p.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("planner chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		p.log.Warn("planner returned no choices")
		return plan.Diagnostic("model returned no plan"), nil
	}

	raw := stripFences(resp.Choices[0].Message.Content)
	steps, err := plan.Parse([]byte(raw))
	if err != nil {
		p.log.Warn("plan rejected", map[string]interface{}{"error": err.Error()})
		return plan.Diagnostic(fmt.Sprintf("plan rejected: %v", err)), nil
	}
	p.log.Debug("plan accepted", map[string]interface{}{"steps": len(steps)})
	return steps, nil
}

func formatErrors(errs []StepError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, fmt.Sprintf("Step %d: %s", e.Seq, e.Message))
	}
	return out
}

// stripFences removes a surrounding markdown code block when the model
// ignores the bare-JSON instruction.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+len("```"):]
	} else {
		return text
	}
	if end := strings.Index(text, "```"); end >= 0 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}
