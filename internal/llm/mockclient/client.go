package mockclient

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tinker/internal/llm"
	"tinker/internal/session"
)

// Client is a deterministic llm.Client used for tests and CI. Scripted
// responses are returned in order; once exhausted it echoes the last user
// message.
type Client struct {
	mu        sync.Mutex
	prefix    string
	responses []string
}

// New returns a mock client. Optional scripted responses are consumed
// first-in-first-out by successive Chat calls.
func New(responses ...string) *Client {
	return &Client{prefix: "MOCK", responses: responses}
}

// Push appends scripted responses to the queue.
func (c *Client) Push(responses ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, responses...)
}

// Chat satisfies the llm.Client interface.
func (c *Client) Chat(_ context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	response := session.Message{Role: "assistant"}

	c.mu.Lock()
	if len(c.responses) > 0 {
		response.Content = c.responses[0]
		c.responses = c.responses[1:]
	}
	c.mu.Unlock()

	if response.Content == "" {
		if n := len(req.Messages); n > 0 {
			last := strings.TrimSpace(req.Messages[n-1].Content)
			if last == "" {
				response.Content = fmt.Sprintf("%s RESPONSE", c.prefix)
			} else {
				response.Content = fmt.Sprintf("%s RESPONSE: %s", c.prefix, last)
			}
		} else {
			response.Content = fmt.Sprintf("%s RESPONSE", c.prefix)
		}
	}

	return llm.ChatResponse{
		Choices: []llm.ChatChoice{
			{
				Index:        0,
				Message:      response,
				FinishReason: "stop",
			},
		},
		Usage: &llm.Usage{
			PromptTokens:     42,
			CompletionTokens: 7,
			TotalTokens:      49,
		},
	}, nil
}
