package llm

import (
	"context"
	"sync"
)

// MockClient is a test double for the LLM Client interface.
// Respond, when set, overrides Response/Err per prompt.
type MockClient struct {
	Response *Response
	Err      error
	Respond  func(prompt string) (*Response, error)

	mu    sync.Mutex
	Calls []string // records prompts sent
}

// Complete records the call and returns the mock response. It honors ctx
// cancellation so timeouts can be exercised with a blocking Respond.
func (m *MockClient) Complete(ctx context.Context, prompt string) (*Response, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, prompt)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Respond != nil {
		return m.Respond(prompt)
	}
	return m.Response, m.Err
}

// CallCount returns the number of prompts received.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
