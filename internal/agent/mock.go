package agent

import (
	"context"
	"sync"
)

// MockDialer is a local fallback used when the agent service is not
// configured, and a scripting hook for tests.
type MockDialer struct {
	mu    sync.Mutex
	convs []*MockConversation
}

func NewMockDialer() *MockDialer { return &MockDialer{} }

func (d *MockDialer) Dial(_ context.Context, cfg SessionConfig) (Conversation, error) {
	c := &MockConversation{
		Config: cfg,
		events: make(chan Event, 64),
	}
	d.mu.Lock()
	d.convs = append(d.convs, c)
	d.mu.Unlock()
	return c, nil
}

// Last returns the most recently dialled conversation, or nil.
func (d *MockDialer) Last() *MockConversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.convs) == 0 {
		return nil
	}
	return d.convs[len(d.convs)-1]
}

type MockConversation struct {
	Config SessionConfig

	mu          sync.Mutex
	events      chan Event
	closed      bool
	ToolResults []ToolResult
	Texts       []string
}

type ToolResult struct {
	ToolCallID string
	Result     string
	IsError    bool
}

// Emit feeds an event to the consumer, as if the agent had sent it.
func (c *MockConversation) Emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

func (c *MockConversation) Events() <-chan Event { return c.events }

func (c *MockConversation) SendToolResult(_ context.Context, toolCallID, result string, isError bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ToolResults = append(c.ToolResults, ToolResult{ToolCallID: toolCallID, Result: result, IsError: isError})
	return nil
}

func (c *MockConversation) SendText(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Texts = append(c.Texts, text)
	return nil
}

// SentTexts returns a copy of the texts forwarded to the agent.
func (c *MockConversation) SentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Texts))
	copy(out, c.Texts)
	return out
}

// Results returns a copy of the tool results sent back to the agent.
func (c *MockConversation) Results() []ToolResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ToolResult, len(c.ToolResults))
	copy(out, c.ToolResults)
	return out
}

func (c *MockConversation) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.events)
	return nil
}
