package agent

import (
	"context"
	"encoding/json"
)

type EventType string

const (
	EventToolCall   EventType = "tool_call"
	EventTranscript EventType = "transcript"
	EventAudio      EventType = "audio"
	EventEnded      EventType = "ended"
	EventError      EventType = "error"
)

// Event is a conversational-agent event surfaced to the orchestrator.
type Event struct {
	Type       EventType
	ToolCallID string
	Tool       string
	Params     map[string]string
	Text       string
	Payload    json.RawMessage
	Code       string
	Detail     string
}

// Conversation is an open streaming session with the external agent.
type Conversation interface {
	Events() <-chan Event
	SendToolResult(ctx context.Context, toolCallID, result string, isError bool) error
	SendText(ctx context.Context, text string) error
	Close() error
}

// Dialer opens conversations against the external voice-agent service.
type Dialer interface {
	Dial(ctx context.Context, cfg SessionConfig) (Conversation, error)
}
