package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl MessageType = "client_control"
	TypeClientGuess   MessageType = "client_guess"
	TypeStateSnapshot MessageType = "state_snapshot"
	TypeToolCallTrace MessageType = "tool_call_trace"
	TypeAgentEvent    MessageType = "agent_event"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

// Control actions accepted from the browser.
const (
	ActionStart  = "start"
	ActionStop   = "stop"
	ActionReplay = "replay"
	ActionEnd    = "end"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

type ClientGuess struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

// StateSnapshot mirrors quiz progress and playback state to the browser.
type StateSnapshot struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id"`
	Progress  json.RawMessage `json:"progress"`
	Playback  json.RawMessage `json:"playback"`
}

// ToolCallTrace reports an agent tool invocation and its string ack.
type ToolCallTrace struct {
	Type      MessageType       `json:"type"`
	SessionID string            `json:"session_id"`
	Tool      string            `json:"tool"`
	Params    map[string]string `json:"params,omitempty"`
	Result    string            `json:"result"`
}

// AgentEvent forwards conversational events (transcripts, audio) untouched.
type AgentEvent struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionStart, ActionStop, ActionReplay, ActionEnd:
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	case TypeClientGuess:
		var msg ClientGuess
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_guess")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
