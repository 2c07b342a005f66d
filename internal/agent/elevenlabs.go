package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

type ElevenLabsConfig struct {
	APIKey    string
	WSBaseURL string
}

// ElevenLabsDialer opens conversational-agent sessions over the realtime
// websocket endpoint.
type ElevenLabsDialer struct {
	cfg ElevenLabsConfig
}

func NewElevenLabsDialer(cfg ElevenLabsConfig) *ElevenLabsDialer {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	return &ElevenLabsDialer{cfg: cfg}
}

func (d *ElevenLabsDialer) Dial(ctx context.Context, cfg SessionConfig) (Conversation, error) {
	if strings.TrimSpace(cfg.AgentID) == "" {
		return nil, fmt.Errorf("agent_id is required")
	}

	u, err := url.Parse(strings.TrimRight(d.cfg.WSBaseURL, "/") + "/v1/convai/conversation")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("agent_id", cfg.AgentID)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	if d.cfg.APIKey != "" {
		headers.Set("xi-api-key", d.cfg.APIKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial agent websocket: %w", err)
	}

	c := &elevenConversation{conn: conn, events: make(chan Event, 256)}
	go c.readLoop()

	// Conversation initiation carries the templated quiz prompt; the tool
	// declarations live in the agent's server-side configuration.
	init := map[string]any{
		"type": "conversation_initiation_client_data",
		"conversation_config_override": map[string]any{
			"agent": map[string]any{
				"prompt": map[string]any{"prompt": cfg.Prompt},
			},
		},
	}
	if err := c.writeJSON(init); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("send conversation init: %w", err)
	}
	return c, nil
}

type elevenConversation struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan Event
}

type serverMessage struct {
	Type           string `json:"type"`
	ClientToolCall struct {
		ToolName   string          `json:"tool_name"`
		ToolCallID string          `json:"tool_call_id"`
		Parameters json.RawMessage `json:"parameters"`
	} `json:"client_tool_call"`
	AgentResponseEvent struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event"`
	UserTranscriptionEvent struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event"`
	AudioEvent struct {
		AudioBase64 string `json:"audio_base_64"`
	} `json:"audio_event"`
	PingEvent struct {
		EventID int `json:"event_id"`
	} `json:"ping_event"`
}

func (c *elevenConversation) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.events <- Event{Type: EventEnded, Detail: err.Error()}
			return
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.events <- Event{Type: EventError, Code: "invalid_agent_message", Detail: err.Error()}
			continue
		}

		switch msg.Type {
		case "client_tool_call":
			c.events <- Event{
				Type:       EventToolCall,
				ToolCallID: msg.ClientToolCall.ToolCallID,
				Tool:       msg.ClientToolCall.ToolName,
				Params:     stringParams(msg.ClientToolCall.Parameters),
			}
		case "agent_response":
			c.events <- Event{Type: EventTranscript, Text: msg.AgentResponseEvent.AgentResponse, Payload: data}
		case "user_transcript":
			c.events <- Event{Type: EventTranscript, Text: msg.UserTranscriptionEvent.UserTranscript, Payload: data}
		case "audio":
			c.events <- Event{Type: EventAudio, Payload: data}
		case "ping":
			// Keepalive: answer or the server closes the conversation.
			_ = c.writeJSON(map[string]any{"type": "pong", "event_id": msg.PingEvent.EventID})
		default:
			c.events <- Event{Type: EventTranscript, Payload: data}
		}
	}
}

// stringParams flattens the agent's parameter object; tools take string-typed
// parameters only, so everything else is stringified.
func stringParams(raw json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			b, _ := json.Marshal(v)
			out[k] = string(b)
		}
	}
	return out
}

func (c *elevenConversation) Events() <-chan Event { return c.events }

func (c *elevenConversation) SendToolResult(_ context.Context, toolCallID, result string, isError bool) error {
	return c.writeJSON(map[string]any{
		"type":         "client_tool_result",
		"tool_call_id": toolCallID,
		"result":       result,
		"is_error":     isError,
	})
}

func (c *elevenConversation) SendText(_ context.Context, text string) error {
	return c.writeJSON(map[string]any{
		"type": "user_message",
		"text": text,
	})
}

func (c *elevenConversation) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *elevenConversation) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
