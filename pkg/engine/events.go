package engine

import "encoding/json"

// Stream event types written to the chat streaming response, one JSON
// object per line.
const (
	EventTextDelta  = "text-delta"
	EventToolCall   = "tool-call"
	EventToolResult = "tool-result"
	EventError      = "error"
	EventFinish     = "finish"
)

// StreamEvent is one newline-delimited JSON event of the chat stream.
type StreamEvent struct {
	Type string `json:"type"`

	// EventTextDelta
	TextDelta string `json:"text_delta,omitempty"`

	// EventToolCall / EventToolResult
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`

	// EventError
	Error string `json:"error,omitempty"`

	// EventFinish
	FinishReason string `json:"finish_reason,omitempty"`
}

// ToolCallRecord is the persisted record of one tool invocation made while
// producing an assistant message. The slice of records is stored as the
// message's tool_calls JSON.
type ToolCallRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}
