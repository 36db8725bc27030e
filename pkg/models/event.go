package models

import "time"

// EventType identifies a frame kind on the chat stream.
type EventType string

const (
	EventText             EventType = "text"
	EventToolStart        EventType = "tool_start"
	EventToolResult       EventType = "tool_result"
	EventApprovalRequired EventType = "approval_required"
	EventUsage            EventType = "usage"
	EventError            EventType = "error"
	EventDone             EventType = "done"
)

// StreamEvent is one server-to-client frame. Exactly one payload field
// is populated, matching Type. Frames are written one per line.
type StreamEvent struct {
	Type     EventType        `json:"event"`
	Text     *TextPayload     `json:"text,omitempty"`
	Tool     *ToolPayload     `json:"tool,omitempty"`
	Approval *ApprovalPayload `json:"approval,omitempty"`
	Usage    *Usage           `json:"usage,omitempty"`
	Error    *ErrorPayload    `json:"error,omitempty"`
}

// TextPayload carries assistant narration text.
type TextPayload struct {
	Content string `json:"content"`
}

// ToolPayload carries tool_start and tool_result frames. Result is nil
// on tool_start.
type ToolPayload struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
	Result *ToolResult    `json:"result,omitempty"`
}

// ApprovalPayload announces a pending approval the caller must decide.
type ApprovalPayload struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Params    map[string]any `json:"params"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// ErrorPayload carries a turn-level error message.
type ErrorPayload struct {
	Message string `json:"message"`
}
