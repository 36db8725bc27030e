package models

import (
	"fmt"
	"time"
)

// Role indicates the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ChatMessage is a single entry in a session transcript.
//
// ToolCallID is set only on tool messages and links the message to the
// assistant tool call it answers. ToolCalls is set only on assistant
// messages for rounds that produced calls. Messages are append-only;
// the one exception is a placeholder tool message whose Content is
// replaced in place when an approved action's real result arrives.
type ChatMessage struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ToolCall is the model's request to execute a named tool.
// Instances are immutable once parsed from a provider response.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the outcome of one tool execution.
// Success=false implies Data is empty and Error carries a
// human-readable message. Errors never cross the catalog boundary as
// Go errors; they are folded into the result.
type ToolResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Usage reports token consumption for one completion request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// PendingApproval is a durable record of a proposed mutating action
// awaiting explicit user consent.
type PendingApproval struct {
	ID         string         `json:"id"`
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

// Expired reports whether the approval has passed its expiry at the
// given instant.
func (a *PendingApproval) Expired(now time.Time) bool {
	if a == nil {
		return true
	}
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

// Summarize renders a short description of a tool result suitable for
// compressed history views: item count for array data, a name for
// single-object data, otherwise a truncated string form.
func (r ToolResult) Summarize(maxLen int) string {
	if maxLen <= 0 {
		maxLen = 120
	}
	if !r.Success {
		return "error: " + truncate(r.Error, maxLen)
	}
	switch data := r.Data.(type) {
	case []any:
		return fmt.Sprintf("%d items", len(data))
	case []map[string]any:
		return fmt.Sprintf("%d items", len(data))
	case map[string]any:
		if name, ok := data["name"].(string); ok && name != "" {
			return name
		}
		return truncate(fmt.Sprint(data), maxLen)
	case nil:
		return "ok"
	default:
		return truncate(fmt.Sprint(data), maxLen)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
