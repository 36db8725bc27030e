// Package agent runs the tool-calling conversation loop: it feeds the
// model, executes approved tools, and emits the event stream clients
// consume.
package agent

import (
	"encoding/json"
	"fmt"

	"github.com/boxbot-dev/boxbot/pkg/models"
)

// approvalPlaceholder is the tool message content stored while a call
// waits on user approval. It is replaced once the approval resolves.
const approvalPlaceholder = "Pending user approval."

// Event constructors. Each returns a fully populated StreamEvent;
// emitting and ordering are the caller's concern.

func TextEvent(content string) models.StreamEvent {
	return models.StreamEvent{
		Type: models.EventText,
		Text: &models.TextPayload{Content: content},
	}
}

func ToolStartEvent(name string, params map[string]any) models.StreamEvent {
	return models.StreamEvent{
		Type: models.EventToolStart,
		Tool: &models.ToolPayload{Tool: name, Params: params},
	}
}

func ToolResultEvent(name string, result *models.ToolResult) models.StreamEvent {
	return models.StreamEvent{
		Type: models.EventToolResult,
		Tool: &models.ToolPayload{Tool: name, Result: result},
	}
}

func ApprovalRequiredEvent(approval *models.PendingApproval) models.StreamEvent {
	return models.StreamEvent{
		Type: models.EventApprovalRequired,
		Approval: &models.ApprovalPayload{
			ID:        approval.ID,
			Tool:      approval.ToolName,
			Params:    approval.Parameters,
			ExpiresAt: approval.ExpiresAt,
		},
	}
}

func UsageEvent(usage models.Usage) models.StreamEvent {
	return models.StreamEvent{
		Type:  models.EventUsage,
		Usage: &usage,
	}
}

func ErrorEvent(message string) models.StreamEvent {
	return models.StreamEvent{
		Type:  models.EventError,
		Error: &models.ErrorPayload{Message: message},
	}
}

func DoneEvent() models.StreamEvent {
	return models.StreamEvent{Type: models.EventDone}
}

// ConfirmationMessage renders the user-facing acknowledgement for a
// finished tool execution without spending a model call. The item
// name comes from the result when the API echoed it, falling back to
// the submitted parameters.
func ConfirmationMessage(toolName string, params map[string]any, result *models.ToolResult) string {
	if result == nil || !result.Success {
		reason := "unknown error"
		if result != nil && result.Error != "" {
			reason = result.Error
		}
		switch toolName {
		case "create_item":
			return fmt.Sprintf("Could not create the item: %s", reason)
		case "update_item":
			return fmt.Sprintf("Could not update the item: %s", reason)
		case "delete_item":
			return fmt.Sprintf("Could not delete the item: %s", reason)
		default:
			return fmt.Sprintf("%s failed: %s", toolName, reason)
		}
	}

	name := itemName(params, result)
	switch toolName {
	case "create_item":
		if name != "" {
			return fmt.Sprintf("Created %q.", name)
		}
		return "Item created."
	case "update_item":
		if name != "" {
			return fmt.Sprintf("Updated %q.", name)
		}
		return "Item updated."
	case "delete_item":
		if name != "" {
			return fmt.Sprintf("Deleted %q.", name)
		}
		return "Item deleted."
	default:
		return fmt.Sprintf("%s completed.", toolName)
	}
}

// RejectionMessage acknowledges a declined approval.
func RejectionMessage(toolName string) string {
	switch toolName {
	case "create_item":
		return "Okay, the item will not be created."
	case "update_item":
		return "Okay, the item will not be changed."
	case "delete_item":
		return "Okay, the item will not be deleted."
	default:
		return fmt.Sprintf("Okay, %s will not run.", toolName)
	}
}

func itemName(params map[string]any, result *models.ToolResult) string {
	if result != nil {
		if data, ok := result.Data.(map[string]any); ok {
			if name, ok := data["name"].(string); ok && name != "" {
				return name
			}
		}
	}
	if name, ok := params["name"].(string); ok && name != "" {
		return name
	}
	return ""
}

// toolResultContent serializes a tool result for storage in a tool
// message. Falls back to the summary when the payload does not
// serialize.
func toolResultContent(result *models.ToolResult) string {
	if result == nil {
		return ""
	}
	if !result.Success {
		return "error: " + result.Error
	}
	raw, err := json.Marshal(result.Data)
	if err != nil {
		return result.Summarize(512)
	}
	return string(raw)
}
