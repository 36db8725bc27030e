package llm

import (
	"context"
	"encoding/json"

	"github.com/boxbot-dev/boxbot/pkg/models"
)

// ToolDefinition describes one callable tool in the provider-neutral
// function-calling shape. Parameters is a JSON Schema document.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ImageInput is a single image attachment for vision-capable models.
// Exactly one of URL or Base64 is set.
type ImageInput struct {
	URL       string
	Base64    string
	MediaType string
}

// Request is a provider-neutral chat completion request.
type Request struct {
	Model     string
	System    string
	Messages  []models.ChatMessage
	Tools     []ToolDefinition
	Images    []ImageInput
	MaxTokens int
	JSONMode  bool
}

// Chunk is one streamed fragment of a completion. Text chunks carry
// assistant prose; tool-call chunks carry one fully accumulated call.
// Exactly one final chunk has Done set, with usage totals if the
// provider reported them.
type Chunk struct {
	Text             string
	ToolCall         *models.ToolCall
	Done             bool
	Error            error
	PromptTokens     int
	CompletionTokens int
}

// Completion is a fully collected provider response.
type Completion struct {
	Content   string
	ToolCalls []models.ToolCall
	Usage     models.Usage
}

// ModelInfo declares a model and its capabilities as the provider
// knows them. Requests that exceed these fail before dispatch.
type ModelInfo struct {
	ID                 string
	ContextTokens      int
	SupportsTools      bool
	SupportsVision     bool
	SupportsMultiImage bool
	SupportsJSONMode   bool
}

// Provider is a streaming LLM backend. Complete returns a channel the
// provider closes after the Done (or Error) chunk; the caller owns
// cancellation via ctx.
type Provider interface {
	Name() string
	Models() []ModelInfo
	Complete(ctx context.Context, req Request) (<-chan *Chunk, error)
}
