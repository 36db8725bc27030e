package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/boxbot-dev/boxbot/pkg/models"
)

// AnthropicProvider streams chat completions from the Anthropic
// Messages API. Safe for concurrent use; each Complete call owns an
// independent stream and goroutine.
//
// Provider failures are fatal to the turn that issued them. The SDK's
// built-in retries are disabled so a failed request never repeats
// behind the caller's back.
type AnthropicProvider struct {
	client anthropic.Client
	models []ModelInfo
}

type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Models  []ModelInfo
}

func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if len(cfg.Models) == 0 {
		cfg.Models = defaultAnthropicModels
	}

	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(options...),
		models: cfg.Models,
	}, nil
}

var defaultAnthropicModels = []ModelInfo{
	{ID: "claude-sonnet-4-20250514", ContextTokens: 200000, SupportsTools: true, SupportsVision: true, SupportsMultiImage: true, SupportsJSONMode: true},
	{ID: "claude-opus-4-20250514", ContextTokens: 200000, SupportsTools: true, SupportsVision: true, SupportsMultiImage: true, SupportsJSONMode: true},
	{ID: "claude-3-5-haiku-20241022", ContextTokens: 200000, SupportsTools: true, SupportsVision: true, SupportsMultiImage: true, SupportsJSONMode: true},
}

func (p *AnthropicProvider) Name() string        { return "anthropic" }
func (p *AnthropicProvider) Models() []ModelInfo { return p.models }

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (<-chan *Chunk, error) {
	chunks := make(chan *Chunk)

	go func() {
		defer close(chunks)

		stream, err := p.createStream(ctx, req)
		if err != nil {
			send(ctx, chunks, &Chunk{Error: p.wrapError(err, req.Model), Done: true})
			return
		}
		p.processStream(ctx, stream, chunks, req.Model)
	}()

	return chunks, nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, req Request) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := buildAnthropicMessages(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	system := req.System
	if req.JSONMode {
		// No native JSON response mode; instruct via system prompt.
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON object and nothing else.")
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}

	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// maxEmptyStreamEvents bounds consecutive no-op events before the
// stream is treated as malformed.
const maxEmptyStreamEvents = 300

func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *Chunk, model string) {
	var currentCall *models.ToolCall
	var currentInput strings.Builder
	emptyEvents := 0

	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}
			eventProcessed = true

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				currentCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentInput.Reset()
				eventProcessed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !send(ctx, chunks, &Chunk{Text: delta.Text}) {
						return
					}
					eventProcessed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentInput.WriteString(delta.PartialJSON)
					eventProcessed = true
				}
			}

		case "content_block_stop":
			if currentCall != nil {
				args := make(map[string]any)
				if raw := currentInput.String(); raw != "" {
					if err := json.Unmarshal([]byte(raw), &args); err != nil {
						send(ctx, chunks, &Chunk{Error: p.wrapError(
							fmt.Errorf("tool call %s has malformed arguments: %w", currentCall.Name, err), model), Done: true})
						return
					}
				}
				currentCall.Arguments = args
				if !send(ctx, chunks, &Chunk{ToolCall: currentCall}) {
					return
				}
				currentCall = nil
				eventProcessed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}
			eventProcessed = true

		case "message_stop":
			send(ctx, chunks, &Chunk{
				Done:             true,
				PromptTokens:     inputTokens,
				CompletionTokens: outputTokens,
			})
			return

		case "error":
			send(ctx, chunks, &Chunk{Error: p.wrapError(errors.New("anthropic stream error"), model), Done: true})
			return
		}

		if eventProcessed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				send(ctx, chunks, &Chunk{Error: p.wrapError(
					fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEvents), model), Done: true})
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		send(ctx, chunks, &Chunk{Error: p.wrapError(err, model), Done: true})
	}
}

func buildAnthropicMessages(req Request) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	lastUser := lastUserIndex(req.Messages)

	for i, msg := range req.Messages {
		if msg.Role == models.RoleSystem {
			// System content rides in params.System.
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		switch msg.Role {
		case models.RoleTool:
			isError := strings.HasPrefix(msg.Content, "error:")
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, isError))

		case models.RoleAssistant:
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				input := call.Arguments
				if input == nil {
					input = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}

		default:
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			if i == lastUser {
				for _, img := range req.Images {
					block, err := anthropicImageBlock(img)
					if err != nil {
						return nil, err
					}
					content = append(content, block)
				}
			}
		}

		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func anthropicImageBlock(img ImageInput) (anthropic.ContentBlockParamUnion, error) {
	if img.URL != "" {
		return anthropic.ContentBlockParamUnion{
			OfImage: &anthropic.ImageBlockParam{
				Source: anthropic.ImageBlockParamSourceUnion{
					OfURL: &anthropic.URLImageSourceParam{URL: img.URL},
				},
			},
		}, nil
	}
	mediaType, ok := anthropicMediaType(img.MediaType)
	if !ok {
		return anthropic.ContentBlockParamUnion{}, fmt.Errorf("anthropic: unsupported image media type %q", img.MediaType)
	}
	return anthropic.ContentBlockParamUnion{
		OfImage: &anthropic.ImageBlockParam{
			Source: anthropic.ImageBlockParamSourceUnion{
				OfBase64: &anthropic.Base64ImageSourceParam{
					Data:      img.Base64,
					MediaType: mediaType,
				},
			},
		},
	}, nil
}

func anthropicMediaType(mediaType string) (anthropic.Base64ImageSourceMediaType, bool) {
	switch strings.ToLower(mediaType) {
	case "image/jpeg", "image/jpg":
		return anthropic.Base64ImageSourceMediaTypeImageJPEG, true
	case "image/png":
		return anthropic.Base64ImageSourceMediaTypeImagePNG, true
	case "image/gif":
		return anthropic.Base64ImageSourceMediaTypeImageGIF, true
	case "image/webp":
		return anthropic.Base64ImageSourceMediaTypeImageWebP, true
	default:
		return "", false
	}
}

func convertAnthropicTools(tools []ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		wrapped := NewProviderError(p.Name(), model, err).WithStatus(apiErr.StatusCode)
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil && payload.Error.Message != "" {
				wrapped.Message = payload.Error.Message
			}
		}
		return wrapped
	}

	return NewProviderError(p.Name(), model, err)
}
