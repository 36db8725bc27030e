package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/boxbot-dev/boxbot/pkg/models"
)

// OpenAIProvider streams chat completions from the OpenAI API.
type OpenAIProvider struct {
	client *openai.Client
	models []ModelInfo
}

// NewOpenAIProvider builds a provider against api.openai.com, or any
// compatible endpoint when baseURL is non-empty.
func NewOpenAIProvider(apiKey, baseURL string, catalog []ModelInfo) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if len(catalog) == 0 {
		catalog = defaultOpenAIModels
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		models: catalog,
	}, nil
}

var defaultOpenAIModels = []ModelInfo{
	{ID: "gpt-4o", ContextTokens: 128000, SupportsTools: true, SupportsVision: true, SupportsMultiImage: true, SupportsJSONMode: true},
	{ID: "gpt-4o-mini", ContextTokens: 128000, SupportsTools: true, SupportsVision: true, SupportsMultiImage: true, SupportsJSONMode: true},
	{ID: "gpt-4-turbo", ContextTokens: 128000, SupportsTools: true, SupportsVision: true, SupportsMultiImage: true, SupportsJSONMode: true},
}

func (p *OpenAIProvider) Name() string        { return "openai" }
func (p *OpenAIProvider) Models() []ModelInfo { return p.models }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (<-chan *Chunk, error) {
	oaReq := openai.ChatCompletionRequest{
		Model:         req.Model,
		Messages:      buildOpenAIMessages(req),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.MaxTokens > 0 {
		oaReq.MaxTokens = req.MaxTokens
	}
	if req.JSONMode {
		oaReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	for _, tool := range req.Tools {
		oaReq.Tools = append(oaReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, oaReq)
	if err != nil {
		return nil, NewProviderError(p.Name(), req.Model, err)
	}

	chunks := make(chan *Chunk)
	go func() {
		defer close(chunks)
		defer stream.Close()
		p.pump(ctx, req.Model, stream, chunks)
	}()
	return chunks, nil
}

// pump drains the SSE stream, forwarding text deltas as they arrive
// and accumulating tool-call argument deltas by index until the
// stream finishes.
func (p *OpenAIProvider) pump(ctx context.Context, model string, stream *openai.ChatCompletionStream, chunks chan<- *Chunk) {
	type partialCall struct {
		id   string
		name string
		args string
	}
	calls := make(map[int]*partialCall)
	var order []int
	final := &Chunk{Done: true}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			send(ctx, chunks, &Chunk{Error: NewProviderError(p.Name(), model, err), Done: true})
			return
		}
		if resp.Usage != nil {
			final.PromptTokens = resp.Usage.PromptTokens
			final.CompletionTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			if !send(ctx, chunks, &Chunk{Text: delta.Content}) {
				return
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := calls[idx]
			if !ok {
				call = &partialCall{}
				calls[idx] = call
				order = append(order, idx)
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			call.args += tc.Function.Arguments
		}
	}

	for _, idx := range order {
		call := calls[idx]
		if call.name == "" {
			continue
		}
		args := make(map[string]any)
		if call.args != "" {
			if err := json.Unmarshal([]byte(call.args), &args); err != nil {
				send(ctx, chunks, &Chunk{Error: NewProviderError(p.Name(), model,
					fmt.Errorf("tool call %s has malformed arguments: %w", call.name, err)), Done: true})
				return
			}
		}
		if !send(ctx, chunks, &Chunk{ToolCall: &models.ToolCall{
			ID:        call.id,
			Name:      call.name,
			Arguments: args,
		}}) {
			return
		}
	}
	send(ctx, chunks, final)
}

func buildOpenAIMessages(req Request) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for i, msg := range req.Messages {
		switch msg.Role {
		case models.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case models.RoleAssistant:
			oaMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, call := range msg.ToolCalls {
				args, _ := json.Marshal(call.Arguments)
				oaMsg.ToolCalls = append(oaMsg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, oaMsg)
		case models.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})
		default:
			oaMsg := openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleUser,
			}
			// Images attach to the final user message only.
			if len(req.Images) > 0 && i == lastUserIndex(req.Messages) {
				parts := []openai.ChatMessagePart{{
					Type: openai.ChatMessagePartTypeText,
					Text: msg.Content,
				}}
				for _, img := range req.Images {
					url := img.URL
					if url == "" {
						url = fmt.Sprintf("data:%s;base64,%s", img.MediaType, img.Base64)
					}
					parts = append(parts, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: url},
					})
				}
				oaMsg.MultiContent = parts
			} else {
				oaMsg.Content = msg.Content
			}
			out = append(out, oaMsg)
		}
	}
	return out
}

func lastUserIndex(msgs []models.ChatMessage) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			return i
		}
	}
	return -1
}

// send delivers a chunk unless ctx is done first.
func send(ctx context.Context, chunks chan<- *Chunk, c *Chunk) bool {
	select {
	case chunks <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
