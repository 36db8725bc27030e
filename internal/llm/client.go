package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/boxbot-dev/boxbot/internal/observability"
	"github.com/boxbot-dev/boxbot/pkg/models"
)

// maxRepairAttempts bounds how many times a malformed structured
// response is sent back for correction. Exactly one round trip: the
// second failure is terminal.
const maxRepairAttempts = 1

// Client wraps a Provider with capability gating, stream collection,
// structured-output repair, and observability.
type Client struct {
	provider Provider
	caps     *CapabilityStore

	// skipCapabilityChecks bypasses the pre-dispatch capability gate.
	// Requests against models that do not support the feature will
	// fail at the provider instead.
	skipCapabilityChecks bool

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

type ClientOption func(*Client)

func WithLogger(logger *observability.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

func WithMetrics(metrics *observability.Metrics) ClientOption {
	return func(c *Client) { c.metrics = metrics }
}

func WithTracer(tracer *observability.Tracer) ClientOption {
	return func(c *Client) { c.tracer = tracer }
}

// WithoutCapabilityChecks disables the capability gate. Intended for
// self-hosted gateways whose model catalogs are incomplete.
func WithoutCapabilityChecks() ClientOption {
	return func(c *Client) { c.skipCapabilityChecks = true }
}

func NewClient(provider Provider, caps *CapabilityStore, opts ...ClientOption) *Client {
	c := &Client{
		provider: provider,
		caps:     caps,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Provider() Provider { return c.provider }

// CompleteStream validates the request against the model's negotiated
// capabilities and opens a provider stream.
func (c *Client) CompleteStream(ctx context.Context, req Request) (<-chan *Chunk, error) {
	if err := c.checkCapabilities(req); err != nil {
		return nil, err
	}
	return c.provider.Complete(ctx, req)
}

// Complete runs a request to completion and collects the stream into
// a single response.
func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	start := time.Now()
	if c.tracer != nil {
		spanCtx, span := c.tracer.TraceLLMRequest(ctx, c.provider.Name(), req.Model)
		ctx = spanCtx
		defer span.End()
	}

	chunks, err := c.CompleteStream(ctx, req)
	if err != nil {
		c.metrics.ObserveLLMRequest(c.provider.Name(), req.Model, "error", time.Since(start))
		return nil, err
	}

	completion, err := Collect(ctx, chunks)
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.ObserveLLMRequest(c.provider.Name(), req.Model, status, time.Since(start))
	if completion != nil {
		c.metrics.ObserveTokens(c.provider.Name(), req.Model,
			completion.Usage.PromptTokens, completion.Usage.CompletionTokens)
	}
	if err != nil {
		if c.logger != nil {
			c.logger.Error(ctx, "llm request failed",
				"provider", c.provider.Name(), "model", req.Model, "error", err)
		}
		return nil, err
	}
	return completion, nil
}

// CompleteJSON requests a JSON object response and validates that all
// requiredKeys are present at the top level. A failed parse or a
// missing key triggers one repair round; a second failure returns
// MalformedJSONError.
func (c *Client) CompleteJSON(ctx context.Context, req Request, requiredKeys []string) (map[string]any, error) {
	req.JSONMode = true
	req.Tools = nil

	var lastRaw string
	var lastErr *MalformedJSONError

	for attempt := 0; attempt <= maxRepairAttempts; attempt++ {
		if attempt > 0 {
			req.Messages = appendRepairTurn(req.Messages, lastRaw, lastErr, requiredKeys)
			if c.logger != nil {
				c.logger.Warn(ctx, "repairing malformed json response",
					"model", req.Model, "attempt", attempt, "error", lastErr)
			}
		}

		completion, err := c.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		lastRaw = completion.Content

		obj, jsonErr := parseJSONObject(completion.Content, requiredKeys)
		if jsonErr == nil {
			return obj, nil
		}
		lastErr = jsonErr
	}

	return nil, lastErr
}

func parseJSONObject(raw string, requiredKeys []string) (map[string]any, *MalformedJSONError) {
	cleaned := stripCodeFence(raw)

	var obj map[string]any
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
		return nil, &MalformedJSONError{ParseErr: err, Raw: raw}
	}

	var missing []string
	for _, key := range requiredKeys {
		if _, ok := obj[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, &MalformedJSONError{MissingKeys: missing, Raw: raw}
	}
	return obj, nil
}

// stripCodeFence unwraps ```json ... ``` blocks some models emit even
// in JSON mode.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// appendRepairTurn replays the malformed response and asks for a
// corrected one, naming the parse error and the expected keys.
func appendRepairTurn(messages []models.ChatMessage, raw string, parseErr *MalformedJSONError, requiredKeys []string) []models.ChatMessage {
	var instruction string
	switch {
	case parseErr != nil && parseErr.ParseErr != nil:
		instruction = fmt.Sprintf("The previous response was not a valid JSON object: %v.", parseErr.ParseErr)
	case parseErr != nil && len(parseErr.MissingKeys) > 0:
		instruction = fmt.Sprintf("The previous response was missing required keys: %s.",
			strings.Join(parseErr.MissingKeys, ", "))
	default:
		instruction = "The previous response was not a valid JSON object."
	}
	if len(requiredKeys) > 0 {
		instruction += fmt.Sprintf(" Respond again with a single valid JSON object containing the keys %s and nothing else.",
			strings.Join(requiredKeys, ", "))
	} else {
		instruction += " Respond again with a single valid JSON object and nothing else."
	}

	out := make([]models.ChatMessage, 0, len(messages)+2)
	out = append(out, messages...)
	out = append(out,
		models.ChatMessage{Role: models.RoleAssistant, Content: raw, Timestamp: time.Now()},
		models.ChatMessage{Role: models.RoleUser, Content: instruction, Timestamp: time.Now()},
	)
	return out
}

func (c *Client) checkCapabilities(req Request) error {
	if c.skipCapabilityChecks || c.caps == nil {
		return nil
	}
	caps := c.caps.Resolve(c.provider, req.Model)

	if len(req.Images) > 0 && !caps.Vision {
		return &CapabilityError{Model: req.Model, Capability: "vision"}
	}
	if len(req.Images) > 1 && !caps.MultiImage {
		return &CapabilityError{Model: req.Model, Capability: "multiple images"}
	}
	if req.JSONMode && !caps.JSONMode {
		return &CapabilityError{Model: req.Model, Capability: "JSON responses"}
	}
	if len(req.Tools) > 0 && !caps.Tools {
		return &CapabilityError{Model: req.Model, Capability: "tool calling"}
	}
	return nil
}

// Collect drains a chunk stream into a single completion.
func Collect(ctx context.Context, chunks <-chan *Chunk) (*Completion, error) {
	var content strings.Builder
	completion := &Completion{}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				completion.Content = content.String()
				return completion, nil
			}
			if chunk.Error != nil {
				return nil, chunk.Error
			}
			if chunk.Text != "" {
				content.WriteString(chunk.Text)
			}
			if chunk.ToolCall != nil {
				completion.ToolCalls = append(completion.ToolCalls, *chunk.ToolCall)
			}
			if chunk.Done {
				completion.Usage = models.Usage{
					PromptTokens:     chunk.PromptTokens,
					CompletionTokens: chunk.CompletionTokens,
					TotalTokens:      chunk.PromptTokens + chunk.CompletionTokens,
				}
			}
		}
	}
}
