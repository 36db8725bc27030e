package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/boxbot-dev/boxbot/internal/chat"
	"github.com/boxbot-dev/boxbot/internal/inventory"
	"github.com/boxbot-dev/boxbot/internal/llm"
	"github.com/boxbot-dev/boxbot/internal/observability"
	"github.com/boxbot-dev/boxbot/internal/tools"
	"github.com/boxbot-dev/boxbot/pkg/models"
)

const (
	// defaultMaxRounds bounds how many model turns one user message
	// may trigger. The loop always terminates: each round either ends
	// the turn, executes read tools, or parks on approval.
	defaultMaxRounds = 8

	// defaultMaxHistory caps how many stored messages are replayed to
	// the model per round.
	defaultMaxHistory = 50

	defaultApprovalTTL = 5 * time.Minute
	defaultMaxTokens   = 4096
)

const defaultSystemPrompt = `You are an inventory assistant. You help the user find, organize, and update their belongings using the available tools. Be concise. Never invent item IDs; look them up first.`

// EmitFunc delivers one stream event to the client. Returning an
// error aborts the turn.
type EmitFunc func(models.StreamEvent) error

// Orchestrator drives the multi-round tool-calling loop for a user
// turn.
type Orchestrator struct {
	llm     *llm.Client
	catalog *tools.Catalog
	inv     *inventory.Client
	store   *chat.Store

	model        string
	systemPrompt string
	maxTokens    int
	maxRounds    int
	maxHistory   int
	approvalTTL  time.Duration

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	newID func() string
	now   func() time.Time
}

type OrchestratorConfig struct {
	Model        string
	SystemPrompt string
	MaxTokens    int
	MaxRounds    int
	MaxHistory   int
	ApprovalTTL  time.Duration
}

type OrchestratorOption func(*Orchestrator)

func WithOrchestratorLogger(logger *observability.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithOrchestratorMetrics(metrics *observability.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = metrics }
}

func WithOrchestratorTracer(tracer *observability.Tracer) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = tracer }
}

func NewOrchestrator(llmClient *llm.Client, catalog *tools.Catalog, inv *inventory.Client, store *chat.Store, cfg OrchestratorConfig, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		llm:          llmClient,
		catalog:      catalog,
		inv:          inv,
		store:        store,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxTokens,
		maxRounds:    cfg.MaxRounds,
		maxHistory:   cfg.MaxHistory,
		approvalTTL:  cfg.ApprovalTTL,
		newID:        uuid.NewString,
		now:          time.Now,
	}
	if o.systemPrompt == "" {
		o.systemPrompt = defaultSystemPrompt
	}
	if o.maxTokens <= 0 {
		o.maxTokens = defaultMaxTokens
	}
	if o.maxRounds <= 0 {
		o.maxRounds = defaultMaxRounds
	}
	if o.maxHistory <= 0 {
		o.maxHistory = defaultMaxHistory
	}
	if o.approvalTTL <= 0 {
		o.approvalTTL = defaultApprovalTTL
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Store exposes the session store for the HTTP layer.
func (o *Orchestrator) Store() *chat.Store { return o.store }

// HandleMessage runs one user turn. Events are emitted in order:
// streamed text, tool_start/tool_result pairs for read tools,
// approval_required for gated tools, usage after each model round,
// and a final done (or error then done).
func (o *Orchestrator) HandleMessage(ctx context.Context, token, text string, emit EmitFunc) error {
	session := o.store.Get(token)
	ctx = observability.AddSessionID(ctx, session.ID())

	session.AddMessage(models.ChatMessage{
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: o.now(),
	})

	for round := 0; round < o.maxRounds; round++ {
		completion, err := o.completeRound(ctx, session, emit)
		if err != nil {
			o.metrics.RecordError("agent", "llm_request")
			if o.logger != nil {
				o.logger.Error(ctx, "model round failed", "round", round, "error", err)
			}
			if emitErr := emit(ErrorEvent(userFacingError(err))); emitErr != nil {
				return emitErr
			}
			return emit(DoneEvent())
		}

		session.AddMessage(models.ChatMessage{
			Role:      models.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
			Timestamp: o.now(),
		})

		if completion.Usage.TotalTokens > 0 {
			if err := emit(UsageEvent(completion.Usage)); err != nil {
				return err
			}
		}

		if len(completion.ToolCalls) == 0 {
			return emit(DoneEvent())
		}

		awaitingApproval, err := o.dispatchToolCalls(ctx, session, token, completion.ToolCalls, emit)
		if err != nil {
			return err
		}
		if awaitingApproval {
			// The turn parks here; it resumes when the user resolves
			// the approval.
			return emit(DoneEvent())
		}
	}

	o.metrics.RecordError("agent", "max_rounds")
	if o.logger != nil {
		o.logger.Warn(ctx, "tool round budget exhausted", "rounds", o.maxRounds, "error", ErrMaxRoundsExceeded)
	}
	if err := emit(ErrorEvent("I hit the limit for consecutive tool calls. Please rephrase or narrow your request.")); err != nil {
		return err
	}
	return emit(DoneEvent())
}

// completeRound sends the current history to the model and streams
// text back to the client while collecting tool calls and usage.
func (o *Orchestrator) completeRound(ctx context.Context, session *chat.Session, emit EmitFunc) (*llm.Completion, error) {
	req := llm.Request{
		Model:     o.model,
		System:    o.systemPrompt,
		Messages:  session.History(o.maxHistory),
		Tools:     o.catalog.Export(),
		MaxTokens: o.maxTokens,
	}

	chunks, err := o.llm.CompleteStream(ctx, req)
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	completion := &llm.Completion{}

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
				if err := emit(TextEvent(chunk.Text)); err != nil {
					return nil, err
				}
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

// dispatchToolCalls executes read tools immediately and parks gated
// tools behind approvals. Reports whether any call now awaits
// approval.
func (o *Orchestrator) dispatchToolCalls(ctx context.Context, session *chat.Session, token string, calls []models.ToolCall, emit EmitFunc) (bool, error) {
	awaiting := false

	for _, call := range calls {
		desc := o.catalog.Get(call.Name)
		if desc == nil {
			o.metrics.RecordError("agent", "unknown_tool")
			msg := fmt.Sprintf("unknown tool %q", call.Name)
			if err := emit(ErrorEvent(msg)); err != nil {
				return false, err
			}
			session.AddMessage(models.ChatMessage{
				Role:       models.RoleTool,
				Content:    "error: " + msg,
				ToolCallID: call.ID,
				Timestamp:  o.now(),
			})
			continue
		}

		if o.catalog.RequiresApproval(call.Name) {
			approval := &models.PendingApproval{
				ID:         o.newID(),
				ToolName:   call.Name,
				Parameters: call.Arguments,
				ToolCallID: call.ID,
				CreatedAt:  o.now(),
				ExpiresAt:  o.now().Add(o.approvalTTL),
			}
			session.AddPendingApproval(approval)
			session.AddMessage(models.ChatMessage{
				Role:       models.RoleTool,
				Content:    approvalPlaceholder,
				ToolCallID: call.ID,
				Timestamp:  o.now(),
			})
			if err := emit(ApprovalRequiredEvent(approval)); err != nil {
				return false, err
			}
			awaiting = true
			continue
		}

		result, err := o.executeTool(ctx, desc, token, call.Arguments, emit)
		if err != nil {
			return false, err
		}
		session.AddMessage(models.ChatMessage{
			Role:       models.RoleTool,
			Content:    toolResultContent(result),
			ToolCallID: call.ID,
			Timestamp:  o.now(),
		})
	}

	return awaiting, nil
}

// executeTool validates and runs one tool call, emitting the
// tool_start and tool_result events around it. Execution failures are
// returned as failed results, never as errors: the model sees them
// and can recover.
func (o *Orchestrator) executeTool(ctx context.Context, desc *tools.Descriptor, token string, params map[string]any, emit EmitFunc) (*models.ToolResult, error) {
	if params == nil {
		params = map[string]any{}
	}
	if err := emit(ToolStartEvent(desc.Name, params)); err != nil {
		return nil, err
	}

	result := o.runTool(ctx, desc, token, params)

	if err := emit(ToolResultEvent(desc.Name, result)); err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) runTool(ctx context.Context, desc *tools.Descriptor, token string, params map[string]any) *models.ToolResult {
	start := o.now()
	if o.tracer != nil {
		spanCtx, span := o.tracer.TraceToolExecution(ctx, desc.Name)
		ctx = spanCtx
		defer span.End()
	}

	callToken, callParams := o.catalog.ResolveCredential(params, token)

	if err := o.catalog.ValidateParams(desc.Name, callParams); err != nil {
		o.metrics.ObserveToolExecution(desc.Name, "error", time.Since(start))
		return &models.ToolResult{Success: false, Error: err.Error()}
	}

	result, err := desc.Handler(ctx, o.inv, callToken, callParams)
	if err != nil {
		o.metrics.ObserveToolExecution(desc.Name, "error", time.Since(start))
		if o.logger != nil {
			o.logger.Error(ctx, "tool execution failed", "tool", desc.Name, "error", err)
		}
		return &models.ToolResult{Success: false, Error: err.Error()}
	}

	status := "success"
	if !result.Success {
		status = "error"
	}
	o.metrics.ObserveToolExecution(desc.Name, status, time.Since(start))
	return result
}

// userFacingError maps internal failures to messages safe to show.
func userFacingError(err error) string {
	if llm.IsCapabilityError(err) {
		return err.Error()
	}
	var providerErr *llm.ProviderError
	if errors.As(err, &providerErr) {
		switch providerErr.Reason {
		case llm.ReasonAuth:
			return "The language model rejected our credentials. Check the provider API key."
		case llm.ReasonRateLimit:
			return "The language model is rate limiting requests. Try again shortly."
		case llm.ReasonTimeout:
			return "The language model took too long to respond. Try again."
		default:
			return "The language model request failed. Try again."
		}
	}
	return "Something went wrong handling that message."
}
