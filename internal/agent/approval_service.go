package agent

import (
	"context"
	"fmt"

	"github.com/boxbot-dev/boxbot/internal/chat"
	"github.com/boxbot-dev/boxbot/internal/inventory"
	"github.com/boxbot-dev/boxbot/internal/observability"
	"github.com/boxbot-dev/boxbot/internal/tools"
	"github.com/boxbot-dev/boxbot/pkg/models"
)

// ApprovalService resolves pending approvals: executing the gated
// tool call with optional parameter overrides, or rejecting it.
type ApprovalService struct {
	catalog *tools.Catalog
	inv     *inventory.Client
	store   *chat.Store

	logger  *observability.Logger
	metrics *observability.Metrics
}

func NewApprovalService(catalog *tools.Catalog, inv *inventory.Client, store *chat.Store, logger *observability.Logger, metrics *observability.Metrics) *ApprovalService {
	return &ApprovalService{
		catalog: catalog,
		inv:     inv,
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// Execute runs an approved tool call. Overrides are merged shallowly
// over the parameters the model proposed, so the user can correct a
// field without re-typing the rest. The placeholder tool message is
// replaced with the result and the approval is removed whether the
// tool succeeds or fails. Returns the result together with the
// now-removed approval record.
func (s *ApprovalService) Execute(ctx context.Context, token, approvalID string, overrides map[string]any) (*models.ToolResult, *models.PendingApproval, error) {
	session := s.store.Get(token)
	ctx = observability.AddSessionID(ctx, session.ID())

	approval, ok := session.PendingApproval(approvalID)
	if !ok {
		return nil, nil, ErrApprovalNotFound
	}

	desc := s.catalog.Get(approval.ToolName)
	if desc == nil {
		session.RemoveApproval(approvalID)
		return nil, nil, fmt.Errorf("agent: approved tool %q is no longer registered", approval.ToolName)
	}

	params := mergeParams(approval.Parameters, overrides)
	callToken, callParams := s.catalog.ResolveCredential(params, token)

	var result *models.ToolResult
	if err := s.catalog.ValidateParams(desc.Name, callParams); err != nil {
		result = &models.ToolResult{Success: false, Error: err.Error()}
	} else {
		var handlerErr error
		result, handlerErr = desc.Handler(ctx, s.inv, callToken, callParams)
		if handlerErr != nil {
			result = &models.ToolResult{Success: false, Error: handlerErr.Error()}
		}
	}

	if err := session.UpdateToolMessage(approval.ToolCallID, toolResultContent(result)); err != nil && s.logger != nil {
		s.logger.Warn(ctx, "approval placeholder missing", "approval_id", approvalID, "error", err)
	}
	session.RemoveApproval(approvalID)

	s.metrics.ObserveApproval("approved")
	if s.logger != nil {
		s.logger.Info(ctx, "approval executed",
			"approval_id", approvalID, "tool", approval.ToolName, "success", result.Success)
	}
	return result, approval, nil
}

// Reject discards a pending approval and records the refusal in the
// placeholder tool message so the model knows the call never ran.
// Returns the removed approval record.
func (s *ApprovalService) Reject(ctx context.Context, token, approvalID, reason string) (*models.PendingApproval, error) {
	session := s.store.Get(token)
	ctx = observability.AddSessionID(ctx, session.ID())

	approval, ok := session.PendingApproval(approvalID)
	if !ok {
		return nil, ErrApprovalNotFound
	}

	content := "The user declined this action."
	if reason != "" {
		content = fmt.Sprintf("The user declined this action: %s", reason)
	}
	if err := session.UpdateToolMessage(approval.ToolCallID, content); err != nil && s.logger != nil {
		s.logger.Warn(ctx, "approval placeholder missing", "approval_id", approvalID, "error", err)
	}
	session.RemoveApproval(approvalID)

	s.metrics.ObserveApproval("rejected")
	if s.logger != nil {
		s.logger.Info(ctx, "approval rejected", "approval_id", approvalID, "tool", approval.ToolName)
	}
	return approval, nil
}

// List returns the session's live approvals.
func (s *ApprovalService) List(token string) []*models.PendingApproval {
	return s.store.Get(token).ListPendingApprovals()
}

func mergeParams(base, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
