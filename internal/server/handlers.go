package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/boxbot-dev/boxbot/internal/agent"
	"github.com/boxbot-dev/boxbot/pkg/models"
)

type chatRequest struct {
	Message string `json:"message"`
}

type approveRequest struct {
	Overrides map[string]any `json:"overrides,omitempty"`
}

type rejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

type approveResponse struct {
	Success bool   `json:"success"`
	Tool    string `json:"tool"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// handleChat runs one user turn and streams events back as one JSON
// object per line.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, token string) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "body must be a JSON object with a non-empty \"message\"")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	encoder := json.NewEncoder(w)
	emit := func(event models.StreamEvent) error {
		if err := encoder.Encode(event); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := s.orch.HandleMessage(r.Context(), token, req.Message, emit); err != nil {
		// Headers are gone; the client sees the stream end early.
		if s.logger != nil {
			s.logger.Warn(r.Context(), "chat stream aborted", "error", err)
		}
	}
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request, token string) {
	approvals := s.approvals.List(token)
	if approvals == nil {
		approvals = []*models.PendingApproval{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": approvals})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, token string) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "approval id is required")
		return
	}

	var req approveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	result, approval, err := s.approvals.Execute(r.Context(), token, id, req.Overrides)
	if err != nil {
		if errors.Is(err, agent.ErrApprovalNotFound) {
			writeError(w, http.StatusNotFound, "approval not found or expired")
			return
		}
		s.metrics.RecordError("server", "approval_execute")
		writeError(w, http.StatusInternalServerError, "approval execution failed")
		return
	}
	writeJSON(w, http.StatusOK, approveResponse{
		Success: result.Success,
		Tool:    approval.ToolName,
		Data:    result.Data,
		Error:   result.Error,
		Message: agent.ConfirmationMessage(approval.ToolName, approval.Parameters, result),
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request, token string) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "approval id is required")
		return
	}

	var req rejectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	approval, err := s.approvals.Reject(r.Context(), token, id, req.Reason)
	if err != nil {
		if errors.Is(err, agent.ErrApprovalNotFound) {
			writeError(w, http.StatusNotFound, "approval not found or expired")
			return
		}
		s.metrics.RecordError("server", "approval_reject")
		writeError(w, http.StatusInternalServerError, "approval rejection failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rejected": true,
		"message":  agent.RejectionMessage(approval.ToolName),
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request, token string) {
	// Wipe the transcript and approvals but keep the session alive.
	s.orch.Store().Get(token).Clear()
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
