// Package chat holds per-user conversation state: message history and
// approvals waiting on a user decision.
package chat

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/boxbot-dev/boxbot/pkg/models"
)

// recentWindow is the number of messages from the tail of the history
// that are always returned verbatim. Tool results older than this are
// compressed in the returned view to keep prompt sizes bounded.
const recentWindow = 6

// compressedToolLimit caps the content length of a compressed tool
// message.
const compressedToolLimit = 120

// Session is one user's conversation. Messages are append-only: the
// single exception is filling in the placeholder content of a tool
// message once its approval resolves.
//
// Safe for concurrent use.
type Session struct {
	mu sync.Mutex

	id        string
	messages  []models.ChatMessage
	approvals map[string]*models.PendingApproval

	createdAt  time.Time
	lastActive time.Time

	now func() time.Time
}

func NewSession(id string) *Session {
	return newSessionAt(id, time.Now)
}

func newSessionAt(id string, now func() time.Time) *Session {
	t := now()
	return &Session{
		id:         id,
		approvals:  make(map[string]*models.PendingApproval),
		createdAt:  t,
		lastActive: t,
		now:        now,
	}
}

func (s *Session) ID() string { return s.id }

// LastActive returns the time of the most recent access.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// AddMessage appends a message to the history.
func (s *Session) AddMessage(msg models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	s.messages = append(s.messages, msg)
	s.touch()
}

// UpdateToolMessage replaces the content of the most recent tool
// message carrying toolCallID. Used exactly once per approval to swap
// the pending placeholder for the real result.
func (s *Session) UpdateToolMessage(toolCallID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == models.RoleTool && s.messages[i].ToolCallID == toolCallID {
			s.messages[i].Content = content
			s.touch()
			return nil
		}
	}
	return fmt.Errorf("chat: no tool message for call %s", toolCallID)
}

// History returns a view of the most recent limit messages (all of
// them when limit <= 0). Tool messages older than the recent window
// are summarized in the returned copy; the stored history is never
// modified.
func (s *Session) History(limit int) []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	msgs := s.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.ChatMessage, len(msgs))
	copy(out, msgs)

	cutoff := len(out) - recentWindow
	for i := 0; i < cutoff; i++ {
		if out[i].Role == models.RoleTool {
			out[i].Content = compressToolContent(out[i].Content)
		}
	}
	return out
}

// Len returns the number of stored messages.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Clear drops all messages and pending approvals.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.approvals = make(map[string]*models.PendingApproval)
	s.touch()
}

// AddPendingApproval records an approval awaiting a user decision.
func (s *Session) AddPendingApproval(approval *models.PendingApproval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[approval.ID] = approval
	s.touch()
}

// PendingApproval looks up one approval by ID. Expired approvals are
// evicted on access and reported as absent.
func (s *Session) PendingApproval(id string) (*models.PendingApproval, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	approval, ok := s.approvals[id]
	if !ok {
		return nil, false
	}
	if approval.Expired(s.now()) {
		delete(s.approvals, id)
		return nil, false
	}
	s.touch()
	return approval, true
}

// ListPendingApprovals purges expired approvals, then returns the
// remainder ordered by creation time.
func (s *Session) ListPendingApprovals() []*models.PendingApproval {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	var out []*models.PendingApproval
	for id, approval := range s.approvals {
		if approval.Expired(now) {
			delete(s.approvals, id)
			continue
		}
		out = append(out, approval)
	}
	sortApprovals(out)
	s.touch()
	return out
}

// RemoveApproval deletes an approval regardless of expiry state.
func (s *Session) RemoveApproval(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.approvals, id)
	s.touch()
}

func (s *Session) touch() {
	s.lastActive = s.now()
}

// compressToolContent reduces an old tool result to a short summary:
// item count for arrays, the name for single objects, otherwise a
// truncated string. Non-JSON content (placeholders, error strings) is
// truncated as-is.
func compressToolContent(content string) string {
	var parsed any
	if err := json.Unmarshal([]byte(content), &parsed); err == nil && parsed != nil {
		return models.ToolResult{Success: true, Data: parsed}.Summarize(compressedToolLimit)
	}
	if len(content) <= compressedToolLimit {
		return content
	}
	return content[:compressedToolLimit] + "… [truncated]"
}

func sortApprovals(approvals []*models.PendingApproval) {
	sort.Slice(approvals, func(i, j int) bool {
		return approvals[i].CreatedAt.Before(approvals[j].CreatedAt)
	})
}
