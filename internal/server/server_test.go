package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/boxbot-dev/boxbot/internal/agent"
	"github.com/boxbot-dev/boxbot/internal/chat"
	"github.com/boxbot-dev/boxbot/internal/config"
	"github.com/boxbot-dev/boxbot/internal/inventory"
	"github.com/boxbot-dev/boxbot/internal/llm"
	"github.com/boxbot-dev/boxbot/internal/tools"
	"github.com/boxbot-dev/boxbot/pkg/models"
)

type scriptedProvider struct {
	scripts  [][]*llm.Chunk
	requests []llm.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Models() []llm.ModelInfo {
	return []llm.ModelInfo{{ID: "test-model", SupportsTools: true}}
}

func (p *scriptedProvider) Complete(ctx context.Context, req llm.Request) (<-chan *llm.Chunk, error) {
	idx := len(p.requests)
	p.requests = append(p.requests, req)
	if idx >= len(p.scripts) {
		idx = len(p.scripts) - 1
	}
	script := p.scripts[idx]

	chunks := make(chan *llm.Chunk)
	go func() {
		defer close(chunks)
		for _, chunk := range script {
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return chunks, nil
}

type serverHarness struct {
	url   string
	store *chat.Store
}

func newServerHarness(t *testing.T, scripts [][]*llm.Chunk, invHandler http.Handler, auth config.AuthConfig) *serverHarness {
	t.Helper()
	if invHandler == nil {
		invHandler = http.NotFoundHandler()
	}
	invSrv := httptest.NewServer(invHandler)
	t.Cleanup(invSrv.Close)

	inv, err := inventory.NewClient(inventory.Config{BaseURL: invSrv.URL})
	if err != nil {
		t.Fatalf("inventory.NewClient: %v", err)
	}

	provider := &scriptedProvider{scripts: scripts}
	client := llm.NewClient(provider, llm.NewCapabilityStore(0))

	catalog := tools.NewCatalog()
	tools.RegisterBuiltins(catalog)
	store := chat.NewStore()

	orch := agent.NewOrchestrator(client, catalog, inv, store, agent.OrchestratorConfig{Model: "test-model"})
	approvals := agent.NewApprovalService(catalog, inv, store, nil, nil)

	srv := New(config.ServerConfig{ShutdownTimeout: time.Second}, auth, orch, approvals, nil, nil, nil)
	httpSrv := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(httpSrv.Close)

	return &serverHarness{url: httpSrv.URL, store: store}
}

func (h *serverHarness) request(t *testing.T, method, path, bearer string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var payload *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		payload = bytes.NewBuffer(raw)
	} else {
		payload = &bytes.Buffer{}
	}

	req, err := http.NewRequest(method, h.url+path, payload)
	if err != nil {
		t.Fatal(err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeEvents(t *testing.T, resp *http.Response) []models.StreamEvent {
	t.Helper()
	var events []models.StreamEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event models.StreamEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			t.Fatalf("line %q is not valid JSON: %v", line, err)
		}
		events = append(events, event)
	}
	return events
}

func textOnlyScript() [][]*llm.Chunk {
	return [][]*llm.Chunk{{
		{Text: "All good."},
		{Done: true, PromptTokens: 5, CompletionTokens: 2},
	}}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"plain", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"missing header", "", ""},
		{"wrong scheme", "Basic abc123", ""},
		{"no token", "Bearer", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := bearerToken(r); got != tt.want {
				t.Errorf("bearerToken = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	h := newServerHarness(t, textOnlyScript(), nil, config.AuthConfig{})
	resp := h.request(t, http.MethodGet, "/healthz", "", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestChatRequiresBearer(t *testing.T) {
	h := newServerHarness(t, textOnlyScript(), nil, config.AuthConfig{})
	resp := h.request(t, http.MethodPost, "/api/v1/chat", "", map[string]string{"message": "hi"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	h := newServerHarness(t, textOnlyScript(), nil, config.AuthConfig{})
	resp := h.request(t, http.MethodPost, "/api/v1/chat", "tok", map[string]string{}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatStreamsNDJSON(t *testing.T) {
	h := newServerHarness(t, textOnlyScript(), nil, config.AuthConfig{})
	resp := h.request(t, http.MethodPost, "/api/v1/chat", "tok", map[string]string{"message": "hi"}, nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}

	events := decodeEvents(t, resp)
	if len(events) < 3 {
		t.Fatalf("events = %d, want at least text, usage, done", len(events))
	}
	if events[0].Type != models.EventText || events[0].Text.Content != "All good." {
		t.Errorf("first event = %+v", events[0])
	}
	if events[len(events)-1].Type != models.EventDone {
		t.Errorf("last event = %v", events[len(events)-1].Type)
	}
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	var created map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/items", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&created)
		created["id"] = "item-1"
		json.NewEncoder(w).Encode(created)
	})

	h := newServerHarness(t, [][]*llm.Chunk{{
		{ToolCall: &models.ToolCall{ID: "c1", Name: "create_item", Arguments: map[string]any{"name": "Hammer"}}},
		{Done: true},
	}}, mux, config.AuthConfig{})

	// The turn parks on approval.
	resp := h.request(t, http.MethodPost, "/api/v1/chat", "tok", map[string]string{"message": "add a hammer"}, nil)
	events := decodeEvents(t, resp)

	var approvalID string
	for _, e := range events {
		if e.Type == models.EventApprovalRequired {
			approvalID = e.Approval.ID
		}
	}
	if approvalID == "" {
		t.Fatalf("no approval_required in %+v", events)
	}

	// It shows up in the pending list.
	resp = h.request(t, http.MethodGet, "/api/v1/approvals", "tok", nil, nil)
	var listed struct {
		Approvals []*models.PendingApproval `json:"approvals"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		t.Fatalf("decode approvals: %v", err)
	}
	if len(listed.Approvals) != 1 || listed.Approvals[0].ID != approvalID {
		t.Fatalf("approvals = %+v", listed.Approvals)
	}

	// Approving with an override executes the tool.
	resp = h.request(t, http.MethodPost, "/api/v1/approvals/"+approvalID+"/approve", "tok",
		map[string]any{"overrides": map[string]any{"name": "Claw Hammer"}}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d", resp.StatusCode)
	}
	var approved struct {
		Success bool           `json:"success"`
		Tool    string         `json:"tool"`
		Data    map[string]any `json:"data"`
		Error   string         `json:"error"`
		Message string         `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&approved); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !approved.Success || approved.Error != "" {
		t.Fatalf("approve response = %+v", approved)
	}
	if approved.Tool != "create_item" {
		t.Errorf("tool = %q, want create_item", approved.Tool)
	}
	if !strings.Contains(approved.Message, "Claw Hammer") {
		t.Errorf("message = %q, want the item name", approved.Message)
	}
	if created["name"] != "Claw Hammer" {
		t.Errorf("inventory received name = %v, want override", created["name"])
	}

	// Consumed: the list is empty and a second approve is a 404.
	resp = h.request(t, http.MethodGet, "/api/v1/approvals", "tok", nil, nil)
	listed.Approvals = nil
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		t.Fatalf("decode approvals: %v", err)
	}
	if len(listed.Approvals) != 0 {
		t.Errorf("approvals after approve = %+v", listed.Approvals)
	}
	resp = h.request(t, http.MethodPost, "/api/v1/approvals/"+approvalID+"/approve", "tok", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second approve status = %d, want 404", resp.StatusCode)
	}
}

func TestRejectOverHTTP(t *testing.T) {
	h := newServerHarness(t, [][]*llm.Chunk{{
		{ToolCall: &models.ToolCall{ID: "c1", Name: "delete_item", Arguments: map[string]any{"id": "item-1"}}},
		{Done: true},
	}}, nil, config.AuthConfig{})

	resp := h.request(t, http.MethodPost, "/api/v1/chat", "tok", map[string]string{"message": "delete it"}, nil)
	events := decodeEvents(t, resp)

	var approvalID string
	for _, e := range events {
		if e.Type == models.EventApprovalRequired {
			approvalID = e.Approval.ID
		}
	}
	if approvalID == "" {
		t.Fatal("no approval_required event")
	}

	resp = h.request(t, http.MethodPost, "/api/v1/approvals/"+approvalID+"/reject", "tok",
		map[string]string{"reason": "wrong item"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reject status = %d", resp.StatusCode)
	}
	var rejected struct {
		Rejected bool   `json:"rejected"`
		Message  string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rejected); err != nil {
		t.Fatalf("decode reject response: %v", err)
	}
	if !rejected.Rejected || rejected.Message != "Okay, the item will not be deleted." {
		t.Errorf("reject response = %+v", rejected)
	}

	resp = h.request(t, http.MethodPost, "/api/v1/approvals/"+approvalID+"/reject", "tok", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second reject status = %d, want 404", resp.StatusCode)
	}
}

func TestClearHistory(t *testing.T) {
	h := newServerHarness(t, textOnlyScript(), nil, config.AuthConfig{})

	resp := h.request(t, http.MethodPost, "/api/v1/chat", "tok", map[string]string{"message": "hi"}, nil)
	decodeEvents(t, resp)
	if h.store.Len() != 1 {
		t.Fatalf("sessions = %d, want 1", h.store.Len())
	}

	resp = h.request(t, http.MethodPost, "/api/v1/history/clear", "tok", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d", resp.StatusCode)
	}
	// The session survives with an empty transcript.
	if h.store.Len() != 1 {
		t.Errorf("sessions after clear = %d, want 1", h.store.Len())
	}
	if got := h.store.Get("tok").Len(); got != 0 {
		t.Errorf("messages after clear = %d, want 0", got)
	}
}

func TestJWTMode(t *testing.T) {
	const secret = "test-secret"
	h := newServerHarness(t, textOnlyScript(), nil, config.AuthConfig{JWTSecret: secret})

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}

	// Valid JWT plus inventory credential header.
	resp := h.request(t, http.MethodGet, "/api/v1/approvals", signed, nil,
		map[string]string{"X-Inventory-Token": "inv-tok"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	// Valid JWT but no inventory credential.
	resp = h.request(t, http.MethodGet, "/api/v1/approvals", signed, nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status without inventory token = %d, want 401", resp.StatusCode)
	}

	// Tampered signature.
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatal(err)
	}
	resp = h.request(t, http.MethodGet, "/api/v1/approvals", forged, nil,
		map[string]string{"X-Inventory-Token": "inv-tok"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status with forged JWT = %d, want 401", resp.StatusCode)
	}

	// An opaque non-JWT bearer is rejected in JWT mode.
	resp = h.request(t, http.MethodGet, "/api/v1/approvals", "plain-token", nil,
		map[string]string{"X-Inventory-Token": "inv-tok"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status with opaque bearer = %d, want 401", resp.StatusCode)
	}
}
