package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"valid http", "http://localhost:7745", false},
		{"valid https", "https://inventory.example.com", false},
		{"empty", "", true},
		{"bad scheme", "ftp://example.com", true},
		{"not a url", "::::", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(Config{BaseURL: tt.baseURL})
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient(%q) error = %v, wantErr %v", tt.baseURL, err, tt.wantErr)
			}
		})
	}
}

func TestGetItemSendsBearerToken(t *testing.T) {
	var gotAuth, gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "abc", "name": "Drill"})
	})

	item, err := client.GetItem(context.Background(), "tok-123", "abc")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok-123")
	}
	if gotPath != "/api/v1/items/abc" {
		t.Errorf("path = %q, want /api/v1/items/abc", gotPath)
	}
	if item["name"] != "Drill" {
		t.Errorf("item name = %v, want Drill", item["name"])
	}
}

func TestStatusErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{
			name:   "401 is auth error",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				var authErr *AuthError
				if !errors.As(err, &authErr) {
					t.Errorf("error %T, want *AuthError", err)
				}
			},
		},
		{
			name:   "403 is auth error",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				var authErr *AuthError
				if !errors.As(err, &authErr) {
					t.Errorf("error %T, want *AuthError", err)
				}
			},
		},
		{
			name:   "404 is not found",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				var nfErr *NotFoundError
				if !errors.As(err, &nfErr) {
					t.Errorf("error %T, want *NotFoundError", err)
				}
			},
		},
		{
			name:   "500 is api error",
			status: http.StatusInternalServerError,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) {
					t.Errorf("error %T, want *APIError", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			})
			_, err := client.GetItem(context.Background(), "tok", "missing")
			if err == nil {
				t.Fatal("expected error")
			}
			tt.check(t, err)
		})
	}
}

func TestListItemsAcceptsBothShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bare array", `[{"id":"1"},{"id":"2"}]`, 2},
		{"items wrapper", `{"items":[{"id":"1"}],"total":1}`, 1},
		{"empty array", `[]`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			})
			items, err := client.ListItems(context.Background(), "tok", 1, 10)
			if err != nil {
				t.Fatalf("ListItems: %v", err)
			}
			if len(items) != tt.want {
				t.Errorf("len(items) = %d, want %d", len(items), tt.want)
			}
		})
	}
}

func TestSearchItemsQueryParams(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		_, _ = w.Write([]byte(`[]`))
	})

	if _, err := client.SearchItems(context.Background(), "tok", "cordless drill", 5); err != nil {
		t.Fatalf("SearchItems: %v", err)
	}
	if gotQuery != "cordless drill" {
		t.Errorf("q = %q, want %q", gotQuery, "cordless drill")
	}
}

func TestTimeoutClassifiedAsTimeoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.ListItems(context.Background(), "tok", 1, 10)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Errorf("error %T (%v), want *TimeoutError", err, err)
	}
}

func TestDeleteItem(t *testing.T) {
	var gotMethod string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.DeleteItem(context.Background(), "tok", "abc"); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("method = %q, want DELETE", gotMethod)
	}
}
