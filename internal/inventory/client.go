package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout          = 15 * time.Second
	defaultMaxResponseBytes = int64(4 << 20) // 4MB
)

// Config configures the inventory API client.
type Config struct {
	BaseURL          string
	Timeout          time.Duration
	MaxResponseBytes int64
	HTTPClient       *http.Client
}

// Client wraps the inventory service's REST API. The caller's
// credential is supplied per request, never stored; one Client is
// shared across every session.
type Client struct {
	baseURL  string
	client   *http.Client
	maxBytes int64
}

// Record is a single inventory API object (item, location, label, or
// statistics document) in its wire shape.
type Record = map[string]any

// NewClient validates the configuration and returns a ready client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("inventory: base_url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed == nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return nil, fmt.Errorf("inventory: invalid base_url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("inventory: base_url scheme must be http or https")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}

	return &Client{
		baseURL:  baseURL,
		client:   client,
		maxBytes: maxBytes,
	}, nil
}

// CreateItem creates an item (POST /api/v1/items).
func (c *Client) CreateItem(ctx context.Context, token string, fields Record) (Record, error) {
	return c.doObject(ctx, token, http.MethodPost, "/api/v1/items", "item", "", fields)
}

// UpdateItem updates an item in place (PUT /api/v1/items/{id}).
func (c *Client) UpdateItem(ctx context.Context, token, id string, fields Record) (Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("inventory: item id is required")
	}
	return c.doObject(ctx, token, http.MethodPut, "/api/v1/items/"+url.PathEscape(id), "item", id, fields)
}

// DeleteItem removes an item (DELETE /api/v1/items/{id}).
func (c *Client) DeleteItem(ctx context.Context, token, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("inventory: item id is required")
	}
	_, err := c.doRaw(ctx, token, http.MethodDelete, "/api/v1/items/"+url.PathEscape(id), "item", id, nil)
	return err
}

// GetItem fetches a single item (GET /api/v1/items/{id}).
func (c *Client) GetItem(ctx context.Context, token, id string) (Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("inventory: item id is required")
	}
	return c.doObject(ctx, token, http.MethodGet, "/api/v1/items/"+url.PathEscape(id), "item", id, nil)
}

// ListItems returns a page of items (GET /api/v1/items).
func (c *Client) ListItems(ctx context.Context, token string, page, pageSize int) ([]Record, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	return c.doList(ctx, token, "/api/v1/items", "items", q)
}

// SearchItems searches items by free text (GET /api/v1/items?q=...).
func (c *Client) SearchItems(ctx context.Context, token, query string, limit int) ([]Record, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("pageSize", strconv.Itoa(limit))
	}
	return c.doList(ctx, token, "/api/v1/items", "items", q)
}

// ListLocations returns all locations (GET /api/v1/locations).
func (c *Client) ListLocations(ctx context.Context, token string) ([]Record, error) {
	return c.doList(ctx, token, "/api/v1/locations", "locations", nil)
}

// GetLocation fetches one location with its contents (GET /api/v1/locations/{id}).
func (c *Client) GetLocation(ctx context.Context, token, id string) (Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("inventory: location id is required")
	}
	return c.doObject(ctx, token, http.MethodGet, "/api/v1/locations/"+url.PathEscape(id), "location", id, nil)
}

// ListLabels returns all labels (GET /api/v1/labels).
func (c *Client) ListLabels(ctx context.Context, token string) ([]Record, error) {
	return c.doList(ctx, token, "/api/v1/labels", "labels", nil)
}

// GetLabel fetches one label (GET /api/v1/labels/{id}).
func (c *Client) GetLabel(ctx context.Context, token, id string) (Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("inventory: label id is required")
	}
	return c.doObject(ctx, token, http.MethodGet, "/api/v1/labels/"+url.PathEscape(id), "label", id, nil)
}

// GroupStatistics returns aggregate counts for the caller's inventory
// (GET /api/v1/groups/statistics).
func (c *Client) GroupStatistics(ctx context.Context, token string) (Record, error) {
	return c.doObject(ctx, token, http.MethodGet, "/api/v1/groups/statistics", "statistics", "", nil)
}

// LocationStatistics returns per-location item and value totals
// (GET /api/v1/groups/statistics/locations).
func (c *Client) LocationStatistics(ctx context.Context, token string) ([]Record, error) {
	return c.doList(ctx, token, "/api/v1/groups/statistics/locations", "location statistics", nil)
}

// LabelStatistics returns per-label item and value totals
// (GET /api/v1/groups/statistics/labels).
func (c *Client) LabelStatistics(ctx context.Context, token string) ([]Record, error) {
	return c.doList(ctx, token, "/api/v1/groups/statistics/labels", "label statistics", nil)
}

func (c *Client) doObject(ctx context.Context, token, method, path, resource, id string, payload Record) (Record, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("inventory: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	data, err := c.doRaw(ctx, token, method, path, resource, id, body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return Record{}, nil
	}
	var out Record
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("inventory: decode %s response: %w", resource, err)
	}
	return out, nil
}

// doList handles both bare-array and {items:[...],total:N} paged
// response shapes.
func (c *Client) doList(ctx context.Context, token, path, resource string, query url.Values) ([]Record, error) {
	endpoint := path
	if len(query) > 0 {
		endpoint = path + "?" + query.Encode()
	}
	data, err := c.doRaw(ctx, token, http.MethodGet, endpoint, resource, "", nil)
	if err != nil {
		return nil, err
	}

	var list []Record
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var paged struct {
		Items []Record `json:"items"`
	}
	if err := json.Unmarshal(data, &paged); err != nil {
		return nil, fmt.Errorf("inventory: decode %s response: %w", resource, err)
	}
	return paged.Items, nil
}

func (c *Client) doRaw(ctx context.Context, token, method, path, resource, id string, body io.Reader) ([]byte, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("inventory: client not configured")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("inventory: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, &APIError{Status: resp.StatusCode, Message: "response too large"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return nil, statusError(resp.StatusCode, resource, id, msg)
	}
	return data, nil
}
